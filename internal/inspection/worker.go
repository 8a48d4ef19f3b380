package inspection

import (
	"sync"
	"time"

	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/clock"
)

// Sink receives every Snapshot the engine emits, ready for the sender
// pipeline to chunk, compress, and publish.
type Sink interface {
	OnSnapshot(snap Snapshot)
}

// Worker drives Engine.EvaluateConditions and drains
// Engine.CollectNextDataToSend on a fixed poll interval, mirroring the
// lks.Worker/campaign.Worker ticker-driven scheduling model of spec.md §9.
// The engine's own returned wait hint only bounds latency for already-
// triggered conditions; evaluation itself still needs a steady poll since
// new samples can arrive at any time.
type Worker struct {
	engine   *Engine
	clk      *clock.Clock
	sink     Sink
	interval time.Duration

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewWorker constructs a Worker polling the engine every interval.
func NewWorker(engine *Engine, clk *clock.Clock, sink Sink, interval time.Duration) *Worker {
	return &Worker{
		engine:   engine,
		clk:      clk,
		sink:     sink,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the poll loop on its own goroutine.
func (w *Worker) Start() {
	go w.loop()
}

// Stop signals the poll loop to exit and waits for it to do so.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.done
}

func (w *Worker) loop() {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.tick()
		case <-w.stop:
			return
		}
	}
}

func (w *Worker) tick() {
	now := w.clk.Now()
	w.engine.EvaluateConditions(now)
	for {
		snap, _ := w.engine.CollectNextDataToSend(now)
		if snap == nil {
			return
		}
		w.sink.OnSnapshot(*snap)
	}
}
