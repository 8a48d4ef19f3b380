package lks

import (
	"sync"
	"time"

	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/clock"
)

// Worker drives Inspector.Tick on a fixed interval, matching the "LKS
// inspector has its own worker" scheduling model of spec.md §9.
type Worker struct {
	inspector *Inspector
	clk       *clock.Clock
	interval  time.Duration

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewWorker constructs a Worker ticking Inspector.Tick every interval.
func NewWorker(inspector *Inspector, clk *clock.Clock, interval time.Duration) *Worker {
	return &Worker{
		inspector: inspector,
		clk:       clk,
		interval:  interval,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start runs the tick loop on its own goroutine.
func (w *Worker) Start() {
	go w.loop()
}

// Stop signals the tick loop to exit and waits for it to do so.
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
			w.inspector.Tick(w.clk.Now())
		case <-w.stop:
			return
		}
	}
}
