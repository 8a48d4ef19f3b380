package campaign

import (
	"sync"
	"time"

	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/clock"
)

// Worker drives Manager.Reconcile: on every pending-document wake signal,
// and at least every idleTimeMs to tolerate a system-time jump without an
// intervening document update, per spec.md §4.G.
type Worker struct {
	manager  *Manager
	clk      *clock.Clock
	idleTime time.Duration

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewWorker constructs a Worker that reconciles at least every idleTime.
func NewWorker(manager *Manager, clk *clock.Clock, idleTime time.Duration) *Worker {
	return &Worker{
		manager:  manager,
		clk:      clk,
		idleTime: idleTime,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the reconcile loop on its own goroutine.
func (w *Worker) Start() {
	go w.loop()
}

// Stop signals the loop to exit and waits for it to do so.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.done
}

func (w *Worker) loop() {
	defer close(w.done)

	ticker := time.NewTicker(w.idleTime)
	defer ticker.Stop()
	for {
		select {
		case <-w.manager.wake:
			w.manager.Reconcile(w.clk.Now())
		case <-ticker.C:
			w.manager.Reconcile(w.clk.Now())
		case <-w.stop:
			return
		}
	}
}
