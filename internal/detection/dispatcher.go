// Package detection implements the Detection Dispatcher: a fixed-size
// worker pool shared across streams that performs keyframe-gated,
// non-blocking submission of inference work. No third-party worker-pool
// library appears in the retrieved example fleet, so the pool is a plain
// channel-and-goroutine implementation — a deliberate, justified stdlib
// component (see DESIGN.md). The dispatcher never interprets model output;
// it only hands tasks to an external Sink.
package detection

import (
	"errors"
	"sync"
	"sync/atomic"

	"nvrpipe/internal/metrics"
	"nvrpipe/pkg/packet"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "detection")

// ErrQueueFull is returned by Submit when the internal queue has no room.
var ErrQueueFull = errors.New("detection: queue full")

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("detection: pool closed")

// Task is a Detection Task: a stream name, a packet reference the task
// owns for its lifetime, and a reference to codec parameters.
type Task struct {
	ID          string
	StreamName  string
	Packet      *packet.Packet
	CodecParams *packet.Descriptor
	Model       string
	Threshold   float64
}

// Sink receives completed-or-not detection tasks; it is the boundary to
// the out-of-scope detection model runtime. The dispatcher does not care
// what the sink does with the task beyond running it to completion.
type Sink interface {
	Run(Task)
}

// Dispatcher is the fixed-size worker pool.
type Dispatcher struct {
	sink  Sink
	tasks chan Task

	workers int
	active  atomic.Int32
	closed  atomic.Bool

	wg sync.WaitGroup
}

// New starts a Dispatcher with the given fixed worker count and queue
// depth, draining tasks to sink.
func New(workers, queueSize int, sink Sink) *Dispatcher {
	d := &Dispatcher{
		sink:    sink,
		tasks:   make(chan Task, queueSize),
		workers: workers,
	}

	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}

	log.WithField("workers", workers).Info("detection dispatcher started")
	return d
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for task := range d.tasks {
		d.active.Add(1)
		metrics.DetectionPoolActive.Inc()
		d.sink.Run(task)
		task.Packet.Release()
		d.active.Add(-1)
		metrics.DetectionPoolActive.Dec()
	}
}

// Submit enqueues a task without blocking. It returns ErrQueueFull if the
// internal queue has no room, ErrPoolClosed after Close. The caller keeps
// ownership of task.Packet until Submit returns successfully; on success
// the dispatcher becomes responsible for releasing it.
func (d *Dispatcher) Submit(task Task) error {
	if d.closed.Load() {
		return ErrPoolClosed
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	select {
	case d.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// IsBusy reports whether every worker is currently running a task — the
// signal the Stream Thread consults on memory-constrained hosts before
// submitting (§4.1 step 6, §9).
func (d *Dispatcher) IsBusy() bool {
	return int(d.active.Load()) >= d.workers
}

// Close stops accepting new tasks and waits for in-flight tasks to drain.
func (d *Dispatcher) Close() {
	if !d.closed.CompareAndSwap(false, true) {
		return
	}
	close(d.tasks)
	d.wg.Wait()
	log.Info("detection dispatcher stopped")
}
