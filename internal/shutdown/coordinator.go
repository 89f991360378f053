// Package shutdown implements the process-wide Shutdown Coordinator: a
// registry of components with states and priorities that broadcasts
// shutdown and waits for acknowledgement in priority order.
package shutdown

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "shutdown")

// State is a Shutdown Component Record's lifecycle value.
type State string

const (
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
)

// Kind identifies what sort of component a record describes.
type Kind string

const (
	KindStreamThread Kind = "stream-thread"
	KindHLSWriter    Kind = "hls-writer"
	KindMP4Writer    Kind = "mp4-writer"
	KindDetectionPool Kind = "detection-pool"
)

// record is a Shutdown Component Record.
type record struct {
	id       string
	name     string
	kind     Kind
	priority int
	state    atomic.Value // State
}

// Coordinator is the process-wide Shutdown Coordinator.
type Coordinator struct {
	mu       sync.RWMutex
	records  map[string]*record
	initiated atomic.Bool
}

// New creates an empty Coordinator.
func New() *Coordinator {
	return &Coordinator{records: make(map[string]*record)}
}

// Register adds a component with the given priority (lower number stopped
// earlier) and returns its id. HLS writers register at the lowest priority
// so they continue flushing until all higher-priority producers have
// quiesced (§4.7).
func (c *Coordinator) Register(name string, kind Kind, priority int) string {
	id := uuid.NewString()
	r := &record{id: id, name: name, kind: kind, priority: priority}
	r.state.Store(StateRunning)

	c.mu.Lock()
	c.records[id] = r
	c.mu.Unlock()

	log.WithFields(logrus.Fields{"id": id, "name": name, "kind": kind, "priority": priority}).
		Debug("component registered")
	return id
}

// UpdateState sets the state of a registered component. Unknown ids are
// silently ignored, matching the reference's tolerance of late/duplicate
// teardown calls under racy shutdown.
func (c *Coordinator) UpdateState(id string, state State) {
	c.mu.RLock()
	r, ok := c.records[id]
	c.mu.RUnlock()
	if !ok {
		return
	}
	r.state.Store(state)
}

// IsShutdownInitiated reports whether InitiateShutdown has been called.
// Components poll this at the top of every loop iteration.
func (c *Coordinator) IsShutdownInitiated() bool {
	return c.initiated.Load()
}

// InitiateShutdown sets the process-wide shutdown flag. It is idempotent.
func (c *Coordinator) InitiateShutdown() {
	if c.initiated.CompareAndSwap(false, true) {
		log.Info("shutdown initiated")
	}
}

// WaitForAll blocks until every registered component reaches StateStopped,
// visiting priority tiers in ascending numeric order (lower numbers
// first, so the lowest-priority tier, the HLS writers, is waited for
// last), or until ctx is done. It returns the ids that never reached
// StateStopped in time.
func (c *Coordinator) WaitForAll(ctx context.Context, pollInterval time.Duration) []string {
	c.mu.RLock()
	tiers := make([]*record, 0, len(c.records))
	for _, r := range c.records {
		tiers = append(tiers, r)
	}
	c.mu.RUnlock()

	sort.Slice(tiers, func(i, j int) bool { return tiers[i].priority < tiers[j].priority })

	var pending []string
	for _, r := range tiers {
		if !c.waitOne(ctx, r, pollInterval) {
			pending = append(pending, r.id)
		}
	}
	return pending
}

func (c *Coordinator) waitOne(ctx context.Context, r *record, pollInterval time.Duration) bool {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if r.state.Load().(State) == StateStopped {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// Unregister removes a component's record entirely, once it has been fully
// torn down and nothing further needs to observe its state.
func (c *Coordinator) Unregister(id string) {
	c.mu.Lock()
	delete(c.records, id)
	c.mu.Unlock()
}
