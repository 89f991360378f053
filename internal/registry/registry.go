// Package registry is the Stream State Registry: a named lookup of stream
// handles, their immutable configuration snapshot, and their mutable
// runtime state. It replaces the reference's global stream table with an
// explicit object so tests can instantiate independent pipelines.
package registry

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"nvrpipe/config"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "registry")

// ErrStreamNotFound is returned by lookups against an unknown stream name.
var ErrStreamNotFound = errors.New("registry: stream not found")

// ErrAlreadyRegistered is returned by Register when a stream name already
// has a live entry, enforcing invariant 1 (exactly one Stream Thread per
// stream name).
var ErrAlreadyRegistered = errors.New("registry: stream already registered")

// LifecycleState is the Stream Runtime State's lifecycle value.
type LifecycleState string

const (
	StateIdle     LifecycleState = "idle"
	StateStarting LifecycleState = "starting"
	StateRunning  LifecycleState = "running"
	StateStopping LifecycleState = "stopping"
	StateStopped  LifecycleState = "stopped"
)

// RuntimeState is the mutable part of a registered stream. All fields are
// accessed through the owning Handle's methods, never directly, so that
// atomics and the state mutex stay consistent.
type RuntimeState struct {
	mu sync.RWMutex

	lifecycle LifecycleState

	running          atomic.Bool
	callbacksEnabled atomic.Bool

	lastKeyframe  atomic.Int64 // UnixNano; 0 == never
	lastDetection atomic.Int64 // UnixNano; 0 == never
}

// Handle is what the registry hands back for a registered stream: the
// immutable configuration snapshot plus a pointer to its runtime state.
// The Stream Thread holds on to its own Handle for its entire lifetime.
type Handle struct {
	Name   string
	State  *RuntimeState
	config atomic.Pointer[config.StreamConfiguration]
}

// Config returns the current configuration snapshot. Live edits (e.g. to
// record_audio) are visible to the next call without requiring the
// registry to restart the stream.
func (h *Handle) Config() *config.StreamConfiguration {
	return h.config.Load()
}

func (h *Handle) setConfig(cfg *config.StreamConfiguration) {
	h.config.Store(cfg)
}

// Lifecycle returns the current lifecycle state.
func (s *RuntimeState) Lifecycle() LifecycleState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lifecycle
}

func (s *RuntimeState) setLifecycle(v LifecycleState) {
	s.mu.Lock()
	s.lifecycle = v
	s.mu.Unlock()
}

// Running reports the atomic running flag. Readers see the current value
// without locking, per the concurrency model.
func (s *RuntimeState) Running() bool { return s.running.Load() }

// ClearRunning atomically clears the running flag, the primary loop-exit
// signal for the Stream Thread.
func (s *RuntimeState) ClearRunning() { s.running.Store(false) }

// CallbacksEnabled reports whether callbacks (fan-out to HLS/MP4/detection)
// are currently permitted for this stream.
func (s *RuntimeState) CallbacksEnabled() bool { return s.callbacksEnabled.Load() }

// SetCallbacksEnabled flips the independent callbacks-enabled flag, which
// permits a fast disable without tearing the Stream Thread down.
func (s *RuntimeState) SetCallbacksEnabled(v bool) { s.callbacksEnabled.Store(v) }

// IsStopping reports whether the lifecycle state is StateStopping.
func (s *RuntimeState) IsStopping() bool { return s.Lifecycle() == StateStopping }

// LastKeyframeTime returns the last time a video keyframe was observed, or
// the zero Time if none has been seen yet.
func (s *RuntimeState) LastKeyframeTime() time.Time {
	ns := s.lastKeyframe.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// UpdateKeyframeTime records now() as the last-keyframe timestamp. Called
// only by the owning Stream Thread; invariant 4 in §8 requires this value
// to increase monotonically. UnixNano is a wall-clock reading that can step
// backwards, so a reading at or below the stored value is replaced by the
// stored value plus one; with a single writer no CAS loop is needed.
func (s *RuntimeState) UpdateKeyframeTime() {
	now := time.Now().UnixNano()
	if prev := s.lastKeyframe.Load(); now <= prev {
		now = prev + 1
	}
	s.lastKeyframe.Store(now)
}

// LastDetectionTime returns the last time a detection task was
// successfully submitted for this stream.
func (s *RuntimeState) LastDetectionTime() time.Time {
	ns := s.lastDetection.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// UpdateLastDetectionTime records now() as the last successful detection
// submission time. Per invariant 4, callers must only invoke this after a
// submission actually succeeds.
func (s *RuntimeState) UpdateLastDetectionTime() {
	s.lastDetection.Store(time.Now().UnixNano())
}

// Registry is the Stream State Registry.
type Registry struct {
	mu      sync.RWMutex
	streams map[string]*Handle
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{streams: make(map[string]*Handle)}
}

// Register creates a new Handle for name with the given initial
// configuration. It fails if name is already registered, enforcing
// invariant 1.
func (r *Registry) Register(cfg *config.StreamConfiguration) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.streams[cfg.Name]; exists {
		return nil, ErrAlreadyRegistered
	}

	h := &Handle{
		Name: cfg.Name,
		State: &RuntimeState{
			lifecycle: StateIdle,
		},
	}
	h.setConfig(cfg)
	h.State.running.Store(true)
	h.State.callbacksEnabled.Store(true)

	r.streams[cfg.Name] = h
	log.WithField("stream", cfg.Name).Info("stream registered")
	return h, nil
}

// GetStreamByName returns the handle registered under name.
func (r *Registry) GetStreamByName(name string) (*Handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, exists := r.streams[name]
	if !exists {
		return nil, ErrStreamNotFound
	}
	return h, nil
}

// UpdateConfig replaces the configuration snapshot for a live stream,
// picking up out-of-scope API edits (e.g. a record_audio toggle) without
// restarting the Stream Thread.
func (r *Registry) UpdateConfig(name string, cfg *config.StreamConfiguration) error {
	h, err := r.GetStreamByName(name)
	if err != nil {
		return err
	}
	h.setConfig(cfg)
	return nil
}

// SetLifecycle transitions a stream's lifecycle state.
func (r *Registry) SetLifecycle(name string, state LifecycleState) error {
	h, err := r.GetStreamByName(name)
	if err != nil {
		return err
	}
	h.State.setLifecycle(state)
	return nil
}

// Unregister removes a stream's entry entirely. Called once the owning
// Stream Thread has fully torn down.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.streams, name)
	log.WithField("stream", name).Info("stream unregistered")
}

// Names returns a snapshot of all currently registered stream names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.streams))
	for name := range r.streams {
		names = append(names, name)
	}
	return names
}
