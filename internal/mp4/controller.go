package mp4

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Controller is the externally-controlled recorder lifecycle: Start,
// Stop, and Rotate are driven by the process-wide Registry, never by a
// Stream Thread. A Stream Thread only ever reads the current session's
// Writer back out through Writer, to hand packets to per-call.
type Controller struct {
	mu       sync.Mutex
	dir      string
	name     string
	hasAudio bool
	current  *Writer
	running  atomic.Bool
}

// NewController creates a controller for stream name's recordings under
// dir. It starts in the stopped state; callers call Start to begin the
// first session.
func NewController(dir, name string, hasAudio bool) *Controller {
	return &Controller{dir: dir, name: name, hasAudio: hasAudio}
}

// Start begins a new recording session if one is not already running.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running.Load() {
		return nil
	}
	w, err := Create(c.dir, c.name, c.hasAudio)
	if err != nil {
		return fmt.Errorf("mp4: start recorder for %s: %w", c.name, err)
	}
	c.current = w
	c.running.Store(true)
	return nil
}

// Rotate closes the current session and opens a fresh one in its place,
// for continuous recording split across several files. It returns
// the path of the file that was just finalized, for archival.
func (c *Controller) Rotate() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var finished string
	if c.current != nil {
		finished = c.current.Path()
		_ = c.current.Close()
	}
	w, err := Create(c.dir, c.name, c.hasAudio)
	if err != nil {
		c.running.Store(false)
		return finished, fmt.Errorf("mp4: rotate recorder for %s: %w", c.name, err)
	}
	c.current = w
	c.running.Store(true)
	return finished, nil
}

// Stop closes the current session, if any, and leaves the controller
// stopped. It returns the path of the file that was just finalized, so
// callers can hand it to an archival backend; the path is empty if no
// session was running.
func (c *Controller) Stop() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running.Load() {
		return "", nil
	}
	c.running.Store(false)
	if c.current == nil {
		return "", nil
	}
	path := c.current.Path()
	err := c.current.Close()
	c.current = nil
	return path, err
}

// Running reports whether a session is currently active.
func (c *Controller) Running() bool {
	return c.running.Load()
}

// Age reports how long the current session has been recording, or 0 if
// no session is active.
func (c *Controller) Age() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return 0
	}
	return c.current.Age()
}

// Writer returns the current session's Writer, or nil if no session is
// active. This is the per-packet, read-only lookup a consumer performs
// instead of driving Start/Stop/Rotate itself.
func (c *Controller) Writer() *Writer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// SetAudioEnabled updates the audio-pipe flag the next session this
// controller opens (on Start or Rotate) will use. It does not touch an
// already-open ffmpeg subprocess — an in-progress session keeps
// whatever audio pipe it was created with until the next rotation.
func (c *Controller) SetAudioEnabled(v bool) {
	c.mu.Lock()
	c.hasAudio = v
	c.mu.Unlock()
}
