package mp4

import (
	"testing"
	"time"
)

func TestControllerWriterBeforeStartIsNil(t *testing.T) {
	c := NewController(t.TempDir(), "front-door", false)

	if w := c.Writer(); w != nil {
		t.Fatalf("Writer() before Start() = %v, want nil", w)
	}
	if c.Running() {
		t.Fatalf("Running() = true before Start()")
	}
}

func TestControllerSetAudioEnabledDoesNotAffectRunningSession(t *testing.T) {
	requireFFmpeg(t)

	c := NewController(t.TempDir(), "front-door", false)
	if err := c.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer c.Stop()

	w := c.Writer()
	if w == nil {
		t.Fatalf("Writer() = nil after Start()")
	}
	c.SetAudioEnabled(true)
	if c.Writer() != w {
		t.Fatalf("Writer() changed after SetAudioEnabled, want the same in-flight session")
	}
}

func TestControllerAgeZeroWhenStopped(t *testing.T) {
	c := NewController(t.TempDir(), "front-door", false)
	if got := c.Age(); got != 0 {
		t.Fatalf("Age() = %v, want 0 when no session is active", got)
	}
}

func TestControllerStopWithoutStartReturnsEmptyPath(t *testing.T) {
	c := NewController(t.TempDir(), "front-door", false)
	path, err := c.Stop()
	if err != nil {
		t.Fatalf("Stop() err = %v, want nil", err)
	}
	if path != "" {
		t.Fatalf("Stop() path = %q, want empty", path)
	}
}

func TestControllerStartTwiceIsIdempotent(t *testing.T) {
	requireFFmpeg(t)

	c := NewController(t.TempDir(), "front-door", false)
	if err := c.Start(); err != nil {
		t.Fatalf("first Start() failed: %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("second Start() failed: %v", err)
	}
	if _, err := c.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
}

func TestControllerRotateReturnsFinishedPath(t *testing.T) {
	requireFFmpeg(t)

	c := NewController(t.TempDir(), "front-door", false)
	if err := c.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	finished, err := c.Rotate()
	if err != nil {
		t.Fatalf("Rotate() failed: %v", err)
	}
	if finished == "" {
		t.Fatalf("Rotate() returned empty finished path")
	}
	if !c.Running() {
		t.Fatalf("Running() = false after Rotate(), want true")
	}
	if _, err := c.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
}

func TestControllerAgeTracksCurrentSession(t *testing.T) {
	requireFFmpeg(t)

	c := NewController(t.TempDir(), "front-door", false)
	if err := c.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer c.Stop()

	time.Sleep(time.Millisecond)
	if got := c.Age(); got <= 0 {
		t.Fatalf("Age() = %v, want > 0 once a session is running", got)
	}
}
