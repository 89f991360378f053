package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"nvrpipe/internal/registry"
	"nvrpipe/internal/shutdown"
)

func waitForCallCount(t *testing.T, o *fakeOpener, want int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if o.callCount() >= want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("opener.callCount() never reached %d (got %d)", want, o.callCount())
		case <-time.After(time.Millisecond):
		}
	}
}

func waitForRun(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("Run() never returned")
		return nil
	}
}

// TestRunReconnectsOnCleanInputEOF exercises the reconnect-forever loop
// (§7 "Transient input"): a session ending cleanly (EOF-equivalent
// channel close) makes Run reopen the input and keep going, rather than
// exiting the Thread.
func TestRunReconnectsOnCleanInputEOF(t *testing.T) {
	session1 := newFakeInput(false)
	session2 := newFakeInput(false)
	opener := newFakeOpener(openStep{session: session1}, openStep{session: session2})

	deps := Deps{
		Registry:    registry.New(),
		Coordinator: shutdown.New(),
		BaseDir:     t.TempDir(),
		Reconnect:   time.Millisecond,
		Open:        opener.open,
	}
	th := newTestThread(t, testConfig("front-door"), deps)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- th.Run(ctx) }()

	session1.endCleanly()
	waitForCallCount(t, opener, 2)

	cancel()
	if err := waitForRun(t, done); err != nil {
		t.Fatalf("Run() = %v, want nil after a clean reconnect and shutdown", err)
	}
}

// TestRunExitsOnUnrecoverableInputError exercises the other half of §7's
// split: a *input.DemuxError must make Run exit the Thread cleanly
// without ever trying to reconnect.
func TestRunExitsOnUnrecoverableInputError(t *testing.T) {
	session1 := newFakeInput(false)
	opener := newFakeOpener(openStep{session: session1})

	deps := Deps{
		Registry:    registry.New(),
		Coordinator: shutdown.New(),
		BaseDir:     t.TempDir(),
		Reconnect:   time.Millisecond,
		Open:        opener.open,
	}
	th := newTestThread(t, testConfig("front-door"), deps)

	done := make(chan error, 1)
	go func() { done <- th.Run(context.Background()) }()

	session1.endWithFatalError(errors.New("bitstream corrupt"))
	if err := waitForRun(t, done); err != nil {
		t.Fatalf("Run() = %v, want nil on an unrecoverable input error", err)
	}
	if got := opener.callCount(); got != 1 {
		t.Fatalf("opener.callCount() = %d, want 1 (no reconnect attempt)", got)
	}
}

// TestRunReturnsErrorOnStartupOpenFailure covers the fatal-startup half
// of the startup-vs-reconnect split: the very first Open call failing
// must return an error from Run immediately, with no reconnect attempt.
func TestRunReturnsErrorOnStartupOpenFailure(t *testing.T) {
	opener := newFakeOpener(openStep{err: errors.New("connection refused")})

	deps := Deps{
		Registry:    registry.New(),
		Coordinator: shutdown.New(),
		BaseDir:     t.TempDir(),
		Reconnect:   time.Millisecond,
		Open:        opener.open,
	}
	th := newTestThread(t, testConfig("front-door"), deps)

	err := th.Run(context.Background())
	if err == nil {
		t.Fatalf("Run() = nil, want an error when the initial input open fails")
	}
	if got := opener.callCount(); got != 1 {
		t.Fatalf("opener.callCount() = %d, want 1 (no reconnect attempt after a fatal startup failure)", got)
	}
}
