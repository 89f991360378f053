package stream

import (
	"context"
	"sync"

	"nvrpipe/internal/input"
)

// fakeInput is a scripted stand-in for an open input.Session: production
// code only ever talks to a session through the inputSession interface,
// so Run's reconnect loop can be driven deterministically without a real
// ffmpeg subprocess or camera.
type fakeInput struct {
	hasAudio bool

	mu     sync.Mutex
	out    chan input.Demuxed
	closed bool
}

func newFakeInput(hasAudio bool) *fakeInput {
	return &fakeInput{hasAudio: hasAudio, out: make(chan input.Demuxed, 8)}
}

func (f *fakeInput) Packets() <-chan input.Demuxed { return f.out }
func (f *fakeInput) HasAudio() bool                { return f.hasAudio }

func (f *fakeInput) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.out)
	}
	return nil
}

// endCleanly simulates the input pipe reaching end-of-stream: the
// channel just closes, with no error value, which Run treats as a
// transient, reconnect-worthy ending.
func (f *fakeInput) endCleanly() { f.Close() }

// endWithTransientError simulates a session ending with an error that
// isn't a *input.DemuxError: also reconnect-worthy.
func (f *fakeInput) endWithTransientError(err error) {
	f.out <- input.Demuxed{Err: err}
}

// endWithFatalError simulates a genuinely unrecoverable demux error:
// Run must exit the Thread instead of reconnecting.
func (f *fakeInput) endWithFatalError(err error) {
	f.out <- input.Demuxed{Err: input.NewDemuxError(err)}
}

// fakeOpener hands out pre-scripted sessions and errors, one per call,
// letting a test drive a precise sequence of initial-open/reconnect
// attempts through Deps.Open.
type fakeOpener struct {
	mu    sync.Mutex
	calls int
	steps []openStep
}

type openStep struct {
	session *fakeInput
	err     error
}

func newFakeOpener(steps ...openStep) *fakeOpener {
	return &fakeOpener{steps: steps}
}

func (o *fakeOpener) callCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

// open implements the stream package's opener function type.
func (o *fakeOpener) open(ctx context.Context, url string, recordAudio bool) (inputSession, error) {
	o.mu.Lock()
	if o.calls >= len(o.steps) {
		o.mu.Unlock()
		// The script ran out: block until the caller gives up, rather than
		// returning an error that would spin the reconnect loop forever.
		<-ctx.Done()
		return nil, ctx.Err()
	}
	step := o.steps[o.calls]
	o.calls++
	o.mu.Unlock()

	if step.err != nil {
		return nil, step.err
	}
	return step.session, nil
}
