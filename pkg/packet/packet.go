// Package packet defines the reference-counted media unit that flows from
// the demuxer through the ingest pipeline's fan-out paths.
package packet

import (
	"sync/atomic"
	"time"
)

// Kind distinguishes the elementary stream a packet belongs to.
type Kind uint8

const (
	KindVideo Kind = iota
	KindAudio
)

// Descriptor describes one elementary stream inside a container: its kind,
// codec, and time base. At most one video and one audio Descriptor are
// resolved per input by the ingest loop.
type Descriptor struct {
	StreamIndex int
	Kind        Kind
	Codec       string
	TimeBase    time.Duration // duration represented by one timestamp tick

	// Video-only.
	Width, Height int

	// Audio-only.
	SampleRate int
	Channels   int

	// Extra holds codec-specific out-of-band data (e.g. SPS/PPS, ASC).
	Extra []byte
}

// Packet is an opaque, immutable wire-format media unit once emitted by the
// demuxer. It is reference-counted: every consumer that wants to retain a
// packet beyond the call that handed it to them must call Clone, and every
// holder — including the original owner — must call Release exactly once.
// The backing payload is freed only when the count reaches zero.
type Packet struct {
	StreamIndex int
	KeyFrame    bool
	PTS         time.Duration
	DTS         time.Duration

	payload []byte
	refs    *int32
}

// New wraps payload in a freshly reference-counted Packet with one
// outstanding reference, owned by the caller.
func New(streamIndex int, keyFrame bool, pts, dts time.Duration, payload []byte) *Packet {
	refs := int32(1)
	return &Packet{
		StreamIndex: streamIndex,
		KeyFrame:    keyFrame,
		PTS:         pts,
		DTS:         dts,
		payload:     payload,
		refs:        &refs,
	}
}

// Payload returns the packet's backing bytes. Callers must not mutate the
// returned slice; packets are immutable once emitted.
func (p *Packet) Payload() []byte {
	if p == nil {
		return nil
	}
	return p.payload
}

// Len reports the payload size in bytes.
func (p *Packet) Len() int {
	if p == nil {
		return 0
	}
	return len(p.payload)
}

// Clone hands the caller a fresh, independently-released reference to the
// same underlying payload. It does not copy the backing bytes.
func (p *Packet) Clone() *Packet {
	if p == nil {
		return nil
	}
	atomic.AddInt32(p.refs, 1)
	clone := *p
	return &clone
}

// Release drops one reference. It is safe — and required — to call on every
// exit path of any loop body that obtained a reference, including the
// original holder. Calling it on a nil Packet is a no-op.
func (p *Packet) Release() {
	if p == nil {
		return
	}
	if atomic.AddInt32(p.refs, -1) == 0 {
		p.payload = nil
	}
}
