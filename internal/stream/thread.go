// Package stream implements the Stream Thread: the per-stream
// orchestrator that owns one input session and fans its packets out to
// the HLS Writer, the MP4 recorder, the Pre-buffer, and the Detection
// Dispatcher. Exactly one Thread runs per configured stream name,
// mirroring the one-goroutine-per-camera idiom seen across the example
// fleet's worker-registry patterns, generalized here around the
// reference's per-stream state machine (pkg/models/stream.go) instead of
// a push-based RTMP publish/subscribe model.
package stream

import (
	"context"
	"errors"
	"time"

	"nvrpipe/config"
	"nvrpipe/internal/detection"
	"nvrpipe/internal/hls"
	"nvrpipe/internal/input"
	"nvrpipe/internal/metrics"
	"nvrpipe/internal/mp4"
	"nvrpipe/internal/prebuffer"
	"nvrpipe/internal/registry"
	"nvrpipe/internal/shutdown"
	"nvrpipe/internal/sysinfo"
	"nvrpipe/pkg/packet"

	"github.com/sirupsen/logrus"
)

// Priorities at which a stream's components register with the Shutdown
// Coordinator. Lower stops first: the thread itself stops producing
// before its writers are asked to finish flushing. The MP4 recorder
// registers under its own priority directly with the MP4 Registry, not
// through the Thread.
const (
	priorityStreamThread = 10
	priorityHLSWriter    = 90
)

// MP4Lookup is the narrow read-only interface a Thread uses to fetch
// the stream's current MP4 session writer. It deliberately exposes
// nothing else: Start, Stop, and Rotate belong to whatever external
// controller implements it, never to the Thread that calls Writer.
type MP4Lookup interface {
	Writer(name string) *mp4.Writer
}

// inputSession is the narrow interface Run needs from an open input
// session. *input.Session satisfies it; tests substitute a fake to
// drive the reconnect loop without a real ffmpeg subprocess.
type inputSession interface {
	Packets() <-chan input.Demuxed
	HasAudio() bool
	Close() error
}

// opener opens a new input session for url. Production code always uses
// input.Open; tests substitute a scripted fake through Deps.Open.
type opener func(ctx context.Context, url string, recordAudio bool) (inputSession, error)

func defaultOpener(ctx context.Context, url string, recordAudio bool) (inputSession, error) {
	return input.Open(ctx, url, recordAudio)
}

// Deps bundles the process-wide collaborators a Thread is wired against.
type Deps struct {
	Registry    *registry.Registry
	Coordinator *shutdown.Coordinator
	Detection   *detection.Dispatcher
	MP4         MP4Lookup
	BaseDir     string
	Reconnect   time.Duration

	// Open overrides how a new input session is opened; nil uses
	// input.Open. Only tests set this.
	Open opener
}

// Thread is one running Stream Thread. It never caches a configuration
// snapshot across packets: every per-packet decision re-reads
// t.handle.Config() so that a live edit through the Stream State Registry
// (e.g. an audio or detection toggle) takes effect on the next packet
// rather than requiring the Thread to restart. Turning record_audio on is
// the exception: an input session only demuxes audio if record_audio was
// set when it was opened, so audio packets start arriving only after the
// next reconnect.
type Thread struct {
	name string
	deps Deps

	handle *registry.Handle
	log    *logrus.Entry

	threadID string
	hlsID    string

	hlsWriter *hls.Writer
	prebuf    *prebuffer.Ring
}

// New constructs a Thread for a registered stream handle. It does not
// start the loop; call Run for that.
func New(handle *registry.Handle, deps Deps, prebufferCapacity int) *Thread {
	if deps.Open == nil {
		deps.Open = defaultOpener
	}
	return &Thread{
		name:   handle.Name,
		deps:   deps,
		handle: handle,
		log:    logrus.WithField("component", "stream").WithField("stream", handle.Name),
		prebuf: prebuffer.New(prebufferCapacity),
	}
}

// Run executes the startup sequence, the main ingest loop (with
// reconnect-on-error), and the teardown sequence. It blocks until ctx is
// cancelled, the shutdown coordinator's global flag is set, the stream
// enters the stopping state, the first input open fails (returning that
// error), or the input reports an unrecoverable demux error, and always
// runs teardown before returning.
func (t *Thread) Run(ctx context.Context) error {
	t.threadID = t.deps.Coordinator.Register(t.name, shutdown.KindStreamThread, priorityStreamThread)
	t.hlsID = t.deps.Coordinator.Register(t.name, shutdown.KindHLSWriter, priorityHLSWriter)
	defer t.teardown()

	t.deps.Registry.SetLifecycle(t.name, registry.StateStarting)
	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	cfg := t.handle.Config()

	// The first input.Open is a fatal startup step, not a reconnect
	// candidate: a URL that can't be opened at all, or a source exposing no
	// video track, means this stream never produced a frame, and the
	// Thread exits rather than retrying forever. Only a session that was
	// opened successfully at least once falls into the reconnect-forever
	// loop below.
	session, err := t.deps.Open(ctx, cfg.URL, cfg.RecordAudio)
	if err != nil {
		t.log.WithError(err).Error("input open failed, stream will not start")
		return err
	}

	t.hlsWriter, err = hls.Create(t.deps.BaseDir, t.name, hls.Options{
		SegmentDuration: cfg.SegmentDuration().Seconds(),
		HasAudio:        session.HasAudio(),
	})
	if err != nil {
		t.log.WithError(err).Warn("could not start hls writer, continuing without hls output")
	}

	t.deps.Registry.SetLifecycle(t.name, registry.StateRunning)

	for {
		if t.shuttingDown(ctx) {
			session.Close()
			return nil
		}

		reconnect := t.runSession(ctx, session)
		session.Close()

		if t.shuttingDown(ctx) {
			return nil
		}
		if !reconnect {
			t.log.Warn("stream thread exiting after unrecoverable input error")
			return nil
		}

		for {
			metrics.ReconnectsTotal.WithLabelValues(t.name).Inc()
			if t.sleepOrStop(ctx) {
				return nil
			}

			cfg = t.handle.Config()
			session, err = t.deps.Open(ctx, cfg.URL, cfg.RecordAudio)
			if err == nil {
				break
			}
			t.log.WithError(err).Warn("reconnect failed, will retry")
			// No retry cap: the Thread keeps trying to reconnect until
			// shutdown is requested, mirroring the initial-open/reconnect
			// asymmetry above — only startup failures are fatal.
		}
	}
}

// runSession drains one input session's packets until it ends, fanning
// each one out to every interested consumer. It reports whether the
// caller should reconnect: true for the input pipe closing cleanly (EOF)
// or a transient session error, false for a genuinely unrecoverable
// demux error, which the original treats as fatal rather than retrying
// (hls_stream_thread.c's non-EOF/EAGAIN av_read_frame handling).
func (t *Thread) runSession(ctx context.Context, session inputSession) (reconnect bool) {
	for {
		select {
		case <-ctx.Done():
			return true
		case d, ok := <-session.Packets():
			if !ok {
				return true
			}
			if d.Err != nil {
				var demuxErr *input.DemuxError
				if errors.As(d.Err, &demuxErr) {
					t.log.WithError(demuxErr).Error("unrecoverable input error")
					return false
				}
				t.log.WithError(d.Err).Warn("input session ended")
				return true
			}
			if t.handle.State.IsStopping() || t.deps.Coordinator.IsShutdownInitiated() {
				d.Packet.Release()
				return true
			}
			t.dispatch(d.Packet, d.Descriptor)
		}
	}
}

func (t *Thread) dispatch(pkt *packet.Packet, desc *packet.Descriptor) {
	defer pkt.Release()

	kind := "audio"
	if desc.Kind == packet.KindVideo {
		kind = "video"
	}
	metrics.PacketsReceivedTotal.WithLabelValues(t.name, kind).Inc()

	if t.hlsWriter != nil {
		clone := pkt.Clone()
		if err := t.hlsWriter.WritePacket(clone); err != nil {
			t.log.WithError(err).Debug("hls write failed")
		}
		clone.Release()
	}

	// Re-read the live configuration on every packet rather than trusting a
	// snapshot cached at thread start, so a record_audio or detection
	// toggle made through the registry while this Thread is running takes
	// effect on the very next packet (for record_audio turned on, only once
	// the input session carries audio; see Thread).
	cfg := t.handle.Config()

	if t.deps.MP4 != nil {
		if w := t.deps.MP4.Writer(t.name); w != nil && (desc.Kind == packet.KindVideo || cfg.RecordAudio) {
			clone := pkt.Clone()
			var err error
			if desc.Kind == packet.KindVideo {
				err = w.WriteVideo(clone)
			} else {
				err = w.WriteAudio(clone)
			}
			if err != nil {
				t.log.WithError(err).Debug("mp4 write failed")
			}
			clone.Release()
		}
	}

	t.prebuf.Add(pkt.Clone(), desc)

	if desc.Kind != packet.KindVideo || !pkt.KeyFrame {
		return
	}
	metrics.KeyframesReceivedTotal.WithLabelValues(t.name).Inc()
	t.handle.State.UpdateKeyframeTime()

	t.maybeSubmitDetection(pkt, desc, cfg)
}

// maybeSubmitDetection applies the detection-enabled gate, the
// detection-interval cadence gate, and the memory-constrained admission
// heuristic (§9) before handing a cloned packet reference to the shared
// Detection Dispatcher. cfg is the caller's freshly re-read snapshot, not
// a value cached across packets.
func (t *Thread) maybeSubmitDetection(pkt *packet.Packet, desc *packet.Descriptor, cfg *config.StreamConfiguration) {
	if !cfg.DetectionBasedRecording || cfg.DetectionModel == "" || t.deps.Detection == nil {
		return
	}

	interval := cfg.DetectionInterval()
	last := t.handle.State.LastDetectionTime()
	if interval > 0 && !last.IsZero() && time.Since(last) < interval {
		return
	}

	if sysinfo.IsConstrained(cfg.MemoryConstrained) && t.deps.Detection.IsBusy() {
		metrics.DetectionDroppedTotal.WithLabelValues(t.name, "memory_constrained").Inc()
		return
	}

	clone := pkt.Clone()
	err := t.deps.Detection.Submit(detection.Task{
		StreamName:  t.name,
		Packet:      clone,
		CodecParams: desc,
		Model:       cfg.DetectionModel,
		Threshold:   cfg.DetectionThreshold,
	})
	if err != nil {
		clone.Release()
		metrics.DetectionDroppedTotal.WithLabelValues(t.name, "queue_full").Inc()
		return
	}
	metrics.DetectionSubmittedTotal.WithLabelValues(t.name).Inc()
	t.handle.State.UpdateLastDetectionTime()
}

func (t *Thread) shuttingDown(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	return t.deps.Coordinator.IsShutdownInitiated() || t.handle.State.IsStopping()
}

// sleepOrStop sleeps for the configured reconnect interval, returning
// early (true) if shutdown is requested mid-sleep. The sleep is a fixed
// duration with no retry cap or backoff — reconnect attempts continue
// indefinitely until the stream is explicitly stopped.
func (t *Thread) sleepOrStop(ctx context.Context) bool {
	timer := time.NewTimer(t.deps.Reconnect)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return t.shuttingDown(ctx)
	}
}

func (t *Thread) teardown() {
	t.deps.Registry.SetLifecycle(t.name, registry.StateStopping)
	t.deps.Coordinator.UpdateState(t.threadID, shutdown.StateStopping)

	if t.hlsWriter != nil {
		if err := t.hlsWriter.Close(); err != nil {
			t.log.WithError(err).Warn("hls writer close failed")
		}
	}
	t.deps.Coordinator.UpdateState(t.hlsID, shutdown.StateStopped)

	t.prebuf.Close()

	t.deps.Registry.SetLifecycle(t.name, registry.StateStopped)
	t.handle.State.ClearRunning()
	t.deps.Coordinator.UpdateState(t.threadID, shutdown.StateStopped)

	t.log.Info("stream thread stopped")
}
