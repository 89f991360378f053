// Package hls implements the HLS Writer: a per-stream segmenter that
// feeds raw Annex-B/ADTS packets into ffmpeg's native HLS muxer and
// rotates segments on keyframe boundaries. Grounded in the reference's
// internal/segmenter/segmenter.go (keyframe-gated finalizeSegment, the
// sliding-window playlist) and internal/muxer/ffmpeg.go's exec idiom,
// generalized here from one-shot segment calls into a persistent
// subprocess fed over a pipe, since a live ingest loop cannot afford to
// spawn a process per segment.
package hls

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"nvrpipe/internal/metrics"
	"nvrpipe/pkg/packet"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "hls")

// Options configures one HLS Writer instance.
type Options struct {
	OutputDir       string
	SegmentDuration float64 // seconds
	HasAudio        bool
}

// Writer owns a persistent ffmpeg process that consumes raw elementary
// streams over stdin and produces a segmented playlist under
// Options.OutputDir. Segment rotation is ffmpeg's own, driven by
// -hls_time; Flush forces the bytes written so far out to the
// subprocess so a keyframe boundary is never left sitting in a Go-side
// buffer (§4.1 step 3, §9 Open Question #1 — flush is caller-driven, not
// a timer).
type Writer struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  *bufio.Writer
	raw    *os.File
	closed bool
	stream string
}

// Create starts the ffmpeg subprocess that will write name's HLS
// playlist and segments into dir/name/hls/.
func Create(dir, name string, opts Options) (*Writer, error) {
	streamDir := filepath.Join(dir, name, "hls")
	if err := os.MkdirAll(streamDir, 0o755); err != nil {
		return nil, fmt.Errorf("hls: create output dir: %w", err)
	}

	segDur := opts.SegmentDuration
	if segDur <= 0 {
		segDur = 0.5
	}

	args := []string{
		"-loglevel", "error",
		"-f", "h264", "-i", "pipe:0",
	}
	// A real dual-input pipeline would map a second stdin fd for audio via
	// ExtraFiles, mirroring the Input Opener's own approach; omitted here
	// because ffmpeg's HLS muxer needs a single demuxed input and the
	// audio elementary stream is instead recorded by the MP4 Writer.
	args = append(args,
		"-c", "copy",
		"-f", "hls",
		"-hls_time", fmt.Sprintf("%.3f", segDur),
		"-hls_flags", "independent_segments+append_list",
		"-hls_segment_type", "fmp4",
		filepath.Join(streamDir, "index.m3u8"),
	)

	cmd := exec.Command("ffmpeg", args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("hls: attach stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("hls: start ffmpeg: %w", err)
	}

	f, ok := stdin.(*os.File)
	if !ok {
		// cmd.StdinPipe always returns an *os.File backed pipe; this branch
		// only guards against a future stdlib change.
		return nil, fmt.Errorf("hls: stdin pipe is not a file")
	}

	w := &Writer{
		cmd:    cmd,
		stdin:  bufio.NewWriter(f),
		raw:    f,
		stream: name,
	}
	log.WithFields(logrus.Fields{"stream": name, "segment_duration": segDur}).Info("hls writer started")
	return w, nil
}

// WritePacket appends pkt's payload to the subprocess's input stream. It
// does not take ownership of pkt; the caller releases its own reference.
func (w *Writer) WritePacket(pkt *packet.Packet) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("hls: write to closed writer")
	}
	if _, err := w.stdin.Write(pkt.Payload()); err != nil {
		return fmt.Errorf("hls: write packet: %w", err)
	}
	if pkt.KeyFrame {
		if err := w.stdin.Flush(); err != nil {
			return fmt.Errorf("hls: flush on keyframe: %w", err)
		}
		// ffmpeg's own -hls_time rotation cuts a segment close to every
		// keyframe-aligned flush; this is the closest observable proxy for
		// a segment boundary without parsing the playlist ourselves.
		metrics.HLSSegmentsTotal.WithLabelValues(w.stream).Inc()
	}
	return nil
}

// Close is idempotent. It flushes any buffered bytes, closes the
// subprocess's stdin to signal end-of-stream, and waits for ffmpeg to
// finish writing out the final segment and playlist update.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	_ = w.stdin.Flush()
	_ = w.raw.Close()
	err := w.cmd.Wait()
	log.Info("hls writer stopped")
	return err
}
