// Package mp4 implements the MP4 Writer: continuous per-session
// recording to a fragmented MP4 file, with an externally-controlled
// start/stop lifecycle independent of the Stream Thread's own loop. A
// Stream Thread only ever borrows a packet reference to hand to the
// currently active Writer; it never owns the Writer's lifecycle.
// Grounded in the reference's internal/muxer/ffmpeg.go exec idiom and
// AVCC/Annex-B helpers, generalized to a persistent dual-input
// subprocess the same way the Input Opener generalizes its own demux
// process (internal/input/opener.go) — audio again arrives over an
// inherited pipe via cmd.ExtraFiles rather than a second stdin.
package mp4

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"nvrpipe/pkg/packet"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "mp4")

// Writer owns one continuous recording session: a single output file and
// the ffmpeg subprocess muxing into it.
type Writer struct {
	mu        sync.Mutex
	cmd       *exec.Cmd
	videoIn   *bufio.Writer
	videoRaw  *os.File
	audioRaw  *os.File
	hasAudio  bool
	path      string
	closed    bool
	startedAt time.Time
}

// Create starts a new recording session writing to dir/name/mp4/<ts>.mp4.
// hasAudio controls whether a second input pipe is wired for audio;
// callers that never call WriteAudio on a hasAudio=false Writer are fine,
// but the reverse produces an incomplete file.
func Create(dir, name string, hasAudio bool) (*Writer, error) {
	streamDir := filepath.Join(dir, name, "mp4")
	if err := os.MkdirAll(streamDir, 0o755); err != nil {
		return nil, fmt.Errorf("mp4: create output dir: %w", err)
	}

	path := filepath.Join(streamDir, fmt.Sprintf("%d.mp4", time.Now().UnixNano()))

	args := []string{"-loglevel", "error", "-f", "h264", "-i", "pipe:0"}

	var audioRead, audioWrite *os.File
	var err error
	if hasAudio {
		audioRead, audioWrite, err = os.Pipe()
		if err != nil {
			return nil, fmt.Errorf("mp4: allocate audio pipe: %w", err)
		}
		args = append(args, "-f", "adts", "-i", "pipe:3", "-map", "0:v:0", "-map", "1:a:0")
	}

	args = append(args,
		"-c", "copy",
		"-movflags", "+frag_keyframe+empty_moov+default_base_moof",
		"-f", "mp4",
		path,
	)

	cmd := exec.Command("ffmpeg", args...)
	if audioWrite != nil {
		cmd.ExtraFiles = []*os.File{audioWrite}
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("mp4: attach stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("mp4: start ffmpeg: %w", err)
	}
	if audioWrite != nil {
		audioWrite.Close()
	}

	f, ok := stdin.(*os.File)
	if !ok {
		return nil, fmt.Errorf("mp4: stdin pipe is not a file")
	}

	w := &Writer{
		cmd:       cmd,
		videoIn:   bufio.NewWriter(f),
		videoRaw:  f,
		audioRaw:  audioRead,
		hasAudio:  hasAudio,
		path:      path,
		startedAt: time.Now(),
	}
	log.WithFields(logrus.Fields{"stream": name, "path": path, "has_audio": hasAudio}).Info("mp4 writer started")
	return w, nil
}

// WriteVideo appends a video packet. Fragmented MP4 tolerates a session
// that does not begin on a keyframe; ffmpeg's muxer will simply emit a
// shorter first fragment.
func (w *Writer) WriteVideo(pkt *packet.Packet) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("mp4: write to closed writer")
	}
	if _, err := w.videoIn.Write(pkt.Payload()); err != nil {
		return fmt.Errorf("mp4: write video packet: %w", err)
	}
	if pkt.KeyFrame {
		if err := w.videoIn.Flush(); err != nil {
			return fmt.Errorf("mp4: flush on keyframe: %w", err)
		}
	}
	return nil
}

// WriteAudio appends an audio packet. It is a no-op error on a Writer
// created with hasAudio=false.
func (w *Writer) WriteAudio(pkt *packet.Packet) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("mp4: write to closed writer")
	}
	if !w.hasAudio || w.audioRaw == nil {
		return fmt.Errorf("mp4: writer has no audio pipe")
	}
	if _, err := w.audioRaw.Write(pkt.Payload()); err != nil {
		return fmt.Errorf("mp4: write audio packet: %w", err)
	}
	return nil
}

// Path returns the output file path for this session.
func (w *Writer) Path() string {
	return w.path
}

// Age reports how long this session has been recording.
func (w *Writer) Age() time.Duration {
	return time.Since(w.startedAt)
}

// Close is idempotent; it finalizes the current file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	_ = w.videoIn.Flush()
	_ = w.videoRaw.Close()
	if w.audioRaw != nil {
		_ = w.audioRaw.Close()
	}
	err := w.cmd.Wait()
	log.WithField("path", w.path).Info("mp4 writer stopped")
	return err
}
