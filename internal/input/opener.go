// Package input implements the Input Opener: it turns a configured
// stream URL into a live, demuxed sequence of reference-counted packets.
// There is no cgo/libav binding in the retrieved example fleet, so —
// exactly like the reference's internal/muxer/ffmpeg.go, which already
// shells out to ffmpeg for one-shot segment muxing — demuxing is done by
// a persistent ffmpeg subprocess generalized to run for the lifetime of
// a session rather than a single call.
package input

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"nvrpipe/pkg/packet"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "input")

// ErrNoVideoStream is returned by Open when the source exposes no video
// stream at all; an NVR input without video is not useful.
var ErrNoVideoStream = errors.New("input: source has no video stream")

// DemuxError marks a Demuxed.Err that came from something other than
// the input pipe closing cleanly at end of stream. A Stream Thread treats
// it as unrecoverable and exits instead of reconnecting, mirroring how
// the original only retries on EOF/EAGAIN from av_read_frame and breaks
// out of its read loop on any other error.
type DemuxError struct {
	err error
}

// NewDemuxError wraps err as an unrecoverable demux error.
func NewDemuxError(err error) *DemuxError { return &DemuxError{err: err} }

func (e *DemuxError) Error() string { return e.err.Error() }
func (e *DemuxError) Unwrap() error { return e.err }

// streamProbe is the subset of ffprobe's JSON stream description this
// package needs to resolve stream indices and build Descriptors.
type streamProbe struct {
	Index      int    `json:"index"`
	CodecType  string `json:"codec_type"`
	CodecName  string `json:"codec_name"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	SampleRate string `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

type probeResult struct {
	Streams []streamProbe `json:"streams"`
}

// Resolved is the outcome of resolving a source's stream layout: the
// ffmpeg-relative indices to map, plus the Descriptors the rest of the
// pipeline needs. Both video and audio indices are re-resolved on every
// Open call — including reconnects — rather than cached, since a source
// can change its stream layout across a reconnect (§4.2, redesign flag).
type Resolved struct {
	HasVideo  bool
	VideoIdx  int
	Video     packet.Descriptor
	HasAudio  bool
	AudioIdx  int
	Audio     packet.Descriptor
}

// probe runs ffprobe against url and resolves its stream layout. It is
// always run fresh; callers must not cache the result across reconnects.
func probe(ctx context.Context, url string) (Resolved, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-of", "json",
		"-show_entries", "stream=index,codec_type,codec_name,width,height,sample_rate,channels",
		url,
	)
	out, err := cmd.Output()
	if err != nil {
		return Resolved{}, fmt.Errorf("input: probe %s: %w", url, err)
	}

	var pr probeResult
	if err := json.Unmarshal(out, &pr); err != nil {
		return Resolved{}, fmt.Errorf("input: parse probe output: %w", err)
	}

	var r Resolved
	for _, s := range pr.Streams {
		switch s.CodecType {
		case "video":
			if r.HasVideo {
				continue
			}
			r.HasVideo = true
			r.VideoIdx = s.Index
			r.Video = packet.Descriptor{
				StreamIndex: s.Index,
				Kind:        packet.KindVideo,
				Codec:       s.CodecName,
				Width:       s.Width,
				Height:      s.Height,
			}
		case "audio":
			if r.HasAudio {
				continue
			}
			r.HasAudio = true
			r.AudioIdx = s.Index
			r.Audio = packet.Descriptor{
				StreamIndex: s.Index,
				Kind:        packet.KindAudio,
				Codec:       s.CodecName,
				Channels:    s.Channels,
			}
		}
	}

	if !r.HasVideo {
		return Resolved{}, ErrNoVideoStream
	}
	return r, nil
}

// Session is one open demux session against a source. A session owns a
// single ffmpeg subprocess; callers read from Packets() until it closes,
// then discard the Session and Open a new one to reconnect.
type Session struct {
	Resolved Resolved

	cmd      *exec.Cmd
	videoPipe io.ReadCloser
	audioPipe *os.File

	out   chan Demuxed
	start time.Time
	wg    sync.WaitGroup
}

type Demuxed struct {
	Packet     *packet.Packet
	Descriptor *packet.Descriptor
	Err        error
}

// Open resolves the source's current stream layout and starts a demux
// session for it. recordAudio controls whether an audio pipe is even
// requested; sources without an audio track always yield HasAudio=false
// regardless of recordAudio.
func Open(ctx context.Context, url string, recordAudio bool) (*Session, error) {
	resolved, err := probe(ctx, url)
	if err != nil {
		return nil, err
	}
	if !recordAudio {
		resolved.HasAudio = false
	}

	args := []string{"-loglevel", "error", "-i", url,
		"-map", fmt.Sprintf("0:%d", resolved.VideoIdx), "-c:v", "copy", "-f", "h264", "pipe:1"}

	var audioRead *os.File
	var audioWrite *os.File
	if resolved.HasAudio {
		audioRead, audioWrite, err = os.Pipe()
		if err != nil {
			return nil, fmt.Errorf("input: allocate audio pipe: %w", err)
		}
		args = append(args, "-map", fmt.Sprintf("0:%d", resolved.AudioIdx), "-c:a", "copy", "-f", "adts", "pipe:3")
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	if audioWrite != nil {
		cmd.ExtraFiles = []*os.File{audioWrite}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("input: attach stdout pipe: %w", err)
	}
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("input: start ffmpeg: %w", err)
	}
	if audioWrite != nil {
		audioWrite.Close() // parent's copy; ffmpeg holds the inherited fd
	}

	s := &Session{
		Resolved:  resolved,
		cmd:       cmd,
		videoPipe: stdout,
		audioPipe: audioRead,
		out:       make(chan Demuxed, 32),
		start:     time.Now(),
	}

	s.wg.Add(1)
	go s.readVideo()
	if audioRead != nil {
		s.wg.Add(1)
		go s.readAudio()
	}
	go func() {
		s.wg.Wait()
		close(s.out)
	}()

	log.WithFields(logrus.Fields{"url": url, "has_audio": resolved.HasAudio}).Info("input session opened")
	return s, nil
}

// Packets returns the channel of demuxed packets. The channel closes
// when the underlying source is exhausted or the session is closed; a
// nil error on close just means end-of-stream, not failure.
func (s *Session) Packets() <-chan Demuxed {
	return s.out
}

// HasAudio reports whether this session resolved an audio track to
// demux, after recordAudio gating in Open.
func (s *Session) HasAudio() bool {
	return s.Resolved.HasAudio
}

func (s *Session) readVideo() {
	defer s.wg.Done()
	reader := bufio.NewReaderSize(s.videoPipe, 1<<20)
	var pending bytes.Buffer
	var units []nalUnit
	chunk := make([]byte, 64*1024)

	flush := func() {
		if len(units) == 0 {
			return
		}
		payload := joinAnnexB(units)
		key := containsKeyframe(units)
		pts := time.Since(s.start)
		pkt := packet.New(s.Resolved.VideoIdx, key, pts, pts, payload)
		desc := s.Resolved.Video
		s.out <- Demuxed{Packet: pkt, Descriptor: &desc}
		units = nil
	}

	for {
		n, err := reader.Read(chunk)
		if n > 0 {
			pending.Write(chunk[:n])
			newUnits := splitAnnexB(pending.Bytes())
			if len(newUnits) > 1 {
				// Keep the last (possibly incomplete) unit buffered; flush
				// access units that close out ahead of it.
				complete, tail := newUnits[:len(newUnits)-1], newUnits[len(newUnits)-1]
				for _, u := range complete {
					if len(units) > 0 && isAccessUnitBoundary(&units[len(units)-1], u.nalType()) {
						flush()
					}
					units = append(units, u)
				}
				pending.Reset()
				pending.Write(startCode4)
				pending.Write(tail.data)
			}
		}
		if err != nil {
			flush()
			if !errors.Is(err, io.EOF) {
				s.out <- Demuxed{Err: &DemuxError{fmt.Errorf("input: read video pipe: %w", err)}}
			}
			break
		}
	}
}

func (s *Session) readAudio() {
	defer s.wg.Done()
	reader := bufio.NewReaderSize(s.audioPipe, 64*1024)
	header := make([]byte, adtsHeaderLen)

	for {
		if _, err := io.ReadFull(reader, header); err != nil {
			return
		}
		frameLen := adtsFrameLen(header)
		if frameLen < adtsHeaderLen {
			return
		}
		payload := make([]byte, frameLen)
		copy(payload, header)
		if _, err := io.ReadFull(reader, payload[adtsHeaderLen:]); err != nil {
			return
		}
		pts := time.Since(s.start)
		pkt := packet.New(s.Resolved.AudioIdx, false, pts, pts, payload)
		desc := s.Resolved.Audio
		s.out <- Demuxed{Packet: pkt, Descriptor: &desc}
	}
}

// Close terminates the ffmpeg subprocess and releases the session's
// pipes. It does not close the Packets channel directly — that happens
// naturally once readVideo observes the pipe closing.
func (s *Session) Close() error {
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	if s.audioPipe != nil {
		s.audioPipe.Close()
	}
	return s.cmd.Wait()
}
