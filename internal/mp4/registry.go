package mp4

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"nvrpipe/internal/archive"
	"nvrpipe/internal/metrics"
	"nvrpipe/internal/registry"
	"nvrpipe/internal/shutdown"
)

// rotationInterval bounds how long a single continuous recording file
// grows before a session is cut and a new one opened, keeping individual
// files small enough to archive incrementally instead of only at
// shutdown.
const rotationInterval = time.Hour

// entry is one stream's recorder lifecycle plus what the Registry needs
// to stop its rotation loop.
type entry struct {
	ctrl       *Controller
	shutdownID string
	stop       chan struct{}
	done       chan struct{}
}

// Registry is the process-wide MP4 recorder lifecycle owner. It is the
// "external controller" a Stream Thread only ever borrows a read-only
// Writer reference from: Registry itself decides when a stream's
// recording starts, rotates, and stops, on its own schedule, entirely
// independent of whichever Stream Thread happens to be feeding it
// packets. This mirrors how the Stream State Registry decouples
// configuration and lifecycle from any single consumer.
type Registry struct {
	dir       string
	streams   *registry.Registry
	archiveBE archive.Backend
	coord     *shutdown.Coordinator

	mu      sync.Mutex
	entries map[string]*entry
}

// NewRegistry creates an MP4 Registry rooted at dir. archiveBackend may
// be nil, in which case finished recordings are left in place rather
// than moved to cold storage.
func NewRegistry(dir string, streams *registry.Registry, archiveBackend archive.Backend, coord *shutdown.Coordinator) *Registry {
	return &Registry{
		dir:       dir,
		streams:   streams,
		archiveBE: archiveBackend,
		coord:     coord,
		entries:   make(map[string]*entry),
	}
}

// Start opens the first recording session for name and begins its
// rotation loop, registering the stream's MP4 lifecycle with the
// Shutdown Coordinator under priority. It is independent of whatever
// priority the stream's own Stream Thread registered under.
func (r *Registry) Start(name string, hasAudio bool, priority int) error {
	ctrl := NewController(r.dir, name, hasAudio)
	if err := ctrl.Start(); err != nil {
		return err
	}
	metrics.MP4SessionsTotal.WithLabelValues(name).Inc()

	e := &entry{
		ctrl:       ctrl,
		shutdownID: r.coord.Register(name, shutdown.KindMP4Writer, priority),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}

	r.mu.Lock()
	r.entries[name] = e
	r.mu.Unlock()

	go r.rotateLoop(name, e)
	return nil
}

// Writer returns name's current session Writer, or nil if the stream
// has no active recorder. This is the only way internal/stream ever
// touches an MP4 session: a per-packet, read-only lookup by name, never
// a lifecycle call.
func (r *Registry) Writer(name string) *Writer {
	r.mu.Lock()
	e, ok := r.entries[name]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return e.ctrl.Writer()
}

// rotateLoop periodically cuts a fresh recording file once the current
// one has aged past rotationInterval, archiving the file it replaces.
// Before each rotation it re-reads the stream's live record_audio
// setting from the Stream State Registry, so a configuration edit
// eventually reaches a freshly-opened ffmpeg session — at the next
// rotation boundary, not instantaneously — without the owning Stream
// Thread being involved at all.
func (r *Registry) rotateLoop(name string, e *entry) {
	defer close(e.done)
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			if e.ctrl.Age() < rotationInterval {
				continue
			}
			if h, err := r.streams.GetStreamByName(name); err == nil {
				e.ctrl.SetAudioEnabled(h.Config().RecordAudio)
			}
			finished, err := e.ctrl.Rotate()
			if err != nil {
				log.WithError(err).WithField("stream", name).Warn("mp4 rotation failed")
			} else {
				metrics.MP4SessionsTotal.WithLabelValues(name).Inc()
			}
			r.archive(name, finished)
		}
	}
}

// archive hands a finalized recording off to the configured archive
// backend, if any.
func (r *Registry) archive(name, path string) {
	if path == "" || r.archiveBE == nil {
		return
	}
	key := filepath.Join(name, filepath.Base(path))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := r.archiveBE.Archive(ctx, key, path); err != nil {
		metrics.ArchiveUploadsTotal.WithLabelValues(name, "error").Inc()
		log.WithError(err).WithField("path", path).Warn("archive upload failed")
		return
	}
	metrics.ArchiveUploadsTotal.WithLabelValues(name, "ok").Inc()
}

// Stop closes name's recording session, archives the file it leaves
// behind, and marks its Shutdown Coordinator record stopped. It is a
// no-op for a stream that was never started or already stopped.
func (r *Registry) Stop(name string) {
	r.mu.Lock()
	e, ok := r.entries[name]
	if ok {
		delete(r.entries, name)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	close(e.stop)
	<-e.done

	finished, err := e.ctrl.Stop()
	if err != nil {
		log.WithError(err).WithField("stream", name).Warn("mp4 recorder close failed")
	}
	r.archive(name, finished)
	r.coord.UpdateState(e.shutdownID, shutdown.StateStopped)
}

// Close stops every currently running stream's recorder. Callers must
// invoke this before waiting on the Shutdown Coordinator, so every MP4
// writer record reaches StateStopped before WaitForAll polls for it.
func (r *Registry) Close() {
	r.mu.Lock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	r.mu.Unlock()

	for _, name := range names {
		r.Stop(name)
	}
}
