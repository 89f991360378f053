package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"nvrpipe/config"
	"nvrpipe/internal/archive"
	"nvrpipe/internal/detection"
	"nvrpipe/internal/metrics"
	"nvrpipe/internal/mp4"
	"nvrpipe/internal/registry"
	"nvrpipe/internal/shutdown"
	"nvrpipe/internal/stream"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "main")

// priorityMP4Writer is the Shutdown Coordinator priority the MP4
// Registry registers each stream's recorder under: it drains after the
// Stream Thread that feeds it packets (priority 10) but before the HLS
// writer (priority 90), matching the ordering the Stream Thread itself
// used before MP4 lifecycle moved out to this process-wide registry.
const priorityMP4Writer = 60

// loggingSink is the boundary to the out-of-scope detection model
// runtime: it accepts tasks and logs them (the dispatcher releases each
// task's packet once Run returns), standing in for whatever
// inference engine a full deployment would wire in here.
type loggingSink struct{}

func (loggingSink) Run(task detection.Task) {
	log.WithFields(logrus.Fields{
		"stream": task.StreamName,
		"model":  task.Model,
	}).Debug("detection task ready for inference (no runtime wired)")
}

func main() {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	log.Info("starting nvr ingest pipeline")

	cfg := config.Load()

	streamConfigs, err := config.LoadStreamConfigurations(cfg.StreamsConfigPath)
	if err != nil {
		log.WithError(err).Fatal("could not load stream configuration")
	}
	if len(streamConfigs) == 0 {
		log.Warn("no streams configured, process will idle")
	}

	var archiveBackend archive.Backend
	if cfg.ArchiveEnabled {
		if cfg.ArchiveBucket != "" {
			backend, err := archive.NewGCSBackend(context.Background(), cfg.ArchiveBucket, cfg.ArchiveProjectID)
			if err != nil {
				log.WithError(err).Fatal("could not initialize gcs archive backend")
			}
			archiveBackend = backend
			log.WithField("bucket", cfg.ArchiveBucket).Info("archive backend: gcs")
		} else {
			archiveBackend = archive.NewLocalBackend(cfg.ArchiveBaseDir)
			log.WithField("dir", cfg.ArchiveBaseDir).Info("archive backend: local")
		}
	}

	reg := registry.New()
	coordinator := shutdown.New()
	pool := detection.New(cfg.DetectionPoolSize, cfg.DetectionQueueSize, loggingSink{})
	mp4Registry := mp4.NewRegistry(cfg.BaseOutputDir, reg, archiveBackend, coordinator)

	ctx, cancel := context.WithCancel(context.Background())

	deps := stream.Deps{
		Registry:    reg,
		Coordinator: coordinator,
		Detection:   pool,
		MP4:         mp4Registry,
		BaseDir:     cfg.BaseOutputDir,
		Reconnect:   cfg.ReconnectSleep,
	}

	var wg sync.WaitGroup
	for _, sc := range streamConfigs {
		handle, err := reg.Register(sc)
		if err != nil {
			log.WithError(err).WithField("stream", sc.Name).Error("could not register stream")
			continue
		}
		if err := mp4Registry.Start(sc.Name, sc.RecordAudio, priorityMP4Writer); err != nil {
			log.WithError(err).WithField("stream", sc.Name).Warn("could not start mp4 recorder, continuing without recording")
		}
		th := stream.New(handle, deps, cfg.PrebufferCapacity)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := th.Run(ctx); err != nil {
				log.WithError(err).WithField("stream", handle.Name).Error("stream thread exited with error")
			}
		}()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	go func() {
		log.WithField("addr", cfg.MetricsAddr).Info("metrics listener starting")
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("metrics listener failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutdown signal received")

	shutdownStart := time.Now()
	coordinator.InitiateShutdown()
	cancel()
	wg.Wait()
	mp4Registry.Close()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 30*time.Second)
	pending := coordinator.WaitForAll(waitCtx, 200*time.Millisecond)
	waitCancel()
	if len(pending) > 0 {
		log.WithField("pending", pending).Warn("some components did not confirm shutdown in time")
	}

	pool.Close()
	metrics.ShutdownDurationSeconds.Observe(time.Since(shutdownStart).Seconds())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = metricsSrv.Shutdown(shutdownCtx)
	shutdownCancel()

	if archiveBackend != nil {
		_ = archiveBackend.Close()
	}

	log.Info("nvr ingest pipeline stopped")
}
