// Command disospeakerd is the speaker engine and RTP transmitter process:
// it multiplexes inbound decoder connections into per-track ring buffers,
// drives an audio backend (RTP, a subprocess pipe, or a raw file) via a
// real-time pull callback, and reports playback progress to a controlling
// server over stdio.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/richardk/disorder-audio-core/internal/audiobackend"
	"github.com/richardk/disorder-audio-core/internal/config"
	"github.com/richardk/disorder-audio-core/internal/control"
	"github.com/richardk/disorder-audio-core/internal/metrics"
	"github.com/richardk/disorder-audio-core/internal/metricsserver"
	"github.com/richardk/disorder-audio-core/internal/rtptransmit"
	"github.com/richardk/disorder-audio-core/internal/scheduler"
	"github.com/richardk/disorder-audio-core/internal/speaker"
	"github.com/richardk/disorder-audio-core/internal/wire"
)

// delayThreshold bounds how far ahead of schedule the RTP backend may run
// before the scheduler sleeps it back in line.
const delayThreshold = 20 * time.Millisecond

func main() {
	cfg, err := config.Load()
	if err != nil {
		if config.IsExit(err) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "disospeakerd: %v\n", err)
		os.Exit(2)
	}

	logger := slog.New(cfg.SlogHandler(os.Stderr))
	slog.SetDefault(logger)

	slog.Info("starting disospeakerd",
		"backend", cfg.Backend,
		"destination", cfg.Destination,
		"destination-mode", cfg.DestinationMode,
		"sample-rate", cfg.SampleRate,
		"channels", cfg.Channels,
	)

	format := audiobackend.Format{
		SampleRate:     cfg.SampleRate,
		Channels:       cfg.Channels,
		BytesPerSample: cfg.Bits / 8,
		Signed:         true,
		LittleEndian:   wire.HostLittleEndian,
	}

	backend, cleanup, transmitStats, err := buildBackend(cfg, format, logger)
	if err != nil {
		slog.Error("failed to build audio backend", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	engine := speaker.New(speaker.Config{
		Format:     format,
		ListenPath: cfg.ListenPath,
		ServerIn:   os.Stdin,
		ServerOut:  os.Stdout,
		Backend:    backend,
		Log:        logger,
	})

	collector := metrics.NewCollector(transmitStats, nil, nil, engine, time.Now())
	metricsSrv := metricsserver.New(cfg.MetricsAddr, collector, logger)
	go func() {
		if err := metricsSrv.Serve(); err != nil {
			slog.Error("metrics server failed", "error", err)
		}
	}()

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- engine.Run()
	}()

	ctrl, err := control.New(cfg.ControlPath, func() {
		slog.Info("exiting on control-channel stop command")
		os.Exit(0)
	}, logger)
	if err != nil {
		slog.Error("failed to create control channel", "error", err)
		os.Exit(1)
	}
	go ctrl.Serve()
	defer ctrl.Close()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		slog.Info("received shutdown signal", "signal", s.String())
		engine.Stop()
	case err := <-runErrCh:
		if err != nil {
			slog.Error("speaker engine exited with error", "error", err)
			shutdownMetrics(metricsSrv)
			os.Exit(1)
		}
	}

	shutdownMetrics(metricsSrv)
	slog.Info("disospeakerd stopped")
}

func shutdownMetrics(s *metricsserver.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		slog.Warn("metrics server shutdown error", "error", err)
	}
}

// buildBackend constructs the configured audio backend plus anything
// downstream needs: a cleanup func, and a metrics.TransmitStatsProvider
// (nil for non-RTP backends, which have nothing comparable to report).
func buildBackend(cfg *config.SpeakerConfig, format audiobackend.Format, log *slog.Logger) (speaker.Backend, func(), metrics.TransmitStatsProvider, error) {
	switch cfg.Backend {
	case "rtp":
		mode, err := resolveMode(cfg)
		if err != nil {
			return nil, nil, nil, err
		}
		transmitter, err := rtptransmit.New(rtptransmit.Config{
			Mode:          mode,
			Destination:   cfg.Destination,
			PayloadType:   cfg.PayloadType(),
			FrameSize:     format.FrameSize(),
			Channels:      cfg.Channels,
			MulticastTTL:  cfg.MulticastTTL,
			MulticastLoop: cfg.MulticastLoop,
		}, log)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("building rtp transmitter: %w", err)
		}
		sched := scheduler.New(cfg.SampleRate, uint32(cfg.Channels), delayThreshold)
		backend := audiobackend.NewRTPBackend(transmitter, sched, log)
		return backend, func() { transmitter.Close() }, transmitter, nil

	case "pipe":
		w, closeFn, err := openPipeTarget(cfg.PipePath)
		if err != nil {
			return nil, nil, nil, err
		}
		backend := audiobackend.NewPipeBackend(w, log)
		return backend, closeFn, nil, nil

	case "file":
		if cfg.DumpPath == "" {
			return nil, nil, nil, fmt.Errorf("backend=file requires -dump-path")
		}
		f, err := os.Create(cfg.DumpPath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("creating dump file %q: %w", cfg.DumpPath, err)
		}
		backend := audiobackend.NewFileBackend(f)
		return backend, func() {}, nil, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func resolveMode(cfg *config.SpeakerConfig) (rtptransmit.Mode, error) {
	if cfg.DestinationMode == "auto" {
		return rtptransmit.ResolveMode(cfg.Destination)
	}
	return rtptransmit.ParseMode(cfg.DestinationMode)
}

// openPipeTarget opens the pipe backend's write target: stdout if path is
// "-", otherwise a named pipe or regular file opened for writing.
func openPipeTarget(path string) (io.Writer, func(), error) {
	if path == "-" {
		return os.Stdout, func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening pipe target %q: %w", path, err)
	}
	return f, func() { f.Close() }, nil
}
