// Command disoplayrtp is the RTP receiver/player process: it reassembles
// incoming RTP packets into a timestamp-ordered jitter buffer and drains
// them into a local output backend, with buffering watermarks and silence
// infill for gaps.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/richardk/disorder-audio-core/internal/audiobackend"
	"github.com/richardk/disorder-audio-core/internal/config"
	"github.com/richardk/disorder-audio-core/internal/jitter"
	"github.com/richardk/disorder-audio-core/internal/metrics"
	"github.com/richardk/disorder-audio-core/internal/metricsserver"
	"github.com/richardk/disorder-audio-core/internal/rtpplay"
	"github.com/richardk/disorder-audio-core/internal/rtpreceive"
	"github.com/richardk/disorder-audio-core/internal/wire"
)

func main() {
	cfg, err := config.LoadPlayer()
	if err != nil {
		if config.IsExit(err) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "disoplayrtp: %v\n", err)
		os.Exit(2)
	}

	logger := slog.New(cfg.SlogHandler(os.Stderr))
	slog.SetDefault(logger)

	slog.Info("starting disoplayrtp",
		"listen-addr", cfg.ListenAddr,
		"readahead", cfg.Readahead,
		"minbuffer", cfg.MinBuffer,
		"maxbuffer", cfg.MaxBuffer,
	)

	format := audiobackend.Format{
		SampleRate:     cfg.SampleRate,
		Channels:       cfg.Channels,
		BytesPerSample: cfg.Bits / 8,
		Signed:         true,
		LittleEndian:   wire.HostLittleEndian,
	}

	var dump *rtpplay.CircularDump
	if cfg.DumpPath != "" {
		const dumpSeconds = 20
		capacity := int64(dumpSeconds) * int64(format.FrameSize()) * int64(cfg.SampleRate)
		dump, err = rtpplay.NewCircularDump(cfg.DumpPath, capacity)
		if err != nil {
			slog.Error("failed to create circular dump", "error", err)
			os.Exit(1)
		}
		defer dump.Close()
	}

	player := rtpplay.New(rtpplay.Config{
		Format:    format,
		Readahead: cfg.Readahead,
		MinBuffer: cfg.MinBuffer,
		MaxBuffer: cfg.MaxBuffer,
		Dump:      dump,
	}, jitter.NewSyncAllocator(), logger)

	backend := audiobackend.NewFileBackend(stdoutNopCloser{})
	if err := backend.Configure(format); err != nil {
		slog.Error("failed to configure output backend", "error", err)
		os.Exit(1)
	}
	if err := backend.Start(player.Pull); err != nil {
		slog.Error("failed to start output backend", "error", err)
		os.Exit(1)
	}
	if err := backend.Activate(); err != nil {
		slog.Error("failed to activate output backend", "error", err)
		os.Exit(1)
	}

	receiver, err := rtpreceive.New(cfg.ListenAddr, jitter.NewSyncAllocator(), player, logger)
	if err != nil {
		slog.Error("failed to bind receive socket", "error", err)
		os.Exit(1)
	}

	collector := metrics.NewCollector(nil, receiver, player, nil, time.Now())
	metricsSrv := metricsserver.New(cfg.MetricsAddr, collector, logger)
	go func() {
		if err := metricsSrv.Serve(); err != nil {
			slog.Error("metrics server failed", "error", err)
		}
	}()

	receiveDone := make(chan struct{})
	go func() {
		receiver.Run()
		close(receiveDone)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		slog.Info("received shutdown signal", "signal", s.String())
	case <-receiveDone:
		if err := receiver.Err(); err != nil {
			slog.Error("rtp receiver exited fatally", "error", err)
			shutdown(backend, player, receiver, metricsSrv)
			os.Exit(1)
		}
		slog.Warn("rtp receiver socket closed unexpectedly")
	}

	shutdown(backend, player, receiver, metricsSrv)
	slog.Info("disoplayrtp stopped")
}

func shutdown(backend *audiobackend.FileBackend, player *rtpplay.Player, receiver *rtpreceive.Receiver, metricsSrv *metricsserver.Server) {
	receiver.Close()
	player.Close()
	backend.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(ctx); err != nil {
		slog.Warn("metrics server shutdown error", "error", err)
	}
}

// stdoutNopCloser lets audiobackend.NewFileBackend (which takes ownership
// and closes its writer on Stop) drive the local sound API surface without
// closing the process's real stdout: disoplayrtp's decoded PCM output
// feeds an external player (e.g. piped into an aplay-like consumer) the
// same way the speaker engine's pipe backend feeds a subprocess.
type stdoutNopCloser struct{}

func (stdoutNopCloser) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (stdoutNopCloser) Close() error                { return nil }
