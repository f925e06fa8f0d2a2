package config

import (
	"log/slog"
	"os"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	for _, env := range []string{
		"DISORDER_LISTEN", "DISORDER_CONTROL", "DISORDER_DESTINATION",
		"DISORDER_DESTINATION_MODE", "DISORDER_BACKEND", "DISORDER_DEBUG",
		"DISORDER_LOG_FORMAT", "DISORDER_METRICS_ADDR", "DISORDER_LISTEN_ADDR",
	} {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}
}

func TestSpeakerDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadArgs(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SampleRate != 44100 {
		t.Errorf("SampleRate = %d, want 44100", cfg.SampleRate)
	}
	if cfg.Channels != 2 {
		t.Errorf("Channels = %d, want 2", cfg.Channels)
	}
	if cfg.PayloadType() != 10 {
		t.Errorf("PayloadType() = %d, want 10", cfg.PayloadType())
	}
	if cfg.DestinationMode != "auto" {
		t.Errorf("DestinationMode = %q, want auto", cfg.DestinationMode)
	}
	if cfg.Backend != "rtp" {
		t.Errorf("Backend = %q, want rtp", cfg.Backend)
	}
}

func TestSpeakerMonoPayloadType(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadArgs([]string{"--channels", "1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.PayloadType() != 11 {
		t.Errorf("PayloadType() = %d, want 11", cfg.PayloadType())
	}
}

func TestSpeakerEnvVarOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("DISORDER_DESTINATION", "239.1.2.3:5004")
	t.Setenv("DISORDER_DESTINATION_MODE", "multicast")

	cfg, err := LoadArgs(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Destination != "239.1.2.3:5004" {
		t.Errorf("Destination = %q, want 239.1.2.3:5004", cfg.Destination)
	}
	if cfg.DestinationMode != "multicast" {
		t.Errorf("DestinationMode = %q, want multicast", cfg.DestinationMode)
	}
}

func TestSpeakerCLIOverridesEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("DISORDER_DESTINATION_MODE", "multicast")

	cfg, err := LoadArgs([]string{"--destination-mode", "unicast", "--destination", "127.0.0.1:6000"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DestinationMode != "unicast" {
		t.Errorf("DestinationMode = %q, want unicast (CLI should override env)", cfg.DestinationMode)
	}
}

func TestSpeakerRejectsInvalidDestinationMode(t *testing.T) {
	clearEnv(t)
	_, err := LoadArgs([]string{"--destination-mode", "bogus"})
	if err == nil {
		t.Fatal("expected error for invalid destination-mode, got nil")
	}
}

func TestSpeakerRejectsMalformedDestination(t *testing.T) {
	clearEnv(t)
	_, err := LoadArgs([]string{"--destination-mode", "unicast", "--destination", "not-a-host-port"})
	if err == nil {
		t.Fatal("expected error for malformed destination, got nil")
	}
}

func TestSpeakerRejectsUnsupportedChannelCount(t *testing.T) {
	clearEnv(t)
	_, err := LoadArgs([]string{"--channels", "6"})
	if err == nil {
		t.Fatal("expected error for unsupported channel count, got nil")
	}
}

func TestPlayerDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadPlayerArgs(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Readahead != 500*time.Millisecond {
		t.Errorf("Readahead = %v, want 500ms", cfg.Readahead)
	}
	if cfg.MinBuffer != 200*time.Millisecond {
		t.Errorf("MinBuffer = %v, want 200ms", cfg.MinBuffer)
	}
	if cfg.MaxBuffer != 4*cfg.Readahead {
		t.Errorf("MaxBuffer = %v, want %v (4x readahead default)", cfg.MaxBuffer, 4*cfg.Readahead)
	}
}

func TestPlayerRejectsInvalidListenAddr(t *testing.T) {
	clearEnv(t)
	_, err := LoadPlayerArgs([]string{"--listen-addr", "not-a-host-port"})
	if err == nil {
		t.Fatal("expected error for invalid listen-addr, got nil")
	}
}

func TestPlayerRejectsMaxBufferBelowReadahead(t *testing.T) {
	clearEnv(t)
	_, err := LoadPlayerArgs([]string{"--readahead", "1s", "--maxbuffer", "500ms"})
	if err == nil {
		t.Fatal("expected error when maxbuffer < readahead, got nil")
	}
}

func TestCommonSlogLevel(t *testing.T) {
	tests := []struct {
		debug bool
		want  slog.Level
	}{
		{false, slog.LevelInfo},
		{true, slog.LevelDebug},
	}
	for _, tt := range tests {
		c := &Common{Debug: tt.debug}
		if got := c.SlogLevel(); got != tt.want {
			t.Errorf("Debug=%v: SlogLevel() = %v, want %v", tt.debug, got, tt.want)
		}
	}
}

func TestVersionFlagSignalsExit(t *testing.T) {
	clearEnv(t)
	_, err := LoadArgs([]string{"--version"})
	if err != errExit {
		t.Fatalf("--version error = %v, want errExit", err)
	}
}
