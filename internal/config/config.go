// Package config parses CLI flags and environment-variable overrides for
// both binaries this module builds: the speaker engine daemon and the
// RTP receiver/player daemon. Precedence is CLI flags > env vars > defaults,
// matching the teacher's convention exactly.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// envPrefix is the prefix for all environment variables this module reads.
const envPrefix = "DISORDER_"

// Common holds the configuration shared by both binaries: debug/syslog
// flags, the sample format triple, and the metrics/health HTTP listener.
type Common struct {
	Debug  bool
	Syslog bool

	// ConfigPath is accepted for interface compatibility with the
	// original CLI surface but its contents are never parsed here —
	// configuration-file parsing is explicitly out of scope; flags and
	// environment variables are the only supported sources.
	ConfigPath string

	SampleRate uint32
	Channels   uint8
	Bits       uint8

	MetricsAddr string
	LogFormat   string
}

// registerFlags wires the shared flags. Negation is expressed the Go flag
// package's normal way (-debug=false) rather than separate -no-debug/
// -no-syslog flags; -debug and -syslog alone are equivalent to the
// original CLI surface's "on" form.
func (c *Common) registerFlags(fs *flagSet) {
	fs.BoolVar(&c.Debug, "debug", false, "enable debug-level logging")
	fs.BoolVar(&c.Syslog, "syslog", false, "accepted for CLI compatibility; logs always go to the handler's writer, not syslog")
	fs.StringVar(&c.ConfigPath, "config", "", "path to a configuration file (accepted, not parsed)")
	fs.Uint32Var(&c.SampleRate, "sample-rate", 44100, "PCM sample rate in Hz")
	fs.Uint8Var(&c.Channels, "channels", 2, "PCM channel count (1 or 2)")
	fs.Uint8Var(&c.Bits, "bits", 16, "PCM sample width in bits (16 only is supported)")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", "127.0.0.1:9090", "listen address for /metrics and /healthz")
	fs.StringVar(&c.LogFormat, "log-format", "text", "log output format (text, json)")
}

func (c *Common) validate() error {
	if c.SampleRate == 0 {
		return fmt.Errorf("sample-rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels != 1 && c.Channels != 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", c.Channels)
	}
	if c.Bits != 16 {
		return fmt.Errorf("bits must be 16 (L16 is the only supported payload), got %d", c.Bits)
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)
	return nil
}

// PayloadType returns the RTP payload type (10 or 11) implied by Channels.
func (c *Common) PayloadType() uint8 {
	if c.Channels == 1 {
		return 11
	}
	return 10
}

// SlogHandler returns a slog.Handler in the configured text/json format at
// the debug-adjusted level, exactly as the teacher's config constructs one.
func (c *Common) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns slog.LevelDebug when Debug is set (or overridden via
// the DISORDER_DEBUG environment variable), else slog.LevelInfo.
func (c *Common) SlogLevel() slog.Level {
	if c.Debug {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// SpeakerConfig configures cmd/disospeakerd: the listen socket for decoder
// connections, the control channel, the RTP destination, and format.
type SpeakerConfig struct {
	Common

	ListenPath  string // unix socket decoder connections arrive on
	ControlPath string // unix socket for the stop/query control channel

	Destination     string // host:port, empty means request mode
	DestinationMode string // auto, broadcast, multicast, unicast, request

	MulticastTTL  int
	MulticastLoop bool

	Backend  string // rtp, pipe, file
	PipePath string // target for the pipe backend ("-" means stdout)
	DumpPath string // optional raw-PCM dump target for the file backend
}

// Load parses os.Args for the speaker daemon.
func Load() (*SpeakerConfig, error) {
	return LoadArgs(os.Args[1:])
}

// LoadArgs is Load with an explicit argument slice, for testability.
func LoadArgs(args []string) (*SpeakerConfig, error) {
	cfg := &SpeakerConfig{}
	fs := newFlagSet("disospeakerd")
	cfg.registerFlags(fs)

	fs.StringVar(&cfg.ListenPath, "listen", "/tmp/disorder-speaker.sock", "unix socket decoder connections arrive on")
	fs.StringVar(&cfg.ControlPath, "control", "/tmp/disorder-speaker-control.sock", "unix socket for the stop/query control channel")
	fs.StringVar(&cfg.Destination, "destination", "", "RTP destination host:port (empty enables request mode)")
	fs.StringVar(&cfg.DestinationMode, "destination-mode", "auto", "RTP destination mode: auto, broadcast, multicast, unicast, request")
	fs.IntVar(&cfg.MulticastTTL, "multicast-ttl", 1, "multicast TTL")
	fs.BoolVar(&cfg.MulticastLoop, "multicast-loop", true, "enable multicast loopback")
	fs.StringVar(&cfg.Backend, "backend", "rtp", "audio backend: rtp, pipe, file")
	fs.StringVar(&cfg.PipePath, "pipe-path", "-", "pipe backend output target (\"-\" for stdout)")
	fs.StringVar(&cfg.DumpPath, "dump-path", "", "optional raw-PCM dump file for the file backend")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.exit {
		return nil, errExit
	}

	applyCommonEnvOverrides(fs, &cfg.Common)
	applyEnvOverride(fs, "listen", envPrefix+"LISTEN", &cfg.ListenPath)
	applyEnvOverride(fs, "control", envPrefix+"CONTROL", &cfg.ControlPath)
	applyEnvOverride(fs, "destination", envPrefix+"DESTINATION", &cfg.Destination)
	applyEnvOverride(fs, "destination-mode", envPrefix+"DESTINATION_MODE", &cfg.DestinationMode)
	applyEnvOverride(fs, "backend", envPrefix+"BACKEND", &cfg.Backend)

	if err := cfg.Common.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *SpeakerConfig) validate() error {
	switch c.DestinationMode {
	case "auto", "broadcast", "multicast", "unicast", "request":
	default:
		return fmt.Errorf("destination-mode must be one of auto, broadcast, multicast, unicast, request; got %q", c.DestinationMode)
	}
	if c.DestinationMode != "request" && c.Destination == "" && c.DestinationMode != "auto" {
		return fmt.Errorf("destination is required unless destination-mode is auto or request")
	}
	if c.Destination != "" {
		if _, _, err := net.SplitHostPort(c.Destination); err != nil {
			return fmt.Errorf("invalid destination %q: %w", c.Destination, err)
		}
	}
	switch c.Backend {
	case "rtp", "pipe", "file":
	default:
		return fmt.Errorf("backend must be one of rtp, pipe, file; got %q", c.Backend)
	}
	if c.MulticastTTL < 0 || c.MulticastTTL > 255 {
		return fmt.Errorf("multicast-ttl must be between 0 and 255, got %d", c.MulticastTTL)
	}
	return nil
}

// PlayerConfig configures cmd/disoplayrtp: the receive socket and the
// jitter-buffer thresholds of the playback state machine.
type PlayerConfig struct {
	Common

	ListenAddr string // address:port to receive RTP on (may be multicast)

	Readahead  time.Duration
	MinBuffer  time.Duration
	MaxBuffer  time.Duration
	DumpPath   string
}

// LoadPlayer parses os.Args for the player daemon.
func LoadPlayer() (*PlayerConfig, error) {
	return LoadPlayerArgs(os.Args[1:])
}

// LoadPlayerArgs is LoadPlayer with an explicit argument slice.
func LoadPlayerArgs(args []string) (*PlayerConfig, error) {
	cfg := &PlayerConfig{}
	fs := newFlagSet("disoplayrtp")
	cfg.registerFlags(fs)

	fs.StringVar(&cfg.ListenAddr, "listen-addr", "0.0.0.0:5004", "address:port to receive RTP on (may be multicast)")
	fs.DurationVar(&cfg.Readahead, "readahead", 500*time.Millisecond, "buffered duration required before playback starts")
	fs.DurationVar(&cfg.MinBuffer, "minbuffer", 200*time.Millisecond, "buffered duration below which playback returns to buffering")
	fs.DurationVar(&cfg.MaxBuffer, "maxbuffer", 0, "buffered duration above which intake blocks (0 defaults to 4x readahead)")
	fs.StringVar(&cfg.DumpPath, "dump-path", "", "optional raw-PCM circular dump file")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.exit {
		return nil, errExit
	}

	applyCommonEnvOverrides(fs, &cfg.Common)
	applyEnvOverride(fs, "listen-addr", envPrefix+"LISTEN_ADDR", &cfg.ListenAddr)

	if cfg.MaxBuffer == 0 {
		cfg.MaxBuffer = 4 * cfg.Readahead
	}

	if err := cfg.Common.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *PlayerConfig) validate() error {
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("invalid listen-addr %q: %w", c.ListenAddr, err)
	}
	if c.Readahead <= 0 || c.MinBuffer <= 0 || c.MaxBuffer <= 0 {
		return fmt.Errorf("readahead, minbuffer, and maxbuffer must all be positive")
	}
	if c.MaxBuffer < c.Readahead {
		return fmt.Errorf("maxbuffer must be at least readahead")
	}
	return nil
}

// applyCommonEnvOverrides applies the shared environment-variable
// overrides (debug, log format, metrics address) not already set via CLI.
func applyCommonEnvOverrides(fs flagSetter, c *Common) {
	if !fs.wasSet("debug") {
		if v, ok := os.LookupEnv(envPrefix + "DEBUG"); ok {
			if n, err := strconv.Atoi(v); err == nil {
				c.Debug = n != 0
			}
		}
	}
	applyEnvOverride(fs, "log-format", envPrefix+"LOG_FORMAT", &c.LogFormat)
	applyEnvOverride(fs, "metrics-addr", envPrefix+"METRICS_ADDR", &c.MetricsAddr)
}

// flagSetter is the narrow surface applyEnvOverride needs; satisfied by
// the *flagSet wrapper in flags.go through its wasSet method.
type flagSetter interface {
	wasSet(name string) bool
}

func applyEnvOverride(fs flagSetter, flagName, envVar string, dst *string) {
	if fs.wasSet(flagName) {
		return
	}
	if v, ok := os.LookupEnv(envVar); ok && v != "" {
		*dst = v
	}
}
