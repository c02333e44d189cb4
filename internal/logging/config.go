package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	EnvLogLevel     = "SWIFTWIRE_LOG_LEVEL"
	EnvLogTimestamp = "SWIFTWIRE_LOG_TIMESTAMP"
	EnvLogNoColor   = "SWIFTWIRE_LOG_NOCOLOR"
	EnvLogBypass    = "SWIFTWIRE_LOG_BYPASS"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

// Config is the resolved logger setup for one profile.
type Config struct {
	Level     zerolog.Level
	Timestamp bool
	NoColor   bool
	Bypass    bool
	Out       io.Writer
}

var configureOnce sync.Once

func ConfigureRuntime() {
	Configure(ProfileRuntime)
}

func ConfigureTests() {
	Configure(ProfileTest)
}

func Configure(profile Profile) {
	configureOnce.Do(func() {
		cfg := defaultConfig(profile)
		applyEnvOverrides(&cfg)
		log.Logger = NewLogger(cfg)
		zerolog.SetGlobalLevel(cfg.Level)
	})
}

// NewLogger builds a console logger from cfg without touching global state.
func NewLogger(cfg Config) zerolog.Logger {
	if cfg.Bypass {
		return zerolog.Nop()
	}
	out := cfg.Out
	if out == nil {
		out = os.Stderr
	}
	writer := zerolog.ConsoleWriter{
		Out:        out,
		NoColor:    cfg.NoColor,
		TimeFormat: time.RFC3339,
	}
	ctx := zerolog.New(writer).Level(cfg.Level).With()
	if cfg.Timestamp {
		ctx = ctx.Timestamp()
	}
	return ctx.Logger()
}

func defaultConfig(profile Profile) Config {
	cfg := Config{Out: os.Stderr}
	switch profile {
	case ProfileTest:
		cfg.Level = zerolog.DebugLevel
		cfg.Timestamp = false
	default:
		cfg.Level = zerolog.InfoLevel
		cfg.Timestamp = true
	}
	return cfg
}

func applyEnvOverrides(cfg *Config) {
	if lvl, ok := parseLevel(os.Getenv(EnvLogLevel)); ok {
		cfg.Level = lvl
	}
	if v, ok := parseBool(os.Getenv(EnvLogTimestamp)); ok {
		cfg.Timestamp = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogNoColor)); ok {
		cfg.NoColor = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogBypass)); ok {
		cfg.Bypass = v
	}
}

func parseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace", "diagnostics":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "disable", "off", "none", "inactive":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
