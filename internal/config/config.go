// Package config loads this module's environment-tunable knobs the same
// way the rest of the corpus does: a typed struct, env vars with
// defaults, no external config library.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fenwick-io/machina/internal/platform/logger"
)

// Config holds every environment-tunable value the orchestrator core
// reads. All fields have sane defaults; nothing here is required for the
// module to run in tests.
type Config struct {
	// ExecutionUnits is the orchestrator-wide default cost hint stamped
	// onto emitted events that don't set their own.
	ExecutionUnits float64

	// Strict controls whether an intent with no matching contract fails
	// the turn (EMIT_UNCONTRACTED) or passes through unchecked. Defaults
	// to true.
	Strict bool

	// LockMinPoll/LockMaxPoll bound the backoff used by callers that poll
	// for lock release; the core itself never sleeps inside execute(),
	// these are advisory values surfaced for callers that retry.
	LockMinPoll time.Duration
	LockMaxPoll time.Duration
}

// Load reads Config from the environment. An unset or blank variable
// silently takes its default; a value that fails to parse is logged and
// also falls back to the default.
func Load(log *logger.Logger) Config {
	return Config{
		ExecutionUnits: getEnvAsFloat("ARVO_EXECUTION_UNITS", 0, log),
		Strict:         getEnvAsBool("ARVO_STRICT_EMIT", true, log),
		LockMinPoll:    time.Duration(getEnvAsInt("ARVO_LOCK_MIN_POLL_MS", 50, log)) * time.Millisecond,
		LockMaxPoll:    time.Duration(getEnvAsInt("ARVO_LOCK_MAX_POLL_MS", 2000, log)) * time.Millisecond,
	}
}

func getEnv(key string, log *logger.Logger) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

func getEnvAsInt(key string, fallback int, log *logger.Logger) int {
	raw, ok := getEnv(key, log)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		if log != nil {
			log.Warn("config: invalid int, using default", "key", key, "value", raw, "default", fallback)
		}
		return fallback
	}
	return n
}

func getEnvAsFloat(key string, fallback float64, log *logger.Logger) float64 {
	raw, ok := getEnv(key, log)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		if log != nil {
			log.Warn("config: invalid float, using default", "key", key, "value", raw, "default", fallback)
		}
		return fallback
	}
	return f
}

func getEnvAsBool(key string, fallback bool, log *logger.Logger) bool {
	raw, ok := getEnv(key, log)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		if log != nil {
			log.Warn("config: invalid bool, using default", "key", key, "value", raw, "default", fallback)
		}
		return fallback
	}
	return b
}
