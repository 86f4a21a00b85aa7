// Package logging wires zerolog for the daemon: console output on stderr, an
// optional file sink under the data directory, and the level taken from
// WAYVID_LOG or the settings blob.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures the global logger. level comes from the settings blob; the
// WAYVID_LOG environment variable overrides it. When logDir is non-empty a
// wayvid.log file sink is added alongside the console writer.
func Setup(level, logDir string) {
	if env := os.Getenv("WAYVID_LOG"); env != "" {
		level = env
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
	writers := []io.Writer{console}

	if logDir != "" {
		if err := os.MkdirAll(logDir, 0o755); err == nil {
			f, err := os.OpenFile(filepath.Join(logDir, "wayvid.log"),
				os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err == nil {
				writers = append(writers, f)
			}
		}
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(lvl).
		With().Timestamp().Logger()
}

// RateLimiter suppresses repeats of the same error kind. Session errors log
// at most once per kind per minute.
type RateLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	seen     map[string]time.Time
}

// NewRateLimiter returns a limiter that allows one event per key per interval.
func NewRateLimiter(interval time.Duration) *RateLimiter {
	return &RateLimiter{interval: interval, seen: make(map[string]time.Time)}
}

// Allow reports whether an event for key may be logged now, and records it.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	if last, ok := r.seen[key]; ok && now.Sub(last) < r.interval {
		return false
	}
	r.seen[key] = now
	return true
}

// Reset forgets a key so the next event logs immediately.
func (r *RateLimiter) Reset(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.seen, key)
}
