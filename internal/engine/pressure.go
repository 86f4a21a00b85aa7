//go:build linux

package engine

import (
	"os"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// PressureLevel classifies process memory use against the configured budget.
type PressureLevel int

const (
	PressureNormal PressureLevel = iota
	// PressureHigh at 75% of budget: drop caches
	PressureHigh
	// PressureCritical at 90%: pause background work
	PressureCritical
)

func (l PressureLevel) String() string {
	switch l {
	case PressureHigh:
		return "high"
	case PressureCritical:
		return "critical"
	default:
		return "normal"
	}
}

type pressureState struct {
	level PressureLevel
}

// budgetBytes derives the allowed RSS: the idle budget plus the per-4K-source
// budget for every session decoding at 4K-class resolution.
func (e *Engine) budgetBytes() int64 {
	budget := int64(e.cfg.Memory.IdleBudgetMB) * 1024 * 1024
	per4K := int64(e.cfg.Memory.Per4KBudgetMB) * 1024 * 1024
	for _, s := range e.sessions {
		if p := s.pipeline(); p != nil {
			if w, h, ok := p.player.VideoDimensions(); ok && int64(w)*int64(h) >= 3200*1800 {
				budget += per4K
				continue
			}
		}
		// Anything below 4K still needs headroom for its decode buffers.
		budget += per4K / 4
	}
	return budget
}

// checkPressure samples RSS on the periodic timer and reacts to threshold
// crossings, once per transition.
func (e *Engine) checkPressure() {
	rss := processRSS()
	if rss <= 0 {
		return
	}
	budget := e.budgetBytes()

	level := PressureNormal
	switch {
	case rss >= budget*9/10:
		level = PressureCritical
	case rss >= budget*3/4:
		level = PressureHigh
	}

	if level == e.pressure.level {
		return
	}
	prev := e.pressure.level
	e.pressure.level = level

	log.Warn().
		Str("level", level.String()).
		Int64("rss_mb", rss/1024/1024).
		Int64("budget_mb", budget/1024/1024).
		Msg("memory pressure transition")

	if level >= PressureHigh && prev < PressureHigh {
		// Return freed pages to the OS; decoder caches refill on demand.
		debug.FreeOSMemory()
	}
	if e.OnPressure != nil {
		e.OnPressure(level)
	}
}

// processRSS reads the resident set size from /proc.
func processRSS() int64 {
	data, err := os.ReadFile("/proc/self/statm")
	if err != nil {
		return -1
	}
	fields := strings.Fields(string(data))
	if len(fields) < 2 {
		return -1
	}
	pages, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return -1
	}
	return pages * int64(os.Getpagesize())
}
