package engine

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// conflictingClients are other background-layer daemons that would fight over
// the same layer.
var conflictingClients = map[string]string{
	"swww-daemon": "stop it with `swww kill`",
	"hyprpaper":   "disable it in your Hyprland config",
	"swaybg":      "remove it from your sway config",
	"mpvpaper":    "kill the running mpvpaper instance",
}

// warnConflictingClients scans /proc for known wallpaper daemons and logs a
// structured warning per match.
func warnConflictingClients() {
	procs, err := filepath.Glob("/proc/[0-9]*/comm")
	if err != nil {
		return
	}
	for _, comm := range procs {
		data, err := os.ReadFile(comm)
		if err != nil {
			continue
		}
		name := strings.TrimSpace(string(data))
		if hint, ok := conflictingClients[name]; ok {
			log.Warn().
				Str("conflict", name).
				Str("remediation", hint).
				Msg("another wallpaper daemon is running; backgrounds will fight")
		}
	}
}
