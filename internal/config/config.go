// Package config loads and persists the wayvid settings blob.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/tuxx/wayvid/internal/types"
)

// PlaybackConfig holds the defaults applied to new sessions.
type PlaybackConfig struct {
	// Fit mode used when apply does not name one
	Layout string `yaml:"layout"`

	// Hardware decoding policy: auto, off or force
	Hwdec string `yaml:"hwdec"`

	// Volume for new sessions, 0.0 to 1.0
	Volume float64 `yaml:"volume"`

	// Whether new sessions start muted
	Mute bool `yaml:"mute"`

	// Whether sources loop
	Loop bool `yaml:"loop"`

	// FPS cap per surface; 0 follows the output refresh rate
	FPSCap float64 `yaml:"fps_cap"`
}

// ToneMapConfig configures the HDR pipeline on the decoder.
type ToneMapConfig struct {
	Algorithm string  `yaml:"algorithm"`
	Param     float64 `yaml:"param"`
	Mode      string  `yaml:"mode"`

	// Measure the actual frame peak instead of trusting metadata
	ComputePeak bool `yaml:"compute_peak"`

	// Hand HDR through untouched when the compositor supports it
	Passthrough bool `yaml:"passthrough"`
}

// MemoryConfig holds the pressure thresholds sampled by the engine.
type MemoryConfig struct {
	// Budget in MiB while idle
	IdleBudgetMB int `yaml:"idle_budget_mb"`

	// Additional budget in MiB per 4K source
	Per4KBudgetMB int `yaml:"per_4k_budget_mb"`
}

// PowerConfig gates the logind-driven pause behaviour.
type PowerConfig struct {
	PauseOnLock    bool `yaml:"pause_on_lock"`
	PauseOnBattery bool `yaml:"pause_on_battery"`
}

// LibraryConfig seeds the wallpaper library.
type LibraryConfig struct {
	// Folders scanned into the library on startup
	Folders []string `yaml:"folders,omitempty"`

	// Watch enabled folders and rescan on changes
	Watch bool `yaml:"watch"`
}

// Assignment records one applied wallpaper for restore-on-startup.
type Assignment struct {
	Path   string `yaml:"path"`
	Layout string `yaml:"layout,omitempty"`
}

// Config is the full settings blob at ~/.config/wayvid/settings.yaml.
type Config struct {
	LogLevel string `yaml:"log_level"`

	Playback PlaybackConfig `yaml:"playback"`
	ToneMap  ToneMapConfig  `yaml:"tone_mapping"`
	Memory   MemoryConfig   `yaml:"memory"`
	Power    PowerConfig    `yaml:"power"`
	Library  LibraryConfig  `yaml:"library"`

	// Replay the recorded assignments when outputs appear
	RestoreOnStartup bool `yaml:"restore_on_startup"`

	// Last applied wallpaper per output connector, written by the daemon
	Assignments map[string]Assignment `yaml:"assignments,omitempty"`
}

// Default returns a configuration with sensible defaults.
func Default() Config {
	return Config{
		LogLevel: "info",
		Playback: PlaybackConfig{
			Layout: "fill",
			Hwdec:  "auto",
			Volume: 1.0,
			Mute:   true,
			Loop:   true,
		},
		ToneMap: ToneMapConfig{
			Algorithm:   "bt.2390",
			Param:       1.0,
			Mode:        "hybrid",
			ComputePeak: true,
		},
		Memory: MemoryConfig{
			IdleBudgetMB:  100,
			Per4KBudgetMB: 300,
		},
		Library: LibraryConfig{
			Watch: true,
		},
	}
}

// Load reads path into a default-initialised Config. A missing file is not an
// error; the defaults stand.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read settings: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse settings: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid settings: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration back to path, creating parents as needed.
func (c Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks cross-field consistency and value ranges.
func (c Config) Validate() error {
	if _, err := types.ParseLayoutMode(c.Playback.Layout); err != nil {
		return err
	}
	if _, err := types.ParseHwdecMode(c.Playback.Hwdec); err != nil {
		return err
	}
	if _, err := types.ParseToneMapAlgo(c.ToneMap.Algorithm); err != nil {
		return err
	}
	if _, err := types.ParseToneMapMode(c.ToneMap.Mode); err != nil {
		return err
	}
	if c.Playback.Volume < 0 || c.Playback.Volume > 1 {
		return fmt.Errorf("playback volume %.2f outside 0.0..1.0", c.Playback.Volume)
	}
	if c.Playback.FPSCap < 0 {
		return fmt.Errorf("fps cap must not be negative")
	}
	if c.Memory.IdleBudgetMB <= 0 || c.Memory.Per4KBudgetMB <= 0 {
		return fmt.Errorf("memory budgets must be positive")
	}
	return nil
}

// DecodeParams resolves the playback defaults into decoder parameters.
func (c Config) DecodeParams() types.DecodeParams {
	hwdec, _ := types.ParseHwdecMode(c.Playback.Hwdec)
	return types.DecodeParams{Hwdec: hwdec}
}

// LayoutMode resolves the configured default fit mode.
func (c Config) LayoutMode() types.LayoutMode {
	mode, _ := types.ParseLayoutMode(c.Playback.Layout)
	return mode
}

// ToneMapping resolves the HDR section into decoder terms.
func (c Config) ToneMapping() types.ToneMapping {
	algo, _ := types.ParseToneMapAlgo(c.ToneMap.Algorithm)
	mode, _ := types.ParseToneMapMode(c.ToneMap.Mode)
	return types.ToneMapping{
		Algo:        algo,
		Param:       c.ToneMap.Param,
		Mode:        mode,
		ComputePeak: c.ToneMap.ComputePeak,
		Passthrough: c.ToneMap.Passthrough,
	}
}
