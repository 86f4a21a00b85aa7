package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// xdgDir resolves one XDG base directory with its conventional fallback.
func xdgDir(env, fallback string) string {
	if dir := os.Getenv(env); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "/tmp"
	}
	return filepath.Join(home, fallback)
}

// ConfigDir returns the wayvid configuration directory.
func ConfigDir() string {
	return filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config"), "wayvid")
}

// CacheDir returns the wayvid cache directory.
func CacheDir() string {
	return filepath.Join(xdgDir("XDG_CACHE_HOME", ".cache"), "wayvid")
}

// DataDir returns the wayvid data directory.
func DataDir() string {
	return filepath.Join(xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share")), "wayvid")
}

// SettingsPath returns the settings file location.
func SettingsPath() string {
	return filepath.Join(ConfigDir(), "settings.yaml")
}

// DatabasePath returns the library database location.
func DatabasePath() string {
	return filepath.Join(CacheDir(), "library.db")
}

// ThumbnailDir returns the on-disk thumbnail cache directory.
func ThumbnailDir() string {
	return filepath.Join(CacheDir(), "thumbnails")
}

// LogDir returns the optional log sink directory.
func LogDir() string {
	return filepath.Join(DataDir(), "logs")
}

// SocketPath returns the IPC socket location: $XDG_RUNTIME_DIR/wayvid.sock,
// falling back to /tmp/wayvid-$USER.sock when no runtime dir is set.
func SocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "wayvid.sock")
	}
	user := os.Getenv("USER")
	if user == "" {
		user = fmt.Sprintf("uid%d", os.Getuid())
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("wayvid-%s.sock", user))
}
