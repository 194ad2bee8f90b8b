package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// BaseDir returns ~/.notifyd.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".notifyd")
}

// Dir returns the profile-specific directory.
func Dir(profile string) string {
	return filepath.Join(BaseDir(), "profiles", profile)
}

// SocketPath returns the control socket path for a profile.
func SocketPath(profile string) string {
	return filepath.Join(Dir(profile), "control.sock")
}

// DBPath returns the daemon-owned notifyd.db path.
func DBPath(profile string) string {
	return filepath.Join(Dir(profile), "notifyd.db")
}

// PrefsPath returns the shared preference file watched across sessions.
func PrefsPath() string {
	return filepath.Join(BaseDir(), "prefs.toml")
}

// LogDir returns the log directory for a profile.
func LogDir(profile string) string {
	return filepath.Join(Dir(profile), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(profile string) string {
	return filepath.Join(LogDir(profile), "notifyd.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// ValidateProfile rejects names that would escape the profiles directory.
func ValidateProfile(profile string) error {
	if profile == "" {
		return fmt.Errorf("profile name must not be empty")
	}
	if strings.ContainsAny(profile, "/\\") || profile == "." || profile == ".." {
		return fmt.Errorf("invalid profile name %q", profile)
	}
	return nil
}

// EnsureDir creates the profile directory tree with proper permissions.
func EnsureDir(profile string) error {
	dirs := []string{
		Dir(profile),
		LogDir(profile),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
