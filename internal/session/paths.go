package session

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.wppgw, or $WPPGW_HOME when set.
func BaseDir() string {
	if dir := os.Getenv("WPPGW_HOME"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".wppgw")
}

// Dir returns the session-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "sessions", name)
}

// HealthSocketPath returns the gRPC health socket path for a session.
func HealthSocketPath(name string) string {
	return filepath.Join(Dir(name), "health.sock")
}

// DeviceDBPath returns the whatsmeow device store used by the embedded provider.
func DeviceDBPath(name string) string {
	return filepath.Join(Dir(name), "device.db")
}

// VendorDBPath returns the embedded provider's chat and message store.
func VendorDBPath(name string) string {
	return filepath.Join(Dir(name), "vendor.db")
}

// LogDir returns the log directory for a session.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the log file of one binary (wppgw, wpptui).
func LogPath(name, binary string) string {
	return filepath.Join(LogDir(name), binary+".log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the session directory tree with proper permissions.
func EnsureDir(name string) error {
	dirs := []string{
		Dir(name),
		LogDir(name),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
