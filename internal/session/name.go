package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/matheus3301/wppgw/internal/config"
)

// DefaultSessionName is used when neither a flag nor the config names one.
const DefaultSessionName = "main"

var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// Resolve picks the session name and validates it. Precedence:
//  1. flagOverride (--session)
//  2. default_session in the config at configPath (ConfigPath() when empty)
//  3. DefaultSessionName
func Resolve(flagOverride, configPath string) (string, error) {
	name := flagOverride
	if name == "" {
		name = configuredName(configPath)
	}
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return name, nil
}

func configuredName(configPath string) string {
	if configPath == "" {
		configPath = ConfigPath()
	}
	cfg, err := config.Load(configPath)
	if err == nil && cfg.DefaultSession != "" {
		return cfg.DefaultSession
	}
	return DefaultSessionName
}

// ValidateName checks that a session name is safe to use as a directory name.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid session name %q: use 1-64 characters from a-z, 0-9, '_' and '-'", name)
	}
	return nil
}

// List returns the sessions that have a directory under BaseDir, sorted.
// Entries that are not valid session names are skipped.
func List() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(BaseDir(), "sessions"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sessions: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && ValidateName(e.Name()) == nil {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
