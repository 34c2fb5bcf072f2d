// Package lock guards a session directory so only one gateway serves it.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// HeldError is returned when another process holds the session lock.
type HeldError struct {
	PID   int
	Owner string
	Path  string
}

func (e *HeldError) Error() string {
	if e.Owner != "" {
		return fmt.Sprintf("session lock held by %s (pid %d, %s)", e.Owner, e.PID, e.Path)
	}
	return fmt.Sprintf("session lock held by pid %d (%s)", e.PID, e.Path)
}

// Lock is an acquired flock on <dir>/LOCK.
type Lock struct {
	file *os.File
	path string
}

// Info is what the lock file records about its holder.
type Info struct {
	PID   int
	Owner string
	Since time.Time
}

// Acquire takes an exclusive, non-blocking lock on dir on behalf of owner
// (a binary name). Returns *HeldError if another process already holds it.
func Acquire(dir, owner string) (*Lock, error) {
	lockPath := filepath.Join(dir, "LOCK")

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		data, _ := os.ReadFile(lockPath)
		info := parseInfo(string(data))
		_ = f.Close()
		return nil, &HeldError{PID: info.PID, Owner: info.Owner, Path: lockPath}
	}

	if err := f.Truncate(0); err != nil {
		_ = f.Close()
		return nil, err
	}
	if _, err := f.Seek(0, 0); err != nil {
		_ = f.Close()
		return nil, err
	}
	content := fmt.Sprintf("pid=%d\nowner=%s\ntime=%s\n", os.Getpid(), owner, time.Now().UTC().Format(time.RFC3339))
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		return nil, err
	}

	return &Lock{file: f, path: lockPath}, nil
}

// Read returns the holder recorded in dir/LOCK, if any.
func Read(dir string) (Info, error) {
	data, err := os.ReadFile(filepath.Join(dir, "LOCK"))
	if err != nil {
		return Info{}, err
	}
	return parseInfo(string(data)), nil
}

// Release releases the lock. Safe to call on nil receiver.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}

func parseInfo(content string) Info {
	var info Info
	for _, line := range strings.Split(content, "\n") {
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			info.PID, _ = strconv.Atoi(val)
		case "owner":
			info.Owner = val
		case "time":
			info.Since, _ = time.Parse(time.RFC3339, val)
		}
	}
	return info
}
