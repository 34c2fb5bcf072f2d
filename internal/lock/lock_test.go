package lock

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestAcquireAndRelease(t *testing.T) {
	tmpDir := t.TempDir()

	l, err := Acquire(tmpDir, "wppgw")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	info, err := Read(tmpDir)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if info.PID != os.Getpid() || info.Owner != "wppgw" || info.Since.IsZero() {
		t.Errorf("info = %+v", info)
	}

	if err := l.Release(); err != nil {
		t.Errorf("Release() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tmpDir, "LOCK")); !os.IsNotExist(err) {
		t.Errorf("lock file should be removed, stat err = %v", err)
	}
}

func TestDoubleAcquireFails(t *testing.T) {
	tmpDir := t.TempDir()

	l1, err := Acquire(tmpDir, "wppgw")
	if err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}
	defer func() { _ = l1.Release() }()

	_, err = Acquire(tmpDir, "other")
	if err == nil {
		t.Fatal("second Acquire() should fail")
	}

	var held *HeldError
	if !errors.As(err, &held) {
		t.Fatalf("expected *HeldError, got %T: %v", err, err)
	}
	if held.Owner != "wppgw" || held.PID != os.Getpid() {
		t.Errorf("held = %+v", held)
	}
}

func TestParseInfo(t *testing.T) {
	info := parseInfo("pid=42\nowner=wppgw\ntime=2025-01-15T12:00:00Z\ngarbage\n")
	if info.PID != 42 || info.Owner != "wppgw" || info.Since.Year() != 2025 {
		t.Errorf("info = %+v", info)
	}
	if empty := parseInfo(""); empty.PID != 0 || empty.Owner != "" {
		t.Errorf("empty = %+v", empty)
	}
}

func TestReleaseNil(t *testing.T) {
	var l *Lock
	if err := l.Release(); err != nil {
		t.Errorf("nil Release() error = %v", err)
	}
}

func TestReleaseIdempotent(t *testing.T) {
	l, err := Acquire(t.TempDir(), "wppgw")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("first Release() error = %v", err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("second Release() error = %v", err)
	}
}
