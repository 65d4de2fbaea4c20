package lock

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const fileName = "LOCK"

// Info describes the process holding a session lock.
type Info struct {
	PID     int
	Owner   string
	Started time.Time
}

// LockHeldError is returned when another process holds the session lock.
type LockHeldError struct {
	Info
	Path string
}

func (e *LockHeldError) Error() string {
	if e.Owner != "" {
		return fmt.Sprintf("session lock held by %s (PID %d, %s)", e.Owner, e.PID, e.Path)
	}
	return fmt.Sprintf("session lock held by PID %d (%s)", e.PID, e.Path)
}

// Lock represents an acquired session lock file.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes an exclusive flock on the session directory's LOCK file and
// records the caller's PID and owner label in it.
func Acquire(sessionDir, owner string) (*Lock, error) {
	lockPath := filepath.Join(sessionDir, fileName)

	if err := os.MkdirAll(sessionDir, 0700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		data, _ := os.ReadFile(lockPath)
		_ = f.Close()
		return nil, &LockHeldError{Info: parseInfo(string(data)), Path: lockPath}
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

// Inspect reports who holds the session lock. It returns (nil, nil) when no
// live process holds it.
func Inspect(sessionDir string) (*Info, error) {
	lockPath := filepath.Join(sessionDir, fileName)
	f, err := os.OpenFile(lockPath, os.O_RDWR, 0600)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_SH|syscall.LOCK_NB); err == nil {
		// Nobody holds it; the file is a leftover.
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		return nil, nil
	}
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return nil, err
	}
	info := parseInfo(string(data))
	return &info, nil
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
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			info.PID, _ = strconv.Atoi(value)
		case "owner":
			info.Owner = value
		case "time":
			info.Started, _ = time.Parse(time.RFC3339, value)
		}
	}
	return info
}
