// Package lockfile enforces the one-worker-per-data-directory rule with
// an advisory flock on .greenlight/worker.lock. The lock file body is
// JSON metadata about the holder so `gl worker status` can report who
// owns it.
package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// FileName is the lock file name inside the data directory.
const FileName = "worker.lock"

// ErrLockBusy means another process holds the exclusive lock.
var ErrLockBusy = errors.New("lock already held by another process")

// Info describes the lock holder. Written as JSON into the lock file.
type Info struct {
	PID       int       `json:"pid"`
	Database  string    `json:"database,omitempty"`
	Version   string    `json:"version,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// Lock is a held worker lock. Release it when the daemon exits.
type Lock struct {
	path string
	file *os.File
}

// Acquire takes the exclusive worker lock for dir. Returns ErrLockBusy
// (wrapped with the holder's PID when readable) if another worker owns
// it. The caller keeps the returned Lock for the daemon's lifetime.
func Acquire(dir string, info Info) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}
	path := filepath.Join(dir, FileName)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	if err := flockExclusive(f); err != nil {
		_ = f.Close()
		if errors.Is(err, ErrLockBusy) {
			if holder, rerr := ReadInfo(dir); rerr == nil && holder.PID > 0 {
				return nil, fmt.Errorf("worker already running (pid %d): %w", holder.PID, ErrLockBusy)
			}
			return nil, fmt.Errorf("worker already running: %w", ErrLockBusy)
		}
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}

	info.PID = os.Getpid()
	if info.StartedAt.IsZero() {
		info.StartedAt = time.Now().UTC()
	}
	data, err := json.Marshal(info)
	if err != nil {
		_ = flockUnlock(f)
		_ = f.Close()
		return nil, err
	}
	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt(data, 0)
		_ = f.Sync()
	}

	return &Lock{path: path, file: f}, nil
}

// Release drops the lock and removes the file. Safe on nil and safe to
// call twice.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := flockUnlock(l.file)
	if cerr := l.file.Close(); err == nil {
		err = cerr
	}
	l.file = nil
	_ = os.Remove(l.path)
	return err
}

// ReadInfo parses the lock file body. Accepts the JSON form and a bare
// PID for files written by hand.
func ReadInfo(dir string) (*Info, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		return nil, err
	}

	var info Info
	if err := json.Unmarshal(data, &info); err == nil {
		return &info, nil
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("unrecognized lock file format")
	}
	return &Info{PID: pid}, nil
}

// Holder reports whether a live worker owns the lock for dir, and its
// PID when known. A lock file left behind by a dead process reads as
// not running.
func Holder(dir string) (running bool, pid int) {
	path := filepath.Join(dir, FileName)
	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		return false, 0
	}
	defer func() { _ = f.Close() }()

	err = flockExclusive(f)
	if err == nil {
		// Nobody holds it; the file is stale.
		_ = flockUnlock(f)
		return false, 0
	}
	if !errors.Is(err, ErrLockBusy) {
		return false, 0
	}
	if info, rerr := ReadInfo(dir); rerr == nil {
		return true, info.PID
	}
	return true, 0
}
