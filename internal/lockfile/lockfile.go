// Package lockfile guards an output directory so only one build writes into it at a time.
package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileName is the lock file created inside a locked directory.
const FileName = ".appforge.lock"

// ErrAlreadyLocked indicates the directory is held by another build.
var ErrAlreadyLocked = errors.New("output directory is locked by another build")

// Holder is written into the lock file for troubleshooting.
type Holder struct {
	PID       int       `json:"pid"`
	BuildID   string    `json:"build_id,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

type Lock struct {
	path string
	f    *os.File
}

// AcquireDir takes a non-blocking exclusive lock on dir, creating it if needed.
func AcquireDir(dir string, buildID string) (*Lock, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("lock dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, FileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	locked, err := tryLock(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !locked {
		_ = f.Close()
		if h, herr := ReadHolder(dir); herr == nil && h.PID > 0 {
			return nil, fmt.Errorf("%w (pid %d, build %s)", ErrAlreadyLocked, h.PID, h.BuildID)
		}
		return nil, ErrAlreadyLocked
	}

	b, _ := json.Marshal(Holder{PID: os.Getpid(), BuildID: buildID, StartedAt: time.Now().UTC()})
	_ = f.Truncate(0)
	_, _ = f.WriteAt(append(b, '\n'), 0)
	_ = f.Sync()

	return &Lock{path: path, f: f}, nil
}

// ReadHolder returns the holder last recorded in dir's lock file.
func ReadHolder(dir string) (Holder, error) {
	b, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		return Holder{}, err
	}
	var h Holder
	if err := json.Unmarshal(b, &h); err != nil {
		return Holder{}, err
	}
	return h, nil
}

func (l *Lock) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Release unlocks and closes. The lock file stays in place so a concurrent
// AcquireDir never locks an unlinked inode.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	unlockErr := unlock(l.f)
	closeErr := l.f.Close()
	l.f = nil
	if unlockErr != nil {
		return unlockErr
	}
	return closeErr
}
