package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrLocked indicates another deployment of the same service is in flight.
var ErrLocked = errors.New("state: service is locked by another deployment")

// Lock is an advisory per-service lock backed by an exclusively-created
// file. Interleaved deployments of the same service can corrupt the active
// color, so exactly one deployment per service may hold the lock.
type Lock struct {
	path string
}

type lockInfo struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"startedAt"`
}

// Acquire takes the advisory lock for a service. A lock file older than ttl
// is considered abandoned and taken over.
func (s *Store) Acquire(name string, ttl time.Duration) (*Lock, error) {
	path := filepath.Join(s.dir, name+".lock")
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			info := lockInfo{PID: os.Getpid(), StartedAt: time.Now().UTC()}
			data, marshalErr := json.Marshal(info)
			if marshalErr == nil {
				_, _ = f.Write(data)
			}
			f.Close()
			return &Lock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create lock for %s: %w", name, err)
		}
		if attempt > 0 {
			break
		}
		stale, staleErr := s.lockIsStale(path, ttl)
		if staleErr != nil {
			return nil, staleErr
		}
		if !stale {
			return nil, fmt.Errorf("%w: %s", ErrLocked, name)
		}
		s.logger.Warn("taking over stale deployment lock", "service", name, "lock", path)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("remove stale lock for %s: %w", name, err)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrLocked, name)
}

func (s *Store) lockIsStale(path string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Holder released it between our create attempt and now.
			return true, nil
		}
		return false, fmt.Errorf("read lock: %w", err)
	}
	var info lockInfo
	if err := json.Unmarshal(data, &info); err != nil || info.StartedAt.IsZero() {
		fi, statErr := os.Stat(path)
		if statErr != nil {
			return true, nil
		}
		return time.Since(fi.ModTime()) > ttl, nil
	}
	return time.Since(info.StartedAt) > ttl, nil
}

// Release removes the lock file.
func (l *Lock) Release() error {
	if l == nil || l.path == "" {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}
