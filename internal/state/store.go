// Package state persists per-service deployment state documents. The store
// is the only writer; every save is atomic and verified by a re-read.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"log/slog"

	"github.com/tandemops/switchyard/internal/domain"
)

// ErrVerify indicates a state write could not be confirmed by re-reading.
// Callers must treat the deployment as failed rather than proceed on an
// unconfirmed active color.
var ErrVerify = errors.New("state: persisted state does not match written state")

// Store reads and writes DeploymentState documents under a directory, one
// JSON file per service.
type Store struct {
	dir    string
	logger *slog.Logger
}

// New ensures the state directory exists and returns a store over it.
func New(dir string, logger *slog.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("state directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

func (s *Store) statePath(name string) string {
	return filepath.Join(s.dir, name+".json")
}

func (s *Store) fingerprintPath(name string) string {
	return filepath.Join(s.dir, name+".fingerprints.json")
}

// Load reads the deployment state of a service. A missing document is the
// first-run case, not an error: the bootstrap state (blue active and
// running, green stopped) is created, persisted and returned.
func (s *Store) Load(name string) (domain.DeploymentState, error) {
	data, err := os.ReadFile(s.statePath(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			st := domain.NewDeploymentState()
			if err := s.Save(name, st); err != nil {
				return domain.DeploymentState{}, fmt.Errorf("bootstrap state for %s: %w", name, err)
			}
			s.logger.Info("bootstrapped deployment state", "service", name, "active_color", st.ActiveColor)
			return st, nil
		}
		return domain.DeploymentState{}, fmt.Errorf("read state for %s: %w", name, err)
	}
	var st domain.DeploymentState
	if err := json.Unmarshal(data, &st); err != nil {
		return domain.DeploymentState{}, fmt.Errorf("parse state for %s: %w", name, err)
	}
	if err := st.Validate(); err != nil {
		return domain.DeploymentState{}, fmt.Errorf("state for %s: %w", name, err)
	}
	return st, nil
}

// Save persists the state atomically and verifies the write by re-reading
// the document and comparing the active color. A save that cannot be
// verified returns ErrVerify.
func (s *Store) Save(name string, st domain.DeploymentState) error {
	if err := st.Validate(); err != nil {
		return fmt.Errorf("refusing to persist invalid state for %s: %w", name, err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state for %s: %w", name, err)
	}
	if err := writeFileAtomic(s.statePath(name), data, 0o644); err != nil {
		return fmt.Errorf("write state for %s: %w", name, err)
	}

	persisted, err := os.ReadFile(s.statePath(name))
	if err != nil {
		return fmt.Errorf("%w: re-read failed: %v", ErrVerify, err)
	}
	var check domain.DeploymentState
	if err := json.Unmarshal(persisted, &check); err != nil {
		return fmt.Errorf("%w: re-parse failed: %v", ErrVerify, err)
	}
	if check.ActiveColor != st.ActiveColor {
		return fmt.Errorf("%w: wrote active color %s, read back %s", ErrVerify, st.ActiveColor, check.ActiveColor)
	}
	return nil
}

// LoadFingerprints reads the stored build fingerprints for a service,
// keyed by sub-service. A missing document yields an empty map.
func (s *Store) LoadFingerprints(name string) (map[string]string, error) {
	data, err := os.ReadFile(s.fingerprintPath(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("read fingerprints for %s: %w", name, err)
	}
	var fps map[string]string
	if err := json.Unmarshal(data, &fps); err != nil {
		return nil, fmt.Errorf("parse fingerprints for %s: %w", name, err)
	}
	if fps == nil {
		fps = map[string]string{}
	}
	return fps, nil
}

// SaveFingerprints persists the build fingerprints for a service.
func (s *Store) SaveFingerprints(name string, fps map[string]string) error {
	data, err := json.MarshalIndent(fps, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fingerprints for %s: %w", name, err)
	}
	if err := writeFileAtomic(s.fingerprintPath(name), data, 0o644); err != nil {
		return fmt.Errorf("write fingerprints for %s: %w", name, err)
	}
	return nil
}
