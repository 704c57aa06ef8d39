package proxy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"log/slog"

	"github.com/tandemops/switchyard/internal/docker"
	"github.com/tandemops/switchyard/internal/domain"
)

// ErrReverted indicates a switch failed validation or activation and the
// pointer was restored to the previous color. Callers must not treat this
// as partial success.
var ErrReverted = errors.New("proxy: switch reverted")

// Validator checks the full proxy configuration.
type Validator interface {
	Validate(ctx context.Context) error
}

// Reloader activates the current configuration on the live proxy.
type Reloader interface {
	Reload(ctx context.Context) error
}

// switchMu serializes the commit-validate-reload sequence across all
// services. Renders may proceed concurrently; a reload for one service must
// not interleave with another service's not-yet-validated pointer.
var switchMu sync.Mutex

// colorSubdir holds the per-color documents. The proxy includes
// <confDir>/*.conf, so only the pointers may live at the top level; a color
// document visible to the include glob would duplicate every upstream name.
const colorSubdir = "colors"

// Switcher owns the per-domain upstream documents and the active pointer.
type Switcher struct {
	confDir   string
	synth     *Synthesizer
	validator Validator
	reloader  Reloader
	logger    *slog.Logger
}

// NewSwitcher creates a switcher writing documents under confDir.
func NewSwitcher(confDir string, synth *Synthesizer, validator Validator, reloader Reloader, logger *slog.Logger) (*Switcher, error) {
	if strings.TrimSpace(confDir) == "" {
		return nil, fmt.Errorf("proxy conf directory cannot be empty")
	}
	if err := os.MkdirAll(filepath.Join(confDir, colorSubdir), 0o755); err != nil {
		return nil, fmt.Errorf("create proxy conf directory: %w", err)
	}
	return &Switcher{
		confDir:   confDir,
		synth:     synth,
		validator: validator,
		reloader:  reloader,
		logger:    logger,
	}, nil
}

func (s *Switcher) colorDoc(domainName string, color domain.Color) string {
	return filepath.Join(s.confDir, colorSubdir, fmt.Sprintf("%s.%s.conf", domainName, color))
}

func (s *Switcher) pointer(domainName string) string {
	return filepath.Join(s.confDir, domainName+".conf")
}

// ActiveColor resolves which color the pointer currently designates.
func (s *Switcher) ActiveColor(domainName string) (domain.Color, error) {
	target, err := os.Readlink(s.pointer(domainName))
	if err != nil {
		return "", fmt.Errorf("read proxy pointer for %s: %w", domainName, err)
	}
	base := filepath.Base(target)
	for _, c := range []domain.Color{domain.ColorBlue, domain.ColorGreen} {
		if base == filepath.Base(s.colorDoc(domainName, c)) {
			return c, nil
		}
	}
	return "", fmt.Errorf("proxy pointer for %s designates unknown document %s", domainName, target)
}

// WriteDocuments renders and persists both colors' documents for the
// topology given the current live container set.
func (s *Switcher) WriteDocuments(topo domain.ServiceTopology, target domain.Color, live []docker.Container) error {
	for _, color := range []domain.Color{target, target.Other()} {
		doc, err := s.synth.Render(topo, color, live)
		if err != nil {
			return fmt.Errorf("render %s document for %s: %w", color, topo.Domain, err)
		}
		path := s.colorDoc(topo.Domain, color)
		if err := writeDocAtomic(path, []byte(doc)); err != nil {
			return fmt.Errorf("write %s document for %s: %w", color, topo.Domain, err)
		}
	}
	return nil
}

// Switch points the domain's pointer at the target color's document,
// validates the configuration, and reloads the proxy. On validation or
// reload failure the pointer is reverted (and the proxy re-reloaded after a
// failed reload) and ErrReverted is returned.
func (s *Switcher) Switch(ctx context.Context, topo domain.ServiceTopology, target domain.Color, live []docker.Container) error {
	// Both documents are re-rendered so a switch never points at a
	// document that predates the current container set.
	if err := s.WriteDocuments(topo, target, live); err != nil {
		return err
	}

	switchMu.Lock()
	defer switchMu.Unlock()

	previous, prevErr := s.ActiveColor(topo.Domain)
	hadPointer := prevErr == nil

	if err := s.repoint(topo.Domain, target); err != nil {
		return err
	}

	if err := s.validator.Validate(ctx); err != nil {
		s.logger.Error("proxy validation failed, reverting", "domain", topo.Domain, "target", target, "error", err)
		s.revert(topo.Domain, previous, hadPointer)
		return fmt.Errorf("%w: validation failed: %v", ErrReverted, err)
	}

	if err := s.reloader.Reload(ctx); err != nil {
		s.logger.Error("proxy reload failed, reverting", "domain", topo.Domain, "target", target, "error", err)
		s.revert(topo.Domain, previous, hadPointer)
		// A reverted pointer that was never re-activated would leave the
		// live proxy serving the failed target.
		if reloadErr := s.reloader.Reload(ctx); reloadErr != nil {
			s.logger.Error("proxy reload after revert failed", "domain", topo.Domain, "error", reloadErr)
		}
		return fmt.Errorf("%w: reload failed: %v", ErrReverted, err)
	}

	s.logger.Info("proxy switched", "domain", topo.Domain, "color", target)
	return nil
}

// repoint atomically replaces the pointer symlink: the new link is created
// under a temporary name and renamed over the old one, so the pointer is
// never half-written.
func (s *Switcher) repoint(domainName string, color domain.Color) error {
	pointer := s.pointer(domainName)
	tmp := pointer + ".next"
	os.Remove(tmp)
	target := filepath.Join(colorSubdir, filepath.Base(s.colorDoc(domainName, color)))
	if err := os.Symlink(target, tmp); err != nil {
		return fmt.Errorf("create proxy pointer for %s: %w", domainName, err)
	}
	if err := os.Rename(tmp, pointer); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit proxy pointer for %s: %w", domainName, err)
	}
	return nil
}

func (s *Switcher) revert(domainName string, previous domain.Color, hadPointer bool) {
	if !hadPointer {
		if err := os.Remove(s.pointer(domainName)); err != nil && !os.IsNotExist(err) {
			s.logger.Error("remove proxy pointer during revert failed", "domain", domainName, "error", err)
		}
		return
	}
	if err := s.repoint(domainName, previous); err != nil {
		s.logger.Error("revert proxy pointer failed", "domain", domainName, "previous", previous, "error", err)
	}
}

func writeDocAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
