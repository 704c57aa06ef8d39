package proxy

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"log/slog"

	"github.com/tandemops/switchyard/internal/domain"
)

type fakeValidator struct {
	err   error
	calls int
}

func (f *fakeValidator) Validate(context.Context) error {
	f.calls++
	return f.err
}

type fakeReloader struct {
	errs  []error
	calls int
}

func (f *fakeReloader) Reload(context.Context) error {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return err
	}
	return nil
}

func newTestSwitcher(t *testing.T, validator *fakeValidator, reloader *fakeReloader) *Switcher {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := NewSwitcher(t.TempDir(), NewSynthesizer(), validator, reloader, log)
	if err != nil {
		t.Fatalf("new switcher: %v", err)
	}
	return s
}

func TestSwitchSuccess(t *testing.T) {
	validator := &fakeValidator{}
	reloader := &fakeReloader{}
	s := newTestSwitcher(t, validator, reloader)
	topo := renderTopology()

	err := s.Switch(context.Background(), topo, domain.ColorGreen, running("shop-backend-green"))
	if err != nil {
		t.Fatalf("switch: %v", err)
	}
	active, err := s.ActiveColor(topo.Domain)
	if err != nil {
		t.Fatalf("active color: %v", err)
	}
	if active != domain.ColorGreen {
		t.Fatalf("expected pointer at green, got %s", active)
	}
	if validator.calls != 1 || reloader.calls != 1 {
		t.Fatalf("expected one validate and one reload, got %d/%d", validator.calls, reloader.calls)
	}
}

func TestSwitchValidationFailureReverts(t *testing.T) {
	validator := &fakeValidator{err: errors.New("nginx: [emerg] bad directive")}
	reloader := &fakeReloader{}
	s := newTestSwitcher(t, validator, reloader)
	topo := renderTopology()

	// Establish blue as the live pointer first.
	if err := s.Switch(context.Background(), topo, domain.ColorBlue, running("shop-backend-blue")); !errors.Is(err, ErrReverted) {
		t.Fatalf("expected reverted error, got %v", err)
	}
	// Validation failed with no prior pointer: the pointer must not exist.
	if _, err := s.ActiveColor(topo.Domain); err == nil {
		t.Fatalf("expected no pointer after reverted first switch")
	}
	if reloader.calls != 0 {
		t.Fatalf("proxy must not be reloaded with invalid configuration")
	}

	validator.err = nil
	if err := s.Switch(context.Background(), topo, domain.ColorBlue, running("shop-backend-blue")); err != nil {
		t.Fatalf("switch blue: %v", err)
	}

	validator.err = errors.New("nginx: [emerg] bad directive")
	err := s.Switch(context.Background(), topo, domain.ColorGreen, running("shop-backend-green", "shop-backend-blue"))
	if !errors.Is(err, ErrReverted) {
		t.Fatalf("expected reverted error, got %v", err)
	}
	active, aerr := s.ActiveColor(topo.Domain)
	if aerr != nil || active != domain.ColorBlue {
		t.Fatalf("expected pointer restored to blue, got %s %v", active, aerr)
	}
}

func TestSwitchReloadFailureRevertsAndReactivates(t *testing.T) {
	validator := &fakeValidator{}
	reloader := &fakeReloader{}
	s := newTestSwitcher(t, validator, reloader)
	topo := renderTopology()

	if err := s.Switch(context.Background(), topo, domain.ColorBlue, running("shop-backend-blue")); err != nil {
		t.Fatalf("switch blue: %v", err)
	}

	reloader.errs = []error{errors.New("signal failed")}
	before := reloader.calls
	err := s.Switch(context.Background(), topo, domain.ColorGreen, running("shop-backend-green", "shop-backend-blue"))
	if !errors.Is(err, ErrReverted) {
		t.Fatalf("expected reverted error, got %v", err)
	}
	active, aerr := s.ActiveColor(topo.Domain)
	if aerr != nil || active != domain.ColorBlue {
		t.Fatalf("expected pointer restored to blue, got %s %v", active, aerr)
	}
	// One failed reload plus the forced reload after revert.
	if reloader.calls-before != 2 {
		t.Fatalf("expected a second reload after revert, got %d", reloader.calls-before)
	}
}

func TestSwitchKeepsColorDocumentsOutOfIncludeGlob(t *testing.T) {
	dir := t.TempDir()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := NewSwitcher(dir, NewSynthesizer(), &fakeValidator{}, &fakeReloader{}, log)
	if err != nil {
		t.Fatalf("new switcher: %v", err)
	}
	topo := renderTopology()

	if err := s.Switch(context.Background(), topo, domain.ColorGreen, running("shop-backend-green")); err != nil {
		t.Fatalf("switch: %v", err)
	}

	// The proxy includes <dir>/*.conf; only the pointer may match, or
	// every upstream name would be defined twice.
	matches, err := filepath.Glob(filepath.Join(dir, "*.conf"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(matches) != 1 || matches[0] != s.pointer(topo.Domain) {
		t.Fatalf("expected only the pointer at the top level, got %v", matches)
	}

	// The pointer resolves to the live color's rendered document.
	doc, err := os.ReadFile(s.pointer(topo.Domain))
	if err != nil {
		t.Fatalf("read through pointer: %v", err)
	}
	if !strings.Contains(string(doc), "server shop-backend-green:8080 weight=100;") {
		t.Fatalf("pointer does not resolve to the green document:\n%s", doc)
	}
}

func TestSwitchWritesBothColorDocuments(t *testing.T) {
	s := newTestSwitcher(t, &fakeValidator{}, &fakeReloader{})
	topo := renderTopology()

	if err := s.Switch(context.Background(), topo, domain.ColorGreen, running("shop-backend-green")); err != nil {
		t.Fatalf("switch: %v", err)
	}
	for _, color := range []domain.Color{domain.ColorBlue, domain.ColorGreen} {
		if _, err := os.ReadFile(s.colorDoc(topo.Domain, color)); err != nil {
			t.Fatalf("expected %s document on disk: %v", color, err)
		}
	}
}
