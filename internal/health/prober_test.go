package health

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"log/slog"

	"github.com/tandemops/switchyard/internal/domain"
)

func testProber(probe ProbeFunc) *Prober {
	return New(probe, time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testTarget(retries int) Target {
	return Target{
		Container: "shop-backend-green",
		Port:      8080,
		Path:      "/health",
		Timeout:   time.Second,
		Retries:   retries,
	}
}

func TestProbeSucceedsFirstAttempt(t *testing.T) {
	attempts := 0
	p := testProber(func(context.Context, string, int, string, time.Duration) error {
		attempts++
		return nil
	})
	if err := p.Probe(context.Background(), testTarget(3)); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected a single attempt, got %d", attempts)
	}
}

func TestProbeRecoversWithinRetryBudget(t *testing.T) {
	attempts := 0
	p := testProber(func(context.Context, string, int, string, time.Duration) error {
		attempts++
		if attempts < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	if err := p.Probe(context.Background(), testTarget(3)); err != nil {
		t.Fatalf("expected recovery on the final attempt, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", attempts)
	}
}

func TestProbeExhaustsRetries(t *testing.T) {
	attempts := 0
	p := testProber(func(context.Context, string, int, string, time.Duration) error {
		attempts++
		return errors.New("HTTP 500")
	})
	err := p.Probe(context.Background(), testTarget(3))
	if err == nil {
		t.Fatalf("expected failure after retry exhaustion")
	}
	if attempts != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", attempts)
	}
	if !strings.Contains(err.Error(), "after 3 attempts") {
		t.Fatalf("expected attempt count in error, got %v", err)
	}
}

func TestProbeDefaultsToSingleAttempt(t *testing.T) {
	attempts := 0
	p := testProber(func(context.Context, string, int, string, time.Duration) error {
		attempts++
		return errors.New("down")
	})
	if err := p.Probe(context.Background(), testTarget(0)); err == nil {
		t.Fatalf("expected failure")
	}
	if attempts != 1 {
		t.Fatalf("expected one attempt for a zero retry budget, got %d", attempts)
	}
}

func TestTargetFor(t *testing.T) {
	spec := domain.SubServiceSpec{
		ContainerBaseName: "shop-backend",
		ContainerPort:     8080,
		HealthEndpoint:    "/healthz",
		HealthTimeoutSecs: 7,
		HealthRetries:     4,
	}
	target := TargetFor("backend", spec, domain.ColorBlue)
	if target.Container != "shop-backend-blue" {
		t.Fatalf("unexpected container %q", target.Container)
	}
	if target.Port != 8080 || target.Path != "/healthz" || target.Retries != 4 {
		t.Fatalf("unexpected target %+v", target)
	}
	if target.Timeout != 7*time.Second {
		t.Fatalf("unexpected timeout %v", target.Timeout)
	}
}

func TestProbeAllProbesFullSet(t *testing.T) {
	probed := map[string]bool{}
	p := testProber(func(_ context.Context, container string, _ int, _ string, _ time.Duration) error {
		probed[container] = true
		if container == "shop-backend-green" {
			return errors.New("down")
		}
		return nil
	})
	report := p.ProbeAll(context.Background(), map[string]Target{
		"backend":  {Container: "shop-backend-green", Retries: 1, Timeout: time.Second},
		"frontend": {Container: "shop-frontend-green", Retries: 1, Timeout: time.Second},
	})
	if len(probed) != 2 {
		t.Fatalf("every target must be probed even after a failure, got %v", probed)
	}
	if report.HealthyCount() != 1 {
		t.Fatalf("expected one healthy result, got %d", report.HealthyCount())
	}
	key, err := report.FirstFailure()
	if key != "backend" || err == nil {
		t.Fatalf("expected backend failure, got %q %v", key, err)
	}
}

func TestReportPolicies(t *testing.T) {
	down := errors.New("down")
	cases := []struct {
		name    string
		results map[string]error
		strict  bool
		lenient bool
	}{
		{"all healthy", map[string]error{"a": nil, "b": nil}, true, true},
		{"partial", map[string]error{"a": nil, "b": down}, false, true},
		{"none healthy", map[string]error{"a": down, "b": down}, false, false},
		{"empty", map[string]error{}, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := Report{Results: tc.results}
			if got := r.Passes(PolicyStrict); got != tc.strict {
				t.Fatalf("strict: expected %v, got %v", tc.strict, got)
			}
			if got := r.Passes(PolicyLenient); got != tc.lenient {
				t.Fatalf("lenient: expected %v, got %v", tc.lenient, got)
			}
		})
	}
}

func TestParsePolicy(t *testing.T) {
	if p, err := ParsePolicy("strict"); err != nil || p != PolicyStrict {
		t.Fatalf("strict: %v %v", p, err)
	}
	if p, err := ParsePolicy("lenient"); err != nil || p != PolicyLenient {
		t.Fatalf("lenient: %v %v", p, err)
	}
	if _, err := ParsePolicy("mostly"); err == nil {
		t.Fatalf("expected error for unknown policy")
	}
}
