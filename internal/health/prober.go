// Package health probes sub-service endpoints and aggregates per-endpoint
// results into a single verdict under a selectable policy.
package health

import (
	"context"
	"fmt"
	"time"

	"log/slog"

	"github.com/sethvargo/go-retry"

	"github.com/tandemops/switchyard/internal/domain"
)

// Target identifies one endpoint to probe.
type Target struct {
	Container string
	Port      int
	Path      string
	Timeout   time.Duration
	Retries   int
}

// TargetFor builds the probe target for a sub-service at a given color.
func TargetFor(key string, spec domain.SubServiceSpec, color domain.Color) Target {
	return Target{
		Container: domain.ContainerName(spec.ContainerBaseName, color),
		Port:      spec.ContainerPort,
		Path:      spec.HealthEndpoint,
		Timeout:   spec.HealthTimeout(),
		Retries:   spec.HealthRetries,
	}
}

// ProbeFunc performs a single probe attempt against a container endpoint.
type ProbeFunc func(ctx context.Context, container string, port int, path string, timeout time.Duration) error

// Prober retries endpoint probes with a fixed backoff. It never applies an
// aggregate policy; callers do.
type Prober struct {
	probe   ProbeFunc
	backoff time.Duration
	logger  *slog.Logger
}

// New creates a prober around a single-attempt probe function.
func New(probe ProbeFunc, backoff time.Duration, logger *slog.Logger) *Prober {
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	return &Prober{probe: probe, backoff: backoff, logger: logger}
}

// Probe attempts the target up to its retry budget, with a constant backoff
// between attempts. It returns nil as soon as one attempt succeeds.
func (p *Prober) Probe(ctx context.Context, t Target) error {
	attempts := t.Retries
	if attempts < 1 {
		attempts = 1
	}
	attempt := 0
	backoff := retry.WithMaxRetries(uint64(attempts-1), retry.NewConstant(p.backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		attemptCtx, cancel := context.WithTimeout(ctx, t.Timeout)
		defer cancel()
		if err := p.probe(attemptCtx, t.Container, t.Port, t.Path, t.Timeout); err != nil {
			p.logger.Debug("probe attempt failed",
				"container", t.Container,
				"path", t.Path,
				"attempt", attempt,
				"error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("probe %s%s unhealthy after %d attempts: %w", t.Container, t.Path, attempt, err)
	}
	return nil
}

// Report holds the per-sub-service probe outcomes of one aggregate check.
type Report struct {
	Results map[string]error
}

// ProbeAll probes every target and records each outcome. It always probes
// the full set; policy interpretation is left to the caller.
func (p *Prober) ProbeAll(ctx context.Context, targets map[string]Target) Report {
	report := Report{Results: make(map[string]error, len(targets))}
	for key, target := range targets {
		report.Results[key] = p.Probe(ctx, target)
	}
	return report
}

// HealthyCount returns how many sub-services reported healthy.
func (r Report) HealthyCount() int {
	n := 0
	for _, err := range r.Results {
		if err == nil {
			n++
		}
	}
	return n
}

// AllHealthy reports whether every sub-service passed.
func (r Report) AllHealthy() bool {
	return len(r.Results) > 0 && r.HealthyCount() == len(r.Results)
}

// AnyHealthy reports whether at least one sub-service passed.
func (r Report) AnyHealthy() bool {
	return r.HealthyCount() > 0
}

// FirstFailure returns one failing sub-service and its error, for
// reporting. The empty string when all passed.
func (r Report) FirstFailure() (string, error) {
	for key, err := range r.Results {
		if err != nil {
			return key, err
		}
	}
	return "", nil
}

// Policy is an aggregate rule turning per-endpoint results into one
// verdict.
type Policy string

const (
	// PolicyStrict requires every sub-service to report healthy. Used as
	// the promotion gate.
	PolicyStrict Policy = "strict"
	// PolicyLenient requires at least one healthy sub-service. Used for
	// steady-state monitoring, where only total failure should trigger
	// rollback.
	PolicyLenient Policy = "lenient"
)

// ParsePolicy validates a policy name.
func ParsePolicy(raw string) (Policy, error) {
	switch Policy(raw) {
	case PolicyStrict:
		return PolicyStrict, nil
	case PolicyLenient:
		return PolicyLenient, nil
	}
	return "", fmt.Errorf("unknown health policy %q (expected %q or %q)", raw, PolicyStrict, PolicyLenient)
}

// Passes applies the policy to the report.
func (r Report) Passes(p Policy) bool {
	if p == PolicyStrict {
		return r.AllHealthy()
	}
	return r.AnyHealthy()
}
