// Package conflict clears container-name and port collisions before a color
// is started. Failures here are logged and tolerated: a genuine conflict
// surfaces later as a container-start failure, which is fatal.
package conflict

import (
	"context"
	"strings"

	"log/slog"

	"github.com/tandemops/switchyard/internal/docker"
	"github.com/tandemops/switchyard/internal/domain"
)

// Runtime is the container-runtime surface the resolver needs.
type Runtime interface {
	ListContainers(ctx context.Context) ([]docker.Container, error)
	StopContainer(ctx context.Context, name string, timeoutSeconds int) error
	RemoveContainer(ctx context.Context, name string) error
}

// Resolver removes stale containers that would collide with the target
// color's names or ports.
type Resolver struct {
	runtime Runtime
	infra   map[string]bool
	logger  *slog.Logger
}

// New creates a resolver. infra lists shared infrastructure container names
// that must never be touched.
func New(runtime Runtime, infra []string, logger *slog.Logger) *Resolver {
	set := make(map[string]bool, len(infra))
	for _, name := range infra {
		set[strings.TrimSpace(name)] = true
	}
	return &Resolver{runtime: runtime, infra: set, logger: logger}
}

// ClearForStart removes, best-effort, every container that would collide
// with the target color: same-name leftovers (running or stopped) and
// containers bound to a configured port. The currently-active color's
// containers, shared infrastructure, and the containers named in keep
// (target-color containers the build plan reuses) are never touched. The
// method runs to completion even when individual removals fail.
func (r *Resolver) ClearForStart(ctx context.Context, topo domain.ServiceTopology, target, active domain.Color, keep []string) error {
	containers, err := r.runtime.ListContainers(ctx)
	if err != nil {
		return err
	}
	byName := make(map[string]docker.Container, len(containers))
	for _, c := range containers {
		byName[c.Name] = c
	}

	protected := make(map[string]bool, len(topo.SubServices)+len(keep))
	for _, spec := range topo.SubServices {
		protected[domain.ContainerName(spec.ContainerBaseName, active)] = true
	}
	for _, name := range keep {
		protected[strings.TrimSpace(name)] = true
	}

	for _, key := range topo.SubServiceKeys() {
		spec := topo.SubServices[key]
		name := domain.ContainerName(spec.ContainerBaseName, target)
		if protected[name] {
			// Active means live traffic, kept means the plan reuses it.
			continue
		}
		if _, exists := byName[name]; exists {
			r.remove(ctx, name, "name collision")
		}
		if spec.ContainerPort <= 0 {
			continue
		}
		for _, c := range containers {
			if c.Name == name || protected[c.Name] || r.infra[c.Name] {
				continue
			}
			if c.IsRunning() && c.PublishesPort(spec.ContainerPort) {
				r.remove(ctx, c.Name, "port collision")
			}
		}
	}
	return nil
}

func (r *Resolver) remove(ctx context.Context, name, reason string) {
	r.logger.Info("clearing conflicting container", "container", name, "reason", reason)
	if err := r.runtime.StopContainer(ctx, name, 10); err != nil {
		r.logger.Warn("stop conflicting container failed", "container", name, "error", err)
	}
	if err := r.runtime.RemoveContainer(ctx, name); err != nil {
		r.logger.Warn("remove conflicting container failed", "container", name, "error", err)
	}
}
