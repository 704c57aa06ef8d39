// Package plan decides, per sub-service, whether a rebuild is required or
// the existing container may be reused. Fingerprints are a cache key only:
// container liveness is re-verified regardless of cache state, because a
// container can be unhealthy for reasons unrelated to source changes.
package plan

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"log/slog"

	"github.com/tandemops/switchyard/internal/domain"
)

// Reasons recorded on planning decisions.
const (
	ReasonNoFingerprint    = "no stored fingerprint"
	ReasonSourceChanged    = "source changed"
	ReasonContainerUnwell  = "container not healthy"
	ReasonUnchangedHealthy = "unchanged source, healthy container"
)

// Decision is the planner's verdict for one sub-service.
type Decision struct {
	SubService  string
	Rebuild     bool
	Reason      string
	Fingerprint string
}

// FingerprintStore persists fingerprints between deployments.
type FingerprintStore interface {
	LoadFingerprints(service string) (map[string]string, error)
	SaveFingerprints(service string, fps map[string]string) error
}

// HealthyFunc reports whether the named container is up and answering its
// health endpoint.
type HealthyFunc func(ctx context.Context, container string, spec domain.SubServiceSpec) bool

// Planner computes per-sub-service build decisions.
type Planner struct {
	store       FingerprintStore
	healthy     HealthyFunc
	fingerprint func(ctx context.Context, repoDir, relPath string) (string, error)
	logger      *slog.Logger
}

// New creates a planner.
func New(store FingerprintStore, healthy HealthyFunc, logger *slog.Logger) *Planner {
	return &Planner{
		store:       store,
		healthy:     healthy,
		fingerprint: Fingerprint,
		logger:      logger,
	}
}

// Plan evaluates every sub-service of the topology against the target
// color. Sub-services are fingerprinted concurrently; the stored
// fingerprints are updated for every changed sub-service before returning.
func (p *Planner) Plan(ctx context.Context, topo domain.ServiceTopology, target domain.Color) ([]Decision, error) {
	stored, err := p.store.LoadFingerprints(topo.Name)
	if err != nil {
		return nil, err
	}

	repoDir := filepath.Dir(topo.ComposeFile)
	keys := topo.SubServiceKeys()
	decisions := make([]Decision, len(keys))

	var wg sync.WaitGroup
	var mu sync.Mutex
	errs := make([]error, 0)
	for i, key := range keys {
		wg.Add(1)
		go func(idx int, key string) {
			defer wg.Done()
			spec := topo.SubServices[key]
			decision, err := p.decide(ctx, repoDir, key, spec, stored[key], target)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("plan %s/%s: %w", topo.Name, key, err))
				return
			}
			decisions[idx] = decision
		}(i, key)
	}
	wg.Wait()
	if len(errs) > 0 {
		return nil, errs[0]
	}

	changed := false
	for _, d := range decisions {
		if stored[d.SubService] != d.Fingerprint {
			stored[d.SubService] = d.Fingerprint
			changed = true
		}
	}
	if changed {
		if err := p.store.SaveFingerprints(topo.Name, stored); err != nil {
			return nil, err
		}
	}
	for _, d := range decisions {
		p.logger.Info("build decision",
			"service", topo.Name,
			"sub_service", d.SubService,
			"rebuild", d.Rebuild,
			"reason", d.Reason)
	}
	return decisions, nil
}

func (p *Planner) decide(ctx context.Context, repoDir, key string, spec domain.SubServiceSpec, stored string, target domain.Color) (Decision, error) {
	current, err := p.fingerprint(ctx, repoDir, sourcePath(repoDir, key))
	if err != nil {
		return Decision{}, err
	}
	decision := Decision{SubService: key, Fingerprint: current}

	switch {
	case stored == "":
		decision.Rebuild = true
		decision.Reason = ReasonNoFingerprint
	case stored != current:
		decision.Rebuild = true
		decision.Reason = ReasonSourceChanged
	default:
		container := domain.ContainerName(spec.ContainerBaseName, target)
		if p.healthy != nil && p.healthy(ctx, container, spec) {
			decision.Reason = ReasonUnchangedHealthy
		} else {
			decision.Rebuild = true
			decision.Reason = ReasonContainerUnwell
		}
	}
	return decision, nil
}

// sourcePath maps a sub-service key to its tracked source subtree: the
// sub-directory named after the key when it exists, otherwise the whole
// service directory.
func sourcePath(repoDir, key string) string {
	if info, err := os.Stat(filepath.Join(repoDir, key)); err == nil && info.IsDir() {
		return key
	}
	return "."
}

// RebuildSet splits decisions into the sub-services to rebuild and those to
// reuse.
func RebuildSet(decisions []Decision) (rebuild, reuse []string) {
	for _, d := range decisions {
		if d.Rebuild {
			rebuild = append(rebuild, d.SubService)
		} else {
			reuse = append(reuse, d.SubService)
		}
	}
	return rebuild, reuse
}
