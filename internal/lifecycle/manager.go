// Package lifecycle orchestrates blue/green deployments: Prepare, Switch,
// Monitor, Cleanup, with Rollback reachable from any post-switch failure.
// Phases run strictly in order; each phase's precondition is the previous
// phase's confirmed outcome. Lower components report failures; only this
// package initiates compensating actions.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/tandemops/switchyard/internal/compose"
	"github.com/tandemops/switchyard/internal/docker"
	"github.com/tandemops/switchyard/internal/domain"
	"github.com/tandemops/switchyard/internal/health"
	"github.com/tandemops/switchyard/internal/plan"
	"github.com/tandemops/switchyard/internal/state"
	"github.com/tandemops/switchyard/pkg/config"
)

// TopologyLoader resolves a service name to its topology.
type TopologyLoader interface {
	Load(name string) (domain.ServiceTopology, error)
}

// Planner decides which sub-services need rebuilding.
type Planner interface {
	Plan(ctx context.Context, topo domain.ServiceTopology, target domain.Color) ([]plan.Decision, error)
}

// Resolver clears name and port collisions before a color starts, leaving
// the keep containers in place.
type Resolver interface {
	ClearForStart(ctx context.Context, topo domain.ServiceTopology, target, active domain.Color, keep []string) error
}

// ComposeRunner starts and stops compose services.
type ComposeRunner interface {
	Up(ctx context.Context, file, project string, services []string, build bool, env map[string]string) error
	Stop(ctx context.Context, file, project string, services []string, env map[string]string) error
}

// Runtime lists live containers for rendering and conflict checks.
type Runtime interface {
	ListContainers(ctx context.Context) ([]docker.Container, error)
}

// Prober performs aggregate health checks.
type Prober interface {
	ProbeAll(ctx context.Context, targets map[string]health.Target) health.Report
}

// Switcher atomically redirects traffic to a color.
type Switcher interface {
	Switch(ctx context.Context, topo domain.ServiceTopology, target domain.Color, live []docker.Container) error
}

// Manager drives the deployment state machine for one service at a time.
type Manager struct {
	topologies TopologyLoader
	states     *state.Store
	planner    Planner
	resolver   Resolver
	compose    ComposeRunner
	runtime    Runtime
	prober     Prober
	switcher   Switcher
	cfg        config.OrchestratorConfig
	logger     *slog.Logger
	metrics    *metrics

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a lifecycle manager.
func New(topologies TopologyLoader, states *state.Store, planner Planner, resolver Resolver, composeRunner ComposeRunner, runtime Runtime, prober Prober, switcher Switcher, cfg config.OrchestratorConfig, logger *slog.Logger) *Manager {
	return &Manager{
		topologies: topologies,
		states:     states,
		planner:    planner,
		resolver:   resolver,
		compose:    composeRunner,
		runtime:    runtime,
		prober:     prober,
		switcher:   switcher,
		cfg:        cfg,
		logger:     logger,
		metrics:    newMetrics(),
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

// compensateTimeout bounds rollback and teardown work that runs detached
// from the caller's context.
const compensateTimeout = 2 * time.Minute

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func projectName(service string, color domain.Color) string {
	return fmt.Sprintf("%s-%s", service, color)
}

func colorEnv(service string, color domain.Color) map[string]string {
	return map[string]string{
		"COLOR":   string(color),
		"SERVICE": service,
	}
}

// Deploy runs a full blue/green deployment of the named service: build the
// inactive color, gate it on strict health, switch traffic, monitor, then
// retire the old color. Any failure after the switch triggers rollback.
func (m *Manager) Deploy(ctx context.Context, name string) error {
	topo, err := m.topologies.Load(name)
	if err != nil {
		m.metrics.recordOutcome("config_error")
		return err
	}
	topo, err = m.resolvePorts(topo)
	if err != nil {
		m.metrics.recordOutcome("config_error")
		return err
	}

	lock, err := m.states.Acquire(name, m.cfg.LockTTL)
	if err != nil {
		m.metrics.recordOutcome("locked")
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			m.logger.Warn("release deployment lock failed", "service", name, "error", err)
		}
	}()

	st, err := m.states.Load(name)
	if err != nil {
		m.metrics.recordOutcome("state_error")
		return err
	}

	target := st.ActiveColor.Other()
	attemptID := uuid.NewString()
	log := m.logger.With("service", name, "deployment_id", attemptID, "target", target)
	log.Info("deployment starting", "active", st.ActiveColor)

	if err := m.prepare(ctx, log, topo, &st, target, attemptID); err != nil {
		return err
	}

	if err := m.switchTraffic(ctx, log, topo, &st, target, attemptID); err != nil {
		return err
	}

	if err := m.monitor(ctx, log, topo, target); err != nil {
		log.Error("post-switch monitoring failed, rolling back", "error", err)
		// The monitor may have failed because ctx was cancelled; the
		// compensating path must still run to completion.
		rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensateTimeout)
		defer cancel()
		if rbErr := m.rollback(rbCtx, log, topo, &st, target, attemptID); rbErr != nil {
			log.Error("rollback failed", "error", rbErr)
			m.metrics.recordOutcome("rollback_failed")
			return fmt.Errorf("monitoring failed (%v) and rollback failed: %w", err, rbErr)
		}
		m.metrics.recordOutcome("rolled_back")
		return fmt.Errorf("deployment rolled back: %w", err)
	}

	m.cleanup(ctx, log, topo, &st, target.Other())
	m.metrics.recordOutcome("success")
	log.Info("deployment completed")
	return nil
}

// resolvePorts fills in container ports the topology leaves to
// autodetection, reading them from the compose file.
func (m *Manager) resolvePorts(topo domain.ServiceTopology) (domain.ServiceTopology, error) {
	missing := false
	for _, spec := range topo.SubServices {
		if spec.ContainerPort <= 0 {
			missing = true
			break
		}
	}
	if !missing {
		return topo, nil
	}
	file, err := compose.Parse(topo.ComposeFile)
	if err != nil {
		return topo, fmt.Errorf("autodetect ports for %s: %w", topo.Name, err)
	}
	for key, spec := range topo.SubServices {
		if spec.ContainerPort > 0 {
			continue
		}
		port, ok := file.ContainerPort(key)
		if !ok {
			return topo, fmt.Errorf("service %s: sub-service %s declares no containerPort and none could be detected from %s", topo.Name, key, topo.ComposeFile)
		}
		spec.ContainerPort = port
		topo.SubServices[key] = spec
	}
	return topo, nil
}

// prepare builds and starts the target color and gates it on the promotion
// health policy. A failure tears the partially-started color down; traffic
// is never touched.
func (m *Manager) prepare(ctx context.Context, log *slog.Logger, topo domain.ServiceTopology, st *domain.DeploymentState, target domain.Color, attemptID string) error {
	phaseStart := m.now()
	defer m.metrics.observePhase("prepare", phaseStart)

	decisions, err := m.planner.Plan(ctx, topo, target)
	if err != nil {
		m.metrics.recordOutcome("plan_error")
		return m.failBeforeSwitch(log, topo, st, target, attemptID, fmt.Errorf("build planning: %w", err))
	}
	rebuild, reuse := plan.RebuildSet(decisions)
	log.Info("build plan resolved", "rebuild", len(rebuild), "reuse", len(reuse))

	// Reused containers are healthy target-color containers; clearing them
	// would undo the plan, since only the rebuild set is started below.
	keep := make([]string, 0, len(reuse))
	for _, key := range reuse {
		keep = append(keep, domain.ContainerName(topo.SubServices[key].ContainerBaseName, target))
	}
	if err := m.resolver.ClearForStart(ctx, topo, target, st.ActiveColor, keep); err != nil {
		// Best effort: a real conflict resurfaces as a start failure.
		log.Warn("conflict resolution incomplete", "error", err)
	}

	env := colorEnv(topo.Name, target)
	project := projectName(topo.Name, target)
	if len(rebuild) > 0 {
		if err := m.compose.Up(ctx, topo.ComposeFile, project, rebuild, true, env); err != nil {
			m.metrics.recordOutcome("build_failed")
			return m.failBeforeSwitch(log, topo, st, target, attemptID, fmt.Errorf("start %s: %w", target, err))
		}
	}

	if delay := m.startupDelay(topo, rebuild); delay > 0 {
		log.Info("waiting for startup", "delay", delay)
		if err := m.sleep(ctx, delay); err != nil {
			m.metrics.recordOutcome("aborted")
			return m.teardownAndFail(ctx, log, topo, st, target, attemptID, fmt.Errorf("deployment aborted during startup: %w", err))
		}
	}

	policy, err := health.ParsePolicy(m.cfg.PromotePolicy)
	if err != nil {
		policy = health.PolicyStrict
	}
	report := m.prober.ProbeAll(ctx, m.targets(topo, target))
	if !report.Passes(policy) {
		key, probeErr := report.FirstFailure()
		m.metrics.recordOutcome("health_gate_failed")
		return m.teardownAndFail(ctx, log, topo, st, target, attemptID, fmt.Errorf("promotion gate: sub-service %s unhealthy: %v", key, probeErr))
	}

	st.SetRecord(target, domain.ColorRecord{Status: domain.StatusReady, Version: attemptID})
	if err := m.states.Save(topo.Name, *st); err != nil {
		m.metrics.recordOutcome("state_error")
		return m.teardownAndFail(ctx, log, topo, st, target, attemptID, err)
	}
	log.Info("target color ready for promotion")
	return nil
}

// switchTraffic performs the atomic proxy switch and commits the new active
// color to state. The switcher reverts the proxy itself on failure; this
// method only has to retire the failed target.
func (m *Manager) switchTraffic(ctx context.Context, log *slog.Logger, topo domain.ServiceTopology, st *domain.DeploymentState, target domain.Color, attemptID string) error {
	phaseStart := m.now()
	defer m.metrics.observePhase("switch", phaseStart)

	live, err := m.runtime.ListContainers(ctx)
	if err != nil {
		m.metrics.recordOutcome("switch_failed")
		return m.teardownAndFail(ctx, log, topo, st, target, attemptID, fmt.Errorf("list containers before switch: %w", err))
	}

	if err := m.switcher.Switch(ctx, topo, target, live); err != nil {
		m.metrics.recordOutcome("switch_failed")
		return m.teardownAndFail(ctx, log, topo, st, target, attemptID, fmt.Errorf("traffic switch: %w", err))
	}

	now := m.now().UTC()
	previous := st.ActiveColor
	st.ActiveColor = target
	st.SetRecord(target, domain.ColorRecord{Status: domain.StatusRunning, DeployedAt: &now, Version: attemptID})
	st.SetStatus(previous, domain.StatusBackup)
	st.LastDeployment = &domain.DeploymentRecord{ID: attemptID, Color: target, Timestamp: now, Success: true}

	if err := m.states.Save(topo.Name, *st); err != nil {
		// The proxy now disagrees with the last durable state. Persisted
		// state is the source of truth, so put traffic back where the
		// state says it is.
		log.Error("state persistence failed after switch, restoring previous color", "error", err)
		if swErr := m.switcher.Switch(ctx, topo, previous, live); swErr != nil {
			log.Error("restore previous color failed", "error", swErr)
		}
		m.metrics.recordOutcome("state_error")
		return fmt.Errorf("persist switched state: %w", err)
	}
	log.Info("traffic switched", "active", target, "backup", previous)
	return nil
}

// monitor repeatedly probes the new color for the configured window and
// requires a minimum number of healthy checks. External cancellation counts
// as a monitoring failure so an aborted deployment is never left
// half-switched.
func (m *Manager) monitor(ctx context.Context, log *slog.Logger, topo domain.ServiceTopology, target domain.Color) error {
	phaseStart := m.now()
	defer m.metrics.observePhase("monitor", phaseStart)

	interval := m.cfg.MonitorInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	window := m.cfg.MonitorWindow
	if window <= 0 {
		window = 2 * time.Minute
	}
	checks := int(window / interval)
	if checks < 1 {
		checks = 1
	}
	required := m.cfg.MonitorMinHealthy
	if required < 1 {
		required = 1
	}
	if required > checks {
		log.Warn("monitor threshold exceeds possible checks, clamping", "required", required, "checks", checks)
		required = checks
	}

	policy, err := health.ParsePolicy(m.cfg.MonitorPolicy)
	if err != nil {
		policy = health.PolicyLenient
	}
	targets := m.targets(topo, target)

	healthy := 0
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	deadline := time.NewTimer(window)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("monitoring aborted: %w", ctx.Err())
		case <-deadline.C:
			if healthy < required {
				return fmt.Errorf("monitoring window closed with %d/%d healthy checks", healthy, required)
			}
			return nil
		case <-ticker.C:
			// The loop intentionally runs for the whole window even after
			// the threshold is met: a deployment is not done until
			// monitored.
			report := m.prober.ProbeAll(ctx, targets)
			if report.Passes(policy) {
				healthy++
			} else {
				key, probeErr := report.FirstFailure()
				log.Warn("monitor check failed", "sub_service", key, "error", probeErr)
			}
		}
	}
}

// rollback is the mirror of switchTraffic: traffic returns to the previous
// color, the failed color's containers are stopped, and the failure is
// recorded. Shared infrastructure containers are outside the color's
// compose project and are never stopped.
func (m *Manager) rollback(ctx context.Context, log *slog.Logger, topo domain.ServiceTopology, st *domain.DeploymentState, failed domain.Color, attemptID string) error {
	m.metrics.recordRollback()
	previous := failed.Other()

	live, err := m.runtime.ListContainers(ctx)
	if err != nil {
		log.Warn("list containers during rollback failed", "error", err)
		live = nil
	}
	if err := m.switcher.Switch(ctx, topo, previous, live); err != nil {
		return fmt.Errorf("switch traffic back to %s: %w", previous, err)
	}

	if err := m.compose.Stop(ctx, topo.ComposeFile, projectName(topo.Name, failed), topo.SubServiceKeys(), colorEnv(topo.Name, failed)); err != nil {
		log.Warn("stop failed color containers", "color", failed, "error", err)
	}

	now := m.now().UTC()
	st.ActiveColor = previous
	st.SetStatus(previous, domain.StatusRunning)
	st.SetStatus(failed, domain.StatusStopped)
	st.LastDeployment = &domain.DeploymentRecord{ID: attemptID, Color: failed, Timestamp: now, Success: false}
	if err := m.states.Save(topo.Name, *st); err != nil {
		return err
	}
	log.Info("rollback completed", "active", previous)
	return nil
}

// cleanup retires the now-inactive color after successful monitoring. A
// failure here is logged but does not fail the deployment; the color stays
// in backup for a later manual cleanup.
func (m *Manager) cleanup(ctx context.Context, log *slog.Logger, topo domain.ServiceTopology, st *domain.DeploymentState, old domain.Color) {
	phaseStart := m.now()
	defer m.metrics.observePhase("cleanup", phaseStart)

	if err := m.compose.Stop(ctx, topo.ComposeFile, projectName(topo.Name, old), topo.SubServiceKeys(), colorEnv(topo.Name, old)); err != nil {
		log.Warn("cleanup: stop old color failed, leaving it in backup", "color", old, "error", err)
		return
	}
	st.SetStatus(old, domain.StatusStopped)
	if err := m.states.Save(topo.Name, *st); err != nil {
		log.Warn("cleanup: persist state failed", "error", err)
	}
}

// failBeforeSwitch records a deployment failure that happened before any
// containers of the target color were started.
func (m *Manager) failBeforeSwitch(log *slog.Logger, topo domain.ServiceTopology, st *domain.DeploymentState, target domain.Color, attemptID string, cause error) error {
	now := m.now().UTC()
	st.LastDeployment = &domain.DeploymentRecord{ID: attemptID, Color: target, Timestamp: now, Success: false}
	if err := m.states.Save(topo.Name, *st); err != nil {
		log.Error("record deployment failure", "error", err)
	}
	return cause
}

// teardownAndFail stops the partially-started target color and records the
// failure. The active color is untouched. The stop runs on a fresh context:
// the failure being compensated may itself be a cancellation.
func (m *Manager) teardownAndFail(ctx context.Context, log *slog.Logger, topo domain.ServiceTopology, st *domain.DeploymentState, target domain.Color, attemptID string, cause error) error {
	log.Error("deployment failed before promotion, tearing down target color", "error", cause)
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensateTimeout)
	defer cancel()
	if err := m.compose.Stop(stopCtx, topo.ComposeFile, projectName(topo.Name, target), topo.SubServiceKeys(), colorEnv(topo.Name, target)); err != nil {
		log.Warn("teardown of target color failed", "color", target, "error", err)
	}
	st.SetStatus(target, domain.StatusStopped)
	return m.failBeforeSwitch(log, topo, st, target, attemptID, cause)
}

func (m *Manager) startupDelay(topo domain.ServiceTopology, started []string) time.Duration {
	var max time.Duration
	for _, key := range started {
		if spec, ok := topo.SubServices[key]; ok {
			if d := spec.StartupTime(); d > max {
				max = d
			}
		}
	}
	if max < m.cfg.StartupDelayMin {
		max = m.cfg.StartupDelayMin
	}
	if m.cfg.StartupDelayMax > 0 && max > m.cfg.StartupDelayMax {
		max = m.cfg.StartupDelayMax
	}
	return max
}

func (m *Manager) targets(topo domain.ServiceTopology, color domain.Color) map[string]health.Target {
	targets := make(map[string]health.Target, len(topo.SubServices))
	for key, spec := range topo.SubServices {
		targets[key] = health.TargetFor(key, spec, color)
	}
	return targets
}
