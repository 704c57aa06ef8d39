package lifecycle

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/tandemops/switchyard/internal/domain"
	"github.com/tandemops/switchyard/internal/health"
)

// Rollback manually returns traffic to the backup color: its containers are
// started if needed, checked against the promotion policy, and the proxy is
// switched back. The current color is retired to stopped.
func (m *Manager) Rollback(ctx context.Context, name string) error {
	topo, err := m.topologies.Load(name)
	if err != nil {
		return err
	}
	topo, err = m.resolvePorts(topo)
	if err != nil {
		return err
	}

	lock, err := m.states.Acquire(name, m.cfg.LockTTL)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			m.logger.Warn("release deployment lock failed", "service", name, "error", err)
		}
	}()

	st, err := m.states.Load(name)
	if err != nil {
		return err
	}
	previous := st.ActiveColor.Other()
	if rec := st.Record(previous); rec.Status != domain.StatusBackup && rec.Status != domain.StatusStopped {
		return fmt.Errorf("service %s: color %s is %s, nothing to roll back to", name, previous, rec.Status)
	}

	attemptID := uuid.NewString()
	log := m.logger.With("service", name, "deployment_id", attemptID, "target", previous)
	log.Info("manual rollback starting", "active", st.ActiveColor)

	env := colorEnv(topo.Name, previous)
	project := projectName(topo.Name, previous)
	if err := m.compose.Up(ctx, topo.ComposeFile, project, topo.SubServiceKeys(), false, env); err != nil {
		return fmt.Errorf("start %s for rollback: %w", previous, err)
	}
	if delay := m.startupDelay(topo, topo.SubServiceKeys()); delay > 0 {
		if err := m.sleep(ctx, delay); err != nil {
			return fmt.Errorf("rollback aborted during startup: %w", err)
		}
	}

	report := m.prober.ProbeAll(ctx, m.targets(topo, previous))
	if !report.Passes(health.PolicyStrict) {
		key, probeErr := report.FirstFailure()
		return fmt.Errorf("rollback target unhealthy: sub-service %s: %v", key, probeErr)
	}

	if err := m.rollback(ctx, log, topo, &st, st.ActiveColor, attemptID); err != nil {
		return err
	}
	log.Info("manual rollback completed")
	return nil
}

// Cleanup retires the inactive color: its containers are stopped and its
// record moves to stopped. The active color and shared infrastructure are
// untouched.
func (m *Manager) Cleanup(ctx context.Context, name string) error {
	topo, err := m.topologies.Load(name)
	if err != nil {
		return err
	}

	lock, err := m.states.Acquire(name, m.cfg.LockTTL)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			m.logger.Warn("release deployment lock failed", "service", name, "error", err)
		}
	}()

	st, err := m.states.Load(name)
	if err != nil {
		return err
	}
	inactive := st.ActiveColor.Other()
	if st.Record(inactive).Status == domain.StatusStopped {
		m.logger.Info("inactive color already stopped", "service", name, "color", inactive)
		return nil
	}

	if err := m.compose.Stop(ctx, topo.ComposeFile, projectName(topo.Name, inactive), topo.SubServiceKeys(), colorEnv(topo.Name, inactive)); err != nil {
		return fmt.Errorf("stop %s containers: %w", inactive, err)
	}
	st.SetStatus(inactive, domain.StatusStopped)
	if err := m.states.Save(name, st); err != nil {
		return err
	}
	m.logger.Info("inactive color retired", "service", name, "color", inactive)
	return nil
}
