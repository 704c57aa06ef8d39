package domain

import (
	"fmt"
	"time"
)

// Status is the lifecycle status of one color of a service.
type Status string

const (
	// StatusRunning marks the color currently receiving traffic.
	StatusRunning Status = "running"
	// StatusReady marks a color that passed the promotion gate but has not
	// been switched to yet.
	StatusReady Status = "ready"
	// StatusStopped marks a retired color with no running containers.
	StatusStopped Status = "stopped"
	// StatusBackup marks the previously active color, kept startable for
	// fast rollback until cleanup.
	StatusBackup Status = "backup"
)

// ColorRecord is the persisted status of one color.
type ColorRecord struct {
	Status     Status     `json:"status"`
	DeployedAt *time.Time `json:"deployedAt,omitempty"`
	Version    string     `json:"version,omitempty"`
}

// DeploymentRecord summarizes the most recent deployment attempt.
type DeploymentRecord struct {
	ID        string    `json:"id,omitempty"`
	Color     Color     `json:"color"`
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`
}

// DeploymentState is the mutable, persisted deployment state of a service.
// It is the single source of truth for which color is live.
type DeploymentState struct {
	ActiveColor    Color                 `json:"activeColor"`
	Colors         map[Color]ColorRecord `json:"colors"`
	LastDeployment *DeploymentRecord     `json:"lastDeployment,omitempty"`
}

// NewDeploymentState returns the first-run bootstrap state: blue active and
// running, green stopped.
func NewDeploymentState() DeploymentState {
	return DeploymentState{
		ActiveColor: ColorBlue,
		Colors: map[Color]ColorRecord{
			ColorBlue:  {Status: StatusRunning},
			ColorGreen: {Status: StatusStopped},
		},
	}
}

// Validate checks the state invariants: a valid active color, records for
// both colors, and the active color in a live status.
func (s DeploymentState) Validate() error {
	if !s.ActiveColor.Valid() {
		return fmt.Errorf("invalid active color %q", s.ActiveColor)
	}
	for _, c := range []Color{ColorBlue, ColorGreen} {
		if _, ok := s.Colors[c]; !ok {
			return fmt.Errorf("missing record for color %s", c)
		}
	}
	active := s.Colors[s.ActiveColor]
	if active.Status != StatusRunning && active.Status != StatusReady {
		return fmt.Errorf("active color %s has status %s", s.ActiveColor, active.Status)
	}
	inactive := s.Colors[s.ActiveColor.Other()]
	if inactive.Status == StatusRunning {
		return fmt.Errorf("both colors report running")
	}
	return nil
}

// Record returns the record for a color, defaulting to stopped.
func (s DeploymentState) Record(c Color) ColorRecord {
	if rec, ok := s.Colors[c]; ok {
		return rec
	}
	return ColorRecord{Status: StatusStopped}
}

// SetRecord replaces the record for a color.
func (s *DeploymentState) SetRecord(c Color, rec ColorRecord) {
	if s.Colors == nil {
		s.Colors = make(map[Color]ColorRecord, 2)
	}
	s.Colors[c] = rec
}

// SetStatus updates only the status of a color's record.
func (s *DeploymentState) SetStatus(c Color, status Status) {
	rec := s.Record(c)
	rec.Status = status
	s.SetRecord(c, rec)
}
