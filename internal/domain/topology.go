package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Default values applied to optional sub-service fields at load time, so
// downstream logic never has to test for absent settings.
const (
	DefaultHealthEndpoint     = "/health"
	DefaultHealthTimeoutSecs  = 5
	DefaultHealthRetries      = 3
	DefaultStartupTimeSeconds = 10
)

// SubServiceSpec describes one independently buildable and startable unit
// within a service.
type SubServiceSpec struct {
	ContainerBaseName string `json:"containerBaseName"`
	// ContainerPort may be zero, in which case it is auto-detected from
	// the compose file before use.
	ContainerPort      int    `json:"containerPort,omitempty"`
	HealthEndpoint     string `json:"healthEndpoint,omitempty"`
	HealthTimeoutSecs  int    `json:"healthTimeoutSeconds,omitempty"`
	HealthRetries      int    `json:"healthRetries,omitempty"`
	StartupTimeSeconds int    `json:"startupTimeSeconds,omitempty"`
}

// HealthTimeout returns the per-attempt probe timeout.
func (s SubServiceSpec) HealthTimeout() time.Duration {
	return time.Duration(s.HealthTimeoutSecs) * time.Second
}

// StartupTime returns the expected startup delay for the sub-service.
func (s SubServiceSpec) StartupTime() time.Duration {
	return time.Duration(s.StartupTimeSeconds) * time.Second
}

// ServiceTopology is the immutable description of a service: its routing
// domain, shared dependencies, compose file and sub-services. It is produced
// by the registration tooling and only ever read by the orchestrator.
type ServiceTopology struct {
	Name               string                    `json:"name"`
	Domain             string                    `json:"domain"`
	SharedDependencies []string                  `json:"sharedDependencies,omitempty"`
	Network            string                    `json:"network,omitempty"`
	ComposeFile        string                    `json:"composeFile"`
	SubServices        map[string]SubServiceSpec `json:"subServices"`
}

// Validate checks structural invariants of the topology.
func (t ServiceTopology) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("service name is required")
	}
	if strings.TrimSpace(t.Domain) == "" {
		return fmt.Errorf("service %s: domain is required", t.Name)
	}
	if strings.TrimSpace(t.ComposeFile) == "" {
		return fmt.Errorf("service %s: composeFile is required", t.Name)
	}
	if len(t.SubServices) == 0 {
		return fmt.Errorf("service %s: at least one sub-service is required", t.Name)
	}
	seen := make(map[string]string, len(t.SubServices))
	for key, sub := range t.SubServices {
		base := strings.TrimSpace(sub.ContainerBaseName)
		if base == "" {
			return fmt.Errorf("service %s: sub-service %s: containerBaseName is required", t.Name, key)
		}
		if prev, ok := seen[base]; ok {
			return fmt.Errorf("service %s: container base name %q used by both %s and %s", t.Name, base, prev, key)
		}
		seen[base] = key
		if sub.ContainerPort < 0 || sub.ContainerPort > 65535 {
			return fmt.Errorf("service %s: sub-service %s: invalid container port %d", t.Name, key, sub.ContainerPort)
		}
	}
	return nil
}

// Normalize fills in defaults for optional sub-service fields. It returns a
// copy; the loaded topology itself is treated as immutable.
func (t ServiceTopology) Normalize() ServiceTopology {
	out := t
	out.SubServices = make(map[string]SubServiceSpec, len(t.SubServices))
	for key, sub := range t.SubServices {
		if strings.TrimSpace(sub.HealthEndpoint) == "" {
			sub.HealthEndpoint = DefaultHealthEndpoint
		}
		if !strings.HasPrefix(sub.HealthEndpoint, "/") {
			sub.HealthEndpoint = "/" + sub.HealthEndpoint
		}
		if sub.HealthTimeoutSecs <= 0 {
			sub.HealthTimeoutSecs = DefaultHealthTimeoutSecs
		}
		if sub.HealthRetries <= 0 {
			sub.HealthRetries = DefaultHealthRetries
		}
		if sub.StartupTimeSeconds <= 0 {
			sub.StartupTimeSeconds = DefaultStartupTimeSeconds
		}
		out.SubServices[key] = sub
	}
	return out
}

// SubServiceKeys returns the sub-service keys in sorted order for
// deterministic iteration.
func (t ServiceTopology) SubServiceKeys() []string {
	keys := make([]string, 0, len(t.SubServices))
	for key := range t.SubServices {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
