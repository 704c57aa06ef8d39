package config

import (
	"strings"
	"time"
)

// OrchestratorConfig holds runtime configuration for the deployment
// orchestrator.
type OrchestratorConfig struct {
	Environment string
	DockerHost  string
	ComposeBin  string

	// RegistryDir holds the read-only service topology documents.
	RegistryDir string
	// StateDir holds deployment state, fingerprints and lock files.
	StateDir string

	// ProxyConfDir is where per-color upstream documents and the active
	// pointer live. ProxyContainer is the nginx container to validate
	// against and reload.
	ProxyContainer string
	ProxyConfDir   string

	StatusAddr string

	ProbeBackoff    time.Duration
	StartupDelayMin time.Duration
	StartupDelayMax time.Duration

	MonitorInterval   time.Duration
	MonitorWindow     time.Duration
	MonitorMinHealthy int
	// MonitorPolicy and PromotePolicy select the aggregate health policy
	// ("strict" or "lenient") applied at each stage.
	MonitorPolicy string
	PromotePolicy string

	// InfraContainers are shared infrastructure containers that no
	// deployment may ever stop.
	InfraContainers []string

	LockTTL time.Duration
}

// LoadOrchestratorConfig constructs an OrchestratorConfig from environment
// variables.
func LoadOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		Environment:       GetString("APP_ENV", "development"),
		DockerHost:        GetString("DOCKER_HOST", ""),
		ComposeBin:        GetString("COMPOSE_BIN", "docker"),
		RegistryDir:       GetString("SWITCHYARD_REGISTRY_DIR", "/etc/switchyard/services"),
		StateDir:          GetString("SWITCHYARD_STATE_DIR", "/var/lib/switchyard"),
		ProxyContainer:    GetString("PROXY_CONTAINER", "nginx"),
		ProxyConfDir:      GetString("PROXY_CONF_DIR", "/etc/nginx/upstreams"),
		StatusAddr:        GetString("SWITCHYARD_STATUS_ADDR", ":9040"),
		ProbeBackoff:      GetDuration("PROBE_BACKOFF", 2*time.Second),
		StartupDelayMin:   GetDuration("STARTUP_DELAY_MIN", 3*time.Second),
		StartupDelayMax:   GetDuration("STARTUP_DELAY_MAX", 60*time.Second),
		MonitorInterval:   GetDuration("MONITOR_INTERVAL", 10*time.Second),
		MonitorWindow:     GetDuration("MONITOR_WINDOW", 2*time.Minute),
		MonitorMinHealthy: GetInt("MONITOR_MIN_HEALTHY", 3),
		MonitorPolicy:     GetString("MONITOR_POLICY", "lenient"),
		PromotePolicy:     GetString("PROMOTE_POLICY", "strict"),
		InfraContainers:   splitList(GetString("INFRA_CONTAINERS", "postgres,redis")),
		LockTTL:           GetDuration("DEPLOY_LOCK_TTL", 30*time.Minute),
	}
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
