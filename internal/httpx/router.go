// Package httpx exposes the orchestrator's read-side over HTTP: health,
// metrics, and per-service deployment status.
package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tandemops/switchyard/internal/domain"
	"github.com/tandemops/switchyard/internal/registry"
	"github.com/tandemops/switchyard/internal/state"
)

const healthCheckTimeout = 2 * time.Second

// HealthFunc checks a dependency, typically the docker daemon.
type HealthFunc func(ctx context.Context) error

// Router exposes the status endpoints.
type Router struct {
	mux      *http.ServeMux
	logger   *slog.Logger
	registry *registry.Registry
	states   *state.Store
	health   HealthFunc
}

// New creates and registers handlers.
func New(logger *slog.Logger, reg *registry.Registry, states *state.Store, health HealthFunc) *Router {
	r := &Router{
		mux:      http.NewServeMux(),
		logger:   logger,
		registry: reg,
		states:   states,
		health:   health,
	}
	r.initMetrics()
	r.routes()
	return r
}

// ServeHTTP satisfies http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) routes() {
	r.mux.HandleFunc("/metrics", promhttp.Handler().ServeHTTP)
	r.mux.HandleFunc("/healthz", r.instrument("/healthz", r.handleHealth))
	r.mux.HandleFunc("/services", r.instrument("/services", r.handleServices))
	r.mux.HandleFunc("/services/", r.instrument("/services/:name", r.handleService))
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
	defer cancel()
	component := map[string]any{"status": "up"}
	status := "ok"
	if err := r.health(ctx); err != nil {
		status = "degraded"
		component = map[string]any{
			"status": "down",
			"error":  err.Error(),
		}
	}
	payload := map[string]any{
		"status": status,
		"components": map[string]any{
			"docker": component,
		},
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	r.writeJSON(w, code, payload)
}

// serviceView is the JSON shape returned for one service.
type serviceView struct {
	Name           string                              `json:"name"`
	Domain         string                              `json:"domain,omitempty"`
	ActiveColor    domain.Color                        `json:"activeColor"`
	Colors         map[domain.Color]domain.ColorRecord `json:"colors"`
	LastDeployment *domain.DeploymentRecord            `json:"lastDeployment,omitempty"`
}

func (r *Router) handleServices(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	names, err := r.registry.List()
	if err != nil {
		r.logger.Error("list services failed", "error", err)
		r.writeError(w, http.StatusInternalServerError, "list services failed")
		return
	}
	views := make([]serviceView, 0, len(names))
	for _, name := range names {
		view, err := r.serviceView(name)
		if err != nil {
			r.logger.Warn("skipping service in listing", "service", name, "error", err)
			continue
		}
		views = append(views, view)
	}
	r.writeJSON(w, http.StatusOK, map[string]any{"services": views})
}

func (r *Router) handleService(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	name := strings.TrimPrefix(req.URL.Path, "/services/")
	if name == "" || strings.Contains(name, "/") {
		r.writeError(w, http.StatusNotFound, "service not found")
		return
	}
	view, err := r.serviceView(name)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			r.writeError(w, http.StatusNotFound, "service not found")
			return
		}
		r.logger.Error("read service status failed", "service", name, "error", err)
		r.writeError(w, http.StatusInternalServerError, "read service status failed")
		return
	}
	r.writeJSON(w, http.StatusOK, view)
}

func (r *Router) serviceView(name string) (serviceView, error) {
	topo, err := r.registry.Load(name)
	if err != nil {
		return serviceView{}, err
	}
	st, err := r.states.Load(name)
	if err != nil {
		return serviceView{}, err
	}
	return serviceView{
		Name:           topo.Name,
		Domain:         topo.Domain,
		ActiveColor:    st.ActiveColor,
		Colors:         st.Colors,
		LastDeployment: st.LastDeployment,
	}, nil
}

func (r *Router) writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.logger.Error("encode response failed", "error", err)
	}
}

func (r *Router) writeError(w http.ResponseWriter, code int, message string) {
	r.writeJSON(w, code, map[string]string{"error": message})
}
