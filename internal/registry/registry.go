// Package registry loads service topology documents produced by the
// registration tooling. The orchestrator only ever reads these.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tandemops/switchyard/internal/domain"
)

// ErrNotFound indicates no topology document exists for the service.
var ErrNotFound = errors.New("registry: service not found")

// Registry reads topology documents from a directory, one JSON file per
// service.
type Registry struct {
	dir string
}

// New creates a registry rooted at dir.
func New(dir string) (*Registry, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("registry directory cannot be empty")
	}
	return &Registry{dir: dir}, nil
}

// Load reads, validates and normalizes the topology for a service.
func (r *Registry) Load(name string) (domain.ServiceTopology, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.ServiceTopology{}, fmt.Errorf("service name cannot be empty")
	}
	data, err := os.ReadFile(filepath.Join(r.dir, name+".json"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.ServiceTopology{}, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return domain.ServiceTopology{}, fmt.Errorf("read topology %s: %w", name, err)
	}
	var topo domain.ServiceTopology
	if err := json.Unmarshal(data, &topo); err != nil {
		return domain.ServiceTopology{}, fmt.Errorf("parse topology %s: %w", name, err)
	}
	if topo.Name == "" {
		topo.Name = name
	}
	if topo.Name != name {
		return domain.ServiceTopology{}, fmt.Errorf("topology %s: document names service %q", name, topo.Name)
	}
	if err := topo.Validate(); err != nil {
		return domain.ServiceTopology{}, fmt.Errorf("invalid topology %s: %w", name, err)
	}
	return topo.Normalize(), nil
}

// List returns the names of all registered services.
func (r *Registry) List() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read registry directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), ".json"))
	}
	sort.Strings(names)
	return names, nil
}
