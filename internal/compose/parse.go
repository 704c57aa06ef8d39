package compose

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/docker/go-connections/nat"
	"gopkg.in/yaml.v3"
)

// File is the subset of a compose document the orchestrator reads.
type File struct {
	Services map[string]Service `yaml:"services"`
}

// Service is the subset of a compose service definition used for port
// autodetection.
type Service struct {
	ContainerName string   `yaml:"container_name"`
	Ports         []string `yaml:"ports"`
	Expose        []string `yaml:"expose"`
}

// Parse reads a compose file from disk.
func Parse(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read compose file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse compose file %s: %w", path, err)
	}
	return &f, nil
}

// ContainerPort returns the container-side port for a compose service,
// preferring published port mappings over expose entries.
func (f *File) ContainerPort(service string) (int, bool) {
	svc, ok := f.Services[service]
	if !ok {
		return 0, false
	}
	for _, mapping := range svc.Ports {
		if port, ok := containerSidePort(mapping); ok {
			return port, true
		}
	}
	for _, raw := range svc.Expose {
		if port, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && port > 0 {
			return port, true
		}
	}
	return 0, false
}

// containerSidePort extracts the container port from a compose port
// mapping such as "8080:80", "127.0.0.1:8080:80/tcp" or "3000".
func containerSidePort(mapping string) (int, bool) {
	mapping = strings.TrimSpace(mapping)
	if mapping == "" {
		return 0, false
	}
	specs, err := nat.ParsePortSpec(mapping)
	// Published ranges expand to multiple specs and are not usable as a
	// single probe port.
	if err != nil || len(specs) != 1 {
		return 0, false
	}
	port := specs[0].Port.Int()
	if port <= 0 {
		return 0, false
	}
	return port, true
}
