package proxy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tandemops/switchyard/internal/docker"
)

// NginxProxy validates and reloads an nginx instance running in a
// container: `nginx -t` for validation and SIGHUP for a zero-downtime
// reload.
type NginxProxy struct {
	client    *docker.Client
	container string
}

// NewNginxProxy creates a validator/reloader for the named nginx container.
func NewNginxProxy(client *docker.Client, container string) (*NginxProxy, error) {
	container = strings.TrimSpace(container)
	if container == "" {
		return nil, fmt.Errorf("nginx container name required")
	}
	return &NginxProxy{client: client, container: container}, nil
}

// Validate runs `nginx -t` inside the container.
func (p *NginxProxy) Validate(ctx context.Context) error {
	code, output, err := p.client.Exec(ctx, p.container, []string{"nginx", "-t"})
	if err != nil {
		if errors.Is(err, docker.ErrNotFound) {
			return fmt.Errorf("nginx container %s not found", p.container)
		}
		return err
	}
	if code != 0 {
		return fmt.Errorf("nginx -t failed: %s", strings.TrimSpace(output))
	}
	return nil
}

// Reload signals nginx to re-read its configuration.
func (p *NginxProxy) Reload(ctx context.Context) error {
	if err := p.client.SignalContainer(ctx, p.container, "HUP"); err != nil {
		if errors.Is(err, docker.ErrNotFound) {
			return fmt.Errorf("nginx container %s not found", p.container)
		}
		return err
	}
	return nil
}
