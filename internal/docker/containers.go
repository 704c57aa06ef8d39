package docker

import (
	"context"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// PortBinding describes one published port of a container.
type PortBinding struct {
	Private int
	Public  int
}

// Container captures the runtime details the orchestrator cares about.
type Container struct {
	ID     string
	Name   string
	State  string
	Status string
	Ports  []PortBinding
}

// IsRunning reports whether the container is in the running state.
func (c Container) IsRunning() bool {
	return strings.EqualFold(c.State, "running")
}

// PublishesPort reports whether the container publishes the given host port.
func (c Container) PublishesPort(port int) bool {
	for _, p := range c.Ports {
		if p.Public == port {
			return true
		}
	}
	return false
}

// ListContainers returns all containers, running or stopped, with the
// leading slash stripped from names.
func (c *Client) ListContainers(ctx context.Context) ([]Container, error) {
	if c == nil || c.inner == nil {
		return nil, fmt.Errorf("docker client not initialized")
	}
	raw, err := c.inner.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}
	out := make([]Container, 0, len(raw))
	for _, item := range raw {
		name := ""
		if len(item.Names) > 0 {
			name = strings.TrimPrefix(item.Names[0], "/")
		}
		ports := make([]PortBinding, 0, len(item.Ports))
		for _, p := range item.Ports {
			ports = append(ports, PortBinding{Private: int(p.PrivatePort), Public: int(p.PublicPort)})
		}
		out = append(out, Container{
			ID:     item.ID,
			Name:   name,
			State:  item.State,
			Status: item.Status,
			Ports:  ports,
		})
	}
	return out, nil
}

// StopContainer stops a container by name, waiting up to timeoutSeconds for
// it to exit. A missing container is not an error.
func (c *Client) StopContainer(ctx context.Context, name string, timeoutSeconds int) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("container name cannot be empty")
	}
	opts := container.StopOptions{}
	if timeoutSeconds > 0 {
		opts.Timeout = &timeoutSeconds
	}
	if err := c.inner.ContainerStop(ctx, name, opts); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("stop container %s: %w", name, err)
	}
	return nil
}

// RemoveContainer force-removes a container by name. A missing container is
// not an error.
func (c *Client) RemoveContainer(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("container name cannot be empty")
	}
	if err := c.inner.ContainerRemove(ctx, name, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("remove container %s: %w", name, err)
	}
	return nil
}

// SignalContainer sends a signal (e.g. HUP) to a running container.
func (c *Client) SignalContainer(ctx context.Context, name, signal string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("container name cannot be empty")
	}
	if err := c.inner.ContainerKill(ctx, name, signal); err != nil {
		if client.IsErrNotFound(err) {
			return fmt.Errorf("%w: container %s", ErrNotFound, name)
		}
		return fmt.Errorf("signal container %s: %w", name, err)
	}
	return nil
}
