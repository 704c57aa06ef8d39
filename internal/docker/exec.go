package docker

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// Exec runs a command inside a running container and returns its exit code
// and combined output.
func (c *Client) Exec(ctx context.Context, name string, cmd []string) (int, string, error) {
	if strings.TrimSpace(name) == "" {
		return 0, "", fmt.Errorf("container name cannot be empty")
	}
	if len(cmd) == 0 {
		return 0, "", fmt.Errorf("exec command cannot be empty")
	}
	created, err := c.inner.ContainerExecCreate(ctx, name, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		if client.IsErrNotFound(err) {
			return 0, "", fmt.Errorf("%w: container %s", ErrNotFound, name)
		}
		return 0, "", fmt.Errorf("create exec in %s: %w", name, err)
	}

	attach, err := c.inner.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return 0, "", fmt.Errorf("attach exec in %s: %w", name, err)
	}
	defer attach.Close()

	var buf bytes.Buffer
	done := make(chan error, 1)
	go func() {
		_, copyErr := stdcopy.StdCopy(&buf, &buf, attach.Reader)
		done <- copyErr
	}()
	select {
	case <-ctx.Done():
		return 0, buf.String(), fmt.Errorf("exec in %s: %w", name, ctx.Err())
	case copyErr := <-done:
		if copyErr != nil {
			return 0, buf.String(), fmt.Errorf("read exec output from %s: %w", name, copyErr)
		}
	}

	inspect, err := c.inner.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return 0, buf.String(), fmt.Errorf("inspect exec in %s: %w", name, err)
	}
	return inspect.ExitCode, buf.String(), nil
}

// ExecHTTPProbe requests a path on localhost inside the container and
// returns an error when the endpoint does not answer 2xx within the
// timeout. The probe uses wget because application images reliably carry it
// while curl is often absent.
func (c *Client) ExecHTTPProbe(ctx context.Context, name string, port int, path string, timeout time.Duration) error {
	if port <= 0 {
		return fmt.Errorf("probe port must be positive, got %d", port)
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	seconds := int(timeout.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	url := fmt.Sprintf("http://127.0.0.1:%d%s", port, path)
	cmd := []string{"wget", "-q", "-O", "/dev/null", "-T", fmt.Sprintf("%d", seconds), "--tries", "1", url}

	execCtx, cancel := context.WithTimeout(ctx, timeout+2*time.Second)
	defer cancel()

	code, output, err := c.Exec(execCtx, name, cmd)
	if err != nil {
		return err
	}
	if code != 0 {
		msg := strings.TrimSpace(output)
		if msg == "" {
			msg = fmt.Sprintf("exit code %d", code)
		}
		return fmt.Errorf("probe %s %s: %s", name, url, msg)
	}
	return nil
}
