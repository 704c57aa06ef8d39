// Package compose drives docker compose projects and reads compose files
// for sub-service port autodetection.
package compose

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
)

// Runner executes docker compose commands for a project.
type Runner struct {
	bin string
}

// NewRunner creates a compose runner. bin is the docker CLI binary,
// defaulting to "docker".
func NewRunner(bin string) *Runner {
	if strings.TrimSpace(bin) == "" {
		bin = "docker"
	}
	return &Runner{bin: bin}
}

// Up starts the named services of a compose project in detached mode.
// When build is true the services are rebuilt first, otherwise existing
// images are reused.
func (r *Runner) Up(ctx context.Context, file, project string, services []string, build bool, env map[string]string) error {
	if len(services) == 0 {
		return nil
	}
	args := []string{"compose", "-f", file, "-p", project, "up", "-d", "--no-deps"}
	if build {
		args = append(args, "--build")
	} else {
		args = append(args, "--no-build")
	}
	args = append(args, services...)
	return r.run(ctx, args, env)
}

// Stop stops the named services of a compose project. With no services the
// whole project is stopped.
func (r *Runner) Stop(ctx context.Context, file, project string, services []string, env map[string]string) error {
	args := []string{"compose", "-f", file, "-p", project, "stop"}
	args = append(args, services...)
	return r.run(ctx, args, env)
}

func (r *Runner) run(ctx context.Context, args []string, env map[string]string) error {
	cmd := exec.CommandContext(ctx, r.bin, args...)
	cmd.Env = os.Environ()
	for _, key := range sortedKeys(env) {
		cmd.Env = append(cmd.Env, key+"="+env[key])
	}
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %s failed: %w: %s", r.bin, strings.Join(args, " "), err, strings.TrimSpace(string(output)))
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
