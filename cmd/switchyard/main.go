package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	cli "github.com/urfave/cli/v3"

	"github.com/tandemops/switchyard/internal/compose"
	"github.com/tandemops/switchyard/internal/conflict"
	"github.com/tandemops/switchyard/internal/docker"
	"github.com/tandemops/switchyard/internal/domain"
	"github.com/tandemops/switchyard/internal/health"
	"github.com/tandemops/switchyard/internal/httpx"
	"github.com/tandemops/switchyard/internal/lifecycle"
	"github.com/tandemops/switchyard/internal/plan"
	"github.com/tandemops/switchyard/internal/proxy"
	"github.com/tandemops/switchyard/internal/registry"
	"github.com/tandemops/switchyard/internal/state"
	"github.com/tandemops/switchyard/pkg/config"
	"github.com/tandemops/switchyard/pkg/logger"
)

func main() {
	app := &cli.Command{
		Name:  "switchyard",
		Usage: "Blue/green deployment orchestrator for services behind nginx",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "debug", Usage: "Enable debug logging"},
		},
		Commands: []*cli.Command{
			deployCmd(),
			rollbackCmd(),
			cleanupCmd(),
			statusCmd(),
			serveCmd(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// wiring bundles the constructed components for one invocation.
type wiring struct {
	cfg      config.OrchestratorConfig
	log      *slog.Logger
	docker   *docker.Client
	registry *registry.Registry
	states   *state.Store
	manager  *lifecycle.Manager
}

func buildWiring(ctx context.Context, cmd *cli.Command) (*wiring, error) {
	cfg := config.LoadOrchestratorConfig()
	level := slog.LevelInfo
	if cmd.Bool("debug") {
		level = slog.LevelDebug
	}
	log := logger.New("switchyard", level)

	dockerClient, err := docker.New(cfg.DockerHost)
	if err != nil {
		return nil, err
	}
	if err := dockerClient.Ping(ctx); err != nil {
		dockerClient.Close()
		return nil, err
	}

	reg, err := registry.New(cfg.RegistryDir)
	if err != nil {
		dockerClient.Close()
		return nil, err
	}
	states, err := state.New(cfg.StateDir, log)
	if err != nil {
		dockerClient.Close()
		return nil, err
	}

	probe := func(ctx context.Context, container string, port int, path string, timeout time.Duration) error {
		return dockerClient.ExecHTTPProbe(ctx, container, port, path, timeout)
	}
	prober := health.New(probe, cfg.ProbeBackoff, log)

	healthy := func(ctx context.Context, container string, spec domain.SubServiceSpec) bool {
		return dockerClient.ExecHTTPProbe(ctx, container, spec.ContainerPort, spec.HealthEndpoint, spec.HealthTimeout()) == nil
	}
	planner := plan.New(states, healthy, log)

	resolver := conflict.New(dockerClient, append([]string{cfg.ProxyContainer}, cfg.InfraContainers...), log)

	nginx, err := proxy.NewNginxProxy(dockerClient, cfg.ProxyContainer)
	if err != nil {
		dockerClient.Close()
		return nil, err
	}
	switcher, err := proxy.NewSwitcher(cfg.ProxyConfDir, proxy.NewSynthesizer(), nginx, nginx, log)
	if err != nil {
		dockerClient.Close()
		return nil, err
	}

	runner := compose.NewRunner(cfg.ComposeBin)
	manager := lifecycle.New(reg, states, planner, resolver, runner, dockerClient, prober, switcher, cfg, log)

	return &wiring{
		cfg:      cfg,
		log:      log,
		docker:   dockerClient,
		registry: reg,
		states:   states,
		manager:  manager,
	}, nil
}

func (w *wiring) close() {
	if w.docker != nil {
		w.docker.Close()
	}
}

func deployCmd() *cli.Command {
	return &cli.Command{
		Name:      "deploy",
		Usage:     "Deploy the inactive color of a service and switch traffic to it",
		ArgsUsage: "<service>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			service := cmd.Args().First()
			if service == "" {
				return fmt.Errorf("service argument is required")
			}
			w, err := buildWiring(ctx, cmd)
			if err != nil {
				return err
			}
			defer w.close()
			return w.manager.Deploy(ctx, service)
		},
	}
}

func rollbackCmd() *cli.Command {
	return &cli.Command{
		Name:      "rollback",
		Usage:     "Return traffic to the backup color of a service",
		ArgsUsage: "<service>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			service := cmd.Args().First()
			if service == "" {
				return fmt.Errorf("service argument is required")
			}
			w, err := buildWiring(ctx, cmd)
			if err != nil {
				return err
			}
			defer w.close()
			return w.manager.Rollback(ctx, service)
		},
	}
}

func cleanupCmd() *cli.Command {
	return &cli.Command{
		Name:      "cleanup",
		Usage:     "Stop the inactive color's containers and mark it stopped",
		ArgsUsage: "<service>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			service := cmd.Args().First()
			if service == "" {
				return fmt.Errorf("service argument is required")
			}
			w, err := buildWiring(ctx, cmd)
			if err != nil {
				return err
			}
			defer w.close()
			return w.manager.Cleanup(ctx, service)
		},
	}
}

func statusCmd() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show deployment state for one service, or all registered services",
		ArgsUsage: "[service]",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := config.LoadOrchestratorConfig()
			log := logger.New("switchyard", slog.LevelWarn)
			reg, err := registry.New(cfg.RegistryDir)
			if err != nil {
				return err
			}
			states, err := state.New(cfg.StateDir, log)
			if err != nil {
				return err
			}

			names := []string{}
			if service := cmd.Args().First(); service != "" {
				names = append(names, service)
			} else {
				names, err = reg.List()
				if err != nil {
					return err
				}
			}
			for _, name := range names {
				if err := printStatus(reg, states, name); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func printStatus(reg *registry.Registry, states *state.Store, name string) error {
	topo, err := reg.Load(name)
	if err != nil {
		return err
	}
	st, err := states.Load(name)
	if err != nil {
		return err
	}
	fmt.Printf("%s (%s)\n", topo.Name, topo.Domain)
	fmt.Printf("  active: %s\n", st.ActiveColor)
	for _, color := range []domain.Color{domain.ColorBlue, domain.ColorGreen} {
		rec := st.Record(color)
		line := fmt.Sprintf("  %-5s  %s", color, rec.Status)
		if rec.DeployedAt != nil {
			line += "  deployed " + rec.DeployedAt.Format(time.RFC3339)
		}
		fmt.Println(line)
	}
	if last := st.LastDeployment; last != nil {
		outcome := "ok"
		if !last.Success {
			outcome = "failed"
		}
		fmt.Printf("  last deployment: %s -> %s (%s)\n", last.Timestamp.Format(time.RFC3339), last.Color, outcome)
	}
	return nil
}

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve deployment status and metrics over HTTP",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			w, err := buildWiring(ctx, cmd)
			if err != nil {
				return err
			}
			defer w.close()

			router := httpx.New(w.log, w.registry, w.states, w.docker.Ping)
			srv := &http.Server{
				Addr:              w.cfg.StatusAddr,
				Handler:           router,
				ReadHeaderTimeout: 5 * time.Second,
			}

			errorCh := make(chan error, 1)
			go func() {
				w.log.Info("status server starting", "addr", w.cfg.StatusAddr)
				errorCh <- srv.ListenAndServe()
			}()

			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					w.log.Error("graceful shutdown failed", "error", err)
				}
				w.log.Info("status server stopped")
				return nil
			case err := <-errorCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			}
		},
	}
}
