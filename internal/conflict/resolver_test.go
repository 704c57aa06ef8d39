package conflict

import (
	"context"
	"errors"
	"io"
	"testing"

	"log/slog"

	"github.com/tandemops/switchyard/internal/docker"
	"github.com/tandemops/switchyard/internal/domain"
)

type fakeRuntime struct {
	containers []docker.Container
	stopped    []string
	removed    []string
	stopErr    error
	listErr    error
}

func (f *fakeRuntime) ListContainers(context.Context) ([]docker.Container, error) {
	return f.containers, f.listErr
}

func (f *fakeRuntime) StopContainer(_ context.Context, name string, _ int) error {
	f.stopped = append(f.stopped, name)
	return f.stopErr
}

func (f *fakeRuntime) RemoveContainer(_ context.Context, name string) error {
	f.removed = append(f.removed, name)
	return nil
}

func conflictTopology() domain.ServiceTopology {
	return domain.ServiceTopology{
		Name:        "shop",
		Domain:      "shop.example.com",
		ComposeFile: "/srv/shop/docker-compose.yml",
		SubServices: map[string]domain.SubServiceSpec{
			"backend": {ContainerBaseName: "shop-backend", ContainerPort: 8080},
		},
	}.Normalize()
}

func newTestResolver(rt *fakeRuntime) *Resolver {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(rt, []string{"postgres", "redis", "nginx-proxy"}, log)
}

func removedSet(names []string) map[string]bool {
	set := map[string]bool{}
	for _, n := range names {
		set[n] = true
	}
	return set
}

func TestClearForStartRemovesNameCollision(t *testing.T) {
	rt := &fakeRuntime{containers: []docker.Container{
		{Name: "shop-backend-green", State: "exited"},
		{Name: "shop-backend-blue", State: "running"},
	}}
	r := newTestResolver(rt)
	if err := r.ClearForStart(context.Background(), conflictTopology(), domain.ColorGreen, domain.ColorBlue, nil); err != nil {
		t.Fatalf("clear: %v", err)
	}
	removed := removedSet(rt.removed)
	if !removed["shop-backend-green"] {
		t.Fatalf("expected stale green container removed, got %v", rt.removed)
	}
	if removed["shop-backend-blue"] {
		t.Fatalf("active color container must never be touched")
	}
}

func TestClearForStartRemovesPortCollision(t *testing.T) {
	rt := &fakeRuntime{containers: []docker.Container{
		{Name: "squatter", State: "running", Ports: []docker.PortBinding{{Private: 80, Public: 8080}}},
		{Name: "bystander", State: "running", Ports: []docker.PortBinding{{Private: 80, Public: 9090}}},
	}}
	r := newTestResolver(rt)
	if err := r.ClearForStart(context.Background(), conflictTopology(), domain.ColorGreen, domain.ColorBlue, nil); err != nil {
		t.Fatalf("clear: %v", err)
	}
	removed := removedSet(rt.removed)
	if !removed["squatter"] {
		t.Fatalf("expected port squatter removed, got %v", rt.removed)
	}
	if removed["bystander"] {
		t.Fatalf("container on an unrelated port must not be touched")
	}
}

func TestClearForStartProtectsInfrastructure(t *testing.T) {
	rt := &fakeRuntime{containers: []docker.Container{
		{Name: "postgres", State: "running", Ports: []docker.PortBinding{{Private: 5432, Public: 8080}}},
		{Name: "nginx-proxy", State: "running", Ports: []docker.PortBinding{{Private: 80, Public: 8080}}},
	}}
	r := newTestResolver(rt)
	if err := r.ClearForStart(context.Background(), conflictTopology(), domain.ColorGreen, domain.ColorBlue, nil); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if len(rt.removed) != 0 {
		t.Fatalf("infrastructure containers must never be removed, got %v", rt.removed)
	}
}

func TestClearForStartSkipsStoppedPortHolders(t *testing.T) {
	// A stopped container does not hold its published port.
	rt := &fakeRuntime{containers: []docker.Container{
		{Name: "old-thing", State: "exited", Ports: []docker.PortBinding{{Private: 80, Public: 8080}}},
	}}
	r := newTestResolver(rt)
	if err := r.ClearForStart(context.Background(), conflictTopology(), domain.ColorGreen, domain.ColorBlue, nil); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if len(rt.removed) != 0 {
		t.Fatalf("stopped container is not a port conflict, got %v", rt.removed)
	}
}

func TestClearForStartContinuesPastStopFailures(t *testing.T) {
	rt := &fakeRuntime{
		containers: []docker.Container{
			{Name: "shop-backend-green", State: "exited"},
			{Name: "squatter", State: "running", Ports: []docker.PortBinding{{Private: 80, Public: 8080}}},
		},
		stopErr: errors.New("stop failed"),
	}
	r := newTestResolver(rt)
	if err := r.ClearForStart(context.Background(), conflictTopology(), domain.ColorGreen, domain.ColorBlue, nil); err != nil {
		t.Fatalf("resolution is best-effort, got %v", err)
	}
	if len(rt.removed) != 2 {
		t.Fatalf("expected removal attempted for both conflicts, got %v", rt.removed)
	}
}

func TestClearForStartIsIdempotent(t *testing.T) {
	rt := &fakeRuntime{containers: []docker.Container{
		{Name: "shop-backend-green", State: "exited"},
	}}
	r := newTestResolver(rt)
	ctx := context.Background()
	topo := conflictTopology()
	if err := r.ClearForStart(ctx, topo, domain.ColorGreen, domain.ColorBlue, nil); err != nil {
		t.Fatalf("first clear: %v", err)
	}
	rt.containers = nil
	rt.removed = nil
	if err := r.ClearForStart(ctx, topo, domain.ColorGreen, domain.ColorBlue, nil); err != nil {
		t.Fatalf("second clear: %v", err)
	}
	if len(rt.removed) != 0 {
		t.Fatalf("nothing to clear on a clean runtime, got %v", rt.removed)
	}
}

func TestClearForStartSparesKeptContainers(t *testing.T) {
	rt := &fakeRuntime{containers: []docker.Container{
		{Name: "shop-backend-green", State: "running", Ports: []docker.PortBinding{{Private: 80, Public: 8080}}},
	}}
	r := newTestResolver(rt)
	keep := []string{"shop-backend-green"}
	if err := r.ClearForStart(context.Background(), conflictTopology(), domain.ColorGreen, domain.ColorBlue, keep); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if len(rt.removed) != 0 {
		t.Fatalf("kept container must survive clearing, got %v", rt.removed)
	}
}

func TestClearForStartPropagatesListError(t *testing.T) {
	rt := &fakeRuntime{listErr: errors.New("daemon unreachable")}
	r := newTestResolver(rt)
	if err := r.ClearForStart(context.Background(), conflictTopology(), domain.ColorGreen, domain.ColorBlue, nil); err == nil {
		t.Fatalf("expected list error to propagate")
	}
}
