package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/tandemops/switchyard/internal/domain"
)

func writeTopology(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name+".json"), []byte(body), 0o644); err != nil {
		t.Fatalf("write topology: %v", err)
	}
}

const shopTopology = `{
  "name": "shop",
  "domain": "shop.example.com",
  "composeFile": "/srv/shop/docker-compose.yml",
  "sharedDependencies": ["postgres", "redis"],
  "subServices": {
    "backend": {"containerBaseName": "shop-backend", "containerPort": 3000}
  }
}`

func TestLoadValidTopology(t *testing.T) {
	dir := t.TempDir()
	writeTopology(t, dir, "shop", shopTopology)

	reg, err := New(dir)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	topo, err := reg.Load("shop")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if topo.Domain != "shop.example.com" {
		t.Fatalf("unexpected domain %q", topo.Domain)
	}
	// Normalization applied defaults.
	sub := topo.SubServices["backend"]
	if sub.HealthEndpoint != domain.DefaultHealthEndpoint {
		t.Fatalf("expected defaulted health endpoint, got %q", sub.HealthEndpoint)
	}
}

func TestLoadMissingServiceIsNotFound(t *testing.T) {
	reg, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	_, err = reg.Load("ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLoadRejectsMismatchedName(t *testing.T) {
	dir := t.TempDir()
	writeTopology(t, dir, "other", shopTopology)

	reg, _ := New(dir)
	if _, err := reg.Load("other"); err == nil {
		t.Fatalf("expected error for document naming a different service")
	}
}

func TestLoadRejectsInvalidDocument(t *testing.T) {
	dir := t.TempDir()
	writeTopology(t, dir, "bad", `{"name": "bad", "domain": "bad.example.com"}`)

	reg, _ := New(dir)
	if _, err := reg.Load("bad"); err == nil {
		t.Fatalf("expected validation error for topology without sub-services")
	}
}

func TestList(t *testing.T) {
	dir := t.TempDir()
	writeTopology(t, dir, "zeta", shopTopology)
	writeTopology(t, dir, "alpha", shopTopology)
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	reg, _ := New(dir)
	names, err := reg.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(names) != 2 || names[0] != "alpha" || names[1] != "zeta" {
		t.Fatalf("expected sorted json documents only, got %v", names)
	}
}
