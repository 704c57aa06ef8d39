package plan

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeSource(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestStructuralHashIsStable(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "main.go", "package main")
	writeSource(t, dir, "sub/util.go", "package sub")

	first, err := structuralHash(dir)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !strings.HasPrefix(first, "mtime:") {
		t.Fatalf("expected mtime prefix, got %q", first)
	}
	second, err := structuralHash(dir)
	if err != nil {
		t.Fatalf("rehash: %v", err)
	}
	if first != second {
		t.Fatalf("hash changed without changes: %q vs %q", first, second)
	}
}

func TestStructuralHashTracksModifications(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "main.go", "package main")

	before, err := structuralHash(dir)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(filepath.Join(dir, "main.go"), future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	after, err := structuralHash(dir)
	if err != nil {
		t.Fatalf("rehash: %v", err)
	}
	if before == after {
		t.Fatalf("hash must change when a file changes")
	}
}

func TestStructuralHashSkipsGitAndNodeModules(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "main.go", "package main")

	before, err := structuralHash(dir)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	writeSource(t, dir, ".git/objects/blob", "x")
	writeSource(t, dir, "node_modules/left-pad/index.js", "x")
	after, err := structuralHash(dir)
	if err != nil {
		t.Fatalf("rehash: %v", err)
	}
	if before != after {
		t.Fatalf("ignored directories must not affect the hash")
	}
}
