package plan

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// gitTreeHash returns the git tree object hash for a path within a
// repository, which changes exactly when the tracked content changes.
func gitTreeHash(ctx context.Context, repoDir, relPath string) (string, error) {
	spec := "HEAD"
	if relPath != "" && relPath != "." {
		spec = "HEAD:" + filepath.ToSlash(relPath)
	}
	cmd := exec.CommandContext(ctx, "git", "-C", repoDir, "rev-parse", spec)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git rev-parse %s: %w: %s", spec, err, strings.TrimSpace(string(output)))
	}
	hash := strings.TrimSpace(string(output))
	if hash == "" {
		return "", fmt.Errorf("git rev-parse %s returned empty hash", spec)
	}
	return "git:" + hash, nil
}

// structuralHash hashes file names, sizes and modification times under a
// directory. It is the weaker fallback identity for checkouts without git
// history and is not robust to clock skew.
func structuralHash(dir string) (string, error) {
	h := sha256.New()
	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := entry.Name()
		if entry.IsDir() {
			if name == ".git" || name == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		fmt.Fprintf(h, "%s|%d|%d\n", filepath.ToSlash(rel), info.Size(), info.ModTime().UnixNano())
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("hash source tree %s: %w", dir, err)
	}
	return fmt.Sprintf("mtime:%x", h.Sum(nil)), nil
}

// Fingerprint computes the content identity of a sub-service's source set:
// the git tree hash when the repository has history, otherwise the
// structural fallback.
func Fingerprint(ctx context.Context, repoDir, relPath string) (string, error) {
	if fp, err := gitTreeHash(ctx, repoDir, relPath); err == nil {
		return fp, nil
	}
	dir := repoDir
	if relPath != "" && relPath != "." {
		candidate := filepath.Join(repoDir, relPath)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			dir = candidate
		}
	}
	return structuralHash(dir)
}
