// Package importer fetches single files out of remote git repositories.
package importer

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
	"time"

	"join-code/errors"
)

// GitImporter shallow-clones a repository into a throwaway directory under
// workDir and reads one file from it. The directory is always removed.
type GitImporter struct {
	log      *slog.Logger
	gitBin   string
	workDir  string
	timeout  time.Duration
	maxBytes int64
}

func NewGitImporter(log *slog.Logger, workDir string, timeout time.Duration, maxBytes int64) *GitImporter {
	return &GitImporter{log: log, gitBin: "git", workDir: workDir, timeout: timeout, maxBytes: maxBytes}
}

// Fetch returns the content of filePath in repoURL.
// Every failure is an ErrImport carrying a reason fit for the requester.
func (g *GitImporter) Fetch(ctx context.Context, repoURL, filePath string) (string, error) {
	if err := validateURL(repoURL); err != nil {
		return "", err
	}
	rel, err := validatePath(filePath)
	if err != nil {
		return "", err
	}

	dir, err := os.MkdirTemp(g.workDir, "clone-*")
	if err != nil {
		return "", fmt.Errorf("create clone dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			g.log.Warn("Failed to remove clone dir", "dir", dir, "error", rmErr)
		}
	}()

	if err = g.clone(ctx, repoURL, dir); err != nil {
		return "", err
	}

	target, err := locate(dir, rel)
	if err != nil {
		return "", err
	}
	return g.read(target, filePath)
}

func (g *GitImporter) clone(ctx context.Context, repoURL, dir string) error {
	cloneCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	stderr := newGitLogWriter(g.log, repoURL)
	cmd := exec.CommandContext(cloneCtx, g.gitBin, "clone", "--depth", "1", "--", repoURL, dir)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	cmd.Stderr = stderr
	setPlatformSpecificAttrs(cmd)

	start := time.Now()
	err := cmd.Run()
	if stderrors.Is(cloneCtx.Err(), context.DeadlineExceeded) {
		return errors.Importf("timed out cloning repository after %s", g.timeout)
	}
	if err != nil {
		reason := stderr.Reason()
		if reason == "" {
			reason = err.Error()
		}
		return errors.Importf("git error: %s", reason)
	}
	g.log.Debug("Repository cloned", "url", repoURL, "duration", time.Since(start))
	return nil
}

func (g *GitImporter) read(target, filePath string) (string, error) {
	f, err := os.Open(target)
	if err != nil {
		return "", errors.Importf("cannot open %q: %v", filePath, err)
	}
	defer func() { _ = f.Close() }()

	content, err := io.ReadAll(io.LimitReader(f, g.maxBytes+1))
	if err != nil {
		return "", errors.Importf("cannot read %q: %v", filePath, err)
	}
	if int64(len(content)) > g.maxBytes {
		return "", errors.Importf("file %q exceeds %d bytes", filePath, g.maxBytes)
	}
	return string(content), nil
}

func validateURL(repoURL string) error {
	u, err := url.Parse(repoURL)
	if err != nil || u.Host == "" {
		return errors.Importf("invalid repository URL %q", repoURL)
	}
	if u.Scheme != "https" {
		return errors.Importf("repository URL must use https")
	}
	return nil
}

// validatePath rejects absolute paths and any ".." segment before the path
// ever reaches the filesystem.
func validatePath(filePath string) (string, error) {
	if filePath == "" {
		return "", errors.Importf("file path is required")
	}
	normalized := strings.ReplaceAll(filePath, `\`, "/")
	if path.IsAbs(normalized) || filepath.IsAbs(filePath) {
		return "", errors.Importf("invalid file path %q", filePath)
	}
	for _, segment := range strings.Split(normalized, "/") {
		if segment == ".." {
			return "", errors.Importf("invalid file path %q", filePath)
		}
	}
	return filepath.FromSlash(path.Clean(normalized)), nil
}

// locate resolves rel inside root. A symlink escaping root is refused; a
// missing file falls back to the first regular file whose name contains the
// requested base name.
func locate(root, rel string) (string, error) {
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", fmt.Errorf("resolve clone dir: %w", err)
	}

	candidate := filepath.Join(realRoot, rel)
	if info, statErr := os.Stat(candidate); statErr == nil && info.Mode().IsRegular() {
		return contained(realRoot, candidate, rel)
	}

	base := filepath.Base(rel)
	var found string
	walkErr := filepath.WalkDir(realRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() && d.Name() == ".git" {
			return filepath.SkipDir
		}
		if d.Type().IsRegular() && strings.Contains(d.Name(), base) {
			found = p
			return fs.SkipAll
		}
		return nil
	})
	if walkErr != nil {
		return "", fmt.Errorf("search clone dir: %w", walkErr)
	}
	if found == "" {
		return "", errors.Importf("file %q not found in repository", filepath.ToSlash(rel))
	}
	return contained(realRoot, found, rel)
}

func contained(root, candidate, rel string) (string, error) {
	resolved, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		return "", errors.Importf("file %q not found in repository", filepath.ToSlash(rel))
	}
	inside, err := filepath.Rel(root, resolved)
	if err != nil || inside == ".." || strings.HasPrefix(inside, ".."+string(filepath.Separator)) {
		return "", errors.Importf("file %q resolves outside the repository", filepath.ToSlash(rel))
	}
	return resolved, nil
}
