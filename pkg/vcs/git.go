// Package vcs snapshots git working copies into job directories.
package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

var (
	// ErrNotARepository indicates the directory is not inside a git work tree.
	ErrNotARepository = errors.New("not a git repository")

	// ErrNoCommits indicates a repository without a HEAD commit to clone.
	ErrNoCommits = errors.New("git repository has no commits")
)

// CommandError captures a failed git invocation.
type CommandError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("git %s: %v: %s", strings.Join(e.Args, " "), e.Err, e.Stderr)
	}
	return fmt.Sprintf("git %s: %v", strings.Join(e.Args, " "), e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Git shells out to the git binary.
type Git struct {
	binary string
	log    *zap.Logger
}

func NewGit(log *zap.Logger) *Git {
	if log == nil {
		log = zap.NewNop()
	}
	return &Git{binary: "git", log: log}
}

func (g *Git) run(ctx context.Context, dir string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, g.binary, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return out, &CommandError{Args: args, Stderr: strings.TrimSpace(stderr.String()), Err: err}
	}
	return out, nil
}

// TopLevel returns the root of the work tree containing dir. It fails with
// ErrNotARepository outside a work tree and ErrNoCommits before the first commit.
func (g *Git) TopLevel(ctx context.Context, dir string) (string, error) {
	out, err := g.run(ctx, dir, "rev-parse", "--show-toplevel")
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("%s: %w", dir, ErrNotARepository)
		}
		return "", err
	}
	top := strings.TrimSpace(string(out))

	if _, err := g.run(ctx, top, "rev-parse", "--verify", "--quiet", "HEAD"); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("%s: %w", top, ErrNoCommits)
		}
		return "", err
	}
	return top, nil
}

// WorkingFiles lists tracked files plus untracked files that are not ignored,
// relative to the work tree root.
func (g *Git) WorkingFiles(ctx context.Context, topLevel string) ([]string, error) {
	out, err := g.run(ctx, topLevel, "ls-files", "--cached", "--others", "--exclude-standard", "-z")
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	files := make([]string, 0, 64)
	for _, name := range strings.Split(string(out), "\x00") {
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		files = append(files, name)
	}
	return files, nil
}

// ShallowClone clones the current revision of src into dest without history.
// dest must be absent or empty.
func (g *Git) ShallowClone(ctx context.Context, src, dest string) error {
	absSrc, err := filepath.Abs(src)
	if err != nil {
		return err
	}
	absDest, err := filepath.Abs(dest)
	if err != nil {
		return err
	}
	_, err = g.run(ctx, "", "clone", "--quiet", "--depth=1", "file://"+filepath.ToSlash(absSrc), absDest)
	return err
}

// Snapshot clones src into dest and overlays the working tree on top, so the
// result matches what is on disk rather than the last commit. It returns the
// number of overlaid files.
func (g *Git) Snapshot(ctx context.Context, src, dest string) (int, error) {
	if err := g.ShallowClone(ctx, src, dest); err != nil {
		return 0, fmt.Errorf("shallow clone: %w", err)
	}

	files, err := g.WorkingFiles(ctx, src)
	if err != nil {
		return 0, fmt.Errorf("list working files: %w", err)
	}

	copied := 0
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		ok, err := overlayFile(filepath.Join(src, rel), filepath.Join(dest, rel))
		if err != nil {
			return copied, fmt.Errorf("copy %s: %w", rel, err)
		}
		if ok {
			copied++
		}
	}
	g.log.Debug("Overlaid working tree", zap.String("src", src), zap.String("dest", dest), zap.Int("files", copied))
	return copied, nil
}

// overlayFile copies src over dst preserving mode and mtime. Files deleted from
// the working tree and submodule directories are skipped.
func overlayFile(src, dst string) (bool, error) {
	st, err := os.Lstat(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if st.IsDir() {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return false, err
	}

	if st.Mode()&fs.ModeSymlink != 0 {
		target, err := os.Readlink(src)
		if err != nil {
			return false, err
		}
		_ = os.Remove(dst)
		return true, os.Symlink(target, dst)
	}

	in, err := os.Open(src)
	if err != nil {
		return false, err
	}
	defer func() { _ = in.Close() }()

	// The clone may have left a symlink at dst; replace it rather than write through it.
	if err := os.Remove(dst); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, st.Mode().Perm())
	if err != nil {
		return false, err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return false, err
	}
	if err := out.Close(); err != nil {
		return false, err
	}
	if err := os.Chmod(dst, st.Mode().Perm()); err != nil {
		return false, err
	}
	return true, os.Chtimes(dst, st.ModTime(), st.ModTime())
}
