package vcs

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
}

func gitIn(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", append([]string{"-c", "user.name=test", "-c", "user.email=test@example.com"}, args...)...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, string(out))
}

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func newRepo(t *testing.T) string {
	t.Helper()
	repo := t.TempDir()
	gitIn(t, repo, "init", "--quiet")
	write(t, filepath.Join(repo, "src", "main.py"), "v1\n")
	write(t, filepath.Join(repo, ".gitignore"), "*.log\n")
	gitIn(t, repo, "add", ".")
	gitIn(t, repo, "commit", "--quiet", "-m", "init")
	return repo
}

func TestGit_TopLevel(t *testing.T) {
	requireGit(t)
	repo := newRepo(t)
	g := NewGit(nil)

	top, err := g.TopLevel(context.Background(), filepath.Join(repo, "src"))
	require.NoError(t, err)

	want, err := filepath.EvalSymlinks(repo)
	require.NoError(t, err)
	got, err := filepath.EvalSymlinks(top)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestGit_TopLevelOutsideRepo(t *testing.T) {
	requireGit(t)
	dir := t.TempDir()
	t.Setenv("GIT_CEILING_DIRECTORIES", filepath.Dir(dir))

	_, err := NewGit(nil).TopLevel(context.Background(), dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotARepository)
}

func TestGit_TopLevelNoCommits(t *testing.T) {
	requireGit(t)
	repo := t.TempDir()
	gitIn(t, repo, "init", "--quiet")

	_, err := NewGit(nil).TopLevel(context.Background(), repo)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoCommits)
}

func TestGit_Snapshot(t *testing.T) {
	requireGit(t)
	repo := newRepo(t)

	write(t, filepath.Join(repo, "src", "main.py"), "v2\n")
	write(t, filepath.Join(repo, "notes.md"), "untracked\n")
	write(t, filepath.Join(repo, "run.log"), "ignored\n")
	old := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(filepath.Join(repo, "notes.md"), old, old))

	dest := filepath.Join(t.TempDir(), "job")
	require.NoError(t, os.Mkdir(dest, 0755))

	n, err := NewGit(nil).Snapshot(context.Background(), repo, dest)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	b, err := os.ReadFile(filepath.Join(dest, "src", "main.py"))
	require.NoError(t, err)
	assert.Equal(t, "v2\n", string(b))
	assert.FileExists(t, filepath.Join(dest, "notes.md"))
	assert.NoFileExists(t, filepath.Join(dest, "run.log"))

	st, err := os.Stat(filepath.Join(dest, "notes.md"))
	require.NoError(t, err)
	assert.True(t, st.ModTime().Equal(old))
}

func TestGit_SnapshotSkipsDeletedFiles(t *testing.T) {
	requireGit(t)
	repo := newRepo(t)
	require.NoError(t, os.Remove(filepath.Join(repo, "src", "main.py")))

	dest := filepath.Join(t.TempDir(), "job")
	n, err := NewGit(nil).Snapshot(context.Background(), repo, dest)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	// The clone still carries the committed version.
	assert.FileExists(t, filepath.Join(dest, "src", "main.py"))
}

func TestGit_WorkingFiles(t *testing.T) {
	requireGit(t)
	repo := newRepo(t)
	write(t, filepath.Join(repo, "new file.txt"), "x")

	files, err := NewGit(nil).WorkingFiles(context.Background(), repo)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{".gitignore", "src/main.py", "new file.txt"}, files)
}

func TestCommandError(t *testing.T) {
	err := &CommandError{Args: []string{"status"}, Stderr: "fatal: boom", Err: os.ErrPermission}
	assert.Contains(t, err.Error(), "git status")
	assert.Contains(t, err.Error(), "fatal: boom")
	assert.ErrorIs(t, err, os.ErrPermission)
}

func TestOverlayFile_ReplacesSymlink(t *testing.T) {
	outside := filepath.Join(t.TempDir(), "secret.txt")
	write(t, outside, "keep me\n")

	src := filepath.Join(t.TempDir(), "config.yaml")
	write(t, src, "edited\n")

	dst := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.Symlink(outside, dst))

	ok, err := overlayFile(src, dst)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := os.ReadFile(outside)
	require.NoError(t, err)
	assert.Equal(t, "keep me\n", string(got))

	st, err := os.Lstat(dst)
	require.NoError(t, err)
	assert.True(t, st.Mode().IsRegular())
	got, err = os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "edited\n", string(got))
}
