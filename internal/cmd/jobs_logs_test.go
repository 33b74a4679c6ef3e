package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func appendFile(t *testing.T, path, s string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(s)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestCopyFrom(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stdout.txt")

	var buf bytes.Buffer
	off, err := copyFrom(&buf, path, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), off)

	appendFile(t, path, "one\n")
	off, err = copyFrom(&buf, path, off)
	require.NoError(t, err)
	assert.Equal(t, int64(4), off)

	appendFile(t, path, "two\n")
	off, err = copyFrom(&buf, path, off)
	require.NoError(t, err)
	assert.Equal(t, int64(8), off)
	assert.Equal(t, "one\ntwo\n", buf.String())

	// truncation restarts from the top
	require.NoError(t, os.WriteFile(path, []byte("x\n"), 0644))
	off, err = copyFrom(&buf, path, off)
	require.NoError(t, err)
	assert.Equal(t, int64(2), off)
	assert.Equal(t, "one\ntwo\nx\n", buf.String())
}

func TestFollowLogReturnsWhenAlreadyFinished(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stdout.txt")
	appendFile(t, path, "done\n")

	var buf bytes.Buffer
	err := followLog(context.Background(), &buf, path, func() bool { return true })
	require.NoError(t, err)
	assert.Equal(t, "done\n", buf.String())
}

func TestFollowLogStreamsUntilFinished(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stdout.txt")

	var finished atomic.Bool
	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() {
		done <- followLog(context.Background(), out, path, finished.Load)
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	appendFile(t, path, "epoch 1\n")
	require.Eventually(t, func() bool { return out.String() == "epoch 1\n" }, 5*time.Second, 20*time.Millisecond)

	appendFile(t, path, "epoch 2\n")
	finished.Store(true)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "worker_finished"), nil, 0644))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("follow did not stop after the job finished")
	}
	assert.Equal(t, "epoch 1\nepoch 2\n", out.String())
}

func TestFollowLogDrainsOutputWrittenBeforeMarker(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stdout.txt")
	appendFile(t, path, "epoch 1\n")

	finished := func() bool {
		appendFile(t, path, "final\n")
		return true
	}

	var buf bytes.Buffer
	require.NoError(t, followLog(context.Background(), &buf, path, finished))
	assert.Equal(t, "epoch 1\nfinal\n", buf.String())
}

func TestFollowLogStopsWhenJobDeleted(t *testing.T) {
	jobDir := filepath.Join(t.TempDir(), "proj_1234abcd")
	require.NoError(t, os.MkdirAll(jobDir, 0755))
	path := filepath.Join(jobDir, "stdout.txt")
	appendFile(t, path, "epoch 1\n")

	gone := func() bool {
		_, err := os.Stat(jobDir)
		return err != nil
	}

	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() {
		done <- followLog(context.Background(), out, path, gone)
	}()

	require.Eventually(t, func() bool { return out.String() == "epoch 1\n" }, 5*time.Second, 20*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.RemoveAll(jobDir))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("follow did not stop after the job was deleted")
	}
}

func TestFollowLogStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- followLog(ctx, &bytes.Buffer{}, filepath.Join(dir, "stdout.txt"), func() bool { return false })
	}()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("follow ignored cancellation")
	}
}
