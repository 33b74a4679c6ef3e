package ledger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReader_NotAJobWithoutLaunchScript(t *testing.T) {
	root := t.TempDir()
	r := NewReader(testOptions(root))

	all := []Marker{MarkerLock, MarkerStarted, MarkerFinished, MarkerError, MarkerAbort, MarkerHide, MarkerDeleteWhenFinished}
	for i := 0; i <= len(all); i++ {
		id := "job_" + string(rune('a'+i))
		dir := filepath.Join(root, "default", id)
		require.NoError(t, os.MkdirAll(dir, 0755))
		for _, m := range all[:i] {
			require.NoError(t, writeMarker(dir, m))
		}
		writeFile(t, dir, "notes.txt", "some notes")

		_, err := r.Read("default", id)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNotAJob)
		assert.True(t, IsNotFound(err))
	}
}

func TestReader_MissingJob(t *testing.T) {
	r := NewReader(testOptions(t.TempDir()))
	_, err := r.Read("default", "nope_12345678")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestReader_RejectsTraversal(t *testing.T) {
	r := NewReader(testOptions(t.TempDir()))
	for _, id := range []string{"..", "../etc", ".hidden", "a/b", ""} {
		_, err := r.Read("default", id)
		require.Error(t, err, id)
		assert.True(t, IsInvalid(err), id)
	}
}

func TestReader_StatePrecedence(t *testing.T) {
	root := t.TempDir()
	r := NewReader(testOptions(root))

	writeJob(t, root, "default", "both_00000001", MarkerFinished, MarkerError)
	writeJob(t, root, "default", "locked_00000002", MarkerError, MarkerLock)
	writeJob(t, root, "default", "queued_00000003")

	got, err := r.Read("default", "both_00000001")
	require.NoError(t, err)
	assert.Equal(t, StateFinished, got.State)

	got, err = r.Read("default", "locked_00000002")
	require.NoError(t, err)
	assert.Equal(t, StateRunning, got.State)

	got, err = r.Read("default", "queued_00000003")
	require.NoError(t, err)
	assert.Equal(t, StateQueued, got.State)
}

func TestReader_DisplayFields(t *testing.T) {
	root := t.TempDir()
	r := NewReader(testOptions(root))

	dir := writeJob(t, root, "ml", "resnet_cifar_1a2b3c4d", MarkerStarted, MarkerLock)
	writeFile(t, dir, "stdout.txt", "epoch 1\nepoch 2\n 45%|####      | 450/1000 [00:10<00:12, 44.5it/s]\n")

	got, err := r.Read("ml", "resnet_cifar_1a2b3c4d")
	require.NoError(t, err)

	assert.Equal(t, "ml", got.Namespace)
	assert.Equal(t, "Resnet Cifar", got.DisplayName)
	assert.Equal(t, "python train.py", got.Headline)
	assert.Equal(t, "45%|####      | 450/1000 [00:10<00:12, 44.5it/s]", got.Subtitle)
	assert.True(t, got.Progress.Known)
	assert.InDelta(t, 45.0, got.Progress.Percent, 0.001)
	assert.Equal(t, "00:12", got.Progress.ETA)
	assert.Contains(t, got.LogSummary, "epoch 2")
	assert.NotNil(t, got.StartedAt)
	assert.Nil(t, got.FinishedAt)
}

func TestReader_NotesWinOverStdout(t *testing.T) {
	root := t.TempDir()
	r := NewReader(testOptions(root))

	dir := writeJob(t, root, "default", "job_00000001")
	writeFile(t, dir, "stdout.txt", "last line\n")
	writeFile(t, dir, "notes.txt", "  baseline run \n")

	got, err := r.Read("default", "job_00000001")
	require.NoError(t, err)
	assert.Equal(t, "baseline run", got.Subtitle)
	assert.Equal(t, "baseline run", got.Notes)
}

func TestReader_SummaryLogPreferred(t *testing.T) {
	root := t.TempDir()
	r := NewReader(testOptions(root))

	dir := writeJob(t, root, "default", "job_00000001")
	writeFile(t, dir, "stdout.txt", "raw output\n")
	writeFile(t, dir, ".last_summary.log", "loss=0.1\nacc=0.9\n")

	got, err := r.Read("default", "job_00000001")
	require.NoError(t, err)
	assert.Equal(t, "loss=0.1\nacc=0.9", got.LogSummary)
}

func TestReader_LogSummaryKeepsEightLines(t *testing.T) {
	root := t.TempDir()
	r := NewReader(testOptions(root))

	dir := writeJob(t, root, "default", "job_00000001")
	var b strings.Builder
	for i := 0; i < 30; i++ {
		b.WriteString("line ")
		b.WriteString(string(rune('A' + i%26)))
		b.WriteString("\n")
	}
	writeFile(t, dir, "stdout.txt", b.String())

	got, err := r.Read("default", "job_00000001")
	require.NoError(t, err)
	assert.Len(t, strings.Split(got.LogSummary, "\n"), 8)
}

func TestReader_OptionalFilesDegrade(t *testing.T) {
	root := t.TempDir()
	r := NewReader(testOptions(root))

	dir := writeJob(t, root, "default", "job_00000001")
	writeFile(t, dir, ".last_summary.json", `{"loss": 0.`)
	writeFile(t, dir, ".created_at", "not a time")
	setMtime(t, dir, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))

	got, err := r.Read("default", "job_00000001")
	require.NoError(t, err)
	assert.Nil(t, got.Metrics)
	assert.Empty(t, got.Subtitle)
	assert.Empty(t, got.LogSummary)
	assert.False(t, got.Progress.Known)
	assert.True(t, got.CreatedAt.Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)))
}

func TestReader_MetricsAndCreatedAt(t *testing.T) {
	root := t.TempDir()
	r := NewReader(testOptions(root))

	created := time.Date(2026, 3, 1, 9, 30, 0, 123, time.UTC)
	dir := writeJob(t, root, "default", "job_00000001")
	writeFile(t, dir, ".last_summary.json", `{"loss": 0.25, "epoch": 3}`)
	writeFile(t, dir, ".created_at", created.Format(time.RFC3339Nano)+"\n")

	got, err := r.Read("default", "job_00000001")
	require.NoError(t, err)
	assert.Equal(t, 0.25, got.Metrics["loss"])
	assert.Equal(t, float64(3), got.Metrics["epoch"])
	assert.True(t, got.CreatedAt.Equal(created))
}

func TestReader_Truncation(t *testing.T) {
	root := t.TempDir()
	r := NewReader(Options{Root: root, HeadlineMax: 10})

	dir := writeJob(t, root, "default", "job_00000001")
	writeFile(t, dir, "notes.txt", "a very long note that should be cut")

	got, err := r.Read("default", "job_00000001")
	require.NoError(t, err)
	assert.Equal(t, "a very lon...", got.Subtitle)
	assert.Equal(t, "a very long note that should be cut", got.Notes)
}

func TestReader_LatestImage(t *testing.T) {
	root := t.TempDir()
	r := NewReader(testOptions(root))

	dir := writeJob(t, root, "default", "job_00000001")
	writeFile(t, dir, "loss_0001.png", "x")
	writeFile(t, dir, "plots/acc_0002.JPG", "x")
	writeFile(t, dir, "notes.md", "x")
	writeFile(t, dir, ".git/logo.png", "x")
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	setMtime(t, filepath.Join(dir, "loss_0001.png"), base)
	setMtime(t, filepath.Join(dir, "plots", "acc_0002.JPG"), base.Add(time.Minute))
	setMtime(t, filepath.Join(dir, ".git", "logo.png"), base.Add(time.Hour))

	got, err := r.Read("default", "job_00000001")
	require.NoError(t, err)
	require.NotNil(t, got.LatestImage)
	assert.Equal(t, "plots/acc_0002.JPG", got.LatestImage.Path)
}

func TestReader_ImageGroups(t *testing.T) {
	root := t.TempDir()
	r := NewReader(testOptions(root))

	dir := writeJob(t, root, "default", "job_00000001")
	for i := 1; i <= 7; i++ {
		writeFile(t, dir, "loss_000"+string(rune('0'+i))+".png", "x")
	}
	writeFile(t, dir, "sample.png", "x")

	groups, err := r.ImageGroups("default", "job_00000001")
	require.NoError(t, err)
	require.Len(t, groups, 2)

	assert.Equal(t, "loss", groups[0].Name)
	assert.Len(t, groups[0].Images, 5)
	assert.Equal(t, "loss_0007.png", groups[0].Latest.Path)
	assert.Equal(t, "misc", groups[1].Name)
}

func TestReader_FilesAndTail(t *testing.T) {
	root := t.TempDir()
	r := NewReader(testOptions(root))

	dir := writeJob(t, root, "default", "job_00000001")
	writeFile(t, dir, "stdout.txt", "one\ntwo\nthree\n")

	files, err := r.Files("default", "job_00000001")
	require.NoError(t, err)
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.Name)
	}
	assert.Contains(t, names, "launch.sh")
	assert.Contains(t, names, "stdout.txt")

	lines, err := r.Tail("default", "job_00000001", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"two", "three"}, lines)

	_, err = r.Tail("default", "missing_00000000", 2)
	assert.True(t, IsNotFound(err))
}

func TestReader_ReadDir(t *testing.T) {
	root := t.TempDir()
	r := NewReader(testOptions(root))
	dir := writeJob(t, root, "vision", "job_00000001")

	got, err := r.ReadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, "vision", got.Namespace)
	assert.Equal(t, "job_00000001", got.ID)
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"image_classifier_1a2b3c4d", "Image Classifier"},
		{"my-repo_deadbeef", "My Repo"},
		{"plain", "Plain"},
		{"_0badf00d", "_0badf00d"},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			assert.Equal(t, tt.want, DisplayName(tt.id))
		})
	}
}
