package ledger

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// writeJob creates a registered job directory with the given markers.
func writeJob(t *testing.T, root, namespace, jobID string, markers ...Marker) string {
	t.Helper()
	dir := filepath.Join(root, namespace, jobID)
	require.NoError(t, os.MkdirAll(dir, 0755))
	script := LaunchScript{Command: "python train.py"}.Render()
	require.NoError(t, os.WriteFile(filepath.Join(dir, string(MarkerLaunchScript)), []byte(script), 0755))
	for _, m := range markers {
		require.NoError(t, writeMarker(dir, m))
	}
	return dir
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func setMtime(t *testing.T, path string, ts time.Time) {
	t.Helper()
	require.NoError(t, os.Chtimes(path, ts, ts))
}

func testOptions(root string) Options {
	return Options{Root: root, PageSize: 10}
}
