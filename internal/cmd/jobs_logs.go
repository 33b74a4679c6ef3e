package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/gohat/internal/observability"
)

var jobsLogsCmd = &cobra.Command{
	Use:   "logs <job>",
	Short: "Show captured output for a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsLogs,
}

func init() {
	jobsLogsCmd.Flags().Int("tail", 200, "Show last N lines (0 = whole log)")
	jobsLogsCmd.Flags().BoolP("follow", "f", false, "Follow log output until the job finishes")
}

func runJobsLogs(cmd *cobra.Command, args []string) error {
	tailN, _ := cmd.Flags().GetInt("tail")
	if tailN < 0 {
		tailN = 0
	}
	follow, _ := cmd.Flags().GetBool("follow")

	l := openLedger()
	ns, id, err := resolveJobRef(l, args[0], appConfig.Namespace)
	if err != nil {
		return resolveExitError(err)
	}

	out := cmd.OutOrStdout()
	if follow {
		path, err := l.Reader.StdoutPath(ns, id)
		if err != nil {
			return ledgerExitError("Failed to locate log", err)
		}
		finished := func() bool {
			job, err := l.Reader.Read(ns, id)
			return err != nil || job.State.Terminal()
		}
		if err := followLog(cmd.Context(), out, path, finished); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return exitError(foundry.ExitFileReadError, "Failed to follow log", err)
		}
		return nil
	}

	if tailN == 0 {
		path, err := l.Reader.StdoutPath(ns, id)
		if err != nil {
			return ledgerExitError("Failed to locate log", err)
		}
		return printWholeLog(out, path)
	}

	lines, err := l.Reader.Tail(ns, id, tailN)
	if err != nil {
		return ledgerExitError("Failed to read log", err)
	}
	for _, line := range lines {
		_, _ = fmt.Fprintln(out, line)
	}
	return nil
}

func printWholeLog(out io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return exitError(foundry.ExitFileReadError, "Failed to read log", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := io.Copy(out, f); err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to read log", err)
	}
	return nil
}

// followLog copies path to out and keeps copying appended bytes until
// finished reports true or ctx is done. The job directory is watched rather
// than the file, so a log that does not exist yet is picked up when created
// and the finished marker or the job's deletion wakes the loop.
func followLog(ctx context.Context, out io.Writer, path string, finished func() bool) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	var offset int64
	drain := func() error {
		next, err := copyFrom(out, path, offset)
		offset = next
		return err
	}

	if err := drain(); err != nil {
		return err
	}
	if finished() {
		return drain()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Name == path && ev.Has(fsnotify.Write|fsnotify.Create) {
				if err := drain(); err != nil {
					return err
				}
				continue
			}
			// Markers are created; a deleted job shows up as removals.
			if ev.Has(fsnotify.Create|fsnotify.Remove) && finished() {
				return drain()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			observability.CLILogger.Warn("Log watcher error", zap.Error(err))
		}
	}
}

// copyFrom writes the bytes of path after offset and returns the new offset.
// A missing file copies nothing.
func copyFrom(out io.Writer, path string, offset int64) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return offset, nil
		}
		return offset, err
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return offset, err
	}
	if st.Size() < offset {
		// Truncated or replaced: start over.
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return offset, err
	}
	n, err := io.Copy(out, f)
	return offset + n, err
}
