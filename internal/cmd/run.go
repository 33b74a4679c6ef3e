package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/gohat/internal/observability"
	"github.com/3leaps/gohat/pkg/ledger"
)

var runCmd = &cobra.Command{
	Use:   "run [flags] [--] <command> [args...]",
	Short: "Queue a command as a new job",
	Long: `Queue a command as a new job.

The git working copy containing the current directory is snapshotted into a
new job directory (committed files plus uncommitted edits and untracked files
that are not ignored). A worker watching the experiments root runs the
command from the same relative subdirectory.

Flag parsing stops at the first argument that is not a gohat flag, so the
command's own flags need no quoting:

  gohat run -m "baseline" -n ml python train.py --lr=0.1`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().SetInterspersed(false)
	runCmd.Flags().StringP("message", "m", "", "Notes to attach to the job")
	runCmd.Flags().StringP("namespace", "n", "", "Namespace (default from config)")
	runCmd.Flags().Bool("sourceless", false, "Do not snapshot a git working copy")
	runCmd.Flags().Bool("hide", false, "Hide the job from default listings")
	runCmd.Flags().Bool("delete-when-finished", false, "Delete the job directory once it finishes")
	runCmd.Flags().Bool("json", false, "Output as JSON")
}

func runRun(cmd *cobra.Command, args []string) error {
	notes, _ := cmd.Flags().GetString("message")
	namespace, _ := cmd.Flags().GetString("namespace")
	sourceless, _ := cmd.Flags().GetBool("sourceless")
	hide, _ := cmd.Flags().GetBool("hide")
	deleteWhenFinished, _ := cmd.Flags().GetBool("delete-when-finished")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	if strings.TrimSpace(namespace) == "" {
		namespace = appConfig.Namespace
	}

	req := ledger.CreateRequest{
		Namespace:          namespace,
		Source:             ledger.SourceGit,
		Command:            args,
		Notes:              notes,
		Hide:               hide,
		DeleteWhenFinished: deleteWhenFinished,
	}
	if sourceless {
		req.Source = ledger.SourceNone
	}

	l := openLedger()
	job, err := l.Creator.Create(cmd.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrNotVersionControlled):
			return exitError(foundry.ExitInvalidArgument, "Not inside a git working copy with commits (git init && git add -A && git commit, or use --sourceless)", err)
		case ledger.IsInvalid(err):
			return exitError(foundry.ExitInvalidArgument, "Invalid job request", err)
		default:
			return exitError(foundry.ExitFileWriteError, "Failed to create job", err)
		}
	}

	url := jobURL(appConfig.ExperimentsDir, job.Namespace, job.ID)
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), createdOutput{CreatedJob: job, URL: url})
	}
	printCreated(cmd.OutOrStdout(), job, url)
	return nil
}

type createdOutput struct {
	*ledger.CreatedJob
	URL string `json:"url,omitempty"`
}

// jobURL returns the dashboard URL when a server has published its address.
func jobURL(root, namespace, jobID string) string {
	info, err := ledger.ReadHostInfo(root)
	if err != nil {
		if !errors.Is(err, ledger.ErrNoHostInfo) {
			observability.CLILogger.Warn("Ignoring unreadable host info", zap.Error(err))
		}
		return ""
	}
	return info.JobURL(namespace, jobID)
}

func printCreated(w io.Writer, job *ledger.CreatedJob, url string) {
	_, _ = fmt.Fprintf(w, "job=%s/%s\n", job.Namespace, job.ID)
	_, _ = fmt.Fprintf(w, "dir=%s\n", job.Dir)
	_, _ = fmt.Fprintf(w, "command=%s\n", job.Command)
	if job.Subdir != "" {
		_, _ = fmt.Fprintf(w, "subdir=%s\n", job.Subdir)
	}
	_, _ = fmt.Fprintf(w, "files_copied=%d\n", job.FilesCopied)
	_, _ = fmt.Fprintf(w, "created_at=%s\n", job.CreatedAt.UTC().Format(time.RFC3339))
	if url != "" {
		_, _ = fmt.Fprintf(w, "url=%s\n", url)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
