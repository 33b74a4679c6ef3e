package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/gohat/pkg/ledger"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and control jobs",
	Long: `Inspect and control jobs in the experiments ledger.

Jobs are addressed as <namespace>/<id>. A bare id refers to the default
namespace, and any unique id prefix is accepted.`,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent jobs",
	Args:  cobra.NoArgs,
	RunE:  runJobsList,
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job>",
	Short: "Show status for a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsStatus,
}

var jobsAbortCmd = &cobra.Command{
	Use:   "abort <namespace/id>",
	Short: "Abort a job (queued jobs never start)",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsAbort,
}

var jobsDeleteCmd = &cobra.Command{
	Use:   "delete <job>",
	Short: "Delete a job directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsDelete,
}

var jobsHideCmd = &cobra.Command{
	Use:   "hide <job>",
	Short: "Hide a job from default listings",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setJobHidden(cmd, args[0], true) },
}

var jobsUnhideCmd = &cobra.Command{
	Use:   "unhide <job>",
	Short: "Show a hidden job in default listings again",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setJobHidden(cmd, args[0], false) },
}

var jobsNotesCmd = &cobra.Command{
	Use:   "notes <job> <text>",
	Short: "Replace a job's notes",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runJobsNotes,
}

var jobsMetricsCmd = &cobra.Command{
	Use:   "metrics [namespace]",
	Short: "Compare the latest metrics of jobs in a namespace",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runJobsMetrics,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsStatusCmd)
	jobsCmd.AddCommand(jobsAbortCmd)
	jobsCmd.AddCommand(jobsDeleteCmd)
	jobsCmd.AddCommand(jobsHideCmd)
	jobsCmd.AddCommand(jobsUnhideCmd)
	jobsCmd.AddCommand(jobsNotesCmd)
	jobsCmd.AddCommand(jobsMetricsCmd)
	jobsCmd.AddCommand(jobsLogsCmd)

	jobsListCmd.Flags().StringP("namespace", "n", "", "Namespace to list (default from config)")
	jobsListCmd.Flags().Bool("all", false, "List every namespace")
	jobsListCmd.Flags().Bool("hidden", false, "Include hidden jobs")
	jobsListCmd.Flags().Bool("json", false, "Output as JSON")
	jobsStatusCmd.Flags().StringP("output", "o", "table", "Output format: table, json, or yaml")
	jobsMetricsCmd.Flags().Bool("json", false, "Output as JSON")
}

func runJobsList(cmd *cobra.Command, _ []string) error {
	namespace, _ := cmd.Flags().GetString("namespace")
	all, _ := cmd.Flags().GetBool("all")
	hidden, _ := cmd.Flags().GetBool("hidden")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	if strings.TrimSpace(namespace) == "" {
		namespace = appConfig.Namespace
	}

	l := openLedger()
	opts := ledger.ListOptions{IncludeHidden: hidden}

	var (
		jobs []ledger.JobSummary
		err  error
	)
	if all {
		jobs, err = l.Scanner.ListAllJobs(opts)
	} else {
		jobs, err = l.Scanner.ListJobs(namespace, opts)
	}
	if err != nil {
		return ledgerExitError("Failed to list jobs", err)
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		if jobs == nil {
			jobs = []ledger.JobSummary{}
		}
		return writeJSON(out, jobs)
	}
	if len(jobs) == 0 {
		_, _ = fmt.Fprintln(out, "No jobs found")
		return nil
	}
	printJobTable(out, jobs, all, time.Now())
	return nil
}

func printJobTable(out io.Writer, jobs []ledger.JobSummary, withNamespace bool, now time.Time) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	header := "JOB ID\tSTATE\tPROGRESS\tUPDATED\tSUBTITLE"
	if withNamespace {
		header = "NAMESPACE\t" + header
	}
	_, _ = fmt.Fprintln(w, header)

	for _, j := range jobs {
		state := string(j.State)
		if j.Hidden {
			state += " (hidden)"
		}
		row := fmt.Sprintf("%s\t%s\t%s\t%s\t%s",
			j.ID,
			state,
			formatProgress(j.Progress),
			relativeTime(j.LastModified, now),
			dash(j.Subtitle),
		)
		if withNamespace {
			row = j.Namespace + "\t" + row
		}
		_, _ = fmt.Fprintln(w, row)
	}
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("output")

	l := openLedger()
	ns, id, err := resolveJobRef(l, args[0], appConfig.Namespace)
	if err != nil {
		return resolveExitError(err)
	}
	job, err := l.Reader.Read(ns, id)
	if err != nil {
		return ledgerExitError("Failed to read job", err)
	}
	return printJobStatus(cmd.OutOrStdout(), job, format, time.Now())
}

func printJobStatus(w io.Writer, job *ledger.JobSummary, format string, now time.Time) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		return writeJSON(w, job)
	case "yaml", "yml":
		return writeYAML(w, job)
	case "", "table", "text":
	default:
		return exitError(foundry.ExitInvalidArgument, "Invalid --output", fmt.Errorf("%q (expected table, json, or yaml)", format))
	}

	_, _ = fmt.Fprintf(w, "job=%s/%s\n", job.Namespace, job.ID)
	_, _ = fmt.Fprintf(w, "name=%s\n", job.DisplayName)
	_, _ = fmt.Fprintf(w, "state=%s\n", job.State)
	_, _ = fmt.Fprintf(w, "headline=%s\n", job.Headline)
	if job.Subtitle != "" {
		_, _ = fmt.Fprintf(w, "subtitle=%s\n", job.Subtitle)
	}
	if job.Progress.Known {
		_, _ = fmt.Fprintf(w, "progress=%s\n", formatProgress(job.Progress))
	}
	_, _ = fmt.Fprintf(w, "created_at=%s (%s)\n", job.CreatedAt.UTC().Format(time.RFC3339), relativeTime(job.CreatedAt, now))
	_, _ = fmt.Fprintf(w, "updated_at=%s (%s)\n", job.LastModified.UTC().Format(time.RFC3339), relativeTime(job.LastModified, now))
	if job.StartedAt != nil {
		_, _ = fmt.Fprintf(w, "started_at=%s\n", job.StartedAt.UTC().Format(time.RFC3339))
	}
	if job.FinishedAt != nil {
		_, _ = fmt.Fprintf(w, "finished_at=%s\n", job.FinishedAt.UTC().Format(time.RFC3339))
	}
	if job.Hidden {
		_, _ = fmt.Fprintln(w, "hidden=true")
	}
	if job.DeleteWhenFinished {
		_, _ = fmt.Fprintln(w, "delete_when_finished=true")
	}
	if job.LatestImage != nil {
		_, _ = fmt.Fprintf(w, "latest_image=%s\n", job.LatestImage.Path)
	}
	keys := make([]string, 0, len(job.Metrics))
	for k := range job.Metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		_, _ = fmt.Fprintf(w, "metric.%s=%v\n", k, job.Metrics[k])
	}
	_, _ = fmt.Fprintf(w, "dir=%s\n", job.Dir)
	return nil
}

func runJobsAbort(cmd *cobra.Command, args []string) error {
	l := openLedger()
	// Exact ids only, unlike status and logs.
	ns, id, err := parseJobRef(args[0], appConfig.Namespace)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid job reference", err)
	}
	if _, err := l.Reader.Read(ns, id); err != nil {
		// Aborting a job that is already gone is not an error.
		if ledger.IsNotFound(err) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "status=not_found")
			return nil
		}
		return ledgerExitError("Failed to abort job", err)
	}
	if err := l.Controller.Abort(ns, id); err != nil {
		return ledgerExitError("Failed to abort job", err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "job=%s/%s\nstatus=aborted\n", ns, id)
	return nil
}

func runJobsDelete(cmd *cobra.Command, args []string) error {
	l := openLedger()
	ns, id, err := parseJobRef(args[0], appConfig.Namespace)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid job reference", err)
	}
	// Deletion takes exact ids only.
	if err := l.Controller.Delete(ns, id); err != nil {
		return ledgerExitError("Failed to delete job", err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "job=%s/%s\nstatus=deleted\n", ns, id)
	return nil
}

func setJobHidden(cmd *cobra.Command, ref string, hidden bool) error {
	l := openLedger()
	ns, id, err := resolveJobRef(l, ref, appConfig.Namespace)
	if err != nil {
		return resolveExitError(err)
	}
	if err := l.Controller.SetHidden(ns, id, hidden); err != nil {
		return ledgerExitError("Failed to update job visibility", err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "job=%s/%s\nhidden=%t\n", ns, id, hidden)
	return nil
}

func runJobsNotes(cmd *cobra.Command, args []string) error {
	l := openLedger()
	ns, id, err := resolveJobRef(l, args[0], appConfig.Namespace)
	if err != nil {
		return resolveExitError(err)
	}
	notes := strings.Join(args[1:], " ")
	if err := l.Controller.UpdateNotes(ns, id, notes); err != nil {
		return ledgerExitError("Failed to update notes", err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "job=%s/%s\nstatus=updated\n", ns, id)
	return nil
}

func runJobsMetrics(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	namespace := appConfig.Namespace
	if len(args) == 1 {
		namespace = args[0]
	}

	l := openLedger()
	table, err := l.Scanner.NamespaceMetrics(namespace)
	if err != nil {
		return ledgerExitError("Failed to collect metrics", err)
	}
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), table)
	}
	printMetricsTable(cmd.OutOrStdout(), table)
	return nil
}

func printMetricsTable(out io.Writer, table *ledger.MetricsTable) {
	if len(table.Rows) == 0 {
		_, _ = fmt.Fprintln(out, "No jobs found")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "JOB ID\t"+strings.ToUpper(strings.Join(table.Keys, "\t")))

	ids := make([]string, 0, len(table.Rows))
	for id := range table.Rows {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		row := table.Rows[id]
		cells := make([]string, 0, len(table.Keys)+1)
		cells = append(cells, id)
		for _, k := range table.Keys {
			v, ok := row[k]
			if !ok || v == nil || v == "" {
				cells = append(cells, "-")
				continue
			}
			cells = append(cells, formatMetric(v))
		}
		_, _ = fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
}

// resolveExitError maps job reference resolution failures to exit codes.
func resolveExitError(err error) error {
	if ledger.IsNotFound(err) {
		return exitError(foundry.ExitFileNotFound, "Job not found", err)
	}
	return exitError(foundry.ExitInvalidArgument, "Invalid job reference", err)
}
