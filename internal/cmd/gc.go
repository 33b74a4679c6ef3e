package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/gohat/pkg/ledger"
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Delete finished jobs that are no longer wanted",
	Long: `Delete finished jobs that were flagged with --delete-when-finished, or that
finished longer ago than --max-age. Running, queued, and errored jobs are
never collected.`,
	Args: cobra.NoArgs,
	RunE: runGC,
}

func init() {
	rootCmd.AddCommand(gcCmd)
	gcCmd.Flags().String("max-age", "", "Also delete jobs finished longer ago than this (e.g. 72h, 30d); default from config")
	gcCmd.Flags().Bool("dry-run", false, "Show what would be deleted")
	gcCmd.Flags().Bool("json", false, "Output as JSON")
}

func runGC(cmd *cobra.Command, _ []string) error {
	maxAgeRaw, _ := cmd.Flags().GetString("max-age")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	maxAge := appConfig.GC.MaxAge
	if strings.TrimSpace(maxAgeRaw) != "" {
		d, err := parseDuration(maxAgeRaw)
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid --max-age", err)
		}
		maxAge = d
	}

	res, err := openLedger().Collector.Sweep(ledger.SweepOptions{MaxAge: maxAge, DryRun: dryRun})
	if err != nil {
		return ledgerExitError("Garbage collection failed", err)
	}

	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), res)
	}
	printSweep(cmd.OutOrStdout(), res)
	return nil
}

func printSweep(w io.Writer, res *ledger.SweepResult) {
	if res.DryRun {
		_, _ = fmt.Fprintf(w, "would_delete=%d\n", res.WouldDelete)
	} else {
		_, _ = fmt.Fprintf(w, "deleted=%d\n", res.Deleted)
	}
	for _, ref := range res.Jobs {
		_, _ = fmt.Fprintf(w, "job=%s\n", ref)
	}
}

// parseDuration parses a duration string that may include day suffix (e.g., "30d").
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if len(s) > 0 && s[len(s)-1] == 'd' {
		var days int
		if _, err := fmt.Sscanf(s, "%dd", &days); err != nil || days < 0 {
			return 0, fmt.Errorf("invalid duration: %s", s)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid duration: %s", s)
	}
	return d, nil
}

// scheduleGC runs a sweep on every tick of schedule until the returned cron
// is stopped.
func scheduleGC(schedule string, collector *ledger.Collector, maxAge time.Duration, log *zap.Logger) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		res, err := collector.Sweep(ledger.SweepOptions{MaxAge: maxAge})
		if err != nil {
			log.Warn("Scheduled garbage collection failed", zap.Error(err))
			return
		}
		if res.Deleted > 0 {
			log.Info("Scheduled garbage collection", zap.Int("deleted", res.Deleted), zap.Strings("jobs", res.Jobs))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid gc schedule %q: %w", schedule, err)
	}
	c.Start()
	return c, nil
}
