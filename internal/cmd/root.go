// Package cmd implements the gohat command line.
package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/gohat/internal/config"
	"github.com/3leaps/gohat/internal/observability"
	"github.com/3leaps/gohat/pkg/ledger"
)

var (
	cfgFile   string
	appConfig *config.Config

	versionInfo = struct {
		Version   string
		Commit    string
		BuildDate string
	}{
		Version:   "dev",
		Commit:    "unknown",
		BuildDate: "unknown",
	}
)

var rootCmd = &cobra.Command{
	Use:   "gohat",
	Short: "Launch and track experiment jobs in a filesystem ledger",
	Long: `gohat records experiment jobs as directories under an experiments root.

Each job is a snapshot of your working copy plus a launch script. Workers pick
queued jobs up by watching the same directories; gohat reads their progress
back from sentinel files and captured output.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initRuntime,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (default: $HOME/.config/gohat/gohat.yaml or ./gohat.yaml)")
	pf.String("experiments-dir", "", "Experiments root directory (overrides config)")
	pf.String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
}

// SetVersionInfo records build metadata injected by main.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	defer observability.Sync()

	err := rootCmd.Execute()
	if err == nil {
		return 0
	}
	_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
	return exitCodeOf(err)
}

func initRuntime(cmd *cobra.Command, _ []string) error {
	overrides := map[string]any{}
	if dir, _ := cmd.Flags().GetString("experiments-dir"); strings.TrimSpace(dir) != "" {
		overrides["experiments_dir"] = dir
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); strings.TrimSpace(lvl) != "" {
		overrides["logging"] = map[string]any{"level": lvl}
	}

	cfg, err := config.LoadFile(cmd.Context(), cfgFile, overrides)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to load configuration", err)
	}
	appConfig = cfg

	if err := observability.InitCLILogger(observability.LogOptions{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	}); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to initialize logging", err)
	}

	observability.CLILogger.Debug("Configuration loaded",
		zap.String("experiments_dir", cfg.ExperimentsDir),
		zap.String("config_file", cfgFile))
	return nil
}

// openLedger wires the ledger from the loaded configuration.
func openLedger() *ledger.Ledger {
	opts := appConfig.LedgerOptions()
	opts.Logger = observability.CLILogger
	return ledger.Open(opts, nil)
}

// cliError carries a process exit code out of RunE.
type cliError struct {
	code    int
	message string
	err     error
}

func (e *cliError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("%s (exit code %d)", e.message, e.code)
	}
	return fmt.Sprintf("%s: %v (exit code %d)", e.message, e.err, e.code)
}

func (e *cliError) Unwrap() error {
	return e.err
}

func (e *cliError) ExitCode() int {
	return e.code
}

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return &cliError{code: code, message: message, err: err}
}

func exitCodeOf(err error) int {
	var ce *cliError
	if errors.As(err, &ce) {
		return ce.code
	}
	return 1
}

// ledgerExitError picks an exit code for a ledger failure.
func ledgerExitError(message string, err error) error {
	switch {
	case ledger.IsNotFound(err):
		return exitError(foundry.ExitFileNotFound, message, err)
	case ledger.IsInvalid(err):
		return exitError(foundry.ExitInvalidArgument, message, err)
	default:
		return exitError(foundry.ExitFileWriteError, message, err)
	}
}
