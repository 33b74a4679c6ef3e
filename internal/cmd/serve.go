package cmd

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/gohat/internal/observability"
	"github.com/3leaps/gohat/internal/server"
	"github.com/3leaps/gohat/internal/server/handlers"
	"github.com/3leaps/gohat/pkg/ledger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the ledger over a JSON API",
	Long: `Serve the experiments ledger over HTTP.

On startup the server publishes its address in hostinfo.json at the
experiments root so that 'gohat run' can print job URLs. When gc.schedule is
set, finished jobs are collected on that cron schedule.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "", "Bind address (default from config)")
	serveCmd.Flags().Int("port", -1, "Port (default from config; 0 picks a free port)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := appConfig
	log := observability.CLILogger

	host := cfg.Server.Host
	if h, _ := cmd.Flags().GetString("host"); strings.TrimSpace(h) != "" {
		host = h
	}
	port := cfg.Server.Port
	if p, _ := cmd.Flags().GetInt("port"); p >= 0 {
		port = p
	}

	l := openLedger()
	if err := l.Scanner.EnsureLedger(); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to prepare experiments root", err)
	}

	srv := server.New(host, port,
		server.WithLogger(log),
		server.WithVersion(handlers.VersionInfo{
			Version:   versionInfo.Version,
			Commit:    versionInfo.Commit,
			BuildDate: versionInfo.BuildDate,
		}),
		server.WithLedger(l, cfg.ExperimentsDir),
		server.WithRateLimit(cfg.Server.RateLimit.RPS, cfg.Server.RateLimit.Burst),
		server.WithTimeouts(server.Timeouts{
			Read:     cfg.Server.ReadTimeout,
			Write:    cfg.Server.WriteTimeout,
			Idle:     cfg.Server.IdleTimeout,
			Shutdown: cfg.Server.ShutdownTimeout,
		}),
	)

	addr, err := srv.Listen()
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to start server", err)
	}

	info := newHostInfo(host, addr)
	if err := ledger.WriteHostInfo(cfg.ExperimentsDir, info); err != nil {
		log.Warn("Failed to publish host info", zap.Error(err))
	} else {
		defer func() {
			if err := ledger.RemoveHostInfo(cfg.ExperimentsDir); err != nil {
				log.Warn("Failed to remove host info", zap.Error(err))
			}
		}()
	}

	if schedule := strings.TrimSpace(cfg.GC.Schedule); schedule != "" {
		c, err := scheduleGC(schedule, l.Collector, cfg.GC.MaxAge, log)
		if err != nil {
			return exitError(foundry.ExitInvalidArgument, "Invalid gc schedule", err)
		}
		defer func() { <-c.Stop().Done() }()
		log.Info("Scheduled garbage collection enabled", zap.String("schedule", schedule), zap.Duration("max_age", cfg.GC.MaxAge))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "url=%s\nexperiments_dir=%s\n", info.GUIURL, cfg.ExperimentsDir)
	log.Info("Serving experiments", zap.String("title", cfg.Server.Title), zap.String("url", info.GUIURL))

	if err := srv.Serve(ctx); err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Server failed", err)
	}
	log.Info("Shutdown complete")
	return nil
}

// newHostInfo builds the discovery record for a server bound to addr.
// Wildcard binds advertise the machine's hostname.
func newHostInfo(host string, addr net.Addr) ledger.HostInfo {
	hostname, _ := os.Hostname()

	port := 0
	if tcp, ok := addr.(*net.TCPAddr); ok {
		port = tcp.Port
	}

	advertised := strings.TrimSpace(host)
	switch advertised {
	case "", "0.0.0.0", "::", "[::]":
		advertised = hostname
		if advertised == "" {
			advertised = "localhost"
		}
	}

	return ledger.HostInfo{
		GUIURL:    "http://" + net.JoinHostPort(advertised, strconv.Itoa(port)),
		Hostname:  hostname,
		BindIP:    host,
		Port:      port,
		PID:       os.Getpid(),
		StartedAt: time.Now().UTC(),
	}
}

