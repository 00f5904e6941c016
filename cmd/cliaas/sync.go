package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	cliaaserrors "github.com/discordwell/cliaas/pkg/errors"
	"github.com/discordwell/cliaas/pkg/json"
	"github.com/discordwell/cliaas/pkg/metrics"
	"github.com/discordwell/cliaas/pkg/syncengine"
	"github.com/discordwell/cliaas/pkg/syncworker"
)

func newSyncCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync helpdesk data",
	}
	cmd.AddCommand(newSyncRunCommand(a), newSyncWorkerCommand(a))
	return cmd
}

// cycleFlags are shared by `sync run` and `sync worker`
type cycleFlags struct {
	outDir       string
	maxPages     int
	cycleTimeout time.Duration
}

func (f *cycleFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.outDir, "out-dir", "o", "", "Write JSONL files to this directory instead of the configured store")
	cmd.Flags().IntVar(&f.maxPages, "max-pages", 0, "Stop each cycle after this many pages (0 = no limit)")
	cmd.Flags().DurationVar(&f.cycleTimeout, "cycle-timeout", 0, "Abort a cycle that runs longer than this")
}

// resolve fills unset flags from configuration
func (f *cycleFlags) resolve(cmd *cobra.Command, a *app) {
	if !cmd.Flags().Changed("out-dir") {
		f.outDir = a.cfg.Sync.OutDir
	}
	if !cmd.Flags().Changed("max-pages") {
		f.maxPages = a.cfg.Sync.MaxPages
	}
	if !cmd.Flags().Changed("cycle-timeout") {
		f.cycleTimeout = a.cfg.Sync.CycleTimeout
	}
}

func newSyncRunCommand(a *app) *cobra.Command {
	var flags cycleFlags
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "run <connector>",
		Short: "Run one sync cycle",
		Long: `Run one incremental sync cycle for a connector and print its stats.

Example:
  cliaas sync run zendesk --out-dir ./export`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.resolve(cmd, a)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if flags.cycleTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, flags.cycleTimeout)
				defer cancel()
			}

			engine, cleanup, err := a.engine(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := engine.RunSyncCycle(ctx, args[0], syncengine.Options{
				OutDir:   flags.outDir,
				MaxPages: flags.maxPages,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				b, err := json.MarshalIndent(stats, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(b))
			} else {
				fmt.Fprintln(out, stats.String())
			}
			if stats.Failed() {
				return fmt.Errorf("sync failed: %s", stats.Error)
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print stats as JSON")
	return cmd
}

func newSyncWorkerCommand(a *app) *cobra.Command {
	var flags cycleFlags
	var interval time.Duration
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "worker [connector...]",
		Short: "Sync connectors on an interval until interrupted",
		Long: `Start one worker per connector. Each worker runs a cycle immediately and
then every --interval after the previous cycle ends. With no arguments the
workers listed under sync.workers start, or every configured connector.

Example:
  cliaas sync worker zendesk intercom --interval 10m`,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.resolve(cmd, a)
			if !cmd.Flags().Changed("interval") {
				interval = a.cfg.Sync.Interval
			}
			if !cmd.Flags().Changed("metrics-addr") {
				metricsAddr = a.cfg.Metrics.Addr
			}

			connectors := args
			if len(connectors) == 0 {
				connectors = a.cfg.Sync.Workers
			}
			if len(connectors) == 0 {
				connectors = a.cfg.ConfiguredConnectors()
			}
			if len(connectors) == 0 {
				return cliaaserrors.New(cliaaserrors.ErrorTypeConfig, "no connectors to sync: pass names or configure connectors")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			engine, cleanup, err := a.engine(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			supervisor := syncworker.NewSupervisor(engine, syncworker.WithLogger(a.log))
			opts := syncworker.Options{
				Interval:     interval,
				OutDir:       flags.outDir,
				MaxPages:     flags.maxPages,
				CycleTimeout: flags.cycleTimeout,
			}
			for _, c := range connectors {
				if _, err := supervisor.Start(ctx, c, opts); err != nil {
					supervisor.StopAll()
					return err
				}
			}

			var srv *http.Server
			if metricsAddr != "" {
				srv = metrics.NewServer(metricsAddr)
				go func() {
					a.log.Info("serving metrics", zap.String("addr", metricsAddr))
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						a.log.Error("metrics server error", zap.Error(err))
						stop()
					}
				}()
			}

			<-ctx.Done()
			a.log.Info("shutting down workers", zap.Int("workers", len(connectors)))
			supervisor.StopAll()

			if srv != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					a.log.Warn("failed to stop metrics server", zap.Error(err))
				}
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().DurationVar(&interval, "interval", syncworker.DefaultInterval, "Time between the end of one cycle and the start of the next")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (default from config)")
	return cmd
}
