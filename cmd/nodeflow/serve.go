package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rendis/nodeflow/internal/scheduler"
	"github.com/rendis/nodeflow/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server, the scheduler and the run workers",
	Long: `Start the webhook and API server together with the cron scheduler
and the worker pool that executes queued runs. Shuts down gracefully on
SIGINT or SIGTERM, letting in-flight runs finish.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.String("listen-addr", "", "HTTP listen address (default :4100)")
	f.Int("workers", 0, "number of concurrent run workers")
	f.String("redis-addr", "", "Redis address for the status hub (host:port)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	sched := scheduler.NewScheduler(a.store, a.runner, cfg.ScheduleInterval, a.logger)
	srv := server.New(server.Deps{
		Runs:   a.runner,
		Stats:  a.runner,
		Store:  a.store,
		Hub:    a.hub,
		Tokens: a.tokens,
		Logger: a.logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.runner.Start(gctx)
	})
	g.Go(func() error {
		if err := sched.RecoverMissed(gctx); err != nil {
			a.logger.Warn("schedule recovery failed", "error", err)
		}
		if err := sched.Start(gctx); err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		<-gctx.Done()
		return sched.Stop()
	})
	g.Go(func() error {
		sweepStepResults(gctx, a.store, cfg.StepRetention, time.Hour, a.logger)
		return nil
	})
	g.Go(func() error {
		err := srv.ListenAndServe(gctx, cfg.ListenAddr)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	err = g.Wait()
	a.runner.Shutdown()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.logger.Info("nodeflow stopped")
	return nil
}

type stepPruner interface {
	PruneStepResults(ctx context.Context, before time.Time) (int64, error)
}

// sweepStepResults deletes step results older than retention right away and
// then on every tick until ctx is done.
func sweepStepResults(ctx context.Context, st stepPruner, retention, every time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		n, err := st.PruneStepResults(ctx, time.Now().Add(-retention))
		switch {
		case err != nil && ctx.Err() == nil:
			logger.Warn("step result sweep failed", "error", err)
		case n > 0:
			logger.Info("pruned step results", "count", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
