// Command stockhero runs the daily market data pipeline, its historical
// backfills and the HTTP trigger surface.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stockhero/config"
	"stockhero/internal/api"
	"stockhero/internal/app"
	"stockhero/models"
	"stockhero/observability"

	"github.com/joho/godotenv"
)

const usage = `usage: stockhero <command> [args]

commands:
  run [YYYY-MM-DD]                          run the daily update (default: today in Taipei)
  backfill-prices <start> <end>             load monthly price history and recompute averages
  backfill-institutional <start> <end>      load institutional flows day by day
  follow <stock_id>                         add a stock to the watch list
  unfollow <stock_id>                       remove a stock from the watch list
  serve                                     start the HTTP server`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Log.Production, cfg.Log.Level)
	slog.SetDefault(logger)
	observability.InitMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}

	code := dispatch(ctx, application, logger, os.Args[1], os.Args[2:])
	application.Shutdown()
	stop()
	os.Exit(code)
}

func dispatch(ctx context.Context, a *app.App, logger *slog.Logger, cmd string, args []string) int {
	switch cmd {
	case "run":
		var date *time.Time
		if len(args) > 0 {
			d, err := parseDate(args[0])
			if err != nil {
				return fail(err)
			}
			date = &d
		}
		run, err := a.RunPipeline(ctx, date)
		if err != nil {
			observability.GetMetrics().RecordTrigger("cli", "rejected")
			return fail(err)
		}
		observability.GetMetrics().RecordTrigger("cli", string(run.Verdict))
		fmt.Println(run.Summary)
		if !run.Succeeded() {
			return 1
		}
		return 0

	case "backfill-prices", "backfill-institutional":
		if len(args) != 2 {
			return fail(fmt.Errorf("%s needs <start> <end>", cmd))
		}
		start, err := parseDate(args[0])
		if err != nil {
			return fail(err)
		}
		end, err := parseDate(args[1])
		if err != nil {
			return fail(err)
		}
		backfill := a.BackfillPrices
		if cmd == "backfill-institutional" {
			backfill = a.BackfillInstitutional
		}
		res, err := backfill(ctx, start, end)
		if err != nil {
			return fail(err)
		}
		fmt.Printf("[%s] %s: %s\n", res.Stage, res.Status, res.Message)
		if res.Status == models.StageStatusAborted {
			return 1
		}
		return 0

	case "follow", "unfollow":
		if len(args) != 1 {
			return fail(fmt.Errorf("%s needs <stock_id>", cmd))
		}
		if err := api.ValidateStockID(args[0]); err != nil {
			return fail(err)
		}
		if err := a.SetFollowed(ctx, args[0], cmd == "follow"); err != nil {
			return fail(err)
		}
		return 0

	case "serve":
		if err := serve(ctx, a, logger); err != nil {
			return fail(err)
		}
		return 0
	}

	fmt.Fprintln(os.Stderr, usage)
	return 2
}

func serve(ctx context.Context, a *app.App, logger *slog.Logger) error {
	cfg := a.Config()
	server := &http.Server{
		Addr:        cfg.HTTP.Addr,
		Handler:     api.NewRouter(api.NewHandler(a, cfg), cfg),
		ReadTimeout: 30 * time.Second,
		// a triggered run may take the whole pipeline budget
		WriteTimeout: cfg.Pipeline.RunTimeout() + 30*time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", "addr", cfg.HTTP.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("HTTP server stopped")
	return nil
}

func parseDate(s string) (time.Time, error) {
	d, err := time.Parse(models.DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return d, nil
}

func fail(err error) int {
	fmt.Fprintln(os.Stderr, "error:", err)
	return 1
}
