package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"stockhero/cache"
	"stockhero/config"
	"stockhero/models"
	"stockhero/observability"
	"stockhero/pipeline"
	"stockhero/repository"
	"stockhero/services"

	"github.com/redis/go-redis/v9"
)

// ErrRunInProgress is returned when a pipeline or backfill is already running
var ErrRunInProgress = errors.New("a pipeline run is already in progress")

// Pipeline defines the orchestrator operations the application exposes
type Pipeline interface {
	Run(ctx context.Context, date *time.Time) *models.PipelineRun
	BackfillPrices(ctx context.Context, start, end time.Time) (models.StageResult, error)
	BackfillInstitutional(ctx context.Context, start, end time.Time) (models.StageResult, error)
	SetFollowed(ctx context.Context, stockID string, followed bool) error
	RecentRuns(ctx context.Context, limit int) ([]models.PipelineRun, error)
}

// HealthChecker reports store connectivity
type HealthChecker interface {
	Health(ctx context.Context) error
}

// App holds application dependencies using interfaces for testability
type App struct {
	cfg      *config.Config
	pipeline Pipeline
	store    HealthChecker
	breakers *services.CircuitBreakerRegistry
	logger   *slog.Logger
	runSem   chan struct{}
	closers  []func()
}

// New creates a new App from already constructed components
func New(cfg *config.Config, p Pipeline, store HealthChecker, breakers *services.CircuitBreakerRegistry, logger *slog.Logger) *App {
	return &App{
		cfg:      cfg,
		pipeline: p,
		store:    store,
		breakers: breakers,
		logger:   observability.OrDefault(logger),
		runSem:   make(chan struct{}, 1),
	}
}

// Build connects to PostgreSQL (and Redis when configured) and wires the pipeline
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	logger = observability.OrDefault(logger)
	if !cfg.HasDatabase() {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	repo, err := repository.NewRepository(ctx, cfg.Database.URL)
	if err != nil {
		return nil, err
	}
	if err := repo.Migrate(ctx); err != nil {
		repo.Close()
		return nil, err
	}

	breakers := services.NewCircuitBreakerRegistry(services.BreakerConfigFrom(cfg.Breaker), logger)
	client := services.NewTWSEClient(cfg.TWSE, breakers, logger)

	var opts []pipeline.Option
	var rdb *redis.Client
	if cfg.HasRedis() {
		rdb, err = cache.Connect(ctx, cfg.Redis)
		if err != nil {
			logger.Warn("redis unavailable, ratio cache disabled", "error", err)
		} else {
			ttl := time.Duration(cfg.Redis.RatioTTLSeconds) * time.Second
			opts = append(opts, pipeline.WithRatioCache(cache.NewRatioCache(rdb, ttl, logger)))
		}
	}

	orch := pipeline.NewOrchestrator(repo, client, cfg.Pipeline, logger, opts...)
	a := New(cfg, orch, repo, breakers, logger)
	a.closers = append(a.closers, repo.Close)
	if rdb != nil {
		a.closers = append(a.closers, func() { rdb.Close() })
	}
	return a, nil
}

// Shutdown releases connections
func (a *App) Shutdown() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// acquire takes the single run slot without waiting
func (a *App) acquire() (func(), error) {
	select {
	case a.runSem <- struct{}{}:
		return func() { <-a.runSem }, nil
	default:
		return nil, ErrRunInProgress
	}
}

// RunPipeline runs the daily update for date (today when nil)
func (a *App) RunPipeline(ctx context.Context, date *time.Time) (*models.PipelineRun, error) {
	release, err := a.acquire()
	if err != nil {
		return nil, err
	}
	defer release()
	return a.pipeline.Run(ctx, date), nil
}

// BackfillPrices loads price history between start and end
func (a *App) BackfillPrices(ctx context.Context, start, end time.Time) (models.StageResult, error) {
	release, err := a.acquire()
	if err != nil {
		return models.StageResult{}, err
	}
	defer release()
	return a.pipeline.BackfillPrices(ctx, start, end)
}

// BackfillInstitutional loads institutional flows between start and end
func (a *App) BackfillInstitutional(ctx context.Context, start, end time.Time) (models.StageResult, error) {
	release, err := a.acquire()
	if err != nil {
		return models.StageResult{}, err
	}
	defer release()
	return a.pipeline.BackfillInstitutional(ctx, start, end)
}

// SetFollowed toggles whether the pipeline processes a stock
func (a *App) SetFollowed(ctx context.Context, stockID string, followed bool) error {
	return a.pipeline.SetFollowed(ctx, stockID, followed)
}

// RecentRuns returns the latest pipeline runs
func (a *App) RecentRuns(ctx context.Context, limit int) ([]models.PipelineRun, error) {
	return a.pipeline.RecentRuns(ctx, limit)
}

// Health reports store connectivity
func (a *App) Health(ctx context.Context) error {
	if a.store == nil {
		return repository.ErrNotConnected
	}
	return a.store.Health(ctx)
}

// BreakerStatus returns the state of every upstream circuit breaker
func (a *App) BreakerStatus() map[string]services.CircuitBreakerStatus {
	if a.breakers == nil {
		return map[string]services.CircuitBreakerStatus{}
	}
	return a.breakers.Status()
}

// Logger returns the application logger
func (a *App) Logger() *slog.Logger {
	return a.logger
}

// Config returns the application configuration
func (a *App) Config() *config.Config {
	return a.cfg
}
