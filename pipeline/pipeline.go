package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"stockhero/config"
	"stockhero/models"
	"stockhero/observability"
	"stockhero/repository"
	"stockhero/services"
)

// taipei is the exchange's civil time zone; Taiwan observes no daylight saving
var taipei = time.FixedZone("Asia/Taipei", 8*60*60)

// RatioCache stores the whole-market ratio batch per business date
type RatioCache interface {
	Get(ctx context.Context, date time.Time) (map[string]models.RatioRecord, bool, error)
	Set(ctx context.Context, date time.Time, ratios map[string]models.RatioRecord) error
}

// Orchestrator sequences the daily update stages for one business date
type Orchestrator struct {
	store  repository.Store
	market services.MarketDataService
	ratios RatioCache
	cfg    config.PipelineConfig
	logger *slog.Logger
	now    func() time.Time
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithRatioCache enables the ratio batch cache
func WithRatioCache(c RatioCache) Option {
	return func(o *Orchestrator) { o.ratios = c }
}

// WithClock overrides the clock used when no date is given
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator creates a new Orchestrator
func NewOrchestrator(store repository.Store, market services.MarketDataService, cfg config.PipelineConfig, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:  store,
		market: market,
		cfg:    cfg,
		logger: observability.OrDefault(logger),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunPipeline runs all four stages for date (today in Taipei when nil) and reports
// whether the run succeeded together with the summary for downstream reporting.
// Warnings still count as success.
func (o *Orchestrator) RunPipeline(ctx context.Context, date *time.Time) (bool, string) {
	run := o.Run(ctx, date)
	return run.Succeeded(), run.Summary
}

// Run executes the pipeline and returns the full run record
func (o *Orchestrator) Run(ctx context.Context, date *time.Time) *models.PipelineRun {
	businessDate := o.businessDate(date)
	run := models.NewPipelineRun(businessDate)
	logger := observability.WithRun(o.logger, run.ID.String(), businessDate.Format(models.DateLayout))

	if o.cfg.RunTimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.RunTimeout())
		defer cancel()
	}

	logger.Info("pipeline started")

	stages := []struct {
		stage models.Stage
		fn    func(context.Context, time.Time, *slog.Logger) models.StageResult
	}{
		{models.StageUpdatePrices, o.updatePrices},
		{models.StageUpdateRatios, o.updateRatios},
		{models.StageComputeIndicators, o.computeIndicators},
		{models.StageScreen, o.screen},
	}
	for _, s := range stages {
		run.AddStage(o.runStage(ctx, s.stage, businessDate, logger, s.fn))
	}

	verdict := verdictOf(run.Stages)
	run.Complete(verdict, "")
	run.Summary = composeSummary(run)

	observability.GetMetrics().RecordPipelineRun(string(verdict), time.Duration(run.DurationMs)*time.Millisecond)
	if err := o.store.CreatePipelineRun(context.WithoutCancel(ctx), run); err != nil {
		logger.Warn("failed to record pipeline run", "error", err)
	}

	logger.Info("pipeline completed", "verdict", verdict, "duration_ms", run.DurationMs)
	return run
}

// runStage executes one stage, turning a panic into an aborted result
func (o *Orchestrator) runStage(ctx context.Context, stage models.Stage, date time.Time, logger *slog.Logger,
	fn func(context.Context, time.Time, *slog.Logger) models.StageResult) (result models.StageResult) {

	stageLogger := observability.WithStage(logger, string(stage))
	start := time.Now()

	defer func() {
		if p := recover(); p != nil {
			stageLogger.Error("stage panicked", "panic", p, "stack", string(debug.Stack()))
			result = aborted(stage, fmt.Errorf("panic: %v", p))
		}
		result.DurationMs = time.Since(start).Milliseconds()
		observability.GetMetrics().RecordStage(string(stage), string(result.Status), time.Since(start),
			len(result.Succeeded), len(result.Failed), len(result.Skipped))

		attrs := []any{"status", result.Status, "succeeded", len(result.Succeeded), "failed", len(result.Failed)}
		if result.Status == models.StageStatusAborted {
			stageLogger.Error("stage aborted", append(attrs, "error", result.Error)...)
		} else {
			stageLogger.Info("stage finished", attrs...)
		}
	}()

	return fn(ctx, date, stageLogger)
}

// SetFollowed toggles whether the pipeline processes a stock
func (o *Orchestrator) SetFollowed(ctx context.Context, stockID string, followed bool) error {
	if err := o.store.SetFollowed(ctx, stockID, followed); err != nil {
		return err
	}
	o.logger.Info("follow flag updated", "stock_id", stockID, "follow", followed)
	return nil
}

// RecentRuns returns the latest recorded pipeline runs
func (o *Orchestrator) RecentRuns(ctx context.Context, limit int) ([]models.PipelineRun, error) {
	return o.store.GetPipelineRuns(ctx, limit)
}

func (o *Orchestrator) businessDate(date *time.Time) time.Time {
	if date != nil {
		return models.NormalizeDate(*date)
	}
	return models.NormalizeDate(o.now().In(taipei))
}

func aborted(stage models.Stage, err error) models.StageResult {
	res := models.StageResult{
		Stage:     stage,
		Status:    models.StageStatusAborted,
		Succeeded: []models.StockRef{},
		Failed:    []models.StockRef{},
		Error:     err.Error(),
	}
	res.Message = stageMessage(res)
	return res
}

func skipped(stage models.Stage) models.StageResult {
	res := models.StageResult{
		Stage:     stage,
		Status:    models.StageStatusSkipped,
		Succeeded: []models.StockRef{},
		Failed:    []models.StockRef{},
	}
	res.Message = stageMessage(res)
	return res
}
