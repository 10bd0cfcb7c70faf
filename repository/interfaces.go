package repository

import (
	"context"
	"time"

	"stockhero/models"

	"github.com/google/uuid"
)

// Store defines all repository operations the pipeline depends on
type Store interface {
	// InTx runs fn atomically; nested calls become savepoints
	InTx(ctx context.Context, fn func(Store) error) error
	Health(ctx context.Context) error

	// Stock info
	GetFollowedStocks(ctx context.Context) ([]models.StockInfo, error)
	GetStockInfo(ctx context.Context, stockID string) (*models.StockInfo, error)
	UpsertStockInfo(ctx context.Context, info *models.StockInfo) error
	SetFollowed(ctx context.Context, stockID string, followed bool) error
	UpdateConditions(ctx context.Context, stockID string, conditions models.Conditions) error

	// Daily records
	UpsertDailyRecords(ctx context.Context, records []models.DailyRecord) error
	GetDailyRecord(ctx context.Context, stockID string, date time.Time) (*models.DailyRecord, error)
	GetRecentCloses(ctx context.Context, stockID string, date time.Time, limit int) ([]models.ClosePoint, error)
	GetCloseHistory(ctx context.Context, stockID string) ([]models.ClosePoint, error)
	UpdateMovingAverages(ctx context.Context, stockID string, values []models.MovingAverages) error
	GetRecentBars(ctx context.Context, stockID string, date time.Time, limit int) ([]models.PriceBar, error)
	UpdateStochastic(ctx context.Context, stockID string, kd models.Stochastic) error
	UpdateRatios(ctx context.Context, date time.Time, ratio models.RatioRecord) error
	GetLatestTwoSessions(ctx context.Context, date time.Time) ([]models.SessionSnapshot, error)

	// Institutional flows
	UpsertInstitutionalRecords(ctx context.Context, records []models.InstitutionalRecord) error

	// Pipeline runs
	CreatePipelineRun(ctx context.Context, run *models.PipelineRun) error
	GetPipelineRun(ctx context.Context, id uuid.UUID) (*models.PipelineRun, error)
	GetPipelineRuns(ctx context.Context, limit int) ([]models.PipelineRun, error)
}

// Compile-time interface verification
var _ Store = (*Repository)(nil)
