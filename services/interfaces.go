package services

import (
	"context"
	"time"

	"stockhero/models"
)

// MarketDataService defines the upstream operations the pipeline consumes
type MarketDataService interface {
	CheckMarketOpen(ctx context.Context, date time.Time) (bool, error)
	FetchDaily(ctx context.Context, stock models.StockRef, date time.Time) (*models.DailyRecord, error)
	FetchMonth(ctx context.Context, stock models.StockRef, month time.Time) ([]models.DailyRecord, error)
	FetchRatios(ctx context.Context, date time.Time) (map[string]models.RatioRecord, error)
	FetchInstitutional(ctx context.Context, date time.Time, industry Industry) ([]models.InstitutionalRecord, error)
}

// Compile-time interface verification
var _ MarketDataService = (*TWSEClient)(nil)
