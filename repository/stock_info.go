package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"stockhero/models"
	"stockhero/observability"

	"github.com/jackc/pgx/v5"
)

const stockInfoColumns = `stock_id, stock_name, industry, follow, market_type, source,
	created_at, updated_at, conditions`

// GetFollowedStocks returns every stock with the follow flag set, ordered by id
func (r *Repository) GetFollowedStocks(ctx context.Context) ([]models.StockInfo, error) {
	if err := r.checkDB(); err != nil {
		return nil, err
	}
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("select", "stock_info")

	rows, err := r.db.Query(ctx, `
		SELECT `+stockInfoColumns+`
		FROM stock_info
		WHERE follow
		ORDER BY stock_id ASC
	`)
	if err != nil {
		metrics.RecordDBError("select", "stock_info")
		return nil, fmt.Errorf("failed to query followed stocks: %w", err)
	}
	defer rows.Close()

	var stocks []models.StockInfo
	for rows.Next() {
		info, err := scanStockInfo(rows)
		if err != nil {
			return nil, err
		}
		stocks = append(stocks, *info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stocks: %w", err)
	}
	return stocks, nil
}

// GetStockInfo returns one stock by id, or nil when it does not exist
func (r *Repository) GetStockInfo(ctx context.Context, stockID string) (*models.StockInfo, error) {
	if err := r.checkDB(); err != nil {
		return nil, err
	}
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("select", "stock_info")

	info, err := scanStockInfo(r.db.QueryRow(ctx, `
		SELECT `+stockInfoColumns+`
		FROM stock_info
		WHERE stock_id = $1
	`, stockID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		metrics.RecordDBError("select", "stock_info")
		return nil, err
	}
	return info, nil
}

// UpsertStockInfo inserts or replaces the descriptive columns of a stock.
// The follow flag and screening conditions are only set on insert.
func (r *Repository) UpsertStockInfo(ctx context.Context, info *models.StockInfo) error {
	if err := r.checkDB(); err != nil {
		return err
	}
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("upsert", "stock_info")

	now := time.Now()
	if info.CreatedAt.IsZero() {
		info.CreatedAt = now
	}
	info.UpdatedAt = now

	_, err := r.db.Exec(ctx, `
		INSERT INTO stock_info (stock_id, stock_name, industry, follow, market_type, source, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (stock_id) DO UPDATE SET
			stock_name = EXCLUDED.stock_name,
			industry = EXCLUDED.industry,
			market_type = EXCLUDED.market_type,
			source = EXCLUDED.source,
			updated_at = EXCLUDED.updated_at
	`, info.StockID, info.StockName, info.Industry, info.Follow, info.MarketType, info.Source,
		info.CreatedAt, info.UpdatedAt)
	if err != nil {
		metrics.RecordDBError("upsert", "stock_info")
		return fmt.Errorf("failed to upsert stock info: %w", err)
	}
	return nil
}

// SetFollowed toggles whether the pipeline processes the stock
func (r *Repository) SetFollowed(ctx context.Context, stockID string, followed bool) error {
	if err := r.checkDB(); err != nil {
		return err
	}
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("update", "stock_info")

	tag, err := r.db.Exec(ctx, `
		UPDATE stock_info SET follow = $2, updated_at = $3 WHERE stock_id = $1
	`, stockID, followed, time.Now())
	if err != nil {
		metrics.RecordDBError("update", "stock_info")
		return fmt.Errorf("failed to set follow flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrStockNotFound, stockID)
	}
	return nil
}

// UpdateConditions stores the latest screening flags for a stock
func (r *Repository) UpdateConditions(ctx context.Context, stockID string, conditions models.Conditions) error {
	if err := r.checkDB(); err != nil {
		return err
	}
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("update", "stock_info")

	conditionsJSON, err := json.Marshal(conditions)
	if err != nil {
		return fmt.Errorf("failed to marshal conditions: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		UPDATE stock_info SET conditions = $2, updated_at = $3 WHERE stock_id = $1
	`, stockID, conditionsJSON, time.Now())
	if err != nil {
		metrics.RecordDBError("update", "stock_info")
		return fmt.Errorf("failed to update conditions: %w", err)
	}
	return nil
}

func scanStockInfo(row pgx.Row) (*models.StockInfo, error) {
	var info models.StockInfo
	var conditionsJSON []byte
	err := row.Scan(&info.StockID, &info.StockName, &info.Industry, &info.Follow,
		&info.MarketType, &info.Source, &info.CreatedAt, &info.UpdatedAt, &conditionsJSON)
	if err == pgx.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan stock info: %w", err)
	}

	if len(conditionsJSON) > 0 {
		var c models.Conditions
		if err := json.Unmarshal(conditionsJSON, &c); err != nil {
			return nil, fmt.Errorf("failed to unmarshal conditions: %w", err)
		}
		info.Conditions = &c
	}
	return &info, nil
}
