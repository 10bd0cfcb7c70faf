package repository

import (
	"context"
	"fmt"
	"time"

	"stockhero/models"
	"stockhero/observability"

	"github.com/jackc/pgx/v5"
)

// UpsertDailyRecords inserts price rows keyed by (date, stock_id).
// On conflict only the fetched columns are overwritten; moving averages, K/D and
// ratios already on the row are left alone.
func (r *Repository) UpsertDailyRecords(ctx context.Context, records []models.DailyRecord) error {
	if err := r.checkDB(); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("upsert", "stock_daily")

	batch := &pgx.Batch{}
	for _, rec := range records {
		batch.Queue(`
			INSERT INTO stock_daily (date, stock_id, stock_name, trade_volume, trade_value,
				opening_price, highest_price, lowest_price, closing_price,
				price_change, change_percent, transaction_count)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (date, stock_id) DO UPDATE SET
				stock_name = EXCLUDED.stock_name,
				trade_volume = EXCLUDED.trade_volume,
				trade_value = EXCLUDED.trade_value,
				opening_price = EXCLUDED.opening_price,
				highest_price = EXCLUDED.highest_price,
				lowest_price = EXCLUDED.lowest_price,
				closing_price = EXCLUDED.closing_price,
				price_change = EXCLUDED.price_change,
				change_percent = EXCLUDED.change_percent,
				transaction_count = EXCLUDED.transaction_count
		`, models.NormalizeDate(rec.Date), rec.StockID, rec.StockName, rec.TradeVolume, rec.TradeValue,
			rec.OpeningPrice, rec.HighestPrice, rec.LowestPrice, rec.ClosingPrice,
			rec.PriceChange, rec.ChangePercent, rec.TransactionCount)
	}

	if err := r.db.SendBatch(ctx, batch).Close(); err != nil {
		metrics.RecordDBError("upsert", "stock_daily")
		return fmt.Errorf("failed to upsert daily records: %w", err)
	}
	return nil
}

// GetDailyRecord returns one row, or nil when it does not exist
func (r *Repository) GetDailyRecord(ctx context.Context, stockID string, date time.Time) (*models.DailyRecord, error) {
	if err := r.checkDB(); err != nil {
		return nil, err
	}
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("select", "stock_daily")

	var rec models.DailyRecord
	err := r.db.QueryRow(ctx, `
		SELECT date, stock_id, stock_name, trade_volume, trade_value,
			opening_price, highest_price, lowest_price, closing_price,
			price_change, change_percent, transaction_count,
			ma5, ma10, ma20, ma60, k_value, d_value, pe_ratio, pb_ratio, dividend_yield
		FROM stock_daily
		WHERE stock_id = $1 AND date = $2
	`, stockID, models.NormalizeDate(date)).Scan(
		&rec.Date, &rec.StockID, &rec.StockName, &rec.TradeVolume, &rec.TradeValue,
		&rec.OpeningPrice, &rec.HighestPrice, &rec.LowestPrice, &rec.ClosingPrice,
		&rec.PriceChange, &rec.ChangePercent, &rec.TransactionCount,
		&rec.MA5, &rec.MA10, &rec.MA20, &rec.MA60, &rec.KValue, &rec.DValue,
		&rec.PERatio, &rec.PBRatio, &rec.DividendYield,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		metrics.RecordDBError("select", "stock_daily")
		return nil, fmt.Errorf("failed to get daily record: %w", err)
	}
	return &rec, nil
}

// GetRecentCloses returns up to limit closes on or before date, oldest first
func (r *Repository) GetRecentCloses(ctx context.Context, stockID string, date time.Time, limit int) ([]models.ClosePoint, error) {
	if err := r.checkDB(); err != nil {
		return nil, err
	}
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("select", "stock_daily")

	rows, err := r.db.Query(ctx, `
		SELECT date, closing_price FROM (
			SELECT date, closing_price
			FROM stock_daily
			WHERE stock_id = $1 AND date <= $2
			ORDER BY date DESC
			LIMIT $3
		) recent
		ORDER BY date ASC
	`, stockID, models.NormalizeDate(date), limit)
	if err != nil {
		metrics.RecordDBError("select", "stock_daily")
		return nil, fmt.Errorf("failed to query recent closes: %w", err)
	}
	return scanCloses(rows)
}

// GetCloseHistory returns every close for the stock, oldest first
func (r *Repository) GetCloseHistory(ctx context.Context, stockID string) ([]models.ClosePoint, error) {
	if err := r.checkDB(); err != nil {
		return nil, err
	}
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("select", "stock_daily")

	rows, err := r.db.Query(ctx, `
		SELECT date, closing_price
		FROM stock_daily
		WHERE stock_id = $1
		ORDER BY date ASC
	`, stockID)
	if err != nil {
		metrics.RecordDBError("select", "stock_daily")
		return nil, fmt.Errorf("failed to query close history: %w", err)
	}
	return scanCloses(rows)
}

func scanCloses(rows pgx.Rows) ([]models.ClosePoint, error) {
	defer rows.Close()

	var points []models.ClosePoint
	for rows.Next() {
		var p models.ClosePoint
		if err := rows.Scan(&p.Date, &p.Close); err != nil {
			return nil, fmt.Errorf("failed to scan close: %w", err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating closes: %w", err)
	}
	return points, nil
}

// UpdateMovingAverages writes the four averages for each given date
func (r *Repository) UpdateMovingAverages(ctx context.Context, stockID string, values []models.MovingAverages) error {
	if err := r.checkDB(); err != nil {
		return err
	}
	if len(values) == 0 {
		return nil
	}
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("update", "stock_daily")

	batch := &pgx.Batch{}
	for _, v := range values {
		batch.Queue(`
			UPDATE stock_daily
			SET ma5 = $3, ma10 = $4, ma20 = $5, ma60 = $6
			WHERE stock_id = $1 AND date = $2
		`, stockID, models.NormalizeDate(v.Date), v.MA5, v.MA10, v.MA20, v.MA60)
	}

	if err := r.db.SendBatch(ctx, batch).Close(); err != nil {
		metrics.RecordDBError("update", "stock_daily")
		return fmt.Errorf("failed to update moving averages: %w", err)
	}
	return nil
}

// GetRecentBars returns up to limit high/low/close bars on or before date, oldest first
func (r *Repository) GetRecentBars(ctx context.Context, stockID string, date time.Time, limit int) ([]models.PriceBar, error) {
	if err := r.checkDB(); err != nil {
		return nil, err
	}
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("select", "stock_daily")

	rows, err := r.db.Query(ctx, `
		SELECT date, highest_price, lowest_price, closing_price FROM (
			SELECT date, highest_price, lowest_price, closing_price
			FROM stock_daily
			WHERE stock_id = $1 AND date <= $2
			ORDER BY date DESC
			LIMIT $3
		) recent
		ORDER BY date ASC
	`, stockID, models.NormalizeDate(date), limit)
	if err != nil {
		metrics.RecordDBError("select", "stock_daily")
		return nil, fmt.Errorf("failed to query recent bars: %w", err)
	}
	defer rows.Close()

	var bars []models.PriceBar
	for rows.Next() {
		var b models.PriceBar
		if err := rows.Scan(&b.Date, &b.High, &b.Low, &b.Close); err != nil {
			return nil, fmt.Errorf("failed to scan bar: %w", err)
		}
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bars: %w", err)
	}
	return bars, nil
}

// UpdateStochastic stores a K/D pair on its session row
func (r *Repository) UpdateStochastic(ctx context.Context, stockID string, kd models.Stochastic) error {
	if err := r.checkDB(); err != nil {
		return err
	}
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("update", "stock_daily")

	tag, err := r.db.Exec(ctx, `
		UPDATE stock_daily SET k_value = $3, d_value = $4
		WHERE stock_id = $1 AND date = $2
	`, stockID, models.NormalizeDate(kd.Date), kd.K, kd.D)
	if err != nil {
		metrics.RecordDBError("update", "stock_daily")
		return fmt.Errorf("failed to update K/D: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("K/D for %s on %s: %w", stockID, kd.Date.Format(models.DateLayout), ErrNoDailyRecord)
	}
	return nil
}

// UpdateRatios stores P/E, P/B and dividend yield on the (stock, date) row
func (r *Repository) UpdateRatios(ctx context.Context, date time.Time, ratio models.RatioRecord) error {
	if err := r.checkDB(); err != nil {
		return err
	}
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("update", "stock_daily")

	tag, err := r.db.Exec(ctx, `
		UPDATE stock_daily SET pe_ratio = $3, pb_ratio = $4, dividend_yield = $5
		WHERE stock_id = $1 AND date = $2
	`, ratio.StockID, models.NormalizeDate(date), ratio.PERatio, ratio.PBRatio, ratio.DividendYield)
	if err != nil {
		metrics.RecordDBError("update", "stock_daily")
		return fmt.Errorf("failed to update ratios: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ratios for %s on %s: %w", ratio.StockID, date.Format(models.DateLayout), ErrNoDailyRecord)
	}
	return nil
}

// GetLatestTwoSessions returns the rows of followed stocks on the two most recent
// dates on or before date, ordered by stock id then newest date first
func (r *Repository) GetLatestTwoSessions(ctx context.Context, date time.Time) ([]models.SessionSnapshot, error) {
	if err := r.checkDB(); err != nil {
		return nil, err
	}
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("select", "stock_daily")

	rows, err := r.db.Query(ctx, `
		SELECT d.date, d.stock_id, d.trade_volume, d.closing_price, d.ma5, d.ma10, d.ma20, d.ma60
		FROM stock_daily d
		JOIN stock_info i ON i.stock_id = d.stock_id AND i.follow
		WHERE d.date IN (
			SELECT DISTINCT sd.date
			FROM stock_daily sd
			JOIN stock_info si ON si.stock_id = sd.stock_id AND si.follow
			WHERE sd.date <= $1
			ORDER BY sd.date DESC
			LIMIT 2
		)
		ORDER BY d.stock_id ASC, d.date DESC
	`, models.NormalizeDate(date))
	if err != nil {
		metrics.RecordDBError("select", "stock_daily")
		return nil, fmt.Errorf("failed to query latest sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.SessionSnapshot
	for rows.Next() {
		var s models.SessionSnapshot
		if err := rows.Scan(&s.Date, &s.StockID, &s.TradeVolume, &s.ClosingPrice,
			&s.MA5, &s.MA10, &s.MA20, &s.MA60); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return sessions, nil
}
