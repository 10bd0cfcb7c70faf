package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stockhero/indicators"
	"stockhero/models"
	"stockhero/observability"
	"stockhero/repository"
	"stockhero/services"
)

// BackfillPrices loads every month between start and end for each followed stock,
// then recomputes the moving averages over the stock's complete history.
// A stock fails when any of its months could not be fetched; the months that
// did arrive are still stored.
func (o *Orchestrator) BackfillPrices(ctx context.Context, start, end time.Time) (models.StageResult, error) {
	const stage = models.StageBackfillPrices
	start, end = models.NormalizeDate(start), models.NormalizeDate(end)
	if end.Before(start) {
		return models.StageResult{}, fmt.Errorf("end %s is before start %s", end.Format(models.DateLayout), start.Format(models.DateLayout))
	}
	logger := observability.WithStage(o.logger, string(stage))
	began := time.Now()

	followed, err := o.store.GetFollowedStocks(ctx)
	if err != nil {
		return models.StageResult{}, err
	}
	months := monthsBetween(start, end)

	type history struct {
		records []models.DailyRecord
		failed  []string
	}
	fetched := fetchAll(ctx, followed, o.cfg.Workers, time.Duration(len(months))*o.cfg.StockTimeout(),
		func(ctx context.Context, s models.StockInfo) (history, error) {
			var h history
			for _, m := range months {
				records, err := o.market.FetchMonth(ctx, s.Ref(), m)
				if errors.Is(err, services.ErrNoTradingData) {
					continue
				}
				if err != nil {
					observability.WithStock(logger, s.StockID).Warn("month fetch failed",
						"month", m.Format("2006-01"), "error", err)
					h.failed = append(h.failed, m.Format("2006-01"))
					if ctx.Err() != nil {
						return h, ctx.Err()
					}
					continue
				}
				for _, r := range records {
					if !r.Date.Before(start) && !r.Date.After(end) {
						h.records = append(h.records, r)
					}
				}
			}
			return h, nil
		})

	tally := &stageTally{}
	for _, f := range fetched {
		ref := f.stock.Ref()
		stockLogger := observability.WithStock(logger, ref.ID)

		err := o.store.InTx(ctx, func(tx repository.Store) error {
			if err := tx.UpsertDailyRecords(ctx, f.value.records); err != nil {
				return err
			}
			closes, err := tx.GetCloseHistory(ctx, ref.ID)
			if err != nil {
				return err
			}
			return tx.UpdateMovingAverages(ctx, ref.ID, indicators.MovingAverages(closes))
		})
		switch {
		case err != nil:
			stockLogger.Warn("backfill persist failed", "error", err)
			tally.fail(ref)
		case f.err != nil || len(f.value.failed) > 0:
			stockLogger.Warn("backfill incomplete", "failed_months", f.value.failed, "error", f.err)
			tally.fail(ref)
		default:
			stockLogger.Info("backfill stored", "sessions", len(f.value.records))
			tally.ok(ref)
		}
	}

	res := tally.result(stage)
	res.DurationMs = time.Since(began).Milliseconds()
	return res, nil
}

// BackfillInstitutional loads investor flows for every day between start and end.
// Each day is probed with the first industry; a day without data is skipped.
// Outcomes are tallied per (day, industry) batch.
func (o *Orchestrator) BackfillInstitutional(ctx context.Context, start, end time.Time) (models.StageResult, error) {
	const stage = models.StageBackfillInstitutional
	start, end = models.NormalizeDate(start), models.NormalizeDate(end)
	if end.Before(start) {
		return models.StageResult{}, fmt.Errorf("end %s is before start %s", end.Format(models.DateLayout), start.Format(models.DateLayout))
	}
	logger := observability.WithStage(o.logger, string(stage))
	began := time.Now()

	tally := &stageTally{}
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return models.StageResult{}, err
		}
		dayLogger := logger.With("date", day.Format(models.DateLayout))

		for i, industry := range services.Industries {
			ref := models.StockRef{ID: day.Format(models.DateLayout) + "/" + industry.Code, Name: industry.Name}

			batchCtx, cancel := context.WithTimeout(ctx, o.cfg.StockTimeout())
			records, err := o.market.FetchInstitutional(batchCtx, day, industry)
			cancel()

			if errors.Is(err, services.ErrNoTradingData) {
				if i == 0 {
					dayLogger.Info("no institutional data, skipping day")
					tally.skip(models.StockRef{ID: day.Format(models.DateLayout)})
					break
				}
				// an industry without listed trades that day
				tally.ok(ref)
				continue
			}
			if err == nil {
				err = o.store.InTx(ctx, func(tx repository.Store) error {
					return tx.UpsertInstitutionalRecords(ctx, records)
				})
			}
			if err != nil {
				dayLogger.Warn("industry batch failed", "industry", industry.Code, "error", err)
				tally.fail(ref)
				continue
			}
			tally.ok(ref)
		}
	}

	res := tally.result(stage)
	res.DurationMs = time.Since(began).Milliseconds()
	logger.Info("institutional backfill finished", "batches", len(res.Succeeded), "failed", len(res.Failed))
	return res, nil
}

// monthsBetween returns the first day of every month touching [start, end]
func monthsBetween(start, end time.Time) []time.Time {
	var months []time.Time
	m := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC)
	for !m.After(end) {
		months = append(months, m)
		m = m.AddDate(0, 1, 0)
	}
	return months
}
