package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"
	"unicode"

	"stockhero/indicators"
	"stockhero/models"
	"stockhero/observability"
	"stockhero/repository"
	"stockhero/screener"
	"stockhero/services"
)

// updatePrices fetches the session of every followed stock and refreshes its moving
// averages from the trailing window. A closed market skips the stage; an inconclusive
// open check falls through to the per-stock fetches, which classify each stock alone.
func (o *Orchestrator) updatePrices(ctx context.Context, date time.Time, logger *slog.Logger) models.StageResult {
	const stage = models.StageUpdatePrices

	open, err := o.market.CheckMarketOpen(ctx, date)
	if err != nil {
		logger.Warn("market open check failed, fetching followed stocks anyway", "error", err)
		open = true
	}
	if !open {
		logger.Info("market closed, no trading data")
		return skipped(stage)
	}

	followed, err := o.store.GetFollowedStocks(ctx)
	if err != nil {
		return aborted(stage, err)
	}

	fetched := fetchAll(ctx, followed, o.cfg.Workers, o.cfg.StockTimeout(),
		func(ctx context.Context, s models.StockInfo) (*models.DailyRecord, error) {
			return o.market.FetchDaily(ctx, s.Ref(), date)
		})

	tally := &stageTally{}
	err = o.store.InTx(ctx, func(tx repository.Store) error {
		for _, f := range fetched {
			ref := f.stock.Ref()
			stockLogger := observability.WithStock(logger, ref.ID)
			if f.err != nil {
				stockLogger.Warn("price fetch failed", "error", f.err)
				tally.fail(ref)
				continue
			}
			err := tx.InTx(ctx, func(s repository.Store) error {
				return storePrice(ctx, s, *f.value)
			})
			if err != nil {
				stockLogger.Warn("price update failed", "error", err)
				tally.fail(ref)
				continue
			}
			tally.ok(ref)
		}
		return nil
	})
	if err != nil {
		return aborted(stage, err)
	}
	return tally.result(stage)
}

// storePrice upserts one session and recomputes the latest moving averages
// incrementally from the trailing window
func storePrice(ctx context.Context, s repository.Store, rec models.DailyRecord) error {
	if err := s.UpsertDailyRecords(ctx, []models.DailyRecord{rec}); err != nil {
		return err
	}
	closes, err := s.GetRecentCloses(ctx, rec.StockID, rec.Date, indicators.IncrementalWindow)
	if err != nil {
		return err
	}
	ma, ok := indicators.LatestMovingAverages(closes)
	if !ok {
		return nil
	}
	return s.UpdateMovingAverages(ctx, rec.StockID, []models.MovingAverages{ma})
}

// updateRatios applies the whole-market ratio batch to each followed stock.
// Identifiers containing letters are skipped.
func (o *Orchestrator) updateRatios(ctx context.Context, date time.Time, logger *slog.Logger) models.StageResult {
	const stage = models.StageUpdateRatios

	followed, err := o.store.GetFollowedStocks(ctx)
	if err != nil {
		return aborted(stage, err)
	}

	ratios, fetchErr := o.loadRatios(ctx, date, logger)
	if errors.Is(fetchErr, services.ErrNoTradingData) {
		logger.Info("no ratio data for date")
		return skipped(stage)
	}

	tally := &stageTally{}
	if fetchErr != nil {
		logger.Warn("ratio batch fetch failed", "error", fetchErr)
		for _, s := range followed {
			if hasLetter(s.StockID) {
				tally.skip(s.Ref())
				continue
			}
			tally.fail(s.Ref())
		}
		res := tally.result(stage)
		res.Error = fetchErr.Error()
		return res
	}

	err = o.store.InTx(ctx, func(tx repository.Store) error {
		for _, s := range followed {
			ref := s.Ref()
			if hasLetter(s.StockID) {
				tally.skip(ref)
				continue
			}
			stockLogger := observability.WithStock(logger, ref.ID)
			ratio, ok := ratios[s.StockID]
			if !ok {
				stockLogger.Warn("stock missing from ratio batch")
				tally.fail(ref)
				continue
			}
			err := tx.InTx(ctx, func(st repository.Store) error {
				return st.UpdateRatios(ctx, date, ratio)
			})
			if err != nil {
				stockLogger.Warn("ratio update failed", "error", err)
				tally.fail(ref)
				continue
			}
			tally.ok(ref)
		}
		return nil
	})
	if err != nil {
		return aborted(stage, err)
	}
	return tally.result(stage)
}

// loadRatios returns the ratio batch for date from the cache, falling back to the exchange
func (o *Orchestrator) loadRatios(ctx context.Context, date time.Time, logger *slog.Logger) (map[string]models.RatioRecord, error) {
	if o.ratios != nil {
		cached, ok, err := o.ratios.Get(ctx, date)
		if err != nil {
			logger.Warn("ratio cache lookup failed", "error", err)
		} else if ok {
			return cached, nil
		}
	}

	ratios, err := o.market.FetchRatios(ctx, date)
	if err != nil {
		return nil, err
	}

	if o.ratios != nil {
		if err := o.ratios.Set(ctx, date, ratios); err != nil {
			logger.Warn("ratio cache store failed", "error", err)
		}
	}
	return ratios, nil
}

// computeIndicators folds K/D over each followed stock's recent bars and stores the
// final pair on the last complete session
func (o *Orchestrator) computeIndicators(ctx context.Context, date time.Time, logger *slog.Logger) models.StageResult {
	const stage = models.StageComputeIndicators

	followed, err := o.store.GetFollowedStocks(ctx)
	if err != nil {
		return aborted(stage, err)
	}

	tally := &stageTally{}
	err = o.store.InTx(ctx, func(tx repository.Store) error {
		for _, s := range followed {
			ref := s.Ref()
			stockLogger := observability.WithStock(logger, ref.ID)
			err := tx.InTx(ctx, func(st repository.Store) error {
				bars, err := st.GetRecentBars(ctx, s.StockID, date, o.cfg.KDLookback)
				if err != nil {
					return err
				}
				kd, err := indicators.LatestKD(bars)
				if err != nil {
					return err
				}
				return st.UpdateStochastic(ctx, s.StockID, kd)
			})
			if err != nil {
				stockLogger.Warn("K/D update failed", "error", err)
				tally.fail(ref)
				continue
			}
			tally.ok(ref)
		}
		return nil
	})
	if err != nil {
		return aborted(stage, err)
	}
	return tally.result(stage)
}

// screen evaluates the latest two sessions and stores the condition flags.
// Stocks without two sessions are failures for this run only.
func (o *Orchestrator) screen(ctx context.Context, date time.Time, logger *slog.Logger) models.StageResult {
	const stage = models.StageScreen

	tally := &stageTally{}
	err := o.store.InTx(ctx, func(tx repository.Store) error {
		result, err := screener.NewScreener(tx, logger).Screen(ctx, date)
		if err != nil {
			return err
		}
		for _, ref := range result.Screened {
			cond := result.Conditions[ref.ID]
			err := tx.InTx(ctx, func(st repository.Store) error {
				return st.UpdateConditions(ctx, ref.ID, cond)
			})
			if err != nil {
				observability.WithStock(logger, ref.ID).Warn("condition update failed", "error", err)
				tally.fail(ref)
				continue
			}
			tally.ok(ref)
		}
		for _, ref := range result.Insufficient {
			observability.WithStock(logger, ref.ID).Info("fewer than two sessions, not screened")
			tally.fail(ref)
		}
		return nil
	})
	if err != nil {
		return aborted(stage, err)
	}
	return tally.result(stage)
}

func hasLetter(id string) bool {
	for _, r := range id {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
