package repository

import (
	"context"
	"fmt"

	"stockhero/models"
	"stockhero/observability"

	"github.com/jackc/pgx/v5"
)

// UpsertInstitutionalRecords writes one industry batch of investor flows
func (r *Repository) UpsertInstitutionalRecords(ctx context.Context, records []models.InstitutionalRecord) error {
	if err := r.checkDB(); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("upsert", "institutional_daily")

	batch := &pgx.Batch{}
	for _, rec := range records {
		batch.Queue(`
			INSERT INTO institutional_daily (date, stock_id, stock_name, industry,
				foreign_buy, foreign_sell, foreign_net,
				foreign_dealer_buy, foreign_dealer_sell, foreign_dealer_net,
				trust_buy, trust_sell, trust_net,
				dealer_net, dealer_buy, dealer_sell, dealer_self_net,
				dealer_hedge_buy, dealer_hedge_sell, dealer_hedge_net, total_net)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
			ON CONFLICT (date, stock_id) DO UPDATE SET
				stock_name = EXCLUDED.stock_name,
				industry = EXCLUDED.industry,
				foreign_buy = EXCLUDED.foreign_buy,
				foreign_sell = EXCLUDED.foreign_sell,
				foreign_net = EXCLUDED.foreign_net,
				foreign_dealer_buy = EXCLUDED.foreign_dealer_buy,
				foreign_dealer_sell = EXCLUDED.foreign_dealer_sell,
				foreign_dealer_net = EXCLUDED.foreign_dealer_net,
				trust_buy = EXCLUDED.trust_buy,
				trust_sell = EXCLUDED.trust_sell,
				trust_net = EXCLUDED.trust_net,
				dealer_net = EXCLUDED.dealer_net,
				dealer_buy = EXCLUDED.dealer_buy,
				dealer_sell = EXCLUDED.dealer_sell,
				dealer_self_net = EXCLUDED.dealer_self_net,
				dealer_hedge_buy = EXCLUDED.dealer_hedge_buy,
				dealer_hedge_sell = EXCLUDED.dealer_hedge_sell,
				dealer_hedge_net = EXCLUDED.dealer_hedge_net,
				total_net = EXCLUDED.total_net
		`, models.NormalizeDate(rec.Date), rec.StockID, rec.StockName, rec.Industry,
			rec.ForeignBuy, rec.ForeignSell, rec.ForeignNet,
			rec.ForeignDealerBuy, rec.ForeignDealerSell, rec.ForeignDealerNet,
			rec.TrustBuy, rec.TrustSell, rec.TrustNet,
			rec.DealerNet, rec.DealerBuy, rec.DealerSell, rec.DealerSelfNet,
			rec.DealerHedgeBuy, rec.DealerHedgeSell, rec.DealerHedgeNet, rec.TotalNet)
	}

	if err := r.db.SendBatch(ctx, batch).Close(); err != nil {
		metrics.RecordDBError("upsert", "institutional_daily")
		return fmt.Errorf("failed to upsert institutional records: %w", err)
	}
	return nil
}
