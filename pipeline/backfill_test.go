package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"stockhero/models"
	"stockhero/services"
)

func TestMonthsBetween(t *testing.T) {
	got := monthsBetween(time.Date(2023, 11, 15, 0, 0, 0, 0, time.UTC), time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))

	want := []string{"2023-11", "2023-12", "2024-01", "2024-02"}
	if len(got) != len(want) {
		t.Fatalf("monthsBetween() = %v", got)
	}
	for i, m := range got {
		if m.Format("2006-01") != want[i] || m.Day() != 1 {
			t.Errorf("month[%d] = %v, want first of %s", i, m, want[i])
		}
	}
}

func TestBackfillPrices_RecomputesFullHistory(t *testing.T) {
	store := newMemStore()
	store.follow("2330", "台積電")

	market := &MockMarketData{
		FetchMonthFunc: func(ctx context.Context, stock models.StockRef, month time.Time) ([]models.DailyRecord, error) {
			if month.Month() == time.April {
				return nil, services.ErrNoTradingData
			}
			var records []models.DailyRecord
			for d := 1; d <= 12; d++ {
				records = append(records, session(stock.ID, day(d), 1000, float64(d)))
			}
			return records, nil
		},
	}

	res, err := newTestOrchestrator(store, market).BackfillPrices(context.Background(),
		time.Date(2024, 4, 20, 0, 0, 0, 0, time.UTC), day(10))
	if err != nil {
		t.Fatalf("BackfillPrices() error = %v", err)
	}

	if res.Status != models.StageStatusSuccess || refIDs(res.Succeeded) != "2330" {
		t.Errorf("result = %+v", res)
	}
	if _, ok := store.record("2330", day(11)); ok {
		t.Error("sessions after end must not be stored")
	}
	rec4, _ := store.record("2330", day(4))
	if rec4.MA5 != nil {
		t.Errorf("MA5 on day 4 = %v, want nil", *rec4.MA5)
	}
	rec10, _ := store.record("2330", day(10))
	// closes 6..10
	if rec10.MA5 == nil || *rec10.MA5 != 8 {
		t.Errorf("MA5 on day 10 = %v, want 8", rec10.MA5)
	}
	if rec10.MA10 == nil || *rec10.MA10 != 5.5 {
		t.Errorf("MA10 on day 10 = %v, want 5.5", rec10.MA10)
	}
}

func TestBackfillPrices_FailedMonthFailsStock(t *testing.T) {
	store := newMemStore()
	store.follow("2330", "台積電")
	store.follow("2317", "鴻海")

	market := &MockMarketData{
		FetchMonthFunc: func(ctx context.Context, stock models.StockRef, month time.Time) ([]models.DailyRecord, error) {
			if stock.ID == "2317" {
				return nil, &services.RetryExhaustedError{Operation: "stock_day", Attempts: 20, Err: errors.New("bad stat")}
			}
			return []models.DailyRecord{session(stock.ID, day(2), 1000, 10)}, nil
		},
	}

	res, err := newTestOrchestrator(store, market).BackfillPrices(context.Background(), day(1), day(31))
	if err != nil {
		t.Fatalf("BackfillPrices() error = %v", err)
	}
	if refIDs(res.Failed) != "2317" || refIDs(res.Succeeded) != "2330" {
		t.Errorf("succeeded %s failed %s", refIDs(res.Succeeded), refIDs(res.Failed))
	}
}

func TestBackfillPrices_RejectsInvertedRange(t *testing.T) {
	if _, err := newTestOrchestrator(newMemStore(), &MockMarketData{}).BackfillPrices(context.Background(), day(10), day(1)); err == nil {
		t.Error("expected error for end before start")
	}
}

func TestBackfillInstitutional(t *testing.T) {
	store := newMemStore()
	probes := map[string]int{}

	market := &MockMarketData{
		FetchInstitutionalFunc: func(ctx context.Context, date time.Time, industry services.Industry) ([]models.InstitutionalRecord, error) {
			key := date.Format(models.DateLayout)
			probes[key]++
			switch {
			case date.Equal(day(4)):
				// Saturday
				return nil, services.ErrNoTradingData
			case industry.Code == services.Industries[1].Code:
				return nil, &services.MalformedBatchError{Operation: "t86", Batch: industry.Code, Err: errors.New("bad row")}
			}
			return []models.InstitutionalRecord{{Date: date, StockID: "S" + industry.Code, Industry: industry.Code, TotalNet: models.Int(100)}}, nil
		},
	}

	res, err := newTestOrchestrator(store, market).BackfillInstitutional(context.Background(), day(3), day(4))
	if err != nil {
		t.Fatalf("BackfillInstitutional() error = %v", err)
	}

	if probes["2024-05-04"] != 1 {
		t.Errorf("closed day probed %d times, want 1", probes["2024-05-04"])
	}
	if probes["2024-05-03"] != len(services.Industries) {
		t.Errorf("open day fetched %d industries, want %d", probes["2024-05-03"], len(services.Industries))
	}
	if refIDs(res.Skipped) != "2024-05-04" {
		t.Errorf("skipped = %s", refIDs(res.Skipped))
	}
	if refIDs(res.Failed) != "2024-05-03/"+services.Industries[1].Code {
		t.Errorf("failed = %s", refIDs(res.Failed))
	}
	if len(res.Succeeded) != len(services.Industries)-1 || len(store.institutional) != len(services.Industries)-1 {
		t.Errorf("succeeded = %d, stored = %d", len(res.Succeeded), len(store.institutional))
	}
}
