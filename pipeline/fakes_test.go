package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"stockhero/models"
	"stockhero/repository"
	"stockhero/services"

	"github.com/google/uuid"
)

// memStore is an in-memory repository.Store. InTx snapshots the state and
// restores it when fn fails, which gives nested calls savepoint semantics.
type memStore struct {
	stocks        map[string]models.StockInfo
	daily         map[string]map[time.Time]models.DailyRecord
	institutional map[string]models.InstitutionalRecord
	runs          []models.PipelineRun

	// FollowedErr makes every GetFollowedStocks call fail
	FollowedErr error
	// FailUpsert lists stock ids whose daily upserts fail
	FailUpsert map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		stocks:        make(map[string]models.StockInfo),
		daily:         make(map[string]map[time.Time]models.DailyRecord),
		institutional: make(map[string]models.InstitutionalRecord),
		FailUpsert:    make(map[string]bool),
	}
}

var _ repository.Store = (*memStore)(nil)

func (m *memStore) follow(id, name string) {
	m.stocks[id] = models.StockInfo{StockID: id, StockName: name, Follow: true}
}

func (m *memStore) record(id string, date time.Time) (models.DailyRecord, bool) {
	rec, ok := m.daily[id][models.NormalizeDate(date)]
	return rec, ok
}

func (m *memStore) snapshot() memStore {
	cp := *m
	cp.stocks = make(map[string]models.StockInfo, len(m.stocks))
	for k, v := range m.stocks {
		cp.stocks[k] = v
	}
	cp.daily = make(map[string]map[time.Time]models.DailyRecord, len(m.daily))
	for id, byDate := range m.daily {
		inner := make(map[time.Time]models.DailyRecord, len(byDate))
		for d, r := range byDate {
			inner[d] = r
		}
		cp.daily[id] = inner
	}
	cp.institutional = make(map[string]models.InstitutionalRecord, len(m.institutional))
	for k, v := range m.institutional {
		cp.institutional[k] = v
	}
	cp.runs = append([]models.PipelineRun(nil), m.runs...)
	return cp
}

func (m *memStore) InTx(ctx context.Context, fn func(repository.Store) error) error {
	saved := m.snapshot()
	if err := fn(m); err != nil {
		*m = saved
		return err
	}
	return nil
}

func (m *memStore) Health(ctx context.Context) error { return nil }

func (m *memStore) GetFollowedStocks(ctx context.Context) ([]models.StockInfo, error) {
	if m.FollowedErr != nil {
		return nil, m.FollowedErr
	}
	var out []models.StockInfo
	for _, s := range m.stocks {
		if s.Follow {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StockID < out[j].StockID })
	return out, nil
}

func (m *memStore) GetStockInfo(ctx context.Context, stockID string) (*models.StockInfo, error) {
	s, ok := m.stocks[stockID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *memStore) UpsertStockInfo(ctx context.Context, info *models.StockInfo) error {
	m.stocks[info.StockID] = *info
	return nil
}

func (m *memStore) SetFollowed(ctx context.Context, stockID string, followed bool) error {
	s, ok := m.stocks[stockID]
	if !ok {
		return fmt.Errorf("%w: %s", repository.ErrStockNotFound, stockID)
	}
	s.Follow = followed
	m.stocks[stockID] = s
	return nil
}

func (m *memStore) UpdateConditions(ctx context.Context, stockID string, conditions models.Conditions) error {
	s := m.stocks[stockID]
	s.Conditions = &conditions
	m.stocks[stockID] = s
	return nil
}

func (m *memStore) UpsertDailyRecords(ctx context.Context, records []models.DailyRecord) error {
	for _, rec := range records {
		if m.FailUpsert[rec.StockID] {
			return fmt.Errorf("upsert %s: connection reset", rec.StockID)
		}
		if _, ok := m.stocks[rec.StockID]; !ok {
			return fmt.Errorf("stock_info row missing for %s", rec.StockID)
		}
		date := models.NormalizeDate(rec.Date)
		rec.Date = date
		if m.daily[rec.StockID] == nil {
			m.daily[rec.StockID] = make(map[time.Time]models.DailyRecord)
		}
		if old, ok := m.daily[rec.StockID][date]; ok {
			rec.MA5, rec.MA10, rec.MA20, rec.MA60 = old.MA5, old.MA10, old.MA20, old.MA60
			rec.KValue, rec.DValue = old.KValue, old.DValue
			rec.PERatio, rec.PBRatio, rec.DividendYield = old.PERatio, old.PBRatio, old.DividendYield
		}
		m.daily[rec.StockID][date] = rec
	}
	return nil
}

func (m *memStore) GetDailyRecord(ctx context.Context, stockID string, date time.Time) (*models.DailyRecord, error) {
	rec, ok := m.record(stockID, date)
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// sortedRecords returns the stock's rows on or before date, oldest first
func (m *memStore) sortedRecords(stockID string, date time.Time) []models.DailyRecord {
	var out []models.DailyRecord
	for d, r := range m.daily[stockID] {
		if !d.After(date) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

func lastN[T any](items []T, n int) []T {
	if len(items) > n {
		return items[len(items)-n:]
	}
	return items
}

func (m *memStore) GetRecentCloses(ctx context.Context, stockID string, date time.Time, limit int) ([]models.ClosePoint, error) {
	var points []models.ClosePoint
	for _, r := range lastN(m.sortedRecords(stockID, models.NormalizeDate(date)), limit) {
		points = append(points, models.ClosePoint{Date: r.Date, Close: r.ClosingPrice})
	}
	return points, nil
}

func (m *memStore) GetCloseHistory(ctx context.Context, stockID string) ([]models.ClosePoint, error) {
	return m.GetRecentCloses(ctx, stockID, time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC), 1<<30)
}

func (m *memStore) UpdateMovingAverages(ctx context.Context, stockID string, values []models.MovingAverages) error {
	for _, v := range values {
		rec, ok := m.record(stockID, v.Date)
		if !ok {
			continue
		}
		rec.MA5, rec.MA10, rec.MA20, rec.MA60 = v.MA5, v.MA10, v.MA20, v.MA60
		m.daily[stockID][rec.Date] = rec
	}
	return nil
}

func (m *memStore) GetRecentBars(ctx context.Context, stockID string, date time.Time, limit int) ([]models.PriceBar, error) {
	var bars []models.PriceBar
	for _, r := range lastN(m.sortedRecords(stockID, models.NormalizeDate(date)), limit) {
		bars = append(bars, models.PriceBar{Date: r.Date, High: r.HighestPrice, Low: r.LowestPrice, Close: r.ClosingPrice})
	}
	return bars, nil
}

func (m *memStore) UpdateStochastic(ctx context.Context, stockID string, kd models.Stochastic) error {
	rec, ok := m.record(stockID, kd.Date)
	if !ok {
		return repository.ErrNoDailyRecord
	}
	rec.KValue, rec.DValue = models.Float(kd.K), models.Float(kd.D)
	m.daily[stockID][rec.Date] = rec
	return nil
}

func (m *memStore) UpdateRatios(ctx context.Context, date time.Time, ratio models.RatioRecord) error {
	rec, ok := m.record(ratio.StockID, date)
	if !ok {
		return repository.ErrNoDailyRecord
	}
	rec.PERatio, rec.PBRatio, rec.DividendYield = ratio.PERatio, ratio.PBRatio, ratio.DividendYield
	m.daily[ratio.StockID][rec.Date] = rec
	return nil
}

func (m *memStore) GetLatestTwoSessions(ctx context.Context, date time.Time) ([]models.SessionSnapshot, error) {
	followed, _ := m.GetFollowedStocks(ctx)
	dateSet := make(map[time.Time]struct{})
	for _, s := range followed {
		for d := range m.daily[s.StockID] {
			if !d.After(date) {
				dateSet[d] = struct{}{}
			}
		}
	}
	var dates []time.Time
	for d := range dateSet {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].After(dates[j]) })
	dates = dates[:min(2, len(dates))]

	var out []models.SessionSnapshot
	for _, s := range followed {
		for _, d := range dates {
			if r, ok := m.daily[s.StockID][d]; ok {
				out = append(out, models.SessionSnapshot{
					Date: d, StockID: r.StockID, TradeVolume: r.TradeVolume, ClosingPrice: r.ClosingPrice,
					MA5: r.MA5, MA10: r.MA10, MA20: r.MA20, MA60: r.MA60,
				})
			}
		}
	}
	return out, nil
}

func (m *memStore) UpsertInstitutionalRecords(ctx context.Context, records []models.InstitutionalRecord) error {
	for _, r := range records {
		m.institutional[models.NormalizeDate(r.Date).Format(models.DateLayout)+"/"+r.StockID] = r
	}
	return nil
}

func (m *memStore) CreatePipelineRun(ctx context.Context, run *models.PipelineRun) error {
	m.runs = append(m.runs, *run)
	return nil
}

func (m *memStore) GetPipelineRun(ctx context.Context, id uuid.UUID) (*models.PipelineRun, error) {
	for _, r := range m.runs {
		if r.ID == id {
			return &r, nil
		}
	}
	return nil, nil
}

func (m *memStore) GetPipelineRuns(ctx context.Context, limit int) ([]models.PipelineRun, error) {
	return lastN(m.runs, limit), nil
}

// MockMarketData is a services.MarketDataService with overridable behaviour
type MockMarketData struct {
	CheckMarketOpenFunc    func(ctx context.Context, date time.Time) (bool, error)
	FetchDailyFunc         func(ctx context.Context, stock models.StockRef, date time.Time) (*models.DailyRecord, error)
	FetchMonthFunc         func(ctx context.Context, stock models.StockRef, month time.Time) ([]models.DailyRecord, error)
	FetchRatiosFunc        func(ctx context.Context, date time.Time) (map[string]models.RatioRecord, error)
	FetchInstitutionalFunc func(ctx context.Context, date time.Time, industry services.Industry) ([]models.InstitutionalRecord, error)
}

var _ services.MarketDataService = (*MockMarketData)(nil)

func (m *MockMarketData) CheckMarketOpen(ctx context.Context, date time.Time) (bool, error) {
	if m.CheckMarketOpenFunc != nil {
		return m.CheckMarketOpenFunc(ctx, date)
	}
	return true, nil
}

func (m *MockMarketData) FetchDaily(ctx context.Context, stock models.StockRef, date time.Time) (*models.DailyRecord, error) {
	if m.FetchDailyFunc != nil {
		return m.FetchDailyFunc(ctx, stock, date)
	}
	return nil, services.ErrNoTradingData
}

func (m *MockMarketData) FetchMonth(ctx context.Context, stock models.StockRef, month time.Time) ([]models.DailyRecord, error) {
	if m.FetchMonthFunc != nil {
		return m.FetchMonthFunc(ctx, stock, month)
	}
	return nil, services.ErrNoTradingData
}

func (m *MockMarketData) FetchRatios(ctx context.Context, date time.Time) (map[string]models.RatioRecord, error) {
	if m.FetchRatiosFunc != nil {
		return m.FetchRatiosFunc(ctx, date)
	}
	return nil, services.ErrNoTradingData
}

func (m *MockMarketData) FetchInstitutional(ctx context.Context, date time.Time, industry services.Industry) ([]models.InstitutionalRecord, error) {
	if m.FetchInstitutionalFunc != nil {
		return m.FetchInstitutionalFunc(ctx, date, industry)
	}
	return nil, services.ErrNoTradingData
}

// MockRatioCache counts lookups and stores
type MockRatioCache struct {
	entries map[string]map[string]models.RatioRecord
	gets    int
	sets    int
}

func (c *MockRatioCache) Get(ctx context.Context, date time.Time) (map[string]models.RatioRecord, bool, error) {
	c.gets++
	r, ok := c.entries[date.Format(models.DateLayout)]
	return r, ok, nil
}

func (c *MockRatioCache) Set(ctx context.Context, date time.Time, ratios map[string]models.RatioRecord) error {
	c.sets++
	if c.entries == nil {
		c.entries = make(map[string]map[string]models.RatioRecord)
	}
	c.entries[date.Format(models.DateLayout)] = ratios
	return nil
}
