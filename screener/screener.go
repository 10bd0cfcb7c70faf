package screener

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"stockhero/models"
	"stockhero/observability"
)

// SessionRepository defines the repository operations needed by Screener
type SessionRepository interface {
	GetFollowedStocks(ctx context.Context) ([]models.StockInfo, error)
	GetLatestTwoSessions(ctx context.Context, date time.Time) ([]models.SessionSnapshot, error)
}

// Result is the outcome of one screening pass
type Result struct {
	// Conditions holds the flags of every stock with two sessions
	Conditions map[string]models.Conditions
	// Screened lists the stocks in Conditions, in followed order
	Screened []models.StockRef
	// Insufficient lists followed stocks with fewer than two sessions
	Insufficient []models.StockRef
	// Dates are the sessions compared, newest first
	Dates []time.Time
}

// Screener evaluates followed stocks against their latest two sessions
type Screener struct {
	repo   SessionRepository
	logger *slog.Logger
}

// NewScreener creates a new Screener
func NewScreener(repo SessionRepository, logger *slog.Logger) *Screener {
	return &Screener{
		repo:   repo,
		logger: observability.OrDefault(logger),
	}
}

// Screen reads the two most recent sessions on or before date across all followed
// stocks in one pass and evaluates each stock that has both
func (s *Screener) Screen(ctx context.Context, date time.Time) (*Result, error) {
	followed, err := s.repo.GetFollowedStocks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load followed stocks: %w", err)
	}
	sessions, err := s.repo.GetLatestTwoSessions(ctx, models.NormalizeDate(date))
	if err != nil {
		return nil, fmt.Errorf("failed to load latest sessions: %w", err)
	}

	result := Evaluate(followed, sessions)
	s.logger.Info("screening evaluated",
		"screened", len(result.Conditions),
		"insufficient", len(result.Insufficient))
	return result, nil
}

// Evaluate groups sessions by stock and computes conditions for each followed stock.
// Stocks missing either session are reported as insufficient rather than failing the batch.
func Evaluate(followed []models.StockInfo, sessions []models.SessionSnapshot) *Result {
	byStock := make(map[string][]models.SessionSnapshot, len(followed))
	dateSet := make(map[time.Time]struct{})
	for _, s := range sessions {
		byStock[s.StockID] = append(byStock[s.StockID], s)
		dateSet[s.Date] = struct{}{}
	}

	result := &Result{Conditions: make(map[string]models.Conditions, len(followed))}
	for d := range dateSet {
		result.Dates = append(result.Dates, d)
	}
	sort.Slice(result.Dates, func(i, j int) bool { return result.Dates[i].After(result.Dates[j]) })

	for _, stock := range followed {
		rows := byStock[stock.StockID]
		if len(rows) < 2 {
			result.Insufficient = append(result.Insufficient, stock.Ref())
			continue
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].Date.After(rows[j].Date) })
		result.Conditions[stock.StockID] = Conditions(rows[0], rows[1])
		result.Screened = append(result.Screened, stock.Ref())
	}
	return result
}

// Conditions compares the latest session against the previous one and its own
// moving averages. A missing average or close yields false, never an error.
func Conditions(latest, prev models.SessionSnapshot) models.Conditions {
	return models.Conditions{
		VolumeIncrease: latest.TradeVolume >= prev.TradeVolume,
		AboveMA5:       atOrAbove(latest.ClosingPrice, latest.MA5),
		AboveMA10:      atOrAbove(latest.ClosingPrice, latest.MA10),
		AboveMA20:      atOrAbove(latest.ClosingPrice, latest.MA20),
		AboveMA60:      atOrAbove(latest.ClosingPrice, latest.MA60),
	}
}

func atOrAbove(price, ma *float64) bool {
	if price == nil || ma == nil {
		return false
	}
	return *price >= *ma
}
