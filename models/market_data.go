package models

import (
	"time"
)

// DateLayout is the canonical business-date format used in logs, keys and messages
const DateLayout = "2006-01-02"

// NormalizeDate strips the clock from t, keeping the calendar date in UTC.
// Business dates are civil dates; the exchange publishes them without a zone.
func NormalizeDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DailyRecord is one trading session for one stock. Nullable columns are pointers:
// a nil moving average means "not enough history", never zero.
type DailyRecord struct {
	Date             time.Time `json:"date"`
	StockID          string    `json:"stock_id"`
	StockName        string    `json:"stock_name"`
	TradeVolume      int64     `json:"trade_volume"`
	TradeValue       int64     `json:"trade_value"`
	OpeningPrice     *float64  `json:"opening_price"`
	HighestPrice     *float64  `json:"highest_price"`
	LowestPrice      *float64  `json:"lowest_price"`
	ClosingPrice     *float64  `json:"closing_price"`
	PriceChange      *float64  `json:"price_change"`
	ChangePercent    *float64  `json:"change_percent"`
	TransactionCount int64     `json:"transaction_count"`
	MA5              *float64  `json:"ma5"`
	MA10             *float64  `json:"ma10"`
	MA20             *float64  `json:"ma20"`
	MA60             *float64  `json:"ma60"`
	KValue           *float64  `json:"k_value"`
	DValue           *float64  `json:"d_value"`
	PERatio          *float64  `json:"pe_ratio"`
	PBRatio          *float64  `json:"pb_ratio"`
	DividendYield    *float64  `json:"dividend_yield"`
}

// ClosePoint is a (date, close) pair used for moving averages
type ClosePoint struct {
	Date  time.Time
	Close *float64
}

// PriceBar is the high/low/close triple the stochastic oscillator needs
type PriceBar struct {
	Date  time.Time
	High  *float64
	Low   *float64
	Close *float64
}

// MovingAverages holds the four moving averages for one (stock, date)
type MovingAverages struct {
	Date time.Time `json:"date"`
	MA5  *float64  `json:"ma5"`
	MA10 *float64  `json:"ma10"`
	MA20 *float64  `json:"ma20"`
	MA60 *float64  `json:"ma60"`
}

// Stochastic is a K/D pair for one session
type Stochastic struct {
	Date time.Time `json:"date"`
	K    float64   `json:"k"`
	D    float64   `json:"d"`
}

// RatioRecord holds valuation ratios for one stock on one day
type RatioRecord struct {
	StockID       string   `json:"stock_id"`
	StockName     string   `json:"stock_name"`
	PERatio       *float64 `json:"pe_ratio"`
	PBRatio       *float64 `json:"pb_ratio"`
	DividendYield *float64 `json:"dividend_yield"`
}

// InstitutionalRecord is one row of the daily institutional investor flow report.
// All quantities are share counts.
type InstitutionalRecord struct {
	Date              time.Time `json:"date"`
	StockID           string    `json:"stock_id"`
	StockName         string    `json:"stock_name"`
	Industry          string    `json:"industry"`
	ForeignBuy        *int64    `json:"foreign_buy"`
	ForeignSell       *int64    `json:"foreign_sell"`
	ForeignNet        *int64    `json:"foreign_net"`
	ForeignDealerBuy  *int64    `json:"foreign_dealer_buy"`
	ForeignDealerSell *int64    `json:"foreign_dealer_sell"`
	ForeignDealerNet  *int64    `json:"foreign_dealer_net"`
	TrustBuy          *int64    `json:"trust_buy"`
	TrustSell         *int64    `json:"trust_sell"`
	TrustNet          *int64    `json:"trust_net"`
	DealerNet         *int64    `json:"dealer_net"`
	DealerBuy         *int64    `json:"dealer_buy"`
	DealerSell        *int64    `json:"dealer_sell"`
	DealerSelfNet     *int64    `json:"dealer_self_net"`
	DealerHedgeBuy    *int64    `json:"dealer_hedge_buy"`
	DealerHedgeSell   *int64    `json:"dealer_hedge_sell"`
	DealerHedgeNet    *int64    `json:"dealer_hedge_net"`
	TotalNet          *int64    `json:"total_net"`
}

// SessionSnapshot is the slice of a DailyRecord the screener reads
type SessionSnapshot struct {
	Date         time.Time `json:"date"`
	StockID      string    `json:"stock_id"`
	TradeVolume  int64     `json:"trade_volume"`
	ClosingPrice *float64  `json:"closing_price"`
	MA5          *float64  `json:"ma5"`
	MA10         *float64  `json:"ma10"`
	MA20         *float64  `json:"ma20"`
	MA60         *float64  `json:"ma60"`
}

// Float returns a pointer to v
func Float(v float64) *float64 {
	return &v
}

// Int returns a pointer to v
func Int(v int64) *int64 {
	return &v
}
