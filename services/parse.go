package services

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"stockhero/models"
)

// rocYearOffset converts Minguo calendar years to Gregorian years
const rocYearOffset = 1911

// envelope is the common shape of every exchange response
type envelope struct {
	Stat string
	Rows [][]gjson.Result
}

// decodeEnvelope checks the stat field and splits data into positional rows
func decodeEnvelope(operation string, body []byte) (envelope, error) {
	if !gjson.ValidBytes(body) {
		return envelope{}, &TransportError{Operation: operation, Err: errors.New("response is not valid JSON")}
	}

	stat := gjson.GetBytes(body, "stat").String()
	switch stat {
	case "OK":
	case NoDataStat:
		return envelope{Stat: stat}, ErrNoTradingData
	default:
		return envelope{Stat: stat}, &UpstreamStatusError{Operation: operation, Stat: stat}
	}

	data := gjson.GetBytes(body, "data").Array()
	rows := make([][]gjson.Result, 0, len(data))
	for _, row := range data {
		rows = append(rows, row.Array())
	}
	return envelope{Stat: stat, Rows: rows}, nil
}

// ParseROCDate parses an exchange date such as "113/05/02" into 2024-05-02 UTC
func ParseROCDate(s string) (time.Time, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("invalid ROC date %q", s)
	}
	year, err := strconv.Atoi(parts[0])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid ROC year in %q: %w", s, err)
	}
	month, err := strconv.Atoi(parts[1])
	if err != nil || month < 1 || month > 12 {
		return time.Time{}, fmt.Errorf("invalid month in %q", s)
	}
	day, err := strconv.Atoi(parts[2])
	if err != nil || day < 1 || day > 31 {
		return time.Time{}, fmt.Errorf("invalid day in %q", s)
	}
	t := time.Date(year+rocYearOffset, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day {
		return time.Time{}, fmt.Errorf("invalid calendar date %q", s)
	}
	return t, nil
}

// ParseNumber decodes an exchange number. "--", "-" and blanks are missing (nil);
// values prefixed with X are zero with a suppressed decimal.
func ParseNumber(s string) (*float64, error) {
	d, ok, err := parseDecimal(s)
	if err != nil || !ok {
		return nil, err
	}
	v := d.InexactFloat64()
	return &v, nil
}

// ParseCount decodes a required integral quantity such as volume
func ParseCount(s string) (int64, error) {
	d, ok, err := parseDecimal(s)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("missing value %q", s)
	}
	if !d.IsInteger() {
		return 0, fmt.Errorf("non-integral count %q", s)
	}
	return d.IntPart(), nil
}

// ParseNullableCount decodes an optional integral quantity
func ParseNullableCount(s string) (*int64, error) {
	d, ok, err := parseDecimal(s)
	if err != nil || !ok {
		return nil, err
	}
	v := d.IntPart()
	return &v, nil
}

func parseDecimal(s string) (decimal.Decimal, bool, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "--" || s == "-" {
		return decimal.Zero, false, nil
	}
	if strings.HasPrefix(s, "X") {
		return decimal.Zero, true, nil
	}
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimPrefix(s, "+")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("invalid number %q", s)
	}
	return d, true, nil
}

// PriceRow is one STOCK_DAY row with its positions resolved
type PriceRow struct {
	Date             time.Time
	TradeVolume      int64
	TradeValue       int64
	Open             *float64
	High             *float64
	Low              *float64
	Close            *float64
	Change           *float64
	TransactionCount int64
}

const priceRowFields = 9

func decodePriceRow(operation string, index int, row []gjson.Result) (PriceRow, error) {
	if len(row) < priceRowFields {
		return PriceRow{}, &MalformedRecordError{
			Operation: operation,
			Row:       index,
			Field:     "row",
			Err:       fmt.Errorf("expected %d fields, got %d", priceRowFields, len(row)),
		}
	}

	var r PriceRow
	var err error
	field := func(name string, pos int, parse func(string) error) {
		if err != nil {
			return
		}
		raw := row[pos].String()
		if perr := parse(raw); perr != nil {
			err = &MalformedRecordError{Operation: operation, Row: index, Field: name, Value: raw, Err: perr}
		}
	}

	field("date", 0, func(s string) (e error) { r.Date, e = ParseROCDate(s); return })
	field("trade_volume", 1, func(s string) (e error) { r.TradeVolume, e = ParseCount(s); return })
	field("trade_value", 2, func(s string) (e error) { r.TradeValue, e = ParseCount(s); return })
	field("opening_price", 3, func(s string) (e error) { r.Open, e = ParseNumber(s); return })
	field("highest_price", 4, func(s string) (e error) { r.High, e = ParseNumber(s); return })
	field("lowest_price", 5, func(s string) (e error) { r.Low, e = ParseNumber(s); return })
	field("closing_price", 6, func(s string) (e error) { r.Close, e = ParseNumber(s); return })
	field("price_change", 7, func(s string) (e error) { r.Change, e = ParseNumber(s); return })
	field("transaction_count", 8, func(s string) (e error) { r.TransactionCount, e = ParseCount(s); return })

	return r, err
}

// ChangePercent is change relative to the previous close, nil when that close is zero or unknown
func (r PriceRow) ChangePercent() *float64 {
	if r.Close == nil || r.Change == nil {
		return nil
	}
	change := decimal.NewFromFloat(*r.Change)
	prev := decimal.NewFromFloat(*r.Close).Sub(change)
	if prev.IsZero() {
		return nil
	}
	v := change.Div(prev).Mul(decimal.NewFromInt(100)).InexactFloat64()
	return &v
}

// Record converts the row into a DailyRecord with no derived columns
func (r PriceRow) Record(stock models.StockRef) models.DailyRecord {
	return models.DailyRecord{
		Date:             r.Date,
		StockID:          stock.ID,
		StockName:        stock.Name,
		TradeVolume:      r.TradeVolume,
		TradeValue:       r.TradeValue,
		OpeningPrice:     r.Open,
		HighestPrice:     r.High,
		LowestPrice:      r.Low,
		ClosingPrice:     r.Close,
		PriceChange:      r.Change,
		ChangePercent:    r.ChangePercent(),
		TransactionCount: r.TransactionCount,
	}
}

// RatioRow is one BWIBBU_d row: [0] id, [1] name, [3] yield, [5] P/E, [6] P/B
type RatioRow struct {
	StockID       string
	StockName     string
	DividendYield *float64
	PERatio       *float64
	PBRatio       *float64
}

const ratioRowFields = 7

func decodeRatioRow(operation string, index int, row []gjson.Result) (RatioRow, error) {
	if len(row) < ratioRowFields {
		return RatioRow{}, &MalformedRecordError{
			Operation: operation,
			Row:       index,
			Field:     "row",
			Err:       fmt.Errorf("expected %d fields, got %d", ratioRowFields, len(row)),
		}
	}

	r := RatioRow{
		StockID:   strings.TrimSpace(row[0].String()),
		StockName: strings.TrimSpace(row[1].String()),
	}
	positions := []struct {
		name string
		pos  int
		dst  **float64
	}{
		{"dividend_yield", 3, &r.DividendYield},
		{"pe_ratio", 5, &r.PERatio},
		{"pb_ratio", 6, &r.PBRatio},
	}
	for _, p := range positions {
		raw := row[p.pos].String()
		v, err := ParseNumber(raw)
		if err != nil {
			return RatioRow{}, &MalformedRecordError{Operation: operation, Row: index, Field: p.name, Value: raw, Err: err}
		}
		*p.dst = v
	}
	return r, nil
}

// Record converts the row into a RatioRecord
func (r RatioRow) Record() models.RatioRecord {
	return models.RatioRecord{
		StockID:       r.StockID,
		StockName:     r.StockName,
		PERatio:       r.PERatio,
		PBRatio:       r.PBRatio,
		DividendYield: r.DividendYield,
	}
}

// InstitutionalRow is one T86 row: id, name and seventeen share quantities
type InstitutionalRow struct {
	StockID   string
	StockName string
	Values    [institutionalValueFields]*int64
}

const (
	institutionalValueFields = 17
	institutionalRowFields   = institutionalValueFields + 2
)

func decodeInstitutionalRow(operation string, index int, row []gjson.Result) (InstitutionalRow, error) {
	if len(row) < institutionalRowFields {
		return InstitutionalRow{}, &MalformedRecordError{
			Operation: operation,
			Row:       index,
			Field:     "row",
			Err:       fmt.Errorf("expected %d fields, got %d", institutionalRowFields, len(row)),
		}
	}

	r := InstitutionalRow{
		StockID:   strings.TrimSpace(row[0].String()),
		StockName: strings.TrimSpace(row[1].String()),
	}
	for i := 0; i < institutionalValueFields; i++ {
		raw := row[i+2].String()
		v, err := ParseNullableCount(raw)
		if err != nil {
			return InstitutionalRow{}, &MalformedRecordError{
				Operation: operation,
				Row:       index,
				Field:     strconv.Itoa(i + 2),
				Value:     raw,
				Err:       err,
			}
		}
		r.Values[i] = v
	}
	return r, nil
}

// Record converts the row into an InstitutionalRecord
func (r InstitutionalRow) Record(date time.Time, industry string) models.InstitutionalRecord {
	v := r.Values
	return models.InstitutionalRecord{
		Date:              date,
		StockID:           r.StockID,
		StockName:         r.StockName,
		Industry:          industry,
		ForeignBuy:        v[0],
		ForeignSell:       v[1],
		ForeignNet:        v[2],
		ForeignDealerBuy:  v[3],
		ForeignDealerSell: v[4],
		ForeignDealerNet:  v[5],
		TrustBuy:          v[6],
		TrustSell:         v[7],
		TrustNet:          v[8],
		DealerNet:         v[9],
		DealerBuy:         v[10],
		DealerSell:        v[11],
		DealerSelfNet:     v[12],
		DealerHedgeBuy:    v[13],
		DealerHedgeSell:   v[14],
		DealerHedgeNet:    v[15],
		TotalNet:          v[16],
	}
}
