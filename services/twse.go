package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"stockhero/config"
	"stockhero/models"
	"stockhero/observability"
)

const (
	serviceTWSE = "twse"

	pathStockDay      = "/rwd/zh/afterTrading/STOCK_DAY"
	pathRatios        = "/rwd/zh/afterTrading/BWIBBU_d"
	pathInstitutional = "/rwd/zh/fund/T86"

	opStockDay      = "stock_day"
	opRatios        = "bwibbu"
	opInstitutional = "t86"

	queryDateLayout = "20060102"
)

// TWSEClient talks to the exchange open API. Every request, from every goroutine,
// waits on one shared limiter so pacing holds in aggregate.
type TWSEClient struct {
	baseURL          string
	httpClient       *http.Client
	limiter          *rate.Limiter
	breakers         *CircuitBreakerRegistry
	retryBase        time.Duration
	referenceStockID string
	logger           *slog.Logger
}

// NewTWSEClient creates a new TWSEClient instance
func NewTWSEClient(cfg config.TWSEConfig, breakers *CircuitBreakerRegistry, logger *slog.Logger) *TWSEClient {
	limit := rate.Inf
	if interval := cfg.RequestInterval(); interval > 0 {
		limit = rate.Every(interval)
	}
	if breakers == nil {
		breakers = NewCircuitBreakerRegistry(DefaultCircuitBreakerConfig, logger)
	}
	return &TWSEClient{
		baseURL:          strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:       &http.Client{Timeout: cfg.HTTPTimeout()},
		limiter:          rate.NewLimiter(limit, 1),
		breakers:         breakers,
		retryBase:        cfg.RetryBaseDelay(),
		referenceStockID: cfg.ReferenceStockID,
		logger:           observability.OrDefault(logger),
	}
}

// get performs one paced, breaker-guarded GET and returns the raw body
func (c *TWSEClient) get(ctx context.Context, operation, path string, params url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &TransportError{Operation: operation, Err: err}
	}

	metrics := observability.GetMetrics()
	metrics.RecordExternalAPIRequest(serviceTWSE, operation)
	timer := metrics.NewTimer()
	defer timer.ObserveExternalAPI(serviceTWSE, operation)

	body, err := c.breakers.Execute(ctx, BreakerTWSE, func() ([]byte, error) {
		reqURL := c.baseURL + path + "?" + params.Encode()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, &TransportError{Operation: operation, StatusCode: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
		}
		return io.ReadAll(resp.Body)
	})
	if err != nil {
		var transportErr *TransportError
		if !errors.As(err, &transportErr) {
			err = &TransportError{Operation: operation, Err: err}
		}
		metrics.RecordExternalAPIError(serviceTWSE, operation, errorType(err))
		return nil, err
	}
	return body, nil
}

// fetch performs get and decodes the status envelope
func (c *TWSEClient) fetch(ctx context.Context, operation, path string, params url.Values) (envelope, error) {
	body, err := c.get(ctx, operation, path, params)
	if err != nil {
		return envelope{}, err
	}
	env, err := decodeEnvelope(operation, body)
	if err != nil && !errors.Is(err, ErrNoTradingData) {
		observability.GetMetrics().RecordExternalAPIError(serviceTWSE, operation, errorType(err))
	}
	return env, err
}

// monthRows fetches the STOCK_DAY month containing date and decodes every row.
// Rows that fail to decode are returned separately rather than failing the month.
func (c *TWSEClient) monthRows(ctx context.Context, stockID string, date time.Time) ([]PriceRow, []error, error) {
	params := url.Values{}
	params.Set("stockNo", stockID)
	params.Set("date", date.Format(queryDateLayout))
	params.Set("response", "json")

	env, err := c.fetch(ctx, opStockDay, pathStockDay, params)
	if err != nil {
		return nil, nil, err
	}

	rows := make([]PriceRow, 0, len(env.Rows))
	var skipped []error
	for i, raw := range env.Rows {
		row, err := decodePriceRow(opStockDay, i, raw)
		if err != nil {
			skipped = append(skipped, err)
			continue
		}
		rows = append(rows, row)
	}
	return rows, skipped, nil
}

// FetchDaily returns the session for stock on date. A non-trading day yields
// ErrNoTradingData immediately; anything transient is retried under DailyPolicy.
func (c *TWSEClient) FetchDaily(ctx context.Context, stock models.StockRef, date time.Time) (*models.DailyRecord, error) {
	date = models.NormalizeDate(date)
	logger := observability.WithStock(c.logger, stock.ID)

	return Retry(ctx, DailyPolicy(c.retryBase), logger, func(ctx context.Context) (*models.DailyRecord, error) {
		params := url.Values{}
		params.Set("stockNo", stock.ID)
		params.Set("date", date.Format(queryDateLayout))
		params.Set("response", "json")

		env, err := c.fetch(ctx, opStockDay, pathStockDay, params)
		if err != nil {
			return nil, err
		}

		for i, raw := range env.Rows {
			if len(raw) == 0 {
				continue
			}
			rowDate, err := ParseROCDate(raw[0].String())
			if err != nil || !rowDate.Equal(date) {
				continue
			}
			row, err := decodePriceRow(opStockDay, i, raw)
			if err != nil {
				return nil, err
			}
			record := row.Record(stock)
			return &record, nil
		}
		return nil, fmt.Errorf("%s %s: %w", stock.ID, date.Format(models.DateLayout), ErrDateNotFound)
	})
}

// FetchMonth returns every decodable session of stock in the month containing month.
// Malformed rows are logged and skipped; the month is retried under HistoryPolicy.
func (c *TWSEClient) FetchMonth(ctx context.Context, stock models.StockRef, month time.Time) ([]models.DailyRecord, error) {
	logger := observability.WithStock(c.logger, stock.ID)

	rows, err := Retry(ctx, HistoryPolicy(c.retryBase), logger, func(ctx context.Context) ([]PriceRow, error) {
		rows, skipped, err := c.monthRows(ctx, stock.ID, month)
		for _, s := range skipped {
			logger.Warn("skipping malformed price row", "month", month.Format("2006-01"), "error", s)
		}
		return rows, err
	})
	if err != nil {
		return nil, err
	}

	records := make([]models.DailyRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.Record(stock))
	}
	return records, nil
}

// CheckMarketOpen reports whether the exchange traded on date by looking for the
// reference stock's session in that month
func (c *TWSEClient) CheckMarketOpen(ctx context.Context, date time.Time) (bool, error) {
	date = models.NormalizeDate(date)
	logger := observability.WithStock(c.logger, c.referenceStockID)

	rows, err := Retry(ctx, DailyPolicy(c.retryBase), logger, func(ctx context.Context) ([]PriceRow, error) {
		rows, _, err := c.monthRows(ctx, c.referenceStockID, date)
		return rows, err
	})
	if errors.Is(err, ErrNoTradingData) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	for _, row := range rows {
		if row.Date.Equal(date) {
			return true, nil
		}
	}
	return false, nil
}

// FetchRatios returns the whole-market valuation ratio batch for date keyed by stock id.
// Rows that fail to decode are skipped; the batch is retried under RatioPolicy.
func (c *TWSEClient) FetchRatios(ctx context.Context, date time.Time) (map[string]models.RatioRecord, error) {
	date = models.NormalizeDate(date)

	return Retry(ctx, RatioPolicy(c.retryBase), c.logger, func(ctx context.Context) (map[string]models.RatioRecord, error) {
		params := url.Values{}
		params.Set("date", date.Format(queryDateLayout))
		params.Set("response", "json")

		env, err := c.fetch(ctx, opRatios, pathRatios, params)
		if err != nil {
			return nil, err
		}
		if len(env.Rows) == 0 {
			return nil, ErrNoTradingData
		}

		ratios := make(map[string]models.RatioRecord, len(env.Rows))
		for i, raw := range env.Rows {
			row, err := decodeRatioRow(opRatios, i, raw)
			if err != nil {
				c.logger.Warn("skipping malformed ratio row", "date", date.Format(models.DateLayout), "error", err)
				continue
			}
			ratios[row.StockID] = row.Record()
		}
		return ratios, nil
	})
}

// FetchInstitutional returns one industry's institutional flow batch for date.
// A single undecodable row discards the batch, which is then retried whole.
func (c *TWSEClient) FetchInstitutional(ctx context.Context, date time.Time, industry Industry) ([]models.InstitutionalRecord, error) {
	date = models.NormalizeDate(date)
	logger := c.logger.With("industry", industry.Name)

	return Retry(ctx, InstitutionalPolicy(c.retryBase), logger, func(ctx context.Context) ([]models.InstitutionalRecord, error) {
		params := url.Values{}
		params.Set("date", date.Format(queryDateLayout))
		params.Set("selectType", industry.Code)
		params.Set("response", "json")

		env, err := c.fetch(ctx, opInstitutional, pathInstitutional, params)
		if err != nil {
			return nil, err
		}

		records := make([]models.InstitutionalRecord, 0, len(env.Rows))
		for i, raw := range env.Rows {
			row, err := decodeInstitutionalRow(opInstitutional, i, raw)
			if err != nil {
				return nil, &MalformedBatchError{Operation: opInstitutional, Batch: industry.Code, Err: err}
			}
			records = append(records, row.Record(date, industry.Name))
		}
		return records, nil
	})
}
