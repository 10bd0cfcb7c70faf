package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"stockhero/models"
)

// fetchResult is the outcome of one stock's upstream call
type fetchResult[T any] struct {
	stock models.StockInfo
	value T
	err   error
}

// fetchAll runs fn for every stock on at most workers goroutines. Each call gets its
// own timeout so a stuck retry loop only costs that stock. Results keep input order.
// Aggregate request pacing is enforced by the client's shared limiter, not here.
func fetchAll[T any](ctx context.Context, stocks []models.StockInfo, workers int, timeout time.Duration,
	fn func(ctx context.Context, stock models.StockInfo) (T, error)) []fetchResult[T] {

	if workers < 1 {
		workers = 1
	}
	results := make([]fetchResult[T], len(stocks))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i, stock := range stocks {
		results[i].stock = stock

		wg.Add(1)
		go func(idx int, s models.StockInfo) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx].err = ctx.Err()
				return
			}

			defer func() {
				if p := recover(); p != nil {
					results[idx].err = fmt.Errorf("panic fetching %s: %v", s.StockID, p)
				}
			}()

			stockCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			results[idx].value, results[idx].err = fn(stockCtx, s)
		}(i, stock)
	}

	wg.Wait()
	return results
}
