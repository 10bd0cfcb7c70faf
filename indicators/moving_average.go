package indicators

import (
	"github.com/shopspring/decimal"

	"stockhero/models"
)

// Periods are the moving-average windows maintained for every stock
var Periods = [4]int{5, 10, 20, 60}

// IncrementalWindow is how many recent sessions the daily update reads
const IncrementalWindow = 60

// maPrecision is the number of decimals stored for a moving average
const maPrecision = 3

// ForwardFill replaces each missing close with the most recent known one.
// Leading gaps stay nil.
func ForwardFill(closes []*float64) []*float64 {
	filled := make([]*float64, len(closes))
	var last *float64
	for i, c := range closes {
		if c != nil {
			last = c
		}
		filled[i] = last
	}
	return filled
}

// SMA returns the simple moving average of window w at every position of closes.
// Position i is nil until at least w real closes exist at or before i; otherwise it
// is the mean of the trailing w forward-filled closes, rounded to three decimals.
func SMA(closes []*float64, w int) []*float64 {
	out := make([]*float64, len(closes))
	if w <= 0 {
		return out
	}

	filled := ForwardFill(closes)
	divisor := decimal.NewFromInt(int64(w))
	seen := 0
	for i := range closes {
		if closes[i] != nil {
			seen++
		}
		if seen < w {
			continue
		}
		sum := decimal.Zero
		for _, c := range filled[i-w+1 : i+1] {
			sum = sum.Add(decimal.NewFromFloat(*c))
		}
		v := sum.Div(divisor).Round(maPrecision).InexactFloat64()
		out[i] = &v
	}
	return out
}

// MovingAverages computes all four averages for every point, oldest first.
// Used for full recomputes after a backfill.
func MovingAverages(points []models.ClosePoint) []models.MovingAverages {
	closes := make([]*float64, len(points))
	for i, p := range points {
		closes[i] = p.Close
	}

	series := make([][]*float64, len(Periods))
	for j, w := range Periods {
		series[j] = SMA(closes, w)
	}

	out := make([]models.MovingAverages, len(points))
	for i, p := range points {
		out[i] = models.MovingAverages{
			Date: p.Date,
			MA5:  series[0][i],
			MA10: series[1][i],
			MA20: series[2][i],
			MA60: series[3][i],
		}
	}
	return out
}

// LatestMovingAverages computes the averages for the newest point only, reading at
// most IncrementalWindow sessions. ok is false when points is empty.
func LatestMovingAverages(points []models.ClosePoint) (ma models.MovingAverages, ok bool) {
	if len(points) == 0 {
		return models.MovingAverages{}, false
	}
	if len(points) > IncrementalWindow {
		points = points[len(points)-IncrementalWindow:]
	}
	all := MovingAverages(points)
	return all[len(all)-1], true
}
