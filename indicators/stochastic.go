package indicators

import (
	"errors"
	"fmt"

	"stockhero/models"
)

const (
	// KDPeriod is the RSV lookback window
	KDPeriod = 9

	// KDSeed is the K and D value assumed before the first session
	KDSeed = 50.0

	// rsvEpsilon keeps flat windows from dividing by zero
	rsvEpsilon = 1e-9
)

// ErrInsufficientHistory means there are fewer usable sessions than the indicator needs
var ErrInsufficientHistory = errors.New("insufficient history")

// RSV returns the raw stochastic value of every bar. Each window holds up to period
// bars ending at i, so the first bars use shorter windows.
func RSV(bars []models.PriceBar, period int) []float64 {
	out := make([]float64, len(bars))
	for i := range bars {
		start := max(0, i-period+1)
		high, low := *bars[start].High, *bars[start].Low
		for _, b := range bars[start+1 : i+1] {
			high = max(high, *b.High)
			low = min(low, *b.Low)
		}
		out[i] = 100 * (*bars[i].Close - low) / (high - low + rsvEpsilon)
	}
	return out
}

// KDState is the accumulator of the K/D fold
type KDState struct {
	K float64
	D float64
}

// Step advances the state by one session's RSV
func (s KDState) Step(rsv float64) KDState {
	k := 2.0/3.0*s.K + 1.0/3.0*rsv
	d := 2.0/3.0*s.D + 1.0/3.0*k
	return KDState{K: k, D: d}
}

// FoldKD runs the K/D recursion over rsv in order. The first session takes the
// seed unchanged and every later session steps from its predecessor.
func FoldKD(rsv []float64, seed KDState) []KDState {
	out := make([]KDState, len(rsv))
	state := seed
	for i, r := range rsv {
		if i > 0 {
			state = state.Step(r)
		}
		out[i] = state
	}
	return out
}

// completeBars drops bars missing any of high, low or close
func completeBars(bars []models.PriceBar) []models.PriceBar {
	out := make([]models.PriceBar, 0, len(bars))
	for _, b := range bars {
		if b.High != nil && b.Low != nil && b.Close != nil {
			out = append(out, b)
		}
	}
	return out
}

// LatestKD computes the K/D pair of the newest complete bar. bars must be ordered
// oldest first and should carry a margin beyond KDPeriod so the recursion settles.
func LatestKD(bars []models.PriceBar) (models.Stochastic, error) {
	usable := completeBars(bars)
	if len(usable) < KDPeriod {
		return models.Stochastic{}, fmt.Errorf("%w: %d complete sessions, need %d", ErrInsufficientHistory, len(usable), KDPeriod)
	}

	states := FoldKD(RSV(usable, KDPeriod), KDState{K: KDSeed, D: KDSeed})
	last := states[len(states)-1]
	return models.Stochastic{Date: usable[len(usable)-1].Date, K: last.K, D: last.D}, nil
}
