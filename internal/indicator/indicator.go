package indicator

import (
	"fmt"
	"math"
	"sort"
	"time"

	"aquant/internal/errors"
	"aquant/internal/market"
)

// Kind identifies an indicator family.
type Kind string

const (
	KindSMA        Kind = "sma"
	KindEMA        Kind = "ema"
	KindMomentum   Kind = "momentum"
	KindVolatility Kind = "volatility"
	KindATR        Kind = "atr"
)

// Series is one computed indicator series. Dates and Values are parallel
// and start at the first date with a complete lookback window, so a Series
// never contains warm-up placeholders.
type Series struct {
	Symbol string      `json:"symbol"`
	Kind   Kind        `json:"kind"`
	Window int         `json:"window"`
	Dates  []time.Time `json:"dates"`
	Values []float64   `json:"values"`
}

// Len returns the number of computed points.
func (s *Series) Len() int {
	return len(s.Values)
}

// Last returns the most recent value.
func (s *Series) Last() (float64, bool) {
	if len(s.Values) == 0 {
		return 0, false
	}
	return s.Values[len(s.Values)-1], true
}

// On returns the value for a date. Dates are ascending, so lookup is a
// binary search.
func (s *Series) On(date time.Time) (float64, bool) {
	d := market.Day(date)
	i := sort.Search(len(s.Dates), func(i int) bool { return !s.Dates[i].Before(d) })
	if i >= len(s.Dates) || !s.Dates[i].Equal(d) {
		return 0, false
	}
	return s.Values[i], true
}

// Before returns the latest value strictly before a date, for lookahead-free
// signal generation.
func (s *Series) Before(date time.Time) (float64, bool) {
	d := market.Day(date)
	i := sort.Search(len(s.Dates), func(i int) bool { return !s.Dates[i].Before(d) })
	if i == 0 {
		return 0, false
	}
	return s.Values[i-1], true
}

// Service computes indicator series over one price table, memoizing each
// (symbol, window, kind) triple so repeated requests across strategies and
// sweep runs hit the same computation once. Safe for concurrent use.
type Service struct {
	prices *market.PriceTable
	memo   *memoTable
}

// NewService creates an indicator service bound to a price table.
func NewService(prices *market.PriceTable) *Service {
	return &Service{
		prices: prices,
		memo:   newMemoTable(),
	}
}

// Stats reports the memo table's hit/miss counters.
func (s *Service) Stats() MemoStats {
	return s.memo.stats()
}

// SMA returns the simple moving average of closes over the window.
func (s *Service) SMA(symbol string, window int) (*Series, error) {
	return s.series(KindSMA, symbol, window)
}

// EMA returns the exponential moving average of closes, seeded with the
// simple average of the first window.
func (s *Service) EMA(symbol string, window int) (*Series, error) {
	return s.series(KindEMA, symbol, window)
}

// Momentum returns the rate of change close[t]/close[t-window] - 1.
func (s *Service) Momentum(symbol string, window int) (*Series, error) {
	return s.series(KindMomentum, symbol, window)
}

// Volatility returns the rolling sample standard deviation of daily close
// returns over the window. Values are per-period, not annualized.
func (s *Service) Volatility(symbol string, window int) (*Series, error) {
	return s.series(KindVolatility, symbol, window)
}

// ATR returns the simple moving average of the true range over the window.
func (s *Service) ATR(symbol string, window int) (*Series, error) {
	return s.series(KindATR, symbol, window)
}

func (s *Service) series(kind Kind, symbol string, window int) (*Series, error) {
	if window < 1 {
		return nil, errors.NewAppErrorWithDetails(errors.ErrCodeInvalidInput,
			"indicator window must be positive", fmt.Sprintf("%s window=%d", kind, window), nil)
	}
	if !s.prices.HasSymbol(symbol) {
		return nil, errors.NewDataValidationError(symbol, "", "symbol", "unknown symbol")
	}

	if cached, ok := s.memo.get(symbol, kind, window); ok {
		return cached, nil
	}

	bars := s.prices.Series(symbol)
	out, err := compute(kind, symbol, window, bars)
	if err != nil {
		return nil, err
	}
	s.memo.put(symbol, kind, window, out)
	return out, nil
}

func compute(kind Kind, symbol string, window int, bars []market.PricePoint) (*Series, error) {
	var values []float64
	var start int

	switch kind {
	case KindSMA:
		values, start = sma(closes(bars), window)
	case KindEMA:
		values, start = ema(closes(bars), window)
	case KindMomentum:
		values, start = momentum(closes(bars), window)
	case KindVolatility:
		values, start = volatility(closes(bars), window)
	case KindATR:
		values, start = atr(bars, window)
	default:
		return nil, errors.NewAppErrorWithDetails(errors.ErrCodeInvalidInput,
			"unknown indicator kind", string(kind), nil)
	}

	if len(values) == 0 {
		return nil, errors.NewEmptySeriesError(fmt.Sprintf("%s %s(%d)", symbol, kind, window))
	}

	dates := make([]time.Time, len(values))
	for i := range values {
		dates[i] = bars[start+i].Date
	}
	return &Series{Symbol: symbol, Kind: kind, Window: window, Dates: dates, Values: values}, nil
}

func closes(bars []market.PricePoint) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// sma returns the rolling mean and the index of the first complete window.
func sma(closes []float64, window int) ([]float64, int) {
	if len(closes) < window {
		return nil, 0
	}
	out := make([]float64, 0, len(closes)-window+1)
	sum := 0.0
	for i, c := range closes {
		sum += c
		if i >= window {
			sum -= closes[i-window]
		}
		if i >= window-1 {
			out = append(out, sum/float64(window))
		}
	}
	return out, window - 1
}

func ema(closes []float64, window int) ([]float64, int) {
	if len(closes) < window {
		return nil, 0
	}
	// 以首个窗口的简单均值作为种子
	seed := 0.0
	for _, c := range closes[:window] {
		seed += c
	}
	seed /= float64(window)

	k := 2.0 / (float64(window) + 1)
	out := make([]float64, 0, len(closes)-window+1)
	out = append(out, seed)
	prev := seed
	for _, c := range closes[window:] {
		prev = c*k + prev*(1-k)
		out = append(out, prev)
	}
	return out, window - 1
}

func momentum(closes []float64, window int) ([]float64, int) {
	if len(closes) < window+1 {
		return nil, 0
	}
	out := make([]float64, 0, len(closes)-window)
	for i := window; i < len(closes); i++ {
		if closes[i-window] == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, closes[i]/closes[i-window]-1)
	}
	return out, window
}

// volatility computes the rolling sample standard deviation of daily
// returns; each point covers the window returns ending that date.
func volatility(closes []float64, window int) ([]float64, int) {
	if len(closes) < window+1 {
		return nil, 0
	}
	returns := make([]float64, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			returns[i-1] = 0
			continue
		}
		returns[i-1] = closes[i]/closes[i-1] - 1
	}

	out := make([]float64, 0, len(returns)-window+1)
	for i := window - 1; i < len(returns); i++ {
		win := returns[i-window+1 : i+1]
		mean := 0.0
		for _, r := range win {
			mean += r
		}
		mean /= float64(window)

		variance := 0.0
		for _, r := range win {
			diff := r - mean
			variance += diff * diff
		}
		if window > 1 {
			variance /= float64(window - 1)
		}
		out = append(out, math.Sqrt(variance))
	}
	return out, window
}

func atr(bars []market.PricePoint, window int) ([]float64, int) {
	if len(bars) < window {
		return nil, 0
	}
	tr := make([]float64, len(bars))
	for i, b := range bars {
		hl := b.High - b.Low
		hc := math.Abs(b.High - b.PrevClose)
		lc := math.Abs(b.Low - b.PrevClose)
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}
	return sma(tr, window)
}
