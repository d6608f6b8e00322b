package market

import (
	"fmt"
	"math"
	"sort"
	"time"

	"aquant/internal/errors"
)

// PriceTable is an immutable, time-indexed table of daily bars per symbol.
// It is built once from loaded bars and may be shared read-only across any
// number of concurrent backtest runs.
type PriceTable struct {
	series   map[string][]PricePoint
	index    map[string]map[time.Time]int
	calendar *Calendar
	symbols  []string
}

// NewPriceTable builds a table from a flat bar list. Bars are grouped per
// symbol and sorted by date; the union of all dates forms the table's
// trading calendar. The input slice is not retained.
func NewPriceTable(bars []PricePoint) *PriceTable {
	series := make(map[string][]PricePoint)
	for _, b := range bars {
		b.Date = Day(b.Date)
		series[b.Symbol] = append(series[b.Symbol], b)
	}

	symbols := make([]string, 0, len(series))
	allDates := make([]time.Time, 0, len(bars))
	index := make(map[string]map[time.Time]int, len(series))

	for sym, bars := range series {
		sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
		series[sym] = bars

		idx := make(map[time.Time]int, len(bars))
		for i, b := range bars {
			idx[b.Date] = i
			allDates = append(allDates, b.Date)
		}
		index[sym] = idx
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	return &PriceTable{
		series:   series,
		index:    index,
		calendar: NewCalendar(allDates),
		symbols:  symbols,
	}
}

// Symbols returns all symbols in ascending order.
func (t *PriceTable) Symbols() []string {
	return t.symbols
}

// HasSymbol reports whether the table carries any bars for symbol.
func (t *PriceTable) HasSymbol(symbol string) bool {
	_, ok := t.series[symbol]
	return ok
}

// Calendar returns the union trading calendar across all symbols.
func (t *PriceTable) Calendar() *Calendar {
	return t.calendar
}

// Bar returns the bar for (symbol, date) if present.
func (t *PriceTable) Bar(symbol string, date time.Time) (PricePoint, bool) {
	idx, ok := t.index[symbol]
	if !ok {
		return PricePoint{}, false
	}
	i, ok := idx[Day(date)]
	if !ok {
		return PricePoint{}, false
	}
	return t.series[symbol][i], true
}

// Series returns the full bar sequence for a symbol in date order.
func (t *PriceTable) Series(symbol string) []PricePoint {
	return t.series[symbol]
}

// Closes returns the close series for a symbol in date order.
func (t *PriceTable) Closes(symbol string) []float64 {
	bars := t.series[symbol]
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// priceEpsilon tolerates float noise when comparing prices loaded from
// external sources against each other.
const priceEpsilon = 1e-6

func pricesEqual(a, b float64) bool {
	return math.Abs(a-b) <= priceEpsilon*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}

// Validate checks every bar for structural soundness and surfaces the
// first violation found: ascending unique dates per symbol, positive
// prices, non-negative volume, high/low envelope containing open and
// close, and prev-close continuity across consecutive bars.
func (t *PriceTable) Validate() error {
	if len(t.symbols) == 0 {
		return errors.NewDataValidationError("", "", "", "price table is empty")
	}

	for _, sym := range t.symbols {
		bars := t.series[sym]
		for i, b := range bars {
			date := FormatDate(b.Date)

			if i > 0 && !bars[i-1].Date.Before(b.Date) {
				return errors.NewDataValidationError(sym, date, "date",
					"dates must be strictly ascending")
			}
			if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 {
				return errors.NewDataValidationError(sym, date, "price",
					"prices must be positive")
			}
			if b.PrevClose <= 0 {
				return errors.NewDataValidationError(sym, date, "prev_close",
					"prev_close must be positive")
			}
			if b.Volume < 0 {
				return errors.NewDataValidationError(sym, date, "volume",
					"volume must be non-negative")
			}
			if b.High < b.Low {
				return errors.NewDataValidationError(sym, date, "high",
					"high must be at or above low")
			}
			if b.Open > b.High+priceEpsilon || b.Open < b.Low-priceEpsilon {
				return errors.NewDataValidationError(sym, date, "open",
					"open outside the high/low envelope")
			}
			if b.Close > b.High+priceEpsilon || b.Close < b.Low-priceEpsilon {
				return errors.NewDataValidationError(sym, date, "close",
					"close outside the high/low envelope")
			}
			// 前收盘必须等于上一交易日收盘，数据断档在此暴露
			if i > 0 && !pricesEqual(b.PrevClose, bars[i-1].Close) {
				return errors.NewDataValidationError(sym, date, "prev_close",
					fmt.Sprintf("prev_close %.4f does not match prior close %.4f",
						b.PrevClose, bars[i-1].Close))
			}
		}
	}
	return nil
}

// ValidateCoverage checks that each required symbol has a bar on every
// calendar date from its first bar inside the window through end. An
// interior gap means a position opened before the gap could not be marked
// to market, so it is rejected before any run starts.
func (t *PriceTable) ValidateCoverage(symbols []string, start, end time.Time) error {
	window := t.calendar.Range(start, end)
	for _, sym := range symbols {
		idx, ok := t.index[sym]
		if !ok {
			return errors.NewDataValidationError(sym, "", "",
				"no price data for signaled symbol")
		}

		started := false
		for _, d := range window {
			if _, has := idx[d]; has {
				started = true
				continue
			}
			if started {
				return errors.NewDataValidationError(sym, FormatDate(d), "",
					"missing bar inside the run window")
			}
		}
		if !started {
			return errors.NewDataValidationError(sym, "", "",
				"no price data inside the run window")
		}
	}
	return nil
}
