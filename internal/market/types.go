package market

import (
	"strings"
	"time"
)

// Board identifies the listing board of an A-share instrument. The board
// determines the daily price-limit tier applied by the trading rules.
type Board string

const (
	BoardMain    Board = "main"    // 主板 (上海600/601/603/605, 深圳000/001/002/003)
	BoardChiNext Board = "chinext" // 创业板 (300/301)
	BoardSTAR    Board = "star"    // 科创板 (688/689)
)

// Instrument represents a listed A-share equity.
type Instrument struct {
	Symbol     string    `json:"symbol"`
	Name       string    `json:"name"`
	Board      Board     `json:"board"`
	IsST       bool      `json:"is_st"`
	LotSize    int       `json:"lot_size"`
	ListedDate time.Time `json:"listed_date"`
}

// PricePoint represents a single daily OHLCV bar for one symbol.
// PrevClose is the close of the previous trading day, which is the only
// price the engine may use when sizing trades for this date.
type PricePoint struct {
	Symbol    string    `json:"symbol"`
	Date      time.Time `json:"date"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	PrevClose float64   `json:"prev_close"`
	Volume    float64   `json:"volume"`
}

// Classify derives the listing board from the symbol code. Symbols follow
// the "code.exchange" convention, e.g. "600519.SH" or "300750.SZ".
func Classify(symbol string) Board {
	code := symbol
	if i := strings.IndexByte(symbol, '.'); i >= 0 {
		code = symbol[:i]
	}
	if len(code) < 3 {
		return BoardMain
	}

	switch code[:3] {
	case "300", "301":
		return BoardChiNext
	case "688", "689":
		return BoardSTAR
	default:
		return BoardMain
	}
}

// DefaultLotSize is the standard A-share board lot (一手).
const DefaultLotSize = 100

// DateLayout is the canonical date format used across the platform.
const DateLayout = "2006-01-02"

// ParseDate parses a trading date in the canonical layout.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// FormatDate formats a trading date in the canonical layout.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// Day truncates a timestamp to its UTC trading date.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
