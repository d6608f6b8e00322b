package market

import (
	"testing"
	"time"

	"aquant/internal/errors"
)

func date(s string) time.Time {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func bar(symbol, day string, open, high, low, close, prevClose, volume float64) PricePoint {
	return PricePoint{
		Symbol:    symbol,
		Date:      date(day),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
		PrevClose: prevClose,
		Volume:    volume,
	}
}

// flatBars builds a contiguous constant-price series for tests.
func flatBars(symbol string, days []string, price float64) []PricePoint {
	bars := make([]PricePoint, 0, len(days))
	for _, d := range days {
		bars = append(bars, bar(symbol, d, price, price, price, price, price, 1e6))
	}
	return bars
}

var week = []string{"2023-05-08", "2023-05-09", "2023-05-10", "2023-05-11", "2023-05-12"}

func TestPriceTableAccessors(t *testing.T) {
	bars := append(flatBars("600519.SH", week, 1700), flatBars("000001.SZ", week, 12.5)...)
	table := NewPriceTable(bars)

	symbols := table.Symbols()
	if len(symbols) != 2 || symbols[0] != "000001.SZ" || symbols[1] != "600519.SH" {
		t.Errorf("unexpected symbols: %v", symbols)
	}

	if table.Calendar().Len() != 5 {
		t.Errorf("expected 5 calendar dates, got %d", table.Calendar().Len())
	}

	b, ok := table.Bar("600519.SH", date("2023-05-10"))
	if !ok {
		t.Fatal("expected bar for 600519.SH on 2023-05-10")
	}
	if b.Close != 1700 {
		t.Errorf("expected close 1700, got %.2f", b.Close)
	}

	if _, ok := table.Bar("600519.SH", date("2023-05-13")); ok {
		t.Error("should not find bar on a non-trading date")
	}
}

func TestPriceTableValidate(t *testing.T) {
	good := NewPriceTable(flatBars("600519.SH", week, 1700))
	if err := good.Validate(); err != nil {
		t.Fatalf("valid table rejected: %v", err)
	}

	tests := []struct {
		name  string
		bars  []PricePoint
		field string
	}{
		{
			name: "negative price",
			bars: []PricePoint{
				bar("600519.SH", "2023-05-08", 1700, 1700, -1, 1700, 1700, 1e6),
			},
			field: "price",
		},
		{
			name: "negative volume",
			bars: []PricePoint{
				bar("600519.SH", "2023-05-08", 1700, 1710, 1690, 1700, 1700, -5),
			},
			field: "volume",
		},
		{
			name: "high below low",
			bars: []PricePoint{
				bar("600519.SH", "2023-05-08", 1700, 1690, 1710, 1700, 1700, 1e6),
			},
			field: "high",
		},
		{
			name: "close outside envelope",
			bars: []PricePoint{
				bar("600519.SH", "2023-05-08", 1700, 1710, 1690, 1800, 1700, 1e6),
			},
			field: "close",
		},
		{
			name: "prev close discontinuity",
			bars: []PricePoint{
				bar("600519.SH", "2023-05-08", 1700, 1700, 1700, 1700, 1700, 1e6),
				bar("600519.SH", "2023-05-09", 1700, 1700, 1700, 1700, 1650, 1e6),
			},
			field: "prev_close",
		},
	}

	for _, test := range tests {
		table := NewPriceTable(test.bars)
		err := table.Validate()
		if err == nil {
			t.Errorf("%s: expected validation error", test.name)
			continue
		}
		if !errors.IsDataValidationError(err) {
			t.Errorf("%s: expected DATA_VALIDATION_ERROR, got %v", test.name, err)
			continue
		}
		appErr := errors.GetAppError(err)
		if appErr.Context["field"] != test.field {
			t.Errorf("%s: expected field %q, got %v", test.name, test.field, appErr.Context["field"])
		}
	}

	empty := NewPriceTable(nil)
	if err := empty.Validate(); err == nil {
		t.Error("empty table should fail validation")
	}
}

func TestValidateCoverage(t *testing.T) {
	// 600519 covers the whole week, 000001 is missing the middle day
	bars := append(flatBars("600519.SH", week, 1700),
		flatBars("000001.SZ", []string{"2023-05-08", "2023-05-09", "2023-05-11", "2023-05-12"}, 12.5)...)
	table := NewPriceTable(bars)

	if err := table.ValidateCoverage([]string{"600519.SH"}, date("2023-05-08"), date("2023-05-12")); err != nil {
		t.Errorf("full coverage rejected: %v", err)
	}

	err := table.ValidateCoverage([]string{"000001.SZ"}, date("2023-05-08"), date("2023-05-12"))
	if err == nil {
		t.Fatal("expected coverage error for interior gap")
	}
	appErr := errors.GetAppError(err)
	if appErr.Context["symbol"] != "000001.SZ" {
		t.Errorf("expected symbol 000001.SZ in context, got %v", appErr.Context["symbol"])
	}
	if appErr.Context["date"] != "2023-05-10" {
		t.Errorf("expected date 2023-05-10 in context, got %v", appErr.Context["date"])
	}

	if err := table.ValidateCoverage([]string{"999999.SH"}, date("2023-05-08"), date("2023-05-12")); err == nil {
		t.Error("expected error for unknown symbol")
	}

	// a symbol listed mid-window is fine as long as there is no interior gap
	late := NewPriceTable(flatBars("301236.SZ", []string{"2023-05-10", "2023-05-11", "2023-05-12"}, 40))
	if err := late.ValidateCoverage([]string{"301236.SZ"}, date("2023-05-10"), date("2023-05-12")); err != nil {
		t.Errorf("late listing rejected: %v", err)
	}
}

func TestCalendarCadence(t *testing.T) {
	// two ISO weeks spanning a month boundary
	days := []string{
		"2023-04-27", "2023-04-28",
		"2023-05-04", "2023-05-05",
		"2023-05-08", "2023-05-09",
	}
	cal := NewCalendar([]time.Time{
		date(days[0]), date(days[1]), date(days[2]),
		date(days[3]), date(days[4]), date(days[5]),
	})

	if !cal.IsFirstOfWeek(date("2023-04-27")) {
		t.Error("first calendar date should open its week")
	}
	if cal.IsFirstOfWeek(date("2023-04-28")) {
		t.Error("2023-04-28 is not the first session of its week")
	}
	if !cal.IsFirstOfWeek(date("2023-05-04")) {
		t.Error("2023-05-04 should open its week")
	}
	if !cal.IsFirstOfMonth(date("2023-05-04")) {
		t.Error("2023-05-04 should open May")
	}
	if cal.IsFirstOfMonth(date("2023-05-08")) {
		t.Error("2023-05-08 should not open May")
	}

	next, ok := cal.Next(date("2023-04-28"))
	if !ok || FormatDate(next) != "2023-05-04" {
		t.Errorf("Next(2023-04-28): expected 2023-05-04, got %v", next)
	}
	prev, ok := cal.Prev(date("2023-05-04"))
	if !ok || FormatDate(prev) != "2023-04-28" {
		t.Errorf("Prev(2023-05-04): expected 2023-04-28, got %v", prev)
	}

	if _, ok := cal.Prev(date("2023-04-27")); ok {
		t.Error("Prev before the first date should report false")
	}

	got := cal.Range(date("2023-05-01"), date("2023-05-08"))
	if len(got) != 3 {
		t.Errorf("Range: expected 3 dates, got %d", len(got))
	}
}
