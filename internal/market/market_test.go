package market

import (
	"math"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		symbol string
		board  Board
	}{
		{"600519.SH", BoardMain},
		{"601318.SH", BoardMain},
		{"603259.SH", BoardMain},
		{"000001.SZ", BoardMain},
		{"002594.SZ", BoardMain},
		{"300750.SZ", BoardChiNext},
		{"301236.SZ", BoardChiNext},
		{"688111.SH", BoardSTAR},
		{"689009.SH", BoardSTAR},
	}

	for _, test := range tests {
		board := Classify(test.symbol)
		if board != test.board {
			t.Errorf("Classify(%s): expected %s, got %s", test.symbol, test.board, board)
		}
	}
}

func TestRatioFor(t *testing.T) {
	table := DefaultPriceLimitTable()
	table.STSymbols = []string{"600999.SH"}
	table.Overrides = map[string]float64{"000062.SZ": 0.08}

	tests := []struct {
		symbol string
		ratio  float64
	}{
		{"600519.SH", 0.10},
		{"300750.SZ", 0.20},
		{"688111.SH", 0.20},
		{"600999.SH", 0.05},
		{"000062.SZ", 0.08},
	}

	for _, test := range tests {
		ratio := table.RatioFor(test.symbol)
		if ratio != test.ratio {
			t.Errorf("RatioFor(%s): expected %.2f, got %.2f", test.symbol, test.ratio, ratio)
		}
	}
}

func TestLimitPrices(t *testing.T) {
	tests := []struct {
		prevClose float64
		ratio     float64
		up        float64
		down      float64
	}{
		{10.00, 0.10, 11.00, 9.00},
		{7.77, 0.05, 8.16, 7.38},
		{56.78, 0.20, 68.14, 45.42},
		{9.99, 0.10, 10.99, 8.99},
	}

	for _, test := range tests {
		up, down := LimitPrices(test.prevClose, test.ratio)
		if math.Abs(up-test.up) > 1e-9 {
			t.Errorf("LimitPrices(%.2f, %.2f): expected up %.2f, got %.2f",
				test.prevClose, test.ratio, test.up, up)
		}
		if math.Abs(down-test.down) > 1e-9 {
			t.Errorf("LimitPrices(%.2f, %.2f): expected down %.2f, got %.2f",
				test.prevClose, test.ratio, test.down, down)
		}
	}
}

func TestPriceLimitTableValid(t *testing.T) {
	table := DefaultPriceLimitTable()
	if !table.Valid() {
		t.Error("default table should be valid")
	}

	table.Main = 0
	if table.Valid() {
		t.Error("zero ratio should be invalid")
	}

	table = DefaultPriceLimitTable()
	table.Overrides = map[string]float64{"600519.SH": 1.5}
	if table.Valid() {
		t.Error("override ratio above 1 should be invalid")
	}
}

func TestDayAndDateRoundTrip(t *testing.T) {
	d, err := ParseDate("2023-05-10")
	if err != nil {
		t.Fatalf("ParseDate failed: %v", err)
	}
	if FormatDate(d) != "2023-05-10" {
		t.Errorf("expected 2023-05-10, got %s", FormatDate(d))
	}
	if !Day(d).Equal(d) {
		t.Error("Day should be a no-op on a truncated date")
	}
}
