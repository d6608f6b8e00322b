package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"aquant/internal/logger"
	"aquant/internal/market"
	"aquant/internal/market/storage"
)

// 行情文件列布局：symbol,date,open,high,low,close,prev_close,volume
// prev_close列缺省时由前一行的close推导。
var expectedHeader = []string{"symbol", "date", "open", "high", "low", "close", "prev_close", "volume"}

// Importer parses provider EOD CSV files into daily bars and persists them.
type Importer struct {
	store *storage.Storage
	log   logger.Logger
}

// NewImporter creates an importer writing into the given bar store.
func NewImporter(store *storage.Storage, log logger.Logger) *Importer {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Importer{store: store, log: log}
}

// ImportFile parses one CSV file and upserts its bars. Returns the number of
// bars written.
func (im *Importer) ImportFile(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	bars, err := ParseBars(f)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(bars) == 0 {
		return 0, nil
	}

	if err := im.store.SaveBars(ctx, bars); err != nil {
		return 0, err
	}

	// 确保每个出现过的代码都有可用的品种元数据
	seen := make(map[string]struct{})
	for i := range bars {
		sym := bars[i].Symbol
		if _, ok := seen[sym]; ok {
			continue
		}
		seen[sym] = struct{}{}
		inst := &market.Instrument{
			Symbol:  sym,
			Board:   market.Classify(sym),
			LotSize: market.DefaultLotSize,
		}
		if err := im.store.UpsertInstrument(ctx, inst); err != nil {
			return 0, err
		}
	}

	im.log.Info("Imported EOD file", "path", path, "bars", len(bars), "symbols", len(seen))
	return len(bars), nil
}

// ImportDir imports every .csv file under dir, non-recursively. Files that
// fail to parse are skipped with a warning so one bad provider file does not
// block the nightly refresh.
func (im *Importer) ImportDir(ctx context.Context, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read data dir %s: %w", dir, err)
	}

	total := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".csv") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := im.ImportFile(ctx, filepath.Join(dir, entry.Name()))
		if err != nil {
			im.log.Warn("Skipping EOD file", "file", entry.Name(), "error", err)
			continue
		}
		total += n
	}
	return total, nil
}

// ParseBars reads CSV bar rows from r. The header row is required and
// prev_close may be omitted as a trailing column.
func ParseBars(r io.Reader) ([]market.PricePoint, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	cols, hasPrevClose, err := mapHeader(header)
	if err != nil {
		return nil, err
	}

	var bars []market.PricePoint
	prevClose := make(map[string]float64)
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		bar, err := parseRecord(record, cols, hasPrevClose, prevClose)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		prevClose[bar.Symbol] = bar.Close
		bars = append(bars, bar)
	}
	return bars, nil
}

// mapHeader resolves column positions; column order may vary by provider.
func mapHeader(header []string) (map[string]int, bool, error) {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}

	for _, required := range expectedHeader {
		if required == "prev_close" {
			continue
		}
		if _, ok := cols[required]; !ok {
			return nil, false, fmt.Errorf("missing required column %q", required)
		}
	}
	_, hasPrevClose := cols["prev_close"]
	return cols, hasPrevClose, nil
}

func parseRecord(record []string, cols map[string]int, hasPrevClose bool, prevClose map[string]float64) (market.PricePoint, error) {
	var bar market.PricePoint

	field := func(name string) (string, error) {
		idx, ok := cols[name]
		if !ok || idx >= len(record) {
			return "", fmt.Errorf("missing field %q", name)
		}
		return strings.TrimSpace(record[idx]), nil
	}
	num := func(name string) (float64, error) {
		s, err := field(name)
		if err != nil {
			return 0, err
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid %s value %q", name, s)
		}
		return v, nil
	}

	sym, err := field("symbol")
	if err != nil {
		return bar, err
	}
	if sym == "" {
		return bar, fmt.Errorf("empty symbol")
	}
	bar.Symbol = sym

	dateStr, err := field("date")
	if err != nil {
		return bar, err
	}
	date, err := market.ParseDate(dateStr)
	if err != nil {
		return bar, fmt.Errorf("invalid date %q", dateStr)
	}
	bar.Date = market.Day(date)

	if bar.Open, err = num("open"); err != nil {
		return bar, err
	}
	if bar.High, err = num("high"); err != nil {
		return bar, err
	}
	if bar.Low, err = num("low"); err != nil {
		return bar, err
	}
	if bar.Close, err = num("close"); err != nil {
		return bar, err
	}
	if bar.Volume, err = num("volume"); err != nil {
		return bar, err
	}

	if hasPrevClose {
		if bar.PrevClose, err = num("prev_close"); err != nil {
			return bar, err
		}
	} else {
		bar.PrevClose = prevClose[bar.Symbol]
	}

	if bar.Open <= 0 || bar.High <= 0 || bar.Low <= 0 || bar.Close <= 0 {
		return bar, fmt.Errorf("non-positive price for %s on %s", bar.Symbol, dateStr)
	}
	if bar.Volume < 0 {
		return bar, fmt.Errorf("negative volume for %s on %s", bar.Symbol, dateStr)
	}
	return bar, nil
}
