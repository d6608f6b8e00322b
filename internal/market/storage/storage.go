package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"aquant/internal/market"
)

// Storage persists daily bars and instrument metadata.
type Storage struct {
	db *sql.DB
}

// NewStorage creates a storage over an open connection pool.
func NewStorage(db *sql.DB) *Storage {
	return &Storage{db: db}
}

// SaveBar upserts one daily bar keyed by (symbol, date).
func (s *Storage) SaveBar(ctx context.Context, bar *market.PricePoint) error {
	query := `
		INSERT INTO daily_bars (symbol, date, open, high, low, close, prev_close, volume, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (symbol, date)
		DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			prev_close = EXCLUDED.prev_close,
			volume = EXCLUDED.volume,
			updated_at = NOW()
	`

	_, err := s.db.ExecContext(ctx, query,
		bar.Symbol,
		bar.Date,
		bar.Open,
		bar.High,
		bar.Low,
		bar.Close,
		bar.PrevClose,
		bar.Volume,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to save bar: %w", err)
	}

	return nil
}

// SaveBars upserts a batch of bars inside one transaction. A failed batch
// leaves the table unchanged.
func (s *Storage) SaveBars(ctx context.Context, bars []market.PricePoint) error {
	if len(bars) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO daily_bars (symbol, date, open, high, low, close, prev_close, volume, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (symbol, date)
		DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			prev_close = EXCLUDED.prev_close,
			volume = EXCLUDED.volume,
			updated_at = NOW()
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for i := range bars {
		bar := &bars[i]
		if _, err := stmt.ExecContext(ctx,
			bar.Symbol, bar.Date, bar.Open, bar.High, bar.Low,
			bar.Close, bar.PrevClose, bar.Volume, time.Now(),
		); err != nil {
			return fmt.Errorf("failed to save bar %s %s: %w",
				bar.Symbol, market.FormatDate(bar.Date), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit bars: %w", err)
	}
	return nil
}

// LoadBars reads bars for the given symbols within [start, end]. Empty
// symbols means all symbols. Results are ordered by (symbol, date).
func (s *Storage) LoadBars(ctx context.Context, symbols []string, start, end time.Time) ([]market.PricePoint, error) {
	query := `
		SELECT symbol, date, open, high, low, close, prev_close, volume
		FROM daily_bars
		WHERE date >= $1 AND date <= $2
	`
	args := []interface{}{start, end}
	if len(symbols) > 0 {
		query += ` AND symbol = ANY($3)`
		args = append(args, pq.Array(symbols))
	}
	query += ` ORDER BY symbol, date`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bars: %w", err)
	}
	defer rows.Close()

	var bars []market.PricePoint
	for rows.Next() {
		var bar market.PricePoint
		if err := rows.Scan(
			&bar.Symbol, &bar.Date, &bar.Open, &bar.High, &bar.Low,
			&bar.Close, &bar.PrevClose, &bar.Volume,
		); err != nil {
			return nil, fmt.Errorf("failed to scan bar: %w", err)
		}
		bar.Date = market.Day(bar.Date)
		bars = append(bars, bar)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bars: %w", err)
	}

	return bars, nil
}

// LoadTable loads bars into an immutable PriceTable ready for the engine.
func (s *Storage) LoadTable(ctx context.Context, symbols []string, start, end time.Time) (*market.PriceTable, error) {
	bars, err := s.LoadBars(ctx, symbols, start, end)
	if err != nil {
		return nil, err
	}
	return market.NewPriceTable(bars), nil
}

// Symbols returns the distinct symbols present in the bar table.
func (s *Storage) Symbols(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT symbol FROM daily_bars ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("failed to query symbols: %w", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, fmt.Errorf("failed to scan symbol: %w", err)
		}
		symbols = append(symbols, sym)
	}
	return symbols, rows.Err()
}

// Coverage returns the first and last bar date for one symbol.
func (s *Storage) Coverage(ctx context.Context, symbol string) (first, last time.Time, err error) {
	query := `SELECT MIN(date), MAX(date) FROM daily_bars WHERE symbol = $1`
	var minDate, maxDate sql.NullTime
	if err = s.db.QueryRowContext(ctx, query, symbol).Scan(&minDate, &maxDate); err != nil {
		return first, last, fmt.Errorf("failed to query coverage: %w", err)
	}
	if !minDate.Valid {
		return first, last, fmt.Errorf("no bars for symbol %s", symbol)
	}
	return market.Day(minDate.Time), market.Day(maxDate.Time), nil
}

// UpsertInstrument saves instrument metadata keyed by symbol.
func (s *Storage) UpsertInstrument(ctx context.Context, inst *market.Instrument) error {
	query := `
		INSERT INTO instruments (symbol, name, board, is_st, lot_size, listed_date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (symbol)
		DO UPDATE SET
			name = EXCLUDED.name,
			board = EXCLUDED.board,
			is_st = EXCLUDED.is_st,
			lot_size = EXCLUDED.lot_size,
			listed_date = EXCLUDED.listed_date,
			updated_at = NOW()
	`

	_, err := s.db.ExecContext(ctx, query,
		inst.Symbol, inst.Name, string(inst.Board), inst.IsST,
		inst.LotSize, inst.ListedDate, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert instrument: %w", err)
	}
	return nil
}

// GetInstrument reads instrument metadata for one symbol.
func (s *Storage) GetInstrument(ctx context.Context, symbol string) (*market.Instrument, error) {
	query := `
		SELECT symbol, name, board, is_st, lot_size, listed_date
		FROM instruments WHERE symbol = $1
	`
	inst := &market.Instrument{}
	var board string
	err := s.db.QueryRowContext(ctx, query, symbol).Scan(
		&inst.Symbol, &inst.Name, &board, &inst.IsST, &inst.LotSize, &inst.ListedDate,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("instrument not found: %s", symbol)
		}
		return nil, fmt.Errorf("failed to get instrument: %w", err)
	}
	inst.Board = market.Board(board)
	return inst, nil
}

// ListInstruments returns all known instruments ordered by symbol.
func (s *Storage) ListInstruments(ctx context.Context) ([]market.Instrument, error) {
	query := `
		SELECT symbol, name, board, is_st, lot_size, listed_date
		FROM instruments ORDER BY symbol
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query instruments: %w", err)
	}
	defer rows.Close()

	var out []market.Instrument
	for rows.Next() {
		var inst market.Instrument
		var board string
		if err := rows.Scan(&inst.Symbol, &inst.Name, &board, &inst.IsST,
			&inst.LotSize, &inst.ListedDate); err != nil {
			return nil, fmt.Errorf("failed to scan instrument: %w", err)
		}
		inst.Board = market.Board(board)
		out = append(out, inst)
	}
	return out, rows.Err()
}
