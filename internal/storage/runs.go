package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"aquant/internal/backtest"
)

// RunStatus 回测运行状态
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// RunRecord is the persisted view of one backtest run. Config and report
// are stored as JSONB so the schema survives engine config evolution.
type RunRecord struct {
	ID         string                      `json:"id"`
	Strategy   string                      `json:"strategy"`
	Params     map[string]float64          `json:"params,omitempty"`
	Status     RunStatus                   `json:"status"`
	Config     *backtest.Config            `json:"config,omitempty"`
	Report     *backtest.PerformanceReport `json:"report,omitempty"`
	Error      string                      `json:"error,omitempty"`
	CreatedAt  time.Time                   `json:"created_at"`
	StartedAt  *time.Time                  `json:"started_at,omitempty"`
	FinishedAt *time.Time                  `json:"finished_at,omitempty"`
}

// RunStore persists backtest runs, their trade logs, and their valuations.
type RunStore struct {
	db *sql.DB
}

// NewRunStore creates a run store over an open connection pool.
func NewRunStore(db *sql.DB) *RunStore {
	return &RunStore{db: db}
}

// CreateRun inserts a pending run row before the engine starts.
func (s *RunStore) CreateRun(ctx context.Context, rec *RunRecord) error {
	configJSON, err := json.Marshal(rec.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal run config: %w", err)
	}
	paramsJSON, err := json.Marshal(rec.Params)
	if err != nil {
		return fmt.Errorf("failed to marshal run params: %w", err)
	}

	query := `
		INSERT INTO backtest_runs (id, strategy, params, status, config, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = s.db.ExecContext(ctx, query,
		rec.ID, rec.Strategy, paramsJSON, string(rec.Status), configJSON, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// MarkRunning flips a run to running and stamps its start time.
func (s *RunStore) MarkRunning(ctx context.Context, runID string) error {
	query := `UPDATE backtest_runs SET status = $1, started_at = NOW() WHERE id = $2`
	if _, err := s.db.ExecContext(ctx, query, string(RunRunning), runID); err != nil {
		return fmt.Errorf("failed to mark run running: %w", err)
	}
	return nil
}

// MarkFailed records a run failure.
func (s *RunStore) MarkFailed(ctx context.Context, runID string, runErr error) error {
	query := `UPDATE backtest_runs SET status = $1, error = $2, finished_at = NOW() WHERE id = $3`
	if _, err := s.db.ExecContext(ctx, query, string(RunFailed), runErr.Error(), runID); err != nil {
		return fmt.Errorf("failed to mark run failed: %w", err)
	}
	return nil
}

// SaveResult persists a completed run: report on the run row, trades and
// valuations in their own tables, all inside one transaction.
func (s *RunStore) SaveResult(ctx context.Context, result *backtest.Result) error {
	reportJSON, err := json.Marshal(result.Report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		UPDATE backtest_runs
		SET status = $1, report = $2, started_at = $3, finished_at = $4
		WHERE id = $5
	`
	if _, err := tx.ExecContext(ctx, query,
		string(RunCompleted), reportJSON, result.StartedAt, result.FinishedAt, result.RunID,
	); err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	tradeStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO backtest_trades
			(run_id, seq, symbol, date, side, requested_shares, shares,
			 ref_price, exec_price, notional, commission, tax, slippage_cost, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare trade insert: %w", err)
	}
	defer tradeStmt.Close()

	for i, t := range result.Trades.Trades {
		if _, err := tradeStmt.ExecContext(ctx,
			result.RunID, i, t.Symbol, t.Date, string(t.Side), t.RequestedShares,
			t.Shares, t.RefPrice, t.ExecPrice, t.Notional, t.Commission, t.Tax,
			t.SlippageCost, string(t.Reason),
		); err != nil {
			return fmt.Errorf("failed to insert trade %d: %w", i, err)
		}
	}

	valStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO backtest_valuations
			(run_id, date, cash, market_value, accrued_borrow, total_value, realized_pnl)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare valuation insert: %w", err)
	}
	defer valStmt.Close()

	for _, v := range result.Valuations {
		if _, err := valStmt.ExecContext(ctx,
			result.RunID, v.Date, v.Cash, v.MarketValue, v.AccruedBorrow,
			v.TotalValue, v.RealizedPnL,
		); err != nil {
			return fmt.Errorf("failed to insert valuation %s: %w",
				v.Date.Format("2006-01-02"), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run result: %w", err)
	}
	return nil
}

// GetRun reads one run row.
func (s *RunStore) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	query := `
		SELECT id, strategy, params, status, config, report, error,
		       created_at, started_at, finished_at
		FROM backtest_runs WHERE id = $1
	`
	rec := &RunRecord{}
	var paramsJSON, configJSON, reportJSON []byte
	var errMsg sql.NullString
	var status string

	err := s.db.QueryRowContext(ctx, query, runID).Scan(
		&rec.ID, &rec.Strategy, &paramsJSON, &status, &configJSON, &reportJSON,
		&errMsg, &rec.CreatedAt, &rec.StartedAt, &rec.FinishedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("run not found: %s", runID)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	rec.Status = RunStatus(status)
	rec.Error = errMsg.String
	if len(paramsJSON) > 0 {
		if err := json.Unmarshal(paramsJSON, &rec.Params); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run params: %w", err)
		}
	}
	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &rec.Config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run config: %w", err)
		}
	}
	if len(reportJSON) > 0 {
		if err := json.Unmarshal(reportJSON, &rec.Report); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run report: %w", err)
		}
	}
	return rec, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, strategy, status, error, created_at, started_at, finished_at
		FROM backtest_runs ORDER BY created_at DESC LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var rec RunRecord
		var status string
		var errMsg sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Strategy, &status, &errMsg,
			&rec.CreatedAt, &rec.StartedAt, &rec.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		rec.Status = RunStatus(status)
		rec.Error = errMsg.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetTrades reads a run's trade log in execution order.
func (s *RunStore) GetTrades(ctx context.Context, runID string) ([]backtest.Trade, error) {
	query := `
		SELECT symbol, date, side, requested_shares, shares, ref_price,
		       exec_price, notional, commission, tax, slippage_cost, reason
		FROM backtest_trades WHERE run_id = $1 ORDER BY seq
	`
	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var out []backtest.Trade
	for rows.Next() {
		var t backtest.Trade
		var side, reason string
		if err := rows.Scan(&t.Symbol, &t.Date, &side, &t.RequestedShares,
			&t.Shares, &t.RefPrice, &t.ExecPrice, &t.Notional,
			&t.Commission, &t.Tax, &t.SlippageCost, &reason); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		t.Side = backtest.TradeSide(side)
		t.Reason = backtest.RejectionReason(reason)
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetValuations reads a run's daily valuation series in calendar order.
func (s *RunStore) GetValuations(ctx context.Context, runID string) ([]backtest.DailyValuation, error) {
	query := `
		SELECT date, cash, market_value, accrued_borrow, total_value, realized_pnl
		FROM backtest_valuations WHERE run_id = $1 ORDER BY date
	`
	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query valuations: %w", err)
	}
	defer rows.Close()

	var out []backtest.DailyValuation
	for rows.Next() {
		var v backtest.DailyValuation
		if err := rows.Scan(&v.Date, &v.Cash, &v.MarketValue, &v.AccruedBorrow,
			&v.TotalValue, &v.RealizedPnL); err != nil {
			return nil, fmt.Errorf("failed to scan valuation: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// DeleteRun removes a run and its dependent rows.
func (s *RunStore) DeleteRun(ctx context.Context, runID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM backtest_valuations WHERE run_id = $1`,
		`DELETE FROM backtest_trades WHERE run_id = $1`,
		`DELETE FROM backtest_runs WHERE id = $1`,
	} {
		if _, err := tx.ExecContext(ctx, q, runID); err != nil {
			return fmt.Errorf("failed to delete run: %w", err)
		}
	}
	return tx.Commit()
}
