package backtest

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"aquant/internal/errors"
	"aquant/internal/market"
)

// Engine drives the day-by-day simulation loop. An Engine is built once per
// configuration and is safe for concurrent Run calls: every run owns its own
// ledger and trade log, and the engine fields are read-only after NewEngine.
type Engine struct {
	config   *Config
	cost     *CostModel
	slippage SlippageModel
	rules    *TradingRuleEngine
	analyzer *PerformanceAnalyzer
}

// NewEngine validates the configuration and builds an engine for it.
// A nil config uses the defaults.
func NewEngine(cfg *Config) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	slippage, err := NewSlippageModel(cfg.Slippage)
	if err != nil {
		return nil, err
	}
	cost := NewCostModel(cfg)
	return &Engine{
		config:   cfg,
		cost:     cost,
		slippage: slippage,
		rules:    NewTradingRuleEngine(cfg, cost, slippage),
		analyzer: NewPerformanceAnalyzer(cfg.Annualization),
	}, nil
}

// Config returns the run configuration the engine was built with.
func (e *Engine) Config() *Config {
	return e.config
}

// Run simulates the signals against the price table and returns the complete
// result. All validation happens before the first ledger mutation: a run
// either fails fast with a configuration or data error, or completes. The
// context is honored only before the loop starts; a run in flight is never
// interrupted mid-date, since partial ledger state is not meaningful.
//
// Signals dated outside the run window are ignored. Signals on non-rebalance
// dates are held and applied at the next rebalance date, latest per symbol
// winning.
func (e *Engine) Run(ctx context.Context, signals []Signal, prices *market.PriceTable) (*Result, error) {
	startedAt := time.Now()

	dates, signalIndex, err := e.validate(signals, prices)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ledger := NewPositionLedger(e.config)
	log := NewTradeLog()
	valuations := make([]DailyValuation, 0, len(dates))
	targets := make(map[string]float64)
	pending := make(map[string]Signal)
	cal := prices.Calendar()

	for _, date := range dates {
		// 累积信号，调仓日统一生效
		for sym, s := range signalIndex[date] {
			pending[sym] = s
		}

		if e.isRebalanceDate(cal, date) && len(pending) > 0 {
			applyTargets(targets, pending)
			pending = make(map[string]Signal)

			equity := e.config.InitialCapital
			if len(valuations) > 0 {
				equity = valuations[len(valuations)-1].TotalValue
			}

			orders := e.sizeOrders(ledger, prices, targets, date, equity)
			if err := e.applyOrders(ledger, log, prices, cal, date, orders); err != nil {
				return nil, err
			}
		}

		ledger.AccrueBorrow()

		val, err := ledger.MarkToMarket(date, prices)
		if err != nil {
			return nil, err
		}
		valuations = append(valuations, val)
	}

	report, err := e.analyzer.Analyze(valuations, log)
	if err != nil {
		return nil, err
	}

	return &Result{
		RunID:      uuid.New().String(),
		Config:     e.config,
		Trades:     log,
		Valuations: valuations,
		Report:     report,
		StartedAt:  startedAt,
		FinishedAt: time.Now(),
	}, nil
}

// validate checks the price table and every signal before the loop starts,
// returning the run dates and the in-window signals indexed by date.
func (e *Engine) validate(signals []Signal, prices *market.PriceTable) ([]time.Time, map[time.Time]map[string]Signal, error) {
	if prices == nil || prices.Calendar().Len() == 0 {
		return nil, nil, errors.NewDataValidationError("", "", "prices", "price table is empty")
	}
	if err := prices.Validate(); err != nil {
		return nil, nil, err
	}

	cal := prices.Calendar()
	start, end, err := e.config.Window()
	if err != nil {
		return nil, nil, err
	}
	if start.IsZero() {
		start, _ = cal.First()
	}
	if end.IsZero() {
		end, _ = cal.Last()
	}
	dates := cal.Range(start, end)
	if len(dates) == 0 {
		return nil, nil, errors.NewConfigurationError("start_date", "run window contains no trading dates")
	}

	index := make(map[time.Time]map[string]Signal)
	symbols := make(map[string]struct{})
	seen := make(map[string]struct{})
	for _, s := range signals {
		day := market.Day(s.Date)
		dateStr := market.FormatDate(day)
		if s.Symbol == "" {
			return nil, nil, errors.NewDataValidationError(s.Symbol, dateStr, "symbol", "signal symbol is empty")
		}
		if !prices.HasSymbol(s.Symbol) {
			return nil, nil, errors.NewDataValidationError(s.Symbol, dateStr, "symbol", "signal references unknown symbol")
		}
		if !cal.Contains(day) {
			return nil, nil, errors.NewDataValidationError(s.Symbol, dateStr, "date", "signal date is not a trading date")
		}
		switch s.Kind {
		case SignalWeight:
			if s.Weight < -1 || s.Weight > 1 {
				return nil, nil, errors.NewDataValidationError(s.Symbol, dateStr, "weight", "target weight must be in [-1, 1]")
			}
		case SignalAction:
			switch s.Action {
			case ActionBuy, ActionSell, ActionHold:
			default:
				return nil, nil, errors.NewDataValidationError(s.Symbol, dateStr, "action", fmt.Sprintf("unknown action %q", s.Action))
			}
		default:
			return nil, nil, errors.NewDataValidationError(s.Symbol, dateStr, "kind", fmt.Sprintf("unknown signal kind %q", s.Kind))
		}
		key := s.Symbol + "|" + dateStr
		if _, dup := seen[key]; dup {
			return nil, nil, errors.NewDataValidationError(s.Symbol, dateStr, "signal", "duplicate signal for symbol and date")
		}
		seen[key] = struct{}{}

		if day.Before(dates[0]) || day.After(dates[len(dates)-1]) {
			continue
		}
		if _, ok := index[day]; !ok {
			index[day] = make(map[string]Signal)
		}
		index[day][s.Symbol] = s
		symbols[s.Symbol] = struct{}{}
	}

	if len(symbols) > 0 {
		list := make([]string, 0, len(symbols))
		for sym := range symbols {
			list = append(list, sym)
		}
		sort.Strings(list)
		if err := prices.ValidateCoverage(list, dates[0], dates[len(dates)-1]); err != nil {
			return nil, nil, err
		}
	}
	return dates, index, nil
}

func (e *Engine) isRebalanceDate(cal *market.Calendar, date time.Time) bool {
	switch e.config.Rebalance {
	case RebalanceWeekly:
		return cal.IsFirstOfWeek(date)
	case RebalanceMonthly:
		return cal.IsFirstOfMonth(date)
	default:
		return true
	}
}

// applyTargets folds a batch of signals into the target-weight map.
// Discrete buys in the batch split an equal weight among themselves.
func applyTargets(targets map[string]float64, batch map[string]Signal) {
	buys := 0
	for _, s := range batch {
		if s.Kind == SignalAction && s.Action == ActionBuy {
			buys++
		}
	}
	for sym, s := range batch {
		switch s.Kind {
		case SignalWeight:
			targets[sym] = s.Weight
		case SignalAction:
			switch s.Action {
			case ActionBuy:
				targets[sym] = 1 / float64(buys)
			case ActionSell:
				targets[sym] = 0
			}
			// hold leaves the current target untouched
		}
	}
}

// orderRequest is one candidate trade produced by the sizing step.
type orderRequest struct {
	symbol  string
	side    TradeSide
	shares  float64
	closing bool
}

// sizeOrders converts target weights into candidate trades. Sizing for each
// symbol is independent and runs in parallel; the result is assembled in a
// fixed order, closing legs before opening legs and symbols ascending, so
// cash-constrained admission is reproducible.
func (e *Engine) sizeOrders(ledger *PositionLedger, prices *market.PriceTable, targets map[string]float64, date time.Time, equity float64) []orderRequest {
	symbols := make([]string, 0, len(targets))
	for sym := range targets {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	plans := make([][]orderRequest, len(symbols))
	var wg sync.WaitGroup
	for i, sym := range symbols {
		wg.Add(1)
		go func(i int, sym string) {
			defer wg.Done()
			plans[i] = e.planSymbol(ledger, prices, date, sym, targets[sym], equity)
		}(i, sym)
	}
	wg.Wait()

	orders := make([]orderRequest, 0, len(symbols))
	for _, plan := range plans {
		for _, o := range plan {
			if o.closing {
				orders = append(orders, o)
			}
		}
	}
	for _, plan := range plans {
		for _, o := range plan {
			if !o.closing {
				orders = append(orders, o)
			}
		}
	}
	return orders
}

// planSymbol sizes one symbol's move toward its target weight. Share counts
// come from the previous close only; same-day prices never enter sizing.
func (e *Engine) planSymbol(ledger *PositionLedger, prices *market.PriceTable, date time.Time, sym string, weight, equity float64) []orderRequest {
	bar, ok := prices.Bar(sym, date)
	if !ok {
		// 尚未上市，跳过
		return nil
	}

	target := floorToLot(math.Abs(weight)*equity/bar.PrevClose, e.config.LotSize)
	if weight < 0 {
		target = -target
	}
	return planOrders(sym, ledger.SignedShares(sym), target)
}

// planOrders decomposes the move from current to target signed shares into
// at most two legs, the closing leg first.
func planOrders(sym string, current, target float64) []orderRequest {
	if target == current {
		return nil
	}
	var orders []orderRequest
	if current > 0 && target < current {
		orders = append(orders, orderRequest{
			symbol: sym, side: SideSell, shares: current - math.Max(target, 0), closing: true,
		})
	}
	if current < 0 && target > current {
		orders = append(orders, orderRequest{
			symbol: sym, side: SideCover, shares: math.Min(target, 0) - current, closing: true,
		})
	}
	if target > 0 && target > math.Max(current, 0) {
		orders = append(orders, orderRequest{
			symbol: sym, side: SideBuy, shares: target - math.Max(current, 0),
		})
	}
	if target < 0 && target < math.Min(current, 0) {
		orders = append(orders, orderRequest{
			symbol: sym, side: SideShort, shares: math.Min(current, 0) - target,
		})
	}
	return orders
}

// applyOrders runs each candidate through the rule engine, the slippage
// model and the cost model, records the outcome and applies fills to the
// ledger. Rejections become zero-share records, never errors.
func (e *Engine) applyOrders(ledger *PositionLedger, log *TradeLog, prices *market.PriceTable, cal *market.Calendar, date time.Time, orders []orderRequest) error {
	for _, o := range orders {
		bar, ok := prices.Bar(o.symbol, date)
		if !ok {
			return fmt.Errorf("no bar for %s on %s", o.symbol, market.FormatDate(date))
		}
		ref := bar.Close
		if e.config.ExecPrice == ExecPriceOpen {
			ref = bar.Open
		}

		decision := e.rules.Evaluate(ledger, bar, date, o.side, o.shares, ref)
		trade := Trade{
			Symbol:          o.symbol,
			Date:            date,
			Side:            o.side,
			RequestedShares: o.shares,
			Shares:          decision.Shares,
			RefPrice:        ref,
			Reason:          decision.Reason,
		}
		if decision.Shares > 0 {
			exec := e.slippage.FillPrice(ref, decision.Shares, bar, o.side)
			notional := decision.Shares * exec
			commission, tax, err := e.cost.Compute(notional, o.side)
			if err != nil {
				return fmt.Errorf("failed to compute costs for %s on %s: %w", o.symbol, market.FormatDate(date), err)
			}
			trade.ExecPrice = exec
			trade.Notional = notional
			trade.Commission = commission
			trade.Tax = tax
			trade.SlippageCost = decision.Shares * math.Abs(exec-ref)

			if err := ledger.ApplyTrade(trade, e.lockExpiry(cal, date)); err != nil {
				return fmt.Errorf("failed to apply %s %s: %w", o.side, o.symbol, err)
			}
		}
		log.Append(trade)
	}
	return nil
}

// lockExpiry returns the first date the shares bought today become sellable.
func (e *Engine) lockExpiry(cal *market.Calendar, date time.Time) time.Time {
	if next, ok := cal.Next(date); ok {
		return next
	}
	// 最后一个交易日买入，本次回测内不可卖出
	return date.AddDate(0, 0, 1)
}
