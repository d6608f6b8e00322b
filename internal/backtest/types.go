package backtest

import (
	"sort"
	"time"
)

// SignalKind distinguishes continuous target-weight signals from discrete action signals
type SignalKind string

const (
	SignalWeight SignalKind = "weight"
	SignalAction SignalKind = "action"
)

// Action represents a discrete trading instruction
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
)

// Signal represents one externally produced trading signal.
// Signals are read-only inputs: the engine validates them but never computes them.
// At most one signal per (symbol, date) is accepted.
type Signal struct {
	Symbol     string     `json:"symbol"`
	Date       time.Time  `json:"date"`
	Kind       SignalKind `json:"kind"`
	Weight     float64    `json:"weight"`     // target weight in [-1, 1], negative = short
	Action     Action     `json:"action"`     // used when Kind == SignalAction
	Confidence float64    `json:"confidence"` // optional, informational only
}

// TradeSide represents the direction of a trade
type TradeSide string

const (
	SideBuy   TradeSide = "buy"
	SideSell  TradeSide = "sell"
	SideShort TradeSide = "short" // 融券卖出
	SideCover TradeSide = "cover" // 买券还券
)

// IsBuySide reports whether the side pays cash (buy or cover).
func (s TradeSide) IsBuySide() bool {
	return s == SideBuy || s == SideCover
}

// IsMarketSell reports whether the side sells shares into the market,
// which is what the one-way transfer levy attaches to.
func (s TradeSide) IsMarketSell() bool {
	return s == SideSell || s == SideShort
}

// RejectionReason identifies which admission rule reduced or rejected a trade
type RejectionReason string

const (
	RejectPriceLimit         RejectionReason = "price_limit"
	RejectSettlementLock     RejectionReason = "settlement_lock"
	RejectInsufficientCash   RejectionReason = "insufficient_cash"
	RejectInsufficientShares RejectionReason = "insufficient_shares"
	RejectShortDisabled      RejectionReason = "short_disabled"
	RejectOppositePosition   RejectionReason = "opposite_position"
)

// Trade represents one immutable trade record. A rejected candidate is still
// recorded, with Shares == 0 and Reason set; rejection is data, not an error.
type Trade struct {
	Symbol          string          `json:"symbol"`
	Date            time.Time       `json:"date"`
	Side            TradeSide       `json:"side"`
	RequestedShares float64         `json:"requested_shares"`
	Shares          float64         `json:"shares"`
	RefPrice        float64         `json:"ref_price"`  // nominal price before slippage
	ExecPrice       float64         `json:"exec_price"` // fill price after slippage
	Notional        float64         `json:"notional"`   // Shares * ExecPrice
	Commission      float64         `json:"commission"`
	Tax             float64         `json:"tax"`
	SlippageCost    float64         `json:"slippage_cost"`
	Reason          RejectionReason `json:"reason,omitempty"`
}

// Rejected reports whether the trade was fully rejected.
func (t *Trade) Rejected() bool {
	return t.Shares == 0 && t.Reason != ""
}

// Reduced reports whether the trade was admitted at a smaller size than requested.
func (t *Trade) Reduced() bool {
	return t.Shares > 0 && t.Shares < t.RequestedShares
}

// TotalCost returns commission plus taxes plus slippage for the trade.
func (t *Trade) TotalCost() float64 {
	return t.Commission + t.Tax + t.SlippageCost
}

// Lot represents shares acquired by a single fill. Lots are what the
// settlement lock operates on: shares bought on day D carry
// LockedUntil = the next trading day and cannot be sold before it.
type Lot struct {
	Shares       float64   `json:"shares"`
	CostPerShare float64   `json:"cost_per_share"`
	OpenDate     time.Time `json:"open_date"`
	LockedUntil  time.Time `json:"locked_until"`
}

// PositionSide represents the direction of an open position
type PositionSide string

const (
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
)

// Position represents one open position. Owned exclusively by the ledger;
// destroyed when shares reach zero.
type Position struct {
	Symbol        string       `json:"symbol"`
	Side          PositionSide `json:"side"`
	Shares        float64      `json:"shares"`
	AvgCost       float64      `json:"avg_cost"`
	OpenDate      time.Time    `json:"open_date"`
	Lots          []Lot        `json:"lots"`
	AccruedBorrow float64      `json:"accrued_borrow"` // 空头融券利息，平仓时结算
}

// DailyValuation is one end-of-day snapshot of the portfolio. The series is
// append-only in trading-calendar order and is what the analyzer consumes.
type DailyValuation struct {
	Date          time.Time `json:"date"`
	Cash          float64   `json:"cash"`
	MarketValue   float64   `json:"market_value"` // signed: long value minus short liability
	AccruedBorrow float64   `json:"accrued_borrow"`
	TotalValue    float64   `json:"total_value"`
	RealizedPnL   float64   `json:"realized_pnl"` // cumulative to date
}

// TradeLog is the ordered sequence of trade records produced by one run.
type TradeLog struct {
	Trades []Trade `json:"trades"`
}

// NewTradeLog creates an empty trade log.
func NewTradeLog() *TradeLog {
	return &TradeLog{Trades: make([]Trade, 0)}
}

// Append adds a trade record to the log.
func (l *TradeLog) Append(t Trade) {
	l.Trades = append(l.Trades, t)
}

// Len returns the number of records, including rejections.
func (l *TradeLog) Len() int {
	return len(l.Trades)
}

// Executed returns the trades that actually moved shares.
func (l *TradeLog) Executed() []Trade {
	out := make([]Trade, 0, len(l.Trades))
	for _, t := range l.Trades {
		if t.Shares > 0 {
			out = append(out, t)
		}
	}
	return out
}

// Rejections returns the fully rejected trade records.
func (l *TradeLog) Rejections() []Trade {
	out := make([]Trade, 0)
	for _, t := range l.Trades {
		if t.Rejected() {
			out = append(out, t)
		}
	}
	return out
}

// BySymbol returns all records for one symbol in log order.
func (l *TradeLog) BySymbol(symbol string) []Trade {
	out := make([]Trade, 0)
	for _, t := range l.Trades {
		if t.Symbol == symbol {
			out = append(out, t)
		}
	}
	return out
}

// Symbols returns the distinct symbols appearing in the log, sorted.
func (l *TradeLog) Symbols() []string {
	seen := make(map[string]struct{})
	for _, t := range l.Trades {
		seen[t.Symbol] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Result represents the complete output of one backtest run.
type Result struct {
	RunID      string             `json:"run_id"`
	Config     *Config            `json:"config"`
	Trades     *TradeLog          `json:"trades"`
	Valuations []DailyValuation   `json:"valuations"`
	Report     *PerformanceReport `json:"report"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
}
