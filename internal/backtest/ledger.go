package backtest

import (
	"fmt"
	"sort"
	"time"

	"aquant/internal/errors"
	"aquant/internal/market"
)

const shareEpsilon = 1e-9

// PositionLedger tracks cash, open positions and realized P&L for one run.
// It is owned exclusively by that run: no locking, no cross-run sharing.
// All mutation goes through ApplyTrade and AccrueBorrow; MarkToMarket is a
// pure read.
type PositionLedger struct {
	cash           float64
	positions      map[string]*Position
	realized       float64
	costBasis      CostBasisMethod
	borrowRate     float64
	borrowDayCount int
	borrowPaid     float64 // settled borrow cost, cumulative
}

// NewPositionLedger creates a ledger holding the initial capital in cash.
func NewPositionLedger(cfg *Config) *PositionLedger {
	return &PositionLedger{
		cash:           cfg.InitialCapital,
		positions:      make(map[string]*Position),
		costBasis:      cfg.CostBasis,
		borrowRate:     cfg.AnnualBorrowRate,
		borrowDayCount: cfg.BorrowDayCount,
	}
}

// Cash returns the current cash balance.
func (l *PositionLedger) Cash() float64 {
	return l.cash
}

// RealizedPnL returns cumulative realized profit net of all costs paid.
func (l *PositionLedger) RealizedPnL() float64 {
	return l.realized
}

// BorrowPaid returns the borrow cost settled on covers so far.
func (l *PositionLedger) BorrowPaid() float64 {
	return l.borrowPaid
}

// Get returns the open position for a symbol, if any.
func (l *PositionLedger) Get(symbol string) (*Position, bool) {
	p, ok := l.positions[symbol]
	return p, ok
}

// Positions returns the open positions sorted by symbol.
func (l *PositionLedger) Positions() []*Position {
	out := make([]*Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// LongShares returns the shares held long in a symbol.
func (l *PositionLedger) LongShares(symbol string) float64 {
	if p, ok := l.positions[symbol]; ok && p.Side == PositionLong {
		return p.Shares
	}
	return 0
}

// ShortShares returns the shares held short in a symbol.
func (l *PositionLedger) ShortShares(symbol string) float64 {
	if p, ok := l.positions[symbol]; ok && p.Side == PositionShort {
		return p.Shares
	}
	return 0
}

// SignedShares returns long shares minus short shares for a symbol.
func (l *PositionLedger) SignedShares(symbol string) float64 {
	p, ok := l.positions[symbol]
	if !ok {
		return 0
	}
	if p.Side == PositionShort {
		return -p.Shares
	}
	return p.Shares
}

// UnlockedShares returns the long shares sellable on the given date, i.e.
// the lots whose settlement lock has expired.
func (l *PositionLedger) UnlockedShares(symbol string, date time.Time) float64 {
	p, ok := l.positions[symbol]
	if !ok || p.Side != PositionLong {
		return 0
	}
	var unlocked float64
	for _, lot := range p.Lots {
		if !lot.LockedUntil.After(date) {
			unlocked += lot.Shares
		}
	}
	return unlocked
}

// AccruedBorrow returns the unsettled borrow cost across all short positions.
func (l *PositionLedger) AccruedBorrow() float64 {
	var total float64
	for _, p := range l.positions {
		if p.Side == PositionShort {
			total += p.AccruedBorrow
		}
	}
	return total
}

// ApplyTrade applies one admitted trade to cash and positions. lockedUntil
// is the settlement-lock expiry for buy fills and is ignored otherwise.
// Zero-share records are no-ops. Cash moves by exactly the trade notional
// plus or minus its costs; slippage is already inside the exec price.
func (l *PositionLedger) ApplyTrade(t Trade, lockedUntil time.Time) error {
	if t.Shares <= 0 {
		return nil
	}

	switch t.Side {
	case SideBuy:
		return l.applyBuy(t, lockedUntil)
	case SideSell:
		return l.applySell(t)
	case SideShort:
		return l.applyShort(t)
	case SideCover:
		return l.applyCover(t)
	default:
		return fmt.Errorf("unknown trade side %q", t.Side)
	}
}

func (l *PositionLedger) applyBuy(t Trade, lockedUntil time.Time) error {
	p, ok := l.positions[t.Symbol]
	if ok && p.Side != PositionLong {
		return fmt.Errorf("buy into open short position %s", t.Symbol)
	}
	if !ok {
		p = &Position{Symbol: t.Symbol, Side: PositionLong, OpenDate: t.Date}
		l.positions[t.Symbol] = p
	}

	// 加权平均成本
	p.AvgCost = (p.AvgCost*p.Shares + t.ExecPrice*t.Shares) / (p.Shares + t.Shares)
	p.Shares += t.Shares
	p.Lots = append(p.Lots, Lot{
		Shares:       t.Shares,
		CostPerShare: t.ExecPrice,
		OpenDate:     t.Date,
		LockedUntil:  lockedUntil,
	})

	l.cash -= t.Notional + t.Commission + t.Tax
	l.realized -= t.Commission + t.Tax
	return nil
}

func (l *PositionLedger) applySell(t Trade) error {
	p, ok := l.positions[t.Symbol]
	if !ok || p.Side != PositionLong {
		return fmt.Errorf("sell without long position %s", t.Symbol)
	}
	if t.Shares > p.Shares+shareEpsilon {
		return fmt.Errorf("sell %.0f exceeds held %.0f in %s", t.Shares, p.Shares, t.Symbol)
	}

	// 按先进先出顺序消耗批次
	remaining := t.Shares
	var costOfSold float64
	for remaining > shareEpsilon && len(p.Lots) > 0 {
		lot := &p.Lots[0]
		if lot.LockedUntil.After(t.Date) {
			return fmt.Errorf("sell consumes locked lot in %s on %s", t.Symbol, market.FormatDate(t.Date))
		}
		consumed := lot.Shares
		if consumed > remaining {
			consumed = remaining
		}
		costOfSold += consumed * lot.CostPerShare
		lot.Shares -= consumed
		remaining -= consumed
		if lot.Shares <= shareEpsilon {
			p.Lots = p.Lots[1:]
		}
	}
	if remaining > shareEpsilon {
		return fmt.Errorf("lot shares do not cover sell of %.0f in %s", t.Shares, t.Symbol)
	}

	if l.costBasis == CostBasisAverage {
		costOfSold = t.Shares * p.AvgCost
	}

	l.realized += t.Notional - costOfSold - t.Commission - t.Tax
	l.cash += t.Notional - t.Commission - t.Tax

	p.Shares -= t.Shares
	if p.Shares <= shareEpsilon {
		delete(l.positions, t.Symbol)
		return nil
	}
	if l.costBasis == CostBasisFIFO {
		// 剩余批次重新计算平均成本
		var cost float64
		for _, lot := range p.Lots {
			cost += lot.Shares * lot.CostPerShare
		}
		p.AvgCost = cost / p.Shares
	}
	return nil
}

func (l *PositionLedger) applyShort(t Trade) error {
	p, ok := l.positions[t.Symbol]
	if ok && p.Side != PositionShort {
		return fmt.Errorf("short into open long position %s", t.Symbol)
	}
	if !ok {
		p = &Position{Symbol: t.Symbol, Side: PositionShort, OpenDate: t.Date}
		l.positions[t.Symbol] = p
	}

	p.AvgCost = (p.AvgCost*p.Shares + t.ExecPrice*t.Shares) / (p.Shares + t.Shares)
	p.Shares += t.Shares

	l.cash += t.Notional - t.Commission - t.Tax
	l.realized -= t.Commission + t.Tax
	return nil
}

func (l *PositionLedger) applyCover(t Trade) error {
	p, ok := l.positions[t.Symbol]
	if !ok || p.Side != PositionShort {
		return fmt.Errorf("cover without short position %s", t.Symbol)
	}
	if t.Shares > p.Shares+shareEpsilon {
		return fmt.Errorf("cover %.0f exceeds short %.0f in %s", t.Shares, p.Shares, t.Symbol)
	}

	// 按平仓比例结算应计融券利息
	borrowDue := p.AccruedBorrow * (t.Shares / p.Shares)
	p.AccruedBorrow -= borrowDue
	l.borrowPaid += borrowDue

	l.realized += t.Shares*p.AvgCost - t.Notional - t.Commission - t.Tax - borrowDue
	l.cash -= t.Notional + t.Commission + t.Tax + borrowDue

	p.Shares -= t.Shares
	if p.Shares <= shareEpsilon {
		delete(l.positions, t.Symbol)
	}
	return nil
}

// AccrueBorrow adds one day of borrow cost to every open short position.
// The cost accrues on the position's open notional and is settled on cover.
func (l *PositionLedger) AccrueBorrow() {
	for _, p := range l.positions {
		if p.Side != PositionShort {
			continue
		}
		p.AccruedBorrow += p.AvgCost * p.Shares * l.borrowRate / float64(l.borrowDayCount)
	}
}

// MarkToMarket values all open positions at the date's close and returns
// the snapshot. It never mutates the ledger. A position whose symbol has
// no bar on the date is a data error.
func (l *PositionLedger) MarkToMarket(date time.Time, prices *market.PriceTable) (DailyValuation, error) {
	var longValue, shortLiability, accrued float64
	for _, p := range l.positions {
		bar, ok := prices.Bar(p.Symbol, date)
		if !ok {
			return DailyValuation{}, errors.NewDataValidationError(
				p.Symbol, market.FormatDate(date), "close", "missing price for open position")
		}
		if p.Side == PositionShort {
			shortLiability += p.Shares * bar.Close
			accrued += p.AccruedBorrow
		} else {
			longValue += p.Shares * bar.Close
		}
	}

	marketValue := longValue - shortLiability
	return DailyValuation{
		Date:          date,
		Cash:          l.cash,
		MarketValue:   marketValue,
		AccruedBorrow: accrued,
		TotalValue:    l.cash + marketValue - accrued,
		RealizedPnL:   l.realized,
	}, nil
}
