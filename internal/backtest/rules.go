package backtest

import (
	"math"
	"time"

	"aquant/internal/market"
)

// RuleDecision is the outcome of evaluating a candidate trade: the
// admissible share count and, when reduced or rejected, the binding rule.
type RuleDecision struct {
	Shares float64
	Reason RejectionReason
}

// TradingRuleEngine gates candidate trades through the A-share admission
// rules in fixed order: side gates, price limit, settlement lock, solvency,
// inventory.
// It holds no per-run state; the ledger it reads belongs to the caller.
type TradingRuleEngine struct {
	limits       market.PriceLimitTable
	shortEnabled bool
	lotSize      int
	cost         *CostModel
	slippage     SlippageModel
}

// NewTradingRuleEngine creates a rule engine for one run configuration.
func NewTradingRuleEngine(cfg *Config, cost *CostModel, slippage SlippageModel) *TradingRuleEngine {
	return &TradingRuleEngine{
		limits:       cfg.Limits,
		shortEnabled: cfg.ShortEnabled,
		lotSize:      cfg.LotSize,
		cost:         cost,
		slippage:     slippage,
	}
}

// Evaluate applies the admission rules to a candidate trade and returns the
// admissible size. A zero-share decision with a reason is a full rejection;
// a reduced size keeps the reason of the first rule that bound. Rejection
// is a normal outcome, recorded by the caller, never an error.
func (e *TradingRuleEngine) Evaluate(ledger *PositionLedger, bar market.PricePoint, date time.Time, side TradeSide, shares, refPrice float64) RuleDecision {
	if shares <= 0 {
		return RuleDecision{}
	}
	if side == SideShort && !e.shortEnabled {
		return RuleDecision{Reason: RejectShortDisabled}
	}

	// 反向持仓未平不得开仓：多空翻转时平仓腿被缩量后，残余仓位挡住开仓腿
	if side == SideBuy && ledger.ShortShares(bar.Symbol) > 0 {
		return RuleDecision{Reason: RejectOppositePosition}
	}
	if side == SideShort && ledger.LongShares(bar.Symbol) > 0 {
		return RuleDecision{Reason: RejectOppositePosition}
	}

	// 涨跌停检查：触板方向禁止成交
	up, down := market.LimitPrices(bar.PrevClose, e.limits.RatioFor(bar.Symbol))
	if side.IsBuySide() && refPrice >= up {
		return RuleDecision{Reason: RejectPriceLimit}
	}
	if side.IsMarketSell() && refPrice <= down {
		return RuleDecision{Reason: RejectPriceLimit}
	}

	decision := RuleDecision{Shares: shares}

	// T+1：卖出只能动用已解锁批次
	if side == SideSell {
		held := ledger.LongShares(bar.Symbol)
		unlocked := ledger.UnlockedShares(bar.Symbol, date)
		if decision.Shares > unlocked && unlocked < held {
			decision.Shares = unlocked
			decision.Reason = RejectSettlementLock
			if decision.Shares <= 0 {
				return RuleDecision{Reason: RejectSettlementLock}
			}
		}
	}

	// 资金检查：买入和买券还券不得透支现金
	if side.IsBuySide() {
		affordable := e.affordableShares(ledger, bar, side, decision.Shares, refPrice)
		if affordable < decision.Shares {
			decision.Shares = affordable
			if decision.Reason == "" {
				decision.Reason = RejectInsufficientCash
			}
			if decision.Shares <= 0 {
				return RuleDecision{Reason: RejectInsufficientCash}
			}
		}
	}

	// 持仓检查：卖出受多头持仓约束，还券受空头持仓约束
	var inventory float64
	switch side {
	case SideSell:
		inventory = ledger.LongShares(bar.Symbol)
	case SideCover:
		inventory = ledger.ShortShares(bar.Symbol)
	default:
		return decision
	}
	if decision.Shares > inventory {
		decision.Shares = inventory
		if decision.Reason == "" {
			decision.Reason = RejectInsufficientShares
		}
		if decision.Shares <= 0 {
			return RuleDecision{Reason: RejectInsufficientShares}
		}
	}
	return decision
}

// affordableShares caps a buy-side trade so that notional plus costs fits
// in cash. The fill price is estimated at the requested size, which bounds
// the per-share cost of any smaller fill for every slippage variant.
func (e *TradingRuleEngine) affordableShares(ledger *PositionLedger, bar market.PricePoint, side TradeSide, shares, refPrice float64) float64 {
	cash := ledger.Cash()
	estExec := e.slippage.FillPrice(refPrice, shares, bar, side)

	// 还券需同时结算按比例的融券利息
	var borrowPerShare float64
	if side == SideCover {
		if p, ok := ledger.Get(bar.Symbol); ok && p.Side == PositionShort && p.Shares > 0 {
			borrowPerShare = p.AccruedBorrow / p.Shares
		}
	}

	total := func(s float64) float64 {
		notional := s * estExec
		commission := notional * e.cost.CommissionRate
		if commission < e.cost.MinCommission {
			commission = e.cost.MinCommission
		}
		return notional + commission + s*borrowPerShare
	}

	if total(shares) <= cash {
		return shares
	}

	denom := estExec*(1+e.cost.CommissionRate) + borrowPerShare
	if denom <= 0 {
		return shares
	}
	fit := floorToLot((cash-e.cost.MinCommission)/denom, e.lotSize)
	for fit > 0 && total(fit) > cash {
		fit -= float64(e.lotSize)
	}
	if fit < 0 {
		return 0
	}
	return fit
}

// floorToLot rounds shares down to a whole number of lots.
func floorToLot(shares float64, lotSize int) float64 {
	if shares <= 0 {
		return 0
	}
	if lotSize <= 1 {
		return math.Floor(shares)
	}
	return math.Floor(shares/float64(lotSize)) * float64(lotSize)
}
