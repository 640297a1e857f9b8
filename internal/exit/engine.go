// Package exit decides whether an open position should be held or sold.
//
// Rules are checked in a fixed order and the first match wins:
// rug risk, stop-loss, take-profit (optionally staged), trailing stop.
// Decide has no hidden state; the high-water mark lives on the position
// and is advanced by the caller through NextHighWater.
package exit

import (
	"fmt"

	"snipebot/internal/models"
)

type Action string

const (
	ActionHold        Action = "HOLD"
	ActionSell        Action = "SELL"
	ActionPartialSell Action = "PARTIAL_SELL"
)

const (
	ReasonRugRisk      = "rug_risk"
	ReasonStopLoss     = "stop_loss"
	ReasonTakeProfit   = "take_profit"
	ReasonTrailingStop = "trailing_stop"
)

// Stage sells Fraction of the remaining quantity once price reaches
// entry * (1 + Ratio).
type Stage struct {
	Ratio    float64
	Fraction float64
}

type Config struct {
	TripFlags          models.RiskFlags
	LiquidityDropRatio float64
	Stages             []Stage
	TrailingActivation float64
}

type Decision struct {
	Action   Action
	Reason   string
	Fraction float64
	Detail   string
}

func (d Decision) IsSell() bool {
	return d.Action == ActionSell || d.Action == ActionPartialSell
}

func (d Decision) String() string {
	switch d.Action {
	case ActionSell:
		return fmt.Sprintf("SELL(%s)", d.Reason)
	case ActionPartialSell:
		return fmt.Sprintf("PARTIAL_SELL(%.2f, %s)", d.Fraction, d.Reason)
	default:
		return string(ActionHold)
	}
}

func Hold(detail string) Decision {
	return Decision{Action: ActionHold, Detail: detail}
}

func Sell(reason, detail string) Decision {
	return Decision{Action: ActionSell, Reason: reason, Fraction: 1, Detail: detail}
}

func PartialSell(fraction float64, reason, detail string) Decision {
	return Decision{Action: ActionPartialSell, Reason: reason, Fraction: fraction, Detail: detail}
}

type Engine struct {
	cfg Config
}

func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

func (e *Engine) Decide(p models.Position, s models.TokenSnapshot) Decision {
	if tripped := s.Risk.Intersect(e.cfg.TripFlags); !tripped.Empty() {
		return Sell(ReasonRugRisk, "flags="+tripped.String())
	}
	if e.liquidityPulled(p, s) {
		return Sell(ReasonRugRisk, fmt.Sprintf("liquidity %.2f -> %.2f", p.EntryLiquidity, s.Liquidity))
	}

	price := s.Price
	if price <= 0 || p.EntryPrice <= 0 {
		return Hold("no price")
	}

	if p.StopLoss > 0 && price <= StopLossPrice(p.EntryPrice, p.StopLoss) {
		return Sell(ReasonStopLoss, fmt.Sprintf("price %.10g <= %.10g", price, StopLossPrice(p.EntryPrice, p.StopLoss)))
	}

	if p.TakeProfitStage < len(e.cfg.Stages) {
		st := e.cfg.Stages[p.TakeProfitStage]
		target := TakeProfitPrice(p.EntryPrice, st.Ratio)
		if price >= target {
			detail := fmt.Sprintf("stage %d price %.10g >= %.10g", p.TakeProfitStage+1, price, target)
			if st.Fraction < 1 {
				return PartialSell(st.Fraction, ReasonTakeProfit, detail)
			}
			return Sell(ReasonTakeProfit, detail)
		}
	} else if p.TakeProfit > 0 && price >= TakeProfitPrice(p.EntryPrice, p.TakeProfit) {
		return Sell(ReasonTakeProfit, fmt.Sprintf("price %.10g >= %.10g", price, TakeProfitPrice(p.EntryPrice, p.TakeProfit)))
	}

	if p.HighWater > 0 && p.TrailingDelta > 0 {
		stop := TrailingStopPrice(p.HighWater, p.TrailingDelta)
		if price <= stop {
			return Sell(ReasonTrailingStop, fmt.Sprintf("price %.10g <= %.10g (hw %.10g)", price, stop, p.HighWater))
		}
	}

	return Hold("")
}

// NextHighWater returns the mark to store after observing price. Tracking
// starts once price clears entry * (1 + TrailingActivation).
func (e *Engine) NextHighWater(p models.Position, price float64) float64 {
	if p.TrailingDelta <= 0 || price <= p.HighWater {
		return p.HighWater
	}
	if price < TakeProfitPrice(p.EntryPrice, e.cfg.TrailingActivation) {
		return p.HighWater
	}
	return price
}

func (e *Engine) liquidityPulled(p models.Position, s models.TokenSnapshot) bool {
	if e.cfg.LiquidityDropRatio <= 0 || p.EntryLiquidity <= 0 {
		return false
	}
	return s.Liquidity <= p.EntryLiquidity*(1-e.cfg.LiquidityDropRatio)
}

func StopLossPrice(entry, ratio float64) float64 {
	return entry * (1 - ratio)
}

func TakeProfitPrice(entry, ratio float64) float64 {
	return entry * (1 + ratio)
}

func TrailingStopPrice(highWater, delta float64) float64 {
	return highWater * (1 - delta)
}
