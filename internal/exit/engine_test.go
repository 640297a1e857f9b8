package exit

import (
	"testing"

	"snipebot/internal/models"

	"github.com/stretchr/testify/assert"
)

func position(entry, tp, sl float64) models.Position {
	return models.Position{
		ID:         "p1",
		Mint:       "mint",
		EntryPrice: entry,
		Quantity:   100,
		CostBasis:  entry * 100,
		TakeProfit: tp,
		StopLoss:   sl,
		State:      models.PositionOpen,
	}
}

func snapshot(price float64, flags models.RiskFlags) models.TokenSnapshot {
	return models.TokenSnapshot{Mint: "mint", Price: price, Liquidity: 50_000, Risk: flags}
}

func defaultEngine() *Engine {
	return New(Config{TripFlags: models.RiskMintAuthority.With(models.RiskLiquidityPulled)})
}

func TestDecideTakeProfit(t *testing.T) {
	d := defaultEngine().Decide(position(1.00, 0.5, 0.2), snapshot(1.51, 0))
	assert.Equal(t, ActionSell, d.Action)
	assert.Equal(t, ReasonTakeProfit, d.Reason)
}

func TestDecideStopLoss(t *testing.T) {
	d := defaultEngine().Decide(position(1.00, 0.5, 0.2), snapshot(0.79, 0))
	assert.Equal(t, ActionSell, d.Action)
	assert.Equal(t, ReasonStopLoss, d.Reason)
}

func TestDecideRugRiskBeatsProfit(t *testing.T) {
	e := defaultEngine()
	p := position(1.00, 0.2, 0.2)

	d := e.Decide(p, snapshot(1.30, models.RiskMintAuthority))
	assert.Equal(t, ActionSell, d.Action)
	assert.Equal(t, ReasonRugRisk, d.Reason)

	// Both take-profit and a trip flag: rug risk always wins.
	d = e.Decide(p, snapshot(5.0, models.RiskLiquidityPulled))
	assert.Equal(t, ReasonRugRisk, d.Reason)
}

func TestDecideIgnoresUntrackedFlags(t *testing.T) {
	d := defaultEngine().Decide(position(1.00, 0.5, 0.2), snapshot(1.1, models.RiskMutableMetadata))
	assert.Equal(t, ActionHold, d.Action)
}

func TestDecideLiquidityDrop(t *testing.T) {
	e := New(Config{LiquidityDropRatio: 0.5})
	p := position(1.00, 0.5, 0.5)
	p.EntryLiquidity = 100_000

	s := snapshot(1.2, 0)
	s.Liquidity = 60_000
	assert.Equal(t, ActionHold, e.Decide(p, s).Action)

	s.Liquidity = 50_000
	d := e.Decide(p, s)
	assert.Equal(t, ActionSell, d.Action)
	assert.Equal(t, ReasonRugRisk, d.Reason)
}

func TestDecideStagedTakeProfit(t *testing.T) {
	e := New(Config{Stages: []Stage{{Ratio: 0.2, Fraction: 0.5}, {Ratio: 0.4, Fraction: 0.5}}})
	p := position(1.00, 0.6, 0.3)

	d := e.Decide(p, snapshot(1.25, 0))
	assert.Equal(t, ActionPartialSell, d.Action)
	assert.InDelta(t, 0.5, d.Fraction, 1e-9)
	assert.Equal(t, ReasonTakeProfit, d.Reason)

	p.TakeProfitStage = 1
	assert.Equal(t, ActionHold, e.Decide(p, snapshot(1.25, 0)).Action)
	assert.Equal(t, ActionPartialSell, e.Decide(p, snapshot(1.45, 0)).Action)

	p.TakeProfitStage = 2
	assert.Equal(t, ActionHold, e.Decide(p, snapshot(1.45, 0)).Action)
	d = e.Decide(p, snapshot(1.61, 0))
	assert.Equal(t, ActionSell, d.Action)
	assert.Equal(t, ReasonTakeProfit, d.Reason)
}

func TestDecideTrailingStop(t *testing.T) {
	e := defaultEngine()
	p := position(1.00, 2.0, 0.5)
	p.TrailingDelta = 0.1
	p.HighWater = 1.5

	assert.Equal(t, ActionHold, e.Decide(p, snapshot(1.4, 0)).Action)

	d := e.Decide(p, snapshot(1.3, 0))
	assert.Equal(t, ActionSell, d.Action)
	assert.Equal(t, ReasonTrailingStop, d.Reason)

	p.HighWater = 0
	assert.Equal(t, ActionHold, e.Decide(p, snapshot(1.0, 0)).Action)
}

func TestDecideIsIdempotent(t *testing.T) {
	e := defaultEngine()
	p := position(1.00, 0.5, 0.2)
	s := snapshot(1.51, 0)

	first := e.Decide(p, s)
	second := e.Decide(p, s)
	assert.Equal(t, first, second)
}

func TestDecideHoldsWithoutPrice(t *testing.T) {
	d := defaultEngine().Decide(position(1.00, 0.5, 0.2), snapshot(0, 0))
	assert.Equal(t, ActionHold, d.Action)
}

func TestNextHighWater(t *testing.T) {
	e := New(Config{TrailingActivation: 0.1})
	p := position(1.00, 1.0, 0.5)

	assert.Equal(t, 0.0, e.NextHighWater(p, 1.5), "tracking disabled without delta")

	p.TrailingDelta = 0.1
	assert.Equal(t, 0.0, e.NextHighWater(p, 1.05), "below activation")
	assert.Equal(t, 1.2, e.NextHighWater(p, 1.2))

	p.HighWater = 1.3
	assert.Equal(t, 1.3, e.NextHighWater(p, 1.2))
	assert.Equal(t, 1.4, e.NextHighWater(p, 1.4))
}

func TestDecisionString(t *testing.T) {
	assert.Equal(t, "SELL(stop_loss)", Sell(ReasonStopLoss, "").String())
	assert.Equal(t, "PARTIAL_SELL(0.50, take_profit)", PartialSell(0.5, ReasonTakeProfit, "").String())
	assert.Equal(t, "HOLD", Hold("").String())
}
