package scorer

import (
	"testing"
	"time"

	"snipebot/internal/models"

	"github.com/stretchr/testify/assert"
)

func strongSnapshot() models.TokenSnapshot {
	return models.TokenSnapshot{
		Mint:          "mint",
		Price:         0.001,
		Liquidity:     300_000,
		MarketCap:     1_000_000,
		Holders:       6_000,
		TopHoldersPct: 18,
		PriceChange1h: 25,
		Age:           15 * time.Minute,
	}
}

func TestScoreBreakdown(t *testing.T) {
	h := NewHeuristic(Config{MinScore: 55, MinLiquidity: 100_000})
	c := h.Score(strongSnapshot())

	// 26 (lp/mc .30) + 12 (age) + 9 (holders) + 10 (top) + 6 (momentum)
	assert.Equal(t, 63.0, c.Score)
	assert.True(t, c.Accepted)
	assert.Equal(t, "A", c.Verdict)

	byName := map[string]float64{}
	for _, f := range c.Factors {
		byName[f.Name] = f.Points
	}
	assert.Equal(t, 26.0, byName["lp_mc_ratio"])
	assert.Equal(t, 12.0, byName["age_minutes"])
	assert.Equal(t, 9.0, byName["holders"])
	assert.Equal(t, 10.0, byName["top_holders_pct"])
	assert.Equal(t, 6.0, byName["price_change_1h"])
}

func TestScoreRejectsRiskFlags(t *testing.T) {
	h := NewHeuristic(Config{MinScore: 10, RejectFlags: models.RiskMintAuthority})
	s := strongSnapshot()
	s.Risk = models.RiskMintAuthority

	c := h.Score(s)
	assert.False(t, c.Accepted)
	assert.Contains(t, c.Verdict, "mint_authority_active")
}

func TestScoreRejectsThinLiquidity(t *testing.T) {
	h := NewHeuristic(Config{MinScore: 10, MinLiquidity: 500_000})
	c := h.Score(strongSnapshot())
	assert.False(t, c.Accepted)
	assert.Contains(t, c.Verdict, "liquidity")
}

func TestScoreRejectsLowScore(t *testing.T) {
	h := NewHeuristic(Config{MinScore: 55})
	c := h.Score(models.TokenSnapshot{Mint: "mint", Liquidity: 1000, MarketCap: 1_000_000, Holders: 250})
	assert.False(t, c.Accepted)
	assert.Equal(t, 2.0, c.Score)
	assert.Contains(t, c.Verdict, "D")
}

func TestScoreIsPure(t *testing.T) {
	h := NewHeuristic(Config{MinScore: 55})
	s := strongSnapshot()
	assert.Equal(t, h.Score(s), h.Score(s))
}

func TestLabel(t *testing.T) {
	cases := map[float64]string{80: "A+", 75: "A+", 60: "A", 50: "B", 30: "C", 10: "D"}
	for score, want := range cases {
		assert.Equal(t, want, Label(score), score)
	}
}

var _ Scorer = (*Heuristic)(nil)
