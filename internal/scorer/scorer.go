package scorer

import (
	"fmt"

	"snipebot/internal/models"
)

// Scorer maps a snapshot to an accept/reject verdict. Implementations must
// be pure.
type Scorer interface {
	Score(s models.TokenSnapshot) models.ScoredCandidate
}

type Config struct {
	MinScore     float64
	MinLiquidity float64
	RejectFlags  models.RiskFlags
}

type Heuristic struct {
	cfg Config
}

func NewHeuristic(cfg Config) *Heuristic {
	return &Heuristic{cfg: cfg}
}

type band struct {
	threshold float64
	points    float64
}

var (
	lpMcBands = []band{{0.25, 26}, {0.18, 22}, {0.12, 18}, {0.08, 12}, {0.05, 8}}
	// upper bounds in minutes
	ageBands      = []band{{20, 12}, {60, 9}, {180, 6}, {720, 3}}
	holderBands   = []band{{10000, 12}, {5000, 9}, {2000, 6}, {600, 4}, {200, 2}}
	topHolderBand = []band{{20, 10}, {30, 6}, {40, 3}}
	momentumBands = []band{{50, 8}, {20, 6}, {10, 4}, {0, 2}}
)

func atLeast(value float64, bands []band) float64 {
	for _, b := range bands {
		if value >= b.threshold {
			return b.points
		}
	}
	return 0
}

func atMost(value float64, bands []band) float64 {
	for _, b := range bands {
		if value <= b.threshold {
			return b.points
		}
	}
	return 0
}

func (h *Heuristic) Score(s models.TokenSnapshot) models.ScoredCandidate {
	var factors []models.Factor
	add := func(name string, value, points float64) {
		factors = append(factors, models.Factor{Name: name, Value: value, Points: points})
	}

	lpMc := 0.0
	if s.MarketCap > 0 {
		lpMc = s.Liquidity / s.MarketCap
	}
	add("lp_mc_ratio", lpMc, atLeast(lpMc, lpMcBands))

	if s.Age > 0 {
		minutes := s.Age.Minutes()
		add("age_minutes", minutes, atMost(minutes, ageBands))
	}

	add("holders", float64(s.Holders), atLeast(float64(s.Holders), holderBands))

	if s.TopHoldersPct > 0 {
		add("top_holders_pct", s.TopHoldersPct, atMost(s.TopHoldersPct, topHolderBand))
	}

	if s.PriceChange1h > 0 {
		add("price_change_1h", s.PriceChange1h, atLeast(s.PriceChange1h, momentumBands))
	}

	total := 0.0
	for _, f := range factors {
		total += f.Points
	}
	if total > 100 {
		total = 100
	}

	out := models.ScoredCandidate{Mint: s.Mint, Score: total, Factors: factors}

	switch tripped := s.Risk.Intersect(h.cfg.RejectFlags); {
	case !tripped.Empty():
		out.Verdict = "risk flags: " + tripped.String()
	case s.Liquidity < h.cfg.MinLiquidity:
		out.Verdict = fmt.Sprintf("liquidity %.0f < %.0f", s.Liquidity, h.cfg.MinLiquidity)
	case total < h.cfg.MinScore:
		out.Verdict = fmt.Sprintf("score %.0f < %.0f (%s)", total, h.cfg.MinScore, Label(total))
	default:
		out.Accepted = true
		out.Verdict = Label(total)
	}
	return out
}

func Label(score float64) string {
	switch {
	case score >= 75:
		return "A+"
	case score >= 60:
		return "A"
	case score >= 45:
		return "B"
	case score >= 30:
		return "C"
	default:
		return "D"
	}
}
