package engine

import (
	"context"
	"time"

	"snipebot/internal/models"

	"github.com/google/uuid"
)

const journalTimeout = 5 * time.Second

// record appends one sell attempt to the journal. Journal failures are
// logged and never change the lifecycle.
func (s *Supervisor) record(ctx context.Context, p models.Position, fill models.Fill, latency time.Duration, cause error) {
	rec := models.TradeRecord{
		ID:             uuid.NewString(),
		PositionID:     p.ID,
		Action:         models.TradeSell,
		Attempt:        p.SellAttempts,
		Mint:           p.Mint,
		Symbol:         p.Symbol,
		Wallet:         p.Wallet,
		State:          p.State,
		Reason:         p.SellReason,
		EntryPrice:     p.EntryPrice,
		Quantity:       p.Quantity,
		CostBasis:      p.CostBasis,
		InputMint:      p.Mint,
		OutputMint:     s.cfg.QuoteMint,
		InAmount:       p.SellQty,
		OutAmount:      fill.OutAmount,
		Price:          fill.Price,
		PriceImpactPct: fill.PriceImpactPct,
		SlippageBps:    s.cfg.SlippageBps,
		Outcome:        models.OutcomeOf(cause),
		TxRef:          fill.TxRef,
		LatencyMs:      latency.Milliseconds(),
		RecordedAt:     s.now(),
	}
	if rec.TxRef == "" {
		rec.TxRef = p.SellTxRef
	}
	if cause != nil {
		rec.Error = cause.Error()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
	defer cancel()
	if err := s.journal.Record(ctx, rec); err != nil {
		s.positionEntry(p).WithError(err).Warn("Не удалось записать попытку продажи в журнал.")
	}
}
