package pipeline

import (
	"context"
	"time"

	"snipebot/internal/models"

	"github.com/google/uuid"
)

const journalTimeout = 5 * time.Second

func (p *Pipeline) recordBuy(ctx context.Context, pos models.Position, req models.SwapRequest, fill models.Fill, snap models.TokenSnapshot, latency time.Duration, cause error) {
	rec := models.TradeRecord{
		ID:             uuid.NewString(),
		PositionID:     pos.ID,
		Action:         models.TradeBuy,
		Attempt:        1,
		Mint:           pos.Mint,
		Symbol:         pos.Symbol,
		Wallet:         pos.Wallet,
		State:          pos.State,
		EntryPrice:     pos.EntryPrice,
		Quantity:       pos.Quantity,
		CostBasis:      pos.CostBasis,
		InputMint:      req.InputMint,
		OutputMint:     req.OutputMint,
		InAmount:       req.Amount,
		OutAmount:      fill.OutAmount,
		Price:          fill.Price,
		PriceImpactPct: fill.PriceImpactPct,
		SlippageBps:    req.SlippageBps,
		Liquidity:      snap.Liquidity,
		Outcome:        models.OutcomeOf(cause),
		TxRef:          fill.TxRef,
		LatencyMs:      latency.Milliseconds(),
		RecordedAt:     p.now(),
	}
	if cause != nil {
		rec.Error = cause.Error()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
	defer cancel()
	if err := p.journal.Record(ctx, rec); err != nil {
		p.logEntry().WithField("mint", pos.Mint).WithError(err).Warn("Не удалось записать покупку в журнал.")
	}
}
