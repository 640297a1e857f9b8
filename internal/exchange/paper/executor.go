// Package paper simulates swaps against live market prices for dry runs.
package paper

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"snipebot/internal/apperr"
	"snipebot/internal/exchange"
	"snipebot/internal/market"
	"snipebot/internal/models"
	"snipebot/internal/retry"

	"github.com/mr-tron/base58"
)

type Executor struct {
	market      market.Client
	slippagePct float64

	mu  sync.Mutex
	txs map[string]models.TxStatus
}

func New(m market.Client, slippagePct float64) *Executor {
	return &Executor{
		market:      m,
		slippagePct: slippagePct,
		txs:         make(map[string]models.TxStatus),
	}
}

func (e *Executor) Submit(ctx context.Context, req models.SwapRequest) (models.Fill, retry.Result) {
	started := time.Now()

	tokenMint := req.OutputMint
	if req.Side == models.SwapSell {
		tokenMint = req.InputMint
	}

	snap, res := e.market.Snapshot(ctx, tokenMint)
	if !res.OK() {
		res.Op = "paper.submit"
		return models.Fill{}, res
	}
	if snap.Price <= 0 || snap.Liquidity <= 0 {
		return models.Fill{}, retry.Failure("paper.submit", started,
			apperr.Wrap(exchange.ErrInsufficientLiquidity, "paper", fmt.Errorf("price=%v liquidity=%v", snap.Price, snap.Liquidity)))
	}
	if req.Amount <= 0 {
		return models.Fill{}, retry.Failure("paper.submit", started,
			apperr.Wrap(exchange.ErrRejected, "paper", fmt.Errorf("amount=%v", req.Amount)))
	}

	haircut := 1 - e.slippagePct/100
	fill := models.Fill{
		InAmount:    req.Amount,
		SubmittedAt: time.Now(),
	}
	if req.Side == models.SwapBuy {
		fill.OutAmount = req.Amount / snap.Price * haircut
		fill.Price = fill.InAmount / fill.OutAmount
	} else {
		fill.OutAmount = req.Amount * snap.Price * haircut
		fill.Price = fill.OutAmount / fill.InAmount
	}

	ref, err := newTxRef()
	if err != nil {
		return models.Fill{}, retry.Failure("paper.submit", started, err)
	}
	fill.TxRef = ref

	e.mu.Lock()
	e.txs[ref] = models.TxStatus{State: models.TxConfirmed}
	e.mu.Unlock()

	return fill, retry.Success("paper.submit", started)
}

func (e *Executor) Status(_ context.Context, txRef string) (models.TxStatus, retry.Result) {
	started := time.Now()

	e.mu.Lock()
	status, ok := e.txs[txRef]
	e.mu.Unlock()

	if !ok {
		return models.TxStatus{State: models.TxFailed, Err: "unknown transaction"}, retry.Success("paper.status", started)
	}
	return status, retry.Success("paper.status", started)
}

func newTxRef() (string, error) {
	buf := make([]byte, 64)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("Не удалось сгенерировать идентификатор транзакции: %w", err)
	}
	return base58.Encode(buf), nil
}
