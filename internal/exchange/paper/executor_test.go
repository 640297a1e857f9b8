package paper

import (
	"context"
	"errors"
	"testing"
	"time"

	"snipebot/internal/exchange"
	"snipebot/internal/models"
	"snipebot/internal/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticMarket struct {
	snap models.TokenSnapshot
}

func (m staticMarket) Snapshot(_ context.Context, mint string) (models.TokenSnapshot, retry.Result) {
	s := m.snap
	s.Mint = mint
	return s, retry.Success("static", time.Now())
}

func TestBuyAndSellFills(t *testing.T) {
	e := New(staticMarket{snap: models.TokenSnapshot{Price: 0.5, Liquidity: 1000}}, 1)

	buy, res := e.Submit(context.Background(), models.SwapRequest{Side: models.SwapBuy, InputMint: "usdt", OutputMint: "tok", Amount: 10})
	require.True(t, res.OK())
	assert.InDelta(t, 19.8, buy.OutAmount, 1e-9)
	assert.InDelta(t, 10/19.8, buy.Price, 1e-9)
	assert.NotEmpty(t, buy.TxRef)

	sell, res := e.Submit(context.Background(), models.SwapRequest{Side: models.SwapSell, InputMint: "tok", OutputMint: "usdt", Amount: 20})
	require.True(t, res.OK())
	assert.InDelta(t, 9.9, sell.OutAmount, 1e-9)
	assert.NotEqual(t, buy.TxRef, sell.TxRef)

	status, res := e.Status(context.Background(), sell.TxRef)
	require.True(t, res.OK())
	assert.Equal(t, models.TxConfirmed, status.State)

	status, _ = e.Status(context.Background(), "nope")
	assert.Equal(t, models.TxFailed, status.State)
}

func TestSubmitWithoutLiquidityIsRejected(t *testing.T) {
	e := New(staticMarket{snap: models.TokenSnapshot{Price: 0.5}}, 0)

	_, res := e.Submit(context.Background(), models.SwapRequest{Side: models.SwapSell, InputMint: "tok", Amount: 1})
	assert.Equal(t, retry.OutcomeRejected, res.Outcome)
	assert.True(t, errors.Is(res.Err, exchange.ErrInsufficientLiquidity))
}

var _ exchange.Client = (*Executor)(nil)
