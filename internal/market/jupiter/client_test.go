package jupiter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"snipebot/internal/logger"
	"snipebot/internal/market"
	"snipebot/internal/models"
	"snipebot/internal/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMint = "7GCihgDB8fe6KNjn2MYtkzZcRjQy3t9GHdC8uHYmW2hr"

func newTestClient(url string) *Client {
	return New(Config{
		TokenAPIURL:    url + "/v1",
		RugCheckURL:    url + "/rug",
		RPS:            1000,
		Burst:          10,
		MaxRugScore:    1,
		MinLPLockedPct: 50,
		Retry: retry.Policy{
			Attempts:    3,
			BaseDelay:   time.Millisecond,
			MaxDelay:    2 * time.Millisecond,
			CallTimeout: time.Second,
		},
	}, logger.Discard())
}

func TestSnapshotMergesAssetAndRugReport(t *testing.T) {
	created := time.Now().Add(-30 * time.Minute).UTC().Format(time.RFC3339)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/assets/search":
			assert.Equal(t, testMint, r.URL.Query().Get("query"))
			fmt.Fprintf(w, `[{"id":"other"},{"id":%q,"symbol":"DOG","name":"Dog","decimals":6,
				"usdPrice":0.0021,"liquidity":150000,"mcap":900000,"holderCount":2500,
				"createdAt":%q,
				"audit":{"mintAuthorityDisabled":false,"freezeAuthorityDisabled":true,"topHoldersPercentage":22.5},
				"stats1h":{"priceChange":12.5}}]`, testMint, created)
		case "/rug/tokens/" + testMint + "/report":
			fmt.Fprint(w, `{"score":1,"tokenMeta":{"mutable":false},"markets":[{"lp":{"lpLockedPct":10}}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	snap, res := newTestClient(srv.URL).Snapshot(context.Background(), testMint)
	require.True(t, res.OK(), res.Err)

	assert.Equal(t, "DOG", snap.Symbol)
	assert.Equal(t, 6, snap.Decimals)
	assert.InDelta(t, 0.0021, snap.Price, 1e-12)
	assert.InDelta(t, 150000, snap.Liquidity, 1e-9)
	assert.Equal(t, 2500, snap.Holders)
	assert.InDelta(t, 22.5, snap.TopHoldersPct, 1e-9)
	assert.InDelta(t, 12.5, snap.PriceChange1h, 1e-9)
	assert.InDelta(t, 30, snap.Age.Minutes(), 1)
	assert.Equal(t, 1, snap.RugScore)

	assert.True(t, snap.Risk.Has(models.RiskMintAuthority))
	assert.False(t, snap.Risk.Has(models.RiskFreezeAuthority))
	assert.True(t, snap.Risk.Has(models.RiskLPUnlocked))
	assert.False(t, snap.Risk.Has(models.RiskMutableMetadata))
	assert.False(t, snap.Risk.Has(models.RiskHighRugScore))
}

func TestSnapshotNotFoundIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	_, res := newTestClient(srv.URL).Snapshot(context.Background(), testMint)
	assert.Equal(t, retry.OutcomeRejected, res.Outcome)
	assert.True(t, errors.Is(res.Err, market.ErrNotFound))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestSnapshotRetriesRateLimit(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/assets/search" {
			http.NotFound(w, r)
			return
		}
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprintf(w, `[{"id":%q,"usdPrice":1,"liquidity":10}]`, testMint)
	}))
	defer srv.Close()

	snap, res := newTestClient(srv.URL).Snapshot(context.Background(), testMint)
	require.True(t, res.OK(), res.Err)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 1.0, snap.Price)
}

func TestSnapshotServerErrorExhaustsAsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, res := newTestClient(srv.URL).Snapshot(context.Background(), testMint)
	assert.Equal(t, retry.OutcomeTransient, res.Outcome)
	assert.Equal(t, 3, res.Attempts)
	assert.True(t, errors.Is(res.Err, market.ErrUnavailable))
}

func TestSnapshotTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	c.cfg.Retry.Attempts = 1
	c.cfg.Retry.CallTimeout = 20 * time.Millisecond

	_, res := c.Snapshot(context.Background(), testMint)
	assert.Equal(t, retry.OutcomeTransient, res.Outcome)
	assert.True(t, errors.Is(res.Err, market.ErrTimeout))
}

func TestSnapshotZeroLiquidityFlagsPull(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/assets/search" {
			fmt.Fprintf(w, `[{"id":%q,"usdPrice":0.5,"liquidity":0}]`, testMint)
			return
		}
		fmt.Fprint(w, `{"score":500,"rugged":true}`)
	}))
	defer srv.Close()

	snap, res := newTestClient(srv.URL).Snapshot(context.Background(), testMint)
	require.True(t, res.OK(), res.Err)
	assert.True(t, snap.Risk.Has(models.RiskLiquidityPulled))
	assert.True(t, snap.Risk.Has(models.RiskHighRugScore))
	assert.True(t, snap.Risk.Has(models.RiskMutableMetadata), "missing tokenMeta counts as mutable")
}

var _ market.Client = (*Client)(nil)
