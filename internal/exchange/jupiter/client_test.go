package jupiter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"snipebot/internal/exchange"
	"snipebot/internal/logger"
	"snipebot/internal/models"
	"snipebot/internal/retry"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testWallet = base58.Encode(bytes.Repeat([]byte{1}, 32))
	testSig    = bytes.Repeat([]byte{7}, 64)
	signedTx   = base64.StdEncoding.EncodeToString(append(append([]byte{1}, testSig...), 0xAA, 0xBB))
)

type fakeJupiter struct {
	quote     func(w http.ResponseWriter, r *http.Request)
	rpc       func(w http.ResponseWriter, method string)
	sendCalls int32
}

func (f *fakeJupiter) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/quote", func(w http.ResponseWriter, r *http.Request) {
		if f.quote != nil {
			f.quote(w, r)
			return
		}
		fmt.Fprint(w, `{"inputMint":"in","outputMint":"out","inAmount":"1000000","outAmount":"500000000",
			"priceImpactPct":"0.001","slippageBps":50,"routePlan":[{"percent":100}]}`)
	})
	mux.HandleFunc("/swap", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]json.RawMessage
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Contains(t, string(body["quoteResponse"]), `"outAmount":"500000000"`)
		assert.Equal(t, `"`+testWallet+`"`, string(body["userPublicKey"]))
		fmt.Fprint(w, `{"swapTransaction":"dW5zaWduZWQ=","lastValidBlockHeight":1}`)
	})
	mux.HandleFunc("/sign", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		fmt.Fprintf(w, `{"transaction":%q}`, signedTx)
	})
	mux.HandleFunc("/rpc", func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		var req struct {
			Method string `json:"method"`
		}
		assert.NoError(t, json.Unmarshal(data, &req))
		if req.Method == "sendTransaction" {
			atomic.AddInt32(&f.sendCalls, 1)
		}
		if f.rpc != nil {
			f.rpc(w, req.Method)
			return
		}
		switch req.Method {
		case "sendTransaction":
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":1,"result":%q}`, base58.Encode(testSig))
		case "getSignatureStatuses":
			fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":{"value":[{"confirmationStatus":"confirmed","err":null}]}}`)
		}
	})
	return mux
}

func newTestClient(t *testing.T, f *fakeJupiter) *Client {
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)

	signer, err := NewRemoteSigner(srv.URL+"/sign", "secret", testWallet)
	require.NoError(t, err)

	return New(Config{
		QuoteURL:          srv.URL + "/quote",
		SwapURL:           srv.URL + "/swap",
		RPCURL:            srv.URL + "/rpc",
		MaxPriceImpactPct: 5,
		RPS:               1000,
		Retry: retry.Policy{
			Attempts:    3,
			BaseDelay:   time.Millisecond,
			MaxDelay:    2 * time.Millisecond,
			CallTimeout: time.Second,
		},
	}, signer, logger.Discard())
}

func buyRequest() models.SwapRequest {
	return models.SwapRequest{
		Side:           models.SwapBuy,
		InputMint:      "in",
		OutputMint:     "out",
		Amount:         1,
		InputDecimals:  6,
		OutputDecimals: 6,
		SlippageBps:    50,
	}
}

func TestSubmitBuy(t *testing.T) {
	f := &fakeJupiter{}
	f.quote = func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "1000000", q.Get("amount"))
		assert.Equal(t, "50", q.Get("slippageBps"))
		fmt.Fprint(w, `{"inAmount":"1000000","outAmount":"500000000","priceImpactPct":"0.001","routePlan":[{}]}`)
	}
	c := newTestClient(t, f)

	fill, res := c.Submit(context.Background(), buyRequest())
	require.True(t, res.OK(), res.Err)

	assert.Equal(t, base58.Encode(testSig), fill.TxRef)
	assert.InDelta(t, 1, fill.InAmount, 1e-12)
	assert.InDelta(t, 500, fill.OutAmount, 1e-12)
	assert.InDelta(t, 0.002, fill.Price, 1e-12)
	assert.InDelta(t, 0.1, fill.PriceImpactPct, 1e-12)
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.sendCalls))
}

func TestSubmitSellPriceIsQuotePerToken(t *testing.T) {
	f := &fakeJupiter{quote: func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"inAmount":"500000000","outAmount":"1500000","priceImpactPct":"0","routePlan":[{}]}`)
	}}
	req := buyRequest()
	req.Side = models.SwapSell
	req.Amount = 500

	fill, res := newTestClient(t, f).Submit(context.Background(), req)
	require.True(t, res.OK(), res.Err)
	assert.InDelta(t, 0.003, fill.Price, 1e-12)
}

func TestSubmitInvalidRoute(t *testing.T) {
	f := &fakeJupiter{quote: func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"Could not find any route","errorCode":"COULD_NOT_FIND_ANY_ROUTE"}`)
	}}

	fill, res := newTestClient(t, f).Submit(context.Background(), buyRequest())
	assert.Equal(t, retry.OutcomeRejected, res.Outcome)
	assert.True(t, errors.Is(res.Err, exchange.ErrInvalidRoute))
	assert.Empty(t, fill.TxRef)
	assert.Equal(t, int32(0), atomic.LoadInt32(&f.sendCalls))
}

func TestSubmitPriceImpactTooHigh(t *testing.T) {
	f := &fakeJupiter{quote: func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"inAmount":"1000000","outAmount":"10","priceImpactPct":"0.25","routePlan":[{}]}`)
	}}

	_, res := newTestClient(t, f).Submit(context.Background(), buyRequest())
	assert.Equal(t, retry.OutcomeRejected, res.Outcome)
	assert.True(t, errors.Is(res.Err, exchange.ErrInsufficientLiquidity))
}

func TestSubmitSlippageOnSimulation(t *testing.T) {
	f := &fakeJupiter{rpc: func(w http.ResponseWriter, method string) {
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"error":{"code":-32002,
			"message":"Transaction simulation failed: Error processing Instruction 3: custom program error: 0x1771"}}`)
	}}

	fill, res := newTestClient(t, f).Submit(context.Background(), buyRequest())
	assert.Equal(t, retry.OutcomeRejected, res.Outcome)
	assert.True(t, errors.Is(res.Err, exchange.ErrSlippageExceeded))
	assert.Empty(t, fill.TxRef, "preflight failure never lands")
	assert.Equal(t, int32(1), atomic.LoadInt32(&f.sendCalls))
}

func TestSubmitInsufficientFunds(t *testing.T) {
	f := &fakeJupiter{rpc: func(w http.ResponseWriter, method string) {
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"error":{"code":-32002,"message":"Attempt to debit an account but found no record of a prior credit. insufficient funds"}}`)
	}}

	_, res := newTestClient(t, f).Submit(context.Background(), buyRequest())
	assert.True(t, errors.Is(res.Err, exchange.ErrInsufficientFunds))
}

func TestSubmitSendUnavailableKeepsReference(t *testing.T) {
	f := &fakeJupiter{rpc: func(w http.ResponseWriter, method string) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}}

	fill, res := newTestClient(t, f).Submit(context.Background(), buyRequest())
	assert.Equal(t, retry.OutcomeTransient, res.Outcome)
	assert.Equal(t, base58.Encode(testSig), fill.TxRef)
	assert.Equal(t, int32(3), atomic.LoadInt32(&f.sendCalls))
}

func TestSubmitResendAlreadyProcessed(t *testing.T) {
	var calls int32
	f := &fakeJupiter{}
	f.rpc = func(w http.ResponseWriter, method string) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"error":{"code":-32002,"message":"This transaction has already been processed"}}`)
	}

	fill, res := newTestClient(t, f).Submit(context.Background(), buyRequest())
	require.True(t, res.OK(), res.Err)
	assert.NotEmpty(t, fill.TxRef)
}

func TestStatus(t *testing.T) {
	cases := map[string]struct {
		body  string
		state models.TxState
	}{
		"confirmed": {`{"result":{"value":[{"confirmationStatus":"finalized","err":null}]}}`, models.TxConfirmed},
		"processed": {`{"result":{"value":[{"confirmationStatus":"processed","err":null}]}}`, models.TxPending},
		"unknown":   {`{"result":{"value":[null]}}`, models.TxPending},
		"failed":    {`{"result":{"value":[{"confirmationStatus":"confirmed","err":{"InstructionError":[3,{"Custom":6001}]}}]}}`, models.TxFailed},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			f := &fakeJupiter{rpc: func(w http.ResponseWriter, method string) {
				assert.Equal(t, "getSignatureStatuses", method)
				fmt.Fprint(w, tc.body)
			}}
			status, res := newTestClient(t, f).Status(context.Background(), "sig")
			require.True(t, res.OK(), res.Err)
			assert.Equal(t, tc.state, status.State)
		})
	}
}

func TestFailedStatusClassifiesSlippage(t *testing.T) {
	err := exchange.ClassifyTxError("confirm", `{"InstructionError":[3,{"Custom":6001}]}`)
	assert.True(t, errors.Is(err, exchange.ErrSlippageExceeded))
}

func TestSignatureOf(t *testing.T) {
	sig, err := signatureOf(signedTx)
	require.NoError(t, err)
	assert.Equal(t, base58.Encode(testSig), sig)

	unsigned := base64.StdEncoding.EncodeToString(append([]byte{1}, make([]byte, 70)...))
	_, err = signatureOf(unsigned)
	assert.Error(t, err)

	_, err = signatureOf("!!")
	assert.Error(t, err)
}

func TestAmountConversions(t *testing.T) {
	raw, err := toRaw(1.5, 6)
	require.NoError(t, err)
	assert.Equal(t, "1500000", raw)

	raw, err = toRaw(0.1234567891, 9)
	require.NoError(t, err)
	assert.Equal(t, "123456789", raw)

	_, err = toRaw(0.0000001, 6)
	assert.Error(t, err)

	ui, err := fromRaw("2500000000", 9)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, ui, 1e-12)
}

var _ exchange.Client = (*Client)(nil)
var _ exchange.Signer = (*RemoteSigner)(nil)
