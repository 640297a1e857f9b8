package jupiter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"snipebot/internal/apperr"
	"snipebot/internal/exchange"
	"snipebot/internal/logger"
	"snipebot/internal/models"
	"snipebot/internal/retry"

	"golang.org/x/time/rate"
)

type Config struct {
	QuoteURL                 string
	SwapURL                  string
	ApiKey                   string
	RPCURL                   string
	PriorityFeeMicroLamports int64
	MaxPriceImpactPct        float64
	RPS                      float64
	Retry                    retry.Policy
}

type Client struct {
	cfg        Config
	signer     exchange.Signer
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *logger.Logger
	rpcID      atomic.Int64
}

func New(cfg Config, signer exchange.Signer, log *logger.Logger) *Client {
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	return &Client{
		cfg:    cfg,
		signer: signer,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		limiter: rate.NewLimiter(limit, 1),
		log:     log,
	}
}

// Submit quotes, builds, signs and sends the swap. Building is retried as a
// whole; sending retries the same signed bytes, so a resend can never
// create a second transaction.
func (c *Client) Submit(ctx context.Context, req models.SwapRequest) (models.Fill, retry.Result) {
	started := time.Now()

	var (
		quote    quoteResponse
		signedTx string
		fill     models.Fill
	)
	build := retry.Do(ctx, c.cfg.Retry, "exchange.build", func(ctx context.Context) error {
		q, err := c.quote(ctx, req)
		if err != nil {
			return err
		}
		unsigned, err := c.swapTransaction(ctx, q)
		if err != nil {
			return err
		}
		signed, err := c.signer.Sign(ctx, unsigned)
		if err != nil {
			return fmt.Errorf("Не удалось подписать транзакцию: %w", err)
		}
		quote, signedTx = q, signed
		return nil
	})
	if !build.OK() {
		build.Op = "exchange.submit"
		build.Latency = time.Since(started)
		return models.Fill{}, build
	}

	var err error
	fill, err = fillFromQuote(req, quote)
	if err != nil {
		return models.Fill{}, retry.Failure("exchange.submit", started, err)
	}
	ref, err := signatureOf(signedTx)
	if err != nil {
		return models.Fill{}, retry.Failure("exchange.submit", started, err)
	}

	send := retry.Do(ctx, c.cfg.Retry, "exchange.send", func(ctx context.Context) error {
		_, err := c.sendTransaction(ctx, signedTx)
		if err != nil && strings.Contains(strings.ToLower(err.Error()), "already been processed") {
			return nil
		}
		return err
	})

	res := retry.Result{
		Op:       "exchange.submit",
		Outcome:  send.Outcome,
		Attempts: build.Attempts + send.Attempts,
		Latency:  time.Since(started),
		Err:      send.Err,
	}
	fill.SubmittedAt = time.Now()

	if send.OK() {
		fill.TxRef = ref
		return fill, res
	}
	if send.Outcome == retry.OutcomeTransient || send.Outcome == retry.OutcomeCanceled {
		// the transaction may have landed; hand back the reference
		c.log.WithFields(send.Fields()).WithField("tx", ref).Warn("Отправка не подтверждена, транзакция требует проверки статуса.")
		fill.TxRef = ref
		return fill, res
	}
	return models.Fill{}, res
}

func (c *Client) Status(ctx context.Context, txRef string) (models.TxStatus, retry.Result) {
	status := models.TxStatus{State: models.TxPending}
	res := retry.Do(ctx, c.cfg.Retry, "exchange.status", func(ctx context.Context) error {
		var out signatureStatuses
		if err := c.rpc(ctx, "getSignatureStatuses", []any{
			[]string{txRef},
			map[string]any{"searchTransactionHistory": true},
		}, &out); err != nil {
			return err
		}
		status = models.TxStatus{State: models.TxPending}
		if len(out.Value) == 0 || out.Value[0] == nil {
			return nil
		}
		v := out.Value[0]
		if len(v.Err) > 0 && string(v.Err) != "null" {
			status = models.TxStatus{State: models.TxFailed, Err: string(v.Err)}
			return nil
		}
		if v.ConfirmationStatus == "confirmed" || v.ConfirmationStatus == "finalized" {
			status = models.TxStatus{State: models.TxConfirmed}
		}
		return nil
	})
	return status, res
}

func fillFromQuote(req models.SwapRequest, q quoteResponse) (models.Fill, error) {
	in, err := fromRaw(q.InAmount, req.InputDecimals)
	if err != nil {
		return models.Fill{}, err
	}
	out, err := fromRaw(q.OutAmount, req.OutputDecimals)
	if err != nil {
		return models.Fill{}, err
	}

	fill := models.Fill{
		InAmount:       in,
		OutAmount:      out,
		PriceImpactPct: parsePct(q.PriceImpactPct) * 100,
	}
	if req.Side == models.SwapBuy {
		fill.Price = unitPrice(in, out)
	} else {
		fill.Price = unitPrice(out, in)
	}
	return fill, nil
}

func (c *Client) quote(ctx context.Context, req models.SwapRequest) (quoteResponse, error) {
	amount, err := toRaw(req.Amount, req.InputDecimals)
	if err != nil {
		return quoteResponse{}, apperr.Wrap(exchange.ErrRejected, "quote", err)
	}

	params := url.Values{}
	params.Set("inputMint", req.InputMint)
	params.Set("outputMint", req.OutputMint)
	params.Set("amount", amount)
	params.Set("slippageBps", strconv.Itoa(req.SlippageBps))
	params.Set("restrictIntermediateTokens", "true")

	data, err := c.doRequest(ctx, http.MethodGet, c.cfg.QuoteURL+"?"+params.Encode(), nil)
	if err != nil {
		return quoteResponse{}, err
	}

	var q quoteResponse
	if err := json.Unmarshal(data, &q); err != nil {
		return quoteResponse{}, fmt.Errorf("Не удалось разобрать котировку: %w", err)
	}
	q.raw = data

	if q.OutAmount == "" || q.OutAmount == "0" || len(q.RoutePlan) == 0 {
		return quoteResponse{}, apperr.Wrap(exchange.ErrInvalidRoute, "quote", fmt.Errorf("%s -> %s", req.InputMint, req.OutputMint))
	}
	if impact := parsePct(q.PriceImpactPct) * 100; c.cfg.MaxPriceImpactPct > 0 && impact > c.cfg.MaxPriceImpactPct {
		return quoteResponse{}, apperr.Wrap(exchange.ErrInsufficientLiquidity, "quote", fmt.Errorf("price impact %.2f%% > %.2f%%", impact, c.cfg.MaxPriceImpactPct))
	}
	return q, nil
}

func (c *Client) swapTransaction(ctx context.Context, q quoteResponse) (string, error) {
	body := swapRequest{
		QuoteResponse:             q.raw,
		UserPublicKey:             c.signer.PublicKey(),
		WrapAndUnwrapSol:          true,
		DynamicComputeUnitLimit:   true,
		ComputeUnitPriceMicroLamp: c.cfg.PriorityFeeMicroLamports,
	}
	data, err := c.doRequest(ctx, http.MethodPost, c.cfg.SwapURL, body)
	if err != nil {
		return "", err
	}

	var resp swapResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("Не удалось разобрать ответ swap: %w", err)
	}
	if resp.SwapTransaction == "" {
		return "", apperr.Wrap(exchange.ErrRejected, "swap", errors.New("пустая транзакция"))
	}
	return resp.SwapTransaction, nil
}

func (c *Client) sendTransaction(ctx context.Context, signedTx string) (string, error) {
	var sig string
	err := c.rpc(ctx, "sendTransaction", []any{
		signedTx,
		map[string]any{"encoding": "base64", "skipPreflight": false, "maxRetries": 3},
	}, &sig)
	return sig, err
}

func (c *Client) doRequest(ctx context.Context, method, rawURL string, body any) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("Не удалось подготовить тело запроса: %w", err)
		}
		bodyReader = bytes.NewReader(payload)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, apperr.Wrap(exchange.ErrTimeout, "rate.wait", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("Не удалось создать запрос: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.ApiKey != "" {
		req.Header.Set("x-api-key", c.cfg.ApiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransport(rawURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Wrap(exchange.ErrUnavailable, rawURL, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, apperr.Wrap(exchange.ErrRateLimited, rawURL, nil)
	case resp.StatusCode >= 500:
		return nil, apperr.Wrap(exchange.ErrUnavailable, rawURL, fmt.Errorf("status %s", resp.Status))
	case resp.StatusCode >= 400:
		return nil, classifyAPIError(data)
	}
	return data, nil
}

func (c *Client) rpc(ctx context.Context, method string, params []any, out any) error {
	data, err := c.doRequest(ctx, http.MethodPost, c.cfg.RPCURL, rpcRequest{
		JSONRPC: "2.0",
		ID:      c.rpcID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}

	var resp rpcResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("Не удалось разобрать ответ RPC: %w", err)
	}
	if resp.Error != nil {
		msg := resp.Error.Message
		if len(resp.Error.Data) > 0 {
			msg += " " + string(resp.Error.Data)
		}
		// -32005 node behind, -32004 block not available
		if resp.Error.Code == -32005 || resp.Error.Code == -32004 {
			return apperr.Wrap(exchange.ErrUnavailable, method, errors.New(msg))
		}
		return exchange.ClassifyTxError(method, msg)
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("Не удалось разобрать результат %s: %w", method, err)
	}
	return nil
}

func classifyAPIError(data []byte) error {
	var e apiError
	_ = json.Unmarshal(data, &e)
	msg := e.Error
	if msg == "" {
		msg = string(data)
	}
	switch e.ErrorCode {
	case "COULD_NOT_FIND_ANY_ROUTE", "NO_ROUTES_FOUND", "TOKEN_NOT_TRADABLE",
		"ROUTE_PLAN_DOES_NOT_CONSUME_ALL_THE_AMOUNT", "CIRCULAR_ARBITRAGE_IS_DISABLED":
		return apperr.Wrap(exchange.ErrInvalidRoute, "quote", errors.New(msg))
	}
	return exchange.ClassifyTxError("jupiter", msg)
}

func classifyTransport(op string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return apperr.Wrap(exchange.ErrTimeout, op, err)
	}
	return apperr.Wrap(exchange.ErrUnavailable, op, err)
}
