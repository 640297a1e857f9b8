package jupiter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"snipebot/internal/apperr"
	"snipebot/internal/logger"
	"snipebot/internal/market"
	"snipebot/internal/models"
	"snipebot/internal/retry"

	"golang.org/x/time/rate"
)

type Config struct {
	TokenAPIURL    string
	RugCheckURL    string
	RPS            float64
	Burst          int
	MaxRugScore    int
	MinLPLockedPct float64
	Retry          retry.Policy
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *logger.Logger
	now        func() time.Time
}

func New(cfg Config, log *logger.Logger) *Client {
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		limiter: rate.NewLimiter(limit, burst),
		log:     log,
		now:     time.Now,
	}
}

func (c *Client) Snapshot(ctx context.Context, mint string) (models.TokenSnapshot, retry.Result) {
	var snap models.TokenSnapshot
	res := retry.Do(ctx, c.cfg.Retry, "market.snapshot", func(ctx context.Context) error {
		s, err := c.fetch(ctx, mint)
		if err != nil {
			return err
		}
		snap = s
		return nil
	})
	if !res.OK() && apperr.IsTransient(res.Err) {
		c.log.WithMint(mint).WithFields(res.Fields()).Warn("Не удалось получить рыночные данные.")
	}
	return snap, res
}

func (c *Client) fetch(ctx context.Context, mint string) (models.TokenSnapshot, error) {
	params := url.Values{}
	params.Set("query", mint)

	var assets []asset
	if err := c.getJSON(ctx, c.cfg.TokenAPIURL+"/assets/search?"+params.Encode(), &assets); err != nil {
		return models.TokenSnapshot{}, err
	}

	var found *asset
	for i := range assets {
		if assets[i].ID == mint {
			found = &assets[i]
			break
		}
	}
	if found == nil {
		return models.TokenSnapshot{}, apperr.Wrap(market.ErrNotFound, "assets/search", fmt.Errorf("mint %s", mint))
	}

	now := c.now()
	snap := models.TokenSnapshot{
		Mint:          mint,
		Symbol:        found.Symbol,
		Name:          found.Name,
		Decimals:      found.Decimals,
		Price:         found.USDPrice,
		Liquidity:     found.Liquidity,
		MarketCap:     found.marketCap(),
		Holders:       found.HolderCount,
		TopHoldersPct: found.topHolders(),
		PriceChange1h: found.Stats1h.PriceChange,
		FetchedAt:     now,
	}
	if found.CreatedAt != nil {
		snap.Age = now.Sub(*found.CreatedAt)
	}
	if found.Audit.MintAuthorityDisabled != nil && !*found.Audit.MintAuthorityDisabled {
		snap.Risk = snap.Risk.With(models.RiskMintAuthority)
	}
	if found.Audit.FreezeAuthorityDisabled != nil && !*found.Audit.FreezeAuthorityDisabled {
		snap.Risk = snap.Risk.With(models.RiskFreezeAuthority)
	}
	if snap.Liquidity <= 0 {
		snap.Risk = snap.Risk.With(models.RiskLiquidityPulled)
	}

	if c.cfg.RugCheckURL == "" {
		return snap, nil
	}

	var report rugReport
	err := c.getJSON(ctx, strings.TrimSuffix(c.cfg.RugCheckURL, "/")+"/tokens/"+mint+"/report", &report)
	switch {
	case errors.Is(err, market.ErrNotFound):
		// fresh tokens are often not indexed yet
		return snap, nil
	case err != nil:
		return models.TokenSnapshot{}, err
	}

	snap.RugScore = report.Score
	snap.Risk = snap.Risk.With(c.rugFlags(report))
	return snap, nil
}

func (c *Client) rugFlags(r rugReport) models.RiskFlags {
	var flags models.RiskFlags
	if r.mutable() {
		flags = flags.With(models.RiskMutableMetadata)
	}
	if r.Score > c.cfg.MaxRugScore {
		flags = flags.With(models.RiskHighRugScore)
	}
	if r.Rugged {
		flags = flags.With(models.RiskLiquidityPulled)
	}
	if pct, ok := r.lpLockedPct(); ok && pct < c.cfg.MinLPLockedPct {
		flags = flags.With(models.RiskLPUnlocked)
	}
	return flags
}

func (c *Client) getJSON(ctx context.Context, rawURL string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return apperr.Wrap(market.ErrTimeout, "rate.wait", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("Не удалось создать запрос: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransport(rawURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.Wrap(market.ErrUnavailable, rawURL, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return apperr.Wrap(market.ErrNotFound, rawURL, nil)
	case resp.StatusCode == http.StatusTooManyRequests:
		return apperr.Wrap(market.ErrRateLimited, rawURL, nil)
	case resp.StatusCode >= 500:
		return apperr.Wrap(market.ErrUnavailable, rawURL, fmt.Errorf("status %s", resp.Status))
	case resp.StatusCode >= 400:
		return fmt.Errorf("Неуспешный статус %s: %s", resp.Status, truncate(data, 200))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("Не удалось разобрать ответ: %w", err)
	}
	return nil
}

func classifyTransport(op string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return apperr.Wrap(market.ErrTimeout, op, err)
	}
	return apperr.Wrap(market.ErrUnavailable, op, err)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
