// Package pipeline turns candidate tokens from the discovery feed into
// supervised positions: dedup, exposure limits, scoring, buy, register.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"snipebot/internal/apperr"
	"snipebot/internal/cache"
	"snipebot/internal/config"
	"snipebot/internal/engine"
	"snipebot/internal/exchange"
	"snipebot/internal/journal"
	"snipebot/internal/logger"
	"snipebot/internal/market"
	"snipebot/internal/metrics"
	"snipebot/internal/models"
	"snipebot/internal/notify"
	"snipebot/internal/scorer"
	"snipebot/internal/store"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type Verdict string

const (
	VerdictInvalid  Verdict = "invalid"
	VerdictExcluded Verdict = "excluded"
	VerdictActive   Verdict = "active"
	VerdictSeen     Verdict = "seen"
	VerdictLimit    Verdict = "limit"
	VerdictNoData   Verdict = "no_data"
	VerdictRejected Verdict = "rejected"
	VerdictFailed   Verdict = "buy_failed"
	VerdictOpened   Verdict = "opened"
)

const defaultTokenDecimals = 6

type Config struct {
	Wallet          string
	QuoteMint       string
	QuoteDecimals   int
	AmountPerTrade  float64
	SlippageBps     int
	MaxPositions    int
	MaxCapital      float64
	ExcludedMints   []string
	Workers         int
	TakeProfit      float64
	StopLoss        float64
	TrailingDelta   float64
	ConfirmInterval time.Duration
	ConfirmTimeout  time.Duration
}

func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Wallet:          cfg.Exchange.Wallet,
		QuoteMint:       cfg.Trading.QuoteMint,
		QuoteDecimals:   cfg.Trading.QuoteDecimals,
		AmountPerTrade:  cfg.Trading.AmountPerTrade,
		SlippageBps:     cfg.Trading.SlippageBps,
		MaxPositions:    cfg.Trading.MaxPositions,
		MaxCapital:      cfg.Trading.MaxCapital,
		ExcludedMints:   cfg.Trading.ExcludedMints,
		Workers:         cfg.Trading.Workers,
		TakeProfit:      cfg.Trading.TakeProfit,
		StopLoss:        cfg.Trading.StopLoss,
		TrailingDelta:   cfg.Trading.TrailingDelta,
		ConfirmInterval: cfg.Supervisor.ConfirmInterval,
		ConfirmTimeout:  cfg.Supervisor.ConfirmTimeout,
	}
}

// Registrar accepts freshly bought positions for supervision.
type Registrar interface {
	Register(p models.Position) error
}

type Deps struct {
	Store      *store.Store
	Market     market.Client
	Scorer     scorer.Scorer
	Exchange   exchange.Client
	Supervisor Registrar
	Seen       cache.SeenSet
	Journal    journal.Recorder
	Notifier   notify.Notifier
	Metrics    *metrics.Metrics
	Log        *logger.Logger
}

type Pipeline struct {
	cfg        Config
	store      *store.Store
	market     market.Client
	scorer     scorer.Scorer
	exchange   exchange.Client
	supervisor Registrar
	seen       cache.SeenSet
	journal    journal.Recorder
	notifier   notify.Notifier
	metrics    *metrics.Metrics
	log        *logger.Logger
	now        func() time.Time

	excluded map[string]struct{}

	mu      sync.Mutex
	pending map[string]float64 // mint -> reserved quote amount
}

func New(cfg Config, deps Deps) *Pipeline {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if deps.Seen == nil {
		deps.Seen = cache.NewMemory(time.Hour)
	}
	if deps.Journal == nil {
		deps.Journal = journal.NewMemory()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNop()
	}

	excluded := make(map[string]struct{}, len(cfg.ExcludedMints)+1)
	for _, mint := range cfg.ExcludedMints {
		excluded[mint] = struct{}{}
	}
	if cfg.QuoteMint != "" {
		excluded[cfg.QuoteMint] = struct{}{}
	}

	return &Pipeline{
		cfg:        cfg,
		store:      deps.Store,
		market:     deps.Market,
		scorer:     deps.Scorer,
		exchange:   deps.Exchange,
		supervisor: deps.Supervisor,
		seen:       deps.Seen,
		journal:    deps.Journal,
		notifier:   deps.Notifier,
		metrics:    deps.Metrics,
		log:        deps.Log,
		now:        time.Now,
		excluded:   excluded,
		pending:    make(map[string]float64),
	}
}

// Run consumes candidates until the channel closes or ctx is canceled.
func (p *Pipeline) Run(ctx context.Context, candidates <-chan models.TokenDescriptor) error {
	var g errgroup.Group
	g.SetLimit(p.cfg.Workers)

	p.logEntry().WithField("workers", p.cfg.Workers).Info("Конвейер покупок запущен.")
	defer p.logEntry().Info("Конвейер покупок остановлен.")

	for {
		select {
		case <-ctx.Done():
			return g.Wait()
		case d, ok := <-candidates:
			if !ok {
				return g.Wait()
			}
			g.Go(func() error {
				p.OnCandidate(ctx, d)
				return nil
			})
		}
	}
}

// OnCandidate processes one discovered token. A token is considered at most
// once and a failed buy is never retried.
func (p *Pipeline) OnCandidate(ctx context.Context, d models.TokenDescriptor) Verdict {
	verdict := p.onCandidate(ctx, d)
	p.metrics.Candidates.WithLabelValues(string(verdict)).Inc()
	return verdict
}

func (p *Pipeline) onCandidate(ctx context.Context, d models.TokenDescriptor) Verdict {
	entry := p.candidateEntry(d)

	if err := models.ValidateMint(d.Mint); err != nil {
		entry.WithError(err).Debug("Некорректный адрес токена.")
		return VerdictInvalid
	}
	if _, ok := p.excluded[d.Mint]; ok {
		return VerdictExcluded
	}
	if p.isActive(d.Mint) {
		entry.Debug("По токену уже есть позиция.")
		return VerdictActive
	}

	first, err := p.seen.MarkSeen(ctx, d.Mint)
	if err != nil {
		// Without the seen-set the same mint could be bought twice across restarts.
		entry.WithError(err).Warn("Не удалось проверить повтор кандидата.")
		return VerdictSeen
	}
	if !first {
		entry.Debug("Кандидат уже обработан.")
		return VerdictSeen
	}

	if reason := p.limitReason(); reason != "" {
		entry.WithField("limit", reason).Info("Лимит экспозиции исчерпан, кандидат пропущен.")
		return VerdictLimit
	}

	snap, res := p.market.Snapshot(ctx, d.Mint)
	if !res.OK() {
		entry.WithFields(res.Fields()).Warn("Нет рыночных данных по кандидату.")
		return VerdictNoData
	}

	scored := p.scorer.Score(snap)
	entry = entry.WithFields(logrus.Fields{
		"score":     scored.Score,
		"verdict":   scored.Verdict,
		"liquidity": snap.Liquidity,
		"risk":      snap.Risk.String(),
	})
	if !scored.Accepted {
		entry.WithField("factors", factorFields(scored.Factors)).Info("Кандидат отклонён скорингом.")
		return VerdictRejected
	}

	if reason := p.reserve(d.Mint); reason != "" {
		entry.WithField("limit", reason).Info("Слот занят другим кандидатом.")
		if reason == "active" {
			return VerdictActive
		}
		return VerdictLimit
	}
	defer p.unreserve(d.Mint)

	entry.Info("Кандидат принят, отправляем покупку.")
	return p.buy(ctx, d, snap, entry)
}

func (p *Pipeline) buy(ctx context.Context, d models.TokenDescriptor, snap models.TokenSnapshot, entry *logrus.Entry) Verdict {
	decimals := snap.Decimals
	if decimals <= 0 {
		decimals = defaultTokenDecimals
	}
	req := models.SwapRequest{
		Side:           models.SwapBuy,
		InputMint:      p.cfg.QuoteMint,
		OutputMint:     d.Mint,
		Amount:         p.cfg.AmountPerTrade,
		InputDecimals:  p.cfg.QuoteDecimals,
		OutputDecimals: decimals,
		SlippageBps:    p.cfg.SlippageBps,
	}

	started := p.now()
	fill, res := p.exchange.Submit(ctx, req)
	p.metrics.ObserveResult(res)
	entry = entry.WithFields(res.Fields())

	var err error
	switch {
	case fill.TxRef == "" && res.OK():
		err = apperr.Wrap(exchange.ErrUnavailable, "pipeline.buy", fmt.Errorf("пустой ответ без ссылки на транзакцию"))
	case fill.TxRef == "":
		err = res.Err
	default:
		_, err = exchange.AwaitConfirmation(ctx, p.exchange, fill.TxRef, p.cfg.ConfirmInterval, p.cfg.ConfirmTimeout)
	}
	latency := p.now().Sub(started)

	symbol := firstNonEmpty(d.Symbol, snap.Symbol)
	if err != nil {
		p.metrics.Buys.WithLabelValues(string(models.OutcomeOf(err))).Inc()
		p.recordBuy(ctx, models.Position{Mint: d.Mint, Symbol: symbol, Wallet: p.cfg.Wallet}, req, fill, snap, latency, err)
		entry.WithError(err).WithField("tx", fill.TxRef).Error("Покупка не удалась, кандидат отброшен.")
		p.notifier.Notify(notify.BuyFailedEvent(d.Mint, symbol, err))
		return VerdictFailed
	}

	cost := fill.InAmount
	if cost <= 0 {
		cost = req.Amount
	}
	pos := models.Position{
		ID:             uuid.NewString(),
		Mint:           d.Mint,
		Symbol:         symbol,
		Wallet:         p.cfg.Wallet,
		EntryPrice:     engine.CalcEntryPrice(cost, fill.OutAmount),
		Quantity:       fill.OutAmount,
		CostBasis:      cost,
		EntryLiquidity: snap.Liquidity,
		TokenDecimals:  decimals,
		OpenedAt:       p.now(),
		EntryTxRef:     fill.TxRef,
		TakeProfit:     p.cfg.TakeProfit,
		StopLoss:       p.cfg.StopLoss,
		TrailingDelta:  p.cfg.TrailingDelta,
		State:          models.PositionOpen,
	}

	if err := p.supervisor.Register(pos); err != nil {
		p.metrics.Buys.WithLabelValues(string(models.OutcomeFailed)).Inc()
		p.recordBuy(ctx, pos, req, fill, snap, latency, err)
		entry.WithError(err).WithField("tx", fill.TxRef).Error("Токены куплены, но позиция не зарегистрирована.")
		p.notifier.Notify(notify.BuyFailedEvent(d.Mint, symbol, err))
		return VerdictFailed
	}

	p.metrics.Buys.WithLabelValues(string(models.OutcomeSuccess)).Inc()
	p.recordBuy(ctx, pos, req, fill, snap, latency, nil)
	entry.WithFields(logrus.Fields{
		"position_id": pos.ID,
		"entry":       pos.EntryPrice,
		"qty":         pos.Quantity,
		"tx":          fill.TxRef,
	}).Info("Позиция открыта.")
	p.notifier.Notify(notify.Opened(pos))
	return VerdictOpened
}

func (p *Pipeline) isActive(mint string) bool {
	p.mu.Lock()
	_, pending := p.pending[mint]
	p.mu.Unlock()
	return pending || p.store.HasActive(mint)
}

// limitReason reports which exposure limit a new buy would break, or "".
func (p *Pipeline) limitReason() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.limitReasonLocked()
}

func (p *Pipeline) limitReasonLocked() string {
	exposure := p.store.Exposure()
	reserved := 0.0
	for _, amount := range p.pending {
		reserved += amount
	}
	if p.cfg.MaxPositions > 0 && exposure.Count+len(p.pending) >= p.cfg.MaxPositions {
		return "max_positions"
	}
	if p.cfg.MaxCapital > 0 && exposure.Capital+reserved+p.cfg.AmountPerTrade > p.cfg.MaxCapital {
		return "max_capital"
	}
	return ""
}

// reserve claims a pending slot for mint after re-checking every limit
// under the same lock.
func (p *Pipeline) reserve(mint string) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.pending[mint]; ok || p.store.HasActive(mint) {
		return "active"
	}
	if reason := p.limitReasonLocked(); reason != "" {
		return reason
	}
	p.pending[mint] = p.cfg.AmountPerTrade
	return ""
}

func (p *Pipeline) unreserve(mint string) {
	p.mu.Lock()
	delete(p.pending, mint)
	p.mu.Unlock()
}

func (p *Pipeline) logEntry() *logrus.Entry {
	return p.log.WithComponent("pipeline")
}

func (p *Pipeline) candidateEntry(d models.TokenDescriptor) *logrus.Entry {
	return p.logEntry().WithFields(logrus.Fields{
		"mint":   d.Mint,
		"symbol": d.Symbol,
		"source": d.Source,
		"age":    d.Age(p.now()).Round(time.Second).String(),
	})
}

func factorFields(factors []models.Factor) logrus.Fields {
	out := make(logrus.Fields, len(factors))
	for _, f := range factors {
		out[f.Name] = fmt.Sprintf("%.4g (+%.0f)", f.Value, f.Points)
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
