package main

import (
	"context"
	"fmt"

	"snipebot/internal/cache"
	"snipebot/internal/config"
	"snipebot/internal/exchange"
	exjupiter "snipebot/internal/exchange/jupiter"
	"snipebot/internal/exchange/paper"
	"snipebot/internal/exit"
	"snipebot/internal/journal"
	"snipebot/internal/logger"
	"snipebot/internal/market"
	mkjupiter "snipebot/internal/market/jupiter"
	"snipebot/internal/models"
	"snipebot/internal/notify"
	"snipebot/internal/retry"
	"snipebot/internal/scorer"
)

// closer releases one external resource on shutdown.
type closer func()

func retryPolicy(cfg config.RetryConfig) retry.Policy {
	return retry.Policy{
		Attempts:    cfg.Attempts,
		BaseDelay:   cfg.BaseDelay,
		MaxDelay:    cfg.MaxDelay,
		CallTimeout: cfg.CallTimeout,
	}
}

func newMarket(cfg *config.Config, log *logger.Logger) market.Client {
	return mkjupiter.New(mkjupiter.Config{
		TokenAPIURL:    cfg.Market.TokenAPIURL,
		RugCheckURL:    cfg.Market.RugCheckURL,
		RPS:            cfg.Market.RPS,
		Burst:          cfg.Market.Burst,
		MaxRugScore:    cfg.Market.MaxRugScore,
		MinLPLockedPct: cfg.Market.MinLPLockedPct,
		Retry:          retryPolicy(cfg.Retry),
	}, log)
}

func newExchange(cfg *config.Config, m market.Client, log *logger.Logger) (exchange.Client, error) {
	if cfg.Runtime.DryRun {
		log.WithComponent("main").WithField("slippage_pct", cfg.Exchange.PaperSlippagePct).Warn("Режим dry-run: сделки симулируются.")
		return paper.New(m, cfg.Exchange.PaperSlippagePct), nil
	}

	signer, err := exjupiter.NewRemoteSigner(cfg.Exchange.SignerURL, cfg.Exchange.SignerToken, cfg.Exchange.Wallet)
	if err != nil {
		return nil, err
	}
	return exjupiter.New(exjupiter.Config{
		QuoteURL:                 cfg.Exchange.QuoteURL,
		SwapURL:                  cfg.Exchange.SwapURL,
		ApiKey:                   cfg.Exchange.ApiKey,
		RPCURL:                   cfg.Exchange.RPCURL,
		PriorityFeeMicroLamports: cfg.Exchange.PriorityFeeMicroLamports,
		MaxPriceImpactPct:        cfg.Exchange.MaxPriceImpactPct,
		RPS:                      cfg.Exchange.RPS,
		Retry:                    retryPolicy(cfg.Retry),
	}, signer, log), nil
}

func newPolicy(cfg config.TradingConfig) (*exit.Engine, error) {
	trip, err := models.ParseRiskFlags(cfg.TripFlags)
	if err != nil {
		return nil, fmt.Errorf("Некорректные trip_flags: %w", err)
	}
	stages := make([]exit.Stage, 0, len(cfg.TakeProfitStages))
	for _, st := range cfg.TakeProfitStages {
		stages = append(stages, exit.Stage{Ratio: st.Ratio, Fraction: st.Fraction})
	}
	return exit.New(exit.Config{
		TripFlags:          trip,
		LiquidityDropRatio: cfg.LiquidityDropRatio,
		Stages:             stages,
		TrailingActivation: cfg.TrailingActivation,
	}), nil
}

func newScorer(cfg config.TradingConfig) (scorer.Scorer, error) {
	reject, err := models.ParseRiskFlags(cfg.RejectFlags)
	if err != nil {
		return nil, fmt.Errorf("Некорректные reject_flags: %w", err)
	}
	return scorer.NewHeuristic(scorer.Config{
		MinScore:     cfg.MinScore,
		MinLiquidity: cfg.MinLiquidity,
		RejectFlags:  reject,
	}), nil
}

func newSeenSet(ctx context.Context, cfg config.CacheConfig, log *logger.Logger) (cache.SeenSet, closer, error) {
	if cfg.RedisAddr == "" {
		return cache.NewMemory(cfg.CandidateTTL), func() {}, nil
	}
	rdb, err := cache.NewRedis(ctx, cache.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		TTL:      cfg.CandidateTTL,
	})
	if err != nil {
		return nil, nil, err
	}
	log.WithComponent("main").WithField("addr", cfg.RedisAddr).Info("Дедупликация кандидатов через redis.")
	return rdb, func() { _ = rdb.Close() }, nil
}

func newJournal(ctx context.Context, cfg config.JournalConfig, log *logger.Logger) (journal.Recorder, closer, error) {
	sinks := journal.Multi{journal.NewLog(log)}
	if cfg.PostgresDSN == "" {
		return sinks, func() {}, nil
	}
	pg, err := journal.NewPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, err
	}
	log.WithComponent("main").Info("Журнал сделок пишется в postgres.")
	return append(sinks, pg), func() { pg.Close() }, nil
}

func newNotifier(cfg config.NotifyConfig, log *logger.Logger) (*notify.Dispatcher, error) {
	senders := []notify.Sender{notify.NewLogSender(log)}
	if cfg.TelegramToken != "" {
		tg, err := notify.NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			return nil, err
		}
		senders = append(senders, tg)
	}
	return notify.NewDispatcher(senders, cfg.Events, cfg.Buffer, log), nil
}
