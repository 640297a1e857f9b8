package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"snipebot/internal/config"
	"snipebot/internal/engine"
	"snipebot/internal/feed"
	"snipebot/internal/logger"
	"snipebot/internal/metrics"
	"snipebot/internal/models"
	"snipebot/internal/pipeline"
	"snipebot/internal/report"
	"snipebot/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.New(logger.Config{
		Level:      cfg.Runtime.Log.Level,
		Format:     cfg.Runtime.Log.Format,
		Output:     cfg.Runtime.Log.File,
		MaxSize:    cfg.Runtime.Log.MaxSize,
		MaxBackups: cfg.Runtime.Log.MaxBackups,
		MaxAge:     cfg.Runtime.Log.MaxAge,
		Compress:   cfg.Runtime.Log.Compress,
	})

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("Бот завершился с ошибкой.")
	}
	log.Info("Бот остановлен.")
}

func run(cfg *config.Config, log *logger.Logger) error {
	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	entry := log.WithComponent("main")

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	mkt := newMarket(cfg, log)
	exch, err := newExchange(cfg, mkt, log)
	if err != nil {
		return err
	}
	policy, err := newPolicy(cfg.Trading)
	if err != nil {
		return err
	}
	sc, err := newScorer(cfg.Trading)
	if err != nil {
		return err
	}

	seen, closeSeen, err := newSeenSet(sigCtx, cfg.Cache, log)
	if err != nil {
		return err
	}
	defer closeSeen()

	rec, closeJournal, err := newJournal(sigCtx, cfg.Journal, log)
	if err != nil {
		return err
	}
	defer closeJournal()

	dispatcher, err := newNotifier(cfg.Notify, log)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		dispatcher.Close(ctx)
	}()

	st := store.New()
	sup := engine.New(engine.ConfigFrom(cfg), engine.Deps{
		Store:    st,
		Market:   mkt,
		Exchange: exch,
		Policy:   policy,
		Journal:  rec,
		Notifier: dispatcher,
		Metrics:  m,
		Log:      log,
	})
	acq := pipeline.New(pipeline.ConfigFrom(cfg), pipeline.Deps{
		Store:      st,
		Market:     mkt,
		Scorer:     sc,
		Exchange:   exch,
		Supervisor: sup,
		Seen:       seen,
		Journal:    rec,
		Notifier:   dispatcher,
		Metrics:    m,
		Log:        log,
	})

	// The supervisor outlives the signal so submitted sells can be confirmed.
	supDone := make(chan error, 1)
	go func() {
		supDone <- sup.Run(context.Background())
	}()

	g, ctx := errgroup.WithContext(sigCtx)

	var candidates <-chan models.TokenDescriptor
	if cfg.Feed.Enabled {
		src := feed.New(feed.Config{
			URL:          cfg.Feed.URL,
			ReconnectMin: cfg.Feed.ReconnectMin,
			ReconnectMax: cfg.Feed.ReconnectMax,
		}, log)
		candidates = src.Candidates()
		g.Go(func() error { return src.Run(ctx) })
	} else {
		entry.Warn("Лента токенов отключена, новые позиции открываться не будут.")
	}
	g.Go(func() error { return acq.Run(ctx, candidates) })
	g.Go(func() error { return report.New(cfg.Report.Cron, st, dispatcher, log).Run(ctx) })
	if cfg.Metrics.Addr != "" {
		g.Go(func() error { return metrics.Serve(ctx, cfg.Metrics.Addr, reg) })
	}

	entry.WithField("dry_run", cfg.Runtime.DryRun).Info("Бот запущен.")

	<-ctx.Done()
	entry.Info("Получен сигнал остановки, ожидаем подтверждения продаж.")

	groupErr := g.Wait()
	sup.Cancel()
	if err := <-supDone; err != nil {
		entry.WithError(err).Error("Супервизор завершился с ошибкой.")
	}
	return groupErr
}
