// Package report periodically summarizes the portfolio for the operator.
package report

import (
	"context"
	"fmt"

	"snipebot/internal/logger"
	"snipebot/internal/models"
	"snipebot/internal/notify"
	"snipebot/internal/store"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const DefaultSpec = "@every 15m"

type Summary struct {
	Open       int
	Exiting    int
	Closed     int
	Failed     int
	Wins       int
	Losses     int
	Exposure   float64
	Realized   float64
	Unrealized float64
	Proceeds   float64
}

// Summarize folds positions into one summary. Realized PnL counts only
// closed positions; unrealized uses the last observed price.
func Summarize(positions []models.Position) Summary {
	var s Summary
	for _, p := range positions {
		switch p.State {
		case models.PositionOpen, models.PositionExiting:
			if p.State == models.PositionOpen {
				s.Open++
			} else {
				s.Exiting++
			}
			s.Exposure += p.CostBasis
			if p.LastPrice > 0 {
				s.Unrealized += p.LastPrice*p.Quantity - p.CostBasis
			}
		case models.PositionClosed:
			s.Closed++
			pnl := p.RealizedPnL()
			s.Realized += pnl
			s.Proceeds += p.Proceeds
			if pnl >= 0 {
				s.Wins++
			} else {
				s.Losses++
			}
		case models.PositionFailed:
			s.Failed++
			s.Exposure += p.CostBasis
		}
	}
	return s
}

func (s Summary) Event() notify.Event {
	return notify.Event{
		Kind:  notify.Report,
		Title: "Сводка по портфелю",
		Lines: []string{
			fmt.Sprintf("Открыто: %d, продаётся: %d", s.Open, s.Exiting),
			fmt.Sprintf("Закрыто: %d (прибыльных %d, убыточных %d)", s.Closed, s.Wins, s.Losses),
			fmt.Sprintf("Требуют вмешательства: %d", s.Failed),
			fmt.Sprintf("В позициях: %.4f", s.Exposure),
			fmt.Sprintf("Реализованный PnL: %+.4f", s.Realized),
			fmt.Sprintf("Нереализованный PnL: %+.4f", s.Unrealized),
		},
	}
}

type Runner struct {
	cron     *cron.Cron
	spec     string
	store    *store.Store
	notifier notify.Notifier
	log      *logger.Logger
}

func New(spec string, st *store.Store, notifier notify.Notifier, log *logger.Logger) *Runner {
	if spec == "" {
		spec = DefaultSpec
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Runner{
		cron:     cron.New(cron.WithSeconds()),
		spec:     spec,
		store:    st,
		notifier: notifier,
		log:      log,
	}
}

// Run schedules the report and blocks until ctx is canceled.
func (r *Runner) Run(ctx context.Context) error {
	if _, err := r.cron.AddFunc(r.spec, func() { r.Report(ctx) }); err != nil {
		return fmt.Errorf("Некорректное расписание отчёта %q: %w", r.spec, err)
	}

	r.cron.Start()
	r.logEntry().WithField("spec", r.spec).Info("Планировщик отчётов запущен.")

	<-ctx.Done()
	<-r.cron.Stop().Done()
	r.logEntry().Info("Планировщик отчётов остановлен.")
	return nil
}

// Report builds the current summary, logs it and sends it to the notifier.
func (r *Runner) Report(ctx context.Context) Summary {
	s := Summarize(r.store.List())
	if ctx.Err() != nil {
		return s
	}

	r.logEntry().WithFields(logrus.Fields{
		"open":       s.Open,
		"exiting":    s.Exiting,
		"closed":     s.Closed,
		"failed":     s.Failed,
		"exposure":   s.Exposure,
		"realized":   s.Realized,
		"unrealized": s.Unrealized,
	}).Info("Сводка по портфелю.")
	r.notifier.Notify(s.Event())
	return s
}

func (r *Runner) logEntry() *logrus.Entry {
	return r.log.WithComponent("report")
}
