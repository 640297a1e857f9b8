package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"snipebot/internal/apperr"
	"snipebot/internal/exchange"
	"snipebot/internal/exit"
	"snipebot/internal/models"
	"snipebot/internal/notify"
	"snipebot/internal/store"

	"github.com/sirupsen/logrus"
)

// beginSell moves the position to EXITING before anything is submitted.
// The OPEN -> EXITING transition has exactly one winner.
func (s *Supervisor) beginSell(ctx context.Context, p models.Position, d exit.Decision, snap models.TokenSnapshot) time.Time {
	if s.isDraining() {
		return time.Time{}
	}

	qty := CalcSellQty(p.Quantity, d.Fraction)
	exiting, err := s.store.Transition(p.ID, models.PositionOpen, models.PositionExiting, func(q *models.Position) {
		clearSell(q)
		q.SellReason = d.Reason
		q.SellFraction = d.Fraction
		q.SellQty = qty
		q.SellPrice = snap.Price
	})
	if err != nil {
		s.positionEntry(p).WithError(err).Error("Не удалось перевести позицию в EXITING.")
		return s.afterGuard(p.ID)
	}

	s.positionEntry(exiting).WithFields(decisionFields(d)).WithField("qty", formatFloatPlain(qty)).Info("Позиция переведена в EXITING.")
	return s.submitSell(ctx, exiting)
}

func (s *Supervisor) submitSell(ctx context.Context, p models.Position) time.Time {
	if s.isDraining() {
		return time.Time{}
	}

	p, landed := s.landedEarlier(ctx, p)
	if landed {
		return s.sellConfirmed(ctx, p)
	}

	attempt := p.SellAttempts + 1
	claimed, err := s.store.Update(p.ID, models.PositionExiting, func(q *models.Position) {
		q.SellAttempts = attempt
		q.SellSubmittedAt = s.now()
		q.NextSellAt = time.Time{}
	})
	if err != nil {
		s.positionEntry(p).WithError(err).Error("Не удалось зафиксировать попытку продажи.")
		return s.afterGuard(p.ID)
	}
	p = claimed

	req := models.SwapRequest{
		Side:           models.SwapSell,
		InputMint:      p.Mint,
		OutputMint:     s.cfg.QuoteMint,
		Amount:         p.SellQty,
		InputDecimals:  p.TokenDecimals,
		OutputDecimals: s.cfg.QuoteDecimals,
		SlippageBps:    s.cfg.SlippageBps,
	}

	s.metrics.SellSubmitted.Inc()
	fill, res := s.exchange.Submit(ctx, req)
	s.metrics.ObserveResult(res)

	entry := s.positionEntry(p).WithFields(res.Fields()).WithFields(logrus.Fields{
		"attempt":      attempt,
		"max_attempts": s.cfg.MaxSellAttempts,
		"qty":          formatFloatPlain(p.SellQty),
	})

	if fill.TxRef != "" {
		updated, err := s.store.Update(p.ID, models.PositionExiting, func(q *models.Position) {
			q.SellTxRef = fill.TxRef
			q.SellExpectedOut = fill.OutAmount
			if fill.Price > 0 {
				q.SellPrice = fill.Price
			}
		})
		if err != nil {
			s.positionEntry(p).WithError(err).Error("Не удалось сохранить ссылку на транзакцию продажи.")
			return s.afterGuard(p.ID)
		}
		if res.OK() {
			entry.WithField("tx", fill.TxRef).Info("Продажа отправлена, ожидаем подтверждение.")
		} else {
			entry.WithField("tx", fill.TxRef).Warn("Отправка продажи не подтверждена, проверяем статус транзакции.")
		}
		return updated.SellSubmittedAt.Add(s.cfg.ConfirmInterval)
	}

	cause := res.Err
	if cause == nil {
		cause = apperr.Wrap(exchange.ErrUnavailable, "exchange.submit", fmt.Errorf("пустой ответ без ссылки на транзакцию"))
	}
	s.record(ctx, p, fill, res.Latency, cause)
	entry.Warn("Продажа не отправлена.")

	// The tokens may be gone because an earlier signature landed late.
	if errors.Is(cause, exchange.ErrInsufficientFunds) {
		if p, landed = s.landedEarlier(ctx, p); landed {
			return s.sellConfirmed(ctx, p)
		}
	}
	return s.sellFailed(p, cause)
}

// landedEarlier polls the signatures of timed-out attempts. A confirmed one
// becomes the current sell, failed ones are dropped and pending ones kept.
func (s *Supervisor) landedEarlier(ctx context.Context, p models.Position) (models.Position, bool) {
	if len(p.PrevSells) == 0 {
		return p, false
	}

	var (
		keep   []models.SellTx
		landed *models.SellTx
	)
	for _, prev := range p.PrevSells {
		status, res := s.exchange.Status(ctx, prev.TxRef)
		s.metrics.ObserveResult(res)
		if !res.OK() {
			keep = append(keep, prev)
			continue
		}
		switch status.State {
		case models.TxConfirmed:
			if landed == nil {
				tx := prev
				landed = &tx
			}
		case models.TxFailed:
		default:
			keep = append(keep, prev)
		}
	}

	updated, err := s.store.Update(p.ID, models.PositionExiting, func(q *models.Position) {
		if landed == nil {
			q.PrevSells = keep
			return
		}
		q.PrevSells = nil
		q.SellTxRef = landed.TxRef
		q.SellExpectedOut = landed.ExpectedOut
		q.SellSubmittedAt = landed.SubmittedAt
		if landed.Price > 0 {
			q.SellPrice = landed.Price
		}
	})
	if err != nil {
		s.positionEntry(p).WithError(err).Error("Не удалось обновить список прежних продаж.")
		return p, false
	}
	if landed != nil {
		s.positionEntry(updated).WithField("tx", landed.TxRef).Warn("Ранее отправленная продажа подтверждена с опозданием.")
	}
	return updated, landed != nil
}

// sellFailed counts a failed attempt. Domain rejections return the position
// to OPEN so the policy decides again on fresh data; other failures stay
// EXITING and are resubmitted after backoff. The bound is on consecutive
// failures in either case.
func (s *Supervisor) sellFailed(p models.Position, cause error) time.Time {
	now := s.now()
	s.metrics.SellOutcomes.WithLabelValues(string(models.OutcomeOf(cause))).Inc()

	if p.SellAttempts >= s.cfg.MaxSellAttempts {
		s.fail(p, models.PositionExiting, cause)
		return time.Time{}
	}

	wait := SellBackoff(s.cfg.SellBackoff, s.cfg.SellBackoffMax, p.SellAttempts)
	entry := s.positionEntry(p).WithError(cause).WithFields(logrus.Fields{
		"attempt":      p.SellAttempts,
		"max_attempts": s.cfg.MaxSellAttempts,
		"backoff":      wait.String(),
	})

	// Unresolved earlier signatures keep the position EXITING until they settle.
	if exchange.IsDomainRejection(cause) && len(p.PrevSells) == 0 {
		_, err := s.store.Transition(p.ID, models.PositionExiting, models.PositionOpen, func(q *models.Position) {
			clearSell(q)
			q.LastError = cause.Error()
		})
		if err != nil {
			s.positionEntry(p).WithError(err).Error("Не удалось вернуть позицию в OPEN.")
			return s.afterGuard(p.ID)
		}
		entry.Warn("Продажа отклонена, позиция возвращена в OPEN.")
		return now.Add(wait)
	}

	timedOut := errors.Is(cause, exchange.ErrTimeout)
	updated, err := s.store.Update(p.ID, models.PositionExiting, func(q *models.Position) {
		if timedOut && q.SellTxRef != "" {
			prev := make([]models.SellTx, 0, len(q.PrevSells)+1)
			q.PrevSells = append(append(prev, q.PrevSells...), models.SellTx{
				TxRef:       q.SellTxRef,
				ExpectedOut: q.SellExpectedOut,
				Price:       q.SellPrice,
				SubmittedAt: q.SellSubmittedAt,
			})
		}
		q.SellTxRef = ""
		q.SellExpectedOut = 0
		q.NextSellAt = now.Add(wait)
		q.LastError = cause.Error()
	})
	if err != nil {
		s.positionEntry(p).WithError(err).Error("Не удалось запланировать повторную продажу.")
		return s.afterGuard(p.ID)
	}
	entry.Warn("Продажа не удалась, повтор после паузы.")
	return updated.NextSellAt
}

func (s *Supervisor) sellConfirmed(ctx context.Context, p models.Position) time.Time {
	now := s.now()
	fill := models.Fill{
		TxRef:     p.SellTxRef,
		InAmount:  p.SellQty,
		OutAmount: p.SellExpectedOut,
		Price:     p.SellPrice,
	}
	s.record(ctx, p, fill, now.Sub(p.SellSubmittedAt), nil)
	s.metrics.SellOutcomes.WithLabelValues(string(models.OutcomeSuccess)).Inc()

	if p.SellFraction < 1 && p.SellQty < p.Quantity {
		soldQty := p.SellQty
		proceeds := p.SellExpectedOut
		remainingCost, releasedCost := CalcReducedCost(p.CostBasis, p.Quantity, soldQty)

		reduced, err := s.store.Transition(p.ID, models.PositionExiting, models.PositionOpen, func(q *models.Position) {
			q.Quantity -= soldQty
			q.CostBasis = remainingCost
			q.ReleasedCost += releasedCost
			q.Proceeds += proceeds
			q.TakeProfitStage++
			q.SellAttempts = 0
			q.LastEvaluatedAt = now
			q.LastError = ""
			clearSell(q)
		})
		if err != nil {
			s.positionEntry(p).WithError(err).Error("Не удалось применить частичную продажу.")
			return s.afterGuard(p.ID)
		}

		s.positionEntry(reduced).WithFields(logrus.Fields{
			"sold":      formatFloatPlain(soldQty),
			"remaining": formatFloatPlain(reduced.Quantity),
			"proceeds":  formatFloatPlain(proceeds),
			"stage":     reduced.TakeProfitStage,
		}).Info("Частичная продажа подтверждена.")
		s.notifier.Notify(notify.Reduced(reduced, soldQty, proceeds))
		return now.Add(s.cfg.PollInterval)
	}

	closed, err := s.store.Close(p.ID, store.ClosePatch{
		ExitPrice: p.SellPrice,
		Proceeds:  p.SellExpectedOut,
		TxRef:     p.SellTxRef,
		ClosedAt:  now,
	})
	if err != nil {
		s.positionEntry(p).WithError(err).Error("Не удалось закрыть позицию.")
		return time.Time{}
	}

	s.metrics.Closed.Inc()
	s.positionEntry(closed).WithFields(logrus.Fields{
		"reason":     closed.SellReason,
		"exit_price": formatFloatPlain(closed.ExitPrice),
		"proceeds":   formatFloatPlain(closed.Proceeds),
		"pnl":        formatFloatPlain(closed.RealizedPnL()),
		"tx":         closed.SellTxRef,
	}).Info("Позиция закрыта.")
	s.notifier.Notify(notify.Closed(closed))
	return time.Time{}
}

// fail moves the position to FAILED. Only the winner of the transition
// escalates, so an operator is alerted exactly once.
func (s *Supervisor) fail(p models.Position, from models.PositionState, cause error) {
	failed, err := s.store.Transition(p.ID, from, models.PositionFailed, func(q *models.Position) {
		if cause != nil {
			q.LastError = cause.Error()
		}
		q.NextSellAt = time.Time{}
	})
	if err != nil {
		s.positionEntry(p).WithError(err).Error("Не удалось перевести позицию в FAILED.")
		return
	}

	s.metrics.Failures.Inc()
	s.positionEntry(failed).WithError(cause).WithField("attempts", failed.SellAttempts).Error("Позиция переведена в FAILED, требуется ручное вмешательство.")
	s.notifier.Notify(notify.Failed(failed))
}

func (s *Supervisor) txFailure(status models.TxStatus) error {
	return exchange.ClassifyTxError("exchange.status", status.Err)
}

func (s *Supervisor) timeoutError(p models.Position) error {
	return apperr.Wrap(exchange.ErrTimeout, "engine.confirm",
		fmt.Errorf("транзакция %s не подтверждена за %s", p.SellTxRef, s.cfg.ConfirmTimeout))
}

// afterGuard picks the next due time after the store refused a write.
// A vanished or terminal position leaves the schedule.
func (s *Supervisor) afterGuard(id string) time.Time {
	p, err := s.store.Get(id)
	if err != nil || p.State.Terminal() {
		return time.Time{}
	}
	return s.now().Add(s.cfg.ConfirmInterval)
}

func clearSell(q *models.Position) {
	q.SellReason = ""
	q.SellFraction = 0
	q.SellQty = 0
	q.SellTxRef = ""
	q.SellSubmittedAt = time.Time{}
	q.SellExpectedOut = 0
	q.SellPrice = 0
	q.NextSellAt = time.Time{}
	q.PrevSells = nil
}
