package engine

import (
	"context"
	"errors"
	"time"

	"snipebot/internal/exit"
	"snipebot/internal/market"
	"snipebot/internal/models"

	"github.com/sirupsen/logrus"
)

// evaluateClaimed runs one evaluation of an id the caller has claimed.
// It returns when the position is next due, or zero when it should leave
// the schedule.
func (s *Supervisor) evaluateClaimed(ctx context.Context, id string) time.Time {
	p, err := s.store.Get(id)
	if err != nil {
		s.logEntry().WithField("position_id", id).WithError(err).Error("Позиция из расписания не найдена в хранилище.")
		return time.Time{}
	}

	switch p.State {
	case models.PositionOpen:
		if s.isDraining() {
			return time.Time{}
		}
		return s.evaluateOpen(ctx, p)
	case models.PositionExiting:
		return s.evaluateExiting(ctx, p)
	default:
		return time.Time{}
	}
}

func (s *Supervisor) evaluateOpen(ctx context.Context, p models.Position) time.Time {
	s.metrics.Evaluations.Inc()

	snap, res := s.market.Snapshot(ctx, p.Mint)
	s.metrics.ObserveResult(res)
	now := s.now()

	if !res.OK() {
		return s.snapshotFailed(p, res.Err, res.Fields(), now)
	}

	decision := s.policy.Decide(p, snap)
	s.metrics.Decisions.WithLabelValues(string(decision.Action), decision.Reason).Inc()

	highWater := s.policy.NextHighWater(p, snap.Price)
	updated, err := s.store.Update(p.ID, models.PositionOpen, func(q *models.Position) {
		q.HighWater = highWater
		q.LastPrice = snap.Price
		q.LastEvaluatedAt = now
		q.MissingSnapshots = 0
		q.LastError = ""
		if !decision.IsSell() {
			q.SellAttempts = 0
		}
	})
	if err != nil {
		s.positionEntry(p).WithError(err).Error("Позиция изменилась во время оценки.")
		return s.afterGuard(p.ID)
	}

	entry := s.positionEntry(updated).WithFields(logrus.Fields{
		"price":      formatFloatPlain(snap.Price),
		"entry":      formatFloatPlain(updated.EntryPrice),
		"high_water": formatFloatPlain(updated.HighWater),
		"liquidity":  snap.Liquidity,
		"risk":       snap.Risk.String(),
		"decision":   decision.String(),
	})
	if !decision.IsSell() {
		entry.Debug("Позиция удерживается.")
		return now.Add(s.cfg.PollInterval)
	}

	entry.WithField("detail", decision.Detail).Info("Сработало условие выхода.")
	return s.beginSell(ctx, updated, decision, snap)
}

// snapshotFailed keeps the position OPEN and retries next tick. Repeated
// NotFound means the token is gone from every source and needs an operator.
func (s *Supervisor) snapshotFailed(p models.Position, cause error, fields logrus.Fields, now time.Time) time.Time {
	notFound := errors.Is(cause, market.ErrNotFound)

	updated, err := s.store.Update(p.ID, models.PositionOpen, func(q *models.Position) {
		q.LastEvaluatedAt = now
		if cause != nil {
			q.LastError = cause.Error()
		}
		if notFound {
			q.MissingSnapshots++
		} else {
			q.MissingSnapshots = 0
		}
	})
	if err != nil {
		s.positionEntry(p).WithError(err).Error("Позиция изменилась во время оценки.")
		return s.afterGuard(p.ID)
	}

	s.positionEntry(updated).WithFields(fields).WithField("missing", updated.MissingSnapshots).Warn("Не удалось получить данные по токену.")

	if notFound && s.cfg.MaxMissingSnapshots > 0 && updated.MissingSnapshots >= s.cfg.MaxMissingSnapshots {
		s.fail(updated, models.PositionOpen, cause)
		return time.Time{}
	}
	return now.Add(s.cfg.PollInterval)
}

func (s *Supervisor) evaluateExiting(ctx context.Context, p models.Position) time.Time {
	now := s.now()

	if p.SellTxRef == "" {
		if s.isDraining() {
			s.positionEntry(p).Warn("Повторная продажа не отправлена из-за остановки.")
			return time.Time{}
		}
		if now.Before(p.NextSellAt) {
			return p.NextSellAt
		}
		return s.submitSell(ctx, p)
	}

	status, res := s.exchange.Status(ctx, p.SellTxRef)
	s.metrics.ObserveResult(res)
	now = s.now()
	expired := !p.SellSubmittedAt.IsZero() && now.Sub(p.SellSubmittedAt) >= s.cfg.ConfirmTimeout

	if !res.OK() {
		s.positionEntry(p).WithFields(res.Fields()).WithField("tx", p.SellTxRef).Warn("Не удалось получить статус продажи.")
		if expired {
			return s.confirmTimedOut(ctx, p)
		}
		return now.Add(s.cfg.ConfirmInterval)
	}

	switch status.State {
	case models.TxConfirmed:
		return s.sellConfirmed(ctx, p)
	case models.TxFailed:
		err := s.txFailure(status)
		s.record(ctx, p, models.Fill{TxRef: p.SellTxRef}, now.Sub(p.SellSubmittedAt), err)
		return s.sellFailed(p, err)
	default:
		if expired {
			return s.confirmTimedOut(ctx, p)
		}
		return now.Add(s.cfg.ConfirmInterval)
	}
}

func (s *Supervisor) confirmTimedOut(ctx context.Context, p models.Position) time.Time {
	err := s.timeoutError(p)
	s.record(ctx, p, models.Fill{TxRef: p.SellTxRef}, s.now().Sub(p.SellSubmittedAt), err)
	return s.sellFailed(p, err)
}

func decisionFields(d exit.Decision) logrus.Fields {
	return logrus.Fields{
		"reason":   d.Reason,
		"fraction": d.Fraction,
		"detail":   d.Detail,
	}
}
