package retry

import (
	"context"
	"errors"
	"time"

	"snipebot/internal/apperr"

	"github.com/sirupsen/logrus"
)

type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomeTransient Outcome = "transient"
	OutcomeRejected  Outcome = "rejected"
	OutcomeFailed    Outcome = "failed"
	OutcomeCanceled  Outcome = "canceled"
)

type Policy struct {
	Attempts    int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	CallTimeout time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		Attempts:    3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		CallTimeout: 10 * time.Second,
	}
}

// Result describes one logical call across all of its attempts.
type Result struct {
	Op       string
	Outcome  Outcome
	Attempts int
	Latency  time.Duration
	Err      error
}

func (r Result) OK() bool {
	return r.Outcome == OutcomeOK
}

func (r Result) Fields() logrus.Fields {
	fields := logrus.Fields{
		"op":         r.Op,
		"outcome":    r.Outcome,
		"attempts":   r.Attempts,
		"latency_ms": r.Latency.Milliseconds(),
	}
	if r.Err != nil {
		fields["error"] = r.Err.Error()
		fields["error_kind"] = apperr.KindOf(r.Err)
	}
	return fields
}

func Success(op string, started time.Time) Result {
	return Result{Op: op, Outcome: OutcomeOK, Attempts: 1, Latency: time.Since(started)}
}

func Failure(op string, started time.Time, err error) Result {
	return Result{Op: op, Outcome: outcomeFor(err), Attempts: 1, Latency: time.Since(started), Err: err}
}

func Do(ctx context.Context, p Policy, op string, fn func(ctx context.Context) error) Result {
	started := time.Now()
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := p.BaseDelay
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}

	res := Result{Op: op}
	for i := 1; i <= attempts; i++ {
		res.Attempts = i

		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if p.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, p.CallTimeout)
		}
		err := fn(callCtx)
		cancel()

		if err == nil {
			res.Outcome = OutcomeOK
			res.Err = nil
			res.Latency = time.Since(started)
			return res
		}
		res.Err = err

		if ctx.Err() != nil {
			res.Outcome = OutcomeCanceled
			res.Latency = time.Since(started)
			return res
		}
		if !apperr.IsTransient(err) {
			res.Outcome = outcomeFor(err)
			res.Latency = time.Since(started)
			return res
		}
		if i == attempts {
			break
		}

		wait := backoff
		if apperr.CodeOf(err) == apperr.CodeRateLimited {
			wait = backoff * 4
		}
		if p.MaxDelay > 0 && wait > p.MaxDelay {
			wait = p.MaxDelay
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			res.Outcome = OutcomeCanceled
			res.Latency = time.Since(started)
			return res
		case <-timer.C:
		}

		backoff *= 2
		if p.MaxDelay > 0 && backoff > p.MaxDelay {
			backoff = p.MaxDelay
		}
	}

	res.Outcome = OutcomeTransient
	res.Latency = time.Since(started)
	return res
}

func outcomeFor(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, context.Canceled):
		return OutcomeCanceled
	}
	switch apperr.KindOf(err) {
	case apperr.KindTransient:
		return OutcomeTransient
	case apperr.KindRejected:
		return OutcomeRejected
	default:
		return OutcomeFailed
	}
}
