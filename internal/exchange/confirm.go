package exchange

import (
	"context"
	"fmt"
	"time"

	"snipebot/internal/apperr"
	"snipebot/internal/models"
)

// AwaitConfirmation polls Status until the transaction is confirmed, fails,
// or timeout elapses. Transient status errors keep the poll going.
func AwaitConfirmation(ctx context.Context, c Client, txRef string, interval, timeout time.Duration) (models.TxStatus, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	for {
		status, res := c.Status(ctx, txRef)
		switch {
		case res.OK() && status.State == models.TxConfirmed:
			return status, nil
		case res.OK() && status.State == models.TxFailed:
			return status, ClassifyTxError("confirm", status.Err)
		case !res.OK() && !apperr.IsTransient(res.Err) && res.Err != nil:
			return status, res.Err
		case !res.OK():
			lastErr = res.Err
		}

		select {
		case <-ctx.Done():
			return models.TxStatus{State: models.TxPending}, ctx.Err()
		case <-deadline.C:
			return models.TxStatus{State: models.TxPending}, apperr.Wrap(ErrTimeout, "confirm", fmt.Errorf("Не дождались подтверждения %s (последняя ошибка: %v)", txRef, lastErr))
		case <-ticker.C:
		}
	}
}
