package exchange

import (
	"context"
	"strings"

	"snipebot/internal/apperr"
	"snipebot/internal/models"
	"snipebot/internal/retry"
)

// Client submits swaps and reports their on-chain status.
//
// Submit returns as soon as a transaction reference exists. A non-empty
// Fill.TxRef means the transaction may have reached the network, even when
// the Result is not OK, and must be confirmed through Status rather than
// resubmitted.
type Client interface {
	Submit(ctx context.Context, req models.SwapRequest) (models.Fill, retry.Result)
	Status(ctx context.Context, txRef string) (models.TxStatus, retry.Result)
}

// Signer signs base64 encoded transactions. Key material never enters
// this process.
type Signer interface {
	PublicKey() string
	Sign(ctx context.Context, unsignedTx string) (string, error)
}

var (
	ErrInsufficientLiquidity = apperr.New(apperr.KindRejected, "insufficient_liquidity", "Недостаточная ликвидность")
	ErrSlippageExceeded      = apperr.New(apperr.KindRejected, "slippage_exceeded", "Превышено проскальзывание")
	ErrInsufficientFunds     = apperr.New(apperr.KindRejected, "insufficient_funds", "Недостаточно средств")
	ErrInvalidRoute          = apperr.New(apperr.KindRejected, "invalid_route", "Маршрут обмена не найден")
	ErrRejected              = apperr.New(apperr.KindRejected, "rejected", "Транзакция отклонена")
	ErrTimeout               = apperr.New(apperr.KindTransient, apperr.CodeTimeout, "Таймаут запроса к бирже")
	ErrRateLimited           = apperr.New(apperr.KindTransient, apperr.CodeRateLimited, "Превышен лимит запросов.")
	ErrUnavailable           = apperr.New(apperr.KindTransient, apperr.CodeUnavailable, "Биржа недоступна")
)

// ClassifyTxError maps an on-chain or simulation error message to a sentinel.
func ClassifyTxError(op, msg string) error {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "0x1771"),
		strings.Contains(lower, "custom program error: 6001"),
		strings.Contains(lower, `"custom":6001`),
		strings.Contains(lower, "slippagetoleranceexceeded"):
		return apperr.Wrap(ErrSlippageExceeded, op, errorText(msg))
	case strings.Contains(lower, "insufficient funds"),
		strings.Contains(lower, "insufficient lamports"),
		strings.Contains(lower, "insufficientfunds"):
		return apperr.Wrap(ErrInsufficientFunds, op, errorText(msg))
	default:
		return apperr.Wrap(ErrRejected, op, errorText(msg))
	}
}

type errorText string

func (e errorText) Error() string {
	return string(e)
}

// IsDomainRejection reports whether err means the swap cannot succeed as
// requested and should not be retried.
func IsDomainRejection(err error) bool {
	return apperr.IsRejected(err)
}
