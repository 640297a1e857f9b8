package market

import (
	"context"

	"snipebot/internal/apperr"
	"snipebot/internal/models"
	"snipebot/internal/retry"
)

// Client fetches a fresh snapshot for a token. The Result describes the
// call across all retry attempts; on failure Result.Err wraps one of the
// sentinels below.
type Client interface {
	Snapshot(ctx context.Context, mint string) (models.TokenSnapshot, retry.Result)
}

var (
	ErrNotFound    = apperr.New(apperr.KindRejected, "not_found", "Токен не найден")
	ErrRateLimited = apperr.New(apperr.KindTransient, apperr.CodeRateLimited, "Превышен лимит запросов к рыночным данным")
	ErrTimeout     = apperr.New(apperr.KindTransient, apperr.CodeTimeout, "Таймаут запроса рыночных данных")
	ErrUnavailable = apperr.New(apperr.KindTransient, apperr.CodeUnavailable, "Источник рыночных данных недоступен")
)
