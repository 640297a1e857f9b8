package store

import (
	"errors"
	"fmt"

	"snipebot/internal/apperr"
	"snipebot/internal/models"
)

var ErrNotFound = apperr.New(apperr.KindInvariant, "position_not_found", "Позиция не найдена")

var errInvalidInput = errors.New("Некорректная позиция")

// DuplicateError is returned by Insert when the mint+wallet pair already
// has an OPEN or EXITING position.
type DuplicateError struct {
	Mint       string
	Wallet     string
	ExistingID string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("Уже есть активная позиция %s по %s (кошелёк %s)", e.ExistingID, e.Mint, e.Wallet)
}

func (e *DuplicateError) Kind() apperr.Kind {
	return apperr.KindInvariant
}

// InvalidTransitionError reports a state mismatch or a disallowed edge.
type InvalidTransitionError struct {
	ID      string
	From    models.PositionState
	To      models.PositionState
	Current models.PositionState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("Недопустимый переход позиции %s: %s -> %s (текущее состояние %s)", e.ID, e.From, e.To, e.Current)
}

func (e *InvalidTransitionError) Kind() apperr.Kind {
	return apperr.KindInvariant
}

func IsDuplicate(err error) bool {
	var d *DuplicateError
	return errors.As(err, &d)
}

func IsInvalidTransition(err error) bool {
	var t *InvalidTransitionError
	return errors.As(err, &t)
}
