package models

import "snipebot/internal/apperr"

// OutcomeOf maps a swap error to the journal outcome.
func OutcomeOf(err error) TradeOutcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case apperr.CodeOf(err) == apperr.CodeTimeout:
		return OutcomeTimeout
	case apperr.IsRejected(err):
		return OutcomeRejected
	default:
		return OutcomeFailed
	}
}
