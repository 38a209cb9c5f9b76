package domain

import "errors"

var (
	ErrNotFound = errors.New("not found")
	ErrLockHeld = errors.New("lock already held")

	ErrUnknownExchange      = errors.New("unknown exchange")
	ErrPositionNotFound     = errors.New("position not found")
	ErrInsufficientQuantity = errors.New("insufficient quantity")
	ErrInvalidTrade         = errors.New("invalid trade")
	ErrDuplicateTrade       = errors.New("duplicate trade")
	ErrInvariantViolation   = errors.New("ledger invariant violated")
	ErrStorage              = errors.New("storage failure")
)
