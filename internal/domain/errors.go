package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrRateLimited      = errors.New("rate limited")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInvalidInput     = errors.New("invalid input")
	ErrNotBound         = errors.New("deal has no on-chain id")
	ErrChainUnavailable = errors.New("chain read unavailable")
	ErrAmbiguousRuling  = errors.New("more than one resolution event for deal")
	ErrTxRejected       = errors.New("transaction rejected")
	ErrLockHeld         = errors.New("lock already held")
)
