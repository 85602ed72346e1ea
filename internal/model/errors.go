package model

import (
	"errors"
	"fmt"
)

var (
	// ErrStorageUnavailable means the secure store failed at the device level.
	// Wallet initialization cannot continue past it.
	ErrStorageUnavailable = errors.New("secure storage unavailable")

	// ErrNetwork is a transient transport failure talking to the relay or node.
	ErrNetwork = errors.New("network error")

	// ErrTimeout is returned when an attempt budget is exhausted.
	ErrTimeout = errors.New("timed out")

	// ErrInvalidParams is returned when the relay (or local validation)
	// refuses a request's shape.
	ErrInvalidParams = errors.New("invalid params")

	// ErrInsufficientFunds is returned by the direct path only.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrDelegationNotReady marks a delegation that the relay accepted
	// but that is not yet deployed on chain.
	ErrDelegationNotReady = errors.New("delegation accepted but not deployed")

	// ErrBundleFailed is a terminal relay failure reported after a bundle id was issued.
	ErrBundleFailed = errors.New("bundle failed")

	// ErrReverted is a mined direct transaction with status 0.
	ErrReverted = errors.New("transaction reverted")

	// ErrSessionExpired is returned when signing with a stale session key.
	ErrSessionExpired = errors.New("session expired")
)

// RelayRejectedError is a non-retryable refusal returned by the relay.
type RelayRejectedError struct {
	Method string
	Code   int
	Reason string
}

func (e *RelayRejectedError) Error() string {
	return fmt.Sprintf("relay rejected %s (code %d): %s", e.Method, e.Code, e.Reason)
}

// IsRelayRejected checks if err is (or wraps) a RelayRejectedError
func IsRelayRejected(err error) bool {
	var rejected *RelayRejectedError
	return errors.As(err, &rejected)
}
