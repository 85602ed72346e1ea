package client

import (
	"errors"
	"time"
)

// RetryPolicy bounds relay retries and status polling. The status
// budget is an attempt count times a fixed interval, so wall-clock
// changes never move it.
type RetryPolicy struct {
	MaxAttempts     int
	BaseDelay       time.Duration
	PollInterval    time.Duration
	MaxStatusChecks int
}

// DefaultRetryPolicy is used when no policy is configured
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:     3,
	BaseDelay:       500 * time.Millisecond,
	PollInterval:    2 * time.Second,
	MaxStatusChecks: 30,
}

// Validate checks that every bound is positive
func (p RetryPolicy) Validate() error {
	switch {
	case p.MaxAttempts < 1:
		return errors.New("retry policy: max attempts must be at least 1")
	case p.BaseDelay <= 0:
		return errors.New("retry policy: base delay must be positive")
	case p.PollInterval <= 0:
		return errors.New("retry policy: poll interval must be positive")
	case p.MaxStatusChecks < 1:
		return errors.New("retry policy: max status checks must be at least 1")
	}
	return nil
}

// StatusBudget is the longest a poll loop may wait on the relay
func (p RetryPolicy) StatusBudget() time.Duration {
	return time.Duration(p.MaxStatusChecks) * p.PollInterval
}
