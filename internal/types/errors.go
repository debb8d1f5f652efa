package types

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across components. RateLimitExceeded is internal to
// the governor (resolved by queueing) and only surfaces as ErrRequestTimeout
// when a queued call expires before a window opens.
var (
	ErrRequestTimeout       = errors.New("request timed out waiting for rate limit window")
	ErrQueueFull            = errors.New("provider request queue is full")
	ErrGovernorShutdown     = errors.New("request governor is shut down")
	ErrMarketClosed         = errors.New("market is closed")
	ErrUnknownProvider      = errors.New("unknown provider")
	ErrWrongTradingMode     = errors.New("entity belongs to a different trading mode")
	ErrProfileNotFound      = errors.New("profile not found")
	ErrPositionNotFound     = errors.New("position not found")
	ErrScanAlreadyRunning   = errors.New("a scan for this profile is already running")
	ErrSchedulerNotRunning  = errors.New("scheduler is not running")
	ErrSchedulerRunning     = errors.New("scheduler is already running")
	ErrUpstreamValidation   = errors.New("malformed provider response")
	ErrTransientFetchFailed = errors.New("transient fetch failure")
)

// RiskViolationError is a local rejection by the risk gate. It is persisted
// on the trade record and carries a human-readable reason.
type RiskViolationError struct {
	Reason string
}

func (e *RiskViolationError) Error() string {
	return fmt.Sprintf("risk violation: %s", e.Reason)
}

// BrokerRejectionError wraps a rejection reported by the brokerage.
type BrokerRejectionError struct {
	Reason string
}

func (e *BrokerRejectionError) Error() string {
	return fmt.Sprintf("broker rejected order: %s", e.Reason)
}

// IsRiskViolation reports whether err is (or wraps) a risk gate rejection.
func IsRiskViolation(err error) bool {
	var rv *RiskViolationError
	return errors.As(err, &rv)
}

// IsBrokerRejection reports whether err is (or wraps) a brokerage rejection.
func IsBrokerRejection(err error) bool {
	var br *BrokerRejectionError
	return errors.As(err, &br)
}
