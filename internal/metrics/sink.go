package metrics

import (
	"context"
	"errors"
	"net"
	"time"
)

// Sink records dispatch metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
type Sink interface {
	// Gateway metrics
	GatewayAttempt(op string, attempt int, statusClass string, duration time.Duration)
	GatewayRetry(op, reason string)
	GatewayProbe(healthy bool)

	// Run metrics
	RunStarted(total int)
	RunFinished(duration time.Duration, interrupted bool)
	RunRejected(reason string)
	RecipientOutcome(outcome string)

	// EventBus metrics
	EventsDropped(total uint64)
}

// Gateway operations.
const (
	OpText  = "text"
	OpMedia = "media"
	OpProbe = "probe"
)

// Outcome constants for RecipientOutcome.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
)

// StatusClass constants for GatewayAttempt.
const (
	StatusClass2xx             = "2xx"
	StatusClass4xx             = "4xx"
	StatusClass5xx             = "5xx"
	StatusClassTimeout         = "timeout"
	StatusClassConnectionError = "connection_error"
	StatusClassOtherError      = "other_error"
)

// ClassifyStatus maps a status code and transport error to a status class.
func ClassifyStatus(statusCode int, err error) string {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return StatusClassTimeout
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return StatusClassTimeout
		}
		var oe *net.OpError
		if errors.As(err, &oe) {
			return StatusClassConnectionError
		}
		var de *net.DNSError
		if errors.As(err, &de) {
			return StatusClassConnectionError
		}
		return StatusClassOtherError
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		return StatusClass2xx
	case statusCode >= 400 && statusCode < 500:
		return StatusClass4xx
	case statusCode >= 500:
		return StatusClass5xx
	default:
		return StatusClassOtherError
	}
}
