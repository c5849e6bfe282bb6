package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
)

type outcome int

const (
	outcomeOK outcome = iota
	// outcomeFatal ends the retry loop at once (bad credentials, unknown
	// instance, payload too large).
	outcomeFatal
	outcomeRateLimited
	outcomeTimeout
	// outcomeRetry covers every other HTTP, transport or decode failure.
	outcomeRetry
)

func (o outcome) String() string {
	switch o {
	case outcomeOK:
		return "ok"
	case outcomeFatal:
		return "fatal"
	case outcomeRateLimited:
		return "rate_limited"
	case outcomeTimeout:
		return "timeout"
	default:
		return "error"
	}
}

// classify maps one attempt's result to a retry decision. media enables the
// 413 shortcut, which text sends treat as a generic HTTP error.
func classify(media bool, status int, err error) outcome {
	if err != nil {
		if isTimeout(err) {
			return outcomeTimeout
		}
		return outcomeRetry
	}
	switch {
	case status >= 200 && status < 300:
		return outcomeOK
	case status == http.StatusUnauthorized, status == http.StatusNotFound:
		return outcomeFatal
	case status == http.StatusRequestEntityTooLarge && media:
		return outcomeFatal
	case status == http.StatusTooManyRequests:
		return outcomeRateLimited
	default:
		return outcomeRetry
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
