package gateway

import (
	"context"
	"time"
)

// OpPolicy holds the retry timings of one gateway operation.
type OpPolicy struct {
	Timeout           time.Duration // per attempt
	RateLimitCooldown time.Duration // after HTTP 429
	TimeoutBackoff    time.Duration // after a request timeout
	ErrorBackoff      time.Duration // after any other failure
}

// Policy is the retry policy shared by SendText and SendMedia.
type Policy struct {
	MaxAttempts  int
	Text         OpPolicy
	Media        OpPolicy
	ProbeTimeout time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Text: OpPolicy{
			Timeout:           30 * time.Second,
			RateLimitCooldown: 60 * time.Second,
			TimeoutBackoff:    10 * time.Second,
			ErrorBackoff:      30 * time.Second,
		},
		Media: OpPolicy{
			Timeout:           60 * time.Second,
			RateLimitCooldown: 120 * time.Second,
			TimeoutBackoff:    20 * time.Second,
			ErrorBackoff:      60 * time.Second,
		},
		ProbeTimeout: 10 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultPolicy.
func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	p.Text = p.Text.withDefaults(d.Text)
	p.Media = p.Media.withDefaults(d.Media)
	if p.ProbeTimeout <= 0 {
		p.ProbeTimeout = d.ProbeTimeout
	}
	return p
}

func (o OpPolicy) withDefaults(d OpPolicy) OpPolicy {
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if o.RateLimitCooldown <= 0 {
		o.RateLimitCooldown = d.RateLimitCooldown
	}
	if o.TimeoutBackoff <= 0 {
		o.TimeoutBackoff = d.TimeoutBackoff
	}
	if o.ErrorBackoff <= 0 {
		o.ErrorBackoff = d.ErrorBackoff
	}
	return o
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
