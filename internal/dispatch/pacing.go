package dispatch

import (
	"math/rand/v2"
	"time"
)

// Delay is a humanizing pause of Base ± Jitter, uniformly distributed.
type Delay struct {
	Base   time.Duration
	Jitter time.Duration
}

// Pick draws one delay using rnd (a source of [0,1) floats). Never negative.
func (d Delay) Pick(rnd func() float64) time.Duration {
	if d.Jitter <= 0 {
		if d.Base < 0 {
			return 0
		}
		return d.Base
	}
	offset := time.Duration((rnd()*2 - 1) * float64(d.Jitter))
	out := d.Base + offset
	if out < 0 {
		return 0
	}
	return out
}

// Pacing controls the engine's throttling and run-level options.
type Pacing struct {
	// MessageMediaDelay separates a recipient's text from its attachment.
	MessageMediaDelay Delay
	// RecipientDelay separates consecutive recipients.
	RecipientDelay Delay
	// GatewayDelayMS is forwarded as the gateway's "delay" field (typing
	// presence before delivery).
	GatewayDelayMS int

	// ArchiveDir receives a timestamped copy of the attachment after a run
	// with at least one success. Empty disables archiving.
	ArchiveDir string

	// AbortOnReset makes the engine stop between recipients once the status
	// store no longer reports a running execution (emergency reset).
	AbortOnReset bool
}

func DefaultPacing() Pacing {
	return Pacing{
		MessageMediaDelay: Delay{Base: 20 * time.Second, Jitter: 8 * time.Second},
		RecipientDelay:    Delay{Base: 30 * time.Second, Jitter: 10 * time.Second},
		ArchiveDir:        "enviados_comunicados",
	}
}

func defaultRand() float64 { return rand.Float64() }
