package metrics

import "time"

// NoopSink is used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

func NewNoopSink() *NoopSink { return &NoopSink{} }

func (n *NoopSink) GatewayAttempt(op string, attempt int, statusClass string, d time.Duration) {}
func (n *NoopSink) GatewayRetry(op, reason string)                                             {}
func (n *NoopSink) GatewayProbe(healthy bool)                                                  {}
func (n *NoopSink) RunStarted(total int)                                                       {}
func (n *NoopSink) RunFinished(duration time.Duration, interrupted bool)                       {}
func (n *NoopSink) RunRejected(reason string)                                                  {}
func (n *NoopSink) RecipientOutcome(outcome string)                                            {}
func (n *NoopSink) EventsDropped(total uint64)                                                 {}
