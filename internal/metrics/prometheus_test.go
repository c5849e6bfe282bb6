package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"
	logx "wadispatch/pkg/logx"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func newTestSink(t *testing.T) (*PrometheusSink, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewPrometheusSink(reg, logx.Nop()), reg
}

func TestGatewayAttemptCounts(t *testing.T) {
	s, _ := newTestSink(t)
	s.GatewayAttempt(OpText, 1, StatusClass4xx, 200*time.Millisecond)
	s.GatewayAttempt(OpText, 2, StatusClass2xx, 100*time.Millisecond)
	s.GatewayAttempt(OpMedia, 1, StatusClass2xx, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(s.attemptsTotal.WithLabelValues(OpText, "1", StatusClass4xx)))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.attemptsTotal.WithLabelValues(OpMedia, "1", StatusClass2xx)))
	assert.Equal(t, 3, testutil.CollectAndCount(s.attemptsTotal))
}

func TestRunLifecycleGauges(t *testing.T) {
	s, _ := newTestSink(t)
	s.RunStarted(12)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.runActive))
	assert.Equal(t, 12.0, testutil.ToFloat64(s.runRecipients))

	s.RecipientOutcome(OutcomeSuccess)
	s.RecipientOutcome(OutcomeFailed)
	s.RecipientOutcome(OutcomeSuccess)
	s.RunFinished(time.Minute, false)

	assert.Equal(t, 0.0, testutil.ToFloat64(s.runActive))
	assert.Equal(t, 2.0, testutil.ToFloat64(s.recipientOutcomes.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.runsTotal.WithLabelValues("completed")))

	s.RunRejected("run_active")
	assert.Equal(t, 1.0, testutil.ToFloat64(s.runsTotal.WithLabelValues("rejected_run_active")))
}

func TestEventsDroppedAddsDelta(t *testing.T) {
	s, _ := newTestSink(t)
	s.EventsDropped(3)
	s.EventsDropped(3)
	s.EventsDropped(5)
	assert.Equal(t, 5.0, testutil.ToFloat64(s.eventsDroppedTotal))
}

func TestDoubleRegistrationDoesNotPanic(t *testing.T) {
	reg := prometheus.NewRegistry()
	_ = NewPrometheusSink(reg, logx.Nop())
	assert.NotPanics(t, func() { _ = NewPrometheusSink(reg, logx.Nop()) })
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		code int
		err  error
		want string
	}{
		{200, nil, StatusClass2xx},
		{201, nil, StatusClass2xx},
		{401, nil, StatusClass4xx},
		{429, nil, StatusClass4xx},
		{503, nil, StatusClass5xx},
		{0, context.DeadlineExceeded, StatusClassTimeout},
		{0, fmt.Errorf("post: %w", context.DeadlineExceeded), StatusClassTimeout},
		{0, &net.OpError{Op: "dial", Err: errors.New("connection refused")}, StatusClassConnectionError},
		{0, &net.DNSError{Err: "no such host", Name: "x"}, StatusClassConnectionError},
		{0, errors.New("boom"), StatusClassOtherError},
		{302, nil, StatusClassOtherError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyStatus(tt.code, tt.err), "code=%d err=%v", tt.code, tt.err)
	}
}

func TestNoopSinkSatisfiesSink(t *testing.T) {
	var s Sink = NewNoopSink()
	s.GatewayAttempt(OpProbe, 1, StatusClass2xx, 0)
	s.RunFinished(0, true)
}
