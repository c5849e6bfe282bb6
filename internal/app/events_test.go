package app

import (
	"context"
	"sync"
	"testing"
	"time"
	"wadispatch/internal/eventbus"
	"wadispatch/internal/metrics"
	logx "wadispatch/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	metrics.NoopSink

	mu       sync.Mutex
	started  []int
	finished []bool
	rejected []string
	outcomes []string
}

func (s *recordingSink) RunStarted(total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, total)
}

func (s *recordingSink) RunFinished(_ time.Duration, interrupted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = append(s.finished, interrupted)
}

func (s *recordingSink) RunRejected(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejected = append(s.rejected, reason)
}

func (s *recordingSink) RecipientOutcome(outcome string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, outcome)
}

func TestBridgeEventsRecordsTerminalOutcomesOnly(t *testing.T) {
	bus := eventbus.New()
	sink := &recordingSink{}
	events, unsub := bus.Subscribe(16)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		bridgeEvents(ctx, events, sink, bus, logx.Nop())
	}()

	bus.Publish(eventbus.Event{Type: eventbus.TypeRunStarted, Data: eventbus.RunStarted{Total: 2}})
	bus.Publish(eventbus.Event{Type: eventbus.TypeRecipientUpdated, Data: eventbus.RecipientUpdated{Status: "processing"}})
	bus.Publish(eventbus.Event{Type: eventbus.TypeRecipientUpdated, Data: eventbus.RecipientUpdated{Status: "success"}})
	bus.Publish(eventbus.Event{Type: eventbus.TypeRecipientUpdated, Data: eventbus.RecipientUpdated{Status: "failed"}})
	bus.Publish(eventbus.Event{Type: eventbus.TypeRunFinished, Data: eventbus.RunFinished{Interrupted: true}})
	bus.Publish(eventbus.Event{Type: eventbus.TypeRunRejected, Data: eventbus.RunRejected{Reason: "run_active"}})

	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.rejected) == 1
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, []int{2}, sink.started)
	assert.Equal(t, []bool{true}, sink.finished)
	assert.Equal(t, []string{metrics.OutcomeSuccess, metrics.OutcomeFailed}, sink.outcomes)
	assert.Equal(t, []string{"run_active"}, sink.rejected)
}
