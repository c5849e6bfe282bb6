package app

import (
	"context"
	"wadispatch/internal/eventbus"
	"wadispatch/internal/metrics"
	"wadispatch/internal/runstatus"
	logx "wadispatch/pkg/logx"
)

// bridgeEvents turns dispatch events into metrics until ctx is done or the
// subscription closes.
func bridgeEvents(ctx context.Context, events <-chan eventbus.Event, sink metrics.Sink, bus eventbus.Bus, log logx.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			recordEvent(e, sink)
			sink.EventsDropped(bus.Dropped())
			log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
		}
	}
}

func recordEvent(e eventbus.Event, sink metrics.Sink) {
	switch d := e.Data.(type) {
	case eventbus.RunStarted:
		sink.RunStarted(d.Total)
	case eventbus.RunFinished:
		sink.RunFinished(d.Duration, d.Interrupted)
	case eventbus.RunRejected:
		sink.RunRejected(d.Reason)
	case eventbus.RecipientUpdated:
		switch runstatus.Status(d.Status) {
		case runstatus.StatusSuccess:
			sink.RecipientOutcome(metrics.OutcomeSuccess)
		case runstatus.StatusFailed:
			sink.RecipientOutcome(metrics.OutcomeFailed)
		}
	}
}
