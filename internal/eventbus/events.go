package eventbus

import "time"

// Event types published by the dispatch engine.
const (
	TypeRunStarted       = "run.started"
	TypeRecipientUpdated = "recipient.updated"
	TypeRunFinished      = "run.finished"
	TypeRunRejected      = "run.rejected"
)

type RunStarted struct {
	ExecutionID string
	JobID       string
	Total       int
	HasMessage  bool
	Attachment  string
}

type RecipientUpdated struct {
	Key    string
	Name   string
	Phone  string
	Status string
	Detail string
}

type RunFinished struct {
	ExecutionID string
	Total       int
	Processed   int
	Succeeded   int
	Failed      int
	Interrupted bool
	Duration    time.Duration
	Error       string
}

type RunRejected struct {
	JobID  string
	Reason string
}
