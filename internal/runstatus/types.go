package runstatus

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUnknownDriver = errors.New("runstatus: unknown driver")
	ErrLockTimeout   = errors.New("runstatus: timed out waiting for status lock")
	ErrClosed        = errors.New("runstatus: store closed")
)

// Status is the per-recipient delivery state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
)

func (s Status) String() string { return string(s) }

// Terminal reports whether no further transition is allowed within a run.
func (s Status) Terminal() bool { return s == StatusSuccess || s == StatusFailed }

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusSuccess, StatusFailed:
		return true
	}
	return false
}

// RecipientStatus is one entry of RunStatus.Recipients.
type RecipientStatus struct {
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Status    Status    `json:"status"`
	Detail    string    `json:"detail"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RunStatus is the persisted, process-wide record of the current (or last)
// dispatch run. The zero value is the idle default.
type RunStatus struct {
	IsRunning        bool                       `json:"is_running"`
	ExecutionID      string                     `json:"execution_id,omitempty"`
	StartTime        *time.Time                 `json:"start_time"`
	EndTime          *time.Time                 `json:"end_time"`
	TotalRecipients  int                        `json:"total_recipients"`
	ProcessedCount   int                        `json:"processed_count"`
	SuccessCount     int                        `json:"success_count"`
	FailureCount     int                        `json:"failure_count"`
	CurrentStep      string                     `json:"current_step,omitempty"`
	CurrentRecipient string                     `json:"current_recipient,omitempty"`
	Recipients       map[string]RecipientStatus `json:"recipients_status"`

	// FinalizedKeys lists the keys already counted into the terminal
	// counters for this run.
	FinalizedKeys []string `json:"finalized_keys,omitempty"`
}

// ProgressPercentage is processed/total*100, or 0 for an empty run.
func (s RunStatus) ProgressPercentage() float64 {
	if s.TotalRecipients <= 0 {
		return 0
	}
	return float64(s.ProcessedCount) / float64(s.TotalRecipients) * 100
}

func (s RunStatus) finalized(key string) bool {
	for _, k := range s.FinalizedKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Store is the single writer of RunStatus. Every mutation is an atomic
// read-modify-write so a concurrent reader never sees a partial record.
type Store interface {
	IsRunning(ctx context.Context) (bool, error)
	// StartExecution returns false when a run is already active.
	StartExecution(ctx context.Context, total int, executionID string) (bool, error)
	UpdateCurrentStep(ctx context.Context, step, recipientName string) error
	UpdateRecipientStatus(ctx context.Context, key, name, phone string, st Status, detail string) error
	EndExecution(ctx context.Context) error
	// ResetStatus unconditionally returns the record to idle defaults.
	ResetStatus(ctx context.Context) error
	Status(ctx context.Context) (RunStatus, error)
	Close() error
}

// ProgressPercentage reads the store and returns the run progress.
func ProgressPercentage(ctx context.Context, st Store) (float64, error) {
	rs, err := st.Status(ctx)
	if err != nil {
		return 0, err
	}
	return rs.ProgressPercentage(), nil
}

// Config configures the status store.
//
// Driver values:
//   - "file": single JSON document with lock file + atomic rename (default)
//   - "sqlite": SQLite database file
//   - "memory": in-process only
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	LockTimeout time.Duration // file only; 0 means default
}
