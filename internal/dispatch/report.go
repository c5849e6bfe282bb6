package dispatch

import (
	"time"
	logx "wadispatch/pkg/logx"
)

// Failure reasons recorded as the recipient's status detail.
const (
	ReasonInvalidPhone     = "invalid phone"
	ReasonMessageFailed    = "message failed"
	ReasonAttachmentFailed = "attachment failed"
	ReasonNoContent        = "no content"

	detailDelivered = "delivered"
)

// Failure is one failed recipient.
type Failure struct {
	Name   string `json:"name"`
	Phone  string `json:"phone"`
	Reason string `json:"reason"`
}

// Delivery is one successful recipient, with its normalized phone.
type Delivery struct {
	Name   string `json:"name"`
	Phone  string `json:"phone"`
	Sector string `json:"sector,omitempty"`
	Site   string `json:"site,omitempty"`
}

// Report summarizes a run. A rejected run has Rejected set and nothing else
// beyond the job identity; a run that started always has its counters.
type Report struct {
	JobID        string `json:"job_id"`
	ExecutionID  string `json:"execution_id,omitempty"`
	Rejected     bool   `json:"rejected"`
	RejectReason string `json:"reject_reason,omitempty"`

	Total       int        `json:"total"`
	Processed   int        `json:"processed"`
	Successes   []Delivery `json:"successes"`
	Failures    []Failure  `json:"failures"`
	Interrupted bool       `json:"interrupted"`
	StopReason  string     `json:"stop_reason,omitempty"`
	ArchivePath string     `json:"archive_path,omitempty"`

	// Err holds an unexpected error recovered inside the loop; Error is its
	// text for rendered reports.
	Err   error  `json:"-"`
	Error string `json:"error,omitempty"`

	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

func (r Report) SuccessCount() int { return len(r.Successes) }
func (r Report) FailureCount() int { return len(r.Failures) }

// Log writes the final summary. Failures and successes are listed one per
// line so the log reads as the run's audit trail.
func (r Report) Log(log logx.Logger) {
	if r.Rejected {
		log.Error("run rejected", logx.String("job_id", r.JobID), logx.String("reason", r.RejectReason))
		return
	}

	fields := []logx.Field{
		logx.String("execution_id", r.ExecutionID),
		logx.Int("total", r.Total),
		logx.Int("processed", r.Processed),
		logx.Int("succeeded", r.SuccessCount()),
		logx.Int("failed", r.FailureCount()),
		logx.Duration("took", r.Duration),
	}
	if r.Interrupted {
		fields = append(fields, logx.Bool("interrupted", true), logx.String("stop_reason", r.StopReason))
	}
	if r.Err != nil {
		fields = append(fields, logx.Err(r.Err))
	}
	if r.FailureCount() > 0 || r.Interrupted || r.Err != nil {
		log.Warn("run finished", fields...)
	} else {
		log.Info("run finished", fields...)
	}

	for _, f := range r.Failures {
		log.Warn("recipient failed", logx.String("name", f.Name), logx.String("phone", f.Phone), logx.String("reason", f.Reason))
	}
	for _, s := range r.Successes {
		log.Info("recipient delivered",
			logx.String("name", s.Name), logx.String("phone", s.Phone),
			logx.String("sector", s.Sector), logx.String("site", s.Site))
	}
}
