package runstatus

import (
	"maps"
	"slices"
	"time"
)

// The functions below hold the transition rules shared by the document
// drivers (file, memory). Each returns whether the record changed.

func idle() RunStatus {
	return RunStatus{Recipients: map[string]RecipientStatus{}}
}

func (s RunStatus) clone() RunStatus {
	cp := s
	cp.Recipients = maps.Clone(s.Recipients)
	if cp.Recipients == nil {
		cp.Recipients = map[string]RecipientStatus{}
	}
	cp.FinalizedKeys = slices.Clone(s.FinalizedKeys)
	if s.StartTime != nil {
		t := *s.StartTime
		cp.StartTime = &t
	}
	if s.EndTime != nil {
		t := *s.EndTime
		cp.EndTime = &t
	}
	return cp
}

func (s *RunStatus) start(total int, executionID string, now time.Time) bool {
	if s.IsRunning {
		return false
	}
	*s = idle()
	s.IsRunning = true
	s.ExecutionID = executionID
	s.StartTime = &now
	s.TotalRecipients = total
	return true
}

func (s *RunStatus) setStep(step, recipientName string) bool {
	if !s.IsRunning {
		return false
	}
	s.CurrentStep = step
	s.CurrentRecipient = recipientName
	return true
}

func (s *RunStatus) upsertRecipient(key, name, phone string, st Status, detail string, now time.Time) bool {
	// Updates that arrive after an emergency reset (or after the run ended)
	// must not resurrect counters on an idle record.
	if !s.IsRunning {
		return false
	}
	if s.finalized(key) {
		return false
	}
	if s.Recipients == nil {
		s.Recipients = map[string]RecipientStatus{}
	}
	s.Recipients[key] = RecipientStatus{Name: name, Phone: phone, Status: st, Detail: detail, UpdatedAt: now}
	if st.Terminal() {
		s.FinalizedKeys = append(s.FinalizedKeys, key)
		s.ProcessedCount++
		if st == StatusSuccess {
			s.SuccessCount++
		} else {
			s.FailureCount++
		}
	}
	return true
}

func (s *RunStatus) end(now time.Time) bool {
	s.IsRunning = false
	s.EndTime = &now
	return true
}
