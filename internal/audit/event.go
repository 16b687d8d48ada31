package audit

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/crawl-admission/internal/admission"
)

// Event is one admission decision as stored in the trail.
type Event struct {
	// TenantID is empty when the caller failed authentication.
	TenantID string
	// JobID is set for accepted and replayed submissions.
	JobID   string
	Outcome string
	Reason  string
	Status  int
	Stage   string
	URL     string
	TS      time.Time
}

// FromRecord converts a pipeline record into an Event.
func FromRecord(rec admission.DecisionRecord) Event {
	return Event{
		TenantID: rec.TenantID,
		JobID:    rec.JobID,
		Outcome:  rec.Outcome,
		Reason:   string(rec.Reason),
		Status:   rec.Status,
		Stage:    rec.Stage.String(),
		URL:      rec.URL,
		TS:       rec.At.UTC(),
	}
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Outcome {
	case admission.DecisionAccepted, admission.DecisionReplayed:
		if e.JobID == "" {
			return fmt.Errorf("%s event requires job id", e.Outcome)
		}
	case admission.DecisionRejected:
		if e.Reason == "" {
			return errors.New("rejected event requires reason")
		}
	default:
		return fmt.Errorf("unknown outcome %q", e.Outcome)
	}
	if e.Status < 100 || e.Status > 599 {
		return fmt.Errorf("invalid status %d", e.Status)
	}
	return nil
}
