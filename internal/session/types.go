package session

import (
	"time"

	"github.com/castofly/remedy/pkg/schema"
)

// Session is the live record of one remediation run over a single work item.
type Session struct {
	ID           string                 `json:"id"`
	ItemID       string                 `json:"item_id"`
	ProjectID    string                 `json:"project_id"`
	Status       schema.SessionStatus   `json:"status"`
	Phases       []schema.Phase         `json:"phases"`
	CurrentPhase schema.Phase           `json:"current_phase,omitempty"`
	Context      *schema.SessionContext `json:"context,omitempty"`
	StartedAt    time.Time              `json:"started_at"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty"`
	Err          *schema.RemedyError    `json:"error,omitempty"`
}

// clone returns a deep-enough copy for handing out of the store. Context is
// shared intentionally: callers mutate it only through UpdateContext.
func (s *Session) clone() *Session {
	cp := *s
	cp.Phases = append([]schema.Phase(nil), s.Phases...)
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// validTransitions is the session lifecycle table. Terminal states have no
// outgoing edges; a timeout may fire before the pipeline ever starts, so
// created -> timeout is allowed.
var validTransitions = map[schema.SessionStatus][]schema.SessionStatus{
	schema.SessionStatusCreated: {schema.SessionStatusRunning, schema.SessionStatusTimeout},
	schema.SessionStatusRunning: {schema.SessionStatusCompleted, schema.SessionStatusFailed, schema.SessionStatusTimeout},
}

func isValidTransition(from, to schema.SessionStatus) bool {
	for _, a := range validTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

func statusEvent(to schema.SessionStatus) string {
	switch to {
	case schema.SessionStatusRunning:
		return schema.EventSessionRunning
	case schema.SessionStatusCompleted:
		return schema.EventSessionCompleted
	case schema.SessionStatusFailed:
		return schema.EventSessionFailed
	case schema.SessionStatusTimeout:
		return schema.EventSessionTimedOut
	default:
		return ""
	}
}
