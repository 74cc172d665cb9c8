// Package confirm owns the suggestion lifecycle. Every status change goes
// through the controller's transition function; nothing else mutates a
// ConfirmationState.
package confirm

import (
	"time"

	"muse/internal/agents"
)

// Status is the lifecycle position of one suggestion.
type Status string

const (
	StatusSuggested Status = "suggested"
	StatusConfirmed Status = "confirmed"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
	StatusExpired   Status = "expired"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusFailed, StatusExpired:
		return true
	}
	return false
}

// State is one suggestion's confirmation record. JobID is set exactly once,
// on the Suggested -> Confirmed transition, and never changes afterwards.
type State struct {
	SuggestionID   string
	ConversationID string
	MessageID      string
	UserID         string
	AgentType      agents.Type
	Confidence     float64
	Reasoning      string
	Params         map[string]any
	Status         Status
	JobID          string
	// Dismissed marks a cancel that arrived after dispatch. The job still
	// runs and persists; the UI hides the result.
	Dismissed         bool
	FailureReason     string
	ChatMessageID     string
	LibraryMaterialID string
	DurableURL        string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (s *State) clone() *State {
	copied := *s
	if s.Params != nil {
		params := make(map[string]any, len(s.Params))
		for k, v := range s.Params {
			params[k] = v
		}
		copied.Params = params
	}
	return &copied
}
