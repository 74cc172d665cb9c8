// Package events carries the pipeline's fire-and-forget observability
// stream. Emission never blocks and never fails the caller; a slow or
// broken sink drops events instead of stalling the state machine.
package events

import (
	"time"
)

// AgentEvent is one lifecycle notification for a suggestion or job.
type AgentEvent struct {
	Kind           string         `json:"kind"` // suggested, confirmed, executing, completed, failed, cancelled, expired
	ConversationID string         `json:"conversationId"`
	SuggestionID   string         `json:"suggestionId,omitempty"`
	JobID          string         `json:"jobId,omitempty"`
	AgentType      string         `json:"agentType,omitempty"`
	Detail         map[string]any `json:"detail,omitempty"`
	At             time.Time      `json:"at"`
}

// NavigationEvent records a UI route change relevant to in-flight jobs.
type NavigationEvent struct {
	ConversationID string    `json:"conversationId"`
	From           string    `json:"from"`
	To             string    `json:"to"`
	At             time.Time `json:"at"`
}

// ErrorEvent records a pipeline failure for diagnostics.
type ErrorEvent struct {
	ConversationID string    `json:"conversationId"`
	JobID          string    `json:"jobId,omitempty"`
	Stage          string    `json:"stage"`
	Message        string    `json:"message"`
	At             time.Time `json:"at"`
}

// Logger is the pipeline's observability sink. Implementations must not
// block and must swallow their own failures.
type Logger interface {
	LogAgentEvent(event AgentEvent)
	LogNavigation(event NavigationEvent)
	LogError(event ErrorEvent)
}

type nopLogger struct{}

func (nopLogger) LogAgentEvent(AgentEvent) {}

func (nopLogger) LogNavigation(NavigationEvent) {}

func (nopLogger) LogError(ErrorEvent) {}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	return nopLogger{}
}

// OrNop substitutes a no-op sink for a nil Logger.
func OrNop(l Logger) Logger {
	if l == nil {
		return Nop()
	}
	return l
}
