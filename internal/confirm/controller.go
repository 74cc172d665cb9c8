package confirm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"muse/internal/events"
	"muse/internal/executor"
	"muse/internal/intent"
	"muse/internal/logging"
)

const (
	defaultStateCapacity = 4096
	defaultSuggestionTTL = 15 * time.Minute
)

// Outcome is what a completed run leaves behind for the UI.
type Outcome struct {
	Artifact          *executor.Artifact
	ChatMessageID     string
	LibraryMaterialID string
}

// Runner executes one confirmed job through generation and persistence.
// The controller never calls it twice for the same job id.
type Runner interface {
	Run(ctx context.Context, job executor.Job) (Outcome, error)
}

// Options tune the controller. Zero values select the defaults.
type Options struct {
	StateCapacity int
	SuggestionTTL time.Duration
	Now           func() time.Time
}

// Controller is the suggestion state machine. States live in a bounded LRU;
// abandoned suggestions age out instead of leaking.
type Controller struct {
	mu     sync.Mutex
	states *lru.Cache[string, *State]
	byJob  map[string]string // jobID -> suggestionID

	runner Runner
	events events.Logger
	logger logging.Logger
	ttl    time.Duration
	now    func() time.Time

	running sync.WaitGroup
}

// NewController wires a controller over a runner.
func NewController(runner Runner, eventLogger events.Logger, logger logging.Logger, opts Options) (*Controller, error) {
	if runner == nil {
		return nil, fmt.Errorf("confirm: runner is required")
	}
	capacity := opts.StateCapacity
	if capacity <= 0 {
		capacity = defaultStateCapacity
	}
	ttl := opts.SuggestionTTL
	if ttl <= 0 {
		ttl = defaultSuggestionTTL
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	c := &Controller{
		byJob:  make(map[string]string),
		runner: runner,
		events: events.OrNop(eventLogger),
		logger: logging.OrNop(logger),
		ttl:    ttl,
		now:    now,
	}
	states, err := lru.NewWithEvict[string, *State](capacity, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("confirm: state cache: %w", err)
	}
	c.states = states
	return c, nil
}

func (c *Controller) onEvict(suggestionID string, state *State) {
	if state != nil && state.JobID != "" {
		delete(c.byJob, state.JobID)
	}
}

// Suggest registers a new suggestion for a chat message and returns its
// state. The suggestion sits in Suggested until confirmed, cancelled, or
// expired; navigating away leaves it untouched.
func (c *Controller) Suggest(conversationID, messageID, userID string, suggestion intent.Suggestion) *State {
	now := c.now()
	state := &State{
		SuggestionID:   uuid.NewString(),
		ConversationID: conversationID,
		MessageID:      messageID,
		UserID:         userID,
		AgentType:      suggestion.AgentType,
		Confidence:     suggestion.Confidence,
		Reasoning:      suggestion.Reasoning,
		Params:         suggestion.PrefillParams,
		Status:         StatusSuggested,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	c.mu.Lock()
	c.states.Add(state.SuggestionID, state)
	snapshot := state.clone()
	c.mu.Unlock()

	c.emit("suggested", snapshot)
	return snapshot
}

// Confirm transitions a suggestion to Confirmed and dispatches its job.
// It is idempotent: a suggestion already confirmed or executing returns
// the original job id without starting a second execution.
func (c *Controller) Confirm(ctx context.Context, suggestionID string) (string, error) {
	c.mu.Lock()
	state, ok := c.states.Get(suggestionID)
	if !ok {
		c.mu.Unlock()
		return "", fmt.Errorf("confirm: unknown suggestion %s", suggestionID)
	}
	c.expireLocked(state)

	switch state.Status {
	case StatusConfirmed, StatusExecuting, StatusCompleted:
		jobID := state.JobID
		c.mu.Unlock()
		return jobID, nil
	case StatusCancelled:
		c.mu.Unlock()
		return "", fmt.Errorf("confirm: suggestion %s was cancelled", suggestionID)
	case StatusExpired:
		c.mu.Unlock()
		return "", fmt.Errorf("confirm: suggestion %s has expired", suggestionID)
	case StatusFailed:
		c.mu.Unlock()
		return "", fmt.Errorf("confirm: suggestion %s already failed", suggestionID)
	}

	state.Status = StatusConfirmed
	state.JobID = uuid.NewString()
	state.UpdatedAt = c.now()
	c.byJob[state.JobID] = state.SuggestionID
	confirmed := state.clone()

	// Dispatch inside the same critical section so a racing Confirm can
	// never observe Confirmed without a job underway.
	state.Status = StatusExecuting
	state.UpdatedAt = c.now()
	job := executor.Job{
		JobID:          state.JobID,
		ConversationID: state.ConversationID,
		UserID:         state.UserID,
		AgentType:      state.AgentType,
		Params:         confirmed.Params,
		StartedAt:      state.UpdatedAt,
	}
	executing := state.clone()
	c.mu.Unlock()

	c.emit("confirmed", confirmed)
	c.emit("executing", executing)

	c.running.Add(1)
	go c.run(job)

	return job.JobID, nil
}

// run executes the dispatched job on a background context: once a paid
// provider call is in flight, a closed HTTP request must not abort it.
func (c *Controller) run(job executor.Job) {
	defer c.running.Done()
	outcome, err := c.runner.Run(context.Background(), job)
	c.settle(job.JobID, outcome, err)
}

func (c *Controller) settle(jobID string, outcome Outcome, err error) {
	c.mu.Lock()
	suggestionID, ok := c.byJob[jobID]
	if !ok {
		c.mu.Unlock()
		c.logger.Warn("settle for unknown job %s", jobID)
		return
	}
	state, ok := c.states.Get(suggestionID)
	if !ok {
		c.mu.Unlock()
		return
	}
	if err != nil {
		state.Status = StatusFailed
		state.FailureReason = err.Error()
	} else {
		state.Status = StatusCompleted
		state.ChatMessageID = outcome.ChatMessageID
		state.LibraryMaterialID = outcome.LibraryMaterialID
		if outcome.Artifact != nil {
			state.DurableURL = outcome.Artifact.DurableURL
		}
	}
	state.UpdatedAt = c.now()
	snapshot := state.clone()
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("job %s failed: %v", jobID, err)
		c.emit("failed", snapshot)
		return
	}
	c.emit("completed", snapshot)
}

// Cancel declines a suggestion. Before dispatch it is a real cancellation;
// after dispatch it only marks the state dismissed, the in-flight job runs
// to completion and its result is still persisted.
func (c *Controller) Cancel(suggestionID string) error {
	c.mu.Lock()
	state, ok := c.states.Get(suggestionID)
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("confirm: unknown suggestion %s", suggestionID)
	}
	c.expireLocked(state)

	var kind string
	switch state.Status {
	case StatusSuggested:
		state.Status = StatusCancelled
		state.UpdatedAt = c.now()
		kind = "cancelled"
	case StatusConfirmed, StatusExecuting, StatusCompleted:
		state.Dismissed = true
		state.UpdatedAt = c.now()
		kind = "dismissed"
	default:
		// Already terminal without a job; nothing to do.
	}
	snapshot := state.clone()
	c.mu.Unlock()

	if kind != "" {
		c.emit(kind, snapshot)
	}
	return nil
}

// Get returns a copy of the state, applying lazy expiry first.
func (c *Controller) Get(suggestionID string) (*State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.states.Get(suggestionID)
	if !ok {
		return nil, false
	}
	c.expireLocked(state)
	return state.clone(), true
}

// GetByJob returns a copy of the state owning a job id.
func (c *Controller) GetByJob(jobID string) (*State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	suggestionID, ok := c.byJob[jobID]
	if !ok {
		return nil, false
	}
	state, ok := c.states.Get(suggestionID)
	if !ok {
		return nil, false
	}
	return state.clone(), true
}

// Wait blocks until all dispatched jobs have settled. Used by tests and
// by graceful shutdown.
func (c *Controller) Wait() {
	c.running.Wait()
}

// expireLocked applies the suggestion TTL. Only un-confirmed suggestions
// expire; anything with a job keeps its state.
func (c *Controller) expireLocked(state *State) {
	if state.Status != StatusSuggested {
		return
	}
	if c.now().Sub(state.CreatedAt) < c.ttl {
		return
	}
	state.Status = StatusExpired
	state.UpdatedAt = c.now()
}

// Sweep expires stale suggestions and drops terminal states older than
// retention. It returns how many entries changed or were removed.
func (c *Controller) Sweep(retention time.Duration) int {
	c.mu.Lock()
	var expired []*State
	var removed []string
	for _, suggestionID := range c.states.Keys() {
		state, ok := c.states.Peek(suggestionID)
		if !ok {
			continue
		}
		before := state.Status
		c.expireLocked(state)
		if state.Status == StatusExpired && before != StatusExpired {
			expired = append(expired, state.clone())
			continue
		}
		if state.Status.Terminal() && c.now().Sub(state.UpdatedAt) >= retention {
			removed = append(removed, suggestionID)
		}
	}
	for _, suggestionID := range removed {
		c.states.Remove(suggestionID)
	}
	c.mu.Unlock()

	for _, snapshot := range expired {
		c.emit("expired", snapshot)
	}
	return len(expired) + len(removed)
}

func (c *Controller) emit(kind string, state *State) {
	c.events.LogAgentEvent(events.AgentEvent{
		Kind:           kind,
		ConversationID: state.ConversationID,
		SuggestionID:   state.SuggestionID,
		JobID:          state.JobID,
		AgentType:      string(state.AgentType),
		At:             c.now(),
	})
}
