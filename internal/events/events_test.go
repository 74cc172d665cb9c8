package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"muse/internal/logging"
)

func TestBusDeliversToConversationWatchers(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe("conv-1")
	defer cancel()
	other, cancelOther := bus.Subscribe("conv-2")
	defer cancelOther()

	bus.Publish(AgentEvent{Kind: "confirmed", ConversationID: "conv-1", JobID: "job-1"})

	select {
	case event := <-ch:
		assert.Equal(t, "job-1", event.JobID)
	case <-time.After(time.Second):
		t.Fatal("watcher did not receive event")
	}
	select {
	case <-other:
		t.Fatal("event leaked across conversations")
	default:
	}
}

func TestBusPublishNeverBlocks(t *testing.T) {
	bus := NewBus()
	_, cancel := bus.Subscribe("conv-1")
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer*4; i++ {
			bus.Publish(AgentEvent{Kind: "executing", ConversationID: "conv-1"})
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

func TestBusCancelRemovesWatcher(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe("conv-1")
	require.Equal(t, 1, bus.Watchers("conv-1"))

	cancel()
	assert.Zero(t, bus.Watchers("conv-1"))
	_, open := <-ch
	assert.False(t, open, "cancel must close the channel")

	cancel() // second cancel is a no-op
}

func TestDispatcherForwardsAgentEventsToBus(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe("conv-1")
	defer cancel()

	dispatcher := NewDispatcher(logging.Nop(), bus)
	dispatcher.LogAgentEvent(AgentEvent{Kind: "completed", ConversationID: "conv-1", JobID: "job-9", At: time.Now()})
	dispatcher.LogNavigation(NavigationEvent{ConversationID: "conv-1", From: "/chat", To: "/library"})
	dispatcher.LogError(ErrorEvent{ConversationID: "conv-1", Stage: "upload", Message: "boom"})
	dispatcher.Close()

	select {
	case event := <-ch:
		assert.Equal(t, "completed", event.Kind)
		assert.Equal(t, "job-9", event.JobID)
	case <-time.After(time.Second):
		t.Fatal("dispatcher dropped the agent event")
	}
}

func TestDispatcherCloseIsIdempotent(t *testing.T) {
	dispatcher := NewDispatcher(logging.Nop(), nil)
	dispatcher.Close()
	dispatcher.Close()
	// Logging after Close must not panic; the event is silently dropped
	// once the queue fills.
	dispatcher.LogAgentEvent(AgentEvent{Kind: "suggested"})
}
