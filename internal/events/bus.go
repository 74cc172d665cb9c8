package events

import (
	"sync"
)

const subscriberBuffer = 16

// Bus fans AgentEvents out to per-conversation watchers. Publishing never
// blocks: a subscriber that stops draining loses events rather than
// stalling the pipeline.
type Bus struct {
	mu   sync.Mutex
	subs map[string]map[int]chan AgentEvent
	next int
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[int]chan AgentEvent)}
}

// Subscribe registers a watcher for one conversation. The returned cancel
// func must be called when the watcher goes away; it closes the channel.
func (b *Bus) Subscribe(conversationID string) (<-chan AgentEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan AgentEvent, subscriberBuffer)
	id := b.next
	b.next++
	if b.subs[conversationID] == nil {
		b.subs[conversationID] = make(map[int]chan AgentEvent)
	}
	b.subs[conversationID][id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if watchers, ok := b.subs[conversationID]; ok {
			if sub, ok := watchers[id]; ok {
				delete(watchers, id)
				close(sub)
			}
			if len(watchers) == 0 {
				delete(b.subs, conversationID)
			}
		}
	}
	return ch, cancel
}

// Publish delivers an event to every watcher of its conversation,
// dropping it for watchers whose buffer is full.
func (b *Bus) Publish(event AgentEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[event.ConversationID] {
		select {
		case ch <- event:
		default:
		}
	}
}

// Watchers reports the subscriber count for a conversation.
func (b *Bus) Watchers(conversationID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[conversationID])
}
