package events

import (
	"sync"

	"muse/internal/logging"
)

const dispatchQueueSize = 256

// Dispatcher is the asynchronous Logger used by the pipeline. Events are
// queued on a bounded channel and delivered by a background goroutine to
// the structured log and, for agent events, the watch bus. A full queue
// drops the event.
type Dispatcher struct {
	queue   chan any
	logger  logging.Logger
	bus     *Bus
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// NewDispatcher starts the delivery goroutine. bus may be nil when no
// live watchers are wanted (CLI runs).
func NewDispatcher(logger logging.Logger, bus *Bus) *Dispatcher {
	d := &Dispatcher{
		queue:   make(chan any, dispatchQueueSize),
		logger:  logging.OrNop(logger),
		bus:     bus,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer close(d.stopped)
	for {
		select {
		case item := <-d.queue:
			d.deliver(item)
		case <-d.done:
			// Drain whatever was enqueued before Close.
			for {
				select {
				case item := <-d.queue:
					d.deliver(item)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(item any) {
	switch event := item.(type) {
	case AgentEvent:
		d.logger.Info("agent event: kind=%s conversation=%s suggestion=%s job=%s",
			event.Kind, event.ConversationID, event.SuggestionID, event.JobID)
		if d.bus != nil {
			d.bus.Publish(event)
		}
	case NavigationEvent:
		d.logger.Debug("navigation: conversation=%s %s -> %s", event.ConversationID, event.From, event.To)
	case ErrorEvent:
		d.logger.Warn("pipeline error: stage=%s job=%s: %s", event.Stage, event.JobID, event.Message)
	}
}

func (d *Dispatcher) enqueue(item any) {
	select {
	case d.queue <- item:
	default:
		// Observability must never stall the pipeline.
	}
}

func (d *Dispatcher) LogAgentEvent(event AgentEvent) { d.enqueue(event) }

func (d *Dispatcher) LogNavigation(event NavigationEvent) { d.enqueue(event) }

func (d *Dispatcher) LogError(event ErrorEvent) { d.enqueue(event) }

// Close stops the delivery goroutine after draining queued events.
func (d *Dispatcher) Close() {
	d.once.Do(func() { close(d.done) })
	<-d.stopped
}

var _ Logger = (*Dispatcher)(nil)
