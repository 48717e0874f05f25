package events

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prabhakaran-jm/eks-chaos-guardian/pkg/types"
)

// EventType represents the type of event
type EventType string

const (
	EventEpisodeOpened     EventType = "episode.opened"
	EventEpisodeState      EventType = "episode.state"
	EventEpisodeClosed     EventType = "episode.closed"
	EventApprovalRequested EventType = "approval.requested"
	EventApprovalResolved  EventType = "approval.resolved"
	EventActionApplied     EventType = "action.applied"
	EventActionFailed      EventType = "action.failed"
	EventActionRolledBack  EventType = "action.rolledback"
	EventRunbookReused     EventType = "runbook.reused"
	EventRunbookLearned    EventType = "runbook.learned"
)

// Event represents one item in the episode audit stream
type Event struct {
	ID        string
	Type      EventType
	EpisodeID string
	Timestamp time.Time
	Message   string
	Metadata  map[string]string
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker manages event subscriptions and distribution
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100), // Buffer up to 100 events
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50) // Buffer per subscriber
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers
func (b *Broker) Publish(event *Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

// PublishState publishes an episode state transition
func (b *Broker) PublishState(ep *types.Episode, message string) {
	b.Publish(&Event{
		Type:      EventEpisodeState,
		EpisodeID: ep.ID,
		Message:   message,
		Metadata: map[string]string{
			"state":  string(ep.State),
			"reason": ep.Reason,
			"target": ep.Target.String(),
		},
	})
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
