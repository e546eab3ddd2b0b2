// Package events fans sync progress out to SSE subscribers and redis.
package events

import (
	"encoding/json"
	"sync"

	"github.com/jgivc/modsync/internal/entity"
	"github.com/jgivc/modsync/internal/metrics"
)

const (
	EventMod  = "mod"
	EventRepo = "repo"

	subscriberBuffer = 64
	sinkSSE          = "sse"
)

// Event is one progress notification. Data holds entity.ModProgress or entity.RepoProgress.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func ModEvent(p entity.ModProgress) Event {
	return Event{Type: EventMod, Data: p}
}

func RepoEvent(p entity.RepoProgress) Event {
	return Event{Type: EventRepo, Data: p}
}

// Broadcaster manages SSE subscribers and publishes events. It implements
// entity.ProgressListener.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan Event]struct{}),
	}
}

// Subscribe adds a new subscriber and returns its event channel.
// The caller must call Unsubscribe when done.
func (b *Broadcaster) Subscribe() chan Event {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	n := len(b.subscribers)
	b.mu.Unlock()
	metrics.SetSSEConnectionsActive(int64(n))

	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
	n := len(b.subscribers)
	b.mu.Unlock()
	metrics.SetSSEConnectionsActive(int64(n))
}

// Publish sends an event to all subscribers. Non-blocking: drops events
// for slow consumers.
func (b *Broadcaster) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			metrics.RecordDroppedEvent(sinkSSE)
		}
	}
	metrics.RecordEvent(event.Type)
}

func (b *Broadcaster) ModProgress(p entity.ModProgress) {
	b.Publish(ModEvent(p))
}

func (b *Broadcaster) RepoProgress(p entity.RepoProgress) {
	b.Publish(RepoEvent(p))
}

func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.subscribers)
}

// MarshalData serializes the event payload alone, the shape SSE clients receive.
func MarshalData(e Event) ([]byte, error) {
	return json.Marshal(e.Data)
}
