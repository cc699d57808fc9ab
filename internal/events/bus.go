package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Event names the configuration or usage change being broadcast.
type Event string

const (
	SiteAdded          Event = "siteAdded"
	SiteUpdated        Event = "siteUpdated"
	SiteDeleted        Event = "siteDeleted"
	GroupAdded         Event = "groupAdded"
	GroupUpdated       Event = "groupUpdated"
	GroupDeleted       Event = "groupDeleted"
	UsageUpdated       Event = "usageUpdated"
	ExtensionGranted   Event = "extensionGranted"
	AccessRestored     Event = "accessRestored"
	PreferencesUpdated Event = "preferencesUpdated"
	DailyReset         Event = "dailyReset"
)

// Broadcast is the envelope delivered to subscribers (SSE clients,
// badge refreshers).
type Broadcast struct {
	Type      string      `json:"type"`
	Event     Event       `json:"event"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

const subscriberBuffer = 16

// Bus is an in-process fan-out of broadcast events. Publishing never
// blocks: a subscriber that has fallen behind loses events rather
// than stalling the publisher.
type Bus struct {
	logger zerolog.Logger

	mu     sync.Mutex
	subs   map[int]chan Broadcast
	nextID int
}

// NewBus creates an event bus.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		logger: logger.With().Str("component", "events").Logger(),
		subs:   make(map[int]chan Broadcast),
	}
}

// Subscribe registers a new subscriber. The returned cancel func
// unregisters it and closes the channel.
func (b *Bus) Subscribe() (<-chan Broadcast, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Broadcast, subscriberBuffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers an event to all current subscribers.
func (b *Bus) Publish(event Event, data interface{}) {
	broadcast := Broadcast{
		Type:      "BROADCAST",
		Event:     event,
		Data:      data,
		Timestamp: time.Now(),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		select {
		case ch <- broadcast:
		default:
			b.logger.Warn().Int("subscriber", id).Str("event", string(event)).Msg("Dropping event for slow subscriber")
		}
	}
}

// SubscriberCount reports the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
