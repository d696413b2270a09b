package eventbus

import (
	"sync"
	"time"
)

// Event is a single published message. Payload is whatever the publisher
// supplied; subscribers are expected to type-assert.
type Event struct {
	Topic       string
	Payload     interface{}
	PublishedAt time.Time
}

// Handler consumes events for a subscribed topic. Handlers run synchronously
// on the publisher's goroutine and must not block.
type Handler func(Event)

type subscriber struct {
	id      uint64
	handler Handler
}

// Subscription identifies one live handler registration and can cancel it.
type Subscription struct {
	bus   *Bus
	topic string
	id    uint64
}

// Cancel removes the subscription from the bus. Cancelling twice is a no-op.
func (s *Subscription) Cancel() {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	subs := s.bus.subs[s.topic]
	for i, sub := range subs {
		if sub.id == s.id {
			s.bus.subs[s.topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	s.bus = nil
}

// Bus is a durable publish/subscribe bus: every published event is appended
// to an in-memory log, and a late subscriber may ask for synchronous replay
// of events already published on its topic.
type Bus struct {
	mu      sync.Mutex
	log     []Event
	byTopic map[string][]int // indexes into log
	subs    map[string][]subscriber
	nextID  uint64
}

func New() *Bus {
	return &Bus{
		byTopic: make(map[string][]int),
		subs:    make(map[string][]subscriber),
	}
}

// Publish appends the event to the log and dispatches it synchronously to
// every current subscriber of the topic. Handlers run outside the bus lock,
// so a handler may publish or subscribe re-entrantly.
func (b *Bus) Publish(topic string, payload interface{}) {
	ev := Event{Topic: topic, Payload: payload, PublishedAt: time.Now()}

	b.mu.Lock()
	b.byTopic[topic] = append(b.byTopic[topic], len(b.log))
	b.log = append(b.log, ev)
	handlers := make([]Handler, len(b.subs[topic]))
	for i, sub := range b.subs[topic] {
		handlers[i] = sub.handler
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

// Subscribe registers a handler for future publications of the topic.
func (b *Bus) Subscribe(topic string, h Handler) *Subscription {
	return b.subscribe(topic, h, false)
}

// SubscribeWithReplay registers a handler and, if the topic has already been
// published, synchronously replays every logged event for it (in publication
// order) before returning. This is the explicit "late subscriber" branch.
func (b *Bus) SubscribeWithReplay(topic string, h Handler) *Subscription {
	return b.subscribe(topic, h, true)
}

func (b *Bus) subscribe(topic string, h Handler, replay bool) *Subscription {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[topic] = append(b.subs[topic], subscriber{id: id, handler: h})
	var backlog []Event
	if replay {
		for _, idx := range b.byTopic[topic] {
			backlog = append(backlog, b.log[idx])
		}
	}
	b.mu.Unlock()

	for _, ev := range backlog {
		h(ev)
	}
	return &Subscription{bus: b, topic: topic, id: id}
}

// Published reports whether the topic has been published at least once.
func (b *Bus) Published(topic string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.byTopic[topic]) > 0
}

// History returns the logged events for a topic, in publication order.
func (b *Bus) History(topic string) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, 0, len(b.byTopic[topic]))
	for _, idx := range b.byTopic[topic] {
		out = append(out, b.log[idx])
	}
	return out
}

// Reset drops the log and all subscriptions, returning the bus to its
// freshly-constructed state.
func (b *Bus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.log = nil
	b.byTopic = make(map[string][]int)
	b.subs = make(map[string][]subscriber)
}
