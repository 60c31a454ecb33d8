// Package broadcast implements the in-process hub that fans chat events out
// to live stream subscribers.
//
// Every subscriber owns a bounded channel. Publishing never blocks: when a
// subscriber's buffer is full it is removed and its channel closed, and the
// client is expected to reconnect and refetch history. All publishes are
// serialized by the hub, so events from a single caller arrive in order.
//
// While at least one subscriber is registered, a heartbeat goroutine emits a
// ping event on a fixed interval. It stops when the last subscriber leaves.
package broadcast

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-live-chat/internal/observability"
)

// Kind names an event on the stream.
type Kind string

// Event kinds.
const (
	KindReady   Kind = "ready"
	KindMessage Kind = "message"
	KindClear   Kind = "clear"
	KindDelete  Kind = "delete"
	KindWarn    Kind = "warn"
	KindBan     Kind = "ban"
	KindPurge   Kind = "purge"
	KindPing    Kind = "ping"
)

// Event is one item delivered to subscribers. Data is encoded by the
// transport (JSON for the HTTP stream).
type Event struct {
	Kind Kind
	Data any
}

// Options configures a Hub.
type Options struct {
	// Buffer is the per-subscriber queue length (min 1).
	Buffer int
	// Heartbeat is the ping interval. Zero disables heartbeats.
	Heartbeat time.Duration
	Logger    zerolog.Logger
}

// Subscriber is a handle returned by Subscribe.
type Subscriber struct {
	id       string
	nickname string
	ch       chan Event
	once     sync.Once
}

// ID returns the subscriber's unique id.
func (s *Subscriber) ID() string { return s.id }

// Nickname returns the authenticated identity, or "" for public streams.
func (s *Subscriber) Nickname() string { return s.nickname }

// Events returns the receive side. It is closed when the subscriber is
// removed for any reason.
func (s *Subscriber) Events() <-chan Event { return s.ch }

func (s *Subscriber) close() { s.once.Do(func() { close(s.ch) }) }

// Hub is the subscriber registry. Construct with NewHub.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]*Subscriber
	buffer int
	every  time.Duration
	log    zerolog.Logger
	closed bool

	stopBeat chan struct{}
	beatDone chan struct{}
}

// NewHub returns an empty hub.
func NewHub(opts Options) *Hub {
	if opts.Buffer < 1 {
		opts.Buffer = 1
	}
	return &Hub{
		subs:   make(map[string]*Subscriber),
		buffer: opts.Buffer,
		every:  opts.Heartbeat,
		log:    opts.Logger.With().Str("component", "hub").Logger(),
	}
}

// Subscribe registers a subscriber and queues a ready event for it. The
// heartbeat starts with the first subscriber. After Close, Subscribe returns
// a handle whose channel is already closed.
func (h *Hub) Subscribe(nickname string) *Subscriber {
	s := &Subscriber{
		id:       uuid.NewString(),
		nickname: nickname,
		ch:       make(chan Event, h.buffer+1),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		s.close()
		return s
	}
	s.ch <- Event{Kind: KindReady, Data: map[string]string{"id": s.id}}
	h.subs[s.id] = s
	if len(h.subs) == 1 {
		h.startHeartbeatLocked()
	}
	observability.SetSubscribers(len(h.subs))
	h.log.Debug().Str("subscriber", s.id).Str("nickname", nickname).Int("subscribers", len(h.subs)).Msg("subscribed")
	return s
}

// Unsubscribe removes s. Calling it more than once, or after s was dropped,
// is a no-op.
func (h *Hub) Unsubscribe(s *Subscriber) {
	if s == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(s)
}

// Publish enqueues one event for every subscriber.
func (h *Hub) Publish(kind Kind, data any) {
	h.PublishAll(Event{Kind: kind, Data: data})
}

// PublishAll enqueues events as one contiguous group: no other publish
// interleaves, and a subscriber either receives the whole group or is
// dropped.
func (h *Hub) PublishAll(events ...Event) {
	if len(events) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ev := range events {
		observability.EventPublished(string(ev.Kind))
	}
	h.fanoutLocked(events)
}

// Len returns the number of registered subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close removes every subscriber, closing their channels, and stops the
// heartbeat. Later Subscribe calls get closed handles.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for _, s := range h.subs {
		delete(h.subs, s.id)
		s.close()
	}
	observability.SetSubscribers(0)
	stop, done := h.stopBeat, h.beatDone
	h.stopBeat, h.beatDone = nil, nil
	h.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	h.log.Info().Msg("hub closed")
}

// fanoutLocked delivers events to each subscriber without blocking. A
// subscriber lacking room for the whole group is dropped. Caller holds h.mu.
func (h *Hub) fanoutLocked(events []Event) {
	for _, s := range h.subs {
		if cap(s.ch)-len(s.ch) < len(events) {
			h.log.Warn().Str("subscriber", s.id).Str("nickname", s.nickname).Msg("subscriber buffer full; dropping")
			observability.SubscriberDropped()
			h.removeLocked(s)
			continue
		}
		for _, ev := range events {
			s.ch <- ev
		}
	}
}

// removeLocked deletes s and stops the heartbeat when the set empties.
// Caller holds h.mu.
func (h *Hub) removeLocked(s *Subscriber) {
	if _, ok := h.subs[s.id]; !ok {
		s.close()
		return
	}
	delete(h.subs, s.id)
	s.close()
	observability.SetSubscribers(len(h.subs))
	h.log.Debug().Str("subscriber", s.id).Int("subscribers", len(h.subs)).Msg("unsubscribed")
	if len(h.subs) == 0 {
		h.stopHeartbeatLocked()
	}
}

func (h *Hub) startHeartbeatLocked() {
	if h.every <= 0 || h.stopBeat != nil {
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	h.stopBeat, h.beatDone = stop, done
	go h.heartbeat(stop, done)
}

// stopHeartbeatLocked signals the heartbeat to exit without waiting; the
// goroutine may be blocked on h.mu. Caller holds h.mu.
func (h *Hub) stopHeartbeatLocked() {
	if h.stopBeat == nil {
		return
	}
	close(h.stopBeat)
	h.stopBeat, h.beatDone = nil, nil
}

func (h *Hub) heartbeat(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	t := time.NewTicker(h.every)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-t.C:
			h.mu.Lock()
			select {
			case <-stop:
				h.mu.Unlock()
				return
			default:
			}
			h.fanoutLocked([]Event{{Kind: KindPing, Data: map[string]int64{"ts": now.Unix()}}})
			h.mu.Unlock()
			observability.HeartbeatSent()
		}
	}
}
