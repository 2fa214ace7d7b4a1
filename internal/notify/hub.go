package notify

import (
	"log/slog"
	"sync"

	"github.com/cvejlbo/avs-device-sdk/internal/audio"
	"github.com/cvejlbo/avs-device-sdk/internal/kwd"
	"github.com/cvejlbo/avs-device-sdk/internal/metrics"
)

// DefaultSubscriberBuffer is the channel size used when Subscribe is given 0
const DefaultSubscriberBuffer = 32

// Hub keeps a bounded history of detector events and fans them out to live
// subscribers. It implements kwd.KeyWordObserver and kwd.StateObserver.
// Publishing never blocks: a subscriber whose buffer is full misses the
// event.
type Hub struct {
	mu          sync.RWMutex
	recent      []Event
	next        int
	full        bool
	subscribers map[*Subscription]struct{}
	closed      bool

	published uint64
	keywords  uint64
	dropped   uint64

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Subscription receives events published after it was created
type Subscription struct {
	C <-chan Event

	ch      chan Event
	hub     *Hub
	dropped uint64
}

// HubStats represents hub statistics for monitoring
type HubStats struct {
	Published   uint64 `json:"published"`
	Keywords    uint64 `json:"keywords"`
	Dropped     uint64 `json:"dropped"`
	Subscribers int    `json:"subscribers"`
	Retained    int    `json:"retained"`
}

// NewHub creates a hub retaining the last recentSize events
func NewHub(recentSize int, logger *slog.Logger, m *metrics.Metrics) *Hub {
	if recentSize < 0 {
		recentSize = 0
	}
	return &Hub{
		recent:      make([]Event, recentSize),
		subscribers: make(map[*Subscription]struct{}),
		logger:      logger,
		metrics:     m,
	}
}

// OnKeyWordDetected publishes a keyword event
func (h *Hub) OnKeyWordDetected(stream *audio.Stream, keyword string, beginIndex, endIndex audio.Index) {
	h.Publish(NewKeywordEvent(keyword, beginIndex, endIndex))
}

// OnStateChanged publishes a state event
func (h *Hub) OnStateChanged(state kwd.State) {
	h.Publish(NewStateEvent(state))
}

// Publish records ev and offers it to every subscriber
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	if len(h.recent) > 0 {
		h.recent[h.next] = ev
		h.next = (h.next + 1) % len(h.recent)
		if h.next == 0 {
			h.full = true
		}
	}

	h.published++
	if ev.Type == EventKeyword {
		h.keywords++
	}
	h.metrics.RecordEventPublished(string(ev.Type))

	for sub := range h.subscribers {
		select {
		case sub.ch <- ev:
		default:
			sub.dropped++
			h.dropped++
			h.metrics.RecordEventDropped()
			h.logger.Warn("Subscriber buffer full, dropping event",
				slog.String("event_id", ev.ID),
				slog.Uint64("subscriber_dropped", sub.dropped),
			)
		}
	}
}

// Subscribe registers a new subscriber with a channel of size buffer
func (h *Hub) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	ch := make(chan Event, buffer)
	sub := &Subscription{C: ch, ch: ch, hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		close(ch)
		return sub
	}
	h.subscribers[sub] = struct{}{}
	h.metrics.SetSubscribers(len(h.subscribers))
	return sub
}

// Close unsubscribes and closes C. Calling it more than once is a no-op.
func (s *Subscription) Close() {
	h := s.hub
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subscribers[s]; !ok {
		return
	}
	delete(h.subscribers, s)
	close(s.ch)
	h.metrics.SetSubscribers(len(h.subscribers))
}

// Recent returns up to n retained events, oldest first. n <= 0 returns all.
func (h *Hub) Recent(n int) []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var ordered []Event
	if h.full {
		ordered = make([]Event, 0, len(h.recent))
		ordered = append(ordered, h.recent[h.next:]...)
		ordered = append(ordered, h.recent[:h.next]...)
	} else {
		ordered = append([]Event(nil), h.recent[:h.next]...)
	}

	if n > 0 && len(ordered) > n {
		ordered = ordered[len(ordered)-n:]
	}
	return ordered
}

// Stats returns current hub statistics
func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	retained := h.next
	if h.full {
		retained = len(h.recent)
	}
	return HubStats{
		Published:   h.published,
		Keywords:    h.keywords,
		Dropped:     h.dropped,
		Subscribers: len(h.subscribers),
		Retained:    retained,
	}
}

// Close closes every subscription and stops accepting events
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subscribers {
		close(sub.ch)
	}
	h.subscribers = make(map[*Subscription]struct{})
	h.metrics.SetSubscribers(0)
}
