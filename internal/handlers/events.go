package handlers

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"fsminer/internal/logging"
	"fsminer/internal/metrics"
	"fsminer/internal/miner"
)

var eventsLog = logging.Component("events")

const (
	eventsWriteWait = 10 * time.Second
	eventsPongWait  = 60 * time.Second
	eventsPingEvery = (eventsPongWait * 9) / 10

	// DefaultSubscriberBuffer is the per-subscriber backlog before a slow
	// subscriber is disconnected.
	DefaultSubscriberBuffer = 256
)

var eventsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// Event is the wire form of a miner notification.
type Event struct {
	Kind     string          `json:"kind"`
	Root     string          `json:"root,omitempty"`
	Path     string          `json:"path,omitempty"`
	Error    string          `json:"error,omitempty"`
	Progress *miner.Progress `json:"progress,omitempty"`
	Time     time.Time       `json:"time"`
}

// NewEvent converts a notification.
func NewEvent(n miner.Notification) Event {
	ev := Event{
		Kind: n.Kind.String(),
		Root: n.Root,
		Path: n.Path,
		Time: n.Time,
	}
	if n.Err != nil {
		ev.Error = n.Err.Error()
	}
	if n.Kind == miner.NotifyProgress || n.Kind == miner.NotifyFinished {
		p := n.Progress
		ev.Progress = &p
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	return ev
}

// matches reports whether the event concerns root. An empty filter matches
// everything.
func (ev Event) matches(root string) bool {
	root = strings.TrimSuffix(root, "/")
	if root == "" {
		return true
	}
	for _, p := range []string{ev.Root, ev.Path} {
		if p == root || strings.HasPrefix(p, root+"/") {
			return true
		}
	}
	return false
}

type subscriber struct {
	send chan Event
	root string
}

// Hub fans notifications out to websocket subscribers. A subscriber whose
// backlog is full is disconnected rather than slowing the others.
type Hub struct {
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	buffer int
	closed bool
}

// NewHub creates a hub. buffer < 1 uses DefaultSubscriberBuffer.
func NewHub(buffer int) *Hub {
	if buffer < 1 {
		buffer = DefaultSubscriberBuffer
	}
	return &Hub{
		subs:   make(map[*subscriber]struct{}),
		buffer: buffer,
	}
}

// Subscribe registers a subscriber for events under root (all when empty).
// The returned channel is closed on Unsubscribe, on Close, or when the
// subscriber falls behind.
func (h *Hub) Subscribe(root string) (<-chan Event, func()) {
	s := &subscriber{send: make(chan Event, h.buffer), root: root}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(s.send)
		return s.send, func() {}
	}
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	metrics.EventSubscribers.Inc()

	return s.send, func() { h.drop(s) }
}

func (h *Hub) drop(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(s)
}

func (h *Hub) dropLocked(s *subscriber) {
	if _, ok := h.subs[s]; !ok {
		return
	}
	delete(h.subs, s)
	close(s.send)
	metrics.EventSubscribers.Dec()
}

// Publish delivers a notification to every matching subscriber without
// blocking.
func (h *Hub) Publish(n miner.Notification) {
	ev := NewEvent(n)

	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		if !ev.matches(s.root) {
			continue
		}
		select {
		case s.send <- ev:
		default:
			eventsLog.Warn("Subscriber fell behind, disconnecting")
			h.dropLocked(s)
		}
	}
}

// Count returns the number of subscribers.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close disconnects every subscriber. Later subscriptions are closed
// immediately.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for s := range h.subs {
		h.dropLocked(s)
	}
}

// ServeEvents upgrades to a websocket and streams notifications as JSON.
// The optional root query parameter limits the stream to one subtree.
func (h *Handlers) ServeEvents(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		writeJSONError(w, "event stream not available", http.StatusServiceUnavailable)
		return
	}
	root := strings.TrimSpace(r.URL.Query().Get("root"))

	conn, err := eventsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		eventsLog.Debug("Upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	events, unsubscribe := h.hub.Subscribe(root)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := conn.SetReadDeadline(time.Now().Add(eventsPongWait)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(eventsPongWait))
	})

	// Reader: consumes control frames and notices the peer going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(eventsPingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if err := conn.SetWriteDeadline(time.Now().Add(eventsWriteWait)); err != nil {
				return
			}
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed")
				_ = conn.WriteMessage(websocket.CloseMessage, msg)
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(eventsWriteWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
