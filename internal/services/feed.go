package services

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/federated-storage/registry/internal/models"
)

const (
	feedWriteWait  = 10 * time.Second
	feedPongWait   = 60 * time.Second
	feedPingPeriod = 45 * time.Second
)

// EventFeed broadcasts registry events to websocket subscribers. A
// subscriber that falls behind by more than its buffer is disconnected.
type EventFeed struct {
	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
	buffer      int
	upgrader    websocket.Upgrader
	logger      *zap.Logger
}

type subscriber struct {
	events chan models.Event
}

// NewEventFeed creates a feed with a per-subscriber buffer of buffer events
func NewEventFeed(buffer int, logger *zap.Logger) *EventFeed {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventFeed{
		subscribers: make(map[*subscriber]struct{}),
		buffer:      buffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger.With(zap.String("component", "feed")),
	}
}

// Publish delivers ev to every subscriber without blocking
func (f *EventFeed) Publish(ev models.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for sub := range f.subscribers {
		select {
		case sub.events <- ev:
		default:
			f.logger.Warn("dropping slow subscriber", zap.Uint64("seq", ev.Seq))
			f.removeLocked(sub)
		}
	}
}

// Subscribe registers a subscriber. The returned channel is closed when the
// subscriber is removed; cancel removes it.
func (f *EventFeed) Subscribe() (<-chan models.Event, func()) {
	sub := &subscriber{events: make(chan models.Event, f.buffer)}

	f.mu.Lock()
	f.subscribers[sub] = struct{}{}
	f.mu.Unlock()

	return sub.events, func() {
		f.mu.Lock()
		f.removeLocked(sub)
		f.mu.Unlock()
	}
}

// Subscribers returns the number of live subscribers
func (f *EventFeed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribers)
}

func (f *EventFeed) removeLocked(sub *subscriber) {
	if _, ok := f.subscribers[sub]; ok {
		delete(f.subscribers, sub)
		close(sub.events)
	}
}

// ServeWS upgrades the request and streams events as JSON text frames until
// the client disconnects
func (f *EventFeed) ServeWS(w http.ResponseWriter, r *http.Request) error {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	events, cancel := f.Subscribe()
	defer cancel()

	// Reader: only needed for control frames and close detection
	closed := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(feedPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(feedPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					f.logger.Debug("feed reader stopped", zap.Error(err))
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(feedPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "subscriber too slow"))
				return nil
			}
			if err := conn.WriteJSON(ev); err != nil {
				return err
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		case <-closed:
			return nil
		}
	}
}
