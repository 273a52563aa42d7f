package fanout

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
)

var ErrHubStopped = errors.New("hub is stopped")

const DefaultBuffer = 256

// Subscription receives every message published after it was registered.
// C is closed when the subscription is cancelled or the hub stops.
type Subscription struct {
	C <-chan string

	send chan string
	hub  *Hub
}

// Cancel - removes the subscription from the hub. Safe to call more than once.
func (that *Subscription) Cancel() {
	select {
	case that.hub.unsubscribe <- that:
	case <-that.hub.done:
	}
}

// Hub is a best-effort one-to-many broadcaster. A single Run goroutine owns the
// subscriber set, so no locking is needed around it.
type Hub struct {
	logger *slog.Logger
	buffer int

	subscribers map[*Subscription]struct{}
	subscribe   chan *Subscription
	unsubscribe chan *Subscription
	broadcast   chan string
	done        chan struct{}

	published atomic.Uint64
	dropped   atomic.Uint64
}

func NewHub(logger *slog.Logger, buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}

	return &Hub{
		logger: logger.With("component", "fanout"),
		buffer: buffer,

		subscribers: make(map[*Subscription]struct{}),
		subscribe:   make(chan *Subscription),
		unsubscribe: make(chan *Subscription),
		broadcast:   make(chan string),
		done:        make(chan struct{}),
	}
}

// Run - delivers published messages until ctx is cancelled, then closes every subscription.
func (that *Hub) Run(ctx context.Context) {
	log := that.logger.With("method", "Run")

	defer func() {
		close(that.done)
		for sub := range that.subscribers {
			close(sub.send)
		}
		clear(that.subscribers)
		log.Info("hub stopped")
	}()

	for {
		select {
		case sub := <-that.subscribe:
			that.subscribers[sub] = struct{}{}
			log.Debug("subscriber added", "subscribers", len(that.subscribers))
		case sub := <-that.unsubscribe:
			if _, ok := that.subscribers[sub]; ok {
				delete(that.subscribers, sub)
				close(sub.send)
				log.Debug("subscriber removed", "subscribers", len(that.subscribers))
			}
		case msg := <-that.broadcast:
			that.deliver(msg)
		case <-ctx.Done():
			return
		}
	}
}

func (that *Hub) deliver(msg string) {
	that.published.Add(1)

	for sub := range that.subscribers {
		select {
		case sub.send <- msg:
		default:
			// slow subscriber misses this message; it can catch up with a fetch
			that.dropped.Add(1)
			that.logger.Warn("subscriber buffer full, message dropped")
		}
	}
}

// Subscribe - registers a new subscriber. Messages published before this call are not replayed.
func (that *Hub) Subscribe(ctx context.Context) (*Subscription, error) {
	send := make(chan string, that.buffer)
	sub := &Subscription{C: send, send: send, hub: that}

	select {
	case that.subscribe <- sub:
		return sub, nil
	case <-that.done:
		return nil, ErrHubStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Publish - hands msg to every current subscriber.
func (that *Hub) Publish(ctx context.Context, msg string) error {
	select {
	case that.broadcast <- msg:
		return nil
	case <-that.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

type Stats struct {
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
}

func (that *Hub) Stats() Stats {
	return Stats{
		Published: that.published.Load(),
		Dropped:   that.dropped.Load(),
	}
}
