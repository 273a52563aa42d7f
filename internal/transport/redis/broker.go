package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

var ErrRelayClosed = errors.New("redis relay subscription closed")

type publisher interface {
	Publish(ctx context.Context, msg string) error
}

// Broker carries accepted commands over a redis pub/sub channel so that broadcast
// gateways can run apart from the authority.
type Broker struct {
	logger  *slog.Logger
	client  *redis.Client
	channel string
}

func NewBroker(logger *slog.Logger, client *redis.Client, channel string) *Broker {
	return &Broker{
		logger:  logger.With("component", "redis-broker"),
		client:  client,
		channel: channel,
	}
}

// Publish - publishes msg on the broker channel.
func (that *Broker) Publish(ctx context.Context, msg string) error {
	if err := that.client.Publish(ctx, that.channel, msg).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", that.channel, err)
	}

	return nil
}

// Relay forwards messages from the broker channel to a local publisher.
type Relay struct {
	logger *slog.Logger
	pubsub *redis.PubSub
}

// Subscribe - subscribes to the broker channel and waits for redis to confirm it,
// so nothing published after Subscribe returns is missed.
func (that *Broker) Subscribe(ctx context.Context) (*Relay, error) {
	pubsub := that.client.Subscribe(ctx, that.channel)

	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", that.channel, err)
	}

	return &Relay{
		logger: that.logger,
		pubsub: pubsub,
	}, nil
}

// Forward - passes every received payload to target until ctx is cancelled.
func (that *Relay) Forward(ctx context.Context, target publisher) error {
	log := that.logger.With("method", "Forward")

	messages := that.pubsub.Channel()

	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				return ErrRelayClosed
			}

			if err := target.Publish(ctx, msg.Payload); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				log.Error("failed to forward message", "error", err)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (that *Relay) Close() error {
	if err := that.pubsub.Close(); err != nil {
		return fmt.Errorf("failed to close subscription: %w", err)
	}

	return nil
}
