// Package bus provides event bus implementations for fraudscore prediction events.
package bus

import (
	"context"
	"fmt"

	"github.com/opensource-finance/fraudscore/internal/domain"
)

// New creates a new event bus based on configuration.
// "channel" delivers in-process, "nats" publishes to a NATS server and
// "none" discards every event.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel", "":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	case "none":
		return NoopBus{}, nil

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// NoopBus accepts and drops everything.
type NoopBus struct{}

func (NoopBus) Publish(ctx context.Context, topic string, payload []byte) error { return nil }

func (NoopBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	return noopSubscription(topic), nil
}

func (NoopBus) Ping(ctx context.Context) error { return nil }

func (NoopBus) Close() error { return nil }

type noopSubscription string

func (s noopSubscription) Unsubscribe() error { return nil }

func (s noopSubscription) Topic() string { return string(s) }
