package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/opensource-finance/fraudscore/internal/domain"
)

// Headers set on every published NATS message. Consumers of prediction
// events can route on them without decoding the envelope.
const (
	HeaderRequestID = "Fraudscore-Request-Id"
	HeaderMessageID = "Fraudscore-Message-Id"
)

// NATSBus publishes prediction events to core NATS. The subject is the topic
// itself, e.g. fraudscore.prediction.scored, and the body is a JSON
// domain.Message envelope.
//
// Delivery is at most once. The bus never blocks the scoring path on the
// server: the first connection is retried in the background, and publishes
// made while disconnected are buffered by the client up to reconnectBufSize
// and dropped beyond it. /health reports the bus as degraded in that state.
type NATSBus struct {
	mu            sync.Mutex
	conn          *nats.Conn
	subscriptions map[string]*natsSubscription
}

type natsSubscription struct {
	id    string
	topic string
	sub   *nats.Subscription
	bus   *NATSBus
}

// reconnectBufSize bounds the events held while the server is unreachable.
const reconnectBufSize = 8 * 1024 * 1024

// NewNATSBus connects to NATS. An unreachable server is not an error; the
// connection keeps retrying while the service serves requests.
func NewNATSBus(cfg domain.EventBusConfig) (*NATSBus, error) {
	if cfg.NATSUrl == "" {
		cfg.NATSUrl = nats.DefaultURL
	}

	conn, err := nats.Connect(cfg.NATSUrl, natsOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATSUrl, err)
	}

	if conn.IsConnected() {
		slog.Info("NATS connected", "url", conn.ConnectedUrl(), "server_id", conn.ConnectedServerId())
	} else {
		slog.Warn("NATS unreachable, prediction events are buffered until it connects", "url", cfg.NATSUrl)
	}

	return &NATSBus{
		conn:          conn,
		subscriptions: make(map[string]*natsSubscription),
	}, nil
}

func natsOptions(cfg domain.EventBusConfig) []nats.Option {
	maxReconnects := cfg.NATSMaxReconnects
	if maxReconnects == 0 {
		maxReconnects = 10
	}
	wait := time.Duration(cfg.NATSReconnectWait) * time.Second
	if wait <= 0 {
		wait = 5 * time.Second
	}

	opts := []nats.Option{
		nats.Name("fraudscore"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(maxReconnects),
		nats.ReconnectWait(wait),
		nats.ReconnectBufSize(reconnectBufSize),
		nats.ConnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS connected", "url", nc.ConnectedUrl())
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err, "will_reconnect", !nc.IsClosed())
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			slog.Info("NATS connection closed")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			slog.Error("NATS error", "error", err, "subject", subject)
		}),
	}

	if cfg.NATSToken != "" {
		opts = append(opts, nats.Token(cfg.NATSToken))
	}
	return opts
}

// Publish sends one event. It returns once the client has buffered it.
func (b *NATSBus) Publish(ctx context.Context, topic string, payload []byte) error {
	msg, err := encodeNATSMessage(newMessage(ctx, topic, payload))
	if err != nil {
		return err
	}
	return b.conn.PublishMsg(msg)
}

// Subscribe delivers events on topic to handler. NATS wildcards are allowed,
// so fraudscore.prediction.> receives every prediction event.
func (b *NATSBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	if handler == nil {
		return nil, errors.New("handler is required")
	}

	natsSub, err := b.conn.Subscribe(topic, func(m *nats.Msg) {
		msg, err := decodeNATSMessage(m)
		if err != nil {
			slog.Error("failed to decode NATS message", "subject", m.Subject, "error", err)
			return
		}

		if err := handler(ctx, msg); err != nil {
			slog.Error("handler error",
				"subject", m.Subject,
				"message_id", msg.ID,
				"request_id", msg.Metadata["request_id"],
				"error", err,
			)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	sub := &natsSubscription{
		id:    uuid.New().String(),
		topic: topic,
		sub:   natsSub,
		bus:   b,
	}

	b.mu.Lock()
	b.subscriptions[sub.id] = sub
	b.mu.Unlock()

	return sub, nil
}

// Ping reports whether events currently reach the server.
func (b *NATSBus) Ping(ctx context.Context) error {
	if !b.conn.IsConnected() {
		return fmt.Errorf("NATS not connected (status %s)", b.conn.Status())
	}
	return b.conn.FlushWithContext(ctx)
}

// Close flushes buffered events, drops every subscription and closes the
// connection.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	for _, sub := range b.subscriptions {
		_ = sub.sub.Unsubscribe()
	}
	b.subscriptions = make(map[string]*natsSubscription)
	b.mu.Unlock()

	if b.conn.IsConnected() {
		if err := b.conn.FlushTimeout(2 * time.Second); err != nil {
			slog.Warn("failed to flush NATS events on close", "error", err)
		}
	}
	b.conn.Close()
	return nil
}

// Stats returns NATS connection statistics.
func (b *NATSBus) Stats() nats.Statistics {
	return b.conn.Stats()
}

// encodeNATSMessage wraps an envelope for the wire, copying its ids into headers.
func encodeNATSMessage(env *domain.Message) (*nats.Msg, error) {
	if env.Topic == "" {
		return nil, errors.New("topic is required")
	}

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	msg := nats.NewMsg(env.Topic)
	msg.Data = data
	msg.Header.Set(HeaderMessageID, env.ID)
	if requestID := env.Metadata["request_id"]; requestID != "" {
		msg.Header.Set(HeaderRequestID, requestID)
	}
	return msg, nil
}

// decodeNATSMessage reads an envelope. Messages from other publishers may
// carry the request id only as a header.
func decodeNATSMessage(m *nats.Msg) (*domain.Message, error) {
	var env domain.Message
	if err := json.Unmarshal(m.Data, &env); err != nil {
		return nil, err
	}

	if env.Topic == "" {
		env.Topic = m.Subject
	}
	if env.Metadata == nil {
		env.Metadata = make(map[string]string)
	}
	if env.Metadata["request_id"] == "" && m.Header != nil {
		if requestID := m.Header.Get(HeaderRequestID); requestID != "" {
			env.Metadata["request_id"] = requestID
		}
	}
	return &env, nil
}

// Unsubscribe stops delivery and forgets the subscription.
func (s *natsSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subscriptions, s.id)
	s.bus.mu.Unlock()

	return s.sub.Unsubscribe()
}

// Topic returns the subscribed topic.
func (s *natsSubscription) Topic() string {
	return s.topic
}
