package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/opensource-finance/fraudguard/internal/domain"
)

// Header names carrying the envelope. The payload travels untouched in the
// message body, so plain NATS clients can publish ScoreRequests directly.
const (
	headerID         = "Fraudguard-Id"
	headerTimestamp  = "Fraudguard-Timestamp"
	headerMetaPrefix = "Fraudguard-Meta-"
)

// NATSBus is the EventBus for multi-node deployments. Topics are subjects.
// Work topics are consumed in a queue group so that a submitted transaction
// is scored by one node only.
type NATSBus struct {
	conn  *nats.Conn
	queue string
}

type natsSub struct {
	topic string
	sub   *nats.Subscription
}

// NewNATSBus connects, making up to NATSMaxReconnects attempts.
func NewNATSBus(cfg domain.EventBusConfig) (*NATSBus, error) {
	if cfg.NATSUrl == "" {
		cfg.NATSUrl = nats.DefaultURL
	}
	if cfg.NATSMaxReconnects <= 0 {
		cfg.NATSMaxReconnects = 10
	}
	wait := seconds(cfg.NATSReconnectWait, 5)

	opts := []nats.Option{
		nats.Name("fraudguard"),
		nats.MaxReconnects(cfg.NATSMaxReconnects),
		nats.ReconnectWait(wait),
		nats.ReconnectBufSize(8 << 20),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("nats disconnected", "error", err, "will_reconnect", !nc.IsClosed())
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			var subject string
			if sub != nil {
				subject = sub.Subject
			}
			slog.Error("nats async error", "subject", subject, "error", err)
		}),
	}
	if cfg.NATSToken != "" {
		opts = append(opts, nats.Token(cfg.NATSToken))
	}

	conn, err := dial(cfg.NATSUrl, cfg.NATSMaxReconnects, wait, opts)
	if err != nil {
		return nil, err
	}
	slog.Info("nats connected",
		"url", conn.ConnectedUrl(),
		"server_id", conn.ConnectedServerId(),
		"queue_group", cfg.NATSQueueGroup,
	)

	return &NATSBus{conn: conn, queue: cfg.NATSQueueGroup}, nil
}

func dial(url string, attempts int, wait time.Duration, opts []nats.Option) (*nats.Conn, error) {
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		conn, err := nats.Connect(url, opts...)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		slog.Warn("nats connect failed", "attempt", attempt, "max_attempts", attempts, "error", err)
		if attempt < attempts {
			time.Sleep(wait)
		}
	}
	return nil, fmt.Errorf("bus: nats unreachable after %d attempts: %w", attempts, lastErr)
}

// Publish sends payload on the topic subject.
func (b *NATSBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := b.conn.PublishMsg(toNATS(envelope(ctx, topic, payload))); err != nil {
		return fmt.Errorf("bus: publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers handler on the topic subject. When the delivery was
// a request and the handler set msg.Reply, the reply is sent back.
func (b *NATSBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if topic == "" {
		return nil, fmt.Errorf("bus: topic is required")
	}

	cb := func(m *nats.Msg) {
		msg := fromNATS(m)
		hctx := ctx
		if traceID := msg.Metadata[metaTraceID]; traceID != "" {
			hctx = domain.WithTraceID(ctx, traceID)
		}

		if err := handler(hctx, msg); err != nil {
			slog.Error("message handler failed", "topic", topic, "message_id", msg.ID, "error", err)
			return
		}
		if m.Reply == "" || msg.Reply == nil {
			return
		}
		if err := m.Respond(msg.Reply); err != nil {
			slog.Error("nats respond failed", "topic", topic, "message_id", msg.ID, "error", err)
		}
	}

	var (
		sub *nats.Subscription
		err error
	)
	if b.queue != "" && domain.IsWorkTopic(topic) {
		sub, err = b.conn.QueueSubscribe(topic, b.queue, cb)
	} else {
		sub, err = b.conn.Subscribe(topic, cb)
	}
	if err != nil {
		return nil, fmt.Errorf("bus: subscribe %s: %w", topic, err)
	}
	return &natsSub{topic: topic, sub: sub}, nil
}

// Request uses a NATS inbox for the reply.
func (b *NATSBus) Request(ctx context.Context, topic string, payload []byte) ([]byte, error) {
	ctx, cancel := withRequestTimeout(ctx)
	defer cancel()

	reply, err := b.conn.RequestMsgWithContext(ctx, toNATS(envelope(ctx, topic, payload)))
	switch {
	case errors.Is(err, nats.ErrNoResponders):
		return nil, fmt.Errorf("%w: %s", ErrNoResponders, topic)
	case err != nil:
		return nil, fmt.Errorf("bus: request on %s: %w", topic, err)
	}
	return reply.Data, nil
}

// Ping round-trips to the server.
func (b *NATSBus) Ping(ctx context.Context) error {
	if b.conn.IsClosed() {
		return ErrClosed
	}
	if !b.conn.IsConnected() {
		return fmt.Errorf("bus: nats %s", b.conn.Status())
	}
	return b.conn.FlushWithContext(ctx)
}

// Close drains in-flight deliveries before closing the connection.
func (b *NATSBus) Close() error {
	if b.conn.IsClosed() {
		return nil
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return fmt.Errorf("bus: drain: %w", err)
	}
	return nil
}

func (s *natsSub) Unsubscribe() error {
	if !s.sub.IsValid() {
		return nil
	}
	return s.sub.Unsubscribe()
}

func (s *natsSub) Topic() string {
	return s.topic
}

func toNATS(msg *domain.Message) *nats.Msg {
	h := nats.Header{}
	h.Set(headerID, msg.ID)
	h.Set(headerTimestamp, strconv.FormatInt(msg.Timestamp, 10))
	for k, v := range msg.Metadata {
		h.Set(headerMetaPrefix+k, v)
	}
	return &nats.Msg{Subject: msg.Topic, Data: msg.Payload, Header: h}
}

// fromNATS rebuilds the envelope. Messages published without our headers
// get a fresh ID and the receive time.
func fromNATS(m *nats.Msg) *domain.Message {
	msg := &domain.Message{
		Topic:    m.Subject,
		Payload:  m.Data,
		Metadata: make(map[string]string),
	}

	for key, values := range m.Header {
		if len(values) == 0 {
			continue
		}
		switch {
		case strings.EqualFold(key, headerID):
			msg.ID = values[0]
		case strings.EqualFold(key, headerTimestamp):
			msg.Timestamp, _ = strconv.ParseInt(values[0], 10, 64)
		case len(key) > len(headerMetaPrefix) && strings.EqualFold(key[:len(headerMetaPrefix)], headerMetaPrefix):
			msg.Metadata[strings.ToLower(key[len(headerMetaPrefix):])] = values[0]
		}
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixNano()
	}
	return msg
}

func seconds(n, fallback int) time.Duration {
	if n <= 0 {
		n = fallback
	}
	return time.Duration(n) * time.Second
}
