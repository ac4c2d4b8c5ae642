package bus

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/fraudguard/internal/domain"
)

// Metadata keys set by the bus itself.
const (
	metaReplyTo = "reply_to"
	metaTraceID = "trace_id"
)

// ChannelBus is the in-process EventBus for single-node deployments and
// tests. Every subscription owns a buffered inbox drained by one goroutine;
// a full inbox drops the delivery with a warning.
type ChannelBus struct {
	inboxSize int

	mu     sync.RWMutex
	topics map[string]*channelTopic
	closed bool

	// pending maps a request's reply ID to the requester's channel.
	pendingMu sync.Mutex
	pending   map[string]chan []byte
}

type channelTopic struct {
	subs []*channelSub // replaced, never mutated in place
	next atomic.Uint64
}

type channelSub struct {
	id      string
	topic   string
	handler domain.MessageHandler
	inbox   chan *domain.Message
	ctx     context.Context
	cancel  context.CancelFunc
	bus     *ChannelBus
	once    sync.Once
}

// NewChannelBus creates a bus whose subscriptions buffer up to inboxSize
// messages each.
func NewChannelBus(inboxSize int) *ChannelBus {
	if inboxSize <= 0 {
		inboxSize = 1000
	}
	return &ChannelBus{
		inboxSize: inboxSize,
		topics:    make(map[string]*channelTopic),
		pending:   make(map[string]chan []byte),
	}
}

// Publish delivers payload on topic. Publishing to a topic nobody listens
// on is not an error.
func (b *ChannelBus) Publish(ctx context.Context, topic string, payload []byte) error {
	_, err := b.deliver(envelope(ctx, topic, payload))
	return err
}

// deliver routes msg and returns how many inboxes accepted it.
func (b *ChannelBus) deliver(msg *domain.Message) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0, ErrClosed
	}

	t := b.topics[msg.Topic]
	if t == nil || len(t.subs) == 0 {
		return 0, nil
	}

	if domain.IsWorkTopic(msg.Topic) {
		// Round-robin, skipping subscribers that are backed up.
		start := int(t.next.Add(1) - 1)
		for i := range t.subs {
			if t.subs[(start+i)%len(t.subs)].offer(msg) {
				return 1, nil
			}
		}
		slog.Warn("all subscribers backed up, dropping message", "topic", msg.Topic, "message_id", msg.ID)
		return 0, nil
	}

	accepted := 0
	for _, sub := range t.subs {
		if sub.offer(msg) {
			accepted++
			continue
		}
		slog.Warn("subscriber inbox full, dropping message", "topic", msg.Topic, "message_id", msg.ID)
	}
	return accepted, nil
}

func (s *channelSub) offer(msg *domain.Message) bool {
	select {
	case s.inbox <- msg:
		return true
	default:
		return false
	}
}

// Subscribe starts a goroutine feeding handler until Unsubscribe, Close or
// ctx cancellation.
func (b *ChannelBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if topic == "" {
		return nil, fmt.Errorf("bus: topic is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &channelSub{
		id:      uuid.NewString(),
		topic:   topic,
		handler: handler,
		inbox:   make(chan *domain.Message, b.inboxSize),
		ctx:     subCtx,
		cancel:  cancel,
		bus:     b,
	}

	t := b.topics[topic]
	if t == nil {
		t = &channelTopic{}
		b.topics[topic] = t
	}
	t.subs = append(slices.Clip(t.subs), sub)

	go sub.run()
	return sub, nil
}

func (s *channelSub) run() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.inbox:
			s.handle(msg)
		}
	}
}

// handle runs detached from the subscription's cancellation so that an
// Unsubscribe does not abort a delivery already in progress.
func (s *channelSub) handle(msg *domain.Message) {
	ctx := context.WithoutCancel(s.ctx)
	if traceID := msg.Metadata[metaTraceID]; traceID != "" {
		ctx = domain.WithTraceID(ctx, traceID)
	}

	if err := s.handler(ctx, msg); err != nil {
		slog.Error("message handler failed",
			"topic", msg.Topic,
			"message_id", msg.ID,
			"error", err,
		)
		return
	}

	if replyID := msg.Metadata[metaReplyTo]; replyID != "" && msg.Reply != nil {
		s.bus.resolve(replyID, msg.Reply)
	}
}

// Request delivers payload to one subscriber and waits for its reply.
// Without a ctx deadline the wait is capped at defaultRequestTimeout.
func (b *ChannelBus) Request(ctx context.Context, topic string, payload []byte) ([]byte, error) {
	ctx, cancel := withRequestTimeout(ctx)
	defer cancel()

	replyID := uuid.NewString()
	replies := make(chan []byte, 1)

	b.pendingMu.Lock()
	b.pending[replyID] = replies
	b.pendingMu.Unlock()
	defer func() {
		b.pendingMu.Lock()
		delete(b.pending, replyID)
		b.pendingMu.Unlock()
	}()

	msg := envelope(ctx, topic, payload)
	msg.Metadata[metaReplyTo] = replyID

	n, err := b.deliver(msg)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoResponders, topic)
	}

	select {
	case reply := <-replies:
		return reply, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("bus: request on %s: %w", topic, ctx.Err())
	}
}

// resolve hands a reply to its requester. Late replies are discarded.
func (b *ChannelBus) resolve(replyID string, reply []byte) {
	b.pendingMu.Lock()
	ch, ok := b.pending[replyID]
	b.pendingMu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- reply:
	default:
	}
}

// Ping fails once the bus is closed.
func (b *ChannelBus) Ping(context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	return nil
}

// Close stops every subscription. Messages still buffered are discarded.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	for _, t := range b.topics {
		for _, sub := range t.subs {
			sub.cancel()
		}
	}
	clear(b.topics)
	return nil
}

func (b *ChannelBus) detach(sub *channelSub) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topics[sub.topic]
	if t == nil {
		return
	}
	t.subs = slices.DeleteFunc(slices.Clone(t.subs), func(s *channelSub) bool { return s.id == sub.id })
	if len(t.subs) == 0 {
		delete(b.topics, sub.topic)
	}
}

// Unsubscribe is idempotent.
func (s *channelSub) Unsubscribe() error {
	s.once.Do(func() {
		s.cancel()
		s.bus.detach(s)
	})
	return nil
}

func (s *channelSub) Topic() string {
	return s.topic
}

func envelope(ctx context.Context, topic string, payload []byte) *domain.Message {
	msg := &domain.Message{
		ID:        uuid.NewString(),
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string, 2),
		Timestamp: time.Now().UnixNano(),
	}
	if traceID := domain.TraceIDFrom(ctx); traceID != "" {
		msg.Metadata[metaTraceID] = traceID
	}
	return msg
}
