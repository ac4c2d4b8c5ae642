package domain

import "context"

// EventBus carries transaction events between the API, the scoring worker
// and remote analyzers. Two kinds of topic exist: work topics, where each
// message is handled by exactly one subscriber, and broadcast topics, where
// every subscriber sees every message. See IsWorkTopic.
type EventBus interface {
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers handler on topic until the returned subscription
	// is cancelled or ctx is done.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Request publishes payload and blocks for a single reply. The ctx
	// deadline bounds the wait.
	Request(ctx context.Context, topic string, payload []byte) ([]byte, error)

	Ping(ctx context.Context) error
	Close() error
}

// MessageHandler handles one delivery. A handler answering a request
// assigns msg.Reply before returning nil.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message is a bus delivery.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp int64             `json:"timestamp"`

	Reply []byte `json:"-"`
}

// Subscription is an active handler registration.
type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// EventBusConfig selects and tunes the bus.
type EventBusConfig struct {
	// Type is "channel" or "nats".
	Type string `yaml:"type"`

	ChannelBufferSize int `yaml:"channelBufferSize"`

	NATSUrl           string `yaml:"natsUrl"`
	NATSToken         string `yaml:"natsToken"`
	NATSMaxReconnects int    `yaml:"natsMaxReconnects"`
	NATSReconnectWait int    `yaml:"natsReconnectWait"` // seconds

	// NATSQueueGroup is the queue group work topics are consumed in.
	NATSQueueGroup string `yaml:"natsQueueGroup"`
}

// Topic names.
const (
	TopicTransactionSubmitted = "fraudguard.transaction.submitted"
	TopicVerdict              = "fraudguard.verdict"
	TopicAlert                = "fraudguard.alert"
	TopicAnalyzerRequest      = "fraudguard.analyzer.request"
)

// IsWorkTopic reports whether messages on topic go to a single subscriber.
// Scoring jobs and analyzer calls must not run once per node.
func IsWorkTopic(topic string) bool {
	switch topic {
	case TopicTransactionSubmitted, TopicAnalyzerRequest:
		return true
	}
	return false
}

// ScoreRequest is the payload published on TopicTransactionSubmitted.
type ScoreRequest struct {
	TransactionID string `json:"transactionId"`
	TraceID       string `json:"traceId,omitempty"`
}
