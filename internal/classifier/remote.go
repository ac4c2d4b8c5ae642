package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

// AnalyzerRequest is the request-reply payload on domain.TopicAnalyzerRequest.
type AnalyzerRequest struct {
	Prompt string         `json:"prompt"`
	Fields map[string]any `json:"fields,omitempty"`
}

// AnalyzerReply is the structured answer a remote analyzer must return.
type AnalyzerReply struct {
	Fraudulent  bool   `json:"fraudulent"`
	Explanation string `json:"explanation"`
	Error       string `json:"error,omitempty"`
}

// RemoteAnalyzer forwards summaries to an analyzer service over the event
// bus. Bus failures and timeouts are transient; malformed replies are not.
type RemoteAnalyzer struct {
	bus   domain.EventBus
	topic string
}

// NewRemoteAnalyzer creates an analyzer client on domain.TopicAnalyzerRequest.
func NewRemoteAnalyzer(bus domain.EventBus) *RemoteAnalyzer {
	return &RemoteAnalyzer{bus: bus, topic: domain.TopicAnalyzerRequest}
}

// Analyze sends the summary and decodes the reply.
func (r *RemoteAnalyzer) Analyze(ctx context.Context, s Summary) (Analysis, error) {
	payload, err := json.Marshal(AnalyzerRequest{Prompt: s.Text, Fields: s.Fields})
	if err != nil {
		return Analysis{}, unavailable("heuristic", err)
	}

	data, err := r.bus.Request(ctx, r.topic, payload)
	if err != nil {
		return Analysis{}, fmt.Errorf("remote analyzer: %w: %w", domain.ErrTransient, err)
	}

	var reply AnalyzerReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return Analysis{}, unavailable("heuristic", fmt.Errorf("malformed analyzer reply: %w", err))
	}
	if reply.Error != "" {
		return Analysis{}, unavailable("heuristic", errors.New(reply.Error))
	}
	return Analysis{Fraudulent: reply.Fraudulent, Explanation: reply.Explanation}, nil
}

// ServeAnalyzer answers domain.TopicAnalyzerRequest with analyzer. It lets
// one node host the analyzer for the rest of the cluster.
func ServeAnalyzer(ctx context.Context, bus domain.EventBus, analyzer TextAnalyzer) (domain.Subscription, error) {
	return bus.Subscribe(ctx, domain.TopicAnalyzerRequest, func(ctx context.Context, msg *domain.Message) error {
		var req AnalyzerRequest
		var reply AnalyzerReply

		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			reply.Error = "invalid request: " + err.Error()
		} else {
			res, err := analyzer.Analyze(ctx, Summary{Text: req.Prompt, Fields: normalizeFields(req.Fields)})
			if err != nil {
				slog.Warn("analyzer failed", "message_id", msg.ID, "error", err)
				reply.Error = err.Error()
			} else {
				reply.Fraudulent = res.Fraudulent
				reply.Explanation = res.Explanation
			}
		}

		data, err := json.Marshal(reply)
		if err != nil {
			return err
		}
		msg.Reply = data
		return nil
	})
}

// normalizeFields restores integer fields that JSON decoded as float64.
func normalizeFields(fields map[string]any) map[string]any {
	for _, k := range []string{"account_age_days", "transaction_frequency"} {
		if f, ok := fields[k].(float64); ok {
			fields[k] = int64(f)
		}
	}
	return fields
}
