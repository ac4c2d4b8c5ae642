// Package bus implements domain.EventBus in process (channels) and across
// nodes (NATS).
package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

// defaultRequestTimeout caps Request when the caller set no deadline.
const defaultRequestTimeout = 30 * time.Second

var (
	// ErrClosed is returned by every operation on a closed bus.
	ErrClosed = errors.New("bus: closed")

	// ErrNoResponders means a request found no subscriber to answer it.
	ErrNoResponders = errors.New("bus: no responders")
)

// New returns the bus selected by cfg.Type.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "", "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil
	case "nats":
		return NewNATSBus(cfg)
	}
	return nil, fmt.Errorf("bus: unsupported type %q", cfg.Type)
}

func withRequestTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, defaultRequestTimeout)
}
