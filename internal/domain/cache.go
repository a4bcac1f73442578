package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking so periodic sweeps (listing
// expiry, governance clock, reconciliation audit) run on exactly one
// instance at a time.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub for live marketplace events (trades, listings,
// votes, proposals, anomalies) and durable streams for consumers that must
// not miss entries.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// Well-known SignalBus channels.
const (
	ChannelTrades    = "trades"
	ChannelListings  = "listings"
	ChannelVotes     = "votes"
	ChannelProposals = "proposals"
	ChannelAnomalies = "anomalies"
)

// PublishJSON marshals the event and publishes it to both the live channel
// and the matching durable stream. Event delivery is best-effort; callers
// log the error rather than failing the originating operation.
func PublishJSON(ctx context.Context, bus SignalBus, channel string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event for %s: %w", channel, err)
	}
	if err := bus.Publish(ctx, channel, payload); err != nil {
		return err
	}
	return bus.StreamAppend(ctx, "stream:"+channel, payload)
}
