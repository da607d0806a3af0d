// Package events fans lifecycle events out to in-process subscribers (the
// websocket feed, the archive sink) and, best-effort, to Redis. Publication
// never blocks or fails the operation that produced the event.
package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event types emitted by the engines.
const (
	TypeReportCreated  = "report.created"
	TypeReportClaimed  = "report.claimed"
	TypeReportDisputed = "report.disputed"
	TypeReportSettled  = "report.settled"

	TypeSwapCreated   = "swap.created"
	TypeSwapMatched   = "swap.matched"
	TypeSwapFeeFixed  = "swap.fee.fixed"
	TypeSwapSettled   = "swap.settled"
	TypeSwapRefunded  = "swap.refunded"
	TypeSwapCancelled = "swap.cancelled"
	TypeSwapBailout   = "swap.bailout"
	TypeSwapFees      = "swap.fees"
)

// Event is a single lifecycle notification.
type Event struct {
	Type     string         `json:"type"`
	SwapID   uint64         `json:"swapId,omitempty"`
	ReportID uint64         `json:"reportId,omitempty"`
	At       time.Time      `json:"at"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// Bus delivers events to subscribers. Channels are buffered and sends are
// non-blocking: a slow subscriber drops events rather than stalling an
// engine transition.
type Bus struct {
	logger *zap.Logger
	redis  *RedisPublisher

	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

func NewBus(logger *zap.Logger, redis *RedisPublisher) *Bus {
	return &Bus{
		logger: logger,
		redis:  redis,
		subs:   make(map[int]chan Event),
	}
}

// Subscribe returns a buffered event channel and a cancel func.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan Event, 256)
	b.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
}

// Publish delivers the event to every subscriber and to Redis.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	if b == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b.mu.Lock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Warn("Dropping event for slow subscriber", zap.String("type", ev.Type))
		}
	}
	b.mu.Unlock()

	if b.redis != nil {
		b.redis.Publish(ctx, ev)
	}
}
