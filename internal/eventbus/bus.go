// Package eventbus fans out opportunity and execution events to
// subscribers via typed, in-process buffered channels, keeping the
// detector and coordinator decoupled from whoever listens.
package eventbus

import (
	"log/slog"
	"sync"

	"arb-engine/internal/types"
)

const subscriberBuffer = 64

// Bus fans out opportunity and execution events to any number of
// subscribers. The zero value is not usable; use New.
type Bus struct {
	logger *slog.Logger

	mu   sync.RWMutex
	opps map[int]chan types.ArbitrageOpportunity
	exec map[int]chan types.ExecutionResult
	next int
}

// New creates an empty Bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		logger: logger.With("component", "event_bus"),
		opps:   make(map[int]chan types.ArbitrageOpportunity),
		exec:   make(map[int]chan types.ExecutionResult),
	}
}

// PublishOpportunity fans out o to every current opportunity subscriber.
// Sends are non-blocking: a subscriber that isn't keeping up has its event
// dropped, not the publisher blocked.
func (b *Bus) PublishOpportunity(o types.ArbitrageOpportunity) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.opps {
		select {
		case ch <- o:
		default:
			b.logger.Warn("opportunity subscriber channel full, dropping event", "subscriber", id, "canonical_id", o.CanonicalID)
		}
	}
}

// PublishExecution fans out r to every current execution subscriber.
func (b *Bus) PublishExecution(r types.ExecutionResult) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.exec {
		select {
		case ch <- r:
		default:
			b.logger.Warn("execution subscriber channel full, dropping event", "subscriber", id, "opportunity_id", r.OpportunityID)
		}
	}
}

// SubscribeOpportunities registers a new subscriber and returns its
// channel plus an unsubscribe function. Callers must call unsubscribe to
// avoid leaking the channel.
func (b *Bus) SubscribeOpportunities() (<-chan types.ArbitrageOpportunity, func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	ch := make(chan types.ArbitrageOpportunity, subscriberBuffer)
	b.opps[id] = ch
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.opps, id)
		b.mu.Unlock()
		close(ch)
	}
}

// SubscribeExecutions registers a new execution-result subscriber.
func (b *Bus) SubscribeExecutions() (<-chan types.ExecutionResult, func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	ch := make(chan types.ExecutionResult, subscriberBuffer)
	b.exec[id] = ch
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.exec, id)
		b.mu.Unlock()
		close(ch)
	}
}
