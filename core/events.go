package core

import (
	"context"
	"sync"
)

const (
	EventWalletConnected    = "wallet.connected"
	EventWalletDisconnected = "wallet.disconnected"
	EventGrantUpdated       = "grant.updated"
	EventBudgetChanged      = "budget.changed"
	EventKeyRevoked         = "key.revoked"
	EventOutOfFunds         = "out_of_funds"
	EventKeyAddProgress     = "key_add.progress"
)

type NopEventSink struct{}

func (NopEventSink) Publish(context.Context, Event) {}

// MemoryEventBus fans events out to subscribers synchronously, in
// registration order.
type MemoryEventBus struct {
	mu          sync.RWMutex
	nextID      int
	subscribers map[int]func(context.Context, Event)
	order       []int
}

func NewMemoryEventBus() *MemoryEventBus {
	return &MemoryEventBus{subscribers: map[int]func(context.Context, Event){}}
}

func (b *MemoryEventBus) Subscribe(handler func(context.Context, Event)) (unsubscribe func()) {
	if b == nil || handler == nil {
		return func() {}
	}
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subscribers[id] = handler
	b.order = append(b.order, id)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subscribers, id)
			for i, existing := range b.order {
				if existing == id {
					b.order = append(b.order[:i], b.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (b *MemoryEventBus) Publish(ctx context.Context, event Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	handlers := make([]func(context.Context, Event), 0, len(b.order))
	for _, id := range b.order {
		handlers = append(handlers, b.subscribers[id])
	}
	b.mu.RUnlock()
	for _, handler := range handlers {
		handler(ctx, event)
	}
}
