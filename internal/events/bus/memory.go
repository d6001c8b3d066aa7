package bus

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/gitwarden/gitwarden/internal/common/logger"
)

// MemoryEventBus implements EventBus using in-process dispatch.
type MemoryEventBus struct {
	subscriptions []*memorySubscription
	mu            sync.RWMutex
	logger        *logger.Logger
	closed        bool
}

// memorySubscription represents an in-memory subscription
type memorySubscription struct {
	bus     *MemoryEventBus
	subject string
	handler EventHandler
	active  bool
	mu      sync.Mutex
}

// NewMemoryEventBus creates a new in-memory event bus
func NewMemoryEventBus(log *logger.Logger) *MemoryEventBus {
	return &MemoryEventBus{
		logger: log.WithFields(zap.String("component", "memory-event-bus")),
	}
}

// Publish delivers the event to all matching subscriptions.
// Handlers run synchronously on the caller's goroutine; handler errors are
// logged and do not affect other subscribers.
func (b *MemoryEventBus) Publish(ctx context.Context, subject string, event *Event) error {
	b.mu.RLock()
	subs := make([]*memorySubscription, 0, len(b.subscriptions))
	for _, sub := range b.subscriptions {
		if sub.IsValid() && subjectMatches(sub.subject, subject) {
			subs = append(subs, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		if err := sub.handler(ctx, event); err != nil {
			b.logger.Error("event handler failed",
				zap.String("subject", subject),
				zap.String("event_type", event.Type),
				zap.Error(err))
		}
	}
	return nil
}

// Subscribe registers a handler for a subject pattern.
func (b *MemoryEventBus) Subscribe(subject string, handler EventHandler) (Subscription, error) {
	sub := &memorySubscription{
		bus:     b,
		subject: subject,
		handler: handler,
		active:  true,
	}

	b.mu.Lock()
	b.subscriptions = append(b.subscriptions, sub)
	b.mu.Unlock()

	return sub, nil
}

// Close marks the bus closed and drops all subscriptions.
func (b *MemoryEventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subscriptions {
		sub.mu.Lock()
		sub.active = false
		sub.mu.Unlock()
	}
	b.subscriptions = nil
	b.closed = true
}

// IsConnected reports whether the bus is usable.
func (b *MemoryEventBus) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.closed
}

// Unsubscribe removes the subscription
func (s *memorySubscription) Unsubscribe() error {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	for i, sub := range s.bus.subscriptions {
		if sub == s {
			s.bus.subscriptions = append(s.bus.subscriptions[:i], s.bus.subscriptions[i+1:]...)
			break
		}
	}
	return nil
}

// IsValid returns whether the subscription is still active
func (s *memorySubscription) IsValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// subjectMatches supports exact matches and a trailing ".>" wildcard,
// mirroring the NATS subject convention used by the NATS implementation.
func subjectMatches(pattern, subject string) bool {
	if pattern == subject || pattern == ">" {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, ".>"); ok {
		return strings.HasPrefix(subject, prefix+".")
	}
	return false
}
