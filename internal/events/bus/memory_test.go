package bus

import (
	"context"
	"testing"

	"github.com/gitwarden/gitwarden/internal/common/logger"
)

func newTestLogger() *logger.Logger {
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	return log
}

func TestMemoryEventBus_PublishSubscribe(t *testing.T) {
	b := NewMemoryEventBus(newTestLogger())
	defer b.Close()

	var got *Event
	_, err := b.Subscribe(SubjectVerificationRequested, func(ctx context.Context, e *Event) error {
		got = e
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	event := NewEvent("verification.requested", "hosttrust", map[string]interface{}{"host": "example.com"})
	if err := b.Publish(context.Background(), SubjectVerificationRequested, event); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if got == nil {
		t.Fatal("handler not invoked")
	}
	if got.ID != event.ID {
		t.Errorf("expected event %s, got %s", event.ID, got.ID)
	}
}

func TestMemoryEventBus_WildcardSubject(t *testing.T) {
	b := NewMemoryEventBus(newTestLogger())
	defer b.Close()

	var count int
	_, _ = b.Subscribe("trust.>", func(ctx context.Context, e *Event) error {
		count++
		return nil
	})

	_ = b.Publish(context.Background(), SubjectVerificationRequested, NewEvent("a", "t", nil))
	_ = b.Publish(context.Background(), SubjectVerificationResolved, NewEvent("b", "t", nil))
	_ = b.Publish(context.Background(), SubjectSupervisorState, NewEvent("c", "t", nil))

	if count != 2 {
		t.Errorf("expected 2 deliveries, got %d", count)
	}
}

func TestMemoryEventBus_Unsubscribe(t *testing.T) {
	b := NewMemoryEventBus(newTestLogger())
	defer b.Close()

	var count int
	sub, _ := b.Subscribe("supervisor.state", func(ctx context.Context, e *Event) error {
		count++
		return nil
	})

	_ = b.Publish(context.Background(), "supervisor.state", NewEvent("x", "t", nil))
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("unsubscribe failed: %v", err)
	}
	_ = b.Publish(context.Background(), "supervisor.state", NewEvent("y", "t", nil))

	if count != 1 {
		t.Errorf("expected 1 delivery, got %d", count)
	}
	if sub.IsValid() {
		t.Error("subscription should be invalid after unsubscribe")
	}
}

func TestSubjectMatches(t *testing.T) {
	cases := []struct {
		pattern, subject string
		want             bool
	}{
		{"a.b", "a.b", true},
		{"a.b", "a.c", false},
		{"a.>", "a.b", true},
		{"a.>", "a.b.c", true},
		{"a.>", "a", false},
		{">", "anything", true},
	}
	for _, c := range cases {
		if got := subjectMatches(c.pattern, c.subject); got != c.want {
			t.Errorf("subjectMatches(%q, %q) = %v, want %v", c.pattern, c.subject, got, c.want)
		}
	}
}
