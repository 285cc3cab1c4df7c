package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formulahendry/acp-ui/internal/common/logger"
)

func newTestBus(t *testing.T) *MemoryEventBus {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "text", OutputPath: "stderr"})
	require.NoError(t, err)
	return NewMemoryEventBus(log)
}

func TestPublishDeliversToExactSubject(t *testing.T) {
	b := newTestBus(t)

	received := make(chan *Event, 1)
	_, err := b.Subscribe("registry.changed", func(ctx context.Context, e *Event) error {
		received <- e
		return nil
	})
	require.NoError(t, err)

	event := NewEvent("registry.changed", "test", map[string]interface{}{"count": 3})
	require.NoError(t, b.Publish(context.Background(), "registry.changed", event))

	select {
	case got := <-received:
		assert.Equal(t, event.ID, got.ID)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestWildcardSubscriptions(t *testing.T) {
	b := newTestBus(t)

	var mu sync.Mutex
	var subjects []string
	handler := func(subject string) EventHandler {
		return func(ctx context.Context, e *Event) error {
			mu.Lock()
			defer mu.Unlock()
			subjects = append(subjects, subject)
			return nil
		}
	}

	_, err := b.Subscribe("bridge.*.state", handler("single"))
	require.NoError(t, err)
	_, err = b.Subscribe("bridge.>", handler("multi"))
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), "bridge.inst-1.state", NewEvent("state", "test", nil)))
	require.NoError(t, b.Publish(context.Background(), "bridge.inst-1.transcript", NewEvent("transcript", "test", nil)))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(subjects) == 3
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	counts := map[string]int{}
	for _, s := range subjects {
		counts[s]++
	}
	assert.Equal(t, 1, counts["single"])
	assert.Equal(t, 2, counts["multi"])
}

func TestSingleTokenWildcardDoesNotCrossDots(t *testing.T) {
	b := newTestBus(t)

	received := make(chan struct{}, 1)
	_, err := b.Subscribe("bridge.*.state", func(ctx context.Context, e *Event) error {
		received <- struct{}{}
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), "bridge.a.b.state", NewEvent("state", "test", nil)))

	select {
	case <-received:
		t.Fatal("* should not match multiple tokens")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := newTestBus(t)

	received := make(chan struct{}, 1)
	sub, err := b.Subscribe("registry.changed", func(ctx context.Context, e *Event) error {
		received <- struct{}{}
		return nil
	})
	require.NoError(t, err)

	require.True(t, sub.IsValid())
	require.NoError(t, sub.Unsubscribe())
	assert.False(t, sub.IsValid())

	require.NoError(t, b.Publish(context.Background(), "registry.changed", NewEvent("x", "test", nil)))

	select {
	case <-received:
		t.Fatal("unsubscribed handler was called")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClosedBusRejectsPublishAndSubscribe(t *testing.T) {
	b := newTestBus(t)
	assert.True(t, b.IsConnected())

	b.Close()
	assert.False(t, b.IsConnected())

	err := b.Publish(context.Background(), "registry.changed", NewEvent("x", "test", nil))
	assert.Error(t, err)

	_, err = b.Subscribe("registry.changed", func(ctx context.Context, e *Event) error { return nil })
	assert.Error(t, err)
}

func TestBridgeSubjectFormatting(t *testing.T) {
	assert.Equal(t, "bridge.inst-1.state", BridgeSubject(SubjectBridgeState, "inst-1"))
	assert.Equal(t, "bridge.inst-1.permission", BridgeSubject(SubjectBridgePermission, "inst-1"))
}
