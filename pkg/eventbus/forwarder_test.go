package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftflow/weft/pkg/events"
	"github.com/weftflow/weft/pkg/sse"
)

type captureHandle struct {
	mu     sync.Mutex
	frames [][]byte
}

func (h *captureHandle) Send(frame []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frames = append(h.frames, append([]byte(nil), frame...))

	return nil
}

func (h *captureHandle) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.frames)
}

func TestForwarderRebroadcastsToRecipient(t *testing.T) {
	bus := newTestBus(t)
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	broker := sse.NewBroker(logger)

	alice := &captureHandle{}
	bob := &captureHandle{}

	broker.Register("alice", alice)
	broker.Register("bob", bob)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	forwarder := NewForwarder(bus, broker, logger)
	require.NoError(t, forwarder.Start(ctx))

	event := events.StepComplete{
		BaseEvent: events.BaseEvent{
			Type:        events.StepCompleteEvent,
			ExecutionID: "exec-12345678",
			Timestamp:   time.Now().UTC(),
		},
		StepID:   "step-1",
		StepName: "Research",
	}

	require.NoError(t, bus.Publish(ctx, "alice", event))

	require.Eventually(t, func() bool {
		return alice.count() == 1
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, 0, bob.count())

	// The broadcast frame is the flattened event plus a delivery timestamp.
	alice.mu.Lock()
	frame := string(alice.frames[0])
	alice.mu.Unlock()

	require.True(t, strings.HasPrefix(frame, "data: "))

	var payload map[string]any

	require.NoError(t, json.Unmarshal(
		[]byte(strings.TrimSuffix(strings.TrimPrefix(frame, "data: "), "\n\n")), &payload))
	assert.Equal(t, string(events.StepCompleteEvent), payload["type"])
	assert.Equal(t, "exec-12345678", payload["executionId"])
	assert.Equal(t, "Research", payload["stepName"])
	assert.NotEmpty(t, payload["timestamp"])
}
