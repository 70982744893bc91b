package queue

import (
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func TestNewSource(t *testing.T) {
	tests := []struct {
		name        string
		addr        string
		queue       string
		expectError bool
		errorMsg    string
	}{
		{
			name:  "valid_config",
			addr:  "localhost:6379",
			queue: "weft:runs",
		},
		{
			name:  "default_addr",
			queue: "weft:runs",
		},
		{
			name:        "missing_queue",
			addr:        "localhost:6379",
			expectError: true,
			errorMsg:    "queue source queue name is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source, err := NewSource(tt.addr, "", 0, tt.queue, testLogger())

			if tt.expectError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
				assert.Nil(t, source)
			} else {
				require.NoError(t, err)
				require.NotNil(t, source)
				assert.True(t, source.Enabled)
				assert.Equal(t, "weft:runs", source.Queue)
			}
		})
	}
}

func TestNewSourceFallsBackToLocalhost(t *testing.T) {
	source, err := NewSource("", "", 0, "weft:runs", testLogger())
	require.NoError(t, err)

	assert.Equal(t, "localhost:6379", source.Addr)
}
