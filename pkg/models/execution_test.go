package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExecutionStatusTerminal(t *testing.T) {
	assert.False(t, ExecutionStatusCreated.Terminal())
	assert.False(t, ExecutionStatusRunning.Terminal())
	assert.True(t, ExecutionStatusCompleted.Terminal())
	assert.True(t, ExecutionStatusFailed.Terminal())
	assert.True(t, ExecutionStatusCancelled.Terminal())
}
