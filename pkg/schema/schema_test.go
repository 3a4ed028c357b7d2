package schema

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlowError_Classification(t *testing.T) {
	tests := []struct {
		code       string
		retryable  bool
		structural bool
	}{
		{ErrCodeCycleDetected, false, true},
		{ErrCodeUnknownNodeType, false, true},
		{ErrCodeValidation, false, false},
		{ErrCodeUnauthorized, false, false},
		{ErrCodeOwnerBound, false, false},
		{ErrCodeExecution, true, false},
		{ErrCodeTimeout, true, false},
		{ErrCodeStore, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			e := NewError(tt.code, "x")
			assert.Equal(t, tt.retryable, e.IsRetryable())
			assert.Equal(t, tt.structural, e.IsStructural())
		})
	}
}

func TestFlowError_ErrorAndUnwrap(t *testing.T) {
	cause := errors.New("boom")
	e := NewErrorf(ErrCodeExecution, "call %s", "api").WithNode("n1").WithCause(cause)

	assert.Equal(t, "[EXECUTION_ERROR] node n1: call api", e.Error())
	assert.ErrorIs(t, e, cause)

	wrapped := fmt.Errorf("outer: %w", e)
	fe, ok := AsFlowError(wrapped)
	require.True(t, ok)
	assert.Equal(t, "n1", fe.NodeID)
	assert.True(t, HasCode(wrapped, ErrCodeExecution))
	assert.False(t, HasCode(errors.New("plain"), ErrCodeExecution))
}

func TestRunContext_WithDoesNotMutate(t *testing.T) {
	base := RunContext{"a": 1}
	next := base.With("b", 2)

	assert.Equal(t, RunContext{"a": 1}, base)
	assert.Equal(t, RunContext{"a": 1, "b": 2}, next)
}

func TestRunContext_Lookup(t *testing.T) {
	c := RunContext{"telegram": map[string]any{"message": map[string]any{"chat": map[string]any{"id": 42.0}}}}

	v, ok := c.Lookup("telegram", "message", "chat", "id")
	require.True(t, ok)
	assert.Equal(t, 42.0, v)

	_, ok = c.Lookup("telegram", "chat", "id")
	assert.False(t, ok)
}

func TestNode_OwnerUserID(t *testing.T) {
	assert.Equal(t, "", Node{}.OwnerUserID())
	assert.Equal(t, "7", Node{Data: map[string]any{OwnerKey: "7"}}.OwnerUserID())
	assert.Equal(t, "123456789", Node{Data: map[string]any{OwnerKey: 123456789.0}}.OwnerUserID())
}

func TestChannelFor(t *testing.T) {
	assert.Equal(t, "http-request-execution", ChannelFor(NodeTypeHTTPRequest))
	assert.Equal(t, "manual-trigger-execution", ChannelFor(NodeTypeInitial))
	assert.Equal(t, "node-execution", ChannelFor("NOPE"))
	assert.True(t, NodeTypeTelegramTrigger.IsTrigger())
	assert.False(t, NodeTypeSlack.IsTrigger())
}
