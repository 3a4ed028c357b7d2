package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeflow/pkg/schema"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		err       error
		code      string
		retryable bool
	}{
		{"rate limited", 429, errors.New("slow down"), schema.ErrCodeExecution, true},
		{"outage", 503, errors.New("down"), schema.ErrCodeExecution, true},
		{"bad key", 401, errors.New("nope"), schema.ErrCodeNonRetryable, false},
		{"bad request", 400, errors.New("bad"), schema.ErrCodeNonRetryable, false},
		{"status in message", 0, errors.New("googleapi: Error 403: permission denied"), schema.ErrCodeNonRetryable, false},
		{"unknown", 0, errors.New("connection reset by peer"), schema.ErrCodeExecution, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(ProviderGemini, tt.status, tt.err)
			fe, ok := schema.AsFlowError(err)
			require.True(t, ok)
			assert.Equal(t, tt.code, fe.Code)
			assert.Equal(t, tt.retryable, fe.IsRetryable())
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestClassify_PassesCancellation(t *testing.T) {
	err := classify(ProviderOpenAI, 0, fmt.Errorf("call: %w", context.Canceled))
	assert.ErrorIs(t, err, context.Canceled)
	_, ok := schema.AsFlowError(err)
	assert.False(t, ok)
}

func TestMediaTypeFor(t *testing.T) {
	assert.Equal(t, "image/jpeg", MediaTypeFor("jpeg"))
	assert.Equal(t, "image/webp", MediaTypeFor("WEBP"))
	assert.Equal(t, "image/png", MediaTypeFor(""))
	assert.Equal(t, "image/png", MediaTypeFor("tiff"))
}

func TestClients_UnsupportedProvider(t *testing.T) {
	c := NewClients(Config{})
	_, err := c.ImageModel(context.Background(), ProviderAnthropic, "k")
	assert.True(t, schema.HasCode(err, schema.ErrCodeNonRetryable))

	_, err = c.TextModel(context.Background(), Provider("nope"), "k")
	assert.True(t, schema.HasCode(err, schema.ErrCodeNonRetryable))
}

func TestClients_OpenAIWithoutNetwork(t *testing.T) {
	c := NewClients(Config{OpenAIBaseURL: "http://127.0.0.1:0"})
	m, err := c.TextModel(context.Background(), ProviderOpenAI, "sk-test")
	require.NoError(t, err)
	assert.NotNil(t, m)
}
