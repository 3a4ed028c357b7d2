package streaming

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeflow/pkg/schema"
)

func newIssuer(t *testing.T) *TokenIssuer {
	t.Helper()
	iss, err := NewTokenIssuer([]byte("0123456789abcdef0123"), time.Minute)
	require.NoError(t, err)
	return iss
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	var fe *schema.FlowError
	require.True(t, errors.As(err, &fe), "expected FlowError, got %v", err)
	assert.Equal(t, code, fe.Code)
}

func TestTokenRoundTrip(t *testing.T) {
	iss := newIssuer(t)
	token, exp, err := iss.Issue(Claims{Channel: "gemini-execution", RunID: "run-1"})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), exp, 5*time.Second)

	claims, err := iss.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "gemini-execution", claims.Channel)
	assert.Equal(t, EventFilter{Channel: "gemini-execution", RunID: "run-1"}, claims.Filter())
}

func TestTokenRejections(t *testing.T) {
	iss := newIssuer(t)
	token, _, err := iss.Issue(Claims{Channel: "slack-execution"})
	require.NoError(t, err)

	body, sig, _ := strings.Cut(token, ".")

	t.Run("tampered body", func(t *testing.T) {
		forged, _, err := iss.Issue(Claims{Channel: "discord-execution"})
		require.NoError(t, err)
		otherBody, _, _ := strings.Cut(forged, ".")
		_, err = iss.Verify(otherBody + "." + sig)
		requireCode(t, err, schema.ErrCodeUnauthorized)
	})

	t.Run("malformed", func(t *testing.T) {
		for _, tok := range []string{"", "abc", ".sig", body + "."} {
			_, err := iss.Verify(tok)
			requireCode(t, err, schema.ErrCodeUnauthorized)
		}
	})

	t.Run("other secret", func(t *testing.T) {
		other, err := NewTokenIssuer([]byte("ffffffffffffffffffff"), time.Minute)
		require.NoError(t, err)
		_, err = other.Verify(token)
		requireCode(t, err, schema.ErrCodeUnauthorized)
	})

	t.Run("expired", func(t *testing.T) {
		iss.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
		defer func() { iss.now = time.Now }()
		_, err := iss.Verify(token)
		requireCode(t, err, schema.ErrCodeUnauthorized)
	})
}

func TestTokenIssuerValidation(t *testing.T) {
	_, err := NewTokenIssuer([]byte("short"), 0)
	requireCode(t, err, schema.ErrCodeValidation)

	iss := newIssuer(t)
	_, _, err = iss.Issue(Claims{})
	requireCode(t, err, schema.ErrCodeValidation)
}
