package streaming

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/rendis/nodeflow/pkg/schema"
)

// DefaultTokenTTL is how long a subscription token stays valid.
const DefaultTokenTTL = time.Hour

// Claims scope a subscription token.
type Claims struct {
	Channel    string `json:"ch"`
	RunID      string `json:"run,omitempty"`
	WorkflowID string `json:"wf,omitempty"`
	ExpiresAt  int64  `json:"exp"`
}

// Filter returns the event filter the claims allow.
func (c Claims) Filter() EventFilter {
	return EventFilter{Channel: c.Channel, RunID: c.RunID, WorkflowID: c.WorkflowID}
}

// TokenIssuer signs and verifies subscription tokens. A token is
// base64url(claims) "." base64url(HMAC-SHA256(claims)).
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates an issuer. A zero ttl selects DefaultTokenTTL.
func NewTokenIssuer(secret []byte, ttl time.Duration) (*TokenIssuer, error) {
	if len(secret) < 16 {
		return nil, schema.NewError(schema.ErrCodeValidation, "token secret must be at least 16 bytes")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenIssuer{secret: secret, ttl: ttl, now: time.Now}, nil
}

// Issue returns a token for c. The channel is required.
func (t *TokenIssuer) Issue(c Claims) (string, time.Time, error) {
	if c.Channel == "" {
		return "", time.Time{}, schema.NewError(schema.ErrCodeValidation, "token channel is required")
	}
	exp := t.now().Add(t.ttl)
	c.ExpiresAt = exp.Unix()

	payload, err := json.Marshal(c)
	if err != nil {
		return "", time.Time{}, schema.NewErrorf(schema.ErrCodeNonRetryable, "encode claims: %s", err.Error())
	}
	body := base64.RawURLEncoding.EncodeToString(payload)
	return body + "." + t.sign(body), exp, nil
}

// Verify checks the signature and expiry of token and returns its claims.
func (t *TokenIssuer) Verify(token string) (Claims, error) {
	var c Claims
	body, sig, ok := strings.Cut(token, ".")
	if !ok || body == "" || sig == "" {
		return c, schema.NewError(schema.ErrCodeUnauthorized, "malformed token")
	}
	if !hmac.Equal([]byte(sig), []byte(t.sign(body))) {
		return c, schema.NewError(schema.ErrCodeUnauthorized, "invalid token signature")
	}
	payload, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return c, schema.NewError(schema.ErrCodeUnauthorized, "malformed token")
	}
	if err := json.Unmarshal(payload, &c); err != nil {
		return c, schema.NewError(schema.ErrCodeUnauthorized, "malformed token")
	}
	if t.now().Unix() >= c.ExpiresAt {
		return c, schema.NewError(schema.ErrCodeUnauthorized, "token expired")
	}
	return c, nil
}

func (t *TokenIssuer) sign(body string) string {
	mac := hmac.New(sha256.New, t.secret)
	mac.Write([]byte(body))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
