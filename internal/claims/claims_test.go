// ABOUTME: Tests for claims identity, JWT verification and the HTTP middleware
// ABOUTME: Covers anonymous, valid, invalid and agentic callers

package claims

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testSecret is a 32-byte secret that meets MinSecretLength.
var testSecret = []byte("claims-middleware-test-secret-32")

func TestNewJWTVerifier_ShortSecret(t *testing.T) {
	_, err := NewJWTVerifier([]byte("short"))
	assert.ErrorIs(t, err, ErrShortSecret)
}

func TestJWTVerifier_RoundTrip(t *testing.T) {
	v, err := NewJWTVerifier(testSecret)
	require.NoError(t, err)

	token, err := v.Generate("app-1", time.Hour, map[string]any{ClaimAgentic: true})
	require.NoError(t, err)

	id, err := v.Verify(token)
	require.NoError(t, err)
	assert.False(t, id.IsAnonymous())
	assert.Equal(t, "app-1", id.AppID())
	assert.True(t, id.IsAgentic())
}

func TestJWTVerifier_Expired(t *testing.T) {
	v, err := NewJWTVerifier(testSecret)
	require.NoError(t, err)

	token, err := v.Generate("app-1", -time.Minute, nil)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestJWTVerifier_WrongSecret(t *testing.T) {
	v, _ := NewJWTVerifier(testSecret)
	other, _ := NewJWTVerifier([]byte("another-secret-that-is-32-bytes!"))

	token, err := other.Generate("app-1", time.Hour, nil)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTVerifier_MissingSubject(t *testing.T) {
	v, _ := NewJWTVerifier(testSecret)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(testSecret)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrMissingClaim)
}

func TestIdentity_Agentic(t *testing.T) {
	assert.False(t, Anonymous().IsAgentic())
	assert.False(t, (&Identity{Authenticated: true, Claims: map[string]any{"sub": "x"}}).IsAgentic())
	assert.True(t, (&Identity{Authenticated: true, Claims: map[string]any{ClaimAgenticAppID: "a"}}).IsAgentic())
	assert.True(t, (&Identity{Authenticated: true, Claims: map[string]any{ClaimAgentic: "TRUE"}}).IsAgentic())
	assert.False(t, (&Identity{Authenticated: false, Claims: map[string]any{ClaimAgentic: true}}).IsAgentic())
}

func TestIdentity_Claim(t *testing.T) {
	id := &Identity{Authenticated: true, Claims: map[string]any{
		"aud": []any{"a", "b"},
		"n":   float64(3),
	}}
	v, ok := id.Claim("aud")
	assert.True(t, ok)
	assert.Equal(t, "a,b", v)

	v, ok = id.Claim("n")
	assert.True(t, ok)
	assert.Equal(t, "3", v)

	_, ok = id.Claim("missing")
	assert.False(t, ok)

	var nilID *Identity
	assert.True(t, nilID.IsAnonymous())
}

func TestFromContext_Missing(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))
}

func serveWithMiddleware(t *testing.T, verifier TokenVerifier, header string) *Identity {
	t.Helper()

	var got *Identity
	h := Middleware(verifier, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/messages", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	h.ServeHTTP(httptest.NewRecorder(), req)
	return got
}

func TestMiddleware_NoHeaderIsAnonymous(t *testing.T) {
	v, _ := NewJWTVerifier(testSecret)
	id := serveWithMiddleware(t, v, "")
	require.NotNil(t, id)
	assert.True(t, id.IsAnonymous())
}

func TestMiddleware_ValidToken(t *testing.T) {
	v, _ := NewJWTVerifier(testSecret)
	token, _ := v.Generate("channel", time.Hour, nil)

	id := serveWithMiddleware(t, v, "Bearer "+token)
	require.NotNil(t, id)
	assert.False(t, id.IsAnonymous())
	assert.Equal(t, "channel", id.AppID())
}

func TestMiddleware_InvalidTokenLeavesNoIdentity(t *testing.T) {
	v, _ := NewJWTVerifier(testSecret)
	assert.Nil(t, serveWithMiddleware(t, v, "Bearer not-a-jwt"))
	assert.Nil(t, serveWithMiddleware(t, v, "Basic abc"))
}

func TestMiddleware_NilVerifier(t *testing.T) {
	id := serveWithMiddleware(t, nil, "Bearer whatever")
	require.NotNil(t, id)
	assert.True(t, id.IsAnonymous())
}
