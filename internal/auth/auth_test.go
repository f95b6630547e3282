package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, expiresIn time.Duration) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(expiresIn).Unix(),
	})
	raw, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return raw
}

func TestSessionLifecycle(t *testing.T) {
	s := NewSession(nil)
	assert.False(t, s.Authenticated())

	require.NoError(t, s.SetToken(signedToken(t, time.Hour)))
	assert.True(t, s.Authenticated())

	raw, ok := s.Token()
	assert.True(t, ok)
	assert.NotEmpty(t, raw)

	s.Clear()
	assert.False(t, s.Authenticated())
}

func TestExpiredTokenIsNotAuthenticated(t *testing.T) {
	s := NewSession(nil)
	require.NoError(t, s.SetToken(signedToken(t, -time.Minute)))
	assert.False(t, s.Authenticated())
}

func TestOpaqueTokenAccepted(t *testing.T) {
	s := NewSession(nil)
	require.NoError(t, s.SetToken("opaque-api-key"))
	assert.True(t, s.Authenticated())
}

func TestMalformedJWTRejected(t *testing.T) {
	s := NewSession(nil)
	assert.Error(t, s.SetToken("not.a.jwt"))
}

func TestHubSubscribePublishUnsubscribe(t *testing.T) {
	h := NewHub()
	var got []Event
	token := h.Subscribe(EventAuthChanged, func(ev Event) { got = append(got, ev) })
	h.Subscribe(EventOffline, func(ev Event) { t.Error("wrong kind delivered") })

	h.Publish(Event{Kind: EventAuthChanged, Authenticated: true})
	require.Len(t, got, 1)
	assert.True(t, got[0].Authenticated)

	h.Unsubscribe(token)
	h.Publish(Event{Kind: EventAuthChanged})
	assert.Len(t, got, 1)
}

func TestSessionPublishesAuthChange(t *testing.T) {
	h := NewHub()
	s := NewSession(h)

	var events []Event
	h.Subscribe(EventAuthChanged, func(ev Event) { events = append(events, ev) })

	require.NoError(t, s.SetToken(signedToken(t, time.Hour)))
	s.Clear()

	require.Len(t, events, 2)
	assert.True(t, events[0].Authenticated)
	assert.False(t, events[1].Authenticated)
}
