// Package auth tracks the client's bearer credential and broadcasts
// connectivity/auth state changes to subscribers.
package auth

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSource supplies the bearer credential attached to outbound calls.
type TokenSource interface {
	Token() (string, bool)
}

// Session holds the current bearer token. The surrounding auth layer owns
// refresh; this core only needs to know whether an unexpired credential is
// present before applying any optimistic mutation.
type Session struct {
	mu        sync.RWMutex
	raw       string
	expiresAt time.Time
	hub       *Hub
}

// NewSession builds an empty (unauthenticated) session. hub may be nil.
func NewSession(hub *Hub) *Session {
	return &Session{hub: hub}
}

// SetToken installs a bearer token. JWT claims are parsed unverified — the
// client has no signing key — purely to learn the expiry. Non-JWT tokens are
// accepted and treated as non-expiring.
func (s *Session) SetToken(raw string) error {
	var expires time.Time
	if raw != "" {
		claims := jwt.MapClaims{}
		if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err == nil {
			if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
				expires = exp.Time
			}
		} else if looksLikeJWT(raw) {
			return fmt.Errorf("malformed bearer token: %w", err)
		}
	}

	s.mu.Lock()
	s.raw = raw
	s.expiresAt = expires
	s.mu.Unlock()

	if s.hub != nil {
		s.hub.Publish(Event{Kind: EventAuthChanged, Authenticated: raw != ""})
	}
	return nil
}

// Clear drops the credential, e.g. on logout or terminal 401.
func (s *Session) Clear() {
	s.mu.Lock()
	s.raw = ""
	s.expiresAt = time.Time{}
	s.mu.Unlock()

	if s.hub != nil {
		s.hub.Publish(Event{Kind: EventAuthChanged, Authenticated: false})
	}
}

// Token returns the raw credential and whether it is currently usable.
func (s *Session) Token() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.raw == "" {
		return "", false
	}
	if !s.expiresAt.IsZero() && !time.Now().Before(s.expiresAt) {
		return "", false
	}
	return s.raw, true
}

// Authenticated reports whether an unexpired credential is present.
func (s *Session) Authenticated() bool {
	_, ok := s.Token()
	return ok
}

func looksLikeJWT(raw string) bool {
	dots := 0
	for _, r := range raw {
		if r == '.' {
			dots++
		}
	}
	return dots == 2
}
