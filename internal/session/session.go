package session

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/baechuer/activity-sync/internal/domain"
)

// Session holds the signed-in user and the bearer token used for every remote
// call and realtime connection.
type Session struct {
	mu    sync.RWMutex
	user  *domain.User
	hooks []func()
}

func New(u *domain.User) *Session {
	s := &Session{}
	if u != nil {
		cp := *u
		s.user = &cp
	}
	return s
}

// SetUser replaces the signed-in user, e.g. after GET /user resolves the
// token's identity.
func (s *Session) SetUser(u domain.User) {
	s.mu.Lock()
	s.user = &u
	s.mu.Unlock()
}

func (s *Session) Current() (domain.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return domain.User{}, false
	}
	return *s.user, true
}

// Token satisfies the token supplier used by the HTTP client and the channel.
func (s *Session) Token() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil || s.user.Token == "" {
		return "", domain.NewError(domain.KindUnauthorized, "session.token", "not signed in")
	}
	return s.user.Token, nil
}

// OnInvalidate registers fn to run after the session is invalidated.
func (s *Session) OnInvalidate(fn func()) {
	s.mu.Lock()
	s.hooks = append(s.hooks, fn)
	s.mu.Unlock()
}

// Invalidate drops the user and token. Hooks run outside the lock.
func (s *Session) Invalidate() {
	s.mu.Lock()
	had := s.user != nil
	s.user = nil
	hooks := append([]func(){}, s.hooks...)
	s.mu.Unlock()

	if !had {
		return
	}
	for _, fn := range hooks {
		fn()
	}
}

// ExpiresAt reads the exp claim without verifying the signature; the server
// stays the authority on validity.
func (s *Session) ExpiresAt() (time.Time, bool) {
	tok, err := s.Token()
	if err != nil {
		return time.Time{}, false
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// Expired reports whether the token's exp claim is at or before now.
// Tokens without a readable exp are treated as not expired.
func (s *Session) Expired(now time.Time) bool {
	exp, ok := s.ExpiresAt()
	if !ok {
		return false
	}
	return !now.Before(exp)
}
