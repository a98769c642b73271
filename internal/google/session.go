package google

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Refresher obtains a new access token for a user.
type Refresher interface {
	Refresh(ctx context.Context, userID uuid.UUID, staleToken string) RefreshResult
}

// Session is one user's Google credentials for the duration of an operation.
// A 401 from any call triggers a single token refresh and one retry of that
// call. The refreshed token is reused by later calls on the same Session.
type Session struct {
	token     string
	userID    uuid.UUID
	refresher Refresher
	refreshed bool
}

// NewSession creates a Session. With a nil userID or refresher the token
// cannot be refreshed and a 401 fails with ErrReconnect straight away.
func NewSession(accessToken string, userID uuid.UUID, refresher Refresher) *Session {
	return &Session{token: accessToken, userID: userID, refresher: refresher}
}

// AccessToken returns the token currently in use.
func (s *Session) AccessToken() string { return s.token }

// Refreshed reports whether the token was refreshed during this Session.
func (s *Session) Refreshed() bool { return s.refreshed }

func (s *Session) canRefresh() bool {
	return s.refresher != nil && s.userID != uuid.Nil && !s.refreshed
}

// withRefresh runs fn with the current token and applies the refresh-once policy.
func withRefresh[T any](ctx context.Context, s *Session, fn func(token string) (T, error)) (T, error) {
	var zero T

	v, err := fn(s.token)
	if !isUnauthorized(err) {
		return v, err
	}
	if !s.canRefresh() {
		return zero, fmt.Errorf("%w: %w", ErrReconnect, err)
	}

	res := s.refresher.Refresh(ctx, s.userID, s.token)
	s.refreshed = true
	if !res.Refreshed {
		if errors.Is(res.Reason, ErrOAuthNotConfigured) || errors.Is(res.Reason, ErrTokenPersist) {
			return zero, res.Reason
		}
		return zero, fmt.Errorf("%w: %w", ErrReconnect, res.Reason)
	}
	s.token = res.AccessToken

	v, err = fn(s.token)
	if isUnauthorized(err) {
		return zero, fmt.Errorf("%w: %w", ErrReconnect, err)
	}
	return v, err
}
