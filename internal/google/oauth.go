package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"gitlab.com/yelinaung/receipt-tracker/internal/logger"
	"gitlab.com/yelinaung/receipt-tracker/internal/models"
	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
)

var (
	// ErrNoRefreshToken means the user never granted offline access.
	ErrNoRefreshToken = errors.New("no refresh token on file")
	// ErrOAuthNotConfigured means the server has no OAuth client credentials.
	ErrOAuthNotConfigured = errors.New("google oauth client is not configured")
	// ErrRefreshRejected means Google refused the stored refresh token.
	ErrRefreshRejected = errors.New("google rejected the refresh token")
	// ErrTokenPersist means Google issued new tokens but they could not be saved.
	ErrTokenPersist = errors.New("failed to persist refreshed google token")
)

// TokenStore reads and persists a user's Google tokens.
type TokenStore interface {
	Get(ctx context.Context, userID uuid.UUID) (*models.Profile, error)
	UpdateAccessToken(ctx context.Context, userID uuid.UUID, accessToken string) error
	UpdateRefreshToken(ctx context.Context, userID uuid.UUID, refreshToken string) error
}

// RefreshResult is the outcome of a refresh attempt. On failure AccessToken
// holds the stale token the caller passed in and Reason says why.
type RefreshResult struct {
	AccessToken string
	Refreshed   bool
	Reason      error
}

// OAuthConfig holds the OAuth client used to redeem refresh tokens.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	// TokenURL overrides Google's token endpoint.
	TokenURL   string
	HTTPClient *http.Client
}

type refreshCall struct {
	done   chan struct{}
	result RefreshResult
}

// TokenRefresher exchanges stored refresh tokens for new access tokens.
// Concurrent refreshes for the same user share one token request.
type TokenRefresher struct {
	store      TokenStore
	oauth      *oauth2.Config
	httpClient *http.Client

	mu       sync.Mutex
	inFlight map[uuid.UUID]*refreshCall
}

// NewTokenRefresher creates a TokenRefresher. An empty client id or secret
// leaves it unconfigured; every refresh then fails with ErrOAuthNotConfigured.
func NewTokenRefresher(store TokenStore, cfg OAuthConfig) *TokenRefresher {
	r := &TokenRefresher{
		store:      store,
		httpClient: cfg.HTTPClient,
		inFlight:   make(map[uuid.UUID]*refreshCall),
	}
	if cfg.ClientID != "" && cfg.ClientSecret != "" {
		endpoint := googleoauth.Endpoint
		if cfg.TokenURL != "" {
			endpoint.TokenURL = cfg.TokenURL
		}
		r.oauth = &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
		}
	}
	return r
}

// Refresh obtains a fresh access token for userID. It never returns an
// error; failures come back as a RefreshResult carrying staleToken.
func (r *TokenRefresher) Refresh(ctx context.Context, userID uuid.UUID, staleToken string) RefreshResult {
	r.mu.Lock()
	if call, ok := r.inFlight[userID]; ok {
		r.mu.Unlock()
		return waitForRefresh(ctx, call, staleToken)
	}
	call := &refreshCall{done: make(chan struct{})}
	r.inFlight[userID] = call
	r.mu.Unlock()

	go func() {
		result := r.refresh(context.WithoutCancel(ctx), userID, staleToken)

		r.mu.Lock()
		call.result = result
		delete(r.inFlight, userID)
		close(call.done)
		r.mu.Unlock()
	}()

	return waitForRefresh(ctx, call, staleToken)
}

func waitForRefresh(ctx context.Context, call *refreshCall, staleToken string) RefreshResult {
	select {
	case <-ctx.Done():
		return RefreshResult{AccessToken: staleToken, Reason: ctx.Err()}
	case <-call.done:
		if !call.result.Refreshed {
			return RefreshResult{AccessToken: staleToken, Reason: call.result.Reason}
		}
		return call.result
	}
}

func (r *TokenRefresher) refresh(ctx context.Context, userID uuid.UUID, staleToken string) RefreshResult {
	log := logger.ForUser(userID.String()).With().Str("stale_token", logger.HashToken(staleToken)).Logger()
	fail := func(reason error) RefreshResult {
		log.Warn().Err(reason).Msg("Google token refresh failed")
		return RefreshResult{AccessToken: staleToken, Reason: reason}
	}

	profile, err := r.store.Get(ctx, userID)
	if err != nil {
		return fail(fmt.Errorf("failed to load profile: %w", err))
	}
	if profile.GoogleRefreshToken == "" {
		return fail(ErrNoRefreshToken)
	}
	if r.oauth == nil {
		return fail(ErrOAuthNotConfigured)
	}

	if r.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)
	}
	tok, err := r.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: profile.GoogleRefreshToken}).Token()
	if err != nil {
		return fail(fmt.Errorf("%w: %w", ErrRefreshRejected, err))
	}

	// A rotated refresh token replaces the stored one, so losing it would
	// strand the user; save it before the access token.
	if tok.RefreshToken != "" && tok.RefreshToken != profile.GoogleRefreshToken {
		if err := r.store.UpdateRefreshToken(ctx, userID, tok.RefreshToken); err != nil {
			return fail(fmt.Errorf("%w: refresh token: %w", ErrTokenPersist, err))
		}
	}
	if err := r.store.UpdateAccessToken(ctx, userID, tok.AccessToken); err != nil {
		return fail(fmt.Errorf("%w: access token: %w", ErrTokenPersist, err))
	}

	log.Info().Str("access_token", logger.HashToken(tok.AccessToken)).Msg("Refreshed Google access token")
	return RefreshResult{AccessToken: tok.AccessToken, Refreshed: true}
}
