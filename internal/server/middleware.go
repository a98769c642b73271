package server

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"gitlab.com/yelinaung/receipt-tracker/internal/apperr"
	"gitlab.com/yelinaung/receipt-tracker/internal/category"
	"gitlab.com/yelinaung/receipt-tracker/internal/logger"
	"gitlab.com/yelinaung/receipt-tracker/internal/repository"
)

const (
	requestIDKey = "requestID"
	userIDKey    = "userID"
)

// requestLogger logs each request with a request id, method, route, status
// and latency.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || len(requestID) > 64 {
			requestID = uuid.NewString()
		}
		c.Set(requestIDKey, requestID)
		c.Writer.Header().Set("X-Request-ID", requestID)

		c.Next()

		status := c.Writer.Status()
		log := logger.ForRequest(requestID)
		ev := log.Info()
		switch {
		case status >= 500:
			ev = log.Error()
		case status >= 400:
			ev = log.Warn()
		}

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		ev.Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Int64("latency_ms", time.Since(start).Milliseconds()).
			Str("client_ip", c.ClientIP()).
			Msg("request")
	}
}

// recovery turns panics into a logged internal error response.
func recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		log := logger.ForRequest(c.GetString(requestIDKey))
		log.Error().
			Str("path", c.FullPath()).
			Interface("panic", recovered).
			Msg("Recovered from panic")
		respondWithError(c, apperr.ErrInternalServer)
	})
}

// authenticate verifies the bearer token issued by the auth provider and
// stores its subject as the user id.
func authenticate(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			respondWithError(c, apperr.ErrUnauthorized)
			return
		}

		userID, err := parseSubject(strings.TrimSpace(token), secret)
		if err != nil {
			respondWithError(c, apperr.Wrap(apperr.ErrUnauthorized, err))
			return
		}

		c.Set(userIDKey, userID)
		c.Next()
	}
}

func parseSubject(token string, secret []byte) (uuid.UUID, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return uuid.Nil, fmt.Errorf("invalid token: %w", err)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil || userID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("token subject is not a user id")
	}
	return userID, nil
}

// onboard makes sure an authenticated user has a profile and the default
// categories. It runs once per user per process.
func (s *Server) onboard() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := currentUser(c)
		if _, done := s.onboarded.Load(userID); done {
			c.Next()
			return
		}

		if err := s.ensureUser(c.Request.Context(), userID); err != nil {
			respondWithError(c, err)
			return
		}
		s.onboarded.Store(userID, struct{}{})
		c.Next()
	}
}

func (s *Server) ensureUser(ctx context.Context, userID uuid.UUID) error {
	created, err := s.deps.Profiles.Ensure(ctx, userID)
	if err != nil {
		return err
	}

	defaults := make([]repository.DefaultCategory, len(category.Taxonomy))
	for i, d := range category.Taxonomy {
		defaults[i] = repository.DefaultCategory{Name: d.Name, Emoji: d.Emoji}
	}
	if err := s.deps.Categories.SeedDefaults(ctx, userID, defaults); err != nil {
		return err
	}

	if created {
		logger.ForUser(userID.String()).Info().Msg("New user onboarded")
	}
	return nil
}

// currentUser returns the id set by authenticate.
func currentUser(c *gin.Context) uuid.UUID {
	id, _ := c.Get(userIDKey)
	userID, _ := id.(uuid.UUID)
	return userID
}
