package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charlesng35/idcore/internal/models"
	"github.com/charlesng35/idcore/internal/store"
	"github.com/charlesng35/idcore/pkg/crypto"
	"github.com/charlesng35/idcore/pkg/metrics"
)

const (
	// DefaultRefreshTokenTTL is the fallback refresh token lifetime.
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour

	defaultRefreshLength = 32
)

// SessionConfig describes tunable behaviour for the SessionService.
type SessionConfig struct {
	RefreshTokenTTL time.Duration
	// RefreshLength is the number of random bytes in a refresh token.
	RefreshLength int
	Clock         func() time.Time
}

// TokenPair represents an access token and refresh token pair.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

var (
	// ErrSessionNotFound indicates that no session matches the provided token or identifier.
	ErrSessionNotFound = errors.New("session: not found")
	// ErrSessionRevoked marks a session that has been revoked.
	ErrSessionRevoked = errors.New("session: revoked")
	// ErrSessionExpired signals that a refresh token has reached its expiry.
	ErrSessionExpired = errors.New("session: expired")
	// ErrSessionInvalidToken is returned when the supplied refresh token is empty.
	ErrSessionInvalidToken = errors.New("session: invalid token")
	// ErrRefreshTokenReused is returned when a rotated refresh token is presented again. The
	// session is revoked before the error is returned.
	ErrRefreshTokenReused = errors.New("session: refresh token reused")
)

var errRotated = errors.New("session: refresh token rotated concurrently")

// SessionService manages creation, rotation and revocation of refresh sessions.
type SessionService struct {
	sessions   store.Store[models.Session]
	tokens     *TokenService
	refreshTTL time.Duration
	tokenLen   int
	now        func() time.Time
}

// NewSessionService constructs a session manager over the provided store and token service. The
// refresh lifetime must exceed the access token lifetime.
func NewSessionService(sessions store.Store[models.Session], tokens *TokenService, cfg SessionConfig) (*SessionService, error) {
	if sessions == nil {
		return nil, errors.New("session service: session store is required")
	}
	if tokens == nil {
		return nil, errors.New("session service: token service is required")
	}

	ttl := cfg.RefreshTokenTTL
	if ttl <= 0 {
		ttl = DefaultRefreshTokenTTL
	}
	if ttl <= tokens.TTL() {
		return nil, fmt.Errorf("session service: refresh ttl %s must exceed access token ttl %s", ttl, tokens.TTL())
	}

	length := cfg.RefreshLength
	if length <= 0 {
		length = defaultRefreshLength
	}

	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	return &SessionService{
		sessions:   sessions,
		tokens:     tokens,
		refreshTTL: ttl,
		tokenLen:   length,
		now:        clock,
	}, nil
}

// CreateSession starts a session for userID and issues a fresh token pair.
func (s *SessionService) CreateSession(ctx context.Context, userID string) (TokenPair, *models.Session, error) {
	if strings.TrimSpace(userID) == "" {
		return TokenPair{}, nil, errors.New("session service: user id is required")
	}

	refreshToken, err := crypto.GenerateToken(s.tokenLen)
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: generate refresh token: %w", err)
	}

	now := s.now()
	session := models.Session{
		UserID:           userID,
		RefreshTokenHash: crypto.SHA256Hex(refreshToken),
		ExpiresAt:        now.Add(s.refreshTTL),
		LastUsedAt:       now,
	}
	session.CreatedAt = now
	session.UpdatedAt = now

	session, err = s.sessions.Create(ctx, session)
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: create session: %w", err)
	}

	pair, err := s.pair(session, refreshToken)
	if err != nil {
		return TokenPair{}, nil, err
	}

	metrics.SessionEvents.WithLabelValues("created").Inc()
	return pair, &session, nil
}

// RefreshSession rotates the refresh token and issues a new access token. Presenting the token
// replaced by the latest rotation revokes the session and yields ErrRefreshTokenReused.
func (s *SessionService) RefreshSession(ctx context.Context, refreshToken string) (TokenPair, *models.Session, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return TokenPair{}, nil, ErrSessionInvalidToken
	}
	digest := crypto.SHA256Hex(refreshToken)

	current, err := s.sessions.GetBy(ctx, store.IndexRefreshToken, digest)
	if errors.Is(err, store.ErrNotFound) {
		return TokenPair{}, nil, s.detectReuse(ctx, digest)
	}
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: find session: %w", err)
	}

	next, err := crypto.GenerateToken(s.tokenLen)
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: generate refresh token: %w", err)
	}

	now := s.now()
	session, err := s.sessions.Update(ctx, current.ID, func(rec *models.Session) error {
		switch {
		case rec.Revoked():
			return ErrSessionRevoked
		case rec.Expired(now):
			return ErrSessionExpired
		case rec.RefreshTokenHash != digest:
			return errRotated
		}
		previous := rec.RefreshTokenHash
		rec.PreviousRefreshHash = &previous
		rec.RefreshTokenHash = crypto.SHA256Hex(next)
		rec.ExpiresAt = now.Add(s.refreshTTL)
		rec.LastUsedAt = now
		rec.UpdatedAt = now
		return nil
	})
	switch {
	case err == nil:
	case errors.Is(err, errRotated):
		return TokenPair{}, nil, s.revokeReused(ctx, current.ID)
	case errors.Is(err, ErrSessionRevoked), errors.Is(err, ErrSessionExpired):
		return TokenPair{}, nil, err
	case errors.Is(err, store.ErrNotFound):
		return TokenPair{}, nil, ErrSessionNotFound
	default:
		return TokenPair{}, nil, fmt.Errorf("session service: update session: %w", err)
	}

	pair, err := s.pair(session, next)
	if err != nil {
		return TokenPair{}, nil, err
	}

	metrics.SessionEvents.WithLabelValues("refreshed").Inc()
	return pair, &session, nil
}

// RevokeSession marks a session as revoked. Revoking an already revoked session is a no-op.
func (s *SessionService) RevokeSession(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrSessionInvalidToken
	}

	now := s.now()
	changed := false
	_, err := s.sessions.Update(ctx, sessionID, func(rec *models.Session) error {
		if rec.Revoked() {
			return nil
		}
		rec.RevokedAt = &now
		rec.UpdatedAt = now
		changed = true
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("session service: revoke session: %w", err)
	}

	if changed {
		metrics.SessionEvents.WithLabelValues("revoked").Inc()
	}
	return nil
}

// RevokeByToken revokes the session currently addressed by refreshToken.
func (s *SessionService) RevokeByToken(ctx context.Context, refreshToken string) (*models.Session, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil, ErrSessionInvalidToken
	}

	session, err := s.sessions.GetBy(ctx, store.IndexRefreshToken, crypto.SHA256Hex(refreshToken))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session service: find session: %w", err)
	}

	if err := s.RevokeSession(ctx, session.ID); err != nil {
		return nil, err
	}
	return &session, nil
}

// RevokeUserSessions revokes every active session belonging to a user.
func (s *SessionService) RevokeUserSessions(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrSessionInvalidToken
	}

	sessions, err := s.sessions.GetMany(ctx, store.Filter{store.FieldUserID: userID})
	if err != nil {
		return fmt.Errorf("session service: list sessions: %w", err)
	}
	for _, session := range sessions {
		if session.Revoked() {
			continue
		}
		if err := s.RevokeSession(ctx, session.ID); err != nil && !errors.Is(err, ErrSessionNotFound) {
			return err
		}
	}
	return nil
}

func (s *SessionService) detectReuse(ctx context.Context, digest string) error {
	session, err := s.sessions.GetBy(ctx, store.IndexPreviousRefreshToken, digest)
	if errors.Is(err, store.ErrNotFound) {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("session service: find session: %w", err)
	}
	return s.revokeReused(ctx, session.ID)
}

func (s *SessionService) revokeReused(ctx context.Context, sessionID string) error {
	metrics.SessionEvents.WithLabelValues("reused").Inc()
	if err := s.RevokeSession(ctx, sessionID); err != nil && !errors.Is(err, ErrSessionNotFound) {
		return errors.Join(ErrRefreshTokenReused, err)
	}
	return ErrRefreshTokenReused
}

func (s *SessionService) pair(session models.Session, refreshToken string) (TokenPair, error) {
	accessToken, claims, err := s.tokens.Issue(session.UserID, 0)
	if err != nil {
		return TokenPair{}, fmt.Errorf("session service: generate access token: %w", err)
	}
	return TokenPair{
		AccessToken:      accessToken,
		AccessExpiresAt:  claims.ExpiresAt.Time,
		RefreshToken:     refreshToken,
		RefreshExpiresAt: session.ExpiresAt,
	}, nil
}
