package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTokenTTL defines the fallback validity period for access tokens.
const DefaultTokenTTL = 15 * time.Minute

var (
	// ErrTokenExpired indicates a well-formed token whose exp has passed.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrTokenInvalid covers every other validation failure.
	ErrTokenInvalid = errors.New("auth: token invalid")
)

// TokenConfig bundles the configuration required to build a TokenService.
type TokenConfig struct {
	Keys   *KeySet
	Issuer string
	TTL    time.Duration
	Leeway time.Duration
	Clock  func() time.Time
}

// Claims represents the claims embedded in issued tokens.
type Claims struct {
	jwt.RegisteredClaims
}

// TokenService issues and validates signed bearer tokens.
type TokenService struct {
	keys   *KeySet
	issuer string
	ttl    time.Duration
	leeway time.Duration
	now    func() time.Time
}

// NewTokenService constructs a TokenService. The key set is required.
func NewTokenService(cfg TokenConfig) (*TokenService, error) {
	if cfg.Keys == nil {
		return nil, errors.New("auth: key set must be provided")
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	now := time.Now
	if cfg.Clock != nil {
		now = cfg.Clock
	}

	return &TokenService{
		keys:   cfg.Keys,
		issuer: cfg.Issuer,
		ttl:    ttl,
		leeway: cfg.Leeway,
		now:    now,
	}, nil
}

// TTL reports the default token lifetime.
func (s *TokenService) TTL() time.Duration { return s.ttl }

// Issue signs a token for subject. A non-positive ttl uses the configured default; lifetimes
// shorter than the one second claim precision are rounded up.
func (s *TokenService) Issue(subject string, ttl time.Duration) (string, *Claims, error) {
	if subject == "" {
		return "", nil, errors.New("auth: subject is required")
	}
	if ttl <= 0 {
		ttl = s.ttl
	}
	if ttl < time.Second {
		ttl = time.Second
	}

	now := s.now().Truncate(time.Second)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(s.keys.method, claims)
	token.Header["kid"] = s.keys.keyID

	signed, err := token.SignedString(s.keys.signKey)
	if err != nil {
		return "", nil, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, claims, nil
}

// Validate parses and verifies a token. Expiry yields ErrTokenExpired; any other failure yields
// ErrTokenInvalid. Both wrap the underlying cause.
func (s *TokenService) Validate(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: empty token", ErrTokenInvalid)
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{s.keys.method.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithLeeway(s.leeway),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	var claims Claims
	_, err := jwt.NewParser(opts...).ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if kid, ok := token.Header["kid"].(string); ok && kid != s.keys.keyID {
			return nil, fmt.Errorf("unknown key id %q", kid)
		}
		return s.keys.verifyKey, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, fmt.Errorf("%w: %w", ErrTokenExpired, err)
	case err != nil:
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	return &claims, nil
}
