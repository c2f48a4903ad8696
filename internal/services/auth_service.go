package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/idcore/internal/auth"
	"github.com/charlesng35/idcore/internal/models"
	"github.com/charlesng35/idcore/internal/store"
	"github.com/charlesng35/idcore/pkg/crypto"
	apperrors "github.com/charlesng35/idcore/pkg/errors"
	"github.com/charlesng35/idcore/pkg/logger"
	"github.com/charlesng35/idcore/pkg/metrics"
	"github.com/charlesng35/idcore/pkg/validator"
)

// SignupInput carries the fields accepted when creating an account.
type SignupInput struct {
	Username string `json:"username" validate:"omitempty,min=3,max=64,excludesall=@"`
	Email    string `json:"email" validate:"required_without=Phone,omitempty,email,max=320"`
	Phone    string `json:"phone" validate:"required_without=Email,omitempty,phone"`
	Password string `json:"password" validate:"required,min=8,max=1024"`
}

// Credentials is the ephemeral login input. Identifier is a username, email or phone.
type Credentials struct {
	Identifier string
	Password   string
}

// Session is the result of a successful login or refresh. Token is the bearer access token;
// RefreshToken is opaque and single use.
type Session struct {
	ID               string
	Token            string
	ExpiresAt        time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	User             *models.User
}

// AuthOption customises the AuthService.
type AuthOption func(*AuthService)

// WithAuthLogger overrides the service logger.
func WithAuthLogger(log *zap.Logger) AuthOption {
	return func(s *AuthService) {
		if log != nil {
			s.log = log
		}
	}
}

// AuthService handles signup, password login, session refresh and token authorization.
type AuthService struct {
	users    store.Store[models.User]
	hasher   *crypto.PasswordHasher
	tokens   *auth.TokenService
	sessions *auth.SessionService
	log      *zap.Logger
}

// NewAuthService constructs an AuthService with the provided dependencies.
func NewAuthService(users store.Store[models.User], hasher *crypto.PasswordHasher, tokens *auth.TokenService, sessions *auth.SessionService, opts ...AuthOption) (*AuthService, error) {
	if users == nil {
		return nil, errors.New("auth service: user store is required")
	}
	if hasher == nil {
		return nil, errors.New("auth service: password hasher is required")
	}
	if tokens == nil {
		return nil, errors.New("auth service: token service is required")
	}
	if sessions == nil {
		return nil, errors.New("auth service: session service is required")
	}

	svc := &AuthService{
		users:    users,
		hasher:   hasher,
		tokens:   tokens,
		sessions: sessions,
		log:      logger.WithModule("auth"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Signup creates an account with unverified contacts. The password is hashed before the store
// is touched; any unique key collision yields ErrConflict.
func (s *AuthService) Signup(ctx context.Context, input SignupInput) (*models.User, error) {
	normalised, err := normaliseSignup(input)
	if err != nil {
		recordAuth("signup", "failure")
		return nil, err
	}

	hash, err := s.hash(normalised.Password)
	if err != nil {
		recordAuth("signup", "error")
		return nil, apperrors.ErrHashingFailure.WithInternal(err)
	}

	user, err := s.users.Create(ctx, models.User{
		Username:     models.StringPtr(normalised.Username),
		Email:        models.StringPtr(normalised.Email),
		Phone:        models.StringPtr(normalised.Phone),
		PasswordHash: hash,
	})
	if err != nil {
		mapped := fromStoreError(err)
		if errors.Is(mapped, apperrors.ErrConflict) {
			recordAuth("signup", "failure")
		} else {
			recordAuth("signup", "error")
			s.log.Error("create user failed", zap.Error(err))
		}
		return nil, mapped
	}

	recordAuth("signup", "success")
	s.log.Info("user signed up", zap.String("user_id", user.ID))
	return &user, nil
}

// Login resolves the identifier as a username, then an email, then a phone number. Unknown
// identifiers, accounts without a password and wrong passwords all yield ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, creds Credentials) (*Session, error) {
	user, err := s.resolveIdentifier(ctx, creds.Identifier)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			recordAuth("login", "error")
			return nil, err
		}
		s.hasher.DummyVerify(creds.Password)
		recordAuth("login", "failure")
		return nil, apperrors.ErrInvalidCredentials
	}

	if !user.HasPassword() {
		s.hasher.DummyVerify(creds.Password)
		recordAuth("login", "failure")
		return nil, apperrors.ErrInvalidCredentials
	}

	if !s.verify(creds.Password, user.PasswordHash) {
		recordAuth("login", "failure")
		return nil, apperrors.ErrInvalidCredentials
	}

	if s.hasher.NeedsRehash(user.PasswordHash) {
		s.rehash(ctx, user, creds.Password)
	}

	pair, session, err := s.sessions.CreateSession(ctx, user.ID)
	if err != nil {
		recordAuth("login", "error")
		return nil, fromSessionError(err)
	}

	recordAuth("login", "success")
	return newSession(session, pair, user), nil
}

// Refresh rotates a refresh token and issues a new access token for its session. Unknown,
// expired, revoked and replayed refresh tokens all yield ErrUnauthorized wrapping the session
// cause. A replay revokes the session. Sessions whose user no longer exists are revoked.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	pair, session, err := s.sessions.RefreshSession(ctx, refreshToken)
	if err != nil {
		mapped := fromSessionError(err)
		if errors.Is(mapped, apperrors.ErrUnauthorized) {
			recordAuth("refresh", "failure")
			if errors.Is(err, auth.ErrRefreshTokenReused) {
				s.log.Warn("refresh token reuse detected; session revoked")
			}
		} else {
			recordAuth("refresh", "error")
		}
		return nil, mapped
	}

	user, err := s.users.Get(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			if revokeErr := s.sessions.RevokeUserSessions(ctx, session.UserID); revokeErr != nil {
				s.log.Warn("revoke sessions of missing user failed", zap.String("user_id", session.UserID), zap.Error(revokeErr))
			}
			recordAuth("refresh", "failure")
			return nil, apperrors.ErrUnauthorized.WithInternal(err)
		}
		recordAuth("refresh", "error")
		return nil, fromStoreError(err)
	}

	recordAuth("refresh", "success")
	return newSession(session, pair, &user), nil
}

// Logout revokes the session addressed by refreshToken. Access tokens already issued stay valid
// until they expire. Logging out an already revoked session succeeds.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	session, err := s.sessions.RevokeByToken(ctx, refreshToken)
	if err != nil {
		mapped := fromSessionError(err)
		if errors.Is(mapped, apperrors.ErrUnauthorized) {
			recordAuth("logout", "failure")
		} else {
			recordAuth("logout", "error")
		}
		return mapped
	}

	recordAuth("logout", "success")
	s.log.Info("session revoked", zap.String("session_id", session.ID), zap.String("user_id", session.UserID))
	return nil
}

// Authorize validates a bearer token and re-fetches its subject. Token failures wrap
// auth.ErrTokenExpired or auth.ErrTokenInvalid inside ErrUnauthorized.
func (s *AuthService) Authorize(ctx context.Context, token string) (*models.User, error) {
	claims, err := s.tokens.Validate(strings.TrimSpace(token))
	if err != nil {
		recordAuth("authorize", "failure")
		return nil, apperrors.ErrUnauthorized.WithInternal(err)
	}

	user, err := s.users.Get(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			recordAuth("authorize", "failure")
			return nil, apperrors.ErrUnauthorized.WithInternal(err)
		}
		recordAuth("authorize", "error")
		return nil, fromStoreError(err)
	}

	recordAuth("authorize", "success")
	return &user, nil
}

func (s *AuthService) resolveIdentifier(ctx context.Context, identifier string) (*models.User, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, apperrors.ErrNotFound
	}

	lookups := []struct {
		index string
		value func(string) (string, error)
	}{
		{store.IndexUsername, func(v string) (string, error) { return v, nil }},
		{store.IndexEmail, models.NormalizeEmail},
		{store.IndexPhone, models.NormalizePhone},
	}

	for _, lookup := range lookups {
		value, err := lookup.value(identifier)
		if err != nil {
			continue
		}
		user, err := s.users.GetBy(ctx, lookup.index, value)
		if err == nil {
			return &user, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fromStoreError(err)
		}
	}
	return nil, apperrors.ErrNotFound
}

// rehash upgrades a stored hash to the current parameters. Failures are logged only; the update
// is skipped when the stored hash changed since it was read.
func (s *AuthService) rehash(ctx context.Context, user *models.User, password string) {
	fresh, err := s.hash(password)
	if err != nil {
		s.log.Warn("rehash password failed", zap.String("user_id", user.ID), zap.Error(err))
		return
	}

	previous := user.PasswordHash
	updated, err := s.users.Update(ctx, user.ID, func(u *models.User) error {
		if u.PasswordHash != previous {
			return errStaleHash
		}
		u.PasswordHash = fresh
		return nil
	})
	if err != nil {
		if !errors.Is(err, errStaleHash) {
			s.log.Warn("store rehashed password failed", zap.String("user_id", user.ID), zap.Error(err))
		}
		return
	}
	*user = updated
	s.log.Debug("password rehashed", zap.String("user_id", user.ID))
}

var errStaleHash = errors.New("password hash changed concurrently")

func (s *AuthService) hash(password string) (string, error) {
	start := time.Now()
	defer func() { metrics.PasswordHashDuration.Observe(time.Since(start).Seconds()) }()
	return s.hasher.Hash(password)
}

func (s *AuthService) verify(password, encoded string) bool {
	start := time.Now()
	defer func() { metrics.PasswordHashDuration.Observe(time.Since(start).Seconds()) }()
	return s.hasher.Verify(password, encoded)
}

func normaliseSignup(input SignupInput) (SignupInput, error) {
	out := SignupInput{
		Username: strings.TrimSpace(input.Username),
		Password: input.Password,
	}

	// A phone-shaped username would shadow another account's phone at login.
	if out.Username != "" {
		if _, err := models.NormalizePhone(out.Username); err == nil {
			return out, apperrors.NewBadRequest("username must not be a phone number")
		}
	}

	if email := strings.TrimSpace(input.Email); email != "" {
		normalised, err := models.NormalizeEmail(email)
		if err != nil {
			return out, apperrors.NewBadRequest("email is not a valid address").WithInternal(err)
		}
		out.Email = normalised
	}
	if phone := strings.TrimSpace(input.Phone); phone != "" {
		normalised, err := models.NormalizePhone(phone)
		if err != nil {
			return out, apperrors.NewBadRequest("phone is not a valid number").WithInternal(err)
		}
		out.Phone = normalised
	}

	if err := validator.ValidateStruct(out); err != nil {
		return out, apperrors.NewBadRequest(err.Error()).WithInternal(err)
	}
	return out, nil
}

func newSession(session *models.Session, pair auth.TokenPair, user *models.User) *Session {
	return &Session{
		ID:               session.ID,
		Token:            pair.AccessToken,
		ExpiresAt:        pair.AccessExpiresAt,
		RefreshToken:     pair.RefreshToken,
		RefreshExpiresAt: pair.RefreshExpiresAt,
		User:             user,
	}
}

func recordAuth(operation, result string) {
	metrics.AuthAttempts.WithLabelValues(operation, result).Inc()
}
