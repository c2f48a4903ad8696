package app

import (
	"fmt"
	"strings"

	"github.com/charlesng35/idcore/internal/auth"
	"github.com/charlesng35/idcore/pkg/crypto"
)

// TokenServiceConfig converts AuthConfig into the parameters expected by the token service.
func (c AuthConfig) TokenServiceConfig(keys *auth.KeySet) auth.TokenConfig {
	ttl := c.Token.TTL
	if ttl <= 0 {
		ttl = auth.DefaultTokenTTL
	}

	leeway := c.Token.Leeway
	if leeway < 0 {
		leeway = 0
	}

	return auth.TokenConfig{
		Keys:   keys,
		Issuer: strings.TrimSpace(c.Token.Issuer),
		TTL:    ttl,
		Leeway: leeway,
	}
}

// SessionServiceConfig converts the session section into refresh session parameters.
func (c AuthConfig) SessionServiceConfig() auth.SessionConfig {
	ttl := c.Session.RefreshTTL
	if ttl <= 0 {
		ttl = auth.DefaultRefreshTokenTTL
	}
	return auth.SessionConfig{
		RefreshTokenTTL: ttl,
		RefreshLength:   c.Session.RefreshLength,
	}
}

// LoadTokenKeys reads the configured signing key file.
func (c AuthConfig) LoadTokenKeys() (*auth.KeySet, error) {
	path := strings.TrimSpace(c.Token.KeyFile)
	if path == "" {
		return nil, fmt.Errorf("config: auth.token.key_file is required")
	}
	return auth.LoadKeySet(path, c.Token.SigningMethod)
}

// PasswordParams converts the password section into hasher parameters. Zero values fall back
// to the defaults; an explicitly configured version other than 19 is left for the hasher to reject.
func (c AuthConfig) PasswordParams() crypto.PasswordParams {
	params := crypto.DefaultPasswordParams()
	p := c.Password

	if alg := strings.ToLower(strings.TrimSpace(p.Algorithm)); alg != "" {
		params.Algorithm = crypto.Algorithm(alg)
	}
	if p.Version != 0 {
		params.Version = p.Version
	}
	if p.Memory != 0 {
		params.Memory = p.Memory
	}
	if p.Time != 0 {
		params.Time = p.Time
	}
	if p.Parallelism != 0 {
		params.Threads = p.Parallelism
	}
	if p.SaltLength != 0 {
		params.SaltLength = p.SaltLength
	}
	if p.KeyLength != 0 {
		params.KeyLength = p.KeyLength
	}
	return params
}

// PasswordPepper decodes the configured pepper. An empty pepper disables peppering.
func (c AuthConfig) PasswordPepper() ([]byte, error) {
	if strings.TrimSpace(c.Password.Pepper) == "" {
		return nil, nil
	}
	pepper, err := DecodeKey(c.Password.Pepper)
	if err != nil {
		return nil, fmt.Errorf("config: auth.password.pepper: %w", err)
	}
	return pepper, nil
}

// NewPasswordHasher builds the hasher described by the password section.
func (c AuthConfig) NewPasswordHasher() (*crypto.PasswordHasher, error) {
	pepper, err := c.PasswordPepper()
	if err != nil {
		return nil, err
	}
	hasher, err := crypto.NewPasswordHasher(c.PasswordParams(), pepper)
	if err != nil {
		return nil, fmt.Errorf("config: auth.password: %w", err)
	}
	return hasher, nil
}
