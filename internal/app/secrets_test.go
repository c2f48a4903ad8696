package app

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveSecrets(t *testing.T) {
	t.Setenv("IDCORE_TEST_PEPPER", "00112233")
	t.Setenv("IDCORE_TEST_SMTP", "mail-pass")

	cfg := &Config{}
	cfg.Auth.Password.Pepper = "$IDCORE_TEST_PEPPER"
	cfg.Email.SMTP.Password = "${IDCORE_TEST_SMTP}"
	cfg.Cache.Redis.Password = "literal"

	require.NoError(t, ResolveSecrets(cfg))
	require.Equal(t, "00112233", cfg.Auth.Password.Pepper)
	require.Equal(t, "mail-pass", cfg.Email.SMTP.Password)
	require.Equal(t, "literal", cfg.Cache.Redis.Password)
}

func TestResolveSecretsMissingVariable(t *testing.T) {
	cfg := &Config{}
	cfg.Cache.Redis.Password = "$IDCORE_TEST_UNSET_VARIABLE"

	err := ResolveSecrets(cfg)
	require.ErrorContains(t, err, "cache.redis.password")
	require.ErrorContains(t, err, "IDCORE_TEST_UNSET_VARIABLE is not set")
}

func TestResolveSecretsFromFile(t *testing.T) {
	t.Setenv("IDCORE_TEST_DB_PASSWORD", "db-pass")

	cfg, err := LoadConfig("testdata")
	require.NoError(t, err)
	require.NoError(t, ResolveSecrets(cfg))
	require.Equal(t, "db-pass", cfg.Database.Postgres.Password)
	require.Equal(t, "smtp-pass", cfg.Email.SMTP.Password)
}

func TestResolveSecretsRejectsInvalidInput(t *testing.T) {
	require.Error(t, ResolveSecrets(nil))

	cfg := &Config{}
	cfg.Auth.Password.Pepper = "$"
	require.ErrorContains(t, ResolveSecrets(cfg), "empty environment reference")
}
