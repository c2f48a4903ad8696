package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/charlesng35/idcore/internal/app"
	iauth "github.com/charlesng35/idcore/internal/auth"
	"github.com/charlesng35/idcore/internal/models"
	"github.com/charlesng35/idcore/internal/services"
	apperrors "github.com/charlesng35/idcore/pkg/errors"
)

func testConfig(t *testing.T) *app.Config {
	t.Helper()

	keyFile := filepath.Join(t.TempDir(), "token.key")
	_, err := iauth.GenerateKeyFile(keyFile, iauth.MethodEdDSA)
	require.NoError(t, err)

	cfg := &app.Config{}
	cfg.Store.Backend = app.StoreBackendMemory
	cfg.Store.KeyPrefix = "bootstrap-test"
	cfg.Auth.Token = app.TokenSettings{
		Issuer:        "idcore-test",
		TTL:           time.Hour,
		SigningMethod: iauth.MethodEdDSA,
		KeyFile:       keyFile,
	}
	cfg.Auth.Password = app.PasswordSettings{Memory: 64, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 16}
	cfg.Verification = app.VerificationConfig{
		TTL:            time.Hour,
		CodeLength:     6,
		CodeAlphabet:   "0123456789",
		ReaperEnabled:  true,
		ReaperSchedule: "@every 1h",
	}
	return cfg
}

func bootstrap(t *testing.T, cfg *app.Config) *runtimeStack {
	t.Helper()
	stack, err := bootstrapRuntime(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, stack.Shutdown(context.Background()))
	})
	return stack
}

func exerciseStack(t *testing.T, stack *runtimeStack) {
	t.Helper()
	ctx := context.Background()

	user, err := stack.Auth.Signup(ctx, services.SignupInput{
		Username: "alice",
		Email:    "Alice@Example.com",
		Password: "correct horse battery",
	})
	require.NoError(t, err)
	require.False(t, user.EmailVerified)

	session, err := stack.Auth.Login(ctx, services.Credentials{Identifier: "alice@example.com", Password: "correct horse battery"})
	require.NoError(t, err)

	authorised, err := stack.Auth.Authorize(ctx, session.Token)
	require.NoError(t, err)
	require.Equal(t, user.ID, authorised.ID)

	refreshed, err := stack.Auth.Refresh(ctx, session.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, session.ID, refreshed.ID)
	_, err = stack.Auth.Refresh(ctx, session.RefreshToken)
	require.ErrorIs(t, err, iauth.ErrRefreshTokenReused)
	require.NoError(t, stack.Auth.Logout(ctx, refreshed.RefreshToken))

	handle, err := stack.Verification.Request(ctx, services.VerificationRequest{Contact: "alice@example.com"})
	require.NoError(t, err)
	require.Equal(t, models.ChannelEmail, handle.Channel)

	_, err = stack.Verification.Confirm(ctx, services.ConfirmRequest{ChallengeID: handle.ChallengeID, Code: "000000x"})
	require.ErrorIs(t, err, apperrors.ErrInvalidCode)
}

func TestBootstrapMemoryBackend(t *testing.T) {
	stack := bootstrap(t, testConfig(t))
	require.Nil(t, stack.DB)
	require.Nil(t, stack.Redis)
	require.NotNil(t, stack.Cleaner)
	require.Nil(t, stack.Metrics)
	exerciseStack(t, stack)
}

func TestBootstrapDatabaseBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Backend = app.StoreBackendDatabase
	cfg.Database = app.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "idcore.sqlite")}

	stack := bootstrap(t, cfg)
	require.NotNil(t, stack.DB)
	exerciseStack(t, stack)
}

func TestBootstrapRedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := testConfig(t)
	cfg.Store.Backend = app.StoreBackendRedis
	cfg.Cache.Redis.Address = mr.Addr()

	stack := bootstrap(t, cfg)
	require.NotNil(t, stack.Redis)
	exerciseStack(t, stack)
	require.NotEmpty(t, mr.Keys())
}

func TestBootstrapFailures(t *testing.T) {
	cases := map[string]struct {
		mutate func(cfg *app.Config)
		want   string
	}{
		"missing key file": {
			mutate: func(cfg *app.Config) { cfg.Auth.Token.KeyFile = filepath.Join(t.TempDir(), "absent.key") },
			want:   "load token keys",
		},
		"method mismatch": {
			mutate: func(cfg *app.Config) { cfg.Auth.Token.SigningMethod = iauth.MethodHS256 },
			want:   "load token keys",
		},
		"unsupported argon2 version": {
			mutate: func(cfg *app.Config) { cfg.Auth.Password.Version = 16 },
			want:   "unsupported version",
		},
		"unknown backend": {
			mutate: func(cfg *app.Config) { cfg.Store.Backend = "etcd" },
			want:   `unsupported store backend "etcd"`,
		},
		"unreachable redis": {
			mutate: func(cfg *app.Config) {
				cfg.Store.Backend = app.StoreBackendRedis
				cfg.Cache.Redis.Address = "127.0.0.1:1"
				cfg.Cache.Redis.Timeout = 200 * time.Millisecond
			},
			want: "connect redis",
		},
		"refresh shorter than access token": {
			mutate: func(cfg *app.Config) { cfg.Auth.Session.RefreshTTL = time.Minute },
			want:   "initialise session service",
		},
		"invalid code settings": {
			mutate: func(cfg *app.Config) { cfg.Verification.CodeAlphabet = "0" },
			want:   "initialise verification service",
		},
		"invalid reaper schedule": {
			mutate: func(cfg *app.Config) { cfg.Verification.ReaperSchedule = "whenever" },
			want:   "start maintenance jobs",
		},
		"smtp without host": {
			mutate: func(cfg *app.Config) { cfg.Email.SMTP.Enabled = true },
			want:   "initialise smtp mailer",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig(t)
			tc.mutate(cfg)
			_, err := bootstrapRuntime(context.Background(), cfg, zap.NewNop())
			require.ErrorContains(t, err, tc.want)
		})
	}
}

func TestMetricsServerServesRegistry(t *testing.T) {
	cfg := testConfig(t)
	cfg.Monitoring.Prometheus = app.PrometheusConfig{Enabled: true, Endpoint: "/internal/metrics"}
	cfg.Server.MetricsAddr = "127.0.0.1:0"

	stack := bootstrap(t, cfg)
	require.NotNil(t, stack.Metrics)
	exerciseStack(t, stack)

	srv := httptest.NewServer(stack.Metrics.Handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/internal/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body bytes.Buffer
	_, err = body.ReadFrom(resp.Body)
	require.NoError(t, err)
	require.Contains(t, body.String(), "idcore_auth_attempts_total")
	require.Contains(t, body.String(), "idcore_password_hash_seconds")
}

func TestKeygenCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "token.key")

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"keygen", "-method", "HS256", "-out", path}, &out))
	require.Contains(t, out.String(), "wrote HS256 key")

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	err = run(context.Background(), []string{"keygen", "-out", path}, &out)
	require.ErrorIs(t, err, iauth.ErrKeyFileExists)

	err = run(context.Background(), []string{"keygen"}, &out)
	require.ErrorContains(t, err, "-out is required")

	err = run(context.Background(), []string{"keygen", "-method", "RS256", "-out", filepath.Join(t.TempDir(), "rsa.key")}, &out)
	require.ErrorContains(t, err, "unsupported signing method")
}

func TestRunServerStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "token.key")
	_, err := iauth.GenerateKeyFile(keyFile, iauth.MethodEdDSA)
	require.NoError(t, err)

	config := "server:\n  log_level: error\n" +
		"auth:\n  token:\n    key_file: " + keyFile + "\n" +
		"  password:\n    memory: 64\n    time: 1\n    parallelism: 1\n" +
		"monitoring:\n  prometheus:\n    enabled: false\n"
	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(config), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	require.NoError(t, run(ctx, []string{"-config", configPath}, &out))
	require.NoError(t, run(ctx, []string{"-config", dir}, &out))
}

func TestRunServerConfigErrors(t *testing.T) {
	var out bytes.Buffer

	err := run(context.Background(), []string{"-config", filepath.Join(t.TempDir(), "missing.yaml")}, &out)
	require.ErrorContains(t, err, "does not exist")

	err = run(context.Background(), []string{"-help"}, &out)
	require.True(t, errors.Is(err, flag.ErrHelp))

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("auth:\n  password:\n    pepper: $IDCORE_TEST_UNSET_PEPPER\n"), 0o600))
	err = run(context.Background(), []string{"-config", configPath}, &out)
	require.ErrorContains(t, err, "IDCORE_TEST_UNSET_PEPPER is not set")
}
