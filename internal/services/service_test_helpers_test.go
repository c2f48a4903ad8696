package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/idcore/internal/auth"
	"github.com/charlesng35/idcore/internal/models"
	"github.com/charlesng35/idcore/internal/store"
	"github.com/charlesng35/idcore/pkg/crypto"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func fastHasherParams() crypto.PasswordParams {
	return crypto.PasswordParams{
		Algorithm:  crypto.AlgorithmArgon2id,
		Version:    19,
		Memory:     64,
		Time:       1,
		Threads:    1,
		SaltLength: 16,
		KeyLength:  16,
	}
}

func newTestHasher(t *testing.T, params crypto.PasswordParams) *crypto.PasswordHasher {
	t.Helper()
	hasher, err := crypto.NewPasswordHasher(params, nil)
	require.NoError(t, err)
	return hasher
}

func newTestTokens(t *testing.T, clock *testClock) *auth.TokenService {
	t.Helper()
	keys, err := auth.NewHMACKeySet([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	tokens, err := auth.NewTokenService(auth.TokenConfig{
		Keys:   keys,
		Issuer: "idcore-test",
		TTL:    time.Hour,
		Clock:  clock.Now,
	})
	require.NoError(t, err)
	return tokens
}

func newTestSessions(t *testing.T, clock *testClock, tokens *auth.TokenService) *auth.SessionService {
	t.Helper()
	sessions, err := store.NewMemory(store.SessionSchema())
	require.NoError(t, err)
	svc, err := auth.NewSessionService(sessions, tokens, auth.SessionConfig{
		RefreshTokenTTL: 24 * time.Hour,
		Clock:           clock.Now,
	})
	require.NoError(t, err)
	return svc
}

func newUserStore(t *testing.T) *store.Memory[models.User] {
	t.Helper()
	users, err := store.NewMemory(store.UserSchema())
	require.NoError(t, err)
	return users
}

func newChallengeStore(t *testing.T) *store.Memory[models.Challenge] {
	t.Helper()
	challenges, err := store.NewMemory(store.ChallengeSchema())
	require.NoError(t, err)
	return challenges
}

// recordingDeliverer captures deliveries and optionally fails them.
type recordingDeliverer struct {
	mu         sync.Mutex
	deliveries []Delivery
	err        error
}

func (d *recordingDeliverer) Deliver(_ context.Context, delivery Delivery) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deliveries = append(d.deliveries, delivery)
	return d.err
}

func (d *recordingDeliverer) last(t *testing.T) Delivery {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	require.NotEmpty(t, d.deliveries)
	return d.deliveries[len(d.deliveries)-1]
}

func (d *recordingDeliverer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.deliveries)
}

var errBackendDown = errors.New("backend unavailable")

// faultyStore wraps a store and fails selected operations with a storage error.
type faultyStore[T any] struct {
	store.Store[T]
	failGet    bool
	failGetBy  bool
	failUpdate bool
}

func (s *faultyStore[T]) Get(ctx context.Context, id string) (T, error) {
	if s.failGet {
		var zero T
		return zero, errors.Join(store.ErrStorage, errBackendDown)
	}
	return s.Store.Get(ctx, id)
}

func (s *faultyStore[T]) GetBy(ctx context.Context, index, value string) (T, error) {
	if s.failGetBy {
		var zero T
		return zero, errors.Join(store.ErrStorage, errBackendDown)
	}
	return s.Store.GetBy(ctx, index, value)
}

func (s *faultyStore[T]) Update(ctx context.Context, id string, patch func(*T) error) (T, error) {
	if s.failUpdate {
		var zero T
		return zero, errors.Join(store.ErrStorage, errBackendDown)
	}
	return s.Store.Update(ctx, id, patch)
}
