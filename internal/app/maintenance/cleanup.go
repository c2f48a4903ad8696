package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/idcore/internal/models"
	"github.com/charlesng35/idcore/internal/store"
	"github.com/charlesng35/idcore/pkg/logger"
	"github.com/charlesng35/idcore/pkg/metrics"
)

const (
	defaultChallengeSpec = "@hourly"
	// DefaultRetention is how long settled records are kept before they are purged.
	DefaultRetention = 7 * 24 * time.Hour
)

// Cleaner periodically removes challenges and sessions that settled longer than the retention
// window ago.
type Cleaner struct {
	challenges store.Store[models.Challenge]
	sessions   store.Store[models.Session]
	cron       *cron.Cron
	now        func() time.Time
	log        *zap.Logger
	schedule   string
	retention  time.Duration
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for expiry comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithSchedule overrides the cron specification for challenge cleanup.
func WithSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.schedule = spec
		}
	}
}

// WithRetention overrides how long expired or consumed records are kept. Negative values
// are treated as zero.
func WithRetention(d time.Duration) Option {
	return func(cleaner *Cleaner) {
		if d < 0 {
			d = 0
		}
		cleaner.retention = d
	}
}

// WithSessions adds refresh sessions to the cleanup job.
func WithSessions(sessions store.Store[models.Session]) Option {
	return func(cleaner *Cleaner) {
		cleaner.sessions = sessions
	}
}

// WithLogger overrides the cleaner logger.
func WithLogger(log *zap.Logger) Option {
	return func(cleaner *Cleaner) {
		if log != nil {
			cleaner.log = log
		}
	}
}

// NewCleaner constructs a Cleaner. A nil challenge store disables the cleanup job.
func NewCleaner(challenges store.Store[models.Challenge], opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		challenges: challenges,
		now:        time.Now,
		schedule:   defaultChallengeSpec,
		retention:  DefaultRetention,
		log:        logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return cleaner
}

// Start registers the cleanup job and launches the scheduler.
func (c *Cleaner) Start() error {
	if c.challenges == nil {
		return nil
	}

	if _, err := c.cron.AddFunc(c.schedule, func() {
		if err := c.RunOnce(context.Background()); err != nil {
			c.log.Warn("cleanup failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("maintenance: schedule %q: %w", c.schedule, err)
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler. The returned context is done once running jobs complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes the cleanup routine synchronously.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if c.challenges == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	now := c.now()
	challenges, err := PurgeChallenges(ctx, c.challenges, now, c.retention)
	if challenges > 0 {
		c.log.Info("challenges purged", zap.Int("removed", challenges))
	}

	if c.sessions != nil {
		sessions, sessionErr := PurgeSessions(ctx, c.sessions, now, c.retention)
		if sessions > 0 {
			c.log.Info("sessions purged", zap.Int("removed", sessions))
		}
		err = multierr.Append(err, sessionErr)
	}
	return err
}

// PurgeChallenges deletes challenges whose expiry lies more than retention before now and
// reports how many were removed. Within that window a consumed or expired challenge still
// answers confirmation with its own outcome. Individual delete failures are aggregated;
// records already gone are skipped.
func PurgeChallenges(ctx context.Context, challenges store.Store[models.Challenge], now time.Time, retention time.Duration) (int, error) {
	if challenges == nil {
		return 0, errors.New("purge challenges: store is required")
	}

	all, err := challenges.GetMany(ctx, store.Filter{})
	if err != nil {
		return 0, fmt.Errorf("purge challenges: list: %w", err)
	}

	removed, errs := purge(ctx, all, challenges.Delete, func(c models.Challenge) (string, bool) {
		return c.ID, c.Purgeable(now, retention)
	}, "purge challenges")

	metrics.ChallengesReaped.Add(float64(removed))
	return removed, errs
}

// PurgeSessions deletes sessions that expired or were revoked more than retention before now.
func PurgeSessions(ctx context.Context, sessions store.Store[models.Session], now time.Time, retention time.Duration) (int, error) {
	if sessions == nil {
		return 0, errors.New("purge sessions: store is required")
	}

	all, err := sessions.GetMany(ctx, store.Filter{})
	if err != nil {
		return 0, fmt.Errorf("purge sessions: list: %w", err)
	}

	removed, errs := purge(ctx, all, sessions.Delete, func(s models.Session) (string, bool) {
		return s.ID, s.Purgeable(now, retention)
	}, "purge sessions")

	metrics.SessionsReaped.Add(float64(removed))
	return removed, errs
}

func purge[T any](ctx context.Context, records []T, remove func(context.Context, string) error, eligible func(T) (string, bool), op string) (int, error) {
	var (
		removed int
		errs    error
	)
	for _, rec := range records {
		id, ok := eligible(rec)
		if !ok {
			continue
		}
		if err := remove(ctx, id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			errs = multierr.Append(errs, fmt.Errorf("%s: delete %s: %w", op, id, err))
			continue
		}
		removed++
	}
	return removed, errs
}
