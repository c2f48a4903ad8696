package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/idcore/internal/app"
	"github.com/charlesng35/idcore/internal/app/maintenance"
	iauth "github.com/charlesng35/idcore/internal/auth"
	"github.com/charlesng35/idcore/internal/database"
	"github.com/charlesng35/idcore/internal/delivery"
	"github.com/charlesng35/idcore/internal/models"
	"github.com/charlesng35/idcore/internal/services"
	"github.com/charlesng35/idcore/internal/store"
	"github.com/charlesng35/idcore/pkg/logger"
	"github.com/charlesng35/idcore/pkg/mail"
)

const metricsReadHeaderTimeout = 5 * time.Second

// runtimeStack bundles the long-lived components of the identity core.
type runtimeStack struct {
	DB           *gorm.DB
	Redis        redis.UniversalClient
	Users        store.Store[models.User]
	Challenges   store.Store[models.Challenge]
	Sessions     store.Store[models.Session]
	Tokens       *iauth.TokenService
	Auth         *services.AuthService
	Verification *services.VerificationService
	Cleaner      *maintenance.Cleaner
	Metrics      *http.Server
}

// bootstrapRuntime wires stores, the password hasher, the token and session services,
// deliverers and the domain services. Partially built stacks are torn down on failure.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	success := false

	defer func() {
		if !success {
			if err := stack.Shutdown(context.Background()); err != nil {
				log.Warn("cleanup after failed bootstrap", zap.Error(err))
			}
		}
	}()

	keys, err := cfg.Auth.LoadTokenKeys()
	if err != nil {
		return nil, fmt.Errorf("load token keys: %w", err)
	}

	stack.Tokens, err = iauth.NewTokenService(cfg.Auth.TokenServiceConfig(keys))
	if err != nil {
		return nil, fmt.Errorf("initialise token service: %w", err)
	}
	log.Info("token keys loaded", zap.String("alg", keys.Method()), zap.String("kid", keys.KeyID()))

	hasher, err := cfg.Auth.NewPasswordHasher()
	if err != nil {
		return nil, fmt.Errorf("initialise password hasher: %w", err)
	}

	if err := stack.initialiseStores(ctx, cfg, log); err != nil {
		return nil, err
	}

	sessions, err := iauth.NewSessionService(stack.Sessions, stack.Tokens, cfg.Auth.SessionServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise session service: %w", err)
	}

	stack.Auth, err = services.NewAuthService(stack.Users, hasher, stack.Tokens, sessions)
	if err != nil {
		return nil, fmt.Errorf("initialise auth service: %w", err)
	}

	deliverer, err := buildDeliverer(cfg, log)
	if err != nil {
		return nil, err
	}

	stack.Verification, err = services.NewVerificationService(stack.Users, stack.Challenges, deliverer,
		services.WithVerificationBaseURL(cfg.Verification.BaseURL),
		services.WithVerificationTTL(cfg.Verification.TTL),
		services.WithVerificationCode(cfg.Verification.CodeLength, cfg.Verification.CodeAlphabet),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise verification service: %w", err)
	}

	if cfg.Verification.ReaperEnabled {
		stack.Cleaner = maintenance.NewCleaner(stack.Challenges,
			maintenance.WithSessions(stack.Sessions),
			maintenance.WithSchedule(cfg.Verification.ReaperSchedule),
			maintenance.WithRetention(cfg.Verification.ReaperRetention),
		)
		if err := stack.Cleaner.Start(); err != nil {
			return nil, fmt.Errorf("start maintenance jobs: %w", err)
		}
	}

	if cfg.Monitoring.Prometheus.Enabled {
		stack.Metrics = newMetricsServer(cfg.Server.MetricsAddr, cfg.Monitoring.Prometheus.Endpoint)
	}

	success = true
	return stack, nil
}

func (s *runtimeStack) initialiseStores(ctx context.Context, cfg *app.Config, log *zap.Logger) error {
	backend := strings.ToLower(strings.TrimSpace(cfg.Store.Backend))
	var err error

	switch backend {
	case "", app.StoreBackendMemory:
		if s.Users, err = store.NewMemory(store.UserSchema()); err != nil {
			return err
		}
		if s.Challenges, err = store.NewMemory(store.ChallengeSchema()); err != nil {
			return err
		}
		if s.Sessions, err = store.NewMemory(store.SessionSchema()); err != nil {
			return err
		}
	case app.StoreBackendDatabase:
		if s.DB, err = initialiseDatabase(cfg); err != nil {
			return err
		}
		if s.Users, err = store.NewGorm(s.DB, store.UserSchema()); err != nil {
			return err
		}
		if s.Challenges, err = store.NewGorm(s.DB, store.ChallengeSchema()); err != nil {
			return err
		}
		if s.Sessions, err = store.NewGorm(s.DB, store.SessionSchema()); err != nil {
			return err
		}
	case app.StoreBackendRedis:
		client := redis.NewClient(cfg.Cache.RedisOptions())
		s.Redis = client
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		prefix := store.WithKeyPrefix(cfg.Store.KeyPrefix)
		if s.Users, err = store.NewRedis(client, store.UserSchema(), prefix); err != nil {
			return err
		}
		if s.Challenges, err = store.NewRedis(client, store.ChallengeSchema(), prefix); err != nil {
			return err
		}
		if s.Sessions, err = store.NewRedis(client, store.SessionSchema(), prefix); err != nil {
			return err
		}
		log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
	default:
		return fmt.Errorf("unsupported store backend %q", cfg.Store.Backend)
	}

	log.Info("record stores ready", zap.String("backend", backendName(backend)))
	return nil
}

func backendName(backend string) string {
	if backend == "" {
		return app.StoreBackendMemory
	}
	return backend
}

// buildDeliverer routes email through SMTP when configured. Every other channel, and email
// without SMTP, goes to the log deliverer.
func buildDeliverer(cfg *app.Config, log *zap.Logger) (services.Deliverer, error) {
	fallback := delivery.NewLogDeliverer(logger.WithModule("delivery"))
	routes := map[models.Channel]services.Deliverer{}

	smtpCfg := cfg.Email.SMTPSettings()
	if smtpCfg.Enabled {
		mailer, err := mail.NewSMTPMailer(smtpCfg)
		if err != nil {
			return nil, fmt.Errorf("initialise smtp mailer: %w", err)
		}
		email, err := delivery.NewEmailDeliverer(mailer, delivery.WithProductName(cfg.Verification.ProductName))
		if err != nil {
			return nil, err
		}
		routes[models.ChannelEmail] = email
		log.Info("smtp delivery enabled", zap.String("host", smtpCfg.Host), zap.Int("port", smtpCfg.Port))
	} else {
		log.Warn("smtp disabled; verification codes are not sent")
	}

	return delivery.NewMulti(routes, fallback), nil
}

func newMetricsServer(addr, endpoint string) *http.Server {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		endpoint = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(endpoint, promhttp.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: metricsReadHeaderTimeout,
	}
}

// Shutdown stops background jobs and releases resources, collecting every failure.
func (s *runtimeStack) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}

	var errs error

	if s.Metrics != nil {
		if err := s.Metrics.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = multierr.Append(errs, fmt.Errorf("metrics server: %w", err))
		}
	}

	if s.Cleaner != nil {
		select {
		case <-s.Cleaner.Stop().Done():
		case <-ctx.Done():
			errs = multierr.Append(errs, fmt.Errorf("maintenance stop: %w", ctx.Err()))
		}
	}

	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("redis close: %w", err))
		}
	}

	if s.DB != nil {
		if err := database.Close(s.DB); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("database close: %w", err))
		}
	}

	return errs
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.DatabaseSettings()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrateAndVerify(db); err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	logger.WithModule("database").Info("database connected", zap.String("driver", dbCfg.Driver))
	return db, nil
}
