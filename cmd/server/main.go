package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/idcore/internal/app"
	iauth "github.com/charlesng35/idcore/internal/auth"
	"github.com/charlesng35/idcore/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) > 0 && args[0] == "keygen" {
		return runKeygen(args[1:], out)
	}
	return runServer(ctx, args, out)
}

func runKeygen(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("idcore keygen", flag.ContinueOnError)
	fs.SetOutput(out)

	var method, path string
	fs.StringVar(&method, "method", iauth.MethodEdDSA, "Signing method: EdDSA or HS256")
	fs.StringVar(&path, "out", "", "Path of the key file to create")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(path) == "" {
		return errors.New("keygen: -out is required")
	}

	keys, err := iauth.GenerateKeyFile(path, method)
	if err != nil {
		return fmt.Errorf("keygen: %w", err)
	}
	fmt.Fprintf(out, "wrote %s key %s to %s\n", keys.Method(), keys.KeyID(), path)
	return nil
}

func runServer(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("idcore", flag.ContinueOnError)
	fs.SetOutput(out)

	var configPath string
	fs.StringVar(&configPath, "config", "", "Path to configuration directory or file")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadApplicationConfig(configPath)
	if err != nil {
		return err
	}
	if err := app.ResolveSecrets(cfg); err != nil {
		return err
	}

	if err := app.ConfigureLogging(cfg.Server.LogLevel, cfg.Server.LogFormat); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort

	log := logger.WithModule("bootstrap")

	stack, err := bootstrapRuntime(ctx, cfg, log)
	if err != nil {
		return err
	}

	serverErr := make(chan error, 1)
	if stack.Metrics != nil {
		go func() {
			log.Info("metrics listening", zap.String("addr", stack.Metrics.Addr))
			if err := stack.Metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErr <- err
			}
			close(serverErr)
		}()
	}

	log.Info("identity core ready", zap.String("store", cfg.Store.Backend))

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err, ok := <-serverErr:
		if ok && err != nil {
			runErr = fmt.Errorf("metrics server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := stack.Shutdown(shutdownCtx); err != nil {
		if runErr != nil {
			return multierr.Append(runErr, err)
		}
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	if runErr != nil {
		return runErr
	}

	log.Info("stopped gracefully")
	return nil
}

func loadApplicationConfig(path string) (*app.Config, error) {
	if strings.TrimSpace(path) == "" {
		return app.LoadConfig()
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config path %q does not exist", path)
		}
		return nil, fmt.Errorf("stat config path: %w", err)
	}
	if info.IsDir() {
		return app.LoadConfig(path)
	}
	return app.LoadConfigFile(filepath.Clean(path))
}
