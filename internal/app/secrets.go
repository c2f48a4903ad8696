package app

import (
	"fmt"
	"os"
	"strings"
)

// ResolveSecrets replaces $NAME references in secret-bearing settings with the value of the
// named environment variable. A reference to an unset variable is an error.
func ResolveSecrets(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	targets := []struct {
		key   string
		value *string
	}{
		{"auth.password.pepper", &cfg.Auth.Password.Pepper},
		{"email.smtp.password", &cfg.Email.SMTP.Password},
		{"cache.redis.password", &cfg.Cache.Redis.Password},
		{"database.postgres.password", &cfg.Database.Postgres.Password},
		{"database.mysql.password", &cfg.Database.MySQL.Password},
	}

	for _, target := range targets {
		resolved, err := resolveEnvReference(*target.value)
		if err != nil {
			return fmt.Errorf("config: %s: %w", target.key, err)
		}
		*target.value = resolved
	}
	return nil
}

func resolveEnvReference(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, "$") {
		return value, nil
	}

	name := strings.TrimSuffix(strings.TrimPrefix(trimmed[1:], "{"), "}")
	if name == "" {
		return "", fmt.Errorf("empty environment reference")
	}
	resolved, ok := os.LookupEnv(name)
	if !ok {
		return "", fmt.Errorf("environment variable %s is not set", name)
	}
	return resolved, nil
}
