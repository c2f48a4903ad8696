package app

import (
	"strings"

	"github.com/charlesng35/idcore/internal/database"
)

// DatabaseSettings converts DatabaseConfig into database.Config for the selected driver.
func (c DatabaseConfig) DatabaseSettings() database.Config {
	cfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(c.Driver)),
		Path:   strings.TrimSpace(c.Path),
		DSN:    strings.TrimSpace(c.DSN),
	}

	var hosted DBAuthConfig
	switch cfg.Driver {
	case "postgres", "postgresql":
		hosted = c.Postgres
	case "mysql":
		hosted = c.MySQL
	default:
		return cfg
	}

	cfg.Host = hosted.Host
	cfg.Port = hosted.Port
	cfg.Name = hosted.Database
	cfg.User = hosted.Username
	cfg.Password = hosted.Password
	cfg.Options = hosted.Options
	return cfg
}
