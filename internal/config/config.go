// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

package config

import (
	"net"
	"strconv"
	"time"

	"github.com/tomtom215/storegate/internal/api"
	"github.com/tomtom215/storegate/internal/audit"
	"github.com/tomtom215/storegate/internal/auth"
	"github.com/tomtom215/storegate/internal/authz"
	"github.com/tomtom215/storegate/internal/csrf"
	"github.com/tomtom215/storegate/internal/gate"
	"github.com/tomtom215/storegate/internal/logging"
	"github.com/tomtom215/storegate/internal/ratelimit"
	"github.com/tomtom215/storegate/internal/routes"
	"github.com/tomtom215/storegate/internal/secheaders"
)

// Environments.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config is the complete service configuration. Sections reuse the
// settings types of the packages they configure.
type Config struct {
	Server    ServerConfig      `koanf:"server"`
	Routes    routes.Config     `koanf:"routes"`
	Session   auth.Config       `koanf:"session"`
	CSRF      csrf.Config       `koanf:"csrf"`
	Headers   secheaders.Config `koanf:"headers"`
	RateLimit ratelimit.Config  `koanf:"ratelimit"`
	Authz     AuthzConfig       `koanf:"authz"`
	Gate      gate.Config       `koanf:"gate"`
	Audit     audit.Config      `koanf:"audit"`
	Logging   LoggingConfig     `koanf:"logging"`
	Users     []api.UserSeed    `koanf:"users" validate:"dive"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"gt=0"`
	IdleTimeout     time.Duration `koanf:"idle_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
	Environment     string        `koanf:"environment" validate:"oneof=development production"`
}

// AuthzConfig holds the enforcer cache and an optional guard table. An
// empty table selects the built-in guards.
type AuthzConfig struct {
	Enforcer authz.Config      `koanf:"enforcer"`
	Guards   []authz.GuardSpec `koanf:"guards" validate:"dive"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns the configuration applied before the config file
// and environment. Secrets have no defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8443,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 20 * time.Second,
			Environment:     EnvDevelopment,
		},
		Routes:    routes.DefaultConfig(),
		Session:   auth.DefaultConfig(),
		CSRF:      csrf.DefaultConfig(),
		Headers:   secheaders.DefaultConfig(),
		RateLimit: ratelimit.DefaultConfig(),
		Authz:     AuthzConfig{Enforcer: authz.DefaultConfig()},
		Gate:      gate.DefaultConfig(),
		Audit:     audit.DefaultConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// IsProduction reports whether the service runs in production.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == EnvProduction
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// HeadersConfig returns the header settings with the CORS allow-list taken
// from the CSRF trusted origins, so both checks agree on one list.
func (c *Config) HeadersConfig() secheaders.Config {
	h := c.Headers
	h.AllowedOrigins = append([]string(nil), c.CSRF.TrustedOrigins...)
	h.CSRFHeader = c.CSRF.HeaderName
	return h
}

// GuardTable returns the configured guards or the built-in table.
func (c *Config) GuardTable() ([]authz.Guard, error) {
	if len(c.Authz.Guards) == 0 {
		return authz.DefaultGuards(), nil
	}
	return authz.ParseGuards(c.Authz.Guards)
}

// LoggerConfig converts the logging section.
func (c *Config) LoggerConfig() logging.Config {
	lc := logging.DefaultConfig()
	lc.Level = c.Logging.Level
	lc.Format = c.Logging.Format
	lc.Caller = c.Logging.Caller
	return lc
}
