// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset. The
// first existing file is used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/storegate/config.yaml",
	"/etc/storegate/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// Load builds the configuration from defaults, then the config file, then
// environment variables, and validates the result.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	configPath, err := findConfigFile()
	if err != nil {
		return nil, err
	}
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// findConfigFile returns the config file to load, or "" when there is none.
// An explicit CONFIG_PATH that does not exist is an error.
func findConfigFile() (string, error) {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err != nil {
			return "", fmt.Errorf("config file %s: %w", envPath, err)
		}
		return envPath, nil
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", nil
}

// sliceConfigPaths accept comma-separated strings from the environment.
var sliceConfigPaths = []string{
	"csrf.trusted_origins",
	"csrf.exempt_paths",
	"headers.payment_script_sources",
	"headers.payment_frame_sources",
	"headers.payment_connect_sources",
	"routes.auth_prefixes",
	"routes.payment_prefixes",
	"routes.admin_prefixes",
	"routes.webhook_prefixes",
	"audit.volatile_fields",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok {
			continue
		}

		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps environment variables, lowercased, to config keys.
var envMappings = map[string]string{
	"http_host":             "server.host",
	"http_port":             "server.port",
	"http_read_timeout":     "server.read_timeout",
	"http_write_timeout":    "server.write_timeout",
	"http_idle_timeout":     "server.idle_timeout",
	"http_shutdown_timeout": "server.shutdown_timeout",
	"environment":           "server.environment",

	"jwt_secret":          "session.jwt_secret",
	"session_cookie_name": "session.cookie_name",
	"session_issuer":      "session.issuer",
	"session_audience":    "session.audience",
	"session_ttl":         "session.session_ttl",

	"csrf_secret":        "csrf.secret",
	"csrf_cookie_secure": "csrf.cookie_secure",
	"csrf_cookie_domain": "csrf.cookie_domain",
	"trusted_origins":    "csrf.trusted_origins",
	"webhook_secret":     "csrf.webhook_secret",

	"csp_dev_relaxation":      "headers.dev_relaxation",
	"csp_report_uri":          "headers.report_uri",
	"payment_script_sources":  "headers.payment_script_sources",
	"payment_frame_sources":   "headers.payment_frame_sources",
	"payment_connect_sources": "headers.payment_connect_sources",

	"ratelimit_backend":          "ratelimit.backend",
	"redis_url":                  "ratelimit.redis_url",
	"ratelimit_redis_prefix":     "ratelimit.redis_prefix",
	"ratelimit_badger_path":      "ratelimit.badger_path",
	"ratelimit_cleanup_interval": "ratelimit.cleanup_interval",
	"ratelimit_breaker_enabled":  "ratelimit.breaker.enabled",
	"ratelimit_auth_limit":       "ratelimit.classes.auth.limit",
	"ratelimit_payment_limit":    "ratelimit.classes.payment.limit",
	"ratelimit_admin_limit":      "ratelimit.classes.admin_mutation.limit",
	"ratelimit_webhook_limit":    "ratelimit.classes.webhook.limit",
	"ratelimit_api_limit":        "ratelimit.classes.api.limit",

	"authz_cache_enabled": "authz.enforcer.cache_enabled",
	"authz_cache_ttl":     "authz.enforcer.cache_ttl",

	"trust_proxy_headers": "gate.trust_proxy_headers",
	"audit_reads":         "gate.audit_reads",

	"audit_store":                   "audit.store",
	"audit_dsn":                     "audit.dsn",
	"audit_buffer_size":             "audit.buffer_size",
	"audit_max_retries":             "audit.max_retries",
	"audit_retention_days":          "audit.retention_days",
	"audit_critical_retention_days": "audit.critical_retention_days",
	"audit_cleanup_interval":        "audit.cleanup_interval",
	"audit_alerts_nats_url":         "audit.alerts_nats_url",
	"audit_alert_subject":           "audit.alert_subject",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc maps a variable to its config key. Unmapped variables
// return "" and are skipped, so unrelated environment never leaks in.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
