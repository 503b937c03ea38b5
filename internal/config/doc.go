// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

/*
Package config loads and validates the Storegate configuration.

# Sources

Configuration is layered with koanf, later sources overriding earlier ones:

 1. Built-in defaults from each package's DefaultConfig
 2. A YAML file: CONFIG_PATH, else config.yaml / config.yml in the working
    directory, else /etc/storegate/config.yaml
 3. Environment variables from an explicit mapping table; unmapped
    variables are ignored

List settings accept comma-separated environment values, for example
TRUSTED_ORIGINS=https://admin.shop.example,https://ops.shop.example.

# Environment Variables

Server:
  - HTTP_HOST, HTTP_PORT (default 0.0.0.0:8443)
  - HTTP_READ_TIMEOUT, HTTP_WRITE_TIMEOUT, HTTP_IDLE_TIMEOUT, HTTP_SHUTDOWN_TIMEOUT
  - ENVIRONMENT: development or production

Secrets (no defaults):
  - JWT_SECRET: session token key, at least 32 characters
  - CSRF_SECRET: CSRF token key, at least 32 characters, distinct from JWT_SECRET
  - WEBHOOK_SECRET: shared secret for webhook signatures

Request checks:
  - TRUSTED_ORIGINS: exact origins allowed for state-changing requests and CORS
  - TRUST_PROXY_HEADERS: derive client IPs from proxy headers
  - RATELIMIT_BACKEND (memory, redis, badger), REDIS_URL, RATELIMIT_BADGER_PATH
  - RATELIMIT_<CLASS>_LIMIT for auth, payment, admin, webhook and api

Audit:
  - AUDIT_STORE (memory, postgres, duckdb), AUDIT_DSN
  - AUDIT_RETENTION_DAYS, AUDIT_CRITICAL_RETENTION_DAYS
  - AUDIT_ALERTS_NATS_URL

Logging:
  - LOG_LEVEL, LOG_FORMAT (json, console), LOG_CALLER

Per-class windows and failure policies, guard tables and the user seed list
are only configurable in the YAML file:

	ratelimit:
	  classes:
	    auth: {limit: 5, window: 1m, failure_policy: fail_closed}
	users:
	  - id: u-1
	    email: ops@shop.example
	    role: ADMIN
	    password_hash: $2a$12$...

# Validation

Load returns a ConfigurationError for any invalid setting, and the server
refuses to start. Production additionally requires https trusted origins,
secure CSRF cookies, a persistent audit store and no CSP dev relaxation.
*/
package config
