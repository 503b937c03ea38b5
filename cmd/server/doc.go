// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

/*
Package main is the entry point for the Storegate server.

Storegate puts a request security gate in front of a commerce admin API.
Every /api request passes through one pipeline: classify the route, apply
security headers, rate limit per class, verify request provenance (CSRF
or webhook signature), resolve the session and enforce permissions, then
record the outcome in the audit log.

# Process Layout

	storegate
	├── audit-layer
	│   └── audit-writer        persists audit entries in the background
	├── maintenance-layer
	│   ├── ratelimit-cleanup   drops expired counter windows
	│   └── audit-retention     purges entries past retention
	└── api-layer
	    └── http-server         chi router behind the gate

Initialization order:

 1. Configuration: koanf defaults, config.yaml, environment
 2. Logging: zerolog, JSON or console
 3. Audit store and alert sinks (memory, PostgreSQL or DuckDB; NATS)
 4. Rate limit backend (memory, Redis or Badger)
 5. Gate components: classifier, headers, CSRF, sessions, enforcer
 6. HTTP handlers and router
 7. Supervisor tree

# Signals

SIGINT and SIGTERM cancel the tree. The HTTP server drains within
server.shutdown_timeout, then pending audit entries are flushed before
stores are closed.

# Issuing Development Tokens

With users configured in config.yaml, a session token can be minted
without signing in:

	storegate -issue-token u-admin -token-ttl 1h

The token is printed to stdout and can be sent as the session cookie.
This is refused in production.
*/
package main
