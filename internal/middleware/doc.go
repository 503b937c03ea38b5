// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

/*
Package middleware provides the infrastructure middleware that runs outside
the security gate.

  - RequestID: accepts a well-formed upstream X-Request-ID or generates a
    UUID, echoes it, and stores it in the logging context so the gate, the
    audit trail and the logs share one id.
  - PrometheusMetrics: records request count and latency labelled by route
    class rather than raw path, keeping label cardinality bounded.

Both follow the chi signature func(http.Handler) http.Handler:

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.PrometheusMetrics(classifier))
*/
package middleware
