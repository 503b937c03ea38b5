// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

// Package supervisor runs Storegate's long-lived components under a suture
// supervision tree.
//
// The tree has three layers below the root:
//
//	storegate
//	├── audit-layer        audit writer (audit.Service)
//	├── maintenance-layer  rate-limit cleanup, audit retention
//	└── api-layer          HTTP server
//
// Services implement suture.Service: Serve(ctx) blocks until ctx is
// canceled and String names the service in supervisor events. A service
// that returns early is restarted with backoff. Supervisor events are
// logged through sutureslog into the zerolog pipeline.
//
// Shutdown cancels the root context. Every layer stops concurrently, and
// each service gets TreeConfig.ShutdownTimeout before it is reported by
// UnstoppedServiceReport. Callers that need pending audit entries written
// must call audit.Service.Flush after the tree returns.
//
// Adapters for components that do not implement suture.Service live in the
// services subpackage.
package supervisor
