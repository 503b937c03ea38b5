// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

// Package testinfra starts backing services in containers for integration
// tests, using testcontainers-go.
//
//	func TestAuditStore_Postgres(t *testing.T) {
//	    testinfra.SkipIfNoDocker(t)
//	    ctx := context.Background()
//	    pg, err := testinfra.NewPostgresContainer(ctx)
//	    if err != nil {
//	        t.Fatal(err)
//	    }
//	    defer testinfra.CleanupContainer(t, ctx, pg)
//
//	    store, err := audit.OpenSQLStore(ctx, audit.DialectPostgres, pg.DSN)
//	    // ...
//	}
//
// Every file is built only with the integration tag. Tests skip when no
// Docker daemon is reachable; the first run pulls images.
package testinfra
