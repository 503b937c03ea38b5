// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/storegate/internal/auth"
	"github.com/tomtom215/storegate/internal/config"
	"github.com/tomtom215/storegate/internal/logging"
	"github.com/tomtom215/storegate/internal/supervisor"
	"github.com/tomtom215/storegate/internal/supervisor/services"
)

const flushTimeout = 10 * time.Second

func main() {
	issueFor := flag.String("issue-token", "", "print a session token for the configured user ID and exit")
	tokenTTL := flag.Duration("token-ttl", 0, "lifetime of an issued token (default: session.session_ttl)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Init(cfg.LoggerConfig())

	if *issueFor != "" {
		if err := issueToken(cfg, *issueFor, *tokenTTL); err != nil {
			logging.Fatal().Err(err).Msg("Failed to issue token")
		}
		return
	}

	logging.Info().
		Str("environment", cfg.Server.Environment).
		Str("audit_store", cfg.Audit.Store).
		Str("ratelimit_backend", cfg.RateLimit.Backend).
		Msg("Starting Storegate")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := build(ctx, cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize")
	}
	defer app.close()

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger("supervisor"), supervisor.TreeConfig{
		FailureThreshold: 5,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	tree.AddAuditService(app.audit)
	tree.AddMaintenanceService(services.NewRateLimitCleanupJob(app.limits, cfg.RateLimit.CleanupInterval))
	tree.AddMaintenanceService(services.NewRetentionJob(app.audit, cfg.Audit.CleanupInterval))
	tree.AddAPIService(services.NewHTTPServerService(app.server, cfg.Server.ShutdownTimeout))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Str("addr", app.server.Addr).Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	flushCtx, flushCancel := context.WithTimeout(context.Background(), flushTimeout)
	defer flushCancel()
	if err := app.audit.Flush(flushCtx); err != nil {
		logging.Error().Err(err).Msg("Pending audit entries were not written")
	}

	logging.Info().Msg("Storegate stopped")
}

// issueToken prints a signed session token for a configured user.
func issueToken(cfg *config.Config, userID string, ttl time.Duration) error {
	if cfg.IsProduction() {
		return errors.New("token issuance is disabled in production")
	}
	users, err := newUserDirectory(cfg)
	if err != nil {
		return err
	}
	issuer, err := newIssuer(cfg)
	if err != nil {
		return err
	}

	u, ok := users.Get(userID)
	if !ok {
		return fmt.Errorf("no configured user with id %q", userID)
	}
	token, err := issuer.Issue(auth.Actor{UserID: u.ID, Email: u.Email, Role: u.Role}, ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
