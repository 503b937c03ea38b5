// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/tomtom215/storegate/internal/api"
	"github.com/tomtom215/storegate/internal/audit"
	"github.com/tomtom215/storegate/internal/auth"
	"github.com/tomtom215/storegate/internal/authz"
	"github.com/tomtom215/storegate/internal/config"
	"github.com/tomtom215/storegate/internal/csrf"
	"github.com/tomtom215/storegate/internal/gate"
	"github.com/tomtom215/storegate/internal/logging"
	"github.com/tomtom215/storegate/internal/ratelimit"
	"github.com/tomtom215/storegate/internal/routes"
	"github.com/tomtom215/storegate/internal/secheaders"
)

// application holds the components main supervises and the resources it
// releases on exit.
type application struct {
	server  *http.Server
	audit   *audit.Service
	limits  *ratelimit.Registry
	closers []func() error
}

func (a *application) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logging.Error().Err(err).Msg("Error releasing resource")
		}
	}
}

// build wires every component from cfg. On error, resources opened so far
// are released before returning.
func build(ctx context.Context, cfg *config.Config) (app *application, err error) {
	app = &application{}
	defer func() {
		if err != nil {
			app.close()
			app = nil
		}
	}()

	store, closeStore, err := audit.OpenStore(ctx, cfg.Audit)
	if err != nil {
		return nil, fmt.Errorf("audit store: %w", err)
	}
	app.closers = append(app.closers, closeStore)

	sink, err := alertSink(cfg.Audit, app)
	if err != nil {
		return nil, err
	}
	app.audit, err = audit.NewService(store, sink, cfg.Audit)
	if err != nil {
		return nil, err
	}

	limitStore, closeLimits, err := ratelimit.NewStore(cfg.RateLimit)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, closeLimits)
	app.limits, err = ratelimit.NewRegistry(limitStore, cfg.RateLimit.Classes)
	if err != nil {
		return nil, err
	}

	classifier := routes.NewClassifier(cfg.Routes)
	g, err := newGate(cfg, classifier, app)
	if err != nil {
		return nil, err
	}

	users, err := newUserDirectory(cfg)
	if err != nil {
		return nil, err
	}
	issuer, err := newIssuer(cfg)
	if err != nil {
		return nil, err
	}
	handlers, err := api.NewHandlers(api.HandlerDeps{
		Audit:         app.audit,
		Users:         users,
		Issuer:        issuer,
		Session:       cfg.Session,
		SecureCookies: cfg.IsProduction() || cfg.CSRF.CookieSecure,
		Ready:         storeReady(store),
	})
	if err != nil {
		return nil, err
	}

	app.server = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           api.NewRouter(handlers, g, classifier),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
	return app, nil
}

// alertSink logs critical audit alerts and, when a NATS URL is configured,
// publishes them. Publishing is throttled; logging is not.
func alertSink(cfg audit.Config, app *application) (audit.AlertSink, error) {
	if cfg.AlertsNATSURL == "" {
		return audit.LogSink{}, nil
	}
	natsSink, err := audit.DialNATSSink(cfg.AlertsNATSURL, cfg.AlertSubject)
	if err != nil {
		return nil, fmt.Errorf("audit alerts: %w", err)
	}
	app.closers = append(app.closers, natsSink.Close)

	logging.Info().Str("subject", cfg.AlertSubject).Msg("Publishing critical audit alerts to NATS")
	return audit.MultiSink{
		audit.LogSink{},
		audit.NewThrottledSink(natsSink, cfg.AlertsPerMinute, cfg.AlertsPerMinute),
	}, nil
}

func newGate(cfg *config.Config, classifier *routes.Classifier, app *application) (*gate.Gate, error) {
	headers, err := secheaders.New(cfg.HeadersConfig(), classifier, cfg.IsProduction())
	if err != nil {
		return nil, err
	}
	validator, err := csrf.New(cfg.CSRF, classifier)
	if err != nil {
		return nil, err
	}
	verifier, err := auth.NewVerifier(cfg.Session)
	if err != nil {
		return nil, err
	}

	table, err := cfg.GuardTable()
	if err != nil {
		return nil, err
	}
	guards, err := authz.NewGuards(table)
	if err != nil {
		return nil, err
	}
	enforcer, err := authz.NewEnforcer(guards, cfg.Authz.Enforcer)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, func() error {
		enforcer.Close()
		return nil
	})

	return gate.New(cfg.Gate, gate.Deps{
		Classifier: classifier,
		Headers:    headers,
		Limits:     app.limits,
		CSRF:       validator,
		Enforcer:   enforcer,
		Sessions:   verifier,
		Audit:      app.audit,
	})
}

func newUserDirectory(cfg *config.Config) (*api.UserDirectory, error) {
	users, err := api.NewUserDirectory(cfg.Users)
	if err != nil {
		return nil, err
	}
	if len(cfg.Users) == 0 {
		logging.Warn().Msg("No users configured; sign-in will reject every account")
	}
	return users, nil
}

func newIssuer(cfg *config.Config) (*auth.Issuer, error) {
	return auth.NewIssuer(cfg.Session)
}

// storeReady pings SQL-backed audit stores. The memory store is always
// ready.
func storeReady(store audit.Store) func(context.Context) error {
	pinger, ok := store.(interface{ Ping(context.Context) error })
	if !ok {
		return nil
	}
	return func(ctx context.Context) error {
		if err := pinger.Ping(ctx); err != nil {
			return errors.Join(errors.New("audit store unreachable"), err)
		}
		return nil
	}
}
