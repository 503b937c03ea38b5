// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
)

// DefaultAlertSubject is the NATS subject audit alerts are published on.
const DefaultAlertSubject = "storegate.alerts.audit"

// NATSSink publishes alerts as JSON on a NATS subject. Publishing is
// fire-and-forget; delivery is best effort.
type NATSSink struct {
	conn    *nats.Conn
	subject string
	owned   bool
}

// NewNATSSink publishes on an existing connection. The caller owns conn.
func NewNATSSink(conn *nats.Conn, subject string) *NATSSink {
	if subject == "" {
		subject = DefaultAlertSubject
	}
	return &NATSSink{conn: conn, subject: subject}
}

// DialNATSSink connects to url and publishes on subject. Close releases
// the connection.
func DialNATSSink(url, subject string) (*NATSSink, error) {
	nc, err := nats.Connect(url,
		nats.Name("storegate-audit-alerts"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	s := NewNATSSink(nc, subject)
	s.owned = true
	return s, nil
}

func (s *NATSSink) Name() string { return "nats" }

// Send publishes a. It does not wait for the server.
func (s *NATSSink) Send(ctx context.Context, a Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	if err := s.conn.Publish(s.subject, data); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}

// Close drains the connection if the sink opened it.
func (s *NATSSink) Close() error {
	if !s.owned {
		return nil
	}
	return s.conn.Drain()
}
