// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

func startNATSServer(t *testing.T) *server.Server {
	t.Helper()
	ns, err := server.NewServer(&server.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		t.Fatalf("create NATS server: %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return ns
}

func TestNATSSink_PublishesAlert(t *testing.T) {
	ns := startNATSServer(t)

	sub, err := nats.Connect(ns.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	msgs := make(chan *nats.Msg, 1)
	if _, err := sub.ChanSubscribe(DefaultAlertSubject, msgs); err != nil {
		t.Fatal(err)
	}
	if err := sub.Flush(); err != nil {
		t.Fatal(err)
	}

	sink, err := DialNATSSink(ns.ClientURL(), "")
	if err != nil {
		t.Fatalf("DialNATSSink() error = %v", err)
	}
	defer sink.Close()

	want := newAlert(AlertWriteFailed, &Entry{ID: "01J0000000000000000000000", Action: ActionRoleChange, TableName: "users", RecordID: "u-1"}, 4, errors.New("timeout"))
	if err := sink.Send(context.Background(), want); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	select {
	case msg := <-msgs:
		var got Alert
		if err := json.Unmarshal(msg.Data, &got); err != nil {
			t.Fatalf("alert payload not JSON: %v", err)
		}
		if got.EntryID != want.EntryID || got.Reason != AlertWriteFailed || got.Attempts != 4 || got.Error != "timeout" || got.Code != "AUDIT_WRITE_FAILED" {
			t.Errorf("alert = %+v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("alert not received")
	}
}

func TestNATSSink_CanceledContext(t *testing.T) {
	ns := startNATSServer(t)
	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	defer nc.Close()

	sink := NewNATSSink(nc, "custom.subject")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sink.Send(ctx, Alert{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Send() error = %v, want context.Canceled", err)
	}
	if err := sink.Close(); err != nil {
		t.Errorf("Close() on borrowed connection = %v", err)
	}
	if nc.IsClosed() {
		t.Error("sink closed a connection it does not own")
	}
}

func TestMultiSink(t *testing.T) {
	ok := &recordingSink{}
	failing := &recordingSink{err: errors.New("unreachable")}
	multi := MultiSink{ok, LogSink{}, failing}

	err := multi.Send(context.Background(), Alert{Reason: AlertBufferFull})
	if err == nil || !errors.Is(err, failing.err) {
		t.Errorf("Send() error = %v, want joined sink error", err)
	}
	if len(ok.snapshot()) != 1 || len(failing.snapshot()) != 1 {
		t.Error("every sink should receive the alert")
	}
	if multi.Name() != "recording+log+recording" {
		t.Errorf("Name() = %q", multi.Name())
	}
}

func TestThrottledSink(t *testing.T) {
	next := &recordingSink{}
	sink := NewThrottledSink(next, 1, 2)

	var throttled int
	for i := 0; i < 5; i++ {
		if err := sink.Send(context.Background(), Alert{}); errors.Is(err, ErrAlertThrottled) {
			throttled++
		}
	}
	if got := len(next.snapshot()); got != 2 {
		t.Errorf("delivered %d alerts, want burst of 2", got)
	}
	if throttled != 3 {
		t.Errorf("throttled %d alerts, want 3", throttled)
	}
}
