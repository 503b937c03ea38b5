// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

package services

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"
)

var _ suture.Service = (*HTTPServerService)(nil)

// fakeServer blocks in ListenAndServe until Shutdown, unless listenErr is set.
type fakeServer struct {
	listenErr   error
	shutdownErr error
	listens     atomic.Int32
	shutdowns   atomic.Int32
	started     chan struct{}
	stop        chan struct{}
}

func newFakeServer() *fakeServer {
	return &fakeServer{started: make(chan struct{}, 1), stop: make(chan struct{})}
}

func (f *fakeServer) ListenAndServe() error {
	f.listens.Add(1)
	select {
	case f.started <- struct{}{}:
	default:
	}
	if f.listenErr != nil {
		return f.listenErr
	}
	<-f.stop
	return http.ErrServerClosed
}

func (f *fakeServer) Shutdown(context.Context) error {
	f.shutdowns.Add(1)
	close(f.stop)
	return f.shutdownErr
}

func serveUntilStarted(t *testing.T, svc *HTTPServerService, server *fakeServer) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	select {
	case <-server.started:
	case <-time.After(time.Second):
		cancel()
		t.Fatal("server did not start")
	}
	return cancel, errCh
}

func TestNewHTTPServerService_DefaultTimeout(t *testing.T) {
	for _, timeout := range []time.Duration{0, -time.Second} {
		if svc := NewHTTPServerService(newFakeServer(), timeout); svc.shutdownTimeout != defaultShutdownTimeout {
			t.Errorf("timeout %v: shutdownTimeout = %v", timeout, svc.shutdownTimeout)
		}
	}
	if svc := NewHTTPServerService(newFakeServer(), 3*time.Second); svc.shutdownTimeout != 3*time.Second {
		t.Errorf("shutdownTimeout = %v", svc.shutdownTimeout)
	}
}

func TestHTTPServerService_GracefulShutdown(t *testing.T) {
	server := newFakeServer()
	svc := NewHTTPServerService(server, time.Second)

	cancel, errCh := serveUntilStarted(t, svc, server)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	if server.listens.Load() != 1 || server.shutdowns.Load() != 1 {
		t.Errorf("listens %d, shutdowns %d", server.listens.Load(), server.shutdowns.Load())
	}
}

func TestHTTPServerService_ListenFailure(t *testing.T) {
	bindErr := errors.New("listen tcp :8443: bind: address already in use")
	server := newFakeServer()
	server.listenErr = bindErr

	err := NewHTTPServerService(server, time.Second).Serve(context.Background())
	if !errors.Is(err, bindErr) {
		t.Errorf("Serve() = %v, want wrapped bind error", err)
	}
}

func TestHTTPServerService_ShutdownFailure(t *testing.T) {
	shutdownErr := errors.New("context deadline exceeded while draining")
	server := newFakeServer()
	server.shutdownErr = shutdownErr
	svc := NewHTTPServerService(server, time.Second)

	cancel, errCh := serveUntilStarted(t, svc, server)
	cancel()

	if err := <-errCh; !errors.Is(err, shutdownErr) {
		t.Errorf("Serve() = %v, want shutdown error", err)
	}
}

func TestHTTPServerService_RealServer(t *testing.T) {
	srv := &http.Server{
		Addr:              "127.0.0.1:0",
		Handler:           http.NotFoundHandler(),
		ReadHeaderTimeout: time.Second,
	}
	svc := NewHTTPServerService(srv, time.Second)

	sup := suture.New("test", suture.Spec{FailureBackoff: 10 * time.Millisecond, Timeout: 2 * time.Second})
	sup.Add(svc)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := sup.ServeBackground(ctx)
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-errCh:
	case <-time.After(3 * time.Second):
		t.Fatal("supervisor did not stop the server")
	}
	if svc.String() != "http-server" {
		t.Errorf("String() = %q", svc.String())
	}
}
