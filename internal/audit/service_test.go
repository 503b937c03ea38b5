// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

package audit

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// recordingSink captures alerts.
type recordingSink struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Send(_ context.Context, a Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	return s.err
}

func (s *recordingSink) snapshot() []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Alert(nil), s.alerts...)
}

// flakyStore fails its first n saves, then delegates.
type flakyStore struct {
	*MemoryStore
	failures int32
	calls    atomic.Int32
}

func (s *flakyStore) Save(ctx context.Context, e *Entry) error {
	if s.calls.Add(1) <= s.failures {
		return errors.New("connection reset")
	}
	return s.MemoryStore.Save(ctx, e)
}

// batchCountingStore records DeleteBatch calls.
type batchCountingStore struct {
	*MemoryStore
	batches atomic.Int32
}

func (s *batchCountingStore) DeleteBatch(ctx context.Context, critical bool, before time.Time, limit int) (int64, error) {
	s.batches.Add(1)
	return s.MemoryStore.DeleteBatch(ctx, critical, before, limit)
}

func testServiceConfig() Config {
	cfg := DefaultConfig()
	cfg.BufferSize = 64
	cfg.RetryBackoff = time.Millisecond
	cfg.WriteTimeout = time.Second
	return cfg
}

func newUnstartedService(t *testing.T, store Store, sink AlertSink, mutate func(*Config)) *Service {
	t.Helper()
	cfg := testServiceConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	svc, err := NewService(store, sink, cfg)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	svc.sleep = func(time.Duration) {}
	return svc
}

// startService runs the writer until the test ends.
func startService(t *testing.T, store Store, sink AlertSink, mutate func(*Config)) *Service {
	t.Helper()
	svc := newUnstartedService(t, store, sink, mutate)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = svc.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return svc
}

func flush(t *testing.T, svc *Service) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := svc.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
}

func requestContext(t *testing.T, svc *Service, p Params) context.Context {
	t.Helper()
	ctx, err := svc.SetContext(context.Background(), NewContext(p))
	if err != nil {
		t.Fatal(err)
	}
	return ctx
}

func TestCreateAuditLog_RoundTrip(t *testing.T) {
	store := NewMemoryStore(100)
	svc := startService(t, store, nil, nil)

	ctx := requestContext(t, svc, Params{
		UserID: "admin-1", UserEmail: "admin@shop.example", IPAddress: "10.0.0.1",
		UserAgent: "curl/8", SessionID: "sess-1", RequestID: "req-1",
	})
	created, err := svc.CreateAuditLog(ctx, Input{
		TableName: "products",
		RecordID:  "p-1",
		Action:    ActionUpdate,
		OldValues: map[string]any{"a": 1, "b": 2},
		NewValues: map[string]any{"a": 1, "b": 3},
	})
	if err != nil {
		t.Fatalf("CreateAuditLog() error = %v", err)
	}
	flush(t, svc)

	trail, err := svc.GetAuditTrail(context.Background(), "products", "p-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(trail) != 1 {
		t.Fatalf("trail has %d entries, want 1", len(trail))
	}
	got := trail[0]
	if !reflect.DeepEqual(got.ChangedFields, []string{"b"}) {
		t.Errorf("ChangedFields = %v, want [b]", got.ChangedFields)
	}
	if got.ID != created.ID || len(got.ID) != 26 {
		t.Errorf("ID = %q, want ULID %q", got.ID, created.ID)
	}
	if got.UserID != "admin-1" || got.IPAddress != "10.0.0.1" || got.RequestID != "req-1" || got.SessionID != "sess-1" {
		t.Errorf("attribution = %+v", got)
	}
	if got.Critical {
		t.Error("UPDATE should not be critical")
	}
	if got.Ordinal != 1 {
		t.Errorf("Ordinal = %d, want 1", got.Ordinal)
	}
}

func TestCreateAuditLog_MasksBeforePersistence(t *testing.T) {
	store := NewMemoryStore(100)
	svc := startService(t, store, nil, nil)
	ctx := requestContext(t, svc, Params{UserID: "u-1", IPAddress: "10.0.0.2"})

	_, err := svc.CreateAuditLog(ctx, Input{
		TableName: "users",
		RecordID:  "u-1",
		Action:    ActionUpdate,
		OldValues: map[string]any{"password": "hunter2", "cardNumber": "4242424242424242"},
		NewValues: map[string]any{"password": "correct horse battery staple", "cardNumber": "4000056655665556"},
	})
	if err != nil {
		t.Fatal(err)
	}
	flush(t, svc)

	entries, _ := store.Query(context.Background(), Filter{})
	e := entries[0]
	if e.NewValues["password"] != "[MASKED]" || e.OldValues["password"] != "[MASKED]" {
		t.Errorf("password persisted as %v / %v", e.OldValues["password"], e.NewValues["password"])
	}
	if e.NewValues["cardNumber"] != "40************56" {
		t.Errorf("cardNumber persisted as %v", e.NewValues["cardNumber"])
	}
	// The change is still detected even though both sides mask equally.
	if !reflect.DeepEqual(e.ChangedFields, []string{"cardNumber", "password"}) {
		t.Errorf("ChangedFields = %v", e.ChangedFields)
	}
}

func TestCreateAuditLog_InvalidInput(t *testing.T) {
	svc := newUnstartedService(t, NewMemoryStore(10), nil, nil)

	cases := []Input{
		{RecordID: "1", Action: ActionUpdate},
		{TableName: "users", RecordID: "1"},
		{TableName: "users", Action: ActionUpdate, NewValues: map[string]any{"ch": make(chan int)}},
	}
	for i, in := range cases {
		if _, err := svc.CreateAuditLog(context.Background(), in); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("case %d: error = %v, want ErrInvalidInput", i, err)
		}
	}
}

func TestCreateAuditLog_ConcurrentAttributionIsolated(t *testing.T) {
	store := NewMemoryStore(1000)
	svc := startService(t, store, nil, func(c *Config) { c.BufferSize = 512 })

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("user-%d", i)
			ctx, err := svc.SetContext(context.Background(), NewContext(Params{UserID: user, IPAddress: "10.0.0.9"}))
			if err != nil {
				t.Error(err)
				return
			}
			if _, err := svc.CreateAuditLog(ctx, Input{TableName: "orders", RecordID: user, Action: ActionUpdate}); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()
	flush(t, svc)

	entries, _ := store.Query(context.Background(), Filter{})
	if len(entries) != n {
		t.Fatalf("stored %d entries, want %d", len(entries), n)
	}
	for _, e := range entries {
		if e.UserID != e.RecordID {
			t.Errorf("entry for record %s attributed to %s", e.RecordID, e.UserID)
		}
	}
}

func TestGetAuditTrail_ArrivalOrder(t *testing.T) {
	store := NewMemoryStore(100)
	svc := startService(t, store, nil, nil)

	first := requestContext(t, svc, Params{UserID: "first"})
	second := requestContext(t, svc, Params{UserID: "second"})

	// The later request is logged first; the trail still follows arrival.
	in := Input{TableName: "products", RecordID: "p-9", Action: ActionUpdate}
	if _, err := svc.CreateAuditLog(second, in); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CreateAuditLog(first, in); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.CreateAuditLog(first, in); err != nil {
		t.Fatal(err)
	}
	flush(t, svc)

	trail, err := svc.GetAuditTrail(context.Background(), "products", "p-9")
	if err != nil {
		t.Fatal(err)
	}
	if len(trail) != 3 {
		t.Fatalf("trail has %d entries, want 3", len(trail))
	}
	want := []struct {
		user    string
		ordinal uint32
	}{{"second", 1}, {"first", 2}, {"first", 1}}
	for i, w := range want {
		if trail[i].UserID != w.user || trail[i].Ordinal != w.ordinal {
			t.Errorf("trail[%d] = %s/%d, want %s/%d", i, trail[i].UserID, trail[i].Ordinal, w.user, w.ordinal)
		}
	}
}

func TestCreateAuditLog_CanceledRequestStillFlushed(t *testing.T) {
	store := NewMemoryStore(100)
	svc := startService(t, store, nil, nil)

	ctx, cancel := context.WithCancel(requestContext(t, svc, Params{UserID: "u-1"}))
	cancel()

	if _, err := svc.CreateAuditLog(ctx, Input{TableName: "orders", RecordID: "o-1", Action: ActionDelete}); err != nil {
		t.Fatal(err)
	}
	flush(t, svc)

	if store.Len() != 1 {
		t.Errorf("store has %d entries, want 1", store.Len())
	}
}

func TestCreateAuditLog_BufferFullAlerts(t *testing.T) {
	sink := &recordingSink{}
	svc := newUnstartedService(t, NewMemoryStore(10), sink, func(c *Config) { c.BufferSize = 1 })

	in := Input{TableName: "orders", RecordID: "o-1", Action: ActionUpdate}
	if _, err := svc.CreateAuditLog(context.Background(), in); err != nil {
		t.Fatal(err)
	}
	dropped, err := svc.CreateAuditLog(context.Background(), in)
	if err != nil {
		t.Fatalf("a full buffer must not surface as an error, got %v", err)
	}

	alerts := sink.snapshot()
	if len(alerts) != 1 {
		t.Fatalf("got %d alerts, want 1", len(alerts))
	}
	if alerts[0].Reason != AlertBufferFull || alerts[0].EntryID != dropped.ID || alerts[0].Code != "AUDIT_WRITE_FAILED" {
		t.Errorf("alert = %+v", alerts[0])
	}
}

func TestPersist_RetriesThenSucceeds(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore(10), failures: 2}
	sink := &recordingSink{}
	svc := startService(t, store, sink, func(c *Config) { c.MaxRetries = 3 })

	if _, err := svc.CreateAuditLog(context.Background(), Input{TableName: "t", RecordID: "1", Action: ActionCreate}); err != nil {
		t.Fatal(err)
	}
	flush(t, svc)

	if got := store.calls.Load(); got != 3 {
		t.Errorf("Save called %d times, want 3", got)
	}
	if store.Len() != 1 {
		t.Error("entry not persisted after retries")
	}
	if len(sink.snapshot()) != 0 {
		t.Error("alert raised for a write that eventually succeeded")
	}
}

func TestPersist_ExhaustedRetriesAlert(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore(10), failures: 100}
	sink := &recordingSink{}
	svc := startService(t, store, sink, func(c *Config) { c.MaxRetries = 2 })

	var slept []time.Duration
	var mu sync.Mutex
	svc.sleep = func(d time.Duration) {
		mu.Lock()
		slept = append(slept, d)
		mu.Unlock()
	}

	entry, err := svc.CreateAuditLog(context.Background(), Input{TableName: "users", RecordID: "u-1", Action: ActionRoleChange})
	if err != nil {
		t.Fatal(err)
	}
	flush(t, svc)

	if got := store.calls.Load(); got != 3 {
		t.Errorf("Save called %d times, want 3", got)
	}
	alerts := sink.snapshot()
	if len(alerts) != 1 {
		t.Fatalf("got %d alerts, want 1", len(alerts))
	}
	a := alerts[0]
	if a.Reason != AlertWriteFailed || a.Attempts != 3 || a.EntryID != entry.ID || a.Error == "" {
		t.Errorf("alert = %+v", a)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(slept) != 2 || slept[1] != 2*slept[0] {
		t.Errorf("backoff = %v, want two doubling waits", slept)
	}
}

func TestServe_DrainsOnShutdown(t *testing.T) {
	store := NewMemoryStore(100)
	svc := newUnstartedService(t, store, nil, nil)

	for i := 0; i < 10; i++ {
		if _, err := svc.CreateAuditLog(context.Background(), Input{TableName: "t", RecordID: fmt.Sprint(i), Action: ActionCreate}); err != nil {
			t.Fatal(err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := svc.Serve(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Serve() error = %v, want context.Canceled", err)
	}
	if store.Len() != 10 {
		t.Errorf("drained %d entries, want 10", store.Len())
	}
}

func TestCreateAuditLog_AfterWriterStopped(t *testing.T) {
	store := NewMemoryStore(100)
	svc := newUnstartedService(t, store, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Serve() error = %v, want context.Canceled", err)
	}

	if _, err := svc.CreateAuditLog(context.Background(), Input{TableName: "orders", RecordID: "o-1", Action: ActionUpdate}); err != nil {
		t.Fatal(err)
	}

	flushCtx, flushCancel := context.WithTimeout(context.Background(), time.Second)
	defer flushCancel()
	if err := svc.Flush(flushCtx); err != nil {
		t.Fatalf("Flush() error = %v, want nil after the writer stopped", err)
	}
	if store.Len() != 1 {
		t.Errorf("store has %d entries, want 1", store.Len())
	}
}

func TestQueryAuditLogs_LimitsAndFilters(t *testing.T) {
	store := NewMemoryStore(5000)
	svc := startService(t, store, nil, func(c *Config) { c.BufferSize = 2048 })

	admin := requestContext(t, svc, Params{UserID: "admin-1", IPAddress: "10.0.0.1"})
	for i := 0; i < 1500; i++ {
		if _, err := svc.CreateAuditLog(admin, Input{TableName: "products", RecordID: fmt.Sprint(i), Action: ActionUpdate}); err != nil {
			t.Fatal(err)
		}
	}
	anon := requestContext(t, svc, Params{IPAddress: "203.0.113.7"})
	if _, err := svc.CreateAuditLog(anon, Input{TableName: "http_requests", RecordID: "/api/admin", Action: ActionAccessDenied}); err != nil {
		t.Fatal(err)
	}
	flush(t, svc)

	ctx := context.Background()
	if got, _ := svc.QueryAuditLogs(ctx, Filter{}); len(got) != defaultQueryLimit {
		t.Errorf("default limit returned %d", len(got))
	}
	if got, _ := svc.QueryAuditLogs(ctx, Filter{Limit: 5000}); len(got) != maxQueryLimit {
		t.Errorf("capped limit returned %d", len(got))
	}

	denied, _ := svc.QueryAuditLogs(ctx, Filter{Actions: []Action{ActionAccessDenied}})
	if len(denied) != 1 || denied[0].IPAddress != "203.0.113.7" {
		t.Errorf("action filter = %+v", denied)
	}
	byIP, _ := svc.QueryAuditLogs(ctx, Filter{IPAddress: "10.0.0.1", Limit: 10, Offset: 1495})
	if len(byIP) != 5 {
		t.Errorf("offset page returned %d, want 5", len(byIP))
	}

	sum, err := svc.GetAuditSummary(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if sum.TotalRecords != 1501 || sum.ActionCounts["UPDATE"] != 1500 || sum.TableCounts["http_requests"] != 1 || sum.UserCounts["admin-1"] != 1500 {
		t.Errorf("summary = %+v", sum)
	}
	if sum.DateRange.Earliest == nil || sum.DateRange.Latest == nil || sum.DateRange.Latest.Before(*sum.DateRange.Earliest) {
		t.Errorf("date range = %+v", sum.DateRange)
	}
	if _, ok := sum.UserCounts[""]; ok {
		t.Error("anonymous entries counted under an empty user")
	}
}

func TestCleanupAuditLogs(t *testing.T) {
	store := &batchCountingStore{MemoryStore: NewMemoryStore(100)}
	svc := newUnstartedService(t, store, nil, nil)
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	ctx := context.Background()
	seed := []struct {
		id       string
		age      time.Duration
		critical bool
	}{
		{"recent", 24 * time.Hour, false},
		{"old-standard-1", 100 * 24 * time.Hour, false},
		{"old-standard-2", 120 * 24 * time.Hour, false},
		{"old-critical", 100 * 24 * time.Hour, true},
		{"ancient-critical", 400 * 24 * time.Hour, true},
	}
	for _, s := range seed {
		if err := store.Save(ctx, &Entry{ID: s.id, Critical: s.critical, Timestamp: now.Add(-s.age)}); err != nil {
			t.Fatal(err)
		}
	}

	deleted, err := svc.CleanupAuditLogs(ctx, 90, 365, 1)
	if err != nil {
		t.Fatalf("CleanupAuditLogs() error = %v", err)
	}
	if deleted != 3 {
		t.Errorf("deleted = %d, want 3", deleted)
	}

	remaining, _ := store.Query(ctx, Filter{})
	ids := map[string]bool{}
	for _, e := range remaining {
		ids[e.ID] = true
	}
	if !ids["recent"] || !ids["old-critical"] || len(ids) != 2 {
		t.Errorf("remaining = %v", ids)
	}
	// Standard: 1, 1, 0. Critical: 1, 0.
	if got := store.batches.Load(); got != 5 {
		t.Errorf("DeleteBatch called %d times, want 5", got)
	}
}

func TestCleanupAuditLogs_Validation(t *testing.T) {
	svc := newUnstartedService(t, NewMemoryStore(10), nil, nil)
	tests := []struct {
		name                        string
		retention, critical, batch int
	}{
		{"zero retention", 0, 365, 100},
		{"critical shorter", 90, 30, 100},
		{"zero batch", 90, 365, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.CleanupAuditLogs(context.Background(), tt.retention, tt.critical, tt.batch); !errors.Is(err, ErrInvalidRetention) {
				t.Errorf("error = %v, want ErrInvalidRetention", err)
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
	cfg := DefaultConfig()
	cfg.Store = StorePostgres
	if err := cfg.Validate(); err == nil {
		t.Error("postgres without dsn accepted")
	}
	cfg = DefaultConfig()
	cfg.CriticalRetentionDays = 30
	if err := cfg.Validate(); err == nil {
		t.Error("critical retention shorter than retention accepted")
	}
}
