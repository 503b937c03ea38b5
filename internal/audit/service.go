// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/tomtom215/storegate/internal/gateerr"
	"github.com/tomtom215/storegate/internal/logging"
	"github.com/tomtom215/storegate/internal/metrics"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreDuckDB   = "duckdb"
)

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 1000
	alertTimeout      = 2 * time.Second
)

var (
	// ErrInvalidInput is returned by CreateAuditLog for entries missing a
	// table name or action, or carrying values that cannot be serialized.
	ErrInvalidInput = errors.New("invalid audit input")

	// ErrInvalidRetention is returned by CleanupAuditLogs for inconsistent
	// retention arguments.
	ErrInvalidRetention = errors.New("invalid retention settings")
)

// Config holds audit settings.
type Config struct {
	Store            string `koanf:"store" validate:"oneof=memory postgres duckdb"`
	DSN              string `koanf:"dsn"`
	MemoryMaxEntries int    `koanf:"memory_max_entries" validate:"gte=0"`

	BufferSize     int           `koanf:"buffer_size" validate:"gte=0"`
	MaxRetries     int           `koanf:"max_retries" validate:"gte=0,lte=10"`
	WriteTimeout   time.Duration `koanf:"write_timeout"`
	RetryBackoff   time.Duration `koanf:"retry_backoff"`
	VolatileFields []string      `koanf:"volatile_fields"`

	RetentionDays         int           `koanf:"retention_days"`
	CriticalRetentionDays int           `koanf:"critical_retention_days"`
	CleanupBatchSize      int           `koanf:"cleanup_batch_size"`
	CleanupInterval       time.Duration `koanf:"cleanup_interval"`

	AlertsNATSURL   string `koanf:"alerts_nats_url"`
	AlertSubject    string `koanf:"alert_subject"`
	AlertsPerMinute int    `koanf:"alerts_per_minute" validate:"gte=0"`
}

// DefaultConfig returns an in-memory store with 90/365 day retention.
func DefaultConfig() Config {
	return Config{
		Store:                 StoreMemory,
		MemoryMaxEntries:      10000,
		BufferSize:            1024,
		MaxRetries:            3,
		WriteTimeout:          5 * time.Second,
		RetryBackoff:          100 * time.Millisecond,
		VolatileFields:        DefaultVolatileFields,
		RetentionDays:         90,
		CriticalRetentionDays: 365,
		CleanupBatchSize:      1000,
		CleanupInterval:       24 * time.Hour,
		AlertSubject:          DefaultAlertSubject,
		AlertsPerMinute:       30,
	}
}

// Validate checks the settings that struct tags cannot express.
func (c Config) Validate() error {
	if c.Store != StoreMemory && c.DSN == "" {
		return gateerr.Configf("audit: dsn is required for the %s store", c.Store)
	}
	if err := validateRetention(c.RetentionDays, c.CriticalRetentionDays, c.CleanupBatchSize); err != nil {
		return gateerr.Configf("audit: %v", err)
	}
	if c.WriteTimeout <= 0 {
		return gateerr.Configf("audit: write_timeout must be positive")
	}
	return nil
}

func validateRetention(retentionDays, criticalRetentionDays, batchSize int) error {
	switch {
	case retentionDays <= 0:
		return fmt.Errorf("%w: retention days must be positive", ErrInvalidRetention)
	case criticalRetentionDays < retentionDays:
		return fmt.Errorf("%w: critical retention (%d) is shorter than retention (%d)",
			ErrInvalidRetention, criticalRetentionDays, retentionDays)
	case batchSize <= 0:
		return fmt.Errorf("%w: batch size must be positive", ErrInvalidRetention)
	}
	return nil
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BufferSize <= 0 {
		c.BufferSize = d.BufferSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = d.RetryBackoff
	}
	if c.VolatileFields == nil {
		c.VolatileFields = d.VolatileFields
	}
	return c
}

// Service builds audit entries in the request path and persists them on a
// background writer. Run the writer with Serve.
type Service struct {
	store    Store
	sink     AlertSink
	cfg      Config
	volatile map[string]struct{}

	queue   chan *Entry
	pending atomic.Int64

	// stateMu orders enqueues against the writer stopping. Once stopped is
	// set and the queue drained, entries are persisted inline.
	stateMu sync.RWMutex
	stopped bool

	now   func() time.Time
	sleep func(time.Duration)
}

// NewService creates a Service. A nil sink logs alerts.
func NewService(store Store, sink AlertSink, cfg Config) (*Service, error) {
	if store == nil {
		return nil, gateerr.Configf("audit: store is required")
	}
	if sink == nil {
		sink = LogSink{}
	}
	cfg = cfg.withDefaults()
	return &Service{
		store:    store,
		sink:     sink,
		cfg:      cfg,
		volatile: fieldSet(cfg.VolatileFields),
		queue:    make(chan *Entry, cfg.BufferSize),
		now:      time.Now,
		sleep:    time.Sleep,
	}, nil
}

// SetContext attaches ac to the request context. A request carries one
// audit Context for its whole life.
func (s *Service) SetContext(ctx context.Context, ac Context) (context.Context, error) {
	if ac.IsZero() {
		return ctx, fmt.Errorf("%w: context not created by NewContext", ErrInvalidInput)
	}
	return withContext(ctx, ac)
}

// CreateAuditLog builds an entry attributed to the request's audit Context
// and queues it for persistence. It never blocks on the store; a full
// buffer drops the entry and raises an alert.
//
// The returned entry is the one that will be persisted, masked.
func (s *Service) CreateAuditLog(ctx context.Context, in Input) (*Entry, error) {
	if in.TableName == "" || in.Action == "" {
		return nil, fmt.Errorf("%w: table name and action are required", ErrInvalidInput)
	}

	ac, ok := FromContext(ctx)
	if !ok {
		ac = NewContext(Params{IPAddress: "internal"})
	}

	oldValues, err := normalizeValues(in.OldValues)
	if err != nil {
		return nil, fmt.Errorf("%w: old values: %w", ErrInvalidInput, err)
	}
	newValues, err := normalizeValues(in.NewValues)
	if err != nil {
		return nil, fmt.Errorf("%w: new values: %w", ErrInvalidInput, err)
	}
	metadata, err := normalizeValues(in.Metadata)
	if err != nil {
		return nil, fmt.Errorf("%w: metadata: %w", ErrInvalidInput, err)
	}

	requestID := ac.RequestID
	if requestID == "" {
		requestID = logging.RequestIDFromContext(ctx)
	}

	e := &Entry{
		ID:            ulid.Make().String(),
		Sequence:      ac.Sequence,
		Ordinal:       ac.nextOrdinal(),
		TableName:     in.TableName,
		RecordID:      in.RecordID,
		Action:        in.Action,
		UserID:        ac.UserID,
		UserEmail:     ac.UserEmail,
		IPAddress:     ac.IPAddress,
		UserAgent:     ac.UserAgent,
		SessionID:     ac.SessionID,
		RequestID:     requestID,
		ChangedFields: ChangedFields(oldValues, newValues, s.volatile),
		OldValues:     MaskValues(oldValues),
		NewValues:     MaskValues(newValues),
		Metadata:      MaskValues(metadata),
		Critical:      in.Action.Critical(),
		Timestamp:     ac.Timestamp,
	}

	s.enqueue(ctx, e)
	return e, nil
}

func (s *Service) enqueue(ctx context.Context, e *Entry) {
	s.pending.Add(1)

	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	if s.stopped {
		logging.Ctx(ctx).Debug().Str("entry_id", e.ID).Msg("Audit writer stopped, persisting inline")
		s.persist(e)
		return
	}
	select {
	case s.queue <- e:
		metrics.SetAuditQueueDepth(len(s.queue))
	default:
		s.pending.Add(-1)
		metrics.RecordAuditWrite("dropped")
		logging.CtxWarn(ctx).
			Str("entry_id", e.ID).
			Str("action", string(e.Action)).
			Msg("Audit buffer full, entry dropped")
		s.alert(newAlert(AlertBufferFull, e, 0, nil))
	}
}

// Serve runs the writer until ctx is canceled, then persists whatever is
// still buffered. Writes use their own timeouts, never ctx. Entries created
// after Serve returns are written synchronously by CreateAuditLog.
func (s *Service) Serve(ctx context.Context) error {
	s.setStopped(false)
	logging.Info().Int("buffer_size", cap(s.queue)).Str("store", s.cfg.Store).Msg("Audit writer started")
	for {
		select {
		case e := <-s.queue:
			s.persist(e)
		case <-ctx.Done():
			s.setStopped(true)
			s.drain()
			logging.Info().Msg("Audit writer stopped")
			return ctx.Err()
		}
	}
}

func (s *Service) String() string { return "audit-writer" }

func (s *Service) setStopped(stopped bool) {
	s.stateMu.Lock()
	s.stopped = stopped
	s.stateMu.Unlock()
}

func (s *Service) drain() {
	for {
		select {
		case e := <-s.queue:
			s.persist(e)
		default:
			return
		}
	}
}

// Flush waits until every queued entry has been persisted or given up on.
func (s *Service) Flush(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for s.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func (s *Service) persist(e *Entry) {
	defer s.pending.Add(-1)
	defer func() { metrics.SetAuditQueueDepth(len(s.queue)) }()

	var err error
	backoff := s.cfg.RetryBackoff
	attempts := 0
	for attempts <= s.cfg.MaxRetries {
		if attempts > 0 {
			s.sleep(backoff)
			backoff *= 2
		}
		attempts++

		writeCtx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
		err = s.store.Save(writeCtx, e)
		cancel()
		if err == nil {
			metrics.RecordAuditWrite("success")
			return
		}
		logging.Warn().Err(err).Str("entry_id", e.ID).Int("attempt", attempts).Msg("Audit write failed")
	}

	metrics.RecordAuditWrite("failed")
	logging.Err(gateerr.Wrap(gateerr.KindAuditWriteFailed, err, "retries exhausted")).
		Str("entry_id", e.ID).
		Str("action", string(e.Action)).
		Str("request_id", e.RequestID).
		Int("attempts", attempts).
		Msg("Audit entry lost")
	s.alert(newAlert(AlertWriteFailed, e, attempts, err))
}

func (s *Service) alert(a Alert) {
	ctx, cancel := context.WithTimeout(context.Background(), alertTimeout)
	defer cancel()

	err := s.sink.Send(ctx, a)
	switch {
	case err == nil:
		metrics.RecordAlert(s.sink.Name(), "success")
	case errors.Is(err, ErrAlertThrottled):
		metrics.RecordAlert(s.sink.Name(), "throttled")
	default:
		metrics.RecordAlert(s.sink.Name(), "error")
		logging.Error().Err(err).Str("sink", s.sink.Name()).Msg("Failed to deliver audit alert")
	}
}

// GetAuditTrail returns every entry for one record, newest first.
func (s *Service) GetAuditTrail(ctx context.Context, tableName, recordID string) ([]Entry, error) {
	if tableName == "" || recordID == "" {
		return nil, fmt.Errorf("%w: table name and record id are required", ErrInvalidInput)
	}
	return s.store.Query(ctx, Filter{TableName: tableName, RecordID: recordID})
}

// QueryAuditLogs returns entries matching f, newest first. The limit
// defaults to 100 and is capped at 1000.
func (s *Service) QueryAuditLogs(ctx context.Context, f Filter) ([]Entry, error) {
	if f.Limit <= 0 {
		f.Limit = defaultQueryLimit
	} else if f.Limit > maxQueryLimit {
		f.Limit = maxQueryLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.store.Query(ctx, f)
}

// GetAuditSummary aggregates all stored entries.
func (s *Service) GetAuditSummary(ctx context.Context) (*Summary, error) {
	return s.store.Summary(ctx)
}

// CleanupAuditLogs deletes non-critical entries older than retentionDays
// and critical entries older than criticalRetentionDays, batchSize rows at
// a time. It returns the number of entries removed.
func (s *Service) CleanupAuditLogs(ctx context.Context, retentionDays, criticalRetentionDays, batchSize int) (int64, error) {
	if err := validateRetention(retentionDays, criticalRetentionDays, batchSize); err != nil {
		return 0, err
	}

	now := s.now().UTC()
	tiers := []struct {
		name     string
		critical bool
		cutoff   time.Time
	}{
		{"standard", false, now.AddDate(0, 0, -retentionDays)},
		{"critical", true, now.AddDate(0, 0, -criticalRetentionDays)},
	}

	var total int64
	for _, tier := range tiers {
		var deleted int64
		for {
			if err := ctx.Err(); err != nil {
				return total + deleted, err
			}
			n, err := s.store.DeleteBatch(ctx, tier.critical, tier.cutoff, batchSize)
			deleted += n
			if err != nil {
				metrics.RecordAuditCleanup(tier.name, deleted)
				return total + deleted, fmt.Errorf("delete %s audit entries: %w", tier.name, err)
			}
			if n < int64(batchSize) {
				break
			}
		}
		metrics.RecordAuditCleanup(tier.name, deleted)
		total += deleted
	}

	logging.Info().
		Int64("deleted", total).
		Int("retention_days", retentionDays).
		Int("critical_retention_days", criticalRetentionDays).
		Msg("Audit retention cleanup completed")
	return total, nil
}

// RunRetention applies the configured retention policy.
func (s *Service) RunRetention(ctx context.Context) error {
	_, err := s.CleanupAuditLogs(ctx, s.cfg.RetentionDays, s.cfg.CriticalRetentionDays, s.cfg.CleanupBatchSize)
	return err
}

// Config returns the effective settings.
func (s *Service) Config() Config {
	return s.cfg
}
