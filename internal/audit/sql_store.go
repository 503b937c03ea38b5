// Storegate - Request Security Gate for Commerce Admin APIs
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/storegate

package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2" // registers the "duckdb" driver
	"github.com/goccy/go-json"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver

	"github.com/tomtom215/storegate/internal/gateerr"
)

// Dialect selects placeholder and type syntax.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectDuckDB   Dialect = "duckdb"
)

func (d Dialect) driver() string {
	if d == DialectPostgres {
		return "pgx"
	}
	return "duckdb"
}

func (d Dialect) timestampType() string {
	if d == DialectPostgres {
		return "TIMESTAMPTZ"
	}
	return "TIMESTAMP"
}

const entryColumns = `id, sequence, ordinal, table_name, record_id, action,
	user_id, user_email, ip_address, user_agent, session_id, request_id,
	old_values, new_values, changed_fields, metadata, critical, created_at`

// SQLStore persists entries in the audit_logs table of a Postgres or
// DuckDB database.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLStore wraps an open database.
func NewSQLStore(db *sql.DB, dialect Dialect) (*SQLStore, error) {
	switch dialect {
	case DialectPostgres, DialectDuckDB:
	default:
		return nil, gateerr.Configf("audit: unsupported SQL dialect %q", dialect)
	}
	return &SQLStore{db: db, dialect: dialect}, nil
}

// OpenSQLStore opens dsn, verifies the connection and creates the schema.
// An empty DuckDB dsn opens an in-memory database.
func OpenSQLStore(ctx context.Context, dialect Dialect, dsn string) (*SQLStore, error) {
	if dialect == DialectPostgres && dsn == "" {
		return nil, gateerr.Configf("audit: postgres dsn is required")
	}
	store, err := NewSQLStore(nil, dialect)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(dialect.driver(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if dialect == DialectDuckDB {
		// An in-memory database lives as long as its only connection.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	store.db = db
	if err := store.CreateTable(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// CreateTable creates the audit_logs table and its indexes if missing.
func (s *SQLStore) CreateTable(ctx context.Context) error {
	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS audit_logs (
			id TEXT PRIMARY KEY,
			sequence BIGINT NOT NULL,
			ordinal INTEGER NOT NULL,
			table_name TEXT NOT NULL,
			record_id TEXT NOT NULL,
			action TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			user_email TEXT NOT NULL DEFAULT '',
			ip_address TEXT NOT NULL DEFAULT '',
			user_agent TEXT NOT NULL DEFAULT '',
			session_id TEXT NOT NULL DEFAULT '',
			request_id TEXT NOT NULL DEFAULT '',
			old_values TEXT,
			new_values TEXT,
			changed_fields TEXT NOT NULL,
			metadata TEXT,
			critical BOOLEAN NOT NULL DEFAULT FALSE,
			created_at %s NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_audit_logs_record ON audit_logs(table_name, record_id);
		CREATE INDEX IF NOT EXISTS idx_audit_logs_created ON audit_logs(created_at);
		CREATE INDEX IF NOT EXISTS idx_audit_logs_user ON audit_logs(user_id);
		CREATE INDEX IF NOT EXISTS idx_audit_logs_action ON audit_logs(action)
	`, s.dialect.timestampType())

	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create audit schema: %w", err)
		}
	}
	return nil
}

// args collects query parameters and renders dialect placeholders.
type args struct {
	dialect Dialect
	values  []any
}

func (a *args) add(v any) string {
	a.values = append(a.values, v)
	if a.dialect == DialectPostgres {
		return "$" + strconv.Itoa(len(a.values))
	}
	return "?"
}

func (a *args) in(column string, values []Action) string {
	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = a.add(string(v))
	}
	return fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ", "))
}

// Save inserts e. Re-inserting an entry after a timed-out attempt that
// actually committed is a no-op.
func (s *SQLStore) Save(ctx context.Context, e *Entry) error {
	oldValues, err := marshalNullable(e.OldValues)
	if err != nil {
		return err
	}
	newValues, err := marshalNullable(e.NewValues)
	if err != nil {
		return err
	}
	metadata, err := marshalNullable(e.Metadata)
	if err != nil {
		return err
	}
	changed := e.ChangedFields
	if changed == nil {
		changed = []string{}
	}
	changedJSON, err := json.Marshal(changed)
	if err != nil {
		return fmt.Errorf("marshal changed fields: %w", err)
	}

	a := &args{dialect: s.dialect}
	placeholders := []string{
		a.add(e.ID), a.add(int64(e.Sequence)), a.add(int64(e.Ordinal)),
		a.add(e.TableName), a.add(e.RecordID), a.add(string(e.Action)),
		a.add(e.UserID), a.add(e.UserEmail), a.add(e.IPAddress),
		a.add(e.UserAgent), a.add(e.SessionID), a.add(e.RequestID),
		a.add(oldValues), a.add(newValues), a.add(string(changedJSON)), a.add(metadata),
		a.add(e.Critical), a.add(e.Timestamp.UTC()),
	}
	query := fmt.Sprintf("INSERT INTO audit_logs (%s) VALUES (%s) ON CONFLICT (id) DO NOTHING",
		entryColumns, strings.Join(placeholders, ", "))

	if _, err := s.db.ExecContext(ctx, query, a.values...); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func marshalNullable(values map[string]any) (sql.NullString, error) {
	if values == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal values: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// Query returns matching entries newest first.
func (s *SQLStore) Query(ctx context.Context, f Filter) ([]Entry, error) {
	query, values := s.buildQuery(f)
	rows, err := s.db.QueryContext(ctx, query, values...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}

func (s *SQLStore) buildQuery(f Filter) (string, []any) {
	a := &args{dialect: s.dialect}
	conditions := []string{"1=1"}

	appendEq := func(column, value string) {
		if value != "" {
			conditions = append(conditions, column+" = "+a.add(value))
		}
	}
	appendEq("table_name", f.TableName)
	appendEq("record_id", f.RecordID)
	if len(f.Actions) > 0 {
		conditions = append(conditions, a.in("action", f.Actions))
	}
	appendEq("user_id", f.UserID)
	appendEq("ip_address", f.IPAddress)
	if f.StartTime != nil {
		conditions = append(conditions, "created_at >= "+a.add(f.StartTime.UTC()))
	}
	if f.EndTime != nil {
		conditions = append(conditions, "created_at <= "+a.add(f.EndTime.UTC()))
	}

	query := fmt.Sprintf("SELECT %s FROM audit_logs WHERE %s ORDER BY created_at DESC, sequence DESC, ordinal DESC",
		entryColumns, strings.Join(conditions, " AND "))
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	if f.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", f.Offset)
	}
	return query, a.values
}

func scanEntry(rows *sql.Rows) (*Entry, error) {
	var (
		e                          Entry
		sequence, ordinal          int64
		action                     string
		oldValues, newValues, meta sql.NullString
		changedFields              string
		createdAt                  time.Time
	)
	if err := rows.Scan(
		&e.ID, &sequence, &ordinal, &e.TableName, &e.RecordID, &action,
		&e.UserID, &e.UserEmail, &e.IPAddress, &e.UserAgent, &e.SessionID, &e.RequestID,
		&oldValues, &newValues, &changedFields, &meta, &e.Critical, &createdAt,
	); err != nil {
		return nil, fmt.Errorf("scan audit entry: %w", err)
	}

	e.Sequence = uint64(sequence)
	e.Ordinal = uint32(ordinal)
	e.Action = Action(action)
	e.Timestamp = createdAt.UTC()

	var err error
	if e.OldValues, err = unmarshalNullable(oldValues); err != nil {
		return nil, err
	}
	if e.NewValues, err = unmarshalNullable(newValues); err != nil {
		return nil, err
	}
	if e.Metadata, err = unmarshalNullable(meta); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(changedFields), &e.ChangedFields); err != nil {
		return nil, fmt.Errorf("unmarshal changed fields: %w", err)
	}
	return &e, nil
}

func unmarshalNullable(s sql.NullString) (map[string]any, error) {
	if !s.Valid {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(s.String), &out); err != nil {
		return nil, fmt.Errorf("unmarshal values: %w", err)
	}
	return out, nil
}

// Summary aggregates all entries.
func (s *SQLStore) Summary(ctx context.Context) (*Summary, error) {
	sum := &Summary{}

	var earliest, latest sql.NullTime
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), MIN(created_at), MAX(created_at) FROM audit_logs",
	).Scan(&sum.TotalRecords, &earliest, &latest)
	if err != nil {
		return nil, fmt.Errorf("summarize audit entries: %w", err)
	}
	if earliest.Valid {
		t := earliest.Time.UTC()
		sum.DateRange.Earliest = &t
	}
	if latest.Valid {
		t := latest.Time.UTC()
		sum.DateRange.Latest = &t
	}

	if sum.ActionCounts, err = s.countByColumn(ctx, "action"); err != nil {
		return nil, err
	}
	if sum.TableCounts, err = s.countByColumn(ctx, "table_name"); err != nil {
		return nil, err
	}
	if sum.UserCounts, err = s.countByColumn(ctx, "user_id"); err != nil {
		return nil, err
	}
	return sum, nil
}

// countByColumn groups by a fixed column name; column is never user input.
func (s *SQLStore) countByColumn(ctx context.Context, column string) (map[string]int64, error) {
	query := fmt.Sprintf("SELECT %s, COUNT(*) FROM audit_logs WHERE %s <> '' GROUP BY %s", column, column, column)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("count audit entries by %s: %w", column, err)
	}
	defer rows.Close()

	result := make(map[string]int64)
	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return nil, fmt.Errorf("scan %s count: %w", column, err)
		}
		result[key] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s counts: %w", column, err)
	}
	return result, nil
}

// DeleteBatch removes up to limit of the oldest entries matching critical
// and older than before.
func (s *SQLStore) DeleteBatch(ctx context.Context, critical bool, before time.Time, limit int) (int64, error) {
	a := &args{dialect: s.dialect}
	query := fmt.Sprintf(
		"DELETE FROM audit_logs WHERE id IN (SELECT id FROM audit_logs WHERE critical = %s AND created_at < %s ORDER BY created_at LIMIT %d)",
		a.add(critical), a.add(before.UTC()), limit)

	res, err := s.db.ExecContext(ctx, query, a.values...)
	if err != nil {
		return 0, fmt.Errorf("delete audit entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete audit entries: %w", err)
	}
	return n, nil
}

// Ping checks the database connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// OpenStore opens the store selected by cfg. The returned function
// releases it.
func OpenStore(ctx context.Context, cfg Config) (Store, func() error, error) {
	switch cfg.Store {
	case StoreMemory, "":
		return NewMemoryStore(cfg.MemoryMaxEntries), func() error { return nil }, nil
	case StorePostgres, StoreDuckDB:
		store, err := OpenSQLStore(ctx, Dialect(cfg.Store), cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	}
	return nil, nil, gateerr.Configf("audit: unknown store %q", cfg.Store)
}
