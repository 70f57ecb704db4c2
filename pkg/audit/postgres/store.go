// Package postgres provides PostgreSQL storage for audit events.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/owenisas/please-touch-grass/pkg/audit"
)

const (
	defaultRetentionDays = 90
	defaultQueryCapacity = 100
	maxQueryCapacity     = 10000

	tableName = "auth_events"
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// eventColumns lists columns in insert and scan order.
var eventColumns = []string{
	"id", "timestamp", "event_type", "request_id", "session_id",
	"username", "success", "error_code", "error_message",
}

// Store implements audit.Logger using PostgreSQL.
type Store struct {
	db            *sql.DB
	retentionDays int
	now           func() time.Time
	cancel        context.CancelFunc
	done          chan struct{}
}

// Config configures the PostgreSQL audit store.
type Config struct {
	RetentionDays int
}

// New creates a new PostgreSQL audit store.
func New(db *sql.DB, cfg Config) *Store {
	if cfg.RetentionDays == 0 {
		cfg.RetentionDays = defaultRetentionDays
	}
	return &Store{
		db:            db,
		retentionDays: cfg.RetentionDays,
		now:           time.Now,
	}
}

// Log records an audit event.
func (s *Store) Log(ctx context.Context, event audit.Event) error {
	query, args, err := psq.Insert(tableName).
		Columns(eventColumns...).
		Values(
			event.ID,
			event.Timestamp,
			string(event.Type),
			event.RequestID,
			event.SessionID,
			event.Username,
			event.Success,
			event.ErrorCode,
			event.ErrorMessage,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("building audit insert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting audit event: %w", err)
	}
	return nil
}

// applyFilter adds filter conditions to a SELECT builder.
func applyFilter(qb sq.SelectBuilder, filter audit.QueryFilter) sq.SelectBuilder {
	if filter.StartTime != nil {
		qb = qb.Where(sq.GtOrEq{"timestamp": *filter.StartTime})
	}
	if filter.EndTime != nil {
		qb = qb.Where(sq.LtOrEq{"timestamp": *filter.EndTime})
	}
	if filter.Username != "" {
		qb = qb.Where(sq.Eq{"username": filter.Username})
	}
	if filter.Type != "" {
		qb = qb.Where(sq.Eq{"event_type": string(filter.Type)})
	}
	if filter.Success != nil {
		qb = qb.Where(sq.Eq{"success": *filter.Success})
	}
	return qb
}

// Query retrieves audit events matching the filter, newest first.
func (s *Store) Query(ctx context.Context, filter audit.QueryFilter) ([]audit.Event, error) {
	qb := applyFilter(psq.Select(eventColumns...).From(tableName), filter)
	qb = qb.OrderBy("timestamp DESC")
	if filter.Limit > 0 {
		qb = qb.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		qb = qb.Offset(uint64(filter.Offset))
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building audit query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	allocCap := defaultQueryCapacity
	if filter.Limit > 0 && filter.Limit <= maxQueryCapacity {
		allocCap = filter.Limit
	}
	events := make([]audit.Event, 0, allocCap)

	for rows.Next() {
		var event audit.Event
		var eventType string
		if err := rows.Scan(
			&event.ID,
			&event.Timestamp,
			&eventType,
			&event.RequestID,
			&event.SessionID,
			&event.Username,
			&event.Success,
			&event.ErrorCode,
			&event.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("scanning audit event row: %w", err)
		}
		event.Type = audit.EventType(eventType)
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit event rows: %w", err)
	}

	return events, nil
}

// Ping reports whether the database is reachable and the events table can
// be read.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("pinging audit database: %w", err)
	}

	query, args, err := psq.Select("1").From(tableName).Limit(1).ToSql()
	if err != nil {
		return fmt.Errorf("building probe query: %w", err)
	}
	var one int
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("reading %s: %w", tableName, err)
	}
	return nil
}

// Close cancels the cleanup goroutine and waits for it to exit.
// It is safe to call Close even if StartCleanupRoutine was never called.
func (s *Store) Close() error {
	if s.cancel != nil {
		s.cancel()
		<-s.done
		s.cancel = nil
	}
	return nil
}

// Cleanup removes audit events older than the retention period.
func (s *Store) Cleanup(ctx context.Context) (int64, error) {
	cutoff := s.now().AddDate(0, 0, -s.retentionDays)

	query, args, err := psq.Delete(tableName).Where(sq.Lt{"timestamp": cutoff}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("building audit cleanup: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("cleaning up audit events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading cleanup result: %w", err)
	}
	return n, nil
}

// StartCleanupRoutine starts a background goroutine that periodically deletes
// old audit events. The goroutine is stopped when Close is called.
func (s *Store) StartCleanupRoutine(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := s.Cleanup(ctx)
				if err != nil {
					slog.Warn("audit: retention cleanup failed", "error", err)
					continue
				}
				if n > 0 {
					slog.Debug("audit: retention cleanup", "deleted", n)
				}
			}
		}
	}()
}

// Verify interface compliance.
var _ audit.Logger = (*Store)(nil)
