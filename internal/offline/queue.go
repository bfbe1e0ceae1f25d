// Package offline is the device-local durable queue for sales that could not
// reach the ledger. Entries are append-only apart from the synced flag.
package offline

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"kasirinaja/ledger/internal/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var ErrNotFound = errors.New("queued submission not found")

const DefaultRetention = 7 * 24 * time.Hour

type Queue struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the queue database at path and applies migrations.
func Open(ctx context.Context, path string) (*Queue, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// one writer; concurrent drain and enqueue serialize on this connection
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Queue{db: db, now: time.Now}, nil
}

func runMigrations(db *sql.DB) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("could not open embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}
	// m.Close would close db as well, so the instance is left for the GC.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}
	return nil
}

func (q *Queue) Close() error {
	return q.db.Close()
}

// Enqueue durably records payload. Enqueueing the same reference twice keeps
// the first entry.
func (q *Queue) Enqueue(ctx context.Context, payload domain.SalePayload) (domain.QueuedSubmission, error) {
	if payload.Reference == "" {
		return domain.QueuedSubmission{}, fmt.Errorf("enqueue: payload reference required")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return domain.QueuedSubmission{}, fmt.Errorf("enqueue: encode payload: %w", err)
	}

	createdAt := q.now().UTC().Truncate(time.Millisecond)
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO queued_submissions (local_id, payload, created_at, synced)
		VALUES (?, ?, ?, 0)
		ON CONFLICT (local_id) DO NOTHING
	`, payload.Reference, string(raw), createdAt.UnixMilli())
	if err != nil {
		return domain.QueuedSubmission{}, fmt.Errorf("enqueue %s: %w", payload.Reference, err)
	}

	return q.Get(ctx, payload.Reference)
}

func (q *Queue) Get(ctx context.Context, localID string) (domain.QueuedSubmission, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT local_id, payload, created_at, synced
		FROM queued_submissions
		WHERE local_id = ?
	`, localID)
	entry, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.QueuedSubmission{}, ErrNotFound
	}
	return entry, err
}

// Pending lists unsynced entries oldest first.
func (q *Queue) Pending(ctx context.Context) ([]domain.QueuedSubmission, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT local_id, payload, created_at, synced
		FROM queued_submissions
		WHERE synced = 0
		ORDER BY created_at ASC, rowid ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.QueuedSubmission, 0, 16)
	for rows.Next() {
		entry, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (q *Queue) MarkSynced(ctx context.Context, localID string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE queued_submissions
		SET synced = 1
		WHERE local_id = ?
	`, localID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Purge deletes synced entries created before now-retention. Unsynced
// entries are never removed.
func (q *Queue) Purge(ctx context.Context, now time.Time, retention time.Duration) (int64, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	cutoff := now.UTC().Add(-retention).UnixMilli()
	res, err := q.db.ExecContext(ctx, `
		DELETE FROM queued_submissions
		WHERE synced = 1 AND created_at < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type Stats struct {
	Pending int
	Synced  int
}

func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := q.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN synced = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN synced = 1 THEN 1 ELSE 0 END), 0)
		FROM queued_submissions
	`).Scan(&stats.Pending, &stats.Synced)
	return stats, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row rowScanner) (domain.QueuedSubmission, error) {
	var (
		entry     domain.QueuedSubmission
		raw       string
		createdAt int64
		synced    int
	)
	if err := row.Scan(&entry.LocalID, &raw, &createdAt, &synced); err != nil {
		return domain.QueuedSubmission{}, err
	}
	if err := json.Unmarshal([]byte(raw), &entry.Payload); err != nil {
		return domain.QueuedSubmission{}, fmt.Errorf("decode payload %s: %w", entry.LocalID, err)
	}
	entry.CreatedAt = time.UnixMilli(createdAt).UTC()
	entry.Synced = synced != 0
	return entry, nil
}
