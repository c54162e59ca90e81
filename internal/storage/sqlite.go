package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"feedbell/internal/model"
	"feedbell/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Store backed by a SQLite database.
type SQLite struct {
	db    *sql.DB
	mu    sync.Mutex
	fresh bool
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	// In-memory databases are a test convenience, not a first install.
	fresh := false
	if dsn != ":memory:" {
		if _, err := os.Stat(dsn); os.IsNotExist(err) {
			fresh = true
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db, fresh: fresh}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Fresh reports whether the database file was created this run.
func (s *SQLite) Fresh() bool {
	return s.fresh
}

// IsSeen checks whether an entry fingerprint has already been recorded.
func (s *SQLite) IsSeen(ctx context.Context, fingerprint string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM seen_entries WHERE fingerprint = ?`,
		fingerprint,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check seen: %w", err)
	}
	return count > 0, nil
}

// Get returns the record for a fingerprint, or nil when none exists.
func (s *SQLite) Get(ctx context.Context, fingerprint string) (*model.SeenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec model.SeenRecord
	var firstSeen string
	var notified int
	err := s.db.QueryRowContext(ctx,
		`SELECT fingerprint, feed_url, first_seen, notified
		 FROM seen_entries WHERE fingerprint = ?`, fingerprint,
	).Scan(&rec.Fingerprint, &rec.FeedURL, &firstSeen, &notified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get seen: %w", err)
	}
	rec.FirstSeen, _ = time.Parse(timeLayout, firstSeen)
	rec.Notified = notified == 1
	return &rec, nil
}

// Record upserts a single seen record.
func (s *SQLite) Record(ctx context.Context, rec model.SeenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := upsert(ctx, s.db, rec); err != nil {
		return fmt.Errorf("record seen: %w", err)
	}
	return nil
}

// RecordBatch upserts all records inside one transaction.
func (s *SQLite) RecordBatch(ctx context.Context, recs []model.SeenRecord) error {
	if len(recs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, rec := range recs {
		if err := upsert(ctx, tx, rec); err != nil {
			return fmt.Errorf("record seen %s: %w", rec.Fingerprint, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seen records: %w", err)
	}
	return nil
}

// Purge deletes records first seen before now-window.
func (s *SQLite) Purge(ctx context.Context, now time.Time, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-window).UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM seen_entries WHERE first_seen < ?`, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("purge seen: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge rows affected: %w", err)
	}
	return n, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// upsert keeps the existing first_seen and never reverts notified to 0.
func upsert(ctx context.Context, db execer, rec model.SeenRecord) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO seen_entries (fingerprint, feed_url, first_seen, notified)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(fingerprint) DO UPDATE SET
		   notified = MAX(seen_entries.notified, excluded.notified)`,
		rec.Fingerprint, rec.FeedURL, rec.FirstSeen.UTC().Format(timeLayout), boolToInt(rec.Notified),
	)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
