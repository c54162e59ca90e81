// Package storage defines the seen-entry persistence interface and its
// implementations.
package storage

import (
	"context"
	"time"

	"feedbell/internal/model"
)

// Store is the seen-entry store. Implementations must serialize concurrent
// IsSeen/Record calls for the same fingerprint so one logical entry cannot
// be notified twice within a cycle.
type Store interface {
	// IsSeen reports whether a record exists for the fingerprint. Purge
	// runs at the start of every cycle, so existence implies non-expired.
	IsSeen(ctx context.Context, fingerprint string) (bool, error)

	// Get returns the record for a fingerprint, or nil when none exists.
	Get(ctx context.Context, fingerprint string) (*model.SeenRecord, error)

	// Record upserts a single seen record. The first-seen timestamp of an
	// existing record is preserved and the notified flag may only go from
	// false to true, never back.
	Record(ctx context.Context, rec model.SeenRecord) error

	// RecordBatch upserts all records in one transaction, so a cycle's
	// outcome lands in the store completely or not at all.
	RecordBatch(ctx context.Context, recs []model.SeenRecord) error

	// Purge deletes every record first seen before now-window and returns
	// the number of records removed.
	Purge(ctx context.Context, now time.Time, window time.Duration) (int64, error)

	// Fresh reports whether the store was newly created this run.
	Fresh() bool

	Close() error
}
