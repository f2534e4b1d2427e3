// Package store persists consolidated member insights and the source-record
// processing log, with Postgres and SQLite backends.
package store

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/insights-cli/internal/model"
)

// ErrStorage marks a persistence failure. Callers treat it as a retryable
// per-batch failure: the batch's records stay unmarked and siblings continue.
var ErrStorage = eris.New("store: storage failure")

// wrapStorage tags err with ErrStorage so callers can branch with errors.Is
// while keeping the driver error in the chain.
func wrapStorage(err error, op string) error {
	if err == nil {
		return nil
	}
	return eris.Wrap(errors.Join(ErrStorage, err), op)
}

// Store persists versioned consolidated insights.
type Store interface {
	// GetLatest returns the is_latest version for a contact, or nil when the
	// contact has no consolidated record yet.
	GetLatest(ctx context.Context, contactID string) (*model.Insight, error)
	// CommitVersion atomically retires the prior latest version and inserts
	// the new one. The insight's Version and IsLatest must already be set.
	CommitVersion(ctx context.Context, insight *model.Insight) error
	// ListLatest returns the latest version per contact, newest first.
	ListLatest(ctx context.Context, limit int) ([]model.Insight, error)
	// History returns all versions for a contact, oldest first.
	History(ctx context.Context, contactID string) ([]model.Insight, error)

	Migrate(ctx context.Context) error
	Close() error
}

// SourceLog tracks source records and their processed state.
type SourceLog interface {
	// InsertRecords upserts source records, keyed by record_id. Re-inserting
	// a processed record does not reset its processed flag.
	InsertRecords(ctx context.Context, records []model.SourceRecord) (int64, error)
	// FetchBatch returns the unprocessed records for one batch key, ordered
	// by logged_at then record_id. An empty subtype selects the null subtype.
	FetchBatch(ctx context.Context, contactID, sourceType, subtype string) ([]model.SourceRecord, error)
	// MarkProcessed flags the given record ids as processed. Idempotent.
	MarkProcessed(ctx context.Context, recordIDs []string) error
	// PendingContacts lists contacts that still have unprocessed records.
	PendingContacts(ctx context.Context, limit int) ([]string, error)
}

// Backend is a storage backend serving both the insight store and the
// source log.
type Backend interface {
	Store
	SourceLog
}

// Open selects a backend by driver name ("postgres" or "sqlite").
func Open(ctx context.Context, driver, dsn string) (Backend, error) {
	switch driver {
	case "postgres":
		return NewPostgres(ctx, dsn, nil)
	case "sqlite":
		return NewSQLite(dsn)
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
}
