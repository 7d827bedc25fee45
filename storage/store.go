package storage

import (
	"context"
	"fmt"
	"time"

	"h2s_notifier/models"
)

// ListingTx is the set of listing operations available inside one
// reconciliation step. Implementations run every call on the same
// transaction.
type ListingTx interface {
	// ActiveIdentities returns identities of every group row with no vacate
	// timestamp.
	ActiveIdentities(ctx context.Context, groupID string) (map[string]struct{}, error)
	// Vacate stamps active rows of groupID whose identity is listed. Already
	// vacated rows are left alone.
	Vacate(ctx context.Context, groupID string, identities []string, at time.Time) (int64, error)
	// InsertMany appends one active row per record, first seen at at.
	InsertMany(ctx context.Context, records []models.ListingRecord, at time.Time) error
}

// ListingStore is a durable listing table.
type ListingStore interface {
	ListingTx

	// InGroupTx runs fn in a single transaction that is serialized against
	// other transactions for the same group. The transaction commits only
	// when fn returns nil.
	InGroupTx(ctx context.Context, groupID string, fn func(tx ListingTx) error) error

	// History returns every row ever stored for an identity, oldest first.
	History(ctx context.Context, groupID, identity string) ([]models.StoredListing, error)

	Close() error
}

// RunRecorder keeps run bookkeeping and operational reports.
type RunRecorder interface {
	CreateRun(ctx context.Context, run *models.Run) error
	UpdateRun(ctx context.Context, run *models.Run) error
	Log(ctx context.Context, r models.Report) error
}

// Store is what a backend provides to the rest of the program.
type Store interface {
	ListingStore
	RunRecorder
}

// IntegrityError is returned when the database rejects a row because of a
// constraint.
type IntegrityError struct {
	Op  string
	Err error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s: integrity violation: %v", e.Op, e.Err)
}

func (e *IntegrityError) Unwrap() error {
	return e.Err
}

// Open returns the backend named by driver.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "", "sqlite", "sqlite3":
		return NewSQLiteStore(dsn)
	case "postgres", "postgresql", "pgx":
		return NewPostgresStore(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown store driver: %s", driver)
	}
}

// vacateChunk bounds the number of identities bound in one statement.
const vacateChunk = 500

func chunk(ids []string, size int) [][]string {
	var out [][]string
	for len(ids) > size {
		out = append(out, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}
