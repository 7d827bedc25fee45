package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"h2s_notifier/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

// pgQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 1
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS listings (
		id BIGSERIAL PRIMARY KEY,
		identity TEXT NOT NULL,
		group_id TEXT NOT NULL,
		area TEXT,
		price_excluding TEXT,
		price_including TEXT,
		available_from TEXT,
		max_occupants TEXT,
		contract_type TEXT,
		room_count TEXT,
		images JSONB,
		first_seen_at TIMESTAMPTZ NOT NULL,
		vacated_at TIMESTAMPTZ
	);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at TIMESTAMPTZ,
		finished_at TIMESTAMPTZ,
		status TEXT,
		group_count INTEGER DEFAULT 0,
		groups_failed INTEGER DEFAULT 0,
		listings_found INTEGER DEFAULT 0,
		listings_new INTEGER DEFAULT 0,
		vacated INTEGER DEFAULT 0,
		notified INTEGER DEFAULT 0,
		errors_count INTEGER DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS run_logs (
		id BIGSERIAL PRIMARY KEY,
		run_id TEXT,
		timestamp TIMESTAMPTZ,
		level TEXT,
		kind TEXT,
		group_id TEXT,
		message TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_listings_identity ON listings(identity);
	CREATE INDEX IF NOT EXISTS idx_listings_group_active ON listings(group_id) WHERE vacated_at IS NULL;
	CREATE UNIQUE INDEX IF NOT EXISTS uq_listings_group_identity_active ON listings(group_id, identity) WHERE vacated_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_run_logs_run ON run_logs(run_id, timestamp);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// =============================================================================
// Listings
// =============================================================================

// InGroupTx holds a transaction-scoped advisory lock keyed by the group, so
// overlapping processes reconciling the same group queue up behind each other.
func (s *PostgresStore) InGroupTx(ctx context.Context, groupID string, fn func(tx ListingTx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin %s: %w", groupID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, advisoryKey(groupID)); err != nil {
		return fmt.Errorf("lock %s: %w", groupID, err)
	}

	if err := fn(pgListings{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return classifyPostgres("commit", err)
	}
	return nil
}

func (s *PostgresStore) ActiveIdentities(ctx context.Context, groupID string) (map[string]struct{}, error) {
	return pgListings{q: s.pool}.ActiveIdentities(ctx, groupID)
}

func (s *PostgresStore) Vacate(ctx context.Context, groupID string, identities []string, at time.Time) (int64, error) {
	return pgListings{q: s.pool}.Vacate(ctx, groupID, identities, at)
}

func (s *PostgresStore) InsertMany(ctx context.Context, records []models.ListingRecord, at time.Time) error {
	if len(records) == 0 {
		return nil
	}
	return s.InGroupTx(ctx, records[0].GroupID, func(tx ListingTx) error {
		return tx.InsertMany(ctx, records, at)
	})
}

func (s *PostgresStore) History(ctx context.Context, groupID, identity string) ([]models.StoredListing, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, identity, group_id, area, price_excluding, price_including, available_from,
			max_occupants, contract_type, room_count, images, first_seen_at, vacated_at
		FROM listings WHERE group_id = $1 AND identity = $2 ORDER BY id`, groupID, identity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []models.StoredListing
	for rows.Next() {
		var l models.StoredListing
		var images []byte
		if err := rows.Scan(&l.ID, &l.Identity, &l.GroupID, &l.Area, &l.PriceExcluding, &l.PriceIncluding,
			&l.AvailableFrom, &l.MaxOccupants, &l.ContractType, &l.RoomCount, &images,
			&l.FirstSeenAt, &l.VacatedAt); err != nil {
			return nil, err
		}
		if len(images) > 0 {
			if err := json.Unmarshal(images, &l.Images); err != nil {
				return nil, fmt.Errorf("decode images for %s: %w", l.Identity, err)
			}
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

// =============================================================================
// Runs
// =============================================================================

func (s *PostgresStore) CreateRun(ctx context.Context, run *models.Run) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO runs (id, started_at, status) VALUES ($1, $2, $3)`,
		run.ID, run.StartedAt, string(run.Status))
	return err
}

func (s *PostgresStore) UpdateRun(ctx context.Context, run *models.Run) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE runs SET finished_at = $1, status = $2, group_count = $3, groups_failed = $4,
			listings_found = $5, listings_new = $6, vacated = $7, notified = $8, errors_count = $9
		WHERE id = $10`,
		run.FinishedAt, string(run.Status), run.Groups, run.GroupsFailed, run.ListingsFound,
		run.ListingsNew, run.Vacated, run.Notified, run.ErrorsCount, run.ID)
	return err
}

func (s *PostgresStore) Log(ctx context.Context, r models.Report) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO run_logs (run_id, timestamp, level, kind, group_id, message)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		r.RunID, reportTime(r), string(r.Kind.Level()), string(r.Kind), r.GroupID, r.Text())
	return err
}

type pgListings struct {
	q pgQuerier
}

func (l pgListings) ActiveIdentities(ctx context.Context, groupID string) (map[string]struct{}, error) {
	rows, err := l.q.Query(ctx, `
		SELECT identity FROM listings WHERE group_id = $1 AND vacated_at IS NULL`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

func (l pgListings) Vacate(ctx context.Context, groupID string, identities []string, at time.Time) (int64, error) {
	if len(identities) == 0 {
		return 0, nil
	}
	tag, err := l.q.Exec(ctx, `
		UPDATE listings SET vacated_at = $1
		WHERE group_id = $2 AND vacated_at IS NULL AND identity = ANY($3)`,
		at, groupID, identities)
	if err != nil {
		return 0, classifyPostgres("vacate", err)
	}
	return tag.RowsAffected(), nil
}

func (l pgListings) InsertMany(ctx context.Context, records []models.ListingRecord, at time.Time) error {
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, r := range records {
		var images []byte
		if len(r.Images) > 0 {
			data, err := json.Marshal(r.Images)
			if err != nil {
				return fmt.Errorf("encode images for %s: %w", r.Identity, err)
			}
			images = data
		}
		batch.Queue(`
			INSERT INTO listings (identity, group_id, area, price_excluding, price_including, available_from,
				max_occupants, contract_type, room_count, images, first_seen_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			r.Identity, r.GroupID, r.Area, r.PriceExcluding, r.PriceIncluding, r.AvailableFrom,
			r.MaxOccupants, r.ContractType, r.RoomCount, images, at)
	}

	results := l.q.SendBatch(ctx, batch)
	for _, r := range records {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return classifyPostgres("insert "+r.Identity, err)
		}
	}
	return results.Close()
}

func classifyPostgres(op string, err error) error {
	var pgErr *pgconn.PgError
	// SQLSTATE class 23 is integrity_constraint_violation.
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "23") {
		return &IntegrityError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func advisoryKey(groupID string) int64 {
	h := fnv.New64a()
	h.Write([]byte("listings:" + groupID))
	return int64(h.Sum64())
}
