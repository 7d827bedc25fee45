package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"h2s_notifier/models"
)

type SQLiteStore struct {
	db *sql.DB
}

// sqliteQuerier is satisfied by both *sql.DB and *sql.Tx.
type sqliteQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// _txlock=immediate takes the write lock at BEGIN, so two reconciliations
	// can never both read the same active set before one of them writes.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS listings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		identity TEXT NOT NULL,
		group_id TEXT NOT NULL,
		area TEXT,
		price_excluding TEXT,
		price_including TEXT,
		available_from TEXT,
		max_occupants TEXT,
		contract_type TEXT,
		room_count TEXT,
		images JSON,
		first_seen_at DATETIME NOT NULL,
		vacated_at DATETIME DEFAULT NULL
	);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at DATETIME,
		finished_at DATETIME,
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
		id INTEGER PRIMARY KEY,
		run_id TEXT,
		timestamp DATETIME,
		level TEXT,
		kind TEXT,
		group_id TEXT,
		message TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_listings_identity ON listings(identity);
	CREATE INDEX IF NOT EXISTS idx_listings_group_active ON listings(group_id) WHERE vacated_at IS NULL;
	CREATE UNIQUE INDEX IF NOT EXISTS uq_listings_group_identity_active ON listings(group_id, identity) WHERE vacated_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_run_logs_run ON run_logs(run_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) InGroupTx(ctx context.Context, groupID string, fn func(tx ListingTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s: %w", groupID, err)
	}
	defer tx.Rollback()

	if err := fn(sqliteListings{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return classifySQLite("commit", err)
	}
	return nil
}

func (s *SQLiteStore) ActiveIdentities(ctx context.Context, groupID string) (map[string]struct{}, error) {
	return sqliteListings{q: s.db}.ActiveIdentities(ctx, groupID)
}

func (s *SQLiteStore) Vacate(ctx context.Context, groupID string, identities []string, at time.Time) (int64, error) {
	var n int64
	err := s.InGroupTx(ctx, groupID, func(tx ListingTx) error {
		var err error
		n, err = tx.Vacate(ctx, groupID, identities, at)
		return err
	})
	return n, err
}

func (s *SQLiteStore) InsertMany(ctx context.Context, records []models.ListingRecord, at time.Time) error {
	if len(records) == 0 {
		return nil
	}
	return s.InGroupTx(ctx, records[0].GroupID, func(tx ListingTx) error {
		return tx.InsertMany(ctx, records, at)
	})
}

func (s *SQLiteStore) History(ctx context.Context, groupID, identity string) ([]models.StoredListing, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, identity, group_id, area, price_excluding, price_including, available_from,
			max_occupants, contract_type, room_count, images, first_seen_at, vacated_at
		FROM listings WHERE group_id = ? AND identity = ? ORDER BY id`, groupID, identity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []models.StoredListing
	for rows.Next() {
		var l models.StoredListing
		var images sql.NullString
		var vacatedAt sql.NullTime
		if err := rows.Scan(&l.ID, &l.Identity, &l.GroupID, &l.Area, &l.PriceExcluding, &l.PriceIncluding,
			&l.AvailableFrom, &l.MaxOccupants, &l.ContractType, &l.RoomCount, &images,
			&l.FirstSeenAt, &vacatedAt); err != nil {
			return nil, err
		}
		if images.Valid && images.String != "" {
			if err := json.Unmarshal([]byte(images.String), &l.Images); err != nil {
				return nil, fmt.Errorf("decode images for %s: %w", l.Identity, err)
			}
		}
		if vacatedAt.Valid {
			t := vacatedAt.Time
			l.VacatedAt = &t
		}
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *models.Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, status) VALUES (?, ?, ?)`,
		run.ID, run.StartedAt, run.Status)
	return err
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run *models.Run) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE runs SET finished_at = ?, status = ?, group_count = ?, groups_failed = ?,
			listings_found = ?, listings_new = ?, vacated = ?, notified = ?, errors_count = ?
		WHERE id = ?`,
		run.FinishedAt, run.Status, run.Groups, run.GroupsFailed, run.ListingsFound,
		run.ListingsNew, run.Vacated, run.Notified, run.ErrorsCount, run.ID)
	return err
}

func (s *SQLiteStore) Log(ctx context.Context, r models.Report) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run_logs (run_id, timestamp, level, kind, group_id, message)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.RunID, reportTime(r), r.Kind.Level(), r.Kind, r.GroupID, r.Text())
	return err
}

// RunLogs returns the stored reports of a run in insertion order.
func (s *SQLiteStore) RunLogs(ctx context.Context, runID string) ([]models.RunLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, timestamp, level, kind, group_id, message
		FROM run_logs WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.RunLog
	for rows.Next() {
		var l models.RunLog
		if err := rows.Scan(&l.ID, &l.RunID, &l.Timestamp, &l.Level, &l.Kind, &l.GroupID, &l.Message); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// GetRun loads a run row, or nil if none exists.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*models.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, finished_at, status, group_count, groups_failed, listings_found,
			listings_new, vacated, notified, errors_count
		FROM runs WHERE id = ?`, id)

	var run models.Run
	var finishedAt sql.NullTime
	err := row.Scan(&run.ID, &run.StartedAt, &finishedAt, &run.Status, &run.Groups, &run.GroupsFailed,
		&run.ListingsFound, &run.ListingsNew, &run.Vacated, &run.Notified, &run.ErrorsCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	return &run, nil
}

type sqliteListings struct {
	q sqliteQuerier
}

func (l sqliteListings) ActiveIdentities(ctx context.Context, groupID string) (map[string]struct{}, error) {
	rows, err := l.q.QueryContext(ctx, `
		SELECT identity FROM listings WHERE group_id = ? AND vacated_at IS NULL`, groupID)
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

func (l sqliteListings) Vacate(ctx context.Context, groupID string, identities []string, at time.Time) (int64, error) {
	var total int64
	for _, part := range chunk(identities, vacateChunk) {
		args := make([]any, 0, len(part)+2)
		args = append(args, at, groupID)
		for _, id := range part {
			args = append(args, id)
		}

		query := `UPDATE listings SET vacated_at = ?
			WHERE group_id = ? AND vacated_at IS NULL AND identity IN (` + placeholders(len(part)) + `)`
		result, err := l.q.ExecContext(ctx, query, args...)
		if err != nil {
			return total, classifySQLite("vacate", err)
		}
		n, _ := result.RowsAffected()
		total += n
	}
	return total, nil
}

func (l sqliteListings) InsertMany(ctx context.Context, records []models.ListingRecord, at time.Time) error {
	if len(records) == 0 {
		return nil
	}

	stmt, err := l.q.PrepareContext(ctx, `
		INSERT INTO listings (identity, group_id, area, price_excluding, price_including, available_from,
			max_occupants, contract_type, room_count, images, first_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		images, err := encodeImages(r.Images)
		if err != nil {
			return fmt.Errorf("encode images for %s: %w", r.Identity, err)
		}
		if _, err := stmt.ExecContext(ctx, r.Identity, r.GroupID, r.Area, r.PriceExcluding, r.PriceIncluding,
			r.AvailableFrom, r.MaxOccupants, r.ContractType, r.RoomCount, images, at); err != nil {
			return classifySQLite("insert "+r.Identity, err)
		}
	}
	return nil
}

func classifySQLite(op string, err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return &IntegrityError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func encodeImages(images []string) (any, error) {
	if len(images) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(images)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func reportTime(r models.Report) time.Time {
	if r.At.IsZero() {
		return time.Now()
	}
	return r.At
}
