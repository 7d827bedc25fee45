package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"h2s_notifier/models"
	"h2s_notifier/storage"
)

func newTestStore(t *testing.T) *storage.SQLiteStore {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "houses.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func listing(identity string) models.ListingRecord {
	return models.ListingRecord{
		Identity:       identity,
		GroupID:        "25",
		Area:           "50",
		PriceIncluding: "1000",
		PriceExcluding: "900",
		AvailableFrom:  "2024-01-01",
		MaxOccupants:   "One",
		ContractType:   "1 year max",
		RoomCount:      "2",
	}
}

func identities(records []models.ListingRecord) []string {
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.Identity
	}
	return ids
}

func equalSet(got map[string]struct{}, want ...string) bool {
	if len(got) != len(want) {
		return false
	}
	for _, w := range want {
		if _, ok := got[w]; !ok {
			return false
		}
	}
	return true
}

func TestReconcileFirstSnapshot(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	r := NewReconciler(store, nil)

	res, err := r.Reconcile(ctx, "25", []models.ListingRecord{listing("a1")})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(res.New) != 1 || res.New[0].Identity != "a1" {
		t.Fatalf("expected a1 to be new, got %v", identities(res.New))
	}
	if res.Vacated != 0 {
		t.Fatalf("expected nothing vacated, got %d", res.Vacated)
	}

	active, err := store.ActiveIdentities(ctx, "25")
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if !equalSet(active, "a1") {
		t.Fatalf("expected {a1}, got %v", active)
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	ctx := context.Background()
	r := NewReconciler(newTestStore(t), nil)
	snapshot := []models.ListingRecord{listing("a1"), listing("a2"), listing("a3")}

	first, err := r.Reconcile(ctx, "25", snapshot)
	if err != nil {
		t.Fatalf("first reconcile: %v", err)
	}
	if len(first.New) != 3 {
		t.Fatalf("expected 3 new, got %d", len(first.New))
	}

	second, err := r.Reconcile(ctx, "25", snapshot)
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if len(second.New) != 0 || second.Vacated != 0 {
		t.Fatalf("expected no transition, got %d new %d vacated", len(second.New), second.Vacated)
	}
}

func TestReconcileVacatesMissing(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	r := NewReconciler(store, nil)

	if _, err := r.Reconcile(ctx, "25", []models.ListingRecord{listing("a1"), listing("a2")}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	res, err := r.Reconcile(ctx, "25", []models.ListingRecord{listing("a2")})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(res.New) != 0 {
		t.Fatalf("a2 was already active and must not be returned, got %v", identities(res.New))
	}
	if res.Vacated != 1 {
		t.Fatalf("expected 1 vacated, got %d", res.Vacated)
	}

	active, _ := store.ActiveIdentities(ctx, "25")
	if !equalSet(active, "a2") {
		t.Fatalf("expected {a2}, got %v", active)
	}
	history, err := store.History(ctx, "25", "a1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].VacatedAt == nil {
		t.Fatalf("expected a1 to be vacated, got %+v", history)
	}
}

func TestReconcileEmptySnapshotVacatesAll(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	r := NewReconciler(store, nil)

	if _, err := r.Reconcile(ctx, "25", []models.ListingRecord{listing("a1"), listing("a2")}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	res, err := r.Reconcile(ctx, "25", nil)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.Vacated != 2 {
		t.Fatalf("expected 2 vacated, got %d", res.Vacated)
	}
	active, _ := store.ActiveIdentities(ctx, "25")
	if len(active) != 0 {
		t.Fatalf("expected no active listings, got %v", active)
	}
}

func TestReconcileReappearanceIsNew(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	r := NewReconciler(store, nil)

	steps := [][]models.ListingRecord{
		{listing("x"), listing("y")},
		{listing("y")},
		{listing("x"), listing("y")},
	}
	var last *Reconciliation
	for i, snap := range steps {
		res, err := r.Reconcile(ctx, "25", snap)
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		last = res
	}

	if len(last.New) != 1 || last.New[0].Identity != "x" {
		t.Fatalf("expected x to be new again, got %v", identities(last.New))
	}
	history, err := store.History(ctx, "25", "x")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 rows for x, got %d", len(history))
	}
	if history[0].IsActive() || !history[1].IsActive() {
		t.Fatalf("expected old row vacated and new row active")
	}
}

func TestReconcileDeduplicatesSnapshot(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	r := NewReconciler(store, nil)

	first := listing("a1")
	second := listing("b1")
	dup := listing("a1")
	dup.PriceIncluding = "1100"

	res, err := r.Reconcile(ctx, "25", []models.ListingRecord{first, second, dup})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if got := identities(res.New); len(got) != 2 || got[0] != "a1" || got[1] != "b1" {
		t.Fatalf("expected [a1 b1], got %v", got)
	}
	if res.New[0].PriceIncluding != "1100" {
		t.Fatalf("expected last occurrence to win, got %s", res.New[0].PriceIncluding)
	}
	if len(res.Duplicates) != 1 || res.Duplicates[0] != "a1" {
		t.Fatalf("expected a1 reported as duplicate, got %v", res.Duplicates)
	}

	history, _ := store.History(ctx, "25", "a1")
	if len(history) != 1 {
		t.Fatalf("expected a single row for a1, got %d", len(history))
	}
}

func TestReconcileListsEachDuplicateOnce(t *testing.T) {
	r := NewReconciler(newTestStore(t), nil)

	third := listing("a1")
	third.Area = "60"
	snapshot := []models.ListingRecord{listing("a1"), listing("b1"), listing("a1"), third, listing("b1")}

	res, err := r.Reconcile(context.Background(), "25", snapshot)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(res.Duplicates) != 2 || res.Duplicates[0] != "a1" || res.Duplicates[1] != "b1" {
		t.Fatalf("expected [a1 b1] listed once each, got %v", res.Duplicates)
	}
	if len(res.New) != 2 || res.New[0].Area != "60" {
		t.Fatalf("unexpected new records %+v", res.New)
	}
}

func TestReconcilePreservesSnapshotOrder(t *testing.T) {
	r := NewReconciler(newTestStore(t), nil)
	snapshot := []models.ListingRecord{listing("c"), listing("a"), listing("b")}

	res, err := r.Reconcile(context.Background(), "25", snapshot)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	got := identities(res.New)
	for i, want := range []string{"c", "a", "b"} {
		if got[i] != want {
			t.Fatalf("expected order [c a b], got %v", got)
		}
	}
}

func TestReconcileFillsAndChecksGroup(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	r := NewReconciler(store, nil)

	rec := listing("a1")
	rec.GroupID = ""
	res, err := r.Reconcile(ctx, "24", []models.ListingRecord{rec})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if res.New[0].GroupID != "24" {
		t.Fatalf("expected group to be filled in, got %q", res.New[0].GroupID)
	}

	if _, err := r.Reconcile(ctx, "24", []models.ListingRecord{listing("b1")}); err == nil {
		t.Fatalf("expected error for record of another group")
	}
	active, _ := store.ActiveIdentities(ctx, "24")
	if !equalSet(active, "a1") {
		t.Fatalf("rejected snapshot must not change state, got %v", active)
	}
}

// failingInsertStore makes every in-transaction insert fail after the
// vacate has been applied.
type failingInsertStore struct {
	storage.ListingStore
}

func (s failingInsertStore) InGroupTx(ctx context.Context, groupID string, fn func(tx storage.ListingTx) error) error {
	return s.ListingStore.InGroupTx(ctx, groupID, func(tx storage.ListingTx) error {
		return fn(failingInsertTx{tx})
	})
}

type failingInsertTx struct {
	storage.ListingTx
}

func (failingInsertTx) InsertMany(context.Context, []models.ListingRecord, time.Time) error {
	return &storage.IntegrityError{Op: "insert", Err: errors.New("constraint failed")}
}

func TestReconcileRollsBackOnInsertFailure(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if _, err := NewReconciler(store, nil).Reconcile(ctx, "25", []models.ListingRecord{listing("a1"), listing("a2")}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	r := NewReconciler(failingInsertStore{store}, nil)
	_, err := r.Reconcile(ctx, "25", []models.ListingRecord{listing("a2"), listing("a3")})
	var integrity *storage.IntegrityError
	if !errors.As(err, &integrity) {
		t.Fatalf("expected IntegrityError, got %v", err)
	}

	active, _ := store.ActiveIdentities(ctx, "25")
	if !equalSet(active, "a1", "a2") {
		t.Fatalf("vacate of a1 must be rolled back, got %v", active)
	}
}

func TestReconcileConcurrentRunsInsertOnce(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	r := NewReconciler(store, nil)
	snapshot := []models.ListingRecord{listing("a1"), listing("a2")}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := r.Reconcile(ctx, "25", snapshot)
			if err != nil {
				t.Errorf("reconcile: %v", err)
				return
			}
			mu.Lock()
			total += len(res.New)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if total != 2 {
		t.Fatalf("expected each identity to be new exactly once, got %d", total)
	}
}
