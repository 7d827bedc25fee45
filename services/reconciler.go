package services

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"h2s_notifier/lock"
	"h2s_notifier/models"
	"h2s_notifier/storage"
)

// Reconciliation is the state transition applied for one group.
type Reconciliation struct {
	GroupID string
	// New holds newly active records in snapshot order.
	New []models.ListingRecord
	// Vacated is the number of rows stamped inactive.
	Vacated int64
	// Duplicates lists identities that appeared more than once in the snapshot.
	Duplicates []string
}

// Reconciler turns a group snapshot into inserts and vacates against the
// listing store.
type Reconciler struct {
	store  storage.ListingStore
	locker lock.Locker
	now    func() time.Time
}

// NewReconciler creates a Reconciler. A nil locker falls back to an
// in-process keyed lock.
func NewReconciler(store storage.ListingStore, locker lock.Locker) *Reconciler {
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	return &Reconciler{
		store:  store,
		locker: locker,
		now:    time.Now,
	}
}

// Reconcile records the snapshot for groupID and returns the listings that
// were not active before. Vacate and insert commit together or not at all.
func (r *Reconciler) Reconcile(ctx context.Context, groupID string, snapshot []models.ListingRecord) (*Reconciliation, error) {
	records, duplicates := dedupe(snapshot)
	for i := range records {
		if records[i].GroupID == "" {
			records[i].GroupID = groupID
		} else if records[i].GroupID != groupID {
			return nil, fmt.Errorf("reconcile %s: record %s belongs to group %s", groupID, records[i].Identity, records[i].GroupID)
		}
	}
	if len(duplicates) > 0 {
		log.Printf("[warn] reconciler: group %s snapshot repeats %d identities: %v", groupID, len(duplicates), duplicates)
	}

	release, err := r.locker.Lock(ctx, "group:"+groupID)
	if err != nil {
		return nil, fmt.Errorf("reconcile %s: %w", groupID, err)
	}
	defer release()

	result := &Reconciliation{GroupID: groupID, Duplicates: duplicates}
	err = r.store.InGroupTx(ctx, groupID, func(tx storage.ListingTx) error {
		existing, err := tx.ActiveIdentities(ctx, groupID)
		if err != nil {
			return fmt.Errorf("active identities: %w", err)
		}

		incoming := make(map[string]struct{}, len(records))
		var toInsert []models.ListingRecord
		for _, rec := range records {
			incoming[rec.Identity] = struct{}{}
			if _, ok := existing[rec.Identity]; !ok {
				toInsert = append(toInsert, rec)
			}
		}

		var toVacate []string
		for id := range existing {
			if _, ok := incoming[id]; !ok {
				toVacate = append(toVacate, id)
			}
		}
		sort.Strings(toVacate)

		now := r.now()
		if len(toVacate) > 0 {
			n, err := tx.Vacate(ctx, groupID, toVacate, now)
			if err != nil {
				return err
			}
			result.Vacated = n
		}
		if len(toInsert) > 0 {
			if err := tx.InsertMany(ctx, toInsert, now); err != nil {
				return err
			}
		}
		result.New = toInsert
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reconcile %s: %w", groupID, err)
	}

	log.Printf("[info] reconciler: group %s: %d seen, %d new, %d vacated", groupID, len(records), len(result.New), result.Vacated)
	return result, nil
}

// dedupe drops records with an empty identity and collapses repeated
// identities. The last occurrence supplies the values; the first occurrence
// keeps its position. Each repeated identity is listed once.
func dedupe(snapshot []models.ListingRecord) ([]models.ListingRecord, []string) {
	index := make(map[string]int, len(snapshot))
	records := make([]models.ListingRecord, 0, len(snapshot))
	repeated := make(map[string]bool)
	var duplicates []string
	for _, rec := range snapshot {
		if rec.Identity == "" {
			log.Printf("[warn] reconciler: skipping record without identity")
			continue
		}
		if i, ok := index[rec.Identity]; ok {
			if !repeated[rec.Identity] {
				repeated[rec.Identity] = true
				duplicates = append(duplicates, rec.Identity)
			}
			records[i] = rec
			continue
		}
		index[rec.Identity] = len(records)
		records = append(records, rec)
	}
	return records, duplicates
}
