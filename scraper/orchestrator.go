package scraper

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"h2s_notifier/lock"
	"h2s_notifier/models"
	"h2s_notifier/notify"
	"h2s_notifier/services"
	"h2s_notifier/storage"
)

// Subscription is one notification group: a chat and the cities it follows.
type Subscription struct {
	Name       string
	Cities     []string
	Channel    notify.Channel
	SendImages bool
}

// Orchestrator runs fetch, reconcile and dispatch for every subscribed city.
type Orchestrator struct {
	source      Source
	store       storage.Store
	reconciler  *services.Reconciler
	dispatcher  *services.Dispatcher
	reporter    notify.Reporter
	subs        []Subscription
	concurrency int
	now         func() time.Time
}

func NewOrchestrator(source Source, store storage.Store, locker lock.Locker, reporter notify.Reporter, subs []Subscription) *Orchestrator {
	if reporter == nil {
		reporter = notify.LogReporter{}
	}
	return &Orchestrator{
		source:      source,
		store:       store,
		reconciler:  services.NewReconciler(store, locker),
		dispatcher:  services.NewDispatcher(reporter),
		reporter:    reporter,
		subs:        subs,
		concurrency: 1,
		now:         time.Now,
	}
}

// SetConcurrency bounds how many cities are processed at once.
func (o *Orchestrator) SetConcurrency(n int) {
	if n < 1 {
		n = 1
	}
	o.concurrency = n
}

// Cities returns every subscribed city once, in subscription order.
func (o *Orchestrator) Cities() []string {
	seen := make(map[string]struct{})
	var cities []string
	for _, sub := range o.subs {
		for _, c := range sub.Cities {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			cities = append(cities, c)
		}
	}
	return cities
}

func (o *Orchestrator) subscribers(city string) []Subscription {
	var out []Subscription
	for _, sub := range o.subs {
		for _, c := range sub.Cities {
			if c == city {
				out = append(out, sub)
				break
			}
		}
	}
	return out
}

// RunAll processes every city once. Failures are reported per city and
// never abort the run; the returned error is only set when ctx ends the run.
func (o *Orchestrator) RunAll(ctx context.Context) (*models.Run, error) {
	run := &models.Run{
		ID:        uuid.NewString(),
		StartedAt: o.now(),
		Status:    models.RunStatusRunning,
	}
	if err := o.store.CreateRun(ctx, run); err != nil {
		log.Printf("[error] orchestrator: create run %s: %v", run.ID, err)
	}

	cities := o.Cities()
	log.Printf("[info] orchestrator: run %s: %d cities", run.ID, len(cities))

	results := make([]models.GroupResult, len(cities))
	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for i, city := range cities {
		g.Go(func() error {
			results[i] = o.runCity(ctx, run.ID, city)
			return nil
		})
	}
	g.Wait()

	for _, res := range results {
		run.Add(res)
	}
	run.Finish(o.now())

	// The run row is written even when ctx was cancelled mid-run.
	updateCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := o.store.UpdateRun(updateCtx, run); err != nil {
		log.Printf("[error] orchestrator: update run %s: %v", run.ID, err)
	}

	log.Printf("[info] orchestrator: run %s %s: %d found, %d new, %d vacated, %d notified, %d errors",
		run.ID, run.Status, run.ListingsFound, run.ListingsNew, run.Vacated, run.Notified, run.ErrorsCount)
	return run, ctx.Err()
}

func (o *Orchestrator) runCity(ctx context.Context, runID, city string) (res models.GroupResult) {
	res.GroupID = city
	defer func() {
		if r := recover(); r != nil {
			res.Failed = true
			res.Errors++
			o.report(ctx, models.Report{
				Kind:    models.ReportStorage,
				RunID:   runID,
				GroupID: city,
				Message: "city processing panicked",
				Err:     fmt.Errorf("%v", r),
			})
		}
	}()

	records, err := o.source.Fetch(ctx, city)
	if err != nil {
		res.Failed = true
		res.Errors++
		o.report(ctx, models.Report{
			Kind:    models.ReportUpstreamFetch,
			RunID:   runID,
			GroupID: city,
			Message: "snapshot unavailable, city skipped",
			Err:     err,
		})
		return res
	}
	res.Found = len(records)

	rec, err := o.reconciler.Reconcile(ctx, city, records)
	if err != nil {
		kind := models.ReportStorage
		var integrity *storage.IntegrityError
		if errors.As(err, &integrity) {
			kind = models.ReportStorageIntegrity
		}
		res.Failed = true
		res.Errors++
		o.report(ctx, models.Report{
			Kind:    kind,
			RunID:   runID,
			GroupID: city,
			Message: "reconciliation rolled back",
			Err:     err,
		})
		return res
	}
	res.New = len(rec.New)
	res.Vacated = int(rec.Vacated)

	for _, id := range rec.Duplicates {
		o.report(ctx, models.Report{
			Kind:     models.ReportDuplicate,
			RunID:    runID,
			GroupID:  city,
			Identity: id,
			Message:  "identity repeated in snapshot, last occurrence kept",
		})
	}

	if len(rec.New) == 0 {
		return res
	}
	for _, sub := range o.subscribers(city) {
		out := o.dispatcher.NotifyAll(ctx, sub.Channel, rec.New, services.DispatchOptions{
			RunID:      runID,
			GroupID:    city,
			SendImages: sub.SendImages,
		})
		log.Printf("[info] orchestrator: %s -> %s: %d sent, %d failed", city, sub.Name, out.Sent, out.Failed)
		res.Notified += out.Sent
		res.Errors += out.Failed
	}
	return res
}

func (o *Orchestrator) report(ctx context.Context, r models.Report) {
	o.reporter.Report(ctx, r)
}
