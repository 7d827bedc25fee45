package models

import "time"

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusPartial   RunStatus = "partial"
	RunStatusFailed    RunStatus = "failed"
)

// Run records one pass over every configured group.
type Run struct {
	ID            string     `json:"id" db:"id"`
	StartedAt     time.Time  `json:"started_at" db:"started_at"`
	FinishedAt    *time.Time `json:"finished_at" db:"finished_at"`
	Status        RunStatus  `json:"status" db:"status"`
	Groups        int        `json:"groups" db:"group_count"`
	GroupsFailed  int        `json:"groups_failed" db:"groups_failed"`
	ListingsFound int        `json:"listings_found" db:"listings_found"`
	ListingsNew   int        `json:"listings_new" db:"listings_new"`
	Vacated       int        `json:"vacated" db:"vacated"`
	Notified      int        `json:"notified" db:"notified"`
	ErrorsCount   int        `json:"errors_count" db:"errors_count"`
}

// GroupResult is the outcome of reconciling and dispatching one group.
type GroupResult struct {
	GroupID  string
	Found    int
	New      int
	Vacated  int
	Notified int
	Errors   int
	Failed   bool
}

// Add folds a group result into the run totals.
func (r *Run) Add(g GroupResult) {
	r.Groups++
	r.ListingsFound += g.Found
	r.ListingsNew += g.New
	r.Vacated += g.Vacated
	r.Notified += g.Notified
	r.ErrorsCount += g.Errors
	if g.Failed {
		r.GroupsFailed++
	}
}

// Finish stamps the run and derives its status from the group outcomes.
func (r *Run) Finish(at time.Time) {
	r.FinishedAt = &at
	switch {
	case r.ErrorsCount == 0:
		r.Status = RunStatusCompleted
	case r.Groups > 0 && r.GroupsFailed == r.Groups:
		r.Status = RunStatusFailed
	default:
		r.Status = RunStatusPartial
	}
}
