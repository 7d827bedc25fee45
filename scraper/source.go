package scraper

import (
	"context"
	"fmt"
	"net/http"

	"h2s_notifier/models"
)

// Source returns the full snapshot of one group.
type Source interface {
	ID() string
	Fetch(ctx context.Context, groupID string) ([]models.ListingRecord, error)
}

// FetchError is returned when a snapshot cannot be obtained. No records are
// returned alongside it, so a failed fetch is never mistaken for an empty
// catalog.
type FetchError struct {
	Source     string
	GroupID    string
	Page       int
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("%s: fetch group %s page %d", e.Source, e.GroupID, e.Page)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Temporary reports whether retrying the same request may succeed.
func (e *FetchError) Temporary() bool {
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	}
	return false
}
