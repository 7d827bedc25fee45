package models

import (
	"errors"
	"sort"
	"strings"
	"testing"
	"time"
)

func TestCodeTables(t *testing.T) {
	if got := Cities.Label("25"); got != "Rotterdam" {
		t.Fatalf("expected Rotterdam, got %s", got)
	}
	if got := RoomTypes.Label(" 104 "); got != "Studio" {
		t.Fatalf("expected codes to be trimmed, got %s", got)
	}
	if got := ContractTypes.Label("nope"); got != UnknownLabel {
		t.Fatalf("expected fallback label, got %s", got)
	}
	if _, ok := OccupancyTypes.Lookup("22"); !ok {
		t.Fatalf("expected occupancy code 22 to be known")
	}

	if err := Cities.Validate("24", "25"); err != nil {
		t.Fatalf("validate known cities: %v", err)
	}
	err := Cities.Validate("24", "1234")
	if err == nil || !strings.Contains(err.Error(), `unknown city code "1234"`) {
		t.Fatalf("expected unknown city error, got %v", err)
	}

	codes := Cities.Codes()
	if len(codes) != 23 || !sort.StringsAreSorted(codes) {
		t.Fatalf("expected 23 sorted city codes, got %v", codes)
	}
}

func TestRunFinish(t *testing.T) {
	tests := []struct {
		name    string
		results []GroupResult
		want    RunStatus
	}{
		{"clean", []GroupResult{{Found: 2, New: 1}, {Found: 1}}, RunStatusCompleted},
		{"one group failed", []GroupResult{{Errors: 1, Failed: true}, {Found: 1}}, RunStatusPartial},
		{"delivery errors only", []GroupResult{{Found: 1, New: 1, Errors: 1}}, RunStatusPartial},
		{"every group failed", []GroupResult{{Errors: 1, Failed: true}, {Errors: 1, Failed: true}}, RunStatusFailed},
		{"no groups", nil, RunStatusCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := &Run{ID: "r", Status: RunStatusRunning}
			for _, g := range tt.results {
				run.Add(g)
			}
			run.Finish(time.Now())
			if run.Status != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, run.Status)
			}
			if run.FinishedAt == nil || run.Groups != len(tt.results) {
				t.Fatalf("unexpected run %+v", run)
			}
		})
	}
}

func TestReportText(t *testing.T) {
	r := Report{
		Kind:     ReportFormatting,
		GroupID:  "25",
		Identity: "a1",
		Message:  "cannot format listing",
		Err:      errors.New("bad area"),
	}
	if got := r.Text(); got != "formatting [25] a1: cannot format listing: bad area" {
		t.Fatalf("unexpected text %q", got)
	}
	if ReportDuplicate.Level() != LogLevelWarn || ReportDelivery.Level() != LogLevelError {
		t.Fatalf("unexpected levels")
	}
}
