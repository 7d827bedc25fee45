package models

import "time"

type LogLevel string

const (
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// ReportKind classifies an operational report.
type ReportKind string

const (
	ReportUpstreamFetch    ReportKind = "upstream_fetch"
	ReportStorageIntegrity ReportKind = "storage_integrity"
	ReportStorage          ReportKind = "storage"
	ReportFormatting       ReportKind = "formatting"
	ReportDelivery         ReportKind = "delivery"
	ReportConfiguration    ReportKind = "configuration"
	ReportDuplicate        ReportKind = "duplicate_identity"
)

// Level returns the log level a report of this kind is recorded at.
func (k ReportKind) Level() LogLevel {
	if k == ReportDuplicate {
		return LogLevelWarn
	}
	return LogLevelError
}

// Report is an operational problem surfaced to the debug sinks.
type Report struct {
	Kind     ReportKind `json:"kind"`
	RunID    string     `json:"run_id,omitempty"`
	GroupID  string     `json:"group_id,omitempty"`
	Identity string     `json:"identity,omitempty"`
	Message  string     `json:"message"`
	Err      error      `json:"-"`
	At       time.Time  `json:"at"`
}

// Text renders the report as a single human-readable line.
func (r Report) Text() string {
	s := string(r.Kind)
	if r.GroupID != "" {
		s += " [" + r.GroupID + "]"
	}
	if r.Identity != "" {
		s += " " + r.Identity
	}
	s += ": " + r.Message
	if r.Err != nil {
		s += ": " + r.Err.Error()
	}
	return s
}

// RunLog is a stored report row.
type RunLog struct {
	ID        int64     `json:"id" db:"id"`
	RunID     string    `json:"run_id" db:"run_id"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
	Level     LogLevel  `json:"level" db:"level"`
	Kind      string    `json:"kind" db:"kind"`
	GroupID   string    `json:"group_id" db:"group_id"`
	Message   string    `json:"message" db:"message"`
}
