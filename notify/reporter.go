package notify

import (
	"context"
	"log"
	"time"

	"h2s_notifier/models"
)

// Reporter receives operational reports. Implementations never fail the
// caller; their own problems are logged.
type Reporter interface {
	Report(ctx context.Context, r models.Report)
}

// LogReporter writes reports to the process log.
type LogReporter struct{}

func (LogReporter) Report(_ context.Context, r models.Report) {
	log.Printf("[%s] %s", r.Kind.Level(), r.Text())
}

// ChannelReporter posts reports to a debug chat.
type ChannelReporter struct {
	ch Channel
}

func NewChannelReporter(ch Channel) *ChannelReporter {
	return &ChannelReporter{ch: ch}
}

func (c *ChannelReporter) Report(ctx context.Context, r models.Report) {
	text := r.Text()
	if r.RunID != "" {
		text += "\nrun " + r.RunID
	}

	d, err := c.ch.Send(ctx, text)
	if err := CheckDelivery("debug report", d, err); err != nil {
		log.Printf("[error] debug channel: %v", err)
	}
}

// RunLogger is implemented by stores that keep a run_logs table.
type RunLogger interface {
	Log(ctx context.Context, r models.Report) error
}

// StoreReporter appends reports to the store's run log.
type StoreReporter struct {
	store RunLogger
}

func NewStoreReporter(store RunLogger) *StoreReporter {
	return &StoreReporter{store: store}
}

func (s *StoreReporter) Report(ctx context.Context, r models.Report) {
	if err := s.store.Log(ctx, r); err != nil {
		log.Printf("[error] run log: %v", err)
	}
}

// MultiReporter fans a report out to every sink in order.
type MultiReporter []Reporter

func (m MultiReporter) Report(ctx context.Context, r models.Report) {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	for _, rep := range m {
		if rep != nil {
			rep.Report(ctx, r)
		}
	}
}
