package services

import (
	"context"
	"errors"
	"fmt"
	"log"

	"h2s_notifier/models"
	"h2s_notifier/notify"
)

// Formatter renders one listing as message text.
type Formatter func(models.ListingRecord) (string, error)

// DispatchOptions describe where a batch is going.
type DispatchOptions struct {
	RunID   string
	GroupID string
	// SendImages posts the listing photos as an album when the channel
	// supports it.
	SendImages bool
}

// DispatchResult counts the outcome of one batch.
type DispatchResult struct {
	Sent   int
	Failed int
}

// Dispatcher delivers new listings to a chat. Every record is attempted
// independently; failures go to the reporter and never stop the batch.
type Dispatcher struct {
	reporter notify.Reporter
	format   Formatter
}

// NewDispatcher creates a Dispatcher using FormatMessage.
func NewDispatcher(reporter notify.Reporter) *Dispatcher {
	return &Dispatcher{reporter: reporter, format: FormatMessage}
}

// WithFormatter returns a copy of d that renders messages with f.
func (d *Dispatcher) WithFormatter(f Formatter) *Dispatcher {
	cp := *d
	cp.format = f
	return &cp
}

// NotifyAll sends one message per record in order.
func (d *Dispatcher) NotifyAll(ctx context.Context, ch notify.Channel, records []models.ListingRecord, opts DispatchOptions) DispatchResult {
	var result DispatchResult
	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			result.Failed += len(records) - i
			d.report(ctx, models.Report{
				Kind:    models.ReportDelivery,
				RunID:   opts.RunID,
				GroupID: opts.GroupID,
				Message: fmt.Sprintf("dispatch stopped with %d listings unsent", len(records)-i),
				Err:     err,
			})
			return result
		}

		text, err := d.render(rec)
		if err != nil {
			result.Failed++
			d.report(ctx, models.Report{
				Kind:     models.ReportFormatting,
				RunID:    opts.RunID,
				GroupID:  opts.GroupID,
				Identity: rec.Identity,
				Message:  "cannot format listing",
				Err:      err,
			})
			continue
		}

		if err := d.deliver(ctx, ch, rec, text, opts); err != nil {
			result.Failed++
			d.report(ctx, models.Report{
				Kind:     models.ReportDelivery,
				RunID:    opts.RunID,
				GroupID:  opts.GroupID,
				Identity: rec.Identity,
				Message:  "failed to send notification",
				Err:      err,
			})
			continue
		}

		result.Sent++
		log.Printf("[info] dispatcher: sent %s to group %s", rec.Identity, opts.GroupID)
	}
	return result
}

// render calls the formatter, turning a panic into a FormattingError.
func (d *Dispatcher) render(rec models.ListingRecord) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &FormattingError{Identity: rec.Identity, Field: "*", Err: fmt.Errorf("formatter panic: %v", r)}
		}
	}()
	text, err = d.format(rec)
	if err != nil {
		var fe *FormattingError
		if !errors.As(err, &fe) {
			err = &FormattingError{Identity: rec.Identity, Field: "*", Err: err}
		}
	}
	return text, err
}

func (d *Dispatcher) deliver(ctx context.Context, ch notify.Channel, rec models.ListingRecord, text string, opts DispatchOptions) error {
	if media, ok := ch.(notify.MediaChannel); ok && opts.SendImages && len(rec.Images) > 0 {
		res, err := media.SendMediaGroup(ctx, rec.Images, text)
		if err != nil || res.OK {
			return notify.CheckDelivery(rec.Identity, res, err)
		}
		// A rejected album usually means one image URL could not be fetched.
		log.Printf("[warn] dispatcher: album for %s rejected (%d %s), sending text only", rec.Identity, res.StatusCode, res.Description)
	}
	res, err := ch.Send(ctx, text)
	return notify.CheckDelivery(rec.Identity, res, err)
}

func (d *Dispatcher) report(ctx context.Context, r models.Report) {
	if d.reporter == nil {
		log.Printf("[%s] %s", r.Kind.Level(), r.Text())
		return
	}
	d.reporter.Report(ctx, r)
}
