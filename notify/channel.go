// Package notify delivers messages to chat channels and routes operational
// reports to debug sinks.
package notify

import (
	"context"
	"fmt"
)

// Delivery is the channel's acknowledgement of one send.
type Delivery struct {
	OK          bool
	StatusCode  int
	Description string
	MessageID   int64
}

// Channel sends text messages. A transport failure is returned as an error;
// a rejected message comes back as a Delivery with OK false.
type Channel interface {
	Send(ctx context.Context, text string) (Delivery, error)
}

// MediaChannel can also post an album of image URLs with a caption.
type MediaChannel interface {
	Channel
	SendMediaGroup(ctx context.Context, images []string, caption string) (Delivery, error)
}

// DeliveryError describes a send that failed or was not acknowledged.
type DeliveryError struct {
	Identity    string
	StatusCode  int
	Description string
	Err         error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("deliver %s: %v", e.Identity, e.Err)
	}
	return fmt.Sprintf("deliver %s: status %d: %s", e.Identity, e.StatusCode, e.Description)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// CheckDelivery folds a send outcome into a single error, nil on success.
func CheckDelivery(identity string, d Delivery, err error) error {
	if err != nil {
		return &DeliveryError{Identity: identity, StatusCode: d.StatusCode, Err: err}
	}
	if !d.OK {
		return &DeliveryError{Identity: identity, StatusCode: d.StatusCode, Description: d.Description}
	}
	return nil
}
