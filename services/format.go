package services

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"h2s_notifier/models"
)

const listingBaseURL = "https://holland2stay.com/residences/"

var errNotPositive = errors.New("must be greater than zero")

// FormattingError is returned when a record cannot be rendered as a message.
type FormattingError struct {
	Identity string
	Field    string
	Value    string
	Err      error
}

func (e *FormattingError) Error() string {
	return fmt.Sprintf("format %s: field %s %q: %v", e.Identity, e.Field, e.Value, e.Err)
}

func (e *FormattingError) Unwrap() error {
	return e.Err
}

// ListingURL returns the public page of a listing.
func ListingURL(identity string) string {
	return listingBaseURL + identity + ".html"
}

// CityTag renders a city code as a chat hashtag.
func CityTag(code string) string {
	return "#" + strings.ReplaceAll(models.Cities.Label(code), " ", "_")
}

// FormatMessage renders the notification text for one listing. Numeric
// fields are parsed before any arithmetic; an unparseable or non-positive
// value is a FormattingError.
func FormatMessage(rec models.ListingRecord) (string, error) {
	area, err := numericField(rec, "area", rec.Area)
	if err != nil {
		return "", err
	}
	if area <= 0 {
		return "", &FormattingError{Identity: rec.Identity, Field: "area", Value: rec.Area, Err: errNotPositive}
	}
	inc, err := numericField(rec, "price_including", rec.PriceIncluding)
	if err != nil {
		return "", err
	}
	exc, err := numericField(rec, "price_excluding", rec.PriceExcluding)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "New house in %s!\n", CityTag(rec.GroupID))
	fmt.Fprintf(&b, "%s\n\n", ListingURL(rec.Identity))
	fmt.Fprintf(&b, "Living area: %sm²\n", strconv.FormatFloat(area, 'f', -1, 64))
	fmt.Fprintf(&b, "Price: %s€ (excl. %s€ basic rent)\n", groupThousands(inc), groupThousands(exc))
	fmt.Fprintf(&b, "Price per meter: %.2f €/m²\n\n", inc/area)
	fmt.Fprintf(&b, "Available from: %s\n", rec.AvailableFrom)
	fmt.Fprintf(&b, "Bedrooms: %s\n", rec.RoomCount)
	fmt.Fprintf(&b, "Max occupancy: %s\n", rec.MaxOccupants)
	fmt.Fprintf(&b, "Contract type: %s\n", rec.ContractType)
	if offer := strings.TrimSpace(rec.Offer); offer != "" {
		fmt.Fprintf(&b, "Offer: %s\n", offer)
	}
	b.WriteString("\nSee details and apply on Holland2Stay website.")
	return b.String(), nil
}

func numericField(rec models.ListingRecord, field, value string) (float64, error) {
	v, err := ParseAmount(value)
	if err != nil {
		return 0, &FormattingError{Identity: rec.Identity, Field: field, Value: value, Err: err}
	}
	return v, nil
}

// ParseAmount reads a source-locale number. A comma is a decimal separator
// unless a dot follows it, in which case the comma groups thousands.
func ParseAmount(s string) (float64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "€")
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return 0, errors.New("empty value")
	}

	comma := strings.LastIndex(s, ",")
	dot := strings.LastIndex(s, ".")
	switch {
	case comma >= 0 && dot >= 0 && comma > dot:
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case comma >= 0 && dot >= 0:
		s = strings.ReplaceAll(s, ",", "")
	case comma >= 0:
		s = strings.Replace(s, ",", ".", 1)
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.New("not a number")
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.New("not a finite number")
	}
	return v, nil
}

// groupThousands prints v with comma thousands separators and at least one
// fractional digit, so 1000 renders as 1,000.0.
func groupThousands(v float64) string {
	s := strconv.FormatFloat(math.Abs(v), 'f', -1, 64)
	intPart, frac, found := strings.Cut(s, ".")
	if !found {
		frac = "0"
	}

	var b strings.Builder
	if v < 0 {
		b.WriteByte('-')
	}
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	b.WriteByte('.')
	b.WriteString(frac)
	return b.String()
}
