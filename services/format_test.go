package services

import (
	"errors"
	"strings"
	"testing"

	"h2s_notifier/models"
)

func TestFormatMessage(t *testing.T) {
	msg, err := FormatMessage(listing("a1"))
	if err != nil {
		t.Fatalf("format: %v", err)
	}

	want := []string{
		"New house in #Rotterdam!",
		"https://holland2stay.com/residences/a1.html",
		"Living area: 50m²",
		"Price: 1,000.0€ (excl. 900.0€ basic rent)",
		"Price per meter: 20.00 €/m²",
		"Available from: 2024-01-01",
		"Bedrooms: 2",
		"Max occupancy: One",
		"Contract type: 1 year max",
		"See details and apply on Holland2Stay website.",
	}
	for _, w := range want {
		if !strings.Contains(msg, w) {
			t.Fatalf("message missing %q:\n%s", w, msg)
		}
	}
	if strings.Contains(msg, "Offer:") {
		t.Fatalf("offer line should be omitted when empty")
	}
}

func TestFormatMessageNormalizesCommaDecimals(t *testing.T) {
	rec := listing("a1")
	rec.Area = "40,5"
	rec.PriceIncluding = "1.215,00"
	rec.Offer = "First month free"

	msg, err := FormatMessage(rec)
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	for _, w := range []string{"Living area: 40.5m²", "Price: 1,215.0€", "Price per meter: 30.00 €/m²", "Offer: First month free"} {
		if !strings.Contains(msg, w) {
			t.Fatalf("message missing %q:\n%s", w, msg)
		}
	}
}

func TestFormatMessageRejectsBadNumbers(t *testing.T) {
	tests := []struct {
		name  string
		field string
		edit  func(r *models.ListingRecord)
	}{
		{"area text", "area", func(r *models.ListingRecord) { r.Area = "n/a" }},
		{"area zero", "area", func(r *models.ListingRecord) { r.Area = "0" }},
		{"price text", "price_including", func(r *models.ListingRecord) { r.PriceIncluding = "call us" }},
		{"rent empty", "price_excluding", func(r *models.ListingRecord) { r.PriceExcluding = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := listing("a1")
			tt.edit(&rec)

			_, err := FormatMessage(rec)
			var fe *FormattingError
			if !errors.As(err, &fe) {
				t.Fatalf("expected FormattingError, got %v", err)
			}
			if fe.Field != tt.field || fe.Identity != "a1" {
				t.Fatalf("unexpected error fields %+v", fe)
			}
		})
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"1000", 1000, false},
		{"50,5", 50.5, false},
		{"1.234,56", 1234.56, false},
		{"1,234.56", 1234.56, false},
		{" 900 €", 900, false},
		{"", 0, true},
		{"abc", 0, true},
		{"NaN", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseAmount(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("ParseAmount(%q): expected error, got %v", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseAmount(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("ParseAmount(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestGroupThousands(t *testing.T) {
	tests := map[float64]string{
		0:          "0.0",
		999:        "999.0",
		1000:       "1,000.0",
		1234.5:     "1,234.5",
		1234567.25: "1,234,567.25",
		-4500:      "-4,500.0",
	}
	for in, want := range tests {
		if got := groupThousands(in); got != want {
			t.Fatalf("groupThousands(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestCityTag(t *testing.T) {
	if got := CityTag("619"); got != "#Capelle_aan_den_IJssel" {
		t.Fatalf("unexpected tag %q", got)
	}
	if got := CityTag("999999"); got != "#Unknown" {
		t.Fatalf("unexpected tag for unknown code %q", got)
	}
}
