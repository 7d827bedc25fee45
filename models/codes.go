package models

import (
	"fmt"
	"sort"
	"strings"
)

// UnknownLabel is shown for any code outside a table.
const UnknownLabel = "Unknown"

// CodeTable is a closed set of catalog option codes and their labels.
type CodeTable struct {
	name   string
	labels map[string]string
}

// Lookup returns the label for code and whether the code is known.
func (t CodeTable) Lookup(code string) (string, bool) {
	label, ok := t.labels[strings.TrimSpace(code)]
	return label, ok
}

// Label returns the label for code, or UnknownLabel.
func (t CodeTable) Label(code string) string {
	if label, ok := t.Lookup(code); ok {
		return label
	}
	return UnknownLabel
}

// Validate fails on the first code that is not part of the table.
func (t CodeTable) Validate(codes ...string) error {
	for _, c := range codes {
		if _, ok := t.Lookup(c); !ok {
			return fmt.Errorf("unknown %s code %q", t.name, c)
		}
	}
	return nil
}

// Codes returns every known code, sorted.
func (t CodeTable) Codes() []string {
	codes := make([]string, 0, len(t.labels))
	for c := range t.labels {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}

var Cities = CodeTable{name: "city", labels: map[string]string{
	"24":   "Amsterdam",
	"320":  "Arnhem",
	"619":  "Capelle aan den IJssel",
	"26":   "Delft",
	"28":   "Den Bosch",
	"90":   "Den Haag",
	"110":  "Diemen",
	"620":  "Dordrecht",
	"29":   "Eindhoven",
	"545":  "Groningen",
	"616":  "Haarlem",
	"6099": "Helmond",
	"6209": "Maarssen",
	"6090": "Maastricht",
	"6051": "Nieuwegein",
	"6217": "Nijmegen",
	"25":   "Rotterdam",
	"6224": "Rijswijk",
	"6211": "Sittard",
	"6093": "Tilburg",
	"27":   "Utrecht",
	"6145": "Zeist",
	"6088": "Zoetermeer",
}}

var ContractTypes = CodeTable{name: "contract type", labels: map[string]string{
	"21":   "Indefinite",
	"6125": "2 years",
	"20":   "1 year max",
	"318":  "6 months max",
	"606":  "4 months max",
}}

var RoomTypes = CodeTable{name: "room type", labels: map[string]string{
	"104":  "Studio",
	"6137": "Loft (open bedroom area)",
	"105":  "1",
	"106":  "2",
	"108":  "3",
	"382":  "4",
}}

var OccupancyTypes = CodeTable{name: "occupancy", labels: map[string]string{
	"22":  "One",
	"23":  "Two (only couples)",
	"500": "Two",
	"380": "Family (parents with children)",
	"501": "Three",
	"502": "Four",
}}
