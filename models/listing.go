package models

import "time"

// ListingRecord is one rental unit as observed in a single scrape.
type ListingRecord struct {
	Identity       string   `json:"identity" db:"identity"`
	GroupID        string   `json:"group_id" db:"group_id"`
	Area           string   `json:"area" db:"area"`
	PriceExcluding string   `json:"price_excluding" db:"price_excluding"`
	PriceIncluding string   `json:"price_including" db:"price_including"`
	AvailableFrom  string   `json:"available_from" db:"available_from"`
	MaxOccupants   string   `json:"max_occupants" db:"max_occupants"`
	ContractType   string   `json:"contract_type" db:"contract_type"`
	RoomCount      string   `json:"room_count" db:"room_count"`
	Offer          string   `json:"offer,omitempty" db:"-"`
	Images         []string `json:"images,omitempty" db:"images"`
}

// StoredListing is a persisted ListingRecord. VacatedAt is nil while the
// listing is active.
type StoredListing struct {
	ID int64 `json:"id" db:"id"`
	ListingRecord
	FirstSeenAt time.Time  `json:"first_seen_at" db:"first_seen_at"`
	VacatedAt   *time.Time `json:"vacated_at" db:"vacated_at"`
}

// IsActive reports whether the listing is still tracked as available.
func (s *StoredListing) IsActive() bool {
	return s.VacatedAt == nil
}
