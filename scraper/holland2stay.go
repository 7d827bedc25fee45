package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"h2s_notifier/models"
)

const (
	DefaultEndpoint = "https://api.holland2stay.com/graphql/"
	DefaultPageSize = 30

	// residencesCategory is the catalog category holding rentable units.
	residencesCategory = "Nw=="
	defaultMaxPages    = 50
	brandLogoImage     = "logo-blue-1.jpg"
)

var errTooManyPages = errors.New("catalog has more pages than can be read")

// Availability codes for units that can be booked now or via lottery.
var bookableStates = []string{"179", "336"}

const productsQuery = `query GetCategories($id: String!, $pageSize: Int!, $currentPage: Int!, $filters: ProductAttributeFilterInput!, $sort: ProductAttributeSortInput) {
  categories(filters: {category_uid: {in: [$id]}}) {
    items { uid __typename }
    __typename
  }
  products(pageSize: $pageSize, currentPage: $currentPage, filter: $filters, sort: $sort) {
    items {
      name
      city
      url_key
      available_startdate
      living_area
      no_of_rooms
      offer_text
      maximum_number_of_persons
      type_of_contract
      basic_rent
      media_gallery { url label position disabled __typename }
      price_range {
        maximum_price { final_price { value currency __typename } __typename }
        __typename
      }
      __typename
    }
    page_info { total_pages __typename }
    total_count
    __typename
  }
}`

// Holland2Stay reads the residences catalog over GraphQL.
type Holland2Stay struct {
	endpoint  string
	transport Transport
	pageSize  int
	maxPages  int
	retry     RetryPolicy
}

func NewHolland2Stay(transport Transport, endpoint string, pageSize int) *Holland2Stay {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Holland2Stay{
		endpoint:  endpoint,
		transport: transport,
		pageSize:  pageSize,
		maxPages:  defaultMaxPages,
		retry:     DefaultRetry,
	}
}

func (h *Holland2Stay) ID() string {
	return "holland2stay"
}

// Fetch walks every result page for one city. Any page failure fails the
// whole fetch.
func (h *Holland2Stay) Fetch(ctx context.Context, groupID string) ([]models.ListingRecord, error) {
	var records []models.ListingRecord
	totalPages := 1

	for page := 1; page <= totalPages; page++ {
		log.Printf("Holland2Stay: fetching page %d for %s", page, models.Cities.Label(groupID))

		var result productsResult
		err := h.retry.Do(ctx, fmt.Sprintf("holland2stay %s page %d", groupID, page), func() error {
			var err error
			result, err = h.fetchPage(ctx, groupID, page)
			return err
		})
		if err != nil {
			return nil, err
		}

		if page == 1 {
			totalPages = result.PageInfo.TotalPages
			// A truncated snapshot would vacate every listing past the cap.
			if totalPages > h.maxPages {
				return nil, &FetchError{Source: h.ID(), GroupID: groupID, Page: page,
					Err: fmt.Errorf("%w: %d reported, limit %d", errTooManyPages, totalPages, h.maxPages)}
			}
		}

		for _, item := range result.Items {
			rec, ok := toRecord(groupID, item)
			if ok {
				records = append(records, rec)
			}
		}
		log.Printf("Holland2Stay: page %d/%d: %d items (total: %d)", page, max(totalPages, 1), len(result.Items), len(records))
	}

	return records, nil
}

func (h *Holland2Stay) fetchPage(ctx context.Context, groupID string, page int) (productsResult, error) {
	fail := func(status int, err error) (productsResult, error) {
		return productsResult{}, &FetchError{Source: h.ID(), GroupID: groupID, Page: page, StatusCode: status, Err: err}
	}

	body, err := json.Marshal(h.payload(groupID, page))
	if err != nil {
		return fail(0, err)
	}

	status, data, err := h.transport.Post(ctx, h.endpoint, body)
	if err != nil {
		return fail(0, err)
	}
	if status != http.StatusOK {
		return fail(status, fmt.Errorf("unexpected response: %s", snippet(data)))
	}

	var resp graphQLResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return fail(status, fmt.Errorf("decode response: %w", err))
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, len(resp.Errors))
		for i, e := range resp.Errors {
			msgs[i] = e.Message
		}
		return fail(status, errors.New("graphql: "+strings.Join(msgs, "; ")))
	}
	if resp.Data.Products == nil {
		return fail(status, errors.New("response has no products"))
	}
	return *resp.Data.Products, nil
}

func (h *Holland2Stay) payload(groupID string, page int) map[string]any {
	return map[string]any{
		"operationName": "GetCategories",
		"query":         productsQuery,
		"variables": map[string]any{
			"currentPage": page,
			"id":          residencesCategory,
			"pageSize":    h.pageSize,
			"filters": map[string]any{
				"available_to_book": map[string]any{"in": bookableStates},
				"city":              map[string]any{"in": []string{groupID}},
				"category_uid":      map[string]any{"eq": residencesCategory},
			},
			"sort": map[string]any{"available_startdate": "ASC"},
		},
	}
}

type graphQLResponse struct {
	Data struct {
		Products *productsResult `json:"products"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type productsResult struct {
	Items    []product `json:"items"`
	PageInfo struct {
		TotalPages int `json:"total_pages"`
	} `json:"page_info"`
	TotalCount int `json:"total_count"`
}

type product struct {
	Name                   string     `json:"name"`
	City                   flexString `json:"city"`
	URLKey                 string     `json:"url_key"`
	AvailableStartDate     flexString `json:"available_startdate"`
	LivingArea             flexString `json:"living_area"`
	NoOfRooms              flexString `json:"no_of_rooms"`
	OfferText              flexString `json:"offer_text"`
	MaximumNumberOfPersons flexString `json:"maximum_number_of_persons"`
	TypeOfContract         flexString `json:"type_of_contract"`
	BasicRent              flexString `json:"basic_rent"`
	MediaGallery           []struct {
		URL      string `json:"url"`
		Disabled bool   `json:"disabled"`
	} `json:"media_gallery"`
	PriceRange struct {
		MaximumPrice struct {
			FinalPrice struct {
				Value flexString `json:"value"`
			} `json:"final_price"`
		} `json:"maximum_price"`
	} `json:"price_range"`
}

// flexString accepts a JSON string, number or null. The catalog returns
// option codes and amounts in either form.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	switch {
	case raw == "null":
		*f = ""
	case strings.HasPrefix(raw, `"`):
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
	case strings.HasPrefix(raw, "{"), strings.HasPrefix(raw, "["):
		return fmt.Errorf("expected string or number, got %s", snippet(data))
	default:
		*f = flexString(raw)
	}
	return nil
}

func toRecord(groupID string, p product) (models.ListingRecord, bool) {
	if p.URLKey == "" {
		log.Printf("Holland2Stay: skipping %q without url_key", p.Name)
		return models.ListingRecord{}, false
	}
	if city := string(p.City); city != "" && city != groupID {
		log.Printf("Holland2Stay: skipping %s from city %s in %s results", p.URLKey, city, groupID)
		return models.ListingRecord{}, false
	}

	return models.ListingRecord{
		Identity:       p.URLKey,
		GroupID:        groupID,
		Area:           strings.ReplaceAll(string(p.LivingArea), ",", "."),
		PriceExcluding: string(p.BasicRent),
		PriceIncluding: string(p.PriceRange.MaximumPrice.FinalPrice.Value),
		AvailableFrom:  string(p.AvailableStartDate),
		MaxOccupants:   models.OccupancyTypes.Label(string(p.MaximumNumberOfPersons)),
		ContractType:   models.ContractTypes.Label(string(p.TypeOfContract)),
		RoomCount:      models.RoomTypes.Label(string(p.NoOfRooms)),
		Offer:          offerText(string(p.OfferText)),
		Images:         galleryImages(p),
	}, true
}

func galleryImages(p product) []string {
	var images []string
	for _, m := range p.MediaGallery {
		if m.Disabled || m.URL == "" {
			continue
		}
		img := cleanImage(m.URL)
		if strings.Contains(img, brandLogoImage) {
			continue
		}
		images = append(images, img)
	}
	return images
}

// cleanImage drops the resized-cache segment and its hash from a media URL,
// leaving the original upload.
func cleanImage(url string) string {
	parts := strings.Split(url, "/")
	for i, p := range parts {
		if p != "cache" {
			continue
		}
		end := i + 2
		if end > len(parts) {
			end = len(parts)
		}
		return strings.Join(append(parts[:i:i], parts[end:]...), "/")
	}
	return url
}

// offerText flattens the promotional HTML snippet to one line of text.
func offerText(html string) string {
	if html == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return strings.Join(strings.Fields(html), " ")
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

func snippet(data []byte) string {
	const n = 200
	if len(data) > n {
		return string(data[:n]) + "..."
	}
	return string(data)
}
