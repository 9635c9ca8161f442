package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the canonical calendar-day layout used in keys and documents.
const DateLayout = "2006-01-02"

// Provenance defaults for every quote the pipeline stores.
const (
	CurrencyINR = "INR"
	UnitPerGram = "per_gram"
)

// Jeweller identifies a supported vendor (lower-case slug, e.g. "tanishq").
type Jeweller string

// City identifies a supported location (display form, e.g. "Bangalore").
type City string

// Slug returns the normalized key form of the jeweller.
func (j Jeweller) Slug() string { return slug(string(j)) }

// Slug returns the normalized key form of the city.
func (c City) Slug() string { return slug(string(c)) }

// Carat is a gold purity grade.
type Carat string

const (
	Carat18K Carat = "18K"
	Carat22K Carat = "22K"
	Carat24K Carat = "24K"
)

// AllCarats returns the purity grades in ascending fineness.
func AllCarats() []Carat {
	return []Carat{Carat18K, Carat22K, Carat24K}
}

// Slug returns the normalized key form of the carat ("18k").
func (c Carat) Slug() string { return slug(string(c)) }

// RawTriple is an unvalidated (purity, price, date) reading taken from a page.
type RawTriple struct {
	Jeweller  Jeweller `json:"jeweller"`
	City      City     `json:"city"`
	Carat     string   `json:"carat"`
	PriceText string   `json:"price_text"`
	DateText  string   `json:"date_text"`
	SourceURL string   `json:"source_url"`
	Method    string   `json:"extraction_method"`
	// ExtractedAt is when the page field was read.
	ExtractedAt time.Time `json:"extracted_at"`
}

// PriceRecord is one validated quote for one carat on one day for one target.
type PriceRecord struct {
	Jeweller         Jeweller        `json:"jeweller"`
	City             City            `json:"city"`
	Carat            Carat           `json:"carat"`
	Price            decimal.Decimal `json:"price"`
	Date             time.Time       `json:"date"`
	ExtractedAt      time.Time       `json:"extracted_at"`
	SourceURL        string          `json:"source_url"`
	ExtractionMethod string          `json:"extraction_method"`
	Currency         string          `json:"currency"`
	Unit             string          `json:"unit"`
}

// DateString renders the record's calendar day in the canonical layout.
func (r PriceRecord) DateString() string {
	return r.Date.Format(DateLayout)
}

// Key returns the deterministic store key for the record.
func (r PriceRecord) Key() string {
	return DocumentKey(r.Jeweller, r.City, r.Carat, r.Date)
}

// DocumentKey builds "{jeweller}_{city}_{carat}_{date}" in normalized form.
// Two records that differ only in extraction time share a key.
func DocumentKey(j Jeweller, c City, carat Carat, day time.Time) string {
	return strings.Join([]string{j.Slug(), c.Slug(), carat.Slug(), day.Format(DateLayout)}, "_")
}

// Provenance is the nested provenance map stored with each document.
type Provenance struct {
	ExtractionMethod string `json:"extraction_method" firestore:"extraction_method"`
	Currency         string `json:"currency" firestore:"currency"`
	Unit             string `json:"unit" firestore:"unit"`
}

// PriceDocument is the persisted shape of a PriceRecord.
type PriceDocument struct {
	Key         string     `json:"id" firestore:"-"`
	Jeweller    string     `json:"jeweller" firestore:"jeweller"`
	City        string     `json:"city" firestore:"city"`
	Carat       string     `json:"carat" firestore:"carat"`
	Price       float64    `json:"price" firestore:"price"`
	Date        string     `json:"date" firestore:"date"`
	Timestamp   string     `json:"timestamp" firestore:"timestamp"`
	SourceURL   string     `json:"source_url" firestore:"source_url"`
	Provenance  Provenance `json:"additional_info" firestore:"additional_info"`
	ExtractedAt time.Time  `json:"extracted_at" firestore:"extracted_at"`
}

// Document converts the record into its persisted form.
func (r PriceRecord) Document() PriceDocument {
	return PriceDocument{
		Key:       r.Key(),
		Jeweller:  r.Jeweller.Slug(),
		City:      string(r.City),
		Carat:     string(r.Carat),
		Price:     r.Price.InexactFloat64(),
		Date:      r.DateString(),
		Timestamp: r.ExtractedAt.UTC().Format(time.RFC3339),
		SourceURL: r.SourceURL,
		Provenance: Provenance{
			ExtractionMethod: r.ExtractionMethod,
			Currency:         r.Currency,
			Unit:             r.Unit,
		},
		ExtractedAt: r.ExtractedAt.UTC(),
	}
}

// Record converts a stored document back into a PriceRecord.
func (d PriceDocument) Record() (PriceRecord, error) {
	day, err := time.Parse(DateLayout, d.Date)
	if err != nil {
		return PriceRecord{}, err
	}
	return PriceRecord{
		Jeweller:         Jeweller(d.Jeweller),
		City:             City(d.City),
		Carat:            Carat(d.Carat),
		Price:            decimal.NewFromFloat(d.Price),
		Date:             day,
		ExtractedAt:      d.ExtractedAt,
		SourceURL:        d.SourceURL,
		ExtractionMethod: d.Provenance.ExtractionMethod,
		Currency:         d.Provenance.Currency,
		Unit:             d.Provenance.Unit,
	}, nil
}

// Day truncates t to its calendar day in t's location and returns it as a
// UTC midnight, so that day values compare equal regardless of zone.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Join(strings.Fields(s), "_")
}
