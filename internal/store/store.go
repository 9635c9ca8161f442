// Package store persists validated gold price records and run summaries.
package store

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/goldrate-cli/internal/model"
)

// ErrNotFound is returned when a price document or summary does not exist.
var ErrNotFound = eris.New("store: not found")

// SummarySuffix is appended to the price collection name to form the
// summary collection.
const SummarySuffix = "_summary"

// PriceFilter specifies criteria for listing stored prices. Zero values
// match everything. From and To are inclusive calendar days.
type PriceFilter struct {
	Jeweller model.Jeweller `json:"jeweller,omitempty"`
	City     model.City     `json:"city,omitempty"`
	Carat    model.Carat    `json:"carat,omitempty"`
	From     time.Time      `json:"from,omitempty"`
	To       time.Time      `json:"to,omitempty"`
	Limit    int            `json:"limit,omitempty"`
}

// DefaultListLimit caps ListPrices when the filter sets no limit.
const DefaultListLimit = 500

func (f PriceFilter) limit() int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	return f.Limit
}

// Match reports whether rec satisfies the filter.
func (f PriceFilter) Match(rec model.PriceRecord) bool {
	if f.Jeweller != "" && rec.Jeweller.Slug() != f.Jeweller.Slug() {
		return false
	}
	if f.City != "" && rec.City.Slug() != f.City.Slug() {
		return false
	}
	if f.Carat != "" && rec.Carat.Slug() != f.Carat.Slug() {
		return false
	}
	if !f.From.IsZero() && rec.Date.Before(model.Day(f.From)) {
		return false
	}
	if !f.To.IsZero() && rec.Date.After(model.Day(f.To)) {
		return false
	}
	return true
}

// Store is the document store behind the Store Writer. Every driver keys
// price documents by PriceRecord.Key and overwrites on conflict, so writing
// the same record twice leaves exactly one document.
type Store interface {
	// Prices
	UpsertPrice(ctx context.Context, rec model.PriceRecord) error
	UpsertPrices(ctx context.Context, recs []model.PriceRecord) (int, error)
	GetPrice(ctx context.Context, key string) (*model.PriceRecord, error)
	ListPrices(ctx context.Context, filter PriceFilter) ([]model.PriceRecord, error)

	// Summaries
	UpsertSummary(ctx context.Context, summary model.RunSummary) error
	LatestSummary(ctx context.Context) (*model.RunSummary, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// sortRecords orders records newest day first, then by jeweller, city and carat.
func sortRecords(recs []model.PriceRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.After(b.Date)
		}
		if c := strings.Compare(a.Jeweller.Slug(), b.Jeweller.Slug()); c != 0 {
			return c < 0
		}
		if c := strings.Compare(a.City.Slug(), b.City.Slug()); c != 0 {
			return c < 0
		}
		return a.Carat.Slug() < b.Carat.Slug()
	})
}

// priceColumns is the column order shared by the SQL drivers.
var priceColumns = []string{
	"collection", "key", "jeweller", "city", "carat", "price", "date",
	"extracted_at", "source_url", "extraction_method", "currency", "unit",
}

// filterClause renders the WHERE conditions for f. ph renders the n-th
// bind parameter and day converts a calendar day into the driver's argument.
func filterClause(f PriceFilter, first int, ph func(int) string, day func(time.Time) any) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		conds = append(conds, cond+" "+ph(first+len(args)))
		args = append(args, arg)
	}
	if f.Jeweller != "" {
		add("jeweller =", f.Jeweller.Slug())
	}
	if f.City != "" {
		add("lower(city) =", strings.ToLower(string(f.City)))
	}
	if f.Carat != "" {
		add("carat =", strings.ToUpper(string(f.Carat)))
	}
	if !f.From.IsZero() {
		add("date >=", day(model.Day(f.From)))
	}
	if !f.To.IsZero() {
		add("date <=", day(model.Day(f.To)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " AND " + strings.Join(conds, " AND "), args
}
