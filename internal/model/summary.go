package model

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// DateRange is an inclusive span of calendar days rendered in DateLayout.
type DateRange struct {
	From string `json:"from" firestore:"from"`
	To   string `json:"to" firestore:"to"`
}

// RunSummary is the per-run digest written alongside the price documents.
type RunSummary struct {
	ID              string                   `json:"id" firestore:"-"`
	Summary         string                   `json:"summary" firestore:"summary"`
	TotalEntries    int                      `json:"total_entries" firestore:"total_entries"`
	Jewellers       []string                 `json:"jewellers" firestore:"jewellers"`
	Cities          []string                 `json:"cities" firestore:"cities"`
	DateRange       DateRange                `json:"date_range" firestore:"date_range"`
	LatestRates     map[string]PriceDocument `json:"latest_rates" firestore:"latest_rates"`
	ScrapeTimestamp time.Time                `json:"scrape_timestamp" firestore:"scrape_timestamp"`
	RunID           string                   `json:"run_id,omitempty" firestore:"run_id,omitempty"`
}

// BuildSummary digests records into a RunSummary keyed by the day of now.
// LatestRates holds, per jeweller/city/carat, the record on the latest day
// seen anywhere in the batch.
func BuildSummary(records []PriceRecord, now time.Time) RunSummary {
	jewellers := map[string]struct{}{}
	cities := map[string]struct{}{}
	var from, to time.Time

	for i, r := range records {
		jewellers[r.Jeweller.Slug()] = struct{}{}
		cities[string(r.City)] = struct{}{}
		if i == 0 || r.Date.Before(from) {
			from = r.Date
		}
		if i == 0 || r.Date.After(to) {
			to = r.Date
		}
	}

	latest := make(map[string]PriceDocument)
	for _, r := range records {
		if !r.Date.Equal(to) {
			continue
		}
		key := strings.Join([]string{r.Jeweller.Slug(), r.City.Slug(), r.Carat.Slug()}, "_")
		latest[key] = r.Document()
	}

	s := RunSummary{
		ID:              now.Format(DateLayout),
		Summary:         fmt.Sprintf("Gold prices from %d jewellers across %d cities", len(jewellers), len(cities)),
		TotalEntries:    len(records),
		Jewellers:       sortedKeys(jewellers),
		Cities:          sortedKeys(cities),
		LatestRates:     latest,
		ScrapeTimestamp: now.UTC(),
	}
	if len(records) > 0 {
		s.DateRange = DateRange{From: from.Format(DateLayout), To: to.Format(DateLayout)}
	}
	return s
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
