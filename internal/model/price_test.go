package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord() PriceRecord {
	return PriceRecord{
		Jeweller:         "tanishq",
		City:             "Bangalore",
		Carat:            Carat22K,
		Price:            decimal.RequireFromString("9320"),
		Date:             time.Date(2025, 1, 14, 0, 0, 0, 0, time.UTC),
		ExtractedAt:      time.Date(2025, 1, 15, 4, 30, 0, 0, time.UTC),
		SourceURL:        "https://www.tanishq.co.in/gold-rate.html?lang=en_IN",
		ExtractionMethod: "hidden_input",
		Currency:         CurrencyINR,
		Unit:             UnitPerGram,
	}
}

func TestDocumentKey(t *testing.T) {
	t.Parallel()

	day := time.Date(2025, 1, 14, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		jeweller Jeweller
		city     City
		carat    Carat
		want     string
	}{
		{"simple", "tanishq", "Bangalore", Carat18K, "tanishq_bangalore_18k_2025-01-14"},
		{"mixed case jeweller", "Tanishq", "Mumbai", Carat24K, "tanishq_mumbai_24k_2025-01-14"},
		{"multi word city", "kalyan", "New Delhi", Carat22K, "kalyan_new_delhi_22k_2025-01-14"},
		{"padded city", "tanishq", "  Pune ", Carat22K, "tanishq_pune_22k_2025-01-14"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, DocumentKey(tt.jeweller, tt.city, tt.carat, day))
		})
	}
}

func TestKeyIgnoresExtractionTime(t *testing.T) {
	t.Parallel()

	a := sampleRecord()
	b := sampleRecord()
	b.ExtractedAt = b.ExtractedAt.Add(6 * time.Hour)
	b.Price = decimal.RequireFromString("9400")

	assert.Equal(t, a.Key(), b.Key())
}

func TestDocumentRoundTrip(t *testing.T) {
	t.Parallel()

	r := sampleRecord()
	doc := r.Document()

	assert.Equal(t, "tanishq_bangalore_22k_2025-01-14", doc.Key)
	assert.Equal(t, "2025-01-14", doc.Date)
	assert.Equal(t, "22K", doc.Carat)
	assert.InDelta(t, 9320.0, doc.Price, 0.0001)
	assert.Equal(t, "2025-01-15T04:30:00Z", doc.Timestamp)
	assert.Equal(t, Provenance{ExtractionMethod: "hidden_input", Currency: "INR", Unit: "per_gram"}, doc.Provenance)

	back, err := doc.Record()
	require.NoError(t, err)
	assert.Equal(t, r.Key(), back.Key())
	assert.True(t, r.Price.Equal(back.Price))
	assert.Equal(t, r.ExtractedAt, back.ExtractedAt)
}

func TestDocumentRecordBadDate(t *testing.T) {
	t.Parallel()

	_, err := PriceDocument{Date: "14-01-2025"}.Record()
	assert.Error(t, err)
}

func TestDay(t *testing.T) {
	t.Parallel()

	ist := time.FixedZone("IST", 5*3600+1800)
	late := time.Date(2025, 1, 14, 23, 50, 0, 0, ist)

	got := Day(late)
	assert.Equal(t, time.Date(2025, 1, 14, 0, 0, 0, 0, time.UTC), got)
	assert.Equal(t, "2025-01-14", got.Format(DateLayout))
}
