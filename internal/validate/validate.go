// Package validate turns raw page readings into clean price records.
package validate

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/width"

	"github.com/sells-group/goldrate-cli/internal/model"
)

// RejectError is returned for a triple that cannot become a record.
// Reason is human readable and ends up in run reports.
type RejectError struct {
	Reason string
}

func (e *RejectError) Error() string { return "rejected: " + e.Reason }

func reject(format string, args ...any) *RejectError {
	return &RejectError{Reason: fmt.Sprintf(format, args...)}
}

// Validator checks raw triples against the plausible price band.
type Validator struct {
	min decimal.Decimal
	max decimal.Decimal
}

// New returns a Validator accepting prices in [minPrice, maxPrice].
func New(minPrice, maxPrice float64) *Validator {
	return &Validator{
		min: decimal.NewFromFloat(minPrice),
		max: decimal.NewFromFloat(maxPrice),
	}
}

// Band returns the configured inclusive bounds.
func (v *Validator) Band() (decimal.Decimal, decimal.Decimal) {
	return v.min, v.max
}

// Validate parses and bounds-checks one triple. It never panics; any
// failure is a *RejectError.
func (v *Validator) Validate(raw model.RawTriple) (model.PriceRecord, error) {
	carat, ok := ParseCarat(raw.Carat)
	if !ok {
		return model.PriceRecord{}, reject("unknown carat %q", raw.Carat)
	}

	price, err := ParsePrice(raw.PriceText)
	if err != nil {
		return model.PriceRecord{}, reject("%s price %q is not numeric", carat, raw.PriceText)
	}
	if !price.IsPositive() {
		return model.PriceRecord{}, reject("%s price %s is not positive", carat, price)
	}
	if price.LessThan(v.min) || price.GreaterThan(v.max) {
		return model.PriceRecord{}, reject("%s price %s outside band [%s, %s]", carat, price, v.min, v.max)
	}

	day, err := ParseDate(raw.DateText)
	if err != nil {
		return model.PriceRecord{}, reject("date %q is not a calendar day", raw.DateText)
	}

	extracted := raw.ExtractedAt
	if extracted.IsZero() {
		extracted = time.Now().UTC()
	}

	return model.PriceRecord{
		Jeweller:         raw.Jeweller,
		City:             raw.City,
		Carat:            carat,
		Price:            price,
		Date:             day,
		ExtractedAt:      extracted,
		SourceURL:        raw.SourceURL,
		ExtractionMethod: raw.Method,
		Currency:         model.CurrencyINR,
		Unit:             model.UnitPerGram,
	}, nil
}

var (
	caratPattern = regexp.MustCompile(`^(18|22|24)\s*(k|kt|karat|carat|ct)$`)
	// Currency markers and unit suffixes that surround the number.
	priceNoise = strings.NewReplacer(
		"₹", "", "rs.", "", "rs", "", "inr", "",
		"per gram", "", "/gram", "", "/gm", "", "/g", "",
		",", "", " ", "", " ", "",
	)
)

// ParseCarat maps the accepted purity spellings onto a Carat.
func ParseCarat(s string) (model.Carat, bool) {
	s = strings.ToLower(strings.TrimSpace(width.Fold.String(s)))
	m := caratPattern.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	return model.Carat(m[1] + "K"), true
}

// ParsePrice strips currency symbols, thousands separators and unit
// suffixes and parses the remainder as a decimal.
func ParsePrice(s string) (decimal.Decimal, error) {
	s = strings.ToLower(strings.TrimSpace(width.Fold.String(s)))
	s = priceNoise.Replace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty price")
	}
	return decimal.NewFromString(s)
}

// dateLayouts lists the display formats seen on jeweller pages. Day-first
// numeric forms are tried before month-first names.
var dateLayouts = []string{
	model.DateLayout,
	"02-01-2006",
	"02/01/2006",
	"02.01.2006",
	"2 Jan 2006",
	"02 January 2006",
	"2 January 2006",
	"Jan 2, 2006",
	"January 2, 2006",
}

// ParseDate parses a calendar day and returns it as UTC midnight.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(width.Fold.String(s))
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return model.Day(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}
