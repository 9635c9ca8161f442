package scrape

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/sells-group/goldrate-cli/internal/browser"
	"github.com/sells-group/goldrate-cli/internal/model"
	"github.com/sells-group/goldrate-cli/internal/validate"
)

var (
	// ErrFieldEmpty means the element exists but holds nothing yet.
	ErrFieldEmpty = eris.New("scrape: field is empty")
	// ErrDayNotInSeries means a price series does not cover the requested day.
	ErrDayNotInSeries = eris.New("scrape: day not in series")
	errNoSelector     = eris.New("scrape: no selector for strategy")
)

// Reading is one raw price value and the day the page says it belongs to.
type Reading struct {
	PriceText string
	DateText  string
	Method    string
	// Series is set when the value came from a dated series rather than
	// the page's current view.
	Series bool
}

// Locator finds one carat's price on a page.
type Locator interface {
	Name() string
	Locate(ctx context.Context, page browser.Page, site *Site, carat model.Carat, day time.Time) (Reading, error)
}

// HiddenInput reads script-populated hidden inputs. A bracketed value is a
// series aligned with the site's dates series.
type HiddenInput struct{}

func (HiddenInput) Name() string { return "hidden_input" }

func (HiddenInput) Locate(ctx context.Context, page browser.Page, site *Site, carat model.Carat, day time.Time) (Reading, error) {
	sel := site.Fields[carat].HiddenInput
	if sel == "" {
		return Reading{}, errNoSelector
	}
	raw, err := page.Value(ctx, sel)
	if err != nil {
		return Reading{}, err
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Reading{}, eris.Wrapf(ErrFieldEmpty, "selector %s", sel)
	}

	if !isSeries(raw) {
		return Reading{PriceText: raw, DateText: displayedDate(ctx, page, site, day)}, nil
	}

	if site.SeriesDates == "" {
		return Reading{}, eris.Errorf("scrape: %s holds a series but no dates series is mapped", sel)
	}
	datesRaw, err := page.Value(ctx, site.SeriesDates)
	if err != nil {
		return Reading{}, err
	}
	prices, dates := splitSeries(raw), splitSeries(datesRaw)
	if len(prices) != len(dates) {
		return Reading{}, eris.Errorf("scrape: %s has %d values for %d dates", sel, len(prices), len(dates))
	}

	want := day.Format(site.DateLayout)
	for i, d := range dates {
		if d == want {
			return Reading{PriceText: prices[i], DateText: d, Series: true}, nil
		}
	}
	return Reading{}, eris.Wrapf(ErrDayNotInSeries, "%s has no entry for %s", sel, want)
}

func isSeries(s string) bool {
	return strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]")
}

// splitSeries parses "[a, b, c]" into its trimmed elements.
func splitSeries(s string) []string {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i, p := range parts {
		parts[i] = strings.Trim(strings.TrimSpace(p), `"'`)
	}
	return parts
}

func displayedDate(ctx context.Context, page browser.Page, site *Site, day time.Time) string {
	if site.DateDisplay == "" {
		return day.Format(model.DateLayout)
	}
	v, err := page.Value(ctx, site.DateDisplay)
	if err != nil {
		return day.Format(model.DateLayout)
	}
	return pageDay(v, day)
}

// pageDay keeps the page's own rendering of the day when it parses, so a
// stale view is caught downstream, and otherwise falls back to day.
func pageDay(text string, day time.Time) string {
	text = strings.TrimSpace(text)
	if _, err := validate.ParseDate(text); err == nil {
		return text
	}
	return day.Format(model.DateLayout)
}

// VisibleText reads the rendered text of the price element.
type VisibleText struct{}

func (VisibleText) Name() string { return "visible_text" }

func (VisibleText) Locate(ctx context.Context, page browser.Page, site *Site, carat model.Carat, day time.Time) (Reading, error) {
	sel := site.Fields[carat].TextSelector
	if sel == "" {
		return Reading{}, errNoSelector
	}
	html, err := page.HTML(ctx)
	if err != nil {
		return Reading{}, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Reading{}, eris.Wrap(err, "scrape: parse html")
	}

	text := strings.TrimSpace(doc.Find(sel).First().Text())
	if text == "" {
		return Reading{}, eris.Wrapf(ErrFieldEmpty, "selector %s", sel)
	}

	date := day.Format(model.DateLayout)
	if site.DateDisplay != "" {
		date = pageDay(doc.Find(site.DateDisplay).First().Text(), day)
	}
	return Reading{PriceText: text, DateText: date}, nil
}

// Chain tries locators in priority order. The first one that yields a
// value wins and its name becomes the reading's Method.
type Chain []Locator

// DefaultChain prefers hidden inputs over visible text.
func DefaultChain() Chain {
	return Chain{HiddenInput{}, VisibleText{}}
}

// Locate returns the first successful reading.
func (c Chain) Locate(ctx context.Context, page browser.Page, site *Site, carat model.Carat, day time.Time) (Reading, error) {
	var errs []error
	for _, l := range c {
		r, err := l.Locate(ctx, page, site, carat, day)
		if err == nil {
			r.Method = l.Name()
			return r, nil
		}
		if !errors.Is(err, errNoSelector) {
			errs = append(errs, eris.Wrap(err, l.Name()))
		}
	}
	if len(errs) == 0 {
		return Reading{}, eris.Errorf("scrape: no field mapped for %s", carat)
	}
	return Reading{}, eris.Wrapf(errors.Join(errs...), "scrape: %s not found", carat)
}

// LocateSeries is Locate restricted to dated series readings, for pages
// still showing another day. A series that does not reach day ends the
// search with ErrDayNotInSeries.
func (c Chain) LocateSeries(ctx context.Context, page browser.Page, site *Site, carat model.Carat, day time.Time) (Reading, error) {
	for _, l := range c {
		r, err := l.Locate(ctx, page, site, carat, day)
		if err == nil && r.Series {
			r.Method = l.Name()
			return r, nil
		}
		if errors.Is(err, ErrDayNotInSeries) {
			return Reading{}, eris.Wrapf(err, "%s %s", l.Name(), carat)
		}
	}
	return Reading{}, eris.Wrapf(ErrNoHistory, "%s on %s", carat, day.Format(model.DateLayout))
}
