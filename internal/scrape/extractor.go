// Package scrape reads a window of daily gold rates from a jeweller's page.
package scrape

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/goldrate-cli/internal/browser"
	"github.com/sells-group/goldrate-cli/internal/model"
	"github.com/sells-group/goldrate-cli/internal/validate"
)

var (
	// ErrAnchorUnavailable means the current day could not be read, so the
	// page cannot be used to navigate history. It fails the target.
	ErrAnchorUnavailable = eris.New("scrape: anchor day unavailable")
	// ErrDateControlMissing means the site's date picker is not on the page.
	ErrDateControlMissing = eris.New("scrape: date control missing")
	// ErrNoHistory means the site offers neither a date picker nor a
	// series covering the day.
	ErrNoHistory = eris.New("scrape: no historical source for day")
	// ErrStaleDay means the page kept showing another day after selection.
	ErrStaleDay = eris.New("scrape: page did not switch day")
)

// Options tunes an Extractor.
type Options struct {
	// DayDelay is the minimum gap between day requests.
	DayDelay time.Duration
	// RefreshTimeout bounds the wait for the page to show a selected day.
	RefreshTimeout time.Duration
	// ReadyTimeout bounds the best-effort wait for Site.Ready after each
	// navigation. Zero skips the wait.
	ReadyTimeout time.Duration
	PollInterval time.Duration
	// Location is the site's time zone; "today" is computed in it.
	Location *time.Location
	Now      func() time.Time
	Locators Chain
}

// DayResult is one step of an extraction. A day with no triples is a
// skipped day and carries the reason in Err.
type DayResult struct {
	Day     time.Time
	Triples []model.RawTriple
	Err     error
}

// Skipped reports whether the day produced nothing.
func (r DayResult) Skipped() bool { return len(r.Triples) == 0 }

// Unpublished reports whether a skipped day failed only because the page's
// series does not reach it yet. Every carat must have failed that way.
func (r DayResult) Unpublished() bool {
	if !r.Skipped() || r.Err == nil {
		return false
	}
	joined, ok := r.Err.(interface{ Unwrap() []error })
	if !ok {
		return errors.Is(r.Err, ErrDayNotInSeries)
	}
	errs := joined.Unwrap()
	if len(errs) == 0 {
		return false
	}
	for _, err := range errs {
		if !errors.Is(err, ErrDayNotInSeries) {
			return false
		}
	}
	return true
}

// Extractor walks a backward window of days on one page.
type Extractor struct {
	opts Options
	log  *zap.Logger
}

// NewExtractor fills unset options with defaults.
func NewExtractor(opts Options) *Extractor {
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = 10 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 250 * time.Millisecond
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if len(opts.Locators) == 0 {
		opts.Locators = DefaultChain()
	}
	return &Extractor{
		opts: opts,
		log:  zap.L().With(zap.String("component", "extractor")),
	}
}

// Today returns the current calendar day in the site's zone.
func (e *Extractor) Today() time.Time {
	return model.Day(e.opts.Now().In(e.opts.Location))
}

// Extract lazily yields one DayResult per day, newest first, for days days
// ending today. Each call navigates afresh. When the current day cannot be
// read, a single result wrapping ErrAnchorUnavailable is yielded and the
// sequence ends.
func (e *Extractor) Extract(ctx context.Context, sess *browser.Session, site *Site, target model.Target, days int) iter.Seq[DayResult] {
	return func(yield func(DayResult) bool) {
		if days < 1 {
			days = 1
		}
		pacer := NewPacer(e.opts.DayDelay)
		today := e.Today()
		url := site.URL(target.City)
		log := e.log.With(zap.String("target", target.String()))

		if err := pacer.Wait(ctx); err != nil {
			yield(DayResult{Day: today, Err: eris.Wrap(err, "scrape: interrupted")})
			return
		}
		if err := sess.Open(ctx, url); err != nil {
			yield(DayResult{Day: today, Err: eris.Wrapf(ErrAnchorUnavailable, "open %s: %v", url, err)})
			return
		}
		page := sess.Page()
		e.waitReady(ctx, page, site)
		e.dismissPopups(ctx, page, site)

		first := e.readDay(ctx, page, site, target, today, false)
		// A series that simply has not caught up to today still anchors
		// the page; only missing fields fail the target.
		if first.Skipped() && !first.Unpublished() {
			reason := first.Err
			if html, err := page.HTML(ctx); err == nil {
				if blocked, kind := DetectBlock(html); blocked {
					reason = eris.Errorf("blocked by %s page", kind)
				}
			}
			yield(DayResult{Day: today, Err: eris.Wrapf(ErrAnchorUnavailable, "%v", reason)})
			return
		}
		if first.Skipped() {
			log.Warn("current day not published yet", zap.Error(first.Err))
		}
		if !yield(first) {
			return
		}

		for k := 1; k < days; k++ {
			day := today.AddDate(0, 0, -k)
			if err := pacer.Wait(ctx); err != nil {
				yield(DayResult{Day: day, Err: eris.Wrap(err, "scrape: interrupted")})
				return
			}

			res := e.historicalDay(ctx, page, site, target, day)
			if res.Skipped() {
				log.Warn("skipping day", zap.String("date", day.Format(model.DateLayout)), zap.Error(res.Err))
			}
			if !yield(res) {
				return
			}
		}
	}
}

func (e *Extractor) historicalDay(ctx context.Context, page browser.Page, site *Site, target model.Target, day time.Time) DayResult {
	if site.DateControl == nil {
		return e.readDay(ctx, page, site, target, day, true)
	}
	if err := e.selectDay(ctx, page, site, day); err != nil {
		return DayResult{Day: day, Err: err}
	}
	return e.readDay(ctx, page, site, target, day, false)
}

// selectDay drives the date control and waits for the page to show day.
func (e *Extractor) selectDay(ctx context.Context, page browser.Page, site *Site, day time.Time) error {
	dc := site.DateControl
	layout := dc.Layout
	if layout == "" {
		layout = site.DateLayout
	}
	want := day.Format(layout)

	if err := page.SetValue(ctx, dc.Input, want); err != nil {
		if errors.Is(err, browser.ErrElementNotFound) {
			return eris.Wrapf(ErrDateControlMissing, "%s", dc.Input)
		}
		return err
	}
	if dc.Apply != "" {
		if err := page.Click(ctx, dc.Apply); err != nil {
			if errors.Is(err, browser.ErrElementNotFound) {
				return eris.Wrapf(ErrDateControlMissing, "%s", dc.Apply)
			}
			return err
		}
	}
	if site.DateDisplay == "" {
		return nil
	}

	deadline := time.Now().Add(e.opts.RefreshTimeout)
	var shown string
	for {
		v, err := page.Value(ctx, site.DateDisplay)
		if err == nil {
			shown = v
			if d, perr := validate.ParseDate(v); perr == nil && d.Equal(day) {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return eris.Wrapf(ErrStaleDay, "wanted %s, page shows %q", want, shown)
		}
		select {
		case <-ctx.Done():
			return eris.Wrap(ctx.Err(), "scrape: waiting for day refresh")
		case <-time.After(e.opts.PollInterval):
		}
	}
}

// readDay reads every carat for day. When seriesOnly is set the page is
// still showing another day, so only dated series readings are trusted.
func (e *Extractor) readDay(ctx context.Context, page browser.Page, site *Site, target model.Target, day time.Time, seriesOnly bool) DayResult {
	res := DayResult{Day: day}
	var errs []error
	source := page.URL()
	if source == "" {
		source = site.URL(target.City)
	}

	locate := e.opts.Locators.Locate
	if seriesOnly {
		locate = e.opts.Locators.LocateSeries
	}
	for _, carat := range model.AllCarats() {
		r, err := locate(ctx, page, site, carat, day)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if d, perr := validate.ParseDate(r.DateText); perr == nil && !d.Equal(day) {
			errs = append(errs, eris.Wrapf(ErrStaleDay, "%s reads %s, wanted %s", carat, r.DateText, day.Format(model.DateLayout)))
			continue
		}
		res.Triples = append(res.Triples, model.RawTriple{
			Jeweller:    target.Jeweller,
			City:        target.City,
			Carat:       string(carat),
			PriceText:   r.PriceText,
			DateText:    r.DateText,
			SourceURL:   source,
			Method:      r.Method,
			ExtractedAt: e.opts.Now().UTC(),
		})
	}
	res.Err = errors.Join(errs...)
	return res
}

// waitReady polls for the site's ready marker. Fields are read either way.
func (e *Extractor) waitReady(ctx context.Context, page browser.Page, site *Site) {
	if site.Ready == "" || e.opts.ReadyTimeout <= 0 {
		return
	}
	deadline := time.Now().Add(e.opts.ReadyTimeout)
	for !page.Visible(ctx, site.Ready) {
		if time.Now().After(deadline) {
			e.log.Debug("ready marker not shown", zap.String("selector", site.Ready))
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(e.opts.PollInterval):
		}
	}
}

func (e *Extractor) dismissPopups(ctx context.Context, page browser.Page, site *Site) {
	for _, sel := range site.Popups {
		if !page.Visible(ctx, sel) {
			continue
		}
		if err := page.Click(ctx, sel); err != nil {
			e.log.Debug("popup click failed", zap.String("selector", sel), zap.Error(err))
			continue
		}
		e.log.Debug("closed popup", zap.String("selector", sel))
	}
}
