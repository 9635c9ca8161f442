package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/goldrate-cli/internal/backup"
	"github.com/sells-group/goldrate-cli/internal/browser"
	"github.com/sells-group/goldrate-cli/internal/browser/browsertest"
	"github.com/sells-group/goldrate-cli/internal/model"
	"github.com/sells-group/goldrate-cli/internal/scrape"
	"github.com/sells-group/goldrate-cli/internal/store"
	"github.com/sells-group/goldrate-cli/internal/validate"
)

var ist = time.FixedZone("IST", 5*3600+1800)

func now() time.Time { return time.Date(2025, 1, 15, 10, 0, 0, 0, ist) }

type fakeSessions struct {
	mu       sync.Mutex
	page     func() browser.Page
	err      error
	acquired int
	released int
}

func (f *fakeSessions) Acquire(context.Context) (*browser.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.acquired++
	return browser.NewSession(f.page(), 0, 0, func() error {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.released++
		return nil
	}), nil
}

type fakeWriter struct {
	mu        sync.Mutex
	records   []model.PriceRecord
	summaries []model.RunSummary
	err       error
}

func (f *fakeWriter) Write(_ context.Context, recs []model.PriceRecord) (store.WriteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return store.WriteResult{}, f.err
	}
	f.records = append(f.records, recs...)
	return store.WriteResult{Written: len(recs)}, nil
}

func (f *fakeWriter) WriteSummary(_ context.Context, s model.RunSummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries = append(f.summaries, s)
	return nil
}

type fakeEvents struct {
	mu     sync.Mutex
	prices int
	runs   []*model.RunReport
}

func (f *fakeEvents) PublishPrices(_ context.Context, _ string, recs []model.PriceRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices += len(recs)
	return nil
}

func (f *fakeEvents) PublishRun(_ context.Context, r *model.RunReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, r)
	return nil
}

type fakeNotifier struct{ calls int }

func (f *fakeNotifier) Notify(context.Context, *model.RunReport) int {
	f.calls++
	return 0
}

func seriesPage(p18, p22, p24, dates string) func() browser.Page {
	return func() browser.Page {
		return browsertest.New(map[string]string{
			"#goldRate18KT":  p18,
			"#goldRate22KT":  p22,
			"#goldRate24KT":  p24,
			"#goldRateDates": dates,
		})
	}
}

func cleanPage() func() browser.Page {
	return seriesPage("[7600, 7610, 7630]", "[9280, 9300, 9320]", "[10120, 10150, 10170]",
		"[13-01-2025, 14-01-2025, 15-01-2025]")
}

type harness struct {
	sessions *fakeSessions
	writer   *fakeWriter
	events   *fakeEvents
	notifier *fakeNotifier
	orch     *Orchestrator
}

func newHarness(page func() browser.Page, opts Options) *harness {
	h := &harness{
		sessions: &fakeSessions{page: page},
		writer:   &fakeWriter{},
		events:   &fakeEvents{},
		notifier: &fakeNotifier{},
	}
	h.orch = New(Deps{
		Registry: scrape.DefaultRegistry(),
		Sessions: h.sessions,
		Extractor: scrape.NewExtractor(scrape.Options{
			Location:     ist,
			Now:          now,
			PollInterval: time.Millisecond,
		}),
		Validator: validate.New(5000, 15000),
		Writer:    h.writer,
		Events:    h.events,
		Notifier:  h.notifier,
	}, opts)
	h.orch.now = now
	h.orch.newID = func() string { return "3f2b8c1d-0000-4000-8000-000000000001" }
	h.orch.sleep = func(context.Context, time.Duration) error { return nil }
	return h
}

var bangalore = model.Target{Jeweller: "tanishq", City: "Bangalore"}

func TestRun_EndToEnd(t *testing.T) {
	h := newHarness(cleanPage(), Options{Days: 3, PartialThreshold: 3})

	report, err := h.orch.Run(context.Background(), []model.Target{bangalore})
	require.NoError(t, err)

	assert.Equal(t, model.StatusSucceeded, report.Status)
	require.Len(t, report.Outcomes, 1)
	out := report.Outcomes[0]
	assert.Equal(t, model.StatusSucceeded, out.Status)
	assert.Equal(t, 9, out.Written)
	assert.Zero(t, out.Rejected)
	assert.Empty(t, out.SkippedDays)

	require.Len(t, h.writer.records, 9)
	prices := map[string]string{}
	for _, r := range h.writer.records {
		prices[r.Key()] = r.Price.String()
	}
	assert.Equal(t, "7630", prices["tanishq_bangalore_18k_2025-01-15"])
	assert.Equal(t, "9320", prices["tanishq_bangalore_22k_2025-01-15"])
	assert.Equal(t, "10170", prices["tanishq_bangalore_24k_2025-01-15"])
	assert.Equal(t, "7600", prices["tanishq_bangalore_18k_2025-01-13"])

	require.Len(t, h.writer.summaries, 1)
	s := h.writer.summaries[0]
	assert.Equal(t, "2025-01-15", s.ID)
	assert.Equal(t, 9, s.TotalEntries)
	assert.Equal(t, report.RunID, s.RunID)
	assert.Equal(t, model.DateRange{From: "2025-01-13", To: "2025-01-15"}, s.DateRange)
	assert.Len(t, s.LatestRates, 3)

	assert.Equal(t, 9, h.events.prices)
	assert.Len(t, h.events.runs, 1)
	assert.Equal(t, 1, h.notifier.calls)
	assert.Equal(t, 1, h.sessions.acquired)
	assert.Equal(t, 1, h.sessions.released)
}

func TestRun_OutOfBandReadingRejected(t *testing.T) {
	page := seriesPage("[7600, 7610, 7630]", "[9280, 9300, 92300]", "[10120, 10150, 10170]",
		"[13-01-2025, 14-01-2025, 15-01-2025]")
	h := newHarness(page, Options{Days: 3})

	report, err := h.orch.Run(context.Background(), []model.Target{bangalore})
	require.NoError(t, err)

	out := report.Outcomes[0]
	assert.Equal(t, model.StatusSucceeded, out.Status)
	assert.Equal(t, 8, out.Written)
	assert.Equal(t, 1, out.Rejected)
	for _, r := range h.writer.records {
		assert.NotEqual(t, "tanishq_bangalore_22k_2025-01-15", r.Key())
	}
}

func TestRun_UnsupportedTargetFailsAlone(t *testing.T) {
	h := newHarness(cleanPage(), Options{Days: 3})
	targets := []model.Target{
		{Jeweller: "kalyan", City: "Mumbai"},
		bangalore,
		{Jeweller: "tanishq", City: "Atlantis"},
	}

	report, err := h.orch.Run(context.Background(), targets)
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 3)

	assert.Equal(t, model.StatusFailed, report.Outcomes[0].Status)
	assert.Contains(t, report.Outcomes[0].Error, "not implemented")
	assert.Equal(t, model.StatusSucceeded, report.Outcomes[1].Status)
	assert.Equal(t, model.StatusFailed, report.Outcomes[2].Status)
	assert.Equal(t, model.StatusPartial, report.Status)
	assert.Len(t, h.writer.records, 9)
	// Unsupported targets never take a session.
	assert.Equal(t, 1, h.sessions.acquired)
}

func TestRun_AnchorFailureFailsTarget(t *testing.T) {
	h := newHarness(func() browser.Page {
		p := browsertest.New(nil)
		p.NavErr = errors.New("net::ERR_NAME_NOT_RESOLVED")
		return p
	}, Options{Days: 3})

	report, err := h.orch.Run(context.Background(), []model.Target{bangalore})
	require.NoError(t, err)

	out := report.Outcomes[0]
	assert.Equal(t, model.StatusFailed, out.Status)
	assert.Contains(t, out.Error, "ERR_NAME_NOT_RESOLVED")
	assert.Equal(t, model.StatusFailed, report.Status)
	assert.Empty(t, h.writer.records)
	assert.Empty(t, h.writer.summaries)
	assert.Equal(t, 1, h.sessions.released)
}

func TestRun_UnpublishedDaysWithinThreshold(t *testing.T) {
	h := newHarness(cleanPage(), Options{Days: 5, PartialThreshold: 3})

	report, err := h.orch.Run(context.Background(), []model.Target{bangalore})
	require.NoError(t, err)

	out := report.Outcomes[0]
	assert.Equal(t, model.StatusSucceeded, out.Status)
	require.Len(t, out.SkippedDays, 2)
	assert.Equal(t, "2025-01-12", out.SkippedDays[0].Date)
	assert.True(t, out.SkippedDays[0].Unpublished)
}

func TestRun_UnpublishedDaysOverThreshold(t *testing.T) {
	h := newHarness(cleanPage(), Options{Days: 5, PartialThreshold: 1})

	report, err := h.orch.Run(context.Background(), []model.Target{bangalore})
	require.NoError(t, err)

	assert.Equal(t, model.StatusPartial, report.Outcomes[0].Status)
	assert.Equal(t, 9, report.Outcomes[0].Written)
	assert.Equal(t, model.StatusPartial, report.Status)
}

func TestRun_BrowserStartIsFatal(t *testing.T) {
	h := newHarness(cleanPage(), Options{Days: 3})
	h.sessions.err = eris.Wrap(browser.ErrBrowserStart, "connection refused")
	targets := []model.Target{bangalore, {Jeweller: "tanishq", City: "Mumbai"}}

	report, err := h.orch.Run(context.Background(), targets)
	require.Error(t, err)
	assert.ErrorIs(t, err, browser.ErrBrowserStart)
	require.NotNil(t, report)
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, model.StatusFailed, report.Status)
	assert.Zero(t, h.notifier.calls)
}

func TestRun_WriteFailureFailsTarget(t *testing.T) {
	h := newHarness(cleanPage(), Options{Days: 3})
	h.writer.err = eris.Wrap(store.ErrAllWritesFailed, "store down")

	report, err := h.orch.Run(context.Background(), []model.Target{bangalore})
	require.NoError(t, err)

	out := report.Outcomes[0]
	assert.Equal(t, model.StatusFailed, out.Status)
	assert.Contains(t, out.Error, "store down")
}

func TestRun_NoStoreKeepsRecordsForBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "gold_prices.json")
	h := newHarness(cleanPage(), Options{Days: 3, BackupPath: path})
	h.orch.deps.Writer = nil

	report, err := h.orch.Run(context.Background(), []model.Target{bangalore})
	require.NoError(t, err)
	assert.Equal(t, 9, report.Outcomes[0].Written)

	a, err := backup.Read(path)
	require.NoError(t, err)
	assert.Len(t, a.Data, 9)
	assert.Equal(t, 9, a.Summary.TotalEntries)
	assert.Equal(t, report.RunID, a.Summary.RunID)
}

func TestRun_BackupDirNamesFileAfterRun(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(cleanPage(), Options{Days: 3, BackupDir: dir})

	report, err := h.orch.Run(context.Background(), []model.Target{bangalore})
	require.NoError(t, err)

	a, err := backup.Read(filepath.Join(dir, backup.FileName(report.RunID, report.StartedAt)))
	require.NoError(t, err)
	assert.Len(t, a.Data, 9)
}

func TestRun_BackupFailureIsReturned(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	h := newHarness(cleanPage(), Options{Days: 3, BackupPath: filepath.Join(blocker, "out.json")})

	report, err := h.orch.Run(context.Background(), []model.Target{bangalore})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline: backup")
	assert.Equal(t, model.StatusSucceeded, report.Status)
	assert.Len(t, h.writer.records, 9)
}

func TestRun_TargetDelayBetweenTargets(t *testing.T) {
	h := newHarness(cleanPage(), Options{Days: 1, TargetDelay: time.Second})
	var slept []time.Duration
	h.orch.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	targets := []model.Target{bangalore, {Jeweller: "tanishq", City: "Mumbai"}, {Jeweller: "tanishq", City: "Delhi"}}

	_, err := h.orch.Run(context.Background(), targets)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, slept)
}

func TestRun_CanceledMarksRemainingTargets(t *testing.T) {
	h := newHarness(cleanPage(), Options{Days: 1, TargetDelay: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	h.orch.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}
	targets := []model.Target{bangalore, {Jeweller: "tanishq", City: "Mumbai"}, {Jeweller: "tanishq", City: "Delhi"}}

	report, err := h.orch.Run(ctx, targets)
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 3)
	assert.Equal(t, model.StatusSucceeded, report.Outcomes[0].Status)
	for _, o := range report.Outcomes[1:] {
		assert.Equal(t, model.StatusFailed, o.Status)
		assert.Contains(t, o.Error, "interrupted")
	}
	assert.Equal(t, model.StatusPartial, report.Status)
}

func TestRun_LaterReadingWinsWithinTarget(t *testing.T) {
	h := newHarness(cleanPage(), Options{Days: 1})
	tr := &tracker{log: zap.NewNop()}
	triples := []model.RawTriple{
		{Jeweller: "tanishq", City: "Bangalore", Carat: "22K", PriceText: "9310", DateText: "2025-01-15"},
		{Jeweller: "tanishq", City: "Bangalore", Carat: "22K", PriceText: "9320", DateText: "2025-01-15"},
	}

	recs := h.orch.validateAll(tr, triples)
	require.Len(t, recs, 1)
	assert.Equal(t, "9320", recs[0].Price.String())
}

func TestDemoted(t *testing.T) {
	o := New(Deps{}, Options{PartialThreshold: 2})

	assert.False(t, o.demoted(nil))
	assert.False(t, o.demoted([]model.SkippedDay{{Unpublished: true}, {Unpublished: true}}))
	assert.True(t, o.demoted([]model.SkippedDay{{Unpublished: true}, {Unpublished: true}, {Unpublished: true}}))
	assert.True(t, o.demoted([]model.SkippedDay{{Reason: "page did not switch day"}}))
}

func TestRun_SeriesEndWithRateTextStaysUnpublished(t *testing.T) {
	h := newHarness(func() browser.Page {
		p := cleanPage()().(*browsertest.FakePage)
		p.Body = `<div class="goldrate-date">15-01-2025</div>
<div class="goldpurity-rate" data-purity="18KT"><span class="rate-value">7630</span></div>
<div class="goldpurity-rate" data-purity="22KT"><span class="rate-value">9320</span></div>
<div class="goldpurity-rate" data-purity="24KT"><span class="rate-value">10170</span></div>`
		return p
	}, Options{Days: 5, PartialThreshold: 3})

	report, err := h.orch.Run(context.Background(), []model.Target{bangalore})
	require.NoError(t, err)

	out := report.Outcomes[0]
	assert.Equal(t, model.StatusSucceeded, out.Status)
	assert.Equal(t, 9, out.Written)
	require.Len(t, out.SkippedDays, 2)
	for _, d := range out.SkippedDays {
		assert.True(t, d.Unpublished, d.Date)
	}
}

func TestRun_OneTargetNavigationFailureIsIsolated(t *testing.T) {
	var calls int
	h := newHarness(func() browser.Page {
		calls++
		p := cleanPage()().(*browsertest.FakePage)
		if calls == 1 {
			p.NavErr = errors.New("net::ERR_CONNECTION_RESET")
		}
		return p
	}, Options{Days: 3})
	mumbai := model.Target{Jeweller: "tanishq", City: "Mumbai"}

	report, err := h.orch.Run(context.Background(), []model.Target{bangalore, mumbai})
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 2)

	assert.Equal(t, model.StatusFailed, report.Outcomes[0].Status)
	assert.Contains(t, report.Outcomes[0].Error, "ERR_CONNECTION_RESET")
	assert.Zero(t, report.Outcomes[0].Written)
	assert.Equal(t, model.StatusSucceeded, report.Outcomes[1].Status)
	assert.Equal(t, 9, report.Outcomes[1].Written)
	assert.Equal(t, model.StatusPartial, report.Status)

	require.Len(t, h.writer.records, 9)
	for _, r := range h.writer.records {
		assert.Equal(t, model.City("Mumbai"), r.City)
	}
	assert.Equal(t, 2, h.sessions.released)
}

// pickerSite serves one day at a time behind a date input.
func pickerSite() *scrape.Site {
	s := scrape.Tanishq()
	s.SeriesDates = ""
	s.DateControl = &scrape.DateControl{Input: "#rate-date", Apply: "#apply"}
	return s
}

// pickerPage publishes rates for every day except blank, whose inputs the
// site clears.
func pickerPage(blank string) func() browser.Page {
	rates := map[string][3]string{
		"15-01-2025": {"7630", "9320", "10170"},
		"14-01-2025": {"7610", "9300", "10150"},
		"13-01-2025": {"7600", "9280", "10120"},
	}
	show := func(fields map[string]string, day string) {
		r := rates[day]
		if day == blank {
			r = [3]string{}
		}
		fields["#goldRate18KT"], fields["#goldRate22KT"], fields["#goldRate24KT"] = r[0], r[1], r[2]
		fields[".goldrate-date"] = day
	}
	return func() browser.Page {
		p := browsertest.New(map[string]string{"#rate-date": "", "#apply": ""})
		show(p.Fields, "15-01-2025")
		p.OnClick = func(p *browsertest.FakePage, sel string) {
			if sel == "#apply" {
				show(p.Fields, p.Fields["#rate-date"])
			}
		}
		return p
	}
}

func TestRun_MissingMiddleDayIsPartial(t *testing.T) {
	h := newHarness(pickerPage("14-01-2025"), Options{Days: 3, PartialThreshold: 3})
	h.orch.deps.Registry = scrape.NewRegistry(pickerSite())

	report, err := h.orch.Run(context.Background(), []model.Target{bangalore})
	require.NoError(t, err)

	out := report.Outcomes[0]
	assert.Equal(t, model.StatusPartial, out.Status)
	assert.Equal(t, 6, out.Written)
	require.Len(t, out.SkippedDays, 1)
	assert.Equal(t, "2025-01-14", out.SkippedDays[0].Date)
	assert.False(t, out.SkippedDays[0].Unpublished)

	days := map[string]int{}
	for _, r := range h.writer.records {
		days[r.Date.Format(model.DateLayout)]++
	}
	assert.Equal(t, map[string]int{"2025-01-15": 3, "2025-01-13": 3}, days)
}

func TestRun_PickerWindowSucceeds(t *testing.T) {
	h := newHarness(pickerPage(""), Options{Days: 3})
	h.orch.deps.Registry = scrape.NewRegistry(pickerSite())

	report, err := h.orch.Run(context.Background(), []model.Target{bangalore})
	require.NoError(t, err)
	assert.Equal(t, model.StatusSucceeded, report.Status)
	assert.Equal(t, 9, report.Outcomes[0].Written)
}
