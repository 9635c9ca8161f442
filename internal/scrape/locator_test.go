package scrape

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/goldrate-cli/internal/browser"
	"github.com/sells-group/goldrate-cli/internal/browser/browsertest"
	"github.com/sells-group/goldrate-cli/internal/model"
)

func TestSplitSeries(t *testing.T) {
	assert.Equal(t, []string{"7600", "7610"}, splitSeries("[7600, 7610]"))
	assert.Equal(t, []string{"13-01-2025", "14-01-2025"}, splitSeries(`["13-01-2025","14-01-2025"]`))
	assert.Nil(t, splitSeries("[]"))
	assert.Nil(t, splitSeries("[  ]"))
}

func TestHiddenInput_SeriesLengthMismatch(t *testing.T) {
	page := browsertest.New(map[string]string{
		"#goldRate18KT":  "[7600, 7610, 7630]",
		"#goldRateDates": "[14-01-2025, 15-01-2025]",
	})
	day := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)

	_, err := HiddenInput{}.Locate(context.Background(), page, Tanishq(), model.Carat18K, day)
	assert.ErrorContains(t, err, "3 values for 2 dates")
}

func TestHiddenInput_EmptyField(t *testing.T) {
	page := browsertest.New(map[string]string{"#goldRate18KT": "  "})
	_, err := HiddenInput{}.Locate(context.Background(), page, Tanishq(), model.Carat18K, time.Now())
	assert.ErrorIs(t, err, ErrFieldEmpty)
}

func TestHiddenInput_ScalarUsesDisplayedDate(t *testing.T) {
	page := browsertest.New(map[string]string{
		"#goldRate22KT":  "9320",
		".goldrate-date": "15-01-2025",
	})
	day := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)

	r, err := HiddenInput{}.Locate(context.Background(), page, Tanishq(), model.Carat22K, day)
	require.NoError(t, err)
	assert.Equal(t, Reading{PriceText: "9320", DateText: "15-01-2025"}, r)
}

func TestHiddenInput_UnparseableDisplayFallsBack(t *testing.T) {
	page := browsertest.New(map[string]string{
		"#goldRate22KT":  "9320",
		".goldrate-date": "Today's rate",
	})
	day := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)

	r, err := HiddenInput{}.Locate(context.Background(), page, Tanishq(), model.Carat22K, day)
	require.NoError(t, err)
	assert.Equal(t, "2025-01-15", r.DateText)
}

type stubLocator struct {
	name string
	r    Reading
	err  error
}

func (s stubLocator) Name() string { return s.name }

func (s stubLocator) Locate(context.Context, browser.Page, *Site, model.Carat, time.Time) (Reading, error) {
	return s.r, s.err
}

func TestChain_FirstSuccessWins(t *testing.T) {
	c := Chain{
		stubLocator{name: "a", err: ErrFieldEmpty},
		stubLocator{name: "b", r: Reading{PriceText: "9320"}},
		stubLocator{name: "c", r: Reading{PriceText: "1"}},
	}
	r, err := c.Locate(context.Background(), nil, Tanishq(), model.Carat22K, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "b", r.Method)
	assert.Equal(t, "9320", r.PriceText)
}

func TestChain_AllFail(t *testing.T) {
	c := Chain{stubLocator{name: "a", err: ErrFieldEmpty}, stubLocator{name: "b", err: errNoSelector}}
	_, err := c.Locate(context.Background(), nil, Tanishq(), model.Carat22K, time.Now())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFieldEmpty)
}

func TestChain_NothingMapped(t *testing.T) {
	_, err := DefaultChain().Locate(context.Background(), browsertest.New(nil), Kalyan(), model.Carat22K, time.Now())
	assert.ErrorContains(t, err, "no field mapped")
}

func TestChain_LocateSeries(t *testing.T) {
	page := browsertest.New(map[string]string{
		"#goldRate18KT":  "[7600, 7610]",
		"#goldRateDates": "[13-01-2025, 14-01-2025]",
	})
	page.Body = `<div class="goldpurity-rate" data-purity="18KT"><span class="rate-value">7630</span></div>`
	ctx := context.Background()

	r, err := DefaultChain().LocateSeries(ctx, page, Tanishq(), model.Carat18K, time.Date(2025, 1, 14, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "7610", r.PriceText)
	assert.Equal(t, "hidden_input", r.Method)

	_, err = DefaultChain().LocateSeries(ctx, page, Tanishq(), model.Carat18K, time.Date(2025, 1, 12, 0, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, ErrDayNotInSeries)

	page.Set("#goldRate18KT", "7630")
	_, err = DefaultChain().LocateSeries(ctx, page, Tanishq(), model.Carat18K, time.Date(2025, 1, 14, 0, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, ErrNoHistory)
}
