package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/goldrate-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock, collection: "gold_prices"}
	return s, mock
}

var priceRowColumns = []string{
	"jeweller", "city", "carat", "price", "date", "extracted_at",
	"source_url", "extraction_method", "currency", "unit",
}

func TestPostgresStore_UpsertPrice(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	rec := testRecord(model.Carat22K, "9320", "2025-01-15")

	mock.ExpectExec(`INSERT INTO "gold_prices" .* ON CONFLICT \("collection", "key"\) DO UPDATE SET`).
		WithArgs("gold_prices", "tanishq_bangalore_22k_2025-01-15", "tanishq", "Bangalore", "22K",
			pgxmock.AnyArg(), rec.Date, rec.ExtractedAt,
			rec.SourceURL, "hidden_input", "INR", "per_gram").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.UpsertPrice(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertPrice_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`ON CONFLICT`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset by peer"))

	err := s.UpsertPrice(context.Background(), testRecord(model.Carat18K, "7630", "2025-01-15"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: upsert price tanishq_bangalore_18k_2025-01-15")
}

func TestPostgresStore_UpsertPrices_DedupesKeys(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_gold_prices"}, priceColumns).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "gold_prices" .* SELECT .* ON CONFLICT`).WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := s.UpsertPrices(context.Background(), []model.PriceRecord{
		testRecord(model.Carat22K, "9320", "2025-01-15"),
		testRecord(model.Carat22K, "9325", "2025-01-15"),
		testRecord(model.Carat24K, "10170", "2025-01-15"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetPrice(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	extracted := time.Date(2025, 1, 15, 4, 30, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT jeweller, city, carat, price::text, date, extracted_at, .* FROM gold_prices WHERE collection = \$1 AND key = \$2`).
		WithArgs("gold_prices", "tanishq_bangalore_24k_2025-01-15").
		WillReturnRows(pgxmock.NewRows(priceRowColumns).
			AddRow("tanishq", "Bangalore", "24K", "10170.00", day("2025-01-15"), extracted,
				"https://www.tanishq.co.in/gold-rate.html?lang=en_IN", "hidden_input", "INR", "per_gram"))

	got, err := s.GetPrice(context.Background(), "tanishq_bangalore_24k_2025-01-15")
	require.NoError(t, err)
	assert.Equal(t, "10170", got.Price.String())
	assert.Equal(t, model.Carat24K, got.Carat)
	assert.Equal(t, "tanishq_bangalore_24k_2025-01-15", got.Key())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetPrice_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM gold_prices WHERE collection = \$1 AND key = \$2`).
		WithArgs("gold_prices", "missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetPrice(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListPrices(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	from := day("2025-01-10")

	mock.ExpectQuery(`WHERE collection = \$1 AND jeweller = \$2 AND carat = \$3 AND date >= \$4 ORDER BY date DESC, jeweller, city, carat LIMIT \$5`).
		WithArgs("gold_prices", "tanishq", "22K", from, 10).
		WillReturnRows(pgxmock.NewRows(priceRowColumns).
			AddRow("tanishq", "Bangalore", "22K", "9320.00", day("2025-01-15"), time.Now(), "", "hidden_input", "INR", "per_gram").
			AddRow("tanishq", "Bangalore", "22K", "9300.00", day("2025-01-14"), time.Now(), "", "hidden_input", "INR", "per_gram"))

	recs, err := s.ListPrices(context.Background(), PriceFilter{
		Jeweller: "Tanishq",
		Carat:    "22k",
		From:     from,
		Limit:    10,
	})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "9320", recs[0].Price.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Summary(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	summary := model.BuildSummary(
		[]model.PriceRecord{testRecord(model.Carat22K, "9320", "2025-01-15")},
		time.Date(2025, 1, 15, 5, 0, 0, 0, time.UTC),
	)

	mock.ExpectExec(`INSERT INTO gold_price_summaries`).
		WithArgs("gold_prices_summary", "2025-01-15", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, s.UpsertSummary(context.Background(), summary))

	mock.ExpectQuery(`SELECT body FROM gold_price_summaries WHERE collection = \$1 ORDER BY id DESC LIMIT 1`).
		WithArgs("gold_prices_summary").
		WillReturnRows(pgxmock.NewRows([]string{"body"}).
			AddRow([]byte(`{"id":"2025-01-15","total_entries":1,"summary":"Gold prices from 1 jewellers across 1 cities"}`)))

	got, err := s.LatestSummary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2025-01-15", got.ID)
	assert.Equal(t, 1, got.TotalEntries)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LatestSummary_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT body FROM gold_price_summaries`).
		WithArgs("gold_prices_summary").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.LatestSummary(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS gold_prices`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CloseWithoutPool(t *testing.T) {
	s := &PostgresStore{}
	assert.NoError(t, s.Close())
}
