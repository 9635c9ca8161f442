package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/sells-group/goldrate-cli/internal/db"
	"github.com/sells-group/goldrate-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Documents of one
// collection share the prices table, partitioned by the collection column.
type SQLiteStore struct {
	db         *sql.DB
	collection string
	upsert     string
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn, collection string) (*SQLiteStore, error) {
	upsert, err := db.UpsertSQL(db.UpsertConfig{
		Table:        "prices",
		Columns:      priceColumns,
		ConflictKeys: []string{"collection", "key"},
	}, db.Question)
	if err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: conn, collection: collection, upsert: upsert}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS prices (
	collection        TEXT NOT NULL,
	key               TEXT NOT NULL,
	jeweller          TEXT NOT NULL,
	city              TEXT NOT NULL,
	carat             TEXT NOT NULL,
	price             TEXT NOT NULL,
	date              TEXT NOT NULL,
	extracted_at      TEXT NOT NULL,
	source_url        TEXT NOT NULL DEFAULT '',
	extraction_method TEXT NOT NULL DEFAULT '',
	currency          TEXT NOT NULL DEFAULT 'INR',
	unit              TEXT NOT NULL DEFAULT 'per_gram',
	PRIMARY KEY (collection, key)
);

CREATE TABLE IF NOT EXISTS summaries (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	body       TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (collection, id)
);

CREATE INDEX IF NOT EXISTS idx_prices_date ON prices(collection, date);
CREATE INDEX IF NOT EXISTS idx_prices_target ON prices(collection, jeweller, city);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) row(rec model.PriceRecord) []any {
	return []any{
		s.collection, rec.Key(), rec.Jeweller.Slug(), string(rec.City), string(rec.Carat),
		rec.Price.String(), rec.DateString(), rec.ExtractedAt.UTC().Format(time.RFC3339Nano),
		rec.SourceURL, rec.ExtractionMethod, rec.Currency, rec.Unit,
	}
}

func (s *SQLiteStore) UpsertPrice(ctx context.Context, rec model.PriceRecord) error {
	if _, err := s.db.ExecContext(ctx, s.upsert, s.row(rec)...); err != nil {
		return eris.Wrapf(err, "sqlite: upsert price %s", rec.Key())
	}
	return nil
}

func (s *SQLiteStore) UpsertPrices(ctx context.Context, recs []model.PriceRecord) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, s.upsert)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare upsert")
	}
	defer stmt.Close()

	for _, rec := range recs {
		if _, err := stmt.ExecContext(ctx, s.row(rec)...); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert price %s", rec.Key())
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit tx")
	}
	return len(recs), nil
}

const sqliteSelectPrice = `SELECT jeweller, city, carat, price, date, extracted_at, source_url, extraction_method, currency, unit FROM prices`

func (s *SQLiteStore) GetPrice(ctx context.Context, key string) (*model.PriceRecord, error) {
	row := s.db.QueryRowContext(ctx, sqliteSelectPrice+` WHERE collection = ? AND key = ?`, s.collection, key)
	rec, err := scanSQLitePrice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get price %s", key)
	}
	return rec, nil
}

func (s *SQLiteStore) ListPrices(ctx context.Context, filter PriceFilter) ([]model.PriceRecord, error) {
	where, args := filterClause(filter, 2, db.Question, func(t time.Time) any { return t.Format(model.DateLayout) })
	query := sqliteSelectPrice + ` WHERE collection = ?` + where +
		` ORDER BY date DESC, jeweller, city, carat LIMIT ?`
	args = append([]any{s.collection}, args...)
	args = append(args, filter.limit())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list prices")
	}
	defer rows.Close()

	var out []model.PriceRecord
	for rows.Next() {
		rec, err := scanSQLitePrice(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan price")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list prices iterate")
}

func (s *SQLiteStore) UpsertSummary(ctx context.Context, summary model.RunSummary) error {
	body, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal summary")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO summaries (collection, id, body, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (collection, id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		s.collection+SummarySuffix, summary.ID, string(body), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: upsert summary %s", summary.ID)
}

func (s *SQLiteStore) LatestSummary(ctx context.Context) (*model.RunSummary, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM summaries WHERE collection = ? ORDER BY id DESC LIMIT 1`,
		s.collection+SummarySuffix,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest summary")
	}
	var summary model.RunSummary
	if err := json.Unmarshal([]byte(body), &summary); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal summary")
	}
	return &summary, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLitePrice(row scannable) (*model.PriceRecord, error) {
	var (
		rec                       model.PriceRecord
		jeweller, city, carat     string
		price, day, extractedText string
	)
	if err := row.Scan(&jeweller, &city, &carat, &price, &day, &extractedText,
		&rec.SourceURL, &rec.ExtractionMethod, &rec.Currency, &rec.Unit); err != nil {
		return nil, err
	}

	var err error
	if rec.Price, err = decimal.NewFromString(price); err != nil {
		return nil, eris.Wrapf(err, "parse price %q", price)
	}
	if rec.Date, err = time.Parse(model.DateLayout, day); err != nil {
		return nil, eris.Wrapf(err, "parse date %q", day)
	}
	if rec.ExtractedAt, err = time.Parse(time.RFC3339Nano, extractedText); err != nil {
		return nil, eris.Wrapf(err, "parse extracted_at %q", extractedText)
	}
	rec.Jeweller = model.Jeweller(jeweller)
	rec.City = model.City(city)
	rec.Carat = model.Carat(carat)
	return &rec, nil
}
