package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/goldrate-cli/internal/db"
	"github.com/sells-group/goldrate-cli/internal/model"
)

const (
	pgPriceTable   = "gold_prices"
	pgSummaryTable = "gold_price_summaries"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool       db.Pool
	closeFn    func()
	collection string
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

var pgUpsertConfig = db.UpsertConfig{
	Table:        pgPriceTable,
	Columns:      priceColumns,
	ConflictKeys: []string{"collection", "key"},
}

var pgUpsertPrice = func() string {
	q, err := db.UpsertSQL(pgUpsertConfig, db.Dollar)
	if err != nil {
		panic(err)
	}
	return q
}()

const (
	pgSelectPrice = `SELECT jeweller, city, carat, price::text, date, extracted_at, source_url, extraction_method, currency, unit FROM gold_prices`

	pgUpsertSummary = `INSERT INTO gold_price_summaries (collection, id, body, updated_at) VALUES ($1, $2, $3, $4)
ON CONFLICT (collection, id) DO UPDATE SET body = EXCLUDED.body, updated_at = EXCLUDED.updated_at`

	pgLatestSummary = `SELECT body FROM gold_price_summaries WHERE collection = $1 ORDER BY id DESC LIMIT 1`
)

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the per-record write path.
var preparedStatements = map[string]string{
	"upsert_price":   pgUpsertPrice,
	"get_price":      pgSelectPrice + ` WHERE collection = $1 AND key = $2`,
	"upsert_summary": pgUpsertSummary,
	"latest_summary": pgLatestSummary,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString, collection string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close, collection: collection}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS gold_prices (
	collection        TEXT NOT NULL,
	key               TEXT NOT NULL,
	jeweller          TEXT NOT NULL,
	city              TEXT NOT NULL,
	carat             TEXT NOT NULL,
	price             NUMERIC(12, 2) NOT NULL,
	date              DATE NOT NULL,
	extracted_at      TIMESTAMPTZ NOT NULL,
	source_url        TEXT NOT NULL DEFAULT '',
	extraction_method TEXT NOT NULL DEFAULT '',
	currency          TEXT NOT NULL DEFAULT 'INR',
	unit              TEXT NOT NULL DEFAULT 'per_gram',
	PRIMARY KEY (collection, key)
);

CREATE INDEX IF NOT EXISTS idx_gold_prices_date ON gold_prices(collection, date DESC);
CREATE INDEX IF NOT EXISTS idx_gold_prices_target ON gold_prices(collection, jeweller, city);

CREATE TABLE IF NOT EXISTS gold_price_summaries (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	body       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (collection, id)
);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) row(rec model.PriceRecord) ([]any, error) {
	var price pgtype.Numeric
	if err := price.Scan(rec.Price.String()); err != nil {
		return nil, eris.Wrapf(err, "postgres: encode price %s", rec.Price)
	}
	return []any{
		s.collection, rec.Key(), rec.Jeweller.Slug(), string(rec.City), string(rec.Carat),
		price, rec.Date, rec.ExtractedAt.UTC(),
		rec.SourceURL, rec.ExtractionMethod, rec.Currency, rec.Unit,
	}, nil
}

func (s *PostgresStore) UpsertPrice(ctx context.Context, rec model.PriceRecord) error {
	args, err := s.row(rec)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, pgUpsertPrice, args...); err != nil {
		return eris.Wrapf(err, "postgres: upsert price %s", rec.Key())
	}
	return nil
}

// UpsertPrices writes a batch through a temp table and COPY. Keys repeated
// within the batch are collapsed to their last occurrence first, since a
// single INSERT ... ON CONFLICT cannot touch the same row twice.
func (s *PostgresStore) UpsertPrices(ctx context.Context, recs []model.PriceRecord) (int, error) {
	seen := make(map[string]int, len(recs))
	rows := make([][]any, 0, len(recs))
	for _, rec := range recs {
		args, err := s.row(rec)
		if err != nil {
			return 0, err
		}
		if i, ok := seen[rec.Key()]; ok {
			rows[i] = args
			continue
		}
		seen[rec.Key()] = len(rows)
		rows = append(rows, args)
	}

	n, err := db.BulkUpsert(ctx, s.pool, pgUpsertConfig, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert prices")
	}
	return int(n), nil
}

func (s *PostgresStore) GetPrice(ctx context.Context, key string) (*model.PriceRecord, error) {
	row := s.pool.QueryRow(ctx, pgSelectPrice+` WHERE collection = $1 AND key = $2`, s.collection, key)
	rec, err := scanPostgresPrice(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get price %s", key)
	}
	return rec, nil
}

func (s *PostgresStore) ListPrices(ctx context.Context, filter PriceFilter) ([]model.PriceRecord, error) {
	where, args := filterClause(filter, 2, db.Dollar, func(t time.Time) any { return t })
	args = append([]any{s.collection}, args...)
	query := pgSelectPrice + ` WHERE collection = $1` + where +
		fmt.Sprintf(` ORDER BY date DESC, jeweller, city, carat LIMIT $%d`, len(args)+1)
	args = append(args, filter.limit())

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list prices")
	}
	defer rows.Close()

	var out []model.PriceRecord
	for rows.Next() {
		rec, err := scanPostgresPrice(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan price")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list prices iterate")
}

func (s *PostgresStore) UpsertSummary(ctx context.Context, summary model.RunSummary) error {
	body, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal summary")
	}
	_, err = s.pool.Exec(ctx, pgUpsertSummary,
		s.collection+SummarySuffix, summary.ID, body, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: upsert summary %s", summary.ID)
}

func (s *PostgresStore) LatestSummary(ctx context.Context) (*model.RunSummary, error) {
	var body []byte
	err := s.pool.QueryRow(ctx, pgLatestSummary, s.collection+SummarySuffix).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: latest summary")
	}
	var summary model.RunSummary
	if err := json.Unmarshal(body, &summary); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal summary")
	}
	return &summary, nil
}

func scanPostgresPrice(row pgx.Row) (*model.PriceRecord, error) {
	var (
		rec                   model.PriceRecord
		jeweller, city, carat string
		price                 string
	)
	if err := row.Scan(&jeweller, &city, &carat, &price, &rec.Date, &rec.ExtractedAt,
		&rec.SourceURL, &rec.ExtractionMethod, &rec.Currency, &rec.Unit); err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(price)
	if err != nil {
		return nil, eris.Wrapf(err, "parse price %q", price)
	}
	rec.Price = d
	rec.Date = model.Day(rec.Date)
	rec.ExtractedAt = rec.ExtractedAt.UTC()
	rec.Jeweller = model.Jeweller(jeweller)
	rec.City = model.City(city)
	rec.Carat = model.Carat(carat)
	return &rec, nil
}
