package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/goldrate-cli/internal/model"
)

// redisClient is the subset of *redis.Client used by RedisStore.
type redisClient interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	ZRevRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Ping(ctx context.Context) *redis.StatusCmd
	TxPipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error)
	Close() error
}

// RedisStore implements Store on Redis. Each price document is a hash at
// "{collection}:{key}", indexed by a sorted set scored by calendar day.
// The hash and its index entry are written in one MULTI/EXEC, so a reader
// never sees one without the other.
type RedisStore struct {
	client     redisClient
	collection string
}

// NewRedis connects to addr and verifies the connection.
func NewRedis(ctx context.Context, addr, collection string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, eris.Wrapf(err, "redis: ping %s", addr)
	}
	return &RedisStore{client: client, collection: collection}, nil
}

func (s *RedisStore) docKey(key string) string { return s.collection + ":" + key }
func (s *RedisStore) indexKey() string { return s.collection + ":index" }
func (s *RedisStore) summaryKey(id string) string { return s.collection + SummarySuffix + ":" + id }
func (s *RedisStore) summaryIndexKey() string { return s.collection + SummarySuffix + ":index" }

// Migrate is a no-op; Redis keys need no schema.
func (s *RedisStore) Migrate(context.Context) error { return nil }

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) UpsertPrice(ctx context.Context, rec model.PriceRecord) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		s.queuePrice(ctx, pipe, rec)
		return nil
	})
	return eris.Wrapf(err, "redis: upsert price %s", rec.Key())
}

// UpsertPrices writes the whole batch in one transaction.
func (s *RedisStore) UpsertPrices(ctx context.Context, recs []model.PriceRecord) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, rec := range recs {
			s.queuePrice(ctx, pipe, rec)
		}
		return nil
	})
	if err != nil {
		return 0, eris.Wrapf(err, "redis: upsert %d prices", len(recs))
	}
	return len(recs), nil
}

func (s *RedisStore) queuePrice(ctx context.Context, pipe redis.Pipeliner, rec model.PriceRecord) {
	key := rec.Key()
	pipe.HSet(ctx, s.docKey(key), map[string]any{
		"jeweller":          rec.Jeweller.Slug(),
		"city":              string(rec.City),
		"carat":             string(rec.Carat),
		"price":             rec.Price.String(),
		"date":              rec.DateString(),
		"extracted_at":      rec.ExtractedAt.UTC().Format(time.RFC3339Nano),
		"source_url":        rec.SourceURL,
		"extraction_method": rec.ExtractionMethod,
		"currency":          rec.Currency,
		"unit":              rec.Unit,
	})
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(rec.Date.Unix()), Member: key})
}

func (s *RedisStore) GetPrice(ctx context.Context, key string) (*model.PriceRecord, error) {
	fields, err := s.client.HGetAll(ctx, s.docKey(key)).Result()
	if err != nil {
		return nil, eris.Wrapf(err, "redis: get price %s", key)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return hashRecord(fields)
}

func (s *RedisStore) ListPrices(ctx context.Context, filter PriceFilter) ([]model.PriceRecord, error) {
	keys, err := s.client.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, eris.Wrap(err, "redis: list prices")
	}

	var out []model.PriceRecord
	for _, key := range keys {
		rec, err := s.GetPrice(ctx, key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if filter.Match(*rec) {
			out = append(out, *rec)
		}
	}
	sortRecords(out)
	if len(out) > filter.limit() {
		out = out[:filter.limit()]
	}
	return out, nil
}

func (s *RedisStore) UpsertSummary(ctx context.Context, summary model.RunSummary) error {
	body, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "redis: marshal summary")
	}
	day, err := time.Parse(model.DateLayout, summary.ID)
	if err != nil {
		day = summary.ScrapeTimestamp
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.summaryKey(summary.ID), body, 0)
		pipe.ZAdd(ctx, s.summaryIndexKey(), redis.Z{Score: float64(day.Unix()), Member: summary.ID})
		return nil
	})
	return eris.Wrapf(err, "redis: upsert summary %s", summary.ID)
}

func (s *RedisStore) LatestSummary(ctx context.Context) (*model.RunSummary, error) {
	ids, err := s.client.ZRevRange(ctx, s.summaryIndexKey(), 0, 0).Result()
	if err != nil {
		return nil, eris.Wrap(err, "redis: latest summary")
	}
	if len(ids) == 0 {
		return nil, ErrNotFound
	}
	body, err := s.client.Get(ctx, s.summaryKey(ids[0])).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "redis: get summary %s", ids[0])
	}
	var summary model.RunSummary
	if err := json.Unmarshal(body, &summary); err != nil {
		return nil, eris.Wrap(err, "redis: unmarshal summary")
	}
	return &summary, nil
}

func hashRecord(f map[string]string) (*model.PriceRecord, error) {
	price, err := decimal.NewFromString(f["price"])
	if err != nil {
		return nil, eris.Wrapf(err, "redis: parse price %q", f["price"])
	}
	day, err := time.Parse(model.DateLayout, f["date"])
	if err != nil {
		return nil, eris.Wrapf(err, "redis: parse date %q", f["date"])
	}
	extracted, err := time.Parse(time.RFC3339Nano, f["extracted_at"])
	if err != nil {
		return nil, eris.Wrapf(err, "redis: parse extracted_at %q", f["extracted_at"])
	}
	return &model.PriceRecord{
		Jeweller:         model.Jeweller(f["jeweller"]),
		City:             model.City(f["city"]),
		Carat:            model.Carat(f["carat"]),
		Price:            price,
		Date:             day,
		ExtractedAt:      extracted,
		SourceURL:        f["source_url"],
		ExtractionMethod: f["extraction_method"],
		Currency:         f["currency"],
		Unit:             f["unit"],
	}, nil
}
