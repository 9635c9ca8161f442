package store

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/goldrate-cli/internal/model"
	"github.com/sells-group/goldrate-cli/internal/resilience"
)

// ErrAllWritesFailed is returned when a non-empty batch wrote nothing.
var ErrAllWritesFailed = eris.New("store: every write in the batch failed")

// WriteFailure records one record the writer gave up on.
type WriteFailure struct {
	Key string `json:"key"`
	Err string `json:"error"`
}

// WriteResult tallies one Write call.
type WriteResult struct {
	Written int            `json:"written"`
	Failed  []WriteFailure `json:"failed,omitempty"`
}

// Writer upserts records one at a time with retries behind a circuit
// breaker. A record that still fails is logged and skipped; the rest of
// the batch continues.
type Writer struct {
	store   Store
	driver  string
	policy  resilience.RetryPolicy
	breaker *resilience.Breaker
}

// NewWriter wraps s. breaker may be nil.
func NewWriter(s Store, driver string, policy resilience.RetryPolicy, breaker *resilience.Breaker) *Writer {
	return &Writer{store: s, driver: driver, policy: policy, breaker: breaker}
}

// Store returns the underlying store.
func (w *Writer) Store() Store { return w.store }

func (w *Writer) do(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	p := w.policy
	p.OnRetry = resilience.LogRetries(w.driver, key)
	return resilience.Do(ctx, p, func(ctx context.Context) error {
		if w.breaker == nil {
			return fn(ctx)
		}
		return w.breaker.Execute(ctx, fn)
	})
}

// Write upserts recs in order. It returns ErrAllWritesFailed when recs is
// non-empty and nothing was written, and ctx's error if ctx ends mid-batch.
func (w *Writer) Write(ctx context.Context, recs []model.PriceRecord) (WriteResult, error) {
	log := zap.L().With(zap.String("driver", w.driver))
	var res WriteResult

	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		key := rec.Key()
		err := w.do(ctx, key, func(ctx context.Context) error {
			return w.store.UpsertPrice(ctx, rec)
		})
		if err != nil {
			log.Error("store: write failed",
				zap.String("key", key),
				zap.Error(err),
			)
			res.Failed = append(res.Failed, WriteFailure{Key: key, Err: err.Error()})
			continue
		}

		log.Debug("store: wrote price", zap.String("key", key), zap.String("price", rec.Price.String()))
		res.Written++
	}

	if len(recs) > 0 && res.Written == 0 {
		return res, eris.Wrapf(ErrAllWritesFailed, "%d records", len(recs))
	}
	return res, nil
}

// WriteBatch upserts recs in one UpsertPrices call under the retry policy.
// If the batch still fails it falls back to Write, so one bad record costs
// only itself.
func (w *Writer) WriteBatch(ctx context.Context, recs []model.PriceRecord) (WriteResult, error) {
	if len(recs) == 0 {
		return WriteResult{}, nil
	}
	var n int
	err := w.do(ctx, "batch", func(ctx context.Context) error {
		var err error
		n, err = w.store.UpsertPrices(ctx, recs)
		return err
	})
	if err == nil {
		zap.L().Debug("store: wrote batch", zap.String("driver", w.driver), zap.Int("records", n))
		return WriteResult{Written: n}, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return WriteResult{}, ctxErr
	}

	zap.L().Warn("store: batch write failed, writing records one at a time",
		zap.String("driver", w.driver),
		zap.Int("records", len(recs)),
		zap.Error(err),
	)
	return w.Write(ctx, recs)
}

// WriteSummary upserts the run summary under the same retry policy.
func (w *Writer) WriteSummary(ctx context.Context, summary model.RunSummary) error {
	err := w.do(ctx, summary.ID, func(ctx context.Context) error {
		return w.store.UpsertSummary(ctx, summary)
	})
	return eris.Wrapf(err, "store: write summary %s", summary.ID)
}
