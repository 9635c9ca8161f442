package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/goldrate-cli/internal/model"
	"github.com/sells-group/goldrate-cli/internal/scrape"
	"github.com/sells-group/goldrate-cli/internal/validate"
)

// ErrNoRecords means a target's whole window produced no valid record.
var ErrNoRecords = eris.New("pipeline: no valid records")

// tracker holds one target's outcome and logs every state transition.
type tracker struct {
	out   model.RunOutcome
	log   *zap.Logger
	start time.Time
}

func (t *tracker) to(s model.TargetStatus) {
	t.log.Info("pipeline: target state",
		zap.String("from", string(t.out.Status)),
		zap.String("to", string(s)),
	)
	t.out.Status = s
}

func (t *tracker) fail(err error) model.RunOutcome {
	t.out.Error = err.Error()
	t.log.Error("pipeline: target failed", zap.Error(err))
	t.to(model.StatusFailed)
	return t.finish()
}

func (t *tracker) finish() model.RunOutcome {
	t.out.Duration = time.Since(t.start)
	return t.out
}

// runTarget runs one target to a terminal state. The error is non-nil only
// for fatal conditions.
func (o *Orchestrator) runTarget(ctx context.Context, runLog *zap.Logger, target model.Target) (model.RunOutcome, error) {
	tr := &tracker{
		out:   model.RunOutcome{Target: target, Status: model.StatusPending},
		log:   runLog.With(zap.String("target", target.String())),
		start: time.Now(),
	}

	site, resolved, err := o.deps.Registry.Resolve(target)
	tr.out.Target = resolved
	if err != nil {
		return tr.fail(err), nil
	}

	tr.to(model.StatusExtracting)
	triples, skipped, err := o.extract(ctx, tr, site, resolved)
	if err != nil {
		if isFatal(err) {
			return tr.fail(err), err
		}
		return tr.fail(err), nil
	}
	tr.out.SkippedDays = skipped

	tr.to(model.StatusValidating)
	records := o.validateAll(tr, triples)
	if len(records) == 0 {
		return tr.fail(eris.Wrapf(ErrNoRecords, "%d readings, %d rejected", len(triples), tr.out.Rejected)), nil
	}
	tr.out.Records = records

	tr.to(model.StatusWriting)
	if o.deps.Writer == nil {
		tr.out.Written = len(records)
		tr.log.Info("pipeline: store disabled, records kept for backup", zap.Int("records", len(records)))
	} else {
		res, err := o.deps.Writer.Write(ctx, records)
		tr.out.Written = res.Written
		tr.out.Rejected += len(res.Failed)
		if err != nil {
			return tr.fail(err), nil
		}
	}

	if o.demoted(skipped) {
		tr.to(model.StatusPartial)
	} else {
		tr.to(model.StatusSucceeded)
	}
	tr.log.Info("pipeline: target done",
		zap.Int("written", tr.out.Written),
		zap.Int("rejected", tr.out.Rejected),
		zap.Int("skipped_days", len(skipped)),
	)
	return tr.finish(), nil
}

// extract walks the window in one session and releases it before
// returning.
func (o *Orchestrator) extract(ctx context.Context, tr *tracker, site *scrape.Site, target model.Target) ([]model.RawTriple, []model.SkippedDay, error) {
	sess, err := o.deps.Sessions.Acquire(ctx)
	if err != nil {
		return nil, nil, eris.Wrap(err, "pipeline: acquire session")
	}
	defer func() {
		if err := sess.Release(); err != nil {
			tr.log.Warn("pipeline: release session", zap.Error(err))
		}
	}()

	var (
		triples []model.RawTriple
		skipped []model.SkippedDay
	)
	for res := range o.deps.Extractor.Extract(ctx, sess, site, target, o.opts.Days) {
		if errors.Is(res.Err, scrape.ErrAnchorUnavailable) {
			return nil, nil, res.Err
		}
		if res.Skipped() {
			reason := "no readings"
			if res.Err != nil {
				reason = res.Err.Error()
			}
			skipped = append(skipped, model.SkippedDay{
				Date:   res.Day.Format(model.DateLayout),
				Reason: reason,
				// Unpublished days are tolerated up to the threshold.
				Unpublished: res.Unpublished(),
			})
			continue
		}
		triples = append(triples, res.Triples...)
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, eris.Wrap(err, "pipeline: extraction interrupted")
	}
	return triples, skipped, nil
}

// validateAll keeps valid records, last reading per key winning, and
// counts the rest as rejections.
func (o *Orchestrator) validateAll(tr *tracker, triples []model.RawTriple) []model.PriceRecord {
	index := make(map[string]int, len(triples))
	var records []model.PriceRecord
	for _, raw := range triples {
		rec, err := o.deps.Validator.Validate(raw)
		if err != nil {
			tr.out.Rejected++
			var rej *validate.RejectError
			reason := err.Error()
			if errors.As(err, &rej) {
				reason = rej.Reason
			}
			tr.log.Warn("pipeline: reading rejected",
				zap.String("carat", raw.Carat),
				zap.String("price_text", raw.PriceText),
				zap.String("date_text", raw.DateText),
				zap.String("reason", reason),
			)
			continue
		}
		if i, ok := index[rec.Key()]; ok {
			records[i] = rec
			continue
		}
		index[rec.Key()] = len(records)
		records = append(records, rec)
	}
	return records
}

// demoted reports whether the skipped days make the target partial: any
// read failure does, while unpublished days only count once they exceed
// the threshold.
func (o *Orchestrator) demoted(skipped []model.SkippedDay) bool {
	unpublished := 0
	for _, d := range skipped {
		if !d.Unpublished {
			return true
		}
		unpublished++
	}
	return unpublished > o.opts.PartialThreshold
}
