// Package pipeline runs extraction, validation and storage for a list of
// (jeweller, city) targets.
package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/goldrate-cli/internal/backup"
	"github.com/sells-group/goldrate-cli/internal/browser"
	"github.com/sells-group/goldrate-cli/internal/model"
	"github.com/sells-group/goldrate-cli/internal/scrape"
	"github.com/sells-group/goldrate-cli/internal/store"
	"github.com/sells-group/goldrate-cli/internal/validate"
)

// SessionSource hands out one browser session per target.
type SessionSource interface {
	Acquire(ctx context.Context) (*browser.Session, error)
}

// PriceWriter persists validated records and the run summary.
type PriceWriter interface {
	Write(ctx context.Context, recs []model.PriceRecord) (store.WriteResult, error)
	WriteSummary(ctx context.Context, summary model.RunSummary) error
}

// EventPublisher announces stored prices and finished runs.
type EventPublisher interface {
	PublishPrices(ctx context.Context, runID string, recs []model.PriceRecord) error
	PublishRun(ctx context.Context, report *model.RunReport) error
}

// Notifier alerts on a finished run.
type Notifier interface {
	Notify(ctx context.Context, report *model.RunReport) int
}

// Deps are the collaborators of an Orchestrator. Writer, Events and
// Notifier are optional; a nil Writer runs without a store.
type Deps struct {
	Registry  *scrape.Registry
	Sessions  SessionSource
	Extractor *scrape.Extractor
	Validator *validate.Validator
	Writer    PriceWriter
	Events    EventPublisher
	Notifier  Notifier
}

// Options tunes a run.
type Options struct {
	// Days is the window length per target, counting today.
	Days int
	// TargetDelay is the pause between consecutive targets.
	TargetDelay time.Duration
	// PartialThreshold is how many unpublished days a target may skip
	// before it is reported partial.
	PartialThreshold int
	// BackupPath, when set, receives the run's JSON artifact.
	BackupPath string
	// BackupDir is used when BackupPath is empty; the file is named after
	// the run.
	BackupDir string
}

// Orchestrator drives targets strictly one after another.
type Orchestrator struct {
	deps  Deps
	opts  Options
	now   func() time.Time
	newID func() string
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an Orchestrator.
func New(deps Deps, opts Options) *Orchestrator {
	if opts.Days < 1 {
		opts.Days = 1
	}
	return &Orchestrator{
		deps:  deps,
		opts:  opts,
		now:   time.Now,
		newID: uuid.NewString,
		sleep: sleepCtx,
	}
}

// Run processes targets in order and returns the aggregate report. Target
// failures are recorded in the report; the returned error is reserved for
// fatal conditions (the browser cannot start, the backup cannot be
// written), in which case the report covers the targets attempted so far.
func (o *Orchestrator) Run(ctx context.Context, targets []model.Target) (*model.RunReport, error) {
	report := &model.RunReport{
		RunID:     o.newID(),
		StartedAt: o.now().UTC(),
	}
	log := zap.L().With(zap.String("run_id", report.RunID))
	log.Info("pipeline: run starting",
		zap.Int("targets", len(targets)),
		zap.Int("days", o.opts.Days),
		zap.Bool("store", o.deps.Writer != nil),
	)

	var fatal error
	for i, t := range targets {
		if i > 0 && o.opts.TargetDelay > 0 {
			if err := o.sleep(ctx, o.opts.TargetDelay); err != nil {
				report.Outcomes = append(report.Outcomes, interrupted(targets[i:], err)...)
				break
			}
		}
		if err := ctx.Err(); err != nil {
			report.Outcomes = append(report.Outcomes, interrupted(targets[i:], err)...)
			break
		}

		out, err := o.runTarget(ctx, log, t)
		report.Outcomes = append(report.Outcomes, out)
		if err != nil {
			fatal = err
			log.Error("pipeline: fatal error, aborting run", zap.Error(err))
			break
		}
	}

	report.FinishedAt = o.now().UTC()
	report.Finalize()

	written, rejected := report.Totals()
	log.Info("pipeline: run finished",
		zap.String("status", string(report.Status)),
		zap.Int("written", written),
		zap.Int("rejected", rejected),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
	)

	if fatal != nil {
		return report, fatal
	}
	return report, o.deliver(ctx, log, report)
}

// deliver fans the finished report out to the summary store, backup file,
// event stream and alerting. Only a failed backup is returned; the other
// sinks are best effort.
func (o *Orchestrator) deliver(ctx context.Context, log *zap.Logger, report *model.RunReport) error {
	records := report.Records()
	summary := model.BuildSummary(records, o.now())
	summary.RunID = report.RunID

	var g errgroup.Group

	if o.deps.Writer != nil && len(records) > 0 {
		g.Go(func() error {
			if err := o.deps.Writer.WriteSummary(ctx, summary); err != nil {
				log.Error("pipeline: summary write failed", zap.Error(err))
				return nil
			}
			log.Info("pipeline: summary written", zap.String("summary_id", summary.ID))
			return nil
		})
	}

	if path := o.backupPath(report); path != "" {
		g.Go(func() error {
			if err := backup.Write(path, backup.New(records, summary)); err != nil {
				return eris.Wrap(err, "pipeline: backup")
			}
			log.Info("pipeline: backup written",
				zap.String("path", path),
				zap.Int("documents", len(records)),
			)
			return nil
		})
	}

	if o.deps.Events != nil {
		g.Go(func() error {
			if err := o.deps.Events.PublishPrices(ctx, report.RunID, records); err != nil {
				log.Error("pipeline: publish prices failed", zap.Error(err))
			}
			if err := o.deps.Events.PublishRun(ctx, report); err != nil {
				log.Error("pipeline: publish run failed", zap.Error(err))
			}
			return nil
		})
	}

	if o.deps.Notifier != nil {
		g.Go(func() error {
			if n := o.deps.Notifier.Notify(ctx, report); n > 0 {
				log.Info("pipeline: alerts sent", zap.Int("count", n))
			}
			return nil
		})
	}

	return g.Wait()
}

func (o *Orchestrator) backupPath(report *model.RunReport) string {
	if o.opts.BackupPath != "" {
		return o.opts.BackupPath
	}
	if o.opts.BackupDir != "" {
		return filepath.Join(o.opts.BackupDir, backup.FileName(report.RunID, report.StartedAt))
	}
	return ""
}

func interrupted(targets []model.Target, err error) []model.RunOutcome {
	out := make([]model.RunOutcome, len(targets))
	for i, t := range targets {
		out[i] = model.RunOutcome{
			Target: t,
			Status: model.StatusFailed,
			Error:  eris.Wrap(err, "pipeline: interrupted").Error(),
		}
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// isFatal reports whether err must abort the whole run.
func isFatal(err error) bool {
	return errors.Is(err, browser.ErrBrowserStart)
}
