package model

import (
	"fmt"
	"time"
)

// TargetStatus is the lifecycle state of one (jeweller, city) target.
type TargetStatus string

const (
	StatusPending    TargetStatus = "pending"
	StatusExtracting TargetStatus = "extracting"
	StatusValidating TargetStatus = "validating"
	StatusWriting    TargetStatus = "writing"
	StatusSucceeded  TargetStatus = "succeeded"
	StatusPartial    TargetStatus = "partial"
	StatusFailed     TargetStatus = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s TargetStatus) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusPartial, StatusFailed:
		return true
	}
	return false
}

// Target is one (jeweller, city) pair in a run.
type Target struct {
	Jeweller Jeweller `json:"jeweller" yaml:"jeweller"`
	City     City     `json:"city" yaml:"city"`
}

func (t Target) String() string {
	return fmt.Sprintf("%s/%s", t.Jeweller, t.City)
}

// SkippedDay records a historical day that yielded no readings.
type SkippedDay struct {
	Date   string `json:"date"`
	Reason string `json:"reason"`
	// Unpublished marks a day the source has no data for, as opposed to a
	// day that failed to read.
	Unpublished bool `json:"unpublished,omitempty"`
}

// RunOutcome is the per-target result of a run.
type RunOutcome struct {
	Target      Target        `json:"target"`
	Status      TargetStatus  `json:"status"`
	Written     int           `json:"written"`
	Rejected    int           `json:"rejected"`
	SkippedDays []SkippedDay  `json:"skipped_days,omitempty"`
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration"`

	// Records holds the validated records for this target, for backups and
	// summaries. It is not serialized with the outcome.
	Records []PriceRecord `json:"-"`
}

// RunReport aggregates every outcome in a run.
type RunReport struct {
	RunID      string       `json:"run_id"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Outcomes   []RunOutcome `json:"outcomes"`
	Status     TargetStatus `json:"status"`
}

// Finalize computes the aggregate status. A run fails only when every
// target failed; any failed or partial target demotes the run to partial.
func (r *RunReport) Finalize() {
	r.Status = AggregateStatus(r.Outcomes)
}

// AggregateStatus derives the run status from per-target outcomes.
func AggregateStatus(outcomes []RunOutcome) TargetStatus {
	if len(outcomes) == 0 {
		return StatusFailed
	}
	var failed, partial int
	for _, o := range outcomes {
		switch o.Status {
		case StatusFailed:
			failed++
		case StatusPartial:
			partial++
		}
	}
	switch {
	case failed == len(outcomes):
		return StatusFailed
	case failed > 0 || partial > 0:
		return StatusPartial
	default:
		return StatusSucceeded
	}
}

// Totals returns the written and rejected counts summed across targets.
func (r *RunReport) Totals() (written, rejected int) {
	for _, o := range r.Outcomes {
		written += o.Written
		rejected += o.Rejected
	}
	return written, rejected
}

// Records returns every validated record across targets, in target order.
func (r *RunReport) Records() []PriceRecord {
	var out []PriceRecord
	for _, o := range r.Outcomes {
		out = append(out, o.Records...)
	}
	return out
}
