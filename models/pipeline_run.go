package models

import (
	"time"

	"github.com/google/uuid"
)

// Stage names one phase of the daily pipeline
type Stage string

const (
	StageUpdatePrices      Stage = "update_prices"
	StageUpdateRatios      Stage = "update_ratios"
	StageComputeIndicators Stage = "compute_indicators"
	StageScreen            Stage = "screen"

	StageBackfillPrices        Stage = "backfill_prices"
	StageBackfillInstitutional Stage = "backfill_institutional"
)

// StageStatus is the outcome class of one stage
type StageStatus string

const (
	StageStatusSuccess StageStatus = "success"
	// StageStatusPartial means at least one stock failed; the stage still committed
	StageStatusPartial StageStatus = "partial"
	// StageStatusSkipped means there was nothing to do (non-trading day)
	StageStatusSkipped StageStatus = "skipped"
	// StageStatusAborted means an error escaped the stage; nothing was committed
	StageStatusAborted StageStatus = "aborted"
)

// StageResult is the bookkeeping for one stage of one run
type StageResult struct {
	Stage      Stage       `json:"stage"`
	Status     StageStatus `json:"status"`
	Message    string      `json:"message"`
	Succeeded  []StockRef  `json:"succeeded"`
	Failed     []StockRef  `json:"failed"`
	Skipped    []StockRef  `json:"skipped,omitempty"`
	Error      string      `json:"error,omitempty"`
	DurationMs int64       `json:"duration_ms"`
}

// Success reports whether the stage counts as successful for the caller
func (r StageResult) Success() bool {
	return r.Status == StageStatusSuccess || r.Status == StageStatusSkipped
}

// Verdict is the pipeline-level outcome
type Verdict string

const (
	VerdictSuccess             Verdict = "success"
	VerdictSuccessWithWarnings Verdict = "success with warnings"
	VerdictFailure             Verdict = "failure"
	VerdictRunning             Verdict = "running"
)

// PipelineRun represents a single execution of the daily update pipeline
type PipelineRun struct {
	ID           uuid.UUID     `json:"id"`
	BusinessDate time.Time     `json:"business_date"`
	Verdict      Verdict       `json:"verdict"`
	Summary      string        `json:"summary"`
	Stages       []StageResult `json:"stages"`
	StartedAt    time.Time     `json:"started_at"`
	DurationMs   int64         `json:"duration_ms"`
	CreatedAt    time.Time     `json:"created_at"`
}

// NewPipelineRun creates a new PipelineRun for the given business date
func NewPipelineRun(date time.Time) *PipelineRun {
	now := time.Now()
	return &PipelineRun{
		ID:           uuid.New(),
		BusinessDate: NormalizeDate(date),
		Verdict:      VerdictRunning,
		Stages:       []StageResult{},
		StartedAt:    now,
		CreatedAt:    now,
	}
}

// AddStage appends a stage outcome
func (r *PipelineRun) AddStage(result StageResult) {
	r.Stages = append(r.Stages, result)
}

// Complete records the final verdict and summary
func (r *PipelineRun) Complete(verdict Verdict, summary string) {
	r.Verdict = verdict
	r.Summary = summary
	r.DurationMs = time.Since(r.StartedAt).Milliseconds()
}

// Succeeded reports whether the run counts as successful for external callers.
// Warnings still count as success; only an aborted stage fails the run.
func (r *PipelineRun) Succeeded() bool {
	return r.Verdict == VerdictSuccess || r.Verdict == VerdictSuccessWithWarnings
}

// IsRunning returns true if the run has not completed yet
func (r *PipelineRun) IsRunning() bool {
	return r.Verdict == VerdictRunning
}
