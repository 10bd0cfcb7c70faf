package pipeline

import (
	"fmt"
	"strings"

	"stockhero/models"
)

// stageTally collects per-stock outcomes while a stage runs
type stageTally struct {
	succeeded []models.StockRef
	failed    []models.StockRef
	skipped   []models.StockRef
}

func (t *stageTally) ok(ref models.StockRef) {
	t.succeeded = append(t.succeeded, ref)
}

func (t *stageTally) fail(ref models.StockRef) {
	t.failed = append(t.failed, ref)
}

func (t *stageTally) skip(ref models.StockRef) {
	t.skipped = append(t.skipped, ref)
}

// result turns the tally into a StageResult; any failure makes the stage partial
func (t *stageTally) result(stage models.Stage) models.StageResult {
	status := models.StageStatusSuccess
	if len(t.failed) > 0 {
		status = models.StageStatusPartial
	}
	res := models.StageResult{
		Stage:     stage,
		Status:    status,
		Succeeded: nonNil(t.succeeded),
		Failed:    nonNil(t.failed),
		Skipped:   t.skipped,
	}
	res.Message = stageMessage(res)
	return res
}

func nonNil(refs []models.StockRef) []models.StockRef {
	if refs == nil {
		return []models.StockRef{}
	}
	return refs
}

func stageMessage(r models.StageResult) string {
	switch r.Status {
	case models.StageStatusSkipped:
		return "no trading data"
	case models.StageStatusAborted:
		return r.Error
	}

	msg := fmt.Sprintf("%d succeeded, %d failed", len(r.Succeeded), len(r.Failed))
	if len(r.Skipped) > 0 {
		msg += fmt.Sprintf(", %d skipped", len(r.Skipped))
	}
	if len(r.Failed) > 0 {
		msg += "; failed: " + models.JoinRefs(r.Failed)
	}
	return msg
}

// verdictOf folds stage statuses into the run verdict. Only an aborted stage fails
// the run; per-stock failures downgrade it to a warning.
func verdictOf(stages []models.StageResult) models.Verdict {
	verdict := models.VerdictSuccess
	for _, s := range stages {
		switch s.Status {
		case models.StageStatusAborted:
			return models.VerdictFailure
		case models.StageStatusPartial:
			verdict = models.VerdictSuccessWithWarnings
		}
	}
	return verdict
}

// composeSummary renders the human readable report handed to callers
func composeSummary(run *models.PipelineRun) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Pipeline %s for %s", run.Verdict, run.BusinessDate.Format(models.DateLayout))
	for _, s := range run.Stages {
		fmt.Fprintf(&b, "\n[%s] %s: %s", s.Stage, s.Status, s.Message)
	}
	return b.String()
}
