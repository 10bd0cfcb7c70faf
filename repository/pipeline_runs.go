package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"stockhero/models"
	"stockhero/observability"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreatePipelineRun stores a completed (or still running) pipeline run
func (r *Repository) CreatePipelineRun(ctx context.Context, run *models.PipelineRun) error {
	if err := r.checkDB(); err != nil {
		return err
	}
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("insert", "pipeline_runs")

	stagesJSON, err := json.Marshal(run.Stages)
	if err != nil {
		return fmt.Errorf("failed to marshal stages: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO pipeline_runs (id, business_date, verdict, summary, stages, started_at, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			verdict = EXCLUDED.verdict,
			summary = EXCLUDED.summary,
			stages = EXCLUDED.stages,
			duration_ms = EXCLUDED.duration_ms
	`, run.ID, run.BusinessDate, run.Verdict, run.Summary, stagesJSON, run.StartedAt, run.DurationMs, run.CreatedAt)
	if err != nil {
		metrics.RecordDBError("insert", "pipeline_runs")
		return fmt.Errorf("failed to create pipeline run: %w", err)
	}
	return nil
}

// GetPipelineRun returns a run by id, or nil when it does not exist
func (r *Repository) GetPipelineRun(ctx context.Context, id uuid.UUID) (*models.PipelineRun, error) {
	if err := r.checkDB(); err != nil {
		return nil, err
	}
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("select", "pipeline_runs")

	run, err := scanPipelineRun(r.db.QueryRow(ctx, `
		SELECT id, business_date, verdict, summary, stages, started_at, duration_ms, created_at
		FROM pipeline_runs
		WHERE id = $1
	`, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		metrics.RecordDBError("select", "pipeline_runs")
		return nil, err
	}
	return run, nil
}

// GetPipelineRuns returns the most recent runs, newest first
func (r *Repository) GetPipelineRuns(ctx context.Context, limit int) ([]models.PipelineRun, error) {
	if err := r.checkDB(); err != nil {
		return nil, err
	}
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveDB("select", "pipeline_runs")

	rows, err := r.db.Query(ctx, `
		SELECT id, business_date, verdict, summary, stages, started_at, duration_ms, created_at
		FROM pipeline_runs
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		metrics.RecordDBError("select", "pipeline_runs")
		return nil, fmt.Errorf("failed to query pipeline runs: %w", err)
	}
	defer rows.Close()

	var runs []models.PipelineRun
	for rows.Next() {
		run, err := scanPipelineRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pipeline runs: %w", err)
	}
	return runs, nil
}

func scanPipelineRun(row pgx.Row) (*models.PipelineRun, error) {
	var run models.PipelineRun
	var stagesJSON []byte
	err := row.Scan(&run.ID, &run.BusinessDate, &run.Verdict, &run.Summary, &stagesJSON,
		&run.StartedAt, &run.DurationMs, &run.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan pipeline run: %w", err)
	}
	if err := json.Unmarshal(stagesJSON, &run.Stages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stages: %w", err)
	}
	return &run, nil
}
