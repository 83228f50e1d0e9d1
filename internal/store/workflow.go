package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
)

// Workflow is a distilled, reusable successful task trajectory (M3
// procedural memory) keyed by the embedding of the trigger that
// originally produced it.
type Workflow struct {
	WorkflowID         string
	TriggerPattern     string
	SuccessfulWorkflow json.RawMessage
	UsageCount         int
	Tenant             string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// SaveWorkflow inserts a distilled workflow. When a workflow with the same
// id already exists, its trigger embedding, pattern and template are
// replaced and updated_at is bumped; usage_count is kept.
func (s *Store) SaveWorkflow(ctx context.Context, w Workflow, triggerEmbedding []float32) (Workflow, error) {
	if w.Tenant == "" {
		w.Tenant = "default"
	}
	vec := pgvector.NewVector(triggerEmbedding)
	err := s.pool.QueryRow(ctx, `
		INSERT INTO workflows (workflow_id, trigger_embedding, trigger_pattern, successful_workflow, tenant)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (workflow_id) DO UPDATE SET
			trigger_embedding = EXCLUDED.trigger_embedding,
			trigger_pattern = EXCLUDED.trigger_pattern,
			successful_workflow = EXCLUDED.successful_workflow,
			updated_at = now()
		RETURNING created_at, updated_at
	`, w.WorkflowID, vec, w.TriggerPattern, w.SuccessfulWorkflow, w.Tenant).Scan(&w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return Workflow{}, fmt.Errorf("save workflow: %w", err)
	}
	return w, nil
}

// MatchWorkflow returns the closest workflow to a goal embedding along
// with its cosine similarity, for the reuse-lookup decision of whether
// to fast-path execution instead of planning from scratch.
func (s *Store) MatchWorkflow(ctx context.Context, goalEmbedding []float32) (Workflow, float64, bool, error) {
	vec := pgvector.NewVector(goalEmbedding)
	var w Workflow
	var score float64
	err := s.pool.QueryRow(ctx, `
		SELECT workflow_id, trigger_pattern, successful_workflow, usage_count, tenant, created_at, updated_at,
		       1 - (trigger_embedding <=> $1) AS score
		FROM workflows
		ORDER BY trigger_embedding <=> $1
		LIMIT 1
	`, vec).Scan(&w.WorkflowID, &w.TriggerPattern, &w.SuccessfulWorkflow, &w.UsageCount, &w.Tenant, &w.CreatedAt, &w.UpdatedAt, &score)
	if err != nil {
		if isNoRows(err) {
			return Workflow{}, 0, false, nil
		}
		return Workflow{}, 0, false, fmt.Errorf("match workflow: %w", err)
	}
	return w, score, true, nil
}

// SearchWorkflows returns the k workflows closest to a goal embedding,
// for the retriever's workflow recall stream.
func (s *Store) SearchWorkflows(ctx context.Context, goalEmbedding []float32, k int) ([]Workflow, []float64, error) {
	if k <= 0 {
		k = 10
	}
	vec := pgvector.NewVector(goalEmbedding)
	rows, err := s.pool.Query(ctx, `
		SELECT workflow_id, trigger_pattern, successful_workflow, usage_count, tenant, created_at, updated_at,
		       1 - (trigger_embedding <=> $1) AS score
		FROM workflows
		ORDER BY trigger_embedding <=> $1
		LIMIT $2
	`, vec, k)
	if err != nil {
		return nil, nil, fmt.Errorf("search workflows: %w", err)
	}
	defer rows.Close()

	var out []Workflow
	var scores []float64
	for rows.Next() {
		var w Workflow
		var score float64
		if err := rows.Scan(&w.WorkflowID, &w.TriggerPattern, &w.SuccessfulWorkflow, &w.UsageCount, &w.Tenant, &w.CreatedAt, &w.UpdatedAt, &score); err != nil {
			return nil, nil, fmt.Errorf("scan workflow: %w", err)
		}
		out = append(out, w)
		scores = append(scores, score)
	}
	return out, scores, rows.Err()
}

// RecordWorkflowReuse bumps usage_count and updated_at when a matched
// workflow is actually taken on the fast path.
func (s *Store) RecordWorkflowReuse(ctx context.Context, workflowID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE workflows SET usage_count = usage_count + 1, updated_at = now()
		WHERE workflow_id = $1
	`, workflowID)
	if err != nil {
		return fmt.Errorf("record workflow reuse: %w", err)
	}
	return nil
}
