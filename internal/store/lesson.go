package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
)

// LessonStatus records whether a recorded attempt ultimately succeeded.
type LessonStatus string

const (
	LessonSuccess LessonStatus = "success"
	LessonFail    LessonStatus = "fail"
)

// Lesson is a step-level outcome record: what an agent tried for a goal,
// what happened, and — for failures — what fixed it. Lessons accumulate
// per agent/goal-shape rather than being deduplicated, since even a
// repeated failure is evidence about how often a fix has to be applied.
type Lesson struct {
	LessonID      string
	GoalText      string
	Agent         string
	Status        LessonStatus
	Error         string
	FixSummary    string
	WorkingParams json.RawMessage
	Tenant        string
	CreatedAt     time.Time
}

// RecordLesson appends a step outcome for later retrieval by similar
// goal embeddings.
func (s *Store) RecordLesson(ctx context.Context, l Lesson, goalEmbedding []float32) (Lesson, error) {
	if l.Tenant == "" {
		l.Tenant = "default"
	}
	if l.WorkingParams == nil {
		l.WorkingParams = json.RawMessage(`{}`)
	}
	vec := pgvector.NewVector(goalEmbedding)
	err := s.pool.QueryRow(ctx, `
		INSERT INTO lessons (lesson_id, trigger_embedding, goal_text, agent, status, error, fix_summary, working_params, tenant)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`, l.LessonID, vec, l.GoalText, l.Agent, string(l.Status), l.Error, l.FixSummary, l.WorkingParams, l.Tenant).Scan(&l.CreatedAt)
	if err != nil {
		return Lesson{}, fmt.Errorf("record lesson: %w", err)
	}
	return l, nil
}

// RelevantLessons returns the k lessons closest to a goal embedding for
// a given agent, most relevant first, so a planner can steer away from
// known failure modes and reuse known-working parameters.
func (s *Store) RelevantLessons(ctx context.Context, agent string, goalEmbedding []float32, k int) ([]Lesson, error) {
	if k <= 0 {
		k = 5
	}
	vec := pgvector.NewVector(goalEmbedding)
	rows, err := s.pool.Query(ctx, `
		SELECT lesson_id, goal_text, agent, status, error, fix_summary, working_params, tenant, created_at
		FROM lessons
		WHERE agent = $1
		ORDER BY trigger_embedding <=> $2
		LIMIT $3
	`, agent, vec, k)
	if err != nil {
		return nil, fmt.Errorf("query relevant lessons: %w", err)
	}
	defer rows.Close()

	var out []Lesson
	for rows.Next() {
		var l Lesson
		var status string
		if err := rows.Scan(&l.LessonID, &l.GoalText, &l.Agent, &status, &l.Error, &l.FixSummary, &l.WorkingParams, &l.Tenant, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan lesson: %w", err)
		}
		l.Status = LessonStatus(status)
		out = append(out, l)
	}
	return out, rows.Err()
}
