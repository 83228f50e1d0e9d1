package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pgvector/pgvector-go"
)

// LastExtractedRound returns the highest round_id already mined for a
// session, or -1 if extraction has never run for it.
func (s *Store) LastExtractedRound(ctx context.Context, sessionID string) (int, error) {
	var last int
	err := s.pool.QueryRow(ctx,
		`SELECT last_round_id FROM extractor_progress WHERE session_id = $1`,
		sessionID,
	).Scan(&last)
	if err != nil {
		if isNoRows(err) {
			return -1, nil
		}
		return 0, fmt.Errorf("load extractor progress: %w", err)
	}
	return last, nil
}

// CandidateFact is one pre-embedded fact proposed by the extraction
// model, not yet checked against the session's existing facts.
type CandidateFact struct {
	Fact      Fact
	Embedding []float32
}

// ApplyExtraction inserts every surviving candidate fact and advances
// the session's extraction progress marker in a single transaction, so
// a crash between job consumption and marker update re-triggers the
// same rounds rather than silently skipping them.
func (s *Store) ApplyExtraction(ctx context.Context, sessionID string, lastRoundID int, candidates []CandidateFact, dedupThreshold, contradictThreshold float64) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	inserted := 0
	for _, c := range candidates {
		ok, err := applyOneFact(ctx, tx, c, dedupThreshold, contradictThreshold)
		if err != nil {
			return 0, err
		}
		if ok {
			inserted++
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO extractor_progress (session_id, last_round_id, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (session_id) DO UPDATE SET
			last_round_id = GREATEST(extractor_progress.last_round_id, EXCLUDED.last_round_id),
			updated_at = now()
	`, sessionID, lastRoundID)
	if err != nil {
		return 0, fmt.Errorf("update extractor progress: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

// applyOneFact runs the dedup/contradiction check and insert for a
// single candidate within an already-open transaction, returning
// whether a new row was actually written.
func applyOneFact(ctx context.Context, tx pgxTx, c CandidateFact, dedupThreshold, contradictThreshold float64) (bool, error) {
	f := c.Fact
	if f.Tenant == "" {
		f.Tenant = "default"
	}
	if f.Relations == nil {
		f.Relations = map[string]any{}
	}
	if f.Metadata == nil {
		f.Metadata = map[string]any{}
	}
	vec := pgvector.NewVector(c.Embedding)

	rows, err := tx.Query(ctx, `
		SELECT fact_id, 1 - (embedding <=> $1) AS score
		FROM facts
		WHERE session_id = $2 AND type = $3
		ORDER BY embedding <=> $1
		LIMIT 5
	`, vec, f.SessionID, string(f.Type))
	if err != nil {
		return false, fmt.Errorf("search neighboring facts: %w", err)
	}
	var contradicts []string
	dupID := ""
	for rows.Next() {
		var id string
		var score float64
		if err := rows.Scan(&id, &score); err != nil {
			rows.Close()
			return false, fmt.Errorf("scan neighbor: %w", err)
		}
		if score >= dedupThreshold {
			dupID = id
		} else if score >= contradictThreshold {
			contradicts = append(contradicts, id)
		}
	}
	if err := rows.Err(); err != nil {
		return false, err
	}
	rows.Close()

	if dupID != "" {
		return false, recordUsageNote(ctx, tx, dupID, fmt.Sprintf(
			"near-dup candidate %q (round %d) skipped at dedup threshold, reinforcing this fact",
			f.Content, f.SourceRoundID))
	}

	if len(contradicts) > 0 {
		f.Relations["contradicts"] = contradicts
	}
	relationsJSON, err := json.Marshal(f.Relations)
	if err != nil {
		return false, fmt.Errorf("marshal relations: %w", err)
	}
	metadataJSON, err := json.Marshal(f.Metadata)
	if err != nil {
		return false, fmt.Errorf("marshal metadata: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO facts (fact_id, session_id, source_round_id, type, content, relations, metadata, embedding, tenant)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (session_id, type, content) DO NOTHING
	`, f.FactID, f.SessionID, f.SourceRoundID, string(f.Type), f.Content, relationsJSON, metadataJSON, vec, f.Tenant)
	if err != nil {
		return false, fmt.Errorf("insert fact: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// recordUsageNote sets metadata.usage_note on an existing fact that just
// absorbed a near-duplicate candidate, so the skip leaves a trace instead
// of silently discarding the candidate's round reference.
func recordUsageNote(ctx context.Context, tx pgxTx, factID, note string) error {
	patchJSON, err := json.Marshal(map[string]string{"usage_note": note})
	if err != nil {
		return fmt.Errorf("marshal usage note: %w", err)
	}
	_, err = tx.Exec(ctx, `
		UPDATE facts SET metadata = metadata || $1
		WHERE fact_id = $2
	`, patchJSON, factID)
	if err != nil {
		return fmt.Errorf("record usage note: %w", err)
	}
	return nil
}
