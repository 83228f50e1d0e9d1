package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
)

// FactType enumerates the four structured memory kinds distilled from a
// session's turns.
type FactType string

const (
	FactKindFact           FactType = "Fact"
	FactKindDecision       FactType = "Decision"
	FactKindAssumption     FactType = "Assumption"
	FactKindUserPreference FactType = "UserPreference"
)

// Fact is one structured M2 record: a distilled claim, decision,
// assumption, or preference. A fact that contradicts an earlier one
// carries the earlier fact's id(s) under relations["contradicts"]
// rather than overwriting or deleting it.
type Fact struct {
	FactID        string
	SessionID     string
	SourceRoundID int
	Type          FactType
	Content       string
	Relations     map[string]any
	Metadata      map[string]any
	Tenant        string
	CreatedAt     time.Time
}

// FactOutcome reports what UpsertFact actually did, so the extractor can
// log and the tests can assert on dedup/contradiction behavior.
type FactOutcome struct {
	Fact        Fact
	Duplicate   bool // an existing fact above DedupSimThreshold absorbed this write
	Contradicts []string
}

// UpsertFact inserts a new fact unless an existing fact for the session
// and type is a near-duplicate by cosine similarity (>= dedupThreshold),
// in which case nothing is inserted: the existing fact gains a usage_note
// in its metadata and is returned with Duplicate set. When a new fact is
// inserted, any existing fact whose similarity falls in the contradiction
// band [contradictThreshold, dedupThreshold) has its id recorded under
// the new fact's relations["contradicts"] rather than being replaced.
// embedding is the caller's pre-computed vector for f.Content; the store
// never calls out to an embedding model itself.
func (s *Store) UpsertFact(ctx context.Context, f Fact, embedding []float32, dedupThreshold, contradictThreshold float64) (FactOutcome, error) {
	if f.Tenant == "" {
		f.Tenant = "default"
	}
	if f.Relations == nil {
		f.Relations = map[string]any{}
	}
	if f.Metadata == nil {
		f.Metadata = map[string]any{}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return FactOutcome{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	vec := pgvector.NewVector(embedding)

	rows, err := tx.Query(ctx, `
		SELECT fact_id, content, 1 - (embedding <=> $1) AS score
		FROM facts
		WHERE session_id = $2 AND type = $3
		ORDER BY embedding <=> $1
		LIMIT 5
	`, vec, f.SessionID, string(f.Type))
	if err != nil {
		return FactOutcome{}, fmt.Errorf("search neighboring facts: %w", err)
	}
	var contradicts []string
	var duplicate *Fact
	for rows.Next() {
		var id, content string
		var score float64
		if err := rows.Scan(&id, &content, &score); err != nil {
			rows.Close()
			return FactOutcome{}, fmt.Errorf("scan neighbor: %w", err)
		}
		if score >= dedupThreshold {
			existing := f
			existing.FactID = id
			existing.Content = content
			duplicate = &existing
		} else if score >= contradictThreshold {
			contradicts = append(contradicts, id)
		}
	}
	if err := rows.Err(); err != nil {
		return FactOutcome{}, err
	}
	rows.Close()

	if duplicate != nil {
		note := fmt.Sprintf("near-dup candidate %q (round %d) skipped at dedup threshold, reinforcing this fact", f.Content, f.SourceRoundID)
		if err := recordUsageNote(ctx, tx, duplicate.FactID, note); err != nil {
			return FactOutcome{}, err
		}
		if err := tx.Commit(ctx); err != nil {
			return FactOutcome{}, fmt.Errorf("commit: %w", err)
		}
		if duplicate.Metadata == nil {
			duplicate.Metadata = map[string]any{}
		}
		duplicate.Metadata["usage_note"] = note
		return FactOutcome{Fact: *duplicate, Duplicate: true}, nil
	}

	if len(contradicts) > 0 {
		f.Relations["contradicts"] = contradicts
	}
	relationsJSON, err := json.Marshal(f.Relations)
	if err != nil {
		return FactOutcome{}, fmt.Errorf("marshal relations: %w", err)
	}
	metadataJSON, err := json.Marshal(f.Metadata)
	if err != nil {
		return FactOutcome{}, fmt.Errorf("marshal metadata: %w", err)
	}

	var createdAt time.Time
	err = tx.QueryRow(ctx, `
		INSERT INTO facts (fact_id, session_id, source_round_id, type, content, relations, metadata, embedding, tenant)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (session_id, type, content) DO UPDATE SET
			relations = EXCLUDED.relations,
			metadata = EXCLUDED.metadata
		RETURNING created_at
	`, f.FactID, f.SessionID, f.SourceRoundID, string(f.Type), f.Content, relationsJSON, metadataJSON, vec, f.Tenant).Scan(&createdAt)
	if err != nil {
		return FactOutcome{}, fmt.Errorf("insert fact: %w", wrapWriteErr("insert fact", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return FactOutcome{}, fmt.Errorf("commit: %w", err)
	}

	f.CreatedAt = createdAt
	return FactOutcome{Fact: f, Contradicts: contradicts}, nil
}

// FactsForSession returns every fact recorded for a session, newest
// first, optionally filtered to a single type.
func (s *Store) FactsForSession(ctx context.Context, sessionID string, kind FactType) ([]Fact, error) {
	query := `
		SELECT fact_id, session_id, source_round_id, type, content, relations, metadata, tenant, created_at
		FROM facts WHERE session_id = $1`
	args := []any{sessionID}
	if kind != "" {
		query += ` AND type = $2`
		args = append(args, string(kind))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query facts: %w", err)
	}
	defer rows.Close()

	var out []Fact
	for rows.Next() {
		var f Fact
		var typ string
		var relationsJSON, metadataJSON []byte
		if err := rows.Scan(&f.FactID, &f.SessionID, &f.SourceRoundID, &typ, &f.Content, &relationsJSON, &metadataJSON, &f.Tenant, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		f.Type = FactType(typ)
		if err := json.Unmarshal(relationsJSON, &f.Relations); err != nil {
			return nil, fmt.Errorf("unmarshal relations: %w", err)
		}
		if err := json.Unmarshal(metadataJSON, &f.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// SearchFactsByVector performs cosine nearest-neighbor search over fact
// embeddings, optionally scoped to a session. When forceSeqScan is set,
// index scans are disabled for this query so a tiny corpus that an
// approximate index would otherwise return zero rows for still gets a
// sequential-scan answer.
func (s *Store) SearchFactsByVector(ctx context.Context, embedding []float32, sessionID string, k int, forceSeqScan bool) ([]Fact, []float64, error) {
	if k <= 0 {
		k = 10
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if forceSeqScan {
		if _, err := tx.Exec(ctx, `SET LOCAL enable_indexscan = off`); err != nil {
			return nil, nil, fmt.Errorf("set local enable_indexscan: %w", err)
		}
		if _, err := tx.Exec(ctx, `SET LOCAL enable_bitmapscan = off`); err != nil {
			return nil, nil, fmt.Errorf("set local enable_bitmapscan: %w", err)
		}
	}

	vec := pgvector.NewVector(embedding)
	query := `
		SELECT fact_id, session_id, source_round_id, type, content, relations, metadata, tenant, created_at,
		       1 - (embedding <=> $1) AS score
		FROM facts`
	args := []any{vec}
	if sessionID != "" {
		query += ` WHERE session_id = $2`
		args = append(args, sessionID)
	}
	query += ` ORDER BY embedding <=> $1 LIMIT ` + fmt.Sprintf("%d", k)

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("search facts by vector: %w", err)
	}
	defer rows.Close()

	var out []Fact
	var scores []float64
	for rows.Next() {
		var f Fact
		var typ string
		var relationsJSON, metadataJSON []byte
		var score float64
		if err := rows.Scan(&f.FactID, &f.SessionID, &f.SourceRoundID, &typ, &f.Content, &relationsJSON, &metadataJSON, &f.Tenant, &f.CreatedAt, &score); err != nil {
			return nil, nil, fmt.Errorf("scan fact: %w", err)
		}
		f.Type = FactType(typ)
		if err := json.Unmarshal(relationsJSON, &f.Relations); err != nil {
			return nil, nil, fmt.Errorf("unmarshal relations: %w", err)
		}
		if err := json.Unmarshal(metadataJSON, &f.Metadata); err != nil {
			return nil, nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
		out = append(out, f)
		scores = append(scores, score)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return out, scores, tx.Commit(ctx)
}

// SearchFactsByKeyword ranks facts by ts_rank_cd over plain-text tokens,
// normalized to 0..1 against the top result in the batch so it composes
// with a vector cosine score under a shared scale.
func (s *Store) SearchFactsByKeyword(ctx context.Context, tokens []string, sessionID string, k int) ([]Fact, []float64, error) {
	if k <= 0 {
		k = 10
	}
	if len(tokens) == 0 {
		return nil, nil, nil
	}
	query := strings.Join(tokens, " ")

	sql := `
		SELECT fact_id, session_id, source_round_id, type, content, relations, metadata, tenant, created_at,
		       ts_rank_cd(to_tsvector('english', content), plainto_tsquery('english', $1)) AS score
		FROM facts
		WHERE to_tsvector('english', content) @@ plainto_tsquery('english', $1)`
	args := []any{query}
	if sessionID != "" {
		sql += ` AND session_id = $2`
		args = append(args, sessionID)
	}
	sql += ` ORDER BY score DESC LIMIT ` + fmt.Sprintf("%d", k)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("search facts by keyword: %w", err)
	}
	defer rows.Close()

	var out []Fact
	var scores []float64
	var maxScore float64
	for rows.Next() {
		var f Fact
		var typ string
		var relationsJSON, metadataJSON []byte
		var score float64
		if err := rows.Scan(&f.FactID, &f.SessionID, &f.SourceRoundID, &typ, &f.Content, &relationsJSON, &metadataJSON, &f.Tenant, &f.CreatedAt, &score); err != nil {
			return nil, nil, fmt.Errorf("scan fact: %w", err)
		}
		f.Type = FactType(typ)
		if err := json.Unmarshal(relationsJSON, &f.Relations); err != nil {
			return nil, nil, fmt.Errorf("unmarshal relations: %w", err)
		}
		if err := json.Unmarshal(metadataJSON, &f.Metadata); err != nil {
			return nil, nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
		out = append(out, f)
		scores = append(scores, score)
		if score > maxScore {
			maxScore = score
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	if maxScore > 0 {
		for i := range scores {
			scores[i] /= maxScore
		}
	}
	return out, scores, nil
}
