package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"

	"memfuse/internal/persistence/databases"
)

// Chunk is a document-derived passage held in the M1 semantic index.
type Chunk struct {
	ChunkID        string
	DocumentSource string
	Content        string
	ContentHash    string
	Tenant         string
	CreatedAt      time.Time
}

// ContentHash normalizes whitespace and returns the SHA-256 hex digest
// used as the idempotency key for a chunk within its document source.
func ContentHash(content string) string {
	normalized := strings.Join(strings.Fields(content), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// UpsertChunk writes a chunk keyed by (document_source, content_hash); a
// re-submission of identical content is a no-op write rather than a
// duplicate row. When sessionID is non-empty the chunk's embedding is
// also indexed into that session's Qdrant collection, preferred by
// retrieval over the Postgres fallback.
func (s *Store) UpsertChunk(ctx context.Context, chunkID, documentSource, content string, embedding []float32, tenant, sessionID string) (Chunk, error) {
	if tenant == "" {
		tenant = "default"
	}
	hash := ContentHash(content)
	vec := pgvector.NewVector(embedding)

	var createdAt time.Time
	err := s.pool.QueryRow(ctx, `
		INSERT INTO chunks (chunk_id, document_source, content, content_hash, embedding, tenant)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (document_source, content_hash) DO UPDATE SET
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding
		RETURNING created_at
	`, chunkID, documentSource, content, hash, vec, tenant).Scan(&createdAt)
	if err != nil {
		return Chunk{}, fmt.Errorf("upsert chunk: %w", err)
	}

	if sessionID != "" {
		idx, idxErr := s.sessionIndex(sessionID)
		if idxErr != nil {
			return Chunk{}, fmt.Errorf("session index: %w", idxErr)
		}
		if idx != nil {
			if err := idx.Upsert(ctx, chunkID, embedding, map[string]string{
				"document_source": documentSource,
				"tenant":          tenant,
				"content":         content,
				"created_at":      createdAt.Format(time.RFC3339Nano),
			}); err != nil {
				return Chunk{}, fmt.Errorf("index chunk in session collection: %w", err)
			}
		}
	}

	return Chunk{
		ChunkID:        chunkID,
		DocumentSource: documentSource,
		Content:        content,
		ContentHash:    hash,
		Tenant:         tenant,
		CreatedAt:      createdAt,
	}, nil
}

// SearchSession performs nearest-neighbor search within a session's Qdrant
// collection, returning (nil, nil) when no session collection exists yet
// (no Qdrant configured, or nothing indexed for that session), so callers
// know to fall back to the global Postgres chunk index.
func (s *Store) SearchSession(ctx context.Context, sessionID string, embedding []float32, k int) ([]databases.VectorResult, error) {
	idx, err := s.sessionIndex(sessionID)
	if err != nil {
		return nil, err
	}
	if idx == nil {
		return nil, nil
	}
	return idx.SimilaritySearch(ctx, embedding, k, nil)
}

// SearchChunksByVector performs a global cosine nearest-neighbor search
// over the Postgres chunk table, used as the fallback path when a
// session has no dedicated vector collection. When forceSeqScan is set,
// index scans are disabled for this query so a tiny corpus that an
// approximate index would otherwise return zero rows for still gets a
// sequential-scan answer.
func (s *Store) SearchChunksByVector(ctx context.Context, embedding []float32, k int, forceSeqScan bool) ([]Chunk, []float64, error) {
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
	rows, err := tx.Query(ctx, `
		SELECT chunk_id, document_source, content, content_hash, tenant, created_at,
		       1 - (embedding <=> $1) AS score
		FROM chunks
		ORDER BY embedding <=> $1
		LIMIT $2
	`, vec, k)
	if err != nil {
		return nil, nil, fmt.Errorf("search chunks by vector: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	var scores []float64
	for rows.Next() {
		var c Chunk
		var score float64
		if err := rows.Scan(&c.ChunkID, &c.DocumentSource, &c.Content, &c.ContentHash, &c.Tenant, &c.CreatedAt, &score); err != nil {
			return nil, nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunks = append(chunks, c)
		scores = append(scores, score)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return chunks, scores, tx.Commit(ctx)
}

// SearchChunksByKeyword ranks chunks by ts_rank_cd over a plain-text
// query. When the corpus is tiny, Postgres's planner sometimes prefers a
// bitmap-heap plan whose cost estimate undershoots a GIN index scan; the
// caller can set forceSeqScan to force a deterministic comparison, which
// this function implements with a transaction-local planner hint.
func (s *Store) SearchChunksByKeyword(ctx context.Context, query string, k int, forceSeqScan bool) ([]Chunk, []float64, error) {
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

	rows, err := tx.Query(ctx, `
		SELECT chunk_id, document_source, content, content_hash, tenant, created_at,
		       ts_rank_cd(to_tsvector('english', content), plainto_tsquery('english', $1)) AS score
		FROM chunks
		WHERE to_tsvector('english', content) @@ plainto_tsquery('english', $1)
		ORDER BY score DESC
		LIMIT $2
	`, query, k)
	if err != nil {
		return nil, nil, fmt.Errorf("search chunks by keyword: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	var scores []float64
	for rows.Next() {
		var c Chunk
		var score float64
		if err := rows.Scan(&c.ChunkID, &c.DocumentSource, &c.Content, &c.ContentHash, &c.Tenant, &c.CreatedAt, &score); err != nil {
			return nil, nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunks = append(chunks, c)
		scores = append(scores, score)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return chunks, scores, tx.Commit(ctx)
}
