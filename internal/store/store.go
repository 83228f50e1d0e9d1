// Package store implements the layered memory tables — Turn (M1 episodic),
// Chunk (M1 document), Fact (M2 structured), Workflow and Lesson (M3
// procedural) — on Postgres/pgvector, plus a per-session Qdrant collection
// for the session-scoped chunk index the Retriever prefers when available.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"memfuse/internal/config"
	"memfuse/internal/persistence/databases"
)

// Store is the entry point for all five first-class entities plus the
// per-session vector collections used by the Retriever.
type Store struct {
	pool       *pgxpool.Pool
	dimensions int

	qdrantAddr string
	sessionsMu sync.Mutex
	sessions   map[string]databases.VectorStore
}

// Open connects to Postgres and ensures the schema exists. Qdrant
// collections are opened lazily, one per session, since a session's
// identity isn't known until the first chunk is indexed for it.
func Open(ctx context.Context, cfg config.StoreConfig, dimensions int) (*Store, error) {
	pool, err := databases.OpenPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if dimensions <= 0 {
		dimensions = config.EmbeddingDimension
	}

	s := &Store{
		pool:       pool,
		dimensions: dimensions,
		qdrantAddr: cfg.QdrantAddr,
		sessions:   make(map[string]databases.VectorStore),
	}
	if err := s.ensureSchema(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return s, nil
}

// Close releases the Postgres pool and any open Qdrant collections.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	for id, vs := range s.sessions {
		if c, ok := vs.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				log.Warn().Err(err).Str("session_id", id).Msg("close session vector collection")
			}
		}
	}
}

// sessionIndex returns the session-scoped chunk collection, opening it on
// first use. Returns (nil, nil) when no Qdrant address is configured, in
// which case callers fall back to the Postgres chunk table.
func (s *Store) sessionIndex(sessionID string) (databases.VectorStore, error) {
	if s.qdrantAddr == "" {
		return nil, nil
	}
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	if vs, ok := s.sessions[sessionID]; ok {
		return vs, nil
	}
	vs, err := databases.NewQdrantVector(s.qdrantAddr, sessionCollectionName(sessionID), s.dimensions, "cosine")
	if err != nil {
		return nil, fmt.Errorf("open session collection: %w", err)
	}
	s.sessions[sessionID] = vs
	return vs, nil
}

func sessionCollectionName(sessionID string) string {
	return "memfuse_session_" + sessionID
}

func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE EXTENSION IF NOT EXISTS pg_trgm`,
		`CREATE TABLE IF NOT EXISTS sessions (
			external_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL UNIQUE,
			tenant TEXT NOT NULL DEFAULT 'default',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS extractor_progress (
			session_id TEXT PRIMARY KEY,
			last_round_id INTEGER NOT NULL DEFAULT -1,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS turns (
			session_id TEXT NOT NULL,
			round_id INTEGER NOT NULL,
			speaker TEXT NOT NULL CHECK (speaker IN ('user','assistant')),
			content TEXT NOT NULL,
			tenant TEXT NOT NULL DEFAULT 'default',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (session_id, round_id, speaker)
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chunks (
			chunk_id TEXT PRIMARY KEY,
			document_source TEXT NOT NULL,
			content TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			tenant TEXT NOT NULL DEFAULT 'default',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (document_source, content_hash)
		)`, s.dimensions),
		`CREATE INDEX IF NOT EXISTS chunks_embedding_idx ON chunks USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)`,
		`CREATE INDEX IF NOT EXISTS chunks_content_tsv_idx ON chunks USING gin (to_tsvector('english', content))`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS facts (
			fact_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			source_round_id INTEGER NOT NULL,
			type TEXT NOT NULL CHECK (type IN ('Fact','Decision','Assumption','UserPreference')),
			content TEXT NOT NULL,
			relations JSONB NOT NULL DEFAULT '{}'::jsonb,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			embedding vector(%d) NOT NULL,
			tenant TEXT NOT NULL DEFAULT 'default',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (session_id, type, content)
		)`, s.dimensions),
		`CREATE INDEX IF NOT EXISTS facts_embedding_idx ON facts USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)`,
		`CREATE INDEX IF NOT EXISTS facts_content_trgm_idx ON facts USING gin (content gin_trgm_ops)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS workflows (
			workflow_id TEXT PRIMARY KEY,
			trigger_embedding vector(%d) NOT NULL,
			trigger_pattern TEXT NOT NULL DEFAULT '',
			successful_workflow JSONB NOT NULL,
			usage_count INTEGER NOT NULL DEFAULT 0 CHECK (usage_count >= 0),
			tenant TEXT NOT NULL DEFAULT 'default',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.dimensions),
		`CREATE INDEX IF NOT EXISTS workflows_trigger_idx ON workflows USING ivfflat (trigger_embedding vector_cosine_ops) WITH (lists = 100)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS lessons (
			lesson_id TEXT PRIMARY KEY,
			trigger_embedding vector(%d) NOT NULL,
			goal_text TEXT NOT NULL,
			agent TEXT NOT NULL,
			status TEXT NOT NULL CHECK (status IN ('success','fail')),
			error TEXT NOT NULL DEFAULT '',
			fix_summary TEXT NOT NULL DEFAULT '',
			working_params JSONB NOT NULL DEFAULT '{}'::jsonb,
			tenant TEXT NOT NULL DEFAULT 'default',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.dimensions),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", firstLine(stmt), err)
		}
	}
	log.Ctx(ctx).Debug().Msg("store schema ensured")
	return nil
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
