package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Speaker distinguishes the two roles a Turn can hold.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// Turn is one append-only utterance in a session's episodic history.
type Turn struct {
	SessionID string
	RoundID   int
	Speaker   Speaker
	Content   string
	Tenant    string
	CreatedAt time.Time
}

// AppendTurn inserts a turn, allocating the next dense round_id for the
// pair under a transaction-scoped advisory lock keyed by the session id so
// concurrent appends within the same session serialize rather than race.
func (s *Store) AppendTurn(ctx context.Context, sessionID string, speaker Speaker, content, tenant string) (Turn, error) {
	if tenant == "" {
		tenant = "default"
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Turn{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, sessionID); err != nil {
		return Turn{}, fmt.Errorf("lock session turns: %w", err)
	}

	var maxRound int
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(round_id), -1) FROM turns WHERE session_id = $1`,
		sessionID,
	).Scan(&maxRound)
	if err != nil {
		return Turn{}, fmt.Errorf("read max round: %w", err)
	}

	// The user/assistant pair within a round shares round_id; only advance
	// past the current max when this speaker has already appeared at it.
	roundID := maxRound
	if maxRound < 0 {
		roundID = 0
	} else {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM turns WHERE session_id = $1 AND round_id = $2 AND speaker = $3)`,
			sessionID, maxRound, speaker,
		).Scan(&exists); err != nil {
			return Turn{}, fmt.Errorf("check round occupancy: %w", err)
		}
		if exists {
			roundID = maxRound + 1
		}
	}

	var createdAt time.Time
	err = tx.QueryRow(ctx,
		`INSERT INTO turns (session_id, round_id, speaker, content, tenant)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at`,
		sessionID, roundID, string(speaker), content, tenant,
	).Scan(&createdAt)
	if err != nil {
		return Turn{}, fmt.Errorf("insert turn: %w", wrapWriteErr("insert turn", err))
	}
	if err := tx.Commit(ctx); err != nil {
		return Turn{}, fmt.Errorf("commit: %w", err)
	}
	return Turn{
		SessionID: sessionID,
		RoundID:   roundID,
		Speaker:   speaker,
		Content:   content,
		Tenant:    tenant,
		CreatedAt: createdAt,
	}, nil
}

// RecentTurns returns the last n rounds (up to 2n turns) for a session in
// chronological order, oldest first.
func (s *Store) RecentTurns(ctx context.Context, sessionID string, nRounds int) ([]Turn, error) {
	if nRounds <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT session_id, round_id, speaker, content, tenant, created_at
		FROM turns
		WHERE session_id = $1 AND round_id > (
			SELECT COALESCE(MAX(round_id), -1) - $2 FROM turns WHERE session_id = $1
		)
		ORDER BY round_id ASC, created_at ASC
	`, sessionID, nRounds)
	if err != nil {
		return nil, fmt.Errorf("query recent turns: %w", err)
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var t Turn
		var speaker string
		if err := rows.Scan(&t.SessionID, &t.RoundID, &speaker, &t.Content, &t.Tenant, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.Speaker = Speaker(speaker)
		out = append(out, t)
	}
	return out, rows.Err()
}

// TurnsForRounds returns every turn belonging to the given round ids for a
// session, oldest first, for the extractor to mine a specific job's target
// rounds without scanning the whole session history.
func (s *Store) TurnsForRounds(ctx context.Context, sessionID string, roundIDs []int) ([]Turn, error) {
	if len(roundIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT session_id, round_id, speaker, content, tenant, created_at
		FROM turns WHERE session_id = $1 AND round_id = ANY($2)
		ORDER BY round_id ASC, created_at ASC
	`, sessionID, roundIDs)
	if err != nil {
		return nil, fmt.Errorf("query turns for rounds: %w", err)
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var t Turn
		var speaker string
		if err := rows.Scan(&t.SessionID, &t.RoundID, &speaker, &t.Content, &t.Tenant, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.Speaker = Speaker(speaker)
		out = append(out, t)
	}
	return out, rows.Err()
}

// AllTurns streams every turn of a session, oldest first, for extraction.
func (s *Store) AllTurns(ctx context.Context, sessionID string) ([]Turn, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT session_id, round_id, speaker, content, tenant, created_at
		FROM turns WHERE session_id = $1
		ORDER BY round_id ASC, created_at ASC
	`, sessionID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var t Turn
		var speaker string
		if err := rows.Scan(&t.SessionID, &t.RoundID, &speaker, &t.Content, &t.Tenant, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.Speaker = Speaker(speaker)
		out = append(out, t)
	}
	return out, rows.Err()
}
