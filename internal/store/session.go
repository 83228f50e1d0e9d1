package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// ResolveSession maps a caller-supplied external session identifier to a
// stable internal session_id, creating the mapping on first use. The
// external id is whatever the caller's transport naturally has (a cookie
// value, a client-generated string, ...); the internal id is what every
// other table keys on, so callers never need to know or care how the
// external id is shaped.
func (s *Store) ResolveSession(ctx context.Context, externalID, tenant string) (string, error) {
	if tenant == "" {
		tenant = "default"
	}
	var sessionID string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO sessions (external_id, session_id, tenant)
		VALUES ($1, $2, $3)
		ON CONFLICT (external_id) DO UPDATE SET external_id = EXCLUDED.external_id
		RETURNING session_id
	`, externalID, uuid.NewString(), tenant).Scan(&sessionID)
	if err != nil {
		return "", fmt.Errorf("resolve session: %w", wrapWriteErr("resolve session", err))
	}
	return sessionID, nil
}
