package session

import (
	"context"

	"memfuse/internal/store"
)

// compile-time assertion that *store.Store satisfies SessionResolver.
var _ SessionResolver = (*store.Store)(nil)

// Resolver get-or-creates a stable internal session id for a caller's
// external identifier, serializing concurrent first-use requests for the
// same external id under the same Locks registry that guards a session's
// turn/extractor critical sections, so two concurrent "first message of a
// new session" requests can't race the Store's get-or-create insert.
type Resolver struct {
	store SessionResolver
	locks *Locks
}

// NewResolver builds a Resolver backed by st, using locks for the
// get-or-create critical section.
func NewResolver(st SessionResolver, locks *Locks) *Resolver {
	return &Resolver{store: st, locks: locks}
}

// Resolve returns the stable session_id for externalID, resolving it via
// the Store on first use.
func (r *Resolver) Resolve(ctx context.Context, externalID, tenant string) (string, error) {
	var sessionID string
	err := r.locks.With("resolve:"+externalID, func() error {
		id, err := r.store.ResolveSession(ctx, externalID, tenant)
		if err != nil {
			return err
		}
		sessionID = id
		return nil
	})
	return sessionID, err
}
