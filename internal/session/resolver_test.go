package session

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSessionResolver struct {
	mu    sync.Mutex
	calls int
	ids   map[string]string
}

func newFakeSessionResolver() *fakeSessionResolver {
	return &fakeSessionResolver{ids: make(map[string]string)}
}

func (f *fakeSessionResolver) ResolveSession(_ context.Context, externalID, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if id, ok := f.ids[externalID]; ok {
		return id, nil
	}
	id := externalID + "-uuid"
	f.ids[externalID] = id
	return id, nil
}

func TestResolver_Resolve_ReturnsStableID(t *testing.T) {
	fake := newFakeSessionResolver()
	r := NewResolver(fake, New())

	id1, err := r.Resolve(context.Background(), "browser-cookie-1", "")
	require.NoError(t, err)
	id2, err := r.Resolve(context.Background(), "browser-cookie-1", "")
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
}

func TestResolver_Resolve_DifferentExternalIDsGetDifferentSessions(t *testing.T) {
	fake := newFakeSessionResolver()
	r := NewResolver(fake, New())

	id1, err := r.Resolve(context.Background(), "a", "")
	require.NoError(t, err)
	id2, err := r.Resolve(context.Background(), "b", "")
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)
}
