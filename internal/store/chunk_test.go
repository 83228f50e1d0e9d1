package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContentHash_NormalizesWhitespace(t *testing.T) {
	a := ContentHash("hello   world\n")
	b := ContentHash("hello world")
	assert.Equal(t, a, b)
}

func TestContentHash_DiffersForDifferentContent(t *testing.T) {
	a := ContentHash("hello world")
	b := ContentHash("goodbye world")
	assert.NotEqual(t, a, b)
}

func TestSessionCollectionName_IsStableAndNamespaced(t *testing.T) {
	name := sessionCollectionName("sess-123")
	assert.Equal(t, "memfuse_session_sess-123", name)
	assert.Equal(t, name, sessionCollectionName("sess-123"))
}
