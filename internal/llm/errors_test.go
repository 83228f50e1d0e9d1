package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapTransient_NilStaysNil(t *testing.T) {
	assert.Nil(t, wrapTransient("op", nil))
}

func TestWrapTransient_DeadlineExceededIsTransient(t *testing.T) {
	err := wrapTransient("op", context.DeadlineExceeded)
	assert.True(t, errors.Is(err, ErrTransient))
}

func TestWrapTransient_RateLimitStatusCodeIsTransient(t *testing.T) {
	err := wrapTransient("op", errors.New("request failed: 429 Too Many Requests"))
	assert.True(t, errors.Is(err, ErrTransient))
}

func TestWrapTransient_ClientErrorIsNotTransient(t *testing.T) {
	err := wrapTransient("op", errors.New("request failed: 400 Bad Request"))
	assert.False(t, errors.Is(err, ErrTransient))
}
