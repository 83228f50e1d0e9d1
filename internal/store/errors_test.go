package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakePgError struct{ code string }

func (e *fakePgError) Error() string    { return "pg error " + e.code }
func (e *fakePgError) SQLState() string { return e.code }

func TestWrapWriteErr_NilStaysNil(t *testing.T) {
	assert.Nil(t, wrapWriteErr("insert", nil))
}

func TestWrapWriteErr_ConstraintViolationIsErrConstraint(t *testing.T) {
	err := wrapWriteErr("insert turn", &fakePgError{code: "23505"})
	assert.True(t, errors.Is(err, ErrConstraint))
}

func TestWrapWriteErr_NonConstraintErrorPassesThrough(t *testing.T) {
	cause := errors.New("connection reset")
	err := wrapWriteErr("insert turn", cause)
	assert.Equal(t, cause, err)
	assert.False(t, errors.Is(err, ErrConstraint))
}
