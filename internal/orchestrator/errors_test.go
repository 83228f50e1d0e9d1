package orchestrator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationError_IsErrValidation(t *testing.T) {
	err := newValidationError("bad plan")
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Equal(t, "bad plan", err.Error())
}

func TestLogicError_IsErrLogicAndUnwrapsCause(t *testing.T) {
	err := newLogicError("step failed", errBoom)
	assert.True(t, errors.Is(err, ErrLogic))
	assert.True(t, errors.Is(err, errBoom))
}
