package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveStepSlots_SubstitutesPriorStepOutput(t *testing.T) {
	args := map[string]any{"input": stepOutputSlot("1") + " plus extra"}
	outputs := map[string]string{"1": "42"}

	resolved := resolveStepSlots(args, outputs)

	assert.Equal(t, "42 plus extra", resolved["input"])
}

func TestResolveStepSlots_LeavesNonStringArgsUntouched(t *testing.T) {
	args := map[string]any{"count": 7}

	resolved := resolveStepSlots(args, map[string]string{})

	assert.Equal(t, 7, resolved["count"])
}

func TestResolveStepSlots_NilArgsReturnsNil(t *testing.T) {
	assert.Nil(t, resolveStepSlots(nil, map[string]string{"1": "x"}))
}

func TestContainsFold_IsCaseInsensitive(t *testing.T) {
	assert.True(t, containsFold("Deploy on FRIDAY", "friday"))
	assert.False(t, containsFold("Deploy on Friday", "monday"))
}

func TestStringify_HandlesNilAndNonString(t *testing.T) {
	assert.Equal(t, "", stringify(nil))
	assert.Equal(t, "hello", stringify("hello"))
	assert.Equal(t, "42", stringify(42))
}
