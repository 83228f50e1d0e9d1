package orchestrator

import "errors"

// ErrValidation marks a plan or argument as structurally invalid (an
// unknown subagent, an empty plan, malformed repair JSON) — the kind of
// failure another planning attempt is meant to fix.
var ErrValidation = errors.New("orchestrator: validation error")

// ErrLogic marks a failure in the task's own execution logic (a subagent
// call returning an error, a step failing after all repair attempts) as
// opposed to a malformed plan.
var ErrLogic = errors.New("orchestrator: logic error")

type validationError struct {
	msg string
}

func (e *validationError) Error() string { return e.msg }
func (e *validationError) Unwrap() error { return ErrValidation }

func newValidationError(msg string) error { return &validationError{msg: msg} }

type logicError struct {
	msg   string
	cause error
}

func (e *logicError) Error() string { return e.msg }
func (e *logicError) Unwrap() error { return e.cause }
func (e *logicError) Is(target error) bool { return target == ErrLogic }

func newLogicError(msg string, cause error) error { return &logicError{msg: msg, cause: cause} }
