package oracle

import (
	"errors"
	"fmt"
)

// ErrEvaluation is the sentinel matched by every EvaluationError.
var ErrEvaluation = errors.New("oracle evaluation failed")

// EvaluationError wraps a failure raised by a policy engine.
type EvaluationError struct {
	// Engine names the engine that failed (cel, casbin, opa).
	Engine string

	// Err is the underlying error.
	Err error
}

// Error returns the error message.
func (e *EvaluationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Engine, ErrEvaluation)
	}
	return fmt.Sprintf("%s: %s: %v", e.Engine, ErrEvaluation, e.Err)
}

// Unwrap returns the underlying error.
func (e *EvaluationError) Unwrap() error {
	return e.Err
}

// Is matches ErrEvaluation.
func (e *EvaluationError) Is(target error) bool {
	return target == ErrEvaluation
}

// NewEvaluationError creates an EvaluationError for the given engine.
func NewEvaluationError(engine string, err error) *EvaluationError {
	return &EvaluationError{Engine: engine, Err: err}
}
