package core

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Error kinds. Each pipeline step fails with exactly one of these.
var (
	ErrInvalidRequest    = errors.New("invalid request")
	ErrEmbeddingFailure  = errors.New("embedding failed")
	ErrRetrievalFailure  = errors.New("retrieval failed")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrGenerationFailure = errors.New("generation failed")

	// ErrPipelineFailure is the only failure a client ever sees for a non-client error.
	ErrPipelineFailure = errors.New("OpenAI or DB request failed")
)

var (
	// ErrSchemaViolation marks a stored document that does not follow the collection
	// contract. It surfaces as a retrieval failure.
	ErrSchemaViolation = errors.New("stored document violates collection schema")

	ErrConversationNotFound = errors.New("conversation not found")
	ErrHistoryDisabled      = errors.New("chat history is disabled")
)

// StepError records the pipeline state a request failed in, the error kind, and the
// provider cause. errors.Is matches the kind; Unwrap exposes the cause.
type StepError struct {
	State State
	Kind  error
	Err   error
}

func (e *StepError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.State, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.State, e.Kind, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

func (e *StepError) Is(target error) bool { return target == e.Kind }

// KindOf returns the error kind carried by err, or ErrPipelineFailure when err did not
// come out of the pipeline.
func KindOf(err error) error {
	var stepErr *StepError
	if errors.As(err, &stepErr) && stepErr.Kind != nil {
		return stepErr.Kind
	}
	return ErrPipelineFailure
}

// IsClientError reports whether err is caused by input the caller can fix.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidRequest)
}
