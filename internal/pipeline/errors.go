// internal/pipeline/errors.go
package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xkilldash9x/ideagraph/api/schemas"
	"github.com/xkilldash9x/ideagraph/internal/ideagraph"
	"github.com/xkilldash9x/ideagraph/internal/session"
)

// Failure classes. Every operation error wraps exactly one of them.
var (
	// ErrService covers transport failures, provider status errors and timeouts.
	ErrService = errors.New("generation service failed")
	// ErrMalformedResponse covers content that could not be parsed or broke the response schema.
	ErrMalformedResponse = errors.New("malformed generation response")
	// ErrPrecondition covers requests the current graph state does not allow.
	ErrPrecondition = errors.New("precondition failed")
)

// Precondition refinements. Each also matches ErrPrecondition.
var (
	ErrTopicExists    = fmt.Errorf("%w: %w", ErrPrecondition, session.ErrTopicExists)
	ErrTerminalStep   = fmt.Errorf("%w: %w", ErrPrecondition, session.ErrTerminalParent)
	ErrEmptySelection = fmt.Errorf("%w: selection is empty", ErrPrecondition)
	ErrNodeNotFound   = fmt.Errorf("%w: %w", ErrPrecondition, ideagraph.ErrNodeNotFound)
	ErrEmptyTopic     = fmt.Errorf("%w: topic text is empty", ErrPrecondition)
	ErrNoAnalysis     = fmt.Errorf("%w: %w", ErrPrecondition, session.ErrNoAnalysis)
)

// OperationError is returned by every pipeline and analysis operation.
type OperationError struct {
	Operation string
	NodeID    schemas.NodeID
	Cause     error
}

func (e *OperationError) Error() string {
	var b strings.Builder
	b.WriteString(e.Operation)
	if e.NodeID != 0 {
		fmt.Fprintf(&b, " for node %d", e.NodeID)
	}
	b.WriteString(" failed: ")
	b.WriteString(e.Cause.Error())
	return b.String()
}

// Unwrap provides the underlying error for use with errors.Is/As.
func (e *OperationError) Unwrap() error {
	return e.Cause
}

// NewOperationError creates a new operation error.
func NewOperationError(operation string, nodeID schemas.NodeID, cause error) error {
	return &OperationError{Operation: operation, NodeID: nodeID, Cause: cause}
}

// serviceError classifies a failed Generate call.
func serviceError(err error) error {
	return fmt.Errorf("%w: %w", ErrService, err)
}

// malformed classifies a parse or schema failure.
func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedResponse, fmt.Sprintf(format, args...))
}

// malformedWrap classifies a parse failure and keeps the parser's error in the chain.
func malformedWrap(err error) error {
	return fmt.Errorf("%w: %w", ErrMalformedResponse, err)
}
