package musicgen

import (
	"errors"
	"fmt"

	"github.com/gijzelaerr/poing/internal/prompt"
)

// Error kinds surfaced by Generate. Callers classify with errors.Is; the
// underlying cause is always wrapped alongside the kind.
var (
	// ErrEmptyPrompt is a precondition failure raised before any model runs.
	ErrEmptyPrompt = prompt.ErrEmpty

	ErrTokenization    = errors.New("tokenization failed")
	ErrModelInvocation = errors.New("model invocation failed")
	ErrShape           = errors.New("tensor shape invariant violated")
	ErrCancelled       = errors.New("generation cancelled")
	ErrGeneration      = errors.New("generation failed")
	ErrInvalidParams   = errors.New("invalid generation parameters")
	ErrInvalidModelDir = errors.New("invalid model directory")
)

func invocationError(graph string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrModelInvocation, graph, err)
}

func missingOutput(graph, name string) error {
	return fmt.Errorf("%w: %s: missing %q in output", ErrModelInvocation, graph, name)
}
