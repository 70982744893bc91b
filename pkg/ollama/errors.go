package ollama

import (
	"errors"
	"fmt"
)

// ErrBackendUnavailable wraps transport-level failures: the backend could not
// be reached at all.
var ErrBackendUnavailable = errors.New("generation backend unavailable")

// GenerationError is a backend-reported failure: the backend answered with a
// non-success HTTP status.
type GenerationError struct {
	Status  int
	Message string
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed: status %d: %s", e.Status, e.Message)
}

// IsGenerationError reports whether err is a backend-reported failure, as
// opposed to a transport failure.
func IsGenerationError(err error) bool {
	var genErr *GenerationError

	return errors.As(err, &genErr)
}
