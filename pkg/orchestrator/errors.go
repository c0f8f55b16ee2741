package orchestrator

import (
	"fmt"

	"github.com/adamd9/thelastquiz/pkg/storage"
)

// ValidationError rejects a malformed run request before anything is
// persisted.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// InvalidStateError rejects an operation the run's lifecycle state does
// not permit. Terminal states permit nothing.
type InvalidStateError struct {
	RunID  string
	Status storage.RunStatus
	Op     string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("run %s: cannot %s while %s", e.RunID, e.Op, e.Status)
}
