package executor

import (
	"errors"
	"fmt"

	"github.com/weftflow/weft/pkg/models"
)

// ErrAlreadyStarted is returned when Execute is called more than once on the
// same run.
var ErrAlreadyStarted = errors.New("execution already started")

// ErrCancelled is returned by Execute when the run was cancelled before all
// nodes could be dispatched.
var ErrCancelled = errors.New("execution cancelled")

// NodeExecutionError reports a node handler failure, carrying the originating
// node.
type NodeExecutionError struct {
	NodeID string
	Kind   models.NodeKind
	Err    error
}

func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("node %s (%s) failed: %v", e.NodeID, e.Kind, e.Err)
}

func (e *NodeExecutionError) Unwrap() error {
	return e.Err
}
