package domain

import "errors"

// Sentinel errors for the engine's error taxonomy. Registry misuse and
// definition-level errors are surfaced synchronously at registration or
// submission time; the rest are attached to individual tasks.
var (
	ErrDuplicateNodeType = errors.New("duplicate node type")
	ErrUnknownNodeType   = errors.New("unknown node type")
	ErrCyclicGraph       = errors.New("workflow graph contains a cycle")
	ErrVariableNotFound  = errors.New("condition variable not found")
	ErrTypeMismatch      = errors.New("condition operand type mismatch")
	ErrTimeout           = errors.New("node execution timed out")
	ErrRunNotFound       = errors.New("run not found")
)

// NodeExecutionError wraps whatever a node executor returned, keeping the
// node id and attempt number for the task record.
type NodeExecutionError struct {
	NodeID  string
	Attempt int
	Err     error
}

func (e *NodeExecutionError) Error() string {
	return "node " + e.NodeID + " failed: " + e.Err.Error()
}

func (e *NodeExecutionError) Unwrap() error { return e.Err }
