package domain

import (
	"fmt"
	"time"
)

// NodeSpec describes one node of a workflow definition. Type names an
// executor in the node registry unless the node hosts a Subworkflow, in
// which case the nested definition is executed in its place.
type NodeSpec struct {
	ID           string              `json:"id"`
	Type         string              `json:"type"`
	Config       map[string]any      `json:"config,omitempty"`
	MaxRetries   int                 `json:"max_retries,omitempty"`
	RetryDelayMS int64               `json:"retry_delay_ms,omitempty"`
	TimeoutMS    int64               `json:"timeout_ms,omitempty"`
	Subworkflow  *WorkflowDefinition `json:"subworkflow,omitempty"`
}

// Timeout returns the per-node execution timeout, zero meaning none.
func (n NodeSpec) Timeout() time.Duration {
	return time.Duration(n.TimeoutMS) * time.Millisecond
}

// RetryDelay returns the pause between retry attempts.
func (n NodeSpec) RetryDelay() time.Duration {
	return time.Duration(n.RetryDelayMS) * time.Millisecond
}

// IsSubworkflow reports whether the node hosts a nested definition.
func (n NodeSpec) IsSubworkflow() bool { return n.Subworkflow != nil }

// Edge is a directed dependency between two nodes. A non-empty Conditions
// sequence guards the edge: it fires only when the sequence evaluates true
// against the source node's output. A Default edge fires only when none of
// the source's conditional edges fired.
type Edge struct {
	Source     string      `json:"source"`
	Target     string      `json:"target"`
	Conditions []Condition `json:"conditions,omitempty"`
	Default    bool        `json:"default,omitempty"`
}

// Conditional reports whether the edge carries a route guard.
func (e Edge) Conditional() bool { return len(e.Conditions) > 0 }

// WorkflowDefinition is the immutable description of a workflow graph.
type WorkflowDefinition struct {
	Name  string     `json:"name"`
	Nodes []NodeSpec `json:"nodes"`
	Edges []Edge     `json:"edges"`
}

// Node returns the spec with the given id.
func (d *WorkflowDefinition) Node(id string) (NodeSpec, bool) {
	for _, n := range d.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return NodeSpec{}, false
}

// Validate checks structural invariants: node ids are unique and non-empty,
// every edge references existing nodes, and nested subworkflow definitions
// hold recursively. Cycle detection is a separate concern of the scheduler's
// topological sort.
func (d *WorkflowDefinition) Validate() error {
	if len(d.Nodes) == 0 {
		return fmt.Errorf("definition %q has no nodes", d.Name)
	}
	seen := make(map[string]struct{}, len(d.Nodes))
	for _, n := range d.Nodes {
		if n.ID == "" {
			return fmt.Errorf("definition %q contains a node with an empty id", d.Name)
		}
		if _, dup := seen[n.ID]; dup {
			return fmt.Errorf("definition %q contains duplicate node id %q", d.Name, n.ID)
		}
		seen[n.ID] = struct{}{}
		if n.Subworkflow != nil {
			if err := n.Subworkflow.Validate(); err != nil {
				return fmt.Errorf("subworkflow of node %q: %w", n.ID, err)
			}
		}
	}
	for _, e := range d.Edges {
		if _, ok := seen[e.Source]; !ok {
			return fmt.Errorf("edge %s->%s references unknown source node", e.Source, e.Target)
		}
		if _, ok := seen[e.Target]; !ok {
			return fmt.Errorf("edge %s->%s references unknown target node", e.Source, e.Target)
		}
	}
	return nil
}

// InEdges returns the indexes of edges terminating at the given node.
func (d *WorkflowDefinition) InEdges(nodeID string) []int {
	var idxs []int
	for i, e := range d.Edges {
		if e.Target == nodeID {
			idxs = append(idxs, i)
		}
	}
	return idxs
}

// OutEdges returns the indexes of edges originating at the given node.
func (d *WorkflowDefinition) OutEdges(nodeID string) []int {
	var idxs []int
	for i, e := range d.Edges {
		if e.Source == nodeID {
			idxs = append(idxs, i)
		}
	}
	return idxs
}
