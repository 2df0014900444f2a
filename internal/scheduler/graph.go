package scheduler

import (
	"fmt"

	"nodeflow/internal/domain"
)

// TopoBatches computes a topological batching of the definition: each batch
// holds mutually independent nodes whose dependencies are all in earlier
// batches. Returns ErrCyclicGraph when no valid order exists. Subworkflow
// boundaries are opaque here; nested definitions are batched separately
// when the hosting node executes.
func TopoBatches(def *domain.WorkflowDefinition) ([][]string, error) {
	indegree := make(map[string]int, len(def.Nodes))
	for _, n := range def.Nodes {
		indegree[n.ID] = 0
	}
	for _, e := range def.Edges {
		indegree[e.Target]++
	}

	remaining := len(def.Nodes)
	placed := make(map[string]bool, len(def.Nodes))
	var batches [][]string

	for remaining > 0 {
		var batch []string
		// Definition order keeps batching deterministic.
		for _, n := range def.Nodes {
			if !placed[n.ID] && indegree[n.ID] == 0 {
				batch = append(batch, n.ID)
			}
		}
		if len(batch) == 0 {
			return nil, fmt.Errorf("%w: %s", domain.ErrCyclicGraph, def.Name)
		}
		for _, id := range batch {
			placed[id] = true
			remaining--
			for _, ei := range def.OutEdges(id) {
				indegree[def.Edges[ei].Target]--
			}
		}
		batches = append(batches, batch)
	}
	return batches, nil
}

// graphState tracks edge firing for one definition level during a run.
// Edges resolve exactly once, when their source node reaches a terminal
// status; by the time a batch is classified every incoming edge of its
// nodes is either fired or dead.
type graphState struct {
	def     *domain.WorkflowDefinition
	fired   []bool
	dead    []bool
	outputs map[string]map[string]any
}

func newGraphState(def *domain.WorkflowDefinition) *graphState {
	return &graphState{
		def:     def,
		fired:   make([]bool, len(def.Edges)),
		dead:    make([]bool, len(def.Edges)),
		outputs: make(map[string]map[string]any, len(def.Nodes)),
	}
}

// killOutEdges marks every outgoing edge of a failed or skipped node dead.
func (g *graphState) killOutEdges(nodeID string) {
	for _, ei := range g.def.OutEdges(nodeID) {
		g.dead[ei] = true
	}
}

// nodeInput merges the outputs of all fired incoming edges in edge
// declaration order; later sources win on key conflicts. Root nodes get the
// graph-level input instead.
func (g *graphState) nodeInput(nodeID string, graphInput map[string]any) map[string]any {
	in := g.def.InEdges(nodeID)
	if len(in) == 0 {
		return graphInput
	}
	merged := make(map[string]any)
	for _, ei := range in {
		if !g.fired[ei] {
			continue
		}
		for k, v := range g.outputs[g.def.Edges[ei].Source] {
			merged[k] = v
		}
	}
	return merged
}

// leafOutput merges the outputs of completed leaf nodes (nodes with no
// outgoing edges); this is the graph's terminal output.
func (g *graphState) leafOutput() map[string]any {
	merged := make(map[string]any)
	for _, n := range g.def.Nodes {
		if len(g.def.OutEdges(n.ID)) > 0 {
			continue
		}
		for k, v := range g.outputs[n.ID] {
			merged[k] = v
		}
	}
	return merged
}
