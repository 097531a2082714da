// Copyright 2024-2026 The MLX-Go Authors. SPDX-License-Identifier: Apache-2.0

package compile

import (
	"github.com/mlx-go/mlx/graph"
)

// parentEdge records that parent.Inputs()[index] is the array the edge is
// keyed under.
type parentEdge struct {
	parent graph.Array
	index  int
}

// parentsMap maps an array identity to the arrays consuming it. Siblings of a
// multi-output consumer are recorded as parents too, so a sibling group is
// always rewritten as a unit. The map is scoped to one compilation and never
// escapes it.
type parentsMap map[uint64][]parentEdge

// compileDFS walks the graph from the outputs and returns a post-order tape
// plus the parents map. Graph inputs appear in the tape as leaves but are not
// recursed through.
func compileDFS(inputs, outputs []graph.Array) ([]graph.Array, parentsMap) {
	inputSet := make(map[uint64]bool, len(inputs))
	for _, in := range inputs {
		inputSet[in.ID()] = true
	}

	var tape []graph.Array
	parents := make(parentsMap)
	visited := make(map[uint64]bool)

	var recurse func(a graph.Array)
	recurse = func(a graph.Array) {
		if visited[a.ID()] {
			return
		}
		siblings := a.Siblings()
		for i, in := range a.Inputs() {
			parents[in.ID()] = append(parents[in.ID()], parentEdge{parent: a, index: i})
			for _, s := range siblings {
				parents[in.ID()] = append(parents[in.ID()], parentEdge{parent: s, index: i})
			}
			if inputSet[in.ID()] {
				// Keep declared inputs on the tape as leaves for the
				// rewriting passes, without recursing through them.
				if !visited[in.ID()] {
					visited[in.ID()] = true
					tape = append(tape, in)
				}
				continue
			}
			recurse(in)
		}
		visited[a.ID()] = true
		for _, s := range siblings {
			visited[s.ID()] = true
		}
		tape = append(tape, a)
	}
	for _, a := range outputs {
		recurse(a)
	}
	return tape, parents
}
