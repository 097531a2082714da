// Copyright 2024-2026 The MLX-Go Authors. SPDX-License-Identifier: Apache-2.0

package compile

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/mlx-go/mlx/graph"
	"github.com/mlx-go/mlx/types/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
}

// checkTape asserts the rewriter invariants: the tape is topologically
// ordered (every input of a tape array appears earlier, or is a declared
// graph input) and every parents-map edge mirrors an actual input slot.
func checkTape(t *testing.T, tape []graph.Array, parents parentsMap, inputs []graph.Array) {
	t.Helper()
	pos := make(map[uint64]int)
	for i, a := range tape {
		pos[a.ID()] = i
		for _, s := range a.Siblings() {
			pos[s.ID()] = i
		}
	}
	inputSet := make(map[uint64]bool)
	for _, in := range inputs {
		inputSet[in.ID()] = true
	}
	for i, a := range tape {
		for _, in := range a.Inputs() {
			p, ok := pos[in.ID()]
			if !ok {
				assert.True(t, inputSet[in.ID()],
					"input %s of tape[%d]=%s is neither on the tape nor a declared input", in, i, a)
				continue
			}
			assert.Less(t, p, i, "input %s of tape[%d]=%s appears at or after its consumer", in, i, a)
		}
	}
	for id, edges := range parents {
		for _, e := range edges {
			require.Less(t, e.index, e.parent.NumInputs())
			assert.Equal(t, id, e.parent.Inputs()[e.index].ID(),
				"parents edge (%s, %d) does not mirror the input slot", e.parent, e.index)
		}
	}
}

func tracePlaceholders(dims ...int) (x, y graph.Array) {
	shape := shapes.Make(dtypes.Float32, dims...)
	return graph.Placeholder(shape), graph.Placeholder(shape)
}

func TestDFSPostOrder(t *testing.T) {
	x, y := tracePlaceholders(4)
	sum := graph.Add(x, y)
	out := graph.Mul(graph.Exp(sum), sum)
	inputs := []graph.Array{x, y}
	tape, parents := compileDFS(inputs, []graph.Array{out})

	require.Len(t, tape, 5)
	checkTape(t, tape, parents, inputs)

	// Inputs are included as leaves, the output comes last.
	assert.Equal(t, x.ID(), tape[0].ID())
	assert.Equal(t, y.ID(), tape[1].ID())
	assert.Equal(t, out.ID(), tape[len(tape)-1].ID())

	// sum feeds both the Exp and the Mul.
	assert.Len(t, parents[sum.ID()], 2)
	// The graph output has no parents.
	_, ok := parents[out.ID()]
	assert.False(t, ok)
}

func TestDFSDeduplicatesSharedNodes(t *testing.T) {
	x, _ := tracePlaceholders(4)
	s := graph.Sin(x)
	out := graph.Mul(s, s)
	tape, parents := compileDFS([]graph.Array{x}, []graph.Array{out})
	require.Len(t, tape, 3)
	checkTape(t, tape, parents, []graph.Array{x})
	assert.Len(t, parents[s.ID()], 2)
}

func TestDFSSiblingEdges(t *testing.T) {
	shape := shapes.Make(dtypes.Int32, 3)
	x, y := graph.Placeholder(shape), graph.Placeholder(shape)
	quot, rem := graph.DivMod(x, y)
	out := graph.Add(quot, rem)
	inputs := []graph.Array{x, y}
	tape, parents := compileDFS(inputs, []graph.Array{out})
	checkTape(t, tape, parents, inputs)

	// Both siblings of the DivMod count as parents of each input.
	edges := parents[x.ID()]
	require.Len(t, edges, 2)
	ids := []uint64{edges[0].parent.ID(), edges[1].parent.ID()}
	assert.Contains(t, ids, quot.ID())
	assert.Contains(t, ids, rem.ID())

	// The sibling group appears exactly once on the tape.
	count := 0
	for _, a := range tape {
		if a.HasPrimitive() && a.Primitive() == quot.Primitive() {
			count++
		}
	}
	assert.Equal(t, 1, count)
}
