// Copyright 2024-2026 The MLX-Go Authors. SPDX-License-Identifier: Apache-2.0

package compile

import (
	"testing"

	"github.com/mlx-go/mlx/graph"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	x := graph.Const([]float32{1, 2}, 2)
	m := graph.Const([]float32{1, 2, 3, 4}, 2, 2)

	assert.True(t, isUnary(graph.Exp(x).Primitive()))
	assert.True(t, isUnary(graph.AsType(x, x.DType()).Primitive()))
	assert.False(t, isBinary(graph.Exp(x).Primitive()))

	assert.True(t, isBinary(graph.Add(x, x).Primitive()))
	assert.True(t, isBinary(graph.LessEqual(x, x).Primitive()))
	assert.False(t, isUnary(graph.Add(x, x).Primitive()))

	assert.True(t, isBroadcast(graph.BroadcastTo(x, 3, 2).Primitive()))

	for _, a := range []graph.Array{
		graph.Exp(x), graph.Add(x, x), graph.BroadcastTo(x, 3, 2),
	} {
		assert.True(t, isFusable(a.Primitive()), "%s should be fusable", a)
	}

	// Opaque to the rewriter: MatMul, multi-output DivMod, Compiled.
	assert.False(t, isFusable(graph.MatMul(m, m).Primitive()))
	xi := graph.Const([]int32{4, 5}, 2)
	quot, _ := graph.DivMod(xi, xi)
	assert.False(t, isFusable(quot.Primitive()))
	c := graph.NewCompiled(graph.DefaultStream(),
		[]graph.Array{x}, []graph.Array{graph.Exp(x)}, []graph.Array{graph.Exp(x)})
	assert.False(t, isFusable(c))
}
