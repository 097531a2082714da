// Copyright 2024-2026 The MLX-Go Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/mlx-go/mlx/types/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
}

func TestBuildUnary(t *testing.T) {
	x := Const([]float32{1, 2, 3, 4}, 4)
	y := Exp(x)
	require.True(t, y.HasPrimitive())
	assert.Equal(t, OpTypeExp, y.Primitive().OpType())
	assert.True(t, y.Shape().Equal(shapes.Make(dtypes.Float32, 4)))
	require.Equal(t, 1, y.NumInputs())
	assert.Equal(t, x.ID(), y.Inputs()[0].ID())
	assert.False(t, y.IsEvaled())
}

func TestBuildBinaryBroadcasts(t *testing.T) {
	x := Const([]float32{1, 2, 3, 4}, 4)
	y := AddScalar(x, 2)
	require.Equal(t, OpTypeAdd, y.Primitive().OpType())
	// The scalar operand gets an explicit BroadcastTo node.
	b := y.Inputs()[1]
	require.True(t, b.HasPrimitive())
	assert.Equal(t, OpTypeBroadcastTo, b.Primitive().OpType())
	assert.Equal(t, []int{4}, b.Shape().Dimensions)
	// The broadcast consumes the scalar constant itself.
	c := b.Inputs()[0]
	assert.False(t, c.HasPrimitive())
	assert.True(t, c.IsEvaled())
	assert.Equal(t, 0, c.Rank())
}

func TestBuildBinaryChecks(t *testing.T) {
	x := Const([]float32{1, 2}, 2)
	y := Const([]float64{1, 2}, 2)
	require.NotNil(t, exceptions.Try(func() { Add(x, y) }))

	z := Const([]float32{1, 2, 3}, 3)
	require.NotNil(t, exceptions.Try(func() { Add(x, z) }))
}

func TestComparisonsYieldBool(t *testing.T) {
	x := Const([]float32{1, 2}, 2)
	y := Const([]float32{2, 1}, 2)
	assert.Equal(t, dtypes.Bool, Greater(x, y).DType())
	assert.Equal(t, dtypes.Bool, Equal(x, y).DType())
	assert.Equal(t, dtypes.Float32, Maximum(x, y).DType())
}

func TestPrimitiveEquivalence(t *testing.T) {
	x := Const([]float32{1, 2}, 2)
	a := Exp(x)
	b := Exp(x)
	// Distinct instances, equivalent operations.
	assert.False(t, a.Primitive() == b.Primitive())
	assert.True(t, a.Primitive().IsEquivalent(b.Primitive()))
	assert.False(t, a.Primitive().IsEquivalent(Sin(x).Primitive()))

	b1 := BroadcastTo(x, 3, 2)
	b2 := BroadcastTo(x, 3, 2)
	b3 := BroadcastTo(x, 4, 2)
	assert.True(t, b1.Primitive().IsEquivalent(b2.Primitive()))
	assert.False(t, b1.Primitive().IsEquivalent(b3.Primitive()))

	r1 := RemainderScalar(x, 3)
	r2 := RemainderScalar(x, 3)
	r3 := RemainderScalar(x, 5)
	assert.True(t, r1.Primitive().IsEquivalent(r2.Primitive()))
	assert.False(t, r1.Primitive().IsEquivalent(r3.Primitive()))
}

func TestMultiOutputSiblings(t *testing.T) {
	x := Const([]int32{7, 8, 9}, 3)
	y := Const([]int32{2, 3, 4}, 3)
	quot, rem := DivMod(x, y)

	// quot and rem are siblings sharing one primitive and one input list.
	assert.True(t, quot.Primitive() == rem.Primitive())
	assert.Equal(t, 2, quot.Primitive().NumOutputs())
	require.Len(t, quot.Outputs(), 2)
	assert.Equal(t, quot.ID(), quot.Outputs()[0].ID())
	assert.Equal(t, rem.ID(), quot.Outputs()[1].ID())
	require.Len(t, quot.Siblings(), 1)
	assert.Equal(t, rem.ID(), quot.Siblings()[0].ID())
	assert.Equal(t, 0, quot.OutputIndex())
	assert.Equal(t, 1, rem.OutputIndex())

	// An input rewrite through one sibling is visible through the other.
	z := Const([]int32{1, 1, 1}, 3)
	quot.ReplaceInput(0, z)
	assert.Equal(t, z.ID(), rem.Inputs()[0].ID())
}

func TestTracerPropagation(t *testing.T) {
	p := Placeholder(shapes.Make(dtypes.Float32, 2))
	assert.True(t, p.IsTracer())
	assert.False(t, p.HasPrimitive())
	assert.False(t, p.IsEvaled())

	y := Exp(p)
	assert.True(t, y.IsTracer())

	c := Const([]float32{1, 2}, 2)
	assert.False(t, Exp(c).IsTracer())

	done := EnterTracing()
	assert.True(t, InTracing())
	z := Exp(c)
	assert.True(t, z.IsTracer())
	done()
	done() // Idempotent.
	assert.False(t, InTracing())
}

func TestScalarBits(t *testing.T) {
	a := Scalar(float32(2))
	b := Scalar(float32(2))
	c := Scalar(float32(3))
	d := Scalar(int32(2))
	assert.Equal(t, ScalarBits(a), ScalarBits(b))
	assert.NotEqual(t, ScalarBits(a), ScalarBits(c))
	// Same numeric value, different dtype: different bit patterns here, and
	// the dedup key pairs bits with the dtype anyway.
	assert.NotEqual(t, ScalarBits(a), ScalarBits(d))

	require.NotNil(t, exceptions.Try(func() { ScalarBits(Const([]float32{1, 2}, 2)) }))
}
