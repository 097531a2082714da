// Copyright 2024-2026 The MLX-Go Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"math"
	"slices"
	"sync/atomic"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/mlx-go/mlx/types/shapes"
	"github.com/x448/float16"
)

// nodeIDs issues the process-wide array identities. Identities are opaque and
// never reused while the process lives.
var nodeIDs atomic.Uint64

// node is the shared state behind an Array handle.
type node struct {
	id    uint64
	shape shapes.Shape
	prim  Primitive

	// inputs is shared by all sibling outputs of a multi-output primitive, so
	// an input rewrite is observed by the whole sibling group.
	inputs []Array

	// outputs holds all co-outputs of a multi-output primitive, in order,
	// self included. nil for single-output nodes.
	outputs []Array
	pos     int

	tracer bool
	buf    *buffer
}

// Array is an immutable value handle: a shape, a dtype and, for the result of
// an operation, a Primitive plus the inputs it consumes. Arrays without a
// primitive are materialized constants or tracing placeholders.
//
// Copying an Array copies the handle; the underlying node is shared.
type Array struct {
	n *node
}

// New creates a single-output array. A nil primitive makes a constant or
// placeholder (shape only, no data); use Const or Scalar for constants that
// carry data.
func New(shape shapes.Shape, prim Primitive, inputs []Array) Array {
	if !shape.Ok() {
		exceptions.Panicf("graph.New: invalid shape")
	}
	if prim != nil && prim.NumOutputs() != 1 {
		exceptions.Panicf("graph.New: primitive %s has %d outputs, use MakeArrays", prim, prim.NumOutputs())
	}
	n := &node{
		id:     nodeIDs.Add(1),
		shape:  shape.Clone(),
		prim:   prim,
		inputs: slices.Clone(inputs),
		tracer: anyTracer(inputs) || InTracing(),
	}
	return Array{n: n}
}

// MakeArrays creates the outputs of a multi-output primitive, preserving
// sibling order. All outputs share the primitive and the input list.
func MakeArrays(outputShapes []shapes.Shape, prim Primitive, inputs []Array) []Array {
	if prim == nil {
		exceptions.Panicf("graph.MakeArrays: primitive must not be nil")
	}
	if prim.NumOutputs() != len(outputShapes) {
		exceptions.Panicf("graph.MakeArrays: primitive %s declares %d outputs, got %d shapes",
			prim, prim.NumOutputs(), len(outputShapes))
	}
	if len(outputShapes) == 1 {
		return []Array{New(outputShapes[0], prim, inputs)}
	}
	sharedInputs := slices.Clone(inputs)
	tracer := anyTracer(inputs) || InTracing()
	outs := make([]Array, len(outputShapes))
	for i, s := range outputShapes {
		if !s.Ok() {
			exceptions.Panicf("graph.MakeArrays: invalid shape for output #%d", i)
		}
		outs[i] = Array{n: &node{
			id:     nodeIDs.Add(1),
			shape:  s.Clone(),
			prim:   prim,
			inputs: sharedInputs,
			pos:    i,
			tracer: tracer,
		}}
	}
	for i := range outs {
		outs[i].n.outputs = outs
	}
	return outs
}

// Placeholder creates a tracer array with the given shape, no primitive and
// no data. Placeholders stand for the real inputs while a function is traced.
func Placeholder(shape shapes.Shape) Array {
	a := New(shape, nil, nil)
	a.SetTracer(true)
	return a
}

func anyTracer(inputs []Array) bool {
	for _, in := range inputs {
		if in.n != nil && in.n.tracer {
			return true
		}
	}
	return false
}

// Const creates a materialized constant from flat values and dimensions.
func Const[T dtypes.Supported](values []T, dimensions ...int) Array {
	shape := shapes.Make(dtypes.FromGenericsType[T](), dimensions...)
	if shape.Size() != len(values) {
		exceptions.Panicf("graph.Const: shape %s needs %d values, got %d", shape, shape.Size(), len(values))
	}
	a := New(shape, nil, nil)
	a.n.buf = &buffer{shape: a.n.shape, flat: slices.Clone(values)}
	return a
}

// Scalar creates a materialized zero-dimensional constant.
func Scalar[T dtypes.Supported](value T) Array {
	a := New(shapes.Scalar[T](), nil, nil)
	a.n.buf = &buffer{shape: a.n.shape, flat: []T{value}}
	return a
}

// ConstOf creates a materialized scalar constant of the given dtype from a
// float64 value. It is how the scalar conveniences (AddScalar, ...) mint
// dtype-matched constants.
func ConstOf(dtype dtypes.DType, value float64) Array {
	switch dtype {
	case dtypes.Bool:
		return Scalar(value != 0)
	case dtypes.Int8:
		return Scalar(int8(value))
	case dtypes.Int16:
		return Scalar(int16(value))
	case dtypes.Int32:
		return Scalar(int32(value))
	case dtypes.Int64:
		return Scalar(int64(value))
	case dtypes.Uint8:
		return Scalar(uint8(value))
	case dtypes.Uint16:
		return Scalar(uint16(value))
	case dtypes.Uint32:
		return Scalar(uint32(value))
	case dtypes.Uint64:
		return Scalar(uint64(value))
	case dtypes.Float16:
		return Scalar(float16.Fromfloat32(float32(value)))
	case dtypes.BFloat16:
		return Scalar(bfloat16.FromFloat32(float32(value)))
	case dtypes.Float32:
		return Scalar(float32(value))
	case dtypes.Float64:
		return Scalar(value)
	default:
		exceptions.Panicf("graph.ConstOf: unsupported dtype %s", dtype)
	}
	return Array{}
}

// ID returns the opaque, stable identity of the array.
func (a Array) ID() uint64 { return a.n.id }

// Shape of the array.
func (a Array) Shape() shapes.Shape { return a.n.shape }

// DType of the array elements.
func (a Array) DType() dtypes.DType { return a.n.shape.DType }

// Rank is the number of axes.
func (a Array) Rank() int { return a.n.shape.Rank() }

// HasPrimitive reports whether the array is the output of an operation.
// Constants and placeholders have no primitive.
func (a Array) HasPrimitive() bool { return a.n.prim != nil }

// Primitive that produced this array, or nil. The returned interface value is
// comparable: two arrays produced by the same operation share the same
// primitive instance.
func (a Array) Primitive() Primitive { return a.n.prim }

// Inputs returns the operand list of the producing primitive. The slice is
// owned by the node (and shared with siblings); callers must not modify it
// directly -- the rewriter uses ReplaceInput.
func (a Array) Inputs() []Array { return a.n.inputs }

// NumInputs returns the number of operands.
func (a Array) NumInputs() int { return len(a.n.inputs) }

// ReplaceInput redirects input slot i to v. This is the single mutation the
// graph rewriter performs on live arrays; siblings observe the change since
// they share the input list.
func (a Array) ReplaceInput(i int, v Array) {
	if i < 0 || i >= len(a.n.inputs) {
		exceptions.Panicf("Array.ReplaceInput: slot %d out of range for %d inputs", i, len(a.n.inputs))
	}
	a.n.inputs[i] = v
}

// Outputs returns all co-outputs of the producing primitive, in order, self
// included. For single-output arrays it is just the array itself.
func (a Array) Outputs() []Array {
	if a.n.outputs == nil {
		return []Array{a}
	}
	return slices.Clone(a.n.outputs)
}

// Siblings returns the co-outputs of the producing primitive, excluding self.
func (a Array) Siblings() []Array {
	if a.n.outputs == nil {
		return nil
	}
	sibs := make([]Array, 0, len(a.n.outputs)-1)
	for _, o := range a.n.outputs {
		if o.n != a.n {
			sibs = append(sibs, o)
		}
	}
	return sibs
}

// OutputIndex returns the position of this array among the outputs of its
// producing primitive. Zero for single-output arrays.
func (a Array) OutputIndex() int { return a.n.pos }

// IsEvaled reports whether the array has been materialized.
func (a Array) IsEvaled() bool { return a.n.buf != nil }

// IsTracer reports whether the array was built during tracing.
func (a Array) IsTracer() bool { return a.n.tracer }

// SetTracer marks (or unmarks) the array as a tracer array.
func (a Array) SetTracer(tracer bool) { a.n.tracer = tracer }

// SameNode reports whether b shares this array's underlying node.
func (a Array) SameNode(b Array) bool { return a.n == b.n }

// String implements fmt.Stringer.
func (a Array) String() string {
	switch {
	case a.n == nil:
		return "Array<nil>"
	case a.n.prim != nil:
		return fmt.Sprintf("%s#%d%s", a.n.prim, a.n.id, a.n.shape)
	case a.n.buf != nil:
		return fmt.Sprintf("const#%d%s", a.n.id, a.n.shape)
	default:
		return fmt.Sprintf("placeholder#%d%s", a.n.id, a.n.shape)
	}
}

// Data returns a typed view of the materialized flat data. The array must be
// evaluated and T must match its dtype.
func Data[T dtypes.Supported](a Array) []T {
	if !a.IsEvaled() {
		exceptions.Panicf("graph.Data: array %s is not evaluated", a)
	}
	flat, ok := a.n.buf.flat.([]T)
	if !ok {
		exceptions.Panicf("graph.Data: array %s holds %s, not %T", a, a.DType(), flat)
	}
	return flat
}

// ScalarBits returns the raw bit pattern of an evaluated scalar array,
// zero-extended to 64 bits. Together with the dtype it identifies equal
// scalar constants.
func ScalarBits(a Array) uint64 {
	if !a.IsEvaled() || a.Rank() != 0 {
		exceptions.Panicf("graph.ScalarBits: array %s is not an evaluated scalar", a)
	}
	switch flat := a.n.buf.flat.(type) {
	case []bool:
		if flat[0] {
			return 1
		}
		return 0
	case []int8:
		return uint64(uint8(flat[0]))
	case []int16:
		return uint64(uint16(flat[0]))
	case []int32:
		return uint64(uint32(flat[0]))
	case []int64:
		return uint64(flat[0])
	case []uint8:
		return uint64(flat[0])
	case []uint16:
		return uint64(flat[0])
	case []uint32:
		return uint64(flat[0])
	case []uint64:
		return flat[0]
	case []float16.Float16:
		return uint64(flat[0].Bits())
	case []bfloat16.BFloat16:
		return uint64(uint16(flat[0]))
	case []float32:
		return uint64(math.Float32bits(flat[0]))
	case []float64:
		return math.Float64bits(flat[0])
	default:
		exceptions.Panicf("graph.ScalarBits: unsupported dtype %s", a.DType())
	}
	return 0
}

// Value materializes the array (and everything it depends on) and returns the
// flat data: the bare element for scalars, the flat slice otherwise.
func (a Array) Value() any {
	if !a.IsEvaled() {
		if err := Eval(a); err != nil {
			exceptions.Panicf("Array.Value: %+v", err)
		}
	}
	if a.Rank() == 0 {
		return reflectIndexAny(a.n.buf.flat, 0)
	}
	return a.n.buf.flat
}
