// Copyright 2024-2026 The MLX-Go Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"reflect"
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
)

// Primitive is a named operator producing one or more arrays from inputs.
//
// Two primitives are distinct instances even when they represent the same
// operation; IsEquivalent compares operation kind and operator-specific
// parameters, never instance identity.
type Primitive interface {
	// OpType is the stable discriminant of the operation.
	OpType() OpType

	// Stream the primitive is scheduled on.
	Stream() Stream

	// NumOutputs the primitive produces.
	NumOutputs() int

	// IsEquivalent reports whether other performs the same operation with the
	// same parameters.
	IsEquivalent(other Primitive) bool

	// Vmap builds the batched version of the operation over the vmap'd
	// inputs. axes[i] is the batch axis of inputs[i], or -1 when the input is
	// not batched. It returns the batched outputs and their batch axes.
	Vmap(inputs []Array, axes []int) ([]Array, []int)

	// String implements fmt.Stringer.
	String() string
}

// Differentiable is implemented by primitives that expose autodiff rules.
type Differentiable interface {
	// VJP computes the vector-jacobian product (reverse mode).
	VJP(primals, cotangents []Array, argnums []int, outputs []Array) []Array

	// JVP computes the jacobian-vector product (forward mode).
	JVP(primals, tangents []Array, argnums []int) []Array
}

// primData is implemented by operator parameter payloads that support
// equivalence checks. The argument is guaranteed to be the same concrete type.
type primData interface {
	equalData(other primData) bool
}

// dataEqual compares operator parameter payloads.
func dataEqual(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	if reflect.TypeOf(a) != reflect.TypeOf(b) {
		return false
	}
	if cmp, ok := a.(primData); ok {
		return cmp.equalData(b.(primData))
	}
	return false
}

// broadcastData parameterizes OpTypeBroadcastTo.
type broadcastData struct {
	dims []int
}

func (d *broadcastData) equalData(other primData) bool {
	return slices.Equal(d.dims, other.(*broadcastData).dims)
}

// asTypeData parameterizes OpTypeAsType.
type asTypeData struct {
	dtype dtypes.DType
}

func (d *asTypeData) equalData(other primData) bool {
	return d.dtype == other.(*asTypeData).dtype
}

// remainderData parameterizes OpTypeRemainderScalar.
type remainderData struct {
	divisor float64
}

func (d *remainderData) equalData(other primData) bool {
	return d.divisor == other.(*remainderData).divisor
}

// Simple implements Primitive for every operator of the built-in table.
// Operators with parameters (BroadcastTo, AsType, RemainderScalar) carry them
// in data.
type Simple struct {
	op     OpType
	stream Stream
	data   any
}

// Compile-time check.
var _ Primitive = (*Simple)(nil)

func newSimple(op OpType, data any) *Simple {
	return &Simple{op: op, stream: DefaultStream(), data: data}
}

// OpType implements Primitive.
func (s *Simple) OpType() OpType { return s.op }

// Stream implements Primitive.
func (s *Simple) Stream() Stream { return s.stream }

// NumOutputs implements Primitive.
func (s *Simple) NumOutputs() int {
	if s.op == OpTypeDivMod {
		return 2
	}
	return 1
}

// IsEquivalent implements Primitive: same operation kind and same parameters.
func (s *Simple) IsEquivalent(other Primitive) bool {
	o, ok := other.(*Simple)
	if !ok {
		return false
	}
	return s.op == o.op && dataEqual(s.data, o.data)
}

// String implements fmt.Stringer.
func (s *Simple) String() string {
	switch data := s.data.(type) {
	case *broadcastData:
		return fmt.Sprintf("%s%v", s.op, data.dims)
	case *asTypeData:
		return fmt.Sprintf("%s(%s)", s.op, data.dtype)
	case *remainderData:
		return fmt.Sprintf("%s(%v)", s.op, data.divisor)
	default:
		return s.op.String()
	}
}

// Vmap implements Primitive for the elementwise and broadcast operators.
// All batched inputs must share the same batch axis; mixing batched and
// unbatched inputs is supported for batch axis 0 (the unbatched operand is
// broadcast by the regular binary-op rules).
func (s *Simple) Vmap(inputs []Array, axes []int) ([]Array, []int) {
	if len(inputs) != len(axes) {
		exceptions.Panicf("%s.Vmap: got %d inputs but %d axes", s.op, len(inputs), len(axes))
	}
	batchAxis := -1
	anyUnbatched := false
	for i, ax := range axes {
		if ax < 0 {
			anyUnbatched = true
			continue
		}
		if ax >= inputs[i].Rank() {
			exceptions.Panicf("%s.Vmap: batch axis %d out of range for input of rank %d", s.op, ax, inputs[i].Rank())
		}
		if batchAxis == -1 {
			batchAxis = ax
		} else if ax != batchAxis {
			exceptions.Panicf("%s.Vmap: mismatching batch axes %v not implemented", s.op, axes)
		}
	}
	if batchAxis >= 0 && anyUnbatched && batchAxis != 0 {
		exceptions.Panicf("%s.Vmap: mixing unbatched inputs with batch axis %d not implemented", s.op, batchAxis)
	}

	switch {
	case isUnaryKind(s.op):
		return []Array{applyUnary(s.op, inputs[0], s.data)}, []int{axes[0]}
	case isBinaryKind(s.op):
		return []Array{applyBinary(s.op, inputs[0], inputs[1])}, []int{batchAxis}
	case s.op == OpTypeBroadcastTo:
		dims := s.data.(*broadcastData).dims
		if batchAxis >= 0 {
			batched := slices.Insert(slices.Clone(dims), batchAxis, inputs[0].Shape().Dim(batchAxis))
			return []Array{BroadcastTo(inputs[0], batched...)}, []int{batchAxis}
		}
		return []Array{BroadcastTo(inputs[0], dims...)}, []int{-1}
	default:
		exceptions.Panicf("%s.Vmap: not implemented", s.op)
	}
	return nil, nil
}

// isUnaryKind reports whether op is one of the single-input elementwise
// operators of the Simple table.
func isUnaryKind(op OpType) bool {
	return op >= OpTypeAbs && op <= OpTypeTanh
}

// isBinaryKind reports whether op is one of the two-input elementwise
// operators of the Simple table.
func isBinaryKind(op OpType) bool {
	return op >= OpTypeAdd && op <= OpTypeSubtract
}

// isComparisonKind reports whether op yields a Bool result.
func isComparisonKind(op OpType) bool {
	switch op {
	case OpTypeEqual, OpTypeNotEqual, OpTypeGreater, OpTypeGreaterEqual,
		OpTypeLess, OpTypeLessEqual, OpTypeLogicalAnd, OpTypeLogicalOr:
		return true
	}
	return false
}
