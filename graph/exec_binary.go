// Copyright 2024-2026 The MLX-Go Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"math"

	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
)

func init() {
	for op := OpTypeAdd; op <= OpTypeSubtract; op++ {
		nodeExecutors[op] = execBinary
	}
}

// execBinary executes the two-input elementwise ops. Inputs have been
// broadcast to a common shape at graph-building time, so the buffers always
// have the same element count.
func execBinary(a Array, inputs []*buffer) (*buffer, error) {
	p := a.Primitive().(*Simple)
	in0, in1 := inputs[0], inputs[1]
	out := outputBuffer(a)
	switch x := in0.flat.(type) {
	case []float32:
		return out, floatBinary(p.op, x, in1.flat.([]float32), out)
	case []float64:
		return out, floatBinary(p.op, x, in1.flat.([]float64), out)
	case []float16.Float16, []bfloat16.BFloat16:
		return out, binaryViaFloat64(p.op, in0, in1, out)
	case []int8:
		return out, intBinary(p.op, x, in1.flat.([]int8), out)
	case []int16:
		return out, intBinary(p.op, x, in1.flat.([]int16), out)
	case []int32:
		return out, intBinary(p.op, x, in1.flat.([]int32), out)
	case []int64:
		return out, intBinary(p.op, x, in1.flat.([]int64), out)
	case []uint8:
		return out, intBinary(p.op, x, in1.flat.([]uint8), out)
	case []uint16:
		return out, intBinary(p.op, x, in1.flat.([]uint16), out)
	case []uint32:
		return out, intBinary(p.op, x, in1.flat.([]uint32), out)
	case []uint64:
		return out, intBinary(p.op, x, in1.flat.([]uint64), out)
	case []bool:
		return out, boolBinary(p.op, x, in1.flat.([]bool), out)
	default:
		return nil, errors.Errorf("op %s: unsupported dtype %s", p.op, in0.shape.DType)
	}
}

func floatBinary[T constraints.Float](op OpType, x, y []T, out *buffer) error {
	switch op {
	case OpTypeAdd:
		dst := out.flat.([]T)
		for i := range x {
			dst[i] = x[i] + y[i]
		}
	case OpTypeSubtract:
		dst := out.flat.([]T)
		for i := range x {
			dst[i] = x[i] - y[i]
		}
	case OpTypeMultiply:
		dst := out.flat.([]T)
		for i := range x {
			dst[i] = x[i] * y[i]
		}
	case OpTypeDivide:
		dst := out.flat.([]T)
		for i := range x {
			dst[i] = x[i] / y[i]
		}
	case OpTypePower:
		dst := out.flat.([]T)
		for i := range x {
			dst[i] = T(math.Pow(float64(x[i]), float64(y[i])))
		}
	case OpTypeMaximum:
		dst := out.flat.([]T)
		for i := range x {
			dst[i] = max(x[i], y[i])
		}
	case OpTypeMinimum:
		dst := out.flat.([]T)
		for i := range x {
			dst[i] = min(x[i], y[i])
		}
	case OpTypeLogAddExp:
		dst := out.flat.([]T)
		for i := range x {
			dst[i] = T(logAddExp(float64(x[i]), float64(y[i])))
		}
	default:
		return compareBinary(op, x, y, out)
	}
	return nil
}

func intBinary[T constraints.Integer](op OpType, x, y []T, out *buffer) error {
	switch op {
	case OpTypeAdd:
		dst := out.flat.([]T)
		for i := range x {
			dst[i] = x[i] + y[i]
		}
	case OpTypeSubtract:
		dst := out.flat.([]T)
		for i := range x {
			dst[i] = x[i] - y[i]
		}
	case OpTypeMultiply:
		dst := out.flat.([]T)
		for i := range x {
			dst[i] = x[i] * y[i]
		}
	case OpTypeDivide:
		dst := out.flat.([]T)
		for i := range x {
			dst[i] = x[i] / y[i]
		}
	case OpTypePower:
		dst := out.flat.([]T)
		for i := range x {
			dst[i] = intPow(x[i], y[i])
		}
	case OpTypeMaximum:
		dst := out.flat.([]T)
		for i := range x {
			dst[i] = max(x[i], y[i])
		}
	case OpTypeMinimum:
		dst := out.flat.([]T)
		for i := range x {
			dst[i] = min(x[i], y[i])
		}
	case OpTypeLogAddExp:
		return errors.Errorf("op %s is not supported on integer dtypes", op)
	default:
		return compareBinary(op, x, y, out)
	}
	return nil
}

func compareBinary[T constraints.Ordered](op OpType, x, y []T, out *buffer) error {
	dst, ok := out.flat.([]bool)
	if !ok {
		return errors.Errorf("op %s: expected Bool output buffer, got %T", op, out.flat)
	}
	var cmp func(a, b T) bool
	switch op {
	case OpTypeEqual:
		cmp = func(a, b T) bool { return a == b }
	case OpTypeNotEqual:
		cmp = func(a, b T) bool { return a != b }
	case OpTypeGreater:
		cmp = func(a, b T) bool { return a > b }
	case OpTypeGreaterEqual:
		cmp = func(a, b T) bool { return a >= b }
	case OpTypeLess:
		cmp = func(a, b T) bool { return a < b }
	case OpTypeLessEqual:
		cmp = func(a, b T) bool { return a <= b }
	default:
		return errors.Errorf("op %s is not supported on this dtype", op)
	}
	for i := range x {
		dst[i] = cmp(x[i], y[i])
	}
	return nil
}

func boolBinary(op OpType, x, y []bool, out *buffer) error {
	dst := out.flat.([]bool)
	switch op {
	case OpTypeLogicalAnd:
		for i := range x {
			dst[i] = x[i] && y[i]
		}
	case OpTypeLogicalOr:
		for i := range x {
			dst[i] = x[i] || y[i]
		}
	case OpTypeEqual:
		for i := range x {
			dst[i] = x[i] == y[i]
		}
	case OpTypeNotEqual:
		for i := range x {
			dst[i] = x[i] != y[i]
		}
	default:
		return errors.Errorf("op %s is not supported on Bool", op)
	}
	return nil
}

// binaryViaFloat64 runs the op in float64 for the 16-bit float dtypes.
func binaryViaFloat64(op OpType, in0, in1, out *buffer) error {
	x, err := toFloat64Slice(in0.flat)
	if err != nil {
		return err
	}
	y, err := toFloat64Slice(in1.flat)
	if err != nil {
		return err
	}
	if isComparisonKind(op) {
		return compareBinary(op, x, y, out)
	}
	tmp := make([]float64, len(x))
	if err := floatBinary(op, x, y, &buffer{flat: tmp}); err != nil {
		return err
	}
	return fillFromFloat64(out.flat, tmp)
}

// logAddExp computes log(exp(x)+exp(y)) without overflowing for large inputs.
func logAddExp(x, y float64) float64 {
	if math.IsInf(x, 1) || math.IsInf(y, 1) {
		return math.Inf(1)
	}
	hi := max(x, y)
	lo := min(x, y)
	return hi + math.Log1p(math.Exp(lo-hi))
}

func intPow[T constraints.Integer](base, exp T) T {
	if exp < 0 {
		switch {
		case base == 1:
			return 1
		case base+1 == 0: // base == -1, only reachable for signed types
			if exp%2 == 0 {
				return 1
			}
			return base
		default:
			return 0
		}
	}
	var result T = 1
	for ; exp > 0; exp-- {
		result *= base
	}
	return result
}
