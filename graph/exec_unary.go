// Copyright 2024-2026 The MLX-Go Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"math"
	"reflect"

	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
)

func init() {
	for op := OpTypeAbs; op <= OpTypeTanh; op++ {
		nodeExecutors[op] = execUnary
	}
	nodeExecutors[OpTypeAsType] = execAsType
	nodeExecutors[OpTypeCopy] = execCopy
}

// execUnary executes the single-input elementwise ops.
func execUnary(a Array, inputs []*buffer) (*buffer, error) {
	p := a.Primitive().(*Simple)
	in := inputs[0]
	out := outputBuffer(a)
	switch flat := in.flat.(type) {
	case []float32:
		fn := unaryFloatFn(p)
		if fn == nil {
			return nil, errors.Errorf("op %s is not supported on %s", p.op, in.shape.DType)
		}
		dst := out.flat.([]float32)
		for i, v := range flat {
			dst[i] = float32(fn(float64(v)))
		}
	case []float64:
		fn := unaryFloatFn(p)
		if fn == nil {
			return nil, errors.Errorf("op %s is not supported on %s", p.op, in.shape.DType)
		}
		dst := out.flat.([]float64)
		for i, v := range flat {
			dst[i] = fn(v)
		}
	case []float16.Float16:
		fn := unaryFloatFn(p)
		if fn == nil {
			return nil, errors.Errorf("op %s is not supported on %s", p.op, in.shape.DType)
		}
		dst := out.flat.([]float16.Float16)
		for i, v := range flat {
			dst[i] = float16.Fromfloat32(float32(fn(float64(v.Float32()))))
		}
	case []bfloat16.BFloat16:
		fn := unaryFloatFn(p)
		if fn == nil {
			return nil, errors.Errorf("op %s is not supported on %s", p.op, in.shape.DType)
		}
		dst := out.flat.([]bfloat16.BFloat16)
		for i, v := range flat {
			dst[i] = bfloat16.FromFloat32(float32(fn(float64(v.Float32()))))
		}
	case []int8:
		return out, signedUnary(p.op, flat, out.flat.([]int8))
	case []int16:
		return out, signedUnary(p.op, flat, out.flat.([]int16))
	case []int32:
		return out, signedUnary(p.op, flat, out.flat.([]int32))
	case []int64:
		return out, signedUnary(p.op, flat, out.flat.([]int64))
	case []uint8:
		return out, unsignedUnary(p.op, flat, out.flat.([]uint8))
	case []uint16:
		return out, unsignedUnary(p.op, flat, out.flat.([]uint16))
	case []uint32:
		return out, unsignedUnary(p.op, flat, out.flat.([]uint32))
	case []uint64:
		return out, unsignedUnary(p.op, flat, out.flat.([]uint64))
	case []bool:
		if p.op != OpTypeLogicalNot {
			return nil, errors.Errorf("op %s is not supported on %s", p.op, in.shape.DType)
		}
		dst := out.flat.([]bool)
		for i, v := range flat {
			dst[i] = !v
		}
	default:
		return nil, errors.Errorf("op %s: unsupported dtype %s", p.op, in.shape.DType)
	}
	return out, nil
}

// unaryFloatFn maps an op to its float64 kernel, or nil when the op has no
// float version.
func unaryFloatFn(p *Simple) func(float64) float64 {
	switch p.op {
	case OpTypeAbs:
		return math.Abs
	case OpTypeArcCos:
		return math.Acos
	case OpTypeArcCosh:
		return math.Acosh
	case OpTypeArcSin:
		return math.Asin
	case OpTypeArcSinh:
		return math.Asinh
	case OpTypeArcTan:
		return math.Atan
	case OpTypeArcTanh:
		return math.Atanh
	case OpTypeCeil:
		return math.Ceil
	case OpTypeCos:
		return math.Cos
	case OpTypeCosh:
		return math.Cosh
	case OpTypeErf:
		return math.Erf
	case OpTypeErfInv:
		return math.Erfinv
	case OpTypeExp:
		return math.Exp
	case OpTypeFloor:
		return math.Floor
	case OpTypeLog:
		return math.Log
	case OpTypeLog1p:
		return math.Log1p
	case OpTypeNegative:
		return func(x float64) float64 { return -x }
	case OpTypeRemainderScalar:
		divisor := p.data.(*remainderData).divisor
		return func(x float64) float64 { return math.Mod(x, divisor) }
	case OpTypeRound:
		return math.Round
	case OpTypeSigmoid:
		return func(x float64) float64 { return 1 / (1 + math.Exp(-x)) }
	case OpTypeSign:
		return func(x float64) float64 {
			switch {
			case x > 0:
				return 1
			case x < 0:
				return -1
			}
			return x
		}
	case OpTypeSin:
		return math.Sin
	case OpTypeSinh:
		return math.Sinh
	case OpTypeSqrt:
		return math.Sqrt
	case OpTypeSquare:
		return func(x float64) float64 { return x * x }
	case OpTypeTan:
		return math.Tan
	case OpTypeTanh:
		return math.Tanh
	default:
		return nil
	}
}

func signedUnary[T constraints.Signed](op OpType, src, dst []T) error {
	switch op {
	case OpTypeAbs:
		for i, v := range src {
			if v < 0 {
				v = -v
			}
			dst[i] = v
		}
	case OpTypeNegative:
		for i, v := range src {
			dst[i] = -v
		}
	case OpTypeSign:
		for i, v := range src {
			switch {
			case v > 0:
				dst[i] = 1
			case v < 0:
				dst[i] = -1
			default:
				dst[i] = 0
			}
		}
	case OpTypeSquare:
		for i, v := range src {
			dst[i] = v * v
		}
	case OpTypeCeil, OpTypeFloor, OpTypeRound:
		copy(dst, src)
	default:
		return errors.Errorf("op %s is not supported on integer dtypes", op)
	}
	return nil
}

func unsignedUnary[T constraints.Unsigned](op OpType, src, dst []T) error {
	switch op {
	case OpTypeAbs, OpTypeCeil, OpTypeFloor, OpTypeRound:
		copy(dst, src)
	case OpTypeSign:
		for i, v := range src {
			if v > 0 {
				dst[i] = 1
			} else {
				dst[i] = 0
			}
		}
	case OpTypeSquare:
		for i, v := range src {
			dst[i] = v * v
		}
	default:
		return errors.Errorf("op %s is not supported on unsigned dtypes", op)
	}
	return nil
}

// execCopy clones the input buffer.
func execCopy(a Array, inputs []*buffer) (*buffer, error) {
	in := inputs[0]
	out := outputBuffer(a)
	reflect.Copy(reflect.ValueOf(out.flat), reflect.ValueOf(in.flat))
	return out, nil
}

// execAsType converts the input elementwise to the node's dtype.
func execAsType(a Array, inputs []*buffer) (*buffer, error) {
	in := inputs[0]
	src, err := toFloat64Slice(in.flat)
	if err != nil {
		return nil, errors.WithMessagef(err, "op %s", OpTypeAsType)
	}
	out := outputBuffer(a)
	if err := fillFromFloat64(out.flat, src); err != nil {
		return nil, errors.WithMessagef(err, "op %s", OpTypeAsType)
	}
	return out, nil
}

// toFloat64Slice widens any supported flat slice to float64. Bools become 0/1.
func toFloat64Slice(flat any) ([]float64, error) {
	switch src := flat.(type) {
	case []float64:
		return src, nil
	case []float32:
		return widen(src, func(v float32) float64 { return float64(v) }), nil
	case []float16.Float16:
		return widen(src, func(v float16.Float16) float64 { return float64(v.Float32()) }), nil
	case []bfloat16.BFloat16:
		return widen(src, func(v bfloat16.BFloat16) float64 { return float64(v.Float32()) }), nil
	case []int8:
		return widen(src, func(v int8) float64 { return float64(v) }), nil
	case []int16:
		return widen(src, func(v int16) float64 { return float64(v) }), nil
	case []int32:
		return widen(src, func(v int32) float64 { return float64(v) }), nil
	case []int64:
		return widen(src, func(v int64) float64 { return float64(v) }), nil
	case []uint8:
		return widen(src, func(v uint8) float64 { return float64(v) }), nil
	case []uint16:
		return widen(src, func(v uint16) float64 { return float64(v) }), nil
	case []uint32:
		return widen(src, func(v uint32) float64 { return float64(v) }), nil
	case []uint64:
		return widen(src, func(v uint64) float64 { return float64(v) }), nil
	case []bool:
		return widen(src, func(v bool) float64 {
			if v {
				return 1
			}
			return 0
		}), nil
	default:
		return nil, errors.Errorf("unsupported flat data type %T", flat)
	}
}

func widen[T any](src []T, conv func(T) float64) []float64 {
	dst := make([]float64, len(src))
	for i, v := range src {
		dst[i] = conv(v)
	}
	return dst
}

// fillFromFloat64 narrows float64 values into any supported flat slice.
func fillFromFloat64(flat any, src []float64) error {
	switch dst := flat.(type) {
	case []float64:
		copy(dst, src)
	case []float32:
		for i, v := range src {
			dst[i] = float32(v)
		}
	case []float16.Float16:
		for i, v := range src {
			dst[i] = float16.Fromfloat32(float32(v))
		}
	case []bfloat16.BFloat16:
		for i, v := range src {
			dst[i] = bfloat16.FromFloat32(float32(v))
		}
	case []int8:
		for i, v := range src {
			dst[i] = int8(v)
		}
	case []int16:
		for i, v := range src {
			dst[i] = int16(v)
		}
	case []int32:
		for i, v := range src {
			dst[i] = int32(v)
		}
	case []int64:
		for i, v := range src {
			dst[i] = int64(v)
		}
	case []uint8:
		for i, v := range src {
			dst[i] = uint8(v)
		}
	case []uint16:
		for i, v := range src {
			dst[i] = uint16(v)
		}
	case []uint32:
		for i, v := range src {
			dst[i] = uint32(v)
		}
	case []uint64:
		for i, v := range src {
			dst[i] = uint64(v)
		}
	case []bool:
		for i, v := range src {
			dst[i] = v != 0
		}
	default:
		return errors.Errorf("unsupported flat data type %T", flat)
	}
	return nil
}
