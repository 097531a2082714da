// Copyright 2024-2026 The MLX-Go Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/mlx-go/mlx/types/shapes"
)

// This file holds the graph-building operations. Nothing is computed here:
// each op creates a lazy Array whose primitive the interpreter (or a fused
// Compiled region) evaluates later.

func applyUnary(op OpType, x Array, data any) Array {
	shape := x.Shape().Clone()
	if d, ok := data.(*asTypeData); ok {
		shape.DType = d.dtype
	}
	if op == OpTypeLogicalNot && x.DType() != dtypes.Bool {
		exceptions.Panicf("%s: requires a Bool input, got %s", op, x.DType())
	}
	return New(shape, newSimple(op, data), []Array{x})
}

// Abs returns the elementwise absolute value.
func Abs(x Array) Array { return applyUnary(OpTypeAbs, x, nil) }

// ArcCos returns the elementwise inverse cosine.
func ArcCos(x Array) Array { return applyUnary(OpTypeArcCos, x, nil) }

// ArcCosh returns the elementwise inverse hyperbolic cosine.
func ArcCosh(x Array) Array { return applyUnary(OpTypeArcCosh, x, nil) }

// ArcSin returns the elementwise inverse sine.
func ArcSin(x Array) Array { return applyUnary(OpTypeArcSin, x, nil) }

// ArcSinh returns the elementwise inverse hyperbolic sine.
func ArcSinh(x Array) Array { return applyUnary(OpTypeArcSinh, x, nil) }

// ArcTan returns the elementwise inverse tangent.
func ArcTan(x Array) Array { return applyUnary(OpTypeArcTan, x, nil) }

// ArcTanh returns the elementwise inverse hyperbolic tangent.
func ArcTanh(x Array) Array { return applyUnary(OpTypeArcTanh, x, nil) }

// AsType casts x elementwise to the given dtype.
func AsType(x Array, dtype dtypes.DType) Array {
	return applyUnary(OpTypeAsType, x, &asTypeData{dtype: dtype})
}

// Ceil rounds elementwise towards positive infinity.
func Ceil(x Array) Array { return applyUnary(OpTypeCeil, x, nil) }

// Copy returns an elementwise copy of x.
func Copy(x Array) Array { return applyUnary(OpTypeCopy, x, nil) }

// Cos returns the elementwise cosine.
func Cos(x Array) Array { return applyUnary(OpTypeCos, x, nil) }

// Cosh returns the elementwise hyperbolic cosine.
func Cosh(x Array) Array { return applyUnary(OpTypeCosh, x, nil) }

// Erf returns the elementwise error function.
func Erf(x Array) Array { return applyUnary(OpTypeErf, x, nil) }

// ErfInv returns the elementwise inverse error function.
func ErfInv(x Array) Array { return applyUnary(OpTypeErfInv, x, nil) }

// Exp returns the elementwise natural exponential.
func Exp(x Array) Array { return applyUnary(OpTypeExp, x, nil) }

// Floor rounds elementwise towards negative infinity.
func Floor(x Array) Array { return applyUnary(OpTypeFloor, x, nil) }

// Log returns the elementwise natural logarithm.
func Log(x Array) Array { return applyUnary(OpTypeLog, x, nil) }

// Log1p returns the elementwise log(1+x).
func Log1p(x Array) Array { return applyUnary(OpTypeLog1p, x, nil) }

// LogicalNot negates a Bool array elementwise.
func LogicalNot(x Array) Array { return applyUnary(OpTypeLogicalNot, x, nil) }

// Negative returns the elementwise negation.
func Negative(x Array) Array { return applyUnary(OpTypeNegative, x, nil) }

// RemainderScalar returns the elementwise floating-point remainder of x by a
// scalar divisor.
func RemainderScalar(x Array, divisor float64) Array {
	if divisor == 0 {
		exceptions.Panicf("RemainderScalar: divisor must not be zero")
	}
	return applyUnary(OpTypeRemainderScalar, x, &remainderData{divisor: divisor})
}

// Round rounds elementwise to the nearest integer, half away from zero.
func Round(x Array) Array { return applyUnary(OpTypeRound, x, nil) }

// Sigmoid returns the elementwise logistic function 1/(1+exp(-x)).
func Sigmoid(x Array) Array { return applyUnary(OpTypeSigmoid, x, nil) }

// Sign returns -1, 0 or 1 elementwise.
func Sign(x Array) Array { return applyUnary(OpTypeSign, x, nil) }

// Sin returns the elementwise sine.
func Sin(x Array) Array { return applyUnary(OpTypeSin, x, nil) }

// Sinh returns the elementwise hyperbolic sine.
func Sinh(x Array) Array { return applyUnary(OpTypeSinh, x, nil) }

// Sqrt returns the elementwise square root.
func Sqrt(x Array) Array { return applyUnary(OpTypeSqrt, x, nil) }

// Square returns the elementwise square.
func Square(x Array) Array { return applyUnary(OpTypeSquare, x, nil) }

// Tan returns the elementwise tangent.
func Tan(x Array) Array { return applyUnary(OpTypeTan, x, nil) }

// Tanh returns the elementwise hyperbolic tangent.
func Tanh(x Array) Array { return applyUnary(OpTypeTanh, x, nil) }

// broadcastDims returns the standard broadcast result of two dimension lists,
// aligned at the trailing axes. It panics when the shapes are incompatible.
func broadcastDims(x, y Array) []int {
	xd, yd := x.Shape().Dimensions, y.Shape().Dimensions
	rank := max(len(xd), len(yd))
	dims := make([]int, rank)
	for i := 1; i <= rank; i++ {
		dx, dy := 1, 1
		if i <= len(xd) {
			dx = xd[len(xd)-i]
		}
		if i <= len(yd) {
			dy = yd[len(yd)-i]
		}
		switch {
		case dx == dy:
			dims[rank-i] = dx
		case dx == 1:
			dims[rank-i] = dy
		case dy == 1:
			dims[rank-i] = dx
		default:
			exceptions.Panicf("cannot broadcast shapes %s and %s together", x.Shape(), y.Shape())
		}
	}
	return dims
}

// broadcastIfNeeded inserts a BroadcastTo node when x does not already have
// the target dimensions.
func broadcastIfNeeded(x Array, dims []int) Array {
	if slices.Equal(x.Shape().Dimensions, dims) {
		return x
	}
	return BroadcastTo(x, dims...)
}

func applyBinary(op OpType, x, y Array) Array {
	if x.DType() != y.DType() {
		exceptions.Panicf("%s: dtype mismatch %s vs %s", op, x.DType(), y.DType())
	}
	if (op == OpTypeLogicalAnd || op == OpTypeLogicalOr) && x.DType() != dtypes.Bool {
		exceptions.Panicf("%s: requires Bool inputs, got %s", op, x.DType())
	}
	dims := broadcastDims(x, y)
	bx := broadcastIfNeeded(x, dims)
	by := broadcastIfNeeded(y, dims)
	outDType := x.DType()
	if isComparisonKind(op) {
		outDType = dtypes.Bool
	}
	return New(shapes.Make(outDType, dims...), newSimple(op, nil), []Array{bx, by})
}

// Add returns the elementwise sum, broadcasting as needed.
func Add(x, y Array) Array { return applyBinary(OpTypeAdd, x, y) }

// Sub returns the elementwise difference, broadcasting as needed.
func Sub(x, y Array) Array { return applyBinary(OpTypeSubtract, x, y) }

// Mul returns the elementwise product, broadcasting as needed.
func Mul(x, y Array) Array { return applyBinary(OpTypeMultiply, x, y) }

// Div returns the elementwise quotient, broadcasting as needed.
func Div(x, y Array) Array { return applyBinary(OpTypeDivide, x, y) }

// Pow returns x raised to the power y, elementwise.
func Pow(x, y Array) Array { return applyBinary(OpTypePower, x, y) }

// Maximum returns the elementwise maximum.
func Maximum(x, y Array) Array { return applyBinary(OpTypeMaximum, x, y) }

// Minimum returns the elementwise minimum.
func Minimum(x, y Array) Array { return applyBinary(OpTypeMinimum, x, y) }

// LogAddExp returns log(exp(x)+exp(y)) elementwise, computed stably.
func LogAddExp(x, y Array) Array { return applyBinary(OpTypeLogAddExp, x, y) }

// LogicalAnd returns the elementwise conjunction of two Bool arrays.
func LogicalAnd(x, y Array) Array { return applyBinary(OpTypeLogicalAnd, x, y) }

// LogicalOr returns the elementwise disjunction of two Bool arrays.
func LogicalOr(x, y Array) Array { return applyBinary(OpTypeLogicalOr, x, y) }

// Equal returns the elementwise equality comparison as a Bool array.
func Equal(x, y Array) Array { return applyBinary(OpTypeEqual, x, y) }

// NotEqual returns the elementwise inequality comparison as a Bool array.
func NotEqual(x, y Array) Array { return applyBinary(OpTypeNotEqual, x, y) }

// Greater returns the elementwise x > y comparison as a Bool array.
func Greater(x, y Array) Array { return applyBinary(OpTypeGreater, x, y) }

// GreaterEqual returns the elementwise x >= y comparison as a Bool array.
func GreaterEqual(x, y Array) Array { return applyBinary(OpTypeGreaterEqual, x, y) }

// Less returns the elementwise x < y comparison as a Bool array.
func Less(x, y Array) Array { return applyBinary(OpTypeLess, x, y) }

// LessEqual returns the elementwise x <= y comparison as a Bool array.
func LessEqual(x, y Array) Array { return applyBinary(OpTypeLessEqual, x, y) }

// AddScalar adds a dtype-matched scalar constant to x.
func AddScalar(x Array, value float64) Array { return Add(x, ConstOf(x.DType(), value)) }

// SubScalar subtracts a dtype-matched scalar constant from x.
func SubScalar(x Array, value float64) Array { return Sub(x, ConstOf(x.DType(), value)) }

// MulScalar multiplies x by a dtype-matched scalar constant.
func MulScalar(x Array, value float64) Array { return Mul(x, ConstOf(x.DType(), value)) }

// DivScalar divides x by a dtype-matched scalar constant.
func DivScalar(x Array, value float64) Array { return Div(x, ConstOf(x.DType(), value)) }

// BroadcastTo reshapes x by broadcasting it to the target dimensions. The
// input dimensions must be compatible with the target at the trailing axes.
func BroadcastTo(x Array, dims ...int) Array {
	xd := x.Shape().Dimensions
	if len(xd) > len(dims) {
		exceptions.Panicf("BroadcastTo: cannot broadcast %s to %v", x.Shape(), dims)
	}
	for i := 1; i <= len(xd); i++ {
		dx, dt := xd[len(xd)-i], dims[len(dims)-i]
		if dx != dt && dx != 1 {
			exceptions.Panicf("BroadcastTo: cannot broadcast %s to %v", x.Shape(), dims)
		}
	}
	shape := shapes.Make(x.DType(), dims...)
	return New(shape, newSimple(OpTypeBroadcastTo, &broadcastData{dims: slices.Clone(dims)}), []Array{x})
}

// MatMul returns the matrix product of two rank-2 arrays.
func MatMul(x, y Array) Array {
	if x.Rank() != 2 || y.Rank() != 2 {
		exceptions.Panicf("MatMul: requires rank-2 inputs, got %s and %s", x.Shape(), y.Shape())
	}
	if x.DType() != y.DType() {
		exceptions.Panicf("MatMul: dtype mismatch %s vs %s", x.DType(), y.DType())
	}
	if x.Shape().Dim(1) != y.Shape().Dim(0) {
		exceptions.Panicf("MatMul: inner dimensions mismatch %s x %s", x.Shape(), y.Shape())
	}
	shape := shapes.Make(x.DType(), x.Shape().Dim(0), y.Shape().Dim(1))
	return New(shape, newSimple(OpTypeMatMul, nil), []Array{x, y})
}

// DivMod returns the elementwise truncated quotient and remainder of two
// integer arrays as the two outputs of a single primitive.
func DivMod(x, y Array) (quot, rem Array) {
	if x.DType() != y.DType() {
		exceptions.Panicf("DivMod: dtype mismatch %s vs %s", x.DType(), y.DType())
	}
	if !x.DType().IsInt() {
		exceptions.Panicf("DivMod: requires integer inputs, got %s", x.DType())
	}
	dims := broadcastDims(x, y)
	bx := broadcastIfNeeded(x, dims)
	by := broadcastIfNeeded(y, dims)
	outShape := shapes.Make(x.DType(), dims...)
	outs := MakeArrays([]shapes.Shape{outShape, outShape.Clone()},
		newSimple(OpTypeDivMod, nil), []Array{bx, by})
	return outs[0], outs[1]
}
