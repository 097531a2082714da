// Copyright 2024-2026 The MLX-Go Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"reflect"

	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
)

func init() {
	nodeExecutors[OpTypeBroadcastTo] = execBroadcast
	nodeExecutors[OpTypeMatMul] = execMatMul
	multiOutputNodeExecutors[OpTypeDivMod] = execDivMod
}

// execBroadcast expands the input to the node's shape. Broadcast axes read
// the input with stride zero.
func execBroadcast(a Array, inputs []*buffer) (*buffer, error) {
	in := inputs[0]
	out := outputBuffer(a)
	outDims := a.Shape().Dimensions
	inDims := in.shape.Dimensions
	rank := len(outDims)

	// Input strides aligned at the trailing axes, zero where broadcast.
	strides := make([]int, rank)
	stride := 1
	for i := len(inDims) - 1; i >= 0; i-- {
		axis := i + rank - len(inDims)
		if inDims[i] == outDims[axis] {
			strides[axis] = stride
		}
		stride *= inDims[i]
	}

	inV := reflect.ValueOf(in.flat)
	outV := reflect.ValueOf(out.flat)
	idx := make([]int, rank)
	srcIdx := 0
	for i := 0; i < a.Shape().Size(); i++ {
		outV.Index(i).Set(inV.Index(srcIdx))
		for axis := rank - 1; axis >= 0; axis-- {
			idx[axis]++
			srcIdx += strides[axis]
			if idx[axis] < outDims[axis] {
				break
			}
			idx[axis] = 0
			srcIdx -= strides[axis] * outDims[axis]
		}
	}
	return out, nil
}

// execMatMul multiplies two rank-2 arrays.
func execMatMul(a Array, inputs []*buffer) (*buffer, error) {
	in0, in1 := inputs[0], inputs[1]
	m := in0.shape.Dim(0)
	k := in0.shape.Dim(1)
	n := in1.shape.Dim(1)
	out := outputBuffer(a)
	switch x := in0.flat.(type) {
	case []float32:
		matMulKernel(x, in1.flat.([]float32), out.flat.([]float32), m, k, n)
	case []float64:
		matMulKernel(x, in1.flat.([]float64), out.flat.([]float64), m, k, n)
	default:
		return nil, errors.Errorf("op %s: unsupported dtype %s", OpTypeMatMul, in0.shape.DType)
	}
	return out, nil
}

func matMulKernel[T constraints.Float](x, y, out []T, m, k, n int) {
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			var acc T
			for l := 0; l < k; l++ {
				acc += x[i*k+l] * y[l*n+j]
			}
			out[i*n+j] = acc
		}
	}
}

// execDivMod computes the truncated quotient and remainder as two outputs.
func execDivMod(a Array, inputs []*buffer) ([]*buffer, error) {
	in0, in1 := inputs[0], inputs[1]
	outs := a.Outputs()
	quot := outputBuffer(outs[0])
	rem := outputBuffer(outs[1])
	switch x := in0.flat.(type) {
	case []int8:
		divModKernel(x, in1.flat.([]int8), quot.flat.([]int8), rem.flat.([]int8))
	case []int16:
		divModKernel(x, in1.flat.([]int16), quot.flat.([]int16), rem.flat.([]int16))
	case []int32:
		divModKernel(x, in1.flat.([]int32), quot.flat.([]int32), rem.flat.([]int32))
	case []int64:
		divModKernel(x, in1.flat.([]int64), quot.flat.([]int64), rem.flat.([]int64))
	case []uint8:
		divModKernel(x, in1.flat.([]uint8), quot.flat.([]uint8), rem.flat.([]uint8))
	case []uint16:
		divModKernel(x, in1.flat.([]uint16), quot.flat.([]uint16), rem.flat.([]uint16))
	case []uint32:
		divModKernel(x, in1.flat.([]uint32), quot.flat.([]uint32), rem.flat.([]uint32))
	case []uint64:
		divModKernel(x, in1.flat.([]uint64), quot.flat.([]uint64), rem.flat.([]uint64))
	default:
		return nil, errors.Errorf("op %s: unsupported dtype %s", OpTypeDivMod, in0.shape.DType)
	}
	return []*buffer{quot, rem}, nil
}

func divModKernel[T constraints.Integer](x, y, quot, rem []T) {
	for i := range x {
		quot[i] = x[i] / y[i]
		rem[i] = x[i] % y[i]
	}
}
