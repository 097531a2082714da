// Copyright 2024-2026 The MLX-Go Authors. SPDX-License-Identifier: Apache-2.0

package compile

import "github.com/mlx-go/mlx/graph"

// Operator classification for the fusion passes. The tables are the only
// authority on what may enter a fused region: an operator wrongly listed here
// would end up inside a Compiled region whose semantics the runtime cannot
// reproduce. Adding a kind means editing exactly one table.

var unaryOps = map[graph.OpType]bool{
	graph.OpTypeAbs:             true,
	graph.OpTypeArcCos:          true,
	graph.OpTypeArcCosh:         true,
	graph.OpTypeArcSin:          true,
	graph.OpTypeArcSinh:         true,
	graph.OpTypeArcTan:          true,
	graph.OpTypeArcTanh:         true,
	graph.OpTypeAsType:          true,
	graph.OpTypeCeil:            true,
	graph.OpTypeCopy:            true,
	graph.OpTypeCos:             true,
	graph.OpTypeCosh:            true,
	graph.OpTypeErf:             true,
	graph.OpTypeErfInv:          true,
	graph.OpTypeExp:             true,
	graph.OpTypeFloor:           true,
	graph.OpTypeLog:             true,
	graph.OpTypeLog1p:           true,
	graph.OpTypeLogicalNot:      true,
	graph.OpTypeNegative:        true,
	graph.OpTypeRemainderScalar: true,
	graph.OpTypeRound:           true,
	graph.OpTypeSigmoid:         true,
	graph.OpTypeSign:            true,
	graph.OpTypeSin:             true,
	graph.OpTypeSinh:            true,
	graph.OpTypeSqrt:            true,
	graph.OpTypeSquare:          true,
	graph.OpTypeTan:             true,
	graph.OpTypeTanh:            true,
}

var binaryOps = map[graph.OpType]bool{
	graph.OpTypeAdd:          true,
	graph.OpTypeDivide:       true,
	graph.OpTypeEqual:        true,
	graph.OpTypeGreater:      true,
	graph.OpTypeGreaterEqual: true,
	graph.OpTypeLess:         true,
	graph.OpTypeLessEqual:    true,
	graph.OpTypeLogAddExp:    true,
	graph.OpTypeLogicalAnd:   true,
	graph.OpTypeLogicalOr:    true,
	graph.OpTypeMaximum:      true,
	graph.OpTypeMinimum:      true,
	graph.OpTypeMultiply:     true,
	graph.OpTypeNotEqual:     true,
	graph.OpTypePower:        true,
	graph.OpTypeSubtract:     true,
}

var broadcastOps = map[graph.OpType]bool{
	graph.OpTypeBroadcastTo: true,
}

func isUnary(p graph.Primitive) bool { return unaryOps[p.OpType()] }

func isBinary(p graph.Primitive) bool { return binaryOps[p.OpType()] }

func isBroadcast(p graph.Primitive) bool { return broadcastOps[p.OpType()] }

// isFusable reports whether p may be packed into a Compiled region. The
// fusable table is single-output only, so multi-output primitives never pass.
func isFusable(p graph.Primitive) bool {
	if p.NumOutputs() != 1 {
		return false
	}
	return isUnary(p) || isBinary(p) || isBroadcast(p)
}
