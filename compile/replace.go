// Copyright 2024-2026 The MLX-Go Authors. SPDX-License-Identifier: Apache-2.0

package compile

import (
	"github.com/gomlx/exceptions"
	"github.com/mlx-go/mlx/graph"
)

// compileReplace replays a cached tape against real inputs: placeholders are
// substituted by the corresponding real arrays and every tape entry is
// rebuilt with its original primitive over the real counterparts of its
// inputs. It returns the real outputs in the structure of traceOutputs.
func compileReplace(tape, traceInputs, traceOutputs, inputs []graph.Array) []graph.Array {
	traceToReal := make(map[uint64]graph.Array, len(tape)+len(inputs))
	for i, tin := range traceInputs {
		traceToReal[tin.ID()] = inputs[i]
	}

	for _, a := range tape {
		if _, ok := traceToReal[a.ID()]; ok {
			continue
		}
		if !a.HasPrimitive() {
			// Constants are shared between the trace and the replay.
			traceToReal[a.ID()] = a
			continue
		}
		realIns := make([]graph.Array, a.NumInputs())
		for i, in := range a.Inputs() {
			real, ok := traceToReal[in.ID()]
			if !ok {
				exceptions.Panicf("compile: replay of %s found input %s that is neither a graph input nor an earlier tape entry", a, in)
			}
			realIns[i] = real
		}
		outs := a.Outputs()
		if len(outs) == 1 {
			traceToReal[a.ID()] = graph.New(a.Shape(), a.Primitive(), realIns)
			continue
		}
		// Multi-output primitives are rebuilt as a group, preserving the
		// sibling order.
		shapesList := arrayShapes(outs)
		realOuts := graph.MakeArrays(shapesList, a.Primitive(), realIns)
		for i, to := range outs {
			traceToReal[to.ID()] = realOuts[i]
		}
	}

	outputs := make([]graph.Array, len(traceOutputs))
	for i, to := range traceOutputs {
		real, ok := traceToReal[to.ID()]
		if !ok {
			exceptions.Panicf("compile: replay never rebuilt output %s", to)
		}
		outputs[i] = real
	}
	return outputs
}
