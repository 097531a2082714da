// Copyright 2024-2026 The MLX-Go Authors. SPDX-License-Identifier: Apache-2.0

package compile

import (
	"sync/atomic"

	"github.com/mlx-go/mlx/graph"
)

// traceCount counts compileTrace invocations. Tests use it to verify cache
// idempotence.
var traceCount atomic.Int64

// compileTrace runs fn on fresh placeholders mirroring the shapes and dtypes
// of the real inputs, capturing the function's DAG symbolically. The tracing
// flag is held for the duration of fn and released on every exit path; errors
// inside fn propagate to the caller untouched.
func compileTrace(fn Fn, inputs []graph.Array) (traceInputs, traceOutputs []graph.Array) {
	traceCount.Add(1)
	defer graph.EnterTracing()()

	traceInputs = make([]graph.Array, len(inputs))
	for i, in := range inputs {
		traceInputs[i] = graph.Placeholder(in.Shape())
	}
	traceOutputs = fn(traceInputs)
	return traceInputs, traceOutputs
}
