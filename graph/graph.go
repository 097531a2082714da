// Copyright 2024-2026 The MLX-Go Authors. SPDX-License-Identifier: Apache-2.0

// Package graph implements the lazy array layer of MLX-Go: immutable array
// handles that carry a shape, a dtype and, when they are the result of an
// operation, a Primitive plus the input arrays it consumes. Building ops
// (Add, Exp, MatMul, ...) does not compute anything; it grows a DAG that is
// materialized on demand by Eval, or rewritten by the compile package.
//
// The main elements of the package are:
//
//   - Array: an immutable value handle with a stable identity. Arrays without
//     a Primitive are either materialized constants or placeholders created
//     during tracing.
//
//   - Primitive: a named operator producing one or more arrays from inputs.
//     Simple covers the closed table of built-in operators; Compiled opaquely
//     represents a fused region produced by the compile package.
//
//   - Eval: a small interpreter that walks the DAG and computes buffers for
//     every node, standing in for a real device runtime.
package graph

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// DeviceType is the kind of device a Stream schedules work on.
type DeviceType uint8

const (
	// CPU device.
	CPU DeviceType = iota
	// GPU device.
	GPU
)

// String implements fmt.Stringer.
func (d DeviceType) String() string {
	switch d {
	case CPU:
		return "cpu"
	case GPU:
		return "gpu"
	default:
		return fmt.Sprintf("DeviceType(%d)", int(d))
	}
}

// Stream identifies the execution queue a primitive is scheduled on.
// Primitives created while building a graph inherit the default stream.
type Stream struct {
	Device DeviceType
	Index  int
}

// DefaultStream returns the stream used by newly built primitives.
func DefaultStream() Stream {
	return Stream{Device: CPU, Index: 0}
}

// String implements fmt.Stringer.
func (s Stream) String() string {
	return fmt.Sprintf("%s:%d", s.Device, s.Index)
}

// tracingDepth counts nested EnterTracing scopes. Arrays built while it is
// non-zero are marked as tracer arrays.
var tracingDepth atomic.Int32

// EnterTracing flags the process as tracing a function and returns the
// release function. The release function is idempotent and must be called on
// every exit path, typically via defer:
//
//	defer graph.EnterTracing()()
func EnterTracing() (done func()) {
	tracingDepth.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() { tracingDepth.Add(-1) })
	}
}

// InTracing reports whether some function is currently being traced.
func InTracing() bool {
	return tracingDepth.Load() > 0
}
