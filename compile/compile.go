// Copyright 2024-2026 The MLX-Go Authors. SPDX-License-Identifier: Apache-2.0

// Package compile implements the just-in-time graph compiler of MLX-Go.
//
// Compile takes a pure function over arrays, traces it once per input
// signature on symbolic placeholders, rewrites the captured DAG (scalar
// deduplication, common-subexpression fusion, elementwise fusion into
// Compiled regions) and caches the rewritten tape keyed by function identity
// and input signature. Subsequent calls replay the cached tape against the
// fresh inputs without tracing again.
//
// The compiler runs synchronously on the caller's goroutine and has no
// internal concurrency; the global cache and the tracing flag are guarded so
// concurrent Compile invocations do not corrupt them, but callers are
// expected to serialize compilation of the same function.
package compile

import (
	"os"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/gomlx/exceptions"
	"github.com/mlx-go/mlx/graph"
	"k8s.io/klog/v2"
)

// Fn is the signature of functions the compiler accepts: a pure mapping from
// input arrays to output arrays.
type Fn func([]graph.Array) []graph.Array

// DisableEnvVar, when set to any non-empty value at first use, forces the
// compiler into bypass mode: Compile returns its argument unchanged.
const DisableEnvVar = "MLX_DISABLE_COMPILE"

// simplifyPasses is the number of common-subexpression passes. Equivalence is
// checked at depth 1; the pass count is fixed, with no fixed-point check.
const simplifyPasses = 3

// disabledState holds the global bypass flag. The environment variable is
// sampled once, lazily, on first query; Disable and Enable override it.
var disabledState struct {
	once sync.Once
	flag atomic.Bool
}

func compilerDisabled() bool {
	disabledState.once.Do(func() {
		disabledState.flag.Store(os.Getenv(DisableEnvVar) != "")
	})
	return disabledState.flag.Load()
}

// Disable turns the compiler off globally: Compile returns functions
// unchanged until Enable is called.
func Disable() {
	disabledState.once.Do(func() {})
	disabledState.flag.Store(true)
}

// Enable turns the compiler back on after Disable, overriding DisableEnvVar.
func Enable() {
	disabledState.once.Do(func() {})
	disabledState.flag.Store(false)
}

// FuncID derives the cache identity of fn from its code pointer. A nil or
// otherwise non-addressable function cannot be keyed deterministically and
// panics.
//
// Closures created from the same function literal share a code pointer and
// therefore a cache identity; use CompileWithID to key such functions
// explicitly.
func FuncID(fn Fn) uint64 {
	if fn == nil {
		exceptions.Panicf("compile: cannot compile a non-addressable (nil) function")
	}
	ptr := reflect.ValueOf(fn).Pointer()
	if ptr == 0 {
		exceptions.Panicf("compile: cannot compile a non-addressable function")
	}
	return uint64(ptr)
}

// Compile returns a function equivalent to fn that traces it once per input
// signature, rewrites the captured graph and replays the rewritten tape on
// every call. With the compiler disabled it returns fn unchanged.
func Compile(fn Fn) Fn {
	if compilerDisabled() {
		return fn
	}
	return CompileWithID(fn, FuncID(fn))
}

// CompileWithID is Compile with an explicit cache identity, for functions
// whose code pointer is not a usable key (closures compiled per capture).
func CompileWithID(fn Fn, funID uint64) Fn {
	if compilerDisabled() {
		return fn
	}
	return func(inputs []graph.Array) []graph.Array {
		entry := theCache().find(funID, inputs)
		if entry.empty {
			entry.empty = false
			func() {
				// A half-built entry must not survive a failure: drop it so
				// a retry starts clean, then let the failure surface.
				defer func() {
					if r := recover(); r != nil {
						theCache().drop(funID, entry)
						panic(r)
					}
				}()

				// Trace the function on placeholders.
				entry.inputs, entry.outputs = compileTrace(fn, inputs)

				// Post-order tape plus consumer edges. The parents map lives
				// only for this compilation; the entry stores just the tape.
				tape, parents := compileDFS(entry.inputs, entry.outputs)

				// Collapse duplicated scalars and subexpressions.
				tape = compileSimplify(tape, parents, entry.outputs, simplifyPasses)

				// Carve fusable regions into Compiled nodes.
				tape = compileFuse(tape, parents, entry.outputs)

				entry.tape = tape
			}()
			klog.V(1).Infof("compile: built tape of %d arrays for function %#x", len(entry.tape), funID)
		}
		return compileReplace(entry.tape, entry.inputs, entry.outputs, inputs)
	}
}

// Erase evicts every cached artifact of the function identified by funID.
func Erase(funID uint64) {
	theCache().erase(funID)
}
