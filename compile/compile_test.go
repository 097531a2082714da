// Copyright 2024-2026 The MLX-Go Authors. SPDX-License-Identifier: Apache-2.0

package compile

import (
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/janpfeifer/must"
	"github.com/mlx-go/mlx/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// nextFunID hands out unique cache identities for test closures, which all
// share one code pointer.
var nextFunID atomic.Uint64

func init() {
	nextFunID.Store(1 << 40)
}

// assertSameValues evaluates both output sets and compares them elementwise.
func assertSameValues(t *testing.T, want, got []graph.Array) {
	t.Helper()
	require.Equal(t, len(want), len(got))
	all := append(append([]graph.Array{}, want...), got...)
	require.NoError(t, graph.Eval(all...))
	for i := range want {
		require.True(t, want[i].Shape().Equal(got[i].Shape()))
		switch w := want[i].Value().(type) {
		case []float32:
			g := graph.Data[float32](got[i])
			for j := range w {
				assert.InDelta(t, w[j], g[j], 1e-5)
			}
		default:
			assert.Equal(t, want[i].Value(), got[i].Value())
		}
	}
}

// runCompiled compiles fn under a fresh identity and returns the direct and
// compiled results for the same inputs.
func runCompiled(t *testing.T, fn Fn, inputs []graph.Array) (direct, compiled []graph.Array) {
	t.Helper()
	id := nextFunID.Add(1)
	t.Cleanup(func() { Erase(id) })
	cfn := CompileWithID(fn, id)
	return fn(inputs), cfn(inputs)
}

// Scenario: f(x) = x + 2.0 + 2.0 — deduplicating the scalar constants does
// not change the result.
func TestCompileScalarDedupEndToEnd(t *testing.T) {
	fn := func(ins []graph.Array) []graph.Array {
		return []graph.Array{graph.AddScalar(graph.AddScalar(ins[0], 2), 2)}
	}
	x := graph.Const([]float32{1, 2, 3, 4}, 4)
	want, got := runCompiled(t, fn, []graph.Array{x})
	assertSameValues(t, want, got)
}

// Scenario: f(x) = sin(x) * sin(x) — collapsing the duplicated sin does not
// change the result.
func TestCompileCSEEndToEnd(t *testing.T) {
	fn := func(ins []graph.Array) []graph.Array {
		return []graph.Array{graph.Mul(graph.Sin(ins[0]), graph.Sin(ins[0]))}
	}
	x := graph.Const([]float32{0.5, 1, 1.5, 2}, 4)
	want, got := runCompiled(t, fn, []graph.Array{x})
	assertSameValues(t, want, got)
}

// Scenario: f(x,y) = exp(x+y) * (x+y) is fully fusable and evaluates through
// its Compiled node.
func TestCompileFusionEndToEnd(t *testing.T) {
	fn := func(ins []graph.Array) []graph.Array {
		sum := graph.Add(ins[0], ins[1])
		return []graph.Array{graph.Mul(graph.Exp(sum), sum)}
	}
	x := graph.Const([]float32{0, 0.5, 1, 1.5}, 4)
	y := graph.Const([]float32{1, 1, 2, 2}, 4)
	want, got := runCompiled(t, fn, []graph.Array{x, y})
	assertSameValues(t, want, got)
	// The compiled result actually goes through a fused region.
	require.True(t, got[0].HasPrimitive())
	assert.Equal(t, graph.OpTypeCompiled, got[0].Primitive().OpType())
}

// Scenario: f(x) = matmul(x, exp(x)) — non-fusable consumers keep their
// operands out of regions.
func TestCompileNonFusableEndToEnd(t *testing.T) {
	fn := func(ins []graph.Array) []graph.Array {
		return []graph.Array{graph.MatMul(ins[0], graph.Exp(ins[0]))}
	}
	x := graph.Const([]float32{0.1, 0.2, 0.3, 0.4}, 2, 2)
	want, got := runCompiled(t, fn, []graph.Array{x})
	assertSameValues(t, want, got)
	assert.Equal(t, graph.OpTypeMatMul, got[0].Primitive().OpType())
}

// A deep unary chain evaluates correctly through several size-capped
// regions.
func TestCompileDeepChainEndToEnd(t *testing.T) {
	fn := func(ins []graph.Array) []graph.Array {
		cur := ins[0]
		for i := 0; i < 20; i++ {
			cur = graph.Sin(cur)
		}
		return []graph.Array{cur}
	}
	x := graph.Const([]float32{0.1, 0.7, 1.3}, 3)
	want, got := runCompiled(t, fn, []graph.Array{x})
	assertSameValues(t, want, got)
}

// A constant returned directly as an output replays correctly even when its
// only consumers end up inside a fused region.
func TestCompileConstantOutputEndToEnd(t *testing.T) {
	fn := func(ins []graph.Array) []graph.Array {
		five := graph.Scalar(float32(5))
		return []graph.Array{graph.Exp(graph.Add(ins[0], five)), five}
	}
	x := graph.Const([]float32{0, 0.5, 1, 1.5}, 4)
	want, got := runCompiled(t, fn, []graph.Array{x})
	assertSameValues(t, want, got)
}

// Multi-output primitives replay with their sibling order preserved.
func TestCompileMultiOutputEndToEnd(t *testing.T) {
	fn := func(ins []graph.Array) []graph.Array {
		quot, rem := graph.DivMod(ins[0], ins[1])
		return []graph.Array{quot, rem, graph.Add(quot, rem)}
	}
	x := graph.Const([]int32{17, 23, -9}, 3)
	y := graph.Const([]int32{5, 4, 2}, 3)
	want, got := runCompiled(t, fn, []graph.Array{x, y})
	assertSameValues(t, want, got)
}

// Every input signature is traced exactly once; a call matching a cached
// signature traces nothing.
func TestCompileCacheIdempotence(t *testing.T) {
	fn := func(ins []graph.Array) []graph.Array {
		return []graph.Array{graph.AddScalar(ins[0], 1)}
	}
	id := nextFunID.Add(1)
	t.Cleanup(func() { Erase(id) })
	cfn := CompileWithID(fn, id)

	base := traceCount.Load()
	x4 := graph.Const([]float32{1, 2, 3, 4}, 4)
	cfn([]graph.Array{x4})
	assert.Equal(t, base+1, traceCount.Load())

	x8 := graph.Const([]float32{1, 2, 3, 4, 5, 6, 7, 8}, 8)
	cfn([]graph.Array{x8})
	assert.Equal(t, base+2, traceCount.Load())

	theCache().mu.Lock()
	assert.Len(t, theCache().entries[id], 2)
	theCache().mu.Unlock()

	// Third call matches the first signature: zero traces.
	out := cfn([]graph.Array{graph.Const([]float32{4, 3, 2, 1}, 4)})
	assert.Equal(t, base+2, traceCount.Load())
	require.NoError(t, graph.Eval(out...))
	assert.Equal(t, []float32{5, 4, 3, 2}, graph.Data[float32](out[0]))
}

func TestCompileErase(t *testing.T) {
	fn := func(ins []graph.Array) []graph.Array {
		return []graph.Array{graph.Negative(ins[0])}
	}
	id := nextFunID.Add(1)
	cfn := CompileWithID(fn, id)
	x := graph.Const([]float32{1, 2}, 2)
	cfn([]graph.Array{x})

	base := traceCount.Load()
	Erase(id)
	cfn([]graph.Array{x})
	assert.Equal(t, base+1, traceCount.Load())
	Erase(id)
}

// With the compiler disabled, Compile returns the function unchanged and the
// first call does no tracing.
func TestCompileDisabled(t *testing.T) {
	defer Enable()
	Disable()
	fn := func(ins []graph.Array) []graph.Array {
		return []graph.Array{graph.Exp(ins[0])}
	}
	cfn := Compile(fn)
	base := traceCount.Load()
	out := cfn([]graph.Array{graph.Const([]float32{0, 1}, 2)})
	assert.Equal(t, base, traceCount.Load())
	require.NoError(t, graph.Eval(out...))

	Enable()
	// CompileWithID honors the flag at wrap time too.
	Disable()
	cfn2 := CompileWithID(fn, nextFunID.Add(1))
	cfn2([]graph.Array{graph.Const([]float32{0, 1}, 2)})
	assert.Equal(t, base, traceCount.Load())
}

func TestCompileDisabledByEnvVar(t *testing.T) {
	// Reset the lazily-sampled state, simulating first query with the
	// variable set.
	must.M(os.Setenv(DisableEnvVar, "1"))
	defer func() {
		must.M(os.Unsetenv(DisableEnvVar))
		disabledState.once = sync.Once{}
		disabledState.flag.Store(false)
	}()
	disabledState.once = sync.Once{}
	disabledState.flag.Store(false)

	assert.True(t, compilerDisabled())
	fn := func(ins []graph.Array) []graph.Array { return ins }
	base := traceCount.Load()
	Compile(fn)([]graph.Array{graph.Const([]float32{1}, 1)})
	assert.Equal(t, base, traceCount.Load())
}

func TestCompileNonAddressableFunction(t *testing.T) {
	e := exceptions.Try(func() { Compile(nil) })
	require.NotNil(t, e)
	err, ok := e.(error)
	require.True(t, ok)
	assert.Contains(t, err.Error(), "non-addressable")
}

// A failure inside the user function clears the tracing flag and rolls the
// partial cache entry back, so a retry starts clean.
func TestCompileUserFailureRollsBack(t *testing.T) {
	id := nextFunID.Add(1)
	t.Cleanup(func() { Erase(id) })
	failing := true
	fn := func(ins []graph.Array) []graph.Array {
		if failing {
			panic("user function exploded")
		}
		return []graph.Array{graph.Exp(ins[0])}
	}
	cfn := CompileWithID(fn, id)
	x := graph.Const([]float32{1, 2}, 2)

	require.NotNil(t, exceptions.Try(func() { cfn([]graph.Array{x}) }))
	assert.False(t, graph.InTracing())
	theCache().mu.Lock()
	assert.Empty(t, theCache().entries[id])
	theCache().mu.Unlock()

	// The retry traces again and succeeds.
	failing = false
	base := traceCount.Load()
	out := cfn([]graph.Array{x})
	assert.Equal(t, base+1, traceCount.Load())
	require.NoError(t, graph.Eval(out...))
}

// Calling a compiled function with the wrong number of inputs is a host bug
// and fails loudly.
func TestCompileInputCountMismatch(t *testing.T) {
	id := nextFunID.Add(1)
	t.Cleanup(func() { Erase(id) })
	fn := func(ins []graph.Array) []graph.Array {
		return []graph.Array{graph.Negative(ins[0])}
	}
	cfn := CompileWithID(fn, id)
	x := graph.Const([]float32{1, 2}, 2)
	cfn([]graph.Array{x})
	require.NotNil(t, exceptions.Try(func() { cfn([]graph.Array{x, x}) }))
}

// Compile with addressable top-level-style functions: distinct functions get
// distinct cache identities.
func TestFuncID(t *testing.T) {
	assert.NotEqual(t, FuncID(fnDouble), FuncID(fnHalve))
	assert.Equal(t, FuncID(fnDouble), FuncID(fnDouble))
}

func fnDouble(ins []graph.Array) []graph.Array {
	return []graph.Array{graph.MulScalar(ins[0], 2)}
}

func fnHalve(ins []graph.Array) []graph.Array {
	return []graph.Array{graph.DivScalar(ins[0], 2)}
}
