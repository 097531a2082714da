// Copyright 2024-2026 The MLX-Go Authors. SPDX-License-Identifier: Apache-2.0

package compile

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/mlx-go/mlx/graph"
	"k8s.io/klog/v2"
)

// scalarKey identifies equal scalar constants: the raw bit pattern
// (zero-extended to 64 bits) paired with the dtype.
type scalarKey struct {
	bits  uint64
	dtype dtypes.DType
}

// isScalarConst reports whether a is a materialized zero-dimensional array.
func isScalarConst(a graph.Array) bool {
	return a.IsEvaled() && a.Rank() == 0
}

func scalarRep(a graph.Array) scalarKey {
	return scalarKey{bits: graph.ScalarBits(a), dtype: a.DType()}
}

// fuse redirects every parent of src's outputs to the corresponding output of
// dst, rewriting the parents' input slots, and removes src from the parents
// map so it cannot be fused with again. dst and src must have the same number
// of outputs.
func fuse(dst, src graph.Array, parents parentsMap) {
	sources := src.Outputs()
	dests := dst.Outputs()
	if len(sources) != len(dests) {
		exceptions.Panicf("compile: cannot fuse %s into %s, output counts differ (%d vs %d)",
			src, dst, len(sources), len(dests))
	}
	for i := range sources {
		srcParents, ok := parents[sources[i].ID()]
		if !ok {
			continue
		}
		destID := dests[i].ID()
		for _, edge := range srcParents {
			edge.parent.ReplaceInput(edge.index, dests[i])
			parents[destID] = append(parents[destID], edge)
		}
		delete(parents, sources[i].ID())
	}
}

// arrayEquivalent is the depth-1 equivalence check: distinct primitive
// instances of the same kind and parameters, consuming identical inputs.
func arrayEquivalent(a, b graph.Array) bool {
	if !a.HasPrimitive() || !b.HasPrimitive() {
		return false
	}
	pa, pb := a.Primitive(), b.Primitive()
	if pa == pb {
		// Same instance: a and b are siblings of one primitive, not a
		// duplicated computation.
		return false
	}
	if pa.OpType() != pb.OpType() {
		return false
	}
	if a.NumInputs() != b.NumInputs() {
		return false
	}
	aIns, bIns := a.Inputs(), b.Inputs()
	for i := range aIns {
		if aIns[i].ID() != bIns[i].ID() {
			return false
		}
	}
	return pa.IsEquivalent(pb)
}

// compileSimplify collapses duplicate computations on the tape, in place with
// respect to the parents map, and returns the updated tape. Pass 0
// deduplicates scalar constants; the following passes fuse arrays that are
// equivalent at depth 1. Equivalence is shallow: a fusion at depth k can make
// arrays at depth k+1 equivalent. The kept array comes later on the post-order
// tape, so its consumers are compared later in the same pass.
func compileSimplify(tape []graph.Array, parents parentsMap, outputs []graph.Array, passes int) []graph.Array {
	// First-seen scalars are the canonical representatives; the choice is
	// stable across runs of the same trace.
	scalars := make(map[scalarKey]graph.Array)
	for _, a := range tape {
		if !isScalarConst(a) {
			continue
		}
		key := scalarRep(a)
		if _, ok := scalars[key]; !ok {
			scalars[key] = a
		}
	}

	// Pass 0: fuse scalars, dropping the orphaned duplicates from the tape.
	newTape := make([]graph.Array, 0, len(tape))
	for _, a := range tape {
		if isScalarConst(a) {
			canonical := scalars[scalarRep(a)]
			if canonical.ID() != a.ID() {
				fuse(canonical, a, parents)
				continue
			}
		}
		newTape = append(newTape, a)
	}
	before := len(tape)
	tape = newTape

	outputSet := make(map[uint64]bool, len(outputs))
	for _, o := range outputs {
		outputSet[o.ID()] = true
	}

	for pass := 0; pass < passes; pass++ {
		newTape = make([]graph.Array, 0, len(tape))
		for _, arr := range tape {
			// maybeFuseParents fuses equivalent pairs among the consumers of
			// a, then purges the consumed edges. It reports whether a became
			// removable: no consumers left and not a declared output.
			maybeFuseParents := func(a graph.Array) bool {
				edges, ok := parents[a.ID()]
				if !ok {
					return !outputSet[a.ID()]
				}
				n := len(edges)
				mask := make([]bool, n)
				for i := 0; i < n; i++ {
					if mask[i] {
						continue
					}
					for j := i + 1; j < n; j++ {
						if mask[j] {
							continue
						}
						dst := edges[i].parent
						src := edges[j].parent
						if src.ID() != dst.ID() && arrayEquivalent(src, dst) {
							fuse(dst, src, parents)
							mask[j] = true
						}
					}
				}
				kept := edges[:0]
				for i, edge := range edges {
					if !mask[i] {
						kept = append(kept, edge)
					}
				}
				parents[a.ID()] = kept
				return false
			}

			discard := maybeFuseParents(arr)
			for _, s := range arr.Siblings() {
				discard = maybeFuseParents(s) && discard
			}
			// An array is dropped only when it and all its siblings have no
			// consumers left and none of them is an output.
			if !discard {
				newTape = append(newTape, arr)
			}
		}
		tape = newTape
	}
	if klog.V(2).Enabled() {
		klog.Infof("compile: simplify reduced the tape from %d to %d arrays", before, len(tape))
	}
	return tape
}
