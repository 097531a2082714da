// Copyright 2024-2026 The MLX-Go Authors. SPDX-License-Identifier: Apache-2.0

package compile

import (
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/mlx-go/mlx/graph"
	"github.com/mlx-go/mlx/types/shapes"
	"k8s.io/klog/v2"
)

// maxCompileSize caps the number of primitive arrays in one fused region.
// Unbounded regions explode downstream kernel-synthesis cost; constants do
// not count against the cap.
const maxCompileSize = 8

// compileFuse rewrites the tape so that maximal contiguous runs of fusable
// operations become single Compiled nodes. It walks the tape backwards,
// growing a candidate region one array at a time:
//
//   - materialized constants join the region; a constant also consumed
//     outside the region additionally becomes a region input, so the outer
//     tape still carries it, and one that is itself a declared output becomes
//     a region output;
//   - placeholders stop the region (they are graph inputs, computed nowhere);
//   - non-fusable primitives and stream changes stop the region;
//   - a fusable array whose consumers are all inside the region is interior;
//     one with no consumer inside it (or a declared output) is a region
//     output; a mixed consumer set stops the region, since the tape cannot be
//     cut cleanly there.
//
// A region with fewer than two primitives is left alone. Otherwise the region
// becomes a Compiled primitive consuming the region's external dependencies,
// the consumers and the declared outputs are rewired to the compiled outputs,
// and the walk resumes left of the region.
//
// The declared outputs slice is updated in place where outputs were fused.
func compileFuse(tape []graph.Array, parents parentsMap, outputs []graph.Array) []graph.Array {
	outputSet := make(map[uint64]bool, len(outputs))
	for _, o := range outputs {
		outputSet[o.ID()] = true
	}

	// newTape is built backwards and reversed at the end. emitted guards
	// against re-emitting arrays that were already spliced as region inputs.
	newTape := make([]graph.Array, 0, len(tape))
	emitted := make(map[uint64]bool, len(tape))
	emit := func(a graph.Array) {
		if !emitted[a.ID()] {
			emitted[a.ID()] = true
			newTape = append(newTape, a)
		}
	}
	numRegions := 0

	i := len(tape) - 1
	for i >= 0 {
		seed := tape[i]
		if emitted[seed.ID()] {
			i--
			continue
		}
		if !seed.HasPrimitive() || !isFusable(seed.Primitive()) {
			emit(seed)
			i--
			continue
		}

		// Grow the candidate region leftwards from i.
		stream := seed.Primitive().Stream()
		region := make(map[uint64]bool)
		regionOutputs := make(map[uint64]bool)
		primCount := 0
		j := i
	grow:
		for j >= 0 {
			a := tape[j]
			if emitted[a.ID()] {
				break
			}
			if !a.HasPrimitive() {
				if !a.IsEvaled() {
					// Placeholder: a graph input, not computable in a region.
					break
				}
				if outputSet[a.ID()] {
					// A constant that is itself a declared output must be
					// exported by the region, not silently absorbed.
					regionOutputs[a.ID()] = true
				}
				region[a.ID()] = true
				j--
				continue
			}
			p := a.Primitive()
			if !isFusable(p) || p.Stream() != stream {
				break
			}
			if primCount >= maxCompileSize {
				break
			}
			edges, ok := parents[a.ID()]
			switch {
			case ok && len(edges) == 0:
				exceptions.Panicf("compile: array %s is in the parents map with an empty parent list", a)
			case !ok:
				if !outputSet[a.ID()] {
					exceptions.Panicf("compile: reachable array %s has no consumers and is not an output", a)
				}
				regionOutputs[a.ID()] = true
			default:
				allIn, allOut := true, true
				for _, edge := range edges {
					if region[edge.parent.ID()] {
						allOut = false
					} else {
						allIn = false
					}
					if !allIn && !allOut {
						break grow
					}
				}
				if allOut || outputSet[a.ID()] {
					regionOutputs[a.ID()] = true
				}
			}
			region[a.ID()] = true
			primCount++
			j--
		}

		// No fusion for a region with fewer than two primitives.
		if primCount < 2 {
			emit(seed)
			i--
			continue
		}

		subTape := slices.Clone(tape[j+1 : i+1])

		// Region inputs: external dependencies, in first-use order, plus the
		// constants of the region that are also consumed outside it.
		var fusedInputs []graph.Array
		inputSeen := make(map[uint64]bool)
		for _, a := range subTape {
			if !a.HasPrimitive() {
				for _, edge := range parents[a.ID()] {
					if !region[edge.parent.ID()] && !inputSeen[a.ID()] {
						inputSeen[a.ID()] = true
						fusedInputs = append(fusedInputs, a)
					}
				}
				continue
			}
			for _, in := range a.Inputs() {
				if !region[in.ID()] && !inputSeen[in.ID()] {
					inputSeen[in.ID()] = true
					fusedInputs = append(fusedInputs, in)
				}
			}
		}

		// Region outputs in tape order.
		var fusedOutputs []graph.Array
		for _, a := range subTape {
			if regionOutputs[a.ID()] {
				fusedOutputs = append(fusedOutputs, a)
			}
		}
		if len(fusedOutputs) == 0 {
			exceptions.Panicf("compile: fused region of %d arrays exports no outputs", len(subTape))
		}

		compiled := graph.NewCompiled(stream, fusedInputs, fusedOutputs, subTape)
		compiledOuts := graph.MakeArrays(arrayShapes(fusedOutputs), compiled, fusedInputs)

		// Rewire consumers outside the region and the declared outputs from
		// the fused outputs to the compiled outputs, keeping the parents map
		// consistent.
		for k, fo := range fusedOutputs {
			co := compiledOuts[k]
			if edges, ok := parents[fo.ID()]; ok {
				for _, edge := range edges {
					if region[edge.parent.ID()] {
						continue
					}
					edge.parent.ReplaceInput(edge.index, co)
					parents[co.ID()] = append(parents[co.ID()], edge)
				}
				delete(parents, fo.ID())
			}
			for oi, o := range outputs {
				if o.ID() == fo.ID() {
					outputs[oi] = co
				}
			}
		}
		for idx, fi := range fusedInputs {
			edges := parents[fi.ID()]
			kept := edges[:0]
			for _, edge := range edges {
				if !region[edge.parent.ID()] {
					kept = append(kept, edge)
				}
			}
			for _, co := range compiledOuts {
				kept = append(kept, parentEdge{parent: co, index: idx})
			}
			parents[fi.ID()] = kept
		}

		// Splice: the representative compiled output first, then the region
		// inputs in reverse order, so that after the final reversal the
		// inputs sit ahead of the compiled node.
		emit(compiledOuts[0])
		for k := len(fusedInputs) - 1; k >= 0; k-- {
			emit(fusedInputs[k])
		}
		numRegions++
		i = j
	}

	slices.Reverse(newTape)
	if klog.V(2).Enabled() {
		klog.Infof("compile: fused %d regions, tape has %d arrays", numRegions, len(newTape))
	}
	return newTape
}

// arrayShapes returns the shapes of the given arrays.
func arrayShapes(arrays []graph.Array) []shapes.Shape {
	out := make([]shapes.Shape, len(arrays))
	for i, a := range arrays {
		out[i] = a.Shape()
	}
	return out
}
