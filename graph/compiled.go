// Copyright 2024-2026 The MLX-Go Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/mlx-go/mlx/types/shapes"
	"github.com/pkg/errors"
)

// Compiled is the primitive standing for a fused region of the graph: a
// sub-tape of fusable arrays together with the boundary inputs it consumes
// and the outputs it exports. It is produced by the compile package and
// otherwise behaves like any other primitive.
type Compiled struct {
	stream  Stream
	inputs  []Array
	outputs []Array
	tape    []Array
}

// Compile-time checks.
var (
	_ Primitive      = (*Compiled)(nil)
	_ Differentiable = (*Compiled)(nil)
)

// NewCompiled creates the primitive for a fused region. inputs are the
// boundary arrays the sub-tape consumes, outputs the sub-tape arrays whose
// values escape the region, and tape the region itself in evaluation order.
func NewCompiled(stream Stream, inputs, outputs, tape []Array) *Compiled {
	if len(outputs) == 0 {
		exceptions.Panicf("NewCompiled: a fused region must export at least one output")
	}
	return &Compiled{
		stream:  stream,
		inputs:  slices.Clone(inputs),
		outputs: slices.Clone(outputs),
		tape:    slices.Clone(tape),
	}
}

// OpType implements Primitive.
func (c *Compiled) OpType() OpType { return OpTypeCompiled }

// Stream implements Primitive.
func (c *Compiled) Stream() Stream { return c.stream }

// NumOutputs implements Primitive.
func (c *Compiled) NumOutputs() int { return len(c.outputs) }

// IsEquivalent implements Primitive. It is conservatively false: structural
// equality of sub-tapes is never attempted.
func (c *Compiled) IsEquivalent(Primitive) bool { return false }

// Inputs returns the boundary arrays the fused region consumes.
func (c *Compiled) Inputs() []Array { return slices.Clone(c.inputs) }

// CapturedOutputs returns the sub-tape arrays the region exports, in output
// order.
func (c *Compiled) CapturedOutputs() []Array { return slices.Clone(c.outputs) }

// Tape returns the fused sub-tape in evaluation order.
func (c *Compiled) Tape() []Array { return slices.Clone(c.tape) }

// String implements fmt.Stringer.
func (c *Compiled) String() string {
	var sb strings.Builder
	sb.WriteString("Compiled[")
	first := true
	for _, a := range c.tape {
		if !a.HasPrimitive() {
			continue
		}
		if !first {
			sb.WriteString("|")
		}
		first = false
		sb.WriteString(a.Primitive().OpType().String())
	}
	sb.WriteString("]")
	return sb.String()
}

// VJP implements Differentiable.
func (c *Compiled) VJP(primals, cotangents []Array, argnums []int, outputs []Array) []Array {
	exceptions.Panicf("Compiled.VJP: not implemented")
	return nil
}

// JVP implements Differentiable.
func (c *Compiled) JVP(primals, tangents []Array, argnums []int) []Array {
	exceptions.Panicf("Compiled.JVP: not implemented")
	return nil
}

// Vmap implements Primitive: the captured trace is converted to a live graph
// against the vmap'd inputs and each tape node's Vmap is forwarded.
func (c *Compiled) Vmap(inputs []Array, axes []int) ([]Array, []int) {
	if len(inputs) != len(c.inputs) || len(axes) != len(inputs) {
		exceptions.Panicf("Compiled.Vmap: got %d inputs and %d axes, expected %d", len(inputs), len(axes), len(c.inputs))
	}
	realTape, realOutputs := convertTraceToReal(inputs, c.inputs, c.tape, c.outputs)

	type batched struct {
		value Array
		axis  int
	}
	vmap := make(map[uint64]batched)
	for i, in := range inputs {
		vmap[in.ID()] = batched{value: in, axis: axes[i]}
	}

	for _, a := range realTape {
		if !a.HasPrimitive() {
			if _, ok := vmap[a.ID()]; !ok {
				vmap[a.ID()] = batched{value: a, axis: -1}
			}
			continue
		}
		if _, ok := vmap[a.ID()]; ok {
			continue
		}
		vInputs := make([]Array, a.NumInputs())
		vAxes := make([]int, a.NumInputs())
		for i, in := range a.Inputs() {
			b, ok := vmap[in.ID()]
			if !ok {
				exceptions.Panicf("Compiled.Vmap: input %s of %s is not mapped", in, a)
			}
			vInputs[i] = b.value
			vAxes[i] = b.axis
		}
		vOutputs, vOutAxes := a.Primitive().Vmap(vInputs, vAxes)
		for i, o := range a.Outputs() {
			vmap[o.ID()] = batched{value: vOutputs[i], axis: vOutAxes[i]}
		}
	}

	outputs := make([]Array, len(realOutputs))
	outAxes := make([]int, len(realOutputs))
	for i, o := range realOutputs {
		b, ok := vmap[o.ID()]
		if !ok {
			exceptions.Panicf("Compiled.Vmap: output %s is not mapped", o)
		}
		outputs[i] = b.value
		outAxes[i] = b.axis
	}
	return outputs, outAxes
}

// convertTraceToReal rebuilds the captured trace against real input arrays.
// Constants are shared as-is; every other tape array is recreated with its
// original primitive and the real counterparts of its inputs.
func convertTraceToReal(realInputs, traceInputs, traceTape, traceOutputs []Array) (tape, outputs []Array) {
	traceToReal := make(map[uint64]Array, len(traceTape)+len(traceInputs))
	for i, tin := range traceInputs {
		traceToReal[tin.ID()] = realInputs[i]
	}
	tape = make([]Array, 0, len(traceTape))
	for _, a := range traceTape {
		if _, ok := traceToReal[a.ID()]; ok {
			continue
		}
		if !a.HasPrimitive() {
			traceToReal[a.ID()] = a
			tape = append(tape, a)
			continue
		}
		realIns := make([]Array, a.NumInputs())
		for i, in := range a.Inputs() {
			real, ok := traceToReal[in.ID()]
			if !ok {
				exceptions.Panicf("convertTraceToReal: input %s of %s is neither a trace input nor an earlier tape entry", in, a)
			}
			realIns[i] = real
		}
		outs := a.Outputs()
		if len(outs) == 1 {
			real := New(a.Shape(), a.Primitive(), realIns)
			traceToReal[a.ID()] = real
			tape = append(tape, real)
			continue
		}
		realOuts := MakeArrays(outputShapesOf(outs), a.Primitive(), realIns)
		for i, to := range outs {
			traceToReal[to.ID()] = realOuts[i]
		}
		tape = append(tape, realOuts[0])
	}
	outputs = make([]Array, len(traceOutputs))
	for i, to := range traceOutputs {
		real, ok := traceToReal[to.ID()]
		if !ok {
			exceptions.Panicf("convertTraceToReal: trace output %s was never rebuilt", to)
		}
		outputs[i] = real
	}
	return tape, outputs
}

func init() {
	nodeExecutors[OpTypeCompiled] = execCompiledSingle
	multiOutputNodeExecutors[OpTypeCompiled] = execCompiledMulti
}

// execCompiledSingle interprets a fused region with one exported output.
func execCompiledSingle(a Array, inputs []*buffer) (*buffer, error) {
	outs, err := evalCompiledTape(a.Primitive().(*Compiled), inputs)
	if err != nil {
		return nil, err
	}
	return outs[0], nil
}

// execCompiledMulti interprets a fused region with several exported outputs.
func execCompiledMulti(a Array, inputs []*buffer) ([]*buffer, error) {
	return evalCompiledTape(a.Primitive().(*Compiled), inputs)
}

// evalCompiledTape replays the captured sub-tape against the real input
// buffers. Interior buffers go back to the allocator pools.
func evalCompiledTape(c *Compiled, inputs []*buffer) ([]*buffer, error) {
	if len(inputs) != len(c.inputs) {
		return nil, errors.Errorf("Compiled: got %d input buffers, expected %d", len(inputs), len(c.inputs))
	}
	local := make(map[uint64]*buffer, len(c.tape)+len(inputs))
	for i, tin := range c.inputs {
		local[tin.ID()] = inputs[i]
	}
	var temps []*buffer
	for _, a := range c.tape {
		if _, ok := local[a.ID()]; ok {
			continue
		}
		if !a.HasPrimitive() {
			if !a.IsEvaled() {
				return nil, errors.Errorf("Compiled: tape constant %s has no data", a)
			}
			local[a.ID()] = a.n.buf
			continue
		}
		if len(a.Siblings()) > 0 {
			return nil, errors.Errorf("Compiled: multi-output primitive %s inside a fused region", a)
		}
		op := a.Primitive().OpType()
		fn := nodeExecutors[op]
		if fn == nil {
			return nil, errors.Errorf("Compiled: op %s is not supported by the interpreter", op)
		}
		ins := make([]*buffer, a.NumInputs())
		for i, in := range a.Inputs() {
			buf, ok := local[in.ID()]
			if !ok {
				return nil, errors.Errorf("Compiled: input %s of %s is not available in the region", in, a)
			}
			ins[i] = buf
		}
		out, err := fn(a, ins)
		if err != nil {
			return nil, err
		}
		local[a.ID()] = out
		temps = append(temps, out)
	}

	outs := make([]*buffer, len(c.outputs))
	exported := make(map[*buffer]bool, len(c.outputs))
	for i, to := range c.outputs {
		buf, ok := local[to.ID()]
		if !ok {
			return nil, errors.Errorf("Compiled: output %s was never computed by the region", to)
		}
		outs[i] = buf
		exported[buf] = true
	}
	al := Allocator()
	for _, buf := range temps {
		if !exported[buf] {
			al.putBuffer(buf)
		}
	}
	return outs, nil
}

// outputShapesOf returns the shapes of the given arrays.
func outputShapesOf(arrays []Array) []shapes.Shape {
	out := make([]shapes.Shape, len(arrays))
	for i, a := range arrays {
		out[i] = a.Shape()
	}
	return out
}
