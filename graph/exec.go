// Copyright 2024-2026 The MLX-Go Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"github.com/pkg/errors"
)

// The interpreter: a per-OpType dispatch into small generic kernels. It
// materializes arrays in place of a real device runtime, which keeps the
// graph rewriter observable end-to-end.

// execFn computes the single output of a node from its input buffers.
type execFn func(a Array, inputs []*buffer) (*buffer, error)

// multiExecFn computes all outputs of a multi-output node, in sibling order.
type multiExecFn func(a Array, inputs []*buffer) ([]*buffer, error)

var (
	// nodeExecutors is populated by the init functions of the exec_*.go
	// files. A nil entry means the op has no interpreter support.
	nodeExecutors [opTypeLast]execFn

	multiOutputNodeExecutors [opTypeLast]multiExecFn
)

// Eval materializes the given arrays and every unevaluated array they depend
// on. Constants are already materialized; placeholders cannot be evaluated
// and yield an error.
func Eval(arrays ...Array) error {
	var order []Array
	visited := make(map[uint64]bool)
	var visit func(a Array) error
	visit = func(a Array) error {
		if a.n == nil {
			return errors.Errorf("Eval: invalid (nil) array")
		}
		if visited[a.ID()] || a.IsEvaled() {
			return nil
		}
		visited[a.ID()] = true
		for _, s := range a.Siblings() {
			visited[s.ID()] = true
		}
		if !a.HasPrimitive() {
			return errors.Errorf("Eval: array %s has no primitive and no data -- placeholders cannot be evaluated", a)
		}
		for _, in := range a.Inputs() {
			if err := visit(in); err != nil {
				return err
			}
		}
		order = append(order, a)
		return nil
	}
	for _, a := range arrays {
		if err := visit(a); err != nil {
			return err
		}
	}

	for _, a := range order {
		if err := evalNode(a); err != nil {
			return err
		}
	}
	return nil
}

// evalNode computes one node (and its siblings, for multi-output primitives)
// assuming every input is already materialized.
func evalNode(a Array) error {
	op := a.Primitive().OpType()
	ins := make([]*buffer, a.NumInputs())
	for i, in := range a.Inputs() {
		if in.n.buf == nil {
			return errors.Errorf("Eval: input #%d of %s is not materialized yet -- this is a bug", i, a)
		}
		ins[i] = in.n.buf
	}
	outs := a.Outputs()
	if len(outs) > 1 {
		fn := multiOutputNodeExecutors[op]
		if fn == nil {
			return errors.Errorf("Eval: multi-output op %s is not supported by the interpreter", op)
		}
		bufs, err := fn(outs[0], ins)
		if err != nil {
			return err
		}
		if len(bufs) != len(outs) {
			return errors.Errorf("Eval: op %s produced %d outputs, expected %d", op, len(bufs), len(outs))
		}
		for i, o := range outs {
			o.n.buf = bufs[i]
		}
		return nil
	}
	fn := nodeExecutors[op]
	if fn == nil {
		return errors.Errorf("Eval: op %s is not supported by the interpreter", op)
	}
	buf, err := fn(a, ins)
	if err != nil {
		return err
	}
	a.n.buf = buf
	return nil
}

// outputBuffer takes a pooled buffer shaped like the node's output.
func outputBuffer(a Array) *buffer {
	out := Allocator().getBuffer(a.DType(), a.Shape().Size())
	out.shape = a.Shape().Clone()
	return out
}
