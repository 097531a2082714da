// Copyright 2024-2026 The MLX-Go Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/mlx-go/mlx/types/shapes"
)

// buffer holds a shape and the flat data of a materialized array.
//
// flat is always a slice of the Go type matching shape.DType.
type buffer struct {
	shape shapes.Shape
	flat  any
}

// BufferAllocator hands out and recycles flat buffers. It is a process-wide
// singleton (see Allocator) and must be fully constructed before anything
// that caches arrays, the compiler cache included.
type BufferAllocator struct {
	// pools maps bufferPoolKey to *sync.Pool.
	pools sync.Map

	numAllocs  atomic.Int64
	bytesAlloc atomic.Int64
}

type bufferPoolKey struct {
	dtype  dtypes.DType
	length int
}

var allocatorOnce = sync.OnceValue(func() *BufferAllocator {
	return &BufferAllocator{}
})

// Allocator returns the process-wide buffer allocator, constructing it on
// first use.
func Allocator() *BufferAllocator {
	return allocatorOnce()
}

func (al *BufferAllocator) pool(dtype dtypes.DType, length int) *sync.Pool {
	key := bufferPoolKey{dtype: dtype, length: length}
	poolI, ok := al.pools.Load(key)
	if !ok {
		poolI, _ = al.pools.LoadOrStore(key, &sync.Pool{
			New: func() any {
				al.numAllocs.Add(1)
				al.bytesAlloc.Add(int64(dtype.Memory()) * int64(length))
				return &buffer{
					flat:  reflect.MakeSlice(reflect.SliceOf(dtype.GoType()), length, length).Interface(),
					shape: shapes.Make(dtype, length),
				}
			},
		})
	}
	return poolI.(*sync.Pool)
}

// getBuffer takes a buffer for the given dtype and element count from the
// pools. A recycled buffer keeps the shape of its previous use and a
// zero-length one has none; callers set the shape.
func (al *BufferAllocator) getBuffer(dtype dtypes.DType, length int) *buffer {
	if length == 0 {
		return &buffer{flat: reflect.MakeSlice(reflect.SliceOf(dtype.GoType()), 0, 0).Interface()}
	}
	return al.pool(dtype, length).Get().(*buffer)
}

// putBuffer returns a temporary buffer to the pools.
func (al *BufferAllocator) putBuffer(buf *buffer) {
	if buf == nil || buf.flat == nil {
		return
	}
	length := reflect.ValueOf(buf.flat).Len()
	if length == 0 {
		return
	}
	al.pool(buf.shape.DType, length).Put(buf)
}

// Stats returns a human-readable summary of the allocator activity.
func (al *BufferAllocator) Stats() string {
	return fmt.Sprintf("%s buffers allocated, %s",
		humanize.Comma(al.numAllocs.Load()),
		humanize.Bytes(uint64(al.bytesAlloc.Load())))
}

// reflectIndexAny returns flat[i] boxed as any, for any supported flat slice.
func reflectIndexAny(flat any, i int) any {
	return reflect.ValueOf(flat).Index(i).Interface()
}
