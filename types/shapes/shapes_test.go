// Copyright 2024-2026 The MLX-Go Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMake(t *testing.T) {
	s := Make(dtypes.Float32, 2, 3)
	assert.Equal(t, dtypes.Float32, s.DType)
	assert.Equal(t, []int{2, 3}, s.Dimensions)
	assert.Equal(t, 2, s.Rank())
	assert.Equal(t, 6, s.Size())
	assert.Equal(t, "(Float32)[2 3]", s.String())

	// Zero or negative dimensions panic.
	e := exceptions.Try(func() { Make(dtypes.Float32, 2, 0) })
	require.NotNil(t, e)
}

func TestScalar(t *testing.T) {
	s := Scalar[float64]()
	assert.True(t, s.IsScalar())
	assert.Equal(t, 0, s.Rank())
	assert.Equal(t, 1, s.Size())
	assert.Equal(t, dtypes.Float64, s.DType)
}

func TestDim(t *testing.T) {
	s := Make(dtypes.Int32, 4, 5, 6)
	assert.Equal(t, 4, s.Dim(0))
	assert.Equal(t, 6, s.Dim(-1))
	assert.Equal(t, 5, s.Dim(-2))
	e := exceptions.Try(func() { s.Dim(3) })
	require.NotNil(t, e)
}

func TestEqual(t *testing.T) {
	assert.True(t, Make(dtypes.Float32, 2, 3).Equal(Make(dtypes.Float32, 2, 3)))
	assert.False(t, Make(dtypes.Float32, 2, 3).Equal(Make(dtypes.Float64, 2, 3)))
	assert.False(t, Make(dtypes.Float32, 2, 3).Equal(Make(dtypes.Float32, 3, 2)))
	assert.True(t, Make(dtypes.Float32, 2, 3).EqualDimensions(Make(dtypes.Int64, 2, 3)))
	assert.False(t, Invalid().Ok())
	assert.True(t, Scalar[int32]().Ok())
}

func TestCloneIsDeep(t *testing.T) {
	s := Make(dtypes.Float32, 2, 3)
	c := s.Clone()
	c.Dimensions[0] = 7
	assert.Equal(t, 2, s.Dimensions[0])
}
