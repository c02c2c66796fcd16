package raster

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewImage(t *testing.T) {
	img, err := NewImage([]int{4, 3, 2}, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, img.Dim())
	assert.Equal(t, 24, img.Len())
	assert.Len(t, img.Pix, 48)
	assert.Equal(t, []float64{1, 1, 1}, img.Spacing)
	require.NoError(t, img.Validate())

	_, err = NewImage([]int{4}, 1)
	assert.ErrorIs(t, err, ErrUnsupportedDimension)
	_, err = NewImage([]int{4, 0}, 1)
	assert.ErrorIs(t, err, ErrInvalidSize)
	_, err = NewImage([]int{4, 4}, 0)
	assert.ErrorIs(t, err, ErrInvalidChannels)

	_, err = FromSlice([]int{2, 2}, 2, make([]float64, 7))
	assert.ErrorIs(t, err, ErrBufferSize)

	img.Spacing[2] = math.Inf(1)
	assert.ErrorIs(t, img.Validate(), ErrInvalidSpacing)
	img.Spacing[2] = 0
	assert.ErrorIs(t, img.Validate(), ErrInvalidSpacing)
}

func TestIndexing(t *testing.T) {
	size := []int{4, 3, 2}
	assert.Equal(t, []int{1, 4, 12}, Strides(size))
	assert.Equal(t, 3+4*2+12*1, Offset(size, []int{3, 2, 1}))

	idx := make([]int, 3)
	for off := 0; off < 24; off++ {
		Unravel(size, off, idx)
		assert.Equal(t, off, Offset(size, idx))
		assert.True(t, Inside(size, idx))
	}
	assert.False(t, Inside(size, []int{4, 0, 0}))
	assert.False(t, Inside(size, []int{0, -1, 0}))
}

func TestImageAccess(t *testing.T) {
	img, err := FromSlice([]int{2, 2}, 2, []float64{0, 1, 2, 3, 4, 5, 6, 7})
	require.NoError(t, err)
	assert.Equal(t, 5.0, img.At([]int{0, 1}, 1))

	img.Set([]int{1, 1}, 0, 9)
	assert.Equal(t, []float64{0, 1, 2, 3, 4, 5, 9, 7}, img.Pix)

	clone := img.Clone()
	clone.Pix[0] = -1
	clone.Spacing[0] = 3
	assert.Equal(t, 0.0, img.Pix[0])
	assert.Equal(t, 1.0, img.Spacing[0])

	like := img.NewLike()
	assert.Equal(t, img.Size, like.Size)
	assert.Equal(t, make([]float64, 8), like.Pix)
}

func TestSymTensor(t *testing.T) {
	m := SymTensor{1, 2, 3, 4, 5, 6}
	assert.Equal(t, 3, m.Dim())
	assert.Equal(t, 3.0, m.At(2, 0))
	assert.Equal(t, 5.0, m.At(2, 1))
	assert.Equal(t, 6.0, m.At(2, 2))
	assert.Equal(t, 11.0, m.Trace())

	// <M e0, e1> picks the xy component.
	assert.Equal(t, 2.0, m.Dot([]float64{1, 0, 0}, []float64{0, 1, 0}))
	assert.Equal(t, 1.0+4+6+2*(2+3+5), m.Dot([]float64{1, 1, 1}, []float64{1, 1, 1}))

	id := Identity(2, 2)
	assert.Equal(t, SymTensor{2, 0, 2}, id)
	id.Set(1, 0, 0.5)
	assert.Equal(t, 0.5, id.At(0, 1))

	assert.Equal(t, 0, SymTensor{1, 2}.Dim())
}

func TestTensorField(t *testing.T) {
	f, err := NewTensorField([]int{3, 2}, []float64{1, 0.5})
	require.NoError(t, err)
	assert.Equal(t, 3, f.Components())
	f.Fill(SymTensor{1, 0, 2})
	assert.Equal(t, SymTensor{1, 0, 2}, f.At(5))

	// At aliases the storage.
	f.At(0)[1] = 0.25
	assert.Equal(t, 0.25, f.Data[1])

	require.NoError(t, f.Validate())

	f.Data = f.Data[:4]
	assert.ErrorIs(t, f.Validate(), ErrBufferSize)

	_, err = NewTensorField([]int{3, 2}, []float64{1})
	assert.ErrorIs(t, err, ErrInvalidSpacing)
}
