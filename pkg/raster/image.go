// Package raster holds the dense image and tensor containers shared by the
// diffusion stages. Buffers are flat and x-fastest: the pixel at index
// (x0, x1, ..., xD-1) lives at offset x0 + size0*(x1 + size1*(x2 ...)).
package raster

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrUnsupportedDimension indicates an image that is neither 2D nor 3D.
	ErrUnsupportedDimension = errors.New("raster: only 2D and 3D images are supported")
	// ErrInvalidSize indicates a non-positive extent along some axis.
	ErrInvalidSize = errors.New("raster: every axis must have a positive size")
	// ErrInvalidSpacing indicates a non-positive or non-finite spacing.
	ErrInvalidSpacing = errors.New("raster: spacing must be finite and positive")
	// ErrInvalidChannels indicates a pixel with no channel.
	ErrInvalidChannels = errors.New("raster: channel count must be positive")
	// ErrBufferSize indicates a pixel buffer whose length does not match the extent.
	ErrBufferSize = errors.New("raster: buffer length does not match extent")
)

// Image is a dense 2D or 3D raster with K independent scalar channels per pixel.
type Image struct {
	// Size is the number of pixels along each axis.
	Size []int

	// Spacing is the physical distance between pixel centers along each axis.
	Spacing []float64

	// Channels is the number of scalar components per pixel (1 for scalar images).
	Channels int

	// Pix holds Len()*Channels values, channels interleaved.
	Pix []float64
}

// NewImage allocates a zero image with unit spacing.
func NewImage(size []int, channels int) (*Image, error) {
	if err := checkExtent(size); err != nil {
		return nil, err
	}
	if channels <= 0 {
		return nil, ErrInvalidChannels
	}

	spacing := make([]float64, len(size))
	for i := range spacing {
		spacing[i] = 1
	}

	img := &Image{
		Size:     append([]int(nil), size...),
		Spacing:  spacing,
		Channels: channels,
	}
	img.Pix = make([]float64, img.Len()*channels)
	return img, nil
}

// FromSlice wraps an existing buffer, validating its length against the extent.
func FromSlice(size []int, channels int, pix []float64) (*Image, error) {
	img, err := NewImage(size, 1)
	if err != nil {
		return nil, err
	}
	if channels <= 0 {
		return nil, ErrInvalidChannels
	}
	if len(pix) != img.Len()*channels {
		return nil, fmt.Errorf("%w: got %d values, want %d", ErrBufferSize, len(pix), img.Len()*channels)
	}
	img.Channels = channels
	img.Pix = pix
	return img, nil
}

// Dim returns the number of axes.
func (m *Image) Dim() int { return len(m.Size) }

// Len returns the number of pixels.
func (m *Image) Len() int { return count(m.Size) }

// Validate reports whether the image is internally consistent.
func (m *Image) Validate() error {
	if err := checkExtent(m.Size); err != nil {
		return err
	}
	if err := CheckSpacing(m.Spacing, len(m.Size)); err != nil {
		return err
	}
	if m.Channels <= 0 {
		return ErrInvalidChannels
	}
	if len(m.Pix) != m.Len()*m.Channels {
		return fmt.Errorf("%w: got %d values, want %d", ErrBufferSize, len(m.Pix), m.Len()*m.Channels)
	}
	return nil
}

// Clone returns a deep copy.
func (m *Image) Clone() *Image {
	return &Image{
		Size:     append([]int(nil), m.Size...),
		Spacing:  append([]float64(nil), m.Spacing...),
		Channels: m.Channels,
		Pix:      append([]float64(nil), m.Pix...),
	}
}

// NewLike allocates a zero image with the same extent, spacing and channel count.
func (m *Image) NewLike() *Image {
	return &Image{
		Size:     append([]int(nil), m.Size...),
		Spacing:  append([]float64(nil), m.Spacing...),
		Channels: m.Channels,
		Pix:      make([]float64, len(m.Pix)),
	}
}

// At returns channel c of the pixel at idx.
func (m *Image) At(idx []int, c int) float64 {
	return m.Pix[Offset(m.Size, idx)*m.Channels+c]
}

// Set stores v in channel c of the pixel at idx.
func (m *Image) Set(idx []int, c int, v float64) {
	m.Pix[Offset(m.Size, idx)*m.Channels+c] = v
}

// CheckSpacing validates a spacing vector for a d-dimensional image.
func CheckSpacing(spacing []float64, d int) error {
	if len(spacing) != d {
		return fmt.Errorf("%w: %d values for %d axes", ErrInvalidSpacing, len(spacing), d)
	}
	for _, s := range spacing {
		if !(s > 0) || math.IsInf(s, 0) {
			return fmt.Errorf("%w: %v", ErrInvalidSpacing, s)
		}
	}
	return nil
}

func checkExtent(size []int) error {
	if len(size) != 2 && len(size) != 3 {
		return fmt.Errorf("%w: got %d axes", ErrUnsupportedDimension, len(size))
	}
	for _, n := range size {
		if n <= 0 {
			return fmt.Errorf("%w: %v", ErrInvalidSize, size)
		}
	}
	return nil
}

func count(size []int) int {
	n := 1
	for _, s := range size {
		n *= s
	}
	return n
}
