// Package stencil turns symmetric diffusion tensors into sparse,
// nonnegative finite-difference stencils by lattice basis reduction
// (Selling's algorithm), and assembles them over a whole image.
//
// A stencil with offsets e_k and coefficients c_k stands for the operator
//
//	u ↦ Σ_k c_k (u(x+e_k) + u(x-e_k) - 2u(x))
//
// counted once from each endpoint, so that 2 Σ_k c_k e_k e_kᵀ equals the
// tensor expressed in unit pixel spacing.
package stencil

import (
	"errors"
	"fmt"
	"math"

	"lbrdiffusion/pkg/raster"
)

var (
	// ErrUnsupportedDimension indicates a tensor that is neither 2×2 nor 3×3.
	ErrUnsupportedDimension = errors.New("stencil: only 2D and 3D tensors are supported")
	// ErrSpacingMismatch indicates a spacing vector whose length differs from the tensor dimension.
	ErrSpacingMismatch = errors.New("stencil: spacing does not match tensor dimension")
	// ErrFieldMismatch indicates a tensor field inconsistent with the requested extent.
	ErrFieldMismatch = errors.New("stencil: tensor field does not match extent")
	// ErrNonFiniteTensor indicates a tensor with a NaN or infinite component.
	ErrNonFiniteTensor = errors.New("stencil: tensor components must be finite")
)

// MaxHalfSize is the largest number of offset pairs, reached in 3D.
const MaxHalfSize = 6

// HalfSize returns the number of ± offset pairs for dimension d.
func HalfSize(d int) int {
	switch d {
	case 2:
		return 3
	case 3:
		return 6
	}
	return 0
}

// Offset is an integer displacement on the pixel grid.
type Offset [3]int

// Stencil is the reduced stencil of a single tensor.
type Stencil struct {
	Dim          int
	Offsets      [MaxHalfSize]Offset
	Coefficients [MaxHalfSize]float64

	// Converged is false when Selling's algorithm ran out of iterations; the
	// coefficients may then be negative.
	Converged  bool
	Iterations int
}

// HalfSize returns the number of used offset pairs.
func (s *Stencil) HalfSize() int { return HalfSize(s.Dim) }

// BuildStencil reduces tensor, given in physical units, on a grid with the
// given spacing. The tensor is first rescaled to unit spacing,
// D'(i,j) = D(i,j)/spacing[i]/spacing[j].
func BuildStencil(tensor raster.SymTensor, spacing []float64) (Stencil, error) {
	d := tensor.Dim()
	if d != 2 && d != 3 {
		return Stencil{}, fmt.Errorf("%w: %d components", ErrUnsupportedDimension, len(tensor))
	}
	if len(spacing) != d {
		return Stencil{}, fmt.Errorf("%w: %d spacings for dimension %d", ErrSpacingMismatch, len(spacing), d)
	}
	for _, v := range tensor {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Stencil{}, fmt.Errorf("%w: %v", ErrNonFiniteTensor, tensor)
		}
	}

	var buf [6]float64
	scaled := raster.SymTensor(buf[:len(tensor)])
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			scaled.Set(i, j, tensor.At(i, j)/spacing[i]/spacing[j])
		}
	}
	return Reduce(scaled), nil
}

// Reduce builds the stencil of a tensor already expressed in unit spacing.
// It panics if a converged reduction yields a negative coefficient.
func Reduce(t raster.SymTensor) Stencil {
	d := t.Dim()
	sb := NewSuperbase(d)
	iterations, converged := sb.Reduce(t)

	s := Stencil{Dim: d, Converged: converged, Iterations: iterations}
	switch d {
	case 2:
		fromSuperbase2(&s, &sb, t)
	case 3:
		fromSuperbase3(&s, &sb, t)
	}

	if converged {
		for k := 0; k < s.HalfSize(); k++ {
			if s.Coefficients[k] < 0 {
				panic(fmt.Sprintf("stencil: negative coefficient %g from obtuse superbase %v", s.Coefficients[k], sb.V))
			}
		}
	}
	return s
}

// fromSuperbase2: each offset is the superbase vector rotated by 90°, weighted
// by the scalar product of the two other vectors.
func fromSuperbase2(s *Stencil, sb *Superbase, t raster.SymTensor) {
	for i := 0; i < 3; i++ {
		s.Coefficients[i] = -0.5 * sb.Dot(t, (i+1)%3, (i+2)%3)
		s.Offsets[i] = Offset{-sb.V[i][1], sb.V[i][0], 0}
	}
}

// fromSuperbase3: the primary offsets are the cross products b_{i+1}×b_{i+2}
// (the comatrix of b_0..b_2), paired with the weight of (b_i, b_3); the three
// others are their pairwise differences, paired with the remaining weights.
func fromSuperbase3(s *Stencil, sb *Superbase, t raster.SymTensor) {
	b := &sb.V
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			s.Offsets[i][j] = b[(i+1)%3][(j+1)%3]*b[(i+2)%3][(j+2)%3] -
				b[(i+2)%3][(j+1)%3]*b[(i+1)%3][(j+2)%3]
		}
	}
	s.Offsets[3] = Offset(sub(Vector(s.Offsets[0]), Vector(s.Offsets[1])))
	s.Offsets[4] = Offset(sub(Vector(s.Offsets[0]), Vector(s.Offsets[2])))
	s.Offsets[5] = Offset(sub(Vector(s.Offsets[1]), Vector(s.Offsets[2])))

	for i := 0; i < 3; i++ {
		s.Coefficients[i] = -0.5 * sb.Dot(t, i, 3)
	}
	s.Coefficients[3] = -0.5 * sb.Dot(t, 0, 1)
	s.Coefficients[4] = -0.5 * sb.Dot(t, 0, 2)
	s.Coefficients[5] = -0.5 * sb.Dot(t, 1, 2)
}
