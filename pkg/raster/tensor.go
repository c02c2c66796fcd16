package raster

import "fmt"

// SymTensor is a symmetric D×D tensor stored as its upper triangle, row by row:
// (xx, xy, yy) in 2D and (xx, xy, xz, yy, yz, zz) in 3D.
type SymTensor []float64

// ComponentCount returns D(D+1)/2.
func ComponentCount(d int) int { return d * (d + 1) / 2 }

// NewSymTensor returns a zero tensor of dimension d.
func NewSymTensor(d int) SymTensor { return make(SymTensor, ComponentCount(d)) }

// Identity returns k times the d×d identity.
func Identity(d int, k float64) SymTensor {
	t := NewSymTensor(d)
	for i := 0; i < d; i++ {
		t.Set(i, i, k)
	}
	return t
}

// Dim returns the tensor dimension, or 0 for an unsupported component count.
func (t SymTensor) Dim() int {
	switch len(t) {
	case 1:
		return 1
	case 3:
		return 2
	case 6:
		return 3
	}
	return 0
}

// At returns component (i, j).
func (t SymTensor) At(i, j int) float64 { return t[symIndex(t.Dim(), i, j)] }

// Set stores v at (i, j) and (j, i).
func (t SymTensor) Set(i, j int, v float64) { t[symIndex(t.Dim(), i, j)] = v }

// Trace returns the sum of the diagonal components.
func (t SymTensor) Trace() float64 {
	d := t.Dim()
	s := 0.0
	for i := 0; i < d; i++ {
		s += t.At(i, i)
	}
	return s
}

// Dot returns the bilinear form <T·u, v>.
func (t SymTensor) Dot(u, v []float64) float64 {
	d := t.Dim()
	r := 0.0
	for i := 0; i < d; i++ {
		r += t.At(i, i) * u[i] * v[i]
		for j := i + 1; j < d; j++ {
			r += t.At(i, j) * (u[i]*v[j] + u[j]*v[i])
		}
	}
	return r
}

func symIndex(d, i, j int) int {
	if i > j {
		i, j = j, i
	}
	// Row i of the upper triangle starts after rows 0..i-1, of lengths d, d-1, ...
	return i*d - i*(i-1)/2 + (j - i)
}

// TensorField holds one symmetric tensor per pixel of a D-dimensional extent.
type TensorField struct {
	Size    []int
	Spacing []float64
	Data    []float64
}

// NewTensorField allocates a zero tensor field over size with the given spacing.
func NewTensorField(size []int, spacing []float64) (*TensorField, error) {
	if err := checkExtent(size); err != nil {
		return nil, err
	}
	if err := CheckSpacing(spacing, len(size)); err != nil {
		return nil, err
	}
	return &TensorField{
		Size:    append([]int(nil), size...),
		Spacing: append([]float64(nil), spacing...),
		Data:    make([]float64, count(size)*ComponentCount(len(size))),
	}, nil
}

// Dim returns the number of axes.
func (f *TensorField) Dim() int { return len(f.Size) }

// Len returns the number of pixels.
func (f *TensorField) Len() int { return count(f.Size) }

// Components returns the number of stored components per pixel.
func (f *TensorField) Components() int { return ComponentCount(len(f.Size)) }

// At returns the tensor of pixel p. The result aliases the field's storage.
func (f *TensorField) At(p int) SymTensor {
	c := f.Components()
	return SymTensor(f.Data[p*c : (p+1)*c : (p+1)*c])
}

// Fill sets every pixel to t.
func (f *TensorField) Fill(t SymTensor) {
	c := f.Components()
	for p := 0; p < f.Len(); p++ {
		copy(f.Data[p*c:(p+1)*c], t)
	}
}

// Validate reports whether the field is consistent with its extent.
func (f *TensorField) Validate() error {
	if err := checkExtent(f.Size); err != nil {
		return err
	}
	if want := f.Len() * f.Components(); len(f.Data) != want {
		return fmt.Errorf("%w: got %d tensor components, want %d", ErrBufferSize, len(f.Data), want)
	}
	return nil
}
