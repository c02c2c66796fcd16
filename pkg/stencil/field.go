package stencil

import (
	"fmt"
	"sync/atomic"

	"gonum.org/v1/gonum/floats"

	"lbrdiffusion/internal/parallel"
	"lbrdiffusion/pkg/raster"
)

// Neighbor is a stencil slot: either the buffer index of a pixel inside the
// extent, or OutOfBounds.
type Neighbor struct {
	index int
	valid bool
}

// OutOfBounds marks a stencil slot whose target lies outside the extent.
// Such slots are dropped: they contribute neither to stepping nor to the
// diagonal, which yields a zero-flux boundary.
var OutOfBounds = Neighbor{}

// Valid returns a slot pointing at buffer index i.
func Valid(i int) Neighbor { return Neighbor{index: i, valid: true} }

// Index returns the target buffer index and whether the slot is valid.
func (n Neighbor) Index() (int, bool) { return n.index, n.valid }

// IsValid reports whether the slot targets a pixel inside the extent.
func (n Neighbor) IsValid() bool { return n.valid }

func (n Neighbor) String() string {
	if !n.valid {
		return "OutOfBounds"
	}
	return fmt.Sprintf("Valid(%d)", n.index)
}

// PixelStencil is the stencil of one pixel resolved against the extent.
// Slots 2k and 2k+1 hold x+e_k and x-e_k, both weighted by Coefficients[k].
type PixelStencil struct {
	Neighbors    [2 * MaxHalfSize]Neighbor
	Coefficients [MaxHalfSize]float64
}

// Entry is one off-diagonal term of the symmetric diffusion operator.
type Entry struct {
	Index  int
	Weight float64
}

// Field is the assembled stencil of a whole image. It is immutable once built.
type Field struct {
	Size     []int
	Spacing  []float64
	Pixels   []PixelStencil
	Diagonal []float64

	// NonConverged counts pixels whose reduction hit MaxIterations.
	NonConverged int

	rowStart []int
	entries  []Entry
}

// Dim returns the number of axes.
func (f *Field) Dim() int { return len(f.Size) }

// Len returns the number of pixels.
func (f *Field) Len() int { return len(f.Pixels) }

// HalfSize returns the number of offset pairs per pixel.
func (f *Field) HalfSize() int { return HalfSize(f.Dim()) }

// Row returns the off-diagonal terms incident to pixel p, gathered both from
// p's own stencil and from the stencils of pixels pointing at p.
func (f *Field) Row(p int) []Entry { return f.entries[f.rowStart[p]:f.rowStart[p+1]] }

// MaxDiagonal returns the largest diagonal coefficient.
func (f *Field) MaxDiagonal() float64 { return floats.Max(f.Diagonal) }

type options struct {
	workers int
}

// Option configures Assemble.
type Option func(*options)

// WithWorkers bounds the number of goroutines; <= 0 uses one per CPU.
func WithWorkers(n int) Option { return func(o *options) { o.workers = n } }

// Assemble builds the stencil of every pixel of tf on a grid with the given
// spacing and extent, then accumulates the diagonal field.
func Assemble(tf *raster.TensorField, spacing []float64, size []int, opts ...Option) (*Field, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	if err := tf.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFieldMismatch, err)
	}
	if !equalSize(tf.Size, size) {
		return nil, fmt.Errorf("%w: field %v, extent %v", ErrFieldMismatch, tf.Size, size)
	}
	d := len(size)
	if HalfSize(d) == 0 {
		return nil, fmt.Errorf("%w: %d axes", ErrUnsupportedDimension, d)
	}
	if len(spacing) != d {
		return nil, fmt.Errorf("%w: %d spacings for dimension %d", ErrSpacingMismatch, len(spacing), d)
	}
	if err := raster.CheckSpacing(spacing, d); err != nil {
		return nil, err
	}

	n := tf.Len()
	f := &Field{
		Size:     append([]int(nil), size...),
		Spacing:  append([]float64(nil), spacing...),
		Pixels:   make([]PixelStencil, n),
		Diagonal: make([]float64, n),
	}

	var nonConverged int64
	err := parallel.For(o.workers, n, func(start, end int) error {
		x := make([]int, d)
		y := make([]int, d)
		bad := int64(0)
		for p := start; p < end; p++ {
			s, err := BuildStencil(tf.At(p), spacing)
			if err != nil {
				return err
			}
			if !s.Converged {
				bad++
			}
			raster.Unravel(size, p, x)
			ps := &f.Pixels[p]
			for k := 0; k < s.HalfSize(); k++ {
				ps.Coefficients[k] = s.Coefficients[k]
				for orient := 0; orient < 2; orient++ {
					for a := 0; a < d; a++ {
						if orient == 0 {
							y[a] = x[a] + s.Offsets[k][a]
						} else {
							y[a] = x[a] - s.Offsets[k][a]
						}
					}
					if raster.Inside(size, y) {
						ps.Neighbors[2*k+orient] = Valid(raster.Offset(size, y))
					} else {
						ps.Neighbors[2*k+orient] = OutOfBounds
					}
				}
			}
		}
		atomic.AddInt64(&nonConverged, bad)
		return nil
	})
	if err != nil {
		return nil, err
	}
	f.NonConverged = int(nonConverged)

	f.buildRows()
	return f, nil
}

// buildRows accumulates the diagonal and converts the scatter pattern into
// per-pixel gather lists. Writes land on neighbor pixels, so both passes run
// serially; stepping then reads the rows without synchronization.
func (f *Field) buildRows() {
	n := len(f.Pixels)
	h := f.HalfSize()
	counts := make([]int, n+1)
	for p := range f.Pixels {
		ps := &f.Pixels[p]
		for slot := 0; slot < 2*h; slot++ {
			q, ok := ps.Neighbors[slot].Index()
			if !ok {
				continue
			}
			c := ps.Coefficients[slot/2]
			f.Diagonal[p] += c
			f.Diagonal[q] += c
			if c != 0 {
				counts[p]++
				counts[q]++
			}
		}
	}

	f.rowStart = make([]int, n+1)
	for p := 0; p < n; p++ {
		f.rowStart[p+1] = f.rowStart[p] + counts[p]
	}
	f.entries = make([]Entry, f.rowStart[n])
	next := counts[:n]
	copy(next, f.rowStart[:n])
	for p := range f.Pixels {
		ps := &f.Pixels[p]
		for slot := 0; slot < 2*h; slot++ {
			q, ok := ps.Neighbors[slot].Index()
			c := ps.Coefficients[slot/2]
			if !ok || c == 0 {
				continue
			}
			f.entries[next[p]] = Entry{Index: q, Weight: c}
			next[p]++
			f.entries[next[q]] = Entry{Index: p, Weight: c}
			next[q]++
		}
	}
}

func equalSize(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
