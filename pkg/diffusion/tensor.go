package diffusion

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"lbrdiffusion/internal/parallel"
	"lbrdiffusion/pkg/raster"
)

// ErrEigenDecomposition indicates a tensor that could not be diagonalized,
// typically because it holds NaN or Inf components.
var ErrEigenDecomposition = errors.New("diffusion: eigen-decomposition failed")

// DiffusionTensors maps every structure tensor of st through transform and
// returns the resulting diffusion tensor field. Each output tensor keeps the
// eigenvectors of its input; only the eigenvalues change.
func DiffusionTensors(st *raster.TensorField, transform EigenTransform, workers int) (*raster.TensorField, error) {
	if err := st.Validate(); err != nil {
		return nil, err
	}
	out, err := raster.NewTensorField(st.Size, st.Spacing)
	if err != nil {
		return nil, err
	}
	d := st.Dim()
	err = parallel.For(workers, st.Len(), func(start, end int) error {
		sym := mat.NewSymDense(d, nil)
		var es mat.EigenSym
		var vecs mat.Dense
		values := make([]float64, d)
		sorted := make([]float64, d)
		order := make([]int, d)
		for p := start; p < end; p++ {
			in := st.At(p)
			for _, v := range in {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					return fmt.Errorf("%w: pixel %d has component %v", ErrEigenDecomposition, p, v)
				}
			}
			for i := 0; i < d; i++ {
				for j := i; j < d; j++ {
					sym.SetSym(i, j, in.At(i, j))
				}
			}
			if ok := es.Factorize(sym, true); !ok {
				return fmt.Errorf("%w: pixel %d", ErrEigenDecomposition, p)
			}
			es.Values(values)
			es.VectorsTo(&vecs)

			copy(sorted, values)
			floats.Argsort(sorted, order)
			transform.Apply(sorted, sorted)

			// sorted[r] now belongs to eigenvector column order[r].
			t := out.At(p)
			for i := 0; i < d; i++ {
				for j := i; j < d; j++ {
					v := 0.0
					for r := 0; r < d; r++ {
						col := order[r]
						v += sorted[r] * vecs.At(i, col) * vecs.At(j, col)
					}
					t.Set(i, j, v)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
