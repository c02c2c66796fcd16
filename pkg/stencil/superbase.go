package stencil

import "lbrdiffusion/pkg/raster"

// MaxIterations bounds Selling's algorithm. Tensors needing more are extremely
// anisotropic; the last superbase is used as is.
const MaxIterations = 200

// Vector is an integer lattice vector; only the first Dim entries are used.
type Vector [3]int

// Superbase holds Dim+1 lattice vectors summing to zero, of determinant ±1.
type Superbase struct {
	Dim int
	V   [4]Vector
}

// NewSuperbase returns the canonical superbase (e_0, ..., e_{d-1}, -Σe_i).
func NewSuperbase(d int) Superbase {
	sb := Superbase{Dim: d}
	for i := 0; i < d; i++ {
		sb.V[i][i] = 1
		sb.V[d][i] = -1
	}
	return sb
}

// Dot returns <t·b_i, b_j>.
func (sb *Superbase) Dot(t raster.SymTensor, i, j int) float64 {
	var u, v [3]float64
	for a := 0; a < sb.Dim; a++ {
		u[a], v[a] = float64(sb.V[i][a]), float64(sb.V[j][a])
	}
	return t.Dot(u[:sb.Dim], v[:sb.Dim])
}

// acute returns the first pair (i, j), j < i, with a positive scalar product.
func (sb *Superbase) acute(t raster.SymTensor) (int, int, bool) {
	for i := 1; i <= sb.Dim; i++ {
		for j := 0; j < i; j++ {
			if sb.Dot(t, i, j) > 0 {
				return i, j, true
			}
		}
	}
	return 0, 0, false
}

// flip replaces the superbase so that it keeps summing to zero and contains
// the difference of the acute pair (i, j).
func (sb *Superbase) flip(i, j int) {
	u, v := sb.V[i], sb.V[j]
	switch sb.Dim {
	case 2:
		sb.V[0] = sub(v, u)
		sb.V[1] = u
		sb.V[2] = neg(v)
	case 3:
		var next [4]Vector
		l := 0
		for k := 0; k <= 3; k++ {
			if k != i && k != j {
				next[l] = add(sb.V[k], u)
				l++
			}
		}
		next[2] = neg(u)
		next[3] = v
		sb.V = next
	}
}

// Obtuse reports whether every pairwise scalar product is non-positive.
func (sb *Superbase) Obtuse(t raster.SymTensor) bool {
	_, _, found := sb.acute(t)
	return !found
}

// Reduce runs Selling's algorithm for t, returning the number of flips made
// and whether an obtuse superbase was reached within MaxIterations.
func (sb *Superbase) Reduce(t raster.SymTensor) (int, bool) {
	for iter := 0; iter < MaxIterations; iter++ {
		i, j, found := sb.acute(t)
		if !found {
			return iter, true
		}
		sb.flip(i, j)
	}
	return MaxIterations, sb.Obtuse(t)
}

func add(a, b Vector) Vector { return Vector{a[0] + b[0], a[1] + b[1], a[2] + b[2]} }
func sub(a, b Vector) Vector { return Vector{a[0] - b[0], a[1] - b[1], a[2] - b[2]} }
func neg(a Vector) Vector    { return Vector{-a[0], -a[1], -a[2]} }
