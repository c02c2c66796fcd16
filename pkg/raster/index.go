package raster

// Strides returns the buffer stride of each axis; axis 0 varies fastest.
func Strides(size []int) []int {
	strides := make([]int, len(size))
	s := 1
	for i, n := range size {
		strides[i] = s
		s *= n
	}
	return strides
}

// Offset returns the buffer index of idx. idx must lie inside the extent.
func Offset(size []int, idx []int) int {
	off := 0
	s := 1
	for i, n := range size {
		off += idx[i] * s
		s *= n
	}
	return off
}

// Unravel writes the multi-index of buffer offset off into idx.
func Unravel(size []int, off int, idx []int) {
	for i, n := range size {
		idx[i] = off % n
		off /= n
	}
}

// Inside reports whether idx lies within [0, size) along every axis.
func Inside(size []int, idx []int) bool {
	for i, n := range size {
		if idx[i] < 0 || idx[i] >= n {
			return false
		}
	}
	return true
}
