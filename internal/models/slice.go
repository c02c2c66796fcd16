package models

import (
	"image"
)

// Slice represents a single image of a numbered slice stack
type Slice struct {
	// Image is the decoded slice
	Image image.Image

	// Index is the number parsed from the filename, used for ordering
	Index int

	// Filename is the original filename of the slice
	Filename string

	// Position is the physical position of the slice along z
	Position float64
}

// Stack is an ordered set of slices sharing one footprint
type Stack struct {
	Slices []Slice

	// Width and Height are the in-plane dimensions shared by every slice
	Width  int
	Height int

	// SliceGap is the distance between consecutive slices, in units of the
	// in-plane pixel size
	SliceGap float64

	// Gray is true when every slice decodes to a grayscale color model
	Gray bool
}

// Depth returns the number of slices.
func (s *Stack) Depth() int { return len(s.Slices) }

// Size returns the voxel extent of the stack, x fastest.
func (s *Stack) Size() []int { return []int{s.Width, s.Height, len(s.Slices)} }

// Spacing returns the voxel spacing of the stack.
func (s *Stack) Spacing() []float64 { return []float64{1, 1, s.SliceGap} }
