// Package visualization exports diffused images and volume slices as image files.
package visualization

import (
	"fmt"
	"image"
	"path/filepath"
	"strings"

	"lbrdiffusion/internal/imageio"
	"lbrdiffusion/pkg/raster"
)

// Viewer renders 2D images and axis-aligned slices of 3D volumes.
type Viewer struct {
	// img holds the image or volume to render
	img *raster.Image

	// lo and hi map to black and white; values outside are clamped
	lo, hi float64
}

// NewViewer creates a viewer with the [0, 1] intensity window.
func NewViewer(img *raster.Image) *Viewer {
	return &Viewer{img: img, lo: 0, hi: 1}
}

// SetWindow changes the intensity window; hi must exceed lo.
func (v *Viewer) SetWindow(lo, hi float64) error {
	if !(hi > lo) {
		return fmt.Errorf("invalid window [%v, %v]", lo, hi)
	}
	v.lo, v.hi = lo, hi
	return nil
}

// Image renders a 2D image as a whole.
func (v *Viewer) Image() (image.Image, error) {
	return imageio.ToImage(v.img, v.lo, v.hi)
}

// axisIndex maps "x", "y", "z" to 0, 1, 2.
func axisIndex(axis string) (int, error) {
	switch strings.ToLower(axis) {
	case "x":
		return 0, nil
	case "y":
		return 1, nil
	case "z":
		return 2, nil
	}
	return 0, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
}

// ExtractSlice extracts a 2D slice from a 3D volume along the specified axis.
// An x slice is laid out (z, y), a y slice (x, z) and a z slice (x, y).
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	plane, err := v.Plane(axis, position)
	if err != nil {
		return nil, err
	}
	return imageio.ToImage(plane, v.lo, v.hi)
}

// Plane returns the raster slice behind ExtractSlice, keeping every channel.
func (v *Viewer) Plane(axis string, position int) (*raster.Image, error) {
	if v.img.Dim() != 3 {
		return nil, fmt.Errorf("%w: slices need a volume, got %d axes", raster.ErrUnsupportedDimension, v.img.Dim())
	}
	a, err := axisIndex(axis)
	if err != nil {
		return nil, err
	}
	if position < 0 || position >= v.img.Size[a] {
		return nil, fmt.Errorf("position %d outside [0, %d) along %s", position, v.img.Size[a], axis)
	}

	// Columns and rows of the output plane, as volume axes
	var cols, rows int
	switch a {
	case 0:
		cols, rows = 2, 1
	case 1:
		cols, rows = 0, 2
	default:
		cols, rows = 0, 1
	}

	w, h := v.img.Size[cols], v.img.Size[rows]
	k := v.img.Channels
	plane, err := raster.NewImage([]int{w, h}, k)
	if err != nil {
		return nil, err
	}
	plane.Spacing[0], plane.Spacing[1] = v.img.Spacing[cols], v.img.Spacing[rows]

	idx := make([]int, 3)
	idx[a] = position
	for r := 0; r < h; r++ {
		for c := 0; c < w; c++ {
			idx[cols], idx[rows] = c, r
			src := raster.Offset(v.img.Size, idx) * k
			copy(plane.Pix[(r*w+c)*k:(r*w+c+1)*k], v.img.Pix[src:src+k])
		}
	}
	return plane, nil
}

// SaveSlice saves an extracted slice; the format follows the file extension
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	return imageio.Save(filename, img)
}

// SaveSliceSequence extracts and saves every slice along the specified axis
// as slice_<axis>_<nnn>.<format> in outputDir.
func (v *Viewer) SaveSliceSequence(axis, outputDir, format string) (int, error) {
	a, err := axisIndex(axis)
	if err != nil {
		return 0, err
	}
	if v.img.Dim() != 3 {
		return 0, fmt.Errorf("%w: slices need a volume, got %d axes", raster.ErrUnsupportedDimension, v.img.Dim())
	}
	format = strings.TrimPrefix(strings.ToLower(format), ".")

	for pos := 0; pos < v.img.Size[a]; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return pos, err
		}
		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.%s", strings.ToLower(axis), pos, format))
		if err := v.SaveSlice(img, filename); err != nil {
			return pos, err
		}
	}
	return v.img.Size[a], nil
}
