package visualization

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"testing"

	"lbrdiffusion/pkg/raster"
)

// newVolume creates a one-channel volume filled by value(x, y, z)
func newVolume(t *testing.T, width, height, depth int, value func(x, y, z int) float64) *raster.Image {
	t.Helper()
	vol, err := raster.NewImage([]int{width, height, depth}, 1)
	if err != nil {
		t.Fatalf("Failed to create volume: %v", err)
	}
	for z := 0; z < depth; z++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				vol.Pix[z*width*height+y*width+x] = value(x, y, z)
			}
		}
	}
	return vol
}

// TestExtractSlice verifies that slices are correctly extracted from the volume
func TestExtractSlice(t *testing.T) {
	width, height, depth := 10, 8, 5

	// Each slice along Z has a unique value
	vol := newVolume(t, width, height, depth, func(x, y, z int) float64 {
		return float64(z) / float64(depth)
	})
	viewer := NewViewer(vol)

	for z := 0; z < depth; z++ {
		img, err := viewer.ExtractSlice("z", z)
		if err != nil {
			t.Fatalf("Failed to extract Z slice at position %d: %v", z, err)
		}

		bounds := img.Bounds()
		if bounds.Dx() != width || bounds.Dy() != height {
			t.Errorf("Expected Z slice dimensions %dx%d, got %dx%d",
				width, height, bounds.Dx(), bounds.Dy())
		}

		gray16Img, ok := img.(*image.Gray16)
		if !ok {
			t.Fatalf("Expected *image.Gray16, got %T", img)
		}
		expected := uint16(float64(z)/float64(depth)*65535 + 0.5)
		if got := gray16Img.Gray16At(width/2, height/2).Y; got != expected {
			t.Errorf("Expected Z slice value %d at center, got %d", expected, got)
		}
	}

	imgX, err := viewer.ExtractSlice("x", width/2)
	if err != nil {
		t.Fatalf("Failed to extract X slice: %v", err)
	}
	if b := imgX.Bounds(); b.Dx() != depth || b.Dy() != height {
		t.Errorf("Expected X slice dimensions %dx%d, got %dx%d", depth, height, b.Dx(), b.Dy())
	}

	imgY, err := viewer.ExtractSlice("Y", height/2)
	if err != nil {
		t.Fatalf("Failed to extract Y slice: %v", err)
	}
	if b := imgY.Bounds(); b.Dx() != width || b.Dy() != depth {
		t.Errorf("Expected Y slice dimensions %dx%d, got %dx%d", width, depth, b.Dx(), b.Dy())
	}

	if _, err := viewer.ExtractSlice("invalid", 0); err == nil {
		t.Error("Expected error for invalid axis, got nil")
	}
	if _, err := viewer.ExtractSlice("z", depth+1); err == nil {
		t.Error("Expected error for out of bounds position, got nil")
	}
	if _, err := viewer.ExtractSlice("z", -1); err == nil {
		t.Error("Expected error for negative position, got nil")
	}
}

// TestPlaneLayout verifies the axis order of every slice orientation
func TestPlaneLayout(t *testing.T) {
	width, height, depth := 4, 3, 2
	vol := newVolume(t, width, height, depth, func(x, y, z int) float64 {
		return float64(100*z + 10*y + x)
	})
	vol.Spacing = []float64{1, 2, 3}
	viewer := NewViewer(vol)

	cases := []struct {
		axis     string
		position int
		col, row int
		want     float64
		spacing  [2]float64
	}{
		{"z", 1, 3, 2, 123, [2]float64{1, 2}},
		{"y", 2, 1, 1, 121, [2]float64{1, 3}},
		{"x", 3, 1, 2, 123, [2]float64{3, 2}},
	}
	for _, tc := range cases {
		plane, err := viewer.Plane(tc.axis, tc.position)
		if err != nil {
			t.Fatalf("Plane(%s, %d): %v", tc.axis, tc.position, err)
		}
		if got := plane.At([]int{tc.col, tc.row}, 0); got != tc.want {
			t.Errorf("Plane(%s, %d) at (%d,%d) = %v, want %v", tc.axis, tc.position, tc.col, tc.row, got, tc.want)
		}
		if plane.Spacing[0] != tc.spacing[0] || plane.Spacing[1] != tc.spacing[1] {
			t.Errorf("Plane(%s) spacing %v, want %v", tc.axis, plane.Spacing, tc.spacing)
		}
	}
}

// TestImage verifies 2D rendering and the intensity window
func TestImage(t *testing.T) {
	img, err := raster.FromSlice([]int{2, 1}, 1, []float64{10, 20})
	if err != nil {
		t.Fatal(err)
	}
	viewer := NewViewer(img)
	if err := viewer.SetWindow(10, 20); err != nil {
		t.Fatal(err)
	}
	out, err := viewer.Image()
	if err != nil {
		t.Fatal(err)
	}
	g := out.(*image.Gray16)
	if g.Gray16At(0, 0).Y != 0 || g.Gray16At(1, 0).Y != 65535 {
		t.Errorf("Unexpected window mapping: %d, %d", g.Gray16At(0, 0).Y, g.Gray16At(1, 0).Y)
	}

	if err := viewer.SetWindow(1, 1); err == nil {
		t.Error("Expected error for empty window, got nil")
	}
	if _, err := viewer.ExtractSlice("z", 0); err == nil {
		t.Error("Expected error for slicing a 2D image, got nil")
	}
}

// TestSaveSliceSequence verifies that a sequence of slices can be saved
func TestSaveSliceSequence(t *testing.T) {
	// Skip this test in short mode
	if testing.Short() {
		t.Skip("Skipping file I/O test in short mode")
	}

	tempDir := t.TempDir()
	width, height, depth := 5, 5, 3
	vol := newVolume(t, width, height, depth, func(x, y, z int) float64 { return 0.5 })
	viewer := NewViewer(vol)

	outputDir := filepath.Join(tempDir, "slices")
	for _, format := range []string{"png", ".jpg"} {
		n, err := viewer.SaveSliceSequence("z", outputDir, format)
		if err != nil {
			t.Fatalf("Failed to save slice sequence: %v", err)
		}
		if n != depth {
			t.Errorf("Expected %d slices, saved %d", depth, n)
		}
	}

	for z := 0; z < depth; z++ {
		for _, ext := range []string{"png", "jpg"} {
			filename := filepath.Join(outputDir, fmt.Sprintf("slice_z_%03d.%s", z, ext))
			if _, err := os.Stat(filename); os.IsNotExist(err) {
				t.Errorf("Expected slice file does not exist: %s", filename)
			}
		}
	}

	if _, err := viewer.SaveSliceSequence("invalid", outputDir, "png"); err == nil {
		t.Error("Expected error for invalid axis, got nil")
	}
	if _, err := viewer.SaveSliceSequence("x", outputDir, "gif"); err == nil {
		t.Error("Expected error for unsupported format, got nil")
	}
}
