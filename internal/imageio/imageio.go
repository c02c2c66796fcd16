// Package imageio converts between image files and raster images. Sample
// values are mapped to [0, 1].
package imageio

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"lbrdiffusion/internal/models"
	"lbrdiffusion/pkg/raster"
)

var (
	// ErrNoImages indicates a slice directory without any decodable file.
	ErrNoImages = errors.New("imageio: no images found")
	// ErrSizeMismatch indicates slices of differing footprints.
	ErrSizeMismatch = errors.New("imageio: slices differ in size")
	// ErrUnsupportedFormat indicates an output extension without an encoder.
	ErrUnsupportedFormat = errors.New("imageio: unsupported image format")
	// ErrUnsupportedChannels indicates a raster that cannot be encoded as gray or RGB.
	ErrUnsupportedChannels = errors.New("imageio: only 1 or 3 channel images can be encoded")
)

// Extensions lists the file extensions LoadStack picks up.
var Extensions = []string{".png", ".jpg", ".jpeg", ".tif", ".tiff", ".bmp"}

// Load decodes a 2D image file. Color images yield 3 channels unless
// grayscale is set or the file is already gray.
func Load(path string, grayscale bool) (*raster.Image, error) {
	img, err := loadImage(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load image %s: %w", path, err)
	}
	return FromImage(img, grayscale || IsGray(img)), nil
}

// LoadStack loads every image of dir, ordered by the number in its filename,
// into a volume with spacing (1, 1, sliceGap).
func LoadStack(dir string, sliceGap float64, grayscale bool) (*raster.Image, *models.Stack, error) {
	if !(sliceGap > 0) {
		return nil, nil, fmt.Errorf("imageio: slice gap must be positive, got %v", sliceGap)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if hasExtension(e.Name()) {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, nil, fmt.Errorf("%w in %s", ErrNoImages, dir)
	}

	// Order by slice number; names without digits sort first, ties by name
	sort.Slice(names, func(i, j int) bool {
		ni, nj := ExtractNumber(names[i]), ExtractNumber(names[j])
		if ni != nj {
			return ni < nj
		}
		return names[i] < names[j]
	})

	stack := &models.Stack{SliceGap: sliceGap, Gray: true}
	for i, name := range names {
		img, err := loadImage(filepath.Join(dir, name))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load image %s: %w", name, err)
		}
		b := img.Bounds()
		if i == 0 {
			stack.Width, stack.Height = b.Dx(), b.Dy()
		} else if b.Dx() != stack.Width || b.Dy() != stack.Height {
			return nil, nil, fmt.Errorf("%w: %s is %dx%d, expected %dx%d",
				ErrSizeMismatch, name, b.Dx(), b.Dy(), stack.Width, stack.Height)
		}
		stack.Gray = stack.Gray && IsGray(img)
		stack.Slices = append(stack.Slices, models.Slice{
			Image:    img,
			Index:    ExtractNumber(name),
			Filename: name,
			Position: float64(i) * sliceGap,
		})
	}

	gray := grayscale || stack.Gray
	channels := 3
	if gray {
		channels = 1
	}
	vol, err := raster.NewImage(stack.Size(), channels)
	if err != nil {
		return nil, nil, err
	}
	copy(vol.Spacing, stack.Spacing())
	plane := stack.Width * stack.Height * channels
	for z, s := range stack.Slices {
		copy(vol.Pix[z*plane:(z+1)*plane], FromImage(s.Image, gray).Pix)
	}
	return vol, stack, nil
}

// ExtractNumber returns the number formed by the digits of the base name,
// or 0 when there are none.
func ExtractNumber(filename string) int {
	base := filepath.Base(filename)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	var digits strings.Builder
	for _, c := range base {
		if c >= '0' && c <= '9' {
			digits.WriteRune(c)
		}
	}
	if digits.Len() > 0 {
		if n, err := strconv.Atoi(digits.String()); err == nil {
			return n
		}
	}
	return 0
}

// IsGray reports whether img uses a grayscale color model.
func IsGray(img image.Image) bool {
	m := img.ColorModel()
	return m == color.GrayModel || m == color.Gray16Model
}

// FromImage converts img to a raster with 1 channel (gray) or 3 (RGB).
func FromImage(img image.Image, gray bool) *raster.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	channels := 3
	if gray {
		channels = 1
	}
	pix := make([]float64, w*h*channels)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := img.At(b.Min.X+x, b.Min.Y+y)
			p := (y*w + x) * channels
			if gray {
				g := color.Gray16Model.Convert(c).(color.Gray16)
				pix[p] = float64(g.Y) / 65535.0
				continue
			}
			n := color.NRGBA64Model.Convert(c).(color.NRGBA64)
			pix[p] = float64(n.R) / 65535.0
			pix[p+1] = float64(n.G) / 65535.0
			pix[p+2] = float64(n.B) / 65535.0
		}
	}
	out, err := raster.FromSlice([]int{w, h}, channels, pix)
	if err != nil {
		// Empty bounds; nothing to convert.
		return &raster.Image{Size: []int{w, h}, Spacing: []float64{1, 1}, Channels: channels}
	}
	return out
}

// ToImage converts a 2D raster to a 16-bit gray or RGB image, mapping
// [lo, hi] to the full range and clamping outside it. hi <= lo selects [0, 1].
func ToImage(img *raster.Image, lo, hi float64) (image.Image, error) {
	if img.Dim() != 2 {
		return nil, fmt.Errorf("%w: %d axes", raster.ErrUnsupportedDimension, img.Dim())
	}
	if !(hi > lo) {
		lo, hi = 0, 1
	}
	w, h := img.Size[0], img.Size[1]
	rect := image.Rect(0, 0, w, h)
	scale := func(v float64) uint16 {
		t := (v - lo) / (hi - lo)
		if t < 0 {
			t = 0
		} else if t > 1 {
			t = 1
		}
		return uint16(t*65535.0 + 0.5)
	}

	switch img.Channels {
	case 1:
		out := image.NewGray16(rect)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				out.SetGray16(x, y, color.Gray16{Y: scale(img.Pix[y*w+x])})
			}
		}
		return out, nil
	case 3:
		out := image.NewNRGBA64(rect)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				p := (y*w + x) * 3
				out.SetNRGBA64(x, y, color.NRGBA64{
					R: scale(img.Pix[p]),
					G: scale(img.Pix[p+1]),
					B: scale(img.Pix[p+2]),
					A: 0xffff,
				})
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: got %d", ErrUnsupportedChannels, img.Channels)
}

// Save encodes img to path, choosing the format from the extension.
func Save(path string, img image.Image) error {
	ext := strings.ToLower(filepath.Ext(path))
	var encode func(f *os.File) error
	switch ext {
	case ".png":
		encode = func(f *os.File) error { return png.Encode(f, img) }
	case ".jpg", ".jpeg":
		encode = func(f *os.File) error { return jpeg.Encode(f, img, &jpeg.Options{Quality: 90}) }
	case ".tif", ".tiff":
		encode = func(f *os.File) error { return tiff.Encode(f, img, &tiff.Options{Compression: tiff.Deflate}) }
	case ".bmp":
		encode = func(f *os.File) error { return bmp.Encode(f, img) }
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := encode(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func loadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	// Decoders are registered by the png, jpeg, tiff and bmp imports
	img, _, err := image.Decode(file)
	if err != nil {
		return nil, err
	}
	return img, nil
}

func hasExtension(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}
