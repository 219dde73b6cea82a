package dataset

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	resize "github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/kirbu123/olimp/tensor"
)

var imageExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
	".webp": true,
}

// IsImagePath reports whether the path has a decodable image extension.
func IsImagePath(path string) bool {
	return imageExts[strings.ToLower(filepath.Ext(path))]
}

// ReadImage decodes an image file into a (1,C,H,W) tensor scaled to [0,1].
// Grayscale sources (PSF banks) decode to a single channel, color sources to
// three.
func ReadImage(path string) (*tensor.Tensor, error) {
	img, err := decodeFile(path)
	if err != nil {
		return nil, err
	}
	return imageToTensor(img), nil
}

// ReadImageResized decodes an image file and bicubically resizes it to
// (h, w) before conversion.
func ReadImageResized(path string, h, w int) (*tensor.Tensor, error) {
	if h < 1 || w < 1 {
		return nil, fmt.Errorf("dataset: invalid target size %dx%d", w, h)
	}
	img, err := decodeFile(path)
	if err != nil {
		return nil, err
	}
	img = resize.Resize(uint(w), uint(h), img, resize.Bicubic)
	return imageToTensor(img), nil
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("dataset: decode %s: %w", path, err)
	}
	return img, nil
}

func isGrayscale(img image.Image) bool {
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		return true
	}
	return false
}

func imageToTensor(img image.Image) *tensor.Tensor {
	b := img.Bounds()
	h, w := b.Dy(), b.Dx()
	if isGrayscale(img) {
		t := tensor.New(1, 1, h, w)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				r, _, _, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
				t.Set(0, 0, y, x, float32(r)/65535)
			}
		}
		return t
	}
	t := tensor.New(1, 3, h, w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bb, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			t.Set(0, 0, y, x, float32(r)/65535)
			t.Set(0, 1, y, x, float32(g)/65535)
			t.Set(0, 2, y, x, float32(bb)/65535)
		}
	}
	return t
}

// Stack concatenates same-shaped (1,C,H,W) tensors into one batch.
func Stack(items []*tensor.Tensor) (*tensor.Tensor, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("dataset: nothing to stack")
	}
	first := items[0]
	out := tensor.New(len(items), first.C(), first.H(), first.W())
	ss := first.SampleSize()
	for i, t := range items {
		if t.N() != 1 || t.C() != first.C() || t.H() != first.H() || t.W() != first.W() {
			return nil, fmt.Errorf("%w: item %d is %v, want (1,%d,%d,%d)",
				tensor.ErrShapeMismatch, i, t.Shape, first.C(), first.H(), first.W())
		}
		copy(out.Data[i*ss:(i+1)*ss], t.Data)
	}
	return out, nil
}
