package metrics

import (
	"fmt"
	"math"

	"github.com/kirbu123/olimp/colorspace"
	"github.com/kirbu123/olimp/tensor"
)

// CDOptions configures the chromaticity difference metric.
type CDOptions struct {
	Space           colorspace.Space
	LightnessWeight float64
	Reduction       Reduction
}

func DefaultCDOptions() CDOptions {
	return CDOptions{Space: colorspace.SpaceLab, Reduction: ReductionNone}
}

// CD is the per-pixel chromaticity difference: a lightness-weighted
// Euclidean distance between color triples, averaged over the image. In
// ProLab the chroma channels are first divided by lightness (a zero
// lightness is substituted with 1), which makes the distance track the
// space's chromaticity coordinates.
type CD struct {
	opts CDOptions
}

func NewCD(opts CDOptions) (*CD, error) {
	if opts.Space != colorspace.SpaceLab && opts.Space != colorspace.SpaceProLab {
		return nil, fmt.Errorf("metrics: cd supports lab and prolab, got %q", opts.Space)
	}
	if opts.LightnessWeight < 0 {
		return nil, fmt.Errorf("metrics: cd lightness weight must be non-negative, got %v", opts.LightnessWeight)
	}
	return &CD{opts: opts}, nil
}

func (m *CD) convert(t *tensor.Tensor) (*tensor.Tensor, error) {
	out, err := colorspace.FromSRGB(m.opts.Space, t)
	if err != nil {
		return nil, err
	}
	if m.opts.Space == colorspace.SpaceProLab {
		n, h, w := out.N(), out.H(), out.W()
		for bi := 0; bi < n; bi++ {
			for y := 0; y < h; y++ {
				for x := 0; x < w; x++ {
					l := out.At(bi, 0, y, x)
					if l == 0 {
						l = 1
						out.Set(bi, 0, y, x, 1)
					}
					out.Set(bi, 1, y, x, out.At(bi, 1, y, x)/l)
					out.Set(bi, 2, y, x, out.At(bi, 2, y, x)/l)
				}
			}
		}
	}
	return out, nil
}

func (m *CD) Score(a, b *tensor.Tensor) ([]float64, error) {
	if err := checkPair(a, b); err != nil {
		return nil, err
	}
	ca, err := m.convert(a)
	if err != nil {
		return nil, err
	}
	cb, err := m.convert(b)
	if err != nil {
		return nil, err
	}
	wl := math.Sqrt(m.opts.LightnessWeight)
	weights := [3]float64{wl, 1, 1}
	n, h, w := ca.N(), ca.H(), ca.W()
	out := make([]float64, n)
	for bi := 0; bi < n; bi++ {
		var acc float64
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				var d2 float64
				for c := 0; c < 3; c++ {
					d := (float64(ca.At(bi, c, y, x)) - float64(cb.At(bi, c, y, x))) * weights[c]
					d2 += d * d
				}
				acc += math.Sqrt(d2)
			}
		}
		out[bi] = acc / float64(h*w)
	}
	return Reduce(out, m.opts.Reduction)
}
