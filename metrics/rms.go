package metrics

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/kirbu123/olimp/colorspace"
	"github.com/kirbu123/olimp/tensor"
)

// RMSOptions configures the contrast RMS metric.
type RMSOptions struct {
	Space          colorspace.Space
	PixelNeighbors int
	Step           int
	SigmaRate      float64
	Reduction      Reduction
}

func DefaultRMSOptions() RMSOptions {
	return RMSOptions{
		Space:          colorspace.SpaceLab,
		PixelNeighbors: 1000,
		Step:           10,
		SigmaRate:      0.25,
		Reduction:      ReductionNone,
	}
}

// RMS is the root-mean-square local contrast difference. For each grid cell
// it draws Gaussian-displaced neighbor pixels, measures the perceptual
// contrast between the cell center and each neighbor in both images, and
// reports the RMS of the per-neighbor contrast differences normalized by 160.
//
// The neighbor draw is seeded from the mean pixel value of the two inputs,
// so the metric is deterministic per input pair but not globally seeded.
// The exact scores therefore depend on the summation order of that mean.
type RMS struct {
	opts RMSOptions
}

func NewRMS(opts RMSOptions) (*RMS, error) {
	if opts.Space != colorspace.SpaceLab && opts.Space != colorspace.SpaceProLab {
		return nil, fmt.Errorf("metrics: rms supports lab and prolab, got %q", opts.Space)
	}
	if opts.Step < 1 || opts.PixelNeighbors < 1 {
		return nil, fmt.Errorf("metrics: rms needs positive step and neighbor count")
	}
	return &RMS{opts: opts}, nil
}

// contrastAt is the Euclidean color distance between two pixels of one
// converted image.
func contrastAt(lab *tensor.Tensor, n, y0, x0, y1, x1 int) float64 {
	var acc float64
	for c := 0; c < 3; c++ {
		d := float64(lab.At(n, c, y0, x0)) - float64(lab.At(n, c, y1, x1))
		acc += d * d
	}
	return math.Sqrt(acc)
}

func (r *RMS) Score(a, b *tensor.Tensor) ([]float64, error) {
	if err := checkPair(a, b); err != nil {
		return nil, err
	}
	h, w := a.H(), a.W()
	gridH, gridW := h/r.opts.Step, w/r.opts.Step
	if gridH == 0 || gridW == 0 {
		return nil, fmt.Errorf("%w: image %dx%d smaller than rms step %d", tensor.ErrShapeMismatch, h, w, r.opts.Step)
	}
	labA, err := colorspace.FromSRGB(r.opts.Space, a)
	if err != nil {
		return nil, err
	}
	labB, err := colorspace.FromSRGB(r.opts.Space, b)
	if err != nil {
		return nil, err
	}

	sigmaY := float64(h) * r.opts.SigmaRate
	sigmaX := float64(w) * r.opts.SigmaRate
	out := make([]float64, a.N())
	for n := range out {
		// Content-derived seed: deterministic per input pair.
		seed := float64(0)
		{
			ss := a.SampleSize()
			var sum float64
			for i := n * ss; i < (n+1)*ss; i++ {
				sum += float64(a.Data[i]) + float64(b.Data[i])
			}
			seed = sum / float64(ss)
		}
		rng := rand.New(rand.NewSource(int64(math.Float64bits(seed))))

		var cellSum float64
		for gy := 0; gy < gridH; gy++ {
			for gx := 0; gx < gridW; gx++ {
				cy, cx := gy*r.opts.Step, gx*r.opts.Step
				ys := make([]int, r.opts.PixelNeighbors)
				xs := make([]int, r.opts.PixelNeighbors)
				for i := range ys {
					v := math.Round(rng.NormFloat64()*sigmaY + float64(cy))
					if v < 0 {
						v = 0
					}
					ys[i] = int(v)
				}
				for i := range xs {
					v := math.Round(rng.NormFloat64()*sigmaX + float64(cx))
					if v < 0 {
						v = 0
					}
					xs[i] = int(v)
				}
				var acc float64
				var count int
				for i := range ys {
					if ys[i] >= h || xs[i] >= w {
						continue
					}
					ca := contrastAt(labA, n, cy, cx, ys[i], xs[i])
					cb := contrastAt(labB, n, cy, cx, ys[i], xs[i])
					d := (ca - cb) / 160
					acc += d * d
					count++
				}
				if count > 0 {
					cellSum += math.Sqrt(acc / float64(count))
				}
			}
		}
		out[n] = cellSum / float64(gridH*gridW)
	}
	return Reduce(out, r.opts.Reduction)
}
