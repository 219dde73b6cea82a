package metrics

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/kirbu123/olimp/colorspace"
	"github.com/kirbu123/olimp/distort"
	"github.com/kirbu123/olimp/tensor"
)

// ColorBlindnessLossOptions configures ColorBlindnessLoss.
type ColorBlindnessLossOptions struct {
	Type         distort.CBType
	Degree       int
	LambdaSSIM   float64
	GlobalPoints int
	Reduction    Reduction
}

func DefaultColorBlindnessLossOptions() ColorBlindnessLossOptions {
	return ColorBlindnessLossOptions{
		Type:         distort.Protan,
		Degree:       100,
		LambdaSSIM:   0.25,
		GlobalPoints: 3000,
		Reduction:    ReductionNone,
	}
}

// ColorBlindnessLoss scores a precompensated image for a dichromat viewer.
// The precompensation is passed through the deficiency simulation and the
// result is compared against the original two ways: a structural SSIM term,
// and a global contrast term measuring how well perceptual distances
// between randomly sampled pixel pairs survive the simulation. The pair
// sample is seeded from the input content, like the RMS metric.
type ColorBlindnessLoss struct {
	opts ColorBlindnessLossOptions
	cvd  *distort.ColorBlindness
	ssim *SSIM
}

func NewColorBlindnessLoss(opts ColorBlindnessLossOptions) (*ColorBlindnessLoss, error) {
	if opts.LambdaSSIM < 0 || opts.LambdaSSIM > 1 {
		return nil, fmt.Errorf("metrics: lambda_ssim must be in [0, 1], got %v", opts.LambdaSSIM)
	}
	if opts.GlobalPoints < 1 {
		return nil, fmt.Errorf("metrics: global_points must be positive, got %d", opts.GlobalPoints)
	}
	cvd, err := distort.NewColorBlindness(opts.Type, opts.Degree)
	if err != nil {
		return nil, err
	}
	ssim, err := NewSSIM(DefaultSSIMOptions())
	if err != nil {
		return nil, err
	}
	return &ColorBlindnessLoss{opts: opts, cvd: cvd, ssim: ssim}, nil
}

// Score returns the per-sample loss for (original, precompensated) pairs.
// Lower is better; identical contrast structure under the simulation scores
// near zero.
func (c *ColorBlindnessLoss) Score(image, precompensated *tensor.Tensor) ([]float64, error) {
	if err := checkPair(image, precompensated); err != nil {
		return nil, err
	}
	simulated, err := c.cvd.Apply(precompensated.Clip(0, 1))
	if err != nil {
		return nil, err
	}
	ssimLoss, err := c.ssim.Loss(simulated, image)
	if err != nil {
		return nil, err
	}
	labImage, err := colorspace.SRGBToLab(image)
	if err != nil {
		return nil, err
	}
	labSim, err := colorspace.SRGBToLab(simulated)
	if err != nil {
		return nil, err
	}

	h, w := image.H(), image.W()
	out := make([]float64, image.N())
	for n := range out {
		ss := image.SampleSize()
		var seed float64
		for i := n * ss; i < (n+1)*ss; i++ {
			seed += float64(image.Data[i]) + float64(precompensated.Data[i])
		}
		rng := rand.New(rand.NewSource(int64(math.Float64bits(seed / float64(ss)))))

		var acc float64
		for p := 0; p < c.opts.GlobalPoints; p++ {
			y0, x0 := rng.Intn(h), rng.Intn(w)
			y1, x1 := rng.Intn(h), rng.Intn(w)
			dOrig := contrastAt(labImage, n, y0, x0, y1, x1)
			dSim := contrastAt(labSim, n, y0, x0, y1, x1)
			acc += math.Abs(dOrig-dSim) / 160
		}
		global := acc / float64(c.opts.GlobalPoints)
		out[n] = c.opts.LambdaSSIM*ssimLoss[n] + (1-c.opts.LambdaSSIM)*global
	}
	return Reduce(out, c.opts.Reduction)
}
