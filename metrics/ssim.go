package metrics

import (
	"fmt"
	"math"

	"github.com/kirbu123/olimp/tensor"
)

// gaussianKernel returns a normalized size x size Gaussian window.
func gaussianKernel(size int, sigma float64) []float32 {
	oneD := make([]float64, size)
	var sum float64
	for i := range oneD {
		u := (float64(1-size)/2 + float64(i)) / sigma
		oneD[i] = math.Exp(-u * u / 2)
		sum += oneD[i]
	}
	for i := range oneD {
		oneD[i] /= sum
	}
	kernel := make([]float32, size*size)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			kernel[y*size+x] = float32(oneD[y] * oneD[x])
		}
	}
	return kernel
}

// SSIMOptions configures SSIM.
type SSIMOptions struct {
	KernelSize  int
	KernelSigma float64
	K1          float64
	K2          float64
	DataRange   float64
	Downsample  bool
	Reduction   Reduction
}

func DefaultSSIMOptions() SSIMOptions {
	return SSIMOptions{
		KernelSize:  11,
		KernelSigma: 1.5,
		K1:          0.01,
		K2:          0.03,
		DataRange:   1.0,
		Downsample:  true,
		Reduction:   ReductionNone,
	}
}

// SSIM is the structural similarity index: Gaussian-windowed local mean,
// variance and covariance statistics combined into a luminance-contrast-
// structure product, averaged over the valid window positions. Inputs larger
// than roughly 256 pixels on the short side are first decimated by mean
// pooling, matching the common implementation convention.
type SSIM struct {
	opts   SSIMOptions
	kernel []float32
}

func NewSSIM(opts SSIMOptions) (*SSIM, error) {
	if opts.KernelSize < 1 || opts.KernelSize%2 == 0 {
		return nil, fmt.Errorf("metrics: ssim kernel size must be odd and positive, got %d", opts.KernelSize)
	}
	if opts.KernelSigma <= 0 {
		return nil, fmt.Errorf("metrics: ssim kernel sigma must be positive, got %v", opts.KernelSigma)
	}
	return &SSIM{opts: opts, kernel: gaussianKernel(opts.KernelSize, opts.KernelSigma)}, nil
}

// windowStats computes the per-sample, per-channel means of the structure-
// similarity map (ss) and its contrast-structure factor (cs) for pre-scaled
// inputs. The channel axis is kept so multiscale composition can combine
// scales per channel before averaging.
func (s *SSIM) windowStats(x, y *tensor.Tensor) (ssMean, csMean [][]float64, err error) {
	k := s.opts.KernelSize
	mux, err := x.Conv2DValid(s.kernel, k)
	if err != nil {
		return nil, nil, err
	}
	muy, err := y.Conv2DValid(s.kernel, k)
	if err != nil {
		return nil, nil, err
	}
	xx, _ := x.Mul(x)
	yy, _ := y.Mul(y)
	xy, _ := x.Mul(y)
	sxx, err := xx.Conv2DValid(s.kernel, k)
	if err != nil {
		return nil, nil, err
	}
	syy, _ := yy.Conv2DValid(s.kernel, k)
	sxy, _ := xy.Conv2DValid(s.kernel, k)

	c1 := s.opts.K1 * s.opts.K1
	c2 := s.opts.K2 * s.opts.K2
	n, c := mux.N(), mux.C()
	plane := mux.H() * mux.W()
	ssMean = make([][]float64, n)
	csMean = make([][]float64, n)
	for bi := 0; bi < n; bi++ {
		ssMean[bi] = make([]float64, c)
		csMean[bi] = make([]float64, c)
		for ci := 0; ci < c; ci++ {
			base := (bi*c + ci) * plane
			var ssAcc, csAcc float64
			for i := base; i < base+plane; i++ {
				mx := float64(mux.Data[i])
				my := float64(muy.Data[i])
				vx := float64(sxx.Data[i]) - mx*mx
				vy := float64(syy.Data[i]) - my*my
				vxy := float64(sxy.Data[i]) - mx*my
				cs := (2*vxy + c2) / (vx + vy + c2)
				lum := (2*mx*my + c1) / (mx*mx + my*my + c1)
				csAcc += cs
				ssAcc += lum * cs
			}
			ssMean[bi][ci] = ssAcc / float64(plane)
			csMean[bi][ci] = csAcc / float64(plane)
		}
	}
	return ssMean, csMean, nil
}

// channelMean collapses per-channel means to per-sample scores.
func channelMean(vals [][]float64) []float64 {
	out := make([]float64, len(vals))
	for i, cs := range vals {
		var s float64
		for _, v := range cs {
			s += v
		}
		out[i] = s / float64(len(cs))
	}
	return out
}

func (s *SSIM) prepare(t *tensor.Tensor) *tensor.Tensor {
	out := t
	if s.opts.DataRange != 1 {
		out = out.Scale(float32(1 / s.opts.DataRange))
	}
	if s.opts.Downsample {
		minDim := out.H()
		if out.W() < minDim {
			minDim = out.W()
		}
		if f := int(math.Round(float64(minDim) / 256)); f > 1 {
			out = out.AvgPoolK(f)
		}
	}
	return out
}

// Score returns the per-sample SSIM index.
func (s *SSIM) Score(x, y *tensor.Tensor) ([]float64, error) {
	if err := checkPair(x, y); err != nil {
		return nil, err
	}
	ssMean, _, err := s.windowStats(s.prepare(x), s.prepare(y))
	if err != nil {
		return nil, err
	}
	return Reduce(channelMean(ssMean), s.opts.Reduction)
}

// Loss returns 1 - Score.
func (s *SSIM) Loss(x, y *tensor.Tensor) ([]float64, error) {
	if err := checkPair(x, y); err != nil {
		return nil, err
	}
	ssMean, _, err := s.windowStats(s.prepare(x), s.prepare(y))
	if err != nil {
		return nil, err
	}
	return Reduce(invert(channelMean(ssMean)), s.opts.Reduction)
}

// msSSIMWeights are the standard five-scale weights.
var msSSIMWeights = []float64{0.0448, 0.2856, 0.3001, 0.2363, 0.1333}

// MSSSIMOptions configures MSSSIM. It shares SSIM's window parameters.
type MSSSIMOptions struct {
	KernelSize  int
	KernelSigma float64
	K1          float64
	K2          float64
	DataRange   float64
	Reduction   Reduction
}

func DefaultMSSSIMOptions() MSSSIMOptions {
	return MSSSIMOptions{
		KernelSize:  11,
		KernelSigma: 1.5,
		K1:          0.01,
		K2:          0.03,
		DataRange:   1.0,
		Reduction:   ReductionNone,
	}
}

// MSSSIM is the multiscale SSIM: the contrast-structure factor is measured
// at five dyadic scales and combined multiplicatively, with the full SSIM
// term contributing only at the coarsest scale.
type MSSSIM struct {
	opts MSSSIMOptions
	ssim *SSIM
}

func NewMSSSIM(opts MSSSIMOptions) (*MSSSIM, error) {
	ssim, err := NewSSIM(SSIMOptions{
		KernelSize:  opts.KernelSize,
		KernelSigma: opts.KernelSigma,
		K1:          opts.K1,
		K2:          opts.K2,
		DataRange:   1.0,
		Downsample:  false,
	})
	if err != nil {
		return nil, err
	}
	return &MSSSIM{opts: opts, ssim: ssim}, nil
}

func (m *MSSSIM) scores(x, y *tensor.Tensor) ([]float64, error) {
	if err := checkPair(x, y); err != nil {
		return nil, err
	}
	levels := len(msSSIMWeights)
	minDim := x.H()
	if x.W() < minDim {
		minDim = x.W()
	}
	if need := (m.opts.KernelSize - 1) * (1 << (levels - 1)); minDim <= need {
		return nil, fmt.Errorf("%w: image short side %d too small for %d-level ms-ssim with kernel %d",
			tensor.ErrShapeMismatch, minDim, levels, m.opts.KernelSize)
	}
	xs, ys := x, y
	if m.opts.DataRange != 1 {
		inv := float32(1 / m.opts.DataRange)
		xs, ys = xs.Scale(inv), ys.Scale(inv)
	}
	// Per-channel products across scales; channels are averaged last.
	products := make([][]float64, x.N())
	for bi := range products {
		products[bi] = make([]float64, x.C())
		for ci := range products[bi] {
			products[bi][ci] = 1
		}
	}
	for level := 0; level < levels; level++ {
		if level > 0 {
			xs = xs.AvgPool2()
			ys = ys.AvgPool2()
		}
		ssMean, csMean, err := m.ssim.windowStats(xs, ys)
		if err != nil {
			return nil, err
		}
		vals := csMean
		if level == levels-1 {
			vals = ssMean
		}
		for bi := range vals {
			for ci, v := range vals[bi] {
				if v < 0 {
					v = 0
				}
				products[bi][ci] *= math.Pow(v, msSSIMWeights[level])
			}
		}
	}
	return channelMean(products), nil
}

// Score returns the per-sample multiscale SSIM index.
func (m *MSSSIM) Score(x, y *tensor.Tensor) ([]float64, error) {
	scores, err := m.scores(x, y)
	if err != nil {
		return nil, err
	}
	return Reduce(scores, m.opts.Reduction)
}

// Loss returns 1 - Score.
func (m *MSSSIM) Loss(x, y *tensor.Tensor) ([]float64, error) {
	scores, err := m.scores(x, y)
	if err != nil {
		return nil, err
	}
	return Reduce(invert(scores), m.opts.Reduction)
}
