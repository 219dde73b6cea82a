package metrics

import (
	"fmt"
	"math"

	"github.com/kirbu123/olimp/colorspace"
	"github.com/kirbu123/olimp/tensor"
)

// MSE is the whole-batch mean squared error.
type MSE struct{}

// Score returns a single scalar: the mean of (a-b)^2 over every element of
// the batch.
func (MSE) Score(a, b *tensor.Tensor) ([]float64, error) {
	if err := checkPair(a, b); err != nil {
		return nil, err
	}
	var acc float64
	for i := range a.Data {
		d := float64(a.Data[i]) - float64(b.Data[i])
		acc += d * d
	}
	return []float64{acc / float64(len(a.Data))}, nil
}

// PSNROptions configures PSNR.
type PSNROptions struct {
	Reduction Reduction
}

// DefaultPSNROptions returns per-sample output.
func DefaultPSNROptions() PSNROptions {
	return PSNROptions{Reduction: ReductionNone}
}

// PSNR is the peak signal-to-noise ratio, with the peak taken from the first
// argument per sample. Identical samples score +Inf; a zero-peak sample with
// nonzero error scores -Inf. Both are valid outputs.
type PSNR struct {
	opts PSNROptions
}

func NewPSNR(opts PSNROptions) *PSNR {
	return &PSNR{opts: opts}
}

func (p *PSNR) Score(a, b *tensor.Tensor) ([]float64, error) {
	if err := checkPair(a, b); err != nil {
		return nil, err
	}
	peaks := a.SampleMaxF64()
	out := make([]float64, a.N())
	for n := range out {
		mse := sampleMSE(a, b, n)
		if mse == 0 {
			out[n] = math.Inf(1)
			continue
		}
		out[n] = 10 * math.Log10(peaks[n]*peaks[n]/mse)
	}
	return Reduce(out, p.opts.Reduction)
}

// RMSESpace selects the color representation RMSE compares in.
type RMSESpace string

const (
	RMSESpaceSRGB   RMSESpace = "srgb"
	RMSESpaceLab    RMSESpace = "lab"
	RMSESpaceProLab RMSESpace = "prolab"
	RMSESpaceOkLab  RMSESpace = "oklab"
)

// RMSEOptions configures RMSE.
type RMSEOptions struct {
	Space     RMSESpace
	Reduction Reduction
}

func DefaultRMSEOptions() RMSEOptions {
	return RMSEOptions{Space: RMSESpaceSRGB, Reduction: ReductionNone}
}

// RMSE is the root of the summed squared difference per sample, optionally
// computed in a perceptual color space. Lab and ProLab lightness is divided
// by 100 first so all channels share the [0, 1] scale of sRGB and OkLab.
type RMSE struct {
	opts RMSEOptions
}

func NewRMSE(opts RMSEOptions) *RMSE {
	return &RMSE{opts: opts}
}

func (r *RMSE) convert(t *tensor.Tensor) (*tensor.Tensor, error) {
	switch r.opts.Space {
	case RMSESpaceSRGB, "":
		return t, nil
	case RMSESpaceOkLab:
		return colorspace.SRGBToOkLab(t)
	case RMSESpaceLab, RMSESpaceProLab:
		out, err := colorspace.FromSRGB(colorspace.Space(r.opts.Space), t)
		if err != nil {
			return nil, err
		}
		n, h, w := out.N(), out.H(), out.W()
		for bi := 0; bi < n; bi++ {
			for y := 0; y < h; y++ {
				for x := 0; x < w; x++ {
					out.Set(bi, 0, y, x, out.At(bi, 0, y, x)/100)
				}
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("metrics: unknown rmse space %q", r.opts.Space)
	}
}

func (r *RMSE) Score(a, b *tensor.Tensor) ([]float64, error) {
	if err := checkPair(a, b); err != nil {
		return nil, err
	}
	ca, err := r.convert(a)
	if err != nil {
		return nil, err
	}
	cb, err := r.convert(b)
	if err != nil {
		return nil, err
	}
	ss := ca.SampleSize()
	out := make([]float64, ca.N())
	for n := range out {
		var acc float64
		for i := n * ss; i < (n+1)*ss; i++ {
			d := float64(ca.Data[i]) - float64(cb.Data[i])
			acc += d * d
		}
		out[n] = math.Sqrt(acc)
	}
	return Reduce(out, r.opts.Reduction)
}

// NRMSENormalization selects the denominator statistic of NRMSE.
type NRMSENormalization string

const (
	NRMSEEuclidean NRMSENormalization = "euclidean"
	NRMSEMinMax    NRMSENormalization = "min-max"
	NRMSEMean      NRMSENormalization = "mean"
)

// NRMSEOptions configures NRMSE.
type NRMSEOptions struct {
	Normalization NRMSENormalization
	Invert        bool
}

func DefaultNRMSEOptions() NRMSEOptions {
	return NRMSEOptions{Normalization: NRMSEEuclidean}
}

// NRMSE is the whole-batch root mean squared error normalized by a statistic
// of the first argument. Identical inputs score 0 before the denominator is
// consulted; otherwise a zero denominator is ErrDegenerateInput.
type NRMSE struct {
	opts NRMSEOptions
}

func NewNRMSE(opts NRMSEOptions) *NRMSE {
	return &NRMSE{opts: opts}
}

func (m *NRMSE) denom(a *tensor.Tensor) (float64, error) {
	switch m.opts.Normalization {
	case NRMSEEuclidean, "":
		var acc float64
		for _, v := range a.Data {
			acc += float64(v) * float64(v)
		}
		return math.Sqrt(acc / float64(len(a.Data))), nil
	case NRMSEMinMax:
		return a.MaxF64() - a.MinF64(), nil
	case NRMSEMean:
		return a.MeanF64(), nil
	default:
		return 0, fmt.Errorf("metrics: unknown nrmse normalization %q", m.opts.Normalization)
	}
}

func (m *NRMSE) Score(a, b *tensor.Tensor) ([]float64, error) {
	if err := checkPair(a, b); err != nil {
		return nil, err
	}
	var acc float64
	for i := range a.Data {
		d := float64(a.Data[i]) - float64(b.Data[i])
		acc += d * d
	}
	mse := acc / float64(len(a.Data))
	if mse == 0 {
		return []float64{0}, nil
	}
	denom, err := m.denom(a)
	if err != nil {
		return nil, err
	}
	if denom == 0 {
		return nil, fmt.Errorf("%w: nrmse %s denominator is zero", ErrDegenerateInput, m.opts.Normalization)
	}
	v := math.Sqrt(mse) / denom
	if m.opts.Invert {
		v = 1 - v
	}
	return []float64{v}, nil
}
