package metrics

import (
	"math"

	"github.com/kirbu123/olimp/tensor"
)

// STRESSOptions configures STRESS.
type STRESSOptions struct {
	Invert    bool
	Reduction Reduction
}

func DefaultSTRESSOptions() STRESSOptions {
	return STRESSOptions{Reduction: ReductionNone}
}

// STRESS is the standardized residual sum of squares statistic, per sample:
// sqrt(1 - (sum ab)^2 / (sum a^2 * sum b^2)). A sample where either input
// has zero energy scores 0. Invert reports 1 - score.
type STRESS struct {
	opts STRESSOptions
}

func NewSTRESS(opts STRESSOptions) *STRESS {
	return &STRESS{opts: opts}
}

func (s *STRESS) Score(a, b *tensor.Tensor) ([]float64, error) {
	if err := checkPair(a, b); err != nil {
		return nil, err
	}
	ss := a.SampleSize()
	out := make([]float64, a.N())
	for n := range out {
		var sab, saa, sbb float64
		for i := n * ss; i < (n+1)*ss; i++ {
			av := float64(a.Data[i])
			bv := float64(b.Data[i])
			sab += av * bv
			saa += av * av
			sbb += bv * bv
		}
		if saa == 0 || sbb == 0 {
			out[n] = 0
		} else {
			out[n] = math.Sqrt(1 - sab*sab/(saa*sbb))
		}
	}
	if s.opts.Invert {
		out = invert(out)
	}
	return Reduce(out, s.opts.Reduction)
}

// CorrelationOptions configures Correlation.
type CorrelationOptions struct {
	Invert    bool
	Reduction Reduction
}

func DefaultCorrelationOptions() CorrelationOptions {
	return CorrelationOptions{Reduction: ReductionNone}
}

// Correlation is the Pearson correlation coefficient per sample. A sample
// where either input has zero variance scores 0. Invert reports 1 - r.
type Correlation struct {
	opts CorrelationOptions
}

func NewCorrelation(opts CorrelationOptions) *Correlation {
	return &Correlation{opts: opts}
}

func (c *Correlation) Score(a, b *tensor.Tensor) ([]float64, error) {
	if err := checkPair(a, b); err != nil {
		return nil, err
	}
	ss := a.SampleSize()
	out := make([]float64, a.N())
	for n := range out {
		var sa, sb float64
		for i := n * ss; i < (n+1)*ss; i++ {
			sa += float64(a.Data[i])
			sb += float64(b.Data[i])
		}
		ma := sa / float64(ss)
		mb := sb / float64(ss)
		var cov, va, vb float64
		for i := n * ss; i < (n+1)*ss; i++ {
			da := float64(a.Data[i]) - ma
			db := float64(b.Data[i]) - mb
			cov += da * db
			va += da * da
			vb += db * db
		}
		if va == 0 || vb == 0 {
			out[n] = 0
		} else {
			out[n] = cov / math.Sqrt(va*vb)
		}
	}
	if c.opts.Invert {
		out = invert(out)
	}
	return Reduce(out, c.opts.Reduction)
}
