// Package metrics implements the image-quality metrics used to score
// precompensated images against ground truth. Every metric compares two
// equally-shaped NCHW batches and reports one float64 score per batch item
// (or a single scalar for whole-batch metrics). Degenerate numeric cases
// follow the reference conventions: NaN and Inf are valid outputs, while a
// zero normalization denominator is an error.
package metrics

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/kirbu123/olimp/tensor"
)

// ErrDegenerateInput is returned when a metric's normalization denominator
// is exactly zero.
var ErrDegenerateInput = errors.New("metrics: degenerate input")

// Reduction selects how per-sample scores are aggregated.
type Reduction string

const (
	ReductionNone Reduction = "none"
	ReductionMean Reduction = "mean"
	ReductionSum  Reduction = "sum"
)

// Reduce aggregates per-sample scores according to r. ReductionNone returns
// vals unchanged; the other modes return a single-element slice.
func Reduce(vals []float64, r Reduction) ([]float64, error) {
	switch r {
	case ReductionNone, "":
		return vals, nil
	case ReductionSum:
		var s float64
		for _, v := range vals {
			s += v
		}
		return []float64{s}, nil
	case ReductionMean:
		var s float64
		for _, v := range vals {
			s += v
		}
		return []float64{s / float64(len(vals))}, nil
	default:
		return nil, fmt.Errorf("metrics: unknown reduction %q", r)
	}
}

func checkPair(a, b *tensor.Tensor) error {
	return a.CheckSameShape(b)
}

// invert maps a similarity-style score to its loss form.
func invert(vals []float64) []float64 {
	for i, v := range vals {
		vals[i] = 1 - v
	}
	return vals
}

func sampleMSE(a, b *tensor.Tensor, n int) float64 {
	ss := a.SampleSize()
	var acc float64
	for i := n * ss; i < (n+1)*ss; i++ {
		d := float64(a.Data[i]) - float64(b.Data[i])
		acc += d * d
	}
	return acc / float64(ss)
}

func median(vals []float64) float64 {
	if len(vals) == 0 {
		return math.NaN()
	}
	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	sort.Float64s(sorted)
	m := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[m]
	}
	return (sorted[m-1] + sorted[m]) / 2
}
