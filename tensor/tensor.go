// Package tensor implements the dense image-batch tensor used throughout the
// toolkit. Tensors are laid out NCHW (batch, channel, height, width) with
// float32 storage; statistics and reductions accumulate in float64.
package tensor

import (
	"errors"
	"fmt"
	"math"
)

// ErrShapeMismatch is returned when an operation receives tensors whose
// batch, channel or spatial dimensions do not satisfy its contract.
var ErrShapeMismatch = errors.New("tensor: shape mismatch")

// Tensor is a dense 4-D array in NCHW layout. Vectors and matrices (e.g. a
// latent mean of shape (N, D)) are represented as (N, D, 1, 1).
type Tensor struct {
	Shape [4]int
	Data  []float32
}

// New returns a zero-filled tensor of the given dimensions.
func New(n, c, h, w int) *Tensor {
	return &Tensor{
		Shape: [4]int{n, c, h, w},
		Data:  make([]float32, n*c*h*w),
	}
}

// Full returns a tensor of the given dimensions with every element set to v.
func Full(n, c, h, w int, v float32) *Tensor {
	t := New(n, c, h, w)
	for i := range t.Data {
		t.Data[i] = v
	}
	return t
}

// Scalar returns a (1,1,1,1) tensor holding v.
func Scalar(v float32) *Tensor {
	return &Tensor{Shape: [4]int{1, 1, 1, 1}, Data: []float32{v}}
}

// FromSlice wraps data in a tensor of the given dimensions. The slice is not
// copied; its length must match the shape.
func FromSlice(n, c, h, w int, data []float32) (*Tensor, error) {
	if len(data) != n*c*h*w {
		return nil, fmt.Errorf("%w: %d elements for shape (%d,%d,%d,%d)",
			ErrShapeMismatch, len(data), n, c, h, w)
	}
	return &Tensor{Shape: [4]int{n, c, h, w}, Data: data}, nil
}

// N returns the batch size.
func (t *Tensor) N() int { return t.Shape[0] }

// C returns the channel count.
func (t *Tensor) C() int { return t.Shape[1] }

// H returns the height.
func (t *Tensor) H() int { return t.Shape[2] }

// W returns the width.
func (t *Tensor) W() int { return t.Shape[3] }

// NumEl returns the total number of elements.
func (t *Tensor) NumEl() int { return len(t.Data) }

// SampleSize returns the number of elements per batch item.
func (t *Tensor) SampleSize() int { return t.Shape[1] * t.Shape[2] * t.Shape[3] }

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	out := &Tensor{Shape: t.Shape}
	out.Data = make([]float32, len(t.Data))
	copy(out.Data, t.Data)
	return out
}

// index computes the flat offset of (n, c, y, x). No bounds checking beyond
// what the slice access itself provides.
func (t *Tensor) index(n, c, y, x int) int {
	return ((n*t.Shape[1]+c)*t.Shape[2]+y)*t.Shape[3] + x
}

// At returns the element at (n, c, y, x).
func (t *Tensor) At(n, c, y, x int) float32 { return t.Data[t.index(n, c, y, x)] }

// Set stores v at (n, c, y, x).
func (t *Tensor) Set(n, c, y, x int, v float32) { t.Data[t.index(n, c, y, x)] = v }

// Sample returns a view-free copy of batch item n as a (1,C,H,W) tensor.
func (t *Tensor) Sample(n int) *Tensor {
	ss := t.SampleSize()
	out := New(1, t.Shape[1], t.Shape[2], t.Shape[3])
	copy(out.Data, t.Data[n*ss:(n+1)*ss])
	return out
}

// SameShape reports whether t and o have identical dimensions.
func (t *Tensor) SameShape(o *Tensor) bool { return t.Shape == o.Shape }

// CheckSameShape returns ErrShapeMismatch unless t and o have identical
// dimensions.
func (t *Tensor) CheckSameShape(o *Tensor) error {
	if !t.SameShape(o) {
		return fmt.Errorf("%w: %v vs %v", ErrShapeMismatch, t.Shape, o.Shape)
	}
	return nil
}

// Clip returns a copy with every element clamped to [lo, hi].
func (t *Tensor) Clip(lo, hi float32) *Tensor {
	out := t.Clone()
	for i, v := range out.Data {
		if v < lo {
			out.Data[i] = lo
		} else if v > hi {
			out.Data[i] = hi
		}
	}
	return out
}

// Add returns t + o elementwise.
func (t *Tensor) Add(o *Tensor) (*Tensor, error) {
	if err := t.CheckSameShape(o); err != nil {
		return nil, err
	}
	out := t.Clone()
	for i := range out.Data {
		out.Data[i] += o.Data[i]
	}
	return out, nil
}

// Sub returns t - o elementwise.
func (t *Tensor) Sub(o *Tensor) (*Tensor, error) {
	if err := t.CheckSameShape(o); err != nil {
		return nil, err
	}
	out := t.Clone()
	for i := range out.Data {
		out.Data[i] -= o.Data[i]
	}
	return out, nil
}

// Mul returns t * o elementwise.
func (t *Tensor) Mul(o *Tensor) (*Tensor, error) {
	if err := t.CheckSameShape(o); err != nil {
		return nil, err
	}
	out := t.Clone()
	for i := range out.Data {
		out.Data[i] *= o.Data[i]
	}
	return out, nil
}

// Scale returns t * s elementwise.
func (t *Tensor) Scale(s float32) *Tensor {
	out := t.Clone()
	for i := range out.Data {
		out.Data[i] *= s
	}
	return out
}

// SumF64 returns the float64 sum of all elements.
func (t *Tensor) SumF64() float64 {
	var s float64
	for _, v := range t.Data {
		s += float64(v)
	}
	return s
}

// MeanF64 returns the float64 mean of all elements.
func (t *Tensor) MeanF64() float64 {
	if len(t.Data) == 0 {
		return math.NaN()
	}
	return t.SumF64() / float64(len(t.Data))
}

// MaxF64 returns the maximum element.
func (t *Tensor) MaxF64() float64 {
	m := math.Inf(-1)
	for _, v := range t.Data {
		if float64(v) > m {
			m = float64(v)
		}
	}
	return m
}

// MinF64 returns the minimum element.
func (t *Tensor) MinF64() float64 {
	m := math.Inf(1)
	for _, v := range t.Data {
		if float64(v) < m {
			m = float64(v)
		}
	}
	return m
}

// SampleSumF64 returns the per-sample sums of all elements.
func (t *Tensor) SampleSumF64() []float64 {
	ss := t.SampleSize()
	out := make([]float64, t.Shape[0])
	for n := 0; n < t.Shape[0]; n++ {
		var s float64
		for _, v := range t.Data[n*ss : (n+1)*ss] {
			s += float64(v)
		}
		out[n] = s
	}
	return out
}

// SampleMeanF64 returns the per-sample means of all elements.
func (t *Tensor) SampleMeanF64() []float64 {
	ss := t.SampleSize()
	sums := t.SampleSumF64()
	for i := range sums {
		sums[i] /= float64(ss)
	}
	return sums
}

// SampleMaxF64 returns the per-sample maxima.
func (t *Tensor) SampleMaxF64() []float64 {
	ss := t.SampleSize()
	out := make([]float64, t.Shape[0])
	for n := 0; n < t.Shape[0]; n++ {
		m := math.Inf(-1)
		for _, v := range t.Data[n*ss : (n+1)*ss] {
			if float64(v) > m {
				m = float64(v)
			}
		}
		out[n] = m
	}
	return out
}
