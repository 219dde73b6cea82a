package tensor

import (
	"fmt"
	"math"
)

// Conv2DValid convolves every channel of t with the same 2-D kernel (grouped
// convolution with one kernel per channel group), without padding. The output
// is (N, C, H-k+1, W-k+1). The kernel is applied as cross-correlation, which
// is what SSIM-style windowed statistics expect.
func (t *Tensor) Conv2DValid(kernel []float32, k int) (*Tensor, error) {
	if len(kernel) != k*k {
		return nil, fmt.Errorf("%w: kernel has %d elements, want %d", ErrShapeMismatch, len(kernel), k*k)
	}
	n, c, h, w := t.Shape[0], t.Shape[1], t.Shape[2], t.Shape[3]
	oh, ow := h-k+1, w-k+1
	if oh <= 0 || ow <= 0 {
		return nil, fmt.Errorf("%w: kernel %dx%d larger than input %dx%d", ErrShapeMismatch, k, k, h, w)
	}
	out := New(n, c, oh, ow)
	for bi := 0; bi < n; bi++ {
		for ci := 0; ci < c; ci++ {
			for oy := 0; oy < oh; oy++ {
				for ox := 0; ox < ow; ox++ {
					var acc float64
					for ky := 0; ky < k; ky++ {
						row := t.index(bi, ci, oy+ky, ox)
						krow := ky * k
						for kx := 0; kx < k; kx++ {
							acc += float64(t.Data[row+kx]) * float64(kernel[krow+kx])
						}
					}
					out.Set(bi, ci, oy, ox, float32(acc))
				}
			}
		}
	}
	return out, nil
}

// AvgPool2 halves the spatial dimensions with a 2x2, stride-2 mean. Odd
// dimensions are first replicate-padded on the left/top edge, matching the
// multiscale SSIM decimation convention.
func (t *Tensor) AvgPool2() *Tensor {
	src := t
	padH := t.Shape[2] % 2
	padW := t.Shape[3] % 2
	if padH != 0 || padW != 0 {
		pad := padH
		if padW > pad {
			pad = padW
		}
		src = t.PadReplicate(pad, 0, pad, 0)
	}
	return src.avgPool(2)
}

// AvgPoolK decimates the spatial dimensions by factor f with an fxf, stride-f
// mean. Remainder rows/columns are dropped. f <= 1 returns a copy.
func (t *Tensor) AvgPoolK(f int) *Tensor {
	if f <= 1 {
		return t.Clone()
	}
	return t.avgPool(f)
}

func (t *Tensor) avgPool(f int) *Tensor {
	n, c, h, w := t.Shape[0], t.Shape[1], t.Shape[2], t.Shape[3]
	oh, ow := h/f, w/f
	out := New(n, c, oh, ow)
	inv := 1.0 / float64(f*f)
	for bi := 0; bi < n; bi++ {
		for ci := 0; ci < c; ci++ {
			for oy := 0; oy < oh; oy++ {
				for ox := 0; ox < ow; ox++ {
					var acc float64
					for ky := 0; ky < f; ky++ {
						row := t.index(bi, ci, oy*f+ky, ox*f)
						for kx := 0; kx < f; kx++ {
							acc += float64(t.Data[row+kx])
						}
					}
					out.Set(bi, ci, oy, ox, float32(acc*inv))
				}
			}
		}
	}
	return out
}

// PadReplicate pads the spatial dimensions by repeating edge values.
func (t *Tensor) PadReplicate(top, bottom, left, right int) *Tensor {
	n, c, h, w := t.Shape[0], t.Shape[1], t.Shape[2], t.Shape[3]
	oh, ow := h+top+bottom, w+left+right
	out := New(n, c, oh, ow)
	clamp := func(v, hi int) int {
		if v < 0 {
			return 0
		}
		if v >= hi {
			return hi - 1
		}
		return v
	}
	for bi := 0; bi < n; bi++ {
		for ci := 0; ci < c; ci++ {
			for oy := 0; oy < oh; oy++ {
				sy := clamp(oy-top, h)
				for ox := 0; ox < ow; ox++ {
					sx := clamp(ox-left, w)
					out.Set(bi, ci, oy, ox, t.At(bi, ci, sy, sx))
				}
			}
		}
	}
	return out
}

// ResizeBilinear resizes the spatial dimensions to (oh, ow) with bilinear
// interpolation and aligned corners. Used to rescale PSF kernels to an
// image's resolution.
func (t *Tensor) ResizeBilinear(oh, ow int) *Tensor {
	n, c, h, w := t.Shape[0], t.Shape[1], t.Shape[2], t.Shape[3]
	out := New(n, c, oh, ow)
	scaleY := 0.0
	if oh > 1 {
		scaleY = float64(h-1) / float64(oh-1)
	}
	scaleX := 0.0
	if ow > 1 {
		scaleX = float64(w-1) / float64(ow-1)
	}
	for bi := 0; bi < n; bi++ {
		for ci := 0; ci < c; ci++ {
			for oy := 0; oy < oh; oy++ {
				fy := float64(oy) * scaleY
				y0 := int(math.Floor(fy))
				y1 := y0 + 1
				if y1 >= h {
					y1 = h - 1
				}
				wy := fy - float64(y0)
				for ox := 0; ox < ow; ox++ {
					fx := float64(ox) * scaleX
					x0 := int(math.Floor(fx))
					x1 := x0 + 1
					if x1 >= w {
						x1 = w - 1
					}
					wx := fx - float64(x0)
					v := (1-wy)*(1-wx)*float64(t.At(bi, ci, y0, x0)) +
						(1-wy)*wx*float64(t.At(bi, ci, y0, x1)) +
						wy*(1-wx)*float64(t.At(bi, ci, y1, x0)) +
						wy*wx*float64(t.At(bi, ci, y1, x1))
					out.Set(bi, ci, oy, ox, float32(v))
				}
			}
		}
	}
	return out
}

// NormalizePSF scales each batch item so its elements sum to 1. A PSF whose
// elements sum to zero cannot be normalized.
func (t *Tensor) NormalizePSF() (*Tensor, error) {
	out := t.Clone()
	ss := t.SampleSize()
	sums := t.SampleSumF64()
	for n, s := range sums {
		if s == 0 {
			return nil, fmt.Errorf("tensor: psf sample %d sums to zero", n)
		}
		inv := float32(1 / s)
		for i := n * ss; i < (n+1)*ss; i++ {
			out.Data[i] *= inv
		}
	}
	return out, nil
}

// ScaleValue rescales elements linearly so the minimum maps to lo and the
// maximum to hi. A flat tensor keeps its value if it already lies in
// [lo, hi], otherwise it maps to the nearer bound.
func (t *Tensor) ScaleValue(lo, hi float32) *Tensor {
	black := float32(t.MinF64())
	white := float32(t.MaxF64())
	var mul, add float32
	if black == white {
		mul = 0
		switch {
		case lo <= black && black <= hi:
			add = black
		case abs32(black-lo) <= abs32(black-hi):
			add = lo
		default:
			add = hi
		}
	} else {
		mul = (hi - lo) / (white - black)
		add = -black*mul + lo
	}
	out := t.Clone()
	for i, v := range out.Data {
		out.Data[i] = v*mul + add
	}
	return out
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
