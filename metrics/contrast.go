package metrics

import (
	"fmt"
	"math"

	"github.com/kirbu123/olimp/tensor"
)

// ContrastSimOptions configures ContrastSim.
type ContrastSimOptions struct {
	WindowSize int
	Reduction  Reduction
}

func DefaultContrastSimOptions() ContrastSimOptions {
	return ContrastSimOptions{WindowSize: 5, Reduction: ReductionNone}
}

// ContrastSim compares local contrast structure. For every interior pixel
// and every non-center offset inside the window it measures the channel-
// summed absolute difference to the displaced pixel, then averages the
// relative deviation |ca-cb|/cb over all pixel-offset pairs. A zero
// reference contrast with zero test contrast contributes 0; with nonzero
// test contrast the ratio is +Inf and propagates, which is a valid output.
type ContrastSim struct {
	opts ContrastSimOptions
}

func NewContrastSim(opts ContrastSimOptions) (*ContrastSim, error) {
	if opts.WindowSize < 1 {
		return nil, fmt.Errorf("metrics: contrast window size must be positive, got %d", opts.WindowSize)
	}
	return &ContrastSim{opts: opts}, nil
}

// localContrast is the channel-summed absolute difference between the pixel
// at (y, x) and the pixel displaced by (dy, dx).
func localContrast(t *tensor.Tensor, n, y, x, dy, dx int) float64 {
	var acc float64
	for c := 0; c < t.C(); c++ {
		acc += math.Abs(float64(t.At(n, c, y, x)) - float64(t.At(n, c, y+dy, x+dx)))
	}
	return acc
}

func (m *ContrastSim) Score(a, b *tensor.Tensor) ([]float64, error) {
	if err := checkPair(a, b); err != nil {
		return nil, err
	}
	ws := m.opts.WindowSize
	h, w := a.H(), a.W()
	if h <= 2*ws || w <= 2*ws {
		return nil, fmt.Errorf("%w: image %dx%d too small for contrast window %d", tensor.ErrShapeMismatch, h, w, ws)
	}
	out := make([]float64, a.N())
	for n := range out {
		var acc float64
		var count int
		for y := ws; y < h-ws; y++ {
			for x := ws; x < w-ws; x++ {
				for dy := -ws; dy <= ws; dy++ {
					for dx := -ws; dx <= ws; dx++ {
						if dy == 0 && dx == 0 {
							continue
						}
						ca := localContrast(a, n, y, x, dy, dx)
						cb := localContrast(b, n, y, x, dy, dx)
						count++
						if cb == 0 {
							if ca != 0 {
								acc = math.Inf(1)
							}
							continue
						}
						acc += math.Abs(ca-cb) / cb
					}
				}
			}
		}
		out[n] = acc / float64(count)
	}
	return Reduce(out, m.opts.Reduction)
}
