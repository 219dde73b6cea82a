package distort

import (
	"fmt"

	"github.com/kirbu123/olimp/colorspace"
	"github.com/kirbu123/olimp/tensor"
)

// CBType names a dichromacy class.
type CBType string

const (
	Protan CBType = "protan"
	Deutan CBType = "deutan"
)

// Linear RGB to LMS transform from Vienot, Brettel and Mollon (1999). The
// dichromat projection coefficients below are derived in this basis and are
// only valid together with it.
var rgbToLMS = [3][3]float64{
	{17.8824, 43.5161, 4.11935},
	{3.45565, 27.1554, 3.86714},
	{0.0299566, 0.184309, 1.46709},
}

var lmsToRGB = colorspace.Inv3(rgbToLMS)

// ColorBlindness simulates protan or deutan color-vision deficiency with
// the Vienot LMS projection, blended with the identity by severity. The
// projection keeps white and the 475nm blue axis fixed, so grays pass
// through unchanged.
type ColorBlindness struct {
	cbType   CBType
	severity float64 // degree / 100
}

// NewColorBlindness builds a simulator for the given deficiency type and
// degree. Degree must be one of 10, 20, ..., 100.
func NewColorBlindness(cbType CBType, degree int) (*ColorBlindness, error) {
	if cbType != Protan && cbType != Deutan {
		return nil, fmt.Errorf("distort: unknown color blindness type %q", cbType)
	}
	if degree < 10 || degree > 100 || degree%10 != 0 {
		return nil, fmt.Errorf("distort: color blindness degree must be a multiple of 10 in [10, 100], got %d", degree)
	}
	return &ColorBlindness{cbType: cbType, severity: float64(degree) / 100}, nil
}

// project collapses the missing cone's response onto the remaining plane.
func (c *ColorBlindness) project(lms [3]float64) [3]float64 {
	switch c.cbType {
	case Protan:
		lms[0] = 2.02344*lms[1] - 2.52581*lms[2]
	case Deutan:
		lms[1] = 0.494207*lms[0] + 1.24827*lms[2]
	}
	return lms
}

// Apply simulates the deficiency on a 3-channel sRGB image.
func (c *ColorBlindness) Apply(img *tensor.Tensor) (*tensor.Tensor, error) {
	if img.C() != 3 {
		return nil, fmt.Errorf("%w: color blindness simulation needs 3 channels, got %d",
			tensor.ErrShapeMismatch, img.C())
	}
	out := tensor.New(img.N(), 3, img.H(), img.W())
	n, h, w := img.N(), img.H(), img.W()
	for bi := 0; bi < n; bi++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				lin := [3]float64{
					colorspace.LinearizeSRGB(float64(img.At(bi, 0, y, x))),
					colorspace.LinearizeSRGB(float64(img.At(bi, 1, y, x))),
					colorspace.LinearizeSRGB(float64(img.At(bi, 2, y, x))),
				}
				lms := colorspace.MulVec3(rgbToLMS, lin)
				sim := c.project(lms)
				for i := 0; i < 3; i++ {
					sim[i] = c.severity*sim[i] + (1-c.severity)*lms[i]
				}
				back := colorspace.MulVec3(lmsToRGB, sim)
				for ci := 0; ci < 3; ci++ {
					out.Set(bi, ci, y, x, float32(colorspace.DelinearizeSRGB(back[ci])))
				}
			}
		}
	}
	return out, nil
}

// ColorBlindnessBuilder returns a Builder whose parameter tensor carries the
// severity degree as a single value.
func ColorBlindnessBuilder(cbType CBType) Builder {
	return func(param *tensor.Tensor) (Distortion, error) {
		if param.NumEl() != 1 {
			return nil, fmt.Errorf("%w: color blindness parameter must be a single degree value", tensor.ErrShapeMismatch)
		}
		return NewColorBlindness(cbType, int(param.Data[0]))
	}
}
