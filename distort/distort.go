// Package distort implements the retinal distortion simulators: optical
// blur through a point-spread function and color-vision deficiency. A
// distortion is constructed once per sample from its parameter tensor and
// then applied to precompensated model outputs.
package distort

import (
	"github.com/kirbu123/olimp/tensor"
)

// Distortion turns a precompensated image into a simulated retinal image.
type Distortion interface {
	Apply(img *tensor.Tensor) (*tensor.Tensor, error)
}

// Builder constructs a Distortion from a per-sample parameter tensor (a PSF
// for refraction, a severity map for color blindness).
type Builder func(param *tensor.Tensor) (Distortion, error)
