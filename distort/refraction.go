package distort

import (
	"fmt"

	"github.com/kirbu123/olimp/tensor"
)

// Refraction simulates optical blur by circular convolution with a
// point-spread function. The PSF is stored normalized so each sample's
// kernel sums to 1.
type Refraction struct {
	psf *tensor.Tensor
}

// NewRefraction builds a refraction distortion from a PSF batch. The PSF is
// normalized per sample; a zero PSF is rejected.
func NewRefraction(psf *tensor.Tensor) (*Refraction, error) {
	norm, err := psf.NormalizePSF()
	if err != nil {
		return nil, fmt.Errorf("distort: %w", err)
	}
	return &Refraction{psf: norm}, nil
}

// RefractionBuilder is the Builder for PSF parameter tensors.
func RefractionBuilder(psf *tensor.Tensor) (Distortion, error) {
	return NewRefraction(psf)
}

// Apply convolves the image with the PSF in the frequency domain. A PSF
// whose resolution differs from the image is first resized bilinearly and
// renormalized.
func (r *Refraction) Apply(img *tensor.Tensor) (*tensor.Tensor, error) {
	psf := r.psf
	if psf.H() != img.H() || psf.W() != img.W() {
		resized := psf.ResizeBilinear(img.H(), img.W())
		norm, err := resized.NormalizePSF()
		if err != nil {
			return nil, fmt.Errorf("distort: resized psf: %w", err)
		}
		psf = norm
	}
	return img.FFTConv2D(psf)
}
