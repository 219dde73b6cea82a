package trainconfig

import (
	"encoding/json"
	"fmt"

	"github.com/kirbu123/olimp/distort"
	"github.com/kirbu123/olimp/tensor"
)

// DistortionVariant is one arm of the distortion discriminated union. The
// builder consumes one parameter tensor per batch; the parameter comes from
// a dataset (a PSF bank) or is fixed by the configuration (a CVD degree).
type DistortionVariant interface {
	VariantName() string
	Validate() error
	Builder() distort.Builder

	// ParameterDataset names the dataset supplying per-sample parameter
	// tensors, or nil when FixedParameter covers it.
	ParameterDataset() *DatasetConfig
	// FixedParameter returns the constant parameter tensor, or nil when the
	// parameter comes from a dataset.
	FixedParameter() *tensor.Tensor
}

// DistortionConfig wraps the union for JSON decoding.
type DistortionConfig struct {
	Variant DistortionVariant
}

func (c *DistortionConfig) UnmarshalJSON(data []byte) error {
	tag, err := tagOf(data)
	if err != nil {
		return err
	}
	v, err := newDistortionVariant(tag)
	if err != nil {
		return err
	}
	if err := strictUnmarshal(data, v); err != nil {
		return err
	}
	if err := v.Validate(); err != nil {
		return err
	}
	c.Variant = v
	return nil
}

func (c DistortionConfig) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Variant)
}

func newDistortionVariant(tag string) (DistortionVariant, error) {
	switch tag {
	case "refraction_datasets":
		return &RefractionDistortionConfig{}, nil
	case "cvd":
		return &CVDDistortionConfig{Degree: 100}, nil
	}
	return nil, fmt.Errorf("%w: unknown distortion %q", ErrValidation, tag)
}

// RefractionDistortionConfig simulates refractive blur. The PSF dataset
// supplies one kernel tensor per sample.
type RefractionDistortionConfig struct {
	Name string        `json:"name"`
	PSF  DatasetConfig `json:"psf"`
}

func (*RefractionDistortionConfig) VariantName() string { return "refraction_datasets" }

func (c *RefractionDistortionConfig) Validate() error {
	if c.PSF.Variant == nil {
		return fmt.Errorf("%w: refraction distortion needs a psf dataset", ErrValidation)
	}
	return c.PSF.Variant.Validate()
}

func (c *RefractionDistortionConfig) Builder() distort.Builder { return distort.RefractionBuilder }

func (c *RefractionDistortionConfig) ParameterDataset() *DatasetConfig { return &c.PSF }
func (c *RefractionDistortionConfig) FixedParameter() *tensor.Tensor   { return nil }

// CVDDistortionConfig simulates a color-vision deficiency at a fixed degree.
type CVDDistortionConfig struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Degree int    `json:"degree"`
}

func (*CVDDistortionConfig) VariantName() string { return "cvd" }

func (c *CVDDistortionConfig) Validate() error {
	if _, err := distort.NewColorBlindness(distort.CBType(c.Type), c.Degree); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

func (c *CVDDistortionConfig) Builder() distort.Builder {
	return distort.ColorBlindnessBuilder(distort.CBType(c.Type))
}

func (c *CVDDistortionConfig) ParameterDataset() *DatasetConfig { return nil }

func (c *CVDDistortionConfig) FixedParameter() *tensor.Tensor {
	return tensor.Scalar(float32(c.Degree))
}
