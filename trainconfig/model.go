package trainconfig

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kirbu123/olimp/models"
)

// ModelVariant is one arm of the model discriminated union. GetInstance
// resolves the weight reference (local path, https or s3) and opens an ONNX
// session for it.
type ModelVariant interface {
	VariantName() string
	Validate() error
	GetInstance(ctx context.Context, resolve models.ResolveOptions) (models.Model, error)
}

// ModelConfig wraps the union for JSON decoding.
type ModelConfig struct {
	Variant ModelVariant
}

func (c *ModelConfig) UnmarshalJSON(data []byte) error {
	tag, err := tagOf(data)
	if err != nil {
		return err
	}
	v, err := newModelVariant(tag)
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

func (c ModelConfig) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Variant)
}

func newModelVariant(tag string) (ModelVariant, error) {
	switch tag {
	case "vdsr":
		return &VDSRModelConfig{}, nil
	case "vae":
		return &VAEModelConfig{}, nil
	case "cvae":
		return &CVAEModelConfig{}, nil
	case "unet_b0":
		return &UNetB0ModelConfig{}, nil
	case "precompensationusrnet":
		return &USRNetModelConfig{
			NIter: 8,
			HNC:   64,
			InNC:  4,
			OutNC: 3,
			NC:    []int{64, 128, 256, 512},
			NB:    2,
		}, nil
	case "precompensationdwdn":
		return &DWDNModelConfig{NLevels: 1}, nil
	}
	return nil, fmt.Errorf("%w: unknown model %q", ErrValidation, tag)
}

// openSession is the shared weight-resolution and session-construction path.
// This toolkit evaluates pretrained models, so an empty path is an error
// rather than an untrained architecture.
func openSession(ctx context.Context, tag, path string, kind models.ModelKind, resolve models.ResolveOptions) (models.Model, error) {
	if path == "" {
		return nil, fmt.Errorf("trainconfig: model %q has no weights path; evaluation needs pretrained weights", tag)
	}
	local, err := models.ResolveWeights(ctx, path, resolve)
	if err != nil {
		return nil, err
	}
	opts := models.DefaultOptions()
	opts.Kind = kind
	opts.ORTSharedLibraryPath = resolve.ORTSharedLibraryPath
	if kind == models.KindVAE {
		opts.OutputNames = []string{"output", "mu", "logvar"}
	}
	return models.NewONNXModel(local, opts)
}

// VDSRModelConfig selects the VDSR super-resolution precompensator.
type VDSRModelConfig struct {
	Name string `json:"name"`
	Path string `json:"path,omitempty"`
}

func (*VDSRModelConfig) VariantName() string { return "vdsr" }
func (*VDSRModelConfig) Validate() error     { return nil }

func (c *VDSRModelConfig) GetInstance(ctx context.Context, resolve models.ResolveOptions) (models.Model, error) {
	return openSession(ctx, c.Name, c.Path, models.KindStandard, resolve)
}

// VAEModelConfig selects the variational autoencoder precompensator. Its
// session exposes the reconstruction plus the latent mean and log-variance.
type VAEModelConfig struct {
	Name string `json:"name"`
	Path string `json:"path,omitempty"`
}

func (*VAEModelConfig) VariantName() string { return "vae" }
func (*VAEModelConfig) Validate() error     { return nil }

func (c *VAEModelConfig) GetInstance(ctx context.Context, resolve models.ResolveOptions) (models.Model, error) {
	return openSession(ctx, c.Name, c.Path, models.KindVAE, resolve)
}

// CVAEModelConfig selects the conditional VAE precompensator.
type CVAEModelConfig struct {
	Name string `json:"name"`
	Path string `json:"path,omitempty"`
}

func (*CVAEModelConfig) VariantName() string { return "cvae" }
func (*CVAEModelConfig) Validate() error     { return nil }

func (c *CVAEModelConfig) GetInstance(ctx context.Context, resolve models.ResolveOptions) (models.Model, error) {
	return openSession(ctx, c.Name, c.Path, models.KindVAE, resolve)
}

// UNetB0ModelConfig selects the EfficientNet-B0 U-Net precompensator.
type UNetB0ModelConfig struct {
	Name string `json:"name"`
	Path string `json:"path,omitempty"`
}

func (*UNetB0ModelConfig) VariantName() string { return "unet_b0" }
func (*UNetB0ModelConfig) Validate() error     { return nil }

func (c *UNetB0ModelConfig) GetInstance(ctx context.Context, resolve models.ResolveOptions) (models.Model, error) {
	return openSession(ctx, c.Name, c.Path, models.KindStandard, resolve)
}

// USRNetModelConfig selects the USRNet unrolled deblurring precompensator.
// The architecture fields describe the exported graph; the weights file is
// authoritative, so they are documentation for the experiment record.
type USRNetModelConfig struct {
	Name  string `json:"name"`
	Path  string `json:"path,omitempty"`
	NIter int    `json:"n_iter"`
	HNC   int    `json:"h_nc"`
	InNC  int    `json:"in_nc"`
	OutNC int    `json:"out_nc"`
	NC    []int  `json:"nc"`
	NB    int    `json:"nb"`
}

func (*USRNetModelConfig) VariantName() string { return "precompensationusrnet" }

func (c *USRNetModelConfig) Validate() error {
	if c.NIter < 1 || c.NB < 1 || len(c.NC) == 0 {
		return fmt.Errorf("%w: usrnet architecture fields must be positive", ErrValidation)
	}
	return nil
}

func (c *USRNetModelConfig) GetInstance(ctx context.Context, resolve models.ResolveOptions) (models.Model, error) {
	return openSession(ctx, c.Name, c.Path, models.KindStandard, resolve)
}

// DWDNModelConfig selects the DWDN deconvolution precompensator.
type DWDNModelConfig struct {
	Name    string `json:"name"`
	Path    string `json:"path,omitempty"`
	NLevels int    `json:"n_levels"`
}

func (*DWDNModelConfig) VariantName() string { return "precompensationdwdn" }

func (c *DWDNModelConfig) Validate() error {
	if c.NLevels < 1 {
		return fmt.Errorf("%w: dwdn n_levels must be positive", ErrValidation)
	}
	return nil
}

func (c *DWDNModelConfig) GetInstance(ctx context.Context, resolve models.ResolveOptions) (models.Model, error) {
	return openSession(ctx, c.Name, c.Path, models.KindStandard, resolve)
}
