package trainconfig

import (
	"encoding/json"
	"fmt"

	"github.com/kirbu123/olimp/colorspace"
	"github.com/kirbu123/olimp/distort"
	"github.com/kirbu123/olimp/metrics"
	"github.com/kirbu123/olimp/models"
	"github.com/kirbu123/olimp/tensor"
)

// BoundLoss is the callable a loss variant produces at Load time. It receives
// the model's raw outputs, the datum tensors for the batch (ground truth
// first, then one parameter tensor per distortion) and the distortion
// builders, and returns the scalar loss.
type BoundLoss func(modelOutput, datums []*tensor.Tensor, distortions []distort.Builder) (float64, error)

// LossVariant is one arm of the loss discriminated union.
type LossVariant interface {
	VariantName() string
	Validate() error
	Load(model models.Model) (BoundLoss, error)
}

// LossConfig wraps the union for JSON decoding.
type LossConfig struct {
	Variant LossVariant
}

func (c *LossConfig) UnmarshalJSON(data []byte) error {
	tag, err := tagOf(data)
	if err != nil {
		return err
	}
	v, err := newLossVariant(tag)
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

func (c LossConfig) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Variant)
}

// newLossVariant maps a tag to a zero variant with its defaults filled in, so
// absent optional fields keep their documented values.
func newLossVariant(tag string) (LossVariant, error) {
	switch tag {
	case "Vae":
		return &VaeLossConfig{}, nil
	case "ColorBlindnessLoss":
		return &ColorBlindnessLossConfig{
			Degree:       100,
			LambdaSSIM:   0.25,
			GlobalPoints: 3000,
		}, nil
	case "MSE":
		return &MSELossConfig{}, nil
	case "PSNR":
		return &PSNRLossConfig{}, nil
	case "NRMSE":
		return &NRMSELossConfig{Normalization: string(metrics.NRMSEEuclidean)}, nil
	case "STRESS":
		return &STRESSLossConfig{}, nil
	case "CORR":
		return &CORRLossConfig{}, nil
	case "SSIM":
		return &SSIMLossConfig{KernelSize: 11, KernelSigma: 1.5, K1: 0.01, K2: 0.03}, nil
	case "MS_SSIM":
		return &MSSSIMLossConfig{KernelSize: 11, KernelSigma: 1.5, K1: 0.01, K2: 0.03}, nil
	case "FSIM":
		return &FSIMLossConfig{
			Reduction:    string(metrics.ReductionMean),
			DataRange:    1,
			Chromatic:    true,
			Scales:       4,
			Orientations: 4,
			MinLength:    6,
			Mult:         2,
			SigmaF:       0.55,
			DeltaTheta:   1.2,
			K:            2,
		}, nil
	case "RMS":
		return &RMSLossConfig{PixelNeighbors: 1000, Step: 10, SigmaRate: 0.25}, nil
	case "CD":
		return &CDLossConfig{}, nil
	}
	return nil, fmt.Errorf("%w: unknown loss %q", ErrValidation, tag)
}

// pairScore is the common shape of the binary metric scorers.
type pairScore func(a, b *tensor.Tensor) ([]float64, error)

// bindComparator wraps a binary metric into the distortion protocol: each
// distortion is built from its parameter datum and applied to the model
// output in order, the result is clipped to [0,1] and compared against
// datums[0].
func bindComparator(score pairScore) BoundLoss {
	return func(modelOutput, datums []*tensor.Tensor, distortions []distort.Builder) (float64, error) {
		if len(modelOutput) < 1 {
			return 0, fmt.Errorf("trainconfig: model produced no outputs")
		}
		if len(distortions) != len(datums)-1 {
			return 0, fmt.Errorf("trainconfig: %d distortions for %d parameter datums",
				len(distortions), len(datums)-1)
		}
		simulated := modelOutput[0]
		for i, build := range distortions {
			d, err := build(datums[i+1])
			if err != nil {
				return 0, err
			}
			if simulated, err = d.Apply(simulated); err != nil {
				return 0, err
			}
		}
		vals, err := score(simulated.Clip(0, 1), datums[0])
		if err != nil {
			return 0, err
		}
		return mean(vals), nil
	}
}

func mean(vals []float64) float64 {
	var s float64
	for _, v := range vals {
		s += v
	}
	return s / float64(len(vals))
}

// VaeLossConfig scores a variational model: L1 reconstruction of the
// retinal (PSF-convolved) precompensation plus the Gaussian KL term from the
// model's latent outputs.
type VaeLossConfig struct {
	Name string `json:"name"`
}

func (*VaeLossConfig) VariantName() string { return "Vae" }
func (*VaeLossConfig) Validate() error     { return nil }

func (v *VaeLossConfig) Load(model models.Model) (BoundLoss, error) {
	if model.Kind() != models.KindVAE {
		return nil, fmt.Errorf("%w: the Vae loss needs a vae-kind model, got %q",
			ErrCompatibility, model.Kind())
	}
	return func(modelOutput, datums []*tensor.Tensor, _ []distort.Builder) (float64, error) {
		if len(datums) != 2 {
			return 0, fmt.Errorf("trainconfig: vae loss expects (image, psf) datums, got %d", len(datums))
		}
		if len(modelOutput) != 3 {
			return 0, fmt.Errorf("trainconfig: vae loss expects (reconstruction, mu, logvar) outputs, got %d",
				len(modelOutput))
		}
		image, psf := datums[0], datums[1]
		retinal, err := modelOutput[0].Clip(0, 1).FFTConv2D(psf)
		if err != nil {
			return 0, err
		}
		return metrics.VAELoss(retinal, image, modelOutput[1], modelOutput[2])
	}, nil
}

// ColorBlindnessLossConfig scores precompensation for a dichromat viewer.
type ColorBlindnessLossConfig struct {
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	Degree       int     `json:"degree"`
	LambdaSSIM   float64 `json:"lambda_ssim"`
	GlobalPoints int     `json:"global_points"`
}

func (*ColorBlindnessLossConfig) VariantName() string { return "ColorBlindnessLoss" }

func (c *ColorBlindnessLossConfig) Validate() error {
	if _, err := c.build(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

func (c *ColorBlindnessLossConfig) build() (*metrics.ColorBlindnessLoss, error) {
	opts := metrics.DefaultColorBlindnessLossOptions()
	opts.Type = distort.CBType(c.Type)
	opts.Degree = c.Degree
	opts.LambdaSSIM = c.LambdaSSIM
	opts.GlobalPoints = c.GlobalPoints
	return metrics.NewColorBlindnessLoss(opts)
}

func (c *ColorBlindnessLossConfig) Load(models.Model) (BoundLoss, error) {
	cbl, err := c.build()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return func(modelOutput, datums []*tensor.Tensor, _ []distort.Builder) (float64, error) {
		if len(datums) != 1 {
			return 0, fmt.Errorf("trainconfig: color blindness loss expects a single image datum, got %d",
				len(datums))
		}
		if len(modelOutput) < 1 {
			return 0, fmt.Errorf("trainconfig: model produced no outputs")
		}
		vals, err := cbl.Score(datums[0], modelOutput[0])
		if err != nil {
			return 0, err
		}
		return mean(vals), nil
	}, nil
}

// MSELossConfig is the plain mean squared error loss.
type MSELossConfig struct {
	Name string `json:"name"`
}

func (*MSELossConfig) VariantName() string { return "MSE" }
func (*MSELossConfig) Validate() error     { return nil }

func (*MSELossConfig) Load(models.Model) (BoundLoss, error) {
	return bindComparator(metrics.MSE{}.Score), nil
}

// PSNRLossConfig scores the peak signal-to-noise ratio.
type PSNRLossConfig struct {
	Name string `json:"name"`
}

func (*PSNRLossConfig) VariantName() string { return "PSNR" }
func (*PSNRLossConfig) Validate() error     { return nil }

func (*PSNRLossConfig) Load(models.Model) (BoundLoss, error) {
	return bindComparator(metrics.NewPSNR(metrics.DefaultPSNROptions()).Score), nil
}

// NRMSELossConfig is normalized root mean squared error.
type NRMSELossConfig struct {
	Name          string `json:"name"`
	Normalization string `json:"normalization"`
	Invert        bool   `json:"invert"`
}

func (*NRMSELossConfig) VariantName() string { return "NRMSE" }

func (c *NRMSELossConfig) Validate() error {
	switch metrics.NRMSENormalization(c.Normalization) {
	case metrics.NRMSEEuclidean, metrics.NRMSEMinMax, metrics.NRMSEMean:
		return nil
	}
	return fmt.Errorf("%w: unknown nrmse normalization %q", ErrValidation, c.Normalization)
}

func (c *NRMSELossConfig) Load(models.Model) (BoundLoss, error) {
	opts := metrics.DefaultNRMSEOptions()
	opts.Normalization = metrics.NRMSENormalization(c.Normalization)
	opts.Invert = c.Invert
	return bindComparator(metrics.NewNRMSE(opts).Score), nil
}

// STRESSLossConfig is the standardized residual sum of squares statistic.
type STRESSLossConfig struct {
	Name string `json:"name"`
}

func (*STRESSLossConfig) VariantName() string { return "STRESS" }
func (*STRESSLossConfig) Validate() error     { return nil }

func (*STRESSLossConfig) Load(models.Model) (BoundLoss, error) {
	return bindComparator(metrics.NewSTRESS(metrics.DefaultSTRESSOptions()).Score), nil
}

// CORRLossConfig is the negated Pearson correlation.
type CORRLossConfig struct {
	Name string `json:"name"`
}

func (*CORRLossConfig) VariantName() string { return "CORR" }
func (*CORRLossConfig) Validate() error     { return nil }

func (*CORRLossConfig) Load(models.Model) (BoundLoss, error) {
	return bindComparator(metrics.NewCorrelation(metrics.DefaultCorrelationOptions()).Score), nil
}

// SSIMLossConfig is 1 - SSIM.
type SSIMLossConfig struct {
	Name        string  `json:"name"`
	KernelSize  int     `json:"kernel_size"`
	KernelSigma float64 `json:"kernel_sigma"`
	K1          float64 `json:"k1"`
	K2          float64 `json:"k2"`
}

func (*SSIMLossConfig) VariantName() string { return "SSIM" }

func (c *SSIMLossConfig) Validate() error {
	if _, err := c.build(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

func (c *SSIMLossConfig) build() (*metrics.SSIM, error) {
	opts := metrics.DefaultSSIMOptions()
	opts.KernelSize = c.KernelSize
	opts.KernelSigma = c.KernelSigma
	opts.K1 = c.K1
	opts.K2 = c.K2
	return metrics.NewSSIM(opts)
}

func (c *SSIMLossConfig) Load(models.Model) (BoundLoss, error) {
	ssim, err := c.build()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return bindComparator(ssim.Loss), nil
}

// MSSSIMLossConfig is 1 - MS-SSIM.
type MSSSIMLossConfig struct {
	Name        string  `json:"name"`
	KernelSize  int     `json:"kernel_size"`
	KernelSigma float64 `json:"kernel_sigma"`
	K1          float64 `json:"k1"`
	K2          float64 `json:"k2"`
}

func (*MSSSIMLossConfig) VariantName() string { return "MS_SSIM" }

func (c *MSSSIMLossConfig) Validate() error {
	if _, err := c.build(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

func (c *MSSSIMLossConfig) build() (*metrics.MSSSIM, error) {
	opts := metrics.DefaultMSSSIMOptions()
	opts.KernelSize = c.KernelSize
	opts.KernelSigma = c.KernelSigma
	opts.K1 = c.K1
	opts.K2 = c.K2
	return metrics.NewMSSSIM(opts)
}

func (c *MSSSIMLossConfig) Load(models.Model) (BoundLoss, error) {
	ms, err := c.build()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return bindComparator(ms.Loss), nil
}

// FSIMLossConfig is 1 - FSIM.
type FSIMLossConfig struct {
	Name         string  `json:"name"`
	Reduction    string  `json:"reduction"`
	DataRange    float64 `json:"data_range"`
	Chromatic    bool    `json:"chromatic"`
	Scales       int     `json:"scales"`
	Orientations int     `json:"orientations"`
	MinLength    int     `json:"min_length"`
	Mult         int     `json:"mult"`
	SigmaF       float64 `json:"sigma_f"`
	DeltaTheta   float64 `json:"delta_theta"`
	K            float64 `json:"k"`
}

func (*FSIMLossConfig) VariantName() string { return "FSIM" }

func (c *FSIMLossConfig) Validate() error {
	if _, err := c.build(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

func (c *FSIMLossConfig) build() (*metrics.FSIM, error) {
	opts := metrics.DefaultFSIMOptions()
	opts.Reduction = metrics.Reduction(c.Reduction)
	opts.DataRange = c.DataRange
	opts.Chromatic = c.Chromatic
	opts.Scales = c.Scales
	opts.Orientations = c.Orientations
	opts.MinLength = c.MinLength
	opts.Mult = c.Mult
	opts.SigmaF = c.SigmaF
	opts.DeltaTheta = c.DeltaTheta
	opts.K = c.K
	return metrics.NewFSIM(opts)
}

func (c *FSIMLossConfig) Load(models.Model) (BoundLoss, error) {
	fsim, err := c.build()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return bindComparator(fsim.Loss), nil
}

// RMSLossConfig is the sampled local contrast difference metric.
type RMSLossConfig struct {
	Name           string  `json:"name"`
	ColorSpace     string  `json:"color_space"`
	PixelNeighbors int     `json:"n_pixel_neighbors"`
	Step           int     `json:"step"`
	SigmaRate      float64 `json:"sigma_rate"`
}

func (*RMSLossConfig) VariantName() string { return "RMS" }

func (c *RMSLossConfig) Validate() error {
	if _, err := c.build(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

func (c *RMSLossConfig) build() (*metrics.RMS, error) {
	opts := metrics.DefaultRMSOptions()
	opts.Space = colorspace.Space(c.ColorSpace)
	opts.PixelNeighbors = c.PixelNeighbors
	opts.Step = c.Step
	opts.SigmaRate = c.SigmaRate
	return metrics.NewRMS(opts)
}

func (c *RMSLossConfig) Load(models.Model) (BoundLoss, error) {
	rms, err := c.build()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return bindComparator(rms.Score), nil
}

// CDLossConfig is the per-pixel color difference metric.
type CDLossConfig struct {
	Name            string  `json:"name"`
	ColorSpace      string  `json:"color_space"`
	LightnessWeight float64 `json:"lightness_weight"`
}

func (*CDLossConfig) VariantName() string { return "CD" }

func (c *CDLossConfig) Validate() error {
	if _, err := c.build(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

func (c *CDLossConfig) build() (*metrics.CD, error) {
	opts := metrics.DefaultCDOptions()
	opts.Space = colorspace.Space(c.ColorSpace)
	opts.LightnessWeight = c.LightnessWeight
	return metrics.NewCD(opts)
}

func (c *CDLossConfig) Load(models.Model) (BoundLoss, error) {
	cd, err := c.build()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return bindComparator(cd.Score), nil
}
