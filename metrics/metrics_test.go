package metrics

import (
	"errors"
	"math"
	"testing"

	"github.com/kirbu123/olimp/colorspace"
	"github.com/kirbu123/olimp/tensor"
)

// zeroPair returns two all-zero batches.
func zeroPair(n, c, h, w int) (*tensor.Tensor, *tensor.Tensor) {
	return tensor.New(n, c, h, w), tensor.New(n, c, h, w)
}

// nonzeroPair returns the canonical two-sample fixture: the first input is
// zeros with a 0.5-valued block at rows 16:48, cols 0:32 of channel 0 in
// sample 0; the second is ones with a 0.5-valued corner block at rows 0:32,
// cols 0:32 of channel 0 in sample 0. Sample 1 is plain zeros vs ones.
func nonzeroPair(h, w int) (*tensor.Tensor, *tensor.Tensor) {
	pred := tensor.New(2, 3, h, w)
	for y := 16; y < 48; y++ {
		for x := 0; x < 32; x++ {
			pred.Set(0, 0, y, x, 0.5)
		}
	}
	target := tensor.Full(2, 3, h, w, 1)
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			target.Set(0, 0, y, x, 0.5)
		}
	}
	return pred, target
}

func assertClose(t *testing.T, got, want, tol float64, what string) {
	t.Helper()
	if math.IsInf(want, 1) || math.IsInf(want, -1) || math.IsNaN(want) {
		if got != want && !(math.IsNaN(got) && math.IsNaN(want)) {
			t.Errorf("%s = %v; want %v", what, got, want)
		}
		return
	}
	if math.Abs(got-want) > tol {
		t.Errorf("%s = %v; want %v (tol %v)", what, got, want, tol)
	}
}

func TestReduce(t *testing.T) {
	vals := []float64{1, 2, 4}
	none, err := Reduce(vals, ReductionNone)
	if err != nil || len(none) != 3 {
		t.Fatalf("Reduce none = %v, %v", none, err)
	}
	mean, _ := Reduce(vals, ReductionMean)
	if mean[0] != 7.0/3 {
		t.Errorf("Reduce mean = %v; want %v", mean[0], 7.0/3)
	}
	sum, _ := Reduce(vals, ReductionSum)
	if sum[0] != 7 {
		t.Errorf("Reduce sum = %v; want 7", sum[0])
	}
	if _, err := Reduce(vals, "median"); err == nil {
		t.Error("Reduce accepted an unknown mode")
	}
}

func TestMSE(t *testing.T) {
	a, b := zeroPair(2, 3, 64, 48)
	got, err := MSE{}.Score(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if got[0] != 0 {
		t.Errorf("mse of identical zeros = %v; want 0", got[0])
	}

	pred, target := nonzeroPair(128, 256)
	got, err = MSE{}.Score(pred, target)
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, got[0], 0.993489563465, 1e-6, "mse")
}

func TestPSNR(t *testing.T) {
	psnr := NewPSNR(DefaultPSNROptions())

	a, b := zeroPair(2, 3, 64, 48)
	got, err := psnr.Score(a, b)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range got {
		if !math.IsInf(v, 1) {
			t.Errorf("psnr identical sample %d = %v; want +Inf", i, v)
		}
	}

	pred, target := nonzeroPair(128, 256)
	got, err = psnr.Score(pred, target)
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, got[0], -5.96368026733, 1e-4, "psnr sample 0")
	assertClose(t, got[1], math.Inf(-1), 0, "psnr sample 1")
}

func TestNRMSE(t *testing.T) {
	a, b := zeroPair(2, 3, 64, 48)
	got, err := NewNRMSE(DefaultNRMSEOptions()).Score(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if got[0] != 0 {
		t.Errorf("nrmse of identical zeros = %v; want 0", got[0])
	}

	pred, target := nonzeroPair(128, 256)
	tests := []struct {
		norm NRMSENormalization
		want float64
		tol  float64
	}{
		{NRMSEEuclidean, -26.62245368957, 1e-4},
		{NRMSEMean, -381.747924804, 1e-3},
		{NRMSEMinMax, -0.993478894233, 1e-6},
	}
	for _, tt := range tests {
		t.Run(string(tt.norm), func(t *testing.T) {
			m := NewNRMSE(NRMSEOptions{Normalization: tt.norm, Invert: true})
			got, err := m.Score(pred, target)
			if err != nil {
				t.Fatal(err)
			}
			assertClose(t, got[0], tt.want, tt.tol, "nrmse")
		})
	}
}

func TestNRMSEDegenerateDenominator(t *testing.T) {
	a := tensor.New(1, 1, 2, 2) // zeros: euclidean denominator is zero
	b := tensor.Full(1, 1, 2, 2, 1)
	if _, err := NewNRMSE(DefaultNRMSEOptions()).Score(a, b); !errors.Is(err, ErrDegenerateInput) {
		t.Errorf("nrmse error = %v; want ErrDegenerateInput", err)
	}
}

func TestSTRESS(t *testing.T) {
	a, b := zeroPair(2, 3, 64, 48)
	got, err := NewSTRESS(STRESSOptions{Invert: true}).Score(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if got[0] != 1 || got[1] != 1 {
		t.Errorf("stress(invert) of zeros = %v; want [1 1]", got)
	}

	pred, target := nonzeroPair(128, 256)
	got, err = NewSTRESS(STRESSOptions{Invert: true}).Score(pred, target)
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, got[0], 0.0029571056365966797, 1e-6, "stress invert sample 0")
	assertClose(t, got[1], 1.0, 0, "stress invert sample 1")

	got, err = NewSTRESS(DefaultSTRESSOptions()).Score(pred, target)
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, got[0], 1-0.0029571056365966797, 1e-6, "stress sample 0")
	assertClose(t, got[1], 0.0, 0, "stress sample 1")
}

func TestCorrelation(t *testing.T) {
	a, b := zeroPair(2, 3, 64, 48)
	got, err := NewCorrelation(CorrelationOptions{Invert: true}).Score(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if got[0] != 1 || got[1] != 1 {
		t.Errorf("corr(invert) of zeros = %v; want [1 1]", got)
	}

	pred, target := nonzeroPair(128, 256)
	got, err = NewCorrelation(CorrelationOptions{Invert: true}).Score(pred, target)
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, got[0], 1.49472975730896, 1e-5, "corr invert sample 0")
	assertClose(t, got[1], 1.0, 0, "corr invert sample 1")

	got, err = NewCorrelation(DefaultCorrelationOptions()).Score(pred, target)
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, got[0], -0.49472978711128235, 1e-5, "corr sample 0")
	assertClose(t, got[1], 0.0, 0, "corr sample 1")
}

func TestRMSE(t *testing.T) {
	a, b := zeroPair(2, 3, 32, 32)
	got, err := NewRMSE(RMSEOptions{Space: RMSESpaceLab, Reduction: ReductionMean}).Score(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if got[0] != 0 {
		t.Errorf("rmse of identical zeros = %v; want 0", got[0])
	}

	pred, target := nonzeroPair(128, 256)
	tests := []struct {
		space RMSESpace
		want  [2]float64
		tol   float64
	}{
		{RMSESpaceSRGB, [2]float64{311.4867553710, 313.534698486}, 1e-2},
		{RMSESpaceLab, [2]float64{181.475875854, 181.0193328857}, 0.05},
		{RMSESpaceOkLab, [2]float64{179.1174468994, 181.019332885}, 0.05},
		{RMSESpaceProLab, [2]float64{180.13354492, 181.019332885}, 0.05},
	}
	for _, tt := range tests {
		t.Run(string(tt.space), func(t *testing.T) {
			m := NewRMSE(RMSEOptions{Space: tt.space, Reduction: ReductionNone})
			got, err := m.Score(pred, target)
			if err != nil {
				t.Fatal(err)
			}
			assertClose(t, got[0], tt.want[0], tt.tol, "rmse sample 0")
			assertClose(t, got[1], tt.want[1], tt.tol, "rmse sample 1")
		})
	}
}

func TestVAELoss(t *testing.T) {
	pred, target := zeroPair(2, 3, 256, 192)
	mu := tensor.Scalar(0.5)
	logVar := tensor.Scalar(0.2)
	got, err := VAELoss(pred, target, mu, logVar)
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, got, 0.1357013583, 1e-6, "vae loss on zeros")

	pred, target = nonzeroPair(128, 256)
	got, err = VAELoss(pred, target, mu, logVar)
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, got, 195584.14, 0.01, "vae loss on nonzero pair")
}

func TestCD(t *testing.T) {
	for _, space := range []colorspace.Space{colorspace.SpaceLab, colorspace.SpaceProLab} {
		m, err := NewCD(CDOptions{Space: space, Reduction: ReductionNone})
		if err != nil {
			t.Fatal(err)
		}
		a, b := zeroPair(2, 3, 16, 16)
		got, err := m.Score(a, b)
		if err != nil {
			t.Fatal(err)
		}
		if got[0] != 0 || got[1] != 0 {
			t.Errorf("%s cd of zeros = %v; want [0 0]", space, got)
		}
	}

	// With zero lightness weight, a pure lightness difference scores 0 in
	// lab while a hue difference does not.
	black := tensor.New(1, 3, 8, 8)
	white := tensor.Full(1, 3, 8, 8, 1)
	m, _ := NewCD(CDOptions{Space: colorspace.SpaceLab})
	got, err := m.Score(black, white)
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, got[0], 0, 1e-4, "lab cd black vs white")

	red := tensor.New(1, 3, 8, 8)
	green := tensor.New(1, 3, 8, 8)
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			red.Set(0, 0, y, x, 1)
			green.Set(0, 1, y, x, 1)
		}
	}
	got, err = m.Score(red, green)
	if err != nil {
		t.Fatal(err)
	}
	if got[0] <= 1 {
		t.Errorf("lab cd red vs green = %v; want a large chromatic distance", got[0])
	}

	weighted, _ := NewCD(CDOptions{Space: colorspace.SpaceLab, LightnessWeight: 1})
	got, err = weighted.Score(black, white)
	if err != nil {
		t.Fatal(err)
	}
	if got[0] <= 50 {
		t.Errorf("weighted lab cd black vs white = %v; want the full lightness gap", got[0])
	}
}

func TestRMSZeroPairs(t *testing.T) {
	for _, space := range []colorspace.Space{colorspace.SpaceLab, colorspace.SpaceProLab} {
		opts := DefaultRMSOptions()
		opts.Space = space
		opts.PixelNeighbors = 100
		m, err := NewRMS(opts)
		if err != nil {
			t.Fatal(err)
		}
		a, b := zeroPair(2, 3, 40, 50)
		got, err := m.Score(a, b)
		if err != nil {
			t.Fatal(err)
		}
		if got[0] != 0 || got[1] != 0 {
			t.Errorf("%s rms of zeros = %v; want [0 0]", space, got)
		}
	}
}

func TestRMSFlatImagesScoreZero(t *testing.T) {
	// Constant images have zero internal contrast everywhere, so the
	// contrast difference is zero regardless of the random neighbor draw.
	opts := DefaultRMSOptions()
	opts.PixelNeighbors = 100
	m, _ := NewRMS(opts)
	a := tensor.New(1, 3, 40, 50)
	b := tensor.Full(1, 3, 40, 50, 1)
	got, err := m.Score(a, b)
	if err != nil {
		t.Fatal(err)
	}
	assertClose(t, got[0], 0, 1e-9, "rms of two flat images")
}

func TestRMSDeterministicPerInput(t *testing.T) {
	opts := DefaultRMSOptions()
	opts.PixelNeighbors = 200
	m, _ := NewRMS(opts)
	a := tensor.New(1, 3, 40, 50)
	b := tensor.New(1, 3, 40, 50)
	for y := 0; y < 40; y++ {
		for x := 0; x < 50; x++ {
			v := float32(y^x) / 64
			a.Set(0, 0, y, x, v)
			b.Set(0, 1, y, x, 1-v)
		}
	}
	first, err := m.Score(a, b)
	if err != nil {
		t.Fatal(err)
	}
	second, err := m.Score(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if first[0] != second[0] {
		t.Errorf("rms not deterministic for identical inputs: %v vs %v", first[0], second[0])
	}
	if first[0] <= 0 {
		t.Errorf("rms of structurally different images = %v; want > 0", first[0])
	}
}

func TestContrastSim(t *testing.T) {
	m, err := NewContrastSim(DefaultContrastSimOptions())
	if err != nil {
		t.Fatal(err)
	}
	a, b := zeroPair(2, 3, 20, 20)
	got, err := m.Score(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if got[0] != 0 || got[1] != 0 {
		t.Errorf("contrast sim of zeros = %v; want [0 0]", got)
	}

	// Structured test image against a flat reference: the reference has no
	// local contrast anywhere, so the relative deviation diverges.
	structured := tensor.New(1, 3, 20, 20)
	for y := 8; y < 12; y++ {
		for x := 8; x < 12; x++ {
			structured.Set(0, 0, y, x, 0.5)
		}
	}
	flat := tensor.Full(1, 3, 20, 20, 1)
	got, err = m.Score(structured, flat)
	if err != nil {
		t.Fatal(err)
	}
	if !math.IsInf(got[0], 1) {
		t.Errorf("contrast sim vs flat reference = %v; want +Inf", got[0])
	}
}
