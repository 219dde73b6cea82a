package metrics

import (
	"math"
	"testing"

	"github.com/kirbu123/olimp/distort"
	"github.com/kirbu123/olimp/tensor"
)

func TestColorBlindnessLossValidation(t *testing.T) {
	opts := DefaultColorBlindnessLossOptions()
	opts.LambdaSSIM = 1.5
	if _, err := NewColorBlindnessLoss(opts); err == nil {
		t.Error("NewColorBlindnessLoss accepted lambda_ssim > 1")
	}
	opts = DefaultColorBlindnessLossOptions()
	opts.Degree = 42
	if _, err := NewColorBlindnessLoss(opts); err == nil {
		t.Error("NewColorBlindnessLoss accepted an off-grid degree")
	}
	opts = DefaultColorBlindnessLossOptions()
	opts.GlobalPoints = 0
	if _, err := NewColorBlindnessLoss(opts); err == nil {
		t.Error("NewColorBlindnessLoss accepted zero global points")
	}
}

func TestColorBlindnessLossGrayIsNearZero(t *testing.T) {
	opts := DefaultColorBlindnessLossOptions()
	opts.GlobalPoints = 500
	cbl, err := NewColorBlindnessLoss(opts)
	if err != nil {
		t.Fatal(err)
	}
	// grays survive the dichromat projection, so a gray precompensation of
	// a gray image is already perfect
	gray := tensor.Full(1, 3, 32, 32, 0.5)
	got, err := cbl.Score(gray, gray)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(got[0]) > 1e-2 {
		t.Errorf("gray loss = %v; want near 0", got[0])
	}
}

func TestColorBlindnessLossPenalizesLostContrast(t *testing.T) {
	opts := DefaultColorBlindnessLossOptions()
	opts.Type = distort.Protan
	opts.GlobalPoints = 500
	cbl, err := NewColorBlindnessLoss(opts)
	if err != nil {
		t.Fatal(err)
	}
	// red/green stripes lose most contrast for a protanope
	img := tensor.New(1, 3, 32, 32)
	for y := 0; y < 32; y++ {
		c := y % 2 // alternate red and green rows
		for x := 0; x < 32; x++ {
			img.Set(0, c, y, x, 1)
		}
	}
	got, err := cbl.Score(img, img)
	if err != nil {
		t.Fatal(err)
	}
	if got[0] <= 0.05 {
		t.Errorf("red/green stripe loss = %v; want a clear penalty", got[0])
	}

	again, err := cbl.Score(img, img)
	if err != nil {
		t.Fatal(err)
	}
	if got[0] != again[0] {
		t.Errorf("loss not deterministic: %v vs %v", got[0], again[0])
	}
}
