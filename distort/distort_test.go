package distort

import (
	"math"
	"testing"

	"github.com/kirbu123/olimp/tensor"
)

func TestRefractionDeltaPSFIsIdentity(t *testing.T) {
	img, _ := tensor.FromSlice(1, 1, 2, 3, []float32{0.1, 0.2, 0.3, 0.4, 0.5, 0.6})
	psf := tensor.New(1, 1, 2, 3)
	psf.Data[0] = 1
	d, err := NewRefraction(psf)
	if err != nil {
		t.Fatal(err)
	}
	out, err := d.Apply(img)
	if err != nil {
		t.Fatal(err)
	}
	for i := range img.Data {
		if math.Abs(float64(out.Data[i])-float64(img.Data[i])) > 1e-5 {
			t.Errorf("delta psf output [%d] = %v; want %v", i, out.Data[i], img.Data[i])
		}
	}
}

func TestRefractionNormalizesPSF(t *testing.T) {
	img := tensor.Full(1, 1, 4, 4, 0.5)
	psf := tensor.Full(1, 1, 4, 4, 3) // unnormalized blur
	d, err := NewRefraction(psf)
	if err != nil {
		t.Fatal(err)
	}
	out, err := d.Apply(img)
	if err != nil {
		t.Fatal(err)
	}
	// a normalized psf preserves the mean of a flat image
	for i, v := range out.Data {
		if math.Abs(float64(v)-0.5) > 1e-5 {
			t.Errorf("blurred flat image [%d] = %v; want 0.5", i, v)
		}
	}
}

func TestRefractionRejectsZeroPSF(t *testing.T) {
	if _, err := NewRefraction(tensor.New(1, 1, 4, 4)); err == nil {
		t.Error("NewRefraction accepted an all-zero psf")
	}
}

func TestRefractionResizesPSF(t *testing.T) {
	img := tensor.Full(1, 1, 8, 8, 0.25)
	psf := tensor.Full(1, 1, 4, 4, 1)
	d, err := NewRefraction(psf)
	if err != nil {
		t.Fatal(err)
	}
	out, err := d.Apply(img)
	if err != nil {
		t.Fatal(err)
	}
	if out.Shape != img.Shape {
		t.Fatalf("output shape = %v; want %v", out.Shape, img.Shape)
	}
	for i, v := range out.Data {
		if math.Abs(float64(v)-0.25) > 1e-5 {
			t.Errorf("blurred flat image [%d] = %v; want 0.25", i, v)
		}
	}
}

func TestColorBlindnessValidation(t *testing.T) {
	if _, err := NewColorBlindness("tritan", 100); err == nil {
		t.Error("NewColorBlindness accepted an unknown type")
	}
	if _, err := NewColorBlindness(Protan, 55); err == nil {
		t.Error("NewColorBlindness accepted a degree off the 10-step grid")
	}
	if _, err := NewColorBlindness(Protan, 0); err == nil {
		t.Error("NewColorBlindness accepted degree 0")
	}
}

func TestColorBlindnessPreservesGray(t *testing.T) {
	for _, cb := range []CBType{Protan, Deutan} {
		d, err := NewColorBlindness(cb, 100)
		if err != nil {
			t.Fatal(err)
		}
		gray := tensor.Full(1, 3, 4, 4, 0.5)
		out, err := d.Apply(gray)
		if err != nil {
			t.Fatal(err)
		}
		for i, v := range out.Data {
			if math.Abs(float64(v)-0.5) > 1e-3 {
				t.Errorf("%s gray [%d] = %v; want 0.5", cb, i, v)
			}
		}
	}
}

func TestColorBlindnessAltersRed(t *testing.T) {
	red := tensor.New(1, 3, 2, 2)
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			red.Set(0, 0, y, x, 1)
		}
	}
	full, _ := NewColorBlindness(Protan, 100)
	out, err := full.Apply(red)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(float64(out.At(0, 0, 0, 0))-1) < 0.05 {
		t.Errorf("full protan left pure red nearly unchanged: R = %v", out.At(0, 0, 0, 0))
	}

	// lower severity moves the result toward the original
	mild, _ := NewColorBlindness(Protan, 10)
	mildOut, err := mild.Apply(red)
	if err != nil {
		t.Fatal(err)
	}
	fullShift := math.Abs(float64(out.At(0, 0, 0, 0)) - 1)
	mildShift := math.Abs(float64(mildOut.At(0, 0, 0, 0)) - 1)
	if mildShift >= fullShift {
		t.Errorf("severity 10 shift %v not smaller than severity 100 shift %v", mildShift, fullShift)
	}
}

func TestColorBlindnessChannelCount(t *testing.T) {
	d, _ := NewColorBlindness(Deutan, 100)
	if _, err := d.Apply(tensor.New(1, 1, 4, 4)); err == nil {
		t.Error("Apply accepted a single-channel image")
	}
}

func TestBuilders(t *testing.T) {
	psf := tensor.New(1, 1, 4, 4)
	psf.Data[0] = 1
	if _, err := RefractionBuilder(psf); err != nil {
		t.Errorf("RefractionBuilder error = %v", err)
	}

	degree := tensor.Scalar(100)
	if _, err := ColorBlindnessBuilder(Protan)(degree); err != nil {
		t.Errorf("ColorBlindnessBuilder error = %v", err)
	}
	if _, err := ColorBlindnessBuilder(Protan)(tensor.New(1, 1, 2, 2)); err == nil {
		t.Error("ColorBlindnessBuilder accepted a multi-element parameter")
	}
}
