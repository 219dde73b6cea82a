package tensor

import (
	"errors"
	"math"
	"testing"
)

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestFromSliceShapeCheck(t *testing.T) {
	if _, err := FromSlice(1, 3, 2, 2, make([]float32, 11)); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("FromSlice error = %v; want ErrShapeMismatch", err)
	}
	tt, err := FromSlice(1, 3, 2, 2, make([]float32, 12))
	if err != nil {
		t.Fatalf("FromSlice error = %v", err)
	}
	if tt.NumEl() != 12 {
		t.Errorf("NumEl = %d; want 12", tt.NumEl())
	}
}

func TestClip(t *testing.T) {
	in, _ := FromSlice(1, 1, 1, 4, []float32{-0.5, 0.25, 1.5, 1.0})
	out := in.Clip(0, 1)
	want := []float32{0, 0.25, 1, 1}
	for i, v := range out.Data {
		if v != want[i] {
			t.Errorf("Clip[%d] = %v; want %v", i, v, want[i])
		}
	}
	// input untouched
	if in.Data[0] != -0.5 {
		t.Error("Clip modified its input")
	}
}

func TestElementwiseShapeMismatch(t *testing.T) {
	a := New(1, 3, 4, 4)
	b := New(1, 3, 4, 5)
	if _, err := a.Add(b); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Add error = %v; want ErrShapeMismatch", err)
	}
	if _, err := a.Sub(b); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Sub error = %v; want ErrShapeMismatch", err)
	}
	if _, err := a.Mul(b); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Mul error = %v; want ErrShapeMismatch", err)
	}
}

func TestSampleStatistics(t *testing.T) {
	in := New(2, 1, 2, 2)
	for i := 0; i < 4; i++ {
		in.Data[i] = 1 // sample 0: all ones
	}
	in.Data[4] = 2 // sample 1: single 2, rest zero
	sums := in.SampleSumF64()
	if sums[0] != 4 || sums[1] != 2 {
		t.Errorf("SampleSumF64 = %v; want [4 2]", sums)
	}
	means := in.SampleMeanF64()
	if means[0] != 1 || means[1] != 0.5 {
		t.Errorf("SampleMeanF64 = %v; want [1 0.5]", means)
	}
	maxs := in.SampleMaxF64()
	if maxs[0] != 1 || maxs[1] != 2 {
		t.Errorf("SampleMaxF64 = %v; want [1 2]", maxs)
	}
}

func TestConv2DValidBoxKernel(t *testing.T) {
	in, _ := FromSlice(1, 1, 3, 3, []float32{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	})
	kernel := []float32{0.25, 0.25, 0.25, 0.25}
	out, err := in.Conv2DValid(kernel, 2)
	if err != nil {
		t.Fatalf("Conv2DValid error = %v", err)
	}
	if out.Shape != [4]int{1, 1, 2, 2} {
		t.Fatalf("Conv2DValid shape = %v; want (1,1,2,2)", out.Shape)
	}
	want := []float32{3, 4, 6, 7}
	for i, v := range out.Data {
		if v != want[i] {
			t.Errorf("Conv2DValid[%d] = %v; want %v", i, v, want[i])
		}
	}
}

func TestConv2DValidKernelTooLarge(t *testing.T) {
	in := New(1, 1, 3, 3)
	if _, err := in.Conv2DValid(make([]float32, 25), 5); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Conv2DValid error = %v; want ErrShapeMismatch", err)
	}
}

func TestAvgPool2(t *testing.T) {
	in, _ := FromSlice(1, 1, 2, 2, []float32{1, 3, 5, 7})
	out := in.AvgPool2()
	if out.Shape != [4]int{1, 1, 1, 1} || out.Data[0] != 4 {
		t.Errorf("AvgPool2 = %v %v; want (1,1,1,1) [4]", out.Shape, out.Data)
	}
}

func TestAvgPool2OddDims(t *testing.T) {
	in, _ := FromSlice(1, 1, 3, 3, []float32{
		1, 1, 1,
		1, 1, 1,
		1, 1, 1,
	})
	out := in.AvgPool2()
	if out.Shape != [4]int{1, 1, 2, 2} {
		t.Fatalf("AvgPool2 shape = %v; want (1,1,2,2)", out.Shape)
	}
	for i, v := range out.Data {
		if v != 1 {
			t.Errorf("AvgPool2[%d] = %v; want 1 (replicate padding)", i, v)
		}
	}
}

func TestPadReplicate(t *testing.T) {
	in, _ := FromSlice(1, 1, 2, 2, []float32{1, 2, 3, 4})
	out := in.PadReplicate(1, 0, 1, 0)
	if out.Shape != [4]int{1, 1, 3, 3} {
		t.Fatalf("PadReplicate shape = %v; want (1,1,3,3)", out.Shape)
	}
	want := []float32{
		1, 1, 2,
		1, 1, 2,
		3, 3, 4,
	}
	for i, v := range out.Data {
		if v != want[i] {
			t.Errorf("PadReplicate[%d] = %v; want %v", i, v, want[i])
		}
	}
}

func TestResizeBilinearIdentity(t *testing.T) {
	in, _ := FromSlice(1, 1, 2, 3, []float32{1, 2, 3, 4, 5, 6})
	out := in.ResizeBilinear(2, 3)
	for i, v := range out.Data {
		if !almostEqual(float64(v), float64(in.Data[i]), 1e-6) {
			t.Errorf("ResizeBilinear identity [%d] = %v; want %v", i, v, in.Data[i])
		}
	}
}

func TestResizeBilinearUpscale(t *testing.T) {
	in, _ := FromSlice(1, 1, 1, 2, []float32{0, 1})
	out := in.ResizeBilinear(1, 3)
	want := []float64{0, 0.5, 1}
	for i, v := range out.Data {
		if !almostEqual(float64(v), want[i], 1e-6) {
			t.Errorf("ResizeBilinear[%d] = %v; want %v", i, v, want[i])
		}
	}
}

func TestNormalizePSF(t *testing.T) {
	in, _ := FromSlice(2, 1, 1, 2, []float32{1, 3, 2, 2})
	out, err := in.NormalizePSF()
	if err != nil {
		t.Fatalf("NormalizePSF error = %v", err)
	}
	sums := out.SampleSumF64()
	for n, s := range sums {
		if !almostEqual(s, 1, 1e-6) {
			t.Errorf("normalized psf sample %d sums to %v; want 1", n, s)
		}
	}
}

func TestNormalizePSFZeroSum(t *testing.T) {
	in := New(1, 1, 2, 2)
	if _, err := in.NormalizePSF(); err == nil {
		t.Error("NormalizePSF accepted an all-zero psf")
	}
}

func TestScaleValue(t *testing.T) {
	in, _ := FromSlice(1, 1, 1, 3, []float32{2, 4, 6})
	out := in.ScaleValue(0, 1)
	want := []float64{0, 0.5, 1}
	for i, v := range out.Data {
		if !almostEqual(float64(v), want[i], 1e-6) {
			t.Errorf("ScaleValue[%d] = %v; want %v", i, v, want[i])
		}
	}
}

func TestScaleValueFlat(t *testing.T) {
	tests := []struct {
		name  string
		value float32
		want  float32
	}{
		{"inside range keeps value", 0.5, 0.5},
		{"below range maps to low", -3, 0},
		{"above range maps to high", 7, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := Full(1, 1, 2, 2, tt.value)
			out := in.ScaleValue(0, 1)
			for _, v := range out.Data {
				if v != tt.want {
					t.Errorf("ScaleValue flat %v = %v; want %v", tt.value, v, tt.want)
				}
			}
		})
	}
}

func TestFFTConv2DDeltaKernel(t *testing.T) {
	in, _ := FromSlice(1, 2, 2, 3, []float32{
		1, 2, 3, 4, 5, 6,
		6, 5, 4, 3, 2, 1,
	})
	delta := New(1, 1, 2, 3)
	delta.Data[0] = 1 // circular identity
	out, err := in.FFTConv2D(delta)
	if err != nil {
		t.Fatalf("FFTConv2D error = %v", err)
	}
	for i, v := range out.Data {
		if !almostEqual(float64(v), float64(in.Data[i]), 1e-5) {
			t.Errorf("FFTConv2D delta [%d] = %v; want %v", i, v, in.Data[i])
		}
	}
}

func TestFFTConv2DShiftKernel(t *testing.T) {
	in, _ := FromSlice(1, 1, 1, 4, []float32{1, 2, 3, 4})
	shift := New(1, 1, 1, 4)
	shift.Data[1] = 1 // circular shift by one
	out, err := in.FFTConv2D(shift)
	if err != nil {
		t.Fatalf("FFTConv2D error = %v", err)
	}
	want := []float64{4, 1, 2, 3}
	for i, v := range out.Data {
		if !almostEqual(float64(v), want[i], 1e-5) {
			t.Errorf("FFTConv2D shift [%d] = %v; want %v", i, v, want[i])
		}
	}
}

func TestFFTConv2DShapeMismatch(t *testing.T) {
	in := New(1, 3, 4, 4)
	kernel := New(1, 1, 2, 2)
	if _, err := in.FFTConv2D(kernel); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("FFTConv2D error = %v; want ErrShapeMismatch", err)
	}
}
