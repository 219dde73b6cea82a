package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/dsp/fourier"
)

// fft2 computes the in-place 2-D DFT of a HxW complex grid using row and
// column 1-D transforms.
func fft2(grid []complex128, h, w int, inverse bool) {
	rowFFT := fourier.NewCmplxFFT(w)
	rowBuf := make([]complex128, w)
	for y := 0; y < h; y++ {
		row := grid[y*w : (y+1)*w]
		if inverse {
			rowFFT.Sequence(rowBuf, row)
		} else {
			rowFFT.Coefficients(rowBuf, row)
		}
		copy(row, rowBuf)
	}
	colFFT := fourier.NewCmplxFFT(h)
	colIn := make([]complex128, h)
	colOut := make([]complex128, h)
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			colIn[y] = grid[y*w+x]
		}
		if inverse {
			colFFT.Sequence(colOut, colIn)
		} else {
			colFFT.Coefficients(colOut, colIn)
		}
		for y := 0; y < h; y++ {
			grid[y*w+x] = colOut[y]
		}
	}
	if inverse {
		// gonum's inverse transform is unnormalized.
		inv := complex(1/float64(h*w), 0)
		for i := range grid {
			grid[i] *= inv
		}
	}
}

// FFT2Grid computes the forward 2-D DFT of an HxW grid in place.
func FFT2Grid(grid []complex128, h, w int) { fft2(grid, h, w, false) }

// IFFT2Grid computes the normalized inverse 2-D DFT of an HxW grid in place.
func IFFT2Grid(grid []complex128, h, w int) { fft2(grid, h, w, true) }

// FFT2 returns the 2-D DFT of channel c of batch item n.
func (t *Tensor) FFT2(n, c int) []complex128 {
	h, w := t.Shape[2], t.Shape[3]
	grid := make([]complex128, h*w)
	base := t.index(n, c, 0, 0)
	for i := 0; i < h*w; i++ {
		grid[i] = complex(float64(t.Data[base+i]), 0)
	}
	fft2(grid, h, w, false)
	return grid
}

// FFTConv2D convolves t with kernel circularly per channel via the frequency
// domain, returning the real part. The kernel must match t spatially; its
// channel count must be 1 (broadcast over channels) or equal t's, and its
// batch size 1 or equal t's. This is the retinal-simulation convolution: the
// kernel is a PSF of the same resolution as the image.
func (t *Tensor) FFTConv2D(kernel *Tensor) (*Tensor, error) {
	n, c, h, w := t.Shape[0], t.Shape[1], t.Shape[2], t.Shape[3]
	if kernel.Shape[2] != h || kernel.Shape[3] != w {
		return nil, fmt.Errorf("%w: image %dx%d vs kernel %dx%d",
			ErrShapeMismatch, h, w, kernel.Shape[2], kernel.Shape[3])
	}
	if kernel.Shape[0] != 1 && kernel.Shape[0] != n {
		return nil, fmt.Errorf("%w: kernel batch %d vs image batch %d",
			ErrShapeMismatch, kernel.Shape[0], n)
	}
	if kernel.Shape[1] != 1 && kernel.Shape[1] != c {
		return nil, fmt.Errorf("%w: kernel channels %d vs image channels %d",
			ErrShapeMismatch, kernel.Shape[1], c)
	}

	// Transform each distinct kernel plane once.
	kfft := make(map[[2]int][]complex128)
	kernelPlane := func(bi, ci int) []complex128 {
		kb, kc := bi, ci
		if kernel.Shape[0] == 1 {
			kb = 0
		}
		if kernel.Shape[1] == 1 {
			kc = 0
		}
		key := [2]int{kb, kc}
		if f, ok := kfft[key]; ok {
			return f
		}
		f := kernel.FFT2(kb, kc)
		kfft[key] = f
		return f
	}

	out := New(n, c, h, w)
	for bi := 0; bi < n; bi++ {
		for ci := 0; ci < c; ci++ {
			img := t.FFT2(bi, ci)
			kf := kernelPlane(bi, ci)
			for i := range img {
				img[i] *= kf[i]
			}
			fft2(img, h, w, true)
			base := out.index(bi, ci, 0, 0)
			for i := range img {
				out.Data[base+i] = float32(real(img[i]))
			}
		}
	}
	return out, nil
}
