package metrics

import (
	"fmt"
	"math"

	"github.com/kirbu123/olimp/tensor"
)

// FSIMOptions configures FSIM. The filter-bank parameters follow Kovesi's
// phase congruency defaults as used by the feature-similarity literature.
type FSIMOptions struct {
	Reduction    Reduction
	DataRange    float64
	Chromatic    bool
	Scales       int
	Orientations int
	MinLength    int
	Mult         int
	SigmaF       float64
	DeltaTheta   float64
	K            float64
}

func DefaultFSIMOptions() FSIMOptions {
	return FSIMOptions{
		Reduction:    ReductionMean,
		DataRange:    1.0,
		Chromatic:    true,
		Scales:       4,
		Orientations: 4,
		MinLength:    6,
		Mult:         2,
		SigmaF:       0.55,
		DeltaTheta:   1.2,
		K:            2.0,
	}
}

// FSIM is the feature similarity index: phase congruency and gradient
// magnitude similarity maps combined and pooled with phase congruency as the
// weighting. Color inputs additionally compare the I and Q chroma planes.
type FSIM struct {
	opts FSIMOptions
}

func NewFSIM(opts FSIMOptions) (*FSIM, error) {
	if opts.Scales < 1 || opts.Orientations < 1 {
		return nil, fmt.Errorf("metrics: fsim needs at least one scale and orientation, got %d/%d",
			opts.Scales, opts.Orientations)
	}
	if opts.Mult < 2 {
		return nil, fmt.Errorf("metrics: fsim scale multiplier must be >= 2, got %d", opts.Mult)
	}
	return &FSIM{opts: opts}, nil
}

const (
	fsimT1     = 0.85
	fsimT2     = 160.0
	fsimT3     = 200.0
	fsimT4     = 200.0
	fsimLambda = 0.03
)

// yiqPlanes splits a 0..255 RGB batch into Y, I and Q planes. Grayscale
// input passes through as luminance with nil chroma.
func yiqPlanes(t *tensor.Tensor) (y, i, q *tensor.Tensor) {
	if t.C() == 1 {
		return t, nil, nil
	}
	n, h, w := t.N(), t.H(), t.W()
	y = tensor.New(n, 1, h, w)
	i = tensor.New(n, 1, h, w)
	q = tensor.New(n, 1, h, w)
	for bi := 0; bi < n; bi++ {
		for yy := 0; yy < h; yy++ {
			for xx := 0; xx < w; xx++ {
				r := float64(t.At(bi, 0, yy, xx))
				g := float64(t.At(bi, 1, yy, xx))
				b := float64(t.At(bi, 2, yy, xx))
				y.Set(bi, 0, yy, xx, float32(0.299*r+0.587*g+0.114*b))
				i.Set(bi, 0, yy, xx, float32(0.5959*r-0.2746*g-0.3213*b))
				q.Set(bi, 0, yy, xx, float32(0.2115*r-0.5227*g+0.3112*b))
			}
		}
	}
	return y, i, q
}

// conv3Same applies a 3x3 kernel with zero padding.
func conv3Same(t *tensor.Tensor, kernel [9]float64) *tensor.Tensor {
	n, c, h, w := t.N(), t.C(), t.H(), t.W()
	out := tensor.New(n, c, h, w)
	for bi := 0; bi < n; bi++ {
		for ci := 0; ci < c; ci++ {
			for y := 0; y < h; y++ {
				for x := 0; x < w; x++ {
					var acc float64
					for ky := -1; ky <= 1; ky++ {
						sy := y + ky
						if sy < 0 || sy >= h {
							continue
						}
						for kx := -1; kx <= 1; kx++ {
							sx := x + kx
							if sx < 0 || sx >= w {
								continue
							}
							acc += float64(t.At(bi, ci, sy, sx)) * kernel[(ky+1)*3+(kx+1)]
						}
					}
					out.Set(bi, ci, y, x, float32(acc))
				}
			}
		}
	}
	return out
}

// scharrGradient returns the gradient magnitude map.
func scharrGradient(t *tensor.Tensor) *tensor.Tensor {
	gxk := [9]float64{-3. / 16, 0, 3. / 16, -10. / 16, 0, 10. / 16, -3. / 16, 0, 3. / 16}
	gyk := [9]float64{-3. / 16, -10. / 16, -3. / 16, 0, 0, 0, 3. / 16, 10. / 16, 3. / 16}
	gx := conv3Same(t, gxk)
	gy := conv3Same(t, gyk)
	out := tensor.New(t.N(), t.C(), t.H(), t.W())
	for i := range out.Data {
		x := float64(gx.Data[i])
		y := float64(gy.Data[i])
		out.Data[i] = float32(math.Sqrt(x*x + y*y))
	}
	return out
}

// logGaborBank holds the precomputed frequency-domain filters for one
// spatial resolution.
type logGaborBank struct {
	h, w    int
	gabor   [][]float64 // per scale
	spread  [][]float64 // per orientation
	nScale  int
	nOrient int
}

func (f *FSIM) buildBank(h, w int) *logGaborBank {
	freq := func(i, n int) float64 {
		if i <= (n-1)/2 {
			return float64(i) / float64(n)
		}
		return float64(i-n) / float64(n)
	}
	size := h * w
	radius := make([]float64, size)
	sinTheta := make([]float64, size)
	cosTheta := make([]float64, size)
	for y := 0; y < h; y++ {
		fy := freq(y, h)
		for x := 0; x < w; x++ {
			fx := freq(x, w)
			i := y*w + x
			r := math.Sqrt(fx*fx + fy*fy)
			theta := math.Atan2(-fy, fx)
			if i == 0 {
				r = 1
			}
			radius[i] = r
			sinTheta[i] = math.Sin(theta)
			cosTheta[i] = math.Cos(theta)
		}
	}

	bank := &logGaborBank{h: h, w: w, nScale: f.opts.Scales, nOrient: f.opts.Orientations}
	logSigma := math.Log(f.opts.SigmaF)
	for s := 0; s < f.opts.Scales; s++ {
		wavelength := float64(f.opts.MinLength) * math.Pow(float64(f.opts.Mult), float64(s))
		f0 := 1 / wavelength
		g := make([]float64, size)
		for i, r := range radius {
			lp := 1 / (1 + math.Pow(r/0.45, 30)) // butterworth lowpass, cutoff 0.45
			lr := math.Log(r / f0)
			g[i] = math.Exp(-lr*lr/(2*logSigma*logSigma)) * lp
		}
		g[0] = 0
		bank.gabor = append(bank.gabor, g)
	}
	thetaSigma := math.Pi / (float64(f.opts.Orientations) * f.opts.DeltaTheta)
	for o := 0; o < f.opts.Orientations; o++ {
		angle := float64(o) * math.Pi / float64(f.opts.Orientations)
		sinA, cosA := math.Sin(angle), math.Cos(angle)
		sp := make([]float64, size)
		for i := range sp {
			ds := sinTheta[i]*cosA - cosTheta[i]*sinA
			dc := cosTheta[i]*cosA + sinTheta[i]*sinA
			dtheta := math.Abs(math.Atan2(ds, dc))
			sp[i] = math.Exp(-dtheta * dtheta / (2 * thetaSigma * thetaSigma))
		}
		bank.spread = append(bank.spread, sp)
	}
	return bank
}

// phaseCongruency computes Kovesi-style phase congruency maps for a
// single-channel batch.
func (f *FSIM) phaseCongruency(t *tensor.Tensor, bank *logGaborBank) *tensor.Tensor {
	const eps = 1e-8
	h, w := t.H(), t.W()
	size := h * w
	out := tensor.New(t.N(), 1, h, w)
	mult := float64(f.opts.Mult)

	for bi := 0; bi < t.N(); bi++ {
		imfft := t.FFT2(bi, 0)
		totalEnergy := make([]float64, size)
		totalAn := make([]float64, size)
		for o := 0; o < bank.nOrient; o++ {
			sumE := make([]float64, size)
			sumO := make([]float64, size)
			sumAn := make([]float64, size)
			evens := make([][]float64, bank.nScale)
			odds := make([][]float64, bank.nScale)
			var tau float64
			for s := 0; s < bank.nScale; s++ {
				resp := make([]complex128, size)
				g := bank.gabor[s]
				sp := bank.spread[o]
				for i := range resp {
					resp[i] = imfft[i] * complex(g[i]*sp[i], 0)
				}
				tensor.IFFT2Grid(resp, h, w)
				even := make([]float64, size)
				odd := make([]float64, size)
				an := make([]float64, size)
				for i, v := range resp {
					even[i] = real(v)
					odd[i] = imag(v)
					an[i] = math.Hypot(even[i], odd[i])
					sumE[i] += even[i]
					sumO[i] += odd[i]
					sumAn[i] += an[i]
				}
				evens[s], odds[s] = even, odd
				if s == 0 {
					tau = median(an) / math.Sqrt(math.Log(4))
				}
			}
			energy := make([]float64, size)
			for i := range energy {
				xe := math.Hypot(sumE[i], sumO[i]) + eps
				meanE := sumE[i] / xe
				meanO := sumO[i] / xe
				var e float64
				for s := 0; s < bank.nScale; s++ {
					e += evens[s][i]*meanE + odds[s][i]*meanO -
						math.Abs(evens[s][i]*meanO-odds[s][i]*meanE)
				}
				energy[i] = e
			}
			// Rayleigh noise threshold estimated from the smallest-scale
			// filter response.
			totalTau := tau * (1 - math.Pow(1/mult, float64(bank.nScale))) / (1 - 1/mult)
			noiseMean := totalTau * math.Sqrt(math.Pi/2)
			noiseSigma := totalTau * math.Sqrt((4-math.Pi)/2)
			threshold := noiseMean + f.opts.K*noiseSigma
			for i := range energy {
				e := energy[i] - threshold
				if e < 0 {
					e = 0
				}
				totalEnergy[i] += e
				totalAn[i] += sumAn[i]
			}
		}
		base := bi * size
		for i := range totalEnergy {
			out.Data[base+i] = float32(totalEnergy[i] / (totalAn[i] + eps))
		}
	}
	return out
}

func (f *FSIM) scores(x, y *tensor.Tensor) ([]float64, error) {
	if err := checkPair(x, y); err != nil {
		return nil, err
	}
	if c := x.C(); c != 1 && c != 3 {
		return nil, fmt.Errorf("%w: fsim expects 1 or 3 channels, got %d", tensor.ErrShapeMismatch, c)
	}
	scale := float32(255 / f.opts.DataRange)
	xs, ys := x.Scale(scale), y.Scale(scale)

	lumX, iX, qX := yiqPlanes(xs)
	lumY, iY, qY := yiqPlanes(ys)

	minDim := x.H()
	if x.W() < minDim {
		minDim = x.W()
	}
	if pool := int(math.Round(float64(minDim) / 256)); pool > 1 {
		lumX, lumY = lumX.AvgPoolK(pool), lumY.AvgPoolK(pool)
		if iX != nil {
			iX, qX = iX.AvgPoolK(pool), qX.AvgPoolK(pool)
			iY, qY = iY.AvgPoolK(pool), qY.AvgPoolK(pool)
		}
	}

	bank := f.buildBank(lumX.H(), lumX.W())
	pcX := f.phaseCongruency(lumX, bank)
	pcY := f.phaseCongruency(lumY, bank)
	gradX := scharrGradient(lumX)
	gradY := scharrGradient(lumY)

	chromatic := f.opts.Chromatic && iX != nil
	chromaCos := math.Cos(math.Pi * fsimLambda)

	n := lumX.N()
	size := lumX.H() * lumX.W()
	out := make([]float64, n)
	for bi := 0; bi < n; bi++ {
		var num, den float64
		base := bi * size
		for i := 0; i < size; i++ {
			px := float64(pcX.Data[base+i])
			py := float64(pcY.Data[base+i])
			gx := float64(gradX.Data[base+i])
			gy := float64(gradY.Data[base+i])
			spc := (2*px*py + fsimT1) / (px*px + py*py + fsimT1)
			sg := (2*gx*gy + fsimT2) / (gx*gx + gy*gy + fsimT2)
			sl := spc * sg
			if chromatic {
				ix := float64(iX.Data[base+i])
				iy := float64(iY.Data[base+i])
				qx := float64(qX.Data[base+i])
				qy := float64(qY.Data[base+i])
				si := (2*ix*iy + fsimT3) / (ix*ix + iy*iy + fsimT3)
				sq := (2*qx*qy + fsimT4) / (qx*qx + qy*qy + fsimT4)
				siq := si * sq
				if siq >= 0 {
					sl *= math.Pow(siq, fsimLambda)
				} else {
					// real part of the principal complex power
					sl *= math.Pow(-siq, fsimLambda) * chromaCos
				}
			}
			pcm := px
			if py > pcm {
				pcm = py
			}
			num += sl * pcm
			den += pcm
		}
		if den == 0 {
			out[bi] = 0
		} else {
			out[bi] = num / den
		}
	}
	return out, nil
}

// Score returns the per-sample feature similarity index.
func (f *FSIM) Score(x, y *tensor.Tensor) ([]float64, error) {
	scores, err := f.scores(x, y)
	if err != nil {
		return nil, err
	}
	return Reduce(scores, f.opts.Reduction)
}

// Loss returns 1 - Score.
func (f *FSIM) Loss(x, y *tensor.Tensor) ([]float64, error) {
	scores, err := f.scores(x, y)
	if err != nil {
		return nil, err
	}
	return Reduce(invert(scores), f.opts.Reduction)
}
