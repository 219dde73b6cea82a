// Package colorspace converts image tensors between sRGB and the perceptual
// color spaces used by the quality metrics (CIE Lab, ProLab, OkLab). All
// conversions expect 3-channel NCHW tensors and go through CIE XYZ with a D65
// reference white.
package colorspace

import (
	"fmt"
	"math"

	"github.com/kirbu123/olimp/tensor"
)

// Space names a perceptual color space for metric configuration.
type Space string

const (
	SpaceLab    Space = "lab"
	SpaceProLab Space = "prolab"
	SpaceOkLab  Space = "oklab"
)

// D65 reference white.
var whiteD65 = [3]float64{0.95047, 1.0, 1.08883}

var srgbToXYZ = [3][3]float64{
	{0.4124564, 0.3575761, 0.1804375},
	{0.2126729, 0.7151522, 0.0721750},
	{0.0193339, 0.1191920, 0.9503041},
}

var xyzToSRGB = Inv3(srgbToXYZ)

const (
	labEps   = 216.0 / 24389.0
	labKappa = 24389.0 / 27.0
)

// ProLab projective transform, applied to XYZ normalized by the white point.
var prolabM = [3][3]float64{
	{75.54, 486.66, 167.39},
	{617.72, -595.45, -22.27},
	{48.34, 194.94, -243.28},
}

var prolabQ = [3]float64{0.7554, 3.8666, 1.6739}

var prolabMInv = Inv3(prolabM)

// OkLab transform matrices, per Ottosson's reference implementation.
var oklabM1 = [3][3]float64{
	{0.8189330101, 0.3618667424, -0.1288597137},
	{0.0329845436, 0.9293118715, 0.0361456387},
	{0.0482003018, 0.2643662691, 0.6338517070},
}

var oklabM2 = [3][3]float64{
	{0.2104542553, 0.7936177850, -0.0040720468},
	{1.9779984951, -2.4285922050, 0.4505937099},
	{0.0259040371, 0.7827717662, -0.8086757660},
}

var oklabM2Inv = [3][3]float64{
	{1, 0.3963377774, 0.2158037573},
	{1, -0.1055613458, -0.0638541728},
	{1, -0.0894841775, -1.2914855480},
}

var oklabM1Inv = [3][3]float64{
	{1.2270138511, -0.5577999807, 0.2812561490},
	{-0.0405801784, 1.1122568696, -0.0716766787},
	{-0.0763812845, -0.4214819784, 1.5861632204},
}

// Inv3 inverts a 3x3 transform matrix.
func Inv3(m [3][3]float64) [3][3]float64 {
	a, b, c := m[0][0], m[0][1], m[0][2]
	d, e, f := m[1][0], m[1][1], m[1][2]
	g, h, i := m[2][0], m[2][1], m[2][2]
	det := a*(e*i-f*h) - b*(d*i-f*g) + c*(d*h-e*g)
	inv := 1 / det
	return [3][3]float64{
		{(e*i - f*h) * inv, (c*h - b*i) * inv, (b*f - c*e) * inv},
		{(f*g - d*i) * inv, (a*i - c*g) * inv, (c*d - a*f) * inv},
		{(d*h - e*g) * inv, (b*g - a*h) * inv, (a*e - b*d) * inv},
	}
}

// MulVec3 multiplies a 3x3 matrix by a column vector.
func MulVec3(m [3][3]float64, v [3]float64) [3]float64 {
	return [3]float64{
		m[0][0]*v[0] + m[0][1]*v[1] + m[0][2]*v[2],
		m[1][0]*v[0] + m[1][1]*v[1] + m[1][2]*v[2],
		m[2][0]*v[0] + m[2][1]*v[1] + m[2][2]*v[2],
	}
}

func checkThreeChannel(t *tensor.Tensor) error {
	if t.C() != 3 {
		return fmt.Errorf("%w: colorspace conversion needs 3 channels, got %d",
			tensor.ErrShapeMismatch, t.C())
	}
	return nil
}

// apply3 maps every pixel's channel triple through fn.
func apply3(t *tensor.Tensor, fn func(v [3]float64) [3]float64) *tensor.Tensor {
	n, h, w := t.N(), t.H(), t.W()
	out := tensor.New(n, 3, h, w)
	for bi := 0; bi < n; bi++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				v := fn([3]float64{
					float64(t.At(bi, 0, y, x)),
					float64(t.At(bi, 1, y, x)),
					float64(t.At(bi, 2, y, x)),
				})
				out.Set(bi, 0, y, x, float32(v[0]))
				out.Set(bi, 1, y, x, float32(v[1]))
				out.Set(bi, 2, y, x, float32(v[2]))
			}
		}
	}
	return out
}

// LinearizeSRGB removes the sRGB gamma encoding from one component.
func LinearizeSRGB(u float64) float64 {
	if u <= 0.04045 {
		return u / 12.92
	}
	return math.Pow((u+0.055)/1.055, 2.4)
}

// DelinearizeSRGB applies the sRGB gamma encoding to one component.
func DelinearizeSRGB(u float64) float64 {
	if u <= 0.0031308 {
		return 12.92 * u
	}
	return 1.055*math.Pow(u, 1/2.4) - 0.055
}

// SRGBToXYZ converts gamma-encoded sRGB in [0, 1] to CIE XYZ.
func SRGBToXYZ(t *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkThreeChannel(t); err != nil {
		return nil, err
	}
	return apply3(t, func(v [3]float64) [3]float64 {
		lin := [3]float64{LinearizeSRGB(v[0]), LinearizeSRGB(v[1]), LinearizeSRGB(v[2])}
		return MulVec3(srgbToXYZ, lin)
	}), nil
}

// XYZToSRGB converts CIE XYZ back to gamma-encoded sRGB. Out-of-gamut values
// are not clipped.
func XYZToSRGB(t *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkThreeChannel(t); err != nil {
		return nil, err
	}
	return apply3(t, func(v [3]float64) [3]float64 {
		lin := MulVec3(xyzToSRGB, v)
		return [3]float64{DelinearizeSRGB(lin[0]), DelinearizeSRGB(lin[1]), DelinearizeSRGB(lin[2])}
	}), nil
}

func labF(t float64) float64 {
	if t > labEps {
		return math.Cbrt(t)
	}
	return (labKappa*t + 16) / 116
}

// XYZToLab converts CIE XYZ to CIE L*a*b* under D65.
func XYZToLab(t *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkThreeChannel(t); err != nil {
		return nil, err
	}
	return apply3(t, func(v [3]float64) [3]float64 {
		fx := labF(v[0] / whiteD65[0])
		fy := labF(v[1] / whiteD65[1])
		fz := labF(v[2] / whiteD65[2])
		return [3]float64{116*fy - 16, 500 * (fx - fy), 200 * (fy - fz)}
	}), nil
}

// LabToXYZ converts CIE L*a*b* back to CIE XYZ under D65.
func LabToXYZ(t *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkThreeChannel(t); err != nil {
		return nil, err
	}
	return apply3(t, func(v [3]float64) [3]float64 {
		fy := (v[0] + 16) / 116
		fx := fy + v[1]/500
		fz := fy - v[2]/200
		var xr, yr, zr float64
		if fx3 := fx * fx * fx; fx3 > labEps {
			xr = fx3
		} else {
			xr = (116*fx - 16) / labKappa
		}
		if v[0] > labKappa*labEps {
			yr = fy * fy * fy
		} else {
			yr = v[0] / labKappa
		}
		if fz3 := fz * fz * fz; fz3 > labEps {
			zr = fz3
		} else {
			zr = (116*fz - 16) / labKappa
		}
		return [3]float64{xr * whiteD65[0], yr * whiteD65[1], zr * whiteD65[2]}
	}), nil
}

// XYZToProLab converts CIE XYZ to ProLab, a projective Lab-like space whose
// Euclidean distance better tracks perceptual color difference.
func XYZToProLab(t *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkThreeChannel(t); err != nil {
		return nil, err
	}
	return apply3(t, func(v [3]float64) [3]float64 {
		rel := [3]float64{v[0] / whiteD65[0], v[1] / whiteD65[1], v[2] / whiteD65[2]}
		num := MulVec3(prolabM, rel)
		den := prolabQ[0]*rel[0] + prolabQ[1]*rel[1] + prolabQ[2]*rel[2] + 1
		return [3]float64{num[0] / den, num[1] / den, num[2] / den}
	}), nil
}

// ProLabToXYZ inverts the ProLab projective transform.
func ProLabToXYZ(t *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkThreeChannel(t); err != nil {
		return nil, err
	}
	return apply3(t, func(v [3]float64) [3]float64 {
		u := MulVec3(prolabMInv, v)
		den := 1 - (prolabQ[0]*u[0] + prolabQ[1]*u[1] + prolabQ[2]*u[2])
		rel := [3]float64{u[0] / den, u[1] / den, u[2] / den}
		return [3]float64{rel[0] * whiteD65[0], rel[1] * whiteD65[1], rel[2] * whiteD65[2]}
	}), nil
}

// XYZToOkLab converts CIE XYZ to OkLab.
func XYZToOkLab(t *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkThreeChannel(t); err != nil {
		return nil, err
	}
	return apply3(t, func(v [3]float64) [3]float64 {
		lms := MulVec3(oklabM1, v)
		lms[0] = math.Cbrt(lms[0])
		lms[1] = math.Cbrt(lms[1])
		lms[2] = math.Cbrt(lms[2])
		return MulVec3(oklabM2, lms)
	}), nil
}

// OkLabToXYZ converts OkLab back to CIE XYZ.
func OkLabToXYZ(t *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkThreeChannel(t); err != nil {
		return nil, err
	}
	return apply3(t, func(v [3]float64) [3]float64 {
		lms := MulVec3(oklabM2Inv, v)
		lms[0] = lms[0] * lms[0] * lms[0]
		lms[1] = lms[1] * lms[1] * lms[1]
		lms[2] = lms[2] * lms[2] * lms[2]
		return MulVec3(oklabM1Inv, lms)
	}), nil
}

// SRGBToLab converts gamma-encoded sRGB to CIE L*a*b*.
func SRGBToLab(t *tensor.Tensor) (*tensor.Tensor, error) {
	xyz, err := SRGBToXYZ(t)
	if err != nil {
		return nil, err
	}
	return XYZToLab(xyz)
}

// LabToSRGB converts CIE L*a*b* to gamma-encoded sRGB.
func LabToSRGB(t *tensor.Tensor) (*tensor.Tensor, error) {
	xyz, err := LabToXYZ(t)
	if err != nil {
		return nil, err
	}
	return XYZToSRGB(xyz)
}

// SRGBToProLab converts gamma-encoded sRGB to ProLab.
func SRGBToProLab(t *tensor.Tensor) (*tensor.Tensor, error) {
	xyz, err := SRGBToXYZ(t)
	if err != nil {
		return nil, err
	}
	return XYZToProLab(xyz)
}

// ProLabToSRGB converts ProLab to gamma-encoded sRGB.
func ProLabToSRGB(t *tensor.Tensor) (*tensor.Tensor, error) {
	xyz, err := ProLabToXYZ(t)
	if err != nil {
		return nil, err
	}
	return XYZToSRGB(xyz)
}

// SRGBToOkLab converts gamma-encoded sRGB to OkLab.
func SRGBToOkLab(t *tensor.Tensor) (*tensor.Tensor, error) {
	xyz, err := SRGBToXYZ(t)
	if err != nil {
		return nil, err
	}
	return XYZToOkLab(xyz)
}

// OkLabToSRGB converts OkLab to gamma-encoded sRGB.
func OkLabToSRGB(t *tensor.Tensor) (*tensor.Tensor, error) {
	xyz, err := OkLabToXYZ(t)
	if err != nil {
		return nil, err
	}
	return XYZToSRGB(xyz)
}

// FromSRGB converts sRGB into the named space.
func FromSRGB(space Space, t *tensor.Tensor) (*tensor.Tensor, error) {
	switch space {
	case SpaceLab:
		return SRGBToLab(t)
	case SpaceProLab:
		return SRGBToProLab(t)
	case SpaceOkLab:
		return SRGBToOkLab(t)
	default:
		return nil, fmt.Errorf("colorspace: unknown space %q", space)
	}
}

// ToSRGB converts from the named space back to sRGB.
func ToSRGB(space Space, t *tensor.Tensor) (*tensor.Tensor, error) {
	switch space {
	case SpaceLab:
		return LabToSRGB(t)
	case SpaceProLab:
		return ProLabToSRGB(t)
	case SpaceOkLab:
		return OkLabToSRGB(t)
	default:
		return nil, fmt.Errorf("colorspace: unknown space %q", space)
	}
}
