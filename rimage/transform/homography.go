package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrDegenerateHomography is returned when the point correspondences do not determine a unique homography,
// e.g. too few points or all of them collinear.
var ErrDegenerateHomography = errors.New("degenerate point configuration for homography")

// degenerateRatio bounds the second smallest singular value relative to the largest one.
const degenerateRatio = 1e-10

// Homography is a 3x3 matrix used to transform a plane from the perspective of a 2D
// camera to the perspective of another 2D camera.
type Homography struct {
	matrix *mat.Dense
}

// At returns the value of the homography at the given index.
func (h *Homography) At(row, col int) float64 {
	return h.matrix.At(row, col)
}

// Matrix returns a copy of the underlying matrix.
func (h *Homography) Matrix() *mat.Dense {
	return mat.DenseCopyOf(h.matrix)
}

// Apply will transform the given point according to the homography.
func (h *Homography) Apply(pt r2.Point) r2.Point {
	x := h.At(0, 0)*pt.X + h.At(0, 1)*pt.Y + h.At(0, 2)
	y := h.At(1, 0)*pt.X + h.At(1, 1)*pt.Y + h.At(1, 2)
	z := h.At(2, 0)*pt.X + h.At(2, 1)*pt.Y + h.At(2, 2)
	return r2.Point{X: x / z, Y: y / z}
}

// TransferRMS is the root mean square distance between h applied to src and dst, in dst units.
func (h *Homography) TransferRMS(src, dst []r2.Point) float64 {
	if len(src) == 0 || len(src) != len(dst) {
		return math.NaN()
	}
	var sum float64
	for i, p := range src {
		d := h.Apply(p).Sub(dst[i])
		sum += d.Dot(d)
	}
	return math.Sqrt(sum / float64(len(src)))
}

// EstimateHomography computes the homography mapping src onto dst using the normalized direct linear
// transform. Both sets are normalized first so that the linear system is well conditioned, then the
// solution is mapped back and scaled so that H[2][2] is 1 when it can be.
func EstimateHomography(src, dst []r2.Point) (*Homography, error) {
	if len(src) != len(dst) {
		return nil, errors.Errorf("point sets differ in size: %d != %d", len(src), len(dst))
	}
	if len(src) < 4 {
		return nil, errors.Wrapf(ErrDegenerateHomography, "need at least 4 points, got %d", len(src))
	}
	srcN, tSrc, ok := normalizePoints(src)
	if !ok {
		return nil, errors.Wrap(ErrDegenerateHomography, "source points coincide")
	}
	dstN, tDst, ok := normalizePoints(dst)
	if !ok {
		return nil, errors.Wrap(ErrDegenerateHomography, "destination points coincide")
	}

	a := mat.NewDense(2*len(src), 9, nil)
	for i := range srcN {
		s, d := srcN[i], dstN[i]
		a.SetRow(2*i, []float64{-s.X, -s.Y, -1, 0, 0, 0, d.X * s.X, d.X * s.Y, d.X})
		a.SetRow(2*i+1, []float64{0, 0, 0, -s.X, -s.Y, -1, d.Y * s.X, d.Y * s.Y, d.Y})
	}
	h, values, ok := NullVector(a)
	if !ok {
		return nil, errors.Wrap(ErrDegenerateHomography, "SVD failed to converge")
	}
	// A well posed system has a one dimensional null space. A second near zero singular value
	// means the points are collinear or otherwise underdetermined.
	if values[len(values)-2] <= degenerateRatio*values[0] {
		return nil, errors.Wrap(ErrDegenerateHomography, "points are collinear")
	}

	hn := mat.NewDense(3, 3, h)
	var tDstInv mat.Dense
	if err := tDstInv.Inverse(tDst); err != nil {
		return nil, errors.Wrap(ErrDegenerateHomography, err.Error())
	}
	var out mat.Dense
	out.Mul(&tDstInv, hn)
	out.Mul(&out, tSrc)

	if scale := out.At(2, 2); math.Abs(scale) > 1e-12 {
		out.Scale(1/scale, &out)
	} else {
		out.Scale(1/mat.Norm(&out, 2), &out)
	}
	return &Homography{&out}, nil
}
