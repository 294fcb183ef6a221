package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"
)

// normalizePoints normalizes points as described in Multiple View Geometry, Alg 4.2: the centroid
// moves to the origin and the mean distance from it becomes sqrt(2).
// It returns ok == false when all the points coincide.
func normalizePoints(pts []r2.Point) ([]r2.Point, *mat.Dense, bool) {
	nPoints := len(pts)
	mu := r2.Point{}
	for _, pt := range pts {
		mu = mu.Add(pt)
	}
	mu = mu.Mul(1. / float64(nPoints))
	// compute scale factor
	d := 0.0
	for _, pt := range pts {
		d += pt.Sub(mu).Norm() / float64(nPoints)
	}
	if d == 0 || math.IsNaN(d) || math.IsInf(d, 0) {
		return nil, nil, false
	}
	scale := math.Sqrt(2) / d
	T := mat.NewDense(3, 3, []float64{
		scale, 0, -scale * mu.X,
		0, scale, -scale * mu.Y,
		0, 0, 1,
	})
	pointsTransformed := make([]r2.Point, nPoints)
	for i := range pointsTransformed {
		pointsTransformed[i] = pts[i].Sub(mu).Mul(scale)
	}
	return pointsTransformed, T, true
}

// eye create an identity matrix of size nxn.
func eye(n int) *mat.Dense {
	if n <= 0 {
		return nil
	}
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// matsSVD stores the matrices from SVD decomposition.
type matsSVD struct {
	U      *mat.Dense
	V      *mat.Dense
	Values []float64
}

// performSVD factorizes inputMatrix. Only V is computed unless kind asks for U.
// Singular values are in decreasing order.
func performSVD(inputMatrix mat.Matrix, kind mat.SVDKind) (*matsSVD, bool) {
	var svd mat.SVD
	if ok := svd.Factorize(inputMatrix, kind); !ok {
		return nil, false
	}
	out := &matsSVD{Values: svd.Values(nil)}
	if kind&(mat.SVDFullV|mat.SVDThinV) != 0 {
		out.V = &mat.Dense{}
		svd.VTo(out.V)
	}
	if kind&(mat.SVDFullU|mat.SVDThinU) != 0 {
		out.U = &mat.Dense{}
		svd.UTo(out.U)
	}
	return out, true
}

// NullVector returns the right singular vector of the smallest singular value of a, together with
// its singular values in decreasing order. A wide matrix has its missing singular values reported
// as zeros so that there is always one per column.
func NullVector(a mat.Matrix) ([]float64, []float64, bool) {
	_, c := a.Dims()
	mats, ok := performSVD(a, mat.SVDFullV)
	if !ok {
		return nil, nil, false
	}
	values := make([]float64, c)
	copy(values, mats.Values)
	return mat.Col(nil, c-1, mats.V), values, true
}

// NearestRotation returns the orthonormal matrix with determinant +1 closest to m in the Frobenius norm.
func NearestRotation(m mat.Matrix) (*mat.Dense, bool) {
	mats, ok := performSVD(m, mat.SVDFull)
	if !ok {
		return nil, false
	}
	var rot mat.Dense
	rot.Mul(mats.U, mats.V.T())
	if mat.Det(&rot) < 0 {
		// flip the last singular direction
		fix := eye(3)
		fix.Set(2, 2, -1)
		rot.Mul(mats.U, fix)
		rot.Mul(&rot, mats.V.T())
	}
	return &rot, true
}
