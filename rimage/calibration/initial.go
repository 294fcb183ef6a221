package calibration

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/camcal/camcal/rimage/transform"
)

// zhangDegenerateRatio bounds the second smallest singular value of the intrinsic constraint
// system relative to its largest. Below it the system has more than one solution.
const zhangDegenerateRatio = 1e-12

// InitialEstimate is the closed form starting point for the nonlinear solver.
type InitialEstimate struct {
	Camera       CameraParameters
	Poses        []ViewPose
	Homographies []*transform.Homography
	// HomographyRMS is each view's pixel residual under its homography. Lens distortion and
	// detection noise both raise it.
	HomographyRMS []float64
}

// EstimateInitial computes intrinsics and per-view poses from the views' homographies using
// Zhang's method with zero skew. Distortion starts at zero with the coefficient count of model.
func EstimateInitial(set *CorrespondenceSet, model transform.DistortionType) (*InitialEstimate, error) {
	nCoeffs, err := model.CoefficientCount()
	if err != nil {
		return nil, err
	}
	views := set.Views()
	if len(views) < MinimumViews {
		return nil, errors.Wrapf(ErrDegenerateConfiguration, "%d views, need at least %d", len(views), MinimumViews)
	}

	res := set.Resolution()
	// Work in a pixel frame centred on the image and scaled to unit size so that the constraint
	// matrix entries have comparable magnitudes.
	scale := 2 / float64(res.X+res.Y)
	precond := mat.NewDense(3, 3, []float64{
		scale, 0, -scale * float64(res.X) / 2,
		0, scale, -scale * float64(res.Y) / 2,
		0, 0, 1,
	})

	homographies := make([]*transform.Homography, len(views))
	transferRMS := make([]float64, len(views))
	constraints := mat.NewDense(2*len(views)+1, 6, nil)
	for i, v := range views {
		src := make([]r2.Point, v.Len())
		for j, p := range v.ObjectPoints {
			if p.Z != 0 {
				return nil, errors.Wrapf(ErrDegenerateConfiguration, "view %d: pattern point %d is not planar", i, j)
			}
			src[j] = r2.Point{X: p.X, Y: p.Y}
		}
		h, err := transform.EstimateHomography(src, v.ImagePoints)
		if err != nil {
			return nil, errors.Wrapf(ErrDegenerateConfiguration, "view %d: %v", i, err)
		}
		homographies[i] = h
		transferRMS[i] = h.TransferRMS(src, v.ImagePoints)

		var hp mat.Dense
		hp.Mul(precond, h.Matrix())
		hp.Scale(1/mat.Norm(&hp, 2), &hp)
		v12 := zhangRow(&hp, 0, 1)
		v11 := zhangRow(&hp, 0, 0)
		v22 := zhangRow(&hp, 1, 1)
		diff := make([]float64, 6)
		for k := range diff {
			diff[k] = v11[k] - v22[k]
		}
		constraints.SetRow(2*i, v12)
		constraints.SetRow(2*i+1, diff)
	}
	// zero skew: B12 = 0
	constraints.SetRow(2*len(views), []float64{0, 1, 0, 0, 0, 0})

	b, values, ok := transform.NullVector(constraints)
	if !ok {
		return nil, errors.Wrap(ErrDegenerateConfiguration, "SVD of intrinsic constraints failed")
	}
	if values[len(values)-2] <= zhangDegenerateRatio*values[0] {
		return nil, errors.Wrap(ErrDegenerateConfiguration, "views do not constrain the intrinsics; vary the pattern orientation")
	}
	if b[0] < 0 {
		for k := range b {
			b[k] = -b[k]
		}
	}

	kPre, err := intrinsicsFromAbsoluteConic(b)
	if err != nil {
		return nil, err
	}
	fx := kPre.At(0, 0) / scale
	fy := kPre.At(1, 1) / scale
	cx := kPre.At(0, 2)/scale + float64(res.X)/2
	cy := kPre.At(1, 2)/scale + float64(res.Y)/2
	for _, val := range []float64{fx, fy, cx, cy} {
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return nil, errors.Wrap(ErrDegenerateConfiguration, "intrinsic estimate is not finite")
		}
	}
	if fx <= 0 || fy <= 0 {
		return nil, errors.Wrapf(ErrDegenerateConfiguration, "non-positive focal length estimate (%v, %v)", fx, fy)
	}

	camera := CameraParameters{
		Fx: fx, Fy: fy, Cx: cx, Cy: cy,
		DistortionModel: model,
		Distortion:      make([]float64, nCoeffs),
	}
	k := (&transform.PinholeCameraIntrinsics{Fx: fx, Fy: fy, Ppx: cx, Ppy: cy}).GetCameraMatrix()
	poses := make([]ViewPose, len(views))
	for i, h := range homographies {
		pose, err := transform.PoseFromHomography(k, h)
		if err != nil {
			return nil, errors.Wrapf(ErrDegenerateConfiguration, "view %d: %v", i, err)
		}
		poses[i] = ViewPose{Rotation: pose.RotationVector(), Translation: pose.Translation}
	}
	return &InitialEstimate{Camera: camera, Poses: poses, Homographies: homographies, HomographyRMS: transferRMS}, nil
}

// zhangRow returns v_ij for homography columns i and j, so that v_ij . b = h_i^T B h_j with
// b = (B11, B12, B22, B13, B23, B33).
func zhangRow(h mat.Matrix, i, j int) []float64 {
	hi := func(k int) float64 { return h.At(k, i) }
	hj := func(k int) float64 { return h.At(k, j) }
	return []float64{
		hi(0) * hj(0),
		hi(0)*hj(1) + hi(1)*hj(0),
		hi(1) * hj(1),
		hi(2)*hj(0) + hi(0)*hj(2),
		hi(2)*hj(1) + hi(1)*hj(2),
		hi(2) * hj(2),
	}
}

// intrinsicsFromAbsoluteConic recovers K from B = K^-T K^-1 (up to scale). The Cholesky factor of
// B is B = U^T U with U = c K^-1, so K is U^-1 rescaled to K[2][2] = 1.
func intrinsicsFromAbsoluteConic(b []float64) (*mat.Dense, error) {
	bMat := mat.NewSymDense(3, []float64{
		b[0], b[1], b[3],
		b[1], b[2], b[4],
		b[3], b[4], b[5],
	})
	var chol mat.Cholesky
	if ok := chol.Factorize(bMat); !ok {
		return nil, errors.Wrap(ErrDegenerateConfiguration, "intrinsic constraint matrix is not positive definite")
	}
	var u, uInv mat.TriDense
	chol.UTo(&u)
	if err := uInv.InverseTri(&u); err != nil {
		return nil, errors.Wrapf(ErrDegenerateConfiguration, "intrinsic factor is singular: %v", err)
	}
	k := mat.DenseCopyOf(&uInv)
	k.Scale(1/k.At(2, 2), k)
	k.Set(0, 1, 0)
	return k, nil
}
