package transform

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/camcal/camcal/spatialmath"
)

// CamPose is the rigid transform from a board frame into the camera frame.
type CamPose struct {
	Rotation    *spatialmath.RotationMatrix
	Translation r3.Vector
}

// NewCamPose builds a pose from a rotation vector and a translation.
func NewCamPose(rvec, tvec r3.Vector) *CamPose {
	return &CamPose{Rotation: spatialmath.RotationVectorToMatrix(rvec), Translation: tvec}
}

// RotationVector returns the rotation as a rotation vector.
func (cp *CamPose) RotationVector() r3.Vector {
	return cp.Rotation.RotationVector()
}

// Transform moves a board point into the camera frame.
func (cp *CamPose) Transform(pt r3.Vector) r3.Vector {
	return cp.Rotation.Apply(pt).Add(cp.Translation)
}

// PoseFromHomography recovers the pose of a planar target (Z = 0) from its homography and the camera matrix k.
// The columns of k^-1 H are r1, r2 and t up to a common scale. The scale is chosen so that the
// board sits in front of the camera, and the rotation is projected back onto SO(3).
func PoseFromHomography(k *mat.Dense, h *Homography) (*CamPose, error) {
	var kInv mat.Dense
	if err := kInv.Inverse(k); err != nil {
		return nil, errors.Wrap(err, "camera matrix cannot be inverted")
	}
	var a mat.Dense
	a.Mul(&kInv, h.matrix)

	col := func(j int) r3.Vector {
		return r3.Vector{X: a.At(0, j), Y: a.At(1, j), Z: a.At(2, j)}
	}
	a1, a2, a3 := col(0), col(1), col(2)
	norm := a1.Norm() + a2.Norm()
	if norm == 0 {
		return nil, errors.New("homography has zero rotation columns")
	}
	lambda := 2 / norm
	t := a3.Mul(lambda)
	if t.Z < 0 {
		lambda = -lambda
		t = t.Mul(-1)
	}
	r1 := a1.Mul(lambda)
	r2 := a2.Mul(lambda)
	r3v := r1.Cross(r2)

	approx := mat.NewDense(3, 3, []float64{
		r1.X, r2.X, r3v.X,
		r1.Y, r2.Y, r3v.Y,
		r1.Z, r2.Z, r3v.Z,
	})
	rot, ok := NearestRotation(approx)
	if !ok {
		return nil, errors.New("failed to orthogonalize rotation")
	}
	rm, err := spatialmath.NewRotationMatrixFromDense(rot)
	if err != nil {
		return nil, err
	}
	return &CamPose{Rotation: rm, Translation: t}, nil
}
