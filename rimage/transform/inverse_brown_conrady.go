package transform

// InverseBrownConrady applies the inverse of a Brown-Conrady distortion model.
// Given distorted normalized points, it computes the corresponding undistorted points using
// an iterative Newton-Raphson method on the forward model.
type InverseBrownConrady struct {
	Forward *BrownConrady
}

// NewInverseBrownConrady wraps the forward model.
func NewInverseBrownConrady(forward *BrownConrady) *InverseBrownConrady {
	return &InverseBrownConrady{Forward: forward}
}

// CheckValid checks if the forward model is present and valid.
func (ibc *InverseBrownConrady) CheckValid() error {
	if ibc == nil || ibc.Forward == nil {
		return InvalidDistortionError("InverseBrownConrady shaped distortion_parameters not provided")
	}
	return ibc.Forward.CheckValid()
}

// Transform solves forward(x_u, y_u) = (x_d, y_d) for the undistorted point. The distorted
// point is the initial guess.
func (ibc *InverseBrownConrady) Transform(xd, yd float64) (float64, float64) {
	if ibc == nil || ibc.Forward == nil {
		return xd, yd
	}

	xu, yu := xd, yd

	const maxIterations = 20
	const tolerance = 1e-12

	for i := 0; i < maxIterations; i++ {
		xdEst, ydEst := ibc.Forward.Transform(xu, yu)
		errX := xdEst - xd
		errY := ydEst - yd
		if errX*errX+errY*errY < tolerance*tolerance {
			break
		}

		jac := ibc.Forward.Jacobian(xu, yu)
		det := jac[0][0]*jac[1][1] - jac[0][1]*jac[1][0]
		if det == 0 {
			break
		}

		// [xu, yu] -= J^-1 * [errX, errY]
		xu -= (jac[1][1]*errX - jac[0][1]*errY) / det
		yu -= (-jac[1][0]*errX + jac[0][0]*errY) / det
	}

	return xu, yu
}
