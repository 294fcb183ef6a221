package transform

import "github.com/pkg/errors"

// BrownConrady is the radial and tangential lens distortion model. Coefficients are stored in
// the usual order k1, k2, p1, p2, k3 followed by the rational denominator k4, k5, k6.
// When Rational is false the denominator terms stay zero.
//
//	r² = x² + y²
//	radial = (1 + k1*r² + k2*r⁴ + k3*r⁶) / (1 + k4*r² + k5*r⁴ + k6*r⁶)
//	x_d = x*radial + 2*p1*x*y + p2*(r² + 2*x²)
//	y_d = y*radial + p1*(r² + 2*y²) + 2*p2*x*y
type BrownConrady struct {
	RadialK1     float64 `json:"rk1"`
	RadialK2     float64 `json:"rk2"`
	TangentialP1 float64 `json:"tp1"`
	TangentialP2 float64 `json:"tp2"`
	RadialK3     float64 `json:"rk3"`
	RadialK4     float64 `json:"rk4,omitempty"`
	RadialK5     float64 `json:"rk5,omitempty"`
	RadialK6     float64 `json:"rk6,omitempty"`
	Rational     bool    `json:"rational,omitempty"`
}

// NewBrownConrady takes in up to five coefficients k1, k2, p1, p2, k3. Missing values are 0.
func NewBrownConrady(inp []float64) (*BrownConrady, error) {
	if len(inp) > 5 {
		return nil, errors.Errorf("list of parameters too long, expected max 5, got %d", len(inp))
	}
	vals := make([]float64, 5)
	copy(vals, inp)
	return &BrownConrady{
		RadialK1: vals[0], RadialK2: vals[1],
		TangentialP1: vals[2], TangentialP2: vals[3],
		RadialK3: vals[4],
	}, nil
}

// NewRationalBrownConrady takes in up to eight coefficients k1, k2, p1, p2, k3, k4, k5, k6.
func NewRationalBrownConrady(inp []float64) (*BrownConrady, error) {
	if len(inp) > 8 {
		return nil, errors.Errorf("list of parameters too long, expected max 8, got %d", len(inp))
	}
	vals := make([]float64, 8)
	copy(vals, inp)
	return &BrownConrady{
		RadialK1: vals[0], RadialK2: vals[1],
		TangentialP1: vals[2], TangentialP2: vals[3],
		RadialK3: vals[4], RadialK4: vals[5], RadialK5: vals[6], RadialK6: vals[7],
		Rational: true,
	}, nil
}

// CheckValid checks if the fields for BrownConrady have valid inputs.
func (bc *BrownConrady) CheckValid() error {
	if bc == nil {
		return InvalidDistortionError("BrownConrady shaped distortion_parameters not provided")
	}
	if !bc.Rational && (bc.RadialK4 != 0 || bc.RadialK5 != 0 || bc.RadialK6 != 0) {
		return InvalidDistortionError("simple model cannot carry rational coefficients")
	}
	return nil
}

// ModelType returns the type of distortion model.
func (bc *BrownConrady) ModelType() DistortionType {
	if bc.Rational {
		return RationalDistortionType
	}
	return SimpleDistortionType
}

// Parameters returns the coefficients as a list of floats in k1, k2, p1, p2, k3[, k4, k5, k6] order.
func (bc *BrownConrady) Parameters() []float64 {
	if bc == nil {
		return []float64{}
	}
	out := []float64{bc.RadialK1, bc.RadialK2, bc.TangentialP1, bc.TangentialP2, bc.RadialK3}
	if bc.Rational {
		out = append(out, bc.RadialK4, bc.RadialK5, bc.RadialK6)
	}
	return out
}

// radial returns the radial factor and its derivative with respect to r².
func (bc *BrownConrady) radial(r2 float64) (float64, float64) {
	r4 := r2 * r2
	r6 := r4 * r2
	num := 1.0 + bc.RadialK1*r2 + bc.RadialK2*r4 + bc.RadialK3*r6
	dnum := bc.RadialK1 + 2.0*bc.RadialK2*r2 + 3.0*bc.RadialK3*r4
	if !bc.Rational {
		return num, dnum
	}
	den := 1.0 + bc.RadialK4*r2 + bc.RadialK5*r4 + bc.RadialK6*r6
	dden := bc.RadialK4 + 2.0*bc.RadialK5*r2 + 3.0*bc.RadialK6*r4
	return num / den, (dnum*den - num*dden) / (den * den)
}

// Transform distorts the normalized point (x, y).
func (bc *BrownConrady) Transform(x, y float64) (float64, float64) {
	if bc == nil {
		return x, y
	}
	r2 := x*x + y*y
	rad, _ := bc.radial(r2)
	xd := x*rad + 2.0*bc.TangentialP1*x*y + bc.TangentialP2*(r2+2.0*x*x)
	yd := y*rad + bc.TangentialP1*(r2+2.0*y*y) + 2.0*bc.TangentialP2*x*y
	return xd, yd
}

// Jacobian returns the partial derivatives of Transform at (x, y) as
// [[dxd/dx, dxd/dy], [dyd/dx, dyd/dy]].
func (bc *BrownConrady) Jacobian(x, y float64) [2][2]float64 {
	r2 := x*x + y*y
	rad, drad := bc.radial(r2)
	p1, p2 := bc.TangentialP1, bc.TangentialP2
	return [2][2]float64{
		{rad + 2.0*x*x*drad + 2.0*p1*y + 6.0*p2*x, 2.0*x*y*drad + 2.0*p1*x + 2.0*p2*y},
		{2.0*x*y*drad + 2.0*p1*x + 2.0*p2*y, rad + 2.0*y*y*drad + 6.0*p1*y + 2.0*p2*x},
	}
}
