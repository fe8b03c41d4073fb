package camera

// coeffs unpacks up to eight distortion coefficients, missing ones are zero.
type coeffs struct {
	k1, k2, p1, p2, k3, k4, k5, k6 float64
}

func unpack(d []float64) coeffs {
	var v [MaxDistortionCoefficients]float64
	copy(v[:], d)
	return coeffs{v[0], v[1], v[2], v[3], v[4], v[5], v[6], v[7]}
}

// Distort applies the rational lens model to normalized image coordinates:
//
//	radial = (1 + k1*r² + k2*r⁴ + k3*r⁶) / (1 + k4*r² + k5*r⁴ + k6*r⁶)
//	x_d    = x*radial + 2*p1*x*y + p2*(r² + 2*x²)
//	y_d    = y*radial + p1*(r² + 2*y²) + 2*p2*x*y
func Distort(d []float64, x, y float64) (float64, float64) {
	c := unpack(d)
	r2 := x*x + y*y
	r4 := r2 * r2
	r6 := r4 * r2

	radial := (1 + c.k1*r2 + c.k2*r4 + c.k3*r6) / (1 + c.k4*r2 + c.k5*r4 + c.k6*r6)
	xd := x*radial + 2*c.p1*x*y + c.p2*(r2+2*x*x)
	yd := y*radial + c.p1*(r2+2*y*y) + 2*c.p2*x*y
	return xd, yd
}

// undistortIterations bounds the fixed-point inversion in Undistort.
const undistortIterations = 20

// Undistort inverts Distort by fixed-point iteration starting at the
// distorted point. If the radial factor turns negative the model is folding
// over itself and the distorted point is returned unchanged.
func Undistort(d []float64, xd, yd float64) (float64, float64) {
	c := unpack(d)
	x, y := xd, yd
	for i := 0; i < undistortIterations; i++ {
		r2 := x*x + y*y
		r4 := r2 * r2
		r6 := r4 * r2

		icdist := (1 + c.k4*r2 + c.k5*r4 + c.k6*r6) / (1 + c.k1*r2 + c.k2*r4 + c.k3*r6)
		if icdist < 0 {
			return xd, yd
		}
		deltaX := 2*c.p1*x*y + c.p2*(r2+2*x*x)
		deltaY := c.p1*(r2+2*y*y) + 2*c.p2*x*y
		x = (xd - deltaX) * icdist
		y = (yd - deltaY) * icdist
	}
	return x, y
}
