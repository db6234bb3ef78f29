package camera

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

const inverseFitSamples = 512

// FitInversePolynomial fits the polynomial of the given degree mapping a ray's elevation angle
// atan2(z, r) back to the sensor radius r, for radii in [0, maxRadius]. The forward polynomial
// must make the elevation strictly increase with radius over that range.
func FitInversePolynomial(forward []float64, maxRadius float64, degree int) ([]float64, error) {
	if len(forward) < 2 {
		return nil, errors.Errorf("forward polynomial needs at least 2 coefficients, got %d", len(forward))
	}
	if maxRadius <= 0 || math.IsNaN(maxRadius) {
		return nil, errors.Errorf("invalid max radius %v", maxRadius)
	}
	if degree < 1 || degree >= inverseFitSamples {
		return nil, errors.Errorf("invalid inverse polynomial degree %d", degree)
	}

	vander := mat.NewDense(inverseFitSamples, degree+1, nil)
	radii := mat.NewVecDense(inverseFitSamples, nil)
	prevTheta := math.Inf(-1)
	for i := 0; i < inverseFitSamples; i++ {
		r := maxRadius * float64(i) / float64(inverseFitSamples-1)
		theta := math.Atan2(polyval(forward, r), r)
		if theta <= prevTheta {
			return nil, errors.Errorf("forward polynomial is not invertible at radius %.2f", r)
		}
		prevTheta = theta
		pow := 1.0
		for j := 0; j <= degree; j++ {
			vander.Set(i, j, pow)
			pow *= theta
		}
		radii.SetVec(i, r)
	}

	var coeffs mat.VecDense
	if err := coeffs.SolveVec(vander, radii); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, errors.Wrap(err, "least squares fit failed")
		}
	}
	return append([]float64(nil), coeffs.RawVector().Data...), nil
}
