// Package leastsquares solves small dense nonlinear least squares problems,
// minimizing 0.5*||r(x)||^2 over parameters that may live on a manifold.
package leastsquares

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Problem describes the residual function and its local parameterization.
type Problem struct {
	NumParams    int
	NumResiduals int

	// Residuals writes r(x) into dst, which has length NumResiduals.
	Residuals func(dst, x []float64)

	// Jacobian writes the derivative of r at x with respect to the local update
	// (the delta handed to Plus) into dst, NumResiduals x NumParams.
	// If nil, central finite differences are used.
	Jacobian func(dst *mat.Dense, x []float64)

	// Plus writes x boxplus delta into dst. If nil, dst = x + delta.
	Plus func(dst, x, delta []float64)
}

func (p *Problem) validate(x0 []float64) error {
	if p.NumParams <= 0 {
		return errors.Errorf("problem must have parameters, got %d", p.NumParams)
	}
	if p.NumResiduals <= 0 {
		return errors.Errorf("problem must have residuals, got %d", p.NumResiduals)
	}
	if len(x0) != p.NumParams {
		return errors.Errorf("initial parameters have length %d, want %d", len(x0), p.NumParams)
	}
	if p.Residuals == nil {
		return errors.New("problem has no residual function")
	}
	return nil
}

func (p *Problem) plus(dst, x, delta []float64) {
	if p.Plus != nil {
		p.Plus(dst, x, delta)
		return
	}
	floats.AddTo(dst, x, delta)
}

// cost evaluates the residuals into r and returns 0.5*||r||^2.
func (p *Problem) cost(r, x []float64) float64 {
	p.Residuals(r, x)
	return 0.5 * floats.Dot(r, r)
}

// jacobian fills dst with the Jacobian at x, analytic when available.
func (p *Problem) jacobian(dst *mat.Dense, x []float64, settings Settings) {
	if p.Jacobian != nil && !settings.NumericJacobian {
		p.Jacobian(dst, x)
		return
	}
	NumericJacobian(dst, p, x, settings.ConcurrentJacobian)
}

// NumericJacobian approximates the Jacobian of the problem's residuals at x with respect to
// the local update, using central differences around a zero delta.
func NumericJacobian(dst *mat.Dense, p *Problem, x []float64, concurrent bool) {
	f := func(y, delta []float64) {
		xp := make([]float64, len(x))
		p.plus(xp, x, delta)
		p.Residuals(y, xp)
	}
	fd.Jacobian(dst, f, make([]float64, p.NumParams), &fd.JacobianSettings{
		Formula:    fd.Central,
		Concurrent: concurrent,
	})
}

// CheckJacobian returns the largest absolute difference between the problem's analytic
// Jacobian and the finite difference one at x.
func CheckJacobian(p *Problem, x []float64) (float64, error) {
	if err := p.validate(x); err != nil {
		return 0, err
	}
	if p.Jacobian == nil {
		return 0, errors.New("problem has no analytic jacobian")
	}
	analytic := mat.NewDense(p.NumResiduals, p.NumParams, nil)
	numeric := mat.NewDense(p.NumResiduals, p.NumParams, nil)
	p.Jacobian(analytic, x)
	NumericJacobian(numeric, p, x, false)
	return floats.Distance(analytic.RawMatrix().Data, numeric.RawMatrix().Data, math.Inf(1)), nil
}
