package camera

import (
	"fmt"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// DefaultInverseDegree is the degree of the inverse polynomial fitted when none is supplied.
const DefaultInverseDegree = 12

// OmniPolynomial is the Scaramuzza omnidirectional camera model: a polynomial in the distance
// from the image center gives the ray for a pixel, an inverse polynomial in the ray's elevation
// gives the distance back, and an affine correction (c, d, e) accounts for sensor misalignment.
//
// The polynomials use the sensor convention where the optical axis points along -z and the first
// sensor axis follows image rows. Points are converted from the camera frame on the way in and out.
type OmniPolynomial struct {
	Width  int
	Height int
	// Ppx and Ppy are the image center, column and row.
	Ppx float64
	Ppy float64
	// C, D and E form the affine matrix [c d; e 1] from sensor to image coordinates.
	C float64
	D float64
	E float64
	// Polynomial maps radius to the sensor z coordinate, lowest degree first.
	Polynomial []float64
	// InversePolynomial maps elevation angle to radius, lowest degree first.
	InversePolynomial []float64
}

// NewOmniPolynomial checks the parameters and returns the model. If the inverse polynomial is
// empty it is fitted over the image's half diagonal.
func NewOmniPolynomial(params OmniPolynomial) (*OmniPolynomial, error) {
	if err := params.CheckValid(); err != nil {
		return nil, err
	}
	m := params
	m.Polynomial = append([]float64(nil), params.Polynomial...)
	m.InversePolynomial = append([]float64(nil), params.InversePolynomial...)
	if len(m.InversePolynomial) == 0 {
		inv, err := FitInversePolynomial(m.Polynomial, m.MaxRadius(), DefaultInverseDegree)
		if err != nil {
			return nil, errors.Wrap(err, "cannot fit inverse polynomial")
		}
		m.InversePolynomial = inv
	}
	return &m, nil
}

// CheckValid checks if the fields for OmniPolynomial have valid inputs.
func (m *OmniPolynomial) CheckValid() error {
	if m == nil {
		return NewNoIntrinsicsError("omnidirectional parameters do not exist")
	}
	if m.Width <= 0 || m.Height <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid size (%#v, %#v)", m.Width, m.Height))
	}
	if len(m.Polynomial) < 2 {
		return NewNoIntrinsicsError(fmt.Sprintf("polynomial needs at least 2 coefficients, got %d", len(m.Polynomial)))
	}
	if m.Polynomial[0] >= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid polynomial constant term %#v, must be negative", m.Polynomial[0]))
	}
	if det := m.C - m.D*m.E; det == 0 || math.IsNaN(det) {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid affine correction c=%#v d=%#v e=%#v", m.C, m.D, m.E))
	}
	return nil
}

// MaxRadius returns the largest distance from the image center to a corner, in pixels.
func (m *OmniPolynomial) MaxRadius() float64 {
	var r float64
	w, h := float64(m.Width), float64(m.Height)
	for _, corner := range []r2.Point{{X: 0, Y: 0}, {X: w, Y: 0}, {X: 0, Y: h}, {X: w, Y: h}} {
		r = math.Max(r, math.Hypot(corner.X-m.Ppx, corner.Y-m.Ppy))
	}
	return r
}

// WorldToPixel projects a camera frame point through the inverse polynomial and the affine correction.
// Points on the optical axis map to the image center.
func (m *OmniPolynomial) WorldToPixel(p r3.Vector) r2.Point {
	xs, ys, zs := p.Y, p.X, -p.Z
	norm := math.Hypot(xs, ys)
	if norm == 0 {
		return r2.Point{X: m.Ppx, Y: m.Ppy}
	}
	theta := math.Atan2(zs, norm)
	rho := polyval(m.InversePolynomial, theta)
	u := xs / norm * rho
	v := ys / norm * rho
	return r2.Point{
		X: u*m.E + v + m.Ppx,
		Y: u*m.C + v*m.D + m.Ppy,
	}
}

// PixelToWorld undoes the affine correction and lifts the pixel through the forward polynomial.
func (m *OmniPolynomial) PixelToWorld(px r2.Point) r3.Vector {
	dr := px.Y - m.Ppy
	dc := px.X - m.Ppx
	invdet := 1 / (m.C - m.D*m.E)
	u := invdet * (dr - m.D*dc)
	v := invdet * (-m.E*dr + m.C*dc)
	zs := polyval(m.Polynomial, math.Hypot(u, v))
	return r3.Vector{X: v, Y: u, Z: -zs}.Normalize()
}
