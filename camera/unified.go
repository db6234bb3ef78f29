package camera

import (
	"fmt"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
)

// Unified is the unified projection model: a point is projected onto the unit sphere, then
// perspectively from a center shifted by Xi along the optical axis, distorted, and scaled by the
// pinhole intrinsics. With Xi = 0 it is the pinhole camera with Brown-Conrady distortion.
type Unified struct {
	Width  int
	Height int
	Fx     float64
	Fy     float64
	Ppx    float64
	Ppy    float64
	Xi     float64
	// Distortion may be nil for an undistorted lens.
	Distortion *BrownConrady
}

// NewUnified checks the parameters and returns the model.
func NewUnified(params Unified) (*Unified, error) {
	if err := params.CheckValid(); err != nil {
		return nil, err
	}
	m := params
	if params.Distortion != nil {
		d := *params.Distortion
		m.Distortion = &d
	}
	return &m, nil
}

// CheckValid checks if the fields for Unified have valid inputs.
func (m *Unified) CheckValid() error {
	if m == nil {
		return NewNoIntrinsicsError("Intrinsics do not exist")
	}
	if m.Width <= 0 || m.Height <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid size (%#v, %#v)", m.Width, m.Height))
	}
	if m.Fx <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fx = %#v", m.Fx))
	}
	if m.Fy <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fy = %#v", m.Fy))
	}
	if m.Ppx < 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid principal X point Ppx = %#v", m.Ppx))
	}
	if m.Ppy < 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid principal Y point Ppy = %#v", m.Ppy))
	}
	if m.Xi < 0 || math.IsNaN(m.Xi) {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid mirror parameter Xi = %#v", m.Xi))
	}
	return nil
}

// WorldToPixel projects a camera frame point. Points on the optical axis map to the principal point.
func (m *Unified) WorldToPixel(p r3.Vector) r2.Point {
	n := p.Normalize()
	denom := n.Z + m.Xi
	x, y := n.X/denom, n.Y/denom
	x, y = m.Distortion.Distort(x, y)
	return r2.Point{X: x*m.Fx + m.Ppx, Y: y*m.Fy + m.Ppy}
}

// PixelToWorld undistorts the pixel and lifts it back onto the unit sphere.
func (m *Unified) PixelToWorld(px r2.Point) r3.Vector {
	x := (px.X - m.Ppx) / m.Fx
	y := (px.Y - m.Ppy) / m.Fy
	x, y = m.Distortion.Undistort(x, y)
	rr := x*x + y*y
	factor := (m.Xi + math.Sqrt(1+(1-m.Xi*m.Xi)*rr)) / (rr + 1)
	return r3.Vector{X: factor * x, Y: factor * y, Z: factor - m.Xi}.Normalize()
}
