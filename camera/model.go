// Package camera defines the projection models that map camera frame rays to image pixels and back.
//
// The camera frame is x right, y down, z forward. Pixel x is the image column and pixel y is the row.
package camera

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// ErrNoIntrinsics is when a camera does not have intrinsics parameters or other parameters.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// NewNoIntrinsicsError is used when the intrinsics are not defined.
func NewNoIntrinsicsError(msg string) error {
	return errors.Wrap(ErrNoIntrinsics, msg)
}

// Model maps between camera frame points and pixels. Implementations are immutable
// and safe for concurrent use.
type Model interface {
	// WorldToPixel projects a camera frame point of any positive depth to a pixel.
	WorldToPixel(p r3.Vector) r2.Point
	// PixelToWorld returns the unit ray through a pixel.
	PixelToWorld(px r2.Point) r3.Vector
}

// RayAngle returns the angle in radians between two rays.
func RayAngle(a, b r3.Vector) float64 {
	return a.Angle(b).Radians()
}

// polyval evaluates a polynomial with coefficients ordered lowest degree first.
func polyval(coeffs []float64, x float64) float64 {
	var y float64
	for i := len(coeffs) - 1; i >= 0; i-- {
		y = y*x + coeffs[i]
	}
	return y
}
