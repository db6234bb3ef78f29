// Package calibration refines the rigid transform between two sensors from many observations of a
// planar target, and runs the whole pipeline from per-frame detections to a graded result.
package calibration

import (
	"github.com/golang/geo/r3"

	"go.viam.com/sensorcalib/spatialmath"
)

// ExtrinsicParameter is a rigid transform as a rotation vector (rx, ry, rz, radians) followed by a
// translation (tx, ty, tz, meters). It maps points from the first sensor's frame, the ranging
// sensor or first camera, into the second sensor's frame.
type ExtrinsicParameter [6]float64

// NewExtrinsicParameter returns the parameter describing pose.
func NewExtrinsicParameter(pose spatialmath.Pose) ExtrinsicParameter {
	rv := spatialmath.RotationVector(pose)
	t := pose.Point()
	return ExtrinsicParameter{rv.X, rv.Y, rv.Z, t.X, t.Y, t.Z}
}

// RotationVector returns the rotation part.
func (e ExtrinsicParameter) RotationVector() r3.Vector {
	return r3.Vector{X: e[0], Y: e[1], Z: e[2]}
}

// Translation returns the translation part.
func (e ExtrinsicParameter) Translation() r3.Vector {
	return r3.Vector{X: e[3], Y: e[4], Z: e[5]}
}

// Pose returns the transform as a pose.
func (e ExtrinsicParameter) Pose() spatialmath.Pose {
	return spatialmath.NewPoseFromRotationVector(e.RotationVector(), e.Translation())
}
