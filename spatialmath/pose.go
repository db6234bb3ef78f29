package spatialmath

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// Pose represents a rigid transform: a translation (Point) and a rotation (Orientation).
// Applied to a point p it yields R*p + t.
type Pose interface {
	Point() r3.Vector
	Orientation() Orientation
}

// NewZeroPose returns a pose at (0,0,0) with same orientation as whatever frame it is placed in.
func NewZeroPose() Pose {
	return newDualQuaternion()
}

// NewPose takes in a position and orientation and returns a Pose.
func NewPose(p r3.Vector, o Orientation) Pose {
	if o == nil {
		return NewPoseFromPoint(p)
	}
	return newDualQuaternionFromPose(p, Normalize(o.Quaternion()))
}

// NewPoseFromPoint takes in a cartesian (x,y,z) and stores it as a vector.
// It will have the same orientation as the frame it is in.
func NewPoseFromPoint(point r3.Vector) Pose {
	return newDualQuaternionFromPose(point, quat.Number{Real: 1})
}

// NewPoseFromRotationVector builds a pose from a rotation vector (axis scaled by angle in radians) and a translation.
func NewPoseFromRotationVector(rv, t r3.Vector) Pose {
	return newDualQuaternionFromPose(t, ExpMap(rv))
}

// NewPoseFromMatrix builds a pose from a homogeneous 4x4 transform. The upper 3x3 block is assumed to be a rotation.
func NewPoseFromMatrix(m mgl64.Mat4) Pose {
	q := mgl64.Mat4ToQuat(m)
	t := m.Col(3)
	return newDualQuaternionFromPose(
		r3.Vector{X: t.X(), Y: t.Y(), Z: t.Z()},
		Normalize(quat.Number{Real: q.W, Imag: q.X(), Jmag: q.Y(), Kmag: q.Z()}),
	)
}

// PoseToMatrix returns the homogeneous 4x4 transform of a pose.
func PoseToMatrix(p Pose) mgl64.Mat4 {
	q := p.Orientation().Quaternion()
	rot := mgl64.Quat{W: q.Real, V: mgl64.Vec3{q.Imag, q.Jmag, q.Kmag}}.Normalize().Mat4()
	pt := p.Point()
	return mgl64.Translate3D(pt.X, pt.Y, pt.Z).Mul4(rot)
}

// Compose treats Poses as functions a(x) and b(x) and produces the new function a(b(x)).
func Compose(a, b Pose) Pose {
	return dualQuaternionFromPose(a).Transformation(dualQuaternionFromPose(b).Number)
}

// PoseBetween returns the difference between two Poses: the pose b expressed in the frame of a,
// so that Compose(a, PoseBetween(a, b)) == b.
func PoseBetween(a, b Pose) Pose {
	return Compose(PoseInverse(a), b)
}

// PoseInverse will return the inverse of a pose. So if a given pose p is the pose of A relative to B, PoseInverse(p) will give
// the pose of B relative to A.
func PoseInverse(p Pose) Pose {
	return dualQuaternionFromPose(p).Invert()
}

// TransformPoint applies the pose to a point: R*v + t.
func TransformPoint(p Pose, v r3.Vector) r3.Vector {
	return rotate(p.Orientation().Quaternion(), v).Add(p.Point())
}

// RotationVector returns the rotation of the pose as a rotation vector.
func RotationVector(p Pose) r3.Vector {
	return QuatToR3AA(p.Orientation().Quaternion())
}

// PoseAlmostEqual will return a bool describing whether 2 poses are approximately the same.
func PoseAlmostEqual(a, b Pose) bool {
	return PoseAlmostEqualEps(a, b, 1e-6)
}

// PoseAlmostEqualEps will return a bool describing whether 2 poses are approximately the same,
// with eps used as the tolerance on both translation and angular distance.
func PoseAlmostEqualEps(a, b Pose, eps float64) bool {
	return PoseAlmostCoincidentEps(a, b, eps) && AngularDistance(a.Orientation(), b.Orientation()) < eps
}

// PoseAlmostCoincidentEps will return a bool describing whether 2 poses approximately occupy the same position.
func PoseAlmostCoincidentEps(a, b Pose, eps float64) bool {
	return a.Point().Sub(b.Point()).Norm() < eps
}

func rotate(q quat.Number, v r3.Vector) r3.Vector {
	q = Normalize(q)
	r := quat.Mul(quat.Mul(q, quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}), quat.Conj(q))
	return r3.Vector{X: r.Imag, Y: r.Jmag, Z: r.Kmag}
}

func finite(v r3.Vector) bool {
	return !math.IsNaN(v.X+v.Y+v.Z) && !math.IsInf(v.X+v.Y+v.Z, 0)
}

// IsFinite reports whether every component of the pose is finite.
func IsFinite(p Pose) bool {
	q := p.Orientation().Quaternion()
	return finite(p.Point()) && finite(r3.Vector{X: q.Imag, Y: q.Jmag, Z: q.Kmag}) && !math.IsNaN(q.Real)
}
