// Package pointcloud defines the ordered point sets produced by a ranging sensor
// and the axis aligned bounds used to cull them.
package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"

	"go.viam.com/sensorcalib/spatialmath"
)

// Points is an ordered set of points in a sensor's native frame.
type Points []r3.Vector

// Size returns the number of points in the set.
func (pts Points) Size() int {
	return len(pts)
}

// Filter returns the points for which keep returns true, in their original order.
func (pts Points) Filter(keep func(p r3.Vector) bool) Points {
	out := make(Points, 0, len(pts))
	for _, p := range pts {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}

// Transform returns every point mapped through pose.
func (pts Points) Transform(pose spatialmath.Pose) Points {
	out := make(Points, len(pts))
	for i, p := range pts {
		out[i] = spatialmath.TransformPoint(pose, p)
	}
	return out
}

// BoundingBox returns the axis aligned bounds of the set.
func (pts Points) BoundingBox() BoundingBox {
	bb := NewBoundingBox()
	for _, p := range pts {
		bb.Merge(p)
	}
	return bb
}

// BoundingBox is an axis aligned box given by its min and max corners.
type BoundingBox struct {
	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64
}

// NewBoundingBox returns an empty box that any merged point will grow.
func NewBoundingBox() BoundingBox {
	return BoundingBox{
		MinX: math.MaxFloat64,
		MinY: math.MaxFloat64,
		MinZ: math.MaxFloat64,
		MaxX: -math.MaxFloat64,
		MaxY: -math.MaxFloat64,
		MaxZ: -math.MaxFloat64,
	}
}

// Merge grows the box to include v.
func (bb *BoundingBox) Merge(v r3.Vector) {
	if v.X > bb.MaxX {
		bb.MaxX = v.X
	}
	if v.Y > bb.MaxY {
		bb.MaxY = v.Y
	}
	if v.Z > bb.MaxZ {
		bb.MaxZ = v.Z
	}

	if v.X < bb.MinX {
		bb.MinX = v.X
	}
	if v.Y < bb.MinY {
		bb.MinY = v.Y
	}
	if v.Z < bb.MinZ {
		bb.MinZ = v.Z
	}
}

// Empty reports whether nothing was merged into the box.
func (bb BoundingBox) Empty() bool {
	return bb.MinX > bb.MaxX || bb.MinY > bb.MaxY || bb.MinZ > bb.MaxZ
}

// StrictlyContains reports whether v lies inside the box on all three axes, excluding the faces.
func (bb BoundingBox) StrictlyContains(v r3.Vector) bool {
	return v.X > bb.MinX && v.X < bb.MaxX &&
		v.Y > bb.MinY && v.Y < bb.MaxY &&
		v.Z > bb.MinZ && v.Z < bb.MaxZ
}

// Min returns the minimum corner.
func (bb BoundingBox) Min() r3.Vector {
	return r3.Vector{X: bb.MinX, Y: bb.MinY, Z: bb.MinZ}
}

// Max returns the maximum corner.
func (bb BoundingBox) Max() r3.Vector {
	return r3.Vector{X: bb.MaxX, Y: bb.MaxY, Z: bb.MaxZ}
}
