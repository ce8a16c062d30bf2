package query

import (
	"github.com/arx-os/lidarindex/internal/attrindex"
	"github.com/arx-os/lidarindex/internal/spatial"
)

// Plane is a half-space boundary Normal.X*x + Normal.Y*y + Normal.Z*z + D
// >= 0; points satisfying the inequality are "inside" the plane.
type Plane struct {
	Normal spatial.Point3D
	D      float64
}

// classifyBox returns +1 if box lies entirely inside the plane, -1 if
// entirely outside, 0 if the plane cuts through it. It tests the box
// corner most and least favorable to the plane (the standard
// positive/negative vertex trick), avoiding all 8 corners.
func (p Plane) classifyBox(box spatial.BoundingBox) int {
	pos := spatial.Point3D{X: box.Min.X, Y: box.Min.Y, Z: box.Min.Z}
	neg := spatial.Point3D{X: box.Max.X, Y: box.Max.Y, Z: box.Max.Z}
	if p.Normal.X >= 0 {
		pos.X, neg.X = box.Max.X, box.Min.X
	}
	if p.Normal.Y >= 0 {
		pos.Y, neg.Y = box.Max.Y, box.Min.Y
	}
	if p.Normal.Z >= 0 {
		pos.Z, neg.Z = box.Max.Z, box.Min.Z
	}

	if p.distance(pos) < 0 {
		return -1
	}
	if p.distance(neg) >= 0 {
		return 1
	}
	return 0
}

func (p Plane) distance(pt spatial.Point3D) float64 {
	return p.Normal.X*pt.X + p.Normal.Y*pt.Y + p.Normal.Z*pt.Z + p.D
}

// ViewFrustum matches nodes whose bounds fall inside every plane of a
// (typically 6-plane) view frustum. A box outside any single plane is
// entirely culled; a box inside every plane is entirely visible;
// otherwise the frustum straddles the box and callers must recurse.
type ViewFrustum struct {
	Planes []Plane
}

func (f ViewFrustum) Evaluate(ctx NodeContext) attrindex.TestResult {
	allInside := true
	for _, plane := range f.Planes {
		switch plane.classifyBox(ctx.Bounds) {
		case -1:
			return attrindex.Negative
		case 0:
			allInside = false
		}
	}
	if allInside {
		return attrindex.Positive
	}
	return attrindex.Partial
}
