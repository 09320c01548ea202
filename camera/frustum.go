package camera

import (
	"github.com/aukilabs/quadsphere/geo"
	"github.com/golang/geo/r3"
)

// Plane is an oriented plane. Points with a positive distance are on the
// inner side.
type Plane struct {
	Normal r3.Vector
	D      float64
}

func newPlane(normal, point r3.Vector) Plane {
	n := normal.Normalize()
	return Plane{
		Normal: n,
		D:      -n.Dot(point),
	}
}

func (p Plane) Distance(v r3.Vector) float64 {
	return p.Normal.Dot(v) + p.D
}

// Frustum is the view volume of a camera bounded by six planes.
type Frustum struct {
	Planes [6]Plane
}

func newFrustum(c *Camera) Frustum {
	tanV := c.tanHalfFOV
	tanH := tanV * c.Aspect
	f := c.forward

	return Frustum{
		Planes: [6]Plane{
			newPlane(f, c.eye.Add(f.Mul(c.Near))),
			newPlane(f.Mul(-1), c.eye.Add(f.Mul(c.Far))),
			newPlane(c.right.Add(f.Mul(tanH)), c.eye),
			newPlane(c.right.Mul(-1).Add(f.Mul(tanH)), c.eye),
			newPlane(c.up.Add(f.Mul(tanV)), c.eye),
			newPlane(c.up.Mul(-1).Add(f.Mul(tanV)), c.eye),
		},
	}
}

// IntersectsSphere reports whether the sphere is at least partially inside
// the frustum.
func (f Frustum) IntersectsSphere(s geo.Sphere) bool {
	for _, p := range f.Planes {
		if p.Distance(s.Center) < -s.Radius {
			return false
		}
	}
	return true
}
