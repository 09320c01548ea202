package camera

import (
	"math"

	"github.com/aukilabs/quadsphere/geo"
	"github.com/golang/geo/r3"
	"github.com/paulmach/orb"
)

// Camera is a perspective camera looking at a surface.
type Camera struct {
	// The surface the altitude is measured from.
	Surface geo.Surface

	// The vertical field of view in degrees.
	FOV float64

	// The width to height ratio of the viewport.
	Aspect float64

	// The distances of the near and far clipping planes.
	Near float64
	Far  float64

	eye        r3.Vector
	forward    r3.Vector
	right      r3.Vector
	up         r3.Vector
	tanHalfFOV float64
	frustum    Frustum
}

// New returns a camera placed at the origin and looking down the X axis.
func New(surface geo.Surface, fov, aspect, near, far float64) *Camera {
	c := &Camera{
		Surface: surface,
		FOV:     fov,
		Aspect:  aspect,
		Near:    near,
		Far:     far,
	}
	c.LookAt(r3.Vector{}, r3.Vector{X: 1}, r3.Vector{Z: 1})
	return c
}

// LookAt moves the camera to eye and points it toward target.
func (c *Camera) LookAt(eye, target, up r3.Vector) {
	c.eye = eye
	c.forward = target.Sub(eye).Normalize()

	right := c.forward.Cross(up)
	if right.Norm2() == 0 {
		// Up is parallel to the view direction, pick any orthogonal axis.
		right = c.forward.Ortho()
	}
	c.right = right.Normalize()
	c.up = c.right.Cross(c.forward).Normalize()
	c.tanHalfFOV = math.Tan(c.FOV * math.Pi / 360)
	c.frustum = newFrustum(c)
}

// Hover places the camera above a geographic point, looking at the ground
// with the given tilt in degrees. A zero tilt looks straight down.
func (c *Camera) Hover(p orb.Point, altitude, tilt float64) {
	ground := c.Surface.Position(p, 0)
	eye := c.Surface.Position(p, altitude)
	normal := c.Surface.Normal(p)

	north := c.Surface.Position(geo.LonLat(p[0], p[1]+0.01), 0).Sub(ground)
	if p[1]+0.01 > 90 {
		north = ground.Sub(c.Surface.Position(geo.LonLat(p[0], p[1]-0.01), 0))
	}
	north = north.Sub(normal.Mul(north.Dot(normal))).Normalize()

	t := tilt * math.Pi / 180
	dir := normal.Mul(-math.Cos(t)).Add(north.Mul(math.Sin(t)))

	up := north
	if tilt != 0 {
		up = normal
	}
	c.LookAt(eye, eye.Add(dir.Mul(altitude)), up)
}

func (c *Camera) Eye() r3.Vector {
	return c.eye
}

func (c *Camera) Forward() r3.Vector {
	return c.forward
}

// Altitude returns the height of the eye above the surface.
func (c *Camera) Altitude() float64 {
	return c.Surface.Altitude(c.eye)
}

// ProjectedSize returns the size a unit of screen would cover at the distance
// of the given point.
func (c *Camera) ProjectedSize(p r3.Vector) float64 {
	return c.eye.Distance(p) * c.tanHalfFOV
}

func (c *Camera) IntersectsSphere(s geo.Sphere) bool {
	return c.frustum.IntersectsSphere(s)
}

func (c *Camera) Frustum() Frustum {
	return c.frustum
}
