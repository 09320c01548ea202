package camera

import (
	"math"

	"github.com/paulmach/orb"
)

// Waypoint is a camera pose of a scripted path.
type Waypoint struct {
	Point    orb.Point `json:"point"`
	Altitude float64   `json:"altitude"`
	Tilt     float64   `json:"tilt"`
}

// Path is a scripted camera flight through waypoints. Positions and tilts are
// interpolated linearly and altitudes geometrically, so that a descent spends
// as much time per halving of the altitude.
type Path struct {
	Waypoints []Waypoint

	// The time spent between two waypoints, in frames.
	FramesPerLeg int
}

// Frames returns the number of frames of the whole path.
func (p Path) Frames() int {
	if len(p.Waypoints) < 2 {
		return 1
	}
	return (len(p.Waypoints)-1)*max(p.FramesPerLeg, 1) + 1
}

// At returns the waypoint reached at the given frame. Frames past the end
// return the last waypoint.
func (p Path) At(frame int) Waypoint {
	switch len(p.Waypoints) {
	case 0:
		return Waypoint{}
	case 1:
		return p.Waypoints[0]
	}

	perLeg := max(p.FramesPerLeg, 1)
	leg := frame / perLeg
	if frame < 0 {
		return p.Waypoints[0]
	}
	if leg >= len(p.Waypoints)-1 {
		return p.Waypoints[len(p.Waypoints)-1]
	}

	a, b := p.Waypoints[leg], p.Waypoints[leg+1]
	if frame%perLeg == 0 {
		return a
	}
	t := float64(frame%perLeg) / float64(perLeg)

	return Waypoint{
		Point: orb.Point{
			a.Point[0] + (b.Point[0]-a.Point[0])*t,
			a.Point[1] + (b.Point[1]-a.Point[1])*t,
		},
		Altitude: geometricLerp(a.Altitude, b.Altitude, t),
		Tilt:     a.Tilt + (b.Tilt-a.Tilt)*t,
	}
}

// Apply hovers the camera at the waypoint reached at the given frame.
func (p Path) Apply(c *Camera, frame int) Waypoint {
	w := p.At(frame)
	c.Hover(w.Point, w.Altitude, w.Tilt)
	return w
}

func geometricLerp(a, b, t float64) float64 {
	if a <= 0 || b <= 0 {
		return a + (b-a)*t
	}
	return math.Exp(math.Log(a) + (math.Log(b)-math.Log(a))*t)
}
