package geo

import (
	"fmt"

	"github.com/paulmach/orb"
)

// Quadrant identifies one of the four children of a split extent.
type Quadrant uint8

const (
	NW Quadrant = iota
	NE
	SW
	SE
)

func (q Quadrant) String() string {
	switch q {
	case NW:
		return "nw"
	case NE:
		return "ne"
	case SW:
		return "sw"
	case SE:
		return "se"
	default:
		return "unknown"
	}
}

// East reports whether the quadrant lies on the east half of its parent.
func (q Quadrant) East() bool {
	return q == NE || q == SE
}

// South reports whether the quadrant lies on the south half of its parent.
func (q Quadrant) South() bool {
	return q == SW || q == SE
}

// Side identifies an edge of an extent.
type Side uint8

const (
	North Side = iota
	East
	South
	West
)

// Sides lists the edges in index order.
var Sides = [4]Side{North, East, South, West}

func (s Side) Opposite() Side {
	return (s + 2) % 4
}

func (s Side) String() string {
	switch s {
	case North:
		return "n"
	case East:
		return "e"
	case South:
		return "s"
	case West:
		return "w"
	default:
		return "unknown"
	}
}

// Extent is a geographic rectangle in degrees. X is the longitude and Y the
// latitude.
type Extent struct {
	SouthWest orb.Point
	NorthEast orb.Point
}

// NewExtent returns the extent with the given corners. Swapped components are
// reordered so that the south west corner is never greater than the north east
// one.
func NewExtent(sw, ne orb.Point) Extent {
	if sw[0] > ne[0] {
		sw[0], ne[0] = ne[0], sw[0]
	}
	if sw[1] > ne[1] {
		sw[1], ne[1] = ne[1], sw[1]
	}
	return Extent{SouthWest: sw, NorthEast: ne}
}

// ExtentFromBound converts an orb bound.
func ExtentFromBound(b orb.Bound) Extent {
	return NewExtent(b.Min, b.Max)
}

// World is the whole geographic extent.
func World() Extent {
	return Extent{
		SouthWest: orb.Point{-180, -90},
		NorthEast: orb.Point{180, 90},
	}
}

func (e Extent) Bound() orb.Bound {
	return orb.Bound{Min: e.SouthWest, Max: e.NorthEast}
}

func (e Extent) West() float64  { return e.SouthWest[0] }
func (e Extent) South() float64 { return e.SouthWest[1] }
func (e Extent) East() float64  { return e.NorthEast[0] }
func (e Extent) North() float64 { return e.NorthEast[1] }

func (e Extent) Width() float64 {
	return e.NorthEast[0] - e.SouthWest[0]
}

func (e Extent) Height() float64 {
	return e.NorthEast[1] - e.SouthWest[1]
}

func (e Extent) Center() orb.Point {
	return e.Bound().Center()
}

// Quadrants splits the extent in four, ordered NW, NE, SW, SE. The children
// share the same midpoint values so their union is exactly the extent.
func (e Extent) Quadrants() [4]Extent {
	c := e.Center()
	w, s, east, n := e.West(), e.South(), e.East(), e.North()

	return [4]Extent{
		NW: {SouthWest: orb.Point{w, c[1]}, NorthEast: orb.Point{c[0], n}},
		NE: {SouthWest: orb.Point{c[0], c[1]}, NorthEast: orb.Point{east, n}},
		SW: {SouthWest: orb.Point{w, s}, NorthEast: orb.Point{c[0], c[1]}},
		SE: {SouthWest: orb.Point{c[0], s}, NorthEast: orb.Point{east, c[1]}},
	}
}

// Contains reports whether the point is inside the extent, borders included.
func (e Extent) Contains(p orb.Point) bool {
	return e.Bound().Contains(p)
}

// ContainsExtent reports whether o is fully inside the extent.
func (e Extent) ContainsExtent(o Extent) bool {
	return e.Contains(o.SouthWest) && e.Contains(o.NorthEast)
}

// Intersects reports whether the interiors of both extents overlap. Extents
// that only share an edge do not intersect.
func (e Extent) Intersects(o Extent) bool {
	return e.West() < o.East() && o.West() < e.East() &&
		e.South() < o.North() && o.South() < e.North()
}

// Touches reports whether both extents overlap or share at least a point.
func (e Extent) Touches(o Extent) bool {
	return e.Bound().Intersects(o.Bound())
}

func (e Extent) Equal(o Extent) bool {
	return e.Bound().Equal(o.Bound())
}

// Translate returns the extent shifted by dx degrees of longitude.
func (e Extent) Translate(dx float64) Extent {
	return Extent{
		SouthWest: orb.Point{e.SouthWest[0] + dx, e.SouthWest[1]},
		NorthEast: orb.Point{e.NorthEast[0] + dx, e.NorthEast[1]},
	}
}

// CommonSide returns the side of e that is shared with o. Sides are shared
// when the edges coincide and the span of one contains the span of the other.
func (e Extent) CommonSide(o Extent) (Side, bool) {
	latNested := (e.North() <= o.North() && e.South() >= o.South()) ||
		(e.North() >= o.North() && e.South() <= o.South())
	lonNested := (e.West() >= o.West() && e.East() <= o.East()) ||
		(e.West() <= o.West() && e.East() >= o.East())

	switch {
	case e.East() == o.West() && latNested:
		return East, true
	case e.West() == o.East() && latNested:
		return West, true
	case e.North() == o.South() && lonNested:
		return North, true
	case e.South() == o.North() && lonNested:
		return South, true
	default:
		return 0, false
	}
}

func (e Extent) String() string {
	return fmt.Sprintf("[%g,%g,%g,%g]", e.West(), e.South(), e.East(), e.North())
}
