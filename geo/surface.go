package geo

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/paulmach/orb"
)

// Surface maps geographic coordinates to cartesian space.
type Surface interface {
	// Returns the cartesian position of a geographic point lifted by height
	// along the surface normal.
	Position(p orb.Point, height float64) r3.Vector

	// Returns the unit normal of the surface at a geographic point.
	Normal(p orb.Point) r3.Vector

	// Returns the height of a cartesian point above the surface.
	Altitude(v r3.Vector) float64

	// Reports whether the surface wraps around in longitude.
	WrapsLongitude() bool
}

// LonLat builds an orb point from a longitude and a latitude in degrees.
func LonLat(lon, lat float64) orb.Point {
	return orb.Point{lon, lat}
}

// Globe is a sphere of the given radius centered on the origin. Z points to
// the north pole.
type Globe struct {
	Radius float64
}

// EarthRadius is the mean earth radius in meters.
const EarthRadius = 6371008.8

func (g Globe) Position(p orb.Point, height float64) r3.Vector {
	return g.Normal(p).Mul(g.Radius + height)
}

func (g Globe) Normal(p orb.Point) r3.Vector {
	lon := p[0] * math.Pi / 180
	lat := p[1] * math.Pi / 180
	cosLat := math.Cos(lat)

	return r3.Vector{
		X: cosLat * math.Cos(lon),
		Y: cosLat * math.Sin(lon),
		Z: math.Sin(lat),
	}
}

func (g Globe) Altitude(v r3.Vector) float64 {
	return v.Norm() - g.Radius
}

func (g Globe) WrapsLongitude() bool {
	return true
}

// Plane is a flat surface where one degree spans Scale units on both axes.
// Heights go along Z.
type Plane struct {
	Scale float64
}

func (p Plane) Position(pt orb.Point, height float64) r3.Vector {
	return r3.Vector{X: pt[0] * p.Scale, Y: pt[1] * p.Scale, Z: height}
}

func (p Plane) Normal(orb.Point) r3.Vector {
	return r3.Vector{Z: 1}
}

func (p Plane) Altitude(v r3.Vector) float64 {
	return v.Z
}

func (p Plane) WrapsLongitude() bool {
	return false
}
