package geo

import (
	"math"

	"github.com/golang/geo/r3"
)

// Box is an axis aligned bounding box.
type Box struct {
	Min r3.Vector
	Max r3.Vector
}

// EmptyBox returns a box that any extension will overwrite.
func EmptyBox() Box {
	return Box{
		Min: r3.Vector{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)},
		Max: r3.Vector{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)},
	}
}

// BoxFromPoints returns the smallest box containing all the points.
func BoxFromPoints(points []r3.Vector) Box {
	b := EmptyBox()
	for _, p := range points {
		b = b.Extend(p)
	}
	return b
}

func (b Box) IsEmpty() bool {
	return b.Min.X > b.Max.X || b.Min.Y > b.Max.Y || b.Min.Z > b.Max.Z
}

func (b Box) Extend(p r3.Vector) Box {
	return Box{
		Min: r3.Vector{X: math.Min(b.Min.X, p.X), Y: math.Min(b.Min.Y, p.Y), Z: math.Min(b.Min.Z, p.Z)},
		Max: r3.Vector{X: math.Max(b.Max.X, p.X), Y: math.Max(b.Max.Y, p.Y), Z: math.Max(b.Max.Z, p.Z)},
	}
}

func (b Box) Center() r3.Vector {
	return b.Min.Add(b.Max).Mul(0.5)
}

func (b Box) Contains(p r3.Vector) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// Sphere is a bounding sphere.
type Sphere struct {
	Center r3.Vector
	Radius float64
}

// SphereFromBox returns the sphere circumscribing the box. Every point of the
// box lies within it.
func SphereFromBox(b Box) Sphere {
	if b.IsEmpty() {
		return Sphere{}
	}
	return Sphere{
		Center: b.Center(),
		Radius: b.Max.Sub(b.Min).Norm() * 0.5,
	}
}

// Contains reports whether p lies within the sphere, with eps of tolerance.
func (s Sphere) Contains(p r3.Vector, eps float64) bool {
	return s.Center.Distance(p) <= s.Radius+eps
}

// ExtentBox returns the bounding box of the surface patch covered by the
// extent, sampled on a grid of n cells per side with no elevation.
func ExtentBox(s Surface, e Extent, n int) Box {
	if n < 1 {
		n = 1
	}

	b := EmptyBox()
	dx := e.Width() / float64(n)
	dy := e.Height() / float64(n)

	for i := 0; i <= n; i++ {
		lat := e.North() - float64(i)*dy
		for j := 0; j <= n; j++ {
			lon := e.West() + float64(j)*dx
			b = b.Extend(s.Position(LonLat(lon, lat), 0))
		}
	}
	return b
}
