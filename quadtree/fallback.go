package quadtree

import (
	"math"

	"github.com/aukilabs/quadsphere/geo"
	"github.com/golang/geo/r3"
)

// findAncestor climbs the parents of n until one satisfies ready. It returns
// the ancestor with the bias locating n within it, or nil when no ancestor is
// ready.
func findAncestor(n *Node, ready func(*Segment) bool) (*Node, Bias) {
	var offX, offY uint64
	var depth uint

	for a := n; a.parent != nil; a = a.parent {
		if a.Quadrant.East() {
			offX += 1 << depth
		}
		if a.Quadrant.South() {
			offY += 1 << depth
		}
		depth++

		if ready(a.parent.Segment) {
			scale := 1 / float64(uint64(1)<<depth)
			return a.parent, Bias{
				OffsetX: float64(offX) * scale,
				OffsetY: float64(offY) * scale,
				Scale:   scale,
			}
		}
	}
	return nil, NoBias
}

func terrainReady(s *Segment) bool {
	side := s.GridSize + 1
	return s.TerrainReady() && len(s.TerrainVertices) == side*side
}

func imageReady(s *Segment) bool {
	return s.ownImage != nil
}

// subgrid extracts the part of the ancestor terrain covered by bias. The
// ancestor grid is never upsampled: when the covered part is smaller than a
// cell, a single cell is interpolated from the ancestor vertices.
func subgrid(a *Segment, bias Bias) (int, []r3.Vector, []r3.Vector) {
	span := float64(a.GridSize) * bias.Scale
	cells := max(int(span), 1)
	step := span / float64(cells)
	u0 := bias.OffsetX * float64(a.GridSize)
	v0 := bias.OffsetY * float64(a.GridSize)

	side := cells + 1
	vertices := make([]r3.Vector, 0, side*side)
	normals := make([]r3.Vector, 0, side*side)

	for i := 0; i < side; i++ {
		v := v0 + float64(i)*step
		for j := 0; j < side; j++ {
			u := u0 + float64(j)*step
			vertices = append(vertices, sampleGrid(a.TerrainVertices, a.GridSize, u, v))

			n := sampleGrid(a.TerrainNormals, a.GridSize, u, v)
			if n.Norm2() != 0 {
				n = n.Normalize()
			}
			normals = append(normals, n)
		}
	}
	return cells, vertices, normals
}

// sampleGrid interpolates a (g+1)^2 lattice at u, v cell units. Lattice
// points are returned exactly.
func sampleGrid(vs []r3.Vector, g int, u, v float64) r3.Vector {
	c0 := max(0, min(int(math.Floor(u)), g-1))
	r0 := max(0, min(int(math.Floor(v)), g-1))
	fu := u - float64(c0)
	fv := v - float64(r0)

	side := g + 1
	at := func(r, c int) r3.Vector {
		return vs[r*side+c]
	}

	top := lerpVector(at(r0, c0), at(r0, c0+1), fu)
	bottom := lerpVector(at(r0+1, c0), at(r0+1, c0+1), fu)
	return lerpVector(top, bottom, fv)
}

func lerpVector(a, b r3.Vector, t float64) r3.Vector {
	switch t {
	case 0:
		return a
	case 1:
		return b
	default:
		return a.Add(b.Sub(a).Mul(t))
	}
}

// initialBounds sets the bounds of a new node from the terrain of its nearest
// ready ancestor, or from its extent when there is none.
func (s *Strategy) initialBounds(n *Node) {
	if a, bias := findAncestor(n, terrainReady); a != nil {
		_, vertices, _ := subgrid(a.Segment, bias)
		n.Segment.setBounds(geo.BoxFromPoints(vertices))
		return
	}
	n.Segment.setBounds(geo.ExtentBox(s.conf.Surface, n.Extent, extentSamples))
}

// composeTerrain renders a node whose terrain is not ready with the terrain
// of its nearest ready ancestor. Without one the node stays flat.
func (s *Strategy) composeTerrain(n *Node) {
	seg := n.Segment

	a, bias := findAncestor(n, terrainReady)
	if a == nil {
		if seg.borrowedFrom != nil || seg.GridSize != seg.PlainGridSize {
			seg.setFlat()
		}
		return
	}

	if seg.borrowedFrom == a.Segment && seg.borrowedVersion == a.Segment.version && seg.TerrainBias == bias {
		return
	}

	cells, vertices, normals := subgrid(a.Segment, bias)
	seg.setTerrain(cells, vertices, normals, geo.BoxFromPoints(vertices))
	seg.TerrainBias = bias
	seg.borrowedFrom = a.Segment
	seg.borrowedVersion = a.Segment.version
}

// adoptTerrain makes the terrain of the ancestor at zoom the own terrain of
// the node. It is used past the deepest zoom of the elevation provider. While
// that ancestor is not ready its terrain is requested and the node keeps
// composing from the nearest ready ancestor. Without an ancestor at zoom the
// node is flat.
func (s *Strategy) adoptTerrain(n *Node, zoom int) {
	a := n.parent
	for a != nil && a.Zoom() > zoom {
		a = a.parent
	}
	if a == nil {
		s.flatTerrain(n)
		return
	}

	if !terrainReady(a.Segment) {
		s.requestAncestorTerrain(a)
		return
	}

	_, bias := findAncestor(n, func(seg *Segment) bool {
		return seg == a.Segment
	})

	seg := n.Segment
	cells, vertices, normals := subgrid(a.Segment, bias)
	seg.setTerrain(cells, vertices, normals, geo.BoxFromPoints(vertices))
	seg.TerrainBias = NoBias
	seg.borrowedFrom = nil
	seg.ownTerrain = true
	seg.terrain.state = Ready
}

// requestAncestorTerrain requests the terrain of an ancestor that is walked
// through. Its bounds are kept so that building its geometry does not change
// the culling of its subtree.
func (s *Strategy) requestAncestorTerrain(a *Node) {
	seg := a.Segment
	if !seg.Built() {
		bounds := seg.BoundingBox
		seg.buildGeometry(s.conf.Surface, a.Extent)
		seg.setBounds(bounds)
	}
	s.requestTerrain(a)
}

// composeImagery binds the imagery of the nearest ancestor owning one.
func (s *Strategy) composeImagery(n *Node) {
	seg := n.Segment

	a, bias := findAncestor(n, imageReady)
	if a == nil {
		seg.Image = nil
		seg.ImageryBias = NoBias
		return
	}
	seg.Image = a.Segment.ownImage
	seg.ImageryBias = bias
}
