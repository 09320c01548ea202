package quadtree

import (
	"sync"
	"sync/atomic"
)

// IndexKey identifies the triangulation of a grid whose sides use the given
// number of cells.
type IndexKey struct {
	Grid  int
	North int
	East  int
	South int
	West  int
}

// SideSize returns the number of cells of the given side, indexed like
// geo.Sides.
func (k IndexKey) SideSize(i int) int {
	switch i {
	case 0:
		return k.North
	case 1:
		return k.East
	case 2:
		return k.South
	default:
		return k.West
	}
}

func indexKey(gridSize int, sides [4]int) IndexKey {
	return IndexKey{
		Grid:  gridSize,
		North: sides[0],
		East:  sides[1],
		South: sides[2],
		West:  sides[3],
	}
}

// IndexCache shares triangulations between every segment with the same grid
// and side configuration. It is safe for concurrent use.
type IndexCache struct {
	indices sync.Map
	size    atomic.Int64
}

func NewIndexCache() *IndexCache {
	return &IndexCache{}
}

// Get returns the triangle list of the given configuration, generating it on
// first use. The returned slice must not be modified.
func (c *IndexCache) Get(k IndexKey) []uint16 {
	if v, ok := c.indices.Load(k); ok {
		instrumentIndexCache(true)
		return v.([]uint16)
	}

	instrumentIndexCache(false)
	v, loaded := c.indices.LoadOrStore(k, Triangulate(k))
	if !loaded {
		c.size.Add(1)
	}
	return v.([]uint16)
}

// Len returns the number of cached triangulations.
func (c *IndexCache) Len() int {
	return int(c.size.Load())
}

// Triangulate returns the triangle list of a (Grid+1)^2 vertex lattice, row
// major from north west. Border vertices of a side using fewer cells than the
// grid are snapped to a vertex kept on that side, and the triangles collapsed
// by the snapping are dropped. Cells are split along their north east to south
// west diagonal, so the north and west sides snap towards the north west
// corner and the south and east sides towards the south east one.
func Triangulate(k IndexKey) []uint16 {
	g := max(k.Grid, 1)
	side := g + 1

	step := func(cells int) int {
		cells = max(1, min(cells, g))
		if g%cells != 0 {
			return 1
		}
		return g / cells
	}
	north, east := step(k.North), step(k.East)
	south, west := step(k.South), step(k.West)

	down := func(v, step int) int {
		return v - v%step
	}
	up := func(v, step int) int {
		if r := v % step; r != 0 {
			return v + step - r
		}
		return v
	}

	snap := func(i, j int) uint16 {
		switch i {
		case 0:
			j = down(j, north)
		case g:
			j = up(j, south)
		}
		switch j {
		case 0:
			i = down(i, west)
		case g:
			i = up(i, east)
		}
		return uint16(i*side + j)
	}

	indices := make([]uint16, 0, g*g*6)
	add := func(a, b, c uint16) {
		if a == b || b == c || a == c {
			return
		}
		indices = append(indices, a, b, c)
	}

	for i := 0; i < g; i++ {
		for j := 0; j < g; j++ {
			a := snap(i, j)
			b := snap(i, j+1)
			c := snap(i+1, j)
			d := snap(i+1, j+1)

			add(a, c, b)
			add(b, c, d)
		}
	}
	return indices
}
