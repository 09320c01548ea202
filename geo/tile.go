package geo

import (
	"fmt"

	"github.com/paulmach/orb/maptile"
)

// TileExtent returns the extent of a tile of the quadtree rooted at root. Tile
// rows go from north to south. The extent is obtained by successive quadrant
// splits, so it is exactly the one of the matching quadtree node.
func TileExtent(root Extent, t maptile.Tile) Extent {
	e := root
	for z := int(t.Z) - 1; z >= 0; z-- {
		e = e.Quadrants()[TileQuadrant(maptile.New(t.X>>uint(z), t.Y>>uint(z), t.Z-maptile.Zoom(z)))]
	}
	return e
}

// TileQuadrant returns the quadrant a tile occupies within its parent.
func TileQuadrant(t maptile.Tile) Quadrant {
	q := NW
	if t.X&1 == 1 {
		q |= NE
	}
	if t.Y&1 == 1 {
		q |= SW
	}
	return q
}

// ChildTile returns the tile of the given quadrant one level deeper.
func ChildTile(t maptile.Tile, q Quadrant) maptile.Tile {
	x, y := t.X*2, t.Y*2
	if q.East() {
		x++
	}
	if q.South() {
		y++
	}
	return maptile.New(x, y, t.Z+1)
}

// TileKey formats a tile as z/x/y.
func TileKey(t maptile.Tile) string {
	return fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y)
}
