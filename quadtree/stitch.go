package quadtree

import (
	"math"

	"github.com/aukilabs/quadsphere/geo"
)

// sideGrid is a uniform grid over the root extent holding the nodes rendered
// during a frame. It is used to find the rendered neighbors of a node.
//
// Cells are in the range [min, min+size[ and the last row and column also
// hold the east and north borders.
type sideGrid struct {
	root  geo.Extent
	cols  int
	rows  int
	cellW float64
	cellH float64
	cells [][][]*Node
}

func newSideGrid(root geo.Extent, n int) *sideGrid {
	if n <= 0 {
		n = 1
	}

	g := &sideGrid{
		root:  root,
		cols:  n,
		rows:  n,
		cellW: root.Width() / float64(n),
		cellH: root.Height() / float64(n),
	}

	g.cells = make([][][]*Node, g.rows)
	for i := range g.cells {
		g.cells[i] = make([][]*Node, g.cols)
	}
	return g
}

func (g *sideGrid) reset() {
	for i := range g.cells {
		for j := range g.cells[i] {
			g.cells[i][j] = g.cells[i][j][:0]
		}
	}
}

func (g *sideGrid) cellRange(e geo.Extent) (minX, minY, maxX, maxY int) {
	minX = g.col(e.West())
	maxX = g.col(e.East())
	minY = g.row(e.South())
	maxY = g.row(e.North())
	return
}

func (g *sideGrid) col(lon float64) int {
	c := int(math.Floor((lon - g.root.West()) / g.cellW))
	return max(0, min(c, g.cols-1))
}

func (g *sideGrid) row(lat float64) int {
	r := int(math.Floor((lat - g.root.South()) / g.cellH))
	return max(0, min(r, g.rows-1))
}

func (g *sideGrid) insert(n *Node) {
	minX, minY, maxX, maxY := g.cellRange(n.Extent)
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			g.cells[y][x] = append(g.cells[y][x], n)
		}
	}
}

// region returns the nodes of the cells touched by the extent, in insertion
// order and without duplicates.
func (g *sideGrid) region(e geo.Extent) []*Node {
	minX, minY, maxX, maxY := g.cellRange(e)

	var nodes []*Node
	seen := make(map[*Node]bool)
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			for _, n := range g.cells[y][x] {
				if seen[n] {
					continue
				}
				seen[n] = true
				nodes = append(nodes, n)
			}
		}
	}
	return nodes
}

// stitch settles the tessellation of the sides that n shares with the nodes
// already rendered during the frame, then registers n as rendered. The
// coarser side of a shared edge keeps its grid and the finer one drops the
// vertices the coarser one does not have.
func (s *Strategy) stitch(n *Node) {
	seg := n.Segment
	seg.resetSides()
	n.sideSet = [4]bool{}

	if s.stitching {
		for _, shift := range s.shifts {
			e := n.Extent.Translate(shift)

			for _, b := range s.sides.region(e) {
				if b == n {
					continue
				}

				cs, ok := e.CommonSide(b.Extent)
				if !ok {
					continue
				}
				opcs := cs.Opposite()
				if n.sideSet[cs] && b.sideSet[opcs] {
					continue
				}

				stitchSides(n, cs, b, opcs)
				n.sideSet[cs] = true
				b.sideSet[opcs] = true
			}
		}
	}

	s.sides.insert(n)
}

func stitchSides(a *Node, cs geo.Side, b *Node, opcs geo.Side) {
	as, bs := a.Segment, b.Segment

	// The number of a cells matching one b cell along the shared edge.
	ld := float64(as.GridSize) / math.Ldexp(float64(bs.GridSize), b.Zoom()-a.Zoom())

	switch {
	case ld > 1:
		as.SideSize[cs] = int(math.Ceil(float64(as.GridSize) / ld))
		bs.SideSize[opcs] = bs.GridSize

	case ld < 1:
		as.SideSize[cs] = as.GridSize
		bs.SideSize[opcs] = int(math.Ceil(float64(bs.GridSize) * ld))

	default:
		as.SideSize[cs] = as.GridSize
		bs.SideSize[opcs] = bs.GridSize
	}
}
