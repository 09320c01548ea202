package quadtree

import (
	"github.com/aukilabs/quadsphere/geo"
	"github.com/paulmach/orb/maptile"
)

// State is the role a node played during the last traversal.
type State uint8

const (
	NotRendering State = iota
	WalkThrough
	Rendering
)

func (s State) String() string {
	switch s {
	case NotRendering:
		return "not_rendering"
	case WalkThrough:
		return "walk_through"
	case Rendering:
		return "rendering"
	default:
		return "unknown"
	}
}

// Node is a tile of the quadtree. Nodes are owned by their parent and must
// only be used from the goroutine running the strategy frames.
type Node struct {
	// The tile of the node, with the root extent as the zoom 0 tile.
	ID maptile.Tile

	Extent   geo.Extent
	Quadrant geo.Quadrant

	// The segment holding the node data. Nil once the node is destroyed.
	Segment *Segment

	parent   *Node
	children []*Node
	state    State
	alive    bool

	// The sides whose tessellation was settled against a neighbor during
	// the current frame.
	sideSet [4]bool
}

func newNode(parent *Node, id maptile.Tile, q geo.Quadrant, e geo.Extent, gridSize int) *Node {
	return &Node{
		ID:       id,
		Extent:   e,
		Quadrant: q,
		Segment:  newSegment(gridSize),
		parent:   parent,
		alive:    true,
	}
}

func (n *Node) Zoom() int {
	return int(n.ID.Z)
}

// Parent returns the parent of the node. It is nil for roots and destroyed
// nodes.
func (n *Node) Parent() *Node {
	return n.parent
}

// Children returns the four children of the node ordered NW, NE, SW, SE, or
// nil when the node has not been subdivided.
func (n *Node) Children() []*Node {
	return n.children
}

// State returns the state the node was given by the last traversal.
func (n *Node) State() State {
	return n.state
}

// EffectiveState returns the state of the node taking its ancestors into
// account: a node under an ancestor that was not walked through is not
// rendering.
func (n *Node) EffectiveState() State {
	for p := n.parent; p != nil; p = p.parent {
		if p.state != WalkThrough {
			return NotRendering
		}
	}
	return n.state
}

// Alive reports whether the node is still part of the tree.
func (n *Node) Alive() bool {
	return n.alive
}

// IsRoot reports whether the node is one of the strategy roots.
func (n *Node) IsRoot() bool {
	return n.parent == nil && n.alive
}

func (n *Node) createChildren(conf Config) {
	quadrants := n.Extent.Quadrants()
	n.children = make([]*Node, len(quadrants))

	for i, e := range quadrants {
		q := geo.Quadrant(i)
		id := geo.ChildTile(n.ID, q)
		n.children[i] = newNode(n, id, q, e, conf.gridSize(int(id.Z)))
	}
}

// destroyChildren destroys the subtree below the node and returns the number
// of destroyed nodes.
func (n *Node) destroyChildren() int {
	count := 0
	for _, c := range n.children {
		count += c.destroyChildren()
		c.destroy()
		count++
	}
	n.children = nil
	return count
}

func (n *Node) destroy() {
	n.state = NotRendering
	n.alive = false
	if n.Segment != nil {
		n.Segment.clear()
		n.Segment = nil
	}
	n.parent = nil
}

// walk calls fn on the node and its descendants, depth first.
func (n *Node) walk(fn func(*Node)) {
	fn(n)
	for _, c := range n.children {
		c.walk(fn)
	}
}
