package quadtree

import (
	"slices"
)

// PruneTree reclaims the parts of the subtree of n that were not used by the
// last traversal, and returns the number of destroyed nodes. Nodes that were
// not rendering lose their subtree and their data, rendering nodes lose their
// subtree. Roots keep their data. Pruning twice in a row is a no-op.
func (s *Strategy) PruneTree(n *Node) int {
	count := s.prune(n)
	s.nodes -= count
	return count
}

func (s *Strategy) prune(n *Node) int {
	var count int

	switch n.EffectiveState() {
	case NotRendering:
		count = n.destroyChildren()
		if !n.IsRoot() {
			n.Segment.clear()
		}

	case Rendering:
		count = n.destroyChildren()

	default:
		for _, c := range n.children {
			count += s.prune(c)
		}
	}
	return count
}

// ReleaseHidden releases the data of the segments that are not rendered until
// at most maxResident segments hold data. Ancestors whose data is still
// borrowed by a rendered node are kept, and the deepest segments are released
// first. It returns the number of released segments.
func (s *Strategy) ReleaseHidden(maxResident int) int {
	var resident int
	var candidates []*Node

	for _, r := range s.roots {
		r.walk(func(n *Node) {
			if !n.Segment.HasData() {
				return
			}
			resident++

			if n.IsRoot() {
				return
			}
			switch n.EffectiveState() {
			case NotRendering:
				candidates = append(candidates, n)
			case WalkThrough:
				if !s.lends(n) {
					candidates = append(candidates, n)
				}
			}
		})
	}

	if resident <= maxResident {
		return 0
	}

	slices.SortStableFunc(candidates, func(a, b *Node) int {
		return b.Zoom() - a.Zoom()
	})

	released := 0
	for _, n := range candidates {
		if resident <= maxResident {
			break
		}
		n.Segment.ReleaseData()
		resident--
		released++
	}

	instrumentReleasedSegments(released)
	return released
}

// lends reports whether a rendered descendant of n may be using the data of
// n.
func (s *Strategy) lends(n *Node) bool {
	lends := false
	for _, c := range n.children {
		c.walk(func(d *Node) {
			if lends || d.state != Rendering {
				return
			}

			seg := d.Segment
			ownTerrain := seg.TerrainReady() && seg.ownTerrain
			ownImage := !s.imageryEnabled || seg.ownImage != nil
			if !ownTerrain || !ownImage {
				lends = true
			}
		})
	}
	return lends
}
