package quadtree

import (
	"github.com/aukilabs/quadsphere/geo"
)

// VisibleTile is a copy of the state of a rendered node that can be read
// from any goroutine.
type VisibleTile struct {
	Key         string     `json:"key"`
	Zoom        int        `json:"zoom"`
	X           uint32     `json:"x"`
	Y           uint32     `json:"y"`
	Extent      [4]float64 `json:"extent"`
	GridSize    int        `json:"grid_size"`
	SideSize    [4]int     `json:"side_size"`
	Terrain     string     `json:"terrain"`
	Imagery     string     `json:"imagery"`
	TerrainBias Bias       `json:"terrain_bias"`
	ImageryBias Bias       `json:"imagery_bias"`
}

func newVisibleTile(n *Node) VisibleTile {
	seg := n.Segment
	return VisibleTile{
		Key:  geo.TileKey(n.ID),
		Zoom: n.Zoom(),
		X:    n.ID.X,
		Y:    n.ID.Y,
		Extent: [4]float64{
			n.Extent.West(),
			n.Extent.South(),
			n.Extent.East(),
			n.Extent.North(),
		},
		GridSize:    seg.GridSize,
		SideSize:    seg.SideSize,
		Terrain:     seg.terrain.state.String(),
		Imagery:     seg.imagery.state.String(),
		TerrainBias: seg.TerrainBias,
		ImageryBias: seg.ImageryBias,
	}
}

func (s *Strategy) publish() {
	tiles := make([]VisibleTile, 0, len(s.renderList))
	for _, item := range s.renderList {
		if item.Node.alive {
			tiles = append(tiles, newVisibleTile(item.Node))
		}
	}

	s.snapshotMutex.Lock()
	defer s.snapshotMutex.Unlock()

	s.snapshot = tiles
	s.lastStats = s.stats
}

// VisibleSnapshot returns the tiles rendered during the last frame and its
// stats. It is safe to call from any goroutine.
func (s *Strategy) VisibleSnapshot() ([]VisibleTile, FrameStats) {
	s.snapshotMutex.RLock()
	defer s.snapshotMutex.RUnlock()

	return s.snapshot, s.lastStats
}
