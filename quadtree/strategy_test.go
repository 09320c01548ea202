package quadtree

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aukilabs/quadsphere/featureflag"
	"github.com/aukilabs/quadsphere/geo"
	"github.com/aukilabs/quadsphere/provider"
	"github.com/golang/geo/r3"
	"github.com/paulmach/orb/maptile"
	"github.com/stretchr/testify/require"
)

func TestNewStrategy(t *testing.T) {
	t.Run("single root", func(t *testing.T) {
		s := newTestStrategy(t, testConfig(provider.Empty{}))

		require.NotEmpty(t, s.ID)
		require.Len(t, s.Roots(), 1)

		root := s.Roots()[0]
		require.Equal(t, maptile.New(0, 0, 0), root.ID)
		require.Equal(t, geo.World(), root.Extent)
		require.Nil(t, root.Parent())
		require.True(t, root.IsRoot())
		require.Equal(t, 8, root.Segment.GridSize)
		require.Greater(t, root.Segment.BoundingSphere.Radius, 0.0)
	})

	t.Run("roots at a deeper zoom", func(t *testing.T) {
		conf := testConfig(provider.Empty{})
		conf.RootZoom = 1
		s := newTestStrategy(t, conf)

		require.Len(t, s.Roots(), 4)
		require.Equal(t, maptile.New(1, 0, 1), s.Roots()[1].ID)
		require.Equal(t, geo.World().Quadrants()[geo.NE], s.Roots()[1].Extent)
		require.Equal(t, geo.World().Quadrants()[geo.SW], s.Roots()[2].Extent)
	})

	t.Run("invalid grid size", func(t *testing.T) {
		conf := testConfig(provider.Empty{})
		conf.GridSizes = []int{8, 3}

		_, err := NewStrategy(conf)
		require.Error(t, err)
	})

	t.Run("invalid root zoom", func(t *testing.T) {
		conf := testConfig(provider.Empty{})
		conf.RootZoom = 12

		_, err := NewStrategy(conf)
		require.Error(t, err)
	})
}

func TestTraverseFrame(t *testing.T) {
	t.Run("failed lod test subdivides", func(t *testing.T) {
		conf := testConfig(provider.Empty{})
		conf.MaxZoom = 1
		s := newTestStrategy(t, conf)

		s.TraverseFrame(closeCamera())

		root := s.Roots()[0]
		require.Equal(t, WalkThrough, root.State())
		require.Len(t, root.Children(), 4)

		quadrants := root.Extent.Quadrants()
		for i, c := range root.Children() {
			require.Equal(t, quadrants[i], c.Extent)
			require.Equal(t, geo.Quadrant(i), c.Quadrant)
			require.Equal(t, geo.ChildTile(root.ID, geo.Quadrant(i)), c.ID)
			require.Equal(t, Rendering, c.State())
			require.Same(t, root, c.Parent())
			require.Equal(t, 4, c.Segment.GridSize)
			require.True(t, c.Segment.Built())
		}

		require.Len(t, s.RenderList(), 4)
		require.Len(t, s.Visible(), 4)
		require.Equal(t, 5, s.NodeCount())
	})

	t.Run("nodes above the min render zoom are subdivided", func(t *testing.T) {
		s := newTestStrategy(t, testConfig(provider.Empty{}))

		s.TraverseFrame(farCamera())

		require.Equal(t, WalkThrough, s.Roots()[0].State())
		require.Len(t, s.RenderList(), 4)
		for _, item := range s.RenderList() {
			require.Equal(t, 1, item.Node.Zoom())
		}
	})

	t.Run("culled root is not rendering", func(t *testing.T) {
		s := newTestStrategy(t, testConfig(provider.Empty{}))

		cam := closeCamera()
		cam.visible = func(geo.Sphere) bool {
			return false
		}
		s.TraverseFrame(cam)

		require.Equal(t, NotRendering, s.Roots()[0].State())
		require.Nil(t, s.Roots()[0].Children())
		require.Empty(t, s.RenderList())
	})

	t.Run("rendered nodes are capped", func(t *testing.T) {
		conf := testConfig(provider.Empty{})
		conf.MaxZoom = 1
		conf.MaxRenderedNodes = 2
		s := newTestStrategy(t, conf)

		s.TraverseFrame(closeCamera())

		require.Len(t, s.RenderList(), 2)
		children := s.Roots()[0].Children()
		require.Equal(t, Rendering, children[1].State())
		require.Equal(t, NotRendering, children[2].State())
		require.Equal(t, NotRendering, children[3].State())
	})

	t.Run("tiles behind the horizon are culled", func(t *testing.T) {
		conf := testConfig(provider.Empty{})
		conf.MaxZoom = 1
		s := newTestStrategy(t, conf)

		cam := farCamera()
		cam.altitude = 100
		cam.eye = r3.Vector{X: 1e6}
		s.TraverseFrame(cam)

		require.Empty(t, s.RenderList())
		for _, c := range s.Roots()[0].Children() {
			require.Equal(t, NotRendering, c.State())
		}
	})

	t.Run("horizon cull can be disabled", func(t *testing.T) {
		conf := testConfig(provider.Empty{})
		conf.MaxZoom = 1
		conf.FeatureFlags = featureflag.New([]string{string(featureflag.FlagDisableHorizonCull)})
		s := newTestStrategy(t, conf)

		cam := farCamera()
		cam.altitude = 100
		cam.eye = r3.Vector{X: 1e6}
		s.TraverseFrame(cam)

		require.Len(t, s.RenderList(), 4)
	})
}

func TestTerrainStreaming(t *testing.T) {
	t.Run("not found gives ready flat terrain", func(t *testing.T) {
		elevation := &countingEmpty{}
		conf := testConfig(elevation)
		conf.MaxZoom = 1
		s := newTestStrategy(t, conf)

		frameUntil(t, s, closeCamera(), func() bool {
			return allTerrainReady(s)
		})

		for _, item := range s.RenderList() {
			seg := item.Node.Segment
			require.True(t, seg.TerrainReady())
			require.False(t, seg.TerrainLoading())
			require.Equal(t, NoBias, seg.TerrainBias)
			require.Equal(t, seg.PlainVertices, seg.TerrainVertices)
			require.Equal(t, geo.SphereFromBox(geo.BoxFromPoints(seg.PlainVertices)), seg.BoundingSphere)
		}

		requests := elevation.requests.Load()
		require.Equal(t, int64(4), requests)

		for i := 0; i < 3; i++ {
			_, err := s.Frame(context.Background(), closeCamera())
			require.NoError(t, err)
		}
		require.Equal(t, requests, elevation.requests.Load())
	})

	t.Run("elevation is applied", func(t *testing.T) {
		conf := testConfig(newFakeElevation(10))
		conf.MaxZoom = 1
		s := newTestStrategy(t, conf)

		frameUntil(t, s, closeCamera(), func() bool {
			return allTerrainReady(s)
		})

		stats, err := s.Frame(context.Background(), closeCamera())
		require.NoError(t, err)
		require.Equal(t, 4, stats.Rendered)
		require.True(t, stats.TerrainComplete)
		require.True(t, stats.RenderComplete)

		for _, item := range s.RenderList() {
			seg := item.Node.Segment
			require.Equal(t, 4, item.GridSize)
			require.Len(t, item.Vertices, 25)
			require.Equal(t, 10.0, seg.BoundingBox.Min.Z)
			for _, v := range item.Vertices {
				require.Equal(t, 10.0, v.Z)
				require.True(t, seg.BoundingSphere.Contains(v, 1e-9))
			}
		}
	})

	t.Run("one request per node and channel", func(t *testing.T) {
		elevation := newFakeElevation(10)
		open := elevation.gate(1)
		conf := testConfig(elevation)
		conf.MaxZoom = 1
		s := newTestStrategy(t, conf)

		for i := 0; i < 3; i++ {
			_, err := s.Frame(context.Background(), closeCamera())
			require.NoError(t, err)

			for _, c := range s.Roots()[0].Children() {
				require.True(t, c.Segment.TerrainLoading())
				require.False(t, c.Segment.TerrainReady())
				require.LessOrEqual(t, elevation.count(c.ID), 1)
			}
		}

		open()
		frameUntil(t, s, closeCamera(), func() bool {
			return allTerrainReady(s)
		})

		for _, c := range s.Roots()[0].Children() {
			require.False(t, c.Segment.TerrainLoading())
			require.Equal(t, 1, elevation.count(c.ID))
		}
	})

	t.Run("transient errors are retried then given up", func(t *testing.T) {
		elevation := newFakeElevation(10)
		elevation.respond = func(maptile.Tile) (provider.ElevationGrid, error) {
			return provider.ElevationGrid{}, errors.New("connection reset")
		}

		conf := testConfig(elevation)
		conf.MaxZoom = 1
		conf.MaxRetries = 2
		conf.RetryMaxFrames = 2
		s := newTestStrategy(t, conf)

		frameUntil(t, s, closeCamera(), func() bool {
			return allTerrainReady(s)
		})

		for _, c := range s.Roots()[0].Children() {
			require.Equal(t, 3, elevation.count(c.ID))
			require.Equal(t, c.Segment.PlainVertices, c.Segment.TerrainVertices)
		}
	})

	t.Run("deep terrain is collapsed to its corners", func(t *testing.T) {
		conf := testConfig(newFakeElevation(10))
		conf.MaxZoom = 1
		conf.CollapseZoom = -1
		s := newTestStrategy(t, conf)

		frameUntil(t, s, closeCamera(), func() bool {
			return allTerrainReady(s)
		})
		_, err := s.Frame(context.Background(), closeCamera())
		require.NoError(t, err)

		for _, item := range s.RenderList() {
			require.Equal(t, 1, item.GridSize)
			require.Len(t, item.Vertices, 4)
			require.Equal(t, []uint16{0, 2, 1, 1, 2, 3}, item.Indices)
		}
	})

	t.Run("terrain can be disabled", func(t *testing.T) {
		elevation := newFakeElevation(10)
		conf := testConfig(elevation)
		conf.MaxZoom = 1
		conf.FeatureFlags = featureflag.New([]string{string(featureflag.FlagDisableTerrain)})
		s := newTestStrategy(t, conf)

		_, err := s.Frame(context.Background(), closeCamera())
		require.NoError(t, err)

		require.True(t, allTerrainReady(s))
		require.Zero(t, elevation.total())
	})
}

func TestTerrainFallback(t *testing.T) {
	t.Run("loading nodes borrow the terrain of their parent", func(t *testing.T) {
		elevation := newFakeElevation(10)
		conf := testConfig(elevation)
		conf.MaxZoom = 2
		s := newTestStrategy(t, conf)

		frameUntil(t, s, farCamera(), func() bool {
			return allTerrainReady(s)
		})

		open := elevation.gate(2)
		_, err := s.Frame(context.Background(), closeCamera())
		require.NoError(t, err)
		require.Len(t, s.RenderList(), 16)

		for _, item := range s.RenderList() {
			n := item.Node
			seg := n.Segment
			require.True(t, seg.TerrainLoading())
			require.Equal(t, 2, seg.GridSize)
			require.Len(t, seg.TerrainVertices, 9)
			require.Equal(t, 0.5, seg.TerrainBias.Scale)
			require.Equal(t, float64(n.ID.X%2)*0.5, seg.TerrainBias.OffsetX)
			require.Equal(t, float64(n.ID.Y%2)*0.5, seg.TerrainBias.OffsetY)
			for _, v := range seg.TerrainVertices {
				require.Equal(t, 10.0, v.Z)
			}
		}

		open()
		frameUntil(t, s, closeCamera(), func() bool {
			return allTerrainReady(s)
		})

		for _, item := range s.RenderList() {
			seg := item.Node.Segment
			require.Equal(t, NoBias, seg.TerrainBias)
			require.Equal(t, 4, seg.GridSize)
		}
	})

	t.Run("nodes past the provider zoom adopt their parent terrain", func(t *testing.T) {
		elevation := &rangedElevation{
			fakeElevation: newFakeElevation(10),
			max:           1,
		}
		conf := testConfig(elevation)
		conf.MaxZoom = 2
		s := newTestStrategy(t, conf)

		frameUntil(t, s, farCamera(), func() bool {
			return allTerrainReady(s)
		})

		_, err := s.Frame(context.Background(), closeCamera())
		require.NoError(t, err)
		require.Len(t, s.RenderList(), 16)

		for _, item := range s.RenderList() {
			seg := item.Node.Segment
			require.True(t, seg.TerrainReady())
			require.Equal(t, NoBias, seg.TerrainBias)
			require.Equal(t, 2, seg.GridSize)
			require.Zero(t, elevation.count(item.Node.ID))
		}
	})

	t.Run("ancestor terrain is requested when no frame rendered it", func(t *testing.T) {
		elevation := &rangedElevation{
			fakeElevation: newFakeElevation(10),
			max:           1,
		}
		conf := testConfig(elevation)
		conf.MaxZoom = 2
		s := newTestStrategy(t, conf)

		frameUntil(t, s, closeCamera(), func() bool {
			return allTerrainReady(s)
		})
		require.Len(t, s.RenderList(), 16)

		for _, item := range s.RenderList() {
			n := item.Node
			seg := n.Segment
			require.True(t, seg.ownTerrain)
			require.Equal(t, NoBias, seg.TerrainBias)
			require.Equal(t, 2, seg.GridSize)
			for _, v := range seg.TerrainVertices {
				require.Equal(t, 10.0, v.Z)
			}
			require.Zero(t, elevation.count(n.ID))
			require.Equal(t, 1, elevation.count(n.Parent().ID))
		}
	})

	t.Run("coarser ancestors are borrowed but not adopted", func(t *testing.T) {
		elevation := &rangedElevation{
			fakeElevation: newFakeElevation(10),
			max:           2,
		}
		conf := testConfig(elevation)
		conf.MaxZoom = 3
		s := newTestStrategy(t, conf)

		frameUntil(t, s, farCamera(), func() bool {
			return allTerrainReady(s)
		})

		open := elevation.gate(2)
		_, err := s.Frame(context.Background(), closeCamera())
		require.NoError(t, err)
		require.Len(t, s.RenderList(), 64)

		for _, item := range s.RenderList() {
			seg := item.Node.Segment
			require.False(t, seg.TerrainReady())
			require.False(t, seg.ownTerrain)
			require.Equal(t, 0.25, seg.TerrainBias.Scale)
		}

		parents := make(map[maptile.Tile]*Node)
		for _, item := range s.RenderList() {
			p := item.Node.Parent()
			parents[p.ID] = p
		}
		require.Len(t, parents, 16)
		for _, p := range parents {
			require.True(t, p.Segment.TerrainLoading())
		}
		require.Eventually(t, func() bool {
			for tile := range parents {
				if elevation.count(tile) != 1 {
					return false
				}
			}
			return true
		}, time.Second*5, time.Millisecond)

		open()
		frameUntil(t, s, closeCamera(), func() bool {
			return allTerrainReady(s)
		})

		for _, item := range s.RenderList() {
			n := item.Node
			require.True(t, n.Segment.ownTerrain)
			require.Equal(t, NoBias, n.Segment.TerrainBias)
			require.Equal(t, 2, n.Segment.GridSize)
			require.Zero(t, elevation.count(n.ID))
			require.Equal(t, 1, elevation.count(n.Parent().ID))
		}
	})
}

func TestImageryStreaming(t *testing.T) {
	t.Run("own imagery is bound", func(t *testing.T) {
		imagery := &fakeImagery{}
		conf := testConfig(provider.Empty{})
		conf.MaxZoom = 1
		conf.Imagery = imagery
		s := newTestStrategy(t, conf)

		frameUntil(t, s, closeCamera(), func() bool {
			return allImageryReady(s)
		})

		for _, item := range s.RenderList() {
			seg := item.Node.Segment
			require.NotNil(t, seg.OwnImage())
			require.Equal(t, seg.OwnImage(), seg.Image)
			require.Equal(t, NoBias, seg.ImageryBias)
		}

		s.Close()
		require.Equal(t, imagery.served.Load(), imagery.released.Load())
	})

	t.Run("stale images are released", func(t *testing.T) {
		imagery := &fakeImagery{gate: make(chan struct{})}
		conf := testConfig(provider.Empty{})
		conf.MaxZoom = 1
		conf.Imagery = imagery
		s := newTestStrategy(t, conf)

		_, err := s.Frame(context.Background(), closeCamera())
		require.NoError(t, err)
		children := s.Roots()[0].Children()
		for _, c := range children {
			require.True(t, c.Segment.ImageLoading())
		}
		require.Eventually(t, func() bool {
			return imagery.entered.Load() == 4
		}, time.Second*5, time.Millisecond)

		hidden := closeCamera()
		hidden.visible = func(geo.Sphere) bool {
			return false
		}
		_, err = s.Frame(context.Background(), hidden)
		require.NoError(t, err)
		for _, c := range children {
			require.False(t, c.Alive())
		}

		close(imagery.gate)
		frameUntil(t, s, hidden, func() bool {
			return imagery.released.Load() == 4
		})
		require.Equal(t, int64(4), imagery.served.Load())
	})
}

func TestVisibleSnapshot(t *testing.T) {
	conf := testConfig(provider.Empty{})
	conf.MaxZoom = 1
	s := newTestStrategy(t, conf)

	tiles, stats := s.VisibleSnapshot()
	require.Empty(t, tiles)
	require.Zero(t, stats.Frame)

	_, err := s.Frame(context.Background(), closeCamera())
	require.NoError(t, err)

	tiles, stats = s.VisibleSnapshot()
	require.Equal(t, uint64(1), stats.Frame)
	require.Len(t, tiles, 4)
	require.Equal(t, "1/0/0", tiles[0].Key)
	require.Equal(t, "1/1/1", tiles[3].Key)
	require.Equal(t, [4]float64{-180, 0, 0, 90}, tiles[0].Extent)
	require.Equal(t, [4]int{4, 4, 4, 4}, tiles[0].SideSize)
}

type rangedElevation struct {
	*fakeElevation
	min maptile.Zoom
	max maptile.Zoom
}

func (p *rangedElevation) MinZoom() maptile.Zoom {
	return p.min
}

func (p *rangedElevation) MaxZoom() maptile.Zoom {
	return p.max
}

func allTerrainReady(s *Strategy) bool {
	if len(s.RenderList()) == 0 {
		return false
	}
	for _, item := range s.RenderList() {
		if !item.Node.Segment.TerrainReady() {
			return false
		}
	}
	return true
}

func allImageryReady(s *Strategy) bool {
	if len(s.RenderList()) == 0 {
		return false
	}
	for _, item := range s.RenderList() {
		if item.Node.Segment.OwnImage() == nil {
			return false
		}
	}
	return true
}
