package quadtree

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aukilabs/quadsphere/geo"
	"github.com/aukilabs/quadsphere/worker"
	"github.com/stretchr/testify/require"
)

type gatedJobs struct {
	entered atomic.Int64
	gate    chan struct{}
	once    sync.Once
}

func (g *gatedJobs) open() {
	g.once.Do(func() {
		close(g.gate)
	})
}

// gateElevationJobs replaces the worker pool of s with one whose jobs wait
// until open is called.
func gateElevationJobs(t *testing.T, s *Strategy, workers, queueSize int) *gatedJobs {
	g := &gatedJobs{gate: make(chan struct{})}

	s.pool.Close()
	s.pool = worker.New("elevation", workers, queueSize, func(job worker.ElevationJob) worker.ElevationResult {
		g.entered.Add(1)
		<-g.gate
		return worker.Displace(job)
	})

	t.Cleanup(g.open)
	return g
}

func hiddenCamera() fakeCamera {
	return fakeCamera{
		altitude: 1e9,
		visible: func(geo.Sphere) bool {
			return false
		},
	}
}

func TestElevationJobs(t *testing.T) {
	t.Run("terrain of pruned nodes is discarded", func(t *testing.T) {
		elevation := newFakeElevation(10)
		conf := testConfig(elevation)
		conf.MaxZoom = 1
		s := newTestStrategy(t, conf)
		jobs := gateElevationJobs(t, s, 2, 16)

		frameUntil(t, s, closeCamera(), func() bool {
			return jobs.entered.Load() == 2 && s.pool.Stats().Pending == 2
		})

		children := s.Roots()[0].Children()
		require.Len(t, children, 4)
		for _, c := range children {
			require.True(t, c.Segment.TerrainLoading())
		}

		stats, err := s.Frame(context.Background(), hiddenCamera())
		require.NoError(t, err)
		require.Equal(t, 4, stats.Pruned)
		require.Equal(t, 1, s.NodeCount())

		jobs.open()

		stale := 0
		deadline := time.Now().Add(time.Second * 5)
		for stale < 4 {
			require.True(t, time.Now().Before(deadline), "stale terrain not discarded in time")

			stats, err := s.Frame(context.Background(), hiddenCamera())
			require.NoError(t, err)
			stale += stats.Stale
			time.Sleep(time.Millisecond)
		}

		require.Equal(t, 4, stale)
		require.Zero(t, s.pool.Stats().Busy)
		for _, c := range children {
			require.False(t, c.Alive())
			require.Nil(t, c.Segment)
		}
	})

	t.Run("full queue postpones jobs without spending retries", func(t *testing.T) {
		elevation := newFakeElevation(10)
		conf := testConfig(elevation)
		conf.MaxZoom = 1
		conf.MaxRetries = 1
		s := newTestStrategy(t, conf)
		jobs := gateElevationJobs(t, s, 1, 1)

		frameUntil(t, s, closeCamera(), func() bool {
			return jobs.entered.Load() == 1 &&
				s.pool.Stats().Pending == 1 &&
				len(s.backlog) == 2
		})

		// Frames keep submitting the backlog to the full queue.
		for i := 0; i < 4; i++ {
			_, err := s.Frame(context.Background(), closeCamera())
			require.NoError(t, err)
		}
		require.Len(t, s.backlog, 2)

		for _, c := range s.Roots()[0].Children() {
			require.True(t, c.Segment.TerrainLoading())
			require.Zero(t, c.Segment.terrain.attempts)
			require.Equal(t, 1, elevation.count(c.ID))
		}

		jobs.open()
		frameUntil(t, s, closeCamera(), func() bool {
			return allTerrainReady(s)
		})
		require.Empty(t, s.backlog)

		for _, item := range s.RenderList() {
			seg := item.Node.Segment
			require.True(t, seg.ownTerrain)
			require.Equal(t, 1, elevation.count(item.Node.ID))
			for _, v := range seg.TerrainVertices {
				require.Equal(t, 10.0, v.Z)
			}
		}
	})

	t.Run("backlog of pruned nodes is discarded", func(t *testing.T) {
		conf := testConfig(newFakeElevation(10))
		conf.MaxZoom = 1
		s := newTestStrategy(t, conf)
		jobs := gateElevationJobs(t, s, 1, 1)

		frameUntil(t, s, closeCamera(), func() bool {
			return len(s.backlog) == 2
		})

		_, err := s.Frame(context.Background(), hiddenCamera())
		require.NoError(t, err)
		require.Len(t, s.backlog, 2)

		stats, err := s.Frame(context.Background(), hiddenCamera())
		require.NoError(t, err)
		require.Empty(t, s.backlog)
		require.GreaterOrEqual(t, stats.Stale, 2)

		jobs.open()
	})
}
