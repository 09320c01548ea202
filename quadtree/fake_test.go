package quadtree

import (
	"context"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aukilabs/quadsphere/geo"
	"github.com/aukilabs/quadsphere/provider"
	"github.com/golang/geo/r3"
	"github.com/paulmach/orb/maptile"
	"github.com/stretchr/testify/require"
)

type fakeCamera struct {
	eye       r3.Vector
	altitude  float64
	projected func(r3.Vector) float64
	visible   func(geo.Sphere) bool
}

func (c fakeCamera) IntersectsSphere(s geo.Sphere) bool {
	if c.visible == nil {
		return true
	}
	return c.visible(s)
}

func (c fakeCamera) ProjectedSize(p r3.Vector) float64 {
	if c.projected == nil {
		return 0
	}
	return c.projected(p)
}

func (c fakeCamera) Eye() r3.Vector {
	return c.eye
}

func (c fakeCamera) Altitude() float64 {
	return c.altitude
}

// farCamera accepts every node it sees.
func farCamera() fakeCamera {
	return fakeCamera{
		altitude: 1e9,
		projected: func(r3.Vector) float64 {
			return 1e12
		},
	}
}

// closeCamera subdivides every node it sees.
func closeCamera() fakeCamera {
	return fakeCamera{altitude: 1e9}
}

type fakeElevation struct {
	mutex    sync.Mutex
	requests map[maptile.Tile]int
	gates    map[maptile.Zoom]chan struct{}
	respond  func(maptile.Tile) (provider.ElevationGrid, error)
}

func newFakeElevation(height float64) *fakeElevation {
	return &fakeElevation{
		requests: make(map[maptile.Tile]int),
		gates:    make(map[maptile.Zoom]chan struct{}),
		respond: func(maptile.Tile) (provider.ElevationGrid, error) {
			return provider.ElevationGrid{
				Size:    3,
				Heights: []float64{height, height, height, height, height, height, height, height, height},
			}, nil
		},
	}
}

// gate blocks the requests of the zoom level until open is called.
func (p *fakeElevation) gate(z maptile.Zoom) (open func()) {
	c := make(chan struct{})

	p.mutex.Lock()
	p.gates[z] = c
	p.mutex.Unlock()

	return func() {
		close(c)
	}
}

func (p *fakeElevation) RequestElevation(ctx context.Context, tile maptile.Tile) (provider.ElevationGrid, error) {
	p.mutex.Lock()
	p.requests[tile]++
	gate := p.gates[tile.Z]
	p.mutex.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return provider.ElevationGrid{}, ctx.Err()
		}
	}
	return p.respond(tile)
}

func (p *fakeElevation) count(tile maptile.Tile) int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.requests[tile]
}

func (p *fakeElevation) total() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	n := 0
	for _, c := range p.requests {
		n += c
	}
	return n
}

type fakeImage struct {
	released *atomic.Int64
}

func (h fakeImage) Image() image.Image {
	return image.NewRGBA(image.Rect(0, 0, 1, 1))
}

func (h fakeImage) Release() {
	h.released.Add(1)
}

type fakeImagery struct {
	gate     chan struct{}
	entered  atomic.Int64
	released atomic.Int64
	served   atomic.Int64
}

func (p *fakeImagery) RequestImage(ctx context.Context, tile maptile.Tile) (provider.ImageHandle, error) {
	p.entered.Add(1)
	if p.gate != nil {
		<-p.gate
	}
	p.served.Add(1)
	return fakeImage{released: &p.released}, nil
}

type countingEmpty struct {
	requests atomic.Int64
}

func (p *countingEmpty) RequestElevation(ctx context.Context, tile maptile.Tile) (provider.ElevationGrid, error) {
	p.requests.Add(1)
	return provider.ElevationGrid{}, provider.NotFound(tile)
}

func testConfig(elevation provider.ElevationProvider) Config {
	return Config{
		Surface:   geo.Plane{Scale: 1},
		Root:      geo.World(),
		GridSizes: []int{8, 4, 4, 2},
		Workers:   2,
		Elevation: elevation,
	}
}

func newTestStrategy(t *testing.T, conf Config) *Strategy {
	s, err := NewStrategy(conf)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

// frameUntil runs frames until cond is true.
func frameUntil(t *testing.T, s *Strategy, cam Camera, cond func() bool) {
	deadline := time.Now().Add(time.Second * 5)
	for !cond() {
		require.True(t, time.Now().Before(deadline), "condition not met in time")

		_, err := s.Frame(context.Background(), cam)
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
	}
}
