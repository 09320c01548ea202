package provider

import (
	"context"
	"time"

	"github.com/aukilabs/quadsphere/geo"
	"github.com/golang/geo/r3"
	"github.com/ojrac/opensimplex-go"
	"github.com/paulmach/orb/maptile"
)

const (
	DefaultFileGridSize = 32
	DefaultOctaves      = 5
)

// Noise is an elevation provider generating terrain from simplex noise. The
// noise is sampled on the unit sphere so that grids match across the
// antimeridian.
type Noise struct {
	// The extent of the zoom 0 tile.
	Root geo.Extent

	// The zoom levels that are served.
	Zooms [2]maptile.Zoom

	// The extent outside of which tiles are not found. Zero means the whole
	// root.
	Coverage geo.Extent

	// The number of cells per side of the delivered grids.
	FileGridSize int

	// The maximum height in meters.
	Amplitude float64

	// The base frequency applied to the unit sphere coordinates.
	Frequency float64

	Octaves int

	// A delay applied to every request.
	Latency time.Duration

	noise opensimplex.Noise
}

// NewNoise returns a noise elevation provider seeded with seed.
func NewNoise(seed int64, root geo.Extent) *Noise {
	return &Noise{
		Root:         root,
		Zooms:        [2]maptile.Zoom{2, 14},
		FileGridSize: DefaultFileGridSize,
		Amplitude:    8000,
		Frequency:    2,
		Octaves:      DefaultOctaves,
		noise:        opensimplex.New(seed),
	}
}

func (n *Noise) MinZoom() maptile.Zoom {
	return n.Zooms[0]
}

func (n *Noise) MaxZoom() maptile.Zoom {
	return n.Zooms[1]
}

func (n *Noise) RequestElevation(ctx context.Context, tile maptile.Tile) (ElevationGrid, error) {
	if n.Latency > 0 {
		timer := time.NewTimer(n.Latency)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return ElevationGrid{}, Transient(tile, ctx.Err())
		case <-timer.C:
		}
	}

	if tile.Z < n.MinZoom() || tile.Z > n.MaxZoom() {
		return ElevationGrid{}, NotFound(tile)
	}

	extent := geo.TileExtent(n.Root, tile)
	if n.Coverage != (geo.Extent{}) && !n.Coverage.Intersects(extent) {
		return ElevationGrid{}, NotFound(tile)
	}

	cells := n.FileGridSize
	if cells <= 0 {
		cells = DefaultFileGridSize
	}

	grid := ElevationGrid{
		Size:    cells + 1,
		Heights: make([]float64, (cells+1)*(cells+1)),
	}

	dx := extent.Width() / float64(cells)
	dy := extent.Height() / float64(cells)
	unit := geo.Globe{Radius: 1}

	for i := 0; i <= cells; i++ {
		if ctx.Err() != nil {
			return ElevationGrid{}, Transient(tile, ctx.Err())
		}

		lat := extent.North() - float64(i)*dy
		for j := 0; j <= cells; j++ {
			lon := extent.West() + float64(j)*dx
			grid.Heights[i*grid.Size+j] = n.Height(unit.Normal(geo.LonLat(lon, lat)).Mul(n.Frequency))
		}
	}
	return grid, nil
}

// Height returns the fractal noise height at a point of noise space.
func (n *Noise) Height(p r3.Vector) float64 {
	x, y, z := p.X, p.Y, p.Z

	var h, norm float64
	amplitude := 1.0
	frequency := 1.0
	for o := 0; o < n.Octaves; o++ {
		h += amplitude * n.noise.Eval3(x*frequency, y*frequency, z*frequency)
		norm += amplitude
		amplitude *= 0.5
		frequency *= 2
	}
	if norm == 0 {
		return 0
	}
	return n.Amplitude * h / norm
}
