package quadtree

import (
	"math"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/quadsphere/featureflag"
	"github.com/aukilabs/quadsphere/geo"
	"github.com/aukilabs/quadsphere/provider"
)

// DefaultGridSizes maps zoom levels to segment grid sizes.
var DefaultGridSizes = []int{
	64, 32, 16, 8, 4, 4, 4, 4, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2, 2,
}

const (
	DefaultLodEps              = 1.1
	DefaultMaxRenderedNodes    = 600
	DefaultHorizonCullAltitude = 3000
	DefaultCollapseZoom        = 18
	DefaultMaxRequests         = 24
	DefaultMaxRetries          = 5
	DefaultRetryMaxFrames      = 64
	DefaultSideGridCells       = 64

	// The largest grid whose vertices can be addressed with uint16 indices.
	maxGridSize = 128

	extentSamples = 8
)

// Config configures a Strategy. Zero values are replaced by defaults.
type Config struct {
	// The surface the tiles are laid on.
	Surface geo.Surface

	// The extent of the zoom 0 tile.
	Root geo.Extent

	// The zoom of the root nodes. The strategy has 4^RootZoom roots.
	RootZoom int

	// The grid size of segments by zoom level. Every value must be a power
	// of two. Zooms beyond the table use the last value.
	GridSizes []int

	// The LOD threshold. Smaller values subdivide more.
	LodEps float64

	// The deepest zoom level. Defaults to the last index of GridSizes.
	MaxZoom int

	// Nodes above this zoom are always subdivided.
	MinRenderZoom int

	// The maximum number of nodes rendered in a frame.
	MaxRenderedNodes int

	// The camera altitude below which tiles behind the horizon are culled.
	HorizonCullAltitude float64

	// Returns the distance to the horizon for a camera altitude.
	HorizonDistance func(altitude float64) float64

	// The zoom past which terrain grids are collapsed to their corners.
	CollapseZoom int

	// The number of elevation workers and the size of their pending queue.
	Workers   int
	QueueSize int

	// The maximum number of concurrent provider requests.
	MaxRequests int

	// The number of transient failures after which a tile is given up.
	MaxRetries int

	// Bounds of the exponential retry delay, in frames.
	RetryBaseFrames int
	RetryMaxFrames  int

	// The number of cells per side of the grid used to look up neighbors.
	SideGridCells int

	Elevation provider.ElevationProvider
	Imagery   provider.ImageryProvider

	FeatureFlags featureflag.FeatureFlag
}

// HorizonDistance is the default horizon distance approximation.
func HorizonDistance(altitude float64) float64 {
	return 113 * math.Sqrt(altitude)
}

func (c Config) withDefaults() Config {
	if c.Surface == nil {
		c.Surface = geo.Globe{Radius: geo.EarthRadius}
	}
	if c.Root == (geo.Extent{}) {
		c.Root = geo.World()
	}
	if len(c.GridSizes) == 0 {
		c.GridSizes = DefaultGridSizes
	}
	if c.LodEps == 0 {
		c.LodEps = DefaultLodEps
	}
	if c.MaxZoom == 0 {
		c.MaxZoom = len(c.GridSizes) - 1
	}
	if c.MinRenderZoom == 0 {
		c.MinRenderZoom = 1
	}
	if c.MaxRenderedNodes == 0 {
		c.MaxRenderedNodes = DefaultMaxRenderedNodes
	}
	if c.HorizonCullAltitude == 0 {
		c.HorizonCullAltitude = DefaultHorizonCullAltitude
	}
	if c.HorizonDistance == nil {
		c.HorizonDistance = HorizonDistance
	}
	if c.CollapseZoom == 0 {
		c.CollapseZoom = DefaultCollapseZoom
	}
	if c.MaxRequests == 0 {
		c.MaxRequests = DefaultMaxRequests
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryBaseFrames == 0 {
		c.RetryBaseFrames = 1
	}
	if c.RetryMaxFrames == 0 {
		c.RetryMaxFrames = DefaultRetryMaxFrames
	}
	if c.SideGridCells == 0 {
		c.SideGridCells = DefaultSideGridCells
	}
	if c.Elevation == nil {
		c.Elevation = provider.Empty{}
	}
	if c.FeatureFlags == nil {
		c.FeatureFlags = featureflag.New(nil)
	}
	return c
}

func (c Config) validate() error {
	for zoom, size := range c.GridSizes {
		if size < 1 || size > maxGridSize || size&(size-1) != 0 {
			return errors.New("invalid grid size").
				WithTag("zoom", zoom).
				WithTag("grid_size", size).
				WithTag("max_grid_size", maxGridSize)
		}
	}

	if c.RootZoom < 0 || c.RootZoom > c.MaxZoom {
		return errors.New("invalid root zoom").
			WithTag("root_zoom", c.RootZoom).
			WithTag("max_zoom", c.MaxZoom)
	}

	if c.LodEps < 0 {
		return errors.New("lod eps must be positive").
			WithTag("lod_eps", c.LodEps)
	}

	if c.Root.Width() <= 0 || c.Root.Height() <= 0 {
		return errors.New("root extent is empty").
			WithTag("root", c.Root.String())
	}
	return nil
}

// gridSize returns the grid size of segments at the given zoom.
func (c Config) gridSize(zoom int) int {
	if zoom >= len(c.GridSizes) {
		return c.GridSizes[len(c.GridSizes)-1]
	}
	return c.GridSizes[zoom]
}
