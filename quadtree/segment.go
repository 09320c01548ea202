package quadtree

import (
	"context"

	"github.com/aukilabs/quadsphere/geo"
	"github.com/aukilabs/quadsphere/provider"
	"github.com/golang/geo/r3"
)

// ChannelState is the loading state of a segment data channel. A channel is
// never both loading and ready.
type ChannelState uint8

const (
	Empty ChannelState = iota
	Loading
	Ready
)

func (s ChannelState) String() string {
	switch s {
	case Empty:
		return "empty"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

// Bias maps the unit texture or grid space of a node onto the sub rectangle
// of the ancestor data it borrows.
type Bias struct {
	OffsetX float64 `json:"offset_x"`
	OffsetY float64 `json:"offset_y"`
	Scale   float64 `json:"scale"`
}

// NoBias is the bias of a node using its own data.
var NoBias = Bias{Scale: 1}

type channelKind uint8

const (
	terrainChannel channelKind = iota
	imageryChannel
)

func (k channelKind) String() string {
	if k == imageryChannel {
		return "imagery"
	}
	return "terrain"
}

type channel struct {
	state    ChannelState
	token    uint64
	cancel   context.CancelFunc
	attempts int
	retryAt  uint64
}

func (c *channel) abort() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.state == Loading {
		c.state = Empty
	}
	c.token = 0
}

func (c *channel) reset() {
	c.abort()
	c.state = Empty
	c.attempts = 0
	c.retryAt = 0
}

// Segment holds the geometry, terrain and imagery of a node.
type Segment struct {
	// The number of cells per side of TerrainVertices.
	GridSize int

	// The number of cells per side of the plain geometry.
	PlainGridSize int

	// The vertices and normals of the surface without elevation, row major
	// from north west. They are built on the first render and never change.
	PlainVertices []r3.Vector
	PlainNormals  []r3.Vector

	// The vertices and normals with elevation, own or borrowed from an
	// ancestor.
	TerrainVertices []r3.Vector
	TerrainNormals  []r3.Vector

	BoundingBox    geo.Box
	BoundingSphere geo.Sphere

	// The number of cells used on each side, indexed by geo.Side.
	SideSize [4]int

	TerrainBias Bias
	ImageryBias Bias

	// The imagery to render, own or borrowed from an ancestor.
	Image provider.ImageHandle

	ownImage   provider.ImageHandle
	ownTerrain bool
	terrain    channel
	imagery    channel

	// Incremented every time TerrainVertices change.
	version uint64

	// The ancestor segment and version the terrain was last borrowed from.
	borrowedFrom    *Segment
	borrowedVersion uint64
}

func newSegment(gridSize int) *Segment {
	s := &Segment{
		GridSize:      gridSize,
		PlainGridSize: gridSize,
		TerrainBias:   NoBias,
		ImageryBias:   NoBias,
	}
	s.resetSides()
	return s
}

// Built reports whether the plain geometry has been built.
func (s *Segment) Built() bool {
	return len(s.PlainVertices) != 0
}

func (s *Segment) TerrainState() ChannelState {
	return s.terrain.state
}

func (s *Segment) ImageryState() ChannelState {
	return s.imagery.state
}

func (s *Segment) TerrainReady() bool {
	return s.terrain.state == Ready
}

func (s *Segment) TerrainLoading() bool {
	return s.terrain.state == Loading
}

func (s *Segment) ImageReady() bool {
	return s.imagery.state == Ready
}

func (s *Segment) ImageLoading() bool {
	return s.imagery.state == Loading
}

// OwnImage returns the imagery owned by the segment, nil when the segment
// has none.
func (s *Segment) OwnImage() provider.ImageHandle {
	return s.ownImage
}

// HasData reports whether the segment holds terrain or imagery of its own.
func (s *Segment) HasData() bool {
	return (s.ownTerrain && s.TerrainReady()) || s.ownImage != nil
}

func (s *Segment) channel(kind channelKind) *channel {
	if kind == imageryChannel {
		return &s.imagery
	}
	return &s.terrain
}

// ReleaseData drops the terrain and imagery of the segment. The geometry is
// kept and the data is requested again on the next render.
func (s *Segment) ReleaseData() {
	s.terrain.reset()
	s.imagery.reset()
	s.releaseImage()

	s.ownTerrain = false
	if s.Built() {
		s.setFlat()
	}
	s.resetSides()
}

func (s *Segment) buildGeometry(surface geo.Surface, e geo.Extent) {
	side := s.PlainGridSize + 1
	s.PlainVertices = make([]r3.Vector, 0, side*side)
	s.PlainNormals = make([]r3.Vector, 0, side*side)

	dx := e.Width() / float64(s.PlainGridSize)
	dy := e.Height() / float64(s.PlainGridSize)

	for i := 0; i < side; i++ {
		lat := e.North() - float64(i)*dy
		if i == s.PlainGridSize {
			lat = e.South()
		}

		for j := 0; j < side; j++ {
			lon := e.West() + float64(j)*dx
			if j == s.PlainGridSize {
				lon = e.East()
			}

			p := geo.LonLat(lon, lat)
			s.PlainVertices = append(s.PlainVertices, surface.Position(p, 0))
			s.PlainNormals = append(s.PlainNormals, surface.Normal(p))
		}
	}

	if !s.ownTerrain {
		s.setFlat()
	}
}

// setFlat uses the plain geometry as terrain.
func (s *Segment) setFlat() {
	s.borrowedFrom = nil
	s.TerrainBias = NoBias
	s.setTerrain(s.PlainGridSize, s.PlainVertices, s.PlainNormals, geo.BoxFromPoints(s.PlainVertices))
}

func (s *Segment) setTerrain(gridSize int, vertices, normals []r3.Vector, bounds geo.Box) {
	s.GridSize = gridSize
	s.TerrainVertices = vertices
	s.TerrainNormals = normals
	s.version++
	s.setBounds(bounds)
}

func (s *Segment) setBounds(b geo.Box) {
	s.BoundingBox = b
	s.BoundingSphere = geo.SphereFromBox(b)
}

func (s *Segment) setOwnImage(h provider.ImageHandle) {
	s.releaseImage()
	s.ownImage = h
	s.Image = h
	s.ImageryBias = NoBias
}

func (s *Segment) releaseImage() {
	if s.ownImage != nil {
		s.ownImage.Release()
		s.ownImage = nil
	}
	s.Image = nil
	s.ImageryBias = NoBias
}

func (s *Segment) resetSides() {
	for i := range s.SideSize {
		s.SideSize[i] = s.GridSize
	}
}

func (s *Segment) clear() {
	s.terrain.reset()
	s.imagery.reset()
	s.releaseImage()

	s.ownTerrain = false
	s.borrowedFrom = nil
	s.PlainVertices = nil
	s.PlainNormals = nil
	s.TerrainVertices = nil
	s.TerrainNormals = nil
	s.GridSize = s.PlainGridSize
	s.TerrainBias = NoBias
	s.version++
	s.resetSides()
}
