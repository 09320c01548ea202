package quadtree

import (
	"context"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/quadsphere/featureflag"
	"github.com/aukilabs/quadsphere/geo"
	"github.com/aukilabs/quadsphere/provider"
	"github.com/aukilabs/quadsphere/worker"
	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"github.com/paulmach/orb/maptile"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

// Camera is the view the tree is traversed for.
type Camera interface {
	// Reports whether the sphere is at least partly inside the view frustum.
	IntersectsSphere(geo.Sphere) bool

	// Returns the world size covered by one unit of screen at the distance
	// of the given point.
	ProjectedSize(r3.Vector) float64

	Eye() r3.Vector

	// Returns the height of the eye above the surface.
	Altitude() float64
}

// RenderItem is a node selected for rendering with the data to draw it.
type RenderItem struct {
	Node *Node

	GridSize int
	Vertices []r3.Vector
	Normals  []r3.Vector
	Indices  []uint16

	TerrainBias Bias
	ImageryBias Bias
	Image       provider.ImageHandle
}

// FrameStats summarizes a frame.
type FrameStats struct {
	Frame       uint64        `json:"frame"`
	Visited     int           `json:"visited"`
	Rendered    int           `json:"rendered"`
	Created     int           `json:"created"`
	Pruned      int           `json:"pruned"`
	Requests    int           `json:"requests"`
	Completions int           `json:"completions"`
	Stale       int           `json:"stale"`
	Duration    time.Duration `json:"duration"`

	// Every rendered node has its own terrain.
	TerrainComplete bool `json:"terrain_complete"`

	// Every rendered node has its own terrain and imagery.
	RenderComplete bool `json:"render_complete"`
}

// Option configures a Strategy.
type Option func(*Strategy)

// WithIndexCache shares a triangulation cache between strategies.
func WithIndexCache(c *IndexCache) Option {
	return func(s *Strategy) {
		s.indices = c
	}
}

// WithTracer sets the tracer used to trace provider requests.
func WithTracer(t trace.Tracer) Option {
	return func(s *Strategy) {
		s.tracer = t
	}
}

// Strategy selects, every frame, the nodes of the tree to render for a
// camera, and streams their terrain and imagery.
//
// Frame, TraverseFrame, ApplyCompletions, PruneTree, ReleaseHidden and the
// accessors of the render list must be called from the same goroutine.
type Strategy struct {
	ID string

	conf           Config
	stitching      bool
	pruning        bool
	horizonCull    bool
	terrainEnabled bool
	imageryEnabled bool
	shifts         []float64

	roots    []*Node
	indices  *IndexCache
	pool     *worker.Pool[worker.ElevationJob, worker.ElevationResult]
	backlog  []elevationJob
	requests *semaphore.Weighted
	tracer   trace.Tracer
	mailbox  chan completion
	inflight sync.WaitGroup
	ctx      context.Context
	cancel   func()

	frame      uint64
	tokens     uint64
	nodes      int
	stats      FrameStats
	renderList []RenderItem
	visible    map[maptile.Tile]*Node
	sides      *sideGrid

	snapshotMutex sync.RWMutex
	snapshot      []VisibleTile
	lastStats     FrameStats

	closeOnce sync.Once
}

// NewStrategy creates a strategy and its roots.
func NewStrategy(conf Config, options ...Option) (*Strategy, error) {
	conf = conf.withDefaults()
	if err := conf.validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Strategy{
		ID:             uuid.NewString(),
		conf:           conf,
		stitching:      !conf.FeatureFlags.IsSet(featureflag.FlagDisableEdgeStitching),
		pruning:        !conf.FeatureFlags.IsSet(featureflag.FlagDisablePruning),
		horizonCull:    !conf.FeatureFlags.IsSet(featureflag.FlagDisableHorizonCull),
		terrainEnabled: !conf.FeatureFlags.IsSet(featureflag.FlagDisableTerrain),
		imageryEnabled: conf.Imagery != nil && !conf.FeatureFlags.IsSet(featureflag.FlagDisableImagery),
		shifts:         []float64{0},
		requests:       semaphore.NewWeighted(int64(conf.MaxRequests)),
		mailbox:        make(chan completion, mailboxSize),
		ctx:            ctx,
		cancel:         cancel,
		visible:        make(map[maptile.Tile]*Node),
		sides:          newSideGrid(conf.Root, conf.SideGridCells),
	}

	for _, o := range options {
		o(s)
	}
	if s.indices == nil {
		s.indices = NewIndexCache()
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer("github.com/aukilabs/quadsphere/quadtree")
	}

	if conf.Surface.WrapsLongitude() && conf.Root.Width() == 360 {
		s.shifts = append(s.shifts, -360, 360)
	}

	s.pool = worker.New("elevation", conf.Workers, conf.QueueSize, worker.Displace)

	count := uint32(1) << uint(conf.RootZoom)
	z := maptile.Zoom(conf.RootZoom)
	for y := uint32(0); y < count; y++ {
		for x := uint32(0); x < count; x++ {
			id := maptile.New(x, y, z)
			root := newNode(nil, id, geo.TileQuadrant(id), geo.TileExtent(conf.Root, id), conf.gridSize(conf.RootZoom))
			s.initialBounds(root)
			s.roots = append(s.roots, root)
		}
	}
	s.nodes = len(s.roots)

	logs.WithTag("strategy_id", s.ID).
		WithTag("roots", len(s.roots)).
		WithTag("max_zoom", conf.MaxZoom).
		WithTag("lod_eps", conf.LodEps).
		WithTag("imagery", s.imageryEnabled).
		Info("quadtree strategy created")
	return s, nil
}

// Roots returns the root nodes, row major from north west.
func (s *Strategy) Roots() []*Node {
	return s.roots
}

// Config returns the configuration with its defaults applied.
func (s *Strategy) Config() Config {
	return s.conf
}

// IndexCache returns the triangulation cache of the strategy.
func (s *Strategy) IndexCache() *IndexCache {
	return s.indices
}

// NodeCount returns the number of nodes in the tree.
func (s *Strategy) NodeCount() int {
	return s.nodes
}

// Frame runs a frame: the finished requests are applied, the tree is
// traversed for the camera then pruned.
func (s *Strategy) Frame(ctx context.Context, cam Camera) (FrameStats, error) {
	if err := ctx.Err(); err != nil {
		return FrameStats{}, err
	}

	start := time.Now()
	s.stats = FrameStats{}
	s.stats.Completions = s.ApplyCompletions()

	s.TraverseFrame(cam)

	if s.pruning {
		for _, r := range s.roots {
			s.stats.Pruned += s.PruneTree(r)
		}
	}

	s.stats.Duration = time.Since(start)
	s.publish()
	instrumentFrame(s.stats, s.nodes)
	return s.stats, nil
}

// TraverseFrame selects the nodes to render for the camera and fills the
// render list.
func (s *Strategy) TraverseFrame(cam Camera) {
	s.frame++
	s.stats.Frame = s.frame
	s.stats.Visited = 0
	s.stats.Rendered = 0
	s.stats.Created = 0

	s.renderList = s.renderList[:0]
	clear(s.visible)
	s.sides.reset()

	for _, r := range s.roots {
		s.renderTree(cam, r)
	}

	terrainComplete := true
	renderComplete := true
	for i := range s.renderList {
		item := &s.renderList[i]
		seg := item.Node.Segment

		item.GridSize = seg.GridSize
		item.Vertices = seg.TerrainVertices
		item.Normals = seg.TerrainNormals
		item.Indices = s.indices.Get(indexKey(seg.GridSize, seg.SideSize))
		item.TerrainBias = seg.TerrainBias
		item.ImageryBias = seg.ImageryBias
		item.Image = seg.Image

		ownTerrain := seg.TerrainReady() && seg.ownTerrain
		terrainComplete = terrainComplete && ownTerrain
		renderComplete = renderComplete && ownTerrain && (!s.imageryEnabled || seg.ImageReady())
	}

	s.stats.Rendered = len(s.renderList)
	s.stats.TerrainComplete = terrainComplete
	s.stats.RenderComplete = renderComplete
}

func (s *Strategy) renderTree(cam Camera, n *Node) {
	if len(s.renderList) >= s.conf.MaxRenderedNodes {
		n.state = NotRendering
		return
	}

	n.state = WalkThrough
	s.stats.Visited++

	sphere := n.Segment.BoundingSphere
	if !cam.IntersectsSphere(sphere) {
		n.state = NotRendering
		return
	}

	zoom := n.Zoom()
	acceptable := zoom >= s.conf.MinRenderZoom &&
		cam.ProjectedSize(sphere.Center) > s.conf.LodEps*sphere.Radius
	if acceptable || zoom >= s.conf.MaxZoom {
		s.prepareForRendering(cam, n)
		return
	}

	if n.children == nil {
		n.createChildren(s.conf)
		for _, c := range n.children {
			s.initialBounds(c)
		}
		s.nodes += len(n.children)
		s.stats.Created += len(n.children)
	}

	for _, c := range n.children {
		s.renderTree(cam, c)
	}
}

func (s *Strategy) prepareForRendering(cam Camera, n *Node) {
	if s.horizonCull {
		if altitude := cam.Altitude(); altitude < s.conf.HorizonCullAltitude {
			sphere := n.Segment.BoundingSphere
			if cam.Eye().Distance(sphere.Center)-sphere.Radius >= s.conf.HorizonDistance(altitude) {
				n.state = NotRendering
				return
			}
		}
	}
	s.renderNode(n)
}

func (s *Strategy) renderNode(n *Node) {
	n.state = Rendering
	seg := n.Segment

	if !seg.Built() {
		seg.buildGeometry(s.conf.Surface, n.Extent)
	}

	s.requestTerrain(n)
	s.requestImagery(n)

	if !seg.TerrainReady() {
		s.composeTerrain(n)
	}
	if s.imageryEnabled && seg.ownImage == nil {
		s.composeImagery(n)
	}

	s.stitch(n)
	s.visible[n.ID] = n
	s.renderList = append(s.renderList, RenderItem{Node: n})
}

// RenderList returns the nodes to render for the last traversed frame. It is
// valid until the next traversal.
func (s *Strategy) RenderList() []RenderItem {
	return s.renderList
}

// Visible returns the nodes rendered during the last traversed frame, by
// tile. It is valid until the next traversal.
func (s *Strategy) Visible() map[maptile.Tile]*Node {
	return s.visible
}

// Close cancels the running requests, stops the workers and releases the
// tree.
func (s *Strategy) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.inflight.Wait()
		s.pool.Close()

	drain:
		for {
			select {
			case c := <-s.mailbox:
				c.release()
			default:
				break drain
			}
		}

		for _, r := range s.roots {
			r.destroyChildren()
			r.destroy()
		}
		s.nodes = 0
		s.renderList = nil
		clear(s.visible)

		logs.WithTag("strategy_id", s.ID).Info("quadtree strategy closed")
	})
}
