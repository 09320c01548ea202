package quadtree

import (
	"context"
	"slices"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/quadsphere/geo"
	"github.com/aukilabs/quadsphere/provider"
	"github.com/aukilabs/quadsphere/worker"
	"github.com/paulmach/orb/maptile"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const mailboxSize = 1024

// completion is the outcome of a provider request, posted to the strategy
// mailbox and applied on the frame goroutine.
type completion struct {
	node      *Node
	kind      channelKind
	token     uint64
	elevation provider.ElevationGrid
	image     provider.ImageHandle
	err       error
	latency   time.Duration
}

// elevationJob is an elevation grid waiting for room in the worker queue.
type elevationJob struct {
	node  *Node
	grid  provider.ElevationGrid
	token uint64
}

func (c completion) release() {
	if c.image != nil {
		c.image.Release()
	}
}

func (s *Strategy) requestTerrain(n *Node) {
	seg := n.Segment
	if seg.terrain.state != Empty || s.frame < seg.terrain.retryAt {
		return
	}

	if !s.terrainEnabled {
		s.flatTerrain(n)
		return
	}

	zoom := maptile.Zoom(n.Zoom())
	if r, ok := s.conf.Elevation.(provider.ZoomRanger); ok {
		if zoom < r.MinZoom() {
			s.flatTerrain(n)
			return
		}
		if zoom > r.MaxZoom() {
			s.adoptTerrain(n, int(r.MaxZoom()))
			return
		}
	}

	elevation := s.conf.Elevation
	s.request(n, terrainChannel, func(ctx context.Context, tile maptile.Tile) completion {
		grid, err := elevation.RequestElevation(ctx, tile)
		return completion{elevation: grid, err: err}
	})
}

func (s *Strategy) requestImagery(n *Node) {
	seg := n.Segment
	if !s.imageryEnabled || seg.imagery.state != Empty || s.frame < seg.imagery.retryAt {
		return
	}

	zoom := maptile.Zoom(n.Zoom())
	if r, ok := s.conf.Imagery.(provider.ZoomRanger); ok {
		if zoom < r.MinZoom() || zoom > r.MaxZoom() {
			seg.imagery.state = Ready
			return
		}
	}

	imagery := s.conf.Imagery
	s.request(n, imageryChannel, func(ctx context.Context, tile maptile.Tile) completion {
		h, err := imagery.RequestImage(ctx, tile)
		return completion{image: h, err: err}
	})
}

// request moves the channel to loading and runs call on its own goroutine.
// The result is posted to the mailbox.
func (s *Strategy) request(n *Node, kind channelKind, call func(context.Context, maptile.Tile) completion) {
	ctx, cancel := context.WithCancel(s.ctx)

	s.tokens++
	c := n.Segment.channel(kind)
	c.state = Loading
	c.token = s.tokens
	c.cancel = cancel

	s.stats.Requests++
	instrumentRequest(kind)

	tile := n.ID
	token := c.token
	s.inflight.Add(1)

	go func() {
		defer s.inflight.Done()
		defer cancel()

		res := s.fetch(ctx, tile, kind, call)
		res.node = n
		res.kind = kind
		res.token = token

		select {
		case s.mailbox <- res:
		case <-s.ctx.Done():
			res.release()
		}
	}()
}

func (s *Strategy) fetch(ctx context.Context, tile maptile.Tile, kind channelKind, call func(context.Context, maptile.Tile) completion) completion {
	ctx, span := s.tracer.Start(ctx, "quadtree.request_"+kind.String(), trace.WithAttributes(
		attribute.String("tile", geo.TileKey(tile)),
		attribute.Int("zoom", int(tile.Z)),
	))
	defer span.End()

	if err := s.requests.Acquire(ctx, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return completion{err: provider.Transient(tile, err)}
	}
	defer s.requests.Release(1)

	start := time.Now()
	res := call(ctx, tile)
	res.latency = time.Since(start)

	if res.err != nil {
		span.RecordError(res.err)
		span.SetStatus(codes.Error, res.err.Error())
	}
	return res
}

// ApplyCompletions applies the provider results received since the last call
// and delivers the finished elevation jobs. It never blocks and returns the
// number of applied provider results.
func (s *Strategy) ApplyCompletions() int {
	count := 0

	backlog := s.backlog
	s.backlog = nil
	for _, j := range backlog {
		if !s.valid(j.node, terrainChannel, j.token) {
			s.discard(j.node, terrainChannel)
			continue
		}
		s.displace(j.node, j.grid, j.token)
	}

loop:
	for {
		select {
		case c := <-s.mailbox:
			s.apply(c)
			count++

		default:
			break loop
		}
	}

	s.pool.Drain()
	return count
}

func (s *Strategy) apply(c completion) {
	n := c.node
	if !s.valid(n, c.kind, c.token) {
		c.release()
		s.discard(n, c.kind)
		return
	}

	ch := n.Segment.channel(c.kind)
	ch.cancel = nil
	instrumentRequestLatency(c.kind, c.latency)

	switch {
	case c.err == nil && c.kind == terrainChannel:
		instrumentCompletion(c.kind, resultOK)
		s.displace(n, c.elevation, c.token)

	case c.err == nil:
		instrumentCompletion(c.kind, resultOK)
		ch.state = Ready
		ch.attempts = 0
		n.Segment.setOwnImage(c.image)

	case provider.IsNotFound(c.err):
		instrumentCompletion(c.kind, resultNotFound)
		s.notFound(n, c.kind)

	default:
		instrumentCompletion(c.kind, resultTransient)
		s.retry(n, c.kind, c.err)
	}
}

func (s *Strategy) valid(n *Node, kind channelKind, token uint64) bool {
	if !n.alive || n.Segment == nil {
		return false
	}
	ch := n.Segment.channel(kind)
	return ch.state == Loading && ch.token == token
}

func (s *Strategy) discard(n *Node, kind channelKind) {
	s.stats.Stale++
	instrumentCompletion(kind, resultStale)

	logs.WithTag("strategy_id", s.ID).
		WithTag("tile", geo.TileKey(n.ID)).
		WithTag("channel", kind.String()).
		Debug("discarding stale completion")
}

// displace hands the elevation grid to the worker pool. The channel stays
// loading until the displaced grid is applied. A full queue does not count as
// a failed attempt: the grid is submitted again on the next frame.
func (s *Strategy) displace(n *Node, grid provider.ElevationGrid, token uint64) {
	seg := n.Segment
	job := worker.ElevationJob{
		GridSize:      seg.PlainGridSize,
		PlainVertices: slices.Clone(seg.PlainVertices),
		PlainNormals:  slices.Clone(seg.PlainNormals),
		Elevation:     grid,
	}

	err := s.pool.Submit(job, func(res worker.ElevationResult) {
		s.completeTerrain(n, token, res)
	})
	switch {
	case err == nil:
		return

	case errors.IsType(err, worker.ErrTypeQueueFull):
		s.backlog = append(s.backlog, elevationJob{
			node:  n,
			grid:  grid,
			token: token,
		})

	default:
		s.retry(n, terrainChannel, err)
	}
}

func (s *Strategy) completeTerrain(n *Node, token uint64, res worker.ElevationResult) {
	if !s.valid(n, terrainChannel, token) {
		s.discard(n, terrainChannel)
		return
	}

	seg := n.Segment
	gridSize := seg.PlainGridSize
	vertices, normals := res.Vertices, res.Normals
	if n.Zoom() > s.conf.CollapseZoom && gridSize > 1 {
		vertices, normals = corners(vertices, gridSize), corners(normals, gridSize)
		gridSize = 1
	}

	seg.setTerrain(gridSize, vertices, normals, res.Bounds)
	seg.borrowedFrom = nil
	seg.TerrainBias = NoBias
	seg.ownTerrain = true
	seg.terrain.state = Ready
	seg.terrain.attempts = 0
	seg.terrain.token = 0
}

// corners returns the four corners of a (g+1)^2 lattice.
func corners[T any](vs []T, g int) []T {
	side := g + 1
	return []T{
		vs[0],
		vs[g],
		vs[g*side],
		vs[g*side+g],
	}
}

// notFound settles a channel for which the provider has no data. Terrain
// becomes flat and imagery keeps using the one of the ancestors.
func (s *Strategy) notFound(n *Node, kind channelKind) {
	seg := n.Segment
	ch := seg.channel(kind)
	ch.state = Ready
	ch.token = 0
	ch.attempts = 0

	if kind == terrainChannel {
		seg.ownTerrain = true
		if seg.Built() {
			seg.setFlat()
		} else {
			seg.setBounds(geo.ExtentBox(s.conf.Surface, n.Extent, extentSamples))
		}
	}
}

func (s *Strategy) retry(n *Node, kind channelKind, err error) {
	ch := n.Segment.channel(kind)
	ch.attempts++

	if ch.attempts > s.conf.MaxRetries {
		logs.WithTag("strategy_id", s.ID).
			WithTag("tile", geo.TileKey(n.ID)).
			WithTag("channel", kind.String()).
			WithTag("attempts", ch.attempts).
			Warn(err)
		s.notFound(n, kind)
		return
	}

	backoff := min(s.conf.RetryBaseFrames<<(ch.attempts-1), s.conf.RetryMaxFrames)
	ch.state = Empty
	ch.token = 0
	ch.cancel = nil
	ch.retryAt = s.frame + uint64(backoff)

	logs.WithTag("strategy_id", s.ID).
		WithTag("tile", geo.TileKey(n.ID)).
		WithTag("channel", kind.String()).
		WithTag("attempt", ch.attempts).
		WithTag("retry_in_frames", backoff).
		WithTag("error", err.Error()).
		Debug("tile request failed")
}

// flatTerrain settles the terrain of a node that is not elevated.
func (s *Strategy) flatTerrain(n *Node) {
	seg := n.Segment
	seg.ownTerrain = true
	seg.setFlat()
	seg.terrain.state = Ready
}
