package smoketest

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/quadsphere/camera"
	"github.com/aukilabs/quadsphere/geo"
	"github.com/aukilabs/quadsphere/loop"
	"github.com/aukilabs/quadsphere/provider"
	"github.com/aukilabs/quadsphere/quadtree"
	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/segmentio/encoding/json"
)

const (
	// The run did not finish before its timeout.
	ErrTypeTimeout = "smoke_test_timeout"

	DefaultTimeout      = time.Second * 30
	DefaultSettleFrames = 2000
)

// DefaultPath descends from orbit toward the Alps.
var DefaultPath = camera.Path{
	Waypoints: []camera.Waypoint{
		{Point: orb.Point{0, 20}, Altitude: 2e7},
		{Point: orb.Point{8.5, 47.3}, Altitude: 2e5},
		{Point: orb.Point{8.5, 47.3}, Altitude: 2e4, Tilt: 30},
	},
	FramesPerLeg: 60,
}

// Request describes a smoke test run.
type Request struct {
	// The seed of the noise elevation.
	Seed int64 `json:"seed"`

	// The camera path. Empty uses DefaultPath.
	Path []camera.Waypoint `json:"path,omitempty"`

	// The frames spent between two waypoints.
	FramesPerLeg int `json:"frames_per_leg,omitempty"`

	// The maximum number of frames run at the end of the path while
	// waiting for every tile to be loaded.
	SettleFrames int `json:"settle_frames,omitempty"`

	// The maximum zoom of the engine. Zero uses the engine default.
	MaxZoom int `json:"max_zoom,omitempty"`

	TimeoutMilliSec int `json:"timeout_ms,omitempty"`
}

// Result is the outcome of a smoke test run.
type Result struct {
	ID              string  `json:"id"`
	Frames          int     `json:"frames"`
	Rendered        int     `json:"rendered"`
	MaxRenderedZoom int     `json:"max_rendered_zoom"`
	Requests        int     `json:"requests"`
	Completions     int     `json:"completions"`
	Stale           int     `json:"stale"`
	TerrainComplete bool    `json:"terrain_complete"`
	RenderComplete  bool    `json:"render_complete"`
	LatencyMilliSec float64 `json:"latency_ms"`
	Error           string  `json:"error,omitempty"`
}

type Options struct {
	// The base engine configuration. Missing providers are replaced by a
	// noise elevation and a synthetic imagery.
	Config quadtree.Config

	// The duration between two frames.
	FrameDuration time.Duration

	// Called with the result of each run.
	SendResult func(context.Context, Result) error
}

// HandleSmokeTest starts a headless run of the engine described by the
// request body and reports its result with SendResult.
func HandleSmokeTest(ctx context.Context, opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			logs.Warn(errors.New("reading body failed").Wrap(err))
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		var req Request
		if len(b) != 0 {
			if err := json.Unmarshal(b, &req); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
		}

		id := uuid.NewString()
		go func() {
			res, err := Run(ctx, id, req, opts)
			if err != nil {
				logs.WithTag("smoke_test_id", id).Warn(err)
			}

			if opts.SendResult == nil {
				return
			}
			if err := opts.SendResult(ctx, res); err != nil {
				logs.WithTag("smoke_test_id", id).
					Warn(errors.New("sending smoke test result failed").Wrap(err))
			}
		}()

		res, _ := json.Marshal(struct {
			ID string `json:"id"`
		}{
			ID: id,
		})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		w.Write(res)
	}
}

// Run flies a camera along the requested path over a fresh engine, then runs
// frames until every rendered tile has its own data or the settle frames are
// exhausted.
func Run(ctx context.Context, id string, req Request, opts Options) (res Result, err error) {
	res = Result{ID: id}
	start := time.Now()
	defer func() {
		res.LatencyMilliSec = float64(time.Since(start)) / float64(time.Millisecond)
	}()

	timeout := DefaultTimeout
	if req.TimeoutMilliSec > 0 {
		timeout = time.Duration(req.TimeoutMilliSec) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conf := opts.Config
	if conf.Surface == nil {
		conf.Surface = geo.Globe{Radius: geo.EarthRadius}
	}
	if conf.Root == (geo.Extent{}) {
		conf.Root = geo.World()
	}
	if req.MaxZoom > 0 {
		conf.MaxZoom = req.MaxZoom
	}
	if conf.Elevation == nil {
		conf.Elevation = provider.NewNoise(req.Seed, conf.Root)
	}
	if conf.Imagery == nil {
		synthetic := provider.NewSynthetic(conf.Root, nil)
		synthetic.TileSize = 64
		conf.Imagery = synthetic
	}

	strategy, err := quadtree.NewStrategy(conf)
	if err != nil {
		res.Error = err.Error()
		return res, errors.New("creating strategy failed").Wrap(err)
	}
	defer strategy.Close()

	path := DefaultPath
	if len(req.Path) != 0 {
		path = camera.Path{Waypoints: req.Path, FramesPerLeg: DefaultPath.FramesPerLeg}
	}
	if req.FramesPerLeg > 0 {
		path.FramesPerLeg = req.FramesPerLeg
	}

	settleFrames := DefaultSettleFrames
	if req.SettleFrames > 0 {
		settleFrames = req.SettleFrames
	}

	cam := camera.New(conf.Surface, 60, 16.0/9, 1, 1e9)
	dispatcher := loop.NewDispatcher(strategy, func(frame uint64) quadtree.Camera {
		path.Apply(cam, int(frame)-1)
		return cam
	}, loop.Options{FrameDuration: opts.FrameDuration})
	defer dispatcher.Close()

	dispatcher.HandleFrame(func(stats quadtree.FrameStats) {
		res.Frames++
		res.Rendered = stats.Rendered
		res.Requests += stats.Requests
		res.Completions += stats.Completions
		res.Stale += stats.Stale
		res.TerrainComplete = stats.TerrainComplete
		res.RenderComplete = stats.RenderComplete

		for _, item := range strategy.RenderList() {
			res.MaxRenderedZoom = max(res.MaxRenderedZoom, item.Node.Zoom())
		}
	})

	frameDuration := opts.FrameDuration
	if frameDuration <= 0 {
		frameDuration = loop.DefaultFrameDuration
	}
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	timedOut := func() (Result, error) {
		res.Error = "timeout"
		return res, errors.New("smoke test timed out").
			WithType(ErrTypeTimeout).
			WithTag("frames", res.Frames).
			WithTag("timeout", timeout).
			Wrap(ctx.Err())
	}

	pathFrames := path.Frames()
	for frame := 0; frame < pathFrames+settleFrames; frame++ {
		select {
		case <-ctx.Done():
			return timedOut()
		case <-ticker.C:
		}

		if _, err := dispatcher.Step(ctx); err != nil {
			if ctx.Err() != nil {
				return timedOut()
			}
			res.Error = err.Error()
			return res, err
		}

		if frame >= pathFrames-1 && res.RenderComplete {
			break
		}
	}

	logs.WithTag("smoke_test_id", id).
		WithTag("frames", res.Frames).
		WithTag("rendered", res.Rendered).
		WithTag("max_rendered_zoom", res.MaxRenderedZoom).
		WithTag("render_complete", res.RenderComplete).
		Info("smoke test finished")
	return res, nil
}
