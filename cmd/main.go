package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"net/url"
	"os"
	"reflect"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/aukilabs/go-tooling/pkg/cli"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/events"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/go-tooling/pkg/metrics"
	"github.com/aukilabs/quadsphere/camera"
	"github.com/aukilabs/quadsphere/featureflag"
	"github.com/aukilabs/quadsphere/feed"
	"github.com/aukilabs/quadsphere/geo"
	qhttp "github.com/aukilabs/quadsphere/http"
	"github.com/aukilabs/quadsphere/loop"
	"github.com/aukilabs/quadsphere/provider"
	"github.com/aukilabs/quadsphere/quadtree"
	"github.com/aukilabs/quadsphere/smoketest"
	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/encoding/json"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

var (
	// The Quadsphere version number. Set at build.
	version = "v0.1.0"

	infoGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name:        "quadsphere_info",
		Help:        "Quadsphere information.",
		ConstLabels: prometheus.Labels{"version": version},
	})
)

// This will effectively disable obfuscation of the config struct. Without it, the keys would get obfuscated causing the cli package to generate garbled command-line options.
// https://github.com/burrowers/garble/issues/403
var _ = reflect.TypeOf(config{})

type config struct {
	Addr               string        `cli:""        env:"QUADSPHERE_ADDR"                 help:"Listening address for client connections."`
	AdminAddr          string        `cli:""        env:"QUADSPHERE_ADMIN_ADDR"           help:"Admin listening address."`
	PublicEndpoint     string        `cli:""        env:"QUADSPHERE_PUBLIC_ENDPOINT"      help:"The public endpoint where this Quadsphere server is reachable."`
	LogLevel           string        `cli:""        env:"QUADSPHERE_LOG_LEVEL"            help:"Log level (debug|info|warning|error)."`
	LogIndent          bool          `cli:""        env:"QUADSPHERE_LOG_INDENT"           help:"Indent logs."`
	Seed               int           `cli:""        env:"QUADSPHERE_SEED"                 help:"The seed of the noise elevation."`
	FrameDuration      time.Duration `cli:",hidden" env:"QUADSPHERE_FRAME_DURATION"       help:"The duration of a frame."`
	ClientIdleTimeout  time.Duration `cli:",hidden" env:"QUADSPHERE_CLIENT_IDLE_TIMEOUT"  help:"Time until an idle feed client will be disconnected."`
	ClientBufferSize   int           `cli:",hidden" env:"QUADSPHERE_CLIENT_BUFFER_SIZE"   help:"The number of frame summaries buffered per feed client."`
	LogSummaryInterval time.Duration `cli:",hidden" env:"QUADSPHERE_LOG_SUMMARY_INTERVAL" help:"The duration between each log summary by connection."`
	Engine             engineConfig  `cli:",hidden" env:"-"                               help:"Engine configuration."`
	Camera             cameraConfig  `cli:",hidden" env:"-"                               help:"Demo camera configuration."`
	SmokeTest          smokeConfig   `cli:",hidden" env:"-"                               help:"Smoke test configuration."`
	Events             eventsConfig  `cli:",hidden" env:"-"                               help:"Event pusher configuration."`
	FeatureFlags       []string      `cli:",hidden" env:"QUADSPHERE_FEATURE_FLAGS"        help:"Comma separated feature flags"`
	Version            bool          `cli:""        env:"-"                               help:"Show version."`
	Help               bool          `cli:""        env:"-"                               help:"Show help."`
}

type engineConfig struct {
	LodEps           float64  `cli:",hidden" env:"QUADSPHERE_ENGINE_LOD_EPS"            help:"The level of detail threshold. Smaller values subdivide more."`
	MaxZoom          int      `cli:",hidden" env:"QUADSPHERE_ENGINE_MAX_ZOOM"           help:"The deepest zoom level."`
	GridSizes        []string `cli:",hidden" env:"QUADSPHERE_ENGINE_GRID_SIZES"         help:"Comma separated segment grid sizes by zoom level."`
	MaxRenderedNodes int      `cli:",hidden" env:"QUADSPHERE_ENGINE_MAX_RENDERED_NODES" help:"The maximum number of nodes rendered in a frame."`
	MaxResident      int      `cli:",hidden" env:"QUADSPHERE_ENGINE_MAX_RESIDENT"       help:"The maximum number of hidden segments holding data. 0 keeps them all."`
	Workers          int      `cli:",hidden" env:"QUADSPHERE_ENGINE_WORKERS"            help:"The number of elevation workers."`
	QueueSize        int      `cli:",hidden" env:"QUADSPHERE_ENGINE_QUEUE_SIZE"         help:"The size of the elevation worker queue."`
	MaxRequests      int      `cli:",hidden" env:"QUADSPHERE_ENGINE_MAX_REQUESTS"       help:"The maximum number of concurrent provider requests."`
	MaxRetries       int      `cli:",hidden" env:"QUADSPHERE_ENGINE_MAX_RETRIES"        help:"The number of transient failures after which a tile is given up."`
	RetryMaxFrames   int      `cli:",hidden" env:"QUADSPHERE_ENGINE_RETRY_MAX_FRAMES"   help:"The maximum delay between two retries, in frames."`
	ImageryTileSize  int      `cli:",hidden" env:"QUADSPHERE_ENGINE_IMAGERY_TILE_SIZE"  help:"The size of the synthetic imagery tiles, in pixels."`
}

type cameraConfig struct {
	Longitude    float64 `cli:",hidden" env:"QUADSPHERE_CAMERA_LONGITUDE"      help:"The longitude the demo camera orbits around."`
	Latitude     float64 `cli:",hidden" env:"QUADSPHERE_CAMERA_LATITUDE"       help:"The latitude the demo camera orbits around."`
	Altitude     float64 `cli:",hidden" env:"QUADSPHERE_CAMERA_ALTITUDE"       help:"The altitude of the demo camera, in meters."`
	Tilt         float64 `cli:",hidden" env:"QUADSPHERE_CAMERA_TILT"           help:"The tilt of the demo camera, in degrees."`
	FramesPerLeg int     `cli:",hidden" env:"QUADSPHERE_CAMERA_FRAMES_PER_LEG" help:"The frames spent between two waypoints of the orbit."`
}

type smokeConfig struct {
	ResultEndpoint string        `cli:",hidden" env:"QUADSPHERE_SMOKE_TEST_RESULT_ENDPOINT" help:"Endpoint to where smoke test results are posted. Results are logged when empty."`
	FrameDuration  time.Duration `cli:",hidden" env:"QUADSPHERE_SMOKE_TEST_FRAME_DURATION"  help:"The duration of a smoke test frame."`
}

type eventsConfig struct {
	Endpoint      string        `cli:",hidden" env:"QUADSPHERE_EVENTS_ENDPOINT"       help:"Endpoint to where events are pushed."`
	FlushInterval time.Duration `cli:",hidden" env:"QUADSPHERE_EVENTS_FLUSH_INTERVAL" help:"The duration between each event flush."`
	BatchSize     int           `cli:",hidden" env:"QUADSPHERE_EVENTS_BATCH_SIZE"     help:"The maximum number of events sent at once."`
	QueueSize     int           `cli:",hidden" env:"QUADSPHERE_EVENTS_QUEUE_SIZE"     help:"The size of the queue where events are stored."`
}

func main() {
	conf := config{
		Addr:               ":4000",
		AdminAddr:          ":18190",
		PublicEndpoint:     "http://localhost:4000",
		LogLevel:           logs.InfoLevel.String(),
		Seed:               1,
		FrameDuration:      loop.DefaultFrameDuration,
		ClientIdleTimeout:  feed.DefaultIdleTimeout,
		ClientBufferSize:   16,
		LogSummaryInterval: time.Minute,
		Engine: engineConfig{
			LodEps:           quadtree.DefaultLodEps,
			MaxRenderedNodes: quadtree.DefaultMaxRenderedNodes,
			MaxResident:      2000,
			MaxRequests:      quadtree.DefaultMaxRequests,
			MaxRetries:       quadtree.DefaultMaxRetries,
			RetryMaxFrames:   quadtree.DefaultRetryMaxFrames,
			ImageryTileSize:  256,
		},
		Camera: cameraConfig{
			Longitude:    8.5,
			Latitude:     47.3,
			Altitude:     3e5,
			Tilt:         20,
			FramesPerLeg: 600,
		},
		SmokeTest: smokeConfig{
			FrameDuration: time.Millisecond,
		},
		Events: eventsConfig{
			FlushInterval: events.DefaultFlushInterval,
			BatchSize:     events.DefaultBatchSize,
			QueueSize:     events.DefaultQueueSize,
		},
	}

	// set the information gauge to 1, useful for SUM query
	infoGauge.Set(1)

	ctx, cancel := cli.ContextWithSignals(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	cli.Register().
		Help("Starts Quadsphere server.").
		Options(&conf)
	cli.Load()

	if conf.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := validateConfig(conf); err != nil {
		logs.Fatal(err)
	}

	logs.SetLevel(logs.ParseLevel(conf.LogLevel))
	logs.Encoder = json.Marshal
	if conf.LogIndent {
		logs.Encoder = func(v any) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		}
	}

	errors.Encoder = json.Marshal

	transport := metrics.HTTPTransport(http.DefaultTransport)

	if conf.Events.Endpoint != "" {
		eventsPusher := events.Pusher{
			Endpoint:      conf.Events.Endpoint,
			FlushInterval: conf.Events.FlushInterval,
			BatchSize:     conf.Events.BatchSize,
			QueueSize:     conf.Events.QueueSize,
			Transport:     transport,
		}
		go eventsPusher.Start()
		defer eventsPusher.Close()

		eventsLogger := events.Logger{
			Pusher:           &eventsPusher,
			SDKType:          "quadsphere",
			SDKVersionFamily: version,
		}
		logs.SetLogger(eventsLogger.Log)
	}

	featureFlags := featureflag.New(conf.FeatureFlags)
	if unknown := featureFlags.Unknown(); len(unknown) != 0 {
		logs.WithTag("feature_flags", unknown).
			Warn(errors.New("unknown feature flags"))
	}

	engineConf, err := newEngineConfig(conf, featureFlags)
	if err != nil {
		logs.Fatal(errors.New("invalid engine configuration").Wrap(err))
	}

	strategy, err := quadtree.NewStrategy(engineConf,
		quadtree.WithTracer(otel.Tracer("github.com/aukilabs/quadsphere/quadtree")),
	)
	if err != nil {
		logs.Fatal(errors.New("creating engine failed").Wrap(err))
	}
	defer strategy.Close()

	cam := camera.New(engineConf.Surface, 60, 16.0/9, 1, 1e9)
	orbit := orbitPath(conf.Camera)
	dispatcher := loop.NewDispatcher(strategy, func(frame uint64) quadtree.Camera {
		orbit.Apply(cam, int(frame%uint64(orbit.Frames()-1)))
		return cam
	}, loop.Options{
		FrameDuration: conf.FrameDuration,
		MaxResident:   conf.Engine.MaxResident,
	})
	defer dispatcher.Close()

	hub := feed.Hub{
		Every:    1,
		Snapshot: strategy.VisibleSnapshot,
	}
	featureFlags.IfNotSet(featureflag.FlagDisableFeed, func() {
		dispatcher.HandleFrame(hub.HandleFrame)
	})

	var service http.ServeMux
	service.Handle("/health", qhttp.HandleWithCORS(http.HandlerFunc(qhttp.HandleHealthCheck)))
	service.Handle("/version", qhttp.HandleWithCORS(qhttp.HandleVersion(version)))
	service.Handle("/tiles", qhttp.HandleWithCORS(qhttp.HandleVisibleTiles(strategy.VisibleSnapshot)))

	// The first frame publishes the first snapshot.
	readinessCheck := func() bool {
		return dispatcher.Frame() > 0
	}
	service.Handle("/ready", qhttp.HandleWithCORS(qhttp.HandleReadyCheck(readinessCheck)))

	service.HandleFunc("/smoke-test", smoketest.HandleSmokeTest(ctx, smoketest.Options{
		Config:        smokeTestConfig(engineConf),
		FrameDuration: conf.SmokeTest.FrameDuration,
		SendResult:    smokeTestResultSender(conf.SmokeTest.ResultEndpoint, transport),
	}))

	featureFlags.IfNotSet(featureflag.FlagDisableFeed, func() {
		service.Handle("/feed", qhttp.HandleWithCORS(feed.NewServer(ctx, feed.ServerOptions{
			Hub:                &hub,
			Endpoint:           conf.PublicEndpoint,
			ClientIdleTimeout:  conf.ClientIdleTimeout,
			BufferSize:         conf.ClientBufferSize,
			LogSummaryInterval: conf.LogSummaryInterval,
		})))
	})

	var admin http.ServeMux
	admin.Handle("/metrics", promhttp.Handler())
	admin.HandleFunc("/health", qhttp.HandleHealthCheck)
	admin.HandleFunc("/debug/pprof/", pprof.Index)
	admin.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	admin.HandleFunc("/debug/pprof/profile", pprof.Profile)
	admin.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	admin.HandleFunc("/debug/pprof/trace", pprof.Trace)
	admin.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	admin.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	admin.Handle("/debug/pprof/threadcreate", pprof.Handler("threadcreate"))
	admin.Handle("/debug/pprof/block", pprof.Handler("block"))
	admin.HandleFunc("/ready", qhttp.HandleReadyCheck(readinessCheck))

	logs.WithTag("version", version).
		WithTag("log_level", conf.LogLevel).
		WithTag("endpoint", conf.PublicEndpoint).
		WithTag("feature_flags", featureFlags.Flags()).
		WithTag("max_zoom", engineConf.MaxZoom).
		Info("starting quadsphere server")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return dispatcher.Run(ctx)
	})
	g.Go(func() error {
		return qhttp.ListenAndServe(ctx,
			qhttp.Server{Name: "public", Server: &http.Server{
				Addr:    conf.Addr,
				Handler: metrics.HTTPHandler(&service, qhttp.MetricsPathFormatter),
			}},
			qhttp.Server{Name: "admin", Server: &http.Server{
				Addr:    conf.AdminAddr,
				Handler: &admin,
			}},
		)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		logs.Fatal(errors.New("running quadsphere server failed").Wrap(err))
	}
}

func newEngineConfig(conf config, featureFlags featureflag.FeatureFlag) (quadtree.Config, error) {
	gridSizes, err := parseGridSizes(conf.Engine.GridSizes)
	if err != nil {
		return quadtree.Config{}, err
	}

	root := geo.World()

	imagery := provider.NewSynthetic(root, nil)
	imagery.TileSize = conf.Engine.ImageryTileSize

	return quadtree.Config{
		Surface:          geo.Globe{Radius: geo.EarthRadius},
		Root:             root,
		GridSizes:        gridSizes,
		LodEps:           conf.Engine.LodEps,
		MaxZoom:          conf.Engine.MaxZoom,
		MaxRenderedNodes: conf.Engine.MaxRenderedNodes,
		Workers:          conf.Engine.Workers,
		QueueSize:        conf.Engine.QueueSize,
		MaxRequests:      conf.Engine.MaxRequests,
		MaxRetries:       conf.Engine.MaxRetries,
		RetryMaxFrames:   conf.Engine.RetryMaxFrames,
		Elevation:        provider.NewNoise(int64(conf.Seed), root),
		Imagery:          imagery,
		FeatureFlags:     featureFlags,
	}, nil
}

func parseGridSizes(s []string) ([]int, error) {
	var sizes []int
	for _, v := range s {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}

		size, err := strconv.Atoi(v)
		if err != nil {
			return nil, errors.New("invalid grid size").
				WithTag("grid_size", v).
				Wrap(err)
		}
		sizes = append(sizes, size)
	}
	return sizes, nil
}

// smokeTestConfig returns the engine configuration of smoke test runs. Each
// run gets its own providers.
func smokeTestConfig(conf quadtree.Config) quadtree.Config {
	conf.Elevation = nil
	conf.Imagery = nil
	conf.Workers = 2
	return conf
}

func smokeTestResultSender(endpoint string, transport http.RoundTripper) func(context.Context, smoketest.Result) error {
	if endpoint == "" {
		return func(ctx context.Context, res smoketest.Result) error {
			logs.WithTag("smoke_test_id", res.ID).
				WithTag("frames", res.Frames).
				WithTag("rendered", res.Rendered).
				WithTag("render_complete", res.RenderComplete).
				WithTag("latency_ms", res.LatencyMilliSec).
				Info("smoke test result")
			return nil
		}
	}

	client := http.Client{
		Transport: transport,
		Timeout:   time.Second * 10,
	}

	return func(ctx context.Context, res smoketest.Result) error {
		b, err := json.Marshal(res)
		if err != nil {
			return errors.New("encoding smoke test result failed").Wrap(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
		if err != nil {
			return errors.New("creating smoke test result request failed").Wrap(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return errors.New("posting smoke test result failed").Wrap(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			return errors.New("smoke test result rejected").
				WithTag("endpoint", endpoint).
				WithTag("status_code", resp.StatusCode)
		}
		return nil
	}
}

// orbitPath returns a closed path circling the configured point.
func orbitPath(conf cameraConfig) camera.Path {
	const radius = 2.0

	waypoint := func(dlon, dlat float64) camera.Waypoint {
		return camera.Waypoint{
			Point:    orb.Point{conf.Longitude + dlon, conf.Latitude + dlat},
			Altitude: conf.Altitude,
			Tilt:     conf.Tilt,
		}
	}

	return camera.Path{
		Waypoints: []camera.Waypoint{
			waypoint(radius, 0),
			waypoint(0, radius),
			waypoint(-radius, 0),
			waypoint(0, -radius),
			waypoint(radius, 0),
		},
		FramesPerLeg: conf.FramesPerLeg,
	}
}

func validateConfig(conf config) error {
	if _, err := url.ParseRequestURI(conf.PublicEndpoint); err != nil {
		return errors.New("invalid public endpoint").Wrap(err)
	}

	if conf.SmokeTest.ResultEndpoint != "" {
		if _, err := url.ParseRequestURI(conf.SmokeTest.ResultEndpoint); err != nil {
			return errors.New("invalid smoke test result endpoint").Wrap(err)
		}
	}

	if conf.Camera.Altitude <= 0 {
		return errors.New("camera altitude must be positive").
			WithTag("altitude", conf.Camera.Altitude)
	}

	if conf.Camera.FramesPerLeg <= 0 {
		return errors.New("camera frames per leg must be positive").
			WithTag("frames_per_leg", conf.Camera.FramesPerLeg)
	}
	return nil
}
