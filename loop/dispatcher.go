package loop

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/quadsphere/quadtree"
)

const DefaultFrameDuration = time.Millisecond * 16

// Engine is the frame step driven by a dispatcher.
type Engine interface {
	Frame(ctx context.Context, cam quadtree.Camera) (quadtree.FrameStats, error)
	ReleaseHidden(maxResident int) int
}

// CameraFunc returns the camera of the given frame.
type CameraFunc func(frame uint64) quadtree.Camera

type Options struct {
	// The duration between two frames.
	FrameDuration time.Duration

	// The maximum number of hidden segments holding data after each frame.
	// Zero disables the release of hidden segments.
	MaxResident int
}

// Dispatcher runs the frames of an engine at a fixed frame duration and
// notifies the registered handlers with the stats of each frame.
//
// Frames are run on the goroutine calling Run or Step. Handlers are called on
// that goroutine too.
type Dispatcher struct {
	engine  Engine
	camera  CameraFunc
	options Options

	frame atomic.Uint64

	startOnce sync.Once
	closeChan chan struct{}
	closeOnce sync.Once

	handlerIDs   handlerIDs
	handlers     map[uint32]func(quadtree.FrameStats)
	handlerMutex sync.RWMutex
}

func NewDispatcher(e Engine, camera CameraFunc, opts Options) *Dispatcher {
	if opts.FrameDuration <= 0 {
		opts.FrameDuration = DefaultFrameDuration
	}

	return &Dispatcher{
		engine:    e,
		camera:    camera,
		options:   opts,
		closeChan: make(chan struct{}),
		handlers:  make(map[uint32]func(quadtree.FrameStats)),
	}
}

// HandleFrame registers a handler called after each frame. The returned
// function unregisters it.
func (d *Dispatcher) HandleFrame(h func(quadtree.FrameStats)) (cancel func()) {
	d.handlerMutex.Lock()
	defer d.handlerMutex.Unlock()

	id := d.handlerIDs.New()
	d.handlers[id] = h
	instrumentHandlers(len(d.handlers))

	var once sync.Once
	return func() {
		once.Do(func() {
			d.handlerMutex.Lock()
			defer d.handlerMutex.Unlock()

			delete(d.handlers, id)
			d.handlerIDs.Reuse(id)
			instrumentHandlers(len(d.handlers))
		})
	}
}

// Step runs a single frame.
func (d *Dispatcher) Step(ctx context.Context) (quadtree.FrameStats, error) {
	frame := d.frame.Add(1)
	start := time.Now()

	stats, err := d.engine.Frame(ctx, d.camera(frame))
	instrumentFrame(time.Since(start), d.options.FrameDuration, err)
	if err != nil {
		return stats, errors.New("running frame failed").
			WithTag("frame", frame).
			Wrap(err)
	}

	if d.options.MaxResident > 0 {
		if released := d.engine.ReleaseHidden(d.options.MaxResident); released != 0 {
			logs.WithTag("frame", frame).
				WithTag("released", released).
				Debug("hidden segments released")
		}
	}

	d.handlerMutex.RLock()
	for _, h := range d.handlers {
		h(stats)
	}
	d.handlerMutex.RUnlock()

	return stats, nil
}

// Run dispatches frames until the context is canceled or the dispatcher is
// closed. Calls after the first one return immediately.
func (d *Dispatcher) Run(ctx context.Context) error {
	var err error

	d.startOnce.Do(func() {
		ticker := time.NewTicker(d.options.FrameDuration)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				err = ctx.Err()
				return

			case <-d.closeChan:
				return

			case <-ticker.C:
				if _, ferr := d.Step(ctx); ferr != nil {
					if ctx.Err() != nil {
						err = ctx.Err()
						return
					}
					logs.Warn(ferr)
				}
			}
		}
	})

	return err
}

// Frame returns the number of the last dispatched frame.
func (d *Dispatcher) Frame() uint64 {
	return d.frame.Load()
}

// Close stops Run.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.closeChan)
	})
}
