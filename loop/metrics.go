package loop

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	loopFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loop_frames",
		Help: "The number of dispatched frames.",
	})

	loopFrameErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loop_frame_errors",
		Help: "The number of frames that failed.",
	})

	loopFrameOverruns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loop_frame_overruns",
		Help: "The number of frames that took longer than the frame duration.",
	})

	loopFrameHandlers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "loop_frame_handlers",
		Help: "The number of registered frame handlers.",
	})
)

func instrumentFrame(d, frameDuration time.Duration, err error) {
	loopFrames.Inc()

	if err != nil {
		loopFrameErrors.Inc()
	}
	if frameDuration > 0 && d > frameDuration {
		loopFrameOverruns.Inc()
	}
}

func instrumentHandlers(n int) {
	loopFrameHandlers.Set(float64(n))
}
