package quadtree

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	channelLabel = "channel"
	resultLabel  = "result"

	resultOK        = "ok"
	resultNotFound  = "not_found"
	resultTransient = "transient"
	resultStale     = "stale"
	resultHit       = "hit"
	resultMiss      = "miss"
)

var (
	quadtreeNodes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quadtree_nodes",
		Help: "The number of nodes in the tree.",
	})

	quadtreeRenderedNodes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quadtree_rendered_nodes",
		Help: "The number of nodes rendered during the last frame.",
	})

	quadtreeFrameLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "quadtree_frame_latency",
		Help: "The time to apply completions, traverse and prune the tree.",
	})

	quadtreePrunedNodes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quadtree_pruned_nodes",
		Help: "The number of nodes destroyed by pruning.",
	})

	quadtreeReleasedSegments = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quadtree_released_segments",
		Help: "The number of segments whose data was released under memory pressure.",
	})

	quadtreeRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quadtree_requests",
		Help: "The number of provider requests.",
	}, []string{channelLabel})

	quadtreeCompletions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quadtree_completions",
		Help: "The number of provider completions.",
	}, []string{channelLabel, resultLabel})

	quadtreeRequestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "quadtree_request_latency",
		Help: "The time taken by providers to answer a request.",
	}, []string{channelLabel})

	quadtreeIndexCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quadtree_index_cache_lookups",
		Help: "The number of triangulation lookups.",
	}, []string{resultLabel})
)

func instrumentFrame(stats FrameStats, nodes int) {
	quadtreeNodes.Set(float64(nodes))
	quadtreeRenderedNodes.Set(float64(stats.Rendered))
	quadtreeFrameLatency.Observe(stats.Duration.Seconds())
	quadtreePrunedNodes.Add(float64(stats.Pruned))
}

func instrumentReleasedSegments(n int) {
	quadtreeReleasedSegments.Add(float64(n))
}

func instrumentRequest(kind channelKind) {
	quadtreeRequests.
		With(prometheus.Labels{channelLabel: kind.String()}).
		Inc()
}

func instrumentCompletion(kind channelKind, result string) {
	quadtreeCompletions.
		With(prometheus.Labels{
			channelLabel: kind.String(),
			resultLabel:  result,
		}).
		Inc()
}

func instrumentRequestLatency(kind channelKind, d time.Duration) {
	quadtreeRequestLatency.
		With(prometheus.Labels{channelLabel: kind.String()}).
		Observe(d.Seconds())
}

func instrumentIndexCache(hit bool) {
	result := resultMiss
	if hit {
		result = resultHit
	}

	quadtreeIndexCacheLookups.
		With(prometheus.Labels{resultLabel: result}).
		Inc()
}
