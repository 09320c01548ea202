package feed

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/net/websocket"
)

type ServerOptions struct {
	// The hub publishing the frame summaries.
	Hub *Hub

	// The public endpoint of the feed, used to label metrics.
	Endpoint string

	// The time a client can stay silent before being disconnected.
	ClientIdleTimeout time.Duration

	// The number of frame summaries buffered per client.
	BufferSize int

	// The duration between each log summary by connection.
	LogSummaryInterval time.Duration
}

// NewServer returns the websocket server of the feed. Connections are served
// until the client disconnects or the context is canceled.
func NewServer(ctx context.Context, opts ServerOptions) websocket.Server {
	if opts.LogSummaryInterval <= 0 {
		opts.LogSummaryInterval = time.Minute
	}

	return websocket.Server{
		Handshake: func(c *websocket.Config, r *http.Request) error {
			return nil
		},
		Handler: func(conn *websocket.Conn) {
			defer conn.Close()

			var h Handler = &FeedHandler{
				Hub:               opts.Hub,
				ClientIdleTimeout: opts.ClientIdleTimeout,
				BufferSize:        opts.BufferSize,
			}
			h = HandlerWithLogs(h, opts.LogSummaryInterval)
			h = HandlerWithMetrics(h, opts.Endpoint)
			defer h.Close()

			Handle(ctx, conn, h)
		},
	}
}
