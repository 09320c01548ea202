package http

import (
	"context"
	"net/http"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"golang.org/x/sync/errgroup"
)

// The time given to servers to finish their requests on shutdown.
var ShutdownTimeout = time.Second * 10

// Server is a named HTTP surface of the quadsphere service, such as the
// public feed or the admin endpoints.
type Server struct {
	Name string
	*http.Server
}

// ListenAndServe runs the servers until the context is canceled, then gives
// them ShutdownTimeout to finish their requests. Servers without address are
// disabled. When a server stops on its own the others are shut down and its
// error is returned.
func ListenAndServe(ctx context.Context, servers ...Server) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, s := range servers {
		if s.Addr == "" {
			logs.WithTag("server", s.Name).Info("server disabled")
			continue
		}

		g.Go(func() error {
			return serve(ctx, s)
		})
	}

	return g.Wait()
}

func serve(ctx context.Context, s Server) error {
	stopped := make(chan error, 1)
	go func() {
		logs.WithTag("server", s.Name).
			WithTag("addr", s.Addr).
			Info("starting server")

		stopped <- s.ListenAndServe()
	}()

	select {
	case err := <-stopped:
		return errors.New("quadsphere server stopped").
			WithTag("server", s.Name).
			WithTag("addr", s.Addr).
			Wrap(err)

	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	if err := s.Shutdown(shutdownCtx); err != nil {
		logs.Warn(errors.New("shutting down quadsphere server failed").
			WithTag("server", s.Name).
			WithTag("addr", s.Addr).
			Wrap(err))
	}
	<-stopped

	logs.WithTag("server", s.Name).
		WithTag("addr", s.Addr).
		Info("server stopped")
	return nil
}

// MetricsPathFormatter drops the path label of requests answered with 301,
// 400, 404 or 405, so that unknown paths do not grow the route metrics.
func MetricsPathFormatter(statusCode int, path string) string {
	if statusCode == http.StatusMovedPermanently ||
		statusCode == http.StatusBadRequest ||
		statusCode == http.StatusNotFound ||
		statusCode == http.StatusMethodNotAllowed {
		return ""
	}

	return path
}
