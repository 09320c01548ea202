package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/quadsphere/quadtree"
	"github.com/paulmach/orb"
	"github.com/segmentio/encoding/json"
)

func HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func HandleReadyCheck(readinessCheck func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !readinessCheck() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func HandleVersion(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(version))
	}
}

// HandleWithCORS allows the handler to be called from any origin.
func HandleWithCORS(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.ServeHTTP(w, r)
	})
}

// VisibleTiles is the response of the visible tiles handler.
type VisibleTiles struct {
	Stats quadtree.FrameStats    `json:"stats"`
	Tiles []quadtree.VisibleTile `json:"tiles"`
}

// HandleVisibleTiles serves the tiles rendered during the last frame.
//
// The zoom query parameter keeps the tiles of a zoom level. The bbox query
// parameter, formatted as west,south,east,north, keeps the tiles touching the
// box.
func HandleVisibleTiles(snapshot func() ([]quadtree.VisibleTile, quadtree.FrameStats)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		filter, err := parseTileFilter(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		tiles, stats := snapshot()
		res := VisibleTiles{
			Stats: stats,
			Tiles: make([]quadtree.VisibleTile, 0, len(tiles)),
		}
		for _, t := range tiles {
			if filter.match(t) {
				res.Tiles = append(res.Tiles, t)
			}
		}

		writeJSON(w, http.StatusOK, res)
	}
}

type tileFilter struct {
	zoom    int
	hasZoom bool
	bbox    orb.Bound
	hasBBox bool
}

func parseTileFilter(r *http.Request) (tileFilter, error) {
	var f tileFilter
	query := r.URL.Query()

	if v := query.Get("zoom"); v != "" {
		zoom, err := strconv.Atoi(v)
		if err != nil || zoom < 0 {
			return f, errors.New("invalid zoom").WithTag("zoom", v)
		}
		f.zoom = zoom
		f.hasZoom = true
	}

	if v := query.Get("bbox"); v != "" {
		parts := strings.Split(v, ",")
		if len(parts) != 4 {
			return f, errors.New("invalid bbox").WithTag("bbox", v)
		}

		var values [4]float64
		for i, p := range parts {
			value, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err != nil {
				return f, errors.New("invalid bbox").WithTag("bbox", v).Wrap(err)
			}
			values[i] = value
		}

		f.bbox = orb.Bound{
			Min: orb.Point{min(values[0], values[2]), min(values[1], values[3])},
			Max: orb.Point{max(values[0], values[2]), max(values[1], values[3])},
		}
		f.hasBBox = true
	}

	return f, nil
}

func (f tileFilter) match(t quadtree.VisibleTile) bool {
	if f.hasZoom && t.Zoom != f.zoom {
		return false
	}
	if f.hasBBox {
		b := orb.Bound{
			Min: orb.Point{t.Extent[0], t.Extent[1]},
			Max: orb.Point{t.Extent[2], t.Extent[3]},
		}
		if !f.bbox.Intersects(b) {
			return false
		}
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		logs.Warn(errors.New("encoding response failed").Wrap(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(b)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, struct {
		Error string `json:"error"`
	}{
		Error: err.Error(),
	})
}
