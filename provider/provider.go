package provider

import (
	"context"
	"image"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/quadsphere/geo"
	"github.com/paulmach/orb/maptile"
)

const (
	// The provider has no data for the tile. This is terminal, the tile is
	// never requested again.
	ErrTypeNotFound = "tile_not_found"

	// The provider failed to deliver the tile. The request can be retried.
	ErrTypeTransient = "tile_transient"
)

// ElevationProvider delivers the elevation grid of tiles.
type ElevationProvider interface {
	RequestElevation(ctx context.Context, tile maptile.Tile) (ElevationGrid, error)
}

// ImageryProvider delivers the imagery of tiles.
type ImageryProvider interface {
	RequestImage(ctx context.Context, tile maptile.Tile) (ImageHandle, error)
}

// ZoomRanger is implemented by providers that only serve a range of zoom
// levels.
type ZoomRanger interface {
	MinZoom() maptile.Zoom
	MaxZoom() maptile.Zoom
}

// ElevationGrid is a square grid of heights. Rows go from north to south and
// columns from west to east.
type ElevationGrid struct {
	// The number of samples per side.
	Size int

	Heights []float64
}

func (g ElevationGrid) At(row, col int) float64 {
	return g.Heights[row*g.Size+col]
}

// Cells returns the number of cells per side.
func (g ElevationGrid) Cells() int {
	return g.Size - 1
}

// ImageHandle is an image owned by whoever requested it. Release must be
// called once the image is no longer used.
type ImageHandle interface {
	Image() image.Image
	Release()
}

// NotFound returns the error reported when a provider has no data for a
// tile.
func NotFound(tile maptile.Tile) error {
	return errors.New("tile not found").
		WithTag("tile", geo.TileKey(tile)).
		WithType(ErrTypeNotFound)
}

// Transient wraps an error that should lead to a retry.
func Transient(tile maptile.Tile, err error) error {
	return errors.New("requesting tile failed").
		WithTag("tile", geo.TileKey(tile)).
		WithType(ErrTypeTransient).
		Wrap(err)
}

func IsNotFound(err error) bool {
	return errors.IsType(err, ErrTypeNotFound)
}

// IsTransient reports whether the request that returned err can be retried.
// Errors that are neither typed as not found nor as transient are considered
// transient.
func IsTransient(err error) bool {
	return err != nil && !IsNotFound(err)
}

// Empty is an elevation provider without any data.
type Empty struct{}

func (Empty) RequestElevation(ctx context.Context, tile maptile.Tile) (ElevationGrid, error) {
	return ElevationGrid{}, NotFound(tile)
}
