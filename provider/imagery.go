package provider

import (
	"context"
	"image"
	"image/color"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aukilabs/quadsphere/geo"
	"github.com/paulmach/orb/maptile"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const DefaultTileSize = 256

// Synthetic is an imagery provider cutting tiles out of an equirectangular
// source raster covering the root extent.
type Synthetic struct {
	// The extent of the zoom 0 tile.
	Root geo.Extent

	// The raster covering the root extent.
	Source image.Image

	// The maximum zoom level served.
	Zoom maptile.Zoom

	// The width and height of the produced tiles.
	TileSize int

	// Writes the tile key in the top left corner of each tile.
	Label bool

	// A delay applied to every request.
	Latency time.Duration

	buffers  sync.Pool
	released atomic.Int64
}

// NewSynthetic returns an imagery provider. A nil source falls back to a
// generated raster.
func NewSynthetic(root geo.Extent, source image.Image) *Synthetic {
	if source == nil {
		source = Checkerboard(1024, 512, 16)
	}

	return &Synthetic{
		Root:     root,
		Source:   source,
		Zoom:     19,
		TileSize: DefaultTileSize,
	}
}

func (s *Synthetic) MinZoom() maptile.Zoom {
	return 0
}

func (s *Synthetic) MaxZoom() maptile.Zoom {
	return s.Zoom
}

func (s *Synthetic) RequestImage(ctx context.Context, tile maptile.Tile) (ImageHandle, error) {
	if s.Latency > 0 {
		timer := time.NewTimer(s.Latency)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return nil, Transient(tile, ctx.Err())
		case <-timer.C:
		}
	}

	if tile.Z > s.Zoom {
		return nil, NotFound(tile)
	}

	extent := geo.TileExtent(s.Root, tile)
	sb := s.Source.Bounds()
	sx := float64(sb.Dx()) / s.Root.Width()
	sy := float64(sb.Dy()) / s.Root.Height()

	sr := image.Rect(
		sb.Min.X+int(math.Floor((extent.West()-s.Root.West())*sx)),
		sb.Min.Y+int(math.Floor((s.Root.North()-extent.North())*sy)),
		sb.Min.X+int(math.Ceil((extent.East()-s.Root.West())*sx)),
		sb.Min.Y+int(math.Ceil((s.Root.North()-extent.South())*sy)),
	)
	if sr.Empty() {
		// Deep tiles cover less than a source pixel.
		sr.Max = sr.Min.Add(image.Pt(1, 1))
	}

	dst := s.buffer()
	draw.CatmullRom.Scale(dst, dst.Bounds(), s.Source, sr, draw.Src, nil)

	if s.Label {
		d := font.Drawer{
			Dst:  dst,
			Src:  image.NewUniform(color.White),
			Face: basicfont.Face7x13,
			Dot:  fixed.P(4, 14),
		}
		d.DrawString(geo.TileKey(tile))
	}

	return &texture{
		img:      dst,
		provider: s,
	}, nil
}

// Released returns the number of handles that have been released.
func (s *Synthetic) Released() int64 {
	return s.released.Load()
}

func (s *Synthetic) buffer() *image.RGBA {
	if img, ok := s.buffers.Get().(*image.RGBA); ok {
		return img
	}

	size := s.TileSize
	if size <= 0 {
		size = DefaultTileSize
	}
	return image.NewRGBA(image.Rect(0, 0, size, size))
}

type texture struct {
	once     sync.Once
	img      *image.RGBA
	provider *Synthetic
}

func (t *texture) Image() image.Image {
	return t.img
}

func (t *texture) Release() {
	t.once.Do(func() {
		t.provider.released.Add(1)
		t.provider.buffers.Put(t.img)
	})
}

// Checkerboard generates an equirectangular raster of w by h pixels made of
// n by n/2 tinted cells.
func Checkerboard(w, h, n int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	cw := max(w/n, 1)
	ch := max(h/max(n/2, 1), 1)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.RGBA{
				R: uint8(255 * x / w),
				G: uint8(255 * y / h),
				B: 96,
				A: 255,
			}
			if (x/cw+y/ch)%2 == 0 {
				c.B = 192
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img
}
