package geo

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"
)

func TestExtentQuadrants(t *testing.T) {
	t.Run("splits the world", func(t *testing.T) {
		q := World().Quadrants()

		require.Equal(t, NewExtent(orb.Point{-180, 0}, orb.Point{0, 90}), q[NW])
		require.Equal(t, NewExtent(orb.Point{0, 0}, orb.Point{180, 90}), q[NE])
		require.Equal(t, NewExtent(orb.Point{-180, -90}, orb.Point{0, 0}), q[SW])
		require.Equal(t, NewExtent(orb.Point{0, -90}, orb.Point{180, 0}), q[SE])
	})

	t.Run("partitions exactly", func(t *testing.T) {
		extents := []Extent{
			World(),
			NewExtent(orb.Point{-0.1, 10.3}, orb.Point{0.7, 33.33}),
			NewExtent(orb.Point{12.345678, -1e-7}, orb.Point{12.345679, 1e-7}),
		}

		for _, e := range extents {
			q := e.Quadrants()

			require.Equal(t, e.West(), q[NW].West())
			require.Equal(t, e.West(), q[SW].West())
			require.Equal(t, e.East(), q[NE].East())
			require.Equal(t, e.East(), q[SE].East())
			require.Equal(t, e.North(), q[NW].North())
			require.Equal(t, e.North(), q[NE].North())
			require.Equal(t, e.South(), q[SW].South())
			require.Equal(t, e.South(), q[SE].South())

			require.Equal(t, q[NW].East(), q[NE].West())
			require.Equal(t, q[SW].East(), q[SE].West())
			require.Equal(t, q[NW].South(), q[SW].North())
			require.Equal(t, q[NE].South(), q[SE].North())

			var area float64
			for i := range q {
				area += q[i].Width() * q[i].Height()
				for j := i + 1; j < len(q); j++ {
					require.False(t, q[i].Intersects(q[j]), "%s overlaps %s", q[i], q[j])
				}
			}
			require.InDelta(t, e.Width()*e.Height(), area, 1e-12)
		}
	})
}

func TestNewExtentReordersCorners(t *testing.T) {
	e := NewExtent(orb.Point{10, 20}, orb.Point{-10, -20})
	require.Equal(t, orb.Point{-10, -20}, e.SouthWest)
	require.Equal(t, orb.Point{10, 20}, e.NorthEast)
}

func TestExtentContains(t *testing.T) {
	e := NewExtent(orb.Point{0, 0}, orb.Point{10, 10})

	require.True(t, e.Contains(orb.Point{5, 5}))
	require.True(t, e.Contains(orb.Point{0, 10}))
	require.False(t, e.Contains(orb.Point{10.1, 5}))
	require.True(t, e.ContainsExtent(NewExtent(orb.Point{1, 1}, orb.Point{10, 10})))
	require.False(t, e.ContainsExtent(NewExtent(orb.Point{-1, 1}, orb.Point{5, 5})))
}

func TestExtentIntersects(t *testing.T) {
	e := NewExtent(orb.Point{0, 0}, orb.Point{10, 10})

	require.True(t, e.Intersects(NewExtent(orb.Point{5, 5}, orb.Point{15, 15})))
	require.False(t, e.Intersects(NewExtent(orb.Point{10, 0}, orb.Point{20, 10})))
	require.True(t, e.Touches(NewExtent(orb.Point{10, 0}, orb.Point{20, 10})))
	require.False(t, e.Touches(NewExtent(orb.Point{11, 0}, orb.Point{20, 10})))
}

func TestExtentCommonSide(t *testing.T) {
	e := NewExtent(orb.Point{0, 0}, orb.Point{10, 10})

	tests := []struct {
		name  string
		other Extent
		side  Side
		ok    bool
	}{
		{
			name:  "east neighbor of same size",
			other: NewExtent(orb.Point{10, 0}, orb.Point{20, 10}),
			side:  East,
			ok:    true,
		},
		{
			name:  "smaller west neighbor",
			other: NewExtent(orb.Point{-5, 5}, orb.Point{0, 10}),
			side:  West,
			ok:    true,
		},
		{
			name:  "bigger north neighbor",
			other: NewExtent(orb.Point{0, 10}, orb.Point{20, 30}),
			side:  North,
			ok:    true,
		},
		{
			name:  "south neighbor",
			other: NewExtent(orb.Point{0, -10}, orb.Point{10, 0}),
			side:  South,
			ok:    true,
		},
		{
			name:  "corner only",
			other: NewExtent(orb.Point{10, 10}, orb.Point{20, 20}),
		},
		{
			name:  "shifted span",
			other: NewExtent(orb.Point{10, 5}, orb.Point{20, 15}),
		},
		{
			name:  "far away",
			other: NewExtent(orb.Point{50, 50}, orb.Point{60, 60}),
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			side, ok := e.CommonSide(test.other)
			require.Equal(t, test.ok, ok)
			if ok {
				require.Equal(t, test.side, side)

				back, ok := test.other.CommonSide(e)
				require.True(t, ok)
				require.Equal(t, side.Opposite(), back)
			}
		})
	}
}
