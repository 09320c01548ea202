package worker

import (
	"math"

	"github.com/aukilabs/quadsphere/geo"
	"github.com/aukilabs/quadsphere/provider"
	"github.com/golang/geo/r3"
)

// ElevationJob is the input of Displace. The slices are owned by the job.
type ElevationJob struct {
	// The number of cells per side of the segment grid.
	GridSize int

	// The (GridSize+1)^2 vertices of the segment without elevation, row
	// major from north west.
	PlainVertices []r3.Vector

	// The surface normals matching PlainVertices.
	PlainNormals []r3.Vector

	Elevation provider.ElevationGrid
}

// ElevationResult holds the displaced segment grid.
type ElevationResult struct {
	Vertices []r3.Vector
	Normals  []r3.Vector
	Bounds   geo.Box
}

// Displace lifts every plain vertex along its normal by the elevation sampled
// at its position. Elevation grids at least as dense as the segment grid are
// resampled, coarser ones are interpolated bilinearly.
func Displace(job ElevationJob) ElevationResult {
	side := job.GridSize + 1
	res := ElevationResult{
		Vertices: make([]r3.Vector, len(job.PlainVertices)),
		Normals:  make([]r3.Vector, len(job.PlainVertices)),
	}
	if job.GridSize <= 0 || len(job.PlainVertices) != side*side {
		copy(res.Vertices, job.PlainVertices)
		copy(res.Normals, job.PlainNormals)
		res.Bounds = geo.BoxFromPoints(res.Vertices)
		return res
	}

	heights := SampleHeights(job.Elevation, job.GridSize)
	for i, v := range job.PlainVertices {
		res.Vertices[i] = v.Add(job.PlainNormals[i].Mul(heights[i]))
	}

	res.Normals = GridNormals(res.Vertices, job.PlainNormals, job.GridSize)
	res.Bounds = geo.BoxFromPoints(res.Vertices)
	return res
}

// SampleHeights maps an elevation grid onto a segment grid of gridSize cells
// per side. A missing elevation grid gives zero heights.
func SampleHeights(g provider.ElevationGrid, gridSize int) []float64 {
	side := gridSize + 1
	heights := make([]float64, side*side)

	fileCells := g.Cells()
	if fileCells <= 0 || len(g.Heights) != g.Size*g.Size {
		return heights
	}

	ratio := float64(fileCells) / float64(gridSize)

	if fileCells >= gridSize {
		for i := 0; i < side; i++ {
			row := int(math.Round(float64(i) * ratio))
			for j := 0; j < side; j++ {
				col := int(math.Round(float64(j) * ratio))
				heights[i*side+j] = g.At(row, col)
			}
		}
		return heights
	}

	for i := 0; i < side; i++ {
		v := float64(i) * ratio
		r0 := min(int(v), fileCells-1)
		fv := v - float64(r0)

		for j := 0; j < side; j++ {
			u := float64(j) * ratio
			c0 := min(int(u), fileCells-1)
			fu := u - float64(c0)

			top := lerp(g.At(r0, c0), g.At(r0, c0+1), fu)
			bottom := lerp(g.At(r0+1, c0), g.At(r0+1, c0+1), fu)
			heights[i*side+j] = lerp(top, bottom, fv)
		}
	}
	return heights
}

// GridNormals computes the normals of a displaced grid from its neighboring
// vertices. Degenerate spots, such as poles, keep the fallback normal.
func GridNormals(vertices, fallback []r3.Vector, gridSize int) []r3.Vector {
	side := gridSize + 1
	normals := make([]r3.Vector, len(vertices))

	at := func(i, j int) r3.Vector {
		i = max(0, min(i, gridSize))
		j = max(0, min(j, gridSize))
		return vertices[i*side+j]
	}

	for i := 0; i < side; i++ {
		for j := 0; j < side; j++ {
			k := i*side + j
			east := at(i, j+1).Sub(at(i, j-1))
			north := at(i-1, j).Sub(at(i+1, j))

			n := east.Cross(north)
			if n.Norm2() == 0 {
				normals[k] = fallback[k]
				continue
			}

			n = n.Normalize()
			if n.Dot(fallback[k]) < 0 {
				n = n.Mul(-1)
			}
			normals[k] = n
		}
	}
	return normals
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}
