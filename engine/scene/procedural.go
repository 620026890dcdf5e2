package scene

import (
	stdmath "math"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/math"
)

// NewBox creates an axis-aligned box centered on the origin.
func NewBox(name string, size math.Vec3, compact bool) *Mesh {
	h := size.MulScalar(0.5)
	positions := []math.Vec3{
		{X: -h.X, Y: -h.Y, Z: -h.Z}, {X: h.X, Y: -h.Y, Z: -h.Z},
		{X: h.X, Y: h.Y, Z: -h.Z}, {X: -h.X, Y: h.Y, Z: -h.Z},
		{X: -h.X, Y: -h.Y, Z: h.Z}, {X: h.X, Y: -h.Y, Z: h.Z},
		{X: h.X, Y: h.Y, Z: h.Z}, {X: -h.X, Y: h.Y, Z: h.Z},
	}
	indices := []uint32{
		0, 2, 1, 0, 3, 2, // -z
		4, 5, 6, 4, 6, 7, // +z
		0, 1, 5, 0, 5, 4, // -y
		3, 7, 6, 3, 6, 2, // +y
		0, 4, 7, 0, 7, 3, // -x
		1, 2, 6, 1, 6, 5, // +x
	}
	return NewMesh(name, positions, indices, compact)
}

// NewPlane creates a width x depth quad in the XZ plane, facing +Y.
func NewPlane(name string, width, depth float32, compact bool) *Mesh {
	w, d := width*0.5, depth*0.5
	positions := []math.Vec3{
		{X: -w, Y: 0, Z: -d}, {X: w, Y: 0, Z: -d},
		{X: w, Y: 0, Z: d}, {X: -w, Y: 0, Z: d},
	}
	return NewMesh(name, positions, []uint32{0, 2, 1, 0, 3, 2}, compact)
}

// NewIcosphere creates a sphere by subdividing an icosahedron.
func NewIcosphere(name string, radius float32, subdivisions int, compact bool) *Mesh {
	core.Assert(subdivisions >= 0 && subdivisions <= 6, "icosphere subdivisions %d out of range [0, 6]", subdivisions)

	t := float32((1.0 + stdmath.Sqrt(5.0)) / 2.0)
	positions := []math.Vec3{
		{X: -1, Y: t, Z: 0}, {X: 1, Y: t, Z: 0}, {X: -1, Y: -t, Z: 0}, {X: 1, Y: -t, Z: 0},
		{X: 0, Y: -1, Z: t}, {X: 0, Y: 1, Z: t}, {X: 0, Y: -1, Z: -t}, {X: 0, Y: 1, Z: -t},
		{X: t, Y: 0, Z: -1}, {X: t, Y: 0, Z: 1}, {X: -t, Y: 0, Z: -1}, {X: -t, Y: 0, Z: 1},
	}
	indices := []uint32{
		0, 11, 5, 0, 5, 1, 0, 1, 7, 0, 7, 10, 0, 10, 11,
		1, 5, 9, 5, 11, 4, 11, 10, 2, 10, 7, 6, 7, 1, 8,
		3, 9, 4, 3, 4, 2, 3, 2, 6, 3, 6, 8, 3, 8, 9,
		4, 9, 5, 2, 4, 11, 6, 2, 10, 8, 6, 7, 9, 8, 1,
	}

	for s := 0; s < subdivisions; s++ {
		midpoints := make(map[[2]uint32]uint32)
		midpoint := func(a, b uint32) uint32 {
			key := [2]uint32{min(a, b), max(a, b)}
			if index, ok := midpoints[key]; ok {
				return index
			}
			index := uint32(len(positions))
			positions = append(positions, positions[a].Add(positions[b]).MulScalar(0.5))
			midpoints[key] = index
			return index
		}
		next := make([]uint32, 0, len(indices)*4)
		for i := 0; i < len(indices); i += 3 {
			a, b, c := indices[i], indices[i+1], indices[i+2]
			ab, bc, ca := midpoint(a, b), midpoint(b, c), midpoint(c, a)
			next = append(next, a, ab, ca, b, bc, ab, c, ca, bc, ab, bc, ca)
		}
		indices = next
	}

	for i := range positions {
		positions[i] = positions[i].Normalized().MulScalar(radius)
	}
	return NewMesh(name, positions, indices, compact)
}

// NewWaveGrid creates a resolution x resolution grid in the XZ plane whose
// height follows a travelling wave. It is refit every frame.
func NewWaveGrid(name string, size float32, resolution int, amplitude, speed float32) *Mesh {
	core.Assert(resolution >= 1, "wave grid needs a positive resolution")

	row := resolution + 1
	step := size / float32(resolution)
	half := size * 0.5
	positions := make([]math.Vec3, 0, row*row)
	for z := 0; z < row; z++ {
		for x := 0; x < row; x++ {
			positions = append(positions, math.Vec3{X: float32(x)*step - half, Y: 0, Z: float32(z)*step - half})
		}
	}
	indices := make([]uint32, 0, resolution*resolution*6)
	for z := 0; z < resolution; z++ {
		for x := 0; x < resolution; x++ {
			i := uint32(z*row + x)
			r := uint32(row)
			indices = append(indices, i, i+r, i+1, i+1, i+r, i+r+1)
		}
	}

	// One wavelength spans the grid.
	k := 2 * stdmath.Pi / float64(size)
	return NewDeformingMesh(name, positions, indices, func(rest, out []math.Vec3, t float64) {
		phase := t * float64(speed)
		for i, p := range rest {
			h := stdmath.Sin(k*float64(p.X)+phase) * stdmath.Cos(k*float64(p.Z)+phase)
			out[i] = math.Vec3{X: p.X, Y: p.Y + amplitude*float32(h), Z: p.Z}
		}
	})
}
