package math

// NewExtents3DEmpty returns inverted extents that any Grow call replaces.
func NewExtents3DEmpty() Extents3D {
	return Extents3D{
		Min: Vec3{K_INFINITY, K_INFINITY, K_INFINITY},
		Max: Vec3{-K_INFINITY, -K_INFINITY, -K_INFINITY},
	}
}

func (e Extents3D) IsEmpty() bool {
	return e.Min.X > e.Max.X || e.Min.Y > e.Max.Y || e.Min.Z > e.Max.Z
}

func (e Extents3D) Grow(p Vec3) Extents3D {
	return Extents3D{Min: e.Min.Min(p), Max: e.Max.Max(p)}
}

func (e Extents3D) Union(other Extents3D) Extents3D {
	return Extents3D{Min: e.Min.Min(other.Min), Max: e.Max.Max(other.Max)}
}

func (e Extents3D) Center() Vec3 {
	return e.Min.Add(e.Max).MulScalar(0.5)
}

// SurfaceArea returns the half area of the box, which is all SAH scoring needs.
func (e Extents3D) SurfaceArea() float32 {
	if e.IsEmpty() {
		return 0
	}
	s := e.Max.Sub(e.Min)
	return s.X*s.Y + s.Y*s.Z + s.X*s.Z
}

// Transform returns the box enclosing the 8 transformed corners of e.
func (e Extents3D) Transform(m Mat3x4) Extents3D {
	if e.IsEmpty() {
		return e
	}
	out := NewExtents3DEmpty()
	for i := 0; i < 8; i++ {
		corner := Vec3{e.Min.X, e.Min.Y, e.Min.Z}
		if i&1 != 0 {
			corner.X = e.Max.X
		}
		if i&2 != 0 {
			corner.Y = e.Max.Y
		}
		if i&4 != 0 {
			corner.Z = e.Max.Z
		}
		out = out.Grow(m.TransformPoint(corner))
	}
	return out
}

// IntersectRay runs the slab test and returns the entry distance when the
// ray overlaps the box within [ray.TMin, tMax].
func (e Extents3D) IntersectRay(ray Ray, invDir Vec3, tMax float32) (float32, bool) {
	t0 := ray.TMin
	t1 := tMax
	for axis := 0; axis < 3; axis++ {
		o := ray.Origin.Axis(axis)
		inv := invDir.Axis(axis)
		near := (e.Min.Axis(axis) - o) * inv
		far := (e.Max.Axis(axis) - o) * inv
		if near > far {
			near, far = far, near
		}
		// NaN from 0*inf fails both comparisons and keeps the interval.
		if near > t0 {
			t0 = near
		}
		if far < t1 {
			t1 = far
		}
		if t0 > t1 {
			return 0, false
		}
	}
	return t0, true
}

// InverseDirection precomputes 1/d per axis for slab tests.
func (r Ray) InverseDirection() Vec3 {
	inv := func(v float32) float32 {
		if v == 0 {
			return K_INFINITY
		}
		return 1.0 / v
	}
	return Vec3{inv(r.Direction.X), inv(r.Direction.Y), inv(r.Direction.Z)}
}

func (r Ray) At(t float32) Vec3 {
	return r.Origin.Add(r.Direction.MulScalar(t))
}

// IntersectTriangle is the Moller-Trumbore test. It returns the ray distance
// and barycentrics when the hit lies inside [ray.TMin, tMax].
func (r Ray) IntersectTriangle(v0, v1, v2 Vec3, tMax float32) (t, u, v float32, ok bool) {
	edge1 := v1.Sub(v0)
	edge2 := v2.Sub(v0)
	p := r.Direction.Cross(edge2)
	det := edge1.Dot(p)
	if kabs(det) < K_FLOAT_EPSILON {
		return 0, 0, 0, false
	}
	invDet := 1.0 / det
	s := r.Origin.Sub(v0)
	u = s.Dot(p) * invDet
	if u < 0 || u > 1 {
		return 0, 0, 0, false
	}
	q := s.Cross(edge1)
	v = r.Direction.Dot(q) * invDet
	if v < 0 || u+v > 1 {
		return 0, 0, 0, false
	}
	t = edge2.Dot(q) * invDet
	if t < r.TMin || t > tMax {
		return 0, 0, 0, false
	}
	return t, u, v, true
}
