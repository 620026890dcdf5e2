package software

import (
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

type tracer struct {
	executor *executor
	tlas     *accelerationStructure
	// Bottom-level lookups are validated once per dispatch.
	resolved map[uint64]*accelerationStructure
}

func (t *tracer) bottomLevel(address uint64) *accelerationStructure {
	if as, ok := t.resolved[address]; ok {
		return as
	}
	as, ok := t.executor.structureAt(address, "trace")
	if !ok || as.kind != metadata.ACCELERATION_STRUCTURE_TYPE_BOTTOM_LEVEL {
		as = nil
	}
	t.resolved[address] = as
	return as
}

// trace returns the closest hit along the ray. Instance rays are moved to
// object space with the unnormalized direction, so distances stay in world
// units.
func (t *tracer) trace(rd metadata.RayDesc) metadata.RayHit {
	hit := metadata.RayMiss()
	ray := rd.Ray

	t.tlas.tree.traverse(ray, ray.TMax, func(ref uint32, tMax float32) (float32, bool) {
		inst := &t.tlas.instances[ref]
		if inst.desc.InstanceMask&rd.Mask == 0 {
			return tMax, false
		}
		blas := t.bottomLevel(inst.desc.AccelerationStructure)
		if blas == nil {
			return tMax, false
		}

		local := math.Ray{
			Origin:    inst.inverse.TransformPoint(ray.Origin),
			Direction: inst.inverse.TransformDirection(ray.Direction),
			TMin:      ray.TMin,
			TMax:      tMax,
		}
		found := false
		closest := blas.tree.traverse(local, tMax, func(index uint32, tMax float32) (float32, bool) {
			tri := &blas.triangles[index]
			d, _, _, ok := local.IntersectTriangle(tri.v[0], tri.v[1], tri.v[2], tMax)
			if !ok {
				return tMax, false
			}
			hit = metadata.RayHit{
				InstanceIndex:  int32(ref),
				InstanceID:     inst.desc.InstanceID,
				GeometryIndex:  tri.geometryIndex,
				PrimitiveIndex: tri.primitiveIndex,
				T:              d,
			}
			found = true
			return d, true
		})
		return closest, found
	})
	return hit
}
