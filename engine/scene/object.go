package scene

import (
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer/raytracing"
)

// Object places a mesh in the world.
type Object struct {
	Name          string
	Mesh          *Mesh
	Transform     *math.Transform
	InstanceID    uint32
	HitGroupIndex uint32
	// Zero hides the object from every ray.
	Mask uint8
	// Rotation around the Y axis, in radians per second.
	Spin float32
}

func NewObject(name string, mesh *Mesh, transform *math.Transform, instanceID uint32) *Object {
	if transform == nil {
		transform = math.TransformCreate()
	}
	return &Object{
		Name:       name,
		Mesh:       mesh,
		Transform:  transform,
		InstanceID: instanceID,
		Mask:       raytracing.INSTANCE_MASK_ALL,
	}
}

func (o *Object) update(delta float64) {
	if o.Spin == 0 {
		return
	}
	o.Transform.Rotate(math.NewQuatFromAxisAngle(math.NewVec3Up(), o.Spin*float32(delta), false))
}

// Instance returns the object as the acceleration-structure manager sees it.
func (o *Object) Instance() raytracing.Object {
	return raytracing.Object{
		Mesh:          o.Mesh,
		Transform:     o.Transform.GetWorld(),
		InstanceID:    o.InstanceID,
		HitGroupIndex: o.HitGroupIndex,
		Mask:          o.Mask,
	}
}
