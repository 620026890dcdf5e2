package software

import (
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

// Byte sizes of the serialized structure layout. The maxima describe what a
// build may need before the hierarchy is known; compaction shrinks a
// structure to the records it actually uses.
const (
	structureHeaderSize      uint64 = 128
	triangleRecordSize       uint64 = 48
	maxTriangleRecordSize    uint64 = 64
	instanceRecordSize       uint64 = 112
	maxInstanceRecordSize    uint64 = 128
	nodeRecordSize           uint64 = 32
	maxNodeRecordSize        uint64 = 64
	buildScratchPerPrimitive uint64 = 48
	updateScratchPerNode     uint64 = 16
	minimumScratchSize       uint64 = 256
)

type triangle struct {
	v              [3]math.Vec3
	geometryIndex  uint32
	primitiveIndex uint32
}

func (t *triangle) bounds() math.Extents3D {
	return math.NewExtents3DEmpty().Grow(t.v[0]).Grow(t.v[1]).Grow(t.v[2])
}

type instance struct {
	desc    metadata.InstanceDesc
	inverse math.Mat3x4
	bounds  math.Extents3D
}

// accelerationStructure is what a build leaves at its destination address.
type accelerationStructure struct {
	kind      metadata.AccelerationStructureType
	flags     metadata.BuildFlags
	address   uint64
	size      uint64
	compacted bool

	triangles []triangle
	instances []instance
	tree      *bvh
}

func (as *accelerationStructure) primitiveCount() int {
	if as.kind == metadata.ACCELERATION_STRUCTURE_TYPE_BOTTOM_LEVEL {
		return len(as.triangles)
	}
	return len(as.instances)
}

// compactedSize is the footprint after a compacting copy.
func (as *accelerationStructure) compactedSize() uint64 {
	record := triangleRecordSize
	if as.kind == metadata.ACCELERATION_STRUCTURE_TYPE_TOP_LEVEL {
		record = instanceRecordSize
	}
	size := structureHeaderSize + uint64(as.primitiveCount())*record + uint64(len(as.tree.nodes))*nodeRecordSize
	return metadata.AlignAccelerationStructureSize(size)
}

// currentSize is the footprint of the structure where it lives now.
func (as *accelerationStructure) currentSize() uint64 {
	return as.size
}

// clone copies the structure to a new address. The triangle, instance and
// node slices are shared since refits always allocate new ones.
func (as *accelerationStructure) clone(address, size uint64, compacted bool) *accelerationStructure {
	out := *as
	out.address = address
	out.size = size
	out.compacted = compacted
	return &out
}

func (as *accelerationStructure) bounds() math.Extents3D {
	return as.tree.root()
}

func primitiveCount(inputs *metadata.BuildInputs) uint64 {
	if inputs.Type == metadata.ACCELERATION_STRUCTURE_TYPE_TOP_LEVEL {
		return uint64(inputs.NumDescs)
	}
	count := uint64(0)
	for _, g := range inputs.Geometries {
		count += uint64(g.TriangleCount())
	}
	return count
}

// prebuildInfo is the size oracle. A binary hierarchy over n primitives
// never has more than 2n nodes.
func prebuildInfo(inputs *metadata.BuildInputs) metadata.PrebuildInfo {
	n := primitiveCount(inputs)
	record := maxTriangleRecordSize
	if inputs.Type == metadata.ACCELERATION_STRUCTURE_TYPE_TOP_LEVEL {
		record = maxInstanceRecordSize
	}

	info := metadata.PrebuildInfo{
		ResultDataMaxSize: metadata.AlignAccelerationStructureSize(structureHeaderSize + n*record + 2*n*maxNodeRecordSize),
		ScratchDataSize:   metadata.AlignAccelerationStructureSize(max(minimumScratchSize, n*buildScratchPerPrimitive)),
	}
	if inputs.Flags.Has(metadata.BUILD_FLAG_ALLOW_UPDATE) {
		info.UpdateScratchDataSize = metadata.AlignAccelerationStructureSize(max(minimumScratchSize, 2*n*updateScratchPerNode))
	}
	return info
}

func newBottomLevel(flags metadata.BuildFlags, address, size uint64, triangles []triangle) *accelerationStructure {
	bounds := make([]math.Extents3D, len(triangles))
	for i := range triangles {
		bounds[i] = triangles[i].bounds()
	}
	return &accelerationStructure{
		kind:      metadata.ACCELERATION_STRUCTURE_TYPE_BOTTOM_LEVEL,
		flags:     flags,
		address:   address,
		size:      size,
		triangles: triangles,
		tree:      buildBVH(bounds),
	}
}

func newTopLevel(flags metadata.BuildFlags, address, size uint64, instances []instance) *accelerationStructure {
	bounds := make([]math.Extents3D, len(instances))
	for i := range instances {
		bounds[i] = instances[i].bounds
	}
	return &accelerationStructure{
		kind:      metadata.ACCELERATION_STRUCTURE_TYPE_TOP_LEVEL,
		flags:     flags,
		address:   address,
		size:      size,
		instances: instances,
		tree:      buildBVH(bounds),
	}
}

// refitBottomLevel keeps the source hierarchy and moves the primitives.
func refitBottomLevel(source *accelerationStructure, flags metadata.BuildFlags, address, size uint64, triangles []triangle) *accelerationStructure {
	bounds := make([]math.Extents3D, len(triangles))
	for i := range triangles {
		bounds[i] = triangles[i].bounds()
	}
	return &accelerationStructure{
		kind:      metadata.ACCELERATION_STRUCTURE_TYPE_BOTTOM_LEVEL,
		flags:     flags,
		address:   address,
		size:      size,
		triangles: triangles,
		tree:      source.tree.refit(bounds),
	}
}

func refitTopLevel(source *accelerationStructure, flags metadata.BuildFlags, address, size uint64, instances []instance) *accelerationStructure {
	bounds := make([]math.Extents3D, len(instances))
	for i := range instances {
		bounds[i] = instances[i].bounds
	}
	return &accelerationStructure{
		kind:      metadata.ACCELERATION_STRUCTURE_TYPE_TOP_LEVEL,
		flags:     flags,
		address:   address,
		size:      size,
		instances: instances,
		tree:      source.tree.refit(bounds),
	}
}
