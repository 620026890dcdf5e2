package software

import (
	"encoding/binary"
	"fmt"
	stdmath "math"

	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

// executor replays commands against device memory. It is only used with
// the device mutex held.
type executor struct {
	device    *Device
	validator *Validator
	// Buffers written by a build or copy with no UAV barrier since.
	dirty map[*Buffer]struct{}
}

func newExecutor(d *Device) *executor {
	return &executor{
		device:    d,
		validator: d.validator,
		dirty:     make(map[*Buffer]struct{}),
	}
}

// resolve finds the live buffer holding [address, address+size).
func (x *executor) resolve(address, size uint64, what string) (*Buffer, uint64, bool) {
	if address == 0 {
		x.validator.report(VALIDATION_INVALID_ADDRESS, "%s: null address", what)
		return nil, 0, false
	}
	b, offset, ok := x.device.memory.lookup(address)
	if !ok {
		if r, freed := x.device.memory.released(address); freed {
			x.validator.report(VALIDATION_USE_AFTER_FREE, "%s: address 0x%x belongs to released buffer `%s`", what, address, r.name)
		} else {
			x.validator.report(VALIDATION_INVALID_ADDRESS, "%s: address 0x%x is not mapped", what, address)
		}
		return nil, 0, false
	}
	if offset+size > b.size {
		x.validator.report(VALIDATION_UNDERSIZED_BUFFER, "%s: needs %d bytes at 0x%x, buffer `%s` has %d left",
			what, size, address, b.name, b.size-offset)
		return nil, 0, false
	}
	return b, offset, true
}

// structureAt returns the structure at address and flags reads that race a
// build.
func (x *executor) structureAt(address uint64, what string) (*accelerationStructure, bool) {
	b, _, ok := x.resolve(address, 1, what)
	if !ok {
		return nil, false
	}
	if _, pending := x.dirty[b]; pending {
		x.validator.report(VALIDATION_MISSING_BARRIER, "%s: `%s` is read before a UAV barrier", what, b.name)
	}
	as, ok := x.device.structures[address]
	if !ok {
		x.validator.report(VALIDATION_INVALID_ADDRESS, "%s: no acceleration structure at 0x%x", what, address)
		return nil, false
	}
	return as, true
}

func (x *executor) checkAligned(address, alignment uint64, what string) bool {
	if address%alignment != 0 {
		x.validator.report(VALIDATION_MISALIGNED, "%s: address 0x%x is not %d-byte aligned", what, address, alignment)
		return false
	}
	return true
}

func (x *executor) build(desc *metadata.BuildDesc, postbuild []metadata.PostbuildInfoDesc) {
	inputs := &desc.Inputs
	info := prebuildInfo(inputs)
	update := inputs.Flags.Has(metadata.BUILD_FLAG_PERFORM_UPDATE)

	if !x.checkAligned(desc.DestAddress, metadata.RAYTRACING_ACCELERATION_STRUCTURE_BYTE_ALIGNMENT, "build destination") ||
		!x.checkAligned(desc.ScratchAddress, metadata.RAYTRACING_ACCELERATION_STRUCTURE_BYTE_ALIGNMENT, "build scratch") {
		return
	}
	dest, _, ok := x.resolve(desc.DestAddress, info.ResultDataMaxSize, "build destination")
	if !ok {
		return
	}
	if dest.state != metadata.RESOURCE_STATE_RAYTRACING_ACCELERATION_STRUCTURE {
		x.validator.report(VALIDATION_INVALID_STATE, "build destination `%s` is not in the acceleration structure state", dest.name)
		return
	}
	scratchSize := info.ScratchDataSize
	if update {
		scratchSize = info.UpdateScratchDataSize
	}
	scratch, _, ok := x.resolve(desc.ScratchAddress, scratchSize, "build scratch")
	if !ok {
		return
	}
	if scratch.flags&metadata.RESOURCE_FLAG_ALLOW_UNORDERED_ACCESS == 0 {
		x.validator.report(VALIDATION_INVALID_STATE, "build scratch `%s` does not allow unordered access", scratch.name)
		return
	}

	var source *accelerationStructure
	if update {
		if !inputs.Flags.Has(metadata.BUILD_FLAG_ALLOW_UPDATE) {
			x.validator.report(VALIDATION_INVALID_UPDATE, "update of 0x%x without ALLOW_UPDATE in the inputs", desc.SourceAddress)
			return
		}
		source, ok = x.structureAt(desc.SourceAddress, "update source")
		if !ok {
			return
		}
		if !source.flags.Has(metadata.BUILD_FLAG_ALLOW_UPDATE) {
			x.validator.report(VALIDATION_INVALID_UPDATE, "update source 0x%x was not built with ALLOW_UPDATE", desc.SourceAddress)
			return
		}
		if source.kind != inputs.Type || uint64(source.primitiveCount()) != primitiveCount(inputs) {
			x.validator.report(VALIDATION_INVALID_UPDATE, "update source 0x%x has %d primitives, inputs have %d",
				desc.SourceAddress, source.primitiveCount(), primitiveCount(inputs))
			return
		}
	}

	flags := inputs.Flags &^ metadata.BUILD_FLAG_PERFORM_UPDATE
	var as *accelerationStructure
	switch inputs.Type {
	case metadata.ACCELERATION_STRUCTURE_TYPE_BOTTOM_LEVEL:
		triangles, ok := x.readTriangles(inputs.Geometries)
		if !ok {
			return
		}
		if source != nil {
			as = refitBottomLevel(source, flags, desc.DestAddress, info.ResultDataMaxSize, triangles)
		} else {
			as = newBottomLevel(flags, desc.DestAddress, info.ResultDataMaxSize, triangles)
		}
	case metadata.ACCELERATION_STRUCTURE_TYPE_TOP_LEVEL:
		instances, ok := x.readInstances(inputs.InstanceDescs, inputs.NumDescs)
		if !ok {
			return
		}
		if source != nil {
			as = refitTopLevel(source, flags, desc.DestAddress, info.ResultDataMaxSize, instances)
		} else {
			as = newTopLevel(flags, desc.DestAddress, info.ResultDataMaxSize, instances)
		}
	}

	x.device.structures[desc.DestAddress] = as
	x.dirty[dest] = struct{}{}

	for _, pb := range postbuild {
		x.writePostbuild(pb, as, 0)
	}
}

func (x *executor) writePostbuild(desc metadata.PostbuildInfoDesc, as *accelerationStructure, index int) {
	address := desc.DestBuffer + uint64(index)*metadata.RAYTRACING_POSTBUILD_INFO_SIZE
	if !x.checkAligned(address, metadata.RAYTRACING_POSTBUILD_INFO_SIZE, "postbuild info") {
		return
	}
	b, offset, ok := x.resolve(address, metadata.RAYTRACING_POSTBUILD_INFO_SIZE, "postbuild info")
	if !ok {
		return
	}

	var value uint64
	switch desc.InfoType {
	case metadata.POSTBUILD_INFO_COMPACTED_SIZE:
		if !as.flags.Has(metadata.BUILD_FLAG_ALLOW_COMPACTION) {
			x.validator.report(VALIDATION_INVALID_STATE, "compacted size of 0x%x requested without ALLOW_COMPACTION", as.address)
			return
		}
		value = as.compactedSize()
	case metadata.POSTBUILD_INFO_CURRENT_SIZE:
		value = as.currentSize()
	}
	binary.LittleEndian.PutUint64(b.data[offset:], value)
}

func (x *executor) emitPostbuild(desc metadata.PostbuildInfoDesc, sources []uint64) {
	for i, address := range sources {
		as, ok := x.structureAt(address, "postbuild source")
		if !ok {
			continue
		}
		x.writePostbuild(desc, as, i)
	}
}

func (x *executor) copyStructure(dest, source uint64, mode metadata.CopyMode) {
	src, ok := x.structureAt(source, "copy source")
	if !ok {
		return
	}
	size := src.size
	compacted := src.compacted
	if mode == metadata.COPY_MODE_COMPACT {
		if !src.flags.Has(metadata.BUILD_FLAG_ALLOW_COMPACTION) {
			x.validator.report(VALIDATION_INVALID_STATE, "compacting copy of 0x%x built without ALLOW_COMPACTION", source)
			return
		}
		size = src.compactedSize()
		compacted = true
	}
	if !x.checkAligned(dest, metadata.RAYTRACING_ACCELERATION_STRUCTURE_BYTE_ALIGNMENT, "copy destination") {
		return
	}
	b, _, ok := x.resolve(dest, size, "copy destination")
	if !ok {
		return
	}
	if b.state != metadata.RESOURCE_STATE_RAYTRACING_ACCELERATION_STRUCTURE {
		x.validator.report(VALIDATION_INVALID_STATE, "copy destination `%s` is not in the acceleration structure state", b.name)
		return
	}
	x.device.structures[dest] = src.clone(dest, size, compacted)
	x.dirty[b] = struct{}{}
}

func (x *executor) barrier(b *Buffer) {
	if b.released {
		x.validator.report(VALIDATION_USE_AFTER_FREE, "barrier on released buffer `%s`", b.name)
		return
	}
	delete(x.dirty, b)
}

func (x *executor) readTriangles(geometries []metadata.GeometryDesc) ([]triangle, bool) {
	var triangles []triangle
	for gi, g := range geometries {
		what := fmt.Sprintf("geometry %d", gi)
		if g.Type != metadata.GEOMETRY_TYPE_TRIANGLES {
			x.validator.report(VALIDATION_INVALID_STATE, "%s: unsupported geometry type %d", what, g.Type)
			return nil, false
		}
		count := g.TriangleCount()
		if count == 0 {
			continue
		}

		ib, ioffset, ok := x.resolve(g.IndexBuffer, uint64(g.IndexCount)*g.IndexFormat.Size(), what+" index buffer")
		if !ok {
			return nil, false
		}
		vertexBytes := uint64(0)
		if g.VertexCount > 0 {
			vertexBytes = uint64(g.VertexCount-1)*g.VertexStride + g.VertexFormat.Size()
		}
		vb, voffset, ok := x.resolve(g.VertexBuffer, vertexBytes, what+" vertex buffer")
		if !ok {
			return nil, false
		}
		transform := math.NewMat3x4Identity()
		if g.Transform3x4 != 0 {
			tb, toffset, ok := x.resolve(g.Transform3x4, 48, what+" transform")
			if !ok {
				return nil, false
			}
			transform = readMat3x4(tb.data[toffset:])
		}

		indices := ib.data[ioffset:]
		for p := uint32(0); p < count; p++ {
			t := triangle{geometryIndex: uint32(gi), primitiveIndex: p}
			for k := uint32(0); k < 3; k++ {
				index := readIndex(indices, g.IndexFormat, 3*p+k)
				if index >= g.VertexCount {
					x.validator.report(VALIDATION_INVALID_ADDRESS, "%s: index %d of primitive %d exceeds %d vertices", what, index, p, g.VertexCount)
					return nil, false
				}
				t.v[k] = transform.TransformPoint(readVec3(vb.data[voffset+uint64(index)*g.VertexStride:]))
			}
			triangles = append(triangles, t)
		}
	}
	return triangles, true
}

func (x *executor) readInstances(address uint64, count uint32) ([]instance, bool) {
	if count == 0 {
		return nil, true
	}
	if !x.checkAligned(address, metadata.RAYTRACING_INSTANCE_DESCS_BYTE_ALIGNMENT, "instance descs") {
		return nil, false
	}
	b, offset, ok := x.resolve(address, metadata.InstanceDescsSize(count), "instance descs")
	if !ok {
		return nil, false
	}

	instances := make([]instance, count)
	for i := range instances {
		desc := metadata.DecodeInstanceDesc(b.data[offset+uint64(i)*metadata.RAYTRACING_INSTANCE_DESC_SIZE:])
		inst := instance{
			desc:    desc,
			inverse: desc.Transform.Inverse(),
			bounds:  math.NewExtents3DEmpty(),
		}
		blas, ok := x.structureAt(desc.AccelerationStructure, fmt.Sprintf("instance %d", i))
		if ok {
			if blas.kind != metadata.ACCELERATION_STRUCTURE_TYPE_BOTTOM_LEVEL {
				x.validator.report(VALIDATION_INVALID_STATE, "instance %d references a top-level structure", i)
			} else if bounds := blas.bounds(); !bounds.IsEmpty() {
				inst.bounds = bounds.Transform(desc.Transform)
			}
		}
		instances[i] = inst
	}
	return instances, true
}

// dispatch writes one closest hit per ray. It returns false when tlas does
// not name a top-level structure.
func (x *executor) dispatch(tlas uint64, rays []metadata.RayDesc, out []metadata.RayHit) bool {
	for i := range rays {
		out[i] = metadata.RayMiss()
	}
	top, ok := x.structureAt(tlas, "dispatch")
	if !ok {
		return false
	}
	if top.kind != metadata.ACCELERATION_STRUCTURE_TYPE_TOP_LEVEL {
		x.validator.report(VALIDATION_INVALID_STATE, "dispatch: 0x%x is a bottom-level structure", tlas)
		return false
	}

	t := &tracer{executor: x, tlas: top, resolved: make(map[uint64]*accelerationStructure)}
	for i := range rays {
		out[i] = t.trace(rays[i])
	}
	return true
}

func readIndex(data []byte, format metadata.IndexFormat, i uint32) uint32 {
	if format == metadata.INDEX_FORMAT_UINT16 {
		return uint32(binary.LittleEndian.Uint16(data[2*i:]))
	}
	return binary.LittleEndian.Uint32(data[4*i:])
}

func readFloat(data []byte) float32 {
	return stdmath.Float32frombits(binary.LittleEndian.Uint32(data))
}

func readVec3(data []byte) math.Vec3 {
	return math.NewVec3(readFloat(data), readFloat(data[4:]), readFloat(data[8:]))
}

func readMat3x4(data []byte) math.Mat3x4 {
	m := math.Mat3x4{}
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			m.Rows[r][c] = readFloat(data[(r*4+c)*4:])
		}
	}
	return m
}
