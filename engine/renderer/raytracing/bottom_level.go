package raytracing

import (
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

// BottomLevelBuilder accumulates the geometries of one mesh and records the
// build of its bottom-level structure.
type BottomLevelBuilder struct {
	geometries []metadata.GeometryDesc
	flags      metadata.BuildFlags

	sized             bool
	scratchSize       uint64
	resultSize        uint64
	updateScratchSize uint64

	// Where the post-build compacted size is emitted. Zero disables it.
	postbuildAddress uint64
}

func NewBottomLevelBuilder(flags metadata.BuildFlags) *BottomLevelBuilder {
	core.Assert(!flags.Has(metadata.BUILD_FLAG_PERFORM_UPDATE), "perform-update is chosen per Generate call, not per builder")
	return &BottomLevelBuilder{flags: flags}
}

// AddGeometry appends one descriptor. Sizes must be computed again afterwards.
func (b *BottomLevelBuilder) AddGeometry(desc metadata.GeometryDesc) {
	b.geometries = append(b.geometries, desc)
	b.sized = false
}

func (b *BottomLevelBuilder) Geometries() []metadata.GeometryDesc {
	return b.geometries
}

func (b *BottomLevelBuilder) Flags() metadata.BuildFlags {
	return b.flags
}

func (b *BottomLevelBuilder) inputs() metadata.BuildInputs {
	return metadata.BuildInputs{
		Type:       metadata.ACCELERATION_STRUCTURE_TYPE_BOTTOM_LEVEL,
		Flags:      b.flags,
		NumDescs:   uint32(len(b.geometries)),
		Geometries: b.geometries,
	}
}

// ComputeBufferSizes asks the driver for upper bounds of the scratch and
// result memory. The update scratch size is recorded too.
func (b *BottomLevelBuilder) ComputeBufferSizes(device renderer.Device) (scratchSize, resultSize uint64) {
	inputs := b.inputs()
	info := device.GetAccelerationStructurePrebuildInfo(&inputs)

	b.scratchSize = metadata.AlignAccelerationStructureSize(info.ScratchDataSize)
	b.resultSize = metadata.AlignAccelerationStructureSize(info.ResultDataMaxSize)
	b.updateScratchSize = metadata.AlignAccelerationStructureSize(info.UpdateScratchDataSize)
	core.Assert(b.resultSize > 0, "driver returned a zero result size")
	b.sized = true
	return b.scratchSize, b.resultSize
}

// UpdateScratchSize is the scratch size a refit needs.
func (b *BottomLevelBuilder) UpdateScratchSize() uint64 {
	core.Assert(b.sized, "UpdateScratchSize called before ComputeBufferSizes")
	return b.updateScratchSize
}

// EmitCompactedSizeTo makes Generate write the post-build compacted size to
// address. The builder must allow compaction.
func (b *BottomLevelBuilder) EmitCompactedSizeTo(address uint64) {
	core.Assert(b.flags.Has(metadata.BUILD_FLAG_ALLOW_COMPACTION), "compacted size requested on a builder without allow-compaction")
	b.postbuildAddress = address
}

/**
 * @brief Records the build and a UAV barrier on result. A non-nil
 * previousResult turns the build into a refit of that structure; passing
 * result itself refits in place.
 */
func (b *BottomLevelBuilder) Generate(cl renderer.CommandList, scratch, result, previousResult renderer.Buffer) {
	core.Assert(b.sized, "Generate called before ComputeBufferSizes")
	core.Assert(cl != nil, "Generate requires a command list")
	core.Assert(scratch != nil && result != nil, "Generate requires scratch and result buffers")

	update := previousResult != nil
	required := b.scratchSize
	if update {
		core.Assert(b.flags.Has(metadata.BUILD_FLAG_ALLOW_UPDATE), "refit requested on a bottom-level structure built without allow-update")
		required = b.updateScratchSize
	}
	core.Assert(scratch.Size() > 0 && scratch.Size() >= required,
		"scratch buffer `%s` holds %d bytes, build needs %d", scratch.Name(), scratch.Size(), required)
	core.Assert(result.Size() >= b.resultSize,
		"result buffer `%s` holds %d bytes, build needs %d", result.Name(), result.Size(), b.resultSize)

	desc := &metadata.BuildDesc{
		Inputs:         b.inputs(),
		DestAddress:    result.Address(),
		ScratchAddress: scratch.Address(),
	}
	if update {
		desc.Inputs.Flags |= metadata.BUILD_FLAG_PERFORM_UPDATE
		desc.SourceAddress = previousResult.Address()
	}

	var postbuild []metadata.PostbuildInfoDesc
	if b.postbuildAddress != 0 {
		postbuild = append(postbuild, metadata.PostbuildInfoDesc{
			DestBuffer: b.postbuildAddress,
			InfoType:   metadata.POSTBUILD_INFO_COMPACTED_SIZE,
		})
	}

	cl.BuildAccelerationStructure(desc, postbuild)
	// Readers (top-level builds, compaction copies, dispatches) must see the finished structure.
	cl.BarrierUAV(result)
}
