package raytracing

import (
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

const INSTANCE_MASK_ALL uint8 = 0xFF

// TopLevelBuilder accumulates instances and records the build of a
// top-level structure. The insertion order is the instance index.
type TopLevelBuilder struct {
	instances []metadata.InstanceDesc
	flags     metadata.BuildFlags

	sized             bool
	scratchSize       uint64
	resultSize        uint64
	updateScratchSize uint64
	instanceDescsSize uint64
}

func NewTopLevelBuilder(flags metadata.BuildFlags) *TopLevelBuilder {
	core.Assert(!flags.Has(metadata.BUILD_FLAG_PERFORM_UPDATE), "perform-update is chosen per Generate call, not per builder")
	return &TopLevelBuilder{flags: flags}
}

// AddInstance appends an instance visible to every ray with no flags.
func (b *TopLevelBuilder) AddInstance(address uint64, transform math.Mat4, instanceID, hitGroupIndex uint32) {
	b.AddInstanceWithMask(address, transform, instanceID, hitGroupIndex, INSTANCE_MASK_ALL, metadata.INSTANCE_FLAG_NONE)
}

func (b *TopLevelBuilder) AddInstanceWithMask(address uint64, transform math.Mat4, instanceID, hitGroupIndex uint32, mask uint8, flags metadata.InstanceFlags) {
	core.Assert(address != 0, "instance %d references a null bottom-level address", len(b.instances))
	core.Assert(instanceID <= metadata.RAYTRACING_MAX_INSTANCE_ID, "instance ID %d does not fit in 24 bits", instanceID)
	core.Assert(hitGroupIndex <= metadata.RAYTRACING_MAX_INSTANCE_ID, "hit group index %d does not fit in 24 bits", hitGroupIndex)

	b.instances = append(b.instances, metadata.InstanceDesc{
		Transform:             transform.To3x4(),
		InstanceID:            instanceID,
		InstanceMask:          mask,
		HitGroupIndex:         hitGroupIndex,
		Flags:                 flags,
		AccelerationStructure: address,
	})
	b.sized = false
}

// Reset drops the instances so the builder can be reused next frame.
func (b *TopLevelBuilder) Reset() {
	b.instances = b.instances[:0]
	b.sized = false
}

func (b *TopLevelBuilder) Instances() []metadata.InstanceDesc {
	return b.instances
}

func (b *TopLevelBuilder) InstanceCount() uint32 {
	return uint32(len(b.instances))
}

func (b *TopLevelBuilder) Flags() metadata.BuildFlags {
	return b.flags
}

func (b *TopLevelBuilder) inputs(instanceDescs uint64) metadata.BuildInputs {
	return metadata.BuildInputs{
		Type:          metadata.ACCELERATION_STRUCTURE_TYPE_TOP_LEVEL,
		Flags:         b.flags,
		NumDescs:      uint32(len(b.instances)),
		InstanceDescs: instanceDescs,
	}
}

// ComputeBufferSizes returns the scratch, result and instance descriptor
// sizes. The descriptor size is count x 64 bytes rounded up to 16.
func (b *TopLevelBuilder) ComputeBufferSizes(device renderer.Device) (scratchSize, resultSize, instanceDescsSize uint64) {
	inputs := b.inputs(0)
	info := device.GetAccelerationStructurePrebuildInfo(&inputs)

	b.scratchSize = metadata.AlignAccelerationStructureSize(info.ScratchDataSize)
	b.resultSize = metadata.AlignAccelerationStructureSize(info.ResultDataMaxSize)
	b.updateScratchSize = metadata.AlignAccelerationStructureSize(info.UpdateScratchDataSize)
	b.instanceDescsSize = metadata.InstanceDescsSize(uint32(len(b.instances)))
	core.Assert(b.resultSize > 0, "driver returned a zero result size")
	b.sized = true
	return b.scratchSize, b.resultSize, b.instanceDescsSize
}

func (b *TopLevelBuilder) UpdateScratchSize() uint64 {
	core.Assert(b.sized, "UpdateScratchSize called before ComputeBufferSizes")
	return b.updateScratchSize
}

/**
 * @brief Uploads the instance array into instanceDescs, then records the
 * build and a UAV barrier on result. With zero instances instanceDescs may
 * be nil and the build carries NumDescs = 0.
 */
func (b *TopLevelBuilder) Generate(cl renderer.CommandList, scratch, result, instanceDescs, previousResult renderer.Buffer) error {
	core.Assert(b.sized, "Generate called before ComputeBufferSizes")
	core.Assert(cl != nil, "Generate requires a command list")
	core.Assert(scratch != nil && result != nil, "Generate requires scratch and result buffers")

	update := previousResult != nil
	required := b.scratchSize
	if update {
		core.Assert(b.flags.Has(metadata.BUILD_FLAG_ALLOW_UPDATE), "refit requested on a top-level structure built without allow-update")
		required = b.updateScratchSize
	}
	core.Assert(scratch.Size() > 0 && scratch.Size() >= required,
		"scratch buffer `%s` holds %d bytes, build needs %d", scratch.Name(), scratch.Size(), required)
	core.Assert(result.Size() >= b.resultSize,
		"result buffer `%s` holds %d bytes, build needs %d", result.Name(), result.Size(), b.resultSize)

	var descsAddress uint64
	if len(b.instances) > 0 {
		core.Assert(instanceDescs != nil, "%d instances need an instance descriptor buffer", len(b.instances))
		core.Assert(instanceDescs.Heap() == metadata.HEAP_TYPE_UPLOAD, "instance descriptor buffer `%s` is not in the upload heap", instanceDescs.Name())
		core.Assert(instanceDescs.Size() >= b.instanceDescsSize,
			"instance buffer `%s` holds %d bytes, %d instances need %d", instanceDescs.Name(), instanceDescs.Size(), len(b.instances), b.instanceDescsSize)
		if err := b.upload(instanceDescs); err != nil {
			return err
		}
		descsAddress = instanceDescs.Address()
	}

	desc := &metadata.BuildDesc{
		Inputs:         b.inputs(descsAddress),
		DestAddress:    result.Address(),
		ScratchAddress: scratch.Address(),
	}
	if update {
		desc.Inputs.Flags |= metadata.BUILD_FLAG_PERFORM_UPDATE
		desc.SourceAddress = previousResult.Address()
	}
	cl.BuildAccelerationStructure(desc, nil)
	cl.BarrierUAV(result)
	return nil
}

func (b *TopLevelBuilder) upload(instanceDescs renderer.Buffer) error {
	mapped, err := instanceDescs.Map()
	if err != nil {
		core.LogError("failed to map instance buffer `%s`: %s", instanceDescs.Name(), err.Error())
		return err
	}
	defer instanceDescs.Unmap()

	for i, inst := range b.instances {
		offset := uint64(i) * metadata.RAYTRACING_INSTANCE_DESC_SIZE
		inst.Encode(mapped[offset : offset+metadata.RAYTRACING_INSTANCE_DESC_SIZE])
	}
	return nil
}
