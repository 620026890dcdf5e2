package metadata

import "github.com/spaghettifunk/prism/engine/math"

/** @brief Rounds operand up to granularity, which must be a power of two. */
func GetAligned(operand, granularity uint64) uint64 {
	return math.AlignUp(operand, granularity)
}

/** @brief Aligns a size for acceleration-structure result or scratch memory. */
func AlignAccelerationStructureSize(size uint64) uint64 {
	return GetAligned(size, RAYTRACING_ACCELERATION_STRUCTURE_BYTE_ALIGNMENT)
}

/** @brief Size of the instance descriptor array for count instances. */
func InstanceDescsSize(count uint32) uint64 {
	return GetAligned(uint64(count)*RAYTRACING_INSTANCE_DESC_SIZE, RAYTRACING_INSTANCE_DESCS_BYTE_ALIGNMENT)
}
