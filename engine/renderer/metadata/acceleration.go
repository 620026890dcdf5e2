package metadata

import (
	"encoding/binary"
	stdmath "math"

	"github.com/spaghettifunk/prism/engine/math"
)

const (
	/** @brief Required alignment of acceleration-structure result and scratch memory. */
	RAYTRACING_ACCELERATION_STRUCTURE_BYTE_ALIGNMENT uint64 = 256
	/** @brief Required alignment of the instance descriptor array. */
	RAYTRACING_INSTANCE_DESCS_BYTE_ALIGNMENT uint64 = 16
	/** @brief Size in bytes of one encoded instance descriptor. */
	RAYTRACING_INSTANCE_DESC_SIZE uint64 = 64
	/** @brief Size in bytes of one post-build info record. */
	RAYTRACING_POSTBUILD_INFO_SIZE uint64 = 8
	/** @brief Instance IDs and hit group indices are 24 bits wide. */
	RAYTRACING_MAX_INSTANCE_ID uint32 = 1<<24 - 1
)

type AccelerationStructureType uint32

const (
	ACCELERATION_STRUCTURE_TYPE_TOP_LEVEL AccelerationStructureType = iota
	ACCELERATION_STRUCTURE_TYPE_BOTTOM_LEVEL
)

func (t AccelerationStructureType) String() string {
	if t == ACCELERATION_STRUCTURE_TYPE_TOP_LEVEL {
		return "top-level"
	}
	return "bottom-level"
}

type BuildFlags uint32

const (
	BUILD_FLAG_NONE              BuildFlags = 0x00
	BUILD_FLAG_ALLOW_UPDATE      BuildFlags = 0x01
	BUILD_FLAG_ALLOW_COMPACTION  BuildFlags = 0x02
	BUILD_FLAG_PREFER_FAST_TRACE BuildFlags = 0x04
	BUILD_FLAG_PREFER_FAST_BUILD BuildFlags = 0x08
	BUILD_FLAG_MINIMIZE_MEMORY   BuildFlags = 0x10
	/** @brief Refit the source structure instead of building from scratch. */
	BUILD_FLAG_PERFORM_UPDATE BuildFlags = 0x20
)

func (f BuildFlags) Has(flag BuildFlags) bool {
	return f&flag == flag
}

/**
 * @brief The inputs of a build. Bottom-level builds consume Geometries,
 * top-level builds consume NumDescs records at InstanceDescs.
 */
type BuildInputs struct {
	Type     AccelerationStructureType
	Flags    BuildFlags
	NumDescs uint32
	/** @brief Geometry list of a bottom-level build. */
	Geometries []GeometryDesc
	/** @brief Address of the instance descriptor array of a top-level build. Zero when NumDescs is zero. */
	InstanceDescs uint64
}

/** @brief Sizes returned by the driver for a set of build inputs. All values are upper bounds. */
type PrebuildInfo struct {
	ResultDataMaxSize     uint64
	ScratchDataSize       uint64
	UpdateScratchDataSize uint64
}

type BuildDesc struct {
	Inputs BuildInputs
	/** @brief Where the structure is written. */
	DestAddress uint64
	/** @brief The structure to refit. Only read when Inputs.Flags carries BUILD_FLAG_PERFORM_UPDATE. */
	SourceAddress  uint64
	ScratchAddress uint64
}

type PostbuildInfoType uint32

const (
	/** @brief Emits the size the structure needs after a compacting copy. */
	POSTBUILD_INFO_COMPACTED_SIZE PostbuildInfoType = iota
	POSTBUILD_INFO_CURRENT_SIZE
)

type PostbuildInfoDesc struct {
	/** @brief Address of the RAYTRACING_POSTBUILD_INFO_SIZE bytes the value lands in. */
	DestBuffer uint64
	InfoType   PostbuildInfoType
}

type CopyMode uint32

const (
	COPY_MODE_CLONE CopyMode = iota
	COPY_MODE_COMPACT
)

type InstanceFlags uint8

const (
	INSTANCE_FLAG_NONE                            InstanceFlags = 0x0
	INSTANCE_FLAG_TRIANGLE_CULL_DISABLE           InstanceFlags = 0x1
	INSTANCE_FLAG_TRIANGLE_FRONT_COUNTERCLOCKWISE InstanceFlags = 0x2
	INSTANCE_FLAG_FORCE_OPAQUE                    InstanceFlags = 0x4
	INSTANCE_FLAG_FORCE_NON_OPAQUE                InstanceFlags = 0x8
)

/**
 * @brief One entry of the instance array consumed by a top-level build.
 * Encoded little-endian into RAYTRACING_INSTANCE_DESC_SIZE bytes:
 * float32[3][4] transform, uint32 (id | mask<<24), uint32 (hit group | flags<<24),
 * uint64 bottom-level address.
 */
type InstanceDesc struct {
	Transform math.Mat3x4
	/** @brief 24-bit user ID reported by hits. */
	InstanceID uint32
	/** @brief Rays skip the instance when (ray mask & InstanceMask) == 0. */
	InstanceMask uint8
	/** @brief 24-bit hit group / shader table offset. */
	HitGroupIndex         uint32
	Flags                 InstanceFlags
	AccelerationStructure uint64
}

/**
 * @brief Writes the record into dst, which must hold at least
 * RAYTRACING_INSTANCE_DESC_SIZE bytes.
 */
func (d InstanceDesc) Encode(dst []byte) {
	_ = dst[RAYTRACING_INSTANCE_DESC_SIZE-1]
	offset := 0
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			binary.LittleEndian.PutUint32(dst[offset:], stdmath.Float32bits(d.Transform.Rows[r][c]))
			offset += 4
		}
	}
	binary.LittleEndian.PutUint32(dst[48:], d.InstanceID&RAYTRACING_MAX_INSTANCE_ID|uint32(d.InstanceMask)<<24)
	binary.LittleEndian.PutUint32(dst[52:], d.HitGroupIndex&RAYTRACING_MAX_INSTANCE_ID|uint32(d.Flags)<<24)
	binary.LittleEndian.PutUint64(dst[56:], d.AccelerationStructure)
}

/** @brief Reads one record written by Encode. */
func DecodeInstanceDesc(src []byte) InstanceDesc {
	_ = src[RAYTRACING_INSTANCE_DESC_SIZE-1]
	d := InstanceDesc{}
	offset := 0
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			d.Transform.Rows[r][c] = stdmath.Float32frombits(binary.LittleEndian.Uint32(src[offset:]))
			offset += 4
		}
	}
	idMask := binary.LittleEndian.Uint32(src[48:])
	d.InstanceID = idMask & RAYTRACING_MAX_INSTANCE_ID
	d.InstanceMask = uint8(idMask >> 24)
	hitFlags := binary.LittleEndian.Uint32(src[52:])
	d.HitGroupIndex = hitFlags & RAYTRACING_MAX_INSTANCE_ID
	d.Flags = InstanceFlags(hitFlags >> 24)
	d.AccelerationStructure = binary.LittleEndian.Uint64(src[56:])
	return d
}
