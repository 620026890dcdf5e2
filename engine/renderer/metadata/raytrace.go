package metadata

import "github.com/spaghettifunk/prism/engine/math"

/** @brief A ray submitted to a dispatch. */
type RayDesc struct {
	Ray math.Ray
	/** @brief Instance inclusion mask. */
	Mask uint8
}

/** @brief Closest-hit record written by a dispatch. */
type RayHit struct {
	/** @brief Index of the hit instance in the top-level build, -1 on a miss. */
	InstanceIndex  int32
	InstanceID     uint32
	GeometryIndex  uint32
	PrimitiveIndex uint32
	T              float32
}

func (h RayHit) IsMiss() bool {
	return h.InstanceIndex < 0
}

/** @brief Returns the value dispatches use for rays that hit nothing. */
func RayMiss() RayHit {
	return RayHit{InstanceIndex: -1}
}
