package components

import (
	"github.com/spaghettifunk/prism/engine/math"
)

/**
 * @brief A pinhole camera looking down its local -Z axis. Used to shoot
 * primary rays for debug views.
 */
type Camera struct {
	/**
	 * @brief The position of this camera.
	 * NOTE: Do not set this directly, use SetPosition() instead
	 * so the matrices are recalculated when needed.
	 */
	Position math.Vec3
	/**
	 * @brief The rotation of this camera using Euler angles (pitch, yaw, roll).
	 * NOTE: Do not set this directly, use SetEulerRotation() instead.
	 */
	EulerRotation math.Vec3
	/** @brief Vertical field of view, in radians. */
	FOV float32
	/** @brief Internal flag used to determine when the matrices need to be rebuilt. */
	IsDirty bool
	/** @brief Camera to world. */
	WorldMatrix math.Mat4
	/** @brief World to camera, the inverse of WorldMatrix. */
	ViewMatrix math.Mat4
}

/** @brief The default vertical field of view, 60 degrees. */
const DEFAULT_CAMERA_FOV float32 = 1.04719755

func NewCamera() *Camera {
	camera := &Camera{}
	camera.Reset()
	return camera
}

func (c *Camera) Reset() {
	c.EulerRotation = math.NewVec3Zero()
	c.Position = math.NewVec3Zero()
	c.FOV = DEFAULT_CAMERA_FOV
	c.IsDirty = false
	c.WorldMatrix = math.NewMat4Identity()
	c.ViewMatrix = math.NewMat4Identity()
}

func (c *Camera) GetPosition() math.Vec3 {
	return c.Position
}

func (c *Camera) SetPosition(position math.Vec3) {
	c.Position = position
	c.IsDirty = true
}

func (c *Camera) GetEulerRotation() math.Vec3 {
	return c.EulerRotation
}

func (c *Camera) SetEulerRotation(rotation math.Vec3) {
	c.EulerRotation = rotation
	c.IsDirty = true
}

func (c *Camera) update() {
	if !c.IsDirty {
		return
	}
	rotation := math.NewMat4EulerXYZ(c.EulerRotation.X, c.EulerRotation.Y, c.EulerRotation.Z)
	c.WorldMatrix = rotation.Mul(math.NewMat4Translation(c.Position))
	c.ViewMatrix = c.WorldMatrix.Inverse()
	c.IsDirty = false
}

func (c *Camera) GetView() math.Mat4 {
	c.update()
	return c.ViewMatrix
}

func (c *Camera) GetWorld() math.Mat4 {
	c.update()
	return c.WorldMatrix
}

func (c *Camera) Forward() math.Vec3 {
	return math.NewVec3(0, 0, -1).TransformDirection(c.GetWorld()).Normalized()
}

func (c *Camera) Yaw(amount float32) {
	c.EulerRotation.Y += amount
	c.IsDirty = true
}

func (c *Camera) Pitch(amount float32) {
	c.EulerRotation.X += amount

	// Clamp to avoid Gimbal lock.
	limit := float32(1.55334306) // 89 degrees
	c.EulerRotation.X = math.Clamp(c.EulerRotation.X, -limit, limit)

	c.IsDirty = true
}

/**
 * @brief Returns the ray through the center of pixel (x, y) of a
 * width x height image. Pixel (0, 0) is the top-left corner.
 */
func (c *Camera) PrimaryRay(x, y, width, height int, tMax float32) math.Ray {
	aspect := float32(width) / float32(height)
	scale := math.Tan(c.FOV * 0.5)
	px := (2*(float32(x)+0.5)/float32(width) - 1) * aspect * scale
	py := (1 - 2*(float32(y)+0.5)/float32(height)) * scale

	world := c.GetWorld()
	return math.Ray{
		Origin:    c.Position,
		Direction: math.NewVec3(px, py, -1).TransformDirection(world).Normalized(),
		TMax:      tMax,
	}
}
