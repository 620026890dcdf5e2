package views

import (
	"context"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/components"
	"github.com/spaghettifunk/prism/engine/renderer/raytracing"
	"github.com/spaghettifunk/prism/engine/renderer/software"
	"github.com/spaghettifunk/prism/engine/scene"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func topDownCamera() *components.Camera {
	camera := components.NewCamera()
	camera.SetPosition(math.NewVec3(0, 10, 0))
	camera.SetEulerRotation(math.NewVec3(-math.K_PI/2, 0, 0))
	return camera
}

func TestInstanceView(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	device, err := software.NewDevice(software.DefaultDeviceConfig())
	require.NoError(t, err)
	defer device.Destroy()
	gpu, err := renderer.NewGPUContext(device, 2)
	require.NoError(t, err)
	bus := core.NewEventBus()
	manager := raytracing.NewManager(gpu, raytracing.DefaultOptions())
	manager.RegisterEvents(bus)

	sc := scene.New(bus)
	require.NoError(t, sc.Bind(gpu))
	require.NoError(t, sc.Apply(&scene.Description{
		Meshes: []scene.MeshDesc{
			{Name: "ground", Kind: scene.MESH_KIND_PLANE, Size: [3]float32{40, 0, 40}},
			{Name: "crate", Kind: scene.MESH_KIND_BOX, Size: [3]float32{2, 2, 2}},
		},
		Objects: []scene.ObjectDesc{
			{Name: "ground", Mesh: "ground"},
			{Name: "crate", Mesh: "crate", Position: [3]float32{0.5, 1, -0.3}},
		},
	}))

	view := NewRenderViewInstance(16, 12, gpu.FramesInFlight(), topDownCamera())
	_, ok := view.Hits(gpu.CompletedFenceValue())
	assert.False(t, ok, "nothing dispatched yet")

	cl, err := gpu.BeginFrame(ctx)
	require.NoError(t, err)
	require.NoError(t, sc.Update(0))
	handle, err := manager.BuildOrUpdate(ctx, sc.Instances())
	require.NoError(t, err)
	view.OnRender(cl, handle.Address, gpu.FrameSlot(), gpu.CurrentFenceValue())
	_, err = gpu.EndFrame()
	require.NoError(t, err)
	require.NoError(t, gpu.WaitIdle(ctx))
	assert.Empty(t, device.Validator().Messages())

	hits, ok := view.Hits(gpu.CompletedFenceValue())
	require.True(t, ok)
	coverage := Coverage(hits)
	assert.Zero(t, coverage[-1], "the ground fills the frame")
	assert.Positive(t, coverage[1])
	assert.Equal(t, 16*12, coverage[0]+coverage[1])

	img, err := view.Image(gpu.CompletedFenceValue())
	require.NoError(t, err)
	assert.Equal(t, InstanceColour(1), img.RGBAAt(8, 6))
	assert.Equal(t, InstanceColour(0), img.RGBAAt(0, 0))

	big := Upscale(img, 4)
	assert.Equal(t, 64, big.Bounds().Dx())
	assert.Equal(t, 48, big.Bounds().Dy())
	assert.Equal(t, img.RGBAAt(8, 6), big.RGBAAt(8*4+3, 6*4+1))

	path := filepath.Join(t.TempDir(), "instances.png")
	require.NoError(t, view.WritePNG(path, gpu.CompletedFenceValue(), 2))
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	decoded, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 32, decoded.Bounds().Dx())

	require.NoError(t, manager.Shutdown(ctx))
	sc.Shutdown()
}

func TestInstanceColour(t *testing.T) {
	assert.Equal(t, MissColour, InstanceColour(-1))
	seen := make(map[[3]uint8]bool)
	for i := int32(0); i < 16; i++ {
		c := InstanceColour(i)
		assert.Equal(t, uint8(255), c.A)
		assert.Equal(t, c, InstanceColour(i), "colours are stable")
		seen[[3]uint8{c.R, c.G, c.B}] = true
	}
	assert.Len(t, seen, 16)
}

func TestPrimaryRays(t *testing.T) {
	camera := topDownCamera()
	ray := camera.PrimaryRay(1, 1, 3, 3, 100)
	assert.True(t, ray.Direction.Compare(math.NewVec3(0, -1, 0), 1e-5), "%v", ray.Direction)
	assert.Equal(t, float32(100), ray.TMax)

	left := camera.PrimaryRay(0, 1, 3, 3, 100)
	assert.Less(t, left.Direction.X, float32(0))
	top := camera.PrimaryRay(1, 0, 3, 3, 100)
	assert.Less(t, top.Direction.Z, float32(0), "up in the image is -Z for a camera looking down")
}
