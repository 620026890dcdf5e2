package views

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"

	"github.com/lucasb-eyer/go-colorful"
	xdraw "golang.org/x/image/draw"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/components"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

/** @brief Colour of pixels whose ray hit nothing. */
var MissColour = color.RGBA{R: 0, G: 0, B: 0, A: 255}

type instanceTarget struct {
	hits []metadata.RayHit
	// Fence value of the frame that dispatched into hits. Zero when unused.
	fenceValue uint64
}

/**
 * @brief Renders the top-level structure by instance index: one primary
 * ray per pixel, each pixel coloured after the instance it hit. Instance
 * colours are stable, so a compaction or refit that changes the picture
 * is a bug.
 */
type RenderViewInstance struct {
	Width       int
	Height      int
	WorldCamera *components.Camera
	// Rays are clipped at this distance.
	FarClip float32

	rays []metadata.RayDesc
	// Camera state the rays were generated for.
	raysFor cameraState
	// One target per frame in flight, so a dispatch never writes hits
	// the CPU is reading.
	targets []instanceTarget
}

type cameraState struct {
	position, rotation math.Vec3
	fov, farClip       float32
}

func NewRenderViewInstance(width, height int, framesInFlight uint32, c *components.Camera) *RenderViewInstance {
	core.Assert(width > 0 && height > 0, "instance view needs a positive size, got %dx%d", width, height)
	core.Assert(c != nil, "instance view needs a camera")
	v := &RenderViewInstance{
		Width:       width,
		Height:      height,
		WorldCamera: c,
		FarClip:     1000,
		targets:     make([]instanceTarget, framesInFlight),
	}
	for i := range v.targets {
		v.targets[i].hits = make([]metadata.RayHit, width*height)
	}
	return v
}

func (v *RenderViewInstance) buildRays() []metadata.RayDesc {
	state := cameraState{v.WorldCamera.Position, v.WorldCamera.EulerRotation, v.WorldCamera.FOV, v.FarClip}
	if v.rays == nil || state != v.raysFor {
		v.raysFor = state
		v.rays = make([]metadata.RayDesc, 0, v.Width*v.Height)
		for y := 0; y < v.Height; y++ {
			for x := 0; x < v.Width; x++ {
				v.rays = append(v.rays, metadata.RayDesc{
					Ray:  v.WorldCamera.PrimaryRay(x, y, v.Width, v.Height, v.FarClip),
					Mask: 0xFF,
				})
			}
		}
	}
	return v.rays
}

// OnRender records the dispatch for the frame being recorded into slot.
// The picture becomes readable once fenceValue completes.
func (v *RenderViewInstance) OnRender(cl renderer.CommandList, tlas uint64, slot uint32, fenceValue uint64) {
	target := &v.targets[int(slot)%len(v.targets)]
	cl.DispatchRays(tlas, v.buildRays(), target.hits)
	target.fenceValue = fenceValue
}

// Hits returns the newest dispatch results whose fence completed.
func (v *RenderViewInstance) Hits(completed uint64) ([]metadata.RayHit, bool) {
	best := -1
	for i, target := range v.targets {
		if target.fenceValue == 0 || target.fenceValue > completed {
			continue
		}
		if best < 0 || target.fenceValue > v.targets[best].fenceValue {
			best = i
		}
	}
	if best < 0 {
		return nil, false
	}
	return v.targets[best].hits, true
}

// Image converts the newest completed dispatch into a picture.
func (v *RenderViewInstance) Image(completed uint64) (*image.RGBA, error) {
	hits, ok := v.Hits(completed)
	if !ok {
		return nil, fmt.Errorf("no completed instance dispatch at fence %d", completed)
	}
	img := image.NewRGBA(image.Rect(0, 0, v.Width, v.Height))
	for i, hit := range hits {
		img.SetRGBA(i%v.Width, i/v.Width, InstanceColour(hit.InstanceIndex))
	}
	return img, nil
}

// Coverage counts the pixels of each instance index, -1 for misses.
func Coverage(hits []metadata.RayHit) map[int32]int {
	coverage := make(map[int32]int)
	for _, hit := range hits {
		coverage[hit.InstanceIndex]++
	}
	return coverage
}

/**
 * @brief Picks a stable, well separated colour for an instance index by
 * walking the hue circle in golden-ratio steps.
 */
func InstanceColour(index int32) color.RGBA {
	if index < 0 {
		return MissColour
	}
	const golden = 0.618033988749895
	hue := float64(index) * golden
	hue -= float64(int(hue))
	r, g, b := colorful.Hsv(hue*360, 0.65, 0.95).RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

// Upscale enlarges img by an integer factor without blending instance colours.
func Upscale(img image.Image, factor int) *image.RGBA {
	core.Assert(factor >= 1, "upscale factor %d", factor)
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx()*factor, b.Dy()*factor))
	xdraw.NearestNeighbor.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return dst
}

// WritePNG writes the newest completed picture, upscaled by factor, to path.
func (v *RenderViewInstance) WritePNG(path string, completed uint64, factor int) error {
	img, err := v.Image(completed)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, Upscale(img, factor)); err != nil {
		f.Close()
		return err
	}
	core.LogInfo("instance view written to `%s` (%dx%d, x%d)", path, v.Width, v.Height, factor)
	return f.Close()
}
