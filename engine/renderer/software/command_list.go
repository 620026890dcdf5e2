package software

import (
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

type command func(x *executor)

// CommandList records closures that the queue worker replays in order.
// Arguments are copied at record time.
type CommandList struct {
	device    *Device
	commands  []command
	recording bool
}

func (cl *CommandList) Reset() error {
	if err := cl.device.RemovedReason(); err != nil {
		return err
	}
	cl.commands = nil
	cl.recording = true
	return nil
}

func (cl *CommandList) Close() error {
	core.Assert(cl.recording, "close of a command list that is not recording")
	cl.recording = false
	return cl.device.RemovedReason()
}

func (cl *CommandList) record(c command) {
	core.Assert(cl.recording, "command recorded into a closed command list")
	cl.commands = append(cl.commands, c)
}

func (cl *CommandList) submission() []command {
	core.Assert(!cl.recording, "submitted command list is still recording")
	out := make([]command, len(cl.commands))
	copy(out, cl.commands)
	return out
}

func (cl *CommandList) BuildAccelerationStructure(desc *metadata.BuildDesc, postbuild []metadata.PostbuildInfoDesc) {
	core.Assert(desc != nil, "nil build description")
	d := *desc
	d.Inputs.Geometries = append([]metadata.GeometryDesc(nil), desc.Inputs.Geometries...)
	pb := append([]metadata.PostbuildInfoDesc(nil), postbuild...)
	cl.record(func(x *executor) {
		x.build(&d, pb)
	})
}

func (cl *CommandList) EmitPostbuildInfo(desc metadata.PostbuildInfoDesc, sources []uint64) {
	src := append([]uint64(nil), sources...)
	cl.record(func(x *executor) {
		x.emitPostbuild(desc, src)
	})
}

func (cl *CommandList) CopyAccelerationStructure(dest, source uint64, mode metadata.CopyMode) {
	cl.record(func(x *executor) {
		x.copyStructure(dest, source, mode)
	})
}

func (cl *CommandList) BarrierUAV(buffer renderer.Buffer) {
	b, ok := buffer.(*Buffer)
	core.Assert(ok && b.device == cl.device, "barrier on a buffer from another device")
	cl.record(func(x *executor) {
		x.barrier(b)
	})
}

func (cl *CommandList) DispatchRays(tlas uint64, rays []metadata.RayDesc, out []metadata.RayHit) {
	core.Assert(len(out) >= len(rays), "dispatch of %d rays into %d hit records", len(rays), len(out))
	r := append([]metadata.RayDesc(nil), rays...)
	cl.record(func(x *executor) {
		x.dispatch(tlas, r, out)
	})
}
