package raytracing

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/spaghettifunk/prism/engine/renderer"
	"github.com/spaghettifunk/prism/engine/renderer/metadata"
)

// BuildPolicy is the per-mesh configuration of its bottom-level structure.
type BuildPolicy struct {
	// Compact after the first build. Ignored for deforming meshes.
	Compaction bool
	// Vertex positions change every frame.
	Deforming bool
	// Refit in place while the topology is unchanged. Deforming meshes only.
	AllowUpdate bool
}

// StaticPolicy is the policy of rigid meshes: built once, then compacted.
func StaticPolicy() BuildPolicy {
	return BuildPolicy{Compaction: true}
}

// DeformingPolicy is the policy of skinned or simulated meshes: refit every frame.
func DeformingPolicy() BuildPolicy {
	return BuildPolicy{Deforming: true, AllowUpdate: true}
}

// Mesh is the scene side of a bottom-level entry.
type Mesh interface {
	// MeshID identifies the mesh. Objects sharing a mesh share its entry.
	MeshID() string
	// Geometries returns the descriptors to build from for the given frame
	// slot. Deforming meshes keep one vertex buffer per slot.
	Geometries(slot uint32) []metadata.GeometryDesc
	// Generation changes whenever the geometry must be rebuilt from scratch.
	Generation() uint64
	BuildPolicy() BuildPolicy
}

// Object is one instance of a mesh in the scene.
type Object struct {
	Mesh          Mesh
	Transform     math.Mat4
	InstanceID    uint32
	HitGroupIndex uint32
	Mask          uint8
	Flags         metadata.InstanceFlags
}

// CompactionState tracks a bottom-level entry through build and compaction.
type CompactionState int

const (
	COMPACTION_STATE_BUILDING CompactionState = iota
	COMPACTION_STATE_PENDING_COMPACTION
	COMPACTION_STATE_COMPACTING
	COMPACTION_STATE_COMPACTED
	COMPACTION_STATE_STATIC
)

var compactionStateNames = map[CompactionState]string{
	COMPACTION_STATE_BUILDING:           "Building",
	COMPACTION_STATE_PENDING_COMPACTION: "PendingCompaction",
	COMPACTION_STATE_COMPACTING:         "Compacting",
	COMPACTION_STATE_COMPACTED:          "Compacted",
	COMPACTION_STATE_STATIC:             "Static",
}

func (s CompactionState) String() string {
	if name, ok := compactionStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("CompactionState(%d)", int(s))
}

// compactionTransitions is the complete set of legal transitions. Every
// state but Building may fall back to Building when the mesh generation
// changes.
var compactionTransitions = map[CompactionState][]CompactionState{
	COMPACTION_STATE_BUILDING:           {COMPACTION_STATE_PENDING_COMPACTION, COMPACTION_STATE_STATIC},
	COMPACTION_STATE_PENDING_COMPACTION: {COMPACTION_STATE_COMPACTING, COMPACTION_STATE_BUILDING},
	COMPACTION_STATE_COMPACTING:         {COMPACTION_STATE_COMPACTED, COMPACTION_STATE_BUILDING},
	COMPACTION_STATE_COMPACTED:          {COMPACTION_STATE_BUILDING},
	COMPACTION_STATE_STATIC:             {COMPACTION_STATE_BUILDING},
}

func (s CompactionState) CanTransitionTo(next CompactionState) bool {
	for _, allowed := range compactionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// BottomLevelEntry is the bottom-level structure of one mesh.
type BottomLevelEntry struct {
	ID         uuid.UUID
	mesh       Mesh
	flags      metadata.BuildFlags
	geometries []metadata.GeometryDesc
	state      CompactionState
	generation uint64

	result     renderer.Buffer
	resultSize uint64
	// Result buffer size of the last full build.
	buildSize uint64
	// Refit scratch requirement of the current structure.
	updateScratchSize uint64
	// Readback buffer the post-build compacted size lands in.
	postbuild     renderer.Buffer
	compacted     renderer.Buffer
	compactedSize uint64

	// Objects registered through OnObjectAdded.
	refCount int
	// Last frame the entry was part of a top-level build.
	lastSeenFrame uint64
	// Fence value of the last frame that referenced the result address.
	lastUse uint64
	// Fence value of the last build or refit.
	buildFence uint64
	// Fence value of the compacting copy.
	compactFence uint64
	builds       int
	refits       int

	logger *log.Logger
}

func newBottomLevelEntry(mesh Mesh) *BottomLevelEntry {
	id := uuid.New()
	return &BottomLevelEntry{
		ID:     id,
		mesh:   mesh,
		state:  COMPACTION_STATE_BUILDING,
		logger: core.Logger().With("mesh", mesh.MeshID(), "entry", id.String()[:8]),
	}
}

func (e *BottomLevelEntry) State() CompactionState {
	return e.state
}

func (e *BottomLevelEntry) Mesh() Mesh {
	return e.mesh
}

// Address is the GPU address instances reference. Zero before the first build.
func (e *BottomLevelEntry) Address() uint64 {
	if e.result == nil {
		return 0
	}
	return e.result.Address()
}

func (e *BottomLevelEntry) isBuilt() bool {
	return e.result != nil
}

func (e *BottomLevelEntry) transition(next CompactionState) {
	if e.state == next {
		return
	}
	core.Assert(e.state.CanTransitionTo(next), "entry %s: invalid transition %s -> %s", e.ID, e.state, next)
	e.logger.Debug("state change", "from", e.state, "to", next)
	e.state = next
}

// buildFlags derives the build flags of mesh from its policy and the
// manager options.
func buildFlags(policy BuildPolicy, options Options) metadata.BuildFlags {
	if policy.Deforming {
		flags := metadata.BUILD_FLAG_PREFER_FAST_BUILD
		if policy.AllowUpdate {
			flags |= metadata.BUILD_FLAG_ALLOW_UPDATE
		}
		return flags
	}
	flags := metadata.BUILD_FLAG_PREFER_FAST_BUILD
	if options.PreferFastTrace {
		flags = metadata.BUILD_FLAG_PREFER_FAST_TRACE
	}
	if policy.Compaction && options.Compaction {
		flags |= metadata.BUILD_FLAG_ALLOW_COMPACTION
	}
	return flags
}
