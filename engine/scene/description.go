package scene

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/math"
)

var ErrInvalidScene = errors.New("invalid scene")

const (
	MESH_KIND_BOX       = "box"
	MESH_KIND_PLANE     = "plane"
	MESH_KIND_ICOSPHERE = "icosphere"
	MESH_KIND_WAVE      = "wave"
)

type MeshDesc struct {
	Name string `toml:"name"`
	Kind string `toml:"kind"`
	// Box extents, plane width/-/depth, sphere radius in X, wave grid size in X.
	Size [3]float32 `toml:"size"`
	// Icosphere subdivisions or wave grid resolution.
	Subdivisions int `toml:"subdivisions"`
	// Nil compacts rigid meshes.
	Compaction *bool   `toml:"compaction,omitempty"`
	Amplitude  float32 `toml:"amplitude,omitempty"`
	Speed      float32 `toml:"speed,omitempty"`
}

type ObjectDesc struct {
	Name     string     `toml:"name"`
	Mesh     string     `toml:"mesh"`
	Position [3]float32 `toml:"position"`
	// Euler angles in degrees.
	Rotation [3]float32 `toml:"rotation"`
	// Zero components mean 1.
	Scale      [3]float32 `toml:"scale"`
	InstanceID uint32     `toml:"instance_id"`
	HitGroup   uint32     `toml:"hit_group"`
	// Nil means visible to every ray.
	Mask *uint32 `toml:"mask,omitempty"`
	// Degrees per second around Y.
	Spin float32 `toml:"spin,omitempty"`
}

// Description is the on-disk form of a scene.
type Description struct {
	Meshes  []MeshDesc   `toml:"mesh"`
	Objects []ObjectDesc `toml:"object"`
}

// meshKey is the comparable form of a MeshDesc with defaults applied.
type meshKey struct {
	kind         string
	size         [3]float32
	subdivisions int
	compaction   bool
	amplitude    float32
	speed        float32
}

func (d MeshDesc) key() meshKey {
	compaction := true
	if d.Compaction != nil {
		compaction = *d.Compaction
	}
	return meshKey{d.Kind, d.Size, d.Subdivisions, compaction, d.Amplitude, d.Speed}
}

func (d MeshDesc) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: mesh without a name", ErrInvalidScene)
	}
	switch d.Kind {
	case MESH_KIND_BOX:
		if d.Size[0] <= 0 || d.Size[1] <= 0 || d.Size[2] <= 0 {
			return fmt.Errorf("%w: box `%s` needs a positive size", ErrInvalidScene, d.Name)
		}
	case MESH_KIND_PLANE:
		if d.Size[0] <= 0 || d.Size[2] <= 0 {
			return fmt.Errorf("%w: plane `%s` needs a positive width and depth", ErrInvalidScene, d.Name)
		}
	case MESH_KIND_ICOSPHERE:
		if d.Size[0] <= 0 || d.Subdivisions < 0 || d.Subdivisions > 6 {
			return fmt.Errorf("%w: icosphere `%s` needs a positive radius and 0..6 subdivisions", ErrInvalidScene, d.Name)
		}
	case MESH_KIND_WAVE:
		if d.Size[0] <= 0 || d.Subdivisions < 1 {
			return fmt.Errorf("%w: wave `%s` needs a positive size and resolution", ErrInvalidScene, d.Name)
		}
	default:
		return fmt.Errorf("%w: mesh `%s` has unknown kind `%s`", ErrInvalidScene, d.Name, d.Kind)
	}
	return nil
}

// Build creates the mesh the description names.
func (d MeshDesc) Build() *Mesh {
	k := d.key()
	switch d.Kind {
	case MESH_KIND_BOX:
		return NewBox(d.Name, math.NewVec3(d.Size[0], d.Size[1], d.Size[2]), k.compaction)
	case MESH_KIND_PLANE:
		return NewPlane(d.Name, d.Size[0], d.Size[2], k.compaction)
	case MESH_KIND_ICOSPHERE:
		return NewIcosphere(d.Name, d.Size[0], d.Subdivisions, k.compaction)
	case MESH_KIND_WAVE:
		return NewWaveGrid(d.Name, d.Size[0], d.Subdivisions, d.Amplitude, d.Speed)
	}
	core.Fail("mesh `%s` has unknown kind `%s`", d.Name, d.Kind)
	return nil
}

func (d ObjectDesc) transform() *math.Transform {
	scale := math.NewVec3One()
	if d.Scale != [3]float32{} {
		scale = math.NewVec3(d.Scale[0], d.Scale[1], d.Scale[2])
	}
	qx := math.NewQuatFromAxisAngle(math.NewVec3(1, 0, 0), math.DegToRad(d.Rotation[0]), false)
	qy := math.NewQuatFromAxisAngle(math.NewVec3(0, 1, 0), math.DegToRad(d.Rotation[1]), false)
	qz := math.NewQuatFromAxisAngle(math.NewVec3(0, 0, 1), math.DegToRad(d.Rotation[2]), false)
	position := math.NewVec3(d.Position[0], d.Position[1], d.Position[2])
	return math.TransformFromPositionRotationScale(position, qx.Mul(qy).Mul(qz), scale)
}

func (d ObjectDesc) mask() uint8 {
	if d.Mask == nil {
		return 0xFF
	}
	return uint8(*d.Mask)
}

func (d *Description) Validate() error {
	meshes := make(map[string]bool, len(d.Meshes))
	for _, m := range d.Meshes {
		if err := m.Validate(); err != nil {
			return err
		}
		if meshes[m.Name] {
			return fmt.Errorf("%w: mesh `%s` declared twice", ErrInvalidScene, m.Name)
		}
		meshes[m.Name] = true
	}
	objects := make(map[string]bool, len(d.Objects))
	for _, o := range d.Objects {
		if o.Name == "" {
			return fmt.Errorf("%w: object without a name", ErrInvalidScene)
		}
		if objects[o.Name] {
			return fmt.Errorf("%w: object `%s` declared twice", ErrInvalidScene, o.Name)
		}
		objects[o.Name] = true
		if !meshes[o.Mesh] {
			return fmt.Errorf("%w: object `%s` references unknown mesh `%s`", ErrInvalidScene, o.Name, o.Mesh)
		}
		if o.Mask != nil && *o.Mask > 0xFF {
			return fmt.Errorf("%w: object `%s` mask %d does not fit 8 bits", ErrInvalidScene, o.Name, *o.Mask)
		}
	}
	return nil
}

func ParseDescription(data []byte) (*Description, error) {
	desc := &Description{}
	decoder := toml.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(desc); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidScene, err.Error())
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	return desc, nil
}

func LoadDescription(path string) (*Description, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	desc, err := ParseDescription(data)
	if err != nil {
		return nil, fmt.Errorf("scene `%s`: %w", path, err)
	}
	return desc, nil
}

func (d *Description) Encode() ([]byte, error) {
	return toml.Marshal(d)
}

// DefaultDescription is the scene used when no file is given: a static
// ground and props around a deforming wave.
func DefaultDescription() *Description {
	return &Description{
		Meshes: []MeshDesc{
			{Name: "ground", Kind: MESH_KIND_PLANE, Size: [3]float32{40, 0, 40}},
			{Name: "crate", Kind: MESH_KIND_BOX, Size: [3]float32{2, 2, 2}},
			{Name: "ball", Kind: MESH_KIND_ICOSPHERE, Size: [3]float32{1.5, 0, 0}, Subdivisions: 2},
			{Name: "water", Kind: MESH_KIND_WAVE, Size: [3]float32{10, 0, 0}, Subdivisions: 32, Amplitude: 0.5, Speed: 1.5},
		},
		Objects: []ObjectDesc{
			{Name: "ground", Mesh: "ground", InstanceID: 0},
			{Name: "crate.0", Mesh: "crate", Position: [3]float32{-6, 1, -4}, InstanceID: 1, Spin: 45},
			{Name: "crate.1", Mesh: "crate", Position: [3]float32{6, 1, -4}, Rotation: [3]float32{0, 30, 0}, InstanceID: 2},
			{Name: "ball", Mesh: "ball", Position: [3]float32{0, 1.5, -8}, InstanceID: 3},
			{Name: "water", Mesh: "water", Position: [3]float32{0, 0.5, 4}, InstanceID: 4},
		},
	}
}

/**
 * @brief Makes the scene match desc. Objects whose mesh changed are removed
 * and added again; the rest keep their identity and take the new
 * transform. Object order follows desc.
 */
func (s *Scene) Apply(desc *Description) error {
	if err := desc.Validate(); err != nil {
		return err
	}

	wanted := make(map[string]MeshDesc, len(desc.Meshes))
	replaced := make(map[string]bool)
	for _, md := range desc.Meshes {
		wanted[md.Name] = md
	}
	// Meshes whose description changed are rebuilt under the same name.
	for name, m := range s.meshes {
		md, ok := wanted[name]
		if !ok || m.desc == nil || m.desc.key() != md.key() {
			replaced[name] = true
		}
	}

	for _, o := range append([]*Object(nil), s.objects...) {
		od, ok := findObject(desc.Objects, o.Name)
		if !ok || od.Mesh != o.Mesh.Name() || replaced[o.Mesh.Name()] {
			s.RemoveObject(o.Name)
		}
	}
	for name := range replaced {
		if err := s.RemoveMesh(name); err != nil {
			return err
		}
	}
	for _, md := range desc.Meshes {
		if _, ok := s.meshes[md.Name]; ok {
			continue
		}
		m := md.Build()
		m.desc = &md
		if err := s.AddMesh(m); err != nil {
			return err
		}
	}

	for _, od := range desc.Objects {
		if o, ok := s.byName[od.Name]; ok {
			t := od.transform()
			o.Transform.SetPositionRotationScale(t.Position, t.Rotation, t.Scale)
			o.InstanceID = od.InstanceID
			o.HitGroupIndex = od.HitGroup
			o.Mask = od.mask()
			o.Spin = math.DegToRad(od.Spin)
			continue
		}
		o := NewObject(od.Name, s.meshes[od.Mesh], od.transform(), od.InstanceID)
		o.HitGroupIndex = od.HitGroup
		o.Mask = od.mask()
		o.Spin = math.DegToRad(od.Spin)
		if err := s.AddObject(o); err != nil {
			return err
		}
	}

	// Instance order follows the description.
	ordered := make([]*Object, 0, len(desc.Objects))
	for _, od := range desc.Objects {
		ordered = append(ordered, s.byName[od.Name])
	}
	s.objects = ordered
	return nil
}

// Reload applies the description at path and announces it.
func (s *Scene) Reload(path string) error {
	desc, err := LoadDescription(path)
	if err != nil {
		core.LogError(err.Error())
		return err
	}
	if err := s.Apply(desc); err != nil {
		core.LogError(err.Error())
		return err
	}
	core.LogInfo("scene `%s` loaded: %d meshes, %d objects", path, len(s.meshes), len(s.objects))
	s.bus.Fire(core.EVENT_CODE_SCENE_RELOADED, s, path)
	return nil
}

func findObject(objects []ObjectDesc, name string) (ObjectDesc, bool) {
	for _, o := range objects {
		if o.Name == name {
			return o, true
		}
	}
	return ObjectDesc{}, false
}
