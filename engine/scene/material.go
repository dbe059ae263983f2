package scene

import (
	"hash/fnv"

	"github.com/borealis-engine/borealis/engine/math"
)

// TextureSlot names the sampler slots a material may bind. Unset slots fall
// back to the default texture so every shader-declared sampler has a valid
// binding.
type TextureSlot string

const (
	TextureSlotDiffuse  TextureSlot = "diffuse"
	TextureSlotNormal   TextureSlot = "normal"
	TextureSlotSpecular TextureSlot = "specular"
	TextureSlotAmbient  TextureSlot = "ambient"
)

type CullingMode uint8

const (
	CullBack CullingMode = iota
	CullFront
	CullNone
	CullFrontAndBack
)

type DepthCompareOp uint8

const (
	DepthLess DepthCompareOp = iota
	DepthLessEqual
	DepthEqual
	DepthGreater
	DepthAlways
)

type BlendFactor uint8

const (
	BlendSrcAlpha BlendFactor = iota
	BlendOneMinusSrcAlpha
	BlendOne
	BlendZero
)

// Blending is the fixed-function blend state a material contributes to its
// pipeline. Changing it forces pipeline re-resolution and command buffer
// re-recording.
type Blending struct {
	Enabled        bool
	SrcColorFactor BlendFactor
	DstColorFactor BlendFactor
	SrcAlphaFactor BlendFactor
	DstAlphaFactor BlendFactor
}

// Hash folds the blend state into a single comparable value. The frame
// orchestrator keeps the last seen hash per object and re-resolves the
// pipeline when it changes.
func (b Blending) Hash() uint64 {
	h := fnv.New64a()
	buf := []byte{0, byte(b.SrcColorFactor), byte(b.DstColorFactor), byte(b.SrcAlphaFactor), byte(b.DstAlphaFactor)}
	if b.Enabled {
		buf[0] = 1
	}
	h.Write(buf)
	return h.Sum64()
}

// ShaderProperty is one named member of a custom "ShaderProperties" uniform
// block, serialized in declaration order.
type ShaderProperty struct {
	Name   string
	Values []float32
}

// Material carries everything UBO population and pipeline selection read from
// an object: lighting properties, blending, culling, texture bindings and
// optional custom shaders.
type Material struct {
	Diffuse   math.Vec4
	Specular  math.Vec4
	Ambient   math.Vec4
	Roughness float32
	Metallic  float32
	Opacity   float32

	Blending     Blending
	CullingMode  CullingMode
	DepthCompare DepthCompareOp
	DepthTest    bool
	DepthWrite   bool

	// Texture file paths by slot. Empty slots use the default texture.
	Textures map[TextureSlot]string

	// CustomShaders, when non-empty, gives the object its own
	// "preferred-<uuid>" pipeline built from these files instead of the pass
	// default.
	CustomShaders []string

	// ShaderProperties backs the optional per-object "ShaderProperties" UBO.
	ShaderProperties []ShaderProperty
}

func NewMaterial() *Material {
	return &Material{
		Diffuse:      math.Vec4{X: 0.8, Y: 0.8, Z: 0.8, W: 1.0},
		Specular:     math.Vec4{X: 1.0, Y: 1.0, Z: 1.0, W: 1.0},
		Ambient:      math.Vec4{X: 0.1, Y: 0.1, Z: 0.1, W: 1.0},
		Roughness:    1.0,
		Opacity:      1.0,
		DepthTest:    true,
		DepthWrite:   true,
		CullingMode:  CullBack,
		DepthCompare: DepthLessEqual,
		Textures:     make(map[TextureSlot]string),
	}
}

// IsTransparent reports whether the object belongs in a pass's transparent
// partition.
func (m *Material) IsTransparent() bool {
	return m.Blending.Enabled || m.Opacity < 1.0
}
