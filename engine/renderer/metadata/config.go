package metadata

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/borealis-engine/borealis/engine/core"
)

// ViewportTarget is the sentinel output name resolved at runtime to the
// swapchain itself. It is never declared as a rendertarget.
const ViewportTarget = "Viewport"

// AttachmentFormat enumerates the texel formats a rendertarget attachment may
// declare. The backend maps these onto API formats.
type AttachmentFormat string

const (
	FormatRGBAFloat32 AttachmentFormat = "RGBA_Float32"
	FormatRGBAFloat16 AttachmentFormat = "RGBA_Float16"
	FormatRGBFloat32  AttachmentFormat = "RGB_Float32"
	FormatRGBFloat16  AttachmentFormat = "RGB_Float16"
	FormatRGFloat32   AttachmentFormat = "RG_Float32"
	FormatRGFloat16   AttachmentFormat = "RG_Float16"
	FormatRGBAUInt16  AttachmentFormat = "RGBA_UInt16"
	FormatRGBAUInt8   AttachmentFormat = "RGBA_UInt8"
	FormatRUInt16     AttachmentFormat = "R_UInt16"
	FormatRUInt8      AttachmentFormat = "R_UInt8"
	FormatDepth32     AttachmentFormat = "Depth32"
	FormatDepth24     AttachmentFormat = "Depth24"
)

var knownFormats = map[AttachmentFormat]bool{
	FormatRGBAFloat32: true, FormatRGBAFloat16: true,
	FormatRGBFloat32: true, FormatRGBFloat16: true,
	FormatRGFloat32: true, FormatRGFloat16: true,
	FormatRGBAUInt16: true, FormatRGBAUInt8: true,
	FormatRUInt16: true, FormatRUInt8: true,
	FormatDepth32: true, FormatDepth24: true,
}

// IsDepth reports whether the format describes a depth attachment.
func (f AttachmentFormat) IsDepth() bool {
	return f == FormatDepth32 || f == FormatDepth24
}

// PassType is the closed set of renderpass kinds. Each has its own recording
// routine in the backend.
type PassType string

const (
	PassGeometry PassType = "geometry"
	PassLights   PassType = "lights"
	PassQuad     PassType = "quad"
)

// RenderTargetSpec declares one named rendering destination: a set of
// attachments and a size relative to the window.
type RenderTargetSpec struct {
	// Size is a fractional [w, h] of the window size, default [1, 1].
	Size        []float64                   `toml:"size"`
	Attachments map[string]AttachmentFormat `toml:"attachments"`
}

// SizeOrDefault returns the fractional size, defaulting to full window.
func (t *RenderTargetSpec) SizeOrDefault() (float64, float64) {
	if len(t.Size) == 2 {
		return t.Size[0], t.Size[1]
	}
	return 1.0, 1.0
}

// RenderpassSpec declares one renderpass: its type, shader set, declared
// inputs (other passes' outputs), output target and fixed-function toggles.
type RenderpassSpec struct {
	Type              PassType               `toml:"type"`
	RenderOpaque      bool                   `toml:"render_opaque"`
	RenderTransparent bool                   `toml:"render_transparent"`
	DepthTestEnabled  bool                   `toml:"depth_test_enabled"`
	DepthWriteEnabled bool                   `toml:"depth_write_enabled"`
	Shaders           []string               `toml:"shaders"`
	Inputs            []string               `toml:"inputs"`
	Output            string                 `toml:"output"`
	BlitInputs        bool                   `toml:"blit_inputs"`
	Parameters        map[string]interface{} `toml:"parameters"`
	ViewportSize      []float64              `toml:"viewport_size"`
	ViewportOffset    []float64              `toml:"viewport_offset"`
}

// PushModeConfig holds the tunables of the static-scene short-circuit. The
// thresholds are configuration, not constants: how many frames must have been
// presented before skipping becomes legal is a heuristic, not a contract.
type PushModeConfig struct {
	Enabled            bool  `toml:"enabled"`
	MinPresentedFrames int64 `toml:"min_presented_frames"`
}

// RenderConfig is the declarative description of the whole renderpass graph,
// loaded once at renderer construction and again on quality-level switches.
type RenderConfig struct {
	Name          string                       `toml:"name"`
	Description   string                       `toml:"description"`
	SRGB          bool                         `toml:"srgb"`
	StereoEnabled bool                         `toml:"stereo_enabled"`
	VSync         bool                         `toml:"vsync"`
	PushMode      PushModeConfig               `toml:"push_mode"`
	Rendertargets map[string]*RenderTargetSpec `toml:"rendertargets"`
	Renderpasses  map[string]*RenderpassSpec   `toml:"renderpasses"`

	// Qualities substitutes per-pass shader lists when switching rendering
	// quality: quality name -> pass name -> shader files.
	Qualities map[string]map[string][]string `toml:"qualities"`
}

// LoadRenderConfig parses and validates a render configuration file. Any
// dangling target reference is a fatal configuration error reported here, at
// load time, never at frame time.
func LoadRenderConfig(path string) (*RenderConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		core.LogError("failed to read render config `%s`: %s", path, err)
		return nil, err
	}
	config := &RenderConfig{}
	if err := toml.Unmarshal(raw, config); err != nil {
		core.LogError("failed to parse render config `%s`: %s", path, err)
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	core.LogInfo("Loaded render configuration `%s` (%d targets, %d passes)",
		config.Name, len(config.Rendertargets), len(config.Renderpasses))
	return config, nil
}

// SplitInputReference splits "target.attachment" into its parts. A bare
// target name yields an empty attachment, meaning all attachments.
func SplitInputReference(input string) (target, attachment string) {
	if idx := strings.IndexByte(input, '.'); idx >= 0 {
		return input[:idx], input[idx+1:]
	}
	return input, ""
}

// Validate checks every cross-reference in the configuration.
func (c *RenderConfig) Validate() error {
	for name, target := range c.Rendertargets {
		if len(target.Attachments) == 0 {
			return fmt.Errorf("render config: rendertarget `%s` declares no attachments", name)
		}
		for attachment, format := range target.Attachments {
			if !knownFormats[format] {
				return fmt.Errorf("render config: rendertarget `%s` attachment `%s` has unknown format `%s`", name, attachment, format)
			}
		}
		if len(target.Size) != 0 && len(target.Size) != 2 {
			return fmt.Errorf("render config: rendertarget `%s` size must be a [w, h] pair", name)
		}
	}

	viewportPasses := 0
	producers := make(map[string]string)
	for name, pass := range c.Renderpasses {
		switch pass.Type {
		case PassGeometry, PassLights, PassQuad:
		default:
			return fmt.Errorf("render config: renderpass `%s` has unknown type `%s`", name, pass.Type)
		}
		if len(pass.Shaders) == 0 {
			return fmt.Errorf("render config: renderpass `%s` declares no shaders", name)
		}
		if pass.Output == "" {
			return fmt.Errorf("render config: renderpass `%s` declares no output target", name)
		}
		if pass.Output == ViewportTarget {
			viewportPasses++
			if pass.BlitInputs {
				return fmt.Errorf("render config: renderpass `%s` enables blit_inputs but outputs to `%s`; blitting needs an offscreen output target", name, ViewportTarget)
			}
		} else {
			if _, ok := c.Rendertargets[pass.Output]; !ok {
				return fmt.Errorf("render config: renderpass `%s` outputs to undeclared target `%s`", name, pass.Output)
			}
			if prev, dup := producers[pass.Output]; dup {
				return fmt.Errorf("render config: target `%s` is produced by both `%s` and `%s`", pass.Output, prev, name)
			}
			producers[pass.Output] = name
		}
		for _, input := range pass.Inputs {
			targetName, attachmentName := SplitInputReference(input)
			if targetName == ViewportTarget {
				return fmt.Errorf("render config: renderpass `%s` cannot consume the viewport as an input", name)
			}
			target, ok := c.Rendertargets[targetName]
			if !ok {
				return fmt.Errorf("render config: renderpass `%s` reads undeclared target `%s`", name, targetName)
			}
			if attachmentName != "" {
				if _, ok := target.Attachments[attachmentName]; !ok {
					return fmt.Errorf("render config: renderpass `%s` reads undeclared attachment `%s.%s`", name, targetName, attachmentName)
				}
			}
		}
	}
	if len(c.Renderpasses) > 0 && viewportPasses != 1 {
		return fmt.Errorf("render config: exactly one renderpass must output to `%s`, found %d", ViewportTarget, viewportPasses)
	}

	for quality, passes := range c.Qualities {
		for passName := range passes {
			if _, ok := c.Renderpasses[passName]; !ok {
				return fmt.Errorf("render config: quality `%s` overrides shaders of undeclared renderpass `%s`", quality, passName)
			}
		}
	}
	return nil
}

// QualityLevels lists the declared quality level names, sorted.
func (c *RenderConfig) QualityLevels() []string {
	levels := make([]string, 0, len(c.Qualities))
	for name := range c.Qualities {
		levels = append(levels, name)
	}
	sort.Strings(levels)
	return levels
}

// ApplyQuality substitutes the shader lists of the named quality level into a
// copy of the configuration. The caller is expected to rebuild the swapchain
// and every pass afterwards.
func (c *RenderConfig) ApplyQuality(level string) (*RenderConfig, error) {
	overrides, ok := c.Qualities[level]
	if !ok {
		return nil, fmt.Errorf("render config: unknown quality level `%s`", level)
	}
	out := *c
	out.Renderpasses = make(map[string]*RenderpassSpec, len(c.Renderpasses))
	for name, pass := range c.Renderpasses {
		copied := *pass
		if shaders, has := overrides[name]; has {
			copied.Shaders = shaders
		}
		out.Renderpasses[name] = &copied
	}
	return &out, nil
}
