package metadata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "render.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadRenderConfig(t *testing.T) {
	path := writeConfig(t, `
name = "deferred"
srgb = true
vsync = true

[push_mode]
enabled = true
min_presented_frames = 3

[rendertargets.gbuffer]
[rendertargets.gbuffer.attachments]
albedo = "RGBA_UInt8"
depth = "Depth32"

[renderpasses.gbuffer]
type = "geometry"
render_opaque = true
depth_test_enabled = true
depth_write_enabled = true
shaders = ["shaders/gbuffer.vert.spv", "shaders/gbuffer.frag.spv"]
output = "gbuffer"

[renderpasses.post]
type = "quad"
shaders = ["shaders/screen.vert.spv", "shaders/post.frag.spv"]
inputs = ["gbuffer.albedo"]
output = "Viewport"
`)

	config, err := LoadRenderConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "deferred", config.Name)
	assert.True(t, config.SRGB)
	assert.True(t, config.VSync)
	assert.True(t, config.PushMode.Enabled)
	assert.Equal(t, int64(3), config.PushMode.MinPresentedFrames)

	require.Contains(t, config.Rendertargets, "gbuffer")
	assert.Equal(t, FormatRGBAUInt8, config.Rendertargets["gbuffer"].Attachments["albedo"])
	assert.True(t, config.Rendertargets["gbuffer"].Attachments["depth"].IsDepth())

	require.Contains(t, config.Renderpasses, "post")
	assert.Equal(t, PassQuad, config.Renderpasses["post"].Type)
	assert.Equal(t, ViewportTarget, config.Renderpasses["post"].Output)
}

func TestLoadRenderConfigMissingFile(t *testing.T) {
	_, err := LoadRenderConfig(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestValidateRejectsUnknownFormat(t *testing.T) {
	config := &RenderConfig{
		Rendertargets: map[string]*RenderTargetSpec{
			"buf": {Attachments: map[string]AttachmentFormat{"color": "RGBA_Float99"}},
		},
	}
	assert.Error(t, config.Validate())
}

func TestValidateRejectsEmptyTarget(t *testing.T) {
	config := &RenderConfig{
		Rendertargets: map[string]*RenderTargetSpec{"buf": {}},
	}
	assert.Error(t, config.Validate())
}

func TestValidateRejectsBadSize(t *testing.T) {
	config := &RenderConfig{
		Rendertargets: map[string]*RenderTargetSpec{
			"buf": {
				Size:        []float64{0.5},
				Attachments: map[string]AttachmentFormat{"color": FormatRGBAUInt8},
			},
		},
	}
	assert.Error(t, config.Validate())
}

func TestValidateRequiresExactlyOneViewportPass(t *testing.T) {
	config := &RenderConfig{
		Rendertargets: map[string]*RenderTargetSpec{
			"a": {Attachments: map[string]AttachmentFormat{"color": FormatRGBAUInt8}},
		},
		Renderpasses: map[string]*RenderpassSpec{
			"only": {Type: PassGeometry, Shaders: []string{"s.vert.spv"}, Output: "a"},
		},
	}
	assert.Error(t, config.Validate())

	config.Renderpasses["second"] = &RenderpassSpec{Type: PassQuad, Shaders: []string{"s.frag.spv"}, Output: ViewportTarget}
	assert.NoError(t, config.Validate())

	config.Renderpasses["third"] = &RenderpassSpec{Type: PassQuad, Shaders: []string{"s.frag.spv"}, Output: ViewportTarget}
	assert.Error(t, config.Validate())
}

func TestValidateRejectsDuplicateProducer(t *testing.T) {
	config := &RenderConfig{
		Rendertargets: map[string]*RenderTargetSpec{
			"shared": {Attachments: map[string]AttachmentFormat{"color": FormatRGBAUInt8}},
		},
		Renderpasses: map[string]*RenderpassSpec{
			"a":    {Type: PassGeometry, Shaders: []string{"s.vert.spv"}, Output: "shared"},
			"b":    {Type: PassGeometry, Shaders: []string{"s.vert.spv"}, Output: "shared"},
			"view": {Type: PassQuad, Shaders: []string{"s.frag.spv"}, Output: ViewportTarget},
		},
	}
	assert.Error(t, config.Validate())
}

func TestValidateRejectsUndeclaredInput(t *testing.T) {
	config := &RenderConfig{
		Renderpasses: map[string]*RenderpassSpec{
			"view": {Type: PassQuad, Shaders: []string{"s.frag.spv"}, Inputs: []string{"ghost.color"}, Output: ViewportTarget},
		},
	}
	assert.Error(t, config.Validate())
}

func TestValidateRejectsUndeclaredAttachmentInput(t *testing.T) {
	config := &RenderConfig{
		Rendertargets: map[string]*RenderTargetSpec{
			"buf": {Attachments: map[string]AttachmentFormat{"color": FormatRGBAUInt8}},
		},
		Renderpasses: map[string]*RenderpassSpec{
			"fill": {Type: PassGeometry, Shaders: []string{"s.vert.spv"}, Output: "buf"},
			"view": {Type: PassQuad, Shaders: []string{"s.frag.spv"}, Inputs: []string{"buf.normal"}, Output: ViewportTarget},
		},
	}
	assert.Error(t, config.Validate())
}

func TestValidateRejectsViewportAsInput(t *testing.T) {
	config := &RenderConfig{
		Renderpasses: map[string]*RenderpassSpec{
			"view": {Type: PassQuad, Shaders: []string{"s.frag.spv"}, Inputs: []string{"Viewport"}, Output: ViewportTarget},
		},
	}
	assert.Error(t, config.Validate())
}

func TestValidateRejectsBlitInputsOnViewportPass(t *testing.T) {
	config := &RenderConfig{
		Rendertargets: map[string]*RenderTargetSpec{
			"buf": {Attachments: map[string]AttachmentFormat{"color": FormatRGBAUInt8}},
		},
		Renderpasses: map[string]*RenderpassSpec{
			"fill": {Type: PassGeometry, Shaders: []string{"s.vert.spv"}, Output: "buf"},
			"view": {Type: PassQuad, Shaders: []string{"s.frag.spv"}, Inputs: []string{"buf.color"}, BlitInputs: true, Output: ViewportTarget},
		},
	}
	err := config.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "view")

	config.Renderpasses["view"].BlitInputs = false
	assert.NoError(t, config.Validate())
}

func TestValidateRejectsQualityForUnknownPass(t *testing.T) {
	config := &RenderConfig{
		Renderpasses: map[string]*RenderpassSpec{
			"view": {Type: PassQuad, Shaders: []string{"s.frag.spv"}, Output: ViewportTarget},
		},
		Qualities: map[string]map[string][]string{
			"low": {"ghost": {"other.frag.spv"}},
		},
	}
	assert.Error(t, config.Validate())
}

func TestSplitInputReference(t *testing.T) {
	target, attachment := SplitInputReference("gbuffer.albedo")
	assert.Equal(t, "gbuffer", target)
	assert.Equal(t, "albedo", attachment)

	target, attachment = SplitInputReference("gbuffer")
	assert.Equal(t, "gbuffer", target)
	assert.Equal(t, "", attachment)
}

func TestSizeOrDefault(t *testing.T) {
	spec := &RenderTargetSpec{}
	w, h := spec.SizeOrDefault()
	assert.Equal(t, 1.0, w)
	assert.Equal(t, 1.0, h)

	spec.Size = []float64{0.5, 0.25}
	w, h = spec.SizeOrDefault()
	assert.Equal(t, 0.5, w)
	assert.Equal(t, 0.25, h)
}

func TestQualityLevelsSorted(t *testing.T) {
	config := &RenderConfig{
		Qualities: map[string]map[string][]string{
			"ultra": {}, "low": {}, "medium": {},
		},
	}
	assert.Equal(t, []string{"low", "medium", "ultra"}, config.QualityLevels())
}

func TestApplyQuality(t *testing.T) {
	config := &RenderConfig{
		Renderpasses: map[string]*RenderpassSpec{
			"forward": {Type: PassGeometry, Shaders: []string{"full.vert.spv", "full.frag.spv"}, Output: ViewportTarget},
		},
		Qualities: map[string]map[string][]string{
			"low": {"forward": {"full.vert.spv", "flat.frag.spv"}},
		},
	}

	applied, err := config.ApplyQuality("low")
	require.NoError(t, err)
	assert.Equal(t, []string{"full.vert.spv", "flat.frag.spv"}, applied.Renderpasses["forward"].Shaders)

	// The source configuration is untouched.
	assert.Equal(t, []string{"full.vert.spv", "full.frag.spv"}, config.Renderpasses["forward"].Shaders)

	_, err = config.ApplyQuality("cinematic")
	assert.Error(t, err)
}
