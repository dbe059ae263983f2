package metadata

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/borealis-engine/borealis/engine/core"
)

func deferredConfig() *RenderConfig {
	return &RenderConfig{
		Rendertargets: map[string]*RenderTargetSpec{
			"gbuffer": {Attachments: map[string]AttachmentFormat{"albedo": FormatRGBAUInt8, "normal": FormatRGBAFloat16}},
			"lit":     {Attachments: map[string]AttachmentFormat{"color": FormatRGBAFloat16}},
		},
		Renderpasses: map[string]*RenderpassSpec{
			"gbuffer": {Type: PassGeometry, Shaders: []string{"g.vert.spv"}, Output: "gbuffer"},
			"lights":  {Type: PassLights, Shaders: []string{"l.frag.spv"}, Inputs: []string{"gbuffer.albedo", "gbuffer.normal"}, Output: "lit"},
			"post":    {Type: PassQuad, Shaders: []string{"p.frag.spv"}, Inputs: []string{"lit.color"}, Output: ViewportTarget},
		},
	}
}

func TestResolveFlowOrdersByDependency(t *testing.T) {
	flow, err := ResolveFlow(deferredConfig())
	require.NoError(t, err)
	assert.Equal(t, []string{"gbuffer", "lights", "post"}, flow.Order)
	assert.Equal(t, "post", flow.Final())
}

func TestResolveFlowResolvesInputProducers(t *testing.T) {
	flow, err := ResolveFlow(deferredConfig())
	require.NoError(t, err)

	inputs := flow.Inputs["lights"]
	require.Len(t, inputs, 2)
	assert.Equal(t, "gbuffer.albedo", inputs[0].Name)
	assert.Equal(t, "gbuffer", inputs[0].Target)
	assert.Equal(t, "albedo", inputs[0].Attachment)
	assert.Equal(t, "gbuffer", inputs[0].Producer)

	postInputs := flow.Inputs["post"]
	require.Len(t, postInputs, 1)
	assert.Equal(t, "lights", postInputs[0].Producer)
}

func TestResolveFlowViewportPassAlwaysLast(t *testing.T) {
	// No dependency ties the viewport pass to the others; its name sorts
	// first, so only the explicit move puts it last.
	config := &RenderConfig{
		Rendertargets: map[string]*RenderTargetSpec{
			"aux": {Attachments: map[string]AttachmentFormat{"color": FormatRGBAUInt8}},
		},
		Renderpasses: map[string]*RenderpassSpec{
			"aaa-view": {Type: PassGeometry, Shaders: []string{"v.vert.spv"}, Output: ViewportTarget},
			"zzz-aux":  {Type: PassGeometry, Shaders: []string{"a.vert.spv"}, Output: "aux"},
		},
	}
	flow, err := ResolveFlow(config)
	require.NoError(t, err)
	assert.Equal(t, []string{"zzz-aux", "aaa-view"}, flow.Order)
}

func TestResolveFlowDeterministicTieBreak(t *testing.T) {
	config := &RenderConfig{
		Rendertargets: map[string]*RenderTargetSpec{
			"a": {Attachments: map[string]AttachmentFormat{"c": FormatRGBAUInt8}},
			"b": {Attachments: map[string]AttachmentFormat{"c": FormatRGBAUInt8}},
		},
		Renderpasses: map[string]*RenderpassSpec{
			"beta":  {Type: PassGeometry, Shaders: []string{"s.vert.spv"}, Output: "b"},
			"alpha": {Type: PassGeometry, Shaders: []string{"s.vert.spv"}, Output: "a"},
			"view":  {Type: PassQuad, Shaders: []string{"s.frag.spv"}, Inputs: []string{"a.c", "b.c"}, Output: ViewportTarget},
		},
	}
	for i := 0; i < 10; i++ {
		flow, err := ResolveFlow(config)
		require.NoError(t, err)
		assert.Equal(t, []string{"alpha", "beta", "view"}, flow.Order)
	}
}

func TestResolveFlowRejectsCycle(t *testing.T) {
	config := &RenderConfig{
		Rendertargets: map[string]*RenderTargetSpec{
			"a": {Attachments: map[string]AttachmentFormat{"c": FormatRGBAUInt8}},
			"b": {Attachments: map[string]AttachmentFormat{"c": FormatRGBAUInt8}},
		},
		Renderpasses: map[string]*RenderpassSpec{
			"one": {Type: PassGeometry, Shaders: []string{"s.vert.spv"}, Inputs: []string{"b"}, Output: "a"},
			"two": {Type: PassGeometry, Shaders: []string{"s.vert.spv"}, Inputs: []string{"a"}, Output: "b"},
		},
	}
	_, err := ResolveFlow(config)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrFlowCycle))
}

func TestResolveFlowRejectsSelfConsumption(t *testing.T) {
	config := &RenderConfig{
		Rendertargets: map[string]*RenderTargetSpec{
			"a": {Attachments: map[string]AttachmentFormat{"c": FormatRGBAUInt8}},
		},
		Renderpasses: map[string]*RenderpassSpec{
			"loop": {Type: PassGeometry, Shaders: []string{"s.vert.spv"}, Inputs: []string{"a.c"}, Output: "a"},
		},
	}
	_, err := ResolveFlow(config)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrFlowCycle))
}

func TestResolveFlowRejectsUnproducedInput(t *testing.T) {
	config := &RenderConfig{
		Renderpasses: map[string]*RenderpassSpec{
			"view": {Type: PassQuad, Shaders: []string{"s.frag.spv"}, Inputs: []string{"nothing.color"}, Output: ViewportTarget},
		},
	}
	_, err := ResolveFlow(config)
	assert.Error(t, err)
}

func TestFlowFinalEmpty(t *testing.T) {
	flow := &Flow{}
	assert.Equal(t, "", flow.Final())
}
