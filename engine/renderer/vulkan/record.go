package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/borealis-engine/borealis/engine/core"
	"github.com/borealis-engine/borealis/engine/scene"
)

func vertexAttributes(kind scene.VertexLayoutKind) []vk.VertexInputAttributeDescription {
	attrs := []vk.VertexInputAttributeDescription{
		{Location: 0, Binding: 0, Format: vk.FormatR32g32b32Sfloat, Offset: 0},
	}
	offset := uint32(12)
	location := uint32(1)
	if kind == scene.LayoutPositionNormal || kind == scene.LayoutPositionNormalTexcoord {
		attrs = append(attrs, vk.VertexInputAttributeDescription{
			Location: location, Binding: 0, Format: vk.FormatR32g32b32Sfloat, Offset: offset,
		})
		offset += 12
		location++
	}
	if kind == scene.LayoutPositionTexcoord || kind == scene.LayoutPositionNormalTexcoord {
		attrs = append(attrs, vk.VertexInputAttributeDescription{
			Location: location, Binding: 0, Format: vk.FormatR32g32Sfloat, Offset: offset,
		})
	}
	return attrs
}

// Accepts reports whether the pass draws the object, based on its
// opaque/transparent partition.
func (p *RenderPass) Accepts(node *scene.Node) bool {
	if node.Material != nil && node.Material.IsTransparent() {
		return p.Spec.RenderTransparent
	}
	return p.Spec.RenderOpaque
}

// ComputeDrawList filters the discovered objects through the pass's
// partition and produces the ordered draw records the staleness check
// compares against. Objects keep their discovery order.
func (p *RenderPass) ComputeDrawList(binder *ObjectBinder, objects []*scene.Node) ([]DrawRecord, []*scene.Node, error) {
	var records []DrawRecord
	var accepted []*scene.Node
	for _, node := range objects {
		if !p.Accepts(node) {
			continue
		}
		state, err := binder.State(node)
		if err != nil {
			return nil, nil, err
		}
		instances := state.InstanceCount
		if instances == 0 {
			instances = 1
		}
		records = append(records, DrawRecord{
			ObjectID:      node.ID,
			PipelineKey:   state.PipelineKey,
			VertexCount:   state.VertexCount,
			IndexCount:    state.IndexCount,
			InstanceCount: instances,
			BlendHash:     state.BlendHash,
		})
		accepted = append(accepted, node)
	}
	return records, accepted, nil
}

// geometryPipelineBuilder builds a (pass, key) pipeline family for scene
// geometry. Preferred keys override culling, depth compare and blend state
// from the object's material; the default key uses the pass's toggles.
func (p *RenderPass) geometryPipelineBuilder(context *VulkanContext, state *ObjectState, node *scene.Node) PipelineBuilder {
	return func(topology scene.GeometryTopology, base *VulkanPipeline) (*VulkanPipeline, error) {
		stages := make([]vk.PipelineShaderStageCreateInfo, 0, len(p.Stages))
		config := &VulkanPipelineConfig{
			Renderpass: p.Handle,
			Stride:     state.LayoutKind.Stride(),
			Attributes: vertexAttributes(state.LayoutKind),
			Viewport:   vk.Viewport{Width: float32(p.width), Height: float32(p.height), MinDepth: 0, MaxDepth: 1},
			Scissor:    vk.Rect2D{Extent: vk.Extent2D{Width: p.width, Height: p.height}},
			DepthTest:  p.Spec.DepthTestEnabled,
			DepthWrite: p.Spec.DepthWriteEnabled,
		}
		if p.Output != nil {
			config.ColorAttachmentCount = p.Output.ColorAttachmentCount()
		}

		if state.PipelineKey != PipelineKeyDefault && len(node.Material.CustomShaders) > 0 {
			for _, shader := range node.Material.CustomShaders {
				stage, err := context.ShaderModuleCache.Load(shader)
				if err != nil {
					return nil, err
				}
				stages = append(stages, stage.ShaderStageCreateInfo)
			}
			// Material overrides apply only to the object's own pipeline.
			config.CullMode = node.Material.CullingMode
			config.DepthCompare = node.Material.DepthCompare
			config.DepthTest = node.Material.DepthTest
			config.DepthWrite = node.Material.DepthWrite
			config.Blending = node.Material.Blending
		} else {
			for _, stage := range p.Stages {
				stages = append(stages, stage.ShaderStageCreateInfo)
			}
			config.CullMode = node.Material.CullingMode
			config.Blending = node.Material.Blending
		}
		config.Stages = stages

		layouts, err := p.geometryLayouts(context, state)
		if err != nil {
			return nil, err
		}
		config.DescriptorSetLayouts = layouts

		if state.InstanceCount > 0 {
			addInstanceAttributes(config, state.InstanceStride)
		}

		return NewGraphicsPipeline(context, config, topology, base)
	}
}

// addInstanceAttributes appends the per-instance vertex binding: one vec4
// attribute per 16 bytes of instance stride, consumed per instance.
func addInstanceAttributes(config *VulkanPipelineConfig, stride uint32) {
	location := uint32(len(config.Attributes))
	for offset := uint32(0); offset < stride; offset += 16 {
		config.Attributes = append(config.Attributes, vk.VertexInputAttributeDescription{
			Location: location,
			Binding:  1,
			Format:   vk.FormatR32g32b32a32Sfloat,
			Offset:   offset,
		})
		location++
	}
}

func (p *RenderPass) geometryLayouts(context *VulkanContext, state *ObjectState) ([]vk.DescriptorSetLayout, error) {
	names := []string{LayoutMatrices, LayoutMaterialProperties}
	if _, has := state.UniformBindings[LayoutShaderProperties]; has {
		names = append(names, LayoutShaderProperties)
	}

	uniformStages := vk.ShaderStageFlags(vk.ShaderStageVertexBit) | vk.ShaderStageFlags(vk.ShaderStageFragmentBit)
	layouts := make([]vk.DescriptorSetLayout, 0, len(names)+1)
	for _, name := range names {
		layout, err := context.DescriptorLayoutCache.Get(name, []vk.DescriptorSetLayoutBinding{
			UniformBufferBinding(0, uniformStages),
		})
		if err != nil {
			return nil, err
		}
		layouts = append(layouts, layout)
	}
	if p.inputLayout != vk.NullDescriptorSetLayout {
		layouts = append(layouts, p.inputLayout)
	}
	return layouts, nil
}

// RecordGeometry encodes the pass's draws for the accepted objects into the
// command buffer, in discovery order. A failing preferred pipeline falls back
// to the pass default rather than failing the frame.
func (p *RenderPass) RecordGeometry(context *VulkanContext, cb *VulkanCommandBuffer, imageIndex uint32, binder *ObjectBinder, pipelines *PipelineCache, records []DrawRecord, accepted []*scene.Node) error {
	if err := cb.Begin(false, false, false); err != nil {
		return err
	}
	if p.Spec.BlitInputs {
		if err := p.BlitInputs(context, cb); err != nil {
			return err
		}
	}
	p.Begin(cb, imageIndex)

	for _, node := range accepted {
		state, err := binder.State(node)
		if err != nil {
			return err
		}

		pipeline, err := pipelines.Ensure(p.Name, state.PipelineKey, node.Geometry.Topology, p.geometryPipelineBuilder(context, state, node))
		if err != nil && state.PipelineKey != PipelineKeyDefault {
			core.LogWarn("renderpass `%s`: custom pipeline for `%s` failed (%s), falling back to default", p.Name, node.Name, err)
			state.PipelineKey = PipelineKeyDefault
			pipeline, err = pipelines.Ensure(p.Name, PipelineKeyDefault, node.Geometry.Topology, p.geometryPipelineBuilder(context, state, node))
		}
		if err != nil {
			return err
		}

		vk.CmdBindPipeline(cb.Handle, vk.PipelineBindPointGraphics, pipeline.Handle)

		if err := p.bindObjectSets(context, cb, pipeline, state); err != nil {
			return err
		}

		buffers := []vk.Buffer{state.VertexRegion.Buffer.Handle}
		offsets := []vk.DeviceSize{vk.DeviceSize(state.VertexRegion.Offset)}
		if state.InstanceCount > 0 && state.InstanceBuffer != nil {
			buffers = append(buffers, state.InstanceBuffer.Handle)
			offsets = append(offsets, 0)
		}
		vk.CmdBindVertexBuffers(cb.Handle, 0, uint32(len(buffers)), buffers, offsets)

		instances := state.InstanceCount
		if instances == 0 {
			instances = 1
		}
		if state.IndexCount > 0 {
			vk.CmdBindIndexBuffer(cb.Handle, state.IndexRegion.Buffer.Handle, vk.DeviceSize(state.IndexRegion.Offset), vk.IndexTypeUint32)
			vk.CmdDrawIndexed(cb.Handle, state.IndexCount, instances, 0, 0, 0)
		} else {
			vk.CmdDraw(cb.Handle, state.VertexCount, instances, 0, 0)
		}
	}

	p.End(cb)
	if err := cb.End(); err != nil {
		return err
	}
	cb.MarkRecorded(records)
	return nil
}

func (p *RenderPass) bindObjectSets(context *VulkanContext, cb *VulkanCommandBuffer, pipeline *VulkanPipeline, state *ObjectState) error {
	names := []string{LayoutMatrices, LayoutMaterialProperties}
	if _, has := state.UniformBindings[LayoutShaderProperties]; has {
		names = append(names, LayoutShaderProperties)
	}

	sets := make([]vk.DescriptorSet, 0, len(names)+1)
	dynamicOffsets := make([]uint32, 0, len(names))
	for _, name := range names {
		binding := state.UniformBindings[name]
		if binding == nil {
			continue
		}
		offset, err := binding.UBO.WriteNext(context)
		if err != nil {
			return err
		}
		binding.RecordOffset(p.Name, offset)
		sets = append(sets, binding.Set)
		dynamicOffsets = append(dynamicOffsets, offset)
	}
	if p.InputSet != vk.NullDescriptorSet {
		sets = append(sets, p.InputSet)
	}

	vk.CmdBindDescriptorSets(cb.Handle, vk.PipelineBindPointGraphics, pipeline.PipelineLayout,
		0, uint32(len(sets)), sets, uint32(len(dynamicOffsets)), dynamicOffsets)
	return nil
}

// screenPipelineBuilder builds the full-screen pipeline used by lights and
// quad passes: no vertex input, three generated vertices.
func (p *RenderPass) screenPipelineBuilder(context *VulkanContext) PipelineBuilder {
	return func(topology scene.GeometryTopology, base *VulkanPipeline) (*VulkanPipeline, error) {
		stages := make([]vk.PipelineShaderStageCreateInfo, 0, len(p.Stages))
		for _, stage := range p.Stages {
			stages = append(stages, stage.ShaderStageCreateInfo)
		}

		var layouts []vk.DescriptorSetLayout
		if p.inputLayout != vk.NullDescriptorSetLayout {
			layouts = append(layouts, p.inputLayout)
		}
		if p.Parameters != nil {
			layout, err := context.DescriptorLayoutCache.Get(LayoutShaderParameters(p.Name), []vk.DescriptorSetLayoutBinding{
				PlainUniformBufferBinding(0, vk.ShaderStageFlags(vk.ShaderStageVertexBit)|vk.ShaderStageFlags(vk.ShaderStageFragmentBit)),
			})
			if err != nil {
				return nil, err
			}
			layouts = append(layouts, layout)
		}

		config := &VulkanPipelineConfig{
			Renderpass:           p.Handle,
			Stride:               0,
			DescriptorSetLayouts: layouts,
			Stages:               stages,
			Viewport:             vk.Viewport{Width: float32(p.width), Height: float32(p.height), MinDepth: 0, MaxDepth: 1},
			Scissor:              vk.Rect2D{Extent: vk.Extent2D{Width: p.width, Height: p.height}},
			CullMode:             scene.CullNone,
			DepthTest:            p.Spec.DepthTestEnabled,
			DepthWrite:           p.Spec.DepthWriteEnabled,
		}
		if p.Output != nil {
			config.ColorAttachmentCount = p.Output.ColorAttachmentCount()
		}
		return NewGraphicsPipeline(context, config, topology, base)
	}
}

// RecordScreen encodes a lights or quad pass: inputs and parameters bound, a
// single full-screen triangle drawn. These passes carry no scene geometry, so
// the record list is empty and staleness reduces to structural invalidation.
func (p *RenderPass) RecordScreen(context *VulkanContext, cb *VulkanCommandBuffer, imageIndex uint32, pipelines *PipelineCache) error {
	if err := cb.Begin(false, false, false); err != nil {
		return err
	}
	if p.Spec.BlitInputs {
		if err := p.BlitInputs(context, cb); err != nil {
			return err
		}
	}
	p.Begin(cb, imageIndex)

	pipeline, err := pipelines.Ensure(p.Name, PipelineKeyDefault, scene.TopologyTriangleList, p.screenPipelineBuilder(context))
	if err != nil {
		return err
	}
	vk.CmdBindPipeline(cb.Handle, vk.PipelineBindPointGraphics, pipeline.Handle)

	sets := make([]vk.DescriptorSet, 0, 2)
	if p.InputSet != vk.NullDescriptorSet {
		sets = append(sets, p.InputSet)
	}
	if p.Parameters != nil {
		// Pass-global parameters bind as a plain uniform block, no dynamic
		// offset involved.
		sets = append(sets, p.Parameters.Set)
	}
	if len(sets) > 0 {
		vk.CmdBindDescriptorSets(cb.Handle, vk.PipelineBindPointGraphics, pipeline.PipelineLayout,
			0, uint32(len(sets)), sets, 0, nil)
	}

	vk.CmdDraw(cb.Handle, 3, 1, 0, 0)

	p.End(cb)
	if err := cb.End(); err != nil {
		return err
	}
	cb.MarkRecorded(nil)
	return nil
}
