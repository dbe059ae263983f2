package vulkan

import (
	"fmt"
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/borealis-engine/borealis/engine/core"
	"github.com/borealis-engine/borealis/engine/scene"
)

// PipelineKeyDefault is the key of a pass's default pipeline, built from the
// pass's configured shader files.
const PipelineKeyDefault = "default"

// PipelineKeyPreferred names an object's custom-shader pipeline.
func PipelineKeyPreferred(objectID string) string {
	return fmt.Sprintf("preferred-%s", objectID)
}

// VulkanPipeline holds a pipeline, its layout and the topology it was built
// for.
type VulkanPipeline struct {
	Handle         vk.Pipeline
	PipelineLayout vk.PipelineLayout
	Topology       scene.GeometryTopology
}

// VulkanPipelineConfig is everything needed to build one graphics pipeline.
// Material-level overrides (culling, depth compare, blending) are carried
// here so preferred pipelines can differ from the pass default.
type VulkanPipelineConfig struct {
	Renderpass           vk.RenderPass
	ColorAttachmentCount uint32
	Stride               uint32
	Attributes           []vk.VertexInputAttributeDescription
	DescriptorSetLayouts []vk.DescriptorSetLayout
	Stages               []vk.PipelineShaderStageCreateInfo
	Viewport             vk.Viewport
	Scissor              vk.Rect2D
	CullMode             scene.CullingMode
	DepthTest            bool
	DepthWrite           bool
	DepthCompare         scene.DepthCompareOp
	Blending             scene.Blending
	IsWireframe          bool
	PushConstantRanges   []ShaderPushConstantSpec
}

func vulkanTopology(topology scene.GeometryTopology) vk.PrimitiveTopology {
	switch topology {
	case scene.TopologyTriangleStrip:
		return vk.PrimitiveTopologyTriangleStrip
	case scene.TopologyTriangleFan:
		return vk.PrimitiveTopologyTriangleFan
	case scene.TopologyLineList:
		return vk.PrimitiveTopologyLineList
	case scene.TopologyLineStripAdjacency:
		return vk.PrimitiveTopologyLineStripWithAdjacency
	case scene.TopologyLineListAdjacency:
		return vk.PrimitiveTopologyLineListWithAdjacency
	case scene.TopologyPointList:
		return vk.PrimitiveTopologyPointList
	default:
		return vk.PrimitiveTopologyTriangleList
	}
}

func vulkanCullMode(mode scene.CullingMode) vk.CullModeFlags {
	switch mode {
	case scene.CullNone:
		return vk.CullModeFlags(vk.CullModeNone)
	case scene.CullFront:
		return vk.CullModeFlags(vk.CullModeFrontBit)
	case scene.CullFrontAndBack:
		return vk.CullModeFlags(vk.CullModeFrontAndBack)
	default:
		return vk.CullModeFlags(vk.CullModeBackBit)
	}
}

func vulkanDepthCompare(op scene.DepthCompareOp) vk.CompareOp {
	switch op {
	case scene.DepthLess:
		return vk.CompareOpLess
	case scene.DepthEqual:
		return vk.CompareOpEqual
	case scene.DepthGreater:
		return vk.CompareOpGreater
	case scene.DepthAlways:
		return vk.CompareOpAlways
	default:
		return vk.CompareOpLessOrEqual
	}
}

func vulkanBlendFactor(factor scene.BlendFactor) vk.BlendFactor {
	switch factor {
	case scene.BlendOneMinusSrcAlpha:
		return vk.BlendFactorOneMinusSrcAlpha
	case scene.BlendOne:
		return vk.BlendFactorOne
	case scene.BlendZero:
		return vk.BlendFactorZero
	default:
		return vk.BlendFactorSrcAlpha
	}
}

// NewGraphicsPipeline builds a pipeline for the given topology. When base is
// nil the pipeline is created as a derivative parent; otherwise it derives
// from base, which must have been built with triangle list topology.
func NewGraphicsPipeline(context *VulkanContext, config *VulkanPipelineConfig, topology scene.GeometryTopology, base *VulkanPipeline) (*VulkanPipeline, error) {
	outPipeline := &VulkanPipeline{Topology: topology}

	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		PViewports:    []vk.Viewport{config.Viewport},
		ScissorCount:  1,
		PScissors:     []vk.Rect2D{config.Scissor},
	}
	viewportState.Deref()

	rasterizerCreateInfo := vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        vk.False,
		RasterizerDiscardEnable: vk.False,
		PolygonMode:             vk.PolygonModeFill,
		LineWidth:               1.0,
		FrontFace:               vk.FrontFaceCounterClockwise,
		DepthBiasEnable:         vk.False,
		CullMode:                vulkanCullMode(config.CullMode),
	}
	if config.IsWireframe {
		rasterizerCreateInfo.PolygonMode = vk.PolygonModeLine
	}
	rasterizerCreateInfo.Deref()

	multisamplingCreateInfo := vk.PipelineMultisampleStateCreateInfo{
		SType:                 vk.StructureTypePipelineMultisampleStateCreateInfo,
		SampleShadingEnable:   vk.False,
		RasterizationSamples:  vk.SampleCount1Bit,
		MinSampleShading:      1.0,
		PSampleMask:           nil,
		AlphaToCoverageEnable: vk.False,
		AlphaToOneEnable:      vk.False,
	}
	multisamplingCreateInfo.Deref()

	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:             vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:   vk.False,
		DepthWriteEnable:  vk.False,
		StencilTestEnable: vk.False,
	}
	if config.DepthTest {
		depthStencil.DepthTestEnable = vk.True
		depthStencil.DepthCompareOp = vulkanDepthCompare(config.DepthCompare)
		depthStencil.DepthBoundsTestEnable = vk.False
	}
	if config.DepthWrite {
		depthStencil.DepthWriteEnable = vk.True
	}
	depthStencil.Deref()

	// Every color attachment of the pass gets the same blend state.
	blendAttachment := vk.PipelineColorBlendAttachmentState{
		BlendEnable: vk.False,
		ColorWriteMask: vk.ColorComponentFlags(vk.ColorComponentRBit) | vk.ColorComponentFlags(vk.ColorComponentGBit) |
			vk.ColorComponentFlags(vk.ColorComponentBBit) | vk.ColorComponentFlags(vk.ColorComponentABit),
	}
	if config.Blending.Enabled {
		blendAttachment.BlendEnable = vk.True
		blendAttachment.SrcColorBlendFactor = vulkanBlendFactor(config.Blending.SrcColorFactor)
		blendAttachment.DstColorBlendFactor = vulkanBlendFactor(config.Blending.DstColorFactor)
		blendAttachment.ColorBlendOp = vk.BlendOpAdd
		blendAttachment.SrcAlphaBlendFactor = vulkanBlendFactor(config.Blending.SrcAlphaFactor)
		blendAttachment.DstAlphaBlendFactor = vulkanBlendFactor(config.Blending.DstAlphaFactor)
		blendAttachment.AlphaBlendOp = vk.BlendOpAdd
	}
	blendAttachment.Deref()

	attachmentCount := config.ColorAttachmentCount
	if attachmentCount == 0 {
		attachmentCount = 1
	}
	blendAttachments := make([]vk.PipelineColorBlendAttachmentState, attachmentCount)
	for i := range blendAttachments {
		blendAttachments[i] = blendAttachment
	}

	colorBlendStateCreateInfo := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vk.False,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: attachmentCount,
		PAttachments:    blendAttachments,
	}
	colorBlendStateCreateInfo.Deref()

	dynamicStates := []vk.DynamicState{
		vk.DynamicStateViewport,
		vk.DynamicStateScissor,
		vk.DynamicStateLineWidth,
	}
	dynamicStateCreateInfo := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}
	dynamicStateCreateInfo.Deref()

	vertexInputInfo := vk.PipelineVertexInputStateCreateInfo{
		SType: vk.StructureTypePipelineVertexInputStateCreateInfo,
	}
	if config.Stride > 0 {
		bindingDescription := vk.VertexInputBindingDescription{
			Binding:   0,
			Stride:    config.Stride,
			InputRate: vk.VertexInputRateVertex,
		}
		bindingDescription.Deref()
		vertexInputInfo.VertexBindingDescriptionCount = 1
		vertexInputInfo.PVertexBindingDescriptions = []vk.VertexInputBindingDescription{bindingDescription}
		vertexInputInfo.VertexAttributeDescriptionCount = uint32(len(config.Attributes))
		vertexInputInfo.PVertexAttributeDescriptions = config.Attributes
	}
	vertexInputInfo.Deref()

	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               vulkanTopology(topology),
		PrimitiveRestartEnable: vk.False,
	}
	inputAssembly.Deref()

	pipelineLayoutCreateInfo := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: uint32(len(config.DescriptorSetLayouts)),
		PSetLayouts:    config.DescriptorSetLayouts,
	}
	if len(config.PushConstantRanges) > 0 {
		ranges := make([]vk.PushConstantRange, len(config.PushConstantRanges))
		for i, r := range config.PushConstantRanges {
			ranges[i] = vk.PushConstantRange{
				StageFlags: vk.ShaderStageFlags(vk.ShaderStageVertexBit) | vk.ShaderStageFlags(vk.ShaderStageFragmentBit),
				Offset:     r.Offset,
				Size:       r.Size,
			}
			ranges[i].Deref()
		}
		pipelineLayoutCreateInfo.PushConstantRangeCount = uint32(len(ranges))
		pipelineLayoutCreateInfo.PPushConstantRanges = ranges
	}
	pipelineLayoutCreateInfo.Deref()

	var pipelineLayout vk.PipelineLayout
	if err := context.LockPool.SafeCall(PipelineManagement, func() error {
		if res := vk.CreatePipelineLayout(context.Device.LogicalDevice, &pipelineLayoutCreateInfo, context.Allocator, &pipelineLayout); !VulkanResultIsSuccess(res) {
			return fmt.Errorf("vkCreatePipelineLayout failed with %s", VulkanResultString(res))
		}
		return nil
	}); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	outPipeline.PipelineLayout = pipelineLayout

	pipelineCreateInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(config.Stages)),
		PStages:             config.Stages,
		PVertexInputState:   &vertexInputInfo,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizerCreateInfo,
		PMultisampleState:   &multisamplingCreateInfo,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colorBlendStateCreateInfo,
		PDynamicState:       &dynamicStateCreateInfo,
		PTessellationState:  nil,
		Layout:              outPipeline.PipelineLayout,
		RenderPass:          config.Renderpass,
		Subpass:             0,
		BasePipelineHandle:  vk.NullPipeline,
		BasePipelineIndex:   -1,
	}
	if base != nil {
		pipelineCreateInfo.Flags = vk.PipelineCreateFlags(vk.PipelineCreateDerivativeBit)
		pipelineCreateInfo.BasePipelineHandle = base.Handle
	} else {
		pipelineCreateInfo.Flags = vk.PipelineCreateFlags(vk.PipelineCreateAllowDerivativesBit)
	}
	pipelineCreateInfo.Deref()

	pipelines := make([]vk.Pipeline, 1)
	if err := context.LockPool.SafeCall(PipelineManagement, func() error {
		res := vk.CreateGraphicsPipelines(
			context.Device.LogicalDevice,
			vk.NullPipelineCache,
			1,
			[]vk.GraphicsPipelineCreateInfo{pipelineCreateInfo},
			context.Allocator,
			pipelines)
		if !VulkanResultIsSuccess(res) {
			return fmt.Errorf("vkCreateGraphicsPipelines failed with %s", VulkanResultString(res))
		}
		return nil
	}); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	outPipeline.Handle = pipelines[0]

	core.LogDebug("graphics pipeline created (topology %s)", topology)
	return outPipeline, nil
}

func (pipeline *VulkanPipeline) Destroy(context *VulkanContext) error {
	if pipeline.Handle != vk.NullPipeline {
		if err := context.LockPool.SafeCall(PipelineManagement, func() error {
			vk.DestroyPipeline(context.Device.LogicalDevice, pipeline.Handle, context.Allocator)
			pipeline.Handle = vk.NullPipeline
			return nil
		}); err != nil {
			return err
		}
	}
	if pipeline.PipelineLayout != vk.NullPipelineLayout {
		if err := context.LockPool.SafeCall(PipelineManagement, func() error {
			vk.DestroyPipelineLayout(context.Device.LogicalDevice, pipeline.PipelineLayout, context.Allocator)
			pipeline.PipelineLayout = vk.NullPipelineLayout
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

func (pipeline *VulkanPipeline) Bind(context *VulkanContext, commandBuffer *VulkanCommandBuffer, bindPoint vk.PipelineBindPoint) error {
	return context.LockPool.SafeCall(CommandBufferManagement, func() error {
		vk.CmdBindPipeline(commandBuffer.Handle, bindPoint, pipeline.Handle)
		return nil
	})
}

// PipelineBuilder produces a pipeline for one topology, deriving from base
// when base is non-nil.
type PipelineBuilder func(topology scene.GeometryTopology, base *VulkanPipeline) (*VulkanPipeline, error)

type pipelineCacheKey struct {
	pass     string
	key      string
	topology scene.GeometryTopology
}

// PipelineCache caches pipelines per (pass, key, topology), scoped to one
// renderer instance. The triangle list pipeline of a (pass, key) pair is
// built first so the other topologies can derive from it.
type PipelineCache struct {
	pipelines map[pipelineCacheKey]*VulkanPipeline
	mu        sync.RWMutex
}

func NewPipelineCache() *PipelineCache {
	return &PipelineCache{
		pipelines: make(map[pipelineCacheKey]*VulkanPipeline),
	}
}

// Get returns the cached pipeline for the triple, or nil.
func (c *PipelineCache) Get(pass, key string, topology scene.GeometryTopology) *VulkanPipeline {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pipelines[pipelineCacheKey{pass, key, topology}]
}

// Ensure returns the cached pipeline for the triple, building it (and the
// triangle list base it derives from, when missing) on first request.
func (c *PipelineCache) Ensure(pass, key string, topology scene.GeometryTopology, build PipelineBuilder) (*VulkanPipeline, error) {
	if p := c.Get(pass, key, topology); p != nil {
		return p, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	baseKey := pipelineCacheKey{pass, key, scene.TopologyTriangleList}
	base := c.pipelines[baseKey]
	if base == nil {
		built, err := build(scene.TopologyTriangleList, nil)
		if err != nil {
			return nil, err
		}
		c.pipelines[baseKey] = built
		base = built
	}
	if topology == scene.TopologyTriangleList {
		return base, nil
	}

	wantKey := pipelineCacheKey{pass, key, topology}
	if p := c.pipelines[wantKey]; p != nil {
		return p, nil
	}
	derived, err := build(topology, base)
	if err != nil {
		return nil, err
	}
	c.pipelines[wantKey] = derived
	return derived, nil
}

// Drop removes and destroys every topology variant of a (pass, key) family,
// forcing a rebuild on next use. The caller must ensure the GPU is done with
// the family before dropping it.
func (c *PipelineCache) Drop(context *VulkanContext, pass, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, p := range c.pipelines {
		if k.pass == pass && k.key == key {
			p.Destroy(context)
			delete(c.pipelines, k)
		}
	}
}

// DestroyPass releases every pipeline cached under the pass name.
func (c *PipelineCache) DestroyPass(context *VulkanContext, pass string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, p := range c.pipelines {
		if k.pass == pass {
			p.Destroy(context)
			delete(c.pipelines, k)
		}
	}
}

// Destroy releases every cached pipeline.
func (c *PipelineCache) Destroy(context *VulkanContext) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, p := range c.pipelines {
		p.Destroy(context)
		delete(c.pipelines, k)
	}
}
