package vulkan

import (
	"fmt"
	"sort"

	vk "github.com/goki/vulkan"

	"github.com/borealis-engine/borealis/engine/core"
	"github.com/borealis-engine/borealis/engine/renderer/metadata"
	"github.com/borealis-engine/borealis/engine/scene"
)

const defaultCommandRingSize = 3

// RenderPass is the runtime form of one configured renderpass: the API pass
// object, its framebuffer(s), shader stages, the command buffer ring and the
// semaphore downstream passes wait on. Destroyed and fully rebuilt on
// swapchain recreation, never partially mutated across a resize.
type RenderPass struct {
	Name string
	Spec *metadata.RenderpassSpec

	Handle vk.RenderPass

	// Output target for offscreen passes. The viewport pass has none and
	// renders into the swapchain framebuffers instead.
	Output *VulkanRenderTarget

	// Swapchain-backed framebuffers, viewport pass only, one per image.
	swapchainFramebuffers []vk.Framebuffer
	swapchainOutput       *SwapchainOutput

	// Resolved inputs in declaration order, wired after flow resolution.
	InputAttachments []*TargetAttachment
	InputSet         vk.DescriptorSet
	inputLayout      vk.DescriptorSetLayout

	// Pass-global parameters UBO, present when the spec declares parameters.
	Parameters *UniformBinding

	Stages []*VulkanShaderStage

	// Command buffer ring: explicit slot array plus cursor. Sized to the
	// swapchain image count.
	commandBuffers []*VulkanCommandBuffer
	cursor         int

	Complete vk.Semaphore

	width  uint32
	height uint32
}

// NewRenderPass builds the pass object and framebuffers. target is nil for
// the viewport pass, which renders into the swapchain's images.
func NewRenderPass(context *VulkanContext, name string, spec *metadata.RenderpassSpec, target *VulkanRenderTarget, swapchainOutput *SwapchainOutput, ringSize int) (*RenderPass, error) {
	pass := &RenderPass{
		Name:            name,
		Spec:            spec,
		Output:          target,
		swapchainOutput: swapchainOutput,
	}

	if target != nil {
		pass.width = target.Width
		pass.height = target.Height
	} else {
		pass.width = swapchainOutput.Width
		pass.height = swapchainOutput.Height
	}

	if err := pass.createPassObject(context); err != nil {
		return nil, err
	}
	if err := pass.createFramebuffers(context); err != nil {
		pass.Destroy(context)
		return nil, err
	}

	for _, shader := range spec.Shaders {
		stage, err := context.ShaderModuleCache.Load(shader)
		if err != nil {
			pass.Destroy(context)
			return nil, err
		}
		pass.Stages = append(pass.Stages, stage)
	}

	if ringSize <= 0 {
		ringSize = defaultCommandRingSize
	}
	pass.commandBuffers = make([]*VulkanCommandBuffer, ringSize)
	for i := range pass.commandBuffers {
		cb, err := NewVulkanCommandBuffer(context, context.Device.GraphicsCommandPool, true)
		if err != nil {
			pass.Destroy(context)
			return nil, err
		}
		pass.commandBuffers[i] = cb
	}

	semaphoreInfo := vk.SemaphoreCreateInfo{SType: vk.StructureTypeSemaphoreCreateInfo}
	var semaphore vk.Semaphore
	if res := vk.CreateSemaphore(context.Device.LogicalDevice, &semaphoreInfo, context.Allocator, &semaphore); res != vk.Success {
		pass.Destroy(context)
		err := fmt.Errorf("failed to create pass semaphore for `%s`: %s", name, VulkanResultString(res))
		core.LogError(err.Error())
		return nil, err
	}
	pass.Complete = semaphore

	if len(spec.Parameters) > 0 {
		if err := pass.createParametersUBO(context); err != nil {
			pass.Destroy(context)
			return nil, err
		}
	}

	core.LogDebug("created renderpass `%s` (type %s, ring %d)", name, spec.Type, ringSize)
	return pass, nil
}

// IsViewport reports whether this pass presents to the swapchain.
func (p *RenderPass) IsViewport() bool {
	return p.Spec.Output == metadata.ViewportTarget
}

func (p *RenderPass) createPassObject(context *VulkanContext) error {
	var descriptions []vk.AttachmentDescription
	var colorRefs []vk.AttachmentReference
	var depthRef *vk.AttachmentReference

	colorLoadOp := vk.AttachmentLoadOpClear
	colorInitialLayout := vk.ImageLayoutUndefined
	if p.Spec.BlitInputs {
		// Blitted content arrives before the pass begins and must survive it.
		colorLoadOp = vk.AttachmentLoadOpLoad
		colorInitialLayout = vk.ImageLayoutColorAttachmentOptimal
	}

	if p.IsViewport() {
		color := vk.AttachmentDescription{
			Format:         p.swapchainOutput.Format,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         colorLoadOp,
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  colorInitialLayout,
			FinalLayout:    vk.ImageLayoutPresentSrc,
		}
		color.Deref()
		descriptions = append(descriptions, color)
		colorRefs = append(colorRefs, vk.AttachmentReference{Attachment: 0, Layout: vk.ImageLayoutColorAttachmentOptimal})

		depth := vk.AttachmentDescription{
			Format:         context.Device.DepthFormat,
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOpClear,
			StoreOp:        vk.AttachmentStoreOpDontCare,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutUndefined,
			FinalLayout:    vk.ImageLayoutDepthStencilAttachmentOptimal,
		}
		depth.Deref()
		descriptions = append(descriptions, depth)
		depthRef = &vk.AttachmentReference{Attachment: 1, Layout: vk.ImageLayoutDepthStencilAttachmentOptimal}
	} else {
		for i, attachment := range p.Output.Attachments {
			if attachment.Format.IsDepth() {
				depth := vk.AttachmentDescription{
					Format:         attachmentVkFormat(attachment.Format),
					Samples:        vk.SampleCount1Bit,
					LoadOp:         vk.AttachmentLoadOpClear,
					StoreOp:        vk.AttachmentStoreOpStore,
					StencilLoadOp:  vk.AttachmentLoadOpDontCare,
					StencilStoreOp: vk.AttachmentStoreOpDontCare,
					InitialLayout:  vk.ImageLayoutUndefined,
					FinalLayout:    vk.ImageLayoutShaderReadOnlyOptimal,
				}
				depth.Deref()
				descriptions = append(descriptions, depth)
				depthRef = &vk.AttachmentReference{Attachment: uint32(i), Layout: vk.ImageLayoutDepthStencilAttachmentOptimal}
				continue
			}
			color := vk.AttachmentDescription{
				Format:         attachmentVkFormat(attachment.Format),
				Samples:        vk.SampleCount1Bit,
				LoadOp:         colorLoadOp,
				StoreOp:        vk.AttachmentStoreOpStore,
				StencilLoadOp:  vk.AttachmentLoadOpDontCare,
				StencilStoreOp: vk.AttachmentStoreOpDontCare,
				InitialLayout:  colorInitialLayout,
				// Sampled by downstream passes.
				FinalLayout: vk.ImageLayoutShaderReadOnlyOptimal,
			}
			color.Deref()
			descriptions = append(descriptions, color)
			colorRefs = append(colorRefs, vk.AttachmentReference{Attachment: uint32(i), Layout: vk.ImageLayoutColorAttachmentOptimal})
		}
	}

	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: uint32(len(colorRefs)),
		PColorAttachments:    colorRefs,
	}
	if depthRef != nil {
		depthRef.Deref()
		subpass.PDepthStencilAttachment = depthRef
	}
	subpass.Deref()

	dependency := vk.SubpassDependency{
		SrcSubpass:    vk.SubpassExternal,
		DstSubpass:    0,
		SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		SrcAccessMask: 0,
		DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		DstAccessMask: vk.AccessFlags(vk.AccessColorAttachmentReadBit) | vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
	}
	dependency.Deref()

	createInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(descriptions)),
		PAttachments:    descriptions,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
		DependencyCount: 1,
		PDependencies:   []vk.SubpassDependency{dependency},
	}

	var handle vk.RenderPass
	if res := vk.CreateRenderPass(context.Device.LogicalDevice, &createInfo, context.Allocator, &handle); res != vk.Success {
		err := fmt.Errorf("failed to create renderpass `%s`: %s", p.Name, VulkanResultString(res))
		core.LogError(err.Error())
		return err
	}
	p.Handle = handle
	return nil
}

func (p *RenderPass) createFramebuffers(context *VulkanContext) error {
	if !p.IsViewport() {
		return p.Output.CreateFramebuffer(context, p.Handle)
	}

	p.swapchainFramebuffers = make([]vk.Framebuffer, len(p.swapchainOutput.Views))
	for i, view := range p.swapchainOutput.Views {
		attachments := []vk.ImageView{view, p.swapchainOutput.DepthAttachment.View}
		createInfo := vk.FramebufferCreateInfo{
			SType:           vk.StructureTypeFramebufferCreateInfo,
			RenderPass:      p.Handle,
			AttachmentCount: uint32(len(attachments)),
			PAttachments:    attachments,
			Width:           p.swapchainOutput.Width,
			Height:          p.swapchainOutput.Height,
			Layers:          1,
		}
		var handle vk.Framebuffer
		if res := vk.CreateFramebuffer(context.Device.LogicalDevice, &createInfo, context.Allocator, &handle); res != vk.Success {
			err := fmt.Errorf("failed to create swapchain framebuffer for `%s`: %s", p.Name, VulkanResultString(res))
			core.LogError(err.Error())
			return err
		}
		p.swapchainFramebuffers[i] = handle
	}
	return nil
}

// createParametersUBO derives the "ShaderParameters-<pass>" block from the
// configured parameters: float and float-list values in sorted key order,
// 16-byte aligned.
func (p *RenderPass) createParametersUBO(context *VulkanContext) error {
	keys := make([]string, 0, len(p.Spec.Parameters))
	for k := range p.Spec.Parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	spec := &ShaderUBOSpec{
		Name:    LayoutShaderParameters(p.Name),
		Set:     1,
		Binding: 0,
	}
	values := make(map[string][]float32, len(keys))
	offset := uint32(0)
	for _, k := range keys {
		floats := parameterFloats(p.Spec.Parameters[k])
		if floats == nil {
			core.LogWarn("renderpass `%s`: parameter `%s` is not numeric, skipped", p.Name, k)
			continue
		}
		size := uint32(len(floats) * 4)
		spec.Members = append(spec.Members, ShaderUBOMember{Name: k, Offset: offset, Range: size})
		values[k] = floats
		offset = alignUp32(offset+size, 16)
	}
	if len(spec.Members) == 0 {
		return nil
	}
	spec.Size = alignUp32(offset, 16)

	ubo, err := NewUBO(context, spec, 1)
	if err != nil {
		return err
	}
	for _, m := range spec.Members {
		v := values[m.Name]
		if err := ubo.AddMember(m.Name, func() []float32 { return v }); err != nil {
			ubo.Destroy(context)
			return err
		}
	}

	layout, err := context.DescriptorLayoutCache.Get(spec.Name, []vk.DescriptorSetLayoutBinding{
		PlainUniformBufferBinding(0, vk.ShaderStageFlags(vk.ShaderStageVertexBit)|vk.ShaderStageFlags(vk.ShaderStageFragmentBit)),
	})
	if err != nil {
		ubo.Destroy(context)
		return err
	}
	set, err := AllocateDescriptorSet(context, layout)
	if err != nil {
		ubo.Destroy(context)
		return err
	}
	WritePlainBufferDescriptor(context, set, 0, ubo.Buffer, 0, uint64(spec.Size))
	if _, err := ubo.WriteNext(context); err != nil {
		ubo.Destroy(context)
		return err
	}

	p.Parameters = &UniformBinding{Set: set, UBO: ubo}
	return nil
}

func parameterFloats(value interface{}) []float32 {
	switch v := value.(type) {
	case float64:
		return []float32{float32(v)}
	case int64:
		return []float32{float32(v)}
	case []interface{}:
		out := make([]float32, 0, len(v))
		for _, e := range v {
			f := parameterFloats(e)
			if f == nil {
				return nil
			}
			out = append(out, f...)
		}
		return out
	}
	return nil
}

// WireInputs resolves the pass's declared inputs against the producing
// targets and builds the "input-<pass>-<set>" descriptor set sampling them,
// in declaration order.
func (p *RenderPass) WireInputs(context *VulkanContext, bindings []metadata.InputBinding, targets map[string]*VulkanRenderTarget) error {
	p.InputAttachments = p.InputAttachments[:0]
	for _, binding := range bindings {
		target, ok := targets[binding.Target]
		if !ok {
			err := fmt.Errorf("%w: renderpass `%s` input `%s` has no runtime target", core.ErrConsistency, p.Name, binding.Name)
			core.LogError(err.Error())
			return err
		}
		if binding.Attachment != "" {
			attachment := target.Attachment(binding.Attachment)
			if attachment == nil {
				err := fmt.Errorf("%w: renderpass `%s` input `%s` names a missing attachment", core.ErrConsistency, p.Name, binding.Name)
				core.LogError(err.Error())
				return err
			}
			p.InputAttachments = append(p.InputAttachments, attachment)
			continue
		}
		p.InputAttachments = append(p.InputAttachments, target.Attachments...)
	}
	if len(p.InputAttachments) == 0 {
		return nil
	}

	layoutBindings := make([]vk.DescriptorSetLayoutBinding, len(p.InputAttachments))
	for i := range p.InputAttachments {
		layoutBindings[i] = SamplerBinding(uint32(i))
	}
	layout, err := context.DescriptorLayoutCache.Get(LayoutPassInput(p.Name, 0), layoutBindings)
	if err != nil {
		return err
	}
	p.inputLayout = layout

	set, err := AllocateDescriptorSet(context, layout)
	if err != nil {
		return err
	}
	for i, attachment := range p.InputAttachments {
		WriteSamplerDescriptor(context, set, uint32(i), attachment.Image.View, attachment.Sampler)
	}
	p.InputSet = set
	return nil
}

// CurrentCommandBuffer returns the ring slot under the cursor.
func (p *RenderPass) CurrentCommandBuffer() *VulkanCommandBuffer {
	return p.commandBuffers[p.cursor]
}

// AdvanceCommandBuffer moves the cursor to the next ring slot and returns it.
func (p *RenderPass) AdvanceCommandBuffer() *VulkanCommandBuffer {
	p.cursor = (p.cursor + 1) % len(p.commandBuffers)
	return p.commandBuffers[p.cursor]
}

// InvalidateCommandBuffers forces every ring slot to re-record on next use.
func (p *RenderPass) InvalidateCommandBuffers() {
	for _, cb := range p.commandBuffers {
		cb.Invalidate()
	}
}

func (p *RenderPass) framebufferFor(imageIndex uint32) vk.Framebuffer {
	if p.IsViewport() {
		return p.swapchainFramebuffers[imageIndex]
	}
	return p.Output.Handle
}

// Begin starts the pass on the command buffer and sets the dynamic viewport
// and scissor from the spec's fractional viewport.
func (p *RenderPass) Begin(cb *VulkanCommandBuffer, imageIndex uint32) {
	clearValues := p.clearValues()
	beginInfo := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  p.Handle,
		Framebuffer: p.framebufferFor(imageIndex),
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: 0, Y: 0},
			Extent: vk.Extent2D{Width: p.width, Height: p.height},
		},
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues,
	}
	vk.CmdBeginRenderPass(cb.Handle, &beginInfo, vk.SubpassContentsInline)
	cb.State = COMMAND_BUFFER_STATE_IN_RENDER_PASS

	ox, oy := 0.0, 0.0
	sw, sh := 1.0, 1.0
	if len(p.Spec.ViewportOffset) == 2 {
		ox, oy = p.Spec.ViewportOffset[0], p.Spec.ViewportOffset[1]
	}
	if len(p.Spec.ViewportSize) == 2 {
		sw, sh = p.Spec.ViewportSize[0], p.Spec.ViewportSize[1]
	}
	viewport := vk.Viewport{
		X:        float32(ox * float64(p.width)),
		Y:        float32(oy * float64(p.height)),
		Width:    float32(sw * float64(p.width)),
		Height:   float32(sh * float64(p.height)),
		MinDepth: 0,
		MaxDepth: 1,
	}
	vk.CmdSetViewport(cb.Handle, 0, 1, []vk.Viewport{viewport})
	scissor := vk.Rect2D{
		Offset: vk.Offset2D{X: int32(ox * float64(p.width)), Y: int32(oy * float64(p.height))},
		Extent: vk.Extent2D{Width: uint32(sw * float64(p.width)), Height: uint32(sh * float64(p.height))},
	}
	vk.CmdSetScissor(cb.Handle, 0, 1, []vk.Rect2D{scissor})
}

func (p *RenderPass) clearValues() []vk.ClearValue {
	count := 2
	depthIndex := 1
	if !p.IsViewport() {
		count = len(p.Output.Attachments)
		depthIndex = -1
		for i, a := range p.Output.Attachments {
			if a.Format.IsDepth() {
				depthIndex = i
			}
		}
	}
	values := make([]vk.ClearValue, count)
	for i := range values {
		if i == depthIndex {
			values[i].SetDepthStencil(1.0, 0)
		} else {
			values[i].SetColor([]float32{0, 0, 0, 1})
		}
	}
	return values
}

// End closes the pass on the command buffer.
func (p *RenderPass) End(cb *VulkanCommandBuffer) {
	vk.CmdEndRenderPass(cb.Handle)
	cb.State = COMMAND_BUFFER_STATE_RECORDING
}

// BlitInputs copies each resolved input attachment into the pass's own color
// attachment of the same position, with explicit layout transitions on both
// sides. Used to combine earlier results before rendering on top of them.
func (p *RenderPass) BlitInputs(context *VulkanContext, cb *VulkanCommandBuffer) error {
	if p.Output == nil {
		return fmt.Errorf("renderpass `%s`: blit_inputs requires an offscreen output", p.Name)
	}
	colorAspect := vk.ImageAspectFlags(vk.ImageAspectColorBit)

	dstIndex := 0
	for _, src := range p.InputAttachments {
		if src.Format.IsDepth() {
			continue
		}
		var dst *TargetAttachment
		for dstIndex < len(p.Output.Attachments) {
			candidate := p.Output.Attachments[dstIndex]
			dstIndex++
			if !candidate.Format.IsDepth() {
				dst = candidate
				break
			}
		}
		if dst == nil {
			break
		}

		ImageTransitionLayout(cb, src.Image.Handle, colorAspect,
			vk.ImageLayoutShaderReadOnlyOptimal, vk.ImageLayoutTransferSrcOptimal,
			vk.AccessFlags(vk.AccessShaderReadBit), vk.AccessFlags(vk.AccessTransferReadBit),
			vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit), vk.PipelineStageFlags(vk.PipelineStageTransferBit))
		ImageTransitionLayout(cb, dst.Image.Handle, colorAspect,
			vk.ImageLayoutUndefined, vk.ImageLayoutTransferDstOptimal,
			0, vk.AccessFlags(vk.AccessTransferWriteBit),
			vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit), vk.PipelineStageFlags(vk.PipelineStageTransferBit))

		blit := vk.ImageBlit{
			SrcSubresource: vk.ImageSubresourceLayers{AspectMask: colorAspect, LayerCount: 1},
			DstSubresource: vk.ImageSubresourceLayers{AspectMask: colorAspect, LayerCount: 1},
		}
		blit.SrcOffsets[1] = vk.Offset3D{X: int32(src.Image.Width), Y: int32(src.Image.Height), Z: 1}
		blit.DstOffsets[1] = vk.Offset3D{X: int32(dst.Image.Width), Y: int32(dst.Image.Height), Z: 1}
		vk.CmdBlitImage(cb.Handle,
			src.Image.Handle, vk.ImageLayoutTransferSrcOptimal,
			dst.Image.Handle, vk.ImageLayoutTransferDstOptimal,
			1, []vk.ImageBlit{blit}, vk.FilterLinear)

		ImageTransitionLayout(cb, src.Image.Handle, colorAspect,
			vk.ImageLayoutTransferSrcOptimal, vk.ImageLayoutShaderReadOnlyOptimal,
			vk.AccessFlags(vk.AccessTransferReadBit), vk.AccessFlags(vk.AccessShaderReadBit),
			vk.PipelineStageFlags(vk.PipelineStageTransferBit), vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit))
		ImageTransitionLayout(cb, dst.Image.Handle, colorAspect,
			vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutColorAttachmentOptimal,
			vk.AccessFlags(vk.AccessTransferWriteBit), vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
			vk.PipelineStageFlags(vk.PipelineStageTransferBit), vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit))
	}
	return nil
}

func (p *RenderPass) Destroy(context *VulkanContext) {
	if p.Complete != vk.NullSemaphore {
		vk.DestroySemaphore(context.Device.LogicalDevice, p.Complete, context.Allocator)
		p.Complete = vk.NullSemaphore
	}
	for _, cb := range p.commandBuffers {
		if cb != nil {
			cb.Free(context, context.Device.GraphicsCommandPool)
		}
	}
	p.commandBuffers = nil
	if p.Parameters != nil {
		p.Parameters.UBO.Destroy(context)
		p.Parameters = nil
	}
	for _, fb := range p.swapchainFramebuffers {
		if fb != vk.NullFramebuffer {
			vk.DestroyFramebuffer(context.Device.LogicalDevice, fb, context.Allocator)
		}
	}
	p.swapchainFramebuffers = nil
	if p.Output != nil {
		p.Output.Destroy(context)
	}
	if p.Handle != vk.NullRenderPass {
		vk.DestroyRenderPass(context.Device.LogicalDevice, p.Handle, context.Allocator)
		p.Handle = vk.NullRenderPass
	}
}
