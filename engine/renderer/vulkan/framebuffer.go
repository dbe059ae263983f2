package vulkan

import (
	"fmt"
	"sort"

	vk "github.com/goki/vulkan"

	"github.com/borealis-engine/borealis/engine/core"
	"github.com/borealis-engine/borealis/engine/renderer/metadata"
)

func attachmentVkFormat(format metadata.AttachmentFormat) vk.Format {
	switch format {
	case metadata.FormatRGBAFloat32:
		return vk.FormatR32g32b32a32Sfloat
	case metadata.FormatRGBAFloat16:
		return vk.FormatR16g16b16a16Sfloat
	case metadata.FormatRGBFloat32:
		return vk.FormatR32g32b32Sfloat
	case metadata.FormatRGBFloat16:
		return vk.FormatR16g16b16Sfloat
	case metadata.FormatRGFloat32:
		return vk.FormatR32g32Sfloat
	case metadata.FormatRGFloat16:
		return vk.FormatR16g16Sfloat
	case metadata.FormatRGBAUInt16:
		return vk.FormatR16g16b16a16Unorm
	case metadata.FormatRGBAUInt8:
		return vk.FormatR8g8b8a8Unorm
	case metadata.FormatRUInt16:
		return vk.FormatR16Unorm
	case metadata.FormatRUInt8:
		return vk.FormatR8Unorm
	case metadata.FormatDepth32:
		return vk.FormatD32Sfloat
	case metadata.FormatDepth24:
		return vk.FormatX8D24UnormPack32
	}
	return vk.FormatUndefined
}

// TargetAttachment is one image of a rendertarget, sampled by downstream
// passes through the input wiring.
type TargetAttachment struct {
	Name    string
	Format  metadata.AttachmentFormat
	Image   *VulkanImage
	Sampler vk.Sampler
}

// VulkanRenderTarget owns the attachment images of one declared rendertarget
// plus the framebuffer binding them to a pass. Recreated wholesale on resize.
type VulkanRenderTarget struct {
	Name   string
	Width  uint32
	Height uint32

	// Color attachments in name order, then the depth attachment last. The
	// pass's attachment descriptions follow the same order.
	Attachments []*TargetAttachment

	Handle vk.Framebuffer
}

// NewRenderTarget creates the attachment images for the spec, sized relative
// to the current framebuffer size.
func NewRenderTarget(context *VulkanContext, name string, spec *metadata.RenderTargetSpec) (*VulkanRenderTarget, error) {
	fw, fh := spec.SizeOrDefault()
	width := uint32(float64(context.FramebufferWidth) * fw)
	height := uint32(float64(context.FramebufferHeight) * fh)
	if width == 0 {
		width = 1
	}
	if height == 0 {
		height = 1
	}

	target := &VulkanRenderTarget{
		Name:   name,
		Width:  width,
		Height: height,
	}

	colorNames := make([]string, 0, len(spec.Attachments))
	depthName := ""
	for attachmentName, format := range spec.Attachments {
		if format.IsDepth() {
			depthName = attachmentName
			continue
		}
		colorNames = append(colorNames, attachmentName)
	}
	sort.Strings(colorNames)

	for _, attachmentName := range colorNames {
		attachment, err := newTargetAttachment(context, attachmentName, spec.Attachments[attachmentName], width, height)
		if err != nil {
			target.Destroy(context)
			return nil, err
		}
		target.Attachments = append(target.Attachments, attachment)
	}
	if depthName != "" {
		attachment, err := newTargetAttachment(context, depthName, spec.Attachments[depthName], width, height)
		if err != nil {
			target.Destroy(context)
			return nil, err
		}
		target.Attachments = append(target.Attachments, attachment)
	}

	return target, nil
}

func newTargetAttachment(context *VulkanContext, name string, format metadata.AttachmentFormat, width, height uint32) (*TargetAttachment, error) {
	vkFormat := attachmentVkFormat(format)
	if vkFormat == vk.FormatUndefined {
		err := fmt.Errorf("rendertarget attachment `%s` has unmappable format `%s`", name, format)
		core.LogError(err.Error())
		return nil, err
	}

	usage := vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageSampledBit | vk.ImageUsageTransferSrcBit | vk.ImageUsageTransferDstBit)
	aspect := vk.ImageAspectFlags(vk.ImageAspectColorBit)
	if format.IsDepth() {
		usage = vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit | vk.ImageUsageSampledBit)
		aspect = vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	}

	image, err := ImageCreate(context,
		vk.ImageType2d,
		width, height,
		vkFormat,
		vk.ImageTilingOptimal,
		usage,
		vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit),
		true,
		aspect)
	if err != nil {
		return nil, err
	}

	sampler, err := newSampler(context)
	if err != nil {
		image.ImageDestroy(context)
		return nil, err
	}

	return &TargetAttachment{
		Name:    name,
		Format:  format,
		Image:   image,
		Sampler: sampler,
	}, nil
}

// Attachment returns the named attachment, or nil.
func (t *VulkanRenderTarget) Attachment(name string) *TargetAttachment {
	for _, a := range t.Attachments {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// ColorAttachmentCount reports how many non-depth attachments the target has.
func (t *VulkanRenderTarget) ColorAttachmentCount() uint32 {
	var n uint32
	for _, a := range t.Attachments {
		if !a.Format.IsDepth() {
			n++
		}
	}
	return n
}

// CreateFramebuffer binds the target's views to the given pass object. Called
// once per owning pass after the pass handle exists.
func (t *VulkanRenderTarget) CreateFramebuffer(context *VulkanContext, renderpass vk.RenderPass) error {
	views := make([]vk.ImageView, len(t.Attachments))
	for i, a := range t.Attachments {
		views[i] = a.Image.View
	}

	createInfo := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      renderpass,
		AttachmentCount: uint32(len(views)),
		PAttachments:    views,
		Width:           t.Width,
		Height:          t.Height,
		Layers:          1,
	}

	var handle vk.Framebuffer
	if res := vk.CreateFramebuffer(context.Device.LogicalDevice, &createInfo, context.Allocator, &handle); res != vk.Success {
		err := fmt.Errorf("failed to create framebuffer for target `%s`: %s", t.Name, VulkanResultString(res))
		core.LogError(err.Error())
		return err
	}
	t.Handle = handle
	return nil
}

func (t *VulkanRenderTarget) Destroy(context *VulkanContext) {
	if t.Handle != vk.NullFramebuffer {
		vk.DestroyFramebuffer(context.Device.LogicalDevice, t.Handle, context.Allocator)
		t.Handle = vk.NullFramebuffer
	}
	for _, a := range t.Attachments {
		if a.Sampler != vk.NullSampler {
			vk.DestroySampler(context.Device.LogicalDevice, a.Sampler, context.Allocator)
			a.Sampler = vk.NullSampler
		}
		if a.Image != nil {
			a.Image.ImageDestroy(context)
			a.Image = nil
		}
	}
	t.Attachments = nil
}
