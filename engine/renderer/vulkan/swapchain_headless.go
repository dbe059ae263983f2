package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/borealis-engine/borealis/engine/core"
)

const headlessImageCount = 3

// HeadlessSwapchain renders offscreen: it owns its presentable images and
// "presents" by copying the rendered image into a CPU-readable buffer. The
// frame loop drives it through the same interface as the windowed chain.
type HeadlessSwapchain struct {
	output   SwapchainOutput
	images   []*VulkanImage
	readback *VulkanBuffer

	frameCounter uint64
}

func NewHeadlessSwapchain() *HeadlessSwapchain {
	return &HeadlessSwapchain{}
}

func (s *HeadlessSwapchain) ImageCount() uint32 {
	return uint32(len(s.images))
}

func (s *HeadlessSwapchain) GetOutput() *SwapchainOutput {
	return &s.output
}

func (s *HeadlessSwapchain) Create(context *VulkanContext) error {
	width := context.FramebufferWidth
	height := context.FramebufferHeight
	if width == 0 || height == 0 {
		return fmt.Errorf("headless swapchain: zero framebuffer size")
	}

	format := vk.FormatB8g8r8a8Unorm
	images := make([]*VulkanImage, headlessImageCount)
	views := make([]vk.ImageView, headlessImageCount)
	rawImages := make([]vk.Image, headlessImageCount)
	for i := range images {
		img, err := ImageCreate(context,
			vk.ImageType2d,
			width, height,
			format,
			vk.ImageTilingOptimal,
			vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit|vk.ImageUsageTransferSrcBit),
			vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit),
			true,
			vk.ImageAspectFlags(vk.ImageAspectColorBit))
		if err != nil {
			s.Destroy(context)
			return err
		}
		images[i] = img
		views[i] = img.View
		rawImages[i] = img.Handle
	}

	if !DeviceDetectDepthFormat(context.Device) {
		err := fmt.Errorf("no supported depth format found")
		core.LogError(err.Error())
		return err
	}
	depth, err := ImageCreate(context,
		vk.ImageType2d,
		width, height,
		context.Device.DepthFormat,
		vk.ImageTilingOptimal,
		vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit),
		true,
		vk.ImageAspectFlags(vk.ImageAspectDepthBit))
	if err != nil {
		s.Destroy(context)
		return err
	}

	readback, err := NewVulkanBuffer(context,
		uint64(width)*uint64(height)*4,
		vk.BufferUsageFlags(vk.BufferUsageTransferDstBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
	if err != nil {
		s.Destroy(context)
		return err
	}

	s.images = images
	s.readback = readback
	s.output = SwapchainOutput{
		Images:          rawImages,
		Views:           views,
		Format:          format,
		Width:           width,
		Height:          height,
		DepthAttachment: depth,
	}
	context.CurrentFrame = 0

	core.LogInfo("Headless swapchain created (%dx%d, %d images)", width, height, headlessImageCount)
	return nil
}

func (s *HeadlessSwapchain) Recreate(context *VulkanContext) error {
	vk.DeviceWaitIdle(context.Device.LogicalDevice)
	s.Destroy(context)
	return s.Create(context)
}

// Next hands out images round-robin. There is no presentation engine to run
// out of date, so recreation is only ever requested by a size change.
func (s *HeadlessSwapchain) Next(context *VulkanContext, timeoutNS uint64, imageAvailable vk.Semaphore) (bool, error) {
	if s.output.Width != context.FramebufferWidth || s.output.Height != context.FramebufferHeight {
		return true, core.ErrSwapchainOutOfDate
	}
	context.ImageIndex = uint32(s.frameCounter % uint64(len(s.images)))

	// Nothing waits on acquisition here; signal the semaphore immediately so
	// the first pass's wait is satisfied.
	if imageAvailable != vk.NullSemaphore {
		submitInfo := vk.SubmitInfo{
			SType:                vk.StructureTypeSubmitInfo,
			SignalSemaphoreCount: 1,
			PSignalSemaphores:    []vk.Semaphore{imageAvailable},
		}
		if err := context.LockPool.SafeCall(QueueManagement, func() error {
			if res := vk.QueueSubmit(context.Device.GraphicsQueue, 1, []vk.SubmitInfo{submitInfo}, vk.NullFence); res != vk.Success {
				return fmt.Errorf("headless acquire signal failed: %s", VulkanResultString(res))
			}
			return nil
		}); err != nil {
			core.LogError(err.Error())
			return false, err
		}
	}
	return false, nil
}

// Present copies the just-rendered image into the readback buffer.
func (s *HeadlessSwapchain) Present(context *VulkanContext, waitSemaphores []vk.Semaphore) (bool, error) {
	img := s.images[context.ImageIndex]

	cb, err := AllocateAndBeginSingleUse(context, context.Device.GraphicsCommandPool)
	if err != nil {
		return false, err
	}

	ImageTransitionLayout(cb, img.Handle,
		vk.ImageAspectFlags(vk.ImageAspectColorBit),
		vk.ImageLayoutColorAttachmentOptimal, vk.ImageLayoutTransferSrcOptimal,
		vk.AccessFlags(vk.AccessColorAttachmentWriteBit), vk.AccessFlags(vk.AccessTransferReadBit),
		vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit), vk.PipelineStageFlags(vk.PipelineStageTransferBit))

	region := vk.BufferImageCopy{
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LayerCount: 1,
		},
		ImageExtent: vk.Extent3D{Width: s.output.Width, Height: s.output.Height, Depth: 1},
	}
	vk.CmdCopyImageToBuffer(cb.Handle, img.Handle, vk.ImageLayoutTransferSrcOptimal, s.readback.Handle, 1, []vk.BufferImageCopy{region})

	ImageTransitionLayout(cb, img.Handle,
		vk.ImageAspectFlags(vk.ImageAspectColorBit),
		vk.ImageLayoutTransferSrcOptimal, vk.ImageLayoutColorAttachmentOptimal,
		vk.AccessFlags(vk.AccessTransferReadBit), vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
		vk.PipelineStageFlags(vk.PipelineStageTransferBit), vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit))

	// The copy waits on the final pass's semaphores, which both orders it
	// after the rendering and consumes their signaled state so the next
	// frame may signal them again.
	if err := cb.EndSingleUseWaiting(context, context.Device.GraphicsCommandPool, context.Device.GraphicsQueue,
		waitSemaphores, vk.PipelineStageFlags(vk.PipelineStageTransferBit)); err != nil {
		return false, err
	}

	s.frameCounter++
	context.CurrentFrame = uint32(s.frameCounter % 2)
	return false, nil
}

// ReadPixels returns the last presented frame as tightly packed BGRA bytes.
func (s *HeadlessSwapchain) ReadPixels(context *VulkanContext) ([]byte, error) {
	if s.readback == nil {
		return nil, fmt.Errorf("headless swapchain: nothing presented yet")
	}
	return s.readback.ReadData(context, 0, s.readback.TotalSize)
}

func (s *HeadlessSwapchain) Destroy(context *VulkanContext) {
	if s.readback != nil {
		s.readback.Destroy(context)
		s.readback = nil
	}
	if s.output.DepthAttachment != nil {
		s.output.DepthAttachment.ImageDestroy(context)
		s.output.DepthAttachment = nil
	}
	for _, img := range s.images {
		if img != nil {
			img.ImageDestroy(context)
		}
	}
	s.images = nil
	s.output.Images = nil
	s.output.Views = nil
}
