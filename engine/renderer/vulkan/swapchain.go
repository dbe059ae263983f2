package vulkan

import (
	"fmt"
	stdmath "math"

	vk "github.com/goki/vulkan"

	"github.com/borealis-engine/borealis/engine/containers"
	"github.com/borealis-engine/borealis/engine/core"
	"github.com/borealis-engine/borealis/engine/math"
)

// SwapchainOutput exposes the presentable images a viewport pass renders
// into.
type SwapchainOutput struct {
	Images []vk.Image
	Views  []vk.ImageView
	Format vk.Format
	Width  uint32
	Height uint32

	DepthAttachment *VulkanImage
}

// Swapchain abstracts presentation so windowed and headless rendering drive
// the same frame loop. Next leaves the acquired image index on the context;
// a true mustRecreate return tells the caller to rebuild the swapchain and
// every pass at the next frame boundary.
type Swapchain interface {
	Create(context *VulkanContext) error
	Recreate(context *VulkanContext) error
	Destroy(context *VulkanContext)

	ImageCount() uint32
	GetOutput() *SwapchainOutput

	Next(context *VulkanContext, timeoutNS uint64, imageAvailable vk.Semaphore) (mustRecreate bool, err error)
	Present(context *VulkanContext, waitSemaphores []vk.Semaphore) (mustRecreate bool, err error)
}

// A retired swapchain's handle and views wait in the retirement queue until
// the GPU has moved past every frame that referenced them; only then are they
// destroyed. One policy for every recreation path, drained after present.
type retiredSwapchain struct {
	handle    vk.Swapchain
	views     []vk.ImageView
	depth     *VulkanImage
	retiredAt uint64
}

const swapchainRetirementDepth = 8

// WindowedSwapchain presents to a surface created from a native window.
type WindowedSwapchain struct {
	Handle            vk.Swapchain
	ImageFormat       vk.SurfaceFormat
	MaxFramesInFlight uint8
	VSync             bool

	output SwapchainOutput

	retired        *containers.RingQueue[retiredSwapchain]
	presentedCount uint64
}

func NewWindowedSwapchain(vsync bool) *WindowedSwapchain {
	return &WindowedSwapchain{
		VSync:   vsync,
		retired: containers.NewRingQueue[retiredSwapchain](swapchainRetirementDepth),
	}
}

func (s *WindowedSwapchain) ImageCount() uint32 {
	return uint32(len(s.output.Images))
}

func (s *WindowedSwapchain) GetOutput() *SwapchainOutput {
	return &s.output
}

func (s *WindowedSwapchain) Create(context *VulkanContext) error {
	return s.createSwapchain(context, vk.NullSwapchain)
}

// Recreate builds a replacement chained to the old handle, then moves the old
// handle and views into the retirement queue instead of destroying them
// immediately.
func (s *WindowedSwapchain) Recreate(context *VulkanContext) error {
	old := retiredSwapchain{
		handle:    s.Handle,
		views:     s.output.Views,
		depth:     s.output.DepthAttachment,
		retiredAt: s.presentedCount,
	}

	if err := s.createSwapchain(context, old.handle); err != nil {
		return err
	}

	if old.handle != vk.NullSwapchain {
		if err := s.retired.Enqueue(old); err != nil {
			// Queue full: the oldest entry is by now many frames behind the
			// GPU, destroy it synchronously to make room.
			s.destroyOldest(context, true)
			s.retired.Enqueue(old)
		}
	}
	return nil
}

func (s *WindowedSwapchain) createSwapchain(context *VulkanContext, oldSwapchain vk.Swapchain) error {
	support := &context.Device.SwapchainSupport
	if err := DeviceQuerySwapchainSupport(context.Device.PhysicalDevice, context.Surface, support); err != nil {
		return err
	}

	// Surface format: prefer BGRA8 sRGB-nonlinear.
	s.ImageFormat = support.Formats[0]
	for i := 0; i < int(support.FormatCount); i++ {
		format := support.Formats[i]
		format.Deref()
		if format.Format == vk.FormatB8g8r8a8Unorm && format.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			s.ImageFormat = format
			break
		}
	}

	// Mailbox when available for low latency; FIFO when vsync was requested
	// or mailbox is unsupported.
	presentMode := vk.PresentModeFifo
	if !s.VSync {
		for i := 0; i < int(support.PresentModeCount); i++ {
			if support.PresentModes[i] == vk.PresentModeMailbox {
				presentMode = vk.PresentModeMailbox
				break
			}
		}
	}

	support.Capabilities.Deref()
	extent := vk.Extent2D{Width: context.FramebufferWidth, Height: context.FramebufferHeight}
	if support.Capabilities.CurrentExtent.Width != stdmath.MaxUint32 {
		extent = support.Capabilities.CurrentExtent
	}
	minExtent := support.Capabilities.MinImageExtent
	maxExtent := support.Capabilities.MaxImageExtent
	extent.Width = math.Clamp(extent.Width, minExtent.Width, maxExtent.Width)
	extent.Height = math.Clamp(extent.Height, minExtent.Height, maxExtent.Height)

	imageCount := support.Capabilities.MinImageCount + 1
	if support.Capabilities.MaxImageCount > 0 && imageCount > support.Capabilities.MaxImageCount {
		imageCount = support.Capabilities.MaxImageCount
	}
	s.MaxFramesInFlight = 2

	createInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          context.Surface,
		MinImageCount:    imageCount,
		ImageFormat:      s.ImageFormat.Format,
		ImageColorSpace:  s.ImageFormat.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransferSrcBit),
		PreTransform:     support.Capabilities.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      presentMode,
		Clipped:          vk.True,
		OldSwapchain:     oldSwapchain,
	}

	if context.Device.GraphicsQueueIndex != context.Device.PresentQueueIndex {
		createInfo.ImageSharingMode = vk.SharingModeConcurrent
		createInfo.QueueFamilyIndexCount = 2
		createInfo.PQueueFamilyIndices = []uint32{
			uint32(context.Device.GraphicsQueueIndex),
			uint32(context.Device.PresentQueueIndex),
		}
	} else {
		createInfo.ImageSharingMode = vk.SharingModeExclusive
	}

	var handle vk.Swapchain
	if err := context.LockPool.SafeCall(SwapchainManagement, func() error {
		if res := vk.CreateSwapchain(context.Device.LogicalDevice, &createInfo, context.Allocator, &handle); res != vk.Success {
			return fmt.Errorf("failed to create swapchain: %s", VulkanResultString(res))
		}
		return nil
	}); err != nil {
		core.LogError(err.Error())
		return err
	}
	s.Handle = handle
	context.CurrentFrame = 0

	var count uint32
	if res := vk.GetSwapchainImages(context.Device.LogicalDevice, s.Handle, &count, nil); res != vk.Success {
		err := fmt.Errorf("failed to count swapchain images: %s", VulkanResultString(res))
		core.LogError(err.Error())
		return err
	}
	images := make([]vk.Image, count)
	if res := vk.GetSwapchainImages(context.Device.LogicalDevice, s.Handle, &count, images); res != vk.Success {
		err := fmt.Errorf("failed to get swapchain images: %s", VulkanResultString(res))
		core.LogError(err.Error())
		return err
	}

	views := make([]vk.ImageView, count)
	for i := range images {
		view, err := ImageViewCreate(context, s.ImageFormat.Format, images[i], vk.ImageAspectFlags(vk.ImageAspectColorBit))
		if err != nil {
			return err
		}
		views[i] = view
	}

	if !DeviceDetectDepthFormat(context.Device) {
		err := fmt.Errorf("no supported depth format found")
		core.LogError(err.Error())
		return err
	}
	depth, err := ImageCreate(context,
		vk.ImageType2d,
		extent.Width, extent.Height,
		context.Device.DepthFormat,
		vk.ImageTilingOptimal,
		vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit),
		true,
		vk.ImageAspectFlags(vk.ImageAspectDepthBit))
	if err != nil {
		return err
	}

	s.output = SwapchainOutput{
		Images:          images,
		Views:           views,
		Format:          s.ImageFormat.Format,
		Width:           extent.Width,
		Height:          extent.Height,
		DepthAttachment: depth,
	}

	core.LogInfo("Swapchain created (%dx%d, %d images, present mode %d)", extent.Width, extent.Height, count, presentMode)
	return nil
}

// Next acquires the next presentable image within the timeout. A timeout or
// out-of-date signal asks for recreation rather than failing the frame.
func (s *WindowedSwapchain) Next(context *VulkanContext, timeoutNS uint64, imageAvailable vk.Semaphore) (bool, error) {
	var imageIndex uint32
	res := vk.AcquireNextImage(context.Device.LogicalDevice, s.Handle, timeoutNS, imageAvailable, vk.NullFence, &imageIndex)
	switch res {
	case vk.Success, vk.Suboptimal:
		context.ImageIndex = imageIndex
		return false, nil
	case vk.ErrorOutOfDate:
		return true, core.ErrSwapchainOutOfDate
	case vk.Timeout, vk.NotReady:
		return true, core.ErrAcquireTimeout
	default:
		err := fmt.Errorf("failed to acquire swapchain image: %s", VulkanResultString(res))
		core.LogError(err.Error())
		return false, err
	}
}

// Present queues the acquired image for presentation, then drains the
// retirement queue. Out-of-date and suboptimal completions are tolerated and
// reported as a recreation request.
func (s *WindowedSwapchain) Present(context *VulkanContext, waitSemaphores []vk.Semaphore) (bool, error) {
	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: uint32(len(waitSemaphores)),
		PWaitSemaphores:    waitSemaphores,
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{s.Handle},
		PImageIndices:      []uint32{context.ImageIndex},
	}

	var res vk.Result
	if err := context.LockPool.SafeCall(QueueManagement, func() error {
		res = vk.QueuePresent(context.Device.PresentQueue, &presentInfo)
		return nil
	}); err != nil {
		return false, err
	}

	s.presentedCount++
	context.CurrentFrame = (context.CurrentFrame + 1) % uint32(s.MaxFramesInFlight)
	s.drainRetired(context)

	switch res {
	case vk.Success:
		return false, nil
	case vk.ErrorOutOfDate, vk.Suboptimal:
		return true, core.ErrSwapchainOutOfDate
	default:
		err := fmt.Errorf("failed to present swapchain image: %s", VulkanResultString(res))
		core.LogError(err.Error())
		return false, err
	}
}

// drainRetired destroys retired swapchains once enough frames have been
// presented since retirement for the GPU to be past them.
func (s *WindowedSwapchain) drainRetired(context *VulkanContext) {
	margin := uint64(len(s.output.Images))
	if margin == 0 {
		margin = 3
	}
	for !s.retired.IsEmpty() {
		entry, err := s.retired.Peek()
		if err != nil {
			return
		}
		if s.presentedCount-entry.retiredAt < margin {
			return
		}
		s.retired.Dequeue()
		destroyRetired(context, entry)
	}
}

// destroyOldest forces the oldest retired entry out, waiting for the device
// when the entry might still be in flight.
func (s *WindowedSwapchain) destroyOldest(context *VulkanContext, wait bool) {
	entry, err := s.retired.Dequeue()
	if err != nil {
		return
	}
	if wait {
		vk.DeviceWaitIdle(context.Device.LogicalDevice)
	}
	destroyRetired(context, entry)
}

func destroyRetired(context *VulkanContext, entry retiredSwapchain) {
	if entry.depth != nil {
		entry.depth.ImageDestroy(context)
	}
	for _, view := range entry.views {
		vk.DestroyImageView(context.Device.LogicalDevice, view, context.Allocator)
	}
	if entry.handle != vk.NullSwapchain {
		vk.DestroySwapchain(context.Device.LogicalDevice, entry.handle, context.Allocator)
	}
}

func (s *WindowedSwapchain) Destroy(context *VulkanContext) {
	vk.DeviceWaitIdle(context.Device.LogicalDevice)

	for !s.retired.IsEmpty() {
		s.destroyOldest(context, false)
	}

	if s.output.DepthAttachment != nil {
		s.output.DepthAttachment.ImageDestroy(context)
		s.output.DepthAttachment = nil
	}
	// Views only; the images belong to the swapchain.
	for _, view := range s.output.Views {
		vk.DestroyImageView(context.Device.LogicalDevice, view, context.Allocator)
	}
	s.output.Views = nil
	s.output.Images = nil

	if s.Handle != vk.NullSwapchain {
		vk.DestroySwapchain(context.Device.LogicalDevice, s.Handle, context.Allocator)
		s.Handle = vk.NullSwapchain
	}
}
