package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/borealis-engine/borealis/engine/core"
)

// VulkanContext carries the per-renderer API state: instance, device, the
// lifetime-scoped caches and the lock pool. It is constructed at renderer
// init and torn down at renderer close, so multiple renderer instances do not
// interfere.
type VulkanContext struct {
	// The framebuffer's current width.
	FramebufferWidth uint32
	// The framebuffer's current height.
	FramebufferHeight uint32
	// Current generation of framebuffer size. If it does not match
	// FramebufferSizeLastGeneration, the swapchain must be recreated.
	FramebufferSizeGeneration uint64
	// The generation of the framebuffer when it was last created.
	FramebufferSizeLastGeneration uint64

	Instance  vk.Instance
	Allocator *vk.AllocationCallbacks
	Surface   vk.Surface

	Device *VulkanDevice

	LockPool *VulkanLockPool

	// Renderer-scoped caches, never process-wide singletons.
	DescriptorLayoutCache *DescriptorLayoutCache
	ShaderModuleCache     *ShaderModuleCache
	DescriptorPool        vk.DescriptorPool

	// Shared suballocation pools for vertex/index data.
	VertexBufferPool *BufferPool
	IndexBufferPool  *BufferPool

	ImageIndex   uint32
	CurrentFrame uint32

	RecreatingSwapchain bool
}

func NewVulkanContext() *VulkanContext {
	ctx := &VulkanContext{
		LockPool: NewVulkanLockPool(),
	}
	ctx.DescriptorLayoutCache = NewDescriptorLayoutCache(ctx)
	ctx.ShaderModuleCache = NewShaderModuleCache(ctx)
	return ctx
}

// FindMemoryIndex locates a device memory type matching the filter and
// property flags, or -1 when none qualifies.
func (vc *VulkanContext) FindMemoryIndex(typeFilter, propertyFlags uint32) int32 {
	var memoryProperties vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(vc.Device.PhysicalDevice, &memoryProperties)
	memoryProperties.Deref()

	for i := uint32(0); i < memoryProperties.MemoryTypeCount; i++ {
		memoryProperties.MemoryTypes[i].Deref()
		if (typeFilter&(1<<i)) != 0 && (uint32(memoryProperties.MemoryTypes[i].PropertyFlags)&propertyFlags) == propertyFlags {
			return int32(i)
		}
	}
	core.LogWarn("Unable to find suitable memory type!")
	return -1
}
