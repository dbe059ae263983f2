package vulkan

import "sync"

type LockGroup string

const (
	SamplerManagement       LockGroup = "sampler_management"
	CommandBufferManagement LockGroup = "command_buffer_management"
	BufferManagement        LockGroup = "buffer_management"
	ImageManagement         LockGroup = "image_management"
	QueueManagement         LockGroup = "queue_management"
	PipelineManagement      LockGroup = "pipeline_management"
	DescriptorManagement    LockGroup = "descriptor_management"
	ShaderManagement        LockGroup = "shader_management"
	SwapchainManagement     LockGroup = "swapchain_management"
)

// VulkanLockPool serializes access to API objects that are not externally
// synchronized. Caches are safe for concurrent lookup from multiple passes;
// insertion happens only on the frame-orchestration thread, under the
// matching group lock.
type VulkanLockPool struct {
	locks map[LockGroup]*sync.Mutex
	mu    sync.Mutex
}

func NewVulkanLockPool() *VulkanLockPool {
	return &VulkanLockPool{
		locks: make(map[LockGroup]*sync.Mutex),
	}
}

func (vl *VulkanLockPool) acquire(group LockGroup) *sync.Mutex {
	vl.mu.Lock()
	l, exists := vl.locks[group]
	if !exists {
		l = &sync.Mutex{}
		vl.locks[group] = l
	}
	vl.mu.Unlock()
	l.Lock()
	return l
}

func (vl *VulkanLockPool) SafeCall(group LockGroup, fn func() error) error {
	l := vl.acquire(group)
	defer l.Unlock()

	return fn()
}
