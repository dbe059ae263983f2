package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/borealis-engine/borealis/engine/core"
)

// VulkanBuffer is a single backing buffer plus its device memory. Pooled
// vertex/index regions suballocate from buffers created here; uniform and
// staging buffers use them directly.
type VulkanBuffer struct {
	Handle      vk.Buffer
	Memory      vk.DeviceMemory
	TotalSize   uint64
	Usage       vk.BufferUsageFlags
	MemoryFlags vk.MemoryPropertyFlags
	IsLocked    bool
}

func NewVulkanBuffer(context *VulkanContext, size uint64, usage vk.BufferUsageFlags, memoryFlags vk.MemoryPropertyFlags) (*VulkanBuffer, error) {
	buffer := &VulkanBuffer{
		TotalSize:   size,
		Usage:       usage,
		MemoryFlags: memoryFlags,
	}

	bufferCreateInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(size),
		Usage:       usage,
		SharingMode: vk.SharingModeExclusive,
	}

	var handle vk.Buffer
	if err := context.LockPool.SafeCall(BufferManagement, func() error {
		if res := vk.CreateBuffer(context.Device.LogicalDevice, &bufferCreateInfo, context.Allocator, &handle); res != vk.Success {
			return fmt.Errorf("failed to create buffer: %s", VulkanResultString(res))
		}
		return nil
	}); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	buffer.Handle = handle

	var memoryRequirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(context.Device.LogicalDevice, buffer.Handle, &memoryRequirements)
	memoryRequirements.Deref()

	memoryIndex := context.FindMemoryIndex(memoryRequirements.MemoryTypeBits, uint32(memoryFlags))
	if memoryIndex == -1 {
		err := fmt.Errorf("unable to create buffer: required memory type not found")
		core.LogError(err.Error())
		return nil, err
	}

	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memoryRequirements.Size,
		MemoryTypeIndex: uint32(memoryIndex),
	}
	var memory vk.DeviceMemory
	if res := vk.AllocateMemory(context.Device.LogicalDevice, &allocateInfo, context.Allocator, &memory); res != vk.Success {
		err := fmt.Errorf("failed to allocate buffer memory: %s", VulkanResultString(res))
		core.LogError(err.Error())
		return nil, err
	}
	buffer.Memory = memory

	if res := vk.BindBufferMemory(context.Device.LogicalDevice, buffer.Handle, buffer.Memory, 0); res != vk.Success {
		err := fmt.Errorf("failed to bind buffer memory: %s", VulkanResultString(res))
		core.LogError(err.Error())
		return nil, err
	}

	return buffer, nil
}

func (b *VulkanBuffer) Destroy(context *VulkanContext) {
	if b.Memory != vk.NullDeviceMemory {
		vk.FreeMemory(context.Device.LogicalDevice, b.Memory, context.Allocator)
		b.Memory = vk.NullDeviceMemory
	}
	if b.Handle != vk.NullBuffer {
		vk.DestroyBuffer(context.Device.LogicalDevice, b.Handle, context.Allocator)
		b.Handle = vk.NullBuffer
	}
	b.TotalSize = 0
	b.IsLocked = false
}

// LoadData maps the host-visible buffer region and copies the bytes in.
func (b *VulkanBuffer) LoadData(context *VulkanContext, offset, size uint64, data []byte) error {
	var pData unsafe.Pointer
	if res := vk.MapMemory(context.Device.LogicalDevice, b.Memory, vk.DeviceSize(offset), vk.DeviceSize(size), 0, &pData); res != vk.Success {
		err := fmt.Errorf("failed to map buffer memory: %s", VulkanResultString(res))
		core.LogError(err.Error())
		return err
	}
	vk.Memcopy(pData, data)
	vk.UnmapMemory(context.Device.LogicalDevice, b.Memory)
	return nil
}

// ReadData maps the host-visible buffer region and copies the bytes out, used
// by the screenshot readback path.
func (b *VulkanBuffer) ReadData(context *VulkanContext, offset, size uint64) ([]byte, error) {
	var pData unsafe.Pointer
	if res := vk.MapMemory(context.Device.LogicalDevice, b.Memory, vk.DeviceSize(offset), vk.DeviceSize(size), 0, &pData); res != vk.Success {
		err := fmt.Errorf("failed to map buffer memory: %s", VulkanResultString(res))
		core.LogError(err.Error())
		return nil, err
	}
	out := make([]byte, size)
	copy(out, unsafe.Slice((*byte)(pData), size))
	vk.UnmapMemory(context.Device.LogicalDevice, b.Memory)
	return out, nil
}

// CopyTo records and submits a one-shot transfer of a region of this buffer
// into dest, waiting for completion. Used to move staged instance/vertex data
// into device-local memory.
func (b *VulkanBuffer) CopyTo(context *VulkanContext, srcOffset uint64, dest *VulkanBuffer, destOffset, size uint64) error {
	cb, err := AllocateAndBeginSingleUse(context, context.Device.GraphicsCommandPool)
	if err != nil {
		return err
	}

	copyRegion := vk.BufferCopy{
		SrcOffset: vk.DeviceSize(srcOffset),
		DstOffset: vk.DeviceSize(destOffset),
		Size:      vk.DeviceSize(size),
	}
	vk.CmdCopyBuffer(cb.Handle, b.Handle, dest.Handle, 1, []vk.BufferCopy{copyRegion})

	return cb.EndSingleUse(context, context.Device.GraphicsCommandPool, context.Device.GraphicsQueue)
}
