package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/google/uuid"

	"github.com/borealis-engine/borealis/engine/core"
)

type VulkanCommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY VulkanCommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_IN_RENDER_PASS
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_SUBMITTED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

// DrawRecord captures the identity and draw parameters of one object as it
// was last encoded into a command buffer. The ordered list of records is the
// single source of truth for the staleness decision: the buffer is re-recorded
// if and only if the newly computed list differs (by identity and order), an
// object signaled a relevant change, or the pass was structurally recreated.
type DrawRecord struct {
	ObjectID      uuid.UUID
	PipelineKey   string
	VertexCount   uint32
	IndexCount    uint32
	InstanceCount uint32
	BlendHash     uint64
}

// VulkanCommandBuffer is one slot of a renderpass's command buffer ring. The
// fence tracks the slot's last submission so the CPU never re-records a
// buffer the GPU is still consuming.
type VulkanCommandBuffer struct {
	Handle vk.CommandBuffer
	State  VulkanCommandBufferState
	Fence  *VulkanFence

	// LastImageIndex is the swapchain image the buffer was last recorded
	// against. Passes whose framebuffer is image-indexed must re-record when
	// the acquired image differs.
	LastImageIndex uint32

	recorded      []DrawRecord
	forceRerecord bool
}

func NewVulkanCommandBuffer(context *VulkanContext, pool vk.CommandPool, isPrimary bool) (*VulkanCommandBuffer, error) {
	cb := &VulkanCommandBuffer{
		State:         COMMAND_BUFFER_STATE_NOT_ALLOCATED,
		forceRerecord: true,
	}

	level := vk.CommandBufferLevelSecondary
	if isPrimary {
		level = vk.CommandBufferLevelPrimary
	}

	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		CommandBufferCount: 1,
		Level:              level,
	}

	handles := make([]vk.CommandBuffer, 1)
	if res := vk.AllocateCommandBuffers(context.Device.LogicalDevice, &allocateInfo, handles); res != vk.Success {
		err := fmt.Errorf("failed to allocate command buffer: %s", VulkanResultString(res))
		core.LogError(err.Error())
		return nil, err
	}
	cb.Handle = handles[0]

	// The fence starts signaled so the slot's first use never blocks.
	fence, err := NewFence(context, true)
	if err != nil {
		return nil, err
	}
	cb.Fence = fence
	cb.State = COMMAND_BUFFER_STATE_READY

	return cb, nil
}

func (v *VulkanCommandBuffer) Free(context *VulkanContext, pool vk.CommandPool) {
	if v.Fence != nil {
		v.Fence.FenceDestroy(context)
		v.Fence = nil
	}
	vk.FreeCommandBuffers(context.Device.LogicalDevice, pool, 1, []vk.CommandBuffer{v.Handle})
	v.Handle = nil
	v.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
	v.recorded = nil
}

func (v *VulkanCommandBuffer) Begin(isSingleUse, isRenderpassContinue, isSimultaneousUse bool) error {
	beginInfo := &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: 0,
	}

	if isSingleUse {
		beginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)
	}
	if isRenderpassContinue {
		beginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageRenderPassContinueBit)
	}
	if isSimultaneousUse {
		beginInfo.Flags |= vk.CommandBufferUsageFlags(vk.CommandBufferUsageSimultaneousUseBit)
	}

	if res := vk.BeginCommandBuffer(v.Handle, beginInfo); res != vk.Success {
		err := fmt.Errorf("failed to begin command buffer: %s", VulkanResultString(res))
		core.LogError(err.Error())
		return err
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING
	return nil
}

func (v *VulkanCommandBuffer) End() error {
	if res := vk.EndCommandBuffer(v.Handle); res != vk.Success {
		err := fmt.Errorf("failed to end command buffer: %s", VulkanResultString(res))
		core.LogError(err.Error())
		return err
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return nil
}

func (v *VulkanCommandBuffer) UpdateSubmitted() {
	v.State = COMMAND_BUFFER_STATE_SUBMITTED
}

func (v *VulkanCommandBuffer) Reset() {
	v.State = COMMAND_BUFFER_STATE_READY
}

// Stale reports whether the buffer must be re-recorded for the given ordered
// draw list. Comparison is by identity and order, not set membership: a
// reordered scene invalidates the buffer even when the object set is
// unchanged.
func (v *VulkanCommandBuffer) Stale(current []DrawRecord) bool {
	if v.forceRerecord {
		return true
	}
	if len(current) != len(v.recorded) {
		return true
	}
	for i := range current {
		if current[i] != v.recorded[i] {
			return true
		}
	}
	return false
}

// MarkRecorded stores the just-encoded draw list and clears the force flag.
func (v *VulkanCommandBuffer) MarkRecorded(list []DrawRecord) {
	v.recorded = append(v.recorded[:0], list...)
	v.forceRerecord = false
}

// Invalidate forces re-recording on the next staleness check, regardless of
// the draw list comparison.
func (v *VulkanCommandBuffer) Invalidate() {
	v.forceRerecord = true
}

// AllocateAndBeginSingleUse allocates a throwaway command buffer and begins
// recording, for one-shot transfer work.
func AllocateAndBeginSingleUse(context *VulkanContext, pool vk.CommandPool) (*VulkanCommandBuffer, error) {
	cb, err := NewVulkanCommandBuffer(context, pool, true)
	if err != nil {
		return nil, err
	}
	if err := cb.Begin(true, false, false); err != nil {
		return nil, err
	}
	return cb, nil
}

// singleUseSubmitInfo builds the submission for a one-shot buffer. When wait
// semaphores are given, every one is waited at waitStage before the buffer
// executes, which also consumes their signaled state.
func singleUseSubmitInfo(handle vk.CommandBuffer, waitSemaphores []vk.Semaphore, waitStage vk.PipelineStageFlags) vk.SubmitInfo {
	info := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{handle},
	}
	if len(waitSemaphores) > 0 {
		masks := make([]vk.PipelineStageFlags, len(waitSemaphores))
		for i := range masks {
			masks[i] = waitStage
		}
		info.WaitSemaphoreCount = uint32(len(waitSemaphores))
		info.PWaitSemaphores = waitSemaphores
		info.PWaitDstStageMask = masks
	}
	return info
}

// EndSingleUse ends recording, submits, waits for the queue to drain and
// frees the buffer.
func (v *VulkanCommandBuffer) EndSingleUse(context *VulkanContext, pool vk.CommandPool, queue vk.Queue) error {
	return v.EndSingleUseWaiting(context, pool, queue, nil, 0)
}

// EndSingleUseWaiting is EndSingleUse with the submission gated on the given
// semaphores at waitStage.
func (v *VulkanCommandBuffer) EndSingleUseWaiting(context *VulkanContext, pool vk.CommandPool, queue vk.Queue, waitSemaphores []vk.Semaphore, waitStage vk.PipelineStageFlags) error {
	if err := v.End(); err != nil {
		return err
	}

	submitInfo := singleUseSubmitInfo(v.Handle, waitSemaphores, waitStage)

	if err := context.LockPool.SafeCall(QueueManagement, func() error {
		if res := vk.QueueSubmit(queue, 1, []vk.SubmitInfo{submitInfo}, vk.NullFence); res != vk.Success {
			err := fmt.Errorf("failed to submit single-use command buffer: %s", VulkanResultString(res))
			core.LogError(err.Error())
			return err
		}
		if res := vk.QueueWaitIdle(queue); res != vk.Success {
			err := fmt.Errorf("queue wait idle failed: %s", VulkanResultString(res))
			core.LogError(err.Error())
			return err
		}
		return nil
	}); err != nil {
		return err
	}

	v.Free(context, pool)
	return nil
}
