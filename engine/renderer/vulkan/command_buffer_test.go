package vulkan

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDrawRecords(ids ...uuid.UUID) []DrawRecord {
	records := make([]DrawRecord, 0, len(ids))
	for _, id := range ids {
		records = append(records, DrawRecord{
			ObjectID:      id,
			PipelineKey:   PipelineKeyDefault,
			VertexCount:   24,
			IndexCount:    36,
			InstanceCount: 1,
		})
	}
	return records
}

func TestCommandBufferStaleBeforeFirstRecording(t *testing.T) {
	cb := &VulkanCommandBuffer{forceRerecord: true}
	assert.True(t, cb.Stale(nil))
	assert.True(t, cb.Stale(testDrawRecords(uuid.New())))
}

func TestCommandBufferFreshAfterMarkRecorded(t *testing.T) {
	cb := &VulkanCommandBuffer{forceRerecord: true}
	records := testDrawRecords(uuid.New(), uuid.New())

	cb.MarkRecorded(records)
	assert.False(t, cb.Stale(records))
}

func TestCommandBufferStaleOnReorder(t *testing.T) {
	cb := &VulkanCommandBuffer{forceRerecord: true}
	a, b := uuid.New(), uuid.New()

	cb.MarkRecorded(testDrawRecords(a, b))
	assert.False(t, cb.Stale(testDrawRecords(a, b)))
	// Same set, different order.
	assert.True(t, cb.Stale(testDrawRecords(b, a)))
}

func TestCommandBufferStaleOnCountChange(t *testing.T) {
	cb := &VulkanCommandBuffer{forceRerecord: true}
	a, b := uuid.New(), uuid.New()

	cb.MarkRecorded(testDrawRecords(a))
	assert.True(t, cb.Stale(testDrawRecords(a, b)))
	assert.True(t, cb.Stale(nil))
}

func TestCommandBufferStaleOnDrawParameterChange(t *testing.T) {
	cb := &VulkanCommandBuffer{forceRerecord: true}
	records := testDrawRecords(uuid.New())
	cb.MarkRecorded(records)

	changed := make([]DrawRecord, len(records))
	copy(changed, records)
	changed[0].IndexCount = 72
	assert.True(t, cb.Stale(changed))

	copy(changed, records)
	changed[0].BlendHash = 0xdeadbeef
	assert.True(t, cb.Stale(changed))

	copy(changed, records)
	changed[0].PipelineKey = PipelineKeyPreferred("custom")
	assert.True(t, cb.Stale(changed))
}

func TestCommandBufferInvalidateForcesRerecord(t *testing.T) {
	cb := &VulkanCommandBuffer{forceRerecord: true}
	records := testDrawRecords(uuid.New())

	cb.MarkRecorded(records)
	assert.False(t, cb.Stale(records))

	cb.Invalidate()
	assert.True(t, cb.Stale(records))

	// Re-recording clears the forced flag again.
	cb.MarkRecorded(records)
	assert.False(t, cb.Stale(records))
}

func TestCommandBufferMarkRecordedCopiesList(t *testing.T) {
	cb := &VulkanCommandBuffer{forceRerecord: true}
	records := testDrawRecords(uuid.New())
	cb.MarkRecorded(records)

	// Mutating the caller's slice must not alter the stored snapshot.
	original := records[0]
	records[0].VertexCount = 999
	assert.True(t, cb.Stale(records))
	records[0] = original
	assert.False(t, cb.Stale(records))
}

func TestSingleUseSubmitInfoWaitsOnSemaphores(t *testing.T) {
	semaphores := []vk.Semaphore{vk.NullSemaphore, vk.NullSemaphore}
	info := singleUseSubmitInfo(nil, semaphores, vk.PipelineStageFlags(vk.PipelineStageTransferBit))

	assert.Equal(t, uint32(2), info.WaitSemaphoreCount)
	assert.Equal(t, semaphores, info.PWaitSemaphores)
	require.Len(t, info.PWaitDstStageMask, 2)
	for _, mask := range info.PWaitDstStageMask {
		assert.Equal(t, vk.PipelineStageFlags(vk.PipelineStageTransferBit), mask)
	}
	assert.Equal(t, uint32(1), info.CommandBufferCount)
}

func TestSingleUseSubmitInfoWithoutSemaphores(t *testing.T) {
	info := singleUseSubmitInfo(nil, nil, 0)
	assert.Equal(t, uint32(0), info.WaitSemaphoreCount)
	assert.Nil(t, info.PWaitSemaphores)
	assert.Nil(t, info.PWaitDstStageMask)
}
