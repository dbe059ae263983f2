package vulkan

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// accountingAllocator records requested backing sizes without touching a
// device.
func accountingAllocator(sizes *[]uint64) BackingAllocator {
	return func(size uint64) (*VulkanBuffer, error) {
		*sizes = append(*sizes, size)
		return &VulkanBuffer{TotalSize: size}, nil
	}
}

func TestBufferPoolSuballocationsDoNotOverlap(t *testing.T) {
	var sizes []uint64
	pool := NewBufferPoolWithAllocator(accountingAllocator(&sizes), 1024)

	a, err := pool.Create(100)
	require.NoError(t, err)
	b, err := pool.Create(200)
	require.NoError(t, err)
	c, err := pool.Create(300)
	require.NoError(t, err)

	assert.Equal(t, 1, pool.BackingCount())
	assert.Same(t, a.Buffer, b.Buffer)

	assert.Equal(t, uint64(0), a.Offset)
	assert.Equal(t, uint64(100), b.Offset)
	assert.Equal(t, uint64(300), c.Offset)
	assert.LessOrEqual(t, a.Offset+a.Size, b.Offset)
	assert.LessOrEqual(t, b.Offset+b.Size, c.Offset)
}

func TestBufferPoolGrowsWhenFull(t *testing.T) {
	var sizes []uint64
	pool := NewBufferPoolWithAllocator(accountingAllocator(&sizes), 1024)

	_, err := pool.Create(1000)
	require.NoError(t, err)
	assert.Equal(t, 1, pool.BackingCount())

	// 24 bytes of tail left; this cannot fit.
	_, err = pool.Create(100)
	require.NoError(t, err)
	assert.Equal(t, 2, pool.BackingCount())
	assert.Equal(t, []uint64{1024, 1024}, sizes)
}

func TestBufferPoolOversizedRequestRoundsToPowerOfTwo(t *testing.T) {
	var sizes []uint64
	pool := NewBufferPoolWithAllocator(accountingAllocator(&sizes), 1024)

	region, err := pool.Create(5000)
	require.NoError(t, err)
	assert.Equal(t, uint64(5000), region.Size)
	assert.Equal(t, []uint64{8192}, sizes)
}

func TestBufferPoolReusesFreedRegion(t *testing.T) {
	var sizes []uint64
	pool := NewBufferPoolWithAllocator(accountingAllocator(&sizes), 1024)

	a, err := pool.Create(400)
	require.NoError(t, err)
	offset := a.Offset
	pool.Free(a)

	// First fit: the freed region covers the smaller request without growing
	// the pool.
	b, err := pool.Create(300)
	require.NoError(t, err)
	assert.Equal(t, offset, b.Offset)
	assert.Equal(t, 1, pool.BackingCount())
	assert.True(t, b.Dirty)
}

func TestBufferPoolFreedRegionTooSmallIsSkipped(t *testing.T) {
	var sizes []uint64
	pool := NewBufferPoolWithAllocator(accountingAllocator(&sizes), 1024)

	a, err := pool.Create(100)
	require.NoError(t, err)
	pool.Free(a)

	b, err := pool.Create(500)
	require.NoError(t, err)
	assert.NotEqual(t, a.Offset, b.Offset)
}

func TestBufferPoolChunkSizeEscalates(t *testing.T) {
	var sizes []uint64
	pool := NewBufferPoolWithAllocator(accountingAllocator(&sizes), 1024)

	// Fill four backings, then the fifth request doubles the chunk.
	for i := 0; i < 5; i++ {
		_, err := pool.Create(1024)
		require.NoError(t, err)
	}
	assert.Equal(t, []uint64{1024, 1024, 1024, 1024, 2048}, sizes)
}

func TestBufferPoolRejectsZeroSize(t *testing.T) {
	pool := NewBufferPoolWithAllocator(func(size uint64) (*VulkanBuffer, error) {
		return &VulkanBuffer{TotalSize: size}, nil
	}, 1024)
	_, err := pool.Create(0)
	assert.Error(t, err)
}

func TestBufferPoolAllocatorFailurePropagates(t *testing.T) {
	pool := NewBufferPoolWithAllocator(func(size uint64) (*VulkanBuffer, error) {
		return nil, fmt.Errorf("out of device memory")
	}, 1024)
	_, err := pool.Create(64)
	assert.Error(t, err)
	assert.Equal(t, 0, pool.BackingCount())
}
