package vulkan

import (
	"fmt"
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/borealis-engine/borealis/engine/core"
	"github.com/borealis-engine/borealis/engine/math"
)

// Base chunk size for pooled vertex/index backing buffers. Grows as the
// backing count rises so total buffer count stays bounded as scene complexity
// grows.
const poolBaseChunkSize uint64 = 4 * 1024 * 1024

// After this many backing buffers, the chunk size doubles.
const poolChunkGrowthEvery = 4

// Suballocation is one coarse-grained region of a pooled backing buffer.
// Regions track their own dirty/free state; freeing never compacts or shrinks
// the backing buffer.
type Suballocation struct {
	Buffer *VulkanBuffer
	Offset uint64
	Size   uint64
	Dirty  bool

	backing *backingBuffer
	free    bool
}

type backingBuffer struct {
	buffer  *VulkanBuffer
	size    uint64
	cursor  uint64
	regions []*Suballocation
}

// BackingAllocator creates a new backing buffer of the given size. The
// default allocator creates device buffers; tests inject an allocator that
// only does accounting.
type BackingAllocator func(size uint64) (*VulkanBuffer, error)

// BufferPool suballocates vertex/index regions out of a small set of large
// backing buffers. Backing buffers are never resized or moved while regions
// are live; the pool only ever grows by adding backing buffers, so no
// descriptor or reference is invalidated behind a caller's back.
type BufferPool struct {
	allocate  BackingAllocator
	chunkSize uint64
	backings  []*backingBuffer

	mu sync.Mutex
}

// NewBufferPool builds a pool whose backing buffers are device buffers with
// the given usage and memory flags.
func NewBufferPool(context *VulkanContext, usage vk.BufferUsageFlags, memoryFlags vk.MemoryPropertyFlags) *BufferPool {
	return NewBufferPoolWithAllocator(func(size uint64) (*VulkanBuffer, error) {
		return NewVulkanBuffer(context, size, usage, memoryFlags)
	}, poolBaseChunkSize)
}

// NewBufferPoolWithAllocator builds a pool with a caller-supplied backing
// allocator and base chunk size.
func NewBufferPoolWithAllocator(allocate BackingAllocator, baseChunkSize uint64) *BufferPool {
	return &BufferPool{
		allocate:  allocate,
		chunkSize: baseChunkSize,
	}
}

// Create returns a region of at least the requested size. An existing freed
// region or the tail of a backing buffer is reused when one has enough
// contiguous space; otherwise a new backing buffer is allocated, sized to a
// power-of-two multiple of the current chunk size that covers the request.
func (p *BufferPool) Create(size uint64) (*Suballocation, error) {
	if size == 0 {
		return nil, fmt.Errorf("buffer pool: zero-sized allocation")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// First fit over freed regions.
	for _, backing := range p.backings {
		for _, region := range backing.regions {
			if region.free && region.Size >= size {
				region.free = false
				region.Dirty = true
				return region, nil
			}
		}
	}

	// Bump from a backing buffer with tail space.
	for _, backing := range p.backings {
		if backing.size-backing.cursor >= size {
			return backing.bump(size), nil
		}
	}

	// Grow. The chunk size escalates with backing count to bound the total
	// number of buffers.
	chunk := p.chunkSize << uint(len(p.backings)/poolChunkGrowthEvery)
	allocSize := chunk
	if size > allocSize {
		allocSize = math.NextPowerOfTwo(size)
	}

	buffer, err := p.allocate(allocSize)
	if err != nil {
		core.LogError("buffer pool: backing allocation of %d bytes failed: %s", allocSize, err)
		return nil, err
	}
	backing := &backingBuffer{
		buffer: buffer,
		size:   allocSize,
	}
	p.backings = append(p.backings, backing)
	core.LogDebug("buffer pool: added backing buffer #%d (%d bytes)", len(p.backings), allocSize)

	return backing.bump(size), nil
}

func (b *backingBuffer) bump(size uint64) *Suballocation {
	region := &Suballocation{
		Buffer:  b.buffer,
		Offset:  b.cursor,
		Size:    size,
		Dirty:   true,
		backing: b,
	}
	b.cursor += size
	b.regions = append(b.regions, region)
	return region
}

// Free marks the region reusable. The backing buffer is left untouched;
// fragmentation is accepted in exchange for allocation simplicity.
func (p *BufferPool) Free(region *Suballocation) {
	p.mu.Lock()
	region.free = true
	region.Dirty = false
	p.mu.Unlock()
}

// BackingCount reports how many backing buffers the pool holds.
func (p *BufferPool) BackingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.backings)
}

// Destroy releases every backing buffer.
func (p *BufferPool) Destroy(context *VulkanContext) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, backing := range p.backings {
		if backing.buffer != nil {
			backing.buffer.Destroy(context)
		}
	}
	p.backings = nil
}
