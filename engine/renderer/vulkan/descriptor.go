package vulkan

import (
	"fmt"
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/borealis-engine/borealis/engine/core"
)

// Semantic descriptor set layout names. Layouts are cached by name, not by
// binding contents: every pipeline that asks for "Matrices" receives the same
// layout object, which is what lets descriptor sets written for one pipeline
// bind against another.
const (
	LayoutMatrices           = "Matrices"
	LayoutMaterialProperties = "MaterialProperties"
	LayoutShaderProperties   = "ShaderProperties"
)

// LayoutShaderParameters names the per-pass sampler parameter layout.
func LayoutShaderParameters(pass string) string {
	return fmt.Sprintf("ShaderParameters-%s", pass)
}

// LayoutPassInput names the layout of a pass's bound input attachment set.
func LayoutPassInput(pass string, set uint32) string {
	return fmt.Sprintf("input-%s-%d", pass, set)
}

// LayoutCreateFunc builds one descriptor set layout from its bindings. The
// default implementation calls into the device; tests inject one that hands
// out unique placeholder handles.
type LayoutCreateFunc func(bindings []vk.DescriptorSetLayoutBinding) (vk.DescriptorSetLayout, error)

// DescriptorLayoutCache caches descriptor set layouts by semantic name,
// scoped to one renderer instance. Repeated requests under the same name
// return the identical layout regardless of the bindings passed; the first
// request fixes the layout.
type DescriptorLayoutCache struct {
	context *VulkanContext
	create  LayoutCreateFunc
	layouts map[string]vk.DescriptorSetLayout
	mu      sync.RWMutex
}

func NewDescriptorLayoutCache(context *VulkanContext) *DescriptorLayoutCache {
	c := &DescriptorLayoutCache{
		context: context,
		layouts: make(map[string]vk.DescriptorSetLayout),
	}
	c.create = c.createDeviceLayout
	return c
}

// NewDescriptorLayoutCacheWithCreate builds a cache around a caller-supplied
// layout factory.
func NewDescriptorLayoutCacheWithCreate(create LayoutCreateFunc) *DescriptorLayoutCache {
	return &DescriptorLayoutCache{
		create:  create,
		layouts: make(map[string]vk.DescriptorSetLayout),
	}
}

func (c *DescriptorLayoutCache) createDeviceLayout(bindings []vk.DescriptorSetLayoutBinding) (vk.DescriptorSetLayout, error) {
	createInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}
	var layout vk.DescriptorSetLayout
	if err := c.context.LockPool.SafeCall(DescriptorManagement, func() error {
		if res := vk.CreateDescriptorSetLayout(c.context.Device.LogicalDevice, &createInfo, c.context.Allocator, &layout); res != vk.Success {
			return fmt.Errorf("failed to create descriptor set layout: %s", VulkanResultString(res))
		}
		return nil
	}); err != nil {
		return vk.NullDescriptorSetLayout, err
	}
	return layout, nil
}

// Get returns the layout cached under name, creating it from bindings on
// first request.
func (c *DescriptorLayoutCache) Get(name string, bindings []vk.DescriptorSetLayoutBinding) (vk.DescriptorSetLayout, error) {
	c.mu.RLock()
	if layout, ok := c.layouts[name]; ok {
		c.mu.RUnlock()
		return layout, nil
	}
	c.mu.RUnlock()

	layout, err := c.create(bindings)
	if err != nil {
		core.LogError("descriptor layout `%s`: %s", name, err)
		return vk.NullDescriptorSetLayout, err
	}

	c.mu.Lock()
	// Another goroutine may have raced the creation; keep the first one.
	if existing, ok := c.layouts[name]; ok {
		c.mu.Unlock()
		vk.DestroyDescriptorSetLayout(c.context.Device.LogicalDevice, layout, c.context.Allocator)
		return existing, nil
	}
	c.layouts[name] = layout
	c.mu.Unlock()

	core.LogDebug("created descriptor set layout `%s` (%d bindings)", name, len(bindings))
	return layout, nil
}

// Len reports the number of cached layouts.
func (c *DescriptorLayoutCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.layouts)
}

// Destroy releases every cached layout.
func (c *DescriptorLayoutCache) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, layout := range c.layouts {
		if layout != vk.NullDescriptorSetLayout && c.context != nil {
			vk.DestroyDescriptorSetLayout(c.context.Device.LogicalDevice, layout, c.context.Allocator)
		}
		delete(c.layouts, name)
	}
}

// UniformBufferBinding builds a dynamic uniform buffer binding visible to the
// given stages.
func UniformBufferBinding(binding uint32, stages vk.ShaderStageFlags) vk.DescriptorSetLayoutBinding {
	return vk.DescriptorSetLayoutBinding{
		Binding:         binding,
		DescriptorType:  vk.DescriptorTypeUniformBufferDynamic,
		DescriptorCount: 1,
		StageFlags:      stages,
	}
}

// PlainUniformBufferBinding builds a non-dynamic uniform buffer binding, used
// by pass-global blocks whose offset never changes between draws.
func PlainUniformBufferBinding(binding uint32, stages vk.ShaderStageFlags) vk.DescriptorSetLayoutBinding {
	return vk.DescriptorSetLayoutBinding{
		Binding:         binding,
		DescriptorType:  vk.DescriptorTypeUniformBuffer,
		DescriptorCount: 1,
		StageFlags:      stages,
	}
}

// SamplerBinding builds a combined image sampler binding visible to the
// fragment stage.
func SamplerBinding(binding uint32) vk.DescriptorSetLayoutBinding {
	return vk.DescriptorSetLayoutBinding{
		Binding:         binding,
		DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
		DescriptorCount: 1,
		StageFlags:      vk.ShaderStageFlags(vk.ShaderStageFragmentBit),
	}
}

// Sized generously; sets are allocated per object and per pass input and are
// never freed individually, only with the pool.
const (
	descriptorPoolMaxSets      = 4096
	descriptorPoolUniformCount = 8192
	descriptorPoolSamplerCount = 8192
)

// CreateDescriptorPool builds the renderer's shared descriptor pool.
func CreateDescriptorPool(context *VulkanContext) error {
	poolSizes := []vk.DescriptorPoolSize{
		{
			Type:            vk.DescriptorTypeUniformBufferDynamic,
			DescriptorCount: descriptorPoolUniformCount,
		},
		{
			Type:            vk.DescriptorTypeUniformBuffer,
			DescriptorCount: descriptorPoolUniformCount,
		},
		{
			Type:            vk.DescriptorTypeCombinedImageSampler,
			DescriptorCount: descriptorPoolSamplerCount,
		},
	}
	createInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
		MaxSets:       descriptorPoolMaxSets,
	}

	return context.LockPool.SafeCall(DescriptorManagement, func() error {
		var pool vk.DescriptorPool
		if res := vk.CreateDescriptorPool(context.Device.LogicalDevice, &createInfo, context.Allocator, &pool); res != vk.Success {
			err := fmt.Errorf("failed to create descriptor pool: %s", VulkanResultString(res))
			core.LogError(err.Error())
			return err
		}
		context.DescriptorPool = pool
		return nil
	})
}

// AllocateDescriptorSet allocates one set with the given layout from the
// shared pool.
func AllocateDescriptorSet(context *VulkanContext, layout vk.DescriptorSetLayout) (vk.DescriptorSet, error) {
	allocateInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     context.DescriptorPool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{layout},
	}

	sets := make([]vk.DescriptorSet, 1)
	if err := context.LockPool.SafeCall(DescriptorManagement, func() error {
		if res := vk.AllocateDescriptorSets(context.Device.LogicalDevice, &allocateInfo, &sets[0]); res != vk.Success {
			return fmt.Errorf("failed to allocate descriptor set: %s", VulkanResultString(res))
		}
		return nil
	}); err != nil {
		core.LogError(err.Error())
		return vk.NullDescriptorSet, err
	}
	return sets[0], nil
}

// WriteBufferDescriptor points a dynamic uniform binding of the set at a
// buffer range.
func WriteBufferDescriptor(context *VulkanContext, set vk.DescriptorSet, binding uint32, buffer *VulkanBuffer, offset, size uint64) {
	writeBufferDescriptor(context, set, binding, vk.DescriptorTypeUniformBufferDynamic, buffer, offset, size)
}

// WritePlainBufferDescriptor points a non-dynamic uniform binding of the set
// at a buffer range.
func WritePlainBufferDescriptor(context *VulkanContext, set vk.DescriptorSet, binding uint32, buffer *VulkanBuffer, offset, size uint64) {
	writeBufferDescriptor(context, set, binding, vk.DescriptorTypeUniformBuffer, buffer, offset, size)
}

func writeBufferDescriptor(context *VulkanContext, set vk.DescriptorSet, binding uint32, descriptorType vk.DescriptorType, buffer *VulkanBuffer, offset, size uint64) {
	bufferInfo := vk.DescriptorBufferInfo{
		Buffer: buffer.Handle,
		Offset: vk.DeviceSize(offset),
		Range:  vk.DeviceSize(size),
	}
	write := vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          set,
		DstBinding:      binding,
		DescriptorType:  descriptorType,
		DescriptorCount: 1,
		PBufferInfo:     []vk.DescriptorBufferInfo{bufferInfo},
	}
	vk.UpdateDescriptorSets(context.Device.LogicalDevice, 1, []vk.WriteDescriptorSet{write}, 0, nil)
}

// WriteSamplerDescriptor points a combined image sampler binding of the set
// at an image view.
func WriteSamplerDescriptor(context *VulkanContext, set vk.DescriptorSet, binding uint32, view vk.ImageView, sampler vk.Sampler) {
	imageInfo := vk.DescriptorImageInfo{
		ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal,
		ImageView:   view,
		Sampler:     sampler,
	}
	write := vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          set,
		DstBinding:      binding,
		DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
		DescriptorCount: 1,
		PImageInfo:      []vk.DescriptorImageInfo{imageInfo},
	}
	vk.UpdateDescriptorSets(context.Device.LogicalDevice, 1, []vk.WriteDescriptorSet{write}, 0, nil)
}
