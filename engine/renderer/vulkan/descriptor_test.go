package vulkan

import (
	"fmt"
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countingLayoutCache() (*DescriptorLayoutCache, *int) {
	calls := 0
	cache := NewDescriptorLayoutCacheWithCreate(func(bindings []vk.DescriptorSetLayoutBinding) (vk.DescriptorSetLayout, error) {
		calls++
		return vk.NullDescriptorSetLayout, nil
	})
	return cache, &calls
}

func TestDescriptorLayoutCacheCreatesOncePerName(t *testing.T) {
	cache, calls := countingLayoutCache()
	bindings := []vk.DescriptorSetLayoutBinding{
		UniformBufferBinding(0, vk.ShaderStageFlags(vk.ShaderStageVertexBit)),
	}

	_, err := cache.Get(LayoutMatrices, bindings)
	require.NoError(t, err)
	_, err = cache.Get(LayoutMatrices, bindings)
	require.NoError(t, err)

	assert.Equal(t, 1, *calls)
	assert.Equal(t, 1, cache.Len())
}

func TestDescriptorLayoutCacheNameFixesLayout(t *testing.T) {
	cache, calls := countingLayoutCache()

	_, err := cache.Get(LayoutMatrices, []vk.DescriptorSetLayoutBinding{
		UniformBufferBinding(0, vk.ShaderStageFlags(vk.ShaderStageVertexBit)),
	})
	require.NoError(t, err)

	// Different bindings under the same name never reach the factory; the
	// first request fixed the layout.
	_, err = cache.Get(LayoutMatrices, []vk.DescriptorSetLayoutBinding{
		SamplerBinding(3),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, *calls)
	assert.Equal(t, 1, cache.Len())
}

func TestDescriptorLayoutCacheDistinctNames(t *testing.T) {
	cache, calls := countingLayoutCache()
	bindings := []vk.DescriptorSetLayoutBinding{
		UniformBufferBinding(0, vk.ShaderStageFlags(vk.ShaderStageFragmentBit)),
	}

	_, err := cache.Get(LayoutMatrices, bindings)
	require.NoError(t, err)
	_, err = cache.Get(LayoutMaterialProperties, bindings)
	require.NoError(t, err)

	assert.Equal(t, 2, *calls)
	assert.Equal(t, 2, cache.Len())
}

func TestDescriptorLayoutCacheCreateFailure(t *testing.T) {
	cache := NewDescriptorLayoutCacheWithCreate(func(bindings []vk.DescriptorSetLayoutBinding) (vk.DescriptorSetLayout, error) {
		return vk.NullDescriptorSetLayout, fmt.Errorf("device lost")
	})
	_, err := cache.Get(LayoutMatrices, nil)
	assert.Error(t, err)
	assert.Equal(t, 0, cache.Len())
}

func TestUniformBufferBindingShape(t *testing.T) {
	binding := UniformBufferBinding(2, vk.ShaderStageFlags(vk.ShaderStageVertexBit))
	assert.Equal(t, uint32(2), binding.Binding)
	assert.Equal(t, vk.DescriptorTypeUniformBufferDynamic, binding.DescriptorType)
	assert.Equal(t, uint32(1), binding.DescriptorCount)
}

func TestPlainUniformBufferBindingShape(t *testing.T) {
	binding := PlainUniformBufferBinding(0, vk.ShaderStageFlags(vk.ShaderStageFragmentBit))
	assert.Equal(t, uint32(0), binding.Binding)
	assert.Equal(t, vk.DescriptorTypeUniformBuffer, binding.DescriptorType)
	assert.Equal(t, uint32(1), binding.DescriptorCount)
}

func TestSamplerBindingShape(t *testing.T) {
	binding := SamplerBinding(1)
	assert.Equal(t, uint32(1), binding.Binding)
	assert.Equal(t, vk.DescriptorTypeCombinedImageSampler, binding.DescriptorType)
	assert.Equal(t, vk.ShaderStageFlags(vk.ShaderStageFragmentBit), binding.StageFlags)
}

func TestLayoutNameHelpers(t *testing.T) {
	assert.Equal(t, "ShaderParameters-bloom", LayoutShaderParameters("bloom"))
	assert.Equal(t, "input-bloom-3", LayoutPassInput("bloom", 3))
}
