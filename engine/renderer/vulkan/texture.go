package vulkan

import (
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/borealis-engine/borealis/engine/core"
)

// VulkanTexture is a sampled 2D image with its sampler.
type VulkanTexture struct {
	Image   *VulkanImage
	Sampler vk.Sampler
}

// TextureCache loads and caches sampled textures by file path, scoped to one
// renderer instance. A load failure logs a warning and yields the default
// checkerboard so a missing asset never takes the frame down.
type TextureCache struct {
	context  *VulkanContext
	textures map[string]*VulkanTexture
	fallback *VulkanTexture
	mu       sync.RWMutex
}

func NewTextureCache(context *VulkanContext) *TextureCache {
	return &TextureCache{
		context:  context,
		textures: make(map[string]*VulkanTexture),
	}
}

// Default returns the checkerboard fallback texture, creating it on first
// use. Every shader-declared sampler without a material binding uses it.
func (c *TextureCache) Default() (*VulkanTexture, error) {
	c.mu.RLock()
	if c.fallback != nil {
		c.mu.RUnlock()
		return c.fallback, nil
	}
	c.mu.RUnlock()

	const dim = 16
	pixels := make([]byte, dim*dim*4)
	for y := 0; y < dim; y++ {
		for x := 0; x < dim; x++ {
			i := (y*dim + x) * 4
			if (x/4+y/4)%2 == 0 {
				pixels[i], pixels[i+1], pixels[i+2] = 255, 0, 255
			} else {
				pixels[i], pixels[i+1], pixels[i+2] = 32, 32, 32
			}
			pixels[i+3] = 255
		}
	}

	texture, err := newTextureFromPixels(c.context, dim, dim, pixels)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.fallback = texture
	c.mu.Unlock()
	return texture, nil
}

// Load returns the cached texture for the path, decoding and uploading it on
// first use. Failures fall back to the default texture.
func (c *TextureCache) Load(path string) (*VulkanTexture, error) {
	c.mu.RLock()
	if t, ok := c.textures[path]; ok {
		c.mu.RUnlock()
		return t, nil
	}
	c.mu.RUnlock()

	texture, err := loadTextureFile(c.context, path)
	if err != nil {
		core.LogWarn("texture `%s` failed to load, using default: %s", path, err)
		return c.Default()
	}

	c.mu.Lock()
	c.textures[path] = texture
	c.mu.Unlock()
	return texture, nil
}

// Destroy releases every cached texture including the fallback.
func (c *TextureCache) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for path, t := range c.textures {
		t.Destroy(c.context)
		delete(c.textures, path)
	}
	if c.fallback != nil {
		c.fallback.Destroy(c.context)
		c.fallback = nil
	}
}

func loadTextureFile(context *VulkanContext, path string) (*VulkanTexture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode failed: %w", err)
	}

	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)

	return newTextureFromPixels(context, uint32(bounds.Dx()), uint32(bounds.Dy()), rgba.Pix)
}

func newTextureFromPixels(context *VulkanContext, width, height uint32, pixels []byte) (*VulkanTexture, error) {
	img, err := ImageCreate(context,
		vk.ImageType2d,
		width, height,
		vk.FormatR8g8b8a8Unorm,
		vk.ImageTilingOptimal,
		vk.ImageUsageFlags(vk.ImageUsageTransferDstBit|vk.ImageUsageSampledBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit),
		true,
		vk.ImageAspectFlags(vk.ImageAspectColorBit))
	if err != nil {
		return nil, err
	}

	staging, err := NewVulkanBuffer(context,
		uint64(len(pixels)),
		vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
	if err != nil {
		img.ImageDestroy(context)
		return nil, err
	}
	defer staging.Destroy(context)

	if err := staging.LoadData(context, 0, uint64(len(pixels)), pixels); err != nil {
		img.ImageDestroy(context)
		return nil, err
	}

	cb, err := AllocateAndBeginSingleUse(context, context.Device.GraphicsCommandPool)
	if err != nil {
		img.ImageDestroy(context)
		return nil, err
	}

	ImageTransitionLayout(cb, img.Handle,
		vk.ImageAspectFlags(vk.ImageAspectColorBit),
		vk.ImageLayoutUndefined, vk.ImageLayoutTransferDstOptimal,
		0, vk.AccessFlags(vk.AccessTransferWriteBit),
		vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit), vk.PipelineStageFlags(vk.PipelineStageTransferBit))

	region := vk.BufferImageCopy{
		BufferOffset:      0,
		BufferRowLength:   0,
		BufferImageHeight: 0,
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
			MipLevel:       0,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
		ImageExtent: vk.Extent3D{Width: width, Height: height, Depth: 1},
	}
	vk.CmdCopyBufferToImage(cb.Handle, staging.Handle, img.Handle, vk.ImageLayoutTransferDstOptimal, 1, []vk.BufferImageCopy{region})

	ImageTransitionLayout(cb, img.Handle,
		vk.ImageAspectFlags(vk.ImageAspectColorBit),
		vk.ImageLayoutTransferDstOptimal, vk.ImageLayoutShaderReadOnlyOptimal,
		vk.AccessFlags(vk.AccessTransferWriteBit), vk.AccessFlags(vk.AccessShaderReadBit),
		vk.PipelineStageFlags(vk.PipelineStageTransferBit), vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit))

	if err := cb.EndSingleUse(context, context.Device.GraphicsCommandPool, context.Device.GraphicsQueue); err != nil {
		img.ImageDestroy(context)
		return nil, err
	}

	sampler, err := newSampler(context)
	if err != nil {
		img.ImageDestroy(context)
		return nil, err
	}

	return &VulkanTexture{Image: img, Sampler: sampler}, nil
}

func newSampler(context *VulkanContext) (vk.Sampler, error) {
	createInfo := vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               vk.FilterLinear,
		MinFilter:               vk.FilterLinear,
		AddressModeU:            vk.SamplerAddressModeRepeat,
		AddressModeV:            vk.SamplerAddressModeRepeat,
		AddressModeW:            vk.SamplerAddressModeRepeat,
		AnisotropyEnable:        vk.True,
		MaxAnisotropy:           16,
		BorderColor:             vk.BorderColorIntOpaqueBlack,
		UnnormalizedCoordinates: vk.False,
		CompareEnable:           vk.False,
		CompareOp:               vk.CompareOpAlways,
		MipmapMode:              vk.SamplerMipmapModeLinear,
	}

	var sampler vk.Sampler
	if err := context.LockPool.SafeCall(SamplerManagement, func() error {
		if res := vk.CreateSampler(context.Device.LogicalDevice, &createInfo, context.Allocator, &sampler); res != vk.Success {
			return fmt.Errorf("failed to create sampler: %s", VulkanResultString(res))
		}
		return nil
	}); err != nil {
		core.LogError(err.Error())
		return vk.NullSampler, err
	}
	return sampler, nil
}

func (t *VulkanTexture) Destroy(context *VulkanContext) {
	if t.Sampler != vk.NullSampler {
		vk.DestroySampler(context.Device.LogicalDevice, t.Sampler, context.Allocator)
		t.Sampler = vk.NullSampler
	}
	if t.Image != nil {
		t.Image.ImageDestroy(context)
		t.Image = nil
	}
}
