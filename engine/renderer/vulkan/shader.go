package vulkan

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/pelletier/go-toml/v2"

	"github.com/borealis-engine/borealis/engine/core"
)

// ShaderUBOMember is one reflected member of a uniform block: name and byte
// placement within the block.
type ShaderUBOMember struct {
	Name   string `toml:"name"`
	Offset uint32 `toml:"offset"`
	Range  uint32 `toml:"range"`
}

// ShaderUBOSpec is the reflected layout of one uniform block.
type ShaderUBOSpec struct {
	Name    string            `toml:"name"`
	Set     uint32            `toml:"set"`
	Binding uint32            `toml:"binding"`
	Size    uint32            `toml:"size"`
	Members []ShaderUBOMember `toml:"members"`
}

// ShaderSamplerSpec is one reflected combined image sampler.
type ShaderSamplerSpec struct {
	Name    string `toml:"name"`
	Set     uint32 `toml:"set"`
	Binding uint32 `toml:"binding"`
}

// ShaderPushConstantSpec is one reflected push constant range.
type ShaderPushConstantSpec struct {
	Name   string `toml:"name"`
	Offset uint32 `toml:"offset"`
	Size   uint32 `toml:"size"`
}

// ShaderLayout is the reflection toolchain's output for one shader stage:
// the ordered descriptor and push-constant interface the pipeline and every
// UBO serialization must match exactly.
type ShaderLayout struct {
	UBOs          []ShaderUBOSpec          `toml:"ubos"`
	Samplers      []ShaderSamplerSpec      `toml:"samplers"`
	PushConstants []ShaderPushConstantSpec `toml:"push_constants"`
}

// Validate rejects layouts in which two resources claim the same set+binding
// slot. This is a configuration error: the pass falls back to its default
// pipeline rather than crash the frame.
func (l *ShaderLayout) Validate(shaderName string) error {
	type slot struct{ set, binding uint32 }
	seen := make(map[slot]string)
	for _, ubo := range l.UBOs {
		s := slot{ubo.Set, ubo.Binding}
		if prev, dup := seen[s]; dup {
			return fmt.Errorf("shader `%s`: descriptor set collision, `%s` and `%s` both claim set=%d binding=%d",
				shaderName, prev, ubo.Name, ubo.Set, ubo.Binding)
		}
		seen[s] = ubo.Name
	}
	for _, sampler := range l.Samplers {
		s := slot{sampler.Set, sampler.Binding}
		if prev, dup := seen[s]; dup {
			return fmt.Errorf("shader `%s`: descriptor set collision, `%s` and `%s` both claim set=%d binding=%d",
				shaderName, prev, sampler.Name, sampler.Set, sampler.Binding)
		}
		seen[s] = sampler.Name
	}
	return nil
}

// UBO returns the reflected block with the given name, or nil.
func (l *ShaderLayout) UBO(name string) *ShaderUBOSpec {
	for i := range l.UBOs {
		if l.UBOs[i].Name == name {
			return &l.UBOs[i]
		}
	}
	return nil
}

// LoadShaderLayout reads the reflection sidecar written next to the compiled
// shader by the shader toolchain. The toolchain itself is a black box; only
// its reported layout is consumed here.
func LoadShaderLayout(shaderPath string) (*ShaderLayout, error) {
	sidecar := shaderPath + ".layout.toml"
	raw, err := os.ReadFile(sidecar)
	if err != nil {
		core.LogError("failed to read shader layout sidecar `%s`: %s", sidecar, err)
		return nil, err
	}
	layout := &ShaderLayout{}
	if err := toml.Unmarshal(raw, layout); err != nil {
		core.LogError("failed to parse shader layout sidecar `%s`: %s", sidecar, err)
		return nil, err
	}
	if err := layout.Validate(filepath.Base(shaderPath)); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	return layout, nil
}

// VulkanShaderStage is one compiled shader module with its pipeline stage
// create info and reflected layout.
type VulkanShaderStage struct {
	Handle                vk.ShaderModule
	ShaderStageCreateInfo vk.PipelineShaderStageCreateInfo
	Layout                *ShaderLayout
	Path                  string
}

// ShaderModuleCache caches compiled shader modules by path, scoped to one
// renderer instance.
type ShaderModuleCache struct {
	context *VulkanContext
	stages  map[string]*VulkanShaderStage
	mu      sync.RWMutex
}

func NewShaderModuleCache(context *VulkanContext) *ShaderModuleCache {
	return &ShaderModuleCache{
		context: context,
		stages:  make(map[string]*VulkanShaderStage),
	}
}

// stageFlagForFile maps shader file naming conventions onto pipeline stages.
func stageFlagForFile(path string) (vk.ShaderStageFlagBits, error) {
	name := filepath.Base(path)
	switch {
	case strings.Contains(name, ".vert"):
		return vk.ShaderStageVertexBit, nil
	case strings.Contains(name, ".frag"):
		return vk.ShaderStageFragmentBit, nil
	case strings.Contains(name, ".geom"):
		return vk.ShaderStageGeometryBit, nil
	case strings.Contains(name, ".comp"):
		return vk.ShaderStageComputeBit, nil
	}
	return 0, fmt.Errorf("cannot infer shader stage from file name `%s`", name)
}

// Load returns the cached stage for the shader file, compiling the module and
// loading its reflection sidecar on first use.
func (c *ShaderModuleCache) Load(path string) (*VulkanShaderStage, error) {
	c.mu.RLock()
	if stage, ok := c.stages[path]; ok {
		c.mu.RUnlock()
		return stage, nil
	}
	c.mu.RUnlock()

	stageFlag, err := stageFlagForFile(path)
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}

	code, err := os.ReadFile(path)
	if err != nil {
		core.LogError("unable to read shader module `%s`: %s", path, err)
		return nil, err
	}
	if len(code)%4 != 0 {
		err := fmt.Errorf("shader module `%s` is not valid SPIR-V (size %d)", path, len(code))
		core.LogError(err.Error())
		return nil, err
	}

	layout, err := LoadShaderLayout(path)
	if err != nil {
		return nil, err
	}

	createInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code)),
		PCode:    sliceUint32(code),
	}

	var handle vk.ShaderModule
	if err := c.context.LockPool.SafeCall(ShaderManagement, func() error {
		if res := vk.CreateShaderModule(c.context.Device.LogicalDevice, &createInfo, c.context.Allocator, &handle); res != vk.Success {
			return fmt.Errorf("failed to create shader module `%s`: %s", path, VulkanResultString(res))
		}
		return nil
	}); err != nil {
		core.LogError(err.Error())
		return nil, err
	}

	stage := &VulkanShaderStage{
		Handle: handle,
		Layout: layout,
		Path:   path,
		ShaderStageCreateInfo: vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  stageFlag,
			Module: handle,
			PName:  VulkanSafeString("main"),
		},
	}

	c.mu.Lock()
	c.stages[path] = stage
	c.mu.Unlock()

	core.LogDebug("compiled shader module `%s`", path)
	return stage, nil
}

// Destroy releases every cached module.
func (c *ShaderModuleCache) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for path, stage := range c.stages {
		if stage.Handle != vk.NullShaderModule {
			vk.DestroyShaderModule(c.context.Device.LogicalDevice, stage.Handle, c.context.Allocator)
		}
		delete(c.stages, path)
	}
}

func sliceUint32(data []byte) []uint32 {
	return unsafe.Slice((*uint32)(unsafe.Pointer(&data[0])), len(data)/4)
}
