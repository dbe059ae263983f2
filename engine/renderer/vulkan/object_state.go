package vulkan

import (
	"fmt"
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/borealis-engine/borealis/engine/core"
	"github.com/borealis-engine/borealis/engine/scene"
)

// Uniform block shapes of the standard shader set. Passes built from custom
// shaders replace these with their own reflected specs; the standard set is
// fixed and shared by every stock shader, so the blocks are known up front.
func defaultMatricesSpec() *ShaderUBOSpec {
	return &ShaderUBOSpec{
		Name:    LayoutMatrices,
		Set:     0,
		Binding: 0,
		Size:    192,
		Members: []ShaderUBOMember{
			{Name: "model", Offset: 0, Range: 64},
			{Name: "view", Offset: 64, Range: 64},
			{Name: "projection", Offset: 128, Range: 64},
		},
	}
}

func defaultMaterialSpec() *ShaderUBOSpec {
	return &ShaderUBOSpec{
		Name:    LayoutMaterialProperties,
		Set:     1,
		Binding: 0,
		Size:    64,
		Members: []ShaderUBOMember{
			{Name: "diffuse", Offset: 0, Range: 16},
			{Name: "specular", Offset: 16, Range: 16},
			{Name: "ambient", Offset: 32, Range: 16},
			{Name: "params", Offset: 48, Range: 16},
		},
	}
}

// UniformBinding pairs a descriptor set with the UBO it points at. Offsets
// records, per recording pass, the dynamic offset baked into that pass's
// command buffer; frame updates rewrite every recorded slot, since an object
// drawn by several passes has one live slot per pass.
type UniformBinding struct {
	Set     vk.DescriptorSet
	UBO     *UBO
	Offsets map[string]uint32
}

// RecordOffset notes the dynamic offset the named pass just recorded
// against, replacing that pass's previous slot.
func (b *UniformBinding) RecordOffset(pass string, offset uint32) {
	if b.Offsets == nil {
		b.Offsets = make(map[string]uint32, 1)
	}
	b.Offsets[pass] = offset
}

// ObjectState is the per-object GPU resource bundle: pooled vertex/index
// regions, the optional instance buffer, uniform bindings and texture
// bindings. Assigned to the scene node exactly once; initialized=true implies
// every required buffer and descriptor set exists and points at valid memory.
type ObjectState struct {
	initialized bool

	LayoutKind   scene.VertexLayoutKind
	VertexRegion *Suballocation
	IndexRegion  *Suballocation
	VertexCount  uint32
	IndexCount   uint32

	// Instancing master resources. Slaves own nothing.
	InstanceBuffer  *VulkanBuffer
	instanceStaging *VulkanBuffer
	InstanceStride  uint32
	InstanceCount   uint32

	UniformBindings map[string]*UniformBinding
	Textures        map[scene.TextureSlot]*VulkanTexture

	PipelineKey string
	BlendHash   uint64
}

func (s *ObjectState) Initialized() bool {
	return s != nil && s.initialized
}

// CameraSource provides the view and projection matrices the Matrices UBO
// closures read. Evaluated at serialization time every frame.
type CameraSource struct {
	View       func() []float32
	Projection func() []float32
}

// ObjectBinder performs the object-to-GPU binding protocol. It is driven only
// by the frame-orchestration thread; per-object locks guard material and
// texture reads against scene-side mutation.
type ObjectBinder struct {
	context  *VulkanContext
	textures *TextureCache
	camera   CameraSource

	matricesSpec *ShaderUBOSpec
	materialSpec *ShaderUBOSpec

	// Per-draw UBO slots available before offsets wrap.
	uboSlots uint64
}

func NewObjectBinder(context *VulkanContext, textures *TextureCache, camera CameraSource) *ObjectBinder {
	identity := []float32{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
	if camera.View == nil {
		camera.View = func() []float32 { return identity }
	}
	if camera.Projection == nil {
		camera.Projection = func() []float32 { return identity }
	}
	return &ObjectBinder{
		context:      context,
		textures:     textures,
		camera:       camera,
		matricesSpec: defaultMatricesSpec(),
		materialSpec: defaultMaterialSpec(),
		uboSlots:     64,
	}
}

// State returns the node's resource bundle. A node reaching the renderer
// without one is an integration error, not a recoverable condition.
func (b *ObjectBinder) State(node *scene.Node) (*ObjectState, error) {
	state, ok := node.RendererState.(*ObjectState)
	if !ok || state == nil {
		err := fmt.Errorf("%w: object `%s` (%s) has no renderer state", core.ErrConsistency, node.Name, node.ID)
		core.LogError(err.Error())
		return nil, err
	}
	return state, nil
}

// InitializeNode binds the object to GPU resources. Idempotent: an already
// initialized object returns immediately.
func (b *ObjectBinder) InitializeNode(node *scene.Node) (bool, error) {
	if node.RendererState != nil && node.RendererState.Initialized() {
		return true, nil
	}

	state := &ObjectState{
		UniformBindings: make(map[string]*UniformBinding),
		Textures:        make(map[scene.TextureSlot]*VulkanTexture),
		PipelineKey:     PipelineKeyDefault,
	}

	// Slaves are drawn only through their master's instanced call and own no
	// buffers of their own.
	if node.IsInstanceSlave() {
		if _, err := b.InitializeNode(node.Master); err != nil {
			return false, err
		}
		state.initialized = true
		node.RendererState = state
		return false, nil
	}

	state.LayoutKind = node.Geometry.LayoutKind()

	if node.IsInstanceMaster() {
		if err := b.updateInstanceBuffer(node, state); err != nil {
			return false, err
		}
		// Instanced draws always consume the full layout so one shader set
		// covers every master.
		state.LayoutKind = scene.LayoutPositionNormalTexcoord
	}

	if err := b.uploadGeometry(node, state); err != nil {
		return false, err
	}

	if err := b.bindUniformBlock(node, state, b.matricesSpec, b.matricesMembers(node)); err != nil {
		return false, err
	}
	if err := b.bindUniformBlock(node, state, b.materialSpec, b.materialMembers(node)); err != nil {
		return false, err
	}

	if err := b.loadTextures(node, state); err != nil {
		return false, err
	}

	if len(node.Material.ShaderProperties) > 0 {
		spec := shaderPropertiesSpec(node.Material.ShaderProperties)
		if err := b.bindUniformBlock(node, state, spec, shaderPropertiesMembers(node)); err != nil {
			return false, err
		}
	}

	if len(node.Material.CustomShaders) > 0 {
		state.PipelineKey = PipelineKeyPreferred(node.ID.String())
	}
	state.BlendHash = node.Material.Blending.Hash()

	state.initialized = true
	node.RendererState = state
	core.LogDebug("initialized object `%s` (%d vertices, %d indices, %d instances)",
		node.Name, state.VertexCount, state.IndexCount, state.InstanceCount)
	return false, nil
}

func (b *ObjectBinder) matricesMembers(node *scene.Node) map[string]UBOMemberValue {
	return map[string]UBOMemberValue{
		"model":      func() []float32 { return node.WorldTransform.Data[:] },
		"view":       b.camera.View,
		"projection": b.camera.Projection,
	}
}

func (b *ObjectBinder) materialMembers(node *scene.Node) map[string]UBOMemberValue {
	m := node.Material
	return map[string]UBOMemberValue{
		"diffuse":  func() []float32 { return []float32{m.Diffuse.X, m.Diffuse.Y, m.Diffuse.Z, m.Diffuse.W} },
		"specular": func() []float32 { return []float32{m.Specular.X, m.Specular.Y, m.Specular.Z, m.Specular.W} },
		"ambient":  func() []float32 { return []float32{m.Ambient.X, m.Ambient.Y, m.Ambient.Z, m.Ambient.W} },
		"params":   func() []float32 { return []float32{m.Roughness, m.Metallic, m.Opacity, 0} },
	}
}

// shaderPropertiesSpec derives the custom block's layout from the declared
// properties in order, 16-byte aligned per member.
func shaderPropertiesSpec(properties []scene.ShaderProperty) *ShaderUBOSpec {
	spec := &ShaderUBOSpec{
		Name:    LayoutShaderProperties,
		Set:     2,
		Binding: 0,
	}
	offset := uint32(0)
	for _, p := range properties {
		size := uint32(len(p.Values) * 4)
		spec.Members = append(spec.Members, ShaderUBOMember{
			Name:   p.Name,
			Offset: offset,
			Range:  size,
		})
		offset = alignUp32(offset+size, 16)
	}
	spec.Size = alignUp32(offset, 16)
	return spec
}

func shaderPropertiesMembers(node *scene.Node) map[string]UBOMemberValue {
	members := make(map[string]UBOMemberValue, len(node.Material.ShaderProperties))
	for i := range node.Material.ShaderProperties {
		p := &node.Material.ShaderProperties[i]
		members[p.Name] = func() []float32 { return p.Values }
	}
	return members
}

func alignUp32(value, alignment uint32) uint32 {
	return (value + alignment - 1) / alignment * alignment
}

func (b *ObjectBinder) bindUniformBlock(node *scene.Node, state *ObjectState, spec *ShaderUBOSpec, members map[string]UBOMemberValue) error {
	ubo, err := NewUBO(b.context, spec, b.uboSlots)
	if err != nil {
		return err
	}
	// Members register in reflected declaration order; placement still comes
	// from the reflected offsets.
	for _, m := range spec.Members {
		value, ok := members[m.Name]
		if !ok {
			continue
		}
		if err := ubo.AddMember(m.Name, value); err != nil {
			ubo.Destroy(b.context)
			return err
		}
	}

	layoutName := spec.Name
	layout, err := b.context.DescriptorLayoutCache.Get(layoutName, []vk.DescriptorSetLayoutBinding{
		UniformBufferBinding(spec.Binding, vk.ShaderStageFlags(vk.ShaderStageVertexBit)|vk.ShaderStageFlags(vk.ShaderStageFragmentBit)),
	})
	if err != nil {
		ubo.Destroy(b.context)
		return err
	}
	set, err := AllocateDescriptorSet(b.context, layout)
	if err != nil {
		ubo.Destroy(b.context)
		return err
	}
	WriteBufferDescriptor(b.context, set, spec.Binding, ubo.Buffer, 0, uint64(spec.Size))

	state.UniformBindings[spec.Name] = &UniformBinding{Set: set, UBO: ubo}
	return nil
}

func (b *ObjectBinder) loadTextures(node *scene.Node, state *ObjectState) error {
	node.Lock()
	paths := make(map[scene.TextureSlot]string, len(node.Material.Textures))
	for slot, path := range node.Material.Textures {
		paths[slot] = path
	}
	node.Unlock()

	for _, slot := range []scene.TextureSlot{scene.TextureSlotDiffuse, scene.TextureSlotNormal, scene.TextureSlotSpecular, scene.TextureSlotAmbient} {
		var (
			texture *VulkanTexture
			err     error
		)
		if path, ok := paths[slot]; ok && path != "" {
			texture, err = b.textures.Load(path)
		} else {
			texture, err = b.textures.Default()
		}
		if err != nil {
			return err
		}
		state.Textures[slot] = texture
	}
	return nil
}

// uploadGeometry interleaves the mesh into the forced layout and moves vertex
// and index data into the pooled device buffers through a staging copy.
func (b *ObjectBinder) uploadGeometry(node *scene.Node, state *ObjectState) error {
	vertexData := floatBytes(node.Geometry.Interleave(state.LayoutKind))
	state.VertexCount = uint32(len(node.Geometry.Positions))

	region, err := b.ensureRegion(b.context.VertexBufferPool, state.VertexRegion, uint64(len(vertexData)))
	if err != nil {
		return err
	}
	state.VertexRegion = region
	if err := b.stageInto(region, vertexData); err != nil {
		return err
	}

	if len(node.Geometry.Indices) > 0 {
		indexData := uint32Bytes(node.Geometry.Indices)
		state.IndexCount = uint32(len(node.Geometry.Indices))
		region, err := b.ensureRegion(b.context.IndexBufferPool, state.IndexRegion, uint64(len(indexData)))
		if err != nil {
			return err
		}
		state.IndexRegion = region
		if err := b.stageInto(region, indexData); err != nil {
			return err
		}
	}
	return nil
}

// ensureRegion reuses the current region when it still fits, otherwise frees
// it and takes a larger one. Regions only grow.
func (b *ObjectBinder) ensureRegion(pool *BufferPool, current *Suballocation, size uint64) (*Suballocation, error) {
	if current != nil && current.Size >= size {
		current.Dirty = true
		return current, nil
	}
	if current != nil {
		pool.Free(current)
	}
	return pool.Create(size)
}

func (b *ObjectBinder) stageInto(region *Suballocation, data []byte) error {
	staging, err := NewVulkanBuffer(b.context,
		uint64(len(data)),
		vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit),
		vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
	if err != nil {
		return err
	}
	defer staging.Destroy(b.context)

	if err := staging.LoadData(b.context, 0, uint64(len(data)), data); err != nil {
		return err
	}
	if err := staging.CopyTo(b.context, 0, region.Buffer, region.Offset, uint64(len(data))); err != nil {
		return err
	}
	region.Dirty = false
	return nil
}

// UpdateInstanceBuffer refreshes a master's instance buffer from its current
// instance list.
func (b *ObjectBinder) UpdateInstanceBuffer(node *scene.Node) error {
	state, err := b.State(node)
	if err != nil {
		return err
	}
	return b.updateInstanceBuffer(node, state)
}

func (b *ObjectBinder) updateInstanceBuffer(node *scene.Node, state *ObjectState) error {
	instances := node.Instances
	if len(instances) == 0 {
		state.InstanceCount = 0
		return nil
	}

	// Stride is gauged from one representative instance; every instance must
	// carry the same property shape.
	stride := instanceStride(instances[0])
	if stride == 0 {
		err := fmt.Errorf("%w: instancing master `%s` has instances without properties", core.ErrConsistency, node.Name)
		core.LogError(err.Error())
		return err
	}

	data := populateInstanceData(instances, stride)
	required := uint64(len(data))

	// Grow-only: never shrink, never thrash on oscillating instance counts.
	if state.instanceStaging == nil || state.instanceStaging.TotalSize < required {
		if state.instanceStaging != nil {
			state.instanceStaging.Destroy(b.context)
		}
		staging, err := NewVulkanBuffer(b.context,
			required,
			vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit),
			vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
		if err != nil {
			return err
		}
		state.instanceStaging = staging
	}
	if state.InstanceBuffer == nil || state.InstanceBuffer.TotalSize < required {
		if state.InstanceBuffer != nil {
			state.InstanceBuffer.Destroy(b.context)
		}
		device, err := NewVulkanBuffer(b.context,
			required,
			vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit|vk.BufferUsageTransferDstBit),
			vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
		if err != nil {
			return err
		}
		state.InstanceBuffer = device
	}

	if err := state.instanceStaging.LoadData(b.context, 0, required, data); err != nil {
		return err
	}
	if err := state.instanceStaging.CopyTo(b.context, 0, state.InstanceBuffer, 0, required); err != nil {
		return err
	}

	state.InstanceStride = stride
	state.InstanceCount = uint32(len(instances))
	return nil
}

func instanceStride(instance *scene.Node) uint32 {
	var stride uint32
	for _, p := range instance.InstanceProperties {
		stride += uint32(len(p.Values) * 4)
	}
	return stride
}

// populateInstanceData serializes every instance's properties into its own
// stride-sized slice of the staging area, one worker per instance. Workers
// write disjoint byte ranges, so no locking is needed.
func populateInstanceData(instances []*scene.Node, stride uint32) []byte {
	data := make([]byte, uint64(stride)*uint64(len(instances)))

	var wg sync.WaitGroup
	for i, instance := range instances {
		wg.Add(1)
		go func(i int, instance *scene.Node) {
			defer wg.Done()
			offset := uint64(i) * uint64(stride)
			for _, p := range instance.InstanceProperties {
				raw := floatBytes(p.Values)
				copy(data[offset:offset+uint64(len(raw))], raw)
				offset += uint64(len(raw))
			}
		}(i, instance)
	}
	wg.Wait()
	return data
}

// ReloadGeometry re-uploads vertex/index data after a geometry change.
func (b *ObjectBinder) ReloadGeometry(node *scene.Node) error {
	state, err := b.State(node)
	if err != nil {
		return err
	}
	return b.uploadGeometry(node, state)
}

// ReloadTextures re-resolves the material's texture bindings after a texture
// change.
func (b *ObjectBinder) ReloadTextures(node *scene.Node) error {
	state, err := b.State(node)
	if err != nil {
		return err
	}
	return b.loadTextures(node, state)
}

// ReleaseNode returns the object's pooled regions and destroys its dedicated
// buffers. The descriptor sets go back with the shared pool.
func (b *ObjectBinder) ReleaseNode(node *scene.Node) {
	state, ok := node.RendererState.(*ObjectState)
	if !ok || state == nil {
		return
	}
	if state.VertexRegion != nil {
		b.context.VertexBufferPool.Free(state.VertexRegion)
		state.VertexRegion = nil
	}
	if state.IndexRegion != nil {
		b.context.IndexBufferPool.Free(state.IndexRegion)
		state.IndexRegion = nil
	}
	if state.InstanceBuffer != nil {
		state.InstanceBuffer.Destroy(b.context)
		state.InstanceBuffer = nil
	}
	if state.instanceStaging != nil {
		state.instanceStaging.Destroy(b.context)
		state.instanceStaging = nil
	}
	for name, binding := range state.UniformBindings {
		binding.UBO.Destroy(b.context)
		delete(state.UniformBindings, name)
	}
	state.initialized = false
	node.RendererState = nil
}

func uint32Bytes(values []uint32) []byte {
	if len(values) == 0 {
		return nil
	}
	out := make([]byte, len(values)*4)
	for i, v := range values {
		out[i*4] = byte(v)
		out[i*4+1] = byte(v >> 8)
		out[i*4+2] = byte(v >> 16)
		out[i*4+3] = byte(v >> 24)
	}
	return out
}
