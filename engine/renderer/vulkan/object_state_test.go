package vulkan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/borealis-engine/borealis/engine/scene"
)

func instanceNode(values ...[]float32) *scene.Node {
	n := scene.NewNode("instance")
	for i, v := range values {
		n.InstanceProperties = append(n.InstanceProperties, scene.InstanceProperty{
			Name:   string(rune('a' + i)),
			Values: v,
		})
	}
	return n
}

func TestUniformBindingTracksOffsetsPerPass(t *testing.T) {
	binding := &UniformBinding{}
	binding.RecordOffset("forward-left", 256)
	binding.RecordOffset("forward-right", 512)
	assert.Equal(t, map[string]uint32{"forward-left": 256, "forward-right": 512}, binding.Offsets)

	// Re-recording one pass replaces that pass's slot and leaves the other
	// pass's slot reachable for frame updates.
	binding.RecordOffset("forward-left", 768)
	assert.Equal(t, uint32(768), binding.Offsets["forward-left"])
	assert.Equal(t, uint32(512), binding.Offsets["forward-right"])
}

func TestInstanceStride(t *testing.T) {
	n := instanceNode([]float32{1, 2, 3, 4}, []float32{5})
	assert.Equal(t, uint32(20), instanceStride(n))

	assert.Equal(t, uint32(0), instanceStride(scene.NewNode("empty")))
}

func TestPopulateInstanceDataLayout(t *testing.T) {
	instances := []*scene.Node{
		instanceNode([]float32{1, 2, 3, 4}, []float32{10}),
		instanceNode([]float32{5, 6, 7, 8}, []float32{20}),
		instanceNode([]float32{9, 10, 11, 12}, []float32{30}),
	}
	stride := instanceStride(instances[0])
	data := populateInstanceData(instances, stride)
	require.Len(t, data, int(stride)*len(instances))

	// Each instance's properties are serialized back to back within its own
	// stride-sized slice, regardless of worker scheduling.
	for i, instance := range instances {
		offset := int(stride) * i
		var expected []byte
		for _, p := range instance.InstanceProperties {
			expected = append(expected, floatBytes(p.Values)...)
		}
		assert.Equal(t, expected, data[offset:offset+len(expected)], "instance %d", i)
	}
}

func TestPopulateInstanceDataManyInstances(t *testing.T) {
	instances := make([]*scene.Node, 256)
	for i := range instances {
		instances[i] = instanceNode([]float32{float32(i), float32(i) * 2})
	}
	stride := instanceStride(instances[0])
	data := populateInstanceData(instances, stride)

	for i := range instances {
		offset := int(stride) * i
		expected := floatBytes([]float32{float32(i), float32(i) * 2})
		assert.Equal(t, expected, data[offset:offset+int(stride)])
	}
}

func TestPopulateInstanceDataRepeatable(t *testing.T) {
	instances := make([]*scene.Node, 100)
	for i := range instances {
		instances[i] = instanceNode([]float32{float32(i), 1, 2, 3}, []float32{float32(i) * 0.5})
	}
	stride := instanceStride(instances[0])

	first := populateInstanceData(instances, stride)
	second := populateInstanceData(instances, stride)
	assert.Equal(t, first, second)
}

func TestShaderPropertiesSpecAlignsMembers(t *testing.T) {
	spec := shaderPropertiesSpec([]scene.ShaderProperty{
		{Name: "tint", Values: []float32{1, 1, 1, 1}},
		{Name: "intensity", Values: []float32{0.5}},
		{Name: "offset", Values: []float32{1, 2, 3}},
	})

	assert.Equal(t, LayoutShaderProperties, spec.Name)
	assert.Equal(t, uint32(2), spec.Set)
	require.Len(t, spec.Members, 3)

	assert.Equal(t, uint32(0), spec.Members[0].Offset)
	assert.Equal(t, uint32(16), spec.Members[0].Range)

	// Each member starts on a 16-byte boundary.
	assert.Equal(t, uint32(16), spec.Members[1].Offset)
	assert.Equal(t, uint32(4), spec.Members[1].Range)

	assert.Equal(t, uint32(32), spec.Members[2].Offset)
	assert.Equal(t, uint32(12), spec.Members[2].Range)

	assert.Equal(t, uint32(48), spec.Size)
}

func TestShaderPropertiesSpecRoundTripsThroughUBO(t *testing.T) {
	properties := []scene.ShaderProperty{
		{Name: "tint", Values: []float32{0.2, 0.4, 0.6, 0.8}},
		{Name: "intensity", Values: []float32{2.5}},
	}
	spec := shaderPropertiesSpec(properties)
	ubo := newUBOForLayout(spec)
	for i := range properties {
		p := &properties[i]
		require.NoError(t, ubo.AddMember(p.Name, func() []float32 { return p.Values }))
	}

	data, err := ubo.Serialize()
	require.NoError(t, err)
	assert.Equal(t, floatBytes(properties[0].Values), data[0:16])
	assert.Equal(t, floatBytes(properties[1].Values), data[16:20])
}

func TestAlignUp32(t *testing.T) {
	assert.Equal(t, uint32(0), alignUp32(0, 16))
	assert.Equal(t, uint32(16), alignUp32(1, 16))
	assert.Equal(t, uint32(16), alignUp32(16, 16))
	assert.Equal(t, uint32(32), alignUp32(17, 16))
}

func TestUint32BytesLittleEndian(t *testing.T) {
	assert.Nil(t, uint32Bytes(nil))
	assert.Equal(t,
		[]byte{0x01, 0x00, 0x00, 0x00, 0xff, 0x00, 0x00, 0x00, 0x78, 0x56, 0x34, 0x12},
		uint32Bytes([]uint32{1, 255, 0x12345678}))
}
