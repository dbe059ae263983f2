package vulkan

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/borealis-engine/borealis/engine/core"
)

func testBlockSpec() *ShaderUBOSpec {
	return &ShaderUBOSpec{
		Name:    "TestBlock",
		Set:     0,
		Binding: 0,
		Size:    48,
		Members: []ShaderUBOMember{
			{Name: "color", Offset: 0, Range: 16},
			{Name: "intensity", Offset: 16, Range: 4},
			{Name: "direction", Offset: 32, Range: 12},
		},
	}
}

func TestUBOSerializePlacesMembersAtReflectedOffsets(t *testing.T) {
	ubo := newUBOForLayout(testBlockSpec())
	require.NoError(t, ubo.AddMember("color", func() []float32 { return []float32{1, 2, 3, 4} }))
	require.NoError(t, ubo.AddMember("intensity", func() []float32 { return []float32{0.5} }))
	require.NoError(t, ubo.AddMember("direction", func() []float32 { return []float32{7, 8, 9} }))

	data, err := ubo.Serialize()
	require.NoError(t, err)
	require.Len(t, data, 48)

	assert.Equal(t, floatBytes([]float32{1, 2, 3, 4}), data[0:16])
	assert.Equal(t, floatBytes([]float32{0.5}), data[16:20])
	// The std140 padding between members stays zeroed.
	assert.Equal(t, make([]byte, 12), data[20:32])
	assert.Equal(t, floatBytes([]float32{7, 8, 9}), data[32:44])
}

func TestUBOSerializeTracksClosureChanges(t *testing.T) {
	ubo := newUBOForLayout(testBlockSpec())
	value := []float32{0, 0, 0, 0}
	require.NoError(t, ubo.AddMember("color", func() []float32 { return value }))

	_, err := ubo.Serialize()
	require.NoError(t, err)

	value[0] = 42
	data, err := ubo.Serialize()
	require.NoError(t, err)
	assert.Equal(t, floatBytes([]float32{42, 0, 0, 0}), data[0:16])
}

func TestUBOSerializeSizeMismatchIsConsistencyError(t *testing.T) {
	ubo := newUBOForLayout(testBlockSpec())
	// Three floats against a 16-byte reflected range.
	require.NoError(t, ubo.AddMember("color", func() []float32 { return []float32{1, 2, 3} }))

	_, err := ubo.Serialize()
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrConsistency))
}

func TestUBOSerializeMemberOverrunIsConsistencyError(t *testing.T) {
	spec := &ShaderUBOSpec{
		Name: "Broken",
		Size: 16,
		Members: []ShaderUBOMember{
			{Name: "big", Offset: 8, Range: 16},
		},
	}
	ubo := newUBOForLayout(spec)
	require.NoError(t, ubo.AddMember("big", func() []float32 { return []float32{1, 2, 3, 4} }))

	_, err := ubo.Serialize()
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrConsistency))
}

func TestUBOAddMemberRejectsUnknownName(t *testing.T) {
	ubo := newUBOForLayout(testBlockSpec())
	assert.Error(t, ubo.AddMember("ghost", func() []float32 { return nil }))
}

func TestAlignUp(t *testing.T) {
	assert.Equal(t, uint64(0), alignUp(0, 256))
	assert.Equal(t, uint64(256), alignUp(1, 256))
	assert.Equal(t, uint64(256), alignUp(256, 256))
	assert.Equal(t, uint64(512), alignUp(257, 256))
	// Zero alignment leaves the value untouched.
	assert.Equal(t, uint64(100), alignUp(100, 0))
}
