package scene

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewMaterialDefaults(t *testing.T) {
	m := NewMaterial()
	assert.Equal(t, float32(1.0), m.Opacity)
	assert.True(t, m.DepthTest)
	assert.True(t, m.DepthWrite)
	assert.Equal(t, CullBack, m.CullingMode)
	assert.NotNil(t, m.Textures)
	assert.False(t, m.IsTransparent())
}

func TestIsTransparent(t *testing.T) {
	m := NewMaterial()

	m.Opacity = 0.5
	assert.True(t, m.IsTransparent())

	m.Opacity = 1.0
	m.Blending.Enabled = true
	assert.True(t, m.IsTransparent())
}

func TestBlendingHashDistinguishesStates(t *testing.T) {
	a := Blending{Enabled: true, SrcColorFactor: BlendSrcAlpha, DstColorFactor: BlendOneMinusSrcAlpha}
	b := a
	assert.Equal(t, a.Hash(), b.Hash())

	b.DstColorFactor = BlendOne
	assert.NotEqual(t, a.Hash(), b.Hash())

	c := a
	c.Enabled = false
	assert.NotEqual(t, a.Hash(), c.Hash())
}
