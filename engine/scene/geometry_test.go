package scene

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/borealis-engine/borealis/engine/math"
)

func TestLayoutKind(t *testing.T) {
	g := &Geometry{Positions: []math.Vec3{{}}}
	assert.Equal(t, LayoutPosition, g.LayoutKind())

	g.Normals = []math.Vec3{{}}
	assert.Equal(t, LayoutPositionNormal, g.LayoutKind())

	g.Texcoords = []math.Vec2{{}}
	assert.Equal(t, LayoutPositionNormalTexcoord, g.LayoutKind())

	g.Normals = nil
	assert.Equal(t, LayoutPositionTexcoord, g.LayoutKind())
}

func TestLayoutStride(t *testing.T) {
	assert.Equal(t, uint32(12), LayoutPosition.Stride())
	assert.Equal(t, uint32(24), LayoutPositionNormal.Stride())
	assert.Equal(t, uint32(20), LayoutPositionTexcoord.Stride())
	assert.Equal(t, uint32(32), LayoutPositionNormalTexcoord.Stride())
}

func TestInterleaveFullLayout(t *testing.T) {
	g := &Geometry{
		Positions: []math.Vec3{{X: 1, Y: 2, Z: 3}, {X: 4, Y: 5, Z: 6}},
		Normals:   []math.Vec3{{X: 0, Y: 1, Z: 0}, {X: 1, Y: 0, Z: 0}},
		Texcoords: []math.Vec2{{X: 0.1, Y: 0.2}, {X: 0.3, Y: 0.4}},
	}
	out := g.Interleave(LayoutPositionNormalTexcoord)
	require.Len(t, out, 16)
	assert.Equal(t, []float32{1, 2, 3, 0, 1, 0, 0.1, 0.2}, out[:8])
	assert.Equal(t, []float32{4, 5, 6, 1, 0, 0, 0.3, 0.4}, out[8:])
}

func TestInterleaveZeroFillsMissingAttributes(t *testing.T) {
	g := &Geometry{
		Positions: []math.Vec3{{X: 1, Y: 2, Z: 3}},
	}
	// A forced full layout pads missing normals and texcoords with zeros.
	out := g.Interleave(LayoutPositionNormalTexcoord)
	assert.Equal(t, []float32{1, 2, 3, 0, 0, 0, 0, 0}, out)
}

func TestInterleavePartialAttributeArrays(t *testing.T) {
	g := &Geometry{
		Positions: []math.Vec3{{X: 1}, {X: 2}},
		Normals:   []math.Vec3{{Y: 1}},
	}
	out := g.Interleave(LayoutPositionNormal)
	require.Len(t, out, 12)
	assert.Equal(t, []float32{1, 0, 0, 0, 1, 0}, out[:6])
	// The second vertex has no normal; it reads as zero.
	assert.Equal(t, []float32{2, 0, 0, 0, 0, 0}, out[6:])
}

func TestInterleavePositionOnly(t *testing.T) {
	g := &Geometry{
		Positions: []math.Vec3{{X: 1, Y: 2, Z: 3}},
		Normals:   []math.Vec3{{X: 9, Y: 9, Z: 9}},
	}
	// A narrower forced layout drops attributes the mesh carries.
	assert.Equal(t, []float32{1, 2, 3}, g.Interleave(LayoutPosition))
}

func TestTopologyString(t *testing.T) {
	assert.Equal(t, "TriangleList", TopologyTriangleList.String())
	assert.Equal(t, "PointList", TopologyPointList.String())
	assert.Equal(t, "Unknown", TopologyCount.String())
}
