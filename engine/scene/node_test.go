package scene

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/borealis-engine/borealis/engine/math"
)

func renderableNode(name string) *Node {
	n := NewNode(name)
	n.Geometry = &Geometry{Positions: []math.Vec3{{X: 1}}}
	return n
}

func TestNewNodeDefaults(t *testing.T) {
	n := NewNode("thing")
	assert.Equal(t, "thing", n.Name)
	assert.True(t, n.Visible)
	assert.NotNil(t, n.Material)
	assert.Equal(t, math.NewMat4Identity(), n.WorldTransform)
	assert.NotEqual(t, NewNode("other").ID, n.ID)
}

func TestDiscoverPreOrder(t *testing.T) {
	root := renderableNode("root")
	a := renderableNode("a")
	b := renderableNode("b")
	a1 := renderableNode("a1")
	a2 := renderableNode("a2")
	root.AddChild(a)
	root.AddChild(b)
	a.AddChild(a1)
	a.AddChild(a2)

	found := Discover(root, Renderable)
	names := make([]string, len(found))
	for i, n := range found {
		names[i] = n.Name
	}
	assert.Equal(t, []string{"root", "a", "a1", "a2", "b"}, names)
}

func TestDiscoverNilRoot(t *testing.T) {
	assert.Nil(t, Discover(nil, Renderable))
}

func TestRenderablePredicate(t *testing.T) {
	n := renderableNode("visible")
	assert.True(t, Renderable(n))

	n.Visible = false
	assert.False(t, Renderable(n))
	n.Visible = true

	bare := NewNode("no geometry")
	assert.False(t, Renderable(bare))

	empty := NewNode("empty geometry")
	empty.Geometry = &Geometry{}
	assert.False(t, Renderable(empty))

	slave := renderableNode("slave")
	slave.Master = n
	assert.False(t, Renderable(slave))
}

func TestRenderableSkipsSlavesButNotMasters(t *testing.T) {
	master := renderableNode("master")
	slave := renderableNode("slave")
	slave.Master = master
	master.Instances = []*Node{slave}
	master.AddChild(slave)

	found := Discover(master, Renderable)
	require.Len(t, found, 1)
	assert.Equal(t, "master", found[0].Name)
	assert.True(t, master.IsInstanceMaster())
	assert.True(t, slave.IsInstanceSlave())
}

func TestDirtyFlagsAccumulateAndConsume(t *testing.T) {
	n := NewNode("n")
	assert.Equal(t, DirtyFlag(0), n.PeekDirty())

	n.MarkDirty(DirtyTransform)
	n.MarkDirty(DirtyMaterial)
	assert.Equal(t, DirtyTransform|DirtyMaterial, n.PeekDirty())

	// Peek does not clear.
	assert.Equal(t, DirtyTransform|DirtyMaterial, n.PeekDirty())

	assert.Equal(t, DirtyTransform|DirtyMaterial, n.ConsumeDirty())
	assert.Equal(t, DirtyFlag(0), n.ConsumeDirty())
}

func TestMarkDirtyConcurrent(t *testing.T) {
	n := NewNode("n")
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			n.MarkDirty(DirtyTransform)
		}
		close(done)
	}()
	for i := 0; i < 1000; i++ {
		n.ConsumeDirty()
	}
	<-done
	n.MarkDirty(DirtyGeometry)
	assert.Equal(t, DirtyGeometry, n.PeekDirty()&DirtyGeometry)
}
