package scene

import (
	"sync"

	"github.com/google/uuid"

	"github.com/borealis-engine/borealis/engine/math"
)

// DirtyFlag marks which renderer-visible aspects of a node changed since the
// last frame. The frame orchestrator consumes and clears them.
type DirtyFlag uint8

const (
	DirtyTransform DirtyFlag = 1 << iota
	DirtyGeometry
	DirtyMaterial
	DirtyTextures
)

// InstanceProperty is one named, ordered member of an instance's per-draw
// data. The byte stride of an instance buffer is gauged from one
// representative instance's property list.
type InstanceProperty struct {
	Name   string
	Values []float32
}

// Node is the renderer-facing record of one scene object. The full transform
// hierarchy lives outside this package; the renderer only reads the flattened
// world transform and the geometry/material payloads.
type Node struct {
	ID      uuid.UUID
	Name    string
	Visible bool

	WorldTransform math.Mat4
	Geometry       *Geometry
	Material       *Material

	// Instancing. A master owns the instance list and the single instanced
	// draw call; a slave references its master and owns no GPU buffers.
	Master    *Node
	Instances []*Node

	// InstanceProperties feeds the master's instance buffer. Present on every
	// instance of an instancing master.
	InstanceProperties []InstanceProperty

	// RendererState is the strongly-typed per-object GPU resource bundle,
	// assigned exactly once by the renderer during initialization. A
	// discovered node with nil state that claims to be initialized is an
	// integration error.
	RendererState RendererState

	Children []*Node

	mu    sync.Mutex
	dirty DirtyFlag
}

// RendererState is implemented by the backend's per-object resource bundle.
// It lives here so the scene record can hold it without depending on the
// graphics backend.
type RendererState interface {
	Initialized() bool
}

func NewNode(name string) *Node {
	return &Node{
		ID:             uuid.New(),
		Name:           name,
		Visible:        true,
		WorldTransform: math.NewMat4Identity(),
		Material:       NewMaterial(),
	}
}

func (n *Node) AddChild(child *Node) {
	n.Children = append(n.Children, child)
}

// IsInstanceSlave reports whether this node is drawn only as part of its
// master's instanced draw call.
func (n *Node) IsInstanceSlave() bool {
	return n.Master != nil
}

// IsInstanceMaster reports whether this node owns child instances.
func (n *Node) IsInstanceMaster() bool {
	return len(n.Instances) > 0
}

// MarkDirty records a renderer-visible change. Safe to call from scene-side
// threads while the renderer reads in parallel.
func (n *Node) MarkDirty(flags DirtyFlag) {
	n.mu.Lock()
	n.dirty |= flags
	n.mu.Unlock()
}

// ConsumeDirty returns the accumulated flags and clears them.
func (n *Node) ConsumeDirty() DirtyFlag {
	n.mu.Lock()
	d := n.dirty
	n.dirty = 0
	n.mu.Unlock()
	return d
}

// PeekDirty returns the accumulated flags without clearing.
func (n *Node) PeekDirty() DirtyFlag {
	n.mu.Lock()
	d := n.dirty
	n.mu.Unlock()
	return d
}

// Lock guards texture/material mutation against concurrent renderer reads
// during UBO population and texture upload.
func (n *Node) Lock() { n.mu.Lock() }

// Unlock releases the per-object lock.
func (n *Node) Unlock() { n.mu.Unlock() }

// Discover walks the graph rooted at root in depth-first pre-order and
// returns every node matching the predicate, in traversal order. The
// traversal only reads scene topology, so it may run concurrently with the
// previous frame's GPU work.
func Discover(root *Node, predicate func(*Node) bool) []*Node {
	if root == nil {
		return nil
	}
	var out []*Node
	var walk func(n *Node)
	walk = func(n *Node) {
		if predicate(n) {
			out = append(out, n)
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(root)
	return out
}

// Renderable is the default discovery predicate: visible, geometry-bearing,
// non-slave nodes.
func Renderable(n *Node) bool {
	return n.Visible && n.Geometry != nil && len(n.Geometry.Positions) > 0 && !n.IsInstanceSlave()
}
