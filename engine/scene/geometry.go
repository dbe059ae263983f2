package scene

import (
	"github.com/borealis-engine/borealis/engine/math"
)

// GeometryTopology enumerates every primitive topology the engine builds
// pipelines for. The triangle list entry is the base pipeline; the rest are
// created as derivatives of it.
type GeometryTopology uint8

const (
	TopologyTriangleList GeometryTopology = iota
	TopologyTriangleStrip
	TopologyTriangleFan
	TopologyLineList
	TopologyLineStripAdjacency
	TopologyLineListAdjacency
	TopologyPointList
	TopologyCount
)

func (t GeometryTopology) String() string {
	switch t {
	case TopologyTriangleList:
		return "TriangleList"
	case TopologyTriangleStrip:
		return "TriangleStrip"
	case TopologyTriangleFan:
		return "TriangleFan"
	case TopologyLineList:
		return "LineList"
	case TopologyLineStripAdjacency:
		return "LineStripAdjacency"
	case TopologyLineListAdjacency:
		return "LineListAdjacency"
	case TopologyPointList:
		return "PointList"
	}
	return "Unknown"
}

// Geometry holds the host-side mesh data an object uploads into the pooled
// vertex/index buffers. Positions are required; normals and texcoords are
// optional and decide the interleaved vertex layout.
type Geometry struct {
	Positions []math.Vec3
	Normals   []math.Vec3
	Texcoords []math.Vec2
	Indices   []uint32
	Topology  GeometryTopology
}

// VertexLayoutKind describes which attributes are interleaved per vertex.
type VertexLayoutKind uint8

const (
	LayoutPosition VertexLayoutKind = iota
	LayoutPositionNormal
	LayoutPositionTexcoord
	LayoutPositionNormalTexcoord
)

// Stride returns the byte stride of one interleaved vertex for this layout.
func (k VertexLayoutKind) Stride() uint32 {
	switch k {
	case LayoutPosition:
		return 3 * 4
	case LayoutPositionNormal:
		return 6 * 4
	case LayoutPositionTexcoord:
		return 5 * 4
	case LayoutPositionNormalTexcoord:
		return 8 * 4
	}
	return 0
}

// LayoutKind determines the vertex layout from which attribute arrays are
// non-empty.
func (g *Geometry) LayoutKind() VertexLayoutKind {
	hasNormals := len(g.Normals) > 0
	hasTexcoords := len(g.Texcoords) > 0
	switch {
	case hasNormals && hasTexcoords:
		return LayoutPositionNormalTexcoord
	case hasNormals:
		return LayoutPositionNormal
	case hasTexcoords:
		return LayoutPositionTexcoord
	default:
		return LayoutPosition
	}
}

// Interleave serializes the geometry into the given layout, one vertex after
// another. Missing attributes are zero-filled so a forced layout (instancing
// masters always use the full layout) still produces well-formed vertices.
func (g *Geometry) Interleave(kind VertexLayoutKind) []float32 {
	count := len(g.Positions)
	floatsPerVertex := int(kind.Stride() / 4)
	out := make([]float32, 0, count*floatsPerVertex)

	for i := 0; i < count; i++ {
		p := g.Positions[i]
		out = append(out, p.X, p.Y, p.Z)
		if kind == LayoutPositionNormal || kind == LayoutPositionNormalTexcoord {
			var n math.Vec3
			if i < len(g.Normals) {
				n = g.Normals[i]
			}
			out = append(out, n.X, n.Y, n.Z)
		}
		if kind == LayoutPositionTexcoord || kind == LayoutPositionNormalTexcoord {
			var t math.Vec2
			if i < len(g.Texcoords) {
				t = g.Texcoords[i]
			}
			out = append(out, t.X, t.Y)
		}
	}
	return out
}
