package math

// Vec2 represents a 2D vector
type Vec2 struct {
	X, Y float32
}

// Vec3 represents a 3D vector
type Vec3 struct {
	X, Y, Z float32
}

// Vec4 represents a 4D vector
type Vec4 struct {
	X, Y, Z, W float32
}

/** @brief a 4x4 matrix, typically used to represent object transformations. */
type Mat4 struct {
	/** @brief The matrix elements, column major. */
	Data [16]float32
}

/** @brief A quaternion, used to represent rotational orientation. */
type Quaternion Vec4

// Vertex3D is the interleaved vertex layout uploaded into pooled vertex
// buffers: position, normal, texture coordinate.
type Vertex3D struct {
	Position Vec3
	Normal   Vec3
	Texcoord Vec2
}
