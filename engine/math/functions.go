package math

import (
	"github.com/chewxy/math32"
)

func NewMat4Identity() Mat4 {
	m := Mat4{}
	m.Data[0] = 1.0
	m.Data[5] = 1.0
	m.Data[10] = 1.0
	m.Data[15] = 1.0
	return m
}

// Mul multiplies m by other and returns the result (m * other).
func (m Mat4) Mul(other Mat4) Mat4 {
	out := Mat4{}
	for col := 0; col < 4; col++ {
		for row := 0; row < 4; row++ {
			var sum float32
			for k := 0; k < 4; k++ {
				sum += m.Data[k*4+row] * other.Data[col*4+k]
			}
			out.Data[col*4+row] = sum
		}
	}
	return out
}

func NewMat4Translation(position Vec3) Mat4 {
	m := NewMat4Identity()
	m.Data[12] = position.X
	m.Data[13] = position.Y
	m.Data[14] = position.Z
	return m
}

func NewMat4Scale(scale Vec3) Mat4 {
	m := NewMat4Identity()
	m.Data[0] = scale.X
	m.Data[5] = scale.Y
	m.Data[10] = scale.Z
	return m
}

// NewMat4Perspective builds a right-handed perspective projection with a
// Vulkan-style [0,1] depth range and flipped Y.
func NewMat4Perspective(fovRadians, aspect, nearClip, farClip float32) Mat4 {
	halfTan := math32.Tan(fovRadians * 0.5)
	m := Mat4{}
	m.Data[0] = 1.0 / (aspect * halfTan)
	m.Data[5] = -1.0 / halfTan
	m.Data[10] = farClip / (nearClip - farClip)
	m.Data[11] = -1.0
	m.Data[14] = (nearClip * farClip) / (nearClip - farClip)
	return m
}

func NewMat4LookAt(position, target, up Vec3) Mat4 {
	zAxis := position.Sub(target).Normalized()
	xAxis := up.Cross(zAxis).Normalized()
	yAxis := zAxis.Cross(xAxis)

	m := NewMat4Identity()
	m.Data[0] = xAxis.X
	m.Data[1] = yAxis.X
	m.Data[2] = zAxis.X
	m.Data[4] = xAxis.Y
	m.Data[5] = yAxis.Y
	m.Data[6] = zAxis.Y
	m.Data[8] = xAxis.Z
	m.Data[9] = yAxis.Z
	m.Data[10] = zAxis.Z
	m.Data[12] = -xAxis.Dot(position)
	m.Data[13] = -yAxis.Dot(position)
	m.Data[14] = -zAxis.Dot(position)
	return m
}

// NewMat4EulerY builds a rotation around the Y axis.
func NewMat4EulerY(angleRadians float32) Mat4 {
	c := math32.Cos(angleRadians)
	s := math32.Sin(angleRadians)
	m := NewMat4Identity()
	m.Data[0] = c
	m.Data[2] = -s
	m.Data[8] = s
	m.Data[10] = c
	return m
}

// InverseRigid inverts a matrix composed only of rotation and translation.
func (m Mat4) InverseRigid() Mat4 {
	out := NewMat4Identity()
	for col := 0; col < 3; col++ {
		for row := 0; row < 3; row++ {
			out.Data[col*4+row] = m.Data[row*4+col]
		}
	}
	tx, ty, tz := m.Data[12], m.Data[13], m.Data[14]
	out.Data[12] = -(out.Data[0]*tx + out.Data[4]*ty + out.Data[8]*tz)
	out.Data[13] = -(out.Data[1]*tx + out.Data[5]*ty + out.Data[9]*tz)
	out.Data[14] = -(out.Data[2]*tx + out.Data[6]*ty + out.Data[10]*tz)
	return out
}

func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{v.X + other.X, v.Y + other.Y, v.Z + other.Z}
}

func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{v.X - other.X, v.Y - other.Y, v.Z - other.Z}
}

func (v Vec3) Scale(s float32) Vec3 {
	return Vec3{v.X * s, v.Y * s, v.Z * s}
}

func (v Vec3) Dot(other Vec3) float32 {
	return v.X*other.X + v.Y*other.Y + v.Z*other.Z
}

func (v Vec3) Cross(other Vec3) Vec3 {
	return Vec3{
		v.Y*other.Z - v.Z*other.Y,
		v.Z*other.X - v.X*other.Z,
		v.X*other.Y - v.Y*other.X,
	}
}

func (v Vec3) Length() float32 {
	return math32.Sqrt(v.Dot(v))
}

func (v Vec3) Normalized() Vec3 {
	length := v.Length()
	if length == 0 {
		return v
	}
	return v.Scale(1.0 / length)
}

func DegToRad(degrees float32) float32 {
	return degrees * (math32.Pi / 180.0)
}
