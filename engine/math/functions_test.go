package math

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const epsilon = 1e-5

func assertMat4InDelta(t *testing.T, expected, actual Mat4) {
	t.Helper()
	for i := range expected.Data {
		assert.InDelta(t, expected.Data[i], actual.Data[i], epsilon, "element %d", i)
	}
}

func TestMat4MulIdentity(t *testing.T) {
	m := NewMat4Translation(Vec3{X: 1, Y: 2, Z: 3})
	assertMat4InDelta(t, m, m.Mul(NewMat4Identity()))
	assertMat4InDelta(t, m, NewMat4Identity().Mul(m))
}

func TestMat4TranslationComposes(t *testing.T) {
	a := NewMat4Translation(Vec3{X: 1})
	b := NewMat4Translation(Vec3{Y: 2})
	c := a.Mul(b)
	assert.InDelta(t, 1.0, float64(c.Data[12]), epsilon)
	assert.InDelta(t, 2.0, float64(c.Data[13]), epsilon)
}

func TestMat4EulerYRotatesUnitX(t *testing.T) {
	// A quarter turn around Y sends +X to -Z with column-major storage.
	m := NewMat4EulerY(DegToRad(90))
	x := Vec3{X: m.Data[0], Y: m.Data[1], Z: m.Data[2]}
	assert.InDelta(t, 0.0, float64(x.X), epsilon)
	assert.InDelta(t, 0.0, float64(x.Y), epsilon)
	assert.InDelta(t, -1.0, float64(x.Z), epsilon)
}

func TestInverseRigidRoundTrip(t *testing.T) {
	m := NewMat4EulerY(0.7).Mul(NewMat4Translation(Vec3{X: 3, Y: -1, Z: 5}))
	assertMat4InDelta(t, NewMat4Identity(), m.Mul(m.InverseRigid()))
	assertMat4InDelta(t, NewMat4Identity(), m.InverseRigid().Mul(m))
}

func TestLookAtPlacesEyeAtOrigin(t *testing.T) {
	eye := Vec3{X: 0, Y: 0, Z: 5}
	view := NewMat4LookAt(eye, Vec3{}, Vec3{Y: 1})

	// The eye position maps to the view-space origin.
	x := view.Data[0]*eye.X + view.Data[4]*eye.Y + view.Data[8]*eye.Z + view.Data[12]
	y := view.Data[1]*eye.X + view.Data[5]*eye.Y + view.Data[9]*eye.Z + view.Data[13]
	z := view.Data[2]*eye.X + view.Data[6]*eye.Y + view.Data[10]*eye.Z + view.Data[14]
	assert.InDelta(t, 0.0, float64(x), epsilon)
	assert.InDelta(t, 0.0, float64(y), epsilon)
	assert.InDelta(t, 0.0, float64(z), epsilon)
}

func TestPerspectiveFlipsY(t *testing.T) {
	m := NewMat4Perspective(DegToRad(60), 16.0/9.0, 0.1, 100)
	assert.Less(t, m.Data[5], float32(0))
	assert.Equal(t, float32(-1), m.Data[11])
}

func TestVec3Operations(t *testing.T) {
	a := Vec3{X: 1, Y: 2, Z: 3}
	b := Vec3{X: 4, Y: 5, Z: 6}

	assert.Equal(t, Vec3{X: 5, Y: 7, Z: 9}, a.Add(b))
	assert.Equal(t, Vec3{X: -3, Y: -3, Z: -3}, a.Sub(b))
	assert.InDelta(t, 32.0, float64(a.Dot(b)), epsilon)

	cross := Vec3{X: 1}.Cross(Vec3{Y: 1})
	assert.Equal(t, Vec3{Z: 1}, cross)

	n := Vec3{X: 3, Y: 4}.Normalized()
	assert.InDelta(t, 1.0, float64(n.Length()), epsilon)

	// Normalizing zero leaves zero.
	assert.Equal(t, Vec3{}, Vec3{}.Normalized())
}

func TestDegToRad(t *testing.T) {
	assert.InDelta(t, 3.14159265, float64(DegToRad(180)), epsilon)
}
