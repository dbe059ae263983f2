package math

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClamp(t *testing.T) {
	assert.Equal(t, 5, Clamp(10, 0, 5))
	assert.Equal(t, 0, Clamp(-3, 0, 5))
	assert.Equal(t, 3, Clamp(3, 0, 5))
	assert.Equal(t, 2.5, Clamp(2.5, 1.0, 4.0))
}

func TestMaxMin(t *testing.T) {
	assert.Equal(t, 7, Max(3, 7))
	assert.Equal(t, 3, Min(3, 7))
	assert.Equal(t, float32(1.5), Max(float32(1.5), float32(-2)))
}

func TestNextPowerOfTwo(t *testing.T) {
	assert.Equal(t, uint64(1), NextPowerOfTwo(1))
	assert.Equal(t, uint64(2), NextPowerOfTwo(2))
	assert.Equal(t, uint64(4), NextPowerOfTwo(3))
	assert.Equal(t, uint64(8192), NextPowerOfTwo(5000))
	assert.Equal(t, uint64(1024), NextPowerOfTwo(1024))
}
