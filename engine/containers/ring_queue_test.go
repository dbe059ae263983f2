package containers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingQueueFIFO(t *testing.T) {
	q := NewRingQueue[int](3)
	assert.True(t, q.IsEmpty())
	assert.Equal(t, 0, q.Len())

	require.NoError(t, q.Enqueue(1))
	require.NoError(t, q.Enqueue(2))
	require.NoError(t, q.Enqueue(3))
	assert.True(t, q.IsFull())

	v, err := q.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	v, err = q.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	v, err = q.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, 3, v)
	assert.True(t, q.IsEmpty())
}

func TestRingQueueEnqueueFull(t *testing.T) {
	q := NewRingQueue[string](1)
	require.NoError(t, q.Enqueue("a"))
	assert.Error(t, q.Enqueue("b"))
}

func TestRingQueueDequeueEmpty(t *testing.T) {
	q := NewRingQueue[int](2)
	_, err := q.Dequeue()
	assert.Error(t, err)
	_, err = q.Peek()
	assert.Error(t, err)
}

func TestRingQueuePeek(t *testing.T) {
	q := NewRingQueue[int](2)
	require.NoError(t, q.Enqueue(7))
	v, err := q.Peek()
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, 1, q.Len())
}

func TestRingQueueWrapsAround(t *testing.T) {
	q := NewRingQueue[int](2)
	require.NoError(t, q.Enqueue(1))
	require.NoError(t, q.Enqueue(2))
	_, err := q.Dequeue()
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(3))

	v, err := q.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	v, err = q.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}
