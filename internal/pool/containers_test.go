package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArray_PushAndAt(t *testing.T) {
	p := Create(0)
	a := NewArray[int](p, 2)
	a.Push(1)
	a.Push(2)
	a.Push(3) // forces growth past the capacity hint

	require.Equal(t, 3, a.Len())
	assert.Equal(t, 1, a.At(0))
	assert.Equal(t, 3, a.At(2))
}

func TestArray_Set(t *testing.T) {
	p := Create(0)
	a := NewArray[string](p, 1)
	a.Push("a")
	a.Set(0, "b")
	assert.Equal(t, "b", a.At(0))
}

func TestArray_Each(t *testing.T) {
	p := Create(0)
	a := NewArray[int](p, 4)
	a.Push(10)
	a.Push(20)

	var seen []int
	a.Each(func(i, v int) { seen = append(seen, v) })
	assert.Equal(t, []int{10, 20}, seen)
}

func TestList_PushChainsPartsOnceFull(t *testing.T) {
	p := Create(0)
	l := NewList[int](p)
	for i := 0; i < listPartSize+1; i++ {
		l.Push(i)
	}

	require.Equal(t, listPartSize+1, l.Len())
	require.NotNil(t, l.head.next)
}

func TestList_EachStopsOnFalse(t *testing.T) {
	p := Create(0)
	l := NewList[int](p)
	l.Push(1)
	l.Push(2)
	l.Push(3)

	var seen []int
	l.Each(func(v int) bool {
		seen = append(seen, v)
		return v != 2
	})
	assert.Equal(t, []int{1, 2}, seen)
}

func TestList_ToSlice(t *testing.T) {
	p := Create(0)
	l := NewList[string](p)
	l.Push("x")
	l.Push("y")
	assert.Equal(t, []string{"x", "y"}, l.ToSlice())
}
