package ident

import (
	"testing"

	"github.com/alecthomas/assert/v2"
)

func TestNewAndString(t *testing.T) {
	id, err := New("schema", "table", "column")
	assert.NoError(t, err)
	assert.Equal(t, "schema.table.column", id.String())
	assert.Equal(t, []string{"schema", "table"}, id.Path)
	assert.Equal(t, "column", id.Name)
}

func TestNewEmpty(t *testing.T) {
	_, err := New()
	assert.Error(t, err)
}

func TestEqual(t *testing.T) {
	a, _ := New("std", "sum")
	b, _ := New("std", "sum")
	c, _ := New("std", "avg")
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestStartsWith(t *testing.T) {
	full, _ := New("this", "orders", "total")
	prefix, _ := New("this", "orders")
	other, _ := New("that", "orders")

	assert.True(t, full.StartsWith(prefix))
	assert.False(t, full.StartsWith(other))
	assert.True(t, full.StartsWith(full))
}

func TestPopFront(t *testing.T) {
	id, _ := New("a", "b", "c")

	head, rest, ok := id.PopFront()
	assert.Equal(t, "a", head)
	assert.True(t, ok)
	assert.Equal(t, "b.c", rest.String())

	head2, _, ok2 := FromName("solo").PopFront()
	assert.Equal(t, "solo", head2)
	assert.False(t, ok2)
}

func TestPrepend(t *testing.T) {
	id := FromName("sum")
	wrapped := id.Prepend("std")
	assert.Equal(t, "std.sum", wrapped.String())
}
