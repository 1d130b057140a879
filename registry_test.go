package safepoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry(t *testing.T) {
	r := newRegistry()
	a := newThread(nil, `a`, 10)
	b := newThread(nil, `b`, 20)
	dup := newThread(nil, `dup`, 10)

	assert.True(t, r.add(b))
	assert.True(t, r.add(a))
	assert.False(t, r.add(dup))
	assert.Equal(t, 2, r.len())

	assert.Same(t, a, r.lookup(10))
	assert.Nil(t, r.lookup(30))
	assert.True(t, r.contains(a))
	assert.False(t, r.contains(dup))
	assert.False(t, r.contains(nil))

	// ordered by thread id, not goroutine id or insertion order
	assert.Equal(t, []*Thread{a, b}, r.snapshot())

	assert.False(t, r.remove(dup))
	assert.True(t, r.remove(a))
	assert.False(t, r.remove(a))
	assert.Equal(t, []*Thread{b}, r.snapshot())
	assert.Equal(t, 1, r.len())
}
