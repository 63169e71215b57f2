// Package pool provides sync.Pool wrappers for reducing GC pressure on the
// validation and encoding hot paths.
package pool

import (
	"strconv"
	"sync"
)

// PathBuilder builds element paths such as Contract.term[2].offer.party[0].role
// in a reusable byte buffer.
type PathBuilder struct {
	buf []byte
}

var pathBuilderPool = sync.Pool{
	New: func() any {
		return &PathBuilder{buf: make([]byte, 0, 128)}
	},
}

// AcquirePathBuilder gets a PathBuilder from the pool.
// Call Release when done.
func AcquirePathBuilder() *PathBuilder {
	pb := pathBuilderPool.Get().(*PathBuilder)
	pb.buf = pb.buf[:0]
	return pb
}

// Release returns the PathBuilder to the pool.
func (b *PathBuilder) Release() {
	if b == nil || cap(b.buf) > 4096 {
		return
	}
	pathBuilderPool.Put(b)
}

// Field appends ".name", or just name on an empty path.
func (b *PathBuilder) Field(name string) *PathBuilder {
	if len(b.buf) > 0 {
		b.buf = append(b.buf, '.')
	}
	b.buf = append(b.buf, name...)
	return b
}

// Index appends "[i]".
func (b *PathBuilder) Index(i int) *PathBuilder {
	b.buf = append(b.buf, '[')
	b.buf = strconv.AppendInt(b.buf, int64(i), 10)
	b.buf = append(b.buf, ']')
	return b
}

// Raw appends s unchanged.
func (b *PathBuilder) Raw(s string) *PathBuilder {
	b.buf = append(b.buf, s...)
	return b
}

// Len returns the current length of the path.
func (b *PathBuilder) Len() int {
	return len(b.buf)
}

// String returns the built path.
func (b *PathBuilder) String() string {
	return string(b.buf)
}

// Child returns base.name, with an [index] suffix when index is not negative.
func Child(base, name string, index int) string {
	pb := AcquirePathBuilder()
	defer pb.Release()
	pb.Raw(base).Field(name)
	if index >= 0 {
		pb.Index(index)
	}
	return pb.String()
}
