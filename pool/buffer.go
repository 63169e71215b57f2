package pool

import (
	"bytes"
	"sync"
)

var bufferPool = sync.Pool{
	New: func() any {
		return bytes.NewBuffer(make([]byte, 0, 4096))
	},
}

// AcquireBuffer gets an empty buffer from the pool.
func AcquireBuffer() *bytes.Buffer {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// ReleaseBuffer returns a buffer to the pool. Oversized buffers are dropped.
func ReleaseBuffer(buf *bytes.Buffer) {
	if buf == nil || buf.Cap() > 1<<20 {
		return
	}
	bufferPool.Put(buf)
}

// CopyBytes returns a copy of the buffer contents, safe to keep after the
// buffer is released.
func CopyBytes(buf *bytes.Buffer) []byte {
	return append([]byte(nil), buf.Bytes()...)
}
