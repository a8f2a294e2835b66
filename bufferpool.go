package netkit

import (
	"sync"
)

// maxPooledSize is the largest buffer size the pool will retain.
const maxPooledSize = 64 * 1024

// minPooledSize is the smallest size class.
const minPooledSize = 512

// bufferPool keeps size-classed byte slices for reuse by connection read
// loops, avoiding a fresh allocation per accepted connection.
type bufferPool struct {
	pools []*sync.Pool
}

var globalBufferPool = newBufferPool()

func newBufferPool() *bufferPool {
	bp := &bufferPool{}
	for size := minPooledSize; size <= maxPooledSize; size *= 2 {
		size := size
		bp.pools = append(bp.pools, &sync.Pool{
			New: func() any {
				return make([]byte, size)
			},
		})
	}

	return bp
}

// classFor returns the pool index whose buffers are at least size bytes,
// or -1 when the size is out of pooled range.
func (bp *bufferPool) classFor(size int) int {
	class := 0
	for poolSize := minPooledSize; poolSize <= maxPooledSize; poolSize *= 2 {
		if poolSize >= size {
			return class
		}
		class++
	}

	return -1
}

func (bp *bufferPool) get(size int) []byte {
	class := bp.classFor(size)
	if class < 0 {
		return make([]byte, size)
	}

	buf, ok := bp.pools[class].Get().([]byte)
	if !ok {
		return make([]byte, size)
	}

	return buf[:size]
}

func (bp *bufferPool) put(buf []byte) {
	class := bp.classFor(cap(buf))
	if class < 0 {
		return
	}
	// Only pool buffers that exactly match a size class, so a later get
	// never hands out a shorter slice than requested.
	if cap(buf) != minPooledSize<<class {
		return
	}

	bp.pools[class].Put(buf[:cap(buf)])
}

// GetBuffer retrieves a reusable buffer of at least size bytes, sliced to size.
func GetBuffer(size int) []byte {
	return globalBufferPool.get(size)
}

// PutBuffer returns a buffer obtained from GetBuffer to the pool.
func PutBuffer(buf []byte) {
	globalBufferPool.put(buf)
}
