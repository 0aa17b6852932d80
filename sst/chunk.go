package sst

import "sync"

// chunkAllocator pools power-of-two []byte buffers for incoming frame
// payloads, grounded directly on the teacher's vendored smux
// Allocator: a sync.Pool per power of two, a De Bruijn sequence to
// find the most significant bit in O(1), and a ceiling (here
// maxPooledChunk) above which buffers are allocated fresh and
// dropped on the floor for the GC rather than pooled.
const maxPooledChunk = 1 << 20 // 1MiB

var debruijnPos = [...]byte{0, 9, 1, 10, 13, 21, 2, 29, 11, 14, 16, 18, 22, 25, 3, 30, 8, 12, 20, 28, 15, 17, 24, 7, 19, 27, 23, 6, 26, 5, 4, 31}

type chunkAllocator struct {
	pools []sync.Pool
}

func newChunkAllocator() *chunkAllocator {
	a := &chunkAllocator{pools: make([]sync.Pool, 21)} // 1B -> 1MiB
	for k := range a.pools {
		size := 1 << uint(k)
		a.pools[k].New = func() interface{} {
			b := make([]byte, size)
			return &b
		}
	}
	return a
}

func (a *chunkAllocator) get(size int) *[]byte {
	if size <= 0 {
		b := make([]byte, 0)
		return &b
	}
	if size > maxPooledChunk {
		b := make([]byte, size)
		return &b
	}
	bits := msb(size)
	if size == 1<<bits {
		p := a.pools[bits].Get().(*[]byte)
		*p = (*p)[:size]
		return p
	}
	p := a.pools[bits+1].Get().(*[]byte)
	*p = (*p)[:size]
	return p
}

func (a *chunkAllocator) put(p *[]byte) {
	if p == nil {
		return
	}
	c := cap(*p)
	if c == 0 || c > maxPooledChunk {
		return
	}
	bits := msb(c)
	if c != 1<<bits {
		return
	}
	a.pools[bits].Put(p)
}

func msb(size int) byte {
	v := uint32(size)
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	return debruijnPos[(v*0x07C4ACDD)>>27]
}
