// The MIT License (MIT)
//
// Copyright (c) 2024 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package sptran

import (
	"math/bits"
	"sync"
)

const maxPooledSize = 65536

var defaultAllocator *allocator

func init() {
	defaultAllocator = newAllocator()
}

// allocator recycles message bodies. Bodies up to 64K come from
// power-of-two pools; anything bigger is allocated directly, since
// oversized messages are rare and bounded by recv-max anyway.
type allocator struct {
	buffers []sync.Pool
}

// poolIndex is the class of the smallest power-of-two buffer holding
// size bytes; size 1 maps to class 0, maxPooledSize to the last class.
func poolIndex(size int) int {
	return bits.Len(uint(size - 1))
}

func newAllocator() *allocator {
	alloc := new(allocator)
	alloc.buffers = make([]sync.Pool, poolIndex(maxPooledSize)+1) // 1B -> 64K
	for k := range alloc.buffers {
		i := k
		alloc.buffers[k].New = func() interface{} {
			b := make([]byte, 1<<uint32(i))
			return &b
		}
	}
	return alloc
}

// Get returns a []byte with len == size and the smallest pooled cap
// that fits.
func (alloc *allocator) Get(size int) []byte {
	if size < 0 {
		return nil
	}
	if size == 0 {
		return []byte{}
	}
	if size > maxPooledSize {
		return make([]byte, size)
	}
	p := alloc.buffers[poolIndex(size)].Get().(*[]byte)
	return (*p)[:size]
}

// Put returns a buffer obtained from Get. Buffers whose cap is not an
// exact power of two in pooled range are dropped for the GC.
func (alloc *allocator) Put(buf []byte) {
	c := cap(buf)
	if c == 0 || c > maxPooledSize || c&(c-1) != 0 {
		return
	}
	buf = buf[:c]
	alloc.buffers[poolIndex(c)].Put(&buf)
}
