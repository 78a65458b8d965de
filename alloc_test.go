package sptran

import (
	"testing"
)

func TestAllocatorSizes(t *testing.T) {
	alloc := newAllocator()
	for _, size := range []int{1, 2, 3, 4, 1023, 1024, 65535, 65536, 65537} {
		buf := alloc.Get(size)
		if len(buf) != size {
			t.Fatalf("Get(%d) returned len %d", size, len(buf))
		}
		alloc.Put(buf)
	}
	if alloc.Get(-1) != nil {
		t.Fatal("negative size must return nil")
	}
	if buf := alloc.Get(0); buf == nil || len(buf) != 0 {
		t.Fatal("zero size must return an empty slice")
	}
}

func TestAllocatorRecycle(t *testing.T) {
	alloc := newAllocator()
	buf := alloc.Get(1024)
	if cap(buf) != 1024 {
		t.Fatal("pooled cap must be the exact power of two, got", cap(buf))
	}
	alloc.Put(buf)
	// oversize buffers fall to the GC without panicking
	alloc.Put(make([]byte, maxPooledSize+1))
}

func TestMessageLifecycle(t *testing.T) {
	m := NewMessage(5)
	copy(m.Body, "hello")
	m.Header = []byte{1, 2}
	if m.Len() != 7 {
		t.Fatal("Len mismatch:", m.Len())
	}
	if m.Pipe() != nil {
		t.Fatal("fresh message must have no pipe")
	}
	m.Free()
	if m.Body != nil || m.Header != nil {
		t.Fatal("Free must drop the buffers")
	}
}
