package sptran

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestReaperRunsDtor(t *testing.T) {
	var ran int32
	systemReaper.Reap(func() { atomic.AddInt32(&ran, 1) })
	systemReaper.drain()
	if atomic.LoadInt32(&ran) != 1 {
		t.Fatal("destructor ran", ran, "times")
	}
}

func TestReaperOrderAndVolume(t *testing.T) {
	const n = 1000
	var ran int32
	var mu sync.Mutex
	var order []int
	for i := 0; i < n; i++ {
		i := i
		systemReaper.Reap(func() {
			atomic.AddInt32(&ran, 1)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	systemReaper.drain()
	if atomic.LoadInt32(&ran) != n {
		t.Fatal("expected", n, "destructors, ran", ran)
	}
	for k, i := range order {
		if i != k {
			t.Fatal("destructor", i, "ran in position", k)
		}
	}
}

func TestPipeReapOnce(t *testing.T) {
	// the one-shot flag must keep a double reap from double-destroying
	p := newPipe()
	cc, sc := pipePair()
	defer sc.Close()
	p.stream = cc
	p.reap()
	p.reap()
	systemReaper.drain()
	if atomic.LoadInt32(&p.reaped) != 1 {
		t.Fatal("reaped flag not latched")
	}
}
