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
	"container/heap"
	"sync"
	"time"
)

// systemExpire drives every aio deadline in the process.
var systemExpire = newExpireList()

// aioHeap orders scheduled aios by deadline; each aio carries its own
// heap index so unregistering is O(log n).
type aioHeap []*Aio

func (h aioHeap) Len() int           { return len(h) }
func (h aioHeap) Less(i, j int) bool { return h[i].expireAt.Before(h[j].expireAt) }
func (h aioHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].expireIdx = i
	h[j].expireIdx = j
}
func (h *aioHeap) Push(x interface{}) {
	a := x.(*Aio)
	a.expireIdx = len(*h)
	*h = append(*h, a)
}
func (h *aioHeap) Pop() interface{} {
	old := *h
	n := len(old)
	a := old[n-1]
	old[n-1] = nil // avoid memory leak
	a.expireIdx = -1
	*h = old[0 : n-1]
	return a
}

// expireList is the deadline scheduler: a heap of pending aios and a
// single goroutine sleeping until the nearest one. Expiry aborts the
// aio with its expire error (timed-out, or would-block for
// non-blocking submissions).
type expireList struct {
	mu       sync.Mutex
	pending  aioHeap
	chNotify chan struct{}
}

func newExpireList() *expireList {
	e := new(expireList)
	e.chNotify = make(chan struct{}, 1)
	go e.loop()
	return e
}

func (e *expireList) register(a *Aio, when time.Time) {
	e.mu.Lock()
	a.expireAt = when
	heap.Push(&e.pending, a)
	first := a.expireIdx == 0
	e.mu.Unlock()

	if first {
		e.wake()
	}
}

func (e *expireList) unregister(a *Aio) {
	e.mu.Lock()
	if a.expireIdx >= 0 {
		heap.Remove(&e.pending, a.expireIdx)
	}
	e.mu.Unlock()
}

func (e *expireList) wake() {
	select {
	case e.chNotify <- struct{}{}:
	default:
	}
}

func (e *expireList) loop() {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		e.mu.Lock()
		var expired []*Aio
		now := time.Now()
		for len(e.pending) > 0 && !e.pending[0].expireAt.After(now) {
			expired = append(expired, heap.Pop(&e.pending).(*Aio))
		}
		var d time.Duration = time.Hour
		if len(e.pending) > 0 {
			d = e.pending[0].expireAt.Sub(now)
		}
		e.mu.Unlock()

		// abort outside the heap lock, the abort path re-enters
		// unregister for aios finishing concurrently
		for _, a := range expired {
			a.Abort(a.expireErr)
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(d)

		select {
		case <-timer.C:
		case <-e.chNotify:
		}
	}
}
