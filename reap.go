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
	"sync"
)

// systemReaper destroys objects off of callback threads.
var systemReaper = newReaper()

type reapItem struct {
	dtor func()
}

// reaper defers destruction to a dedicated worker so that an object
// whose callbacks may still be returning is never freed from inside
// one of them. Objects enqueue themselves at most once, under their
// own one-shot reaped flag, and their destructor typically stops all
// aios first, which is safe here because this goroutine never runs
// completion callbacks.
type reaper struct {
	mu       sync.Mutex
	pending  []reapItem
	chNotify chan struct{}

	idle   bool
	chIdle chan struct{} // closed-and-replaced idle barrier for tests
}

func newReaper() *reaper {
	r := new(reaper)
	r.chNotify = make(chan struct{}, 1)
	r.chIdle = make(chan struct{})
	r.idle = true
	go r.worker()
	return r
}

// Reap queues dtor to run on the reap worker.
func (r *reaper) Reap(dtor func()) {
	r.mu.Lock()
	r.pending = append(r.pending, reapItem{dtor: dtor})
	r.idle = false
	r.mu.Unlock()

	select {
	case r.chNotify <- struct{}{}:
	default:
	}
}

func (r *reaper) worker() {
	var items []reapItem
	for range r.chNotify {
		for {
			r.mu.Lock()
			if len(r.pending) == 0 {
				r.idle = true
				close(r.chIdle)
				r.chIdle = make(chan struct{})
				r.mu.Unlock()
				break
			}
			items = append(items[:0], r.pending...)
			for k := range r.pending {
				r.pending[k] = reapItem{}
			}
			r.pending = r.pending[:0]
			r.mu.Unlock()

			for k := range items {
				items[k].dtor()
				items[k] = reapItem{}
			}
		}
	}
}

// drain blocks until the queue has gone empty at least once, used by
// teardown paths that must observe destructors having run.
func (r *reaper) drain() {
	r.mu.Lock()
	if r.idle && len(r.pending) == 0 {
		r.mu.Unlock()
		return
	}
	ch := r.chIdle
	r.mu.Unlock()
	<-ch
}
