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
	"runtime"
	"sync"
)

// systemTaskq is the library level completion dispatcher. Aio
// completion callbacks run on its workers, not on the goroutine that
// finished the aio, except after FinishSync, which runs the callback
// on the caller.
var systemTaskq = newTaskq(runtime.NumCPU())

// taskq is a fixed pool of workers draining an unbounded queue of
// functions. The queue must be unbounded: a completion callback may
// itself finish other aios, and blocking the submitter would deadlock
// the provider that called finish.
type taskq struct {
	mu       sync.Mutex
	pending  []func()
	chNotify chan struct{}

	die     chan struct{}
	dieOnce sync.Once
}

func newTaskq(parallel int) *taskq {
	q := new(taskq)
	q.chNotify = make(chan struct{}, 1)
	q.die = make(chan struct{})
	if parallel < 2 {
		parallel = 2
	}
	for i := 0; i < parallel; i++ {
		go q.worker()
	}
	return q
}

func (q *taskq) worker() {
	var tasks []func()
	for {
		select {
		case <-q.chNotify:
			q.mu.Lock()
			tasks = append(tasks[:0], q.pending...)
			for k := range q.pending {
				q.pending[k] = nil // avoid memory leak
			}
			q.pending = q.pending[:0]
			q.mu.Unlock()

			for k := range tasks {
				tasks[k]()
				tasks[k] = nil
			}
		case <-q.die:
			return
		}
	}
}

// Dispatch queues f for execution on a worker.
func (q *taskq) Dispatch(f func()) {
	q.mu.Lock()
	q.pending = append(q.pending, f)
	q.mu.Unlock()

	select {
	case q.chNotify <- struct{}{}:
	default:
	}
}

// Close terminates the workers; queued tasks may be dropped.
func (q *taskq) Close() { q.dieOnce.Do(func() { close(q.die) }) }
