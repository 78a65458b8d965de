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

// msgQueue is a message-count-bounded buffer with aio-based producers
// and consumers. Capacity zero makes it a rendezvous: a put completes
// only when a get is waiting, which is what gives an unbuffered socket
// its send-blocks-until-a-pipe-exists behavior.
type msgQueue struct {
	mtx    sync.Mutex
	cap    int
	q      []*Message
	getq   aioList
	putq   aioList
	closed bool
}

func newMsgQueue(cap int) *msgQueue {
	return &msgQueue{cap: cap}
}

// putAio offers the aio's message. On failure the message stays with
// the caller.
func (mq *msgQueue) putAio(a *Aio) {
	if !a.Begin() {
		return
	}
	mq.mtx.Lock()
	if mq.closed {
		mq.mtx.Unlock()
		a.Finish(ErrClosed, 0)
		return
	}
	if g := mq.getq.First(); g != nil {
		mq.getq.Remove(g)
		m := a.Msg()
		a.SetMsg(nil)
		g.SetMsg(m)
		mq.mtx.Unlock()
		g.Finish(nil, m.Len())
		a.Finish(nil, 0)
		return
	}
	if len(mq.q) < mq.cap {
		mq.q = append(mq.q, a.Msg())
		a.SetMsg(nil)
		mq.mtx.Unlock()
		a.Finish(nil, 0)
		return
	}
	if rv := a.Schedule(mq.cancelPut, nil); rv != nil {
		mq.mtx.Unlock()
		a.Finish(rv, 0)
		return
	}
	mq.putq.Append(a)
	mq.mtx.Unlock()
}

// getAio takes the next message into the aio.
func (mq *msgQueue) getAio(a *Aio) {
	if !a.Begin() {
		return
	}
	mq.mtx.Lock()
	if mq.closed {
		mq.mtx.Unlock()
		a.Finish(ErrClosed, 0)
		return
	}
	if len(mq.q) > 0 {
		m := mq.q[0]
		copy(mq.q, mq.q[1:])
		mq.q[len(mq.q)-1] = nil
		mq.q = mq.q[:len(mq.q)-1]

		// a producer may be parked on the bound we just vacated
		if p := mq.putq.First(); p != nil {
			mq.putq.Remove(p)
			mq.q = append(mq.q, p.Msg())
			p.SetMsg(nil)
			mq.mtx.Unlock()
			p.Finish(nil, 0)
		} else {
			mq.mtx.Unlock()
		}
		a.SetMsg(m)
		a.Finish(nil, m.Len())
		return
	}
	if p := mq.putq.First(); p != nil {
		// rendezvous hand-off
		mq.putq.Remove(p)
		m := p.Msg()
		p.SetMsg(nil)
		a.SetMsg(m)
		mq.mtx.Unlock()
		p.Finish(nil, 0)
		a.Finish(nil, m.Len())
		return
	}
	if rv := a.Schedule(mq.cancelGet, nil); rv != nil {
		mq.mtx.Unlock()
		a.Finish(rv, 0)
		return
	}
	mq.getq.Append(a)
	mq.mtx.Unlock()
}

func (mq *msgQueue) cancelPut(a *Aio, _ interface{}, rv error) {
	mq.mtx.Lock()
	if !mq.putq.Active(a) {
		mq.mtx.Unlock()
		return
	}
	mq.putq.Remove(a)
	mq.mtx.Unlock()
	a.Finish(rv, 0)
}

func (mq *msgQueue) cancelGet(a *Aio, _ interface{}, rv error) {
	mq.mtx.Lock()
	if !mq.getq.Active(a) {
		mq.mtx.Unlock()
		return
	}
	mq.getq.Remove(a)
	mq.mtx.Unlock()
	a.Finish(rv, 0)
}

// resize adjusts the bound and releases producers the new bound
// admits.
func (mq *msgQueue) resize(cap int) {
	mq.mtx.Lock()
	mq.cap = cap
	var woken []*Aio
	for len(mq.q) < mq.cap {
		p := mq.putq.First()
		if p == nil {
			break
		}
		mq.putq.Remove(p)
		mq.q = append(mq.q, p.Msg())
		p.SetMsg(nil)
		woken = append(woken, p)
	}
	mq.mtx.Unlock()
	for _, p := range woken {
		p.Finish(nil, 0)
	}
}

func (mq *msgQueue) size() int {
	mq.mtx.Lock()
	defer mq.mtx.Unlock()
	return mq.cap
}

// close fails every waiter and drops buffered messages.
func (mq *msgQueue) close() {
	mq.mtx.Lock()
	if mq.closed {
		mq.mtx.Unlock()
		return
	}
	mq.closed = true
	var pending []*Aio
	for _, a := range mq.putq.q {
		pending = append(pending, a)
	}
	for _, a := range mq.getq.q {
		pending = append(pending, a)
	}
	for _, a := range pending {
		mq.putq.Remove(a)
		mq.getq.Remove(a)
	}
	msgs := mq.q
	mq.q = nil
	mq.mtx.Unlock()

	for _, m := range msgs {
		m.Free()
	}
	for _, a := range pending {
		a.Finish(ErrClosed, 0)
	}
}
