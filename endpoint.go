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
	"sync/atomic"
	"time"
)

// acceptCooldown paces the accept loop after fd or memory exhaustion.
const acceptCooldown = 10 * time.Millisecond

// endpoint is the state behind one dialer or one listener: the stream
// provider, the pipes it has created in their three phases, and the
// single consumer aio waiting for the next matched pipe.
type endpoint struct {
	mtx     sync.Mutex
	proto   uint16
	rcvmax  int64
	started bool
	closed  bool
	fini    bool
	refcnt  int
	url     *URL

	negopipes []*Pipe // negotiating the SP header
	waitpipes []*Pipe // negotiated, waiting for a consumer
	busypipes []*Pipe // handed to the consumer

	dialer   StreamDialer
	listener StreamListener

	useraio *Aio // the one posted connect/accept
	connaio *Aio
	timeaio *Aio

	reaped int32
}

func newDialerEndpoint(u *URL, proto uint16) (*endpoint, error) {
	t, err := lookupTransport(u.Scheme)
	if err != nil {
		return nil, err
	}
	sd, err := t.newDialer(u)
	if err != nil {
		return nil, err
	}
	ep := &endpoint{proto: proto, url: u, dialer: sd}
	ep.connaio = NewAio(ep.dialCb)
	ep.timeaio = NewAio(nil)
	return ep, nil
}

func newListenerEndpoint(u *URL, proto uint16) (*endpoint, error) {
	t, err := lookupTransport(u.Scheme)
	if err != nil {
		return nil, err
	}
	sl, err := t.newListener(u)
	if err != nil {
		return nil, err
	}
	ep := &endpoint{proto: proto, url: u, listener: sl}
	ep.connaio = NewAio(ep.acceptCb)
	ep.timeaio = NewAio(ep.timerCb)
	return ep, nil
}

// match pairs the oldest negotiated pipe with the waiting consumer;
// called with the endpoint lock held.
func (ep *endpoint) match() {
	aio := ep.useraio
	if aio == nil || len(ep.waitpipes) == 0 {
		return
	}
	p := ep.waitpipes[0]
	removePipe(&ep.waitpipes, p)
	ep.busypipes = append(ep.busypipes, p)
	ep.useraio = nil
	p.rcvmax = ep.rcvmax
	aio.SetOutput(p)
	aio.Finish(nil, 0)
}

func (ep *endpoint) dialCb(aio *Aio) {
	rv := aio.Result()
	var conn Stream
	if rv == nil {
		conn = aio.Output().(Stream)
	}

	ep.mtx.Lock()
	if rv == nil {
		if ep.closed {
			conn.Close()
			rv = ErrClosed
		} else {
			p := newPipe()
			p.start(conn, ep)
			ep.mtx.Unlock()
			return
		}
	}
	if uaio := ep.useraio; uaio != nil {
		ep.useraio = nil
		uaio.Finish(rv, 0)
	}
	ep.mtx.Unlock()
}

func (ep *endpoint) acceptCb(aio *Aio) {
	rv := aio.Result()

	ep.mtx.Lock()
	if rv == nil {
		conn := aio.Output().(Stream)
		if ep.closed {
			conn.Close()
			rv = ErrClosed
		} else {
			p := newPipe()
			p.start(conn, ep)
			ep.listener.Accept(ep.connaio)
			ep.mtx.Unlock()
			return
		}
	}

	// surface the failure to the consumer, who reports it properly
	if uaio := ep.useraio; uaio != nil {
		ep.useraio = nil
		uaio.Finish(rv, 0)
	}
	switch rv {
	case ErrNoMemory, ErrNoFiles:
		// cool down, the retry is posted by timerCb
		sleepAio(acceptCooldown, ep.timeaio)
	default:
		// keep accepting so stream negotiation stays decoupled from
		// the consumer's accept cadence
		if !ep.closed {
			ep.listener.Accept(ep.connaio)
		}
	}
	ep.mtx.Unlock()
}

func (ep *endpoint) timerCb(aio *Aio) {
	ep.mtx.Lock()
	if aio.Result() == nil && !ep.closed {
		ep.listener.Accept(ep.connaio)
	}
	ep.mtx.Unlock()
}

// Connect posts the consumer aio and kicks the stream dialer.
func (ep *endpoint) Connect(aio *Aio) {
	if !aio.Begin() {
		return
	}
	ep.mtx.Lock()
	if ep.closed {
		ep.mtx.Unlock()
		aio.Finish(ErrClosed, 0)
		return
	}
	if ep.useraio != nil {
		ep.mtx.Unlock()
		aio.Finish(ErrBusy, 0)
		return
	}
	if rv := aio.Schedule(ep.cancelUser, nil); rv != nil {
		ep.mtx.Unlock()
		aio.Finish(rv, 0)
		return
	}
	ep.useraio = aio
	ep.dialer.Dial(ep.connaio)
	ep.mtx.Unlock()
}

// bind claims the address; listen errors surface synchronously.
func (ep *endpoint) bind() error {
	ep.mtx.Lock()
	defer ep.mtx.Unlock()
	return ep.listener.Listen()
}

// Accept posts the consumer aio; the first one starts the accept loop.
func (ep *endpoint) Accept(aio *Aio) {
	if !aio.Begin() {
		return
	}
	ep.mtx.Lock()
	if ep.closed {
		ep.mtx.Unlock()
		aio.Finish(ErrClosed, 0)
		return
	}
	if ep.useraio != nil {
		ep.mtx.Unlock()
		aio.Finish(ErrBusy, 0)
		return
	}
	if rv := aio.Schedule(ep.cancelUser, nil); rv != nil {
		ep.mtx.Unlock()
		aio.Finish(rv, 0)
		return
	}
	ep.useraio = aio
	if !ep.started {
		ep.started = true
		ep.listener.Accept(ep.connaio)
	} else {
		ep.match()
	}
	ep.mtx.Unlock()
}

func (ep *endpoint) cancelUser(aio *Aio, _ interface{}, rv error) {
	ep.mtx.Lock()
	if ep.useraio == aio {
		ep.useraio = nil
		ep.mtx.Unlock()
		aio.Finish(rv, 0)
		return
	}
	ep.mtx.Unlock()
}

func (ep *endpoint) setRcvmax(v int64) {
	ep.mtx.Lock()
	ep.rcvmax = v
	ep.mtx.Unlock()
}

func (ep *endpoint) getRcvmax() int64 {
	ep.mtx.Lock()
	defer ep.mtx.Unlock()
	return ep.rcvmax
}

// close terminates the provider and every pipe; the pipes finish
// dying through the reaper once their callbacks drain.
func (ep *endpoint) close() {
	ep.mtx.Lock()
	if ep.closed {
		ep.mtx.Unlock()
		return
	}
	ep.closed = true
	ep.timeaio.Close()

	if ep.dialer != nil {
		ep.dialer.Close()
	}
	if ep.listener != nil {
		ep.listener.Close()
	}
	// the reaped flag dedups against pipes that also reap themselves
	// from a failing callback
	all := append([]*Pipe{}, ep.negopipes...)
	all = append(all, ep.waitpipes...)
	all = append(all, ep.busypipes...)
	for _, p := range all {
		p.Close()
		p.reap()
	}
	if uaio := ep.useraio; uaio != nil {
		ep.useraio = nil
		uaio.Finish(ErrClosed, 0)
	}
	ep.mtx.Unlock()
}

// release is called when the owner lets go of the endpoint; the last
// pipe to die reaps it.
func (ep *endpoint) release() {
	ep.mtx.Lock()
	ep.fini = true
	if ep.refcnt == 0 {
		ep.reap()
	}
	ep.mtx.Unlock()
}

// reap defers the final teardown off this callstack; called with the
// endpoint lock held, or from the reaper itself.
func (ep *endpoint) reap() {
	if atomic.CompareAndSwapInt32(&ep.reaped, 0, 1) {
		systemReaper.Reap(ep.finish)
	}
}

func (ep *endpoint) finish() {
	ep.timeaio.Stop()
	ep.connaio.Stop()
	if ep.dialer != nil {
		ep.dialer.Close()
	}
	if ep.listener != nil {
		ep.listener.Close()
	}
}

// sleepAio completes the aio successfully after d, or early with the
// abort error.
func sleepAio(d time.Duration, a *Aio) {
	if !a.Begin() {
		return
	}
	ch := make(chan error, 1)
	if rv := a.Schedule(func(_ *Aio, _ interface{}, err error) {
		select {
		case ch <- err:
		default:
		}
	}, nil); rv != nil {
		a.Finish(rv, 0)
		return
	}
	go func() {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
			a.Finish(nil, 0)
		case err := <-ch:
			a.Finish(err, 0)
		}
	}()
}
