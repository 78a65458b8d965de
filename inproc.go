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
	"io"
	"net"
	"sync"
)

// inprocTable names every bound in-process listener.
var inprocTable = struct {
	sync.Mutex
	listeners map[string]*inprocListener
}{listeners: make(map[string]*inprocListener)}

type inprocAddr string

func (a inprocAddr) Network() string { return "inproc" }
func (a inprocAddr) String() string  { return string(a) }

// inprocDialer connects by name; there is no network underneath, so a
// dial either completes immediately or is refused.
type inprocDialer struct {
	name string

	mu     sync.Mutex
	closed bool
}

func (d *inprocDialer) Dial(a *Aio) {
	if !a.Begin() {
		return
	}
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		a.Finish(ErrClosed, 0)
		return
	}

	inprocTable.Lock()
	l := inprocTable.listeners[d.name]
	inprocTable.Unlock()
	if l == nil {
		a.Finish(ErrConnRefused, 0)
		return
	}

	// net.Pipe writes wait for the peer's read; a copying relay between
	// two pipes lets each side's write complete before the other reads,
	// as both sides send their negotiation header before receiving
	cc, ca := net.Pipe()
	sa, sc := net.Pipe()
	relay := func(dst, src net.Conn) {
		io.Copy(dst, src)
		dst.Close()
		src.Close()
	}
	go relay(sa, ca)
	go relay(ca, sa)
	if !l.deliver(newConnStream(sc, false)) {
		cc.Close()
		sc.Close()
		a.Finish(ErrConnRefused, 0)
		return
	}
	a.SetOutput(newConnStream(cc, false))
	a.Finish(nil, 0)
}

func (d *inprocDialer) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

func (d *inprocDialer) SetOption(string, interface{}) error { return ErrNotSupported }
func (d *inprocDialer) GetOption(string) (interface{}, error) {
	return nil, ErrNotSupported
}

type inprocListener struct {
	name string

	mu      sync.Mutex
	started bool
	closed  bool
	acceptq aioList
	ready   []Stream
}

func (l *inprocListener) Listen() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	if l.started {
		l.mu.Unlock()
		return ErrState
	}
	l.mu.Unlock()

	inprocTable.Lock()
	if _, ok := inprocTable.listeners[l.name]; ok {
		inprocTable.Unlock()
		return ErrAddrInUse
	}
	inprocTable.listeners[l.name] = l
	inprocTable.Unlock()

	l.mu.Lock()
	l.started = true
	l.mu.Unlock()
	return nil
}

// deliver hands a freshly dialed server-side stream to a pending
// accept, or parks it; reports false when the listener is gone.
func (l *inprocListener) deliver(s Stream) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || !l.started {
		return false
	}
	l.ready = append(l.ready, s)
	l.match()
	return true
}

func (l *inprocListener) match() {
	for !l.acceptq.Empty() && len(l.ready) > 0 {
		a := l.acceptq.First()
		l.acceptq.Remove(a)
		s := l.ready[0]
		copy(l.ready, l.ready[1:])
		l.ready[len(l.ready)-1] = nil
		l.ready = l.ready[:len(l.ready)-1]
		a.SetOutput(s)
		a.Finish(nil, 0)
	}
}

func (l *inprocListener) Accept(a *Aio) {
	if !a.Begin() {
		return
	}
	l.mu.Lock()
	if l.closed || !l.started {
		rv := ErrClosed
		if !l.started {
			rv = ErrState
		}
		l.mu.Unlock()
		a.Finish(rv, 0)
		return
	}
	if rv := a.Schedule(l.cancelAccept, nil); rv != nil {
		l.mu.Unlock()
		a.Finish(rv, 0)
		return
	}
	l.acceptq.Append(a)
	l.match()
	l.mu.Unlock()
}

func (l *inprocListener) cancelAccept(a *Aio, _ interface{}, err error) {
	l.mu.Lock()
	if !l.acceptq.Active(a) {
		l.mu.Unlock()
		return
	}
	l.acceptq.Remove(a)
	l.mu.Unlock()
	a.Finish(err, 0)
}

func (l *inprocListener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	pending := append([]*Aio{}, l.acceptq.q...)
	for _, a := range pending {
		l.acceptq.Remove(a)
	}
	ready := l.ready
	l.ready = nil
	started := l.started
	l.mu.Unlock()

	if started {
		inprocTable.Lock()
		if inprocTable.listeners[l.name] == l {
			delete(inprocTable.listeners, l.name)
		}
		inprocTable.Unlock()
	}
	for _, s := range ready {
		s.Close()
	}
	for _, a := range pending {
		a.Finish(ErrClosed, 0)
	}
	return nil
}

func (l *inprocListener) Addr() net.Addr { return inprocAddr(l.name) }

func (l *inprocListener) SetOption(string, interface{}) error { return ErrNotSupported }
func (l *inprocListener) GetOption(string) (interface{}, error) {
	return nil, ErrNotSupported
}
