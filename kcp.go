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
	"crypto/sha1"
	"net"
	"sync"

	"golang.org/x/crypto/pbkdf2"

	kcp "github.com/xtaci/kcp-go/v5"
)

// kcpSalt seeds pbkdf2 key expansion for the kcp scheme's pre-shared
// secret.
const kcpSalt = "sptran"

// kcpOpts is the per-endpoint tuning shared by the kcp dialer and
// listener.
type kcpOpts struct {
	key         string
	dataShard   int
	parityShard int
	useTCP      bool // faked-TCP packet conns, linux only
	compress    bool
}

func (o *kcpOpts) block() kcp.BlockCrypt {
	if o.key == "" {
		return nil
	}
	pass := pbkdf2.Key([]byte(o.key), []byte(kcpSalt), 4096, 32, sha1.New)
	block, _ := kcp.NewAESBlockCrypt(pass)
	return block
}

func (o *kcpOpts) set(name string, val interface{}) error {
	switch name {
	case OptKCPKey:
		s, ok := val.(string)
		if !ok {
			return ErrBadType
		}
		o.key = s
	case OptKCPDataShard:
		n, ok := val.(int)
		if !ok {
			return ErrBadType
		}
		if n < 0 {
			return ErrInvalid
		}
		o.dataShard = n
	case OptKCPParityShard:
		n, ok := val.(int)
		if !ok {
			return ErrBadType
		}
		if n < 0 {
			return ErrInvalid
		}
		o.parityShard = n
	case OptKCPTCP:
		b, ok := val.(bool)
		if !ok {
			return ErrBadType
		}
		o.useTCP = b
	case OptCompress:
		b, ok := val.(bool)
		if !ok {
			return ErrBadType
		}
		o.compress = b
	default:
		return ErrNotSupported
	}
	return nil
}

func (o *kcpOpts) get(name string) (interface{}, error) {
	switch name {
	case OptKCPKey:
		return o.key, nil
	case OptKCPDataShard:
		return o.dataShard, nil
	case OptKCPParityShard:
		return o.parityShard, nil
	case OptKCPTCP:
		return o.useTCP, nil
	case OptCompress:
		return o.compress, nil
	}
	return nil, ErrNotSupported
}

type kcpDialer struct {
	addr string

	mu     sync.Mutex
	closed bool
	opts   kcpOpts
}

func newKCPDialer(addr string) *kcpDialer {
	return &kcpDialer{addr: addr}
}

// Dial completes quickly: KCP has no connect handshake, the session
// exists as soon as local state does.
func (d *kcpDialer) Dial(a *Aio) {
	if !a.Begin() {
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		a.Finish(ErrClosed, 0)
		return
	}
	opts := d.opts
	d.mu.Unlock()

	conn, err := kcpDial(d.addr, opts.block(), opts.dataShard, opts.parityShard, opts.useTCP)
	if err != nil {
		a.Finish(ErrConnRefused, 0)
		return
	}
	a.SetOutput(newConnStream(conn, opts.compress))
	a.Finish(nil, 0)
}

func (d *kcpDialer) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

func (d *kcpDialer) SetOption(name string, val interface{}) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opts.set(name, val)
}

func (d *kcpDialer) GetOption(name string) (interface{}, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opts.get(name)
}

type kcpListener struct {
	addr string

	mu      sync.Mutex
	ln      *kcp.Listener
	closed  bool
	started bool
	opts    kcpOpts
	acceptq aioList
	ready   []acceptResult
}

func newKCPListener(addr string) *kcpListener {
	return &kcpListener{addr: addr}
}

func (l *kcpListener) Listen() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if l.started {
		return ErrState
	}
	ln, err := kcpListen(l.addr, l.opts.block(), l.opts.dataShard, l.opts.parityShard, l.opts.useTCP)
	if err != nil {
		return ErrAddrInUse
	}
	l.ln = ln
	l.started = true
	go l.acceptLoop(ln)
	return nil
}

func (l *kcpListener) acceptLoop(ln *kcp.Listener) {
	for {
		conn, err := ln.AcceptKCP()
		if err != nil {
			l.mu.Lock()
			closed := l.closed
			l.mu.Unlock()
			if closed {
				return
			}
			l.deliver(acceptResult{err: ErrConnAborted})
			continue
		}
		l.mu.Lock()
		comp := l.opts.compress
		l.mu.Unlock()
		l.deliver(acceptResult{s: newConnStream(conn, comp)})
	}
}

func (l *kcpListener) deliver(r acceptResult) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		if r.s != nil {
			r.s.Close()
		}
		return
	}
	l.ready = append(l.ready, r)
	l.match()
	l.mu.Unlock()
}

func (l *kcpListener) match() {
	for !l.acceptq.Empty() && len(l.ready) > 0 {
		a := l.acceptq.First()
		l.acceptq.Remove(a)
		r := l.ready[0]
		copy(l.ready, l.ready[1:])
		l.ready[len(l.ready)-1] = acceptResult{}
		l.ready = l.ready[:len(l.ready)-1]
		if r.err != nil {
			a.Finish(r.err, 0)
		} else {
			a.SetOutput(r.s)
			a.Finish(nil, 0)
		}
	}
}

func (l *kcpListener) Accept(a *Aio) {
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

func (l *kcpListener) cancelAccept(a *Aio, _ interface{}, err error) {
	l.mu.Lock()
	if !l.acceptq.Active(a) {
		l.mu.Unlock()
		return
	}
	l.acceptq.Remove(a)
	l.mu.Unlock()
	a.Finish(err, 0)
}

func (l *kcpListener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	ln := l.ln
	pending := append([]*Aio{}, l.acceptq.q...)
	for _, a := range pending {
		l.acceptq.Remove(a)
	}
	ready := l.ready
	l.ready = nil
	l.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	for _, r := range ready {
		if r.s != nil {
			r.s.Close()
		}
	}
	for _, a := range pending {
		a.Finish(ErrClosed, 0)
	}
	return nil
}

func (l *kcpListener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln != nil {
		return l.ln.Addr()
	}
	return nil
}

func (l *kcpListener) SetOption(name string, val interface{}) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started && name != OptCompress {
		return ErrBusy
	}
	return l.opts.set(name, val)
}

func (l *kcpListener) GetOption(name string) (interface{}, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if name == OptBoundPort {
		if l.ln != nil {
			if ua, ok := l.ln.Addr().(*net.UDPAddr); ok {
				return ua.Port, nil
			}
		}
		return 0, nil
	}
	return l.opts.get(name)
}
