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
	"context"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

// tcpDialer dials one address per posted aio. With a TLS config armed
// the handshake happens inside the dial, so connect errors carry the
// peer-auth/crypto distinction up to the endpoint.
type tcpDialer struct {
	network string
	addr    string

	mu       sync.Mutex
	closed   bool
	useTLS   bool
	tlscfg   interface{} // *tls.Config, attach/detach via option
	compress bool
	cur      *dialOp
}

type dialOp struct {
	cancel context.CancelFunc
	rv     error
}

func newTCPDialer(network, addr string) *tcpDialer {
	return &tcpDialer{network: network, addr: addr}
}

func (d *tcpDialer) Dial(a *Aio) {
	if !a.Begin() {
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		a.Finish(ErrClosed, 0)
		return
	}
	if d.cur != nil {
		d.mu.Unlock()
		a.Finish(ErrBusy, 0)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	op := &dialOp{cancel: cancel}
	if rv := a.Schedule(d.cancelDial, op); rv != nil {
		d.mu.Unlock()
		cancel()
		a.Finish(rv, 0)
		return
	}
	d.cur = op
	useTLS, cfg, comp := d.useTLS, d.tlscfg, d.compress
	d.mu.Unlock()

	go func() {
		defer cancel()
		conn, err := (&net.Dialer{}).DialContext(ctx, d.network, d.addr)
		if err == nil && useTLS {
			conn, err = tlsClient(ctx, conn, cfg, hostOf(d.addr))
		}

		d.mu.Lock()
		rv := op.rv
		d.cur = nil
		closed := d.closed
		d.mu.Unlock()

		if err != nil {
			if conn != nil {
				conn.Close()
			}
			switch {
			case rv != nil:
				err = rv
			case closed:
				err = ErrClosed
			default:
				err = mapDialErr(err)
			}
			a.Finish(err, 0)
			return
		}
		if rv != nil || closed {
			conn.Close()
			if rv == nil {
				rv = ErrClosed
			}
			a.Finish(rv, 0)
			return
		}
		s := newConnStream(conn, comp)
		s.verified = useTLS && tlsVerified(conn)
		a.SetOutput(s)
		a.Finish(nil, 0)
	}()
}

func (d *tcpDialer) cancelDial(a *Aio, cookie interface{}, err error) {
	op := cookie.(*dialOp)
	d.mu.Lock()
	op.rv = err
	d.mu.Unlock()
	op.cancel()
}

func (d *tcpDialer) Close() error {
	d.mu.Lock()
	d.closed = true
	op := d.cur
	d.mu.Unlock()
	if op != nil {
		op.cancel()
	}
	return nil
}

func (d *tcpDialer) SetOption(name string, val interface{}) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch name {
	case OptTLSConfig:
		if !d.useTLS {
			return ErrNotSupported
		}
		if val != nil {
			if !isTLSConfig(val) {
				return ErrBadType
			}
		}
		d.tlscfg = val
		return nil
	case OptCompress:
		b, ok := val.(bool)
		if !ok {
			return ErrBadType
		}
		d.compress = b
		return nil
	}
	return ErrNotSupported
}

func (d *tcpDialer) GetOption(name string) (interface{}, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch name {
	case OptTLSConfig:
		if !d.useTLS {
			return nil, ErrNotSupported
		}
		return d.tlscfg, nil
	case OptCompress:
		return d.compress, nil
	}
	return nil, ErrNotSupported
}

// tcpListener owns the accepting socket. One goroutine blocks in
// Accept; TLS handshakes run per-conn so a stalled peer cannot head
// of line block the accept path.
type tcpListener struct {
	network string
	addr    string
	tcpaddr *net.TCPAddr // resolved synchronously at init

	mu       sync.Mutex
	ln       net.Listener
	closed   bool
	started  bool
	useTLS   bool
	tlscfg   interface{}
	compress bool
	acceptq  aioList
	ready    []acceptResult
}

type acceptResult struct {
	s   Stream
	err error
}

// newTCPListener resolves the hostname here, synchronously: binds stay
// simple at the cost of blocking endpoint creation on DNS.
func newTCPListener(network, addr string) (*tcpListener, error) {
	ta, err := net.ResolveTCPAddr(network, addr)
	if err != nil {
		return nil, ErrAddrInvalid
	}
	return &tcpListener{network: network, addr: addr, tcpaddr: ta}, nil
}

func (l *tcpListener) Listen() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if l.started {
		return ErrState
	}
	ln, err := net.ListenTCP(l.network, l.tcpaddr)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return ErrAddrInUse
		}
		return ErrAddrInvalid
	}
	l.ln = ln
	l.started = true
	go l.acceptLoop(ln)
	return nil
}

func (l *tcpListener) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			l.mu.Lock()
			closed := l.closed
			l.mu.Unlock()
			if closed {
				return
			}
			if errors.Is(err, syscall.EMFILE) || errors.Is(err, syscall.ENFILE) {
				l.deliver(acceptResult{err: ErrNoFiles})
				time.Sleep(10 * time.Millisecond)
				continue
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			l.deliver(acceptResult{err: ErrConnAborted})
			time.Sleep(10 * time.Millisecond)
			continue
		}

		l.mu.Lock()
		useTLS, cfg, comp := l.useTLS, l.tlscfg, l.compress
		l.mu.Unlock()

		if !useTLS {
			l.deliver(acceptResult{s: newConnStream(conn, comp)})
			continue
		}
		go func(c net.Conn) {
			tc, err := tlsServer(c, cfg)
			if err != nil {
				// a failed handshake burns only this conn
				c.Close()
				return
			}
			s := newConnStream(tc, comp)
			s.verified = tlsVerified(tc)
			l.deliver(acceptResult{s: s})
		}(conn)
	}
}

func (l *tcpListener) deliver(r acceptResult) {
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

// match pairs queued accept aios with ready conns; called locked.
func (l *tcpListener) match() {
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

func (l *tcpListener) Accept(a *Aio) {
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

func (l *tcpListener) cancelAccept(a *Aio, _ interface{}, err error) {
	l.mu.Lock()
	if !l.acceptq.Active(a) {
		l.mu.Unlock()
		return
	}
	l.acceptq.Remove(a)
	l.mu.Unlock()
	a.Finish(err, 0)
}

func (l *tcpListener) Close() error {
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

func (l *tcpListener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln != nil {
		return l.ln.Addr()
	}
	return l.tcpaddr
}

func (l *tcpListener) SetOption(name string, val interface{}) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch name {
	case OptTLSConfig:
		if !l.useTLS {
			return ErrNotSupported
		}
		if l.started {
			return ErrBusy
		}
		if val != nil && !isTLSConfig(val) {
			return ErrBadType
		}
		l.tlscfg = val
		return nil
	case OptCompress:
		b, ok := val.(bool)
		if !ok {
			return ErrBadType
		}
		l.compress = b
		return nil
	}
	return ErrNotSupported
}

func (l *tcpListener) GetOption(name string) (interface{}, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch name {
	case OptTLSConfig:
		if !l.useTLS {
			return nil, ErrNotSupported
		}
		return l.tlscfg, nil
	case OptCompress:
		return l.compress, nil
	case OptBoundPort:
		if l.ln != nil {
			return l.ln.Addr().(*net.TCPAddr).Port, nil
		}
		return l.tcpaddr.Port, nil
	}
	return nil, ErrNotSupported
}

func hostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

func mapDialErr(err error) error {
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return ErrConnRefused
	case errors.Is(err, context.Canceled):
		return ErrCanceled
	case isClosedConn(err):
		return ErrClosed
	}
	if rv := mapTLSErr(err); rv != nil {
		return rv
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return ErrTimeout
	}
	return ErrConnRefused
}
