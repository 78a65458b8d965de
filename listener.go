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

func registerListener(l *listener) {
	epRegistry.Lock()
	epRegistry.next++
	l.id = epRegistry.next
	epRegistry.listeners[l.id] = l
	epRegistry.Unlock()
}

func lookupListener(id uint32) (*listener, error) {
	epRegistry.Lock()
	defer epRegistry.Unlock()
	l := epRegistry.listeners[id]
	if l == nil {
		return nil, ErrNoEntity
	}
	return l, nil
}

func unregisterListener(id uint32) {
	epRegistry.Lock()
	delete(epRegistry.listeners, id)
	epRegistry.Unlock()
}

// Listener is a small value handle; all state lives behind the id.
type Listener struct {
	ID uint32
}

type listener struct {
	id   uint32
	sock *Socket
	ep   *endpoint
	url  *URL

	mtx     sync.Mutex
	started bool
	closed  bool
}

// NewListener creates a listener for addr without binding it.
func (s *Socket) NewListener(addr string) (Listener, error) {
	u, err := ParseURL(addr)
	if err != nil {
		return Listener{}, err
	}

	s.mtx.Lock()
	if s.closed {
		s.mtx.Unlock()
		return Listener{}, ErrClosed
	}
	proto, rcvmax := s.proto, s.rcvmax
	s.mtx.Unlock()

	ep, err := newListenerEndpoint(u, proto)
	if err != nil {
		return Listener{}, err
	}
	ep.setRcvmax(int64(rcvmax))

	l := &listener{sock: s, ep: ep, url: u}
	registerListener(l)

	s.mtx.Lock()
	if s.closed {
		s.mtx.Unlock()
		l.close()
		return Listener{}, ErrClosed
	}
	s.listeners = append(s.listeners, l)
	s.mtx.Unlock()
	return Listener{ID: l.id}, nil
}

// Listen creates and starts a listener; the bind happens here, so an
// address collision surfaces on this call.
func (s *Socket) Listen(addr string) (Listener, error) {
	h, err := s.NewListener(addr)
	if err != nil {
		return Listener{}, err
	}
	if err := h.Start(); err != nil {
		h.Close()
		return Listener{}, err
	}
	return h, nil
}

// Start binds the address and begins accepting; starting twice is a
// state error.
func (h Listener) Start() error {
	l, err := lookupListener(h.ID)
	if err != nil {
		return err
	}
	return l.start()
}

// Close stops the listener and releases its endpoint.
func (h Listener) Close() error {
	l, err := lookupListener(h.ID)
	if err != nil {
		return err
	}
	return l.close()
}

// SetOption adjusts listener state; transport options fall through to
// the stream listener underneath.
func (h Listener) SetOption(name string, val interface{}) error {
	l, err := lookupListener(h.ID)
	if err != nil {
		return err
	}
	switch name {
	case OptRecvMax:
		n, err := copyinSize(val)
		if err != nil {
			return err
		}
		l.ep.setRcvmax(int64(n))
		return nil
	case OptURL:
		return ErrNotSupported
	}
	return l.ep.listener.SetOption(name, val)
}

// GetOption mirrors SetOption's names plus the read-only url and
// bound-port.
func (h Listener) GetOption(name string) (interface{}, error) {
	l, err := lookupListener(h.ID)
	if err != nil {
		return nil, err
	}
	switch name {
	case OptRecvMax:
		return int(l.ep.getRcvmax()), nil
	case OptURL:
		return l.url.String(), nil
	}
	return l.ep.listener.GetOption(name)
}

// URL reports the address this listener was created for.
func (h Listener) URL() (string, error) {
	l, err := lookupListener(h.ID)
	if err != nil {
		return "", err
	}
	return l.url.String(), nil
}

func (l *listener) start() error {
	l.mtx.Lock()
	if l.closed {
		l.mtx.Unlock()
		return ErrClosed
	}
	if l.started {
		l.mtx.Unlock()
		return ErrState
	}
	if err := l.ep.bind(); err != nil {
		l.mtx.Unlock()
		return err
	}
	l.started = true
	l.mtx.Unlock()

	go l.claimLoop()
	return nil
}

// claimLoop collects negotiated pipes from the endpoint and attaches
// them to the socket. Transient failures, like a peer that flunked
// negotiation, just mean the next accept gets posted.
func (l *listener) claimLoop() {
	for {
		a := NewAio(nil)
		l.ep.Accept(a)
		a.Wait()
		err := a.Result()
		if err != nil {
			switch err {
			case ErrClosed, ErrBusy, ErrState, ErrCanceled:
				return
			}
			continue
		}
		p := a.Output().(*Pipe)
		if _, ok := l.sock.addPipe(p); !ok {
			return
		}
	}
}

func (l *listener) close() error {
	l.mtx.Lock()
	if l.closed {
		l.mtx.Unlock()
		return ErrClosed
	}
	l.closed = true
	l.mtx.Unlock()

	unregisterListener(l.id)
	if s := l.sock; s != nil {
		s.mtx.Lock()
		for i := range s.listeners {
			if s.listeners[i] == l {
				copy(s.listeners[i:], s.listeners[i+1:])
				s.listeners[len(s.listeners)-1] = nil
				s.listeners = s.listeners[:len(s.listeners)-1]
				break
			}
		}
		s.mtx.Unlock()
	}
	l.ep.close()
	l.ep.release()
	return nil
}
