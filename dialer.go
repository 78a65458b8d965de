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
	"time"
)

// epRegistry resolves public handle ids. Dialers and listeners share
// one id space so a handle of one kind forged from the other kind's id
// resolves to nothing.
var epRegistry = struct {
	sync.Mutex
	next      uint32
	dialers   map[uint32]*dialer
	listeners map[uint32]*listener
}{
	dialers:   make(map[uint32]*dialer),
	listeners: make(map[uint32]*listener),
}

func registerDialer(d *dialer) {
	epRegistry.Lock()
	epRegistry.next++
	d.id = epRegistry.next
	epRegistry.dialers[d.id] = d
	epRegistry.Unlock()
}

func lookupDialer(id uint32) (*dialer, error) {
	epRegistry.Lock()
	defer epRegistry.Unlock()
	d := epRegistry.dialers[id]
	if d == nil {
		return nil, ErrNoEntity
	}
	return d, nil
}

func unregisterDialer(id uint32) {
	epRegistry.Lock()
	delete(epRegistry.dialers, id)
	epRegistry.Unlock()
}

// Dialer is a small value handle; all state lives behind the id.
type Dialer struct {
	ID uint32
}

type dialer struct {
	id   uint32
	sock *Socket
	ep   *endpoint
	url  *URL

	mtx       sync.Mutex
	started   bool
	closed    bool
	reconnmin time.Duration
	reconnmax time.Duration
}

// NewDialer creates a dialer for addr without starting it; options can
// still be adjusted.
func (s *Socket) NewDialer(addr string) (Dialer, error) {
	u, err := ParseURL(addr)
	if err != nil {
		return Dialer{}, err
	}

	s.mtx.Lock()
	if s.closed {
		s.mtx.Unlock()
		return Dialer{}, ErrClosed
	}
	proto, rcvmax := s.proto, s.rcvmax
	reconnmin, reconnmax := s.reconnmin, s.reconnmax
	s.mtx.Unlock()

	ep, err := newDialerEndpoint(u, proto)
	if err != nil {
		return Dialer{}, err
	}
	ep.setRcvmax(int64(rcvmax))

	d := &dialer{
		sock:      s,
		ep:        ep,
		url:       u,
		reconnmin: reconnmin,
		reconnmax: reconnmax,
	}
	registerDialer(d)

	s.mtx.Lock()
	if s.closed {
		s.mtx.Unlock()
		d.close()
		return Dialer{}, ErrClosed
	}
	s.dialers = append(s.dialers, d)
	s.mtx.Unlock()
	return Dialer{ID: d.id}, nil
}

// Dial creates and starts a dialer in one call. Without FlagNonBlock
// the first connection attempt completes, or fails, synchronously.
func (s *Socket) Dial(addr string, flags int) (Dialer, error) {
	h, err := s.NewDialer(addr)
	if err != nil {
		return Dialer{}, err
	}
	if err := h.Start(flags); err != nil {
		h.Close()
		return Dialer{}, err
	}
	return h, nil
}

// Start begins connecting. Synchronous starts report the first
// attempt's result and only then hand off to the redial loop.
func (h Dialer) Start(flags int) error {
	d, err := lookupDialer(h.ID)
	if err != nil {
		return err
	}
	return d.start(flags)
}

// Close stops the dialer and releases its endpoint.
func (h Dialer) Close() error {
	d, err := lookupDialer(h.ID)
	if err != nil {
		return err
	}
	return d.close()
}

// SetOption adjusts dialer state; transport options fall through to
// the stream dialer underneath.
func (h Dialer) SetOption(name string, val interface{}) error {
	d, err := lookupDialer(h.ID)
	if err != nil {
		return err
	}
	switch name {
	case OptRecvMax:
		n, err := copyinSize(val)
		if err != nil {
			return err
		}
		d.ep.setRcvmax(int64(n))
		return nil
	case OptReconnMin:
		v, err := copyinDuration(val)
		if err != nil {
			return err
		}
		d.mtx.Lock()
		d.reconnmin = v
		d.mtx.Unlock()
		return nil
	case OptReconnMax:
		v, err := copyinDuration(val)
		if err != nil {
			return err
		}
		d.mtx.Lock()
		d.reconnmax = v
		d.mtx.Unlock()
		return nil
	case OptURL:
		return ErrNotSupported
	}
	return d.ep.dialer.SetOption(name, val)
}

// GetOption mirrors SetOption's names plus the read-only url.
func (h Dialer) GetOption(name string) (interface{}, error) {
	d, err := lookupDialer(h.ID)
	if err != nil {
		return nil, err
	}
	switch name {
	case OptRecvMax:
		return int(d.ep.getRcvmax()), nil
	case OptReconnMin:
		d.mtx.Lock()
		defer d.mtx.Unlock()
		return d.reconnmin, nil
	case OptReconnMax:
		d.mtx.Lock()
		defer d.mtx.Unlock()
		return d.reconnmax, nil
	case OptURL:
		return d.url.String(), nil
	}
	return d.ep.dialer.GetOption(name)
}

// URL reports the address this dialer was created for.
func (h Dialer) URL() (string, error) {
	d, err := lookupDialer(h.ID)
	if err != nil {
		return "", err
	}
	return d.url.String(), nil
}

func (d *dialer) start(flags int) error {
	d.mtx.Lock()
	if d.closed {
		d.mtx.Unlock()
		return ErrClosed
	}
	if d.started {
		d.mtx.Unlock()
		return ErrState
	}
	d.started = true
	d.mtx.Unlock()

	if flags&FlagNonBlock != 0 {
		go d.redialLoop(nil)
		return nil
	}

	a := NewAio(nil)
	d.ep.Connect(a)
	a.Wait()
	if err := a.Result(); err != nil {
		d.mtx.Lock()
		d.started = false
		d.mtx.Unlock()
		return err
	}
	p := a.Output().(*Pipe)
	done, ok := d.sock.addPipe(p)
	if !ok {
		return ErrClosed
	}
	go d.redialLoop(done)
	return nil
}

// redialLoop keeps exactly one pipe alive for the dialer: it waits out
// the current pipe, then reconnects under exponential backoff between
// reconnect-min and reconnect-max. A zero reconnect-max disables the
// growth.
func (d *dialer) redialLoop(done chan struct{}) {
	for {
		if done != nil {
			<-done
			done = nil
		}

		d.mtx.Lock()
		delay := d.reconnmin
		maxd := d.reconnmax
		d.mtx.Unlock()
		if delay <= 0 {
			delay = time.Millisecond
		}

		for {
			if d.isClosed() {
				return
			}
			a := NewAio(nil)
			d.ep.Connect(a)
			a.Wait()
			err := a.Result()
			if err == nil {
				p := a.Output().(*Pipe)
				var ok bool
				done, ok = d.sock.addPipe(p)
				if !ok {
					return
				}
				break
			}
			if err == ErrClosed || err == ErrBusy {
				return
			}
			time.Sleep(delay)
			if maxd > 0 {
				delay *= 2
				if delay > maxd {
					delay = maxd
				}
			}
		}
	}
}

func (d *dialer) isClosed() bool {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return d.closed
}

func (d *dialer) close() error {
	d.mtx.Lock()
	if d.closed {
		d.mtx.Unlock()
		return ErrClosed
	}
	d.closed = true
	d.mtx.Unlock()

	unregisterDialer(d.id)
	if s := d.sock; s != nil {
		s.mtx.Lock()
		for i := range s.dialers {
			if s.dialers[i] == d {
				copy(s.dialers[i:], s.dialers[i+1:])
				s.dialers[len(s.dialers)-1] = nil
				s.dialers = s.dialers[:len(s.dialers)-1]
				break
			}
		}
		s.mtx.Unlock()
	}
	d.ep.close()
	d.ep.release()
	return nil
}
