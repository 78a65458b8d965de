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

// Flags for Send/Recv.
const (
	// FlagNonBlock makes an operation fail with ErrWouldBlock instead
	// of waiting.
	FlagNonBlock = 1 << iota
)

// Socket is the user-facing object: it owns dialers and listeners,
// buffers messages in both directions, and moves them across every
// pipe its endpoints produce.
type Socket struct {
	proto     uint16
	protoName string

	mtx    sync.Mutex
	closed bool

	sendq *msgQueue
	recvq *msgQueue

	sndtimeo  time.Duration
	rcvtimeo  time.Duration
	reconnmin time.Duration
	reconnmax time.Duration
	rcvmax    int

	dialers   []*dialer
	listeners []*listener
	pipes     []*pipeEntry
}

// pipeEntry tracks one attached pipe; done closes when the pipe is
// detached so a dialer can begin redialing.
type pipeEntry struct {
	p    *Pipe
	done chan struct{}
}

// Open returns a socket speaking the default pair protocol.
func Open() (*Socket, error) {
	return OpenProtocol(Pair)
}

// OpenProtocol returns a socket for a specific protocol op table.
func OpenProtocol(p Protocol) (*Socket, error) {
	s := &Socket{
		proto:     p.Number(),
		protoName: p.Name(),
		sendq:     newMsgQueue(0),
		recvq:     newMsgQueue(0),
		sndtimeo:  TimeoutInfinite,
		rcvtimeo:  TimeoutInfinite,
		reconnmin: 100 * time.Millisecond,
	}
	return s, nil
}

// SetOption mutates socket state. Types and ranges are validated
// before anything changes.
func (s *Socket) SetOption(name string, val interface{}) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.closed {
		return ErrClosed
	}
	switch name {
	case OptRecvTimeout:
		d, err := copyinDuration(val)
		if err != nil {
			return err
		}
		s.rcvtimeo = d
	case OptSendTimeout:
		d, err := copyinDuration(val)
		if err != nil {
			return err
		}
		s.sndtimeo = d
	case OptReconnMin:
		d, err := copyinDuration(val)
		if err != nil {
			return err
		}
		s.reconnmin = d
	case OptReconnMax:
		d, err := copyinDuration(val)
		if err != nil {
			return err
		}
		s.reconnmax = d
	case OptRecvBuf:
		n, err := copyinInt(val, 0)
		if err != nil {
			return err
		}
		s.recvq.resize(n)
	case OptSendBuf:
		n, err := copyinInt(val, 0)
		if err != nil {
			return err
		}
		s.sendq.resize(n)
	case OptRecvMax:
		n, err := copyinSize(val)
		if err != nil {
			return err
		}
		s.rcvmax = n
	default:
		return ErrNotSupported
	}
	return nil
}

// GetOption reads socket state with the same dynamic types SetOption
// accepts.
func (s *Socket) GetOption(name string) (interface{}, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	switch name {
	case OptRecvTimeout:
		return s.rcvtimeo, nil
	case OptSendTimeout:
		return s.sndtimeo, nil
	case OptReconnMin:
		return s.reconnmin, nil
	case OptReconnMax:
		return s.reconnmax, nil
	case OptRecvBuf:
		return s.recvq.size(), nil
	case OptSendBuf:
		return s.sendq.size(), nil
	case OptRecvMax:
		return s.rcvmax, nil
	}
	return nil, ErrNotSupported
}

// SendMsg queues the message for transmission, waiting per the send
// timeout. The socket takes ownership only on success.
func (s *Socket) SendMsg(m *Message, flags int) error {
	if m == nil {
		return ErrInvalid
	}
	s.mtx.Lock()
	if s.closed {
		s.mtx.Unlock()
		return ErrClosed
	}
	timeo := s.sndtimeo
	s.mtx.Unlock()

	a := NewAio(nil)
	if flags&FlagNonBlock != 0 {
		a.setNonblock()
	} else if timeo != TimeoutInfinite {
		a.SetTimeout(timeo)
	}
	a.SetMsg(m)
	s.sendq.putAio(a)
	a.Wait()
	return a.Result()
}

// Send copies buf into a message and queues it.
func (s *Socket) Send(buf []byte, flags int) error {
	m := NewMessage(len(buf))
	copy(m.Body, buf)
	if err := s.SendMsg(m, flags); err != nil {
		m.Free()
		return err
	}
	return nil
}

// RecvMsg waits for the next inbound message per the receive timeout.
// On any error the returned message is nil.
func (s *Socket) RecvMsg(flags int) (*Message, error) {
	s.mtx.Lock()
	if s.closed {
		s.mtx.Unlock()
		return nil, ErrClosed
	}
	timeo := s.rcvtimeo
	s.mtx.Unlock()

	a := NewAio(nil)
	if flags&FlagNonBlock != 0 {
		a.setNonblock()
	} else if timeo != TimeoutInfinite {
		a.SetTimeout(timeo)
	}
	s.recvq.getAio(a)
	a.Wait()
	if err := a.Result(); err != nil {
		return nil, err
	}
	return a.Msg(), nil
}

// Recv returns the next message's bytes, header included.
func (s *Socket) Recv(flags int) ([]byte, error) {
	m, err := s.RecvMsg(flags)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, m.Len())
	buf = append(buf, m.Header...)
	buf = append(buf, m.Body...)
	m.Free()
	return buf, nil
}

// addPipe attaches a matched pipe and starts its pumps. It reports
// false when the socket is already closed and the pipe was discarded.
func (s *Socket) addPipe(p *Pipe) (chan struct{}, bool) {
	s.mtx.Lock()
	if s.closed {
		s.mtx.Unlock()
		p.Close()
		p.reap()
		return nil, false
	}
	e := &pipeEntry{p: p, done: make(chan struct{})}
	s.pipes = append(s.pipes, e)
	s.mtx.Unlock()

	go s.sendPump(e)
	go s.recvPump(e)
	return e.done, true
}

// removePipe detaches and tears down a pipe; only the first caller
// does the work.
func (s *Socket) removePipe(e *pipeEntry) {
	s.mtx.Lock()
	found := false
	for i := range s.pipes {
		if s.pipes[i] == e {
			copy(s.pipes[i:], s.pipes[i+1:])
			s.pipes[len(s.pipes)-1] = nil
			s.pipes = s.pipes[:len(s.pipes)-1]
			found = true
			break
		}
	}
	s.mtx.Unlock()
	if !found {
		return
	}
	close(e.done)
	e.p.Close()
	e.p.reap()
}

// sendPump moves messages from the send buffer onto one pipe. The
// transport stops its background transfer after a send failure and
// waits for the layer above to react; that layer is here, and it
// closes the pipe rather than leave it half dead.
func (s *Socket) sendPump(e *pipeEntry) {
	for {
		a := NewAio(nil)
		s.sendq.getAio(a)
		a.Wait()
		if a.Result() != nil {
			// the socket buffer closed under us
			s.removePipe(e)
			return
		}
		m := a.Msg()

		pa := NewAio(nil)
		pa.SetMsg(m)
		e.p.Send(pa)
		pa.Wait()
		if pa.Result() != nil {
			m.Free()
			s.removePipe(e)
			return
		}
	}
}

// recvPump moves messages from one pipe into the receive buffer,
// honoring its bound for backpressure.
func (s *Socket) recvPump(e *pipeEntry) {
	for {
		pa := NewAio(nil)
		e.p.Recv(pa)
		pa.Wait()
		if pa.Result() != nil {
			s.removePipe(e)
			return
		}
		m := pa.Msg()
		pa.SetMsg(nil)

		a := NewAio(nil)
		a.SetMsg(m)
		s.recvq.putAio(a)
		a.Wait()
		if a.Result() != nil {
			m.Free()
			s.removePipe(e)
			return
		}
	}
}

// Close shuts the socket: all endpoints close, buffers drain, and
// every blocked Send or Recv fails with ErrClosed.
func (s *Socket) Close() error {
	s.mtx.Lock()
	if s.closed {
		s.mtx.Unlock()
		return ErrClosed
	}
	s.closed = true
	dialers := append([]*dialer{}, s.dialers...)
	listeners := append([]*listener{}, s.listeners...)
	s.dialers = nil
	s.listeners = nil
	s.mtx.Unlock()

	s.sendq.close()
	s.recvq.close()

	for _, d := range dialers {
		d.close()
	}
	for _, l := range listeners {
		l.close()
	}

	// pumps notice their queues and pipes dying and detach the rest
	return nil
}
