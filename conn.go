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
	"crypto/tls"
	"io"
	"net"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/sagernet/sing/common/bufio"
)

var aLongTimeAgo = time.Unix(1, 0)

// connStream adapts a net.Conn to the Stream contract. Each direction
// has one pump goroutine working a FIFO of aios; cancellation either
// unlinks a waiting aio or pokes the conn deadline to kick the pump
// out of a blocking call. With the compress option armed the pumps
// move bytes through a snappy frame codec instead of the bare conn;
// deadline pokes still land on the conn underneath.
type connStream struct {
	conn     net.Conn
	verified bool

	cr *snappy.Reader // nil unless compressing
	cw *snappy.Writer

	mu      sync.Mutex
	txq     aioList
	rxq     aioList
	txCur   *Aio
	rxCur   *Aio
	txAbort error
	rxAbort error
	closed  bool

	chTxNotify chan struct{}
	chRxNotify chan struct{}
	die        chan struct{}
	dieOnce    sync.Once
}

func newConnStream(conn net.Conn, compress bool) *connStream {
	s := new(connStream)
	s.conn = conn
	if compress {
		s.cr = snappy.NewReader(conn)
		s.cw = snappy.NewBufferedWriter(conn)
	}
	s.chTxNotify = make(chan struct{}, 1)
	s.chRxNotify = make(chan struct{}, 1)
	s.die = make(chan struct{})
	go s.sendPump()
	go s.recvPump()
	return s
}

func (s *connStream) Send(a *Aio) {
	if !a.Begin() {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		a.Finish(ErrClosed, 0)
		return
	}
	if rv := a.Schedule(s.cancelSend, nil); rv != nil {
		s.mu.Unlock()
		a.Finish(rv, 0)
		return
	}
	s.txq.Append(a)
	s.mu.Unlock()
	notify(s.chTxNotify)
}

func (s *connStream) Recv(a *Aio) {
	if !a.Begin() {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		a.Finish(ErrClosed, 0)
		return
	}
	if rv := a.Schedule(s.cancelRecv, nil); rv != nil {
		s.mu.Unlock()
		a.Finish(rv, 0)
		return
	}
	s.rxq.Append(a)
	s.mu.Unlock()
	notify(s.chRxNotify)
}

func (s *connStream) cancelSend(a *Aio, _ interface{}, err error) {
	s.mu.Lock()
	if s.txq.Active(a) {
		s.txq.Remove(a)
		s.mu.Unlock()
		a.Finish(err, 0)
		return
	}
	if s.txCur == a {
		// in flight; kick the pump out of Write
		s.txAbort = err
		s.conn.SetWriteDeadline(aLongTimeAgo)
	}
	s.mu.Unlock()
}

func (s *connStream) cancelRecv(a *Aio, _ interface{}, err error) {
	s.mu.Lock()
	if s.rxq.Active(a) {
		s.rxq.Remove(a)
		s.mu.Unlock()
		a.Finish(err, 0)
		return
	}
	if s.rxCur == a {
		s.rxAbort = err
		s.conn.SetReadDeadline(aLongTimeAgo)
	}
	s.mu.Unlock()
}

func (s *connStream) sendPump() {
	vw, vok := bufio.CreateVectorisedWriter(s.conn)
	if s.cw != nil {
		// compressed bytes go through the framer, not the raw conn
		vok = false
	}

	for {
		s.mu.Lock()
		a := s.txq.First()
		if a != nil {
			s.txq.Remove(a)
			s.txCur = a
		}
		s.mu.Unlock()

		if a == nil {
			select {
			case <-s.chTxNotify:
				continue
			case <-s.die:
				return
			}
		}

		var n int
		var err error
		switch {
		case s.cw != nil:
			n, err = s.writeCompressed(a.iov)
		case vok && len(a.iov) > 1:
			n, err = bufio.WriteVectorised(vw, a.iov)
		default:
			n, err = s.writeFlat(a.iov)
		}

		s.mu.Lock()
		s.txCur = nil
		if abort := s.txAbort; abort != nil {
			s.txAbort = nil
			s.conn.SetWriteDeadline(time.Time{})
			err = abort
		} else if err != nil {
			err = s.mapErr(err)
		}
		s.mu.Unlock()
		a.Finish(err, n)
	}
}

// writeCompressed feeds the vector through the snappy framer; one
// flush per aio keeps a whole message in as few frames as possible.
func (s *connStream) writeCompressed(vec [][]byte) (int, error) {
	n := 0
	for _, v := range vec {
		if len(v) == 0 {
			continue
		}
		if _, err := s.cw.Write(v); err != nil {
			return n, err
		}
		n += len(v)
	}
	if err := s.cw.Flush(); err != nil {
		return n, err
	}
	return n, nil
}

// writeFlat collapses the vector into one pooled buffer for conns
// without scatter-gather support.
func (s *connStream) writeFlat(vec [][]byte) (int, error) {
	if len(vec) == 1 {
		return s.conn.Write(vec[0])
	}
	total := 0
	for _, v := range vec {
		total += len(v)
	}
	buf := defaultAllocator.Get(total)
	off := 0
	for _, v := range vec {
		off += copy(buf[off:], v)
	}
	n, err := s.conn.Write(buf)
	defaultAllocator.Put(buf)
	return n, err
}

func (s *connStream) recvPump() {
	var r io.Reader = s.conn
	if s.cr != nil {
		r = s.cr
	}

	for {
		s.mu.Lock()
		a := s.rxq.First()
		if a != nil {
			s.rxq.Remove(a)
			s.rxCur = a
		}
		s.mu.Unlock()

		if a == nil {
			select {
			case <-s.chRxNotify:
				continue
			case <-s.die:
				return
			}
		}

		// read into the first non-empty segment; partial transfers are
		// the caller's business per the stream contract
		var seg []byte
		for _, v := range a.iov {
			if len(v) > 0 {
				seg = v
				break
			}
		}

		var n int
		var err error
		if seg != nil {
			n, err = r.Read(seg)
		}

		s.mu.Lock()
		s.rxCur = nil
		if abort := s.rxAbort; abort != nil {
			s.rxAbort = nil
			s.conn.SetReadDeadline(time.Time{})
			if n == 0 {
				err = abort
			} else {
				err = nil
			}
		} else if n > 0 {
			err = nil
		} else if err != nil {
			err = s.mapErr(err)
		}
		s.mu.Unlock()
		a.Finish(err, n)
	}
}

func (s *connStream) mapErr(err error) error {
	if s.closed {
		return ErrClosed
	}
	switch {
	case err == io.EOF, err == io.ErrUnexpectedEOF:
		return ErrConnShut
	case isClosedConn(err):
		return ErrClosed
	default:
	}
	if _, ok := err.(tls.RecordHeaderError); ok {
		return ErrCrypto
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return ErrTimeout
	}
	return ErrConnShut
}

func isClosedConn(err error) bool {
	if err == net.ErrClosed || err == io.ErrClosedPipe {
		return true
	}
	if oe, ok := err.(*net.OpError); ok {
		return oe.Err == net.ErrClosed
	}
	return false
}

func (s *connStream) Close() error {
	s.dieOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		var pending []*Aio
		for _, a := range append(append([]*Aio{}, s.txq.q...), s.rxq.q...) {
			s.txq.Remove(a)
			s.rxq.Remove(a)
			pending = append(pending, a)
		}
		s.mu.Unlock()

		close(s.die)
		s.conn.Close()
		for _, a := range pending {
			a.Finish(ErrClosed, 0)
		}
	})
	return nil
}

func (s *connStream) LocalAddr() net.Addr  { return s.conn.LocalAddr() }
func (s *connStream) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }
func (s *connStream) Verified() bool       { return s.verified }

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
