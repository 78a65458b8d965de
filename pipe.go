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
	"encoding/binary"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

const negoTimeout = 10 * time.Second

// Pipe is one SP connection: a stream plus the framing state that
// turns it into a sequence of length-prefixed messages. It starts in
// negotiation, exchanging the fixed 8-byte header, and once matched to
// a consumer moves whole messages through its send and recv queues.
type Pipe struct {
	stream Stream
	ep     *endpoint
	peer   uint16
	proto  uint16
	rcvmax int64

	mtx    sync.Mutex
	sendq  aioList
	recvq  aioList
	reaped int32

	txlen [8]byte
	rxlen [8]byte

	gottxhead  int
	gotrxhead  int
	wanttxhead int
	wantrxhead int

	txaio   *Aio
	rxaio   *Aio
	negoaio *Aio
	rxmsg   *Message
}

func newPipe() *Pipe {
	p := new(Pipe)
	p.txaio = NewAio(p.sendCb)
	p.rxaio = NewAio(p.recvCb)
	p.negoaio = NewAio(p.negoCb)
	return p
}

// start kicks off negotiation; the endpoint mutex is held.
func (p *Pipe) start(s Stream, ep *endpoint) {
	ep.refcnt++

	p.stream = s
	p.ep = ep
	p.proto = ep.proto

	p.txlen[0] = 0
	p.txlen[1] = 'S'
	p.txlen[2] = 'P'
	p.txlen[3] = 0
	binary.BigEndian.PutUint16(p.txlen[4:], p.proto)
	p.txlen[6] = 0
	p.txlen[7] = 0

	p.gotrxhead = 0
	p.gottxhead = 0
	p.wantrxhead = 8
	p.wanttxhead = 8

	ep.negopipes = append(ep.negopipes, p)

	p.negoaio.SetTimeout(negoTimeout)
	p.negoaio.SetIov([][]byte{p.txlen[:]})
	p.stream.Send(p.negoaio)
}

func (p *Pipe) negoCb(aio *Aio) {
	ep := p.ep

	ep.mtx.Lock()
	rv := aio.Result()
	if rv == nil {
		// we transmit before we receive
		if p.gottxhead < p.wanttxhead {
			p.gottxhead += aio.Count()
		} else if p.gotrxhead < p.wantrxhead {
			p.gotrxhead += aio.Count()
		}

		if p.gottxhead < p.wanttxhead {
			aio.SetIov([][]byte{p.txlen[p.gottxhead:]})
			p.stream.Send(aio)
			ep.mtx.Unlock()
			return
		}
		if p.gotrxhead < p.wantrxhead {
			aio.SetIov([][]byte{p.rxlen[p.gotrxhead:]})
			p.stream.Recv(aio)
			ep.mtx.Unlock()
			return
		}

		// both headers moved; check what the peer claims to be
		if (p.rxlen[0] != 0) || (p.rxlen[1] != 'S') ||
			(p.rxlen[2] != 'P') || (p.rxlen[3] != 0) ||
			(p.rxlen[6] != 0) || (p.rxlen[7] != 0) {
			rv = ErrProto
		} else {
			p.peer = binary.BigEndian.Uint16(p.rxlen[4:])

			removePipe(&ep.negopipes, p)
			ep.waitpipes = append(ep.waitpipes, p)
			ep.match()
			ep.mtx.Unlock()
			return
		}
	}

	// A locally closed stream and an accept descriptor going away both
	// report closed; the consumer needs to see the remote flavor.
	if rv == ErrClosed {
		rv = ErrConnShut
	}
	removePipe(&ep.negopipes, p)
	p.stream.Close()

	if uaio := ep.useraio; uaio != nil {
		ep.useraio = nil
		uaio.Finish(rv, 0)
	}
	ep.mtx.Unlock()
	p.reap()
}

func (p *Pipe) sendCb(txaio *Aio) {
	p.mtx.Lock()
	aio := p.sendq.First()
	if aio == nil {
		p.mtx.Unlock()
		return
	}

	if rv := txaio.Result(); rv != nil {
		// Intentionally no further transfer is queued: the pipe is
		// likely unusable after a partial write, and the consumer will
		// see this error and close it.
		p.sendq.Remove(aio)
		p.mtx.Unlock()
		aio.Finish(rv, 0)
		return
	}

	n := txaio.Count()
	txaio.iovAdvance(n)
	if txaio.iovResid() > 0 {
		p.stream.Send(txaio)
		p.mtx.Unlock()
		return
	}
	p.sendq.Remove(aio)
	p.sendStart()

	msg := aio.Msg()
	sent := msg.Len()
	p.mtx.Unlock()
	aio.SetMsg(nil)
	msg.Free()
	aio.FinishSync(nil, sent)
}

func (p *Pipe) recvCb(rxaio *Aio) {
	p.mtx.Lock()
	aio := p.recvq.First()
	if aio == nil {
		p.mtx.Unlock()
		return
	}

	rv := rxaio.Result()
	if rv != nil {
		p.recvError(aio, rv)
		return
	}

	n := rxaio.Count()
	rxaio.iovAdvance(n)
	if rxaio.iovResid() > 0 {
		// partial read, resubmit for the rest
		p.stream.Recv(rxaio)
		p.mtx.Unlock()
		return
	}

	// with no message in progress the frame length just arrived
	if p.rxmsg == nil {
		l := binary.BigEndian.Uint64(p.rxlen[:])

		if p.rcvmax > 0 && l > uint64(p.rcvmax) {
			p.recvError(aio, ErrMsgSize)
			return
		}

		p.rxmsg = NewMessage(int(l))
		if l != 0 {
			rxaio.SetIov([][]byte{p.rxmsg.Body})
			p.stream.Recv(rxaio)
			p.mtx.Unlock()
			return
		}
	}

	// a whole message
	p.recvq.Remove(aio)
	msg := p.rxmsg
	p.rxmsg = nil
	msg.pipe = p
	if !p.recvq.Empty() {
		p.recvStart()
	}
	p.mtx.Unlock()

	aio.SetMsg(msg)
	aio.FinishSync(nil, msg.Len())
}

// recvError fails the head receive and stops the pump; the consumer is
// expected to close the pipe. Called with the pipe lock, returns
// without it.
func (p *Pipe) recvError(aio *Aio, rv error) {
	p.recvq.Remove(aio)
	msg := p.rxmsg
	p.rxmsg = nil
	p.mtx.Unlock()
	if msg != nil {
		msg.Free()
	}
	aio.Finish(rv, 0)
}

func (p *Pipe) cancelSend(aio *Aio, _ interface{}, rv error) {
	p.mtx.Lock()
	if !p.sendq.Active(aio) {
		p.mtx.Unlock()
		return
	}
	// the head is on the wire; cancel the transfer and the user aio
	// falls out through sendCb
	if p.sendq.First() == aio {
		p.txaio.Abort(rv)
		p.mtx.Unlock()
		return
	}
	p.sendq.Remove(aio)
	p.mtx.Unlock()
	aio.Finish(rv, 0)
}

// sendStart frames the head message and puts it on the wire; called
// with the pipe lock held.
func (p *Pipe) sendStart() {
	aio := p.sendq.First()
	if aio == nil {
		return
	}

	msg := aio.Msg()
	l := uint64(msg.Len())
	binary.BigEndian.PutUint64(p.txlen[:], l)

	iov := make([][]byte, 0, 3)
	iov = append(iov, p.txlen[:])
	if len(msg.Header) > 0 {
		iov = append(iov, msg.Header)
	}
	if len(msg.Body) > 0 {
		iov = append(iov, msg.Body)
	}
	p.txaio.SetIov(iov)
	p.stream.Send(p.txaio)
}

// Send queues a message-bearing aio; sends complete in queue order.
func (p *Pipe) Send(aio *Aio) {
	if !aio.Begin() {
		// nowhere to return the message; drop it rather than leak it
		if msg := aio.Msg(); msg != nil {
			aio.SetMsg(nil)
			msg.Free()
		}
		return
	}
	p.mtx.Lock()
	if rv := aio.Schedule(p.cancelSend, nil); rv != nil {
		p.mtx.Unlock()
		aio.Finish(rv, 0)
		return
	}
	p.sendq.Append(aio)
	if p.sendq.First() == aio {
		p.sendStart()
	}
	p.mtx.Unlock()
}

func (p *Pipe) cancelRecv(aio *Aio, _ interface{}, rv error) {
	p.mtx.Lock()
	if !p.recvq.Active(aio) {
		p.mtx.Unlock()
		return
	}
	if p.recvq.First() == aio {
		p.rxaio.Abort(rv)
		p.mtx.Unlock()
		return
	}
	p.recvq.Remove(aio)
	p.mtx.Unlock()
	aio.Finish(rv, 0)
}

// recvStart posts the length-prefix read; called with the pipe lock
// held.
func (p *Pipe) recvStart() {
	p.rxaio.SetIov([][]byte{p.rxlen[:]})
	p.stream.Recv(p.rxaio)
}

// Recv queues an aio to take the next message off the wire.
func (p *Pipe) Recv(aio *Aio) {
	if !aio.Begin() {
		return
	}
	p.mtx.Lock()
	if rv := aio.Schedule(p.cancelRecv, nil); rv != nil {
		p.mtx.Unlock()
		aio.Finish(rv, 0)
		return
	}
	p.recvq.Append(aio)
	if p.recvq.First() == aio {
		p.recvStart()
	}
	p.mtx.Unlock()
}

// Peer returns the protocol id the remote side negotiated.
func (p *Pipe) Peer() uint16 { return p.peer }

// Verified reports whether the underlying stream authenticated its
// peer; only TLS streams ever say yes.
func (p *Pipe) Verified() bool { return p.stream.Verified() }

// LocalAddr returns the stream's local address.
func (p *Pipe) LocalAddr() net.Addr { return p.stream.LocalAddr() }

// RemoteAddr returns the stream's remote address.
func (p *Pipe) RemoteAddr() net.Addr { return p.stream.RemoteAddr() }

// Close aborts negotiation and any in-flight transfers and shuts the
// stream; pending aios complete with the closed error.
func (p *Pipe) Close() error {
	p.rxaio.Close()
	p.txaio.Close()
	p.negoaio.Close()
	p.stream.Close()
	return nil
}

// stop joins the pipe's aios; afterwards no callback runs.
func (p *Pipe) stop() {
	p.rxaio.Stop()
	p.txaio.Stop()
	p.negoaio.Stop()
}

// reap defers destruction until callbacks drain; safe to call from
// callback context, and more than once.
func (p *Pipe) reap() {
	if atomic.CompareAndSwapInt32(&p.reaped, 0, 1) {
		if p.stream != nil {
			p.stream.Close()
		}
		systemReaper.Reap(p.fini)
	}
}

// fini runs on the reap worker: joins the aios and drops the endpoint
// reference, freeing the endpoint if it was the last one.
func (p *Pipe) fini() {
	p.stop()
	if ep := p.ep; ep != nil {
		ep.mtx.Lock()
		removePipe(&ep.negopipes, p)
		removePipe(&ep.waitpipes, p)
		removePipe(&ep.busypipes, p)
		ep.refcnt--
		if ep.fini && ep.refcnt == 0 {
			ep.reap()
		}
		ep.mtx.Unlock()
	}
}

func removePipe(list *[]*Pipe, p *Pipe) {
	q := *list
	for i := range q {
		if q[i] == p {
			copy(q[i:], q[i+1:])
			q[len(q)-1] = nil
			*list = q[:len(q)-1]
			return
		}
	}
}
