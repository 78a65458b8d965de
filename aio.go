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

// CompletionFunc runs on a dispatcher worker when the aio completes.
type CompletionFunc func(*Aio)

// CancelFunc is registered by a provider at schedule time. It must
// detach the aio from whatever the provider queued it on and arrange a
// Finish with the supplied error.
type CancelFunc func(a *Aio, cookie interface{}, err error)

// Aio is a single asynchronous operation. It completes exactly once
// between Begin and Stop; completion delivers a result error and a
// transferred byte count, then runs the completion callback on a
// dispatcher worker. Abort cooperates with the provider through the
// registered CancelFunc, and Stop is the join barrier after which no
// callback is running or will run.
type Aio struct {
	mu   sync.Mutex
	cond *sync.Cond // fires when busy drops

	cb CompletionFunc

	busy    bool  // Begin accepted, Finish not yet
	running int   // completion callbacks dispatched, not yet returned
	stopErr error // non-nil forbids further Begins

	abortErr error // abort arrived before schedule

	cancelFn  CancelFunc
	cancelArg interface{}

	timeout   time.Duration
	expireNow bool
	expireErr error

	expireAt  time.Time
	expireIdx int // guarded by systemExpire.mu

	err   error
	count int

	iov [][]byte

	msg    *Message
	output interface{}

	listed bool // on an aioList; guarded by the list owner's lock
}

// NewAio allocates an aio completing into cb. A nil cb makes a
// wait-style aio for synchronous callers using Wait.
func NewAio(cb CompletionFunc) *Aio {
	a := &Aio{
		cb:        cb,
		expireIdx: -1,
		expireErr: ErrTimeout,
	}
	a.cond = sync.NewCond(&a.mu)
	return a
}

// Begin makes the aio live for one operation. It reports false when
// the aio has been stopped, in which case the caller must abandon the
// operation without finishing it.
func (a *Aio) Begin() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopErr != nil {
		return false
	}
	if a.busy {
		panic("aio: operation already in progress")
	}
	a.busy = true
	a.abortErr = nil
	a.err = nil
	a.count = 0
	return true
}

// Schedule registers the provider's cancel routine and arms the
// deadline. It fails with the pending abort error if Abort arrived
// after Begin, and with the expire error for operations marked to
// fail instead of waiting; on failure the provider must call Finish
// with the returned error and go no further.
func (a *Aio) Schedule(fn CancelFunc, cookie interface{}) error {
	a.mu.Lock()
	if !a.busy {
		panic("aio: schedule without begin")
	}
	if a.stopErr != nil {
		rv := a.stopErr
		a.mu.Unlock()
		return rv
	}
	if a.abortErr != nil {
		rv := a.abortErr
		a.abortErr = nil
		a.mu.Unlock()
		return rv
	}
	if a.expireNow {
		rv := a.expireErr
		a.mu.Unlock()
		return rv
	}
	a.cancelFn = fn
	a.cancelArg = cookie
	arm := a.timeout > 0
	var when time.Time
	if arm {
		when = time.Now().Add(a.timeout)
	}
	a.mu.Unlock()

	if arm {
		systemExpire.register(a, when)
	}
	return nil
}

// SetTimeout bounds the operation. Zero expires immediately once the
// provider would have to wait; negative durations are rejected.
func (a *Aio) SetTimeout(d time.Duration) error {
	if d < 0 {
		return ErrInvalid
	}
	a.mu.Lock()
	a.timeout = d
	a.expireNow = d == 0
	a.mu.Unlock()
	return nil
}

// setNonblock makes the aio fail with would-block rather than wait.
func (a *Aio) setNonblock() {
	a.mu.Lock()
	a.timeout = 0
	a.expireNow = true
	a.expireErr = ErrWouldBlock
	a.mu.Unlock()
}

// SetIov attaches the scatter/gather vector for stream transfers.
func (a *Aio) SetIov(vec [][]byte) {
	a.iov = vec
}

// Abort requests cancellation with the given error. If the provider
// has registered a cancel routine it runs here and is responsible for
// the eventual Finish; an abort racing a completed aio is a no-op.
func (a *Aio) Abort(err error) {
	a.mu.Lock()
	if !a.busy {
		a.mu.Unlock()
		return
	}
	if fn := a.cancelFn; fn != nil {
		arg := a.cancelArg
		a.cancelFn = nil
		a.cancelArg = nil
		a.mu.Unlock()
		fn(a, arg, err)
		return
	}
	// not scheduled yet; fail the upcoming schedule
	a.abortErr = err
	a.mu.Unlock()
}

// Finish completes the aio: stores the result, disarms cancellation
// and the deadline, and dispatches the completion callback.
func (a *Aio) Finish(err error, count int) {
	a.finish(err, count, false)
}

// FinishSync is Finish with the callback run on the calling goroutine.
func (a *Aio) FinishSync(err error, count int) {
	a.finish(err, count, true)
}

func (a *Aio) finish(err error, count int, sync bool) {
	a.mu.Lock()
	if !a.busy {
		panic("aio: finish without begin")
	}
	// the operation is over here; the callback may legitimately begin
	// the next one, which is how pipes resubmit partial transfers
	a.busy = false
	a.cancelFn = nil
	a.cancelArg = nil
	a.err = err
	a.count = count
	cb := a.cb
	if cb != nil {
		a.running++
	}
	a.cond.Broadcast()
	a.mu.Unlock()

	systemExpire.unregister(a)

	if cb == nil {
		return
	}
	if sync {
		cb(a)
		a.complete()
		return
	}
	systemTaskq.Dispatch(func() {
		cb(a)
		a.complete()
	})
}

func (a *Aio) complete() {
	a.mu.Lock()
	a.running--
	a.cond.Broadcast()
	a.mu.Unlock()
}

// Wait blocks until the current operation, if any, has fully
// completed, including its callback.
func (a *Aio) Wait() {
	a.mu.Lock()
	for a.busy || a.running > 0 {
		a.cond.Wait()
	}
	a.mu.Unlock()
}

// Stop forbids further operations, cancels any current one, and waits
// for its callback to return. After Stop the aio may be abandoned
// safely.
func (a *Aio) Stop() {
	a.mu.Lock()
	if a.stopErr == nil {
		a.stopErr = ErrCanceled
	}
	a.mu.Unlock()
	a.Abort(ErrCanceled)
	a.Wait()
}

// Close forbids further operations and aborts the current one with the
// closed error, without waiting; the owning object's stop path joins
// later.
func (a *Aio) Close() {
	a.mu.Lock()
	if a.stopErr == nil {
		a.stopErr = ErrClosed
	}
	a.mu.Unlock()
	a.Abort(ErrClosed)
}

// Result returns the completion error of the last operation.
func (a *Aio) Result() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Count returns the bytes transferred by the last operation.
func (a *Aio) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}

// SetMsg attaches a message for a send, or is used by a provider to
// deliver a received one.
func (a *Aio) SetMsg(m *Message) { a.msg = m }

// Msg returns the attached message.
func (a *Aio) Msg() *Message { return a.msg }

// SetOutput stores a scratch result, such as the pipe produced by a
// connect or accept.
func (a *Aio) SetOutput(v interface{}) { a.output = v }

// Output returns the scratch result.
func (a *Aio) Output() interface{} { return a.output }

// iovAdvance drops n transferred bytes from the front of the vector.
func (a *Aio) iovAdvance(n int) {
	for n > 0 && len(a.iov) > 0 {
		if n < len(a.iov[0]) {
			a.iov[0] = a.iov[0][n:]
			return
		}
		n -= len(a.iov[0])
		a.iov = a.iov[1:]
	}
}

// iovResid reports the bytes still to transfer.
func (a *Aio) iovResid() int {
	resid := 0
	for _, v := range a.iov {
		resid += len(v)
	}
	return resid
}

// aioList is a FIFO of pending aios, guarded by its owner's lock.
type aioList struct {
	q []*Aio
}

func (l *aioList) Append(a *Aio) {
	a.listed = true
	l.q = append(l.q, a)
}

func (l *aioList) Remove(a *Aio) {
	for i := range l.q {
		if l.q[i] == a {
			copy(l.q[i:], l.q[i+1:])
			l.q[len(l.q)-1] = nil
			l.q = l.q[:len(l.q)-1]
			break
		}
	}
	a.listed = false
}

func (l *aioList) First() *Aio {
	if len(l.q) == 0 {
		return nil
	}
	return l.q[0]
}

func (l *aioList) Empty() bool { return len(l.q) == 0 }

// Active reports whether a is still linked on a list, meaning no
// cancel has detached it yet.
func (l *aioList) Active(a *Aio) bool { return a.listed }
