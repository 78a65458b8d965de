package sptran

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestAioCompletion(t *testing.T) {
	done := make(chan struct{})
	var count int32
	a := NewAio(func(a *Aio) {
		atomic.AddInt32(&count, 1)
		close(done)
	})

	if !a.Begin() {
		t.Fatal("Begin refused a fresh aio")
	}
	if err := a.Schedule(func(*Aio, interface{}, error) {}, nil); err != nil {
		t.Fatal("Schedule failed:", err)
	}
	a.Finish(nil, 42)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("completion callback never ran")
	}
	a.Wait()
	if a.Result() != nil || a.Count() != 42 {
		t.Fatal("unexpected result:", a.Result(), a.Count())
	}
	if atomic.LoadInt32(&count) != 1 {
		t.Fatal("callback ran more than once")
	}
}

func TestAioWaitStyle(t *testing.T) {
	a := NewAio(nil)
	if !a.Begin() {
		t.Fatal("Begin refused a fresh aio")
	}
	go func() {
		time.Sleep(10 * time.Millisecond)
		a.Finish(ErrConnShut, 7)
	}()
	a.Wait()
	if a.Result() != ErrConnShut || a.Count() != 7 {
		t.Fatal("unexpected result:", a.Result(), a.Count())
	}
}

func TestAioAbortBeforeSchedule(t *testing.T) {
	a := NewAio(nil)
	if !a.Begin() {
		t.Fatal("Begin refused a fresh aio")
	}
	a.Abort(ErrCanceled)
	rv := a.Schedule(func(*Aio, interface{}, error) {
		t.Error("cancel routine must not run for a pre-schedule abort")
	}, nil)
	if rv != ErrCanceled {
		t.Fatal("expected pre-schedule abort to fail Schedule, got", rv)
	}
	a.Finish(rv, 0)
	a.Wait()
}

func TestAioAbortRunsCancel(t *testing.T) {
	a := NewAio(nil)
	if !a.Begin() {
		t.Fatal("Begin refused a fresh aio")
	}
	if err := a.Schedule(func(a *Aio, _ interface{}, err error) {
		a.Finish(err, 0)
	}, nil); err != nil {
		t.Fatal("Schedule failed:", err)
	}
	a.Abort(ErrClosed)
	a.Wait()
	if a.Result() != ErrClosed {
		t.Fatal("expected abort error, got", a.Result())
	}
}

func TestAioTimeout(t *testing.T) {
	a := NewAio(nil)
	if err := a.SetTimeout(-time.Millisecond); err != ErrInvalid {
		t.Fatal("negative timeout must be rejected, got", err)
	}
	if err := a.SetTimeout(20 * time.Millisecond); err != nil {
		t.Fatal("SetTimeout failed:", err)
	}
	if !a.Begin() {
		t.Fatal("Begin refused a fresh aio")
	}
	start := time.Now()
	if err := a.Schedule(func(a *Aio, _ interface{}, err error) {
		a.Finish(err, 0)
	}, nil); err != nil {
		t.Fatal("Schedule failed:", err)
	}
	a.Wait()
	if a.Result() != ErrTimeout {
		t.Fatal("expected timeout, got", a.Result())
	}
	if e := time.Since(start); e < 15*time.Millisecond || e > 500*time.Millisecond {
		t.Fatal("timeout fired at", e)
	}
}

func TestAioNonblock(t *testing.T) {
	a := NewAio(nil)
	a.setNonblock()
	if !a.Begin() {
		t.Fatal("Begin refused a fresh aio")
	}
	rv := a.Schedule(func(*Aio, interface{}, error) {}, nil)
	if rv != ErrWouldBlock {
		t.Fatal("expected would-block, got", rv)
	}
	a.Finish(rv, 0)
	a.Wait()
}

func TestAioStopJoins(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var finished int32
	a := NewAio(func(a *Aio) {
		close(entered)
		<-release
		atomic.StoreInt32(&finished, 1)
	})
	if !a.Begin() {
		t.Fatal("Begin refused a fresh aio")
	}
	if err := a.Schedule(func(a *Aio, _ interface{}, err error) {
		a.Finish(err, 0)
	}, nil); err != nil {
		t.Fatal("Schedule failed:", err)
	}
	a.Finish(nil, 0)
	<-entered

	stopped := make(chan struct{})
	go func() {
		a.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("Stop returned while the callback was still running")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	<-stopped
	if atomic.LoadInt32(&finished) != 1 {
		t.Fatal("Stop returned before the callback finished")
	}
	if a.Begin() {
		t.Fatal("Begin must refuse a stopped aio")
	}
}

func TestSleepAio(t *testing.T) {
	a := NewAio(nil)
	start := time.Now()
	sleepAio(20*time.Millisecond, a)
	a.Wait()
	if a.Result() != nil {
		t.Fatal("sleep completed with error:", a.Result())
	}
	if e := time.Since(start); e < 15*time.Millisecond {
		t.Fatal("sleep returned early after", e)
	}
}
