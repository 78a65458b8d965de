package sptran

import (
	"testing"
	"time"
)

func TestMsgQueueRendezvous(t *testing.T) {
	mq := newMsgQueue(0)

	get := NewAio(nil)
	mq.getAio(get)

	m := NewMessage(3)
	copy(m.Body, "abc")
	put := NewAio(nil)
	put.SetMsg(m)
	mq.putAio(put)

	put.Wait()
	get.Wait()
	if put.Result() != nil || get.Result() != nil {
		t.Fatal("rendezvous failed:", put.Result(), get.Result())
	}
	if got := get.Msg(); got != m {
		t.Fatal("message did not move through the queue")
	}
}

func TestMsgQueueBuffered(t *testing.T) {
	mq := newMsgQueue(1)

	put := NewAio(nil)
	put.SetMsg(NewMessage(1))
	mq.putAio(put)
	put.Wait()
	if put.Result() != nil {
		t.Fatal("buffered put failed:", put.Result())
	}

	// the bound is one message; a second put waits
	put2 := NewAio(nil)
	put2.setNonblock()
	put2.SetMsg(NewMessage(1))
	mq.putAio(put2)
	put2.Wait()
	if put2.Result() != ErrWouldBlock {
		t.Fatal("expected would-block, got", put2.Result())
	}

	get := NewAio(nil)
	mq.getAio(get)
	get.Wait()
	if get.Result() != nil || get.Msg() == nil {
		t.Fatal("get failed:", get.Result())
	}
}

func TestMsgQueuePutTimeout(t *testing.T) {
	mq := newMsgQueue(0)
	m := NewMessage(1)

	put := NewAio(nil)
	put.SetTimeout(20 * time.Millisecond)
	put.SetMsg(m)
	mq.putAio(put)
	put.Wait()
	if put.Result() != ErrTimeout {
		t.Fatal("expected timeout, got", put.Result())
	}
	// the message stayed with the caller
	if put.Msg() != m {
		t.Fatal("queue stole the message on failure")
	}
}

func TestMsgQueueResizeReleasesPut(t *testing.T) {
	mq := newMsgQueue(0)

	put := NewAio(nil)
	put.SetMsg(NewMessage(1))
	mq.putAio(put)

	mq.resize(1)
	put.Wait()
	if put.Result() != nil {
		t.Fatal("resize did not admit the waiting put:", put.Result())
	}
}

func TestMsgQueueClose(t *testing.T) {
	mq := newMsgQueue(0)

	get := NewAio(nil)
	mq.getAio(get)
	mq.close()
	get.Wait()
	if get.Result() != ErrClosed {
		t.Fatal("expected closed, got", get.Result())
	}

	put := NewAio(nil)
	put.SetMsg(NewMessage(1))
	mq.putAio(put)
	put.Wait()
	if put.Result() != ErrClosed {
		t.Fatal("expected closed after close, got", put.Result())
	}
}
