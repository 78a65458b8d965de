package sptran

import (
	"bytes"
	"fmt"
	"net"
	"testing"
	"time"
)

func TestCompressedStreamRoundTrip(t *testing.T) {
	left, right := net.Pipe()
	a := newConnStream(left, true)
	b := newConnStream(right, true)
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})

	payload := bytes.Repeat([]byte("compressed payload"), 64)

	tx := NewAio(nil)
	tx.SetIov([][]byte{payload})
	a.Send(tx)

	got := make([]byte, 0, len(payload))
	for len(got) < len(payload) {
		rx := NewAio(nil)
		rx.SetTimeout(5 * time.Second)
		buf := make([]byte, len(payload)-len(got))
		rx.SetIov([][]byte{buf})
		b.Recv(rx)
		rx.Wait()
		if rx.Result() != nil {
			t.Fatal("recv failed:", rx.Result())
		}
		got = append(got, buf[:rx.Count()]...)
	}

	tx.Wait()
	if tx.Result() != nil {
		t.Fatal("send failed:", tx.Result())
	}
	if !bytes.Equal(got, payload) {
		sample := got
		if len(sample) > 64 {
			sample = sample[:64]
		}
		t.Fatalf("unexpected payload prefix: %x", sample)
	}
}

func TestCompressedSocketRoundTrip(t *testing.T) {
	s1 := mustOpen(t)
	s2 := mustOpen(t)
	defer s1.Close()
	defer s2.Close()

	to := 5 * time.Second
	setOpt(t, s1, OptSendTimeout, to)
	setOpt(t, s2, OptRecvTimeout, to)

	l, err := s1.NewListener("tcp://127.0.0.1:0")
	if err != nil {
		t.Fatal("NewListener failed:", err)
	}
	if err := l.SetOption(OptCompress, true); err != nil {
		t.Fatal("compress set failed:", err)
	}
	if err := l.Start(); err != nil {
		t.Fatal("listener start failed:", err)
	}
	port, err := l.GetOption(OptBoundPort)
	if err != nil {
		t.Fatal("bound-port failed:", err)
	}

	addr := fmt.Sprintf("tcp://127.0.0.1:%d", port.(int))
	d, err := s2.NewDialer(addr)
	if err != nil {
		t.Fatal("NewDialer failed:", err)
	}
	if err := d.SetOption(OptCompress, true); err != nil {
		t.Fatal("compress set failed:", err)
	}
	if err := d.Start(0); err != nil {
		t.Fatal("dial failed:", err)
	}

	payload := bytes.Repeat([]byte("squeeze me "), 100)
	if err := s1.Send(payload, 0); err != nil {
		t.Fatal("Send failed:", err)
	}
	got, err := s2.Recv(0)
	if err != nil {
		t.Fatal("Recv failed:", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("compressed round trip corrupted the payload")
	}
}
