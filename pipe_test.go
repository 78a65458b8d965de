package sptran

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"testing"
	"time"
)

// transportPair negotiates one pipe pair over loopback TCP.
func transportPair(t *testing.T, rcvmax int64) (dialed, accepted *Pipe, cleanup func()) {
	t.Helper()
	u, err := ParseURL("tcp://127.0.0.1:0")
	if err != nil {
		t.Fatal("ParseURL failed:", err)
	}

	lep, err := newListenerEndpoint(u, 0x10)
	if err != nil {
		t.Fatal("listener endpoint failed:", err)
	}
	lep.setRcvmax(rcvmax)
	if err := lep.bind(); err != nil {
		t.Fatal("bind failed:", err)
	}
	port, err := lep.listener.GetOption(OptBoundPort)
	if err != nil {
		t.Fatal("bound-port failed:", err)
	}

	acceptAio := NewAio(nil)
	lep.Accept(acceptAio)

	du, err := ParseURL(fmt.Sprintf("tcp://127.0.0.1:%d", port.(int)))
	if err != nil {
		t.Fatal("ParseURL failed:", err)
	}
	dep, err := newDialerEndpoint(du, 0x10)
	if err != nil {
		t.Fatal("dialer endpoint failed:", err)
	}
	dialAio := NewAio(nil)
	dep.Connect(dialAio)

	dialAio.Wait()
	acceptAio.Wait()
	if dialAio.Result() != nil {
		t.Fatal("connect failed:", dialAio.Result())
	}
	if acceptAio.Result() != nil {
		t.Fatal("accept failed:", acceptAio.Result())
	}

	dialed = dialAio.Output().(*Pipe)
	accepted = acceptAio.Output().(*Pipe)
	cleanup = func() {
		dialed.Close()
		accepted.Close()
		dep.close()
		dep.release()
		lep.close()
		lep.release()
		systemReaper.drain()
	}
	return dialed, accepted, cleanup
}

func sendOn(t *testing.T, p *Pipe, body []byte) error {
	t.Helper()
	m := NewMessage(len(body))
	copy(m.Body, body)
	a := NewAio(nil)
	a.SetMsg(m)
	p.Send(a)
	a.Wait()
	return a.Result()
}

func recvOn(t *testing.T, p *Pipe, timeout time.Duration) (*Message, error) {
	t.Helper()
	a := NewAio(nil)
	if timeout > 0 {
		a.SetTimeout(timeout)
	}
	p.Recv(a)
	a.Wait()
	if err := a.Result(); err != nil {
		return nil, err
	}
	return a.Msg(), nil
}

func TestPipeNegotiatedPeer(t *testing.T) {
	dialed, accepted, cleanup := transportPair(t, 0)
	defer cleanup()

	if dialed.Peer() != 0x10 || accepted.Peer() != 0x10 {
		t.Fatal("peer ids:", dialed.Peer(), accepted.Peer())
	}
}

func TestPipeRoundTrip(t *testing.T) {
	dialed, accepted, cleanup := transportPair(t, 0)
	defer cleanup()

	for _, body := range [][]byte{
		[]byte("hello"),
		{},
		bytes.Repeat([]byte{0xA5}, 70000), // bigger than one pooled buffer
	} {
		// post the receive first so a large send has a drain
		ra := NewAio(nil)
		ra.SetTimeout(5 * time.Second)
		accepted.Recv(ra)

		if err := sendOn(t, dialed, body); err != nil {
			t.Fatal("send failed:", err)
		}
		ra.Wait()
		if ra.Result() != nil {
			t.Fatal("recv failed:", ra.Result())
		}
		m := ra.Msg()
		if !bytes.Equal(m.Body, body) {
			t.Fatalf("len %d received as len %d", len(body), len(m.Body))
		}
		if m.Pipe() != accepted {
			t.Fatal("message not tagged with its pipe")
		}
		m.Free()
	}
}

func TestPipeOrdering(t *testing.T) {
	dialed, accepted, cleanup := transportPair(t, 0)
	defer cleanup()

	const n = 100
	go func() {
		for i := 0; i < n; i++ {
			body := []byte{byte(i), byte(i >> 8)}
			sendOn(t, dialed, body)
		}
	}()
	for i := 0; i < n; i++ {
		m, err := recvOn(t, accepted, 5*time.Second)
		if err != nil {
			t.Fatal("recv failed at", i, ":", err)
		}
		if got := int(m.Body[0]) | int(m.Body[1])<<8; got != i {
			t.Fatal("out of order: want", i, "got", got)
		}
		m.Free()
	}
}

func TestFramingBoundary(t *testing.T) {
	const limit = 4096
	dialed, accepted, cleanup := transportPair(t, limit)
	defer cleanup()

	// exactly at the ceiling is fine
	if err := sendOn(t, dialed, make([]byte, limit)); err != nil {
		t.Fatal("send at recv-max failed:", err)
	}
	m, err := recvOn(t, accepted, 5*time.Second)
	if err != nil {
		t.Fatal("recv at recv-max failed:", err)
	}
	if len(m.Body) != limit {
		t.Fatal("short message:", len(m.Body))
	}
	m.Free()

	// one past the ceiling kills the pipe
	if err := sendOn(t, dialed, make([]byte, limit+1)); err != nil {
		t.Fatal("oversize send failed locally:", err)
	}
	if _, err := recvOn(t, accepted, 5*time.Second); err != ErrMsgSize {
		t.Fatal("expected message-too-large, got", err)
	}
}

// rawServer accepts one TCP conn and runs fn on it.
func rawServer(t *testing.T, fn func(net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal("raw listen failed:", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		fn(conn)
	}()
	return fmt.Sprintf("tcp://%s", ln.Addr().String())
}

func TestNegotiationRejection(t *testing.T) {
	addr := rawServer(t, func(conn net.Conn) {
		defer conn.Close()
		hdr := make([]byte, 8)
		if _, err := io.ReadFull(conn, hdr); err != nil {
			return
		}
		// right length, wrong magic
		bad := []byte{0xFF, 'S', 'P', 0, 0x00, 0x10, 0, 0}
		conn.Write(bad)
		// linger so the error is the header, not a hangup
		time.Sleep(time.Second)
	})

	s := mustOpen(t)
	defer s.Close()
	if _, err := s.Dial(addr, 0); err != ErrProto {
		t.Fatal("expected protocol error, got", err)
	}
}

func TestNegotiationHangup(t *testing.T) {
	addr := rawServer(t, func(conn net.Conn) {
		conn.Close()
	})

	s := mustOpen(t)
	defer s.Close()
	if _, err := s.Dial(addr, 0); err != ErrConnShut {
		t.Fatal("expected connection shutdown, got", err)
	}
}

func TestNegotiationWireFormat(t *testing.T) {
	ch := make(chan []byte, 1)
	addr := rawServer(t, func(conn net.Conn) {
		defer conn.Close()
		hdr := make([]byte, 8)
		if _, err := io.ReadFull(conn, hdr); err != nil {
			return
		}
		ch <- hdr
	})

	s := mustOpen(t)
	defer s.Close()
	s.Dial(addr, 0) // fails, the raw server hangs up after reading

	select {
	case hdr := <-ch:
		want := []byte{0, 'S', 'P', 0, 0, 0, 0, 0}
		binary.BigEndian.PutUint16(want[4:], 0x10)
		if !bytes.Equal(hdr, want) {
			t.Fatalf("negotiation header %x, want %x", hdr, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no negotiation header arrived")
	}
}
