package sptran

import (
	"bytes"
	"strconv"
	"testing"
	"time"
)

func mustOpen(t *testing.T) *Socket {
	t.Helper()
	s, err := Open()
	if err != nil {
		t.Fatal("Open failed:", err)
	}
	return s
}

func setOpt(t *testing.T, s *Socket, name string, v interface{}) {
	t.Helper()
	if err := s.SetOption(name, v); err != nil {
		t.Fatalf("SetOption(%s) failed: %v", name, err)
	}
}

func TestRecvTimeout(t *testing.T) {
	s1 := mustOpen(t)
	defer s1.Close()

	setOpt(t, s1, OptRecvTimeout, 10*time.Millisecond)
	start := time.Now()
	msg, err := s1.RecvMsg(0)
	if err != ErrTimeout {
		t.Fatal("expected timed out, got", err)
	}
	if msg != nil {
		t.Fatal("timed out recv must return a nil message")
	}
	if e := time.Since(start); e < 9*time.Millisecond || e > 500*time.Millisecond {
		t.Fatal("timeout fired at", e)
	}
}

func TestRecvNonblock(t *testing.T) {
	s1 := mustOpen(t)
	defer s1.Close()

	setOpt(t, s1, OptRecvTimeout, 10*time.Millisecond)
	start := time.Now()
	msg, err := s1.RecvMsg(FlagNonBlock)
	if err != ErrWouldBlock {
		t.Fatal("expected would-block, got", err)
	}
	if msg != nil {
		t.Fatal("non-blocking recv must return a nil message")
	}
	if e := time.Since(start); e > 500*time.Millisecond {
		t.Fatal("non-blocking recv took", e)
	}
}

func TestSendTimeout(t *testing.T) {
	s1 := mustOpen(t)
	defer s1.Close()

	setOpt(t, s1, OptSendTimeout, 100*time.Millisecond)
	start := time.Now()
	err := s1.Send([]byte{}, 0)
	if err != ErrTimeout {
		t.Fatal("expected timed out, got", err)
	}
	if e := time.Since(start); e < 9*time.Millisecond || e > 500*time.Millisecond {
		t.Fatal("timeout fired at", e)
	}
}

func TestSendNonblock(t *testing.T) {
	s1 := mustOpen(t)
	defer s1.Close()

	setOpt(t, s1, OptSendTimeout, 500*time.Millisecond)
	start := time.Now()
	err := s1.Send([]byte{}, FlagNonBlock)
	if err != ErrWouldBlock {
		t.Fatal("expected would-block, got", err)
	}
	if e := time.Since(start); e > 100*time.Millisecond {
		t.Fatal("non-blocking send took", e)
	}
}

func TestSocketBase(t *testing.T) {
	s1 := mustOpen(t)
	defer s1.Close()

	if err := s1.SetOption("BAD_OPT", false); err != ErrNotSupported {
		t.Fatal("bogus option must be unsupported, got", err)
	}
	if _, err := s1.GetOption("BAD_OPT"); err != ErrNotSupported {
		t.Fatal("bogus option must be unsupported, got", err)
	}
}

func TestSendRecv(t *testing.T) {
	s1 := mustOpen(t)
	s2 := mustOpen(t)
	defer s1.Close()
	defer s2.Close()

	addr := "inproc://t1"
	to := 3000 * time.Millisecond

	setOpt(t, s1, OptRecvBuf, 1)
	if v, err := s1.GetOption(OptRecvBuf); err != nil || v.(int) != 1 {
		t.Fatal("recv-buf readback mismatch:", v, err)
	}
	setOpt(t, s1, OptSendBuf, 1)
	setOpt(t, s2, OptSendBuf, 1)
	setOpt(t, s1, OptSendTimeout, to)
	setOpt(t, s1, OptRecvTimeout, to)
	setOpt(t, s2, OptSendTimeout, to)
	setOpt(t, s2, OptRecvTimeout, to)

	if _, err := s1.Listen(addr); err != nil {
		t.Fatal("Listen failed:", err)
	}
	if _, err := s2.Dial(addr, 0); err != nil {
		t.Fatal("Dial failed:", err)
	}

	if err := s1.Send([]byte("abc\x00"), 0); err != nil {
		t.Fatal("Send failed:", err)
	}
	buf, err := s2.Recv(0)
	if err != nil {
		t.Fatal("Recv failed:", err)
	}
	if !bytes.Equal(buf, []byte("abc\x00")) {
		t.Fatalf("received %q", buf)
	}
}

func TestSendRecvZeroLength(t *testing.T) {
	s1 := mustOpen(t)
	s2 := mustOpen(t)
	defer s1.Close()
	defer s2.Close()

	addr := "inproc://send-recv-zero-length"
	to := 3000 * time.Millisecond

	setOpt(t, s1, OptRecvBuf, 1)
	setOpt(t, s1, OptSendBuf, 1)
	setOpt(t, s2, OptSendBuf, 1)
	setOpt(t, s1, OptSendTimeout, to)
	setOpt(t, s1, OptRecvTimeout, to)
	setOpt(t, s2, OptSendTimeout, to)
	setOpt(t, s2, OptRecvTimeout, to)

	if _, err := s1.Listen(addr); err != nil {
		t.Fatal("Listen failed:", err)
	}
	if _, err := s2.Dial(addr, 0); err != nil {
		t.Fatal("Dial failed:", err)
	}

	if err := s1.Send([]byte{}, 0); err != nil {
		t.Fatal("Send failed:", err)
	}
	buf, err := s2.Recv(0)
	if err != nil {
		t.Fatal("Recv failed:", err)
	}
	if len(buf) != 0 {
		t.Fatal("zero-length message grew to", len(buf))
	}
}

func TestConnectionRefused(t *testing.T) {
	s1 := mustOpen(t)
	defer s1.Close()

	if _, err := s1.Dial("inproc://no", 0); err != ErrConnRefused {
		t.Fatal("expected connection refused, got", err)
	}
}

func TestLateConnection(t *testing.T) {
	s1 := mustOpen(t)
	s2 := mustOpen(t)
	defer s1.Close()
	defer s2.Close()

	addr := "inproc://asy"
	setOpt(t, s1, OptReconnMin, 10*time.Millisecond)
	setOpt(t, s1, OptReconnMax, 10*time.Millisecond)

	if _, err := s1.Dial(addr, FlagNonBlock); err != nil {
		t.Fatal("non-blocking dial failed:", err)
	}
	if _, err := s2.Listen(addr); err != nil {
		t.Fatal("Listen failed:", err)
	}
	time.Sleep(100 * time.Millisecond)

	setOpt(t, s1, OptSendTimeout, time.Second)
	setOpt(t, s2, OptRecvTimeout, time.Second)
	if err := s1.Send([]byte("abc\x00"), 0); err != nil {
		t.Fatal("Send failed:", err)
	}
	buf, err := s2.Recv(0)
	if err != nil {
		t.Fatal("Recv failed:", err)
	}
	if !bytes.Equal(buf, []byte("abc\x00")) {
		t.Fatalf("received %q", buf)
	}
}

func TestAddressBusy(t *testing.T) {
	s1 := mustOpen(t)
	s2 := mustOpen(t)
	defer s1.Close()
	defer s2.Close()

	addr := "inproc://eaddrinuse"
	l, err := s1.Listen(addr)
	if err != nil {
		t.Fatal("Listen failed:", err)
	}
	if l.ID == 0 {
		t.Fatal("listener id not assigned")
	}

	// cannot start another one
	if _, err := s1.Listen(addr); err != ErrAddrInUse {
		t.Fatal("expected address in use, got", err)
	}

	// cannot restart it either, it is already running
	if err := l.Start(); err != ErrState {
		t.Fatal("expected state error, got", err)
	}

	// but we can connect to it
	d, err := s2.Dial(addr, 0)
	if err != nil {
		t.Fatal("Dial failed:", err)
	}
	if d.ID == 0 {
		t.Fatal("dialer id not assigned")
	}
}

func TestEndpointTypes(t *testing.T) {
	s1 := mustOpen(t)
	defer s1.Close()

	addr := "inproc://mumble..."
	d, err := s1.NewDialer(addr)
	if err != nil {
		t.Fatal("NewDialer failed:", err)
	}
	if d.ID == 0 {
		t.Fatal("dialer id not assigned")
	}

	// forge a listener
	l2 := Listener{ID: d.ID}
	if err := l2.Close(); err != ErrNoEntity {
		t.Fatal("forged listener close must fail with no-entity, got", err)
	}
	if err := d.Close(); err != nil {
		t.Fatal("dialer close failed:", err)
	}

	l, err := s1.NewListener(addr)
	if err != nil {
		t.Fatal("NewListener failed:", err)
	}
	if l.ID == 0 {
		t.Fatal("listener id not assigned")
	}

	// forge a dialer
	d2 := Dialer{ID: l.ID}
	if err := d2.Close(); err != ErrNoEntity {
		t.Fatal("forged dialer close must fail with no-entity, got", err)
	}
	if err := l.Close(); err != nil {
		t.Fatal("listener close failed:", err)
	}
}

func TestBadURL(t *testing.T) {
	s1 := mustOpen(t)
	defer s1.Close()

	if _, err := s1.Dial("bogus://1", 0); err != ErrNotSupported {
		t.Fatal("bogus dial scheme must be unsupported, got", err)
	}
	if _, err := s1.Listen("bogus://2"); err != ErrNotSupported {
		t.Fatal("bogus listen scheme must be unsupported, got", err)
	}
}

func TestEndpointURL(t *testing.T) {
	s1 := mustOpen(t)
	defer s1.Close()

	l, err := s1.NewListener("inproc://url1")
	if err != nil {
		t.Fatal("NewListener failed:", err)
	}
	if u, err := l.GetOption(OptURL); err != nil || u.(string) != "inproc://url1" {
		t.Fatal("listener url mismatch:", u, err)
	}

	d, err := s1.NewDialer("inproc://url2")
	if err != nil {
		t.Fatal("NewDialer failed:", err)
	}
	if u, err := d.GetOption(OptURL); err != nil || u.(string) != "inproc://url2" {
		t.Fatal("dialer url mismatch:", u, err)
	}
}

func TestListenerOptions(t *testing.T) {
	s1 := mustOpen(t)
	defer s1.Close()

	l, err := s1.NewListener("inproc://listener_opts")
	if err != nil {
		t.Fatal("NewListener failed:", err)
	}
	if err := l.SetOption(OptRecvMax, 678); err != nil {
		t.Fatal("recv-max set failed:", err)
	}
	if v, err := l.GetOption(OptRecvMax); err != nil || v.(int) != 678 {
		t.Fatal("recv-max readback mismatch:", v, err)
	}

	// cannot set invalid options
	if err := l.SetOption("BAD_OPT", 1); err != ErrNotSupported {
		t.Fatal("bogus option must be unsupported, got", err)
	}
	if err := l.SetOption(OptRecvMax, true); err != ErrBadType {
		t.Fatal("wrong type must be bad-type, got", err)
	}

	// cannot set inappropriate options
	if err := l.SetOption(OptReconnMin, time.Millisecond); err != ErrNotSupported {
		t.Fatal("reconnect on a listener must be unsupported, got", err)
	}
}

func TestDialerOptions(t *testing.T) {
	s1 := mustOpen(t)
	defer s1.Close()

	d, err := s1.NewDialer("inproc://dialer_opts")
	if err != nil {
		t.Fatal("NewDialer failed:", err)
	}
	if err := d.SetOption(OptRecvMax, 678); err != nil {
		t.Fatal("recv-max set failed:", err)
	}
	if v, err := d.GetOption(OptRecvMax); err != nil || v.(int) != 678 {
		t.Fatal("recv-max readback mismatch:", v, err)
	}

	// cannot set invalid options
	if err := d.SetOption("BAD_OPT", 1); err != ErrNotSupported {
		t.Fatal("bogus option must be unsupported, got", err)
	}
	if err := d.SetOption(OptRecvMax, true); err != ErrBadType {
		t.Fatal("wrong type must be bad-type, got", err)
	}

	// cannot set inappropriate options
	if err := d.SetOption(OptSendTimeout, time.Millisecond); err != ErrNotSupported {
		t.Fatal("send-timeout on a dialer must be unsupported, got", err)
	}
}

func TestEndpointAbsentOptions(t *testing.T) {
	d := Dialer{ID: 1999999}
	l := Listener{ID: 1999999}

	if err := d.SetOption(OptRecvMax, 10); err != ErrNoEntity {
		t.Fatal("expected no-entity, got", err)
	}
	if err := l.SetOption(OptRecvMax, 10); err != ErrNoEntity {
		t.Fatal("expected no-entity, got", err)
	}
	if _, err := d.GetOption(OptRecvMax); err != ErrNoEntity {
		t.Fatal("expected no-entity, got", err)
	}
	if _, err := l.GetOption(OptRecvMax); err != ErrNoEntity {
		t.Fatal("expected no-entity, got", err)
	}
	if _, err := d.GetOption(OptReconnMin); err != ErrNoEntity {
		t.Fatal("expected no-entity, got", err)
	}
	if _, err := l.GetOption(OptURL); err != ErrNoEntity {
		t.Fatal("expected no-entity, got", err)
	}
}

func TestTimeoutOptions(t *testing.T) {
	s1 := mustOpen(t)
	defer s1.Close()

	cases := []string{
		OptRecvTimeout,
		OptSendTimeout,
		OptReconnMax,
		OptReconnMin,
	}
	for _, name := range cases {
		// type mismatches
		if err := s1.SetOption(name, true); err != ErrBadType {
			t.Fatal(name, "wrong type must be bad-type, got", err)
		}

		// can set a valid duration
		setOpt(t, s1, name, 1234*time.Millisecond)
		if v, err := s1.GetOption(name); err != nil || v.(time.Duration) != 1234*time.Millisecond {
			t.Fatal(name, "readback mismatch:", v, err)
		}

		// can't set a negative duration
		if err := s1.SetOption(name, -5*time.Millisecond); err != ErrInvalid {
			t.Fatal(name, "negative duration must be invalid, got", err)
		}

		// the infinite sentinel still works
		setOpt(t, s1, name, TimeoutInfinite)
	}
}

func TestSizeOptions(t *testing.T) {
	s1 := mustOpen(t)
	defer s1.Close()

	setOpt(t, s1, OptRecvMax, 1234)
	if v, err := s1.GetOption(OptRecvMax); err != nil || v.(int) != 1234 {
		t.Fatal("recv-max readback mismatch:", v, err)
	}

	// the limit is capped at 4GB; only expressible on 64-bit
	if strconv.IntSize == 64 {
		big := int(maxRecvMax)
		if err := s1.SetOption(OptRecvMax, big); err != ErrInvalid {
			t.Fatal("4GiB recv-max must be invalid, got", err)
		}
		if v, _ := s1.GetOption(OptRecvMax); v.(int) != 1234 {
			t.Fatal("failed set must leave the value unchanged, got", v)
		}
	}
}
