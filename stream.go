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
	"net"
)

// Stream is an opaque bidirectional byte stream. Send and Recv consume
// the aio's iov vector and complete once at least one byte has moved
// or the stream has failed; both cooperate with aio cancellation.
// Close is idempotent and fails in-flight aios with the closed error.
type Stream interface {
	Send(*Aio)
	Recv(*Aio)
	Close() error
	LocalAddr() net.Addr
	RemoteAddr() net.Addr

	// Verified reports whether the peer authenticated itself, true only
	// for TLS streams whose certificate chain checked out.
	Verified() bool
}

// StreamDialer produces outbound streams. Dial posts the aio and on
// success stores a Stream in its output slot.
type StreamDialer interface {
	Dial(*Aio)
	Close() error
	SetOption(name string, val interface{}) error
	GetOption(name string) (interface{}, error)
}

// StreamListener binds with Listen and then produces inbound streams
// through Accept, one per posted aio.
type StreamListener interface {
	Listen() error
	Accept(*Aio)
	Close() error
	Addr() net.Addr
	SetOption(name string, val interface{}) error
	GetOption(name string) (interface{}, error)
}
