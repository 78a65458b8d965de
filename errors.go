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
	"errors"
	"net"
)

// timeoutError implements net.Error so callers embedding sockets behind
// net.Conn-shaped facades see a proper temporary timeout.
type timeoutError struct{}

func (timeoutError) Error() string   { return "timed out" }
func (timeoutError) Temporary() bool { return true }
func (timeoutError) Timeout() bool   { return true }

var (
	// ErrTimeout is returned when an operation's deadline expires.
	ErrTimeout net.Error = &timeoutError{}

	// ErrWouldBlock is returned by non-blocking operations that cannot
	// complete immediately.
	ErrWouldBlock = errors.New("operation would block")

	// ErrClosed is returned for operations on a closed object.
	ErrClosed = errors.New("object closed")

	// ErrCanceled is returned for operations torn down by an aio stop.
	ErrCanceled = errors.New("operation canceled")

	// ErrConnRefused is returned when the remote end refuses a dial.
	ErrConnRefused = errors.New("connection refused")

	// ErrConnShut is returned when the connection was shut down by the
	// peer, distinguishing a remote close from a local one.
	ErrConnShut = errors.New("connection shutdown")

	// ErrConnAborted is returned when the connection is torn down before
	// it is fully established.
	ErrConnAborted = errors.New("connection aborted")

	// ErrProto is returned when the peer violates the SP protocol, such
	// as sending a bad negotiation header.
	ErrProto = errors.New("protocol error")

	// ErrMsgSize is returned when an inbound frame exceeds the receive
	// maximum configured on the pipe.
	ErrMsgSize = errors.New("message too large")

	// ErrAddrInvalid is returned for URLs a transport cannot serve.
	ErrAddrInvalid = errors.New("address invalid")

	// ErrAddrInUse is returned when binding to an address already bound.
	ErrAddrInUse = errors.New("address in use")

	// ErrBadType is returned when an option value has the wrong type.
	ErrBadType = errors.New("incorrect type")

	// ErrNotSupported is returned for unknown options or schemes.
	ErrNotSupported = errors.New("not supported")

	// ErrNoEntity is returned when a handle does not resolve, including
	// a listener handle forged from a dialer id or vice versa.
	ErrNoEntity = errors.New("no such entity")

	// ErrBusy is returned when a second concurrent connect or accept is
	// posted against one endpoint.
	ErrBusy = errors.New("resource busy")

	// ErrState is returned for operations that make no sense in the
	// object's current state, like restarting a running listener.
	ErrState = errors.New("incorrect state")

	// ErrInvalid is returned for out-of-range option values.
	ErrInvalid = errors.New("invalid argument")

	// ErrPeerAuth is returned when peer certificate validation fails.
	ErrPeerAuth = errors.New("peer could not be authenticated")

	// ErrCrypto is returned for failures inside the TLS machinery.
	ErrCrypto = errors.New("cryptographic error")

	// ErrNoMemory is returned on allocation failure; accept loops treat
	// it as transient and back off.
	ErrNoMemory = errors.New("out of memory")

	// ErrNoFiles is returned when file descriptors are exhausted; accept
	// loops treat it as transient and back off.
	ErrNoFiles = errors.New("out of files")
)
