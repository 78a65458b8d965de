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

// Message is the unit moved through sockets and pipes. Header travels
// on the wire in front of Body inside a single length-prefixed frame;
// above the transport it is opaque.
//
// Ownership follows the aio that most recently accepted the message:
// the transport frees a message it sent successfully, and a received
// message belongs to whoever recv completed for.
type Message struct {
	Header []byte
	Body   []byte

	pipe *Pipe
}

// NewMessage returns a message with a zeroed body of n bytes drawn from
// the body pool.
func NewMessage(n int) *Message {
	return &Message{Body: defaultAllocator.Get(n)}
}

// Len returns the combined header and body length.
func (m *Message) Len() int {
	return len(m.Header) + len(m.Body)
}

// Pipe reports the pipe a received message arrived on, or nil for a
// locally created message.
func (m *Message) Pipe() *Pipe {
	return m.pipe
}

// Free returns the body to the pool. Using the message after Free is
// invalid.
func (m *Message) Free() {
	if m == nil {
		return
	}
	if m.Body != nil {
		defaultAllocator.Put(m.Body)
		m.Body = nil
	}
	m.Header = nil
	m.pipe = nil
}
