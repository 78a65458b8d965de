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

// Protocol identifies the SP protocol a socket speaks; the 16-bit
// number travels in the negotiation header. The rich pattern semantics
// (req/rep distribution, pub/sub filtering) live above this layer; a
// socket here moves messages between its buffers and every pipe it
// owns, which is exactly the pair pattern.
type Protocol interface {
	Number() uint16
	Name() string
}

type pairProto struct{}

func (pairProto) Number() uint16 { return 0x10 }
func (pairProto) Name() string   { return "pair" }

// Pair is the protocol sockets speak unless told otherwise.
var Pair Protocol = pairProto{}
