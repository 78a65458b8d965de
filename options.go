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
	"math"
	"time"
)

// Option names. Values are dynamically typed; each consumer validates
// the concrete type and range, so a wrong type is ErrBadType and an
// out-of-range value ErrInvalid regardless of where the option lands.
const (
	OptRecvTimeout = "recv-timeout"  // time.Duration
	OptSendTimeout = "send-timeout"  // time.Duration
	OptRecvBuf     = "recv-buf"      // int, message count
	OptSendBuf     = "send-buf"      // int, message count
	OptRecvMax     = "recv-max"      // int, bytes, 0 means unlimited
	OptReconnMin   = "reconnect-min" // time.Duration
	OptReconnMax   = "reconnect-max" // time.Duration
	OptTLSConfig   = "tls-config"    // *tls.Config
	OptCompress    = "compress"      // bool
	OptBoundPort   = "bound-port"    // int, read only
	OptURL         = "url"           // string, read only

	OptKCPKey         = "kcp-key"          // string, pre-shared secret
	OptKCPDataShard   = "kcp-data-shard"   // int
	OptKCPParityShard = "kcp-parity-shard" // int
	OptKCPTCP         = "kcp-tcp"          // bool, faked TCP, linux
)

// TimeoutInfinite disables a timeout; it is the only negative duration
// the duration options accept.
const TimeoutInfinite = time.Duration(-1)

// maxRecvMax caps recv-max at 4 GiB where int is wide enough to
// express more.
const maxRecvMax = int64(1) << 32

// copyinDuration validates a duration option value.
func copyinDuration(v interface{}) (time.Duration, error) {
	d, ok := v.(time.Duration)
	if !ok {
		return 0, ErrBadType
	}
	if d < 0 && d != TimeoutInfinite {
		return 0, ErrInvalid
	}
	return d, nil
}

// copyinInt validates an integer option value with a floor.
func copyinInt(v interface{}, min int) (int, error) {
	n, ok := v.(int)
	if !ok {
		return 0, ErrBadType
	}
	if n < min {
		return 0, ErrInvalid
	}
	return n, nil
}

// copyinSize validates a byte-size option value. Sizes of 4 GiB and up
// are rejected on platforms whose int can hold them.
func copyinSize(v interface{}) (int, error) {
	n, ok := v.(int)
	if !ok {
		return 0, ErrBadType
	}
	if n < 0 {
		return 0, ErrInvalid
	}
	if math.MaxInt64 == math.MaxInt && int64(n) >= maxRecvMax {
		return 0, ErrInvalid
	}
	return n, nil
}
