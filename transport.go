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

import "strings"

// transport binds a URL scheme to its stream provider constructors.
type transport struct {
	newDialer   func(u *URL) (StreamDialer, error)
	newListener func(u *URL) (StreamListener, error)
}

var transports = map[string]*transport{}

func init() {
	for _, e := range []struct {
		scheme  string
		network string
		useTLS  bool
	}{
		{"tcp", "tcp", false},
		{"tcp4", "tcp4", false},
		{"tcp6", "tcp6", false},
		{"tls+tcp", "tcp", true},
		{"tls+tcp4", "tcp4", true},
		{"tls+tcp6", "tcp6", true},
	} {
		network, useTLS := e.network, e.useTLS
		transports[e.scheme] = &transport{
			newDialer: func(u *URL) (StreamDialer, error) {
				if u.Hostname == "" || u.Port == 0 {
					return nil, ErrAddrInvalid
				}
				d := newTCPDialer(network, u.Host)
				d.useTLS = useTLS
				return d, nil
			},
			newListener: func(u *URL) (StreamListener, error) {
				l, err := newTCPListener(network, u.Host)
				if err != nil {
					return nil, err
				}
				l.useTLS = useTLS
				return l, nil
			},
		}
	}

	transports["inproc"] = &transport{
		newDialer: func(u *URL) (StreamDialer, error) {
			return &inprocDialer{name: u.Name}, nil
		},
		newListener: func(u *URL) (StreamListener, error) {
			return &inprocListener{name: u.Name}, nil
		},
	}

	transports["kcp"] = &transport{
		newDialer: func(u *URL) (StreamDialer, error) {
			if u.Hostname == "" || u.Port == 0 {
				return nil, ErrAddrInvalid
			}
			return newKCPDialer(u.Host), nil
		},
		newListener: func(u *URL) (StreamListener, error) {
			return newKCPListener(u.Host), nil
		},
	}
}

// lookupTransport resolves a scheme; unknown schemes are unsupported
// rather than invalid, matching the user-facing dial/listen surface,
// except a tls+tcp scheme with an unknown address family suffix,
// which is an invalid address.
func lookupTransport(scheme string) (*transport, error) {
	t := transports[scheme]
	if t == nil {
		if strings.HasPrefix(scheme, "tls+tcp") {
			return nil, ErrAddrInvalid
		}
		return nil, ErrNotSupported
	}
	return t, nil
}
