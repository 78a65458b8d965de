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
	"strconv"
	"strings"
)

// URL is the restrictive address grammar the transports accept:
// scheme://host:port with an optional trailing slash, or
// inproc://name. Userinfo, query strings and fragments are rejected
// outright.
type URL struct {
	Scheme   string
	Host     string // host:port as given
	Hostname string
	Port     int
	Path     string
	Name     string // inproc rendezvous name

	raw string
}

func (u *URL) String() string { return u.raw }

// ParseURL validates addr against the transport grammar.
func ParseURL(addr string) (*URL, error) {
	i := strings.Index(addr, "://")
	if i <= 0 {
		return nil, ErrAddrInvalid
	}
	u := &URL{Scheme: addr[:i], raw: addr}
	rest := addr[i+3:]

	if strings.ContainsAny(rest, "#?") {
		return nil, ErrAddrInvalid
	}

	if u.Scheme == "inproc" {
		if rest == "" {
			return nil, ErrAddrInvalid
		}
		u.Name = rest
		return u, nil
	}

	if j := strings.IndexByte(rest, '/'); j >= 0 {
		u.Path = rest[j:]
		rest = rest[:j]
	}
	if u.Path != "" && u.Path != "/" {
		return nil, ErrAddrInvalid
	}
	if strings.ContainsRune(rest, '@') {
		return nil, ErrAddrInvalid
	}

	host, portstr, err := net.SplitHostPort(rest)
	if err != nil {
		// a bare hostname is fine to parse; transports that need a
		// port reject it themselves
		if strings.Contains(rest, ":") && !strings.Contains(rest, "[") {
			return nil, ErrAddrInvalid
		}
		host, portstr = rest, ""
	}
	port := 0
	if portstr != "" {
		port, err = strconv.Atoi(portstr)
		if err != nil || port < 0 || port > 65535 {
			return nil, ErrAddrInvalid
		}
	}
	u.Host = rest
	u.Hostname = host
	u.Port = port
	return u, nil
}
