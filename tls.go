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
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// The TLS engine itself is crypto/tls; this file is only the glue
// attaching configs to the tcp provider and mapping its failures onto
// the transport error codes.

const tlsHandshakeTimeout = 30 * time.Second

func isTLSConfig(v interface{}) bool {
	_, ok := v.(*tls.Config)
	return ok
}

func tlsClient(ctx context.Context, conn net.Conn, cfg interface{}, host string) (net.Conn, error) {
	var c *tls.Config
	if cfg != nil {
		c = cfg.(*tls.Config).Clone()
	} else {
		c = new(tls.Config)
	}
	if c.ServerName == "" {
		c.ServerName = host
	}
	tc := tls.Client(conn, c)
	if err := tc.HandshakeContext(ctx); err != nil {
		return conn, err
	}
	return tc, nil
}

func tlsServer(conn net.Conn, cfg interface{}) (net.Conn, error) {
	var c *tls.Config
	if cfg != nil {
		c = cfg.(*tls.Config)
	} else {
		c = new(tls.Config)
	}
	tc := tls.Server(conn, c)
	ctx, cancel := context.WithTimeout(context.Background(), tlsHandshakeTimeout)
	defer cancel()
	if err := tc.HandshakeContext(ctx); err != nil {
		return nil, err
	}
	return tc, nil
}

// tlsVerified reports whether the peer presented a certificate that
// chained to a trusted root.
func tlsVerified(conn net.Conn) bool {
	tc, ok := conn.(*tls.Conn)
	if !ok {
		return false
	}
	state := tc.ConnectionState()
	if !state.HandshakeComplete {
		return false
	}
	return len(state.VerifiedChains) > 0
}

// mapTLSErr classifies a handshake failure, or returns nil for errors
// that are not TLS's business.
func mapTLSErr(err error) error {
	var cve *tls.CertificateVerificationError
	if errors.As(err, &cve) {
		return ErrPeerAuth
	}
	var uae x509.UnknownAuthorityError
	if errors.As(err, &uae) {
		return ErrPeerAuth
	}
	var hne x509.HostnameError
	if errors.As(err, &hne) {
		return ErrPeerAuth
	}
	var rhe tls.RecordHeaderError
	if errors.As(err, &rhe) {
		return ErrCrypto
	}
	// remote alerts read like "remote error: tls: bad certificate"
	if strings.Contains(err.Error(), "tls:") {
		return ErrCrypto
	}
	return nil
}
