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

package main

import (
	"bufio"
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/urfave/cli"
	"github.com/xtaci/sptran"
)

// VERSION is injected by buildflags
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		// add more log flags for debugging
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "sptran"
	myApp.Usage = "client(send/echo check)"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "remoteaddr, r",
			Value: "tcp://127.0.0.1:29900",
			Usage: `server address, eg: "tcp://IP:29900", "tls+tcp://IP:29901", "kcp://IP:29902"`,
		},
		cli.IntFlag{
			Name:  "count,n",
			Value: 0,
			Usage: "number of generated messages to send and verify; 0 reads lines from stdin instead",
		},
		cli.IntFlag{
			Name:  "size",
			Value: 64,
			Usage: "generated message size in bytes",
		},
		cli.IntFlag{
			Name:  "timeout",
			Value: 10000,
			Usage: "send/recv timeout in milliseconds",
		},
		cli.IntFlag{
			Name:  "reconnmin",
			Value: 100,
			Usage: "minimum reconnect interval in milliseconds",
		},
		cli.IntFlag{
			Name:  "reconnmax",
			Value: 10000,
			Usage: "maximum reconnect interval in milliseconds",
		},
		cli.IntFlag{
			Name:  "recvmax",
			Value: 0,
			Usage: "maximum inbound message size in bytes, 0 to disable the limit",
		},
		cli.StringFlag{
			Name:  "ca",
			Value: "",
			Usage: "CA certificate file for tls+tcp dialers",
		},
		cli.StringFlag{
			Name:  "servername",
			Value: "",
			Usage: "expected server name for tls+tcp dialers",
		},
		cli.BoolFlag{
			Name:  "insecure",
			Usage: "skip certificate verification (testing only)",
		},
		cli.StringFlag{
			Name:   "key",
			Value:  "",
			Usage:  "pre-shared secret for kcp dialers",
			EnvVar: "SPTRAN_KEY",
		},
		cli.IntFlag{
			Name:  "datashard,ds",
			Value: 10,
			Usage: "set reed-solomon erasure coding - datashard (kcp)",
		},
		cli.IntFlag{
			Name:  "parityshard,ps",
			Value: 3,
			Usage: "set reed-solomon erasure coding - parityshard (kcp)",
		},
		cli.BoolFlag{
			Name:  "tcp",
			Usage: "to emulate a TCP connection for kcp (linux)",
		},
		cli.BoolFlag{
			Name:  "nocomp",
			Usage: "disable compression",
		},
		cli.StringFlag{
			Name:  "log",
			Value: "",
			Usage: "specify a log file to output, default goes to stderr",
		},
		cli.BoolFlag{
			Name:  "quiet",
			Usage: "to suppress the per-message messages",
		},
		cli.StringFlag{
			Name:  "c",
			Value: "", // when the value is not empty, the config path must exists
			Usage: "config from json file, which will override the command from shell",
		},
	}
	myApp.Action = func(c *cli.Context) error {
		config := Config{}
		config.RemoteAddr = c.String("remoteaddr")
		config.Count = c.Int("count")
		config.Size = c.Int("size")
		config.Timeout = c.Int("timeout")
		config.ReconnMin = c.Int("reconnmin")
		config.ReconnMax = c.Int("reconnmax")
		config.RecvMax = c.Int("recvmax")
		config.CA = c.String("ca")
		config.ServerName = c.String("servername")
		config.Insecure = c.Bool("insecure")
		config.Key = c.String("key")
		config.DataShard = c.Int("datashard")
		config.ParityShard = c.Int("parityshard")
		config.TCP = c.Bool("tcp")
		config.NoComp = c.Bool("nocomp")
		config.Log = c.String("log")
		config.Quiet = c.Bool("quiet")

		if c.String("c") != "" {
			err := parseJSONConfig(&config, c.String("c"))
			checkError(err)
		}

		// log redirect
		if config.Log != "" {
			f, err := os.OpenFile(config.Log, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
			checkError(err)
			defer f.Close()
			log.SetOutput(f)
		}

		log.Println("version:", VERSION)
		log.Println("remote address:", config.RemoteAddr)
		log.Println("timeout:", config.Timeout)
		log.Println("compression:", !config.NoComp)

		sock, err := sptran.Open()
		checkError(err)
		defer sock.Close()

		to := time.Duration(config.Timeout) * time.Millisecond
		checkError(sock.SetOption(sptran.OptSendTimeout, to))
		checkError(sock.SetOption(sptran.OptRecvTimeout, to))
		checkError(sock.SetOption(sptran.OptRecvMax, config.RecvMax))

		d, err := sock.NewDialer(config.RemoteAddr)
		checkError(err)
		checkError(configureDialer(d, &config))
		if err := d.Start(0); err != nil {
			checkError(errors.Wrap(err, "dialer.Start()"))
		}

		color.HiGreen("connected to %v", config.RemoteAddr)

		if config.Count > 0 {
			return runBench(sock, &config)
		}
		return runStdin(sock, &config)
	}
	myApp.Run(os.Args)
}

// runBench sends count generated messages and verifies every echo.
func runBench(sock *sptran.Socket, config *Config) error {
	payload := make([]byte, config.Size)
	for i := range payload {
		payload[i] = byte(i)
	}

	start := time.Now()
	for i := 0; i < config.Count; i++ {
		if err := sock.Send(payload, 0); err != nil {
			checkError(errors.Wrap(err, "sock.Send()"))
		}
		echo, err := sock.Recv(0)
		if err != nil {
			checkError(errors.Wrap(err, "sock.Recv()"))
		}
		if !bytes.Equal(echo, payload) {
			checkError(errors.New("echo mismatch"))
		}
		if !config.Quiet {
			log.Println("echo verified:", len(echo), "bytes")
		}
	}
	elapsed := time.Since(start)
	color.HiGreen("%d messages of %d bytes echoed in %v", config.Count, config.Size, elapsed)
	return nil
}

// runStdin ships stdin lines and prints what comes back.
func runStdin(sock *sptran.Socket, config *Config) error {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if err := sock.Send(scanner.Bytes(), 0); err != nil {
			checkError(errors.Wrap(err, "sock.Send()"))
		}
		echo, err := sock.Recv(0)
		if err != nil {
			checkError(errors.Wrap(err, "sock.Recv()"))
		}
		fmt.Println(string(echo))
	}
	return scanner.Err()
}

// configureDialer applies the transport flags matching the scheme.
func configureDialer(d sptran.Dialer, config *Config) error {
	rmin := time.Duration(config.ReconnMin) * time.Millisecond
	rmax := time.Duration(config.ReconnMax) * time.Millisecond
	if err := d.SetOption(sptran.OptReconnMin, rmin); err != nil {
		return err
	}
	if err := d.SetOption(sptran.OptReconnMax, rmax); err != nil {
		return err
	}

	scheme := schemeOf(config.RemoteAddr)
	switch scheme {
	case "tls+tcp", "tls+tcp4", "tls+tcp6":
		cfg := &tls.Config{
			ServerName:         config.ServerName,
			InsecureSkipVerify: config.Insecure,
		}
		if config.CA != "" {
			pem, err := os.ReadFile(config.CA)
			if err != nil {
				return errors.Wrap(err, "os.ReadFile(ca)")
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(pem) {
				return errors.New("no certificates found in ca file")
			}
			cfg.RootCAs = pool
		}
		if err := d.SetOption(sptran.OptTLSConfig, cfg); err != nil {
			return err
		}
	case "kcp":
		if config.Key != "" {
			if err := d.SetOption(sptran.OptKCPKey, config.Key); err != nil {
				return err
			}
		}
		if err := d.SetOption(sptran.OptKCPDataShard, config.DataShard); err != nil {
			return err
		}
		if err := d.SetOption(sptran.OptKCPParityShard, config.ParityShard); err != nil {
			return err
		}
		if config.TCP {
			if err := d.SetOption(sptran.OptKCPTCP, true); err != nil {
				return err
			}
		}
	}
	switch scheme {
	case "tcp", "tcp4", "tcp6", "tls+tcp", "tls+tcp4", "tls+tcp6", "kcp":
		if !config.NoComp {
			return d.SetOption(sptran.OptCompress, true)
		}
	}
	return nil
}

func schemeOf(addr string) string {
	for i := 0; i+2 < len(addr); i++ {
		if addr[i] == ':' && addr[i+1] == '/' && addr[i+2] == '/' {
			return addr[:i]
		}
	}
	return ""
}

func checkError(err error) {
	if err != nil {
		log.Printf("%+v\n", err)
		os.Exit(-1)
	}
}
