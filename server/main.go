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
	"crypto/tls"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"

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
	myApp.Usage = "server(echo)"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "listen,l",
			Value: "tcp://:29900",
			Usage: `listen address, eg: "tcp://:29900", "tls+tcp://:29901", "kcp://:29902", "inproc://echo"`,
		},
		cli.IntFlag{
			Name:  "recvmax",
			Value: 0,
			Usage: "maximum inbound message size in bytes, 0 to disable the limit",
		},
		cli.IntFlag{
			Name:  "recvbuf",
			Value: 128,
			Usage: "receive buffer depth in messages",
		},
		cli.IntFlag{
			Name:  "sendbuf",
			Value: 128,
			Usage: "send buffer depth in messages",
		},
		cli.StringFlag{
			Name:  "tlscert",
			Value: "",
			Usage: "certificate file for tls+tcp listeners",
		},
		cli.StringFlag{
			Name:  "tlskey",
			Value: "",
			Usage: "private key file for tls+tcp listeners",
		},
		cli.StringFlag{
			Name:   "key",
			Value:  "",
			Usage:  "pre-shared secret for kcp listeners",
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
		cli.BoolFlag{
			Name:  "pprof",
			Usage: "start profiling server on :6060",
		},
		cli.StringFlag{
			Name:  "c",
			Value: "", // when the value is not empty, the config path must exists
			Usage: "config from json file, which will override the command from shell",
		},
	}
	myApp.Action = func(c *cli.Context) error {
		config := Config{}
		config.Listen = c.String("listen")
		config.RecvMax = c.Int("recvmax")
		config.RecvBuf = c.Int("recvbuf")
		config.SendBuf = c.Int("sendbuf")
		config.TLSCert = c.String("tlscert")
		config.TLSKey = c.String("tlskey")
		config.Key = c.String("key")
		config.DataShard = c.Int("datashard")
		config.ParityShard = c.Int("parityshard")
		config.TCP = c.Bool("tcp")
		config.NoComp = c.Bool("nocomp")
		config.Log = c.String("log")
		config.Quiet = c.Bool("quiet")
		config.Pprof = c.Bool("pprof")

		if c.String("c") != "" {
			//Now only support json config file
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
		log.Println("listening on:", config.Listen)
		log.Println("recvmax:", config.RecvMax)
		log.Println("recvbuf:", config.RecvBuf, "sendbuf:", config.SendBuf)
		log.Println("compression:", !config.NoComp)

		sock, err := sptran.Open()
		checkError(err)
		defer sock.Close()

		checkError(sock.SetOption(sptran.OptRecvBuf, config.RecvBuf))
		checkError(sock.SetOption(sptran.OptSendBuf, config.SendBuf))
		checkError(sock.SetOption(sptran.OptRecvMax, config.RecvMax))

		l, err := sock.NewListener(config.Listen)
		checkError(err)
		checkError(configureListener(l, &config))
		if err := l.Start(); err != nil {
			checkError(errors.Wrap(err, "listener.Start()"))
		}

		if config.Pprof {
			go http.ListenAndServe(":6060", nil)
		}

		color.HiGreen("echo server up on %v", config.Listen)

		// echo loop
		for {
			msg, err := sock.RecvMsg(0)
			if err != nil {
				checkError(errors.Wrap(err, "sock.RecvMsg()"))
			}
			if !config.Quiet {
				log.Println("echo:", msg.Len(), "bytes from", remoteOf(msg))
			}
			if err := sock.SendMsg(msg, 0); err != nil {
				msg.Free()
				checkError(errors.Wrap(err, "sock.SendMsg()"))
			}
		}
	}
	myApp.Run(os.Args)
}

// configureListener applies the transport flags matching the scheme.
func configureListener(l sptran.Listener, config *Config) error {
	scheme := schemeOf(config.Listen)
	switch scheme {
	case "tls+tcp", "tls+tcp4", "tls+tcp6":
		if config.TLSCert == "" || config.TLSKey == "" {
			return errors.New("tls listener requires -tlscert and -tlskey")
		}
		cert, err := tls.LoadX509KeyPair(config.TLSCert, config.TLSKey)
		if err != nil {
			return errors.Wrap(err, "tls.LoadX509KeyPair()")
		}
		cfg := &tls.Config{Certificates: []tls.Certificate{cert}}
		if err := l.SetOption(sptran.OptTLSConfig, cfg); err != nil {
			return err
		}
	case "kcp":
		if config.Key != "" {
			if err := l.SetOption(sptran.OptKCPKey, config.Key); err != nil {
				return err
			}
		}
		if err := l.SetOption(sptran.OptKCPDataShard, config.DataShard); err != nil {
			return err
		}
		if err := l.SetOption(sptran.OptKCPParityShard, config.ParityShard); err != nil {
			return err
		}
		if config.TCP {
			if err := l.SetOption(sptran.OptKCPTCP, true); err != nil {
				return err
			}
		}
	}
	switch scheme {
	case "tcp", "tcp4", "tcp6", "tls+tcp", "tls+tcp4", "tls+tcp6", "kcp":
		if !config.NoComp {
			return l.SetOption(sptran.OptCompress, true)
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

func remoteOf(msg *sptran.Message) string {
	if p := msg.Pipe(); p != nil {
		if ra := p.RemoteAddr(); ra != nil {
			return ra.String()
		}
	}
	return "unknown"
}

func checkError(err error) {
	if err != nil {
		log.Printf("%+v\n", err)
		os.Exit(-1)
	}
}
