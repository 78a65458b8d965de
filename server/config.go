package main

import (
	"encoding/json"
	"os"
)

// Config for server
type Config struct {
	Listen      string `json:"listen"`
	RecvMax     int    `json:"recvmax"`
	RecvBuf     int    `json:"recvbuf"`
	SendBuf     int    `json:"sendbuf"`
	TLSCert     string `json:"tlscert"`
	TLSKey      string `json:"tlskey"`
	Key         string `json:"key"`
	DataShard   int    `json:"datashard"`
	ParityShard int    `json:"parityshard"`
	TCP         bool   `json:"tcp"`
	NoComp      bool   `json:"nocomp"`
	Log         string `json:"log"`
	Quiet       bool   `json:"quiet"`
	Pprof       bool   `json:"pprof"`
}

func parseJSONConfig(config *Config, path string) error {
	file, err := os.Open(path) // For read access.
	if err != nil {
		return err
	}
	defer file.Close()

	return json.NewDecoder(file).Decode(config)
}
