package main

import (
	"encoding/json"
	"os"
)

// Config for client
type Config struct {
	RemoteAddr  string `json:"remoteaddr"`
	Count       int    `json:"count"`
	Size        int    `json:"size"`
	Timeout     int    `json:"timeout"`
	ReconnMin   int    `json:"reconnmin"`
	ReconnMax   int    `json:"reconnmax"`
	RecvMax     int    `json:"recvmax"`
	CA          string `json:"ca"`
	ServerName  string `json:"servername"`
	Insecure    bool   `json:"insecure"`
	Key         string `json:"key"`
	DataShard   int    `json:"datashard"`
	ParityShard int    `json:"parityshard"`
	TCP         bool   `json:"tcp"`
	NoComp      bool   `json:"nocomp"`
	Log         string `json:"log"`
	Quiet       bool   `json:"quiet"`
}

func parseJSONConfig(config *Config, path string) error {
	file, err := os.Open(path) // For read access.
	if err != nil {
		return err
	}
	defer file.Close()

	return json.NewDecoder(file).Decode(config)
}
