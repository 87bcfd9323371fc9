// Package config loads toyraft's environment variables and optional YAML
// peer-table file. The peer set is fixed at startup (no dynamic membership,
// per the system's non-goals): it must be fully known before any process
// starts.
package config

import (
	"os"
	"strconv"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Peer describes one order replica's addresses.
type Peer struct {
	ID         int    `yaml:"id"`
	RaftAddr   string `yaml:"raft_addr"`
	ClientAddr string `yaml:"client_addr"`
}

// File is the optional YAML config file shape (peer table plus the
// catalog/frontend addresses).
type File struct {
	Peers        []Peer `yaml:"order_peers"`
	CatalogAddr  string `yaml:"catalog_addr"`
	FrontendAddr string `yaml:"frontend_addr"`
}

// Load reads the YAML file at path, or returns the built-in default
// three-replica topology (ports 8002/8003/8004 for ids 3/2/1, per the wire
// contract) if path is empty.
func Load(path string) (*File, error) {
	if path == "" {
		return defaultFile(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "config: read file")
	}
	var f File
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, errors.Wrap(err, "config: parse yaml")
	}
	return &f, nil
}

func defaultFile() *File {
	return &File{
		Peers: []Peer{
			{ID: 3, RaftAddr: "127.0.0.1:9002", ClientAddr: "127.0.0.1:8002"},
			{ID: 2, RaftAddr: "127.0.0.1:9003", ClientAddr: "127.0.0.1:8003"},
			{ID: 1, RaftAddr: "127.0.0.1:9004", ClientAddr: "127.0.0.1:8004"},
		},
		CatalogAddr:  "127.0.0.1:8001",
		FrontendAddr: "127.0.0.1:8000",
	}
}

// PeerByID returns the peer entry with the given id.
func (f *File) PeerByID(id int) (Peer, bool) {
	for _, p := range f.Peers {
		if p.ID == id {
			return p, true
		}
	}
	return Peer{}, false
}

// EnvBool reads a boolean environment variable, defaulting to def when unset
// or unparsable.
func EnvBool(name string, def bool) bool {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// EnvInt reads an integer environment variable, defaulting to def when unset
// or unparsable.
func EnvInt(name string, def int) int {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
