package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileConfig is the --config file:
//
//	connection: http://127.0.0.1:3000/socket
//	plugin:
//	  verbose: true
//	socket:
//	  transport: polling
//	  reconnectAttempts: -1
type fileConfig struct {
	Connection string         `yaml:"connection"`
	Plugin     any            `yaml:"plugin"`
	Socket     map[string]any `yaml:"socket"`
}

func loadConfig(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := &fileConfig{}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// socketOptions returns the socket section with the command line room and
// transport applied on top.
func (c *fileConfig) socketOptions(room, transport string) map[string]any {
	opts := make(map[string]any, len(c.Socket)+2)
	for k, v := range c.Socket {
		opts[k] = v
	}
	if transport != "" {
		opts["transport"] = transport
	}
	if room != "" {
		query := make(map[string]any)
		if existing, ok := opts["query"].(map[string]any); ok {
			for k, v := range existing {
				query[k] = v
			}
		}
		query["room"] = room
		opts["query"] = query
	}
	return opts
}
