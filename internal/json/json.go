//go:build !sonic

// Package json selects the JSON codec used on the wire.
// goccy/go-json is the default; build with -tags sonic to use bytedance/sonic.
package json

import json "github.com/goccy/go-json"

type RawMessage = json.RawMessage

var (
	Marshal       = json.Marshal
	Unmarshal     = json.Unmarshal
	MarshalIndent = json.MarshalIndent
	NewDecoder    = json.NewDecoder
	NewEncoder    = json.NewEncoder
)
