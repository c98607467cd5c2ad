//go:build sonic

package json

import (
	stdjson "encoding/json"

	"github.com/bytedance/sonic"
)

type RawMessage = stdjson.RawMessage

var api = sonic.ConfigStd

var (
	Marshal       = api.Marshal
	Unmarshal     = api.Unmarshal
	MarshalIndent = api.MarshalIndent
	NewDecoder    = api.NewDecoder
	NewEncoder    = api.NewEncoder
)
