package store

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// DecodePayload decodes an opaque payload, typically a value decoded from
// JSON, into out. Numbers convert between int and float kinds, and JSON
// field names are matched through `json` struct tags.
func DecodePayload(payload any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("store: decode payload: %w", err)
	}
	if err := decoder.Decode(payload); err != nil {
		return fmt.Errorf("store: decode payload: %w", err)
	}
	return nil
}
