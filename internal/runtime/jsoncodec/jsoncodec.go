// Package jsoncodec is the single JSON entry point for the module. Envelope
// payloads, config dumps, and the stats surface all encode through the same
// std-compatible sonic configuration so wire bytes stay identical to what
// encoding/json would produce.
package jsoncodec

import (
	"io"

	"github.com/bytedance/sonic"
)

var std = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return std.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return std.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error {
	return std.Unmarshal(data, v)
}

// Valid reports whether data is syntactically valid JSON without decoding it.
func Valid(data []byte) bool {
	return std.Valid(data)
}

func Encode(w io.Writer, v any) error {
	enc := std.NewEncoder(w)
	return enc.Encode(v)
}

func Decode(r io.Reader, v any) error {
	dec := std.NewDecoder(r)
	return dec.Decode(v)
}
