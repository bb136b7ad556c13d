package client

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Decoder turns a 2xx response body into the effective payload.
type Decoder func(body []byte) (any, error)

// DecodeJSON decodes the body as-is. Numbers are kept as json.Number so ids
// survive a round trip through the cache unchanged.
func DecodeJSON(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return v, nil
}

// UnwrapEnvelope returns the value of the first top-level property.
//
// The portal wraps every payload in one resource-named root key:
//
//	{"Grades": [...]} -> [...]
//
// Bodies that are not objects are returned decoded but unwrapped. An empty
// object yields nil.
func UnwrapEnvelope(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return DecodeJSON(body)
	}

	var v any
	for first := true; dec.More(); first = false {
		// keys in document order; only the first value is kept
		if _, err := dec.Token(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		if !first {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrDecode, err)
			}
			continue
		}
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
	}

	if tok, err := dec.Token(); err != nil || tok != json.Delim('}') {
		return nil, fmt.Errorf("%w: unterminated object", ErrDecode)
	}
	return v, nil
}

// decoder picks the decoder for a request.
func (o Options) decoder() Decoder {
	switch {
	case o.Decoder != nil:
		return o.Decoder
	case o.CustomFormat:
		return DecodeJSON
	default:
		return UnwrapEnvelope
	}
}
