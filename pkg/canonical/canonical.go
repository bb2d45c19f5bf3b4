// Package canonical produces the deterministic byte encoding that signers and
// verifiers agree on. Output is RFC 8785 (JCS) JSON: object keys sorted by
// code unit, no insignificant whitespace, ES6 number formatting.
package canonical

import (
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// DefaultPatternID is encoded when a payload carries no identifier
const DefaultPatternID = "unknown"

// Payload is the fixed set of top-level fields covered by a signature.
// Every field is always encoded; absent maps become {} and an absent
// timestamp becomes "".
type Payload struct {
	PatternID  string                 `json:"pattern_id"`
	Context    map[string]interface{} `json:"context"`
	ContextTag map[string]interface{} `json:"context_tag"`
	Provenance map[string]interface{} `json:"provenance"`
	Timestamp  string                 `json:"timestamp"`
}

// Normalize fills absent fields with their explicit empty values
func (p Payload) Normalize() Payload {
	if p.PatternID == "" {
		p.PatternID = DefaultPatternID
	}
	if p.Context == nil {
		p.Context = map[string]interface{}{}
	}
	if p.ContextTag == nil {
		p.ContextTag = map[string]interface{}{}
	}
	if p.Provenance == nil {
		p.Provenance = map[string]interface{}{}
	}
	return p
}

// Encode returns the canonical bytes of p after normalization
func Encode(p Payload) ([]byte, error) {
	return EncodeValue(p.Normalize())
}

// EncodeValue returns the canonical bytes of any JSON-marshalable value
func EncodeValue(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal failed: %w", err)
	}
	return EncodeJSON(raw)
}

// EncodeJSON canonicalizes an already serialized JSON document
func EncodeJSON(raw []byte) ([]byte, error) {
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonical: transform failed: %w", err)
	}
	return out, nil
}
