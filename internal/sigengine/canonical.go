// Package sigengine implements the pure cryptographic core: keypair
// generation, canonical serialization, signing, verification, content
// hashing, and verification token issuance. It holds no state and performs
// no I/O, so any party with the public key and the original payload can
// re-run verification at any time.
package sigengine

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// CanonicalJSON produces the deterministic byte serialization used for both
// signing and hashing. The payload is round-tripped through generic JSON
// values so that map keys are emitted in sorted order regardless of how the
// payload was constructed. Structurally equal payloads always canonicalize to
// identical bytes.
func CanonicalJSON(payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	var generic any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber() // preserve numeric literals exactly
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	out, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	return out, nil
}
