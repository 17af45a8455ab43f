package sigengine

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/mr-tron/base58"
)

// SigningError indicates a cryptographic operation failed, typically due to
// malformed key material. Verification never returns it; only signing does.
type SigningError struct {
	Op  string
	Err error
}

func (e *SigningError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("signing: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("signing: %s", e.Op)
}

func (e *SigningError) Unwrap() error { return e.Err }

// KeyPair is an ed25519 signing keypair. The secret key must never leave the
// owning principal's control boundary; the public key is distributed freely.
type KeyPair struct {
	PublicKey ed25519.PublicKey
	SecretKey ed25519.PrivateKey
}

// GenerateKeyPair produces a fresh ed25519 keypair from crypto/rand.
func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, &SigningError{Op: "generate keypair", Err: err}
	}
	return KeyPair{PublicKey: pub, SecretKey: priv}, nil
}

// EncodePublicKey renders a public key in multibase form (z-prefixed base58),
// the representation stored in signed documents and grants.
func EncodePublicKey(pub ed25519.PublicKey) string {
	return "z" + base58.Encode(pub)
}

// DecodePublicKey parses a multibase public key back to raw bytes.
func DecodePublicKey(value string) (ed25519.PublicKey, error) {
	if !strings.HasPrefix(value, "z") {
		return nil, fmt.Errorf("unsupported multibase prefix")
	}
	raw, err := base58.Decode(value[1:])
	if err != nil {
		return nil, err
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// Signature is the result of signing a payload: the base64 ed25519 signature
// and the hex SHA-256 content hash, both over the same canonical bytes.
type Signature struct {
	Signature    string
	DocumentHash string
	SignedAt     time.Time
}

// SignDocument canonicalizes the payload, signs the canonical bytes with the
// secret key, and computes the content hash of the same bytes.
func SignDocument(payload any, secretKey ed25519.PrivateKey) (Signature, error) {
	if len(secretKey) != ed25519.PrivateKeySize {
		return Signature{}, &SigningError{Op: "sign document", Err: fmt.Errorf("secret key must be %d bytes, got %d", ed25519.PrivateKeySize, len(secretKey))}
	}
	canonical, err := CanonicalJSON(payload)
	if err != nil {
		return Signature{}, &SigningError{Op: "sign document", Err: err}
	}
	sig := ed25519.Sign(secretKey, canonical)
	digest := sha256.Sum256(canonical)
	return Signature{
		Signature:    base64.StdEncoding.EncodeToString(sig),
		DocumentHash: hex.EncodeToString(digest[:]),
		SignedAt:     time.Now().UTC(),
	}, nil
}

// VerifySignature reconstructs the canonical bytes from the payload and
// checks the base64 signature against the multibase public key. It never
// returns an error: any malformed input verifies false so callers can branch
// without exception-driven control flow.
func VerifySignature(payload any, signature, publicKey string) bool {
	pub, err := DecodePublicKey(publicKey)
	if err != nil {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	canonical, err := CanonicalJSON(payload)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, canonical, sig)
}

// HashDocument computes the hex SHA-256 over the canonical serialization.
// Deterministic for structurally equal payloads.
func HashDocument(payload any) (string, error) {
	canonical, err := CanonicalJSON(payload)
	if err != nil {
		return "", err
	}
	digest := sha256.Sum256(canonical)
	return hex.EncodeToString(digest[:]), nil
}
