package sigengine

import (
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/signatura/signatura-core-go/internal/model"
)

// DefaultTokenDays is the verification token lifetime applied when the
// caller does not specify one.
const DefaultTokenDays = 7

// NewVerificationToken mints the opaque bearer token bound to a share grant.
// The token value is 32 random bytes from crypto/rand, base64url encoded, so
// it is unguessable and safe to embed in URLs.
func NewVerificationToken(documentID, ownerPublicKey, verifierEmail string, expiresInDays int) (model.VerificationToken, error) {
	if expiresInDays <= 0 {
		expiresInDays = DefaultTokenDays
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return model.VerificationToken{}, &SigningError{Op: "generate token", Err: err}
	}
	now := time.Now().UTC()
	return model.VerificationToken{
		DocumentID:     documentID,
		OwnerPublicKey: ownerPublicKey,
		VerifierEmail:  verifierEmail,
		IssuedAt:       now,
		ExpiresAt:      now.Add(time.Duration(expiresInDays) * 24 * time.Hour),
		Token:          base64.RawURLEncoding.EncodeToString(buf),
	}, nil
}

// TokenState is the result of checking a verification token against a point
// in time.
type TokenState struct {
	IsValid          bool
	IsExpired        bool
	ExpiresInMinutes int
}

// CheckToken reports whether the token is still valid at now. Valid iff now
// is strictly before the expiry.
func CheckToken(tok model.VerificationToken, now time.Time) TokenState {
	if !now.Before(tok.ExpiresAt) {
		return TokenState{IsExpired: true}
	}
	return TokenState{
		IsValid:          true,
		ExpiresInMinutes: int(tok.ExpiresAt.Sub(now).Minutes()),
	}
}
