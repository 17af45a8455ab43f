// Package share resolves opaque bearer tokens to their grant and target
// document for third-party verifiers, independent of the owner's wallet. It
// enforces expiry, optional OTP step-up, and re-checks grant permissions on
// every content operation.
package share

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/signatura/signatura-core-go/internal/consent"
	"github.com/signatura/signatura-core-go/internal/model"
	"github.com/signatura/signatura-core-go/internal/storage"
)

// Errors surfaced by share resolution. ErrNotAccessible deliberately covers
// both unknown and expired tokens so callers cannot distinguish whether a
// token ever existed.
var (
	ErrNotAccessible    = errors.New("share not found or expired")
	ErrOTPRequired      = errors.New("otp verification required")
	ErrOTPInvalid       = errors.New("otp code invalid or expired")
	ErrTooManyAttempts  = errors.New("too many otp attempts")
	ErrPermissionDenied = errors.New("action not permitted by grant")
)

// Store is the persistence surface share resolution needs.
type Store interface {
	storage.GrantStore
	storage.OTPStore
	storage.CredentialStore
}

// Service resolves public share tokens. Access tokens issued after OTP
// success are EdDSA JWTs signed with the service key, bound to the share
// token and much shorter-lived than the grant itself.
type Service struct {
	store      Store
	consent    *consent.Service
	signer     ed25519.PrivateKey
	issuer     string
	otpTTL     time.Duration
	sessionTTL time.Duration
	clock      func() time.Time
}

// New creates a share resolution Service. signer must be an ed25519 private
// key; issuer names this deployment in access token claims.
func New(store Store, consentSvc *consent.Service, signer ed25519.PrivateKey, issuer string, otpTTL, sessionTTL time.Duration) (*Service, error) {
	if len(signer) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("access token signing key must be %d bytes", ed25519.PrivateKeySize)
	}
	if otpTTL <= 0 {
		otpTTL = 5 * time.Minute
	}
	if sessionTTL <= 0 {
		sessionTTL = 10 * time.Minute
	}
	return &Service{
		store:      store,
		consent:    consentSvc,
		signer:     signer,
		issuer:     issuer,
		otpTTL:     otpTTL,
		sessionTTL: sessionTTL,
		clock:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Resolution is the metadata returned when a share token resolves: the
// grant, the target document, and whether OTP step-up is still required
// before content access.
type Resolution struct {
	Grant       model.ShareGrant
	Document    model.SignedDocument
	OTPRequired bool
}

// Resolve looks up a share token. Unknown and expired tokens both return
// ErrNotAccessible with no distinguishing detail.
func (s *Service) Resolve(ctx context.Context, shareToken string) (Resolution, error) {
	grant, err := s.store.GetGrantByToken(ctx, shareToken)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Resolution{}, ErrNotAccessible
		}
		return Resolution{}, err
	}
	if s.clock().After(grant.ExpiresAt) {
		return Resolution{}, ErrNotAccessible
	}
	doc, err := s.store.GetDocument(ctx, grant.CredentialID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Resolution{}, ErrNotAccessible
		}
		return Resolution{}, err
	}
	return Resolution{Grant: grant, Document: doc, OTPRequired: grant.RequireOTP}, nil
}

// RequestOTP creates (or replaces) the single-use challenge for a share.
// The returned challenge carries the code for the delivery collaborator;
// it must never be echoed to the requesting client.
func (s *Service) RequestOTP(ctx context.Context, shareToken, email string) (model.OTPChallenge, error) {
	if _, err := s.Resolve(ctx, shareToken); err != nil {
		return model.OTPChallenge{}, err
	}
	code, err := generateOTPCode()
	if err != nil {
		return model.OTPChallenge{}, fmt.Errorf("generate otp: %w", err)
	}
	now := s.clock()
	ch := model.OTPChallenge{
		ShareToken: shareToken,
		Email:      strings.ToLower(strings.TrimSpace(email)),
		Code:       code,
		IssuedAt:   now,
		ExpiresAt:  now.Add(s.otpTTL),
	}
	if err := s.store.PutChallenge(ctx, ch); err != nil {
		return model.OTPChallenge{}, fmt.Errorf("persist otp challenge: %w", err)
	}
	return ch, nil
}

// VerifyOTP checks a submitted code against the pending challenge. On
// success the challenge is consumed and a short-lived access token is
// issued. Mismatches count toward the attempt limit; once exceeded the
// challenge answers only ErrTooManyAttempts.
func (s *Service) VerifyOTP(ctx context.Context, shareToken, email, code string) (string, error) {
	ch, err := s.store.GetChallenge(ctx, shareToken)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", ErrOTPInvalid
		}
		return "", err
	}
	if ch.Used || s.clock().After(ch.ExpiresAt) {
		return "", ErrOTPInvalid
	}
	if ch.Attempts >= MaxOTPAttempts {
		return "", ErrTooManyAttempts
	}
	if !strings.EqualFold(strings.TrimSpace(email), ch.Email) || code != ch.Code {
		attempts, err := s.store.IncrementAttempts(ctx, shareToken)
		if err != nil {
			return "", err
		}
		if attempts >= MaxOTPAttempts {
			return "", ErrTooManyAttempts
		}
		return "", ErrOTPInvalid
	}
	if err := s.store.MarkChallengeUsed(ctx, shareToken); err != nil {
		return "", err
	}
	return s.issueAccessToken(shareToken, ch.Email)
}

func (s *Service) issueAccessToken(shareToken, email string) (string, error) {
	now := s.clock()
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodEdDSA, jwtlib.MapClaims{
		"sub": email,
		"aud": shareToken,
		"iss": s.issuer,
		"iat": now.Unix(),
		"exp": now.Add(s.sessionTTL).Unix(),
	})
	signed, err := token.SignedString(s.signer)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// validateAccessToken checks an EdDSA access token and its binding to the
// share token.
func (s *Service) validateAccessToken(accessToken, shareToken string) bool {
	if accessToken == "" {
		return false
	}
	pub := s.signer.Public().(ed25519.PublicKey)
	parsed, err := jwtlib.Parse(accessToken, func(t *jwtlib.Token) (any, error) {
		return pub, nil
	}, jwtlib.WithValidMethods([]string{"EdDSA"}), jwtlib.WithAudience(shareToken), jwtlib.WithIssuer(s.issuer))
	if err != nil {
		return false
	}
	return parsed.Valid
}

// Access serves one content operation through a share. OTP success alone
// never implies permission: the grant's CheckPermission gate is re-checked
// on every call, revoked credentials are refused, and the access is
// appended to the grant's audit log.
func (s *Service) Access(ctx context.Context, shareToken, action, accessToken, userAgent string) (model.SignedDocument, error) {
	res, err := s.Resolve(ctx, shareToken)
	if err != nil {
		return model.SignedDocument{}, err
	}
	if res.Grant.RequireOTP && !s.validateAccessToken(accessToken, shareToken) {
		return model.SignedDocument{}, ErrOTPRequired
	}
	if _, err := s.store.GetRevocation(ctx, res.Grant.CredentialID); err == nil {
		return model.SignedDocument{}, ErrPermissionDenied
	} else if !errors.Is(err, storage.ErrNotFound) {
		return model.SignedDocument{}, err
	}
	if !s.consent.CheckPermission(res.Grant, action) {
		return model.SignedDocument{}, ErrPermissionDenied
	}
	if err := s.consent.LogAccess(ctx, res.Grant.ID, action, userAgent); err != nil {
		return model.SignedDocument{}, err
	}
	return res.Document, nil
}
