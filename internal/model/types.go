// Package model defines internal and external data shapes for the credential
// core. Internal types are used by storage and services, while DTOs are
// serialized on the wire.
package model

import "time"

// Credential status values.
const (
	CredentialStatusIssued  = "issued"
	CredentialStatusRevoked = "revoked"
)

// Wallet verification status values, computed once at ingestion.
const (
	VerificationPending  = "pending"
	VerificationVerified = "verified"
	VerificationInvalid  = "invalid"
)

// Wallet entry visibility values.
const (
	VisibilityPrivate = "private"
	VisibilityShared  = "shared"
	VisibilityPublic  = "public"
)

// Share grant lifecycle states. Denied and revoked are terminal.
const (
	GrantPending  = "pending"
	GrantApproved = "approved"
	GrantDenied   = "denied"
	GrantRevoked  = "revoked"
)

// Content actions gated by grant permissions.
const (
	ActionView     = "view"
	ActionPrint    = "print"
	ActionDownload = "download"
	ActionShare    = "share"
)

// Permissions is the per-grant (and per-wallet-entry) action flag set.
type Permissions struct {
	CanView     bool `json:"canView"`
	CanPrint    bool `json:"canPrint"`
	CanShare    bool `json:"canShare"`
	CanDownload bool `json:"canDownload"`
}

// DefaultPermissions returns the flag set applied when a caller supplies none:
// view, print and share allowed, download withheld.
func DefaultPermissions() Permissions {
	return Permissions{CanView: true, CanPrint: true, CanShare: true, CanDownload: false}
}

// Allows reports whether the named action is enabled in this flag set.
func (p Permissions) Allows(action string) bool {
	switch action {
	case ActionView:
		return p.CanView
	case ActionPrint:
		return p.CanPrint
	case ActionDownload:
		return p.CanDownload
	case ActionShare:
		return p.CanShare
	}
	return false
}

// Credential is the unsigned payload assembled at issuance. It is immutable
// once signed; any edit requires re-issuance under a new ID. Timestamps are
// RFC3339 strings so the canonical serialization is byte-stable.
type Credential struct {
	ID             string         `json:"id"`
	CredentialType string         `json:"credentialType"`
	RecipientEmail string         `json:"recipientEmail"`
	RecipientName  string         `json:"recipientName,omitempty"`
	TemplateID     string         `json:"templateId,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
	IssuedAt       string         `json:"issuedAt"` // RFC3339
	ExpiresAt      string         `json:"expiresAt,omitempty"`
	Status         string         `json:"status"`
}

// IssuerProof carries the issuer's public key (multibase, z-prefixed base58)
// and the base64 signature over the credential's canonical serialization.
type IssuerProof struct {
	PublicKey string `json:"publicKey"`
	Signature string `json:"signature"`
}

// SignedDocument is a Credential plus issuer proof and content hash. The hash
// and signature both cover the canonical JSON serialization of DocumentData;
// re-serializing the same payload must reproduce both.
type SignedDocument struct {
	DocumentID   string      `json:"documentId"`
	DocumentData Credential  `json:"documentData"`
	Issuer       IssuerProof `json:"issuer"`
	DocumentHash string      `json:"documentHash"`
	SignedAt     string      `json:"signedAt"` // RFC3339
	Version      string      `json:"version"`
	IsValid      bool        `json:"isValid"`
}

// Revocation is the overlay record marking an issued credential revoked.
// Signed documents themselves are never mutated.
type Revocation struct {
	CredentialID string    `json:"credentialId"`
	Reason       string    `json:"reason,omitempty"`
	RevokedAt    time.Time `json:"revokedAt"`
}

// WalletEntry wraps a SignedDocument with owner-local metadata. Permissions
// here are the owner's own display preferences; third-party access is
// governed solely by ShareGrant permissions.
type WalletEntry struct {
	OwnerID            string         `json:"ownerId"`
	Document           SignedDocument `json:"document"`
	AddedToWallet      time.Time      `json:"addedToWallet"`
	Permissions        Permissions    `json:"permissions"`
	Visibility         string         `json:"visibility"`
	SharedWith         []string       `json:"sharedWith,omitempty"`
	VerificationStatus string         `json:"verificationStatus"`
}

// VerificationToken is the opaque bearer secret bound 1:1 to a ShareGrant and
// embedded in public share URLs. The token value is 32 random bytes, base64.
type VerificationToken struct {
	DocumentID     string    `json:"documentId"`
	OwnerPublicKey string    `json:"ownerPublicKey"`
	VerifierEmail  string    `json:"verifierEmail"`
	IssuedAt       time.Time `json:"issuedAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
	Token          string    `json:"token"`
}

// AccessLogEntry is one append-only audit record on a grant. The log is
// capped at the 100 most recent entries, oldest dropped first.
type AccessLogEntry struct {
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
	UserAgent string    `json:"userAgent,omitempty"`
}

// AccessLogCap is the maximum number of retained access log entries per grant.
const AccessLogCap = 100

// ShareGrant is the consent record allowing one verifier, identified by
// email, time-boxed access to one credential.
type ShareGrant struct {
	ID             string            `json:"id"`
	CredentialID   string            `json:"credentialId"`
	OwnerPublicKey string            `json:"ownerPublicKey"`
	VerifierEmail  string            `json:"verifierEmail"`
	Status         string            `json:"status"`
	Permissions    Permissions       `json:"permissions"`
	CreatedAt      time.Time         `json:"createdAt"`
	ExpiresAt      time.Time         `json:"expiresAt"`
	ApprovedAt     *time.Time        `json:"approvedAt,omitempty"`
	DeniedAt       *time.Time        `json:"deniedAt,omitempty"`
	RevokedAt      *time.Time        `json:"revokedAt,omitempty"`
	RequireOTP     bool              `json:"requireOtp"`
	Token          VerificationToken `json:"token"`
	AccessLog      []AccessLogEntry  `json:"accessLog,omitempty"`
}

// Terminal reports whether the grant is in a state with no outgoing
// transitions.
func (g ShareGrant) Terminal() bool {
	return g.Status == GrantDenied || g.Status == GrantRevoked
}

// OTPChallenge tracks a pending step-up verification for a public share.
// Codes are single-use and attempt-limited.
type OTPChallenge struct {
	ShareToken string    `json:"shareToken"`
	Email      string    `json:"email"`
	Code       string    `json:"code"`
	IssuedAt   time.Time `json:"issuedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
	Attempts   int       `json:"attempts"`
	Used       bool      `json:"used"`
}

// WalletStats aggregates an owner's wallet contents. Revoked counts entries
// whose credential has a revocation marker in the overlay.
type WalletStats struct {
	Total            int            `json:"total"`
	Verified         int            `json:"verified"`
	Invalid          int            `json:"invalid"`
	Revoked          int            `json:"revoked"`
	ByType           map[string]int `json:"byType"`
	ExpiringIn30Days int            `json:"expiringIn30Days"`
}

// ShareStats aggregates grant lifecycle counts. Active counts grants that
// currently pass validity checks; Expired counts grants past expiry in any
// state.
type ShareStats struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Denied   int `json:"denied"`
	Revoked  int `json:"revoked"`
	Expired  int `json:"expired"`
	Active   int `json:"active"`
}

// AuditGrant is one grant's row in an exported audit trail.
type AuditGrant struct {
	GrantID       string      `json:"grantId"`
	VerifierEmail string      `json:"verifierEmail"`
	Status        string      `json:"status"`
	Permissions   Permissions `json:"permissions"`
	CreatedAt     time.Time   `json:"createdAt"`
	ExpiresAt     time.Time   `json:"expiresAt"`
	AccessCount   int         `json:"accessCount"`
	LastAccess    *time.Time  `json:"lastAccess,omitempty"`
}

// AuditTrail is the compliance export for one credential's grants. It is a
// reporting artifact and is never consulted for authorization.
type AuditTrail struct {
	CredentialID string       `json:"credentialId"`
	GeneratedAt  time.Time    `json:"generatedAt"`
	Grants       []AuditGrant `json:"grants"`
}

// BatchFailure records one failed item in a batch issuance, referencing the
// input index so callers can correlate.
type BatchFailure struct {
	Index int    `json:"index"`
	Email string `json:"email,omitempty"`
	Error string `json:"error"`
}

// BatchSummary reports batch issuance counts.
type BatchSummary struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// BatchResult is the structured outcome of a batch issuance. Per-item
// failures never abort the batch.
type BatchResult struct {
	Issued  []SignedDocument `json:"issued"`
	Failed  []BatchFailure   `json:"failed"`
	Summary BatchSummary     `json:"summary"`
}
