// Package storage provides interfaces and implementations for persistent
// storage of signed documents, wallet entries, share grants, access logs,
// OTP challenges, and idempotency records.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/signatura/signatura-core-go/internal/model"
)

// Standard error values used across storage implementations
var (
	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates the resource already exists or the operation
	// would violate invariants, including a conditional status update whose
	// precondition no longer holds.
	ErrConflict = errors.New("conflict")
)

// CredentialStore persists signed documents and the revocation overlay.
// Documents are immutable once stored; revocation is a side record keyed by
// credential id.
type CredentialStore interface {
	// PutDocument stores a new signed document. Returns ErrConflict if a
	// document with the same id already exists.
	PutDocument(ctx context.Context, doc model.SignedDocument) error
	// GetDocument retrieves a signed document by its id.
	GetDocument(ctx context.Context, documentID string) (model.SignedDocument, error)
	// PutRevocation records a revocation marker for a credential.
	PutRevocation(ctx context.Context, rev model.Revocation) error
	// GetRevocation retrieves the revocation marker for a credential, or
	// ErrNotFound when the credential has not been revoked.
	GetRevocation(ctx context.Context, credentialID string) (model.Revocation, error)
}

// WalletStore persists owner wallet entries keyed by owner id + document id.
type WalletStore interface {
	// PutEntry stores or overwrites a wallet entry.
	PutEntry(ctx context.Context, entry model.WalletEntry) error
	// GetEntry retrieves one entry from an owner's wallet.
	GetEntry(ctx context.Context, ownerID, documentID string) (model.WalletEntry, error)
	// ListEntries retrieves every entry in an owner's wallet.
	ListEntries(ctx context.Context, ownerID string) ([]model.WalletEntry, error)
	// DeleteEntry removes one entry from an owner's wallet.
	DeleteEntry(ctx context.Context, ownerID, documentID string) error
	// ClearEntries removes every entry in an owner's wallet.
	ClearEntries(ctx context.Context, ownerID string) error
}

// GrantStore persists share grants and their append-only access logs.
type GrantStore interface {
	// CreateGrant stores a new grant. Returns ErrConflict when the grant id
	// or its bearer token already exists.
	CreateGrant(ctx context.Context, grant model.ShareGrant) error
	// GetGrant retrieves a grant by id, access log included.
	GetGrant(ctx context.Context, grantID string) (model.ShareGrant, error)
	// GetGrantByToken retrieves a grant by its bearer token value.
	GetGrantByToken(ctx context.Context, token string) (model.ShareGrant, error)
	// ListGrantsByCredential retrieves every grant on one credential.
	ListGrantsByCredential(ctx context.Context, credentialID string) ([]model.ShareGrant, error)
	// ListGrantsByOwner retrieves every grant created by one owner key.
	ListGrantsByOwner(ctx context.Context, ownerPublicKey string) ([]model.ShareGrant, error)
	// ListGrants retrieves all grants, used for aggregate statistics.
	ListGrants(ctx context.Context) ([]model.ShareGrant, error)
	// UpdateGrantStatus replaces the stored grant only when its current
	// status equals fromStatus, serializing concurrent conflicting
	// transitions. Returns ErrConflict when the precondition fails and
	// ErrNotFound when the grant does not exist.
	UpdateGrantStatus(ctx context.Context, grantID, fromStatus string, grant model.ShareGrant) error
	// AppendAccessLog atomically appends an entry to a grant's access log,
	// evicting the oldest entries beyond model.AccessLogCap.
	AppendAccessLog(ctx context.Context, grantID string, entry model.AccessLogEntry) error
}

// OTPStore manages step-up challenge lifecycle for public shares. Challenges
// are single-use and attempt-limited.
type OTPStore interface {
	// PutChallenge stores or replaces the challenge for a share token.
	PutChallenge(ctx context.Context, ch model.OTPChallenge) error
	// GetChallenge retrieves the current challenge for a share token.
	GetChallenge(ctx context.Context, shareToken string) (model.OTPChallenge, error)
	// IncrementAttempts atomically bumps the failed-attempt counter and
	// returns the new count.
	IncrementAttempts(ctx context.Context, shareToken string) (int, error)
	// MarkChallengeUsed consumes the challenge so the code cannot be
	// replayed.
	MarkChallengeUsed(ctx context.Context, shareToken string) error
}

// IdempotencyStore stores deterministic responses for a limited period.
// Enables idempotent handling of otherwise non-idempotent operations.
type IdempotencyStore interface {
	// Remember stores a response for later retrieval
	Remember(ctx context.Context, key string, response StoredResponse) error
	// Recall retrieves a previously stored response if it exists and hasn't expired
	Recall(ctx context.Context, key string) (StoredResponse, bool)
}

// Store aggregates all persistence capabilities required by the service.
type Store interface {
	CredentialStore
	WalletStore
	GrantStore
	OTPStore
	IdempotencyStore
}

// StoredResponse captures the HTTP response data persisted for idempotent replays.
type StoredResponse struct {
	StatusCode int               // HTTP status code of the original response
	Body       []byte            // Response body content
	Headers    map[string]string // Response headers
	ExpiresAt  time.Time         // Expiration timestamp for this cached response
}
