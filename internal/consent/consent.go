package consent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/signatura/signatura-core-go/internal/model"
	"github.com/signatura/signatura-core-go/internal/sigengine"
	"github.com/signatura/signatura-core-go/internal/storage"
)

// DefaultShareDays is the grant lifetime applied when the caller does not
// specify one.
const DefaultShareDays = 7

// ValidationError indicates grant creation input is missing a required
// field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

// Service manages the grant lifecycle over a grant store. BaseURL is the
// public origin used to build share links.
type Service struct {
	store       storage.GrantStore
	baseURL     string
	defaultDays int
	clock       func() time.Time
}

// New creates a consent Service. baseURL should be the public origin, e.g.
// https://signatura.example. defaultShareDays is the grant lifetime applied
// when a request does not specify one; values <= 0 fall back to
// DefaultShareDays.
func New(store storage.GrantStore, baseURL string, defaultShareDays int) *Service {
	if defaultShareDays <= 0 {
		defaultShareDays = DefaultShareDays
	}
	return &Service{
		store:       store,
		baseURL:     strings.TrimRight(baseURL, "/"),
		defaultDays: defaultShareDays,
		clock:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateInput describes a new share request. A nil Permissions pointer
// applies the defaults; ExpiresInDays <= 0 applies the service's configured
// default lifetime.
type CreateInput struct {
	CredentialID   string
	OwnerPublicKey string
	VerifierEmail  string
	Permissions    *model.Permissions
	ExpiresInDays  int
	RequireOTP     bool
}

// CreateShareRequest creates a pending grant with a bound verification
// token and returns it together with the public share URL embedding that
// token.
func (s *Service) CreateShareRequest(ctx context.Context, in CreateInput) (model.ShareGrant, string, error) {
	if strings.TrimSpace(in.CredentialID) == "" {
		return model.ShareGrant{}, "", &ValidationError{Field: "credentialId", Reason: "is required"}
	}
	if strings.TrimSpace(in.VerifierEmail) == "" {
		return model.ShareGrant{}, "", &ValidationError{Field: "verifierEmail", Reason: "is required"}
	}
	days := in.ExpiresInDays
	if days <= 0 {
		days = s.defaultDays
	}
	perms := model.DefaultPermissions()
	if in.Permissions != nil {
		perms = *in.Permissions
	}

	token, err := sigengine.NewVerificationToken(in.CredentialID, in.OwnerPublicKey, in.VerifierEmail, days)
	if err != nil {
		return model.ShareGrant{}, "", err
	}

	now := s.clock()
	grant := model.ShareGrant{
		ID:             uuid.NewString(),
		CredentialID:   in.CredentialID,
		OwnerPublicKey: in.OwnerPublicKey,
		VerifierEmail:  strings.TrimSpace(in.VerifierEmail),
		Status:         model.GrantPending,
		Permissions:    perms,
		CreatedAt:      now,
		ExpiresAt:      now.Add(time.Duration(days) * 24 * time.Hour),
		RequireOTP:     in.RequireOTP,
		Token:          token,
	}
	if err := s.store.CreateGrant(ctx, grant); err != nil {
		return model.ShareGrant{}, "", fmt.Errorf("persist grant: %w", err)
	}
	return grant, s.ShareURL(token.Token), nil
}

// ShareURL builds the public link for a bearer token.
func (s *Service) ShareURL(token string) string {
	return s.baseURL + "/shared/" + token
}

// Get retrieves one grant by id.
func (s *Service) Get(ctx context.Context, grantID string) (model.ShareGrant, error) {
	return s.store.GetGrant(ctx, grantID)
}

// transition moves a grant to the target status, enforcing the lifecycle
// table and serializing against concurrent conflicting calls through the
// store's conditional update.
func (s *Service) transition(ctx context.Context, grantID, to, reason string) (model.ShareGrant, error) {
	grant, err := s.store.GetGrant(ctx, grantID)
	if err != nil {
		return model.ShareGrant{}, err
	}
	from := grant.Status
	if !canTransition(from, to) {
		return model.ShareGrant{}, &StateTransitionError{GrantID: grantID, From: from, To: to}
	}

	now := s.clock()
	grant.Status = to
	switch to {
	case model.GrantApproved:
		grant.ApprovedAt = &now
	case model.GrantDenied:
		grant.DeniedAt = &now
	case model.GrantRevoked:
		grant.RevokedAt = &now
	}

	if err := s.store.UpdateGrantStatus(ctx, grantID, from, grant); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			// lost the race: someone else transitioned first
			return model.ShareGrant{}, &StateTransitionError{GrantID: grantID, From: from, To: to}
		}
		return model.ShareGrant{}, err
	}

	entry := model.AccessLogEntry{Action: to, Timestamp: now, Reason: reason}
	if err := s.store.AppendAccessLog(ctx, grantID, entry); err != nil {
		return model.ShareGrant{}, fmt.Errorf("append access log: %w", err)
	}
	grant.AccessLog = append(grant.AccessLog, entry)
	return grant, nil
}

// Approve moves a pending grant to approved. Re-approval and approval of
// denied/revoked grants fail with StateTransitionError.
func (s *Service) Approve(ctx context.Context, grantID string) (model.ShareGrant, error) {
	return s.transition(ctx, grantID, model.GrantApproved, "")
}

// Deny moves a pending grant to the terminal denied state.
func (s *Service) Deny(ctx context.Context, grantID, reason string) (model.ShareGrant, error) {
	return s.transition(ctx, grantID, model.GrantDenied, reason)
}

// Revoke moves an approved grant to the terminal revoked state.
func (s *Service) Revoke(ctx context.Context, grantID, reason string) (model.ShareGrant, error) {
	return s.transition(ctx, grantID, model.GrantRevoked, reason)
}

// IsShareValid reports whether the grant currently authorizes access:
// approved, not past expiry, and its bound token still valid. Expiry
// dominates approval; a pending grant past expiry is invalid without any
// formal transition.
func (s *Service) IsShareValid(grant model.ShareGrant) bool {
	if grant.Status != model.GrantApproved {
		return false
	}
	now := s.clock()
	if now.After(grant.ExpiresAt) {
		return false
	}
	return sigengine.CheckToken(grant.Token, now).IsValid
}

// CheckPermission is the single authorization choke point: every content
// operation (view, print, download, share) must pass through here before
// content is served. False whenever the grant is invalid, regardless of the
// stored flags.
func (s *Service) CheckPermission(grant model.ShareGrant, action string) bool {
	return s.IsShareValid(grant) && grant.Permissions.Allows(action)
}

// LogAccess appends one audit entry to the grant's access log. The store
// caps the log at model.AccessLogCap entries, oldest first.
func (s *Service) LogAccess(ctx context.Context, grantID, action, userAgent string) error {
	return s.store.AppendAccessLog(ctx, grantID, model.AccessLogEntry{
		Action:    action,
		Timestamp: s.clock(),
		UserAgent: userAgent,
	})
}

// Pending lists an owner's grants still awaiting a decision.
func (s *Service) Pending(ctx context.Context, ownerPublicKey string) ([]model.ShareGrant, error) {
	grants, err := s.store.ListGrantsByOwner(ctx, ownerPublicKey)
	if err != nil {
		return nil, err
	}
	var out []model.ShareGrant
	for _, g := range grants {
		if g.Status == model.GrantPending {
			out = append(out, g)
		}
	}
	return out, nil
}

// Active lists an owner's grants that currently pass IsShareValid.
func (s *Service) Active(ctx context.Context, ownerPublicKey string) ([]model.ShareGrant, error) {
	grants, err := s.store.ListGrantsByOwner(ctx, ownerPublicKey)
	if err != nil {
		return nil, err
	}
	var out []model.ShareGrant
	for _, g := range grants {
		if s.IsShareValid(g) {
			out = append(out, g)
		}
	}
	return out, nil
}

// Expired lists an owner's grants past expiry, regardless of status.
func (s *Service) Expired(ctx context.Context, ownerPublicKey string) ([]model.ShareGrant, error) {
	grants, err := s.store.ListGrantsByOwner(ctx, ownerPublicKey)
	if err != nil {
		return nil, err
	}
	now := s.clock()
	var out []model.ShareGrant
	for _, g := range grants {
		if now.After(g.ExpiresAt) {
			out = append(out, g)
		}
	}
	return out, nil
}

// ExportAuditTrail emits the compliance export for one credential: every
// grant with its verifier, status, permissions, access count, and last
// access time. Reporting only; never consulted for authorization.
func (s *Service) ExportAuditTrail(ctx context.Context, credentialID string) (model.AuditTrail, error) {
	grants, err := s.store.ListGrantsByCredential(ctx, credentialID)
	if err != nil {
		return model.AuditTrail{}, err
	}
	trail := model.AuditTrail{CredentialID: credentialID, GeneratedAt: s.clock()}
	for _, g := range grants {
		ag := model.AuditGrant{
			GrantID:       g.ID,
			VerifierEmail: g.VerifierEmail,
			Status:        g.Status,
			Permissions:   g.Permissions,
			CreatedAt:     g.CreatedAt,
			ExpiresAt:     g.ExpiresAt,
			AccessCount:   len(g.AccessLog),
		}
		if n := len(g.AccessLog); n > 0 {
			last := g.AccessLog[n-1].Timestamp
			ag.LastAccess = &last
		}
		trail.Grants = append(trail.Grants, ag)
	}
	return trail, nil
}

// Stats aggregates grant lifecycle counts across all grants.
func (s *Service) Stats(ctx context.Context) (model.ShareStats, error) {
	grants, err := s.store.ListGrants(ctx)
	if err != nil {
		return model.ShareStats{}, err
	}
	now := s.clock()
	var stats model.ShareStats
	for _, g := range grants {
		stats.Total++
		switch g.Status {
		case model.GrantPending:
			stats.Pending++
		case model.GrantApproved:
			stats.Approved++
		case model.GrantDenied:
			stats.Denied++
		case model.GrantRevoked:
			stats.Revoked++
		}
		if now.After(g.ExpiresAt) {
			stats.Expired++
		}
		if s.IsShareValid(g) {
			stats.Active++
		}
	}
	return stats, nil
}
