// Package wallet manages an owner's collection of signed documents. Every
// credential is re-verified against its embedded issuer key at ingestion;
// that check is the integrity gate of the whole system and is never skipped.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/signatura/signatura-core-go/internal/model"
	"github.com/signatura/signatura-core-go/internal/sigengine"
	"github.com/signatura/signatura-core-go/internal/storage"
)

// ErrInvalidVisibility is returned for visibility values outside
// private/shared/public.
var ErrInvalidVisibility = errors.New("invalid visibility")

// Store is the persistence surface the wallet needs: entries plus the
// revocation overlay.
type Store interface {
	storage.WalletStore
	storage.CredentialStore
}

// Service implements owner wallet operations over a keyed store.
type Service struct {
	store Store
	clock func() time.Time
}

// New creates a wallet Service.
func New(store Store) *Service {
	return &Service{store: store, clock: func() time.Time { return time.Now().UTC() }}
}

// Add ingests a signed document into the owner's wallet. The issuer
// signature is re-verified immediately and the result recorded as the
// entry's verification status; a credential is never accepted as verified
// without this check. Later status changes require an explicit Reverify.
func (s *Service) Add(ctx context.Context, doc model.SignedDocument, ownerID string) (model.WalletEntry, error) {
	status := model.VerificationInvalid
	if sigengine.VerifySignature(doc.DocumentData, doc.Issuer.Signature, doc.Issuer.PublicKey) {
		status = model.VerificationVerified
	}

	entry := model.WalletEntry{
		OwnerID:            ownerID,
		Document:           doc,
		AddedToWallet:      s.clock(),
		Permissions:        model.DefaultPermissions(),
		Visibility:         model.VisibilityPrivate,
		VerificationStatus: status,
	}
	if err := s.store.PutEntry(ctx, entry); err != nil {
		return model.WalletEntry{}, fmt.Errorf("persist wallet entry: %w", err)
	}
	return entry, nil
}

// Get retrieves one entry from the owner's wallet.
func (s *Service) Get(ctx context.Context, ownerID, documentID string) (model.WalletEntry, error) {
	return s.store.GetEntry(ctx, ownerID, documentID)
}

// List retrieves every entry in the owner's wallet.
func (s *Service) List(ctx context.Context, ownerID string) ([]model.WalletEntry, error) {
	return s.store.ListEntries(ctx, ownerID)
}

// ByType filters the owner's entries by credential type.
func (s *Service) ByType(ctx context.Context, ownerID, credentialType string) ([]model.WalletEntry, error) {
	entries, err := s.store.ListEntries(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	var out []model.WalletEntry
	for _, e := range entries {
		if e.Document.DocumentData.CredentialType == credentialType {
			out = append(out, e)
		}
	}
	return out, nil
}

// Verified returns the entries whose ingestion verification passed.
func (s *Service) Verified(ctx context.Context, ownerID string) ([]model.WalletEntry, error) {
	entries, err := s.store.ListEntries(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	var out []model.WalletEntry
	for _, e := range entries {
		if e.VerificationStatus == model.VerificationVerified {
			out = append(out, e)
		}
	}
	return out, nil
}

// Search performs a case-insensitive substring match over recipient name,
// credential type, and the credential's data values.
func (s *Service) Search(ctx context.Context, ownerID, query string) ([]model.WalletEntry, error) {
	entries, err := s.store.ListEntries(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return entries, nil
	}
	var out []model.WalletEntry
	for _, e := range entries {
		if entryMatches(e, needle) {
			out = append(out, e)
		}
	}
	return out, nil
}

func entryMatches(e model.WalletEntry, needle string) bool {
	cred := e.Document.DocumentData
	if strings.Contains(strings.ToLower(cred.RecipientName), needle) {
		return true
	}
	if strings.Contains(strings.ToLower(cred.CredentialType), needle) {
		return true
	}
	for _, v := range cred.Data {
		if strings.Contains(strings.ToLower(fmt.Sprint(v)), needle) {
			return true
		}
	}
	return false
}

// PermissionsPatch is a partial permissions update; nil fields are left
// unchanged.
type PermissionsPatch struct {
	CanView     *bool `json:"canView"`
	CanPrint    *bool `json:"canPrint"`
	CanShare    *bool `json:"canShare"`
	CanDownload *bool `json:"canDownload"`
}

// UpdatePermissions merges the patch into the entry's permission flags.
// These flags are the owner's own display preferences; third-party access
// is authorized exclusively through share grant permissions.
func (s *Service) UpdatePermissions(ctx context.Context, ownerID, documentID string, patch PermissionsPatch) (model.WalletEntry, error) {
	entry, err := s.store.GetEntry(ctx, ownerID, documentID)
	if err != nil {
		return model.WalletEntry{}, err
	}
	if patch.CanView != nil {
		entry.Permissions.CanView = *patch.CanView
	}
	if patch.CanPrint != nil {
		entry.Permissions.CanPrint = *patch.CanPrint
	}
	if patch.CanShare != nil {
		entry.Permissions.CanShare = *patch.CanShare
	}
	if patch.CanDownload != nil {
		entry.Permissions.CanDownload = *patch.CanDownload
	}
	if err := s.store.PutEntry(ctx, entry); err != nil {
		return model.WalletEntry{}, fmt.Errorf("persist wallet entry: %w", err)
	}
	return entry, nil
}

// SetVisibility updates the entry's visibility flag.
func (s *Service) SetVisibility(ctx context.Context, ownerID, documentID, visibility string) (model.WalletEntry, error) {
	switch visibility {
	case model.VisibilityPrivate, model.VisibilityShared, model.VisibilityPublic:
	default:
		return model.WalletEntry{}, fmt.Errorf("%w: %q", ErrInvalidVisibility, visibility)
	}
	entry, err := s.store.GetEntry(ctx, ownerID, documentID)
	if err != nil {
		return model.WalletEntry{}, err
	}
	entry.Visibility = visibility
	if err := s.store.PutEntry(ctx, entry); err != nil {
		return model.WalletEntry{}, fmt.Errorf("persist wallet entry: %w", err)
	}
	return entry, nil
}

// RecordShare appends a grant id to the entry's shared-with list.
func (s *Service) RecordShare(ctx context.Context, ownerID, documentID, grantID string) error {
	entry, err := s.store.GetEntry(ctx, ownerID, documentID)
	if err != nil {
		return err
	}
	entry.SharedWith = append(entry.SharedWith, grantID)
	if entry.Visibility == model.VisibilityPrivate {
		entry.Visibility = model.VisibilityShared
	}
	return s.store.PutEntry(ctx, entry)
}

// Reverify re-runs signature verification on demand and records the result.
// Verification status is never silently re-derived; this is the explicit,
// auditable path.
func (s *Service) Reverify(ctx context.Context, ownerID, documentID string) (model.WalletEntry, error) {
	entry, err := s.store.GetEntry(ctx, ownerID, documentID)
	if err != nil {
		return model.WalletEntry{}, err
	}
	status := model.VerificationInvalid
	if sigengine.VerifySignature(entry.Document.DocumentData, entry.Document.Issuer.Signature, entry.Document.Issuer.PublicKey) {
		status = model.VerificationVerified
	}
	entry.VerificationStatus = status
	if err := s.store.PutEntry(ctx, entry); err != nil {
		return model.WalletEntry{}, fmt.Errorf("persist wallet entry: %w", err)
	}
	return entry, nil
}

// IsRevoked consults the issuer's revocation overlay for the credential
// backing a wallet entry. The overlay never alters the stored document or its
// signature verification result.
func (s *Service) IsRevoked(ctx context.Context, documentID string) (bool, error) {
	_, err := s.store.GetRevocation(ctx, documentID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Delete removes one entry from the owner's wallet.
func (s *Service) Delete(ctx context.Context, ownerID, documentID string) error {
	return s.store.DeleteEntry(ctx, ownerID, documentID)
}

// Clear removes every entry from the owner's wallet. Destructive; the
// boundary layer is responsible for confirmation.
func (s *Service) Clear(ctx context.Context, ownerID string) error {
	return s.store.ClearEntries(ctx, ownerID)
}

// Stats aggregates the owner's wallet: totals, verification outcomes,
// revocations from the issuer overlay, counts by type, and entries expiring
// within 30 days.
func (s *Service) Stats(ctx context.Context, ownerID string) (model.WalletStats, error) {
	entries, err := s.store.ListEntries(ctx, ownerID)
	if err != nil {
		return model.WalletStats{}, err
	}
	stats := model.WalletStats{ByType: make(map[string]int)}
	now := s.clock()
	horizon := now.Add(30 * 24 * time.Hour)
	for _, e := range entries {
		stats.Total++
		switch e.VerificationStatus {
		case model.VerificationVerified:
			stats.Verified++
		case model.VerificationInvalid:
			stats.Invalid++
		}
		revoked, err := s.IsRevoked(ctx, e.Document.DocumentID)
		if err != nil {
			return model.WalletStats{}, err
		}
		if revoked {
			stats.Revoked++
		}
		stats.ByType[e.Document.DocumentData.CredentialType]++
		if raw := e.Document.DocumentData.ExpiresAt; raw != "" {
			if exp, err := time.Parse(time.RFC3339, raw); err == nil {
				if exp.After(now) && exp.Before(horizon) {
					stats.ExpiringIn30Days++
				}
			}
		}
	}
	return stats, nil
}
