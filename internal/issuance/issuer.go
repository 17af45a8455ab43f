// Package issuance builds credentials from issuer-supplied data and produces
// signed documents via the signature engine. It also tracks revocation as an
// overlay so signed documents stay immutable.
package issuance

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/signatura/signatura-core-go/internal/model"
	"github.com/signatura/signatura-core-go/internal/sigengine"
	"github.com/signatura/signatura-core-go/internal/storage"
)

// DocumentVersion tags the signed document format.
const DocumentVersion = "1.0"

// ValidationError indicates issuer input is missing a required field or is
// otherwise malformed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

// Input is the issuer-supplied credential data. ID, issuance timestamp, and
// status are assigned by the service.
type Input struct {
	CredentialType string         `json:"credentialType"`
	RecipientEmail string         `json:"recipientEmail"`
	RecipientName  string         `json:"recipientName"`
	TemplateID     string         `json:"templateId"`
	Data           map[string]any `json:"data"`
	ExpiresAt      string         `json:"expiresAt"` // RFC3339, optional
}

// Service issues, batch-issues, and revokes credentials.
type Service struct {
	store storage.CredentialStore
	clock func() time.Time
}

// New creates an issuance Service over the given credential store.
func New(store storage.CredentialStore) *Service {
	return &Service{store: store, clock: func() time.Time { return time.Now().UTC() }}
}

func (s *Service) validate(in Input) error {
	if strings.TrimSpace(in.RecipientEmail) == "" {
		return &ValidationError{Field: "recipientEmail", Reason: "is required"}
	}
	if strings.TrimSpace(in.CredentialType) == "" {
		return &ValidationError{Field: "credentialType", Reason: "is required"}
	}
	if in.ExpiresAt != "" {
		if _, err := time.Parse(time.RFC3339, in.ExpiresAt); err != nil {
			return &ValidationError{Field: "expiresAt", Reason: "must be RFC3339"}
		}
	}
	return nil
}

// Issue assembles a Credential from the input, signs it, persists the signed
// document, and returns it. The credential gets a fresh unique id; editing an
// issued credential always means re-issuing under a new id.
func (s *Service) Issue(ctx context.Context, in Input, secretKey ed25519.PrivateKey, publicKey ed25519.PublicKey) (model.SignedDocument, error) {
	if err := s.validate(in); err != nil {
		return model.SignedDocument{}, err
	}

	cred := model.Credential{
		ID:             uuid.NewString(),
		CredentialType: strings.TrimSpace(in.CredentialType),
		RecipientEmail: strings.TrimSpace(in.RecipientEmail),
		RecipientName:  strings.TrimSpace(in.RecipientName),
		TemplateID:     strings.TrimSpace(in.TemplateID),
		Data:           in.Data,
		IssuedAt:       s.clock().Format(time.RFC3339),
		ExpiresAt:      in.ExpiresAt,
		Status:         model.CredentialStatusIssued,
	}

	sig, err := sigengine.SignDocument(cred, secretKey)
	if err != nil {
		return model.SignedDocument{}, err
	}

	doc := model.SignedDocument{
		DocumentID:   cred.ID,
		DocumentData: cred,
		Issuer: model.IssuerProof{
			PublicKey: sigengine.EncodePublicKey(publicKey),
			Signature: sig.Signature,
		},
		DocumentHash: sig.DocumentHash,
		SignedAt:     sig.SignedAt.Format(time.RFC3339),
		Version:      DocumentVersion,
		IsValid:      true,
	}

	if err := s.store.PutDocument(ctx, doc); err != nil {
		return model.SignedDocument{}, fmt.Errorf("persist document: %w", err)
	}
	return doc, nil
}

// BatchIssue issues each input independently. A failure in one entry never
// aborts or affects the others; failures are reported per index in the
// structured result.
func (s *Service) BatchIssue(ctx context.Context, inputs []Input, secretKey ed25519.PrivateKey, publicKey ed25519.PublicKey) model.BatchResult {
	result := model.BatchResult{Summary: model.BatchSummary{Total: len(inputs)}}
	for i, in := range inputs {
		doc, err := s.Issue(ctx, in, secretKey, publicKey)
		if err != nil {
			result.Failed = append(result.Failed, model.BatchFailure{
				Index: i,
				Email: in.RecipientEmail,
				Error: err.Error(),
			})
			continue
		}
		result.Issued = append(result.Issued, doc)
	}
	result.Summary.Successful = len(result.Issued)
	result.Summary.Failed = len(result.Failed)
	return result
}

// Revoke records a revocation marker for an issued credential. The signed
// document itself is never mutated; status logic consults the overlay.
func (s *Service) Revoke(ctx context.Context, credentialID, reason string) (model.Revocation, error) {
	if _, err := s.store.GetDocument(ctx, credentialID); err != nil {
		return model.Revocation{}, err
	}
	rev := model.Revocation{
		CredentialID: credentialID,
		Reason:       reason,
		RevokedAt:    s.clock(),
	}
	if err := s.store.PutRevocation(ctx, rev); err != nil {
		return model.Revocation{}, fmt.Errorf("persist revocation: %w", err)
	}
	return rev, nil
}

// IsRevoked reports whether a revocation marker exists for the credential.
func (s *Service) IsRevoked(ctx context.Context, credentialID string) (bool, error) {
	_, err := s.store.GetRevocation(ctx, credentialID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
