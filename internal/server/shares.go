package server

import (
	"errors"
	"net/http"

	"github.com/signatura/signatura-core-go/internal/consent"
	"github.com/signatura/signatura-core-go/internal/model"
	"github.com/signatura/signatura-core-go/internal/storage"
)

type shareCreateRequest struct {
	CredentialID   string             `json:"credentialId"`
	OwnerID        string             `json:"ownerId"`
	OwnerPublicKey string             `json:"ownerPublicKey"`
	VerifierEmail  string             `json:"verifierEmail"`
	Permissions    *model.Permissions `json:"permissions"`
	ExpiresInDays  int                `json:"expiresInDays"`
	RequireOTP     bool               `json:"requireOtp"`
}

type shareCreateResponse struct {
	Grant    model.ShareGrant `json:"grant"`
	ShareURL string           `json:"shareUrl"`
}

func (h *Handler) handleShareCreate(w http.ResponseWriter, r *http.Request) {
	var req shareCreateRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.CredentialID != "" {
		if _, err := h.store.GetDocument(r.Context(), req.CredentialID); err != nil {
			h.mapError(w, r, err)
			return
		}
	}
	grant, shareURL, err := h.consent.CreateShareRequest(r.Context(), consent.CreateInput{
		CredentialID:   req.CredentialID,
		OwnerPublicKey: req.OwnerPublicKey,
		VerifierEmail:  req.VerifierEmail,
		Permissions:    req.Permissions,
		ExpiresInDays:  req.ExpiresInDays,
		RequireOTP:     req.RequireOTP,
	})
	if err != nil {
		h.mapError(w, r, err)
		return
	}

	// Reflect the share on the owner's wallet entry when the owner id is
	// known. A missing entry is not an error; the credential may live only
	// on the issuance side.
	if req.OwnerID != "" {
		if err := h.wallet.RecordShare(r.Context(), req.OwnerID, req.CredentialID, grant.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			h.mapError(w, r, err)
			return
		}
	}

	payload := h.writeSuccess(w, http.StatusCreated, shareCreateResponse{Grant: grant, ShareURL: shareURL}, nil, r)
	h.remember(r, w, http.StatusCreated, payload)
	sharesCreated.Inc()
}

// handleShareList serves grants for an owner key or a credential id. An
// owner listing accepts state=pending|active|expired to narrow the result.
func (h *Handler) handleShareList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ctx := r.Context()

	var (
		grants []model.ShareGrant
		err    error
	)
	switch {
	case q.Get("credentialId") != "":
		grants, err = h.store.ListGrantsByCredential(ctx, q.Get("credentialId"))
	case q.Get("ownerKey") != "":
		owner := q.Get("ownerKey")
		switch q.Get("state") {
		case "pending":
			grants, err = h.consent.Pending(ctx, owner)
		case "active":
			grants, err = h.consent.Active(ctx, owner)
		case "expired":
			grants, err = h.consent.Expired(ctx, owner)
		case "":
			grants, err = h.store.ListGrantsByOwner(ctx, owner)
		default:
			h.writeErrorWithRequest(w, r, http.StatusBadRequest, "SIGNATURA_VALIDATION", "state must be pending, active, or expired", nil)
			return
		}
	default:
		h.writeErrorWithRequest(w, r, http.StatusBadRequest, "SIGNATURA_VALIDATION", "ownerKey or credentialId is required", nil)
		return
	}
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	if grants == nil {
		grants = []model.ShareGrant{}
	}
	h.writeSuccess(w, http.StatusOK, grants, map[string]int{"count": len(grants)}, r)
}

func (h *Handler) handleShareStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.consent.Stats(r.Context())
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	h.writeSuccess(w, http.StatusOK, stats, nil, r)
}

// handleShareCard serves the payload QR and email renderers embed: the
// credential id, its content hash, and the public share link. Rendering
// itself happens client-side.
func (h *Handler) handleShareCard(w http.ResponseWriter, r *http.Request) {
	grant, err := h.consent.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	doc, err := h.store.GetDocument(r.Context(), grant.CredentialID)
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	h.writeSuccess(w, http.StatusOK, map[string]string{
		"documentId":   doc.DocumentID,
		"documentHash": doc.DocumentHash,
		"shareUrl":     h.consent.ShareURL(grant.Token.Token),
	}, nil, r)
}

func (h *Handler) handleShareGet(w http.ResponseWriter, r *http.Request) {
	grant, err := h.consent.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	h.writeSuccess(w, http.StatusOK, grant, nil, r)
}

func (h *Handler) handleShareApprove(w http.ResponseWriter, r *http.Request) {
	grant, err := h.consent.Approve(r.Context(), r.PathValue("id"))
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	payload := h.writeSuccess(w, http.StatusOK, grant, nil, r)
	h.remember(r, w, http.StatusOK, payload)
	shareTransitions.WithLabelValues(model.GrantApproved).Inc()
}

type shareDecisionRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) handleShareDeny(w http.ResponseWriter, r *http.Request) {
	var req shareDecisionRequest
	if !h.decode(w, r, &req) {
		return
	}
	grant, err := h.consent.Deny(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	payload := h.writeSuccess(w, http.StatusOK, grant, nil, r)
	h.remember(r, w, http.StatusOK, payload)
	shareTransitions.WithLabelValues(model.GrantDenied).Inc()
}

func (h *Handler) handleShareRevoke(w http.ResponseWriter, r *http.Request) {
	var req shareDecisionRequest
	if !h.decode(w, r, &req) {
		return
	}
	grant, err := h.consent.Revoke(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	payload := h.writeSuccess(w, http.StatusOK, grant, nil, r)
	h.remember(r, w, http.StatusOK, payload)
	shareTransitions.WithLabelValues(model.GrantRevoked).Inc()
}
