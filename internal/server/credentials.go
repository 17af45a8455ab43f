package server

import (
	"crypto/ed25519"
	"encoding/base64"
	"net/http"

	"github.com/signatura/signatura-core-go/internal/issuance"
	"github.com/signatura/signatura-core-go/internal/sigengine"
)

// handleKeyGenerate mints a fresh ed25519 keypair for an issuer or owner.
// The secret key is returned once and never stored server-side.
func (h *Handler) handleKeyGenerate(w http.ResponseWriter, r *http.Request) {
	kp, err := sigengine.GenerateKeyPair()
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	data := map[string]string{
		"publicKey": sigengine.EncodePublicKey(kp.PublicKey),
		"secretKey": base64.StdEncoding.EncodeToString(kp.SecretKey),
	}
	payload := h.writeSuccess(w, http.StatusCreated, data, nil, r)
	h.remember(r, w, http.StatusCreated, payload)
	credentialKeysGenerated.Inc()
}

type issueRequest struct {
	issuance.Input
	IssuerSecretKey string `json:"issuerSecretKey"`
}

// decodeSecretKey parses the issuer's base64 secret key. The public key is
// derived from it, so a caller can never pair a signature with a foreign key.
func decodeSecretKey(raw string) (ed25519.PrivateKey, ed25519.PublicKey, bool) {
	keyBytes, err := base64.StdEncoding.DecodeString(raw)
	if err != nil || len(keyBytes) != ed25519.PrivateKeySize {
		return nil, nil, false
	}
	priv := ed25519.PrivateKey(keyBytes)
	return priv, priv.Public().(ed25519.PublicKey), true
}

func (h *Handler) handleCredentialIssue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if !h.decode(w, r, &req) {
		return
	}
	secret, public, ok := decodeSecretKey(req.IssuerSecretKey)
	if !ok {
		h.writeErrorWithRequest(w, r, http.StatusBadRequest, "SIGNATURA_VALIDATION", "issuerSecretKey must be a base64 ed25519 private key", nil)
		return
	}
	doc, err := h.issuance.Issue(r.Context(), req.Input, secret, public)
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	payload := h.writeSuccess(w, http.StatusCreated, doc, nil, r)
	h.remember(r, w, http.StatusCreated, payload)
	credentialsIssued.Inc()
}

type batchIssueRequest struct {
	Credentials     []issuance.Input `json:"credentials"`
	IssuerSecretKey string           `json:"issuerSecretKey"`
}

func (h *Handler) handleCredentialBatchIssue(w http.ResponseWriter, r *http.Request) {
	var req batchIssueRequest
	if !h.decode(w, r, &req) {
		return
	}
	if len(req.Credentials) == 0 {
		h.writeErrorWithRequest(w, r, http.StatusBadRequest, "SIGNATURA_VALIDATION", "credentials must not be empty", nil)
		return
	}
	secret, public, ok := decodeSecretKey(req.IssuerSecretKey)
	if !ok {
		h.writeErrorWithRequest(w, r, http.StatusBadRequest, "SIGNATURA_VALIDATION", "issuerSecretKey must be a base64 ed25519 private key", nil)
		return
	}
	result := h.issuance.BatchIssue(r.Context(), req.Credentials, secret, public)
	status := http.StatusCreated
	if result.Summary.Successful == 0 {
		status = http.StatusUnprocessableEntity
	} else if result.Summary.Failed > 0 {
		status = http.StatusMultiStatus
	}
	payload := h.writeSuccess(w, status, result, nil, r)
	h.remember(r, w, status, payload)
	credentialsIssued.Add(float64(result.Summary.Successful))
}

func (h *Handler) handleCredentialGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	doc, err := h.store.GetDocument(r.Context(), id)
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	revoked, err := h.issuance.IsRevoked(r.Context(), id)
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	h.writeSuccess(w, http.StatusOK, map[string]any{
		"document": doc,
		"revoked":  revoked,
	}, nil, r)
}

type revokeRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) handleCredentialRevoke(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if !h.decode(w, r, &req) {
		return
	}
	rev, err := h.issuance.Revoke(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	payload := h.writeSuccess(w, http.StatusOK, rev, nil, r)
	h.remember(r, w, http.StatusOK, payload)
	credentialsRevoked.Inc()
}

// handleAuditExport emits the compliance trail for one credential's grants.
// The export requires the credential to exist but is reporting-only.
func (h *Handler) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.store.GetDocument(r.Context(), id); err != nil {
		h.mapError(w, r, err)
		return
	}
	trail, err := h.consent.ExportAuditTrail(r.Context(), id)
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	h.writeSuccess(w, http.StatusOK, trail, nil, r)
}
