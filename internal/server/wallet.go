package server

import (
	"net/http"

	"github.com/signatura/signatura-core-go/internal/model"
	"github.com/signatura/signatura-core-go/internal/wallet"
)

func (h *Handler) handleWalletAdd(w http.ResponseWriter, r *http.Request) {
	var doc model.SignedDocument
	if !h.decode(w, r, &doc) {
		return
	}
	if doc.DocumentID == "" {
		h.writeErrorWithRequest(w, r, http.StatusBadRequest, "SIGNATURA_VALIDATION", "documentId is required", nil)
		return
	}
	entry, err := h.wallet.Add(r.Context(), doc, r.PathValue("ownerId"))
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	payload := h.writeSuccess(w, http.StatusCreated, entry, nil, r)
	h.remember(r, w, http.StatusCreated, payload)
	walletAdditions.Inc()
	walletVerifications.WithLabelValues(entry.VerificationStatus).Inc()
}

// handleWalletList serves the owner's entries. Query parameters narrow the
// result: type= filters by credential type, verified=true keeps only entries
// whose ingestion verification passed, q= runs a substring search.
func (h *Handler) handleWalletList(w http.ResponseWriter, r *http.Request) {
	ownerID := r.PathValue("ownerId")
	q := r.URL.Query()

	var (
		entries []model.WalletEntry
		err     error
	)
	switch {
	case q.Get("q") != "":
		entries, err = h.wallet.Search(r.Context(), ownerID, q.Get("q"))
	case q.Get("type") != "":
		entries, err = h.wallet.ByType(r.Context(), ownerID, q.Get("type"))
	case q.Get("verified") == "true":
		entries, err = h.wallet.Verified(r.Context(), ownerID)
	default:
		entries, err = h.wallet.List(r.Context(), ownerID)
	}
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	if entries == nil {
		entries = []model.WalletEntry{}
	}
	h.writeSuccess(w, http.StatusOK, entries, map[string]int{"count": len(entries)}, r)
}

func (h *Handler) handleWalletGet(w http.ResponseWriter, r *http.Request) {
	entry, err := h.wallet.Get(r.Context(), r.PathValue("ownerId"), r.PathValue("id"))
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	h.writeSuccess(w, http.StatusOK, entry, nil, r)
}

func (h *Handler) handleWalletDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.wallet.Delete(r.Context(), r.PathValue("ownerId"), r.PathValue("id")); err != nil {
		h.mapError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleWalletPermissions(w http.ResponseWriter, r *http.Request) {
	var patch wallet.PermissionsPatch
	if !h.decode(w, r, &patch) {
		return
	}
	entry, err := h.wallet.UpdatePermissions(r.Context(), r.PathValue("ownerId"), r.PathValue("id"), patch)
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	h.writeSuccess(w, http.StatusOK, entry, nil, r)
}

type visibilityRequest struct {
	Visibility string `json:"visibility"`
}

func (h *Handler) handleWalletVisibility(w http.ResponseWriter, r *http.Request) {
	var req visibilityRequest
	if !h.decode(w, r, &req) {
		return
	}
	entry, err := h.wallet.SetVisibility(r.Context(), r.PathValue("ownerId"), r.PathValue("id"), req.Visibility)
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	h.writeSuccess(w, http.StatusOK, entry, nil, r)
}

func (h *Handler) handleWalletReverify(w http.ResponseWriter, r *http.Request) {
	entry, err := h.wallet.Reverify(r.Context(), r.PathValue("ownerId"), r.PathValue("id"))
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	h.writeSuccess(w, http.StatusOK, entry, nil, r)
	walletVerifications.WithLabelValues(entry.VerificationStatus).Inc()
}

func (h *Handler) handleWalletStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.wallet.Stats(r.Context(), r.PathValue("ownerId"))
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	h.writeSuccess(w, http.StatusOK, stats, nil, r)
}

func (h *Handler) handleWalletClear(w http.ResponseWriter, r *http.Request) {
	if err := h.wallet.Clear(r.Context(), r.PathValue("ownerId")); err != nil {
		h.mapError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
