package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/signatura/signatura-core-go/internal/model"
)

// sharedPreview is the metadata a verifier sees before content access. The
// credential body itself is only served through the access endpoint, which
// enforces the grant's permission gate and audit logging.
type sharedPreview struct {
	CredentialID   string            `json:"credentialId"`
	CredentialType string            `json:"credentialType"`
	RecipientName  string            `json:"recipientName,omitempty"`
	Status         string            `json:"status"`
	Permissions    model.Permissions `json:"permissions"`
	ExpiresAt      time.Time         `json:"expiresAt"`
	OTPRequired    bool              `json:"otpRequired"`
}

func (h *Handler) handleSharedResolve(w http.ResponseWriter, r *http.Request) {
	res, err := h.share.Resolve(r.Context(), r.PathValue("token"))
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	h.writeSuccess(w, http.StatusOK, sharedPreview{
		CredentialID:   res.Document.DocumentID,
		CredentialType: res.Document.DocumentData.CredentialType,
		RecipientName:  res.Document.DocumentData.RecipientName,
		Status:         res.Grant.Status,
		Permissions:    res.Grant.Permissions,
		ExpiresAt:      res.Grant.ExpiresAt,
		OTPRequired:    res.OTPRequired,
	}, nil, r)
	sharedResolves.Inc()
}

type otpRequest struct {
	Email string `json:"email"`
}

// handleSharedOTPRequest issues a step-up challenge. The code goes to the
// verifier out of band; the response never carries it. In dev the code is
// logged so local flows can complete without a mail sink.
func (h *Handler) handleSharedOTPRequest(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		h.writeErrorWithRequest(w, r, http.StatusBadRequest, "SIGNATURA_VALIDATION", "email is required", nil)
		return
	}
	ch, err := h.share.RequestOTP(r.Context(), r.PathValue("token"), req.Email)
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	if h.cfg.Env == "dev" {
		h.logger.Info("otp challenge issued", "email", ch.Email, "code", ch.Code, "correlationId", correlationIDFrom(r.Context()))
	}
	h.writeSuccess(w, http.StatusAccepted, map[string]any{
		"email":     ch.Email,
		"expiresAt": ch.ExpiresAt,
	}, nil, r)
	otpChallengesIssued.Inc()
}

type otpVerifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

func (h *Handler) handleSharedOTPVerify(w http.ResponseWriter, r *http.Request) {
	var req otpVerifyRequest
	if !h.decode(w, r, &req) {
		return
	}
	accessToken, err := h.share.VerifyOTP(r.Context(), r.PathValue("token"), req.Email, req.Code)
	if err != nil {
		otpVerifications.WithLabelValues("failure").Inc()
		h.mapError(w, r, err)
		return
	}
	otpVerifications.WithLabelValues("success").Inc()
	h.writeSuccess(w, http.StatusOK, map[string]any{
		"accessToken":      accessToken,
		"tokenType":        "Bearer",
		"expiresInSeconds": int(h.cfg.SessionTTL.Seconds()),
	}, nil, r)
}

type accessRequest struct {
	Action string `json:"action"`
}

// handleSharedAccess serves one content operation through a share. The OTP
// access token, when the grant demands one, arrives as a bearer credential.
func (h *Handler) handleSharedAccess(w http.ResponseWriter, r *http.Request) {
	var req accessRequest
	if !h.decode(w, r, &req) {
		return
	}
	action := strings.TrimSpace(req.Action)
	if action == "" {
		action = model.ActionView
	}
	doc, err := h.share.Access(r.Context(), r.PathValue("token"), action, bearerToken(r), r.UserAgent())
	if err != nil {
		h.mapError(w, r, err)
		return
	}
	h.writeSuccess(w, http.StatusOK, doc, nil, r)
	sharedAccesses.WithLabelValues(action).Inc()
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return auth[len(prefix):]
	}
	return ""
}
