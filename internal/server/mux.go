// Package server contains HTTP handlers and middleware for the credential
// core. Handlers are thin: they decode requests, call the domain services,
// and map typed errors to stable wire codes.
package server

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/signatura/signatura-core-go/internal/config"
	"github.com/signatura/signatura-core-go/internal/consent"
	"github.com/signatura/signatura-core-go/internal/issuance"
	"github.com/signatura/signatura-core-go/internal/share"
	"github.com/signatura/signatura-core-go/internal/sigengine"
	"github.com/signatura/signatura-core-go/internal/storage"
	"github.com/signatura/signatura-core-go/internal/wallet"
)

type contextKey string

const (
	contextKeyCorrelationID contextKey = "correlationId"

	headerContentType    = "Content-Type"
	headerCorrelationID  = "X-Correlation-Id"
	headerIdempotencyKey = "Idempotency-Key"

	contentTypeJSON = "application/json"
)

// Handler wires HTTP endpoints using net/http.
type Handler struct {
	cfg      config.Config
	store    storage.Store
	logger   *slog.Logger
	issuance *issuance.Service
	wallet   *wallet.Service
	consent  *consent.Service
	share    *share.Service
	clock    func() time.Time
	router   *http.ServeMux
}

// New creates a Handler using the supplied dependencies.
func New(cfg config.Config, store storage.Store, logger *slog.Logger) (*Handler, error) {
	if len(cfg.TokenSigningKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("token signing key must be %d bytes", ed25519.PrivateKeySize)
	}
	if logger == nil {
		logger = slog.Default()
	}

	consentSvc := consent.New(store, cfg.ShareBaseURL, cfg.ShareTTLDays)
	shareSvc, err := share.New(store, consentSvc, ed25519.PrivateKey(cfg.TokenSigningKey), cfg.TokenIssuer, cfg.OTPTTL, cfg.SessionTTL)
	if err != nil {
		return nil, err
	}

	h := &Handler{
		cfg:      cfg,
		store:    store,
		logger:   logger,
		issuance: issuance.New(store),
		wallet:   wallet.New(store),
		consent:  consentSvc,
		share:    shareSvc,
		clock:    func() time.Time { return time.Now().UTC() },
		router:   http.NewServeMux(),
	}
	h.registerRoutes()
	return h, nil
}

// Router returns the *http.ServeMux with all routes registered.
func (h *Handler) Router() *http.ServeMux {
	return h.router
}

func (h *Handler) handle(pattern string, fn func(http.ResponseWriter, *http.Request)) {
	h.router.Handle(pattern, h.loggingMiddleware(h.timeoutMiddleware(h.corsMiddleware(h.wrap(fn)))))
}

func (h *Handler) registerRoutes() {
	h.router.Handle("/health", h.loggingMiddleware(http.HandlerFunc(h.health)))
	h.router.Handle("/ready", h.loggingMiddleware(http.HandlerFunc(h.readyHandler)))
	h.router.Handle("/metrics", h.loggingMiddleware(http.HandlerFunc(h.metricsHandler)))

	// method patterns below never match OPTIONS, so preflight gets its own
	// catch-all route
	h.router.Handle("OPTIONS /v1/", h.corsMiddleware(http.NotFoundHandler()))

	h.handle("POST /v1/keys", h.handleKeyGenerate)

	h.handle("POST /v1/credentials", h.handleCredentialIssue)
	h.handle("POST /v1/credentials/batch", h.handleCredentialBatchIssue)
	h.handle("GET /v1/credentials/{id}", h.handleCredentialGet)
	h.handle("POST /v1/credentials/{id}/revoke", h.handleCredentialRevoke)
	h.handle("GET /v1/credentials/{id}/audit", h.handleAuditExport)

	h.handle("POST /v1/wallet/{ownerId}/credentials", h.handleWalletAdd)
	h.handle("GET /v1/wallet/{ownerId}/credentials", h.handleWalletList)
	h.handle("GET /v1/wallet/{ownerId}/credentials/{id}", h.handleWalletGet)
	h.handle("DELETE /v1/wallet/{ownerId}/credentials/{id}", h.handleWalletDelete)
	h.handle("PATCH /v1/wallet/{ownerId}/credentials/{id}/permissions", h.handleWalletPermissions)
	h.handle("POST /v1/wallet/{ownerId}/credentials/{id}/visibility", h.handleWalletVisibility)
	h.handle("POST /v1/wallet/{ownerId}/credentials/{id}/reverify", h.handleWalletReverify)
	h.handle("GET /v1/wallet/{ownerId}/stats", h.handleWalletStats)
	h.handle("DELETE /v1/wallet/{ownerId}", h.handleWalletClear)

	h.handle("POST /v1/shares", h.handleShareCreate)
	h.handle("GET /v1/shares", h.handleShareList)
	h.handle("GET /v1/shares/stats", h.handleShareStats)
	h.handle("GET /v1/shares/{id}", h.handleShareGet)
	h.handle("GET /v1/shares/{id}/card", h.handleShareCard)
	h.handle("POST /v1/shares/{id}/approve", h.handleShareApprove)
	h.handle("POST /v1/shares/{id}/deny", h.handleShareDeny)
	h.handle("POST /v1/shares/{id}/revoke", h.handleShareRevoke)

	h.handle("GET /v1/shared/{token}", h.handleSharedResolve)
	h.handle("POST /v1/shared/{token}/otp", h.handleSharedOTPRequest)
	h.handle("POST /v1/shared/{token}/otp/verify", h.handleSharedOTPVerify)
	h.handle("POST /v1/shared/{token}/access", h.handleSharedAccess)
}

type responseEnvelope struct {
	Data  any            `json:"data,omitempty"`
	Meta  any            `json:"meta,omitempty"`
	Error *errorEnvelope `json:"error,omitempty"`
}

type errorEnvelope struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	Details       any    `json:"details,omitempty"`
	CorrelationID string `json:"correlationId"`
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// wrap attaches the correlation id, replays idempotent responses, and
// recovers panics for one handler.
func (h *Handler) wrap(next func(http.ResponseWriter, *http.Request)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := h.ensureCorrelationID(w, r)
		ctx := context.WithValue(r.Context(), contextKeyCorrelationID, correlationID)
		r = r.WithContext(ctx)
		w.Header().Set(headerContentType, contentTypeJSON)

		if h.tryReplay(w, r) {
			return
		}

		defer func() {
			if rec := recover(); rec != nil {
				h.logger.Error("panic recovered", "panic", rec, "correlationId", correlationID)
				h.writeError(w, http.StatusInternalServerError, "SIGNATURA_INTERNAL", "internal server error", correlationID, nil)
			}
		}()

		next(w, r)
	})
}

func (h *Handler) ensureCorrelationID(w http.ResponseWriter, r *http.Request) string {
	id := strings.TrimSpace(r.Header.Get(headerCorrelationID))
	if id == "" {
		id = uuid.NewString()
	}
	w.Header().Set(headerCorrelationID, id)
	return id
}

func (h *Handler) tryReplay(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet {
		return false
	}
	key := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
	if key == "" {
		return false
	}
	cached, ok := h.store.Recall(r.Context(), key)
	if !ok {
		return false
	}
	for k, v := range cached.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(cached.StatusCode)
	_, _ = w.Write(cached.Body)
	return true
}

func (h *Handler) remember(r *http.Request, w http.ResponseWriter, status int, payload []byte) {
	if r.Method == http.MethodGet {
		return
	}
	key := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
	if key == "" {
		return
	}
	headers := make(map[string]string, len(w.Header()))
	for k := range w.Header() {
		headers[k] = w.Header().Get(k)
	}
	_ = h.store.Remember(r.Context(), key, storage.StoredResponse{
		StatusCode: status,
		Body:       append([]byte(nil), payload...),
		Headers:    headers,
		ExpiresAt:  h.clock().Add(24 * time.Hour),
	})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeErrorWithRequest(w, r, http.StatusBadRequest, "SIGNATURA_VALIDATION", "invalid JSON body", nil)
		return false
	}
	return true
}

// mapError translates typed domain errors to HTTP statuses and stable wire
// codes. The public share path masks not-found and expired identically so
// token guessing reveals nothing.
func (h *Handler) mapError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		issueVErr *issuance.ValidationError
		shareVErr *consent.ValidationError
		signErr   *sigengine.SigningError
		stateErr  *consent.StateTransitionError
	)
	switch {
	case errors.As(err, &issueVErr):
		h.writeErrorWithRequest(w, r, http.StatusBadRequest, "SIGNATURA_VALIDATION", issueVErr.Error(), nil)
	case errors.As(err, &shareVErr):
		h.writeErrorWithRequest(w, r, http.StatusBadRequest, "SIGNATURA_VALIDATION", shareVErr.Error(), nil)
	case errors.Is(err, wallet.ErrInvalidVisibility):
		h.writeErrorWithRequest(w, r, http.StatusBadRequest, "SIGNATURA_VALIDATION", err.Error(), nil)
	case errors.As(err, &signErr):
		h.writeErrorWithRequest(w, r, http.StatusUnprocessableEntity, "SIGNATURA_SIGNING", "cryptographic operation failed", nil)
	case errors.As(err, &stateErr):
		h.writeErrorWithRequest(w, r, http.StatusConflict, "SIGNATURA_STATE", stateErr.Error(), nil)
	case errors.Is(err, share.ErrNotAccessible):
		h.writeErrorWithRequest(w, r, http.StatusNotFound, "SIGNATURA_NOT_ACCESSIBLE", "share not found or expired", nil)
	case errors.Is(err, share.ErrOTPRequired):
		h.writeErrorWithRequest(w, r, http.StatusUnauthorized, "SIGNATURA_OTP_REQUIRED", "otp verification required", nil)
	case errors.Is(err, share.ErrOTPInvalid):
		h.writeErrorWithRequest(w, r, http.StatusUnauthorized, "SIGNATURA_OTP_INVALID", "otp code invalid or expired", nil)
	case errors.Is(err, share.ErrTooManyAttempts):
		h.writeErrorWithRequest(w, r, http.StatusTooManyRequests, "SIGNATURA_OTP_LOCKED", "too many otp attempts", nil)
	case errors.Is(err, share.ErrPermissionDenied):
		h.writeErrorWithRequest(w, r, http.StatusForbidden, "SIGNATURA_FORBIDDEN", "action not permitted", nil)
	case errors.Is(err, storage.ErrNotFound):
		h.writeErrorWithRequest(w, r, http.StatusNotFound, "SIGNATURA_NOT_FOUND", "resource not found", nil)
	case errors.Is(err, storage.ErrConflict):
		h.writeErrorWithRequest(w, r, http.StatusConflict, "SIGNATURA_CONFLICT", "resource conflict", nil)
	default:
		h.logger.Error("request failed", "error", err, "correlationId", correlationIDFrom(r.Context()))
		h.writeErrorWithRequest(w, r, http.StatusInternalServerError, "SIGNATURA_INTERNAL", "internal server error", nil)
	}
}

func (h *Handler) writeSuccess(w http.ResponseWriter, status int, data any, meta any, r *http.Request) []byte {
	env := responseEnvelope{Data: data, Meta: meta}
	payload := mustJSON(env)
	w.WriteHeader(status)
	if _, err := w.Write(payload); err != nil {
		h.logger.Warn("write success failed", "error", err, "correlationId", correlationIDFrom(r.Context()))
	}
	return payload
}

func (h *Handler) writeErrorWithRequest(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	h.writeError(w, status, code, message, correlationIDFrom(r.Context()), details)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message, correlationID string, details any) {
	env := responseEnvelope{Error: &errorEnvelope{Code: code, Message: message, Details: details, CorrelationID: correlationID}}
	payload := mustJSON(env)
	w.WriteHeader(status)
	if _, err := w.Write(payload); err != nil {
		h.logger.Warn("write error failed", "error", err, "correlationId", correlationID)
	}
}

func mustJSON(v any) []byte {
	payload, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return payload
}

func correlationIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(contextKeyCorrelationID).(string); ok {
		return v
	}
	return ""
}
