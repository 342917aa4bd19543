package httpserver

import (
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tiero/claw-cash-sub001/enclave"
)

// InternalHandler serves the enclave daemon's API. Every route requires the
// shared secret that authenticates the public API tier; end clients never
// reach this surface directly.
type InternalHandler struct {
	service *enclave.Service
	secret  string
	log     *slog.Logger
}

// NewInternalHandler creates the enclave daemon handler.
func NewInternalHandler(service *enclave.Service, secret string, log *slog.Logger) *InternalHandler {
	return &InternalHandler{service: service, secret: secret, log: log}
}

// RegisterRoutes mounts the internal API surface on the router.
func (h *InternalHandler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.requireSharedSecret)
		r.Post("/internal/sign", h.handleSign)
		r.Post("/internal/identities", h.handleCreateIdentity)
		r.Post("/internal/identities/{id}/destroy", h.handleDestroyIdentity)
		r.Post("/internal/identities/{id}/restore", h.handleRestoreIdentity)
		r.Post("/internal/backup/export", h.handleBackupExport)
		r.Get("/internal/attestation", h.handleAttestationStatus)
	})
}

// requireSharedSecret rejects requests without the shared secret header.
// The comparison is constant time.
func (h *InternalHandler) requireSharedSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		provided := r.Header.Get(enclave.AuthHeader)
		if subtle.ConstantTimeCompare([]byte(provided), []byte(h.secret)) != 1 {
			writeJSON(w, http.StatusUnauthorized, enclave.ErrorResponse{Error: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *InternalHandler) handleSign(w http.ResponseWriter, r *http.Request) {
	var req enclave.SignRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, enclave.ErrorResponse{Error: "malformed request body"})
		return
	}
	digest, err := hex.DecodeString(strings.TrimPrefix(req.Digest, "0x"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, enclave.ErrorResponse{Error: "digest must be hex"})
		return
	}

	signature, err := h.service.Sign(r.Context(), req.TicketToken, digest)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, enclave.SignResponse{Signature: hex.EncodeToString(signature)})
}

func (h *InternalHandler) handleCreateIdentity(w http.ResponseWriter, r *http.Request) {
	var req enclave.CreateIdentityRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil || req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, enclave.ErrorResponse{Error: "user_id is required"})
		return
	}

	identity, err := h.service.CreateIdentity(r.Context(), req.UserID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, enclave.NewIdentityResponse(identity))
}

func (h *InternalHandler) handleDestroyIdentity(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Destroy(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "destroyed"})
}

func (h *InternalHandler) handleRestoreIdentity(w http.ResponseWriter, r *http.Request) {
	var req enclave.RestoreRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, enclave.ErrorResponse{Error: "malformed request body"})
		return
	}
	publicKey, err := hex.DecodeString(strings.TrimPrefix(req.PublicKey, "0x"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, enclave.ErrorResponse{Error: "public_key must be hex"})
		return
	}

	if err := h.service.Restore(r.Context(), chi.URLParam(r, "id"), publicKey); err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "restored"})
}

type backupExportRequest struct {
	IdentityID string `json:"identity_id"`
}

func (h *InternalHandler) handleBackupExport(w http.ResponseWriter, r *http.Request) {
	var req backupExportRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil || req.IdentityID == "" {
		writeJSON(w, http.StatusBadRequest, enclave.ErrorResponse{Error: "identity_id is required"})
		return
	}

	location, err := h.service.Export(r.Context(), req.IdentityID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, enclave.ExportResponse{Location: location})
}

func (h *InternalHandler) handleAttestationStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.AttestationStatus(r.Context())
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
