package httpserver

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tiero/claw-cash-sub001/auth"
	"github.com/tiero/claw-cash-sub001/enclave"
	"github.com/tiero/claw-cash-sub001/interfaces"
	"github.com/tiero/claw-cash-sub001/ticket"
)

type sessionContextKey struct{}

// PublicHandlerConfig carries the public tier's admission policy.
type PublicHandlerConfig struct {
	// UserLimit and UserWindow bound authenticated actions per user.
	UserLimit  int
	UserWindow time.Duration
}

// PublicHandler serves the client-facing custody API. It never touches key
// material; signing requests are forwarded to the enclave over the internal
// channel.
type PublicHandler struct {
	challenges *auth.ChallengeManager
	sessions   *auth.SessionSigner
	issuer     *ticket.Issuer
	enclave    interfaces.Enclave
	store      interfaces.Store
	limiter    interfaces.RateLimiter
	cfg        PublicHandlerConfig
	log        *slog.Logger
}

// NewPublicHandler creates the public API handler.
func NewPublicHandler(challenges *auth.ChallengeManager, sessions *auth.SessionSigner, issuer *ticket.Issuer, enclaveClient interfaces.Enclave, store interfaces.Store, limiter interfaces.RateLimiter, cfg PublicHandlerConfig, log *slog.Logger) *PublicHandler {
	return &PublicHandler{
		challenges: challenges,
		sessions:   sessions,
		issuer:     issuer,
		enclave:    enclaveClient,
		store:      store,
		limiter:    limiter,
		cfg:        cfg,
		log:        log,
	}
}

// RegisterRoutes mounts the public API surface on the router.
func (h *PublicHandler) RegisterRoutes(r chi.Router) {
	r.Post("/auth/challenge", h.handleCreateChallenge)
	r.Post("/auth/verify", h.handleVerifyChallenge)
	r.Get("/confirm/{id}", h.handleConfirm)
	r.Post("/confirm/{id}", h.handleConfirm)

	r.Group(func(r chi.Router) {
		r.Use(h.requireSession)
		r.Post("/identities", h.handleCreateIdentity)
		r.Post("/identities/{id}/restore", h.handleRestoreIdentity)
		r.Post("/identities/{id}/tickets", h.handleIssueTicket)
		r.Post("/sign", h.handleSign)
	})
}

// requireSession authenticates the bearer session token and applies the
// per-user action limit before admitting the request.
func (h *PublicHandler) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if header == "" || token == header {
			writeError(w, h.log, interfaces.ErrSessionInvalid)
			return
		}

		claims, err := h.sessions.Verify(token)
		if err != nil {
			writeError(w, h.log, err)
			return
		}

		allowed, err := h.limiter.Allow(r.Context(), "user:"+claims.Subject, h.cfg.UserLimit, h.cfg.UserWindow)
		if err != nil {
			writeError(w, h.log, fmt.Errorf("checking user rate limit: %w", err))
			return
		}
		if !allowed {
			writeError(w, h.log, interfaces.ErrRateLimitExceeded)
			return
		}

		ctx := context.WithValue(r.Context(), sessionContextKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFromContext(ctx context.Context) *auth.SessionClaims {
	claims, _ := ctx.Value(sessionContextKey{}).(*auth.SessionClaims)
	return claims
}

type createChallengeRequest struct {
	ExternalRef string `json:"external_ref,omitempty"`
}

func (h *PublicHandler) handleCreateChallenge(w http.ResponseWriter, r *http.Request) {
	var req createChallengeRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, enclave.ErrorResponse{Error: "malformed request body"})
		return
	}

	challenge, err := h.challenges.Create(r.Context(), req.ExternalRef)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, challenge)
}

type verifyChallengeRequest struct {
	ChallengeID string `json:"challenge_id"`
}

func (h *PublicHandler) handleVerifyChallenge(w http.ResponseWriter, r *http.Request) {
	var req verifyChallengeRequest
	if err := decodeBody(r, &req); err != nil || req.ChallengeID == "" {
		writeJSON(w, http.StatusBadRequest, enclave.ErrorResponse{Error: "challenge_id is required"})
		return
	}

	grant, err := h.challenges.Verify(r.Context(), req.ChallengeID)
	if errors.Is(err, interfaces.ErrChallengePending) {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "pending"})
		return
	}
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, grant)
}

type confirmRequest struct {
	ExternalRef string `json:"external_ref,omitempty"`
}

func (h *PublicHandler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// The confirmation link is followed out of band, usually from a wallet
	// app; GET carries the binding as a query parameter.
	externalRef := r.URL.Query().Get("external_ref")
	if r.Method == http.MethodPost {
		var req confirmRequest
		if err := decodeBody(r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, enclave.ErrorResponse{Error: "malformed request body"})
			return
		}
		if req.ExternalRef != "" {
			externalRef = req.ExternalRef
		}
	}

	if err := h.challenges.Confirm(r.Context(), id, externalRef); err != nil {
		writeError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "confirmed"})
}

func (h *PublicHandler) handleCreateIdentity(w http.ResponseWriter, r *http.Request) {
	session := sessionFromContext(r.Context())

	identity, err := h.enclave.CreateIdentity(r.Context(), session.Subject)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, enclave.NewIdentityResponse(identity))
}

func (h *PublicHandler) handleRestoreIdentity(w http.ResponseWriter, r *http.Request) {
	session := sessionFromContext(r.Context())
	identityID := chi.URLParam(r, "id")

	var req enclave.RestoreRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, enclave.ErrorResponse{Error: "malformed request body"})
		return
	}
	publicKey, err := hex.DecodeString(strings.TrimPrefix(req.PublicKey, "0x"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, enclave.ErrorResponse{Error: "public_key must be hex"})
		return
	}

	if err := h.requireOwnership(r.Context(), session, identityID); err != nil {
		writeError(w, h.log, err)
		return
	}

	if err := h.enclave.Restore(r.Context(), identityID, publicKey); err != nil {
		writeError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "restored"})
}

type issueTicketRequest struct {
	DigestHash string `json:"digest_hash"`
}

func (h *PublicHandler) handleIssueTicket(w http.ResponseWriter, r *http.Request) {
	session := sessionFromContext(r.Context())
	identityID := chi.URLParam(r, "id")

	var req issueTicketRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, enclave.ErrorResponse{Error: "malformed request body"})
		return
	}
	digest, err := interfaces.NewDigestHash(req.DigestHash)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, enclave.ErrorResponse{Error: "digest_hash must be a 32-byte hex string"})
		return
	}

	issued, err := h.issuer.Issue(r.Context(), session, identityID, digest)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, issued)
}

func (h *PublicHandler) handleSign(w http.ResponseWriter, r *http.Request) {
	var req enclave.SignRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, enclave.ErrorResponse{Error: "malformed request body"})
		return
	}
	digest, err := hex.DecodeString(strings.TrimPrefix(req.Digest, "0x"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, enclave.ErrorResponse{Error: "digest must be hex"})
		return
	}

	signature, err := h.enclave.Sign(r.Context(), req.TicketToken, digest)
	if err != nil {
		writeError(w, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, enclave.SignResponse{Signature: hex.EncodeToString(signature)})
}

// requireOwnership hides other users' identities behind IdentityNotFound so
// the endpoint cannot be used for enumeration.
func (h *PublicHandler) requireOwnership(ctx context.Context, session *auth.SessionClaims, identityID string) error {
	identity, err := h.store.GetIdentity(ctx, identityID)
	if err != nil {
		return err
	}
	if identity.UserID != session.Subject {
		return interfaces.ErrIdentityNotFound
	}
	return nil
}

// decodeBody decodes a JSON request body, tolerating an empty body for
// requests whose fields are all optional.
func decodeBody(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodySize))
	if err := decoder.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
